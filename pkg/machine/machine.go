// Package machine describes the target processor's functional-unit
// layout and borrow-slot table, and packs instructions into bundles
// against that configuration.
package machine

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/vexresched/vexresched/pkg/depgraph"
	"github.com/vexresched/vexresched/pkg/inst"
)

// Lanes is the fixed bundle width this tool schedules against.
const Lanes = 8

// Config is the machine's resource configuration: which functional
// units each of the 8 issue lanes accepts, which lane a long-immediate
// in a given lane may borrow encoding room from, the count of each
// functional unit, and the optimization level requested on the CLI.
type Config struct {
	Layout [Lanes][]inst.FUClass
	Borrow [Lanes][]int
	FUs    map[inst.FUClass]int
	Opt    int
}

// DefaultConfig mirrors the reference tool's built-in 8-lane VLIW
// layout: four BR-capable lanes, one MEM lane, ALU and MUL on all
// eight lanes, paired borrow slots; per-bundle caps of 8 ALU, 4 MUL,
// 1 MEM and 1 BR operation.
func DefaultConfig() *Config {
	return &Config{
		Borrow: [Lanes][]int{
			{1}, {0}, {3}, {2}, {5}, {4}, {7}, {6},
		},
		Layout: [Lanes][]inst.FUClass{
			{inst.ALU, inst.BR, inst.MUL},
			{inst.ALU, inst.MUL, inst.MEM},
			{inst.ALU, inst.MUL, inst.BR},
			{inst.ALU, inst.MUL},
			{inst.ALU, inst.MUL, inst.BR},
			{inst.ALU, inst.MUL},
			{inst.ALU, inst.MUL, inst.BR},
			{inst.ALU, inst.MUL},
		},
		FUs: map[inst.FUClass]int{
			inst.ALU: 8,
			inst.MUL: 4,
			inst.MEM: 1,
			inst.BR:  1,
		},
		Opt: 0,
	}
}

// ParseBorrowOpt parses a "1.0.3.2.5.4.7.6"-style borrow configuration:
// 8 dot-separated lanes, each a comma-separated list of lane indices it
// may borrow from.
func ParseBorrowOpt(s string) ([Lanes][]int, error) {
	var out [Lanes][]int
	lanes := strings.Split(s, ".")
	if len(lanes) != Lanes {
		return out, fmt.Errorf("borrow configuration needs to contain %d lanes", Lanes)
	}
	for i, lane := range lanes {
		for _, slot := range strings.Split(lane, ",") {
			n, err := strconv.Atoi(strings.TrimSpace(slot))
			if err != nil {
				return out, fmt.Errorf("invalid borrow configuration: %w", err)
			}
			out[i] = append(out[i], n)
		}
	}
	return out, nil
}

// ParseConfigOpt parses an 8-hex-nibble lane configuration string (bit
// 0 ALU, bit 1 MUL, bit 2 MEM, bit 3 BR per nibble) into a layout.
func ParseConfigOpt(s string) ([Lanes][]inst.FUClass, error) {
	var out [Lanes][]inst.FUClass
	if len(s) != Lanes {
		return out, fmt.Errorf("configuration needs to contain %d lanes", Lanes)
	}
	for i := 0; i < Lanes; i++ {
		v, err := strconv.ParseInt(string(s[i]), 16, 64)
		if err != nil {
			return out, fmt.Errorf("configuration should be a hex integer: %w", err)
		}
		for _, fu := range []inst.FUClass{inst.ALU, inst.MUL, inst.MEM, inst.BR} {
			if v&fuBit(fu) != 0 {
				out[i] = append(out[i], fu)
			}
		}
	}
	return out, nil
}

func fuBit(fu inst.FUClass) int64 {
	switch fu {
	case inst.ALU:
		return 1
	case inst.MUL:
		return 2
	case inst.MEM:
		return 4
	case inst.BR:
		return 8
	}
	return 0
}

// CountFUs tallies how many lanes in layout accept each functional
// unit, matching the CLI's --config-derived resource count.
func CountFUs(layout [Lanes][]inst.FUClass) map[inst.FUClass]int {
	counts := map[inst.FUClass]int{inst.ALU: 0, inst.MUL: 0, inst.MEM: 0, inst.BR: 0}
	for _, lane := range layout {
		for _, fu := range lane {
			counts[fu]++
		}
	}
	return counts
}

// Scheduler packs instructions into a bundle under a Config and costs
// a partially filled bundle.
type Scheduler struct {
	Config *Config
}

// NewScheduler builds a Scheduler for the given configuration.
func NewScheduler(config *Config) *Scheduler {
	return &Scheduler{Config: config}
}

func (s *Scheduler) depgraphConfig() *depgraph.Config {
	layout := make([][]inst.FUClass, Lanes)
	borrow := make([][]int, Lanes)
	for i := 0; i < Lanes; i++ {
		layout[i] = s.Config.Layout[i]
		borrow[i] = s.Config.Borrow[i]
	}
	return &depgraph.Config{Layout: layout, Borrow: borrow}
}

// Schedule2 attempts to pack insns into the 8 issue lanes, reporting
// whether a valid packing was found.
func (s *Scheduler) Schedule2(insns []*inst.Instruction) bool {
	return depgraph.NewGraph(insns, s.depgraphConfig()).Schedule2()
}

// Schedule is the fast yes/no pack test: size must fit in 8 slots and
// no functional-unit class may be asked for more operations than the
// machine's fus cap allows. It is a cheap necessary condition, not a
// substitute for Schedule2's exact backtracking pack test (it ignores
// per-lane layout and borrow-slot placement).
func (s *Scheduler) Schedule(insns []*inst.Instruction) bool {
	if s.Size(insns) > 8 {
		return false
	}
	counts := make(map[inst.FUClass]int, 4)
	for _, in := range insns {
		counts[in.FUClass()]++
	}
	for fu, count := range counts {
		if count > s.Config.FUs[fu] {
			return false
		}
	}
	return true
}

// Size is the encoding size of a set of instructions: 2 slots for a
// long-immediate instruction, 1 otherwise.
func (s *Scheduler) Size(insns []*inst.Instruction) int {
	sum := 0
	for _, in := range insns {
		if in.HasLongImm() {
			sum += 2
		} else {
			sum++
		}
	}
	return sum
}

// Cost2 is the number of encoding groups of width issue needed to hold
// size slots (size/issue rounded up), with an empty bundle still
// charged one group.
func (s *Scheduler) Cost2(issue, size int) int {
	result := 0
	if size == 0 || size%issue != 0 {
		result = 1
	}
	return size/issue + result
}

// Cost is the combined 2-wide/4-wide/8-wide encoding-group cost for
// size slots, the proxy this tool minimizes when packing a bundle.
func (s *Scheduler) Cost(size int) int {
	return s.Cost2(2, size) + s.Cost2(4, size) + s.Cost2(8, size)
}
