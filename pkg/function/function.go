// Package function models one assembled function as a control-flow
// graph of instruction bundles, and implements the register-renaming
// passes that remove same-bundle write conflicts, load-use hazards,
// and intra-bundle dependency cycles.
package function

import (
	"github.com/vexresched/vexresched/pkg/bundle"
	"github.com/vexresched/vexresched/pkg/inst"
	"github.com/vexresched/vexresched/pkg/machine"
	"github.com/vexresched/vexresched/pkg/reg"
	"github.com/vexresched/vexresched/pkg/resched"
)

// Function is one procedure: its bundles (with synthetic Entry/Exit/
// CallSite bundles anchoring ABI boundaries) and the CFG derived from
// their branch destinations.
type Function struct {
	Name     string
	Bundles  []*bundle.Bundle
	SuccCFG  map[int][]int
	PredCFG  map[int][]int
}

// NewFunction builds a Function from its already-split bundle list,
// deriving the successor/predecessor control-flow graphs.
func NewFunction(name string, bundles []*bundle.Bundle) *Function {
	f := &Function{Name: name, Bundles: bundles}
	f.SuccCFG = f.buildSuccessorGraph()
	f.PredCFG = buildPredecessorGraph(f.SuccCFG)
	return f
}

func (f *Function) buildLabelTable() map[string]int {
	table := make(map[string]int)
	for i, b := range f.Bundles {
		for _, l := range b.Labels {
			table[l.Name] = i
		}
	}
	return table
}

func (f *Function) buildSuccessorGraph() map[int][]int {
	table := make(map[int][]int, len(f.Bundles))
	labels := f.buildLabelTable()
	last := len(f.Bundles) - 1
	linkZero := reg.NewLink(0, 0)
	for i, b := range f.Bundles {
		if _, ok := table[i]; !ok {
			table[i] = nil
		}
		for _, dest := range b.GetDestination() {
			switch dest.Kind {
			case inst.DestNext:
				if i+1 > last {
					continue
				}
				table[i] = append(table[i], i+1)
			case inst.DestReturn:
				table[i] = append(table[i], last)
			case inst.DestReg:
				if dest.Reg == linkZero {
					for _, v := range labels {
						table[i] = append(table[i], v)
					}
					continue
				}
				// Any other register destination is an unresolvable
				// indirect jump; treat it like a return.
				table[i] = append(table[i], last)
			case inst.DestLabel:
				if idx, ok := labels[dest.Label]; ok {
					table[i] = append(table[i], idx)
				} else {
					table[i] = append(table[i], last)
				}
			}
		}
	}
	return table
}

func buildPredecessorGraph(succ map[int][]int) map[int][]int {
	rev := make(map[int][]int, len(succ))
	for key := range succ {
		if _, ok := rev[key]; !ok {
			rev[key] = nil
		}
	}
	for key, values := range succ {
		for _, v := range values {
			rev[v] = append(rev[v], key)
		}
	}
	return rev
}

// BuildRegisterLiveTable computes, by backward fixpoint iteration over
// the CFG, the set of registers live at the start of each bundle.
func (f *Function) BuildRegisterLiveTable() map[int]reg.Set {
	live := make(map[int]reg.Set, len(f.Bundles))
	for i := range f.Bundles {
		live[i] = make(reg.Set)
	}
	changed := make(map[int]bool, len(f.Bundles))
	for i := range f.Bundles {
		changed[i] = true
	}
	anyChanged := func(m map[int]bool) bool {
		for _, v := range m {
			if v {
				return true
			}
		}
		return false
	}
	for anyChanged(changed) {
		newChanged := make(map[int]bool, len(changed))
		for k, v := range changed {
			newChanged[k] = v
		}
		for i := len(f.Bundles) - 1; i >= 0; i-- {
			succs := f.SuccCFG[i]
			if len(succs) > 0 && !anySuccChanged(succs, changed) {
				newChanged[i] = false
				continue
			}
			b := f.Bundles[i]
			written := b.GetWritten()
			read := b.GetRead()
			newLive := make(reg.Set)
			for _, s := range succs {
				newLive = newLive.Union(live[s])
			}
			newLive = newLive.Minus(written)
			newLive = newLive.Union(read)
			if !setsEqual(newLive, live[i]) {
				newChanged[i] = true
			} else {
				newChanged[i] = false
			}
			live[i] = newLive
		}
		changed = newChanged
	}
	return live
}

func anySuccChanged(succs []int, changed map[int]bool) bool {
	for _, s := range succs {
		if changed[s] {
			return true
		}
	}
	return false
}

func setsEqual(a, b reg.Set) bool {
	if len(a) != len(b) {
		return false
	}
	for r := range a {
		if !b.Has(r) {
			return false
		}
	}
	return true
}

// GetRead returns the indices of bundles that read r, where r is
// written at index, walking forward through the CFG until r is
// re-written.
func (f *Function) GetRead(r reg.Register, index int) map[int]bool {
	result := make(map[int]bool)
	if !f.Bundles[index].GetWritten().Has(r) {
		return result
	}
	table := f.BuildRegisterLiveTable()
	visited := make(map[int]bool)
	toVisit := append([]int(nil), f.SuccCFG[index]...)
	for len(toVisit) > 0 {
		i := toVisit[len(toVisit)-1]
		toVisit = toVisit[:len(toVisit)-1]
		if visited[i] {
			continue
		}
		visited[i] = true
		if !table[i].Has(r) {
			continue
		}
		if f.Bundles[i].GetRead().Has(r) {
			result[i] = true
		}
		if f.Bundles[i].GetWritten().Has(r) {
			continue
		}
		toVisit = append(toVisit, f.SuccCFG[i]...)
	}
	return result
}

// GetWritten returns the indices of bundles that write r, where r is
// read at index, walking backward through the CFG.
func (f *Function) GetWritten(r reg.Register, index int) map[int]bool {
	result := make(map[int]bool)
	if !f.Bundles[index].GetRead().Has(r) {
		return result
	}
	visited := make(map[int]bool)
	toVisit := append([]int(nil), f.PredCFG[index]...)
	for len(toVisit) > 0 {
		i := toVisit[len(toVisit)-1]
		toVisit = toVisit[:len(toVisit)-1]
		if visited[i] {
			continue
		}
		visited[i] = true
		if f.Bundles[i].GetWritten().Has(r) {
			result[i] = true
			continue
		}
		toVisit = append(toVisit, f.PredCFG[i]...)
	}
	return result
}

// GetFreeReg finds a register of the same kind as r that is free at
// every bundle that would end up writing r after a rewrite rooted at
// indices.
func (f *Function) GetFreeReg(r reg.Register, indices map[int]bool) (reg.Register, bool) {
	table := f.BuildRegisterLiveTable()
	result := make(map[int]bool, len(indices))
	for i := range indices {
		result[i] = true
	}
	usedRegs := reg.NewSet(r)
	for index := range indices {
		if !f.Bundles[index].GetWritten().Has(r) {
			return reg.Register{}, false
		}
		visited := make(map[int]bool)
		toVisit := append([]int(nil), f.SuccCFG[index]...)
		for len(toVisit) > 0 {
			i := toVisit[len(toVisit)-1]
			toVisit = toVisit[:len(toVisit)-1]
			if visited[i] {
				continue
			}
			visited[i] = true
			if table[i].Has(r) {
				result[i] = true
				if f.Bundles[i].GetWritten().Has(r) {
					continue
				}
				usedRegs = usedRegs.Union(f.Bundles[i].GetWritten())
				toVisit = append(toVisit, f.SuccCFG[i]...)
			}
		}
	}
	for i := range result {
		usedRegs = usedRegs.Union(table[i])
	}
	return reg.FreeLike(r, usedRegs)
}

// Rewrite tries to rename every write and dependent read of r rooted
// at the write in bundle index to a fresh register, expanding the
// source/dest cluster to a fixed point first. It refuses when the
// cluster reaches a Call/Entry/Exit fake, since those anchor ABI-
// visible traffic that must keep its original register names.
func (f *Function) Rewrite(r reg.Register, index int) bool {
	sources := f.GetRead(r, index)
	dests := make(map[int]bool)
	if f.Bundles[index].GetWritten().Has(r) {
		dests[index] = true
	}
	for {
		newDests := copySet(dests)
		newSources := copySet(sources)
		for src := range sources {
			for d := range f.GetWritten(r, src) {
				newDests[d] = true
			}
		}
		for dest := range dests {
			for s := range f.GetRead(r, dest) {
				newSources[s] = true
			}
		}
		same := intSetsEqual(newDests, dests) && intSetsEqual(newSources, sources)
		sources, dests = newSources, newDests
		if same {
			break
		}
	}
	for x := range sources {
		if f.Bundles[x].Kind == bundle.CallSite || f.Bundles[x].Kind == bundle.Exit {
			return false
		}
	}
	for x := range dests {
		if f.Bundles[x].Kind == bundle.CallSite || f.Bundles[x].Kind == bundle.Entry {
			return false
		}
	}
	newReg, ok := f.GetFreeReg(r, dests)
	if !ok {
		return false
	}
	for idx := range sources {
		f.Bundles[idx].RenameRead(r, newReg)
	}
	for idx := range dests {
		f.Bundles[idx].RenameWritten(r, newReg)
	}
	return true
}

func copySet(m map[int]bool) map[int]bool {
	out := make(map[int]bool, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

func intSetsEqual(a, b map[int]bool) bool {
	if len(a) != len(b) {
		return false
	}
	for k := range a {
		if !b[k] {
			return false
		}
	}
	return true
}

// FixCycles rewrites registers participating in any bundle's
// dependency cycle until the cycle is broken or no more registers can
// be renamed.
func (f *Function) FixCycles() {
	for i, b := range f.Bundles {
		if !b.HasCycle() {
			continue
		}
		for r := range b.GetCycleRegs() {
			f.Rewrite(r, i)
			if !b.HasCycle() {
				break
			}
		}
	}
}

// FixSameRegWrites retargets redundant same-bundle writes onto the
// discard register across every bundle, returning true if any bundle
// had an unresolvable conflict (a non-general register written twice).
func (f *Function) FixSameRegWrites() bool {
	conflict := false
	for _, b := range f.Bundles {
		if b.FixSameRegWrites() {
			conflict = true
		}
	}
	return conflict
}

// FixReturnAndStackPop fuses a stack-pointer add into a bundle's
// return instruction wherever that shape appears.
func (f *Function) FixReturnAndStackPop() {
	for _, b := range f.Bundles {
		b.FixStackPop()
	}
}

// FixLoadDependency rewrites registers involved in a same-bundle
// load-use hazard; when the rewrite at the hazard bundle is refused, it
// tries each upstream writer of that register in turn until one
// rewrite succeeds.
func (f *Function) FixLoadDependency() {
	for i, b := range f.Bundles {
		for r := range b.HasLoadDependency() {
			if !f.Rewrite(r, i) {
				for idx := range f.GetWritten(r, i) {
					if f.Rewrite(r, idx) {
						break
					}
				}
			}
			if len(b.HasLoadDependency()) == 0 {
				break
			}
		}
	}
}

// NewResched replaces this function's bundles with a fully
// list-scheduled packing under config. An unschedulable basic block
// aborts without mutating f.Bundles.
func (f *Function) NewResched(config *machine.Config) error {
	bundles, err := resched.Reschedule(f.Bundles, config)
	if err != nil {
		return err
	}
	f.Bundles = bundles
	return nil
}

// String renders every non-fake bundle in order, the round-trip
// textual form of the function body.
func (f *Function) String() string {
	var out string
	first := true
	for _, b := range f.Bundles {
		if b.IsFake() {
			continue
		}
		if !first {
			out += "\n"
		}
		first = false
		out += b.String()
	}
	return out
}
