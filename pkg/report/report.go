// Package report summarizes a reschedule run as a small JSON document:
// per-function bundle counts before/after and functional-unit
// utilization, grounded on the teacher's encoding/json + sort pairing
// for a rule table (pkg/result/table.go, checkpoint.go), repurposed
// from superoptimizer rule statistics to schedule statistics.
package report

import (
	"encoding/json"
	"io"
	"sort"

	"github.com/vexresched/vexresched/pkg/inst"
)

// FunctionStats summarizes one function's schedule before and after
// the fix/reschedule pipeline ran.
type FunctionStats struct {
	Name           string `json:"name"`
	BundlesBefore  int    `json:"bundles_before"`
	BundlesAfter   int    `json:"bundles_after"`
	ALUOps         int    `json:"alu_ops"`
	MULOps         int    `json:"mul_ops"`
	MEMOps         int    `json:"mem_ops"`
	BROps          int    `json:"br_ops"`
	LongImmediates int    `json:"long_immediates"`
}

// Report is the top-level document written by WriteJSON.
type Report struct {
	Functions []FunctionStats `json:"functions"`
}

// Tally counts one function's per-FU-class operation totals, used to
// populate a FunctionStats entry.
func Tally(insns []*inst.Instruction) (alu, mul, mem, br, longImm int) {
	for _, in := range insns {
		switch in.FUClass() {
		case inst.ALU:
			alu++
		case inst.MUL:
			mul++
		case inst.MEM:
			mem++
		case inst.BR:
			br++
		}
		if in.HasLongImm() {
			longImm++
		}
	}
	return
}

// Sorted returns the report's functions ordered by name, so repeated
// runs over the same input produce byte-identical JSON.
func (r *Report) Sorted() []FunctionStats {
	out := make([]FunctionStats, len(r.Functions))
	copy(out, r.Functions)
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// WriteJSON writes r as indented JSON, functions sorted by name for
// deterministic output.
func WriteJSON(w io.Writer, r *Report) error {
	sorted := &Report{Functions: r.Sorted()}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(sorted)
}

// ReadJSON reads back a Report previously written by WriteJSON.
func ReadJSON(r io.Reader) (*Report, error) {
	var out Report
	if err := json.NewDecoder(r).Decode(&out); err != nil {
		return nil, err
	}
	return &out, nil
}
