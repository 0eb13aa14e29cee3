package report

import (
	"bytes"
	"testing"

	"github.com/vexresched/vexresched/pkg/inst"
	"github.com/vexresched/vexresched/pkg/reg"
)

func TestTallyCountsPerFUClassAndLongImmediates(t *testing.T) {
	insns := []*inst.Instruction{
		{Kind: inst.Plain, Dests: []reg.Register{reg.NewGeneral(0, 11)}, Srcs: []inst.Operand{inst.ImmOperand("1")}},
		{Kind: inst.Mul, Dests: []reg.Register{reg.NewGeneral(0, 12)}, Srcs: []inst.Operand{inst.RegOperand(reg.NewGeneral(0, 11)), inst.ImmOperand("5000")}},
		{Kind: inst.Load, Dests: []reg.Register{reg.NewGeneral(0, 13)}, Srcs: []inst.Operand{inst.ImmOperand("0"), inst.RegOperand(reg.NewGeneral(0, 1))}},
		{Kind: inst.Stop},
	}
	alu, mul, mem, br, longImm := Tally(insns)
	if alu != 1 || mul != 1 || mem != 1 || br != 1 {
		t.Errorf("Tally = alu:%d mul:%d mem:%d br:%d, want 1 each", alu, mul, mem, br)
	}
	if longImm != 1 {
		t.Errorf("longImm = %d, want 1 (the mul's out-of-range immediate)", longImm)
	}
}

func TestSortedOrdersFunctionsByName(t *testing.T) {
	r := &Report{Functions: []FunctionStats{
		{Name: "zeta"}, {Name: "alpha"}, {Name: "mu"},
	}}
	sorted := r.Sorted()
	if sorted[0].Name != "alpha" || sorted[1].Name != "mu" || sorted[2].Name != "zeta" {
		t.Errorf("Sorted order = %v, want alpha, mu, zeta", sorted)
	}
}

func TestWriteJSONReadJSONRoundTrip(t *testing.T) {
	r := &Report{Functions: []FunctionStats{
		{Name: "f", BundlesBefore: 3, BundlesAfter: 2, ALUOps: 1, MULOps: 0, MEMOps: 1, BROps: 1, LongImmediates: 0},
	}}
	var buf bytes.Buffer
	if err := WriteJSON(&buf, r); err != nil {
		t.Fatalf("WriteJSON: %v", err)
	}
	got, err := ReadJSON(&buf)
	if err != nil {
		t.Fatalf("ReadJSON: %v", err)
	}
	if len(got.Functions) != 1 || got.Functions[0] != r.Functions[0] {
		t.Errorf("round trip = %+v, want %+v", got.Functions, r.Functions)
	}
}
