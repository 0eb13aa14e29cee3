package function

import (
	"testing"

	"github.com/vexresched/vexresched/pkg/bundle"
	"github.com/vexresched/vexresched/pkg/inst"
	"github.com/vexresched/vexresched/pkg/reg"
)

// buildLinearFunction constructs Entry -> def(writes r11) -> use(reads
// r11, writes nothing) -> Exit, a minimal straight-line function with
// one live range to exercise the CFG, liveness, and rewrite logic.
func buildLinearFunction(r reg.Register) *Function {
	def := bundle.NewNormal([]*inst.Instruction{
		{Kind: inst.Plain, Dests: []reg.Register{r}, Srcs: []inst.Operand{inst.ImmOperand("1")}, LineNo: 1},
	}, nil, 1)
	use := bundle.NewNormal([]*inst.Instruction{
		{Kind: inst.Plain, Srcs: []inst.Operand{inst.RegOperand(r)}, LineNo: 2},
	}, nil, 2)
	bundles := []*bundle.Bundle{bundle.NewEntry(), def, use, bundle.NewExit()}
	return NewFunction("f", bundles)
}

func TestBuildSuccessorGraphLinear(t *testing.T) {
	f := buildLinearFunction(reg.NewGeneral(0, 11))
	if got := f.SuccCFG[0]; len(got) != 1 || got[0] != 1 {
		t.Errorf("Entry successor = %v, want [1]", got)
	}
	if got := f.SuccCFG[1]; len(got) != 1 || got[0] != 2 {
		t.Errorf("def successor = %v, want [2]", got)
	}
	if got := f.SuccCFG[2]; len(got) != 1 || got[0] != 3 {
		t.Errorf("use successor = %v, want [3]", got)
	}
	if got := f.SuccCFG[3]; len(got) != 0 {
		t.Errorf("Exit successor = %v, want none", got)
	}
}

func TestBuildRegisterLiveTableExcludesDefinedRegisterBeforeDef(t *testing.T) {
	r11 := reg.NewGeneral(0, 11)
	f := buildLinearFunction(r11)
	live := f.BuildRegisterLiveTable()
	if live[2].Has(r11) != true {
		t.Error("expected r11 live immediately before its use")
	}
	if live[1].Has(r11) {
		t.Error("expected r11 not live before its own definition")
	}
}

func TestGetReadFindsDownstreamUse(t *testing.T) {
	r11 := reg.NewGeneral(0, 11)
	f := buildLinearFunction(r11)
	reads := f.GetRead(r11, 1)
	if !reads[2] {
		t.Errorf("expected bundle 2 to be reported reading r11, got %v", reads)
	}
}

func TestGetWrittenFindsUpstreamDef(t *testing.T) {
	r11 := reg.NewGeneral(0, 11)
	f := buildLinearFunction(r11)
	writers := f.GetWritten(r11, 2)
	if !writers[1] {
		t.Errorf("expected bundle 1 to be reported writing r11, got %v", writers)
	}
}

func TestRewriteRenamesDefAndUse(t *testing.T) {
	r11 := reg.NewGeneral(0, 11)
	f := buildLinearFunction(r11)
	if ok := f.Rewrite(r11, 1); !ok {
		t.Fatal("expected the rewrite to succeed for a register with no ABI-boundary exposure")
	}
	defInsn := f.Bundles[1].Insns[0]
	useInsn := f.Bundles[2].Insns[0]
	if defInsn.Dests[0] == r11 {
		t.Error("expected the definition's destination to be renamed away from r11")
	}
	if defInsn.Dests[0] != useInsn.Srcs[0].Reg {
		t.Errorf("expected def and use to agree on the new register: %v vs %v", defInsn.Dests[0], useInsn.Srcs[0].Reg)
	}
	if defInsn.Dests[0].Fixed() {
		t.Error("rewrite must never pick an ABI-fixed register")
	}
}

func TestRewriteRefusesWhenClusterTouchesExit(t *testing.T) {
	// A register read by Exit (the function's ABI-visible live-out set)
	// must never be renamed.
	r0 := reg.NewGeneral(0, 0)
	def := bundle.NewNormal([]*inst.Instruction{
		{Kind: inst.Plain, Dests: []reg.Register{r0}, Srcs: []inst.Operand{inst.ImmOperand("1")}, LineNo: 1},
	}, nil, 1)
	bundles := []*bundle.Bundle{bundle.NewEntry(), def, bundle.NewExit()}
	f := NewFunction("f", bundles)
	if ok := f.Rewrite(r0, 1); ok {
		t.Fatal("expected the rewrite to refuse an ABI-fixed register read by Exit")
	}
}

func TestFixSameRegWritesAcrossFunction(t *testing.T) {
	r11 := reg.NewGeneral(0, 11)
	b1 := bundle.NewNormal([]*inst.Instruction{
		{Kind: inst.Plain, Dests: []reg.Register{r11}, Srcs: []inst.Operand{inst.ImmOperand("1")}, LineNo: 1},
		{Kind: inst.Plain, Dests: []reg.Register{r11}, Srcs: []inst.Operand{inst.ImmOperand("2")}, LineNo: 1},
	}, nil, 1)
	f := NewFunction("f", []*bundle.Bundle{bundle.NewEntry(), b1, bundle.NewExit()})
	if conflict := f.FixSameRegWrites(); conflict {
		t.Fatal("expected a general-register duplicate write to be resolvable")
	}
	if b1.Insns[0].Dests[0] != reg.Discard {
		t.Errorf("expected the earlier write retargeted to the discard register, got %v", b1.Insns[0].Dests[0])
	}
}
