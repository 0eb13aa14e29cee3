package bundle

import (
	"testing"

	"github.com/vexresched/vexresched/pkg/inst"
	"github.com/vexresched/vexresched/pkg/reg"
)

func plainInsn(dest, src reg.Register, lineNo int) *inst.Instruction {
	return &inst.Instruction{
		Kind:   inst.Plain,
		Dests:  []reg.Register{dest},
		Srcs:   []inst.Operand{inst.RegOperand(src)},
		LineNo: lineNo,
	}
}

func TestHasCycleDetectsIntraBundleCycle(t *testing.T) {
	a := reg.NewGeneral(0, 11)
	b := reg.NewGeneral(0, 12)
	b1 := NewNormal([]*inst.Instruction{
		plainInsn(a, b, 1),
		plainInsn(b, a, 2),
	}, nil, 1)
	if !b1.HasCycle() {
		t.Fatal("expected a cycle between two ops each reading the other's destination")
	}
	if len(b1.GetCycleRegs()) == 0 {
		t.Error("expected GetCycleRegs to return the registers stuck in the cycle")
	}
}

func TestHasCycleFalseForAcyclicBundle(t *testing.T) {
	a := reg.NewGeneral(0, 11)
	b := reg.NewGeneral(0, 12)
	b1 := NewNormal([]*inst.Instruction{
		plainInsn(b, a, 1),
	}, nil, 1)
	if b1.HasCycle() {
		t.Fatal("expected a single op to be acyclic")
	}
}

func TestHasLoadDependency(t *testing.T) {
	loadDest := reg.NewGeneral(0, 11)
	addr := reg.NewGeneral(0, 1)
	add := reg.NewGeneral(0, 12)
	load := &inst.Instruction{
		Kind:   inst.Load,
		Dests:  []reg.Register{loadDest},
		Srcs:   []inst.Operand{inst.ImmOperand("0"), inst.RegOperand(addr)},
		LineNo: 1,
	}
	use := plainInsn(add, loadDest, 2)
	b1 := NewNormal([]*inst.Instruction{load, use}, nil, 1)
	dep := b1.HasLoadDependency()
	if !dep.Has(loadDest) {
		t.Fatalf("expected load-use hazard on %v, got %v", loadDest, dep)
	}
}

func TestHasLoadDependencyNoneWhenNotConsumedInBundle(t *testing.T) {
	loadDest := reg.NewGeneral(0, 11)
	addr := reg.NewGeneral(0, 1)
	load := &inst.Instruction{
		Kind:  inst.Load,
		Dests: []reg.Register{loadDest},
		Srcs:  []inst.Operand{inst.ImmOperand("0"), inst.RegOperand(addr)},
	}
	b1 := NewNormal([]*inst.Instruction{load}, nil, 1)
	if dep := b1.HasLoadDependency(); len(dep) != 0 {
		t.Errorf("expected no load dependency, got %v", dep)
	}
}

func TestFixSameRegWritesRetargetsEarlierWrite(t *testing.T) {
	r11 := reg.NewGeneral(0, 11)
	first := plainInsn(r11, reg.NewGeneral(0, 20), 1)
	second := plainInsn(r11, reg.NewGeneral(0, 21), 2)
	b1 := NewNormal([]*inst.Instruction{first, second}, nil, 1)
	if conflict := b1.FixSameRegWrites(); conflict {
		t.Fatal("general-register conflict should be resolvable, not a hard conflict")
	}
	if first.Dests[0] != reg.Discard {
		t.Errorf("expected earlier write retargeted to discard register, got %v", first.Dests[0])
	}
	if second.Dests[0] != r11 {
		t.Errorf("expected later write to keep its original destination, got %v", second.Dests[0])
	}
}

func TestFixSameRegWritesConflictOnNonGeneral(t *testing.T) {
	b0 := reg.NewBranch(0, 1)
	first := &inst.Instruction{Kind: inst.Plain, Dests: []reg.Register{b0}, LineNo: 1}
	second := &inst.Instruction{Kind: inst.Plain, Dests: []reg.Register{b0}, LineNo: 2}
	bun := NewNormal([]*inst.Instruction{first, second}, nil, 1)
	if conflict := bun.FixSameRegWrites(); !conflict {
		t.Fatal("expected an unresolvable conflict on a duplicate branch-register write")
	}
}

func TestFixStackPopFusesAddIntoReturn(t *testing.T) {
	sp := reg.StackPointer
	link := reg.NewLink(0, 0)
	add := &inst.Instruction{
		Kind:     inst.Plain,
		Mnemonic: "add",
		Dests:    []reg.Register{sp},
		Srcs:     []inst.Operand{inst.RegOperand(sp), inst.ImmOperand("32")},
		LineNo:   1,
	}
	ret := &inst.Instruction{
		Kind:   inst.Return,
		Srcs:   []inst.Operand{inst.RegOperand(link), inst.ImmOperand("0")},
		LineNo: 2,
	}
	bun := NewNormal([]*inst.Instruction{add, ret}, nil, 1)
	if ok := bun.FixStackPop(); !ok {
		t.Fatal("expected the stack-pop fusion to succeed")
	}
	if len(bun.Insns) != 1 {
		t.Fatalf("expected the add to be removed, got %d instructions", len(bun.Insns))
	}
	if bun.Insns[0] != ret {
		t.Fatal("expected the surviving instruction to be the return")
	}
	if got := ret.Srcs[1].String(); got != "0 + 32" {
		t.Errorf("expected the return's offset to carry the folded immediate, got %q", got)
	}
}

func TestFixStackPopNoOpWithoutReturn(t *testing.T) {
	add := plainInsn(reg.NewGeneral(0, 20), reg.NewGeneral(0, 21), 1)
	bun := NewNormal([]*inst.Instruction{add}, nil, 1)
	if ok := bun.FixStackPop(); !ok {
		t.Fatal("expected a no-op success when there is no return")
	}
	if len(bun.Insns) != 1 {
		t.Error("expected the bundle to be untouched")
	}
}
