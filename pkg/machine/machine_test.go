package machine

import (
	"testing"

	"github.com/vexresched/vexresched/pkg/inst"
	"github.com/vexresched/vexresched/pkg/reg"
)

func TestCost2(t *testing.T) {
	cases := []struct {
		issue, size, want int
	}{
		{2, 0, 1},
		{2, 2, 1},
		{2, 3, 2},
		{4, 8, 2},
		{8, 9, 2},
	}
	s := &Scheduler{}
	for _, c := range cases {
		if got := s.Cost2(c.issue, c.size); got != c.want {
			t.Errorf("Cost2(%d, %d) = %d, want %d", c.issue, c.size, got, c.want)
		}
	}
}

func TestCostCombinesThreeWidths(t *testing.T) {
	s := &Scheduler{}
	// size 4: cost2(2,4)=2, cost2(4,4)=1, cost2(8,4)=1 (4/8=0, +1 since 4%8!=0)
	got := s.Cost(4)
	want := s.Cost2(2, 4) + s.Cost2(4, 4) + s.Cost2(8, 4)
	if got != want {
		t.Errorf("Cost(4) = %d, want %d", got, want)
	}
}

func TestSizeCountsLongImmediateAsTwo(t *testing.T) {
	s := &Scheduler{}
	short := &inst.Instruction{Kind: inst.Plain, Dests: []reg.Register{reg.NewGeneral(0, 11)}, Srcs: []inst.Operand{inst.ImmOperand("1")}}
	long := &inst.Instruction{Kind: inst.Plain, Dests: []reg.Register{reg.NewGeneral(0, 12)}, Srcs: []inst.Operand{inst.ImmOperand("5000")}}
	if got := s.Size([]*inst.Instruction{short, long}); got != 3 {
		t.Errorf("Size = %d, want 3 (1 + 2)", got)
	}
}

func TestParseConfigOptBits(t *testing.T) {
	layout, err := ParseConfigOpt("1248ffff")
	if err != nil {
		t.Fatal(err)
	}
	if layout[0][0] != inst.ALU || len(layout[0]) != 1 {
		t.Errorf("lane 0 = %v, want [ALU]", layout[0])
	}
	if len(layout[1]) != 1 || layout[1][0] != inst.MUL {
		t.Errorf("lane 1 = %v, want [MUL]", layout[1])
	}
	if len(layout[2]) != 1 || layout[2][0] != inst.MEM {
		t.Errorf("lane 2 = %v, want [MEM]", layout[2])
	}
	if len(layout[3]) != 1 || layout[3][0] != inst.BR {
		t.Errorf("lane 3 = %v, want [BR]", layout[3])
	}
	for i := 4; i < Lanes; i++ {
		if len(layout[i]) != 4 {
			t.Errorf("lane %d = %v, want all 4 FU classes", i, layout[i])
		}
	}
}

func TestParseConfigOptWrongLength(t *testing.T) {
	if _, err := ParseConfigOpt("1234"); err == nil {
		t.Fatal("expected an error for a non-8-nibble config string")
	}
}

func TestParseBorrowOpt(t *testing.T) {
	borrow, err := ParseBorrowOpt("1.0.3.2.5.4.7.6")
	if err != nil {
		t.Fatal(err)
	}
	if len(borrow[0]) != 1 || borrow[0][0] != 1 {
		t.Errorf("lane 0 borrow = %v, want [1]", borrow[0])
	}
	if len(borrow[7]) != 1 || borrow[7][0] != 6 {
		t.Errorf("lane 7 borrow = %v, want [6]", borrow[7])
	}
}

func TestParseBorrowOptWrongLaneCount(t *testing.T) {
	if _, err := ParseBorrowOpt("1.0"); err == nil {
		t.Fatal("expected an error for a non-8-lane borrow string")
	}
}

func loadInsn(dest, addr reg.Register) *inst.Instruction {
	return &inst.Instruction{
		Kind:  inst.Load,
		Dests: []reg.Register{dest},
		Srcs:  []inst.Operand{inst.ImmOperand("0"), inst.RegOperand(addr)},
	}
}

func TestDefaultConfigRejectsTwoLoadsInOneBundle(t *testing.T) {
	cfg := DefaultConfig()
	sched := NewScheduler(cfg)
	insns := []*inst.Instruction{
		loadInsn(reg.NewGeneral(0, 11), reg.NewGeneral(0, 20)),
		loadInsn(reg.NewGeneral(0, 12), reg.NewGeneral(0, 21)),
	}
	if sched.Schedule2(insns) {
		t.Fatal("expected two loads to fail to pack: default machine has a single MEM lane")
	}
}

func TestDefaultConfigPacksSingleALUOp(t *testing.T) {
	cfg := DefaultConfig()
	sched := NewScheduler(cfg)
	insns := []*inst.Instruction{
		{Kind: inst.Plain, Dests: []reg.Register{reg.NewGeneral(0, 11)}, Srcs: []inst.Operand{inst.RegOperand(reg.NewGeneral(0, 11)), inst.ImmOperand("1")}},
	}
	if !sched.Schedule2(insns) {
		t.Fatal("expected a single ALU op to pack under the default machine")
	}
}

func TestScheduleFastCheckRejectsOversizeBundle(t *testing.T) {
	cfg := DefaultConfig()
	sched := NewScheduler(cfg)
	var insns []*inst.Instruction
	for i := 0; i < 9; i++ {
		insns = append(insns, &inst.Instruction{Kind: inst.Plain, Dests: []reg.Register{reg.NewGeneral(0, 11 + i)}, Srcs: []inst.Operand{inst.ImmOperand("1")}})
	}
	if sched.Schedule(insns) {
		t.Fatal("expected 9 single-slot ops to fail the size <= 8 fast check")
	}
}

func TestScheduleFastCheckRejectsExcessBRCount(t *testing.T) {
	cfg := DefaultConfig()
	sched := NewScheduler(cfg)
	insns := []*inst.Instruction{
		{Kind: inst.Stop},
		{Kind: inst.Stop},
	}
	if sched.Schedule(insns) {
		t.Fatal("expected two BR-class ops to exceed the default machine's BR cap of 1")
	}
}

func TestScheduleFastCheckAcceptsWithinCaps(t *testing.T) {
	cfg := DefaultConfig()
	sched := NewScheduler(cfg)
	insns := []*inst.Instruction{
		{Kind: inst.Plain, Dests: []reg.Register{reg.NewGeneral(0, 11)}, Srcs: []inst.Operand{inst.ImmOperand("1")}},
		{Kind: inst.Stop},
	}
	if !sched.Schedule(insns) {
		t.Fatal("expected one ALU op and one BR op to satisfy the default machine's caps")
	}
}

func TestCountFUsTalliesLanesAcceptingEachClass(t *testing.T) {
	// The default layout offers BR on 4 lanes even though the machine's
	// FU cap restricts actual BR issue to 1 per bundle; CountFUs reports
	// lane capability, not the separate FUs cap.
	cfg := DefaultConfig()
	counts := CountFUs(cfg.Layout)
	if counts[inst.ALU] != 8 {
		t.Errorf("ALU lane count = %d, want 8", counts[inst.ALU])
	}
	if counts[inst.MUL] != 8 {
		t.Errorf("MUL lane count = %d, want 8", counts[inst.MUL])
	}
	if counts[inst.MEM] != 1 {
		t.Errorf("MEM lane count = %d, want 1", counts[inst.MEM])
	}
	if counts[inst.BR] != 4 {
		t.Errorf("BR lane count = %d, want 4", counts[inst.BR])
	}
}

func TestDefaultConfigFUCaps(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.FUs[inst.ALU] != 8 || cfg.FUs[inst.MUL] != 4 || cfg.FUs[inst.MEM] != 1 || cfg.FUs[inst.BR] != 1 {
		t.Errorf("unexpected FU caps: %v", cfg.FUs)
	}
}
