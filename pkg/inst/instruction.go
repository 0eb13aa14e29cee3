// Package inst models one parsed VLIW operation: its functional-unit
// class, operands, latency, and control-flow classification.
package inst

import (
	"strconv"
	"strings"

	"github.com/vexresched/vexresched/pkg/reg"
)

// FUClass is the functional-unit class an instruction requires a slot
// from.
type FUClass uint8

const (
	ALU FUClass = iota
	MUL
	MEM
	BR
)

func (c FUClass) String() string {
	switch c {
	case ALU:
		return "ALU"
	case MUL:
		return "MUL"
	case MEM:
		return "MEM"
	case BR:
		return "BR"
	}
	return "?"
}

// Kind is the instruction's control/FU classification, replacing the
// dynamic-dispatch subclass hierarchy of the source tool with a tagged
// variant (see DESIGN.md).
type Kind uint8

const (
	Plain Kind = iota
	Mul
	Branch
	Goto
	Call
	Return
	Load
	Store
	Stop
)

// ClassifyMnemonic maps a raw mnemonic to its Kind, following the
// dispatch order of the original parser: branch before return before
// goto before call before multiply before store/load/stop before the
// plain-ALU fallback.
func ClassifyMnemonic(mnemonic string) Kind {
	m := strings.ToLower(mnemonic)
	switch {
	case strings.HasPrefix(m, "brf") || strings.HasPrefix(m, "br"):
		return Branch
	case m == "return", m == "rfi":
		return Return
	case m == "goto":
		return Goto
	case m == "call":
		return Call
	case strings.HasPrefix(m, "mpy"):
		return Mul
	case isStore(m):
		return Store
	case isLoad(m):
		return Load
	case m == "stop" || m == "nop":
		return Stop
	default:
		return Plain
	}
}

func isStore(m string) bool {
	return hasInfixAny(m, "stb", "sth", "stw")
}

func isLoad(m string) bool {
	return hasInfixAny(m, "ldb", "ldh", "ldw")
}

func hasInfixAny(s string, subs ...string) bool {
	for _, sub := range subs {
		if strings.Contains(s, sub) {
			return true
		}
	}
	return false
}

// FUClass returns the functional-unit class this Kind issues on.
func (k Kind) FUClass() FUClass {
	switch k {
	case Mul:
		return MUL
	case Load, Store:
		return MEM
	case Branch, Goto, Call, Return, Stop:
		return BR
	default:
		return ALU
	}
}

// Cost returns the instruction's latency in cycles: 2 for multiply and
// load, 1 for everything else.
func (k Kind) Cost() int {
	switch k {
	case Mul, Load:
		return 2
	default:
		return 1
	}
}

// DestKind distinguishes the kinds of branch destination a control
// instruction may report.
type DestKind uint8

const (
	DestNext DestKind = iota
	DestReturn
	DestLabel
	DestReg
)

// Destination is one possible target of a control-flow instruction.
type Destination struct {
	Kind  DestKind
	Label string
	Reg   reg.Register
}

// Operand is either a register or a raw immediate/expression token
// (e.g. "32", "0x10", "label+4", a plain label name, or the literal
// "1-1" sentinel used by unconditional goto to mean fall-through).
type Operand struct {
	IsReg bool
	Reg   reg.Register
	Text  string
}

func (o Operand) String() string {
	if o.IsReg {
		return o.Reg.String()
	}
	return o.Text
}

// RegOperand and ImmOperand build Operand values of each shape.
func RegOperand(r reg.Register) Operand { return Operand{IsReg: true, Reg: r} }
func ImmOperand(text string) Operand    { return Operand{Text: text} }

// Instruction is one parsed operation.
type Instruction struct {
	Cluster  int
	Mnemonic string
	Srcs     []Operand
	Dests    []reg.Register
	Kind     Kind
	PseudoOp string // pseudo-op text reattached to a call/return for round-trip
	Comment  string
	LineNo   int
}

// FUClass returns the functional unit this instruction issues on.
func (in *Instruction) FUClass() FUClass { return in.Kind.FUClass() }

// Cost returns the instruction's scheduling latency.
func (in *Instruction) Cost() int { return in.Kind.Cost() }

func (in *Instruction) IsBranch() bool { return in.Kind == Branch || in.Kind == Goto }
func (in *Instruction) IsCall() bool   { return in.Kind == Call }
func (in *Instruction) IsReturn() bool { return in.Kind == Return }
func (in *Instruction) IsLoad() bool   { return in.Kind == Load }
func (in *Instruction) IsStore() bool  { return in.Kind == Store }
func (in *Instruction) IsStop() bool   { return in.Kind == Stop }

// Controls reports whether this instruction ends a basic block: any of
// the branch family (branch, goto, call, return) counts, matching the
// source's ControlInstruction.is_branch() == true for all of them.
func (in *Instruction) Controls() bool {
	switch in.Kind {
	case Branch, Goto, Call, Return:
		return true
	default:
		return false
	}
}

// GetWrittenRegisters returns the set of registers this instruction
// writes.
func (in *Instruction) GetWrittenRegisters() reg.Set {
	s := make(reg.Set, len(in.Dests))
	for _, d := range in.Dests {
		s.Add(d)
	}
	if in.Kind == Return && len(in.Dests) == 0 {
		s.Add(reg.StackPointer)
	}
	return s
}

// GetReadRegisters returns the set of registers this instruction reads.
func (in *Instruction) GetReadRegisters() reg.Set {
	s := make(reg.Set, len(in.Srcs))
	for _, src := range in.Srcs {
		if src.IsReg {
			s.Add(src.Reg)
		}
	}
	if in.Kind == Return && len(in.Srcs) == 1 {
		s.Add(reg.StackPointer)
	}
	return s
}

// ChangeSourceReg rewrites every source operand equal to orig to new.
func (in *Instruction) ChangeSourceReg(orig, new reg.Register) {
	for i, src := range in.Srcs {
		if src.IsReg && src.Reg == orig {
			in.Srcs[i] = RegOperand(new)
		}
	}
}

// ChangeDestReg rewrites every destination equal to orig to new.
func (in *Instruction) ChangeDestReg(orig, new reg.Register) {
	for i, d := range in.Dests {
		if d == orig {
			in.Dests[i] = new
		}
	}
}

// HasLongImm reports whether any source operand is a non-evaluable
// expression or an evaluable immediate outside [-256, 255].
func (in *Instruction) HasLongImm() bool {
	if in.Kind == Branch || in.Kind == Goto || in.Kind == Call || in.Kind == Return {
		// Control instructions encode their target separately; they
		// never carry a long-immediate borrow requirement.
		return false
	}
	for _, src := range in.Srcs {
		if src.IsReg {
			continue
		}
		v, ok := evalImmediate(src.Text)
		if !ok || v > 255 || v < -256 {
			return true
		}
	}
	return false
}

// evalImmediate parses a plain signed decimal or hex literal. Anything
// else (symbolic names, arithmetic expressions) is reported as
// non-evaluable, matching the source's eval()-based fallback.
func evalImmediate(text string) (int, bool) {
	text = strings.TrimSpace(text)
	if text == "" {
		return 0, false
	}
	neg := false
	if text[0] == '+' || text[0] == '-' {
		neg = text[0] == '-'
		text = text[1:]
	}
	if text == "" {
		return 0, false
	}
	var v int64
	var err error
	if strings.HasPrefix(text, "0x") || strings.HasPrefix(text, "0X") {
		v, err = strconv.ParseInt(text[2:], 16, 64)
	} else {
		v, err = strconv.ParseInt(text, 10, 64)
	}
	if err != nil {
		return 0, false
	}
	if neg {
		v = -v
	}
	return int(v), true
}

// BranchDestinations returns the possible targets of this instruction,
// or [DestNext] for anything that does not alter control flow.
func (in *Instruction) BranchDestinations() []Destination {
	switch in.Kind {
	case Return:
		return []Destination{{Kind: DestReturn}}
	case Branch:
		return []Destination{{Kind: DestNext}, lastSrcDestination(in.Srcs)}
	case Goto:
		if len(in.Srcs) > 0 && !in.Srcs[len(in.Srcs)-1].IsReg && in.Srcs[len(in.Srcs)-1].Text == "1-1" {
			return []Destination{{Kind: DestNext}}
		}
		return []Destination{lastSrcDestination(in.Srcs)}
	default:
		return []Destination{{Kind: DestNext}}
	}
}

func lastSrcDestination(srcs []Operand) Destination {
	if len(srcs) == 0 {
		return Destination{Kind: DestNext}
	}
	last := srcs[len(srcs)-1]
	if last.IsReg {
		return Destination{Kind: DestReg, Reg: last.Reg}
	}
	return Destination{Kind: DestLabel, Label: last.Text}
}

// String renders the instruction in the textual input grammar.
func (in *Instruction) String() string {
	var b strings.Builder
	if in.PseudoOp != "" {
		b.WriteString(in.PseudoOp)
		b.WriteByte('\n')
	}
	switch in.Kind {
	case Branch, Goto:
		b.WriteString("c")
		b.WriteString(strconv.Itoa(in.Cluster))
		b.WriteByte(' ')
		b.WriteString(in.Mnemonic)
		b.WriteByte(' ')
		writeOperands(&b, in.Srcs)
	case Store:
		b.WriteString("c")
		b.WriteString(strconv.Itoa(in.Cluster))
		b.WriteByte(' ')
		b.WriteString(in.Mnemonic)
		b.WriteByte(' ')
		if len(in.Srcs) == 3 {
			b.WriteString(in.Srcs[0].String())
			b.WriteByte('[')
			b.WriteString(in.Srcs[1].String())
			b.WriteString("] = ")
			b.WriteString(in.Srcs[2].String())
		}
	case Load:
		b.WriteString("c")
		b.WriteString(strconv.Itoa(in.Cluster))
		b.WriteByte(' ')
		b.WriteString(in.Mnemonic)
		b.WriteByte(' ')
		if len(in.Dests) == 1 && len(in.Srcs) == 2 {
			b.WriteString(in.Dests[0].String())
			b.WriteString(" = ")
			b.WriteString(in.Srcs[0].String())
			b.WriteByte('[')
			b.WriteString(in.Srcs[1].String())
			b.WriteByte(']')
		}
	case Stop:
		b.WriteString("c")
		b.WriteString(strconv.Itoa(in.Cluster))
		b.WriteByte(' ')
		b.WriteString(in.Mnemonic)
	default:
		b.WriteString("c")
		b.WriteString(strconv.Itoa(in.Cluster))
		b.WriteByte(' ')
		b.WriteString(in.Mnemonic)
		b.WriteByte(' ')
		for i, d := range in.Dests {
			if i > 0 {
				b.WriteString(", ")
			}
			b.WriteString(d.String())
		}
		if len(in.Dests) > 0 && len(in.Srcs) > 0 {
			b.WriteString(" = ")
		}
		writeOperands(&b, in.Srcs)
	}
	if in.Comment != "" {
		b.WriteString(" #")
		b.WriteString(in.Comment)
	}
	return b.String()
}

func writeOperands(b *strings.Builder, ops []Operand) {
	for i, o := range ops {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteString(o.String())
	}
}
