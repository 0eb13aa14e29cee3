// Package bundle models one VLIW instruction bundle: either a real
// group of parallel-issued instructions, or one of the fake bundles
// (function entry, function exit, call site) used to anchor ABI
// register traffic at the edges of a function's control-flow graph.
package bundle

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"github.com/vexresched/vexresched/pkg/depgraph"
	"github.com/vexresched/vexresched/pkg/inst"
	"github.com/vexresched/vexresched/pkg/reg"
)

// Debug gates the warnings this package emits, mirroring the source
// tool's debugprint.print_warnings switch (off by default).
var Debug bool

func warn(msg string, lineNo int) {
	if !Debug {
		return
	}
	if lineNo != 0 {
		fmt.Fprintf(os.Stderr, "%s on line %d\n", msg, lineNo)
		return
	}
	fmt.Fprintln(os.Stderr, msg)
}

// Label is a code label, local unless written with the "::" suffix.
type Label struct {
	Name  string
	Local bool
}

var labelBodyRe = regexp.MustCompile(`([.\w?]+):+`)

// ParseLabel parses one "name:" or "name::" label line.
func ParseLabel(line string) (Label, error) {
	m := labelBodyRe.FindStringSubmatch(line)
	if m == nil {
		return Label{}, fmt.Errorf("%q is not a label", line)
	}
	return Label{Name: m[1], Local: !strings.Contains(line, "::")}, nil
}

func (l Label) String() string {
	if l.Local {
		return l.Name + ":"
	}
	return l.Name + "::"
}

// Kind distinguishes a real bundle from the fake bundles anchoring a
// function's ABI boundary.
type Kind uint8

const (
	Normal Kind = iota
	Entry
	Exit
	CallSite
)

// Bundle is one scheduled group of instructions, or a fake standing in
// for a function's entry, exit, or a call site's register traffic.
type Bundle struct {
	Kind   Kind
	Labels []Label
	LineNo int
	Insns  []*inst.Instruction // Normal only

	// Fixed read/write sets for Entry/Exit/CallSite fakes.
	FixedRead  reg.Set
	FixedWrite reg.Set
}

// NewNormal builds a real bundle from already-parsed instructions.
func NewNormal(insns []*inst.Instruction, labels []Label, lineNo int) *Bundle {
	return &Bundle{Kind: Normal, Insns: insns, Labels: labels, LineNo: lineNo}
}

// NewEntry builds the fake bundle standing for a function's entry
// point: it "writes" every ABI-fixed general register, anchoring them
// live from the start of the function.
func NewEntry() *Bundle {
	return &Bundle{Kind: Entry, FixedWrite: reg.FixedGeneralRegisters()}
}

// NewExit builds the fake bundle standing for a function's return
// point: it "reads" every ABI-fixed general register, keeping them
// live to the end of the function.
func NewExit() *Bundle {
	return &Bundle{Kind: Exit, FixedRead: reg.FixedGeneralRegisters()}
}

// NewCallSite builds the fake bundle standing for a call instruction's
// ABI register traffic. A bare call with no ".call arg(...) ret(...)"
// annotation keeps the whole fixed-register pool live across the call
// (args and rets nil); an annotated call's read/write sets are replaced
// outright by the parsed argument/return registers, since the compiler
// has told us exactly what crosses the call.
func NewCallSite(args, rets []reg.Register) *Bundle {
	read := reg.FixedGeneralRegisters()
	written := reg.FixedGeneralRegisters()
	if args != nil {
		read = reg.NewSet(args...)
	}
	if rets != nil {
		written = reg.NewSet(rets...)
	}
	return &Bundle{Kind: CallSite, FixedRead: read, FixedWrite: written}
}

// IsFake reports whether this is an Entry/Exit/CallSite placeholder
// rather than a real bundle of instructions.
func (b *Bundle) IsFake() bool { return b.Kind != Normal }

// GetDestination returns the bundle's possible successors: the first
// branch-family instruction's destinations, or ["next"] otherwise.
func (b *Bundle) GetDestination() []inst.Destination {
	if b.Kind == Exit {
		return nil
	}
	if b.Kind != Normal {
		return []inst.Destination{{Kind: inst.DestNext}}
	}
	for _, in := range b.Insns {
		if in.Controls() {
			return in.BranchDestinations()
		}
	}
	return []inst.Destination{{Kind: inst.DestNext}}
}

// GetWritten returns every register this bundle writes.
func (b *Bundle) GetWritten() reg.Set {
	if b.Kind != Normal {
		return b.FixedWrite
	}
	out := make(reg.Set)
	for _, in := range b.Insns {
		out = out.Union(in.GetWrittenRegisters())
	}
	return out
}

// GetRead returns every register this bundle reads.
func (b *Bundle) GetRead() reg.Set {
	if b.Kind != Normal {
		return b.FixedRead
	}
	out := make(reg.Set)
	for _, in := range b.Insns {
		out = out.Union(in.GetReadRegisters())
	}
	return out
}

// EndsBB reports whether this bundle ends a basic block.
func (b *Bundle) EndsBB() bool {
	if b.Kind != Normal {
		return false
	}
	for _, in := range b.Insns {
		if in.Controls() {
			return true
		}
	}
	return false
}

// BeginsBB reports whether this bundle begins a basic block (carries a
// label).
func (b *Bundle) BeginsBB() bool { return len(b.Labels) > 0 }

// HasCall reports whether this bundle contains a call instruction.
func (b *Bundle) HasCall() bool {
	if b.Kind != Normal {
		return false
	}
	for _, in := range b.Insns {
		if in.IsCall() {
			return true
		}
	}
	return false
}

// HasCycle reports whether this bundle's instructions have a
// dependency cycle among themselves.
func (b *Bundle) HasCycle() bool {
	if b.Kind != Normal {
		return false
	}
	return depgraph.NewGraph(b.Insns, nil).Schedule() != nil
}

// GetCycleRegs returns every register written by an instruction
// participating in this bundle's dependency cycle (empty if acyclic).
func (b *Bundle) GetCycleRegs() reg.Set {
	out := make(reg.Set)
	if b.Kind != Normal {
		return out
	}
	for _, in := range depgraph.NewGraph(b.Insns, nil).Schedule() {
		out = out.Union(in.GetWrittenRegisters())
	}
	return out
}

// HasLoadDependency reports the registers, if any, that a load in this
// bundle writes and some other instruction in the same bundle reads
// (a same-cycle load-use hazard).
func (b *Bundle) HasLoadDependency() reg.Set {
	if b.Kind != Normal {
		return nil
	}
	var loadWrites reg.Set
	var loadInsn *inst.Instruction
	for _, in := range b.Insns {
		if in.IsLoad() {
			loadWrites = in.GetWrittenRegisters()
			loadInsn = in
		}
	}
	if len(loadWrites) == 0 {
		return nil
	}
	for _, in := range b.Insns {
		if in == loadInsn {
			continue
		}
		if hit := loadWrites.Intersect(in.GetReadRegisters()); len(hit) > 0 {
			return hit
		}
	}
	return nil
}

// FixSameRegWrites retargets all but the last same-bundle write to a
// given general register onto the discard register, and reports true
// if a conflicting write to a non-general register was found (which
// cannot be resolved this way).
func (b *Bundle) FixSameRegWrites() (conflict bool) {
	if b.Kind != Normal {
		return false
	}
	lineNo := 0
	if len(b.Insns) > 0 {
		lineNo = b.Insns[0].LineNo
	}
	written := make(reg.Set)
	for i := len(b.Insns) - 1; i >= 0; i-- {
		in := b.Insns[i]
		regs := in.GetWrittenRegisters()
		for r := range regs {
			if r == reg.Discard || !written.Has(r) {
				continue
			}
			warn("Multiple writes to same register in bundle", lineNo)
			if r.Kind == reg.General {
				in.ChangeDestReg(r, reg.Discard)
			} else {
				conflict = true
			}
		}
		written = written.Union(regs)
	}
	return conflict
}

// FixStackPop tries to fuse a bundle's return instruction with a
// preceding "add $r0.1, imm" stack-pointer adjustment into a single
// return-and-pop. It returns true when no such fusion was needed, or
// when the fusion succeeded; false when the shapes were present but
// could not be combined.
func (b *Bundle) FixStackPop() bool {
	if b.Kind != Normal {
		return true
	}
	var retInsn, addInsn *inst.Instruction
	for _, in := range b.Insns {
		if in.IsReturn() {
			retInsn = in
			break
		}
	}
	if retInsn == nil {
		return true
	}
	for _, in := range b.Insns {
		if in.Mnemonic == "add" && in.GetWrittenRegisters().Has(reg.StackPointer) {
			addInsn = in
			break
		}
	}
	if addInsn == nil {
		return true
	}
	if len(addInsn.Srcs) < 2 || !addInsn.Srcs[0].IsReg || addInsn.Srcs[0].Reg != reg.StackPointer || addInsn.Srcs[1].IsReg {
		if Debug {
			fmt.Fprintf(os.Stderr, "Could not combine return and stack pop on line %d:\n", addInsn.LineNo)
			fmt.Fprintln(os.Stderr, b.String())
		}
		return false
	}
	if len(retInsn.Srcs) == 1 {
		retInsn.Srcs = append([]inst.Operand{inst.RegOperand(reg.StackPointer), addInsn.Srcs[1]}, retInsn.Srcs...)
	} else {
		retInsn.Srcs[1] = inst.ImmOperand(retInsn.Srcs[1].String() + " + " + addInsn.Srcs[1].String())
	}
	if len(retInsn.Dests) == 0 {
		retInsn.Dests = append(retInsn.Dests, reg.StackPointer)
	}
	b.removeInsn(addInsn)
	return true
}

func (b *Bundle) removeInsn(target *inst.Instruction) {
	out := b.Insns[:0]
	for _, in := range b.Insns {
		if in != target {
			out = append(out, in)
		}
	}
	b.Insns = out
}

// RenameWritten renames every write of orig in this bundle to repl.
func (b *Bundle) RenameWritten(orig, repl reg.Register) {
	if b.Kind != Normal {
		return
	}
	for _, in := range b.Insns {
		in.ChangeDestReg(orig, repl)
	}
}

// RenameRead renames every read of orig in this bundle to repl.
func (b *Bundle) RenameRead(orig, repl reg.Register) {
	if b.Kind != Normal {
		return
	}
	for _, in := range b.Insns {
		in.ChangeSourceReg(orig, repl)
	}
}

func (b *Bundle) String() string {
	if b.Kind != Normal {
		return ""
	}
	var sb strings.Builder
	for _, l := range b.Labels {
		sb.WriteString(l.String())
		sb.WriteByte('\n')
	}
	for _, in := range b.Insns {
		sb.WriteString(in.String())
		sb.WriteByte('\n')
	}
	sb.WriteString(";;")
	return sb.String()
}
