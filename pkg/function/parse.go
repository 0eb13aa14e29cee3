package function

import (
	"github.com/vexresched/vexresched/pkg/bundle"
	"github.com/vexresched/vexresched/pkg/inst"
	"github.com/vexresched/vexresched/pkg/lexer"
	"github.com/vexresched/vexresched/pkg/reg"
)

// Line is one statement line already inside a .proc/.endp pair: its
// code (comments already stripped by the caller), the hash-comment
// text split off alongside it, and the source line number.
type Line struct {
	Code    string
	Comment string
	LineNo  int
}

func parseRegList(tokens []string) []reg.Register {
	var out []reg.Register
	for _, t := range tokens {
		if r, ok := lexer.ParseRegister(t); ok {
			out = append(out, r)
		}
	}
	return out
}

// ParseFunction builds a Function from the raw statement lines found
// between one ".proc"/".endp" pair, following the source tool's
// split_into_bundles: labels accumulate until the next bundle
// terminator, ".entry"/".return" pseudo-ops seed the Entry/Exit fakes'
// fixed register sets, ".call arg(...) ret(...)" seeds the CallSite
// fake inserted after any bundle containing a call, and a trailing
// ".global" pseudo-op promotes the following label to non-local.
func ParseFunction(lines []Line) *Function {
	name := ""
	if len(lines) > 0 {
		name = lines[0].Code
	}

	entry := bundle.NewEntry()
	exit := bundle.NewExit()
	bundles := []*bundle.Bundle{entry}

	var labels []bundle.Label
	var pending []Line
	bundleLineNo := 0

	var pseudoOp string
	pseudoCall := false
	var argRegs, retRegs []reg.Register

	// endBundle flushes unconditionally on ";;" (even a bare ";;" with no
	// preceding instructions yields an empty bundle, matching the
	// source's unconditional InstructionBundle append).
	endBundle := func() {
		insns := make([]*inst.Instruction, 0, len(pending))
		for _, l := range pending {
			insns = append(insns, inst.Parse(l.Code, l.Comment, l.LineNo))
		}
		for _, in := range insns {
			if in.IsCall() || in.IsReturn() {
				in.PseudoOp = pseudoOp
				break
			}
		}
		b := bundle.NewNormal(insns, labels, bundleLineNo)
		bundles = append(bundles, b)
		if b.HasCall() {
			if pseudoCall {
				bundles = append(bundles, bundle.NewCallSite(argRegs, retRegs))
			} else {
				bundles = append(bundles, bundle.NewCallSite(nil, nil))
			}
		}
		pending = nil
		labels = nil
		pseudoCall = false
		pseudoOp = ""
	}

	for _, l := range lines {
		if len(pending) == 0 {
			bundleLineNo = l.LineNo
		}
		switch {
		case lexer.IsLabel(l.Code):
			lbl, err := bundle.ParseLabel(l.Code)
			if err != nil {
				continue
			}
			if pseudoOp != "" && lexer.IsGlobal(pseudoOp) {
				pseudoOp = ""
				lbl.Local = false
			}
			labels = append(labels, lbl)
		case lexer.IsEndBundle(l.Code):
			endBundle()
		case lexer.IsEntry(l.Code):
			entry.FixedWrite = reg.NewSet(parseRegList(lexer.GetRegs(l.Code))...)
		case lexer.IsExit(l.Code):
			pseudoOp = l.Code
			exit.FixedRead = reg.NewSet(parseRegList(lexer.GetRegs(l.Code))...)
		case lexer.IsCall(l.Code):
			pseudoOp = l.Code
			argRegs = parseRegList(lexer.GetArgRegs(l.Code))
			retRegs = parseRegList(lexer.GetRetRegs(l.Code))
			pseudoCall = true
		case lexer.IsGlobal(l.Code):
			pseudoOp = l.Code
		case lexer.IsType(l.Code):
			// dropped
		case lexer.IsNopInsertion(l.Code):
			// dropped
		case lexer.IsBalignl(l.Code):
			// dropped
		default:
			pending = append(pending, l)
		}
	}
	// A trailing run of instructions with no closing ";;" still becomes
	// a bundle (matching the source's `if bundle_lines != []:` tail
	// check); a dangling label with no instructions before EOF is
	// dropped, as it is in the source.
	if len(pending) > 0 {
		endBundle()
	}
	bundles = append(bundles, exit)

	return NewFunction(name, bundles)
}
