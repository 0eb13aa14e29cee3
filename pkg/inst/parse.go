package inst

import (
	"strings"

	"github.com/vexresched/vexresched/pkg/lexer"
)

// Parse tokenizes one statement line (with its cluster/mnemonic prefix
// still attached) into an Instruction. comment is the hash-comment text
// already split off by the caller; lineNo is the source line number
// used in diagnostics.
func Parse(line, comment string, lineNo int) *Instruction {
	cluster, rest := lexer.GetCluster(line)
	mnemonic, rest := lexer.GetMnemonic(rest)
	kind := ClassifyMnemonic(mnemonic)

	in := &Instruction{
		Cluster:  cluster,
		Mnemonic: mnemonic,
		Kind:     kind,
		Comment:  comment,
		LineNo:   lineNo,
	}

	tokens := splitArgs(rest)

	switch kind {
	case Branch, Goto, Store, Call:
		for _, tok := range tokens {
			if isDelimOrBlank(tok) {
				continue
			}
			in.Srcs = append(in.Srcs, operandFromToken(tok))
		}
	case Stop:
		// no operands
	default:
		parseDestSrcSplit(in, tokens)
		if kind == Return && len(tokens) == 1 {
			srcs := in.Srcs
			dests := in.Dests
			in.Srcs = nil
			in.Dests = nil
			for _, o := range srcs {
				in.Dests = append(in.Dests, o.Reg)
			}
			for _, d := range dests {
				in.Srcs = append(in.Srcs, RegOperand(d))
			}
		}
	}
	return in
}

func parseDestSrcSplit(in *Instruction, tokens []string) {
	dest := true
	for _, tok := range tokens {
		if tok == "," || tok == "[" || tok == "]" || tok == "" {
			continue
		}
		if tok == "=" {
			dest = false
			continue
		}
		if dest {
			if r, ok := lexer.ParseRegister(tok); ok {
				in.Dests = append(in.Dests, r)
			}
			// Non-register destination tokens do not occur in
			// well-formed input; silently dropped rather than
			// crashing on a malformed dest slot.
			continue
		}
		in.Srcs = append(in.Srcs, operandFromToken(tok))
	}
}

func operandFromToken(tok string) Operand {
	if r, ok := lexer.ParseRegister(tok); ok {
		return RegOperand(r)
	}
	return ImmOperand(tok)
}

func isDelimOrBlank(tok string) bool {
	return tok == "," || tok == "[" || tok == "]" || tok == "" || tok == "="
}

// splitArgs splits an operand list on the "," "=" "[" "]" delimiters,
// keeping the delimiters themselves as separate tokens so callers can
// detect dest/src boundaries the same way the source tokenizer does.
func splitArgs(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var tokens []string
	var cur strings.Builder
	flush := func() {
		tok := strings.TrimSpace(cur.String())
		tokens = append(tokens, tok)
		cur.Reset()
	}
	for _, c := range s {
		switch c {
		case ',', '=', '[', ']':
			flush()
			tokens = append(tokens, string(c))
		default:
			cur.WriteRune(c)
		}
	}
	flush()
	return tokens
}
