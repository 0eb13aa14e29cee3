// Package lexer classifies and tokenizes the line-oriented assembly
// text format this tool reads and writes.
package lexer

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/vexresched/vexresched/pkg/reg"
)

var (
	labelRe        = regexp.MustCompile(`^\s*[a-zA-Z0-9?_.]+:+`)
	pseudoRe       = regexp.MustCompile(`^\s*\.([a-zA-Z0-9_])+(?:[\s]|$)`)
	procRe         = regexp.MustCompile(`\.proc`)
	endpRe         = regexp.MustCompile(`\.endp`)
	endBundleRe    = regexp.MustCompile(`;;`)
	registerRe     = regexp.MustCompile(`\$[rbl]\d+\.\d+`)
	storeRe        = regexp.MustCompile(`st[bhw]`)
	loadRe         = regexp.MustCompile(`ld[bhw]`)
	controlRe      = regexp.MustCompile(`br[f]?|return|goto|call`)
	stopRe         = regexp.MustCompile(`stop|nop`)
	clusterRe      = regexp.MustCompile(`^\s*c(\d+)(.*)$`)
	mnemonicRe     = regexp.MustCompile(`^\s*(\w+)(.*)$`)
	entryRe        = regexp.MustCompile(`^\s*\.entry`)
	exitRe         = regexp.MustCompile(`^\s*\.return`)
	callRe         = regexp.MustCompile(`^\s*\.call`)
	globalRe       = regexp.MustCompile(`^\s*\.global`)
	nopInsertionRe = regexp.MustCompile(`^\s*\.(no)?nopinsertion`)
	balignlRe      = regexp.MustCompile(`^\s*\.balignl`)
	typeRe         = regexp.MustCompile(`^\s*\.type`)
	argRe          = regexp.MustCompile(`arg\([^)]*\)`)
	retRe          = regexp.MustCompile(`ret\(.*\)`)
	oneRegRe       = regexp.MustCompile(`^\$([rbl])(\d+)\.(\d+)$`)
)

// StripComments removes a C-style block comment (possibly spanning
// calls, tracked via inBlockComment) and a trailing hash comment from
// one line, returning the bare code, the hash comment text, and the
// updated block-comment state.
func StripComments(line string, inBlockComment bool) (code, hashComment string, stillInBlock bool) {
	line = strings.TrimRight(line, " \t\r\n")

	var out strings.Builder
	var prev byte
	for i := 0; i < len(line); i++ {
		c := line[i]
		if c == '#' && !inBlockComment {
			out.Reset()
			out.WriteString(line)
			break
		}
		if prev == '/' && c == '*' {
			inBlockComment = true
			s := out.String()
			out.Reset()
			out.WriteString(s[:len(s)-1])
			prev = c
			continue
		}
		if prev == '*' && c == '/' {
			inBlockComment = false
			prev = c
			continue
		}
		if !inBlockComment {
			out.WriteByte(c)
		}
		prev = c
	}

	code, _, hashComment = cutHash(out.String())
	return strings.TrimSpace(code), hashComment, inBlockComment
}

func cutHash(s string) (before, sep, after string) {
	if i := strings.IndexByte(s, '#'); i >= 0 {
		return s[:i], "#", s[i+1:]
	}
	return s, "", ""
}

func IsLabel(line string) bool          { return labelRe.MatchString(line) }
func IsPseudo(line string) bool         { return pseudoRe.MatchString(line) }
func IsEndBundle(line string) bool      { return endBundleRe.MatchString(line) }
func IsStartFunction(line string) bool  { return procRe.MatchString(line) }
func IsEndFunction(line string) bool    { return endpRe.MatchString(line) }
func IsRegister(line string) bool       { return registerRe.MatchString(line) }
func IsStore(mnemonic string) bool      { return storeRe.MatchString(mnemonic) }
func IsLoad(mnemonic string) bool       { return loadRe.MatchString(mnemonic) }
func IsControl(mnemonic string) bool    { return controlRe.MatchString(mnemonic) }
func IsStop(mnemonic string) bool       { return stopRe.MatchString(mnemonic) }
func IsEntry(line string) bool          { return entryRe.MatchString(line) }
func IsExit(line string) bool           { return exitRe.MatchString(line) }
func IsCall(line string) bool           { return callRe.MatchString(line) }
func IsGlobal(line string) bool         { return globalRe.MatchString(line) }
func IsNopInsertion(line string) bool   { return nopInsertionRe.MatchString(line) }
func IsBalignl(line string) bool        { return balignlRe.MatchString(line) }
func IsType(line string) bool           { return typeRe.MatchString(line) }

// GetCluster splits a leading "cN" cluster prefix off a bundle-slot
// line, defaulting to cluster 0 when absent.
func GetCluster(line string) (cluster int, rest string) {
	m := clusterRe.FindStringSubmatch(strings.TrimSpace(line))
	if m == nil {
		return 0, line
	}
	n, _ := strconv.Atoi(m[1])
	return n, m[2]
}

// GetMnemonic splits the leading word (the opcode) off the remainder
// of a line.
func GetMnemonic(line string) (mnemonic, rest string) {
	m := mnemonicRe.FindStringSubmatch(line)
	if m == nil {
		return "", ""
	}
	return strings.TrimSpace(m[1]), m[2]
}

// GetRegs returns every register-syntax token found in line, in order.
func GetRegs(line string) []string {
	return registerRe.FindAllString(line, -1)
}

// GetArgRegs returns the register tokens inside an "arg(...)" group, if
// present.
func GetArgRegs(line string) []string {
	m := argRe.FindString(line)
	if m == "" {
		return nil
	}
	return GetRegs(m)
}

// GetRetRegs returns the register tokens inside a "ret(...)" group, if
// present.
func GetRetRegs(line string) []string {
	m := retRe.FindString(line)
	if m == "" {
		return nil
	}
	return GetRegs(m)
}

// ParseRegister parses a single "$r0.1"-style token into a reg.Register.
func ParseRegister(token string) (reg.Register, bool) {
	m := oneRegRe.FindStringSubmatch(strings.TrimSpace(token))
	if m == nil {
		return reg.Register{}, false
	}
	cluster, err1 := strconv.Atoi(m[2])
	index, err2 := strconv.Atoi(m[3])
	if err1 != nil || err2 != nil {
		return reg.Register{}, false
	}
	switch m[1] {
	case "r":
		return reg.NewGeneral(cluster, index), true
	case "b":
		return reg.NewBranch(cluster, index), true
	case "l":
		return reg.NewLink(cluster, index), true
	default:
		return reg.Register{}, false
	}
}

// SplitOperands splits a comma-separated operand list, trimming
// whitespace from each element and dropping empty trailing elements
// from a blank operand field.
func SplitOperands(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}
