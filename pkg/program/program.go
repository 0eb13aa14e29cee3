// Package program ties the lexer, instruction, bundle, and function
// layers together into the top-level pipeline the source tool's
// main.py inlines: split a file into functions and passthrough
// directives, fix up each function's register traffic, and
// optionally reschedule it.
package program

import (
	"bufio"
	"fmt"
	"io"
	"regexp"

	"github.com/vexresched/vexresched/pkg/function"
	"github.com/vexresched/vexresched/pkg/lexer"
)

// Unit is one top-level element of a parsed file: either a parsed
// Function (Func non-nil) or an opaque line outside any function body,
// including the .proc/.endp lines themselves (section markers and
// other directives the tool does not analyze), passed through
// untouched.
type Unit struct {
	Func   *function.Function
	Opaque string
}

func (u Unit) String() string {
	if u.Func != nil {
		return u.Func.String()
	}
	return u.Opaque
}

var traceRe = regexp.MustCompile(`\.trace`)

// Read parses r into its top-level units. Lines between a ".proc" and
// its matching ".endp" accumulate into a Function; the ".proc"/".endp"
// lines themselves, and everything outside such a pair, round-trip as
// opaque lines. The ".trace" pseudo-op is dropped unconditionally
// wherever it occurs inside a function body, matching the source
// tool's read_file.
func Read(r io.Reader) ([]Unit, error) {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 64*1024), 1<<20)

	var units []Unit
	var funcLines []function.Line
	inFunc := false
	inBlockComment := false
	lineNo := 0

	for scanner.Scan() {
		lineNo++
		code, hashComment, stillIn := lexer.StripComments(scanner.Text(), inBlockComment)
		inBlockComment = stillIn
		if code == "" && hashComment == "" {
			continue
		}
		if lexer.IsEndFunction(code) {
			units = append(units, Unit{Func: function.ParseFunction(funcLines)})
			funcLines = nil
			inFunc = false
		}
		if inFunc {
			if code != "" && !traceRe.MatchString(code) {
				funcLines = append(funcLines, function.Line{Code: code, Comment: hashComment, LineNo: lineNo})
			}
		} else if hashComment != "" {
			units = append(units, Unit{Opaque: code + " #" + hashComment})
		} else {
			units = append(units, Unit{Opaque: code})
		}
		if lexer.IsStartFunction(code) {
			inFunc = true
		}
	}
	return units, scanner.Err()
}

// Fix runs the fixed dependency-repair pipeline over f: stack-pop
// fusion, same-register-write resolution, load-use hazard repair, and
// intra-bundle cycle removal, in that order (the only ordering the
// source tool's main() uses). It returns an error if a same-register
// write could not be resolved (a non-general-register conflict),
// matching the source's fatal exit(1).
func Fix(f *function.Function) error {
	f.FixReturnAndStackPop()
	if f.FixSameRegWrites() {
		return fmt.Errorf("program: unresolvable same-register write in function %q", f.Name)
	}
	f.FixLoadDependency()
	f.FixCycles()
	return nil
}
