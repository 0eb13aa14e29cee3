// Package format drives the top-level textual emission of a parsed
// program back into the line-oriented assembly grammar it was read
// from, the Go equivalent of main.py's `print(str(f), file=out_file)`
// loop.
package format

import (
	"bufio"
	"io"

	"github.com/vexresched/vexresched/pkg/program"
)

// Write renders every unit in order, one per line (a Function's
// String already embeds its own internal newlines), each followed by
// a trailing newline to match Python's print().
func Write(w io.Writer, units []program.Unit) error {
	bw := bufio.NewWriter(w)
	for _, u := range units {
		if _, err := io.WriteString(bw, u.String()); err != nil {
			return err
		}
		if err := bw.WriteByte('\n'); err != nil {
			return err
		}
	}
	return bw.Flush()
}
