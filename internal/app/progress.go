package app

import (
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"golang.org/x/term"

	"chron-go/internal/chron"
)

// newProgressPrinter returns a ProgressFunc that rewrites one status line
// on f, or nil when f is not a terminal (progress on a redirected stream
// would just pollute logs).
func newProgressPrinter(f *os.File) chron.ProgressFunc {
	if !term.IsTerminal(int(f.Fd())) {
		return nil
	}
	return func(entries int, bytes int64) {
		fmt.Fprintf(f, "\r%d entries, %s", entries, humanize.Bytes(uint64(bytes)))
	}
}
