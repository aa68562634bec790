package observability

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"
	"time"

	"golang.org/x/term"
)

var startTime = time.Now()

const (
	colorReset    = "\033[0m"
	colorNeonCyan = "\033[96m"
)

// termMu serialises log output with console writes.
var termMu sync.Mutex

func termWidth() int {
	w, _, err := term.GetSize(int(os.Stdout.Fd()))
	if err != nil {
		return 80
	}
	return w
}

// IsTerminal reports whether stdout is an interactive terminal.
func IsTerminal() bool {
	return term.IsTerminal(int(os.Stdout.Fd()))
}

type termWriter struct{}

func (tw termWriter) Write(p []byte) (n int, err error) {
	termMu.Lock()
	defer termMu.Unlock()
	return os.Stderr.Write(p)
}

// NewTermWriter returns an io.Writer suitable for log.SetOutput().
func NewTermWriter() *termWriter {
	return &termWriter{}
}

func PrintBanner(w io.Writer) {
	banner := `
   _____                          _
  / ___/____ _   _____  ________(_)___ _____
  \__ \/ __ \ | / / _ \/ ___/ _ \/ / __ '/ __ \
 ___/ / /_/ / |/ /  __/ /  /  __/ / /_/ / / / /
/____/\____/|___/\___/_/   \___/_/\__, /_/ /_/
                                 /____/
        >> PLAN . EXECUTE . RECOVER <<
`

	width := termWidth()
	color := IsTerminal()

	termMu.Lock()
	defer termMu.Unlock()
	for _, l := range strings.Split(banner, "\n") {
		padding := (width - len(l)) / 2
		if padding < 0 {
			padding = 0
		}
		if color {
			fmt.Fprintf(w, "%s%s%s\n", strings.Repeat(" ", padding), colorNeonCyan+l, colorReset)
		} else {
			fmt.Fprintf(w, "%s%s\n", strings.Repeat(" ", padding), l)
		}
	}
}
