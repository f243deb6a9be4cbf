package backend

import (
	"bytes"
	"regexp"
	"strconv"
	"strings"
	"sync"
)

// Progress is one update of a long running network operation.
type Progress struct {
	Phase   string
	Percent int
	Current int
	Total   int
	// Done is set on the final line of a phase ("..., done.").
	Done bool
}

type ProgressFunc func(Progress)

// Matches lines like "Receiving objects:  45% (9/20), 1.2 MiB | 3 MiB/s".
var progressRe = regexp.MustCompile(`^(?:remote:\s*)?([A-Za-z][A-Za-z ]*?):\s+(\d{1,3})%\s+\((\d+)/(\d+)\)`)

// parseProgressLine parses one line of git's transfer progress output.
func parseProgressLine(line string) (Progress, bool) {
	line = strings.TrimSpace(line)
	m := progressRe.FindStringSubmatch(line)
	if m == nil {
		return Progress{}, false
	}
	pct, _ := strconv.Atoi(m[2])
	cur, _ := strconv.Atoi(m[3])
	total, _ := strconv.Atoi(m[4])
	return Progress{
		Phase:   m[1],
		Percent: pct,
		Current: cur,
		Total:   total,
		Done:    strings.HasSuffix(line, "done.") || strings.Contains(line, ", done"),
	}, true
}

// progressWriter turns the sideband stream written by git (or go-git) into
// Progress callbacks. Lines are split on both \r and \n since git rewrites
// the current line with carriage returns.
type progressWriter struct {
	mu   sync.Mutex
	fn   ProgressFunc
	buf  []byte
	tail bytes.Buffer // the last lines, kept for error messages
}

func newProgressWriter(fn ProgressFunc) *progressWriter {
	return &progressWriter{fn: fn}
}

func (w *progressWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.buf = append(w.buf, p...)
	for {
		i := bytes.IndexAny(w.buf, "\r\n")
		if i < 0 {
			break
		}
		w.line(string(w.buf[:i]))
		w.buf = w.buf[i+1:]
	}
	return len(p), nil
}

func (w *progressWriter) line(s string) {
	if s == "" {
		return
	}
	if pr, ok := parseProgressLine(s); ok {
		if w.fn != nil {
			w.fn(pr)
		}
		return
	}
	w.tail.WriteString(s)
	w.tail.WriteByte('\n')
}

// Output returns the non-progress lines seen so far.
func (w *progressWriter) Output() string {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.buf) > 0 {
		w.line(string(w.buf))
		w.buf = nil
	}
	return strings.TrimSpace(w.tail.String())
}
