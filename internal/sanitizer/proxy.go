package sanitizer

import (
	"io"
	"os"
	"strings"
	"sync"

	"github.com/creack/pty"
)

// Proxy owns a PTY file descriptor and pumps bytes through the sanitizer in
// both directions: agent-supplied input is filtered with SanitizeInput
// before reaching the shell, shell output is filtered with SanitizeOutput
// before reaching the agent. It is the only piece of this package that
// touches a real file descriptor — SanitizeInput/SanitizeOutput themselves
// remain pure.
type Proxy struct {
	ptmx     *os.File
	reporter Reporter
	shadow   *shadowTerminal

	mu     sync.Mutex
	closed bool
}

// NewProxy wraps an already-started PTY master. Callers own ptmx's
// lifecycle up to calling Close, which also closes ptmx.
func NewProxy(ptmx *os.File, reporter Reporter) *Proxy {
	if reporter == nil {
		reporter = NopReporter
	}
	p := &Proxy{
		ptmx:   ptmx,
		shadow: newShadowTerminal(80, 24),
	}
	p.reporter = ReporterFunc(func(v Violation) {
		if v.Direction == DirectionOutput {
			v.SequencePreview = v.SequencePreview + " " + p.shadow.cursorPreview()
			if ctx := p.shadow.scrollbackContext(); len(ctx) > 0 {
				v.SequencePreview += " near: " + strings.Join(ctx, " | ")
			}
		}
		reporter.Report(v)
	})
	return p
}

// Resize keeps the shadow terminal's screen size tracking the real PTY.
func (p *Proxy) Resize(cols, rows int) error {
	p.shadow.resize(cols, rows)
	return pty.Setsize(p.ptmx, &pty.Winsize{Cols: uint16(cols), Rows: uint16(rows)})
}

// WriteInput sanitizes agent-originated bytes and writes them to the PTY.
func (p *Proxy) WriteInput(data []byte) (int, error) {
	clean := SanitizeInput(data, p.reporter)
	if len(clean) == 0 {
		return len(data), nil
	}
	if _, err := p.ptmx.Write(clean); err != nil {
		return 0, err
	}
	return len(data), nil
}

// PumpOutput reads shell output until the PTY closes, sanitizing each chunk
// and writing the result to dst. It feeds a copy of the sanitized bytes into
// the shadow terminal so violation reports can carry a cursor-position
// preview. PumpOutput returns when the PTY read fails (typically because the
// child process exited).
func (p *Proxy) PumpOutput(dst io.Writer) error {
	buf := make([]byte, 4096)
	for {
		n, err := p.ptmx.Read(buf)
		if n > 0 {
			clean := SanitizeOutput(buf[:n], p.reporter)
			p.shadow.write(clean)
			if _, werr := dst.Write(clean); werr != nil {
				return werr
			}
		}
		if err != nil {
			return err
		}
	}
}

// Close closes the underlying PTY master. Safe to call more than once.
func (p *Proxy) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.ptmx.Close()
}
