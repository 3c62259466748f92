package sanitizer

import (
	"fmt"
	"sync"

	uv "github.com/charmbracelet/ultraviolet"
	"github.com/charmbracelet/x/vt"
)

// shadowScrollbackLines is how many scrolled-off lines a shadowTerminal keeps
// for violation context — enough to show the line(s) around a flagged escape
// sequence without holding an unbounded scrollback like a real terminal does.
const shadowScrollbackLines = 8

// shadowTerminal is a minimal, render-only terminal emulator fed a copy of
// sanitized output. It exists purely to turn an escape sequence into a
// human-readable sequence_preview for violation reports (it never drives a
// real GUI and is not on the hot sanitize path — SanitizeOutput's own
// preview is the one the pure contract returns; the shadow terminal backs
// richer previews when a live proxy is in use).
type shadowTerminal struct {
	mu         sync.Mutex
	emu        *vt.Emulator
	scrollback []string // ring of rendered lines scrolled off the top
	sbHead     int
	sbLen      int
}

func newShadowTerminal(cols, rows int) *shadowTerminal {
	if cols <= 0 {
		cols = 80
	}
	if rows <= 0 {
		rows = 24
	}
	s := &shadowTerminal{
		emu:        vt.NewEmulator(cols, rows),
		scrollback: make([]string, shadowScrollbackLines),
	}
	s.emu.SetCallbacks(vt.Callbacks{
		ScrollOut: func(lines []uv.Line) {
			// mu is already held by write's caller.
			for _, line := range lines {
				s.scrollback[s.sbHead] = line.Render()
				s.sbHead = (s.sbHead + 1) % len(s.scrollback)
				if s.sbLen < len(s.scrollback) {
					s.sbLen++
				}
			}
		},
	})
	return s
}

func (s *shadowTerminal) write(p []byte) {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, _ = s.emu.Write(p)
}

// cursorPreview renders the cursor position at the time of a violation, used
// to give an operator context beyond the raw escape bytes.
func (s *shadowTerminal) cursorPreview() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	pos := s.emu.CursorPosition()
	return fmt.Sprintf("cursor(%d,%d)", pos.X, pos.Y)
}

// scrollbackContext returns the most recently scrolled-off lines, oldest
// first, for attaching to a violation report as surrounding context.
func (s *shadowTerminal) scrollbackContext() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.sbLen == 0 {
		return nil
	}
	out := make([]string, s.sbLen)
	start := (s.sbHead - s.sbLen + len(s.scrollback)) % len(s.scrollback)
	for i := 0; i < s.sbLen; i++ {
		out[i] = s.scrollback[(start+i)%len(s.scrollback)]
	}
	return out
}

func (s *shadowTerminal) resize(cols, rows int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.emu.Resize(cols, rows)
}
