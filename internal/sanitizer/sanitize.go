package sanitizer

import (
	"strconv"
	"time"
)

// MaxOSC52Payload is the largest OSC 52 (clipboard) payload the sanitizer
// lets through before filtering it as oversized.
const MaxOSC52Payload = 8 * 1024

var oscAllowlist = map[int]bool{
	0:    true,
	2:    true,
	4:    true,
	8:    true,
	52:   true,
	133:  true,
	1337: true,
}

const (
	esc = 0x1B
	bel = 0x07
)

// SanitizeInput drops control bytes that could drive the terminal
// out-of-band while preserving ESC (0x1B always passes, since input-side
// escape sequences are key sequences the shell itself interprets).
func SanitizeInput(data []byte, r Reporter) []byte {
	if r == nil {
		r = NopReporter
	}
	out := make([]byte, 0, len(data))
	for i, b := range data {
		if isFilteredControlByte(b) {
			report(r, DirectionInput, "control character filtered", data[i:i+1])
			continue
		}
		out = append(out, b)
	}
	return out
}

func isFilteredControlByte(b byte) bool {
	if b == esc {
		return false
	}
	if b <= 0x08 {
		return true
	}
	if b >= 0x0B && b <= 0x0C {
		return true
	}
	if b >= 0x0E && b <= 0x1F {
		return true
	}
	return false
}

// SanitizeOutput scans a host-to-terminal byte stream, passing literal bytes
// through unchanged and filtering escape sequences against an allowlist.
// It never blocks waiting for more bytes: a sequence truncated at the end of
// data is consumed and reported as a single "invalid escape" violation.
func SanitizeOutput(data []byte, r Reporter) []byte {
	if r == nil {
		r = NopReporter
	}
	out := make([]byte, 0, len(data))
	n := len(data)
	i := 0
	for i < n {
		b := data[i]
		if b != esc {
			out = append(out, b)
			i++
			continue
		}

		if i+1 >= n {
			report(r, DirectionOutput, "invalid escape", data[i:n])
			i = n
			break
		}

		switch next := data[i+1]; {
		case next == '[':
			end, ok := findFinalByte(data, i+2)
			if !ok {
				report(r, DirectionOutput, "invalid escape", data[i:n])
				i = n
				continue
			}
			out = append(out, data[i:end+1]...)
			i = end + 1

		case next == ']':
			end, allowed, reason := parseOSC(data, i)
			if end < 0 {
				report(r, DirectionOutput, "invalid escape", data[i:n])
				i = n
				continue
			}
			if allowed {
				out = append(out, data[i:end]...)
			} else {
				report(r, DirectionOutput, reason, data[i:end])
			}
			i = end

		case next == 'P' || next == '^' || next == '_':
			end, ok := findTerminator(data, i+2)
			if !ok {
				report(r, DirectionOutput, "invalid escape", data[i:n])
				i = n
				continue
			}
			out = append(out, data[i:end]...)
			i = end

		case next == '(' || next == ')' || next == '*' || next == '+' || next == '-' || next == '.':
			if i+2 >= n {
				report(r, DirectionOutput, "invalid escape", data[i:n])
				i = n
				continue
			}
			out = append(out, data[i:i+3]...)
			i += 3

		default:
			out = append(out, data[i:i+2]...)
			i += 2
		}
	}
	return out
}

// findFinalByte scans from start for the CSI final byte (0x40-0x7E),
// returning its index. ok is false if the buffer ends first.
func findFinalByte(data []byte, start int) (end int, ok bool) {
	for j := start; j < len(data); j++ {
		if data[j] >= 0x40 && data[j] <= 0x7E {
			return j, true
		}
	}
	return -1, false
}

// findTerminator scans from start for a DCS/PM/APC/OSC terminator: BEL, or
// ESC '\' (the 7-bit ST form). Returns the index just past the terminator.
func findTerminator(data []byte, start int) (end int, ok bool) {
	for j := start; j < len(data); j++ {
		if data[j] == bel {
			return j + 1, true
		}
		if data[j] == esc && j+1 < len(data) && data[j+1] == '\\' {
			return j + 2, true
		}
	}
	return -1, false
}

// parseOSC parses an "ESC ] code ; payload TERMINATOR" sequence starting at
// data[i] (data[i]==ESC, data[i+1]==']'). Returns the index just past the
// whole sequence (or -1 if truncated), whether it is allowed, and the
// filter reason when not.
func parseOSC(data []byte, i int) (end int, allowed bool, reason string) {
	n := len(data)
	semicolon := -1
	termStart, termEnd := -1, -1
	for j := i + 2; j < n; j++ {
		if data[j] == ';' && semicolon == -1 {
			semicolon = j
		}
		if data[j] == bel {
			termStart, termEnd = j, j+1
			break
		}
		if data[j] == esc && j+1 < n && data[j+1] == '\\' {
			termStart, termEnd = j, j+2
			break
		}
	}
	if termEnd < 0 {
		return -1, false, ""
	}
	if semicolon == -1 || semicolon > termStart {
		return termEnd, false, "invalid OSC code"
	}

	codeBytes := data[i+2 : semicolon]
	if len(codeBytes) == 0 || !allDigits(codeBytes) {
		return termEnd, false, "non-numeric OSC code"
	}
	code, err := strconv.Atoi(string(codeBytes))
	if err != nil {
		return termEnd, false, "invalid OSC code"
	}
	if !oscAllowlist[code] {
		return termEnd, false, "OSC code not allowed"
	}

	payload := data[semicolon+1 : termStart]
	if code == 52 {
		if containsByte(payload, '?') {
			return termEnd, false, "OSC 52 read blocked"
		}
		if len(payload) > MaxOSC52Payload {
			return termEnd, false, "OSC 52 payload too large"
		}
	}
	return termEnd, true, ""
}

func allDigits(b []byte) bool {
	for _, c := range b {
		if c < '0' || c > '9' {
			return false
		}
	}
	return true
}

func containsByte(b []byte, target byte) bool {
	for _, c := range b {
		if c == target {
			return true
		}
	}
	return false
}

func report(r Reporter, dir Direction, reason string, seq []byte) {
	r.Report(Violation{
		Direction:       dir,
		Reason:          reason,
		SequencePreview: strconv.QuoteToASCII(string(seq)),
		SequenceLen:     len(seq),
		OccurredAt:      time.Now().UTC(),
	})
}
