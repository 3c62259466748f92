// Package sanitizer filters PTY byte streams in both directions so that
// malicious escape sequences cannot exfiltrate data or drive the terminal
// out-of-band, while still passing normal cursor/color/prompt-marker control
// through.
package sanitizer

import "time"

// Direction identifies which side of the PTY a byte stream came from.
type Direction string

const (
	DirectionInput  Direction = "input"
	DirectionOutput Direction = "output"
)

// Violation records one dropped or flagged sequence.
type Violation struct {
	Direction       Direction `json:"direction"`
	Reason          string    `json:"reason"`
	SequencePreview string    `json:"sequence_preview"`
	SequenceLen     int       `json:"sequence_len"`
	OccurredAt      time.Time `json:"occurred_at"`
}

// Reporter receives a Violation for every dropped or flagged sequence.
// Implementations must not block the sanitizer's calling goroutine for long;
// the reporter pipeline (internal/reporter) is the intended consumer and
// itself never blocks a producer.
type Reporter interface {
	Report(v Violation)
}

// ReporterFunc adapts a plain function to Reporter.
type ReporterFunc func(v Violation)

func (f ReporterFunc) Report(v Violation) { f(v) }

// NopReporter discards every violation. Useful for tests and for callers
// that only want the sanitized bytes.
var NopReporter Reporter = ReporterFunc(func(Violation) {})
