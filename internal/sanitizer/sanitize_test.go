package sanitizer

import "testing"

type recorder struct {
	violations []Violation
}

func (r *recorder) Report(v Violation) {
	r.violations = append(r.violations, v)
}

func TestSanitizeOutputOSC52ReadBlocked(t *testing.T) {
	// ESC ] 5 2 ; ; ? BEL a f t e r
	input := []byte{0x1B, ']', '5', '2', ';', ';', '?', 0x07, 'a', 'f', 't', 'e', 'r'}
	rec := &recorder{}
	got := SanitizeOutput(input, rec)
	if string(got) != "after" {
		t.Errorf("output = %q, want %q", got, "after")
	}
	if len(rec.violations) != 1 {
		t.Fatalf("violations = %d, want 1", len(rec.violations))
	}
	v := rec.violations[0]
	if v.Reason != "OSC 52 read blocked" {
		t.Errorf("reason = %q, want %q", v.Reason, "OSC 52 read blocked")
	}
	if v.Direction != DirectionOutput {
		t.Errorf("direction = %q, want %q", v.Direction, DirectionOutput)
	}
	if v.SequenceLen != 8 {
		t.Errorf("sequence_len = %d, want 8", v.SequenceLen)
	}
}

func TestSanitizeOutputOSC133PromptPasses(t *testing.T) {
	input := []byte{0x1B, ']', '1', '3', '3', ';', 'A', 0x07}
	input = append(input, []byte(" prompt")...)
	rec := &recorder{}
	got := SanitizeOutput(input, rec)
	if string(got) != string(input) {
		t.Errorf("output = %q, want input unchanged %q", got, input)
	}
	if len(rec.violations) != 0 {
		t.Errorf("violations = %v, want none", rec.violations)
	}
}

func TestSanitizeOutputMaskPreservesLiteralBytes(t *testing.T) {
	input := []byte("no escapes here, just plain text 123")
	got := SanitizeOutput(input, NopReporter)
	if string(got) != string(input) {
		t.Errorf("output = %q, want %q", got, input)
	}
}

func TestSanitizeOutputCSIPassesThrough(t *testing.T) {
	input := []byte("\x1b[31mred\x1b[0m")
	rec := &recorder{}
	got := SanitizeOutput(input, rec)
	if string(got) != string(input) {
		t.Errorf("output = %q, want unchanged %q", got, input)
	}
	if len(rec.violations) != 0 {
		t.Errorf("violations = %v, want none", rec.violations)
	}
}

func TestSanitizeOutputNonAllowlistedOSCFiltered(t *testing.T) {
	input := []byte("\x1b]99;payload\x07after")
	rec := &recorder{}
	got := SanitizeOutput(input, rec)
	if string(got) != "after" {
		t.Errorf("output = %q, want %q", got, "after")
	}
	if len(rec.violations) != 1 || rec.violations[0].Reason != "OSC code not allowed" {
		t.Errorf("violations = %v, want one OSC code not allowed", rec.violations)
	}
}

func TestSanitizeOutputTruncatedEscapeAtEnd(t *testing.T) {
	input := []byte("abc\x1b")
	rec := &recorder{}
	got := SanitizeOutput(input, rec)
	if string(got) != "abc" {
		t.Errorf("output = %q, want %q", got, "abc")
	}
	if len(rec.violations) != 1 || rec.violations[0].Reason != "invalid escape" {
		t.Errorf("violations = %v, want one invalid escape", rec.violations)
	}
}

func TestSanitizeOutputIdempotent(t *testing.T) {
	input := []byte("\x1b]52;;?\x07after\x1b[31mred\x1b[0m\x1b]99;x\x07")
	once := SanitizeOutput(input, NopReporter)
	twice := SanitizeOutput(once, NopReporter)
	if string(once) != string(twice) {
		t.Errorf("sanitize not idempotent: %q != %q", once, twice)
	}
}

func TestSanitizeInputDropsControlBytesButKeepsESC(t *testing.T) {
	input := []byte{0x01, 0x1B, 'a', 0x1F, 'b'}
	rec := &recorder{}
	got := SanitizeInput(input, rec)
	if string(got) != "\x1bab" {
		t.Errorf("output = %q, want %q", got, "\x1bab")
	}
	if len(rec.violations) != 2 {
		t.Fatalf("violations = %d, want 2", len(rec.violations))
	}
	for _, v := range rec.violations {
		if v.Reason != "control character filtered" {
			t.Errorf("reason = %q, want %q", v.Reason, "control character filtered")
		}
		if v.Direction != DirectionInput {
			t.Errorf("direction = %q, want %q", v.Direction, DirectionInput)
		}
	}
}

func TestSanitizeInputIdempotent(t *testing.T) {
	input := []byte{0x01, 0x1B, 'a', 0x7F, 0x0B}
	once := SanitizeInput(input, NopReporter)
	twice := SanitizeInput(once, NopReporter)
	if string(once) != string(twice) {
		t.Errorf("sanitize not idempotent: %q != %q", once, twice)
	}
}
