package claudecode

import (
	"errors"
	"strings"
	"testing"
)

func feedString(t *testing.T, buf *LineBuffer, chunk string) []string {
	t.Helper()
	lines, err := buf.Feed([]byte(chunk))
	if err != nil {
		t.Fatalf("Feed(%q) failed: %v", chunk, err)
	}
	out := make([]string, 0, len(lines))
	for _, line := range lines {
		out = append(out, string(line))
	}
	return out
}

func TestLineBufferCompleteLines(t *testing.T) {
	buf := NewLineBuffer(0)

	lines := feedString(t, buf, "line1\nline2\nline3\n")
	want := []string{"line1", "line2", "line3"}
	if len(lines) != len(want) {
		t.Fatalf("expected %d lines, got %d: %v", len(want), len(lines), lines)
	}
	for i, line := range lines {
		if line != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], line)
		}
	}
	if pending := buf.Pending(); len(pending) != 0 {
		t.Errorf("expected empty leftover, got %q", pending)
	}
}

func TestLineBufferPartialAcrossChunks(t *testing.T) {
	buf := NewLineBuffer(0)

	// A record split mid-token must reassemble exactly.
	if lines := feedString(t, buf, `{"type":"sys`); len(lines) != 0 {
		t.Fatalf("expected no complete lines yet, got %v", lines)
	}
	if pending := buf.Pending(); string(pending) != `{"type":"sys` {
		t.Fatalf("unexpected leftover %q", pending)
	}

	lines := feedString(t, buf, "tem\"}\n{\"type\":")
	if len(lines) != 1 || lines[0] != `{"type":"system"}` {
		t.Fatalf("expected recovered system record, got %v", lines)
	}

	lines = feedString(t, buf, "\"result\"}\n")
	if len(lines) != 1 || lines[0] != `{"type":"result"}` {
		t.Fatalf("expected recovered result record, got %v", lines)
	}
	if pending := buf.Pending(); len(pending) != 0 {
		t.Errorf("expected empty trailing buffer, got %q", pending)
	}
}

func TestLineBufferChunkBoundaryAssociative(t *testing.T) {
	input := `{"a":1}` + "\n" + `{"b":2}` + "\n" + "partial-tail"

	whole := NewLineBuffer(0)
	wantLines := feedString(t, whole, input)
	wantPending := string(whole.Pending())

	// Every split point must produce the same lines and leftover as one call.
	for split := 0; split <= len(input); split++ {
		buf := NewLineBuffer(0)
		got := feedString(t, buf, input[:split])
		got = append(got, feedString(t, buf, input[split:])...)

		if len(got) != len(wantLines) {
			t.Fatalf("split %d: expected %d lines, got %d", split, len(wantLines), len(got))
		}
		for i := range got {
			if got[i] != wantLines[i] {
				t.Errorf("split %d line %d: expected %q, got %q", split, i, wantLines[i], got[i])
			}
		}
		if pending := string(buf.Pending()); pending != wantPending {
			t.Errorf("split %d: expected leftover %q, got %q", split, wantPending, pending)
		}
	}
}

func TestLineBufferBytePerByte(t *testing.T) {
	buf := NewLineBuffer(0)
	input := "alpha\nbeta\ngamma\n"

	var got []string
	for i := 0; i < len(input); i++ {
		got = append(got, feedString(t, buf, input[i:i+1])...)
	}
	want := []string{"alpha", "beta", "gamma"}
	if len(got) != len(want) {
		t.Fatalf("expected %v, got %v", want, got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("line %d: expected %q, got %q", i, want[i], got[i])
		}
	}
}

func TestLineBufferStripsCarriageReturn(t *testing.T) {
	buf := NewLineBuffer(0)
	lines := feedString(t, buf, "one\r\ntwo\n")
	if len(lines) != 2 || lines[0] != "one" || lines[1] != "two" {
		t.Fatalf("expected CR stripped, got %v", lines)
	}
}

func TestLineBufferEmptyLines(t *testing.T) {
	buf := NewLineBuffer(0)
	lines := feedString(t, buf, "a\n\nb\n")
	if len(lines) != 3 {
		t.Fatalf("expected 3 lines including the empty one, got %v", lines)
	}
	if lines[1] != "" {
		t.Errorf("expected empty middle line, got %q", lines[1])
	}
}

func TestLineBufferMaxLineSize(t *testing.T) {
	buf := NewLineBuffer(16)

	if _, err := buf.Feed([]byte(strings.Repeat("x", 17))); !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}

	// Complete lines within the limit still come through before the error.
	buf = NewLineBuffer(16)
	lines, err := buf.Feed([]byte("ok\n" + strings.Repeat("y", 20)))
	if !errors.Is(err, ErrLineTooLong) {
		t.Fatalf("expected ErrLineTooLong, got %v", err)
	}
	if len(lines) != 1 || string(lines[0]) != "ok" {
		t.Errorf("expected the complete line before the overflow, got %v", lines)
	}
}

func TestLineBufferReset(t *testing.T) {
	buf := NewLineBuffer(0)
	feedString(t, buf, "dangling")
	buf.Reset()
	if pending := buf.Pending(); len(pending) != 0 {
		t.Errorf("expected empty buffer after reset, got %q", pending)
	}
}

func TestLineBufferReturnedLinesStayValid(t *testing.T) {
	buf := NewLineBuffer(0)
	first, err := buf.Feed([]byte("hold\npartial"))
	if err != nil {
		t.Fatalf("Feed failed: %v", err)
	}
	feedString(t, buf, "-rest\nmore\n")
	feedString(t, buf, "even-more\n")
	if string(first[0]) != "hold" {
		t.Errorf("line from earlier feed was clobbered: %q", first[0])
	}
}
