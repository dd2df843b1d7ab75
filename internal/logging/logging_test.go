package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"INFO", zerolog.InfoLevel},
		{"warning", zerolog.WarnLevel},
		{"err", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
	}
	for _, c := range cases {
		if got := ParseLevel(c.in); got != c.want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", c.in, got, c.want)
		}
	}
}

func TestNew_JSONAndLevel(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Options{Level: "warn"})
	l.Info().Msg("hidden")
	l.Warn().Str("event", "ev1").Msg("shown")
	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatalf("info line should be filtered at warn level: %s", out)
	}
	if !strings.Contains(out, `"event":"ev1"`) || !strings.Contains(out, `"level":"warn"`) {
		t.Fatalf("expected structured warn line, got: %s", out)
	}
}

func TestNew_Console(t *testing.T) {
	var buf bytes.Buffer
	l := New(&buf, Options{Level: "debug", Console: true})
	MemorySample(l, "memory")
	out := buf.String()
	if !strings.Contains(out, "memory") || !strings.Contains(out, "heap_alloc_mb=") {
		t.Fatalf("expected console memory sample, got: %s", out)
	}
	if strings.Contains(out, "\x1b[") {
		t.Fatalf("console output should be uncolored: %q", out)
	}
}
