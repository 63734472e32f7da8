package observability

import (
	"testing"

	"github.com/rs/zerolog"
)

func TestParseLogLevel(t *testing.T) {
	cases := []struct {
		in   string
		want zerolog.Level
	}{
		{"debug", zerolog.DebugLevel},
		{"info", zerolog.InfoLevel},
		{"", zerolog.InfoLevel},
		{"warn", zerolog.WarnLevel},
		{"error", zerolog.ErrorLevel},
		{"bogus", zerolog.InfoLevel},
	}
	for _, c := range cases {
		if got := parseLogLevel(c.in); got != c.want {
			t.Errorf("parseLogLevel(%q) = %s, want %s", c.in, got, c.want)
		}
	}
}

func TestNewLoggerWithLevel(t *testing.T) {
	l := NewLoggerWithLevel("test", zerolog.WarnLevel)
	if l.GetLevel() != zerolog.WarnLevel {
		t.Errorf("level = %s, want warn", l.GetLevel())
	}
}
