package logging

import (
	"bytes"
	"strings"
	"testing"

	"github.com/rs/zerolog"
)

func captureLogger(t *testing.T, level zerolog.Level) *bytes.Buffer {
	t.Helper()
	var buf bytes.Buffer
	Apply(Config{
		Level:     level,
		Timestamp: false,
		NoColor:   true,
		Writer:    &buf,
	})
	t.Cleanup(func() { Apply(DefaultConfig()) })
	return &buf
}

func TestLevelHelpersEmit(t *testing.T) {
	buf := captureLogger(t, zerolog.TraceLevel)

	Tracef("trace line %d", 1)
	Debugf("debug line %d", 2)
	Infof("info line %d", 3)
	Warnf("warn line %d", 4)
	Errorf("error line %d", 5)

	out := buf.String()
	for _, want := range []string{"trace line 1", "debug line 2", "info line 3", "warn line 4", "error line 5"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in output:\n%s", want, out)
		}
	}
}

func TestLevelHelpersRespectThreshold(t *testing.T) {
	buf := captureLogger(t, zerolog.WarnLevel)

	Infof("quiet line")
	Warnf("loud line")

	out := buf.String()
	if strings.Contains(out, "quiet line") {
		t.Fatalf("info emitted below threshold:\n%s", out)
	}
	if !strings.Contains(out, "loud line") {
		t.Fatalf("warn suppressed:\n%s", out)
	}
}

func TestParseLevelAliases(t *testing.T) {
	cases := []struct {
		raw   string
		level zerolog.Level
		ok    bool
	}{
		{"debug", zerolog.DebugLevel, true},
		{"WARNING", zerolog.WarnLevel, true},
		{"off", zerolog.Disabled, true},
		{"", zerolog.InfoLevel, false},
		{"verbose", zerolog.InfoLevel, false},
	}
	for _, tc := range cases {
		level, ok := parseLevel(tc.raw)
		if level != tc.level || ok != tc.ok {
			t.Fatalf("parseLevel(%q) = %v %v, want %v %v", tc.raw, level, ok, tc.level, tc.ok)
		}
	}
}
