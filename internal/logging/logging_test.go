package logging

import (
	"bytes"
	"errors"
	"log/slog"
	"strings"
	"testing"
	"time"
)

func TestTraditionalHandlerFormatsAttrs(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelInfo)).With("run", "r1")

	logger.Info("capture rendered", "capture", "abc")
	logger.Debug("hidden")

	out := buf.String()
	if !strings.Contains(out, "[INFO] capture rendered [run=r1 capture=abc]") {
		t.Fatalf("unexpected output %q", out)
	}
	if strings.Contains(out, "hidden") {
		t.Fatalf("debug record should be filtered: %q", out)
	}
}

func TestTraditionalHandlerGroupsPrefixKeys(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelDebug)).WithGroup("stack")
	logger.Warn("slow", "capture", "x")
	if !strings.Contains(buf.String(), "[WARN] slow [stack.capture=x]") {
		t.Fatalf("unexpected output %q", buf.String())
	}
}

func TestJobHelpers(t *testing.T) {
	var buf bytes.Buffer
	logger := slog.New(NewTraditionalHandler(&buf, slog.LevelDebug))
	LogJobStart(logger, "stack", "j1", "in", "out", nil)
	LogJobComplete(logger, "stack", "j1", time.Second, map[string]any{"status": "rendered"})
	LogJobError(logger, "stack", "j2", time.Second, errors.New("boom"), nil)

	out := buf.String()
	for _, want := range []string{"job started", "job completed", "job failed", "error=boom"} {
		if !strings.Contains(out, want) {
			t.Fatalf("missing %q in %q", want, out)
		}
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]slog.Level{
		"debug":   slog.LevelDebug,
		"WARNING": slog.LevelWarn,
		"error":   slog.LevelError,
		"":        slog.LevelInfo,
	}
	for in, want := range cases {
		if got := parseLevel(in); got != want {
			t.Fatalf("parseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
