package logging

import (
	"bytes"
	"log/slog"
	"strings"
	"testing"
)

func TestConsoleHandlerRendersComponentPrefix(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	NewComponentLogger(logger, "enrich").Info("fetch complete", Int("fetched", 3))

	line := buf.String()
	if !strings.Contains(line, "INFO enrich: fetch complete") {
		t.Fatalf("unexpected console line: %q", line)
	}
	if !strings.Contains(line, "fetched=3") {
		t.Fatalf("expected attr in console line: %q", line)
	}
}

func TestConsoleHandlerQuotesValuesWithSpaces(t *testing.T) {
	var buf bytes.Buffer
	lvl := new(slog.LevelVar)
	logger := slog.New(newConsoleHandler(&buf, lvl))

	logger.Info("done", String("reason", "rate limited"))

	if !strings.Contains(buf.String(), `reason="rate limited"`) {
		t.Fatalf("expected quoted value, got %q", buf.String())
	}
}

func TestParseLevel(t *testing.T) {
	if parseLevel("debug") != slog.LevelDebug {
		t.Fatal("debug level not parsed")
	}
	if parseLevel("unknown") != slog.LevelInfo {
		t.Fatal("unknown level should default to info")
	}
}

func TestNewNopDiscards(t *testing.T) {
	logger := NewNop()
	logger.Error("should not panic", Error(nil))
}
