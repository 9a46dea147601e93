package log

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]interface{} {
	t.Helper()
	var out []map[string]interface{}
	for _, line := range strings.Split(strings.TrimSpace(buf.String()), "\n") {
		if line == "" {
			continue
		}
		entry := map[string]interface{}{}
		if err := json.Unmarshal([]byte(line), &entry); err != nil {
			t.Fatalf("invalid json line %q: %v", line, err)
		}
		out = append(out, entry)
	}
	return out
}

func TestLoggerWritesStructuredJSON(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LevelInfo, FormatJSON, &buf)

	logger.Info("hello", map[string]interface{}{"service": "payments", "ticks": 3})

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	if lines[0]["message"] != "hello" || lines[0]["level"] != "INFO" {
		t.Fatalf("unexpected entry: %v", lines[0])
	}
	if lines[0]["service"] != "payments" {
		t.Fatalf("expected service field, got %v", lines[0])
	}
}

func TestLoggerLevelFiltering(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LevelWarn, FormatJSON, &buf)

	logger.Debug("debug", nil)
	logger.Info("info", nil)
	logger.Warn("warn", nil)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["message"] != "warn" {
		t.Fatalf("expected only warn line, got %v", lines)
	}

	logger.SetLevel(LevelDebug)
	logger.Debug("debug again", nil)
	if !strings.Contains(buf.String(), "debug again") {
		t.Fatalf("expected debug line after SetLevel")
	}
}

func TestLogProbeResult(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LevelDebug, FormatJSON, &buf)

	logger.LogProbeResult("payments", "server", false, 2*time.Second, errors.New("connection refused"))

	lines := decodeLines(t, &buf)
	if len(lines) != 1 {
		t.Fatalf("expected 1 line, got %d", len(lines))
	}
	entry := lines[0]
	if entry["level"] != "WARN" || entry["error"] != "connection refused" {
		t.Fatalf("unexpected entry: %v", entry)
	}
	if entry["latency_ms"] != float64(2000) {
		t.Fatalf("expected latency 2000, got %v", entry["latency_ms"])
	}
}

func TestLogErrorAddsComponent(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LevelInfo, FormatJSON, &buf)

	logger.LogError("archiver", errors.New("disk full"), nil)

	lines := decodeLines(t, &buf)
	if lines[0]["component"] != "archiver" || lines[0]["error"] != "disk full" {
		t.Fatalf("unexpected entry: %v", lines[0])
	}
}

func TestNamedLoggerSharesLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := New(LevelError, FormatJSON, &buf)
	child := logger.Named("scheduler")

	child.Info("hidden", nil)
	logger.SetLevel(LevelInfo)
	child.Info("shown", nil)

	lines := decodeLines(t, &buf)
	if len(lines) != 1 || lines[0]["logger"] != "scheduler" {
		t.Fatalf("unexpected lines: %v", lines)
	}
}

func TestParseLevel(t *testing.T) {
	cases := map[string]Level{
		"debug":   LevelDebug,
		"INFO":    LevelInfo,
		"warning": LevelWarn,
		"error":   LevelError,
		"bogus":   LevelInfo,
	}
	for in, want := range cases {
		if got := ParseLevel(in); got != want {
			t.Fatalf("ParseLevel(%q) = %v, want %v", in, got, want)
		}
	}
}
