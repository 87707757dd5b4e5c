package log

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"sync"
	"testing"
)

func TestSetup(t *testing.T) {
	// Reset logger for testing
	logger = nil
	once = *new(sync.Once)

	Setup("DEBUG", "json")
	if logger == nil {
		t.Fatal("Logger should not be nil")
	}
	if !logger.Enabled(context.Background(), slog.LevelDebug) {
		t.Error("Expected DEBUG to be enabled")
	}
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	if got := parseLevel("bogus"); got != slog.LevelInfo {
		t.Errorf("Expected INFO, got %v", got)
	}
	if got := parseLevel("warn"); got != slog.LevelWarn {
		t.Errorf("Expected WARN, got %v", got)
	}
}

func decodeLine(t *testing.T, buf *bytes.Buffer) map[string]any {
	t.Helper()
	var out map[string]any
	if err := json.Unmarshal(buf.Bytes(), &out); err != nil {
		t.Fatalf("Failed to decode JSON: %v", err)
	}
	return out
}

func TestContextHelpers(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "info", "json")

	WithComponent("test-comp").Info("hello")

	out := decodeLine(t, &buf)
	if out["component"] != "test-comp" {
		t.Errorf("Expected component 'test-comp', got %v", out["component"])
	}
	if out["msg"] != "hello" {
		t.Errorf("Expected msg 'hello', got %v", out["msg"])
	}
}

func TestWithPipeline(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "info", "json")

	WithPipeline(0xABCD).Info("pipeline msg")

	out := decodeLine(t, &buf)
	if out["pipeline_hash"] != "0x000000000000ABCD" {
		t.Errorf("Expected pipeline_hash '0x000000000000ABCD', got %v", out["pipeline_hash"])
	}
}

func TestWithBuildAndStage(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "info", "json")

	WithBuild("build-123").Info("build msg")
	out := decodeLine(t, &buf)
	if out["build_id"] != "build-123" {
		t.Errorf("Expected build_id 'build-123', got %v", out["build_id"])
	}

	buf.Reset()
	WithStage("vertex").Info("stage msg")
	out = decodeLine(t, &buf)
	if out["stage"] != "vertex" {
		t.Errorf("Expected stage 'vertex', got %v", out["stage"])
	}
}

func TestTextFormat(t *testing.T) {
	var buf bytes.Buffer
	SetOutput(&buf, "info", "text")

	Info("plain", "k", "v")
	if !strings.Contains(buf.String(), "k=v") {
		t.Errorf("Expected text output with k=v, got %q", buf.String())
	}
}
