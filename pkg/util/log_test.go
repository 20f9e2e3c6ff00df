package util

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestNewLoggerLevels(t *testing.T) {
	if _, err := NewLogger("debug"); err != nil {
		t.Fatalf("debug level: %v", err)
	}
	if _, err := NewLogger("loud"); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestNewLoggerWithFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "node.log")
	logger, err := NewLoggerWithFile(path, "warn")
	if err != nil {
		t.Fatal(err)
	}
	logger.Info("dropped")
	logger.Warn("kept")
	_ = logger.Sync()

	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	out := string(b)
	if strings.Contains(out, "dropped") || !strings.Contains(out, "kept") {
		t.Fatalf("unexpected log contents: %s", out)
	}
}

func TestStepClock(t *testing.T) {
	start := time.Unix(1700000000, 0)
	c := NewStepClock(start, time.Second)
	if got := c.Now(); !got.Equal(start) {
		t.Fatalf("first tick = %v, want %v", got, start)
	}
	if got := c.Now(); !got.Equal(start.Add(time.Second)) {
		t.Fatalf("second tick = %v", got)
	}
}
