package oplog

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func TestNewWritesJSONLines(t *testing.T) {
	var buf bytes.Buffer
	log := New(zerolog.InfoLevel, &buf)
	log.Info().Str("event", "started").Msg("proxy up")

	if !strings.Contains(buf.String(), `"event":"started"`) {
		t.Fatalf("expected structured field in output, got %q", buf.String())
	}
}

func TestRotatingWriterRotatesWhenSizeExceeded(t *testing.T) {
	dir := t.TempDir()
	cfg := &RotationConfig{MaxSize: 10, MaxAge: time.Hour, MaxBackups: 5}
	w, err := NewRotatingWriter(dir, "ops.log", cfg)
	if err != nil {
		t.Fatalf("NewRotatingWriter: %v", err)
	}
	defer w.Close()

	if _, err := w.Write([]byte("0123456789ABCDEF")); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if _, err := w.Write([]byte("next")); err != nil {
		t.Fatalf("Write: %v", err)
	}

	matches, err := filepath.Glob(filepath.Join(dir, "ops.log.*"))
	if err != nil {
		t.Fatalf("Glob: %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("expected exactly one rotated backup file, got %d: %v", len(matches), matches)
	}

	data, err := os.ReadFile(filepath.Join(dir, "ops.log"))
	if err != nil {
		t.Fatalf("read current log: %v", err)
	}
	if string(data) != "next" {
		t.Fatalf("expected current log to contain only post-rotation data, got %q", data)
	}
}

func TestNeedsRotationFalseForMissingFile(t *testing.T) {
	needs, err := needsRotation(filepath.Join(t.TempDir(), "missing.log"), 100)
	if err != nil {
		t.Fatalf("needsRotation: %v", err)
	}
	if needs {
		t.Fatalf("a nonexistent file should never need rotation")
	}
}

func TestNewRotatingCreatesFile(t *testing.T) {
	dir := t.TempDir()
	log, w, err := NewRotating(zerolog.InfoLevel, dir, "ops.log", nil)
	if err != nil {
		t.Fatalf("NewRotating: %v", err)
	}
	defer w.Close()

	log.Info().Msg("hello")

	data, err := os.ReadFile(dir + "/ops.log")
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") {
		t.Fatalf("expected log line to be written, got %q", data)
	}
}
