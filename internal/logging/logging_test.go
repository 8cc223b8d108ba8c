package logging

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLogWriterTeesToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "marketwatch.log")
	var stdout bytes.Buffer

	w, err := logWriter(Config{File: path}, &stdout)
	if err != nil {
		t.Fatalf("open log file: %v", err)
	}
	if _, err := w.Write([]byte(`{"level":"info","message":"hello"}` + "\n")); err != nil {
		t.Fatalf("write: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if !strings.Contains(string(data), "hello") || !strings.Contains(stdout.String(), "hello") {
		t.Fatalf("log line should reach both outputs: file=%q stdout=%q", data, stdout.String())
	}
}

func TestLogWriterBadFileFallsBack(t *testing.T) {
	var stdout bytes.Buffer
	w, err := logWriter(Config{File: filepath.Join(t.TempDir(), "missing", "x.log")}, &stdout)
	if err == nil {
		t.Fatal("unwritable path should report an error")
	}
	if w != &stdout {
		t.Fatal("writer should fall back to stdout")
	}
}

func TestNewLoggerLevel(t *testing.T) {
	logger := NewLogger(Config{Level: "warn"})
	if logger.GetLevel().String() != "warn" {
		t.Fatalf("unexpected level %s", logger.GetLevel())
	}
	logger = NewLogger(Config{Level: "nonsense"})
	if logger.GetLevel().String() != "info" {
		t.Fatalf("invalid level should default to info, got %s", logger.GetLevel())
	}
}
