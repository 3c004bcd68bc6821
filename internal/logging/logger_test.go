package logging

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestLogger_WritesJSONToFile(t *testing.T) {
	l := &Logger{enabled: true, console: false}
	path := filepath.Join(t.TempDir(), "predict.log")
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput failed: %v", err)
	}
	defer l.Close()

	l.Log(&PredictLog{RequestID: "req-1", Model: "digits", Transport: "http", DurationMs: 12, Success: true})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}

	var entry PredictLog
	if err := json.Unmarshal(data[:len(data)-1], &entry); err != nil {
		t.Fatalf("decode logged entry: %v", err)
	}
	if entry.RequestID != "req-1" || entry.Model != "digits" {
		t.Fatalf("unexpected logged entry: %+v", entry)
	}
}

func TestLogger_DisabledSkipsWrites(t *testing.T) {
	l := &Logger{enabled: false, console: false}
	path := filepath.Join(t.TempDir(), "predict.log")
	if err := l.SetOutput(path); err != nil {
		t.Fatalf("SetOutput failed: %v", err)
	}
	defer l.Close()

	l.Log(&PredictLog{RequestID: "req-1"})

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	if len(data) != 0 {
		t.Fatalf("expected a disabled logger to write nothing, got %q", data)
	}
}

func TestDefault_ReturnsSharedLogger(t *testing.T) {
	if Default() != Default() {
		t.Fatal("expected Default to always return the same logger instance")
	}
}
