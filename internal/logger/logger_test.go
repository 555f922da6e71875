package logger

import (
	"bufio"
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func readEntries(t *testing.T, path string) []map[string]any {
	t.Helper()
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var entries []map[string]any
	sc := bufio.NewScanner(bytes.NewReader(data))
	for sc.Scan() {
		var entry map[string]any
		if err := json.Unmarshal(sc.Bytes(), &entry); err != nil {
			t.Fatalf("log line is not JSON: %q", sc.Text())
		}
		entries = append(entries, entry)
	}
	return entries
}

func TestNewWritesJSONWithJobContext(t *testing.T) {
	path := filepath.Join(t.TempDir(), "logs", "test.log")
	cfg := DefaultConfig()
	cfg.File.Path = path
	cfg.Console = false
	cfg.Level = "trace"

	l, err := New(cfg)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	format := ForFormat(l, "job-1", "gif", "/out/walk_8x8.gif")
	format.Info("Format finished")
	ForFrame(format, 2, 10, "/in/walk_003.png").Trace("Frame encoded")

	entries := readEntries(t, path)
	if len(entries) != 2 {
		t.Fatalf("got %d entries, want 2", len(entries))
	}
	first := entries[0]
	if first["message"] != "Format finished" || first[FieldJob] != "job-1" || first[FieldFormat] != "gif" || first[FieldFile] != "/out/walk_8x8.gif" {
		t.Errorf("entry = %v", first)
	}
	if _, ok := first["timestamp"]; !ok {
		t.Errorf("missing timestamp: %v", first)
	}

	frame := entries[1]
	// JSON numbers decode as float64.
	if frame[FieldFrame] != 3.0 || frame[FieldFrames] != 10.0 || frame[FieldSource] != "/in/walk_003.png" {
		t.Errorf("frame entry = %v", frame)
	}
	if frame[FieldJob] != "job-1" || frame["level"] != "trace" {
		t.Errorf("frame entry lost job context: %v", frame)
	}
}

func TestNewRejectsBadLevel(t *testing.T) {
	cfg := DefaultConfig()
	cfg.File.Path = ""
	cfg.Level = "loud"
	if _, err := New(cfg); err == nil {
		t.Fatal("expected error for unknown level")
	}
}

func TestForJob(t *testing.T) {
	e := ForJob(Discard(), "abc")
	if e.Data[FieldJob] != "abc" {
		t.Fatalf("fields = %v", e.Data)
	}
}
