package logger

import (
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestInit_WritesToTimestampedFile(t *testing.T) {
	dir := t.TempDir()

	f, err := Init(dir, slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	defer func() {
		log.SetOutput(os.Stderr)
		f.Close()
	}()

	log.Printf("[test] hello from the stdlib logger")
	slog.Info("hello from slog", "cycle", 1)

	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(entries) != 1 {
		t.Fatalf("log dir holds %d files, want 1", len(entries))
	}
	name := entries[0].Name()
	if !strings.HasPrefix(name, "twicketbot_") || !strings.HasSuffix(name, ".log") {
		t.Errorf("log file name = %q", name)
	}

	data, err := os.ReadFile(filepath.Join(dir, name))
	if err != nil {
		t.Fatal(err)
	}
	out := string(data)
	if !strings.Contains(out, "hello from the stdlib logger") {
		t.Error("stdlib log line missing from file")
	}
	if !strings.Contains(out, `"msg":"hello from slog"`) {
		t.Error("slog JSON line missing from file")
	}
}

func TestInit_CreatesNestedDir(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "a", "b")
	f, err := Init(dir, slog.LevelInfo)
	if err != nil {
		t.Fatal(err)
	}
	log.SetOutput(os.Stderr)
	f.Close()

	if _, err := os.Stat(dir); err != nil {
		t.Errorf("log dir not created: %v", err)
	}
}
