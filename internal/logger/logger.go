// Package logger routes log output to a per-run file. The terminal belongs
// to the live dashboard while the bot runs, so the stdlib log package and
// log/slog both write to the file instead of stdout.
package logger

import (
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"time"
)

// Init creates the log directory, opens a timestamped log file, and points
// both the stdlib logger and slog's default at it. Returns the file so the
// caller can close it on shutdown.
func Init(dir string, level slog.Level) (*os.File, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create log dir: %w", err)
	}

	name := fmt.Sprintf("twicketbot_%s.log", time.Now().Format("20060102_150405"))
	path := filepath.Join(dir, name)
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("open log file: %w", err)
	}

	log.SetOutput(f)
	log.SetFlags(log.LstdFlags | log.Lmicroseconds)

	handler := slog.NewJSONHandler(f, &slog.HandlerOptions{Level: level})
	slog.SetDefault(slog.New(handler).With(slog.String("service", "twicketbot")))

	log.Printf("[logger] logging to %s", path)
	return f, nil
}
