package obslog

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

func TestNewWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sfctl.log")
	logger, err := New(Options{Level: zapcore.InfoLevel, Format: "json", File: path})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	logger.Debug("hidden")
	logger.Info("search finished", zap.String("best", "e2e4"))
	_ = logger.Sync()

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(raw)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one entry, got %q", raw)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("decode entry: %v", err)
	}
	if entry["msg"] != "search finished" || entry["best"] != "e2e4" || entry["level"] != "info" {
		t.Fatalf("entry %v", entry)
	}
}

func TestNewWithoutSinksIsNop(t *testing.T) {
	logger, err := New(Options{})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if logger.Core().Enabled(zapcore.ErrorLevel) {
		t.Fatalf("expected a no-op logger")
	}
}

func TestOptionsFromEnv(t *testing.T) {
	t.Setenv("LOG_LEVEL", "debug")
	t.Setenv("LOG_FORMAT", "JSON")
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("LOG_TO_FILE", "true")
	t.Setenv("LOG_FILE", "/tmp/x.log")
	t.Setenv("LOG_CALLER", "")

	opts := OptionsFromEnv()
	if opts.Level != zapcore.DebugLevel || opts.Format != "json" || opts.Console || opts.File != "/tmp/x.log" || opts.Caller {
		t.Fatalf("options %+v", opts)
	}
}

func TestInitFromEnvReplacesGlobal(t *testing.T) {
	t.Setenv("LOG_TO_CONSOLE", "false")
	t.Setenv("LOG_TO_FILE", "true")
	t.Setenv("LOG_FILE", filepath.Join(t.TempDir(), "global.log"))

	logger, err := InitFromEnv()
	if err != nil {
		t.Fatalf("InitFromEnv: %v", err)
	}
	if L() != logger {
		t.Fatalf("global logger not replaced")
	}
}
