package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var configEnv = []string{
	"STOCKFISH_PATH", "ENGINE_ARGS", "ENGINE_SCORE_SOURCE", "ENGINE_SCRATCH_CAPACITY",
	"ENGINE_REQUEST_TIMEOUT_MS", "HTTP_ADDR", "RELAY_WS_URL", "EVAL_CACHE", "EVAL_CACHE_SIZE",
	"EVAL_CACHE_TTL_SEC", "REDIS_URL", "DATABASE_URL", "CONFIG_FILE",
}

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range configEnv {
		t.Setenv(k, "")
	}
}

func TestLoadDefaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKFISH_PATH", "/usr/bin/stockfish")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.EvalCache != "memory" || cfg.ScoreSource != "extension" {
		t.Fatalf("unexpected defaults %+v", cfg)
	}
	if cfg.RequestTimeout() != 4*time.Second || cfg.EvalCacheTTL() != 24*time.Hour {
		t.Fatalf("durations %v %v", cfg.RequestTimeout(), cfg.EvalCacheTTL())
	}
}

func TestLoadFromEnv(t *testing.T) {
	clearEnv(t)
	t.Setenv("STOCKFISH_PATH", "/opt/sf")
	t.Setenv("ENGINE_ARGS", "--threads 2")
	t.Setenv("ENGINE_SCORE_SOURCE", "TRACE")
	t.Setenv("ENGINE_SCRATCH_CAPACITY", "3")
	t.Setenv("ENGINE_REQUEST_TIMEOUT_MS", "2500")
	t.Setenv("EVAL_CACHE", "redis")
	t.Setenv("REDIS_URL", "redis://localhost:6379/1")
	t.Setenv("EVAL_CACHE_SIZE", "-5")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if len(cfg.EngineArgs) != 2 || cfg.EngineArgs[1] != "2" {
		t.Fatalf("args %v", cfg.EngineArgs)
	}
	if cfg.ScoreSource != "trace" || cfg.ScratchCapacity != 3 || cfg.RequestTimeoutMS != 2500 {
		t.Fatalf("engine config %+v", cfg)
	}
	if cfg.EvalCacheSize != 4096 {
		t.Fatalf("negative size should keep the default, got %d", cfg.EvalCacheSize)
	}
}

func TestLoadValidation(t *testing.T) {
	cases := map[string]map[string]string{
		"missing path":   {},
		"bad source":     {"STOCKFISH_PATH": "sf", "ENGINE_SCORE_SOURCE": "magic"},
		"unknown cache":  {"STOCKFISH_PATH": "sf", "EVAL_CACHE": "memcached"},
		"redis no url":   {"STOCKFISH_PATH": "sf", "EVAL_CACHE": "redis"},
		"postgres no db": {"STOCKFISH_PATH": "sf", "EVAL_CACHE": "postgres"},
	}
	for name, env := range cases {
		t.Run(name, func(t *testing.T) {
			clearEnv(t)
			for k, v := range env {
				t.Setenv(k, v)
			}
			if _, err := Load(); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestLoadOverlaysYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "sfctl.yaml")
	body := strings.Join([]string{
		"stockfish_path: /from/yaml",
		"http_addr: 127.0.0.1:9000",
		"engine_options:",
		"  - name: Threads",
		"    value: \"4\"",
		"  - name: Hash",
		"    value: \"256\"",
	}, "\n")
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("STOCKFISH_PATH", "/from/env")
	t.Setenv("RELAY_WS_URL", "ws://relay")
	t.Setenv("CONFIG_FILE", path)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.StockfishPath != "/from/yaml" || cfg.HTTPAddr != "127.0.0.1:9000" {
		t.Fatalf("overlay not applied %+v", cfg)
	}
	if cfg.RelayWSURL != "ws://relay" {
		t.Fatalf("env value lost: %q", cfg.RelayWSURL)
	}
	if len(cfg.EngineOptions) != 2 || cfg.EngineOptions[0].Name != "Threads" || cfg.EngineOptions[1].Value != "256" {
		t.Fatalf("engine options %+v", cfg.EngineOptions)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("stockfish_path: [unterminated"), 0o600); err != nil {
		t.Fatalf("write: %v", err)
	}
	t.Setenv("CONFIG_FILE", path)
	if _, err := Load(); err == nil {
		t.Fatalf("expected parse error")
	}
}
