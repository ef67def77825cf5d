package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	yaml "gopkg.in/yaml.v3"
)

// EngineOption is applied to every engine right after its handshake.
type EngineOption struct {
	Name  string `yaml:"name"`
	Value string `yaml:"value"`
}

type AppConfig struct {
	StockfishPath    string         `yaml:"stockfish_path"`
	EngineArgs       []string       `yaml:"engine_args"`
	EngineOptions    []EngineOption `yaml:"engine_options"`
	ScoreSource      string         `yaml:"score_source"`
	ScratchCapacity  int            `yaml:"scratch_capacity"`
	RequestTimeoutMS int            `yaml:"request_timeout_ms"`

	HTTPAddr   string `yaml:"http_addr"`
	RelayWSURL string `yaml:"relay_ws_url"`

	EvalCache       string `yaml:"eval_cache"`
	EvalCacheSize   int    `yaml:"eval_cache_size"`
	EvalCacheTTLSec int    `yaml:"eval_cache_ttl_sec"`
	RedisURL        string `yaml:"redis_url"`
	DatabaseURL     string `yaml:"database_url"`

	ConfigFile string `yaml:"-"`
}

func (c *AppConfig) RequestTimeout() time.Duration {
	return time.Duration(c.RequestTimeoutMS) * time.Millisecond
}

func (c *AppConfig) EvalCacheTTL() time.Duration {
	return time.Duration(c.EvalCacheTTLSec) * time.Second
}

// Load reads the environment, then overlays CONFIG_FILE when it is set.
func Load() (*AppConfig, error) {
	cfg := &AppConfig{
		ScoreSource:      "extension",
		RequestTimeoutMS: 4000,
		HTTPAddr:         ":8080",
		EvalCache:        "memory",
		EvalCacheSize:    4096,
		EvalCacheTTLSec:  86400,
	}

	cfg.StockfishPath = strings.TrimSpace(os.Getenv("STOCKFISH_PATH"))
	if v := strings.TrimSpace(os.Getenv("ENGINE_ARGS")); v != "" {
		cfg.EngineArgs = strings.Fields(v)
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_SCORE_SOURCE")); v != "" {
		cfg.ScoreSource = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_SCRATCH_CAPACITY")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.ScratchCapacity = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("ENGINE_REQUEST_TIMEOUT_MS")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.RequestTimeoutMS = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("HTTP_ADDR")); v != "" {
		cfg.HTTPAddr = v
	}
	cfg.RelayWSURL = strings.TrimSpace(os.Getenv("RELAY_WS_URL"))

	if v := strings.TrimSpace(os.Getenv("EVAL_CACHE")); v != "" {
		cfg.EvalCache = strings.ToLower(v)
	}
	if v := strings.TrimSpace(os.Getenv("EVAL_CACHE_SIZE")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EvalCacheSize = n
		}
	}
	if v := strings.TrimSpace(os.Getenv("EVAL_CACHE_TTL_SEC")); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.EvalCacheTTLSec = n
		}
	}
	cfg.RedisURL = strings.TrimSpace(os.Getenv("REDIS_URL"))
	cfg.DatabaseURL = strings.TrimSpace(os.Getenv("DATABASE_URL"))

	cfg.ConfigFile = strings.TrimSpace(os.Getenv("CONFIG_FILE"))
	if cfg.ConfigFile != "" {
		if err := cfg.overlay(cfg.ConfigFile); err != nil {
			return nil, err
		}
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// overlay replaces every field the YAML file sets.
func (c *AppConfig) overlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func (c *AppConfig) validate() error {
	if c.StockfishPath == "" {
		return errors.New("STOCKFISH_PATH is required")
	}
	switch c.ScoreSource {
	case "extension", "trace":
	default:
		return fmt.Errorf("ENGINE_SCORE_SOURCE must be extension or trace, got %q", c.ScoreSource)
	}
	switch c.EvalCache {
	case "none", "memory":
	case "redis":
		if c.RedisURL == "" {
			return errors.New("REDIS_URL is required when EVAL_CACHE=redis")
		}
	case "postgres":
		if c.DatabaseURL == "" {
			return errors.New("DATABASE_URL is required when EVAL_CACHE=postgres")
		}
	default:
		return fmt.Errorf("unknown EVAL_CACHE %q", c.EvalCache)
	}
	for _, opt := range c.EngineOptions {
		if strings.TrimSpace(opt.Name) == "" {
			return errors.New("engine option without a name")
		}
	}
	if c.RequestTimeoutMS <= 0 {
		return errors.New("request timeout must be positive")
	}
	return nil
}
