// Package evalcache stores score vectors keyed by position descriptor.
package evalcache

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/lib/pq"
	"github.com/redis/go-redis/v9"

	"github.com/park285/jstockfish-go/internal/chess/score"
)

type Cache interface {
	Get(ctx context.Context, key string) (score.Vector, bool, error)
	Put(ctx context.Context, key string, v score.Vector) error
	Close() error
}

type Kind string

const (
	KindNone     Kind = "none"
	KindMemory   Kind = "memory"
	KindRedis    Kind = "redis"
	KindPostgres Kind = "postgres"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case "", KindNone:
		return KindNone, nil
	case KindMemory, KindRedis, KindPostgres:
		return k, nil
	default:
		return "", fmt.Errorf("unknown eval cache kind %q", s)
	}
}

type Config struct {
	Kind        Kind
	Size        int
	TTL         time.Duration
	RedisURL    string
	DatabaseURL string
}

// Open builds the configured backend. KindNone returns a nil Cache.
func Open(ctx context.Context, cfg Config) (Cache, error) {
	kind, err := ParseKind(string(cfg.Kind))
	if err != nil {
		return nil, err
	}
	switch kind {
	case KindMemory:
		return NewMemory(cfg.Size), nil
	case KindRedis:
		if strings.TrimSpace(cfg.RedisURL) == "" {
			return nil, fmt.Errorf("redis eval cache requires REDIS_URL")
		}
		opts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		rdb := redis.NewClient(opts)
		if err := rdb.Ping(ctx).Err(); err != nil {
			_ = rdb.Close()
			return nil, fmt.Errorf("ping redis: %w", err)
		}
		return NewRedis(rdb, cfg.TTL), nil
	case KindPostgres:
		if strings.TrimSpace(cfg.DatabaseURL) == "" {
			return nil, fmt.Errorf("postgres eval cache requires DATABASE_URL")
		}
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open postgres: %w", err)
		}
		if err := db.PingContext(ctx); err != nil {
			_ = db.Close()
			return nil, fmt.Errorf("ping postgres: %w", err)
		}
		pg := NewPostgres(db)
		if err := pg.EnsureSchema(ctx); err != nil {
			_ = db.Close()
			return nil, err
		}
		return pg, nil
	default:
		return nil, nil
	}
}
