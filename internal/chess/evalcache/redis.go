package evalcache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/park285/jstockfish-go/internal/chess/score"
)

const (
	defaultTTL = 24 * time.Hour
	keyPrefix  = "eval:"
)

// Redis keeps vectors as JSON strings with a TTL.
type Redis struct {
	rdb *redis.Client
	ttl time.Duration
}

func NewRedis(rdb *redis.Client, ttl time.Duration) *Redis {
	if ttl <= 0 {
		ttl = defaultTTL
	}
	return &Redis{rdb: rdb, ttl: ttl}
}

func (c *Redis) key(k string) string { return keyPrefix + k }

func (c *Redis) Get(ctx context.Context, key string) (score.Vector, bool, error) {
	raw, err := c.rdb.Get(ctx, c.key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return score.Vector{}, false, nil
	}
	if err != nil {
		return score.Vector{}, false, err
	}
	var v score.Vector
	if err := json.Unmarshal(raw, &v); err != nil {
		return score.Vector{}, false, err
	}
	return v, true, nil
}

func (c *Redis) Put(ctx context.Context, key string, v score.Vector) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, c.key(key), raw, c.ttl).Err()
}

func (c *Redis) Close() error { return c.rdb.Close() }
