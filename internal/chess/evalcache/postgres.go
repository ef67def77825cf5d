package evalcache

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/park285/jstockfish-go/internal/chess/score"
)

// Postgres keeps vectors in the score_cache table.
type Postgres struct {
	db *sql.DB
}

func NewPostgres(db *sql.DB) *Postgres { return &Postgres{db: db} }

func (c *Postgres) EnsureSchema(ctx context.Context) error {
	const stmt = `
		CREATE TABLE IF NOT EXISTS score_cache (
			key        TEXT PRIMARY KEY,
			scores     JSONB NOT NULL,
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
		)`
	if _, err := c.db.ExecContext(ctx, stmt); err != nil {
		return fmt.Errorf("create score_cache: %w", err)
	}
	return nil
}

func (c *Postgres) Get(ctx context.Context, key string) (score.Vector, bool, error) {
	const query = `SELECT scores FROM score_cache WHERE key = $1`
	var raw []byte
	err := c.db.QueryRowContext(ctx, query, key).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return score.Vector{}, false, nil
	}
	if err != nil {
		return score.Vector{}, false, fmt.Errorf("select score_cache: %w", err)
	}
	var v score.Vector
	if err := json.Unmarshal(raw, &v); err != nil {
		return score.Vector{}, false, fmt.Errorf("decode scores: %w", err)
	}
	return v, true, nil
}

func (c *Postgres) Put(ctx context.Context, key string, v score.Vector) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal scores: %w", err)
	}
	const query = `
		INSERT INTO score_cache (key, scores, updated_at)
		VALUES ($1, $2::jsonb, now())
		ON CONFLICT (key) DO UPDATE
		SET scores = EXCLUDED.scores,
			updated_at = EXCLUDED.updated_at`
	if _, err := c.db.ExecContext(ctx, query, key, raw); err != nil {
		return fmt.Errorf("upsert score_cache: %w", err)
	}
	return nil
}

func (c *Postgres) Close() error { return c.db.Close() }
