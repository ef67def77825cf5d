package position

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/park285/jstockfish-go/internal/chess"
	"github.com/park285/jstockfish-go/internal/chess/score"
	"github.com/park285/jstockfish-go/internal/chess/uci"
)

// EnginePool hands out scratch engines for one variant at a time.
type EnginePool interface {
	Acquire(ctx context.Context, chess960 bool) (*uci.Process, error)
	Release(p *uci.Process, err error)
}

// ScoreCache stores evaluations by Descriptor.Key.
type ScoreCache interface {
	Get(ctx context.Context, key string) (score.Vector, bool, error)
	Put(ctx context.Context, key string, v score.Vector) error
}

type QueryConfig struct {
	Pool  EnginePool
	Cache ScoreCache
	// EvalTimeout bounds a shared evaluation. Zero means 30s.
	EvalTimeout time.Duration
	Logger      *zap.Logger
}

const defaultEvalTimeout = 30 * time.Second

// Query answers stateless questions about descriptors. Every call runs on a
// scratch engine, so it never observes or changes a game in progress.
type Query struct {
	pool    EnginePool
	cache   ScoreCache
	timeout time.Duration
	logger  *zap.Logger
	group   singleflight.Group
}

func NewQuery(cfg QueryConfig) (*Query, error) {
	if cfg.Pool == nil {
		return nil, fmt.Errorf("engine pool required")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	timeout := cfg.EvalTimeout
	if timeout <= 0 {
		timeout = defaultEvalTimeout
	}
	return &Query{pool: cfg.Pool, cache: cfg.Cache, timeout: timeout, logger: logger}, nil
}

// Evaluate returns the score breakdown of d.
func (q *Query) Evaluate(ctx context.Context, d Descriptor) (score.Vector, error) {
	key := d.Key()
	if q.cache != nil {
		v, ok, err := q.cache.Get(ctx, key)
		switch {
		case err != nil:
			q.logger.Warn("score cache get failed", zap.String("key", key), zap.Error(err))
		case ok:
			return v, nil
		}
	}

	ch := q.group.DoChan(key, func() (any, error) {
		// Shared by collapsed callers: detached from the first one's ctx.
		sctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), q.timeout)
		defer cancel()

		var v score.Vector
		err := q.withEngine(sctx, "evaluate", d, func(p *uci.Process) error {
			var err error
			v, err = p.Scores(sctx)
			return err
		})
		if err != nil {
			return nil, err
		}
		if q.cache != nil {
			if err := q.cache.Put(sctx, key, v); err != nil {
				q.logger.Warn("score cache put failed", zap.String("key", key), zap.Error(err))
			}
		}
		return v, nil
	})

	var res singleflight.Result
	select {
	case res = <-ch:
	case <-ctx.Done():
		return score.Vector{}, chess.Fault("evaluate", ctx.Err())
	}
	err := res.Err
	if err != nil {
		if errors.Is(err, chess.ErrInvalidPosition) {
			return score.Vector{}, chess.Fault("evaluate", err)
		}
		return score.Vector{}, err
	}
	if res.Shared {
		q.logger.Debug("evaluation shared", zap.String("key", key))
	}
	return res.Val.(score.Vector), nil
}

// IsLegal reports whether move can be played from d. Malformed input is
// answered with false.
func (q *Query) IsLegal(ctx context.Context, d Descriptor, move string) (bool, error) {
	if !uci.IsMoveSyntax(move) {
		return false, nil
	}
	moves, err := q.LegalMoves(ctx, d)
	if errors.Is(err, chess.ErrInvalidPosition) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return slices.Contains(moves, move), nil
}

// LegalMoves lists the engine's legal moves for d.
func (q *Query) LegalMoves(ctx context.Context, d Descriptor) ([]string, error) {
	var moves []string
	err := q.withEngine(ctx, "legal", d, func(p *uci.Process) error {
		var err error
		moves, err = p.LegalMoves(ctx)
		return err
	})
	return moves, err
}

func (q *Query) ToFEN(ctx context.Context, d Descriptor) (string, error) {
	var fen string
	err := q.withEngine(ctx, "fen", d, func(p *uci.Process) error {
		var err error
		fen, err = p.FEN(ctx)
		return err
	})
	return fen, err
}

// State classifies d; descriptors that cannot be resolved are Undetermined.
func (q *Query) State(ctx context.Context, d Descriptor) (State, error) {
	var ord int
	err := q.withEngine(ctx, "state", d, func(p *uci.Process) error {
		var err error
		ord, err = p.StateOrdinal(ctx)
		return err
	})
	if errors.Is(err, chess.ErrInvalidPosition) {
		return Undetermined, nil
	}
	if err != nil {
		return Undetermined, err
	}
	return StateFromOrdinal(ord)
}

// Resolve reports whether d names a reachable position: the start position
// parses and every move is legal in turn.
func (q *Query) Resolve(ctx context.Context, d Descriptor) (bool, error) {
	p, err := d.parse()
	if err != nil {
		return false, nil
	}
	if !d.Chess960 {
		_, err := replayStandard(p)
		return err == nil, nil
	}

	var ok bool
	err = q.acquire(ctx, "resolve", true, func(proc *uci.Process) error {
		var err error
		ok, err = replayOnEngine(ctx, proc, p)
		return err
	})
	return ok, err
}

// withEngine resolves d, loads it on a scratch engine and runs fn. An
// unresolvable descriptor fails with ErrInvalidPosition.
func (q *Query) withEngine(ctx context.Context, op string, d Descriptor, fn func(p *uci.Process) error) error {
	p, err := d.parse()
	if err != nil {
		return err
	}
	if !d.Chess960 {
		if _, err := replayStandard(p); err != nil {
			return chess.InvalidPosition(op, err)
		}
	}

	return q.acquire(ctx, op, d.Chess960, func(proc *uci.Process) error {
		if d.Chess960 {
			ok, err := replayOnEngine(ctx, proc, p)
			if err != nil {
				return err
			}
			if !ok {
				return chess.InvalidPosition(op, fmt.Errorf("illegal move sequence in %q", p.command()))
			}
		}
		if err := proc.SetPosition(ctx, p.command()); err != nil {
			return err
		}
		return fn(proc)
	})
}

func (q *Query) acquire(ctx context.Context, op string, chess960 bool, fn func(p *uci.Process) error) error {
	proc, err := q.pool.Acquire(ctx, chess960)
	if err != nil {
		return chess.Fault(op, err)
	}
	err = fn(proc)
	if errors.Is(err, chess.ErrEngineFault) {
		q.pool.Release(proc, err)
	} else {
		q.pool.Release(proc, nil)
	}
	return err
}

// replayOnEngine checks each move against the engine's legal move list for
// the preceding position.
func replayOnEngine(ctx context.Context, proc *uci.Process, p parsed) (bool, error) {
	for i := range p.moves {
		if err := proc.SetPosition(ctx, p.prefix(i).command()); err != nil {
			return false, err
		}
		legal, err := proc.LegalMoves(ctx)
		if err != nil {
			return false, err
		}
		if !slices.Contains(legal, p.moves[i]) {
			return false, nil
		}
	}
	return true, nil
}
