package chessbuilder

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/park285/jstockfish-go/internal/chess/evalcache"
	"github.com/park285/jstockfish-go/internal/chess/output"
	"github.com/park285/jstockfish-go/internal/chess/position"
	"github.com/park285/jstockfish-go/internal/chess/session"
	"github.com/park285/jstockfish-go/internal/chess/uci"
	"github.com/park285/jstockfish-go/internal/config"
)

type Deps struct {
	Session    *session.Session
	Query      *position.Query
	Pool       *uci.Pool
	Cache      evalcache.Cache
	Dispatcher *output.Dispatcher
}

// Close shuts the session engine, the scratch pool and the cache down.
func (d *Deps) Close() error {
	var errs []error
	if d.Session != nil {
		errs = append(errs, d.Session.Close())
	}
	if d.Pool != nil {
		errs = append(errs, d.Pool.Close())
	}
	if d.Cache != nil {
		errs = append(errs, d.Cache.Close())
	}
	return errors.Join(errs...)
}

type options struct {
	factory uci.Factory
	process func(ctx context.Context) (*uci.Process, error)
	out     io.Writer
}

type Option func(*options)

// WithFactory replaces the scratch engine factory.
func WithFactory(f uci.Factory) Option { return func(o *options) { o.factory = f } }

// WithProcess replaces how the session engine is started.
func WithProcess(fn func(ctx context.Context) (*uci.Process, error)) Option {
	return func(o *options) { o.process = fn }
}

// WithOutput sets where search output goes while no listener is installed.
func WithOutput(w io.Writer) Option { return func(o *options) { o.out = w } }

func New(ctx context.Context, cfg *config.AppConfig, logger *zap.Logger, opts ...Option) (*Deps, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	source, err := uci.ParseScoreSource(cfg.ScoreSource)
	if err != nil {
		return nil, err
	}
	engineCfg := uci.Config{
		BinaryPath:     cfg.StockfishPath,
		Args:           cfg.EngineArgs,
		ScoreSource:    source,
		RequestTimeout: cfg.RequestTimeout(),
		Logger:         logger.Named("engine"),
	}
	engineOptions := make(map[string]string, len(cfg.EngineOptions))
	sessionOptions := make([]session.Option, 0, len(cfg.EngineOptions))
	for _, opt := range cfg.EngineOptions {
		engineOptions[opt.Name] = opt.Value
		sessionOptions = append(sessionOptions, session.Option{Name: opt.Name, Value: opt.Value})
	}

	o := options{
		factory: uci.DefaultFactory(engineCfg, engineOptions),
		process: func(ctx context.Context) (*uci.Process, error) { return uci.NewProcess(ctx, engineCfg) },
		out:     os.Stdout,
	}
	for _, apply := range opts {
		apply(&o)
	}

	deps := &Deps{}
	deps.Pool, err = uci.NewPool(uci.PoolConfig{Factory: o.factory, Capacity: cfg.ScratchCapacity})
	if err != nil {
		return nil, fmt.Errorf("init scratch pool: %w", err)
	}

	deps.Cache, err = evalcache.Open(ctx, evalcache.Config{
		Kind:        evalcache.Kind(cfg.EvalCache),
		Size:        cfg.EvalCacheSize,
		TTL:         cfg.EvalCacheTTL(),
		RedisURL:    cfg.RedisURL,
		DatabaseURL: cfg.DatabaseURL,
	})
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("init eval cache: %w", err)
	}

	qcfg := position.QueryConfig{Pool: deps.Pool, Logger: logger.Named("query")}
	if deps.Cache != nil {
		qcfg.Cache = deps.Cache
	}
	deps.Query, err = position.NewQuery(qcfg)
	if err != nil {
		_ = deps.Close()
		return nil, err
	}

	proc, err := o.process(ctx)
	if err != nil {
		_ = deps.Close()
		return nil, fmt.Errorf("start engine: %w", err)
	}
	deps.Dispatcher = output.NewDispatcher(output.WriterListener(o.out))
	deps.Session, err = session.New(session.Config{
		Process:    proc,
		Query:      deps.Query,
		Dispatcher: deps.Dispatcher,
		Options:    sessionOptions,
		Logger:     logger.Named("session"),
	})
	if err != nil {
		_ = proc.Close()
		_ = deps.Close()
		return nil, err
	}

	logger.Info("chess deps ready",
		zap.String("engine", cfg.StockfishPath),
		zap.String("eval_cache", cfg.EvalCache),
		zap.String("score_source", string(source)))
	return deps, nil
}
