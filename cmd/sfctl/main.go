// Command sfctl drives a UCI engine from a line shell or over HTTP.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	appcfg "github.com/park285/jstockfish-go/internal/config"
	"github.com/park285/jstockfish-go/internal/chessbuilder"
	"github.com/park285/jstockfish-go/internal/httpapi"
	"github.com/park285/jstockfish-go/internal/obslog"
	"github.com/park285/jstockfish-go/internal/relay"
)

func usage() {
	fmt.Fprintln(os.Stderr, "usage: sfctl [-config file] shell|serve")
	flag.PrintDefaults()
}

func main() {
	configFile := flag.String("config", "", "YAML config overlay (overrides CONFIG_FILE)")
	flag.Usage = usage
	flag.Parse()

	mode := "shell"
	if flag.NArg() > 0 {
		mode = flag.Arg(0)
	}
	if *configFile != "" {
		_ = os.Setenv("CONFIG_FILE", *configFile)
	}

	logger, err := obslog.InitFromEnv()
	if err != nil {
		log.Fatalf("logger init error: %v", err)
	}
	defer func() { _ = logger.Sync() }()

	cfg, err := appcfg.Load()
	if err != nil {
		log.Fatalf("config error: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "shell":
		err = runShell(ctx, cfg, logger)
	case "serve":
		err = runServe(ctx, cfg, logger)
	default:
		usage()
		os.Exit(2)
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		logger.Error("sfctl exited", zap.Error(err))
		os.Exit(1)
	}
}

func runShell(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) error {
	out := &syncWriter{w: os.Stdout}
	deps, err := chessbuilder.New(ctx, cfg, logger, chessbuilder.WithOutput(out))
	if err != nil {
		return err
	}
	defer deps.Close()

	sh := newShell(deps.Session, out, cfg.RequestTimeout()+2*time.Second)

	done := make(chan error, 1)
	go func() { done <- sh.Run(ctx, os.Stdin) }()
	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func runServe(ctx context.Context, cfg *appcfg.AppConfig, logger *zap.Logger) error {
	deps, err := chessbuilder.New(ctx, cfg, logger, chessbuilder.WithOutput(os.Stderr))
	if err != nil {
		return err
	}
	defer deps.Close()

	if cfg.RelayWSURL != "" {
		ws, err := relay.Dial(ctx, cfg.RelayWSURL, relay.Options{PingInterval: 30 * time.Second, Logger: logger.Named("relay")})
		if err != nil {
			return err
		}
		defer ws.Close()
		deps.Session.SetListener(ws)
		logger.Info("relaying search output", zap.String("url", cfg.RelayWSURL))
	}

	srv, err := httpapi.New(httpapi.Config{
		Session:        deps.Session,
		Query:          deps.Query,
		RequestTimeout: cfg.RequestTimeout() * 4,
		Logger:         logger.Named("http"),
	})
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", zap.String("addr", cfg.HTTPAddr))
		return srv.ListenAndServe(cfg.HTTPAddr)
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return g.Wait()
}
