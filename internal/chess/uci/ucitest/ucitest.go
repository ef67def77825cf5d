// Package ucitest connects uci.Process values to in-memory fake engines.
package ucitest

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/park285/jstockfish-go/internal/chess/enginetest"
	"github.com/park285/jstockfish-go/internal/chess/uci"
)

const requestTimeout = 2 * time.Second

// NewProcess returns a process wired to a fresh fake engine. Both are shut
// down when the test ends.
func NewProcess(tb testing.TB, opts enginetest.Options) (*uci.Process, *enginetest.Engine) {
	tb.Helper()
	eng := enginetest.New(opts)
	in, out := eng.Conn()
	p := uci.NewProcessIO(in, out, uci.Config{RequestTimeout: requestTimeout})
	tb.Cleanup(func() { _ = p.Close() })
	return p, eng
}

// Fleet is a uci.Factory over fake engines that remembers what it started.
type Fleet struct {
	Options enginetest.Options

	mu      sync.Mutex
	engines []*enginetest.Engine
}

func (f *Fleet) Factory() uci.Factory {
	return func(ctx context.Context, chess960 bool) (*uci.Process, error) {
		eng := enginetest.New(f.Options)
		in, out := eng.Conn()
		p := uci.NewProcessIO(in, out, uci.Config{RequestTimeout: requestTimeout})
		if _, err := p.Handshake(ctx); err != nil {
			_ = p.Close()
			return nil, err
		}
		if chess960 {
			if _, err := p.SetOption(ctx, "UCI_Chess960", "true"); err != nil {
				_ = p.Close()
				return nil, err
			}
		}
		f.mu.Lock()
		f.engines = append(f.engines, eng)
		f.mu.Unlock()
		return p, nil
	}
}

func (f *Fleet) Engines() []*enginetest.Engine {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]*enginetest.Engine(nil), f.engines...)
}

// Count sums the commands with prefix received by every started engine.
func (f *Fleet) Count(prefix string) int {
	n := 0
	for _, eng := range f.Engines() {
		n += eng.Count(prefix)
	}
	return n
}

// NewPool builds a pool over a new Fleet and closes it with the test.
func NewPool(tb testing.TB, opts enginetest.Options) (*uci.Pool, *Fleet) {
	tb.Helper()
	fleet := &Fleet{Options: opts}
	pool, err := uci.NewPool(uci.PoolConfig{Factory: fleet.Factory(), Capacity: 2})
	if err != nil {
		tb.Fatalf("uci.NewPool: %v", err)
	}
	tb.Cleanup(func() { _ = pool.Close() })
	return pool, fleet
}
