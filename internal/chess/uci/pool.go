package uci

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// Factory starts a handshaken engine configured for the given variant.
type Factory func(ctx context.Context, chess960 bool) (*Process, error)

type PoolConfig struct {
	Factory  Factory
	Capacity int
}

// Pool keeps scratch engines per variant for stateless position queries.
type Pool struct {
	factory  Factory
	capacity int

	mu        sync.Mutex
	closed    bool
	buckets   map[bool]*processBucket
	processes map[*Process]*processBucket
}

var ErrPoolClosed = errors.New("engine pool closed")

func NewPool(cfg PoolConfig) (*Pool, error) {
	if cfg.Factory == nil {
		return nil, fmt.Errorf("engine factory required")
	}
	capacity := cfg.Capacity
	if capacity <= 0 {
		capacity = defaultCapacity()
	}
	return &Pool{
		factory:   cfg.Factory,
		capacity:  capacity,
		buckets:   make(map[bool]*processBucket),
		processes: make(map[*Process]*processBucket),
	}, nil
}

// DefaultFactory spawns cfg's binary, completes the handshake and applies
// the variant flag plus any extra options the engine advertises.
func DefaultFactory(cfg Config, options map[string]string) Factory {
	return func(ctx context.Context, chess960 bool) (*Process, error) {
		// Scratch engines outlive the request that spawned them.
		p, err := NewProcess(context.WithoutCancel(ctx), cfg)
		if err != nil {
			return nil, err
		}
		if _, err := p.Handshake(ctx); err != nil {
			_ = p.Close()
			return nil, err
		}
		for name, value := range options {
			if _, err := p.SetOption(ctx, name, value); err != nil {
				_ = p.Close()
				return nil, err
			}
		}
		if chess960 {
			ok, err := p.SetOption(ctx, "UCI_Chess960", "true")
			if err != nil {
				_ = p.Close()
				return nil, err
			}
			if !ok {
				_ = p.Close()
				return nil, fmt.Errorf("engine does not support UCI_Chess960")
			}
		}
		return p, nil
	}
}

func (p *Pool) Acquire(ctx context.Context, chess960 bool) (*Process, error) {
	bucket, err := p.getBucket(chess960)
	if err != nil {
		return nil, err
	}

	for {
		select {
		case proc := <-bucket.idle:
			if proc == nil {
				continue
			}
			if err := proc.IsReady(ctx); err != nil {
				bucket.discard(proc)
				continue
			}
			p.track(proc, bucket)
			return proc, nil
		default:
		}

		proc, err := bucket.create(ctx)
		if err == nil {
			p.track(proc, bucket)
			return proc, nil
		}
		if !errors.Is(err, errBucketAtCapacity) {
			return nil, err
		}

		select {
		case proc := <-bucket.idle:
			if proc == nil {
				continue
			}
			if err := proc.IsReady(ctx); err != nil {
				bucket.discard(proc)
				continue
			}
			p.track(proc, bucket)
			return proc, nil
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Release hands proc back. A non-nil err means the engine may be in an
// unknown state, so it is shut down instead of reused.
func (p *Pool) Release(proc *Process, err error) {
	if proc == nil {
		return
	}

	p.mu.Lock()
	bucket, ok := p.processes[proc]
	if ok {
		delete(p.processes, proc)
	}
	closed := p.closed
	p.mu.Unlock()

	if !ok {
		_ = proc.Close()
		return
	}
	if err != nil || closed || !bucket.put(proc) {
		bucket.discard(proc)
	}
}

func (p *Pool) Close() error {
	p.mu.Lock()
	p.closed = true
	buckets := make([]*processBucket, 0, len(p.buckets))
	for _, b := range p.buckets {
		buckets = append(buckets, b)
	}
	p.mu.Unlock()

	var errs []error
	for _, bucket := range buckets {
	drain:
		for {
			select {
			case proc := <-bucket.idle:
				if proc == nil {
					continue
				}
				if err := proc.Close(); err != nil {
					errs = append(errs, err)
				}
				bucket.decrement()
			default:
				break drain
			}
		}
	}
	return errors.Join(errs...)
}

// Stats reports live and idle engines for a variant.
func (p *Pool) Stats(chess960 bool) (total, idle int) {
	p.mu.Lock()
	bucket, ok := p.buckets[chess960]
	p.mu.Unlock()
	if !ok {
		return 0, 0
	}
	bucket.mu.Lock()
	total = bucket.total
	bucket.mu.Unlock()
	return total, len(bucket.idle)
}

func (p *Pool) track(proc *Process, bucket *processBucket) {
	p.mu.Lock()
	p.processes[proc] = bucket
	p.mu.Unlock()
}

func (p *Pool) getBucket(chess960 bool) (*processBucket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil, ErrPoolClosed
	}
	bucket, ok := p.buckets[chess960]
	if !ok {
		bucket = newProcessBucket(p.factory, chess960, p.capacity)
		p.buckets[chess960] = bucket
	}
	return bucket, nil
}

type processBucket struct {
	chess960 bool
	capacity int
	factory  Factory

	mu    sync.Mutex
	total int
	idle  chan *Process
}

var errBucketAtCapacity = errors.New("engine bucket at capacity")

func newProcessBucket(factory Factory, chess960 bool, capacity int) *processBucket {
	if capacity <= 0 {
		capacity = 1
	}
	return &processBucket{
		chess960: chess960,
		capacity: capacity,
		factory:  factory,
		idle:     make(chan *Process, capacity),
	}
}

func (b *processBucket) create(ctx context.Context) (*Process, error) {
	b.mu.Lock()
	if b.total >= b.capacity {
		b.mu.Unlock()
		return nil, errBucketAtCapacity
	}
	b.total++
	b.mu.Unlock()

	proc, err := b.factory(ctx, b.chess960)
	if err != nil {
		b.decrement()
		return nil, err
	}
	return proc, nil
}

func (b *processBucket) put(proc *Process) bool {
	select {
	case b.idle <- proc:
		return true
	default:
		return false
	}
}

func (b *processBucket) discard(proc *Process) {
	if proc != nil {
		_ = proc.Close()
	}
	b.decrement()
}

func (b *processBucket) decrement() {
	b.mu.Lock()
	if b.total > 0 {
		b.total--
	}
	b.mu.Unlock()
}

func defaultCapacity() int {
	cpu := runtime.NumCPU()
	if cpu < 2 {
		return 2
	}
	if cpu > 4 {
		return 4
	}
	return cpu
}
