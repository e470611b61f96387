// Package enginepool provides bounded pools of reusable, expensive to create
// engines such as script interpreters.
package enginepool

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/wrogo/wro/internal/build"
	"github.com/wrogo/wro/pkg/logger"
)

var (
	// ErrPoolExhausted is returned when no engine became available before the
	// checkout timeout. It is transient.
	ErrPoolExhausted = errors.New("engine pool exhausted")

	// ErrPoolClosed is returned by Checkout after Close.
	ErrPoolClosed = errors.New("engine pool closed")

	checkoutCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "engine_pool_checkout_count",
		Help:      "The total number of engines checked out of a pool.",
	}, []string{"pool"})

	checkoutTimeoutCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "engine_pool_checkout_timeout_count",
		Help:      "The total number of checkouts that failed because the pool was exhausted.",
	}, []string{"pool"})
)

// Engine is a checked out engine. It must be handed back with exactly one of
// Pool.Return or Pool.Invalidate.
type Engine[T any] struct {
	ID    ulid.ULID
	Value T

	checkedOut bool
}

// Stats is a point in time view of a pool.
type Stats struct {
	Idle      int
	InUse     int
	Created   uint64
	Destroyed uint64
}

// Pool is a bounded free list of engines. Engines are created lazily until
// maxSize exist, after which Checkout waits for one to be returned.
type Pool[T any] struct {
	name    string
	create  func(context.Context) (T, error)
	destroy func(T)
	logger  logger.Logger

	mu      sync.Mutex
	maxSize int
	timeout time.Duration
	idle    []*Engine[T]
	inUse   int
	closed  bool
	// notify is closed and replaced whenever an engine or a slot frees up.
	notify    chan struct{}
	created   uint64
	destroyed uint64
}

// PoolOption configures a Pool.
type PoolOption[T any] func(*Pool[T])

// WithDestroy sets the function releasing an engine. The default does nothing.
func WithDestroy[T any](destroy func(T)) PoolOption[T] {
	return func(p *Pool[T]) {
		p.destroy = destroy
	}
}

func WithPoolLogger[T any](l logger.Logger) PoolOption[T] {
	return func(p *Pool[T]) {
		p.logger = l
	}
}

// New creates a standalone pool. Use NewPool to create a pool tracked by a Manager.
func New[T any](name string, cfg Config, create func(context.Context) (T, error), opts ...PoolOption[T]) *Pool[T] {
	cfg = cfg.withDefaults()
	p := &Pool[T]{
		name:    name,
		create:  create,
		destroy: func(T) {},
		logger:  logger.NewNoopLogger(),
		maxSize: cfg.MaxSize,
		timeout: cfg.Timeout,
		notify:  make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// broadcast wakes up every waiting Checkout. Callers hold p.mu.
func (p *Pool[T]) broadcast() {
	close(p.notify)
	p.notify = make(chan struct{})
}

func (p *Pool[T]) total() int {
	return len(p.idle) + p.inUse
}

// Checkout returns an idle engine, creates one if the pool has room, or
// waits until one is returned. It fails with ErrPoolExhausted once the pool
// timeout elapses and with the context error if ctx is done first.
func (p *Pool[T]) Checkout(ctx context.Context) (*Engine[T], error) {
	p.mu.Lock()
	timer := time.NewTimer(p.timeout)
	p.mu.Unlock()
	defer timer.Stop()

	for {
		p.mu.Lock()
		if p.closed {
			p.mu.Unlock()
			return nil, ErrPoolClosed
		}

		if n := len(p.idle); n > 0 {
			e := p.idle[n-1]
			p.idle = p.idle[:n-1]
			p.inUse++
			e.checkedOut = true
			p.mu.Unlock()

			checkoutCounter.WithLabelValues(p.name).Inc()
			return e, nil
		}

		if p.total() < p.maxSize {
			// reserve the slot before creating outside the lock
			p.inUse++
			p.created++
			p.mu.Unlock()

			e, err := p.newEngine(ctx)
			if err != nil {
				p.mu.Lock()
				p.inUse--
				p.created--
				p.broadcast()
				p.mu.Unlock()
				return nil, err
			}

			checkoutCounter.WithLabelValues(p.name).Inc()
			return e, nil
		}

		wait := p.notify
		p.mu.Unlock()

		select {
		case <-wait:
		case <-timer.C:
			checkoutTimeoutCounter.WithLabelValues(p.name).Inc()
			return nil, ErrPoolExhausted
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

func (p *Pool[T]) newEngine(ctx context.Context) (*Engine[T], error) {
	v, err := p.create(ctx)
	if err != nil {
		return nil, err
	}
	e := &Engine[T]{ID: ulid.Make(), Value: v, checkedOut: true}
	p.logger.Debug("engine created", zap.String("pool", p.name), zap.String("engine_id", e.ID.String()))
	return e, nil
}

// Return hands a healthy engine back. Engines returned after Close are destroyed.
func (p *Pool[T]) Return(e *Engine[T]) {
	p.mu.Lock()
	if !e.checkedOut {
		p.mu.Unlock()
		return
	}
	e.checkedOut = false
	p.inUse--

	if p.closed || p.total() >= p.maxSize {
		p.destroyed++
		p.broadcast()
		p.mu.Unlock()
		p.destroyEngine(e)
		return
	}

	p.idle = append(p.idle, e)
	p.broadcast()
	p.mu.Unlock()
}

// Invalidate destroys an engine whose state may be corrupted and frees its slot.
func (p *Pool[T]) Invalidate(e *Engine[T]) {
	p.mu.Lock()
	if !e.checkedOut {
		p.mu.Unlock()
		return
	}
	e.checkedOut = false
	p.inUse--
	p.destroyed++
	p.broadcast()
	p.mu.Unlock()

	p.logger.Debug("engine invalidated", zap.String("pool", p.name), zap.String("engine_id", e.ID.String()))
	p.destroyEngine(e)
}

func (p *Pool[T]) destroyEngine(e *Engine[T]) {
	p.destroy(e.Value)
}

// Use checks out an engine, runs fn with it and returns it. When fn fails
// the engine is invalidated.
func (p *Pool[T]) Use(ctx context.Context, fn func(T) error) error {
	e, err := p.Checkout(ctx)
	if err != nil {
		return err
	}
	if err := fn(e.Value); err != nil {
		p.Invalidate(e)
		return err
	}
	p.Return(e)
	return nil
}

// Configure changes the bounds of the pool. Shrinking destroys surplus idle
// engines; engines in use are destroyed when returned.
func (p *Pool[T]) Configure(cfg Config) {
	cfg = cfg.withDefaults()

	p.mu.Lock()
	p.maxSize = cfg.MaxSize
	p.timeout = cfg.Timeout
	var surplus []*Engine[T]
	for p.total() > p.maxSize && len(p.idle) > 0 {
		n := len(p.idle)
		surplus = append(surplus, p.idle[n-1])
		p.idle = p.idle[:n-1]
		p.destroyed++
	}
	p.broadcast()
	p.mu.Unlock()

	for _, e := range surplus {
		p.destroyEngine(e)
	}
}

// Close destroys every idle engine and fails subsequent checkouts. Engines
// in use are destroyed when returned.
func (p *Pool[T]) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	idle := p.idle
	p.idle = nil
	p.destroyed += uint64(len(idle))
	p.broadcast()
	p.mu.Unlock()

	for _, e := range idle {
		p.destroyEngine(e)
	}
}

func (p *Pool[T]) Stats() Stats {
	p.mu.Lock()
	defer p.mu.Unlock()
	return Stats{
		Idle:      len(p.idle),
		InUse:     p.inUse,
		Created:   p.created,
		Destroyed: p.destroyed,
	}
}

func (p *Pool[T]) Name() string {
	return p.name
}
