// Package cache memoizes pipeline runs per CacheKey.
//
// Concurrent requests for the same missing key are collapsed into a single
// build whose result every waiter observes. Only successful builds are
// published. Invalidation marks entries stale rather than dropping them, so
// that grace mode can keep serving the previous bundle while a rebuild runs.
package cache

import (
	"context"
	"errors"
	"fmt"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/wrogo/wro/internal/build"
	ierrors "github.com/wrogo/wro/internal/errors"
	"github.com/wrogo/wro/pkg/logger"
	"github.com/wrogo/wro/pkg/pipeline"
	"github.com/wrogo/wro/pkg/resource"
)

var (
	// ErrBuildWaitTimeout is returned to a caller that waited longer than the
	// configured wait timeout for an in-flight build. The build keeps running.
	ErrBuildWaitTimeout = errors.New("timed out waiting for build")

	ErrClosed = errors.New("cache closed")

	requestCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "cache_request_count",
		Help:      "The total number of cache lookups labeled by result (hit, miss, stale, bypass).",
	}, []string{"result"})

	buildCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "cache_build_count",
		Help:      "The total number of builds labeled by outcome.",
	}, []string{"outcome"})

	sharedCounter = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "cache_deduplicated_count",
		Help:      "The total number of callers that received the result of a build started by another caller.",
	})
)

// Producer builds the entry of one key.
type Producer func(ctx context.Context) (*resource.Entry, error)

// Config holds the settings that may change while the cache is in use.
type Config struct {
	// Disabled turns the cache into a pass-through: every call runs its own
	// producer and nothing is published.
	Disabled bool

	// GraceMode serves stale entries while a rebuild runs in the background.
	GraceMode bool

	// BuildWaitTimeout bounds how long a caller waits for a build. Zero
	// waits until the build completes.
	BuildWaitTimeout time.Duration
}

type Cache struct {
	store  Store
	group  singleflight.Group
	epoch  atomic.Uint64
	config atomic.Pointer[Config]
	logger logger.Logger

	ctx    context.Context
	cancel context.CancelFunc

	lifecycle sync.RWMutex
	closed    bool
	running   sync.WaitGroup

	// writes serializes the record replacements of publish and Invalidate.
	writes sync.Mutex
}

type Option func(*Cache)

func WithLogger(l logger.Logger) Option {
	return func(c *Cache) {
		c.logger = l
	}
}

// WithStore sets the entry store. The default is a MemoryStore.
func WithStore(s Store) Option {
	return func(c *Cache) {
		c.store = s
	}
}

func WithConfig(cfg Config) Option {
	return func(c *Cache) {
		c.config.Store(&cfg)
	}
}

func New(opts ...Option) *Cache {
	c := &Cache{
		store:  NewMemoryStore(),
		logger: logger.NewNoopLogger(),
	}
	c.config.Store(&Config{})
	for _, opt := range opts {
		opt(c)
	}
	c.ctx, c.cancel = context.WithCancel(context.Background())
	return c
}

// Configure replaces the configuration. Calls already waiting keep the
// settings they started with.
func (c *Cache) Configure(cfg Config) {
	c.config.Store(&cfg)
}

func (c *Cache) Config() Config {
	return *c.config.Load()
}

func (c *Cache) stale(rec *Record) bool {
	return rec.Stale || rec.Epoch < c.epoch.Load()
}

// Get returns the entry of key, running produce when there is no fresh
// entry. At most one producer runs per key at any time.
func (c *Cache) Get(ctx context.Context, key resource.CacheKey, produce Producer) (*resource.Entry, error) {
	if c.isClosed() {
		return nil, ErrClosed
	}
	cfg := c.Config()

	if cfg.Disabled {
		requestCounter.WithLabelValues("bypass").Inc()
		return c.bypass(ctx, produce)
	}

	if rec, ok := c.store.Get(key); ok {
		if !c.stale(rec) {
			requestCounter.WithLabelValues("hit").Inc()
			return rec.Entry, nil
		}
		if cfg.GraceMode {
			requestCounter.WithLabelValues("stale").Inc()
			c.refresh(ctx, key, produce)
			return rec.Entry, nil
		}
	}

	requestCounter.WithLabelValues("miss").Inc()
	return c.wait(ctx, key, cfg.BuildWaitTimeout, c.build(ctx, key, produce))
}

func (c *Cache) wait(ctx context.Context, key resource.CacheKey, timeout time.Duration, ch <-chan singleflight.Result) (*resource.Entry, error) {
	var expired <-chan time.Time
	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()
		expired = t.C
	}

	select {
	case res := <-ch:
		if res.Shared {
			sharedCounter.Inc()
		}
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*resource.Entry), nil
	case <-ctx.Done():
		return nil, ierrors.With(ctx.Err(), pipeline.ErrCancelled)
	case <-expired:
		return nil, fmt.Errorf("%w for '%s' after %s", ErrBuildWaitTimeout, key, timeout)
	}
}

// refresh starts a background rebuild of key unless one is already running.
func (c *Cache) refresh(ctx context.Context, key resource.CacheKey, produce Producer) {
	c.lifecycle.RLock()
	if c.closed {
		c.lifecycle.RUnlock()
		return
	}
	c.running.Add(1)
	c.lifecycle.RUnlock()

	ch := c.build(context.WithoutCancel(ctx), key, produce)
	go func() {
		defer c.running.Done()
		res := <-ch
		if res.Err != nil && !errors.Is(res.Err, pipeline.ErrCancelled) && !errors.Is(res.Err, ErrClosed) {
			c.logger.WarnWithContext(ctx, "background rebuild failed, serving stale entry",
				zap.String("key", key.String()), zap.Error(res.Err))
		}
	}()
}

func (c *Cache) build(ctx context.Context, key resource.CacheKey, produce Producer) <-chan singleflight.Result {
	return c.group.DoChan(key.String(), func() (any, error) {
		// a build that finished while this one was being scheduled
		if rec, ok := c.store.Get(key); ok && !c.stale(rec) {
			return rec.Entry, nil
		}

		epoch := c.epoch.Load()
		entry, err := c.run(ctx, produce)
		if err != nil {
			if errors.Is(err, pipeline.ErrCancelled) {
				c.logger.DebugWithContext(ctx, "build cancelled", zap.String("key", key.String()))
			}
			buildCounter.WithLabelValues("failure").Inc()
			return nil, err
		}
		buildCounter.WithLabelValues("success").Inc()

		c.lifecycle.RLock()
		defer c.lifecycle.RUnlock()
		if !c.closed {
			c.writes.Lock()
			c.store.Set(key, &Record{Key: key, Entry: entry, Epoch: epoch})
			c.writes.Unlock()
		}
		return entry, nil
	})
}

func (c *Cache) bypass(ctx context.Context, produce Producer) (*resource.Entry, error) {
	entry, err := c.run(ctx, produce)
	if err != nil {
		buildCounter.WithLabelValues("failure").Inc()
		return nil, err
	}
	buildCounter.WithLabelValues("success").Inc()
	return entry, nil
}

// run calls produce with a context that is also cancelled by Close. A
// panicking producer fails the build instead of the process.
func (c *Cache) run(ctx context.Context, produce Producer) (entry *resource.Entry, err error) {
	c.lifecycle.RLock()
	if c.closed {
		c.lifecycle.RUnlock()
		return nil, ErrClosed
	}
	c.running.Add(1)
	c.lifecycle.RUnlock()
	defer c.running.Done()

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(c.ctx, cancel)
	defer stop()

	defer func() {
		if r := recover(); r != nil {
			c.logger.ErrorWithContext(ctx, "build panicked",
				zap.Any("panic", r),
				zap.ByteString("stacktrace", debug.Stack()))
			entry, err = nil, fmt.Errorf("panic occurred: %v", r)
		}
	}()
	return produce(ctx)
}

// Invalidate marks the entry of key stale. A build of key already in
// flight is not affected.
func (c *Cache) Invalidate(key resource.CacheKey) {
	c.writes.Lock()
	defer c.writes.Unlock()

	rec, ok := c.store.Get(key)
	if !ok || rec.Stale {
		return
	}
	stale := *rec
	stale.Stale = true
	c.store.Set(key, &stale)
}

// InvalidateAll marks every entry stale, including those of builds in
// flight, which are published stale.
func (c *Cache) InvalidateAll() {
	c.epoch.Add(1)
}

// Clear drops every entry. Builds in flight publish stale entries.
func (c *Cache) Clear() {
	c.epoch.Add(1)
	c.store.Clear()
}

// Len returns the number of published entries, stale ones included.
func (c *Cache) Len() int {
	return c.store.Len()
}

func (c *Cache) isClosed() bool {
	c.lifecycle.RLock()
	defer c.lifecycle.RUnlock()
	return c.closed
}

// Close cancels running producers, waits for them to return and closes the
// store. Later calls fail with ErrClosed.
func (c *Cache) Close() {
	c.lifecycle.Lock()
	if c.closed {
		c.lifecycle.Unlock()
		return
	}
	c.closed = true
	c.lifecycle.Unlock()

	c.cancel()
	c.running.Wait()
	c.store.Close()
}
