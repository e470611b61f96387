package enginepool

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/wrogo/wro/pkg/logger"
)

const DefaultTimeout = 5 * time.Second

// Config bounds every pool of a Manager.
type Config struct {
	MaxSize int
	Timeout time.Duration
}

func (c Config) withDefaults() Config {
	if c.MaxSize < 1 {
		c.MaxSize = runtime.GOMAXPROCS(0)
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	return c
}

type managed interface {
	Name() string
	Stats() Stats
	Configure(Config)
	Close()
}

// Manager owns the pools created through NewPool, applies configuration
// changes to all of them and closes them on shutdown.
type Manager struct {
	logger logger.Logger

	mu     sync.Mutex
	cfg    Config
	pools  []managed
	closed bool
}

type ManagerOption func(*Manager)

func WithLogger(l logger.Logger) ManagerOption {
	return func(m *Manager) {
		m.logger = l
	}
}

func NewManager(cfg Config, opts ...ManagerOption) *Manager {
	m := &Manager{
		cfg:    cfg.withDefaults(),
		logger: logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// NewPool creates a pool bounded by the manager configuration. Pools created
// after Close start closed.
func NewPool[T any](m *Manager, name string, create func(context.Context) (T, error), opts ...PoolOption[T]) *Pool[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	return addPool(m, name, create, opts)
}

// Shared returns the pool registered under name by an earlier call, or
// creates it. It panics if the existing pool holds engines of another type.
func Shared[T any](m *Manager, name string, create func(context.Context) (T, error), opts ...PoolOption[T]) *Pool[T] {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, p := range m.pools {
		if p.Name() == name {
			return p.(*Pool[T])
		}
	}
	return addPool(m, name, create, opts)
}

// addPool is called with m.mu held.
func addPool[T any](m *Manager, name string, create func(context.Context) (T, error), opts []PoolOption[T]) *Pool[T] {
	opts = append([]PoolOption[T]{WithPoolLogger[T](m.logger)}, opts...)
	p := New(name, m.cfg, create, opts...)
	if m.closed {
		p.Close()
		return p
	}
	m.pools = append(m.pools, p)
	return p
}

// Configure applies cfg to every pool.
func (m *Manager) Configure(cfg Config) {
	m.mu.Lock()
	m.cfg = cfg.withDefaults()
	pools := append([]managed(nil), m.pools...)
	m.mu.Unlock()

	for _, p := range pools {
		p.Configure(cfg)
	}
}

func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// Stats returns the stats of every pool by name.
func (m *Manager) Stats() map[string]Stats {
	m.mu.Lock()
	pools := append([]managed(nil), m.pools...)
	m.mu.Unlock()

	stats := make(map[string]Stats, len(pools))
	for _, p := range pools {
		stats[p.Name()] = p.Stats()
	}
	return stats
}

// Close closes every pool.
func (m *Manager) Close() {
	m.mu.Lock()
	m.closed = true
	pools := m.pools
	m.pools = nil
	m.mu.Unlock()

	for _, p := range pools {
		p.Close()
	}
}
