// Package manager wires the model store, the pipeline, the build cache and
// the refresh scheduler behind the request-facing Serve operation.
package manager

import (
	"context"
	"errors"
	"fmt"
	"sync/atomic"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wrogo/wro/pkg/cache"
	"github.com/wrogo/wro/pkg/enginepool"
	"github.com/wrogo/wro/pkg/inject"
	"github.com/wrogo/wro/pkg/locator"
	"github.com/wrogo/wro/pkg/logger"
	"github.com/wrogo/wro/pkg/model"
	"github.com/wrogo/wro/pkg/options"
	"github.com/wrogo/wro/pkg/pipeline"
	"github.com/wrogo/wro/pkg/processor"
	"github.com/wrogo/wro/pkg/resource"
	"github.com/wrogo/wro/pkg/scheduler"
)

var tracer = otel.Tracer("pkg/manager")

var ErrClosed = errors.New("manager closed")

// ServeRequest identifies the bundle to serve.
type ServeRequest struct {
	Group    string
	Type     resource.Type
	Minimize bool

	// RequestID correlates the logs of the request. A random id is used
	// when empty.
	RequestID string
}

func (r ServeRequest) key() resource.CacheKey {
	return resource.CacheKey{Group: r.Group, Type: r.Type, Minimize: r.Minimize}
}

type Manager struct {
	source     *options.Source
	models     *model.Store
	locators   locator.Locator
	processors *processor.Registry
	engines    *enginepool.Manager
	cache      *cache.Cache
	runner     *pipeline.Runner
	injector   *inject.Injector
	scheduler  *scheduler.Scheduler
	logger     logger.Logger

	unsubscribe []func()
	closed      atomic.Bool
}

type Option func(*Manager)

func WithLogger(l logger.Logger) Option {
	return func(m *Manager) {
		m.logger = l
	}
}

// WithLocators sets the locator used to read resources. The default
// resolves URIs on the local file system relative to the working directory.
func WithLocators(l locator.Locator) Option {
	return func(m *Manager) {
		m.locators = l
	}
}

// WithProcessors sets the processor registry. The default registers the
// built-in processors.
func WithProcessors(r *processor.Registry) Option {
	return func(m *Manager) {
		m.processors = r
	}
}

// New creates a manager. The model is not loaded until Start.
func New(source *options.Source, factory model.Factory, opts ...Option) (*Manager, error) {
	m := &Manager{
		source: source,
		logger: logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.locators == nil {
		m.locators = locator.NewDefaultRegistry(".", nil, m.logger)
	}
	if m.processors == nil {
		m.processors = processor.NewDefaultRegistry()
	}

	current := source.Get()
	if err := current.Verify(); err != nil {
		return nil, fmt.Errorf("invalid options: %w", err)
	}

	store, err := newCacheStore(current)
	if err != nil {
		return nil, err
	}

	m.models = model.NewStore(factory,
		model.WithLogger(m.logger),
		model.WithLoadTimeout(current.ModelLoadTimeout))
	m.engines = enginepool.NewManager(poolConfig(current), enginepool.WithLogger(m.logger))
	m.cache = cache.New(
		cache.WithLogger(m.logger),
		cache.WithStore(store),
		cache.WithConfig(cacheConfig(current)))

	m.injector = inject.New(
		inject.WithValue(inject.SlotLogger, m.logger),
		inject.WithProvider(inject.SlotOptions, func() any { return source.Get() }),
		inject.WithValue(inject.SlotLocators, m.locators),
		inject.WithValue(inject.SlotProcessors, m.processors),
		inject.WithProvider(inject.SlotModel, func() any { return m.models.Get() }),
		inject.WithValue(inject.SlotEnginePool, m.engines),
		inject.WithValue(inject.SlotCache, m.cache),
		inject.WithValue(inject.SlotManager, m),
	)
	m.runner = pipeline.NewRunner(m.locators, m.processors,
		pipeline.WithLogger(m.logger),
		pipeline.WithInjector(m.injector))
	m.scheduler = scheduler.New(source, m.models, m.cache, scheduler.WithLogger(m.logger))

	m.models.OnSwap(func(_, _ *resource.Model) {
		m.cache.InvalidateAll()
	})
	m.subscribe()
	return m, nil
}

func newCacheStore(opts options.Options) (cache.Store, error) {
	switch opts.CacheStrategy {
	case options.CacheStrategyLRU:
		s, err := cache.NewLRUStore(int64(opts.CacheMaxEntries))
		if err != nil {
			return nil, fmt.Errorf("failed to create lru cache store: %w", err)
		}
		return s, nil
	default:
		return cache.NewMemoryStore(), nil
	}
}

func poolConfig(opts options.Options) enginepool.Config {
	return enginepool.Config{MaxSize: opts.EnginePoolSize, Timeout: opts.EnginePoolTimeout}
}

func cacheConfig(opts options.Options) cache.Config {
	return cache.Config{
		Disabled:         opts.DisableCache,
		GraceMode:        opts.GraceMode,
		BuildWaitTimeout: opts.BuildWaitTimeout,
	}
}

func (m *Manager) subscribe() {
	reconfigurePools := func(_, current options.Options) {
		m.engines.Configure(poolConfig(current))
	}
	reconfigureCache := func(_, current options.Options) {
		m.cache.Configure(cacheConfig(current))
	}
	// bundles built under the previous value are not keyed by it
	invalidate := func(_, _ options.Options) {
		m.cache.InvalidateAll()
	}

	m.unsubscribe = append(m.unsubscribe,
		m.source.Subscribe(options.PropertyEnginePoolSize, reconfigurePools),
		m.source.Subscribe(options.PropertyEnginePoolTimeout, reconfigurePools),
		m.source.Subscribe(options.PropertyDisableCache, reconfigureCache),
		m.source.Subscribe(options.PropertyGraceMode, reconfigureCache),
		m.source.Subscribe(options.PropertyBuildWaitTimeout, reconfigureCache),
		m.source.Subscribe(options.PropertyEncoding, invalidate),
		m.source.Subscribe(options.PropertyPreProcessors, invalidate),
		m.source.Subscribe(options.PropertyPostProcessors, invalidate),
		m.source.Subscribe(options.PropertyIgnoreMissingResources, invalidate),
		m.source.Subscribe(options.PropertyCacheStrategy, func(_, current options.Options) {
			m.logger.Warn("cache strategy changes take effect after a restart",
				zap.String("strategy", current.CacheStrategy))
		}),
	)
}

// Start performs the initial model load and arms the refresh timers.
func (m *Manager) Start(ctx context.Context) error {
	if m.closed.Load() {
		return ErrClosed
	}
	if err := m.models.Load(ctx); err != nil {
		return err
	}
	m.scheduler.Start()
	return nil
}

// Serve returns the bundle identified by req, building it if needed.
func (m *Manager) Serve(ctx context.Context, req ServeRequest) (*resource.Entry, error) {
	if m.closed.Load() {
		return nil, ErrClosed
	}
	if req.RequestID == "" {
		req.RequestID = uuid.NewString()
	}
	ctx = logger.ContextWithRequestID(ctx, req.RequestID)
	key := req.key()

	ctx, span := tracer.Start(ctx, "manager.Serve", trace.WithAttributes(
		attribute.String("key", key.String()),
		attribute.String("request_id", req.RequestID),
	))
	defer span.End()

	opts := m.source.Get()
	if opts.DisableCache {
		defer m.cache.Clear()
	}

	entry, err := m.cache.Get(ctx, key, func(ctx context.Context) (*resource.Entry, error) {
		pc := pipeline.NewProcessingContext(req.RequestID, opts, m.models.Get())
		defer pc.Release()
		return m.runner.Run(ctx, pc, key)
	})
	if err != nil {
		m.logFailure(ctx, key, err)
		return nil, err
	}
	return entry, nil
}

func (m *Manager) logFailure(ctx context.Context, key resource.CacheKey, err error) {
	fields := []zap.Field{zap.String("key", key.String()), zap.Error(err)}
	switch {
	case errors.Is(err, pipeline.ErrCancelled):
		m.logger.DebugWithContext(ctx, "serve cancelled", fields...)
	case IsTransient(err):
		m.logger.WarnWithContext(ctx, "serve failed, retry later", fields...)
	default:
		m.logger.ErrorWithContext(ctx, "serve failed", fields...)
	}
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, enginepool.ErrPoolExhausted) || errors.Is(err, cache.ErrBuildWaitTimeout)
}

// InvalidateAll marks every cached bundle stale.
func (m *Manager) InvalidateAll() {
	m.cache.InvalidateAll()
	m.logger.Info("cache invalidated")
}

// ReloadModel reloads the model. A successful swap invalidates the cache; on
// failure the previous model and the cache are kept.
func (m *Manager) ReloadModel(ctx context.Context) error {
	if err := m.models.Reload(ctx); err != nil {
		return err
	}
	m.logger.InfoWithContext(ctx, "model reloaded")
	return nil
}

// IsReady reports whether a model is loaded and the manager is open.
func (m *Manager) IsReady(context.Context) (bool, error) {
	if m.closed.Load() {
		return false, ErrClosed
	}
	return m.models.IsReady(), nil
}

// Options returns the current options snapshot.
func (m *Manager) Options() options.Options {
	return m.source.Get()
}

func (m *Manager) Source() *options.Source {
	return m.source
}

// Model returns the current model snapshot, nil before the first load.
func (m *Manager) Model() *resource.Model {
	return m.models.Get()
}

// Injector returns the injector providing the manager services.
func (m *Manager) Injector() *inject.Injector {
	return m.injector
}

// PoolStats returns the stats of every engine pool by name.
func (m *Manager) PoolStats() map[string]enginepool.Stats {
	return m.engines.Stats()
}

// Close stops the scheduler, cancels running builds and closes the engine
// pools. It is safe to call more than once.
func (m *Manager) Close() {
	if !m.closed.CompareAndSwap(false, true) {
		return
	}
	for _, unsubscribe := range m.unsubscribe {
		unsubscribe()
	}
	m.scheduler.Stop()
	m.cache.Close()
	m.engines.Close()
}
