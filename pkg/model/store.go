package model

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/wrogo/wro/internal/build"
	"github.com/wrogo/wro/pkg/logger"
	"github.com/wrogo/wro/pkg/resource"
	"github.com/wrogo/wro/pkg/telemetry"
)

var tracer = otel.Tracer("pkg/model")

var (
	ErrNotLoaded = errors.New("model not loaded")

	reloadCounter = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: build.ProjectName,
		Name:      "model_reload_count",
		Help:      "The total number of model reloads by outcome.",
	}, []string{"outcome"})
)

const DefaultLoadTimeout = 30 * time.Second

// SwapListener is notified after a new model has been published.
type SwapListener func(previous, current *resource.Model)

// Store holds the current model snapshot. Readers call Get without locking;
// reloads are serialized and swap the snapshot atomically, so a reader sees
// either the old or the new model in its entirety.
type Store struct {
	factory     Factory
	logger      logger.Logger
	loadTimeout time.Duration

	current  atomic.Pointer[resource.Model]
	reloadMu sync.Mutex

	mu        sync.Mutex
	listeners []SwapListener
}

type StoreOption func(*Store)

func WithLogger(l logger.Logger) StoreOption {
	return func(s *Store) {
		s.logger = l
	}
}

// WithLoadTimeout bounds the retries of the initial Load.
func WithLoadTimeout(d time.Duration) StoreOption {
	return func(s *Store) {
		s.loadTimeout = d
	}
}

func NewStore(factory Factory, opts ...StoreOption) *Store {
	s := &Store{
		factory:     factory,
		logger:      logger.NewNoopLogger(),
		loadTimeout: DefaultLoadTimeout,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Get returns the current snapshot, or nil before the first successful load.
// The returned model must not be modified.
func (s *Store) Get() *resource.Model {
	return s.current.Load()
}

// IsReady reports whether a snapshot has been published.
func (s *Store) IsReady() bool {
	return s.current.Load() != nil
}

// OnSwap registers a listener called after every successful swap, on the
// goroutine that performed the reload.
func (s *Store) OnSwap(l SwapListener) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.listeners = append(s.listeners, l)
}

// Reload creates a new model and publishes it. On failure the previous
// snapshot is retained and the error is returned.
func (s *Store) Reload(ctx context.Context) error {
	ctx, span := tracer.Start(ctx, "model.Reload")
	defer span.End()

	s.reloadMu.Lock()
	defer s.reloadMu.Unlock()

	next, err := s.factory.Create(ctx)
	if err == nil && next == nil {
		err = errors.New("model factory returned no model")
	}
	if err != nil {
		reloadCounter.WithLabelValues("failure").Inc()
		telemetry.TraceError(span, err)
		return fmt.Errorf("failed to reload model: %w", err)
	}
	if next.Version == 0 {
		next.Version = Fingerprint(next)
	}

	previous := s.current.Swap(next)
	reloadCounter.WithLabelValues("success").Inc()
	span.SetAttributes(attribute.Int("groups", len(next.Groups)))
	s.logger.DebugWithContext(ctx, "model reloaded",
		zap.Int("groups", len(next.Groups)),
		zap.Uint64("version", next.Version))

	s.mu.Lock()
	listeners := append([]SwapListener(nil), s.listeners...)
	s.mu.Unlock()
	for _, l := range listeners {
		l(previous, next)
	}
	return nil
}

// Load performs the initial load, retrying with exponential backoff until
// it succeeds, ctx is done, or the load timeout elapses.
func (s *Store) Load(ctx context.Context) error {
	policy := backoff.NewExponentialBackOff()
	policy.InitialInterval = 50 * time.Millisecond
	policy.MaxElapsedTime = s.loadTimeout

	attempt := 1
	err := backoff.Retry(func() error {
		err := s.Reload(ctx)
		if err != nil {
			s.logger.Info("waiting for model", zap.Int("attempt", attempt), zap.Error(err))
			attempt++
		}
		return err
	}, backoff.WithContext(policy, ctx))
	if err != nil {
		return fmt.Errorf("failed to load model: %w", err)
	}
	return nil
}
