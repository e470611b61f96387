// Package scheduler runs the periodic model reload and cache invalidation.
package scheduler

import (
	"context"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/wrogo/wro/internal/build"
	"github.com/wrogo/wro/pkg/logger"
	"github.com/wrogo/wro/pkg/options"
)

var tickCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: build.ProjectName,
	Name:      "scheduler_tick_count",
	Help:      "The total number of scheduler ticks labeled by job.",
}, []string{"job"})

// Reloader reloads the model. model.Store implements it.
type Reloader interface {
	Reload(ctx context.Context) error
}

// Invalidator marks every cache entry stale. cache.Cache implements it.
type Invalidator interface {
	InvalidateAll()
}

const (
	jobModel = "model"
	jobCache = "cache"
)

// Scheduler owns two independent timers. The model timer reloads the model,
// whose swap listeners invalidate the cache; the cache timer only
// invalidates the cache. Each timer re-arms when its period option changes, and a period of
// zero disarms it.
type Scheduler struct {
	source      *options.Source
	reloader    Reloader
	invalidator Invalidator

	logger        logger.Logger
	onReloadError func(error)

	jobs        []*job
	unsubscribe []func()

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
	start  sync.Once
	stop   sync.Once
}

type Option func(*Scheduler)

func WithLogger(l logger.Logger) Option {
	return func(s *Scheduler) {
		s.logger = l
	}
}

// WithReloadErrorHandler sets the hook called when a scheduled model reload
// fails. The default logs the error. The previous model stays in place and
// the next tick retries.
func WithReloadErrorHandler(fn func(error)) Option {
	return func(s *Scheduler) {
		s.onReloadError = fn
	}
}

func New(source *options.Source, reloader Reloader, invalidator Invalidator, opts ...Option) *Scheduler {
	s := &Scheduler{
		source:      source,
		reloader:    reloader,
		invalidator: invalidator,
		logger:      logger.NewNoopLogger(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.onReloadError == nil {
		s.onReloadError = func(err error) {
			s.logger.Error("scheduled model reload failed, keeping previous model", zap.Error(err))
		}
	}
	s.ctx, s.cancel = context.WithCancel(context.Background())

	current := source.Get()
	s.jobs = []*job{
		newJob(jobModel, current.ModelUpdatePeriod, s.reloadModel),
		newJob(jobCache, current.CacheUpdatePeriod, s.invalidateCache),
	}
	return s
}

// Start subscribes to the period options and arms the timers.
func (s *Scheduler) Start() {
	s.start.Do(func() {
		model, cache := s.jobs[0], s.jobs[1]
		s.unsubscribe = append(s.unsubscribe,
			s.source.Subscribe(options.PropertyModelUpdatePeriod, func(_, current options.Options) {
				s.logger.Info("model update period changed", zap.Duration("period", current.ModelUpdatePeriod))
				model.set(current.ModelUpdatePeriod)
			}),
			s.source.Subscribe(options.PropertyCacheUpdatePeriod, func(_, current options.Options) {
				s.logger.Info("cache update period changed", zap.Duration("period", current.CacheUpdatePeriod))
				cache.set(current.CacheUpdatePeriod)
			}),
		)

		for _, j := range s.jobs {
			s.wg.Add(1)
			go func() {
				defer s.wg.Done()
				j.loop(s.ctx)
			}()
		}
	})
}

// Stop disarms both timers and waits for a running tick to return.
func (s *Scheduler) Stop() {
	s.stop.Do(func() {
		for _, unsubscribe := range s.unsubscribe {
			unsubscribe()
		}
		s.cancel()
		s.wg.Wait()
	})
}

func (s *Scheduler) reloadModel(ctx context.Context) {
	if err := s.reloader.Reload(ctx); err != nil {
		if ctx.Err() == nil {
			s.onReloadError(err)
		}
		return
	}
	s.logger.Debug("model reloaded")
}

func (s *Scheduler) invalidateCache(context.Context) {
	s.invalidator.InvalidateAll()
	s.logger.Debug("cache invalidated")
}

type job struct {
	name string
	run  func(ctx context.Context)

	mu     sync.Mutex
	period time.Duration
	wake   chan struct{}
}

func newJob(name string, period time.Duration, run func(ctx context.Context)) *job {
	return &job{
		name:   name,
		run:    run,
		period: period,
		wake:   make(chan struct{}, 1),
	}
}

// set changes the period. It never blocks, even while a tick is running.
func (j *job) set(period time.Duration) {
	j.mu.Lock()
	j.period = period
	j.mu.Unlock()

	select {
	case j.wake <- struct{}{}:
	default:
	}
}

func (j *job) current() time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.period
}

func (j *job) loop(ctx context.Context) {
	var timer *time.Timer
	var fire <-chan time.Time
	arm := func() {
		if timer != nil {
			timer.Stop()
		}
		fire = nil
		if period := j.current(); period > 0 {
			timer = time.NewTimer(period)
			fire = timer.C
		}
	}
	defer func() {
		if timer != nil {
			timer.Stop()
		}
	}()

	arm()
	for {
		select {
		case <-ctx.Done():
			return
		case <-j.wake:
			arm()
		case <-fire:
			tickCounter.WithLabelValues(j.name).Inc()
			j.run(ctx)
			arm()
		}
	}
}
