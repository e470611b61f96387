// Package pipeline turns a group of the model into a bundle: it locates
// every member, runs the pre-processor chain on each, concatenates them in
// model order and runs the post-processor chain on the result.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"io"
	"runtime/debug"
	"strings"
	"sync"
	"time"

	"github.com/emirpasic/gods/sets/hashset"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/wrogo/wro/internal/build"
	"github.com/wrogo/wro/internal/concurrency"
	ierrors "github.com/wrogo/wro/internal/errors"
	"github.com/wrogo/wro/pkg/inject"
	"github.com/wrogo/wro/pkg/locator"
	"github.com/wrogo/wro/pkg/logger"
	"github.com/wrogo/wro/pkg/model"
	"github.com/wrogo/wro/pkg/processor"
	"github.com/wrogo/wro/pkg/resource"
	"github.com/wrogo/wro/pkg/telemetry"
)

var tracer = otel.Tracer("pkg/pipeline")

var (
	ErrUnknownGroup        = errors.New("unknown group")
	ErrPreProcessorFailed  = errors.New("pre-processor failed")
	ErrPostProcessorFailed = errors.New("post-processor failed")

	// ErrCancelled is returned when the run was aborted. Nothing produced by
	// an aborted run is ever published.
	ErrCancelled = errors.New("pipeline run cancelled")

	runDurationHistogram = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: build.ProjectName,
		Name:      "pipeline_run_duration_ms",
		Help:      "The duration (in ms) of a pipeline run labeled by resource type and outcome.",
		Buckets:   []float64{1, 5, 10, 25, 50, 100, 250, 500, 1000, 2500, 5000},
	}, []string{"type", "outcome"})
)

// Separator joins the processed resources of a bundle.
const Separator = "\n"

type preChain = []processor.Named[processor.PreProcessor]
type postChain = []processor.Named[processor.PostProcessor]

// Runner executes pipeline runs. It is stateless between runs apart from
// the resolved processor chains, which are cached per alias list. Processor
// instances are shared by concurrent runs.
type Runner struct {
	locators   locator.Locator
	processors *processor.Registry
	injector   *inject.Injector
	logger     logger.Logger
	now        func() time.Time

	preChains  sync.Map // alias list -> preChain
	postChains sync.Map // alias list -> postChain
}

type RunnerOption func(*Runner)

func WithLogger(l logger.Logger) RunnerOption {
	return func(r *Runner) {
		r.logger = l
	}
}

// WithInjector sets the injector applied to every resolved processor.
func WithInjector(i *inject.Injector) RunnerOption {
	return func(r *Runner) {
		r.injector = i
	}
}

// WithClock sets the time source stamping entries.
func WithClock(now func() time.Time) RunnerOption {
	return func(r *Runner) {
		r.now = now
	}
}

func NewRunner(locators locator.Locator, processors *processor.Registry, opts ...RunnerOption) *Runner {
	r := &Runner{
		locators:   locators,
		processors: processors,
		injector:   inject.New(),
		logger:     logger.NewNoopLogger(),
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func cancelled(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return ierrors.With(err, ErrCancelled)
	}
	return nil
}

// Run builds the bundle of key with the snapshots held by pc.
func (r *Runner) Run(ctx context.Context, pc *ProcessingContext, key resource.CacheKey) (*resource.Entry, error) {
	ctx, span := tracer.Start(ctx, "pipeline.Run", trace.WithAttributes(
		attribute.String("group", key.Group),
		attribute.String("type", string(key.Type)),
		attribute.Bool("minimize", key.Minimize),
	))
	defer span.End()

	start := time.Now()
	entry, err := r.run(ctx, pc, key)

	outcome := "success"
	switch {
	case errors.Is(err, ErrCancelled):
		outcome = "cancelled"
	case err != nil:
		outcome = "failure"
		telemetry.TraceError(span, err)
	}
	runDurationHistogram.WithLabelValues(string(key.Type), outcome).Observe(float64(time.Since(start).Milliseconds()))
	return entry, err
}

func (r *Runner) run(ctx context.Context, pc *ProcessingContext, key resource.CacheKey) (*resource.Entry, error) {
	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	cs, err := newCharset(pc.Options.Encoding)
	if err != nil {
		return nil, err
	}
	pre, err := r.preChain(pc.Options.PreProcessors)
	if err != nil {
		return nil, err
	}
	post, err := r.postChain(pc.Options.PostProcessors)
	if err != nil {
		return nil, err
	}

	resources, err := r.resources(ctx, pc, key)
	if err != nil {
		return nil, err
	}

	texts := make([]string, len(resources))
	process := func(ctx context.Context, i int) error {
		text, err := r.preProcess(ctx, pc, key, cs, pre, resources[i])
		if err != nil {
			return err
		}
		texts[i] = text
		return nil
	}

	if pc.Options.ParallelPreprocessing && len(resources) > 1 {
		err = concurrency.ForEachIndex(ctx, len(resources), pc.Options.MaxParallelism, process)
	} else {
		for i := range resources {
			if err = process(ctx, i); err != nil {
				break
			}
		}
	}
	if err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			return nil, cerr
		}
		return nil, err
	}

	bundle, err := r.postProcess(ctx, key, post, strings.Join(texts, Separator))
	if err != nil {
		return nil, err
	}
	if err := cancelled(ctx); err != nil {
		return nil, err
	}

	out, err := cs.encode(bundle)
	if err != nil {
		return nil, fmt.Errorf("failed to encode bundle as %s: %w", cs.name, err)
	}
	return resource.NewEntry(out, r.now()), nil
}

// resources expands the group of key into the ordered list of resources of
// the requested type. Group references expand in place; a group already
// visited during the expansion is skipped, which suppresses cycles.
func (r *Runner) resources(ctx context.Context, pc *ProcessingContext, key resource.CacheKey) ([]resource.Resource, error) {
	if pc.Model == nil {
		return nil, model.ErrNotLoaded
	}
	g, ok := pc.Model.Group(key.Group)
	if !ok {
		return nil, fmt.Errorf("%w '%s'", ErrUnknownGroup, key.Group)
	}

	var members []resource.Resource
	visited := hashset.New(g.Name)
	var expand func(g resource.Group)
	expand = func(g resource.Group) {
		for _, res := range g.Resources {
			if !res.IsGroupRef() {
				if res.Type == key.Type {
					members = append(members, res)
				}
				continue
			}
			name := res.RefName()
			if visited.Contains(name) {
				r.logger.DebugWithContext(ctx, "skipping repeated group reference",
					zap.String("group", g.Name), zap.String("ref", name))
				continue
			}
			visited.Add(name)
			ref, ok := pc.Model.Group(name)
			if !ok {
				r.logger.WarnWithContext(ctx, "skipping reference to unknown group",
					zap.String("group", g.Name), zap.String("ref", name))
				continue
			}
			expand(ref)
		}
	}
	expand(g)

	expander, ok := r.locators.(locator.Expander)
	if !ok {
		return members, nil
	}

	var out []resource.Resource
	for _, res := range members {
		if !locator.IsWildcard(res.URI) {
			out = append(out, res)
			continue
		}
		uris, err := expander.Expand(ctx, res.URI)
		if err != nil {
			if pc.Options.IgnoreMissingResources && errors.Is(err, locator.ErrResourceUnavailable) {
				r.logger.WarnWithContext(ctx, "ignoring missing resource", zap.String("uri", res.URI), zap.Error(err))
				continue
			}
			return nil, err
		}
		for _, uri := range uris {
			expanded := res
			expanded.URI = uri
			out = append(out, expanded)
		}
	}
	return out, nil
}

func (r *Runner) fetch(ctx context.Context, cs *charset, res resource.Resource) (string, error) {
	rc, err := r.locators.Open(ctx, res.URI)
	if err != nil {
		return "", err
	}
	defer rc.Close()

	b, err := io.ReadAll(rc)
	if err != nil {
		return "", fmt.Errorf("%w: '%s': %w", locator.ErrResourceUnavailable, res.URI, err)
	}
	text, err := cs.decode(b)
	if err != nil {
		return "", fmt.Errorf("failed to decode '%s' as %s: %w", res.URI, cs.name, err)
	}
	return text, nil
}

func (r *Runner) preProcess(ctx context.Context, pc *ProcessingContext, key resource.CacheKey, cs *charset, chain preChain, res resource.Resource) (string, error) {
	text, err := r.fetch(ctx, cs, res)
	if err != nil {
		if cerr := cancelled(ctx); cerr != nil {
			return "", cerr
		}
		if pc.Options.IgnoreMissingResources && errors.Is(err, locator.ErrResourceUnavailable) {
			r.logger.WarnWithContext(ctx, "ignoring missing resource", zap.String("uri", res.URI), zap.Error(err))
			return "", nil
		}
		return "", err
	}

	for _, p := range chain {
		if err := cancelled(ctx); err != nil {
			return "", err
		}
		if !processor.Supports(p.Processor, res.Type) {
			continue
		}
		if processor.IsMinimizer(p.Processor) && !(key.Minimize && res.Minimize) {
			continue
		}

		pctx, span := tracer.Start(ctx, "pre."+p.Alias, trace.WithAttributes(attribute.String("uri", res.URI)))
		out, err := r.guard(ctx, p.Alias, func() (string, error) {
			return p.Processor.Process(pctx, res, text)
		})
		span.End()
		if err != nil {
			if cerr := cancelled(ctx); cerr != nil {
				return "", cerr
			}
			if processor.IsLenient(p.Processor) {
				r.logger.WarnWithContext(ctx, "lenient pre-processor failed, passing input through",
					zap.String("processor", p.Alias), zap.String("uri", res.URI), zap.Error(err))
				continue
			}
			return "", ierrors.With(fmt.Errorf("'%s' on '%s': %w", p.Alias, res.URI, err), ErrPreProcessorFailed)
		}
		text = out
	}
	return text, nil
}

func (r *Runner) postProcess(ctx context.Context, key resource.CacheKey, chain postChain, bundle string) (string, error) {
	for _, p := range chain {
		if err := cancelled(ctx); err != nil {
			return "", err
		}
		if !processor.Supports(p.Processor, key.Type) {
			continue
		}
		if processor.IsMinimizer(p.Processor) && !key.Minimize {
			continue
		}

		pctx, span := tracer.Start(ctx, "post."+p.Alias)
		out, err := r.guard(ctx, p.Alias, func() (string, error) {
			return p.Processor.Process(pctx, key, bundle)
		})
		span.End()
		if err != nil {
			if cerr := cancelled(ctx); cerr != nil {
				return "", cerr
			}
			if processor.IsLenient(p.Processor) {
				r.logger.WarnWithContext(ctx, "lenient post-processor failed, passing input through",
					zap.String("processor", p.Alias), zap.String("key", key.String()), zap.Error(err))
				continue
			}
			return "", ierrors.With(fmt.Errorf("'%s' on '%s': %w", p.Alias, key, err), ErrPostProcessorFailed)
		}
		bundle = out
	}
	return bundle, nil
}

// guard turns a panic of a processor into an error.
func (r *Runner) guard(ctx context.Context, alias string, process func() (string, error)) (out string, err error) {
	defer func() {
		if v := recover(); v != nil {
			r.logger.ErrorWithContext(ctx, "processor panicked",
				zap.String("processor", alias),
				zap.Any("panic", v),
				zap.ByteString("stacktrace", debug.Stack()))
			out, err = "", fmt.Errorf("panic occurred: %v", v)
		}
	}()
	return process()
}

func (r *Runner) preChain(list string) (preChain, error) {
	if v, ok := r.preChains.Load(list); ok {
		return v.(preChain), nil
	}
	chain, err := r.processors.ResolvePre(list)
	if err != nil {
		return nil, err
	}
	for _, p := range chain {
		if err := r.injector.Inject(p.Target()); err != nil {
			return nil, fmt.Errorf("failed to inject pre-processor '%s': %w", p.Alias, err)
		}
	}
	v, _ := r.preChains.LoadOrStore(list, chain)
	return v.(preChain), nil
}

func (r *Runner) postChain(list string) (postChain, error) {
	if v, ok := r.postChains.Load(list); ok {
		return v.(postChain), nil
	}
	chain, err := r.processors.ResolvePost(list)
	if err != nil {
		return nil, err
	}
	for _, p := range chain {
		if err := r.injector.Inject(p.Target()); err != nil {
			return nil, fmt.Errorf("failed to inject post-processor '%s': %w", p.Alias, err)
		}
	}
	v, _ := r.postChains.LoadOrStore(list, chain)
	return v.(postChain), nil
}
