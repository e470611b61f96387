package pipeline

import (
	"context"
	"errors"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/mock/gomock"

	"github.com/wrogo/wro/internal/mocks"
	"github.com/wrogo/wro/pkg/inject"
	"github.com/wrogo/wro/pkg/locator"
	"github.com/wrogo/wro/pkg/logger"
	"github.com/wrogo/wro/pkg/model"
	"github.com/wrogo/wro/pkg/options"
	"github.com/wrogo/wro/pkg/processor"
	"github.com/wrogo/wro/pkg/resource"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func css(uris ...string) []resource.Resource {
	out := make([]resource.Resource, 0, len(uris))
	for _, uri := range uris {
		out = append(out, resource.NewResource(uri, resource.TypeCSS))
	}
	return out
}

var files = fstest.MapFS{
	"a.css":      {Data: []byte(".a{}")},
	"b.css":      {Data: []byte(".b{}")},
	"x.css":      {Data: []byte(".x{}")},
	"app.js":     {Data: []byte("var app")},
	"lib/1.css":  {Data: []byte(".one{}")},
	"lib/2.css":  {Data: []byte(".two{}")},
	"latin1.css": {Data: []byte(".caf\xe9{}")},
	"m1.css":     {Data: []byte("a { color : red ; }")},
	"m2.css":     {Data: []byte("b { color : blue ; }")},
}

func newRunner(t *testing.T, registry *processor.Registry, opts ...RunnerOption) *Runner {
	t.Helper()
	locators := locator.NewRegistry(locator.WithFallback(locator.NewClasspathLocator(files)))
	if registry == nil {
		registry = processor.NewRegistry()
	}
	return NewRunner(locators, registry, opts...)
}

func run(t *testing.T, r *Runner, opts options.Options, m *resource.Model, key resource.CacheKey) (*resource.Entry, error) {
	t.Helper()
	pc := NewProcessingContext("req", opts, m)
	defer pc.Release()
	return r.Run(context.Background(), pc, key)
}

func upperPost() processor.PostProcessor {
	return processor.PostProcessorFunc(func(_ context.Context, _ resource.CacheKey, in string) (string, error) {
		return strings.ToUpper(in), nil
	})
}

var allCSS = resource.CacheKey{Group: "all", Type: resource.TypeCSS}

func TestConcatenationInModelOrder(t *testing.T) {
	m := resource.MustNewModel(resource.Group{Name: "all", Resources: css("a.css", "b.css")})

	entry, err := run(t, newRunner(t, nil), options.DefaultOptions(), m, allCSS)
	require.NoError(t, err)
	require.Equal(t, ".a{}\n.b{}", string(entry.Content))
	require.Equal(t, resource.NewEntry([]byte(".a{}\n.b{}"), time.Time{}).Hash, entry.Hash)
	require.False(t, entry.ProducedAt.IsZero())
}

func TestPostProcessorChain(t *testing.T) {
	registry := processor.NewRegistry()
	registry.MustRegisterPost("uppercase", upperPost)
	m := resource.MustNewModel(resource.Group{Name: "all", Resources: css("a.css", "b.css")})

	opts := options.DefaultOptions()
	opts.PostProcessors = "uppercase"
	entry, err := run(t, newRunner(t, registry), opts, m, allCSS)
	require.NoError(t, err)
	require.Equal(t, ".A{}\n.B{}", string(entry.Content))
}

func TestCycleIsSuppressed(t *testing.T) {
	m := resource.MustNewModel(
		resource.Group{Name: "a", Resources: []resource.Resource{resource.GroupRef("b")}},
		resource.Group{Name: "b", Resources: []resource.Resource{resource.GroupRef("a"), resource.NewResource("x.css", resource.TypeCSS)}},
	)

	entry, err := run(t, newRunner(t, nil), options.DefaultOptions(), m, resource.CacheKey{Group: "a", Type: resource.TypeCSS})
	require.NoError(t, err)
	require.Equal(t, ".x{}", string(entry.Content))
}

func TestNestedGroupsExpandInPlace(t *testing.T) {
	m := resource.MustNewModel(
		resource.Group{Name: "all", Resources: []resource.Resource{
			resource.NewResource("a.css", resource.TypeCSS),
			resource.GroupRef("vendor"),
			resource.GroupRef("missing"),
			resource.NewResource("b.css", resource.TypeCSS),
		}},
		resource.Group{Name: "vendor", Resources: css("x.css")},
	)

	entry, err := run(t, newRunner(t, nil), options.DefaultOptions(), m, allCSS)
	require.NoError(t, err)
	require.Equal(t, ".a{}\n.x{}\n.b{}", string(entry.Content))
}

func TestEmptyAndMismatchedGroups(t *testing.T) {
	m := resource.MustNewModel(
		resource.Group{Name: "empty"},
		resource.Group{Name: "scripts", Resources: []resource.Resource{resource.NewResource("app.js", resource.TypeJS)}},
	)
	r := newRunner(t, nil)

	entry, err := run(t, r, options.DefaultOptions(), m, resource.CacheKey{Group: "empty", Type: resource.TypeCSS})
	require.NoError(t, err)
	require.Empty(t, entry.Content)

	entry, err = run(t, r, options.DefaultOptions(), m, resource.CacheKey{Group: "scripts", Type: resource.TypeCSS})
	require.NoError(t, err)
	require.Empty(t, entry.Content)

	entry, err = run(t, r, options.DefaultOptions(), m, resource.CacheKey{Group: "scripts", Type: resource.TypeJS})
	require.NoError(t, err)
	require.Equal(t, "var app", string(entry.Content))
}

func TestErrors(t *testing.T) {
	m := resource.MustNewModel(
		resource.Group{Name: "all", Resources: css("a.css")},
		resource.Group{Name: "broken", Resources: css("a.css", "nope.css")},
	)
	registry := processor.NewRegistry()
	r := newRunner(t, registry)

	_, err := run(t, r, options.DefaultOptions(), m, resource.CacheKey{Group: "nope", Type: resource.TypeCSS})
	require.ErrorIs(t, err, ErrUnknownGroup)

	_, err = run(t, r, options.DefaultOptions(), nil, allCSS)
	require.ErrorIs(t, err, model.ErrNotLoaded)

	_, err = run(t, r, options.DefaultOptions(), m, resource.CacheKey{Group: "broken", Type: resource.TypeCSS})
	require.ErrorIs(t, err, locator.ErrResourceUnavailable)

	opts := options.DefaultOptions()
	opts.PreProcessors = "nope"
	_, err = run(t, r, opts, m, allCSS)
	require.ErrorIs(t, err, processor.ErrUnknownProcessor)

	opts = options.DefaultOptions()
	opts.Encoding = "klingon"
	_, err = run(t, r, opts, m, allCSS)
	require.ErrorContains(t, err, "unsupported encoding")

	r = NewRunner(locator.NewRegistry(), registry)
	_, err = run(t, r, options.DefaultOptions(), m, allCSS)
	require.ErrorIs(t, err, locator.ErrLocatorNotFound)
}

func TestIgnoreMissingResources(t *testing.T) {
	m := resource.MustNewModel(resource.Group{Name: "all", Resources: css("a.css", "nope.css", "gone/*.css", "b.css")})
	log, logs := logger.NewObserverLogger("warn")

	opts := options.DefaultOptions()
	opts.IgnoreMissingResources = true
	entry, err := run(t, newRunner(t, nil, WithLogger(log)), opts, m, allCSS)
	require.NoError(t, err)
	require.Equal(t, ".a{}\n\n.b{}", string(entry.Content))
	require.Equal(t, 2, logs.FilterMessage("ignoring missing resource").Len())
}

func TestWildcardExpansion(t *testing.T) {
	m := resource.MustNewModel(resource.Group{Name: "all", Resources: css("a.css", "lib/*.css")})

	entry, err := run(t, newRunner(t, nil), options.DefaultOptions(), m, allCSS)
	require.NoError(t, err)
	require.Equal(t, ".a{}\n.one{}\n.two{}", string(entry.Content))
}

func TestPreProcessorFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	failing := mocks.NewMockPreProcessor(ctrl)
	boom := errors.New("boom")
	failing.EXPECT().Process(gomock.Any(), gomock.Any(), ".a{}").Return("", boom).Times(2)

	registry := processor.NewRegistry()
	registry.MustRegisterPre("strict", func() processor.PreProcessor { return failing })
	registry.MustRegisterPre("lenient", func() processor.PreProcessor { return processor.LenientPre(failing) })
	m := resource.MustNewModel(resource.Group{Name: "all", Resources: css("a.css")})
	log, logs := logger.NewObserverLogger("warn")
	r := newRunner(t, registry, WithLogger(log))

	opts := options.DefaultOptions()
	opts.PreProcessors = "strict"
	_, err := run(t, r, opts, m, allCSS)
	require.ErrorIs(t, err, ErrPreProcessorFailed)
	require.ErrorIs(t, err, boom)
	require.ErrorContains(t, err, "'strict' on 'a.css'")

	opts.PreProcessors = "lenient"
	entry, err := run(t, r, opts, m, allCSS)
	require.NoError(t, err)
	require.Equal(t, ".a{}", string(entry.Content))
	require.Equal(t, 1, logs.FilterMessage("lenient pre-processor failed, passing input through").Len())
}

func TestPostProcessorFailure(t *testing.T) {
	ctrl := gomock.NewController(t)
	failing := mocks.NewMockPostProcessor(ctrl)
	failing.EXPECT().Process(gomock.Any(), allCSS, ".a{}").Return("", errors.New("boom")).Times(2)

	registry := processor.NewRegistry()
	registry.MustRegisterPost("strict", func() processor.PostProcessor { return failing })
	registry.MustRegisterPost("lenient", func() processor.PostProcessor { return processor.LenientPost(failing) })
	m := resource.MustNewModel(resource.Group{Name: "all", Resources: css("a.css")})
	r := newRunner(t, registry)

	opts := options.DefaultOptions()
	opts.PostProcessors = "strict"
	_, err := run(t, r, opts, m, allCSS)
	require.ErrorIs(t, err, ErrPostProcessorFailed)

	opts.PostProcessors = "lenient"
	entry, err := run(t, r, opts, m, allCSS)
	require.NoError(t, err)
	require.Equal(t, ".a{}", string(entry.Content))
}

func TestPanickingProcessorsFail(t *testing.T) {
	registry := processor.NewRegistry()
	registry.MustRegisterPre("boom", func() processor.PreProcessor {
		return processor.PreProcessorFunc(func(context.Context, resource.Resource, string) (string, error) {
			panic("processor bug")
		})
	})
	registry.MustRegisterPost("boom", func() processor.PostProcessor {
		return processor.PostProcessorFunc(func(context.Context, resource.CacheKey, string) (string, error) {
			panic("processor bug")
		})
	})
	m := resource.MustNewModel(resource.Group{Name: "all", Resources: css("a.css")})
	log, logs := logger.NewObserverLogger("error")
	r := newRunner(t, registry, WithLogger(log))

	opts := options.DefaultOptions()
	opts.PreProcessors = "boom"
	_, err := run(t, r, opts, m, allCSS)
	require.ErrorIs(t, err, ErrPreProcessorFailed)
	require.ErrorContains(t, err, "processor bug")

	opts.PreProcessors = ""
	opts.PostProcessors = "boom"
	_, err = run(t, r, opts, m, allCSS)
	require.ErrorIs(t, err, ErrPostProcessorFailed)

	panicked := logs.FilterMessage("processor panicked").All()
	require.Len(t, panicked, 2)
	require.Equal(t, "boom", panicked[0].ContextMap()["processor"])
}

func TestMinimizeAndTypePolicies(t *testing.T) {
	m := resource.MustNewModel(resource.Group{Name: "all", Resources: []resource.Resource{
		resource.NewResource("m1.css", resource.TypeCSS),
		{URI: "m2.css", Type: resource.TypeCSS, Minimize: false},
	}})
	minimized := resource.CacheKey{Group: "all", Type: resource.TypeCSS, Minimize: true}
	r := newRunner(t, processor.NewDefaultRegistry())

	opts := options.DefaultOptions()
	opts.PreProcessors = "cssMin,jsMin"

	// minimize=false on the key disables every minimizer
	entry, err := run(t, r, opts, m, allCSS)
	require.NoError(t, err)
	require.Equal(t, "a { color : red ; }\nb { color : blue ; }", string(entry.Content))

	// cssMin runs on m1.css only, jsMin never applies to css
	entry, err = run(t, r, opts, m, minimized)
	require.NoError(t, err)
	require.Equal(t, "a{color:red}\nb { color : blue ; }", string(entry.Content))

	opts.PreProcessors = ""
	opts.PostProcessors = "cssMin"
	entry, err = run(t, r, opts, m, minimized)
	require.NoError(t, err)
	require.Equal(t, "a{color:red}b{color:blue}", string(entry.Content))

	entry, err = run(t, r, opts, m, allCSS)
	require.NoError(t, err)
	require.Equal(t, "a { color : red ; }\nb { color : blue ; }", string(entry.Content))
}

func TestCancellationAtProcessorBoundary(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	var second atomic.Bool

	registry := processor.NewRegistry()
	registry.MustRegisterPre("cancel", func() processor.PreProcessor {
		return processor.PreProcessorFunc(func(_ context.Context, _ resource.Resource, in string) (string, error) {
			cancel()
			return in, nil
		})
	})
	registry.MustRegisterPre("after", func() processor.PreProcessor {
		return processor.PreProcessorFunc(func(_ context.Context, _ resource.Resource, in string) (string, error) {
			second.Store(true)
			return in, nil
		})
	})
	m := resource.MustNewModel(resource.Group{Name: "all", Resources: css("a.css")})
	r := newRunner(t, registry)

	opts := options.DefaultOptions()
	opts.PreProcessors = "cancel,after"
	pc := NewProcessingContext("req", opts, m)
	defer pc.Release()

	entry, err := r.Run(ctx, pc, allCSS)
	require.Nil(t, entry)
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, context.Canceled)
	require.False(t, second.Load())
}

func TestParallelPreprocessingKeepsOrder(t *testing.T) {
	registry := processor.NewRegistry()
	registry.MustRegisterPre("slowFirst", func() processor.PreProcessor {
		return processor.PreProcessorFunc(func(_ context.Context, res resource.Resource, in string) (string, error) {
			if res.URI == "a.css" {
				time.Sleep(20 * time.Millisecond)
			}
			return in, nil
		})
	})
	m := resource.MustNewModel(resource.Group{Name: "all", Resources: css("a.css", "b.css", "x.css")})

	opts := options.DefaultOptions()
	opts.PreProcessors = "slowFirst"
	opts.ParallelPreprocessing = true
	opts.MaxParallelism = 3
	entry, err := run(t, newRunner(t, registry), opts, m, allCSS)
	require.NoError(t, err)
	require.Equal(t, ".a{}\n.b{}\n.x{}", string(entry.Content))

	// one failing resource fails the whole run
	m = resource.MustNewModel(resource.Group{Name: "all", Resources: css("a.css", "nope.css", "x.css")})
	_, err = run(t, newRunner(t, registry), opts, m, allCSS)
	require.ErrorIs(t, err, locator.ErrResourceUnavailable)
}

func TestCharset(t *testing.T) {
	m := resource.MustNewModel(resource.Group{Name: "all", Resources: css("latin1.css")})

	opts := options.DefaultOptions()
	opts.Encoding = "ISO-8859-1"
	registry := processor.NewRegistry()
	var seen string
	registry.MustRegisterPre("spy", func() processor.PreProcessor {
		return processor.PreProcessorFunc(func(_ context.Context, _ resource.Resource, in string) (string, error) {
			seen = in
			return in, nil
		})
	})
	opts.PreProcessors = "spy"

	entry, err := run(t, newRunner(t, registry), opts, m, allCSS)
	require.NoError(t, err)
	require.Equal(t, ".café{}", seen)
	require.Equal(t, ".caf\xe9{}", string(entry.Content))
}

type injectable struct {
	processor.PreProcessor
	injected atomic.Int32
}

func (i *injectable) Slots() []inject.Slot { return []inject.Slot{inject.SlotOptions} }

func (i *injectable) Inject(inject.Slot, any) error {
	i.injected.Add(1)
	return nil
}

func TestChainsAreResolvedAndInjectedOnce(t *testing.T) {
	var created atomic.Int32
	var instance *injectable
	registry := processor.NewRegistry()
	registry.MustRegisterPre("wired", func() processor.PreProcessor {
		created.Add(1)
		instance = &injectable{PreProcessor: processor.PreProcessorFunc(func(_ context.Context, _ resource.Resource, in string) (string, error) {
			return in, nil
		})}
		return instance
	})
	m := resource.MustNewModel(resource.Group{Name: "all", Resources: css("a.css")})

	r := newRunner(t, registry, WithInjector(inject.New(inject.WithValue(inject.SlotOptions, "x"))))
	opts := options.DefaultOptions()
	opts.PreProcessors = "wired"
	for i := 0; i < 3; i++ {
		_, err := run(t, r, opts, m, allCSS)
		require.NoError(t, err)
	}
	require.EqualValues(t, 1, created.Load())
	require.EqualValues(t, 1, instance.injected.Load())

	// without a provider the chain cannot be built
	r = newRunner(t, registry)
	_, err := run(t, r, opts, m, allCSS)
	require.ErrorIs(t, err, inject.ErrUnknownSlot)
}

func TestProcessingContextRelease(t *testing.T) {
	pc := NewProcessingContext("req", options.DefaultOptions(), nil)
	var order []int
	pc.OnRelease(func() { order = append(order, 1) })
	pc.OnRelease(func() { order = append(order, 2) })

	require.False(t, pc.Released())
	pc.Release()
	pc.Release()
	require.True(t, pc.Released())
	require.Equal(t, []int{2, 1}, order)

	pc.OnRelease(func() { order = append(order, 3) })
	require.Equal(t, []int{2, 1, 3}, order)
}
