package processor

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/wrogo/wro/pkg/enginepool"
	"github.com/wrogo/wro/pkg/inject"
	"github.com/wrogo/wro/pkg/logger"
	"github.com/wrogo/wro/pkg/resource"
)

func TestLintProcessor(t *testing.T) {
	pools := enginepool.NewManager(enginepool.Config{MaxSize: 1, Timeout: time.Second})
	t.Cleanup(pools.Close)

	log, logs := logger.NewObserverLogger("warn")
	injector := inject.New(
		inject.WithValue(inject.SlotLogger, log),
		inject.WithValue(inject.SlotEnginePool, pools),
	)

	p := NewCSSLint()
	_, err := p.Process(context.Background(), resource.Resource{}, ".a{}")
	require.ErrorIs(t, err, errNotInjected)

	require.NoError(t, injector.Inject(p))

	input := ".a{color:red !important}\n.b{}"
	out, err := p.Process(context.Background(), resource.NewResource("a.css", resource.TypeCSS), input)
	require.NoError(t, err)
	require.Equal(t, input, out)

	findings := logs.FilterMessage("lint finding").All()
	require.Len(t, findings, 2)
	require.Equal(t, "a.css", findings[0].ContextMap()["uri"])
	require.Equal(t, AliasCSSLint, findings[0].ContextMap()["processor"])

	// instances of one alias share a pool
	other := NewCSSLint()
	require.NoError(t, injector.Inject(other))
	require.Same(t, p.pool, other.pool)

	js := NewJSLint()
	require.NoError(t, injector.Inject(js))
	require.NotSame(t, p.pool, js.pool)
	require.Equal(t, []resource.Type{resource.TypeJS}, js.SupportedTypes())

	stats := pools.Stats()
	require.Equal(t, uint64(1), stats[AliasCSSLint].Created)
}

func TestLintProcessorPoolExhausted(t *testing.T) {
	pools := enginepool.NewManager(enginepool.Config{MaxSize: 1, Timeout: 10 * time.Millisecond})
	t.Cleanup(pools.Close)

	injector := inject.New(
		inject.WithValue(inject.SlotLogger, logger.Logger(logger.NewNoopLogger())),
		inject.WithValue(inject.SlotEnginePool, pools),
	)
	p := NewJSLint()
	require.NoError(t, injector.Inject(p))

	e, err := p.pool.Checkout(context.Background())
	require.NoError(t, err)
	defer p.pool.Return(e)

	_, err = p.Process(context.Background(), resource.NewResource("a.js", resource.TypeJS), "var a")
	require.ErrorIs(t, err, enginepool.ErrPoolExhausted)
}

func TestLintPostProcessor(t *testing.T) {
	pools := enginepool.NewManager(enginepool.Config{MaxSize: 1, Timeout: time.Second})
	t.Cleanup(pools.Close)

	log, logs := logger.NewObserverLogger("warn")
	injector := inject.New(
		inject.WithValue(inject.SlotLogger, log),
		inject.WithValue(inject.SlotEnginePool, pools),
	)

	post := NewCSSLintPost()
	require.NoError(t, injector.Inject(post))
	pre := NewCSSLint()
	require.NoError(t, injector.Inject(pre))
	require.Same(t, pre.pool, post.pool)

	key := resource.CacheKey{Group: "all", Type: resource.TypeCSS}
	input := ".a{}\n.b{color:red !important}"
	out, err := post.Process(context.Background(), key, input)
	require.NoError(t, err)
	require.Equal(t, input, out)

	findings := logs.FilterMessage("lint finding").All()
	require.NotEmpty(t, findings)
	require.Equal(t, key.String(), findings[0].ContextMap()["key"])
	require.True(t, Supports(post, resource.TypeCSS))
	require.False(t, Supports(post, resource.TypeJS))
}
