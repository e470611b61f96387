package enginepool

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestManager(t *testing.T) {
	m := NewManager(Config{MaxSize: 1, Timeout: 10 * time.Millisecond})

	create, _ := counterFactory()
	css := NewPool(m, "cssLint", create)
	js := NewPool(m, "jsLint", create)

	e, err := css.Checkout(context.Background())
	require.NoError(t, err)
	_, err = css.Checkout(context.Background())
	require.ErrorIs(t, err, ErrPoolExhausted)

	m.Configure(Config{MaxSize: 2, Timeout: time.Second})
	require.Equal(t, 2, m.Config().MaxSize)
	e2, err := css.Checkout(context.Background())
	require.NoError(t, err)

	css.Return(e)
	css.Return(e2)

	stats := m.Stats()
	require.Equal(t, Stats{Idle: 2, Created: 2}, stats["cssLint"])
	require.Equal(t, Stats{}, stats["jsLint"])

	m.Close()
	_, err = css.Checkout(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
	_, err = js.Checkout(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)

	late := NewPool(m, "late", create)
	_, err = late.Checkout(context.Background())
	require.ErrorIs(t, err, ErrPoolClosed)
}

func TestConfigDefaults(t *testing.T) {
	cfg := Config{}.withDefaults()
	require.Positive(t, cfg.MaxSize)
	require.Equal(t, DefaultTimeout, cfg.Timeout)
}

func TestShared(t *testing.T) {
	m := NewManager(Config{MaxSize: 1, Timeout: time.Second})
	t.Cleanup(m.Close)

	create, _ := counterFactory()
	a := Shared(m, "cssLint", create)
	b := Shared(m, "cssLint", create)
	require.Same(t, a, b)

	c := Shared(m, "jsLint", create)
	require.NotSame(t, a, c)
	require.Len(t, m.Stats(), 2)
}
