package cache

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	ierrors "github.com/wrogo/wro/internal/errors"
	"github.com/wrogo/wro/pkg/pipeline"
	"github.com/wrogo/wro/pkg/resource"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

var key = resource.CacheKey{Group: "all", Type: resource.TypeCSS}

// counting returns a producer that yields "v<n>" on its n-th call.
func counting(calls *atomic.Int32) Producer {
	return func(context.Context) (*resource.Entry, error) {
		n := calls.Add(1)
		return resource.NewEntry([]byte(fmt.Sprintf("v%d", n)), time.Now()), nil
	}
}

// blocking returns a producer that waits for release or cancellation.
func blocking(calls *atomic.Int32, release <-chan struct{}) Producer {
	return func(ctx context.Context) (*resource.Entry, error) {
		n := calls.Add(1)
		select {
		case <-release:
			return resource.NewEntry([]byte(fmt.Sprintf("v%d", n)), time.Now()), nil
		case <-ctx.Done():
			return nil, ierrors.With(ctx.Err(), pipeline.ErrCancelled)
		}
	}
}

func content(t *testing.T) func(e *resource.Entry, err error) string {
	return func(e *resource.Entry, err error) string {
		t.Helper()
		require.NoError(t, err)
		require.NotNil(t, e)
		return string(e.Content)
	}
}

func TestSingleFlight(t *testing.T) {
	c := New()
	t.Cleanup(c.Close)

	var calls atomic.Int32
	produce := func(ctx context.Context) (*resource.Entry, error) {
		time.Sleep(20 * time.Millisecond)
		return counting(&calls)(ctx)
	}

	var wg sync.WaitGroup
	results := make([]string, 100)
	for i := range results {
		wg.Add(1)
		go func() {
			defer wg.Done()
			e, err := c.Get(context.Background(), key, produce)
			if err == nil {
				results[i] = string(e.Content)
			}
		}()
	}
	wg.Wait()

	require.EqualValues(t, 1, calls.Load())
	for _, r := range results {
		require.Equal(t, "v1", r)
	}
	require.Equal(t, 1, c.Len())
}

func TestDistinctKeysBuildIndependently(t *testing.T) {
	c := New()
	t.Cleanup(c.Close)

	var calls atomic.Int32
	other := resource.CacheKey{Group: "all", Type: resource.TypeCSS, Minimize: true}

	require.Equal(t, "v1", content(t)(c.Get(context.Background(), key, counting(&calls))))
	require.Equal(t, "v2", content(t)(c.Get(context.Background(), other, counting(&calls))))
	require.Equal(t, "v1", content(t)(c.Get(context.Background(), key, counting(&calls))))
}

func TestFailuresAreNotCached(t *testing.T) {
	c := New()
	t.Cleanup(c.Close)

	var calls atomic.Int32
	boom := errors.New("boom")
	produce := func(ctx context.Context) (*resource.Entry, error) {
		if calls.Load() == 0 {
			calls.Add(1)
			return nil, boom
		}
		return counting(&calls)(ctx)
	}

	_, err := c.Get(context.Background(), key, produce)
	require.ErrorIs(t, err, boom)
	require.Equal(t, 0, c.Len())

	require.Equal(t, "v2", content(t)(c.Get(context.Background(), key, produce)))
	require.EqualValues(t, 2, calls.Load())
}

func TestInvalidation(t *testing.T) {
	c := New()
	t.Cleanup(c.Close)
	var calls atomic.Int32
	produce := counting(&calls)

	require.Equal(t, "v1", content(t)(c.Get(context.Background(), key, produce)))

	c.Invalidate(key)
	require.Equal(t, "v2", content(t)(c.Get(context.Background(), key, produce)))
	require.Equal(t, "v2", content(t)(c.Get(context.Background(), key, produce)))

	c.InvalidateAll()
	require.Equal(t, "v3", content(t)(c.Get(context.Background(), key, produce)))

	c.Clear()
	require.Equal(t, 0, c.Len())
	require.Equal(t, "v4", content(t)(c.Get(context.Background(), key, produce)))

	// invalidating a missing key is a no-op
	c.Invalidate(resource.CacheKey{Group: "nope", Type: resource.TypeJS})
	require.EqualValues(t, 4, calls.Load())
}

func TestInvalidateRacingRebuildKeepsLatestEntry(t *testing.T) {
	c := New()
	t.Cleanup(c.Close)
	var calls atomic.Int32
	produce := counting(&calls)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 200; j++ {
				c.Invalidate(key)
				_, _ = c.Get(context.Background(), key, produce)
			}
		}()
	}
	wg.Wait()

	rec, ok := c.store.Get(key)
	require.True(t, ok)
	require.Equal(t, fmt.Sprintf("v%d", calls.Load()), string(rec.Entry.Content))
}

func TestPanickingProducerFailsTheBuild(t *testing.T) {
	c := New()
	t.Cleanup(c.Close)

	_, err := c.Get(context.Background(), key, func(context.Context) (*resource.Entry, error) {
		panic("processor bug")
	})
	require.ErrorContains(t, err, "processor bug")
	require.Equal(t, 0, c.Len())

	var calls atomic.Int32
	require.Equal(t, "v1", content(t)(c.Get(context.Background(), key, counting(&calls))))
}

func TestInvalidateAllDuringBuildPublishesStale(t *testing.T) {
	c := New()
	t.Cleanup(c.Close)

	var calls atomic.Int32
	release := make(chan struct{})
	done := make(chan string)
	go func() {
		e, err := c.Get(context.Background(), key, blocking(&calls, release))
		if err != nil {
			done <- err.Error()
			return
		}
		done <- string(e.Content)
	}()

	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)
	c.InvalidateAll()
	close(release)
	require.Equal(t, "v1", <-done)

	require.Equal(t, "v2", content(t)(c.Get(context.Background(), key, counting(&calls))))
}

func TestGraceMode(t *testing.T) {
	c := New(WithConfig(Config{GraceMode: true}))
	t.Cleanup(c.Close)

	var calls atomic.Int32
	require.Equal(t, "v1", content(t)(c.Get(context.Background(), key, counting(&calls))))
	c.InvalidateAll()

	release := make(chan struct{})
	produce := blocking(&calls, release)

	// stale entry is served while the rebuild is held back
	for i := 0; i < 5; i++ {
		require.Equal(t, "v1", content(t)(c.Get(context.Background(), key, produce)))
	}
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)

	close(release)
	require.Eventually(t, func() bool {
		e, err := c.Get(context.Background(), key, produce)
		return err == nil && string(e.Content) == "v2"
	}, time.Second, time.Millisecond)
	require.EqualValues(t, 2, calls.Load())
}

func TestGraceModeDisabledWaitsForRebuild(t *testing.T) {
	c := New()
	t.Cleanup(c.Close)

	var calls atomic.Int32
	require.Equal(t, "v1", content(t)(c.Get(context.Background(), key, counting(&calls))))
	c.InvalidateAll()
	require.Equal(t, "v2", content(t)(c.Get(context.Background(), key, counting(&calls))))
}

func TestBuildWaitTimeout(t *testing.T) {
	c := New(WithConfig(Config{BuildWaitTimeout: 20 * time.Millisecond}))
	t.Cleanup(c.Close)

	var calls atomic.Int32
	release := make(chan struct{})

	_, err := c.Get(context.Background(), key, blocking(&calls, release))
	require.ErrorIs(t, err, ErrBuildWaitTimeout)

	// the build keeps running and is published once it completes
	close(release)
	require.Eventually(t, func() bool { return c.Len() == 1 }, time.Second, time.Millisecond)
	require.Equal(t, "v1", content(t)(c.Get(context.Background(), key, counting(&calls))))
	require.EqualValues(t, 1, calls.Load())
}

func TestCancelledBuildLeavesCacheUntouched(t *testing.T) {
	c := New()
	t.Cleanup(c.Close)

	var calls atomic.Int32
	require.Equal(t, "v1", content(t)(c.Get(context.Background(), key, counting(&calls))))
	c.InvalidateAll()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(ctx, key, blocking(&calls, nil))
		done <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 2 }, time.Second, time.Millisecond)
	cancel()
	require.ErrorIs(t, <-done, pipeline.ErrCancelled)

	rec, ok := c.store.Get(key)
	require.True(t, ok)
	require.Equal(t, "v1", string(rec.Entry.Content))
	require.True(t, c.stale(rec))
}

func TestWaiterCancellation(t *testing.T) {
	c := New()
	t.Cleanup(c.Close)

	var calls atomic.Int32
	release := make(chan struct{})
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), key, blocking(&calls, release))
		done <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := c.Get(ctx, key, blocking(&calls, release))
	require.ErrorIs(t, err, pipeline.ErrCancelled)

	// the waiter leaving does not abort the build
	close(release)
	require.NoError(t, <-done)
	require.EqualValues(t, 1, calls.Load())
}

func TestDisabled(t *testing.T) {
	c := New(WithConfig(Config{Disabled: true}))
	t.Cleanup(c.Close)

	var calls atomic.Int32
	require.Equal(t, "v1", content(t)(c.Get(context.Background(), key, counting(&calls))))
	require.Equal(t, "v2", content(t)(c.Get(context.Background(), key, counting(&calls))))
	require.Equal(t, 0, c.Len())

	c.Configure(Config{})
	require.False(t, c.Config().Disabled)
	require.Equal(t, "v3", content(t)(c.Get(context.Background(), key, counting(&calls))))
	require.Equal(t, "v3", content(t)(c.Get(context.Background(), key, counting(&calls))))
}

func TestClose(t *testing.T) {
	c := New()

	var calls atomic.Int32
	done := make(chan error, 1)
	go func() {
		_, err := c.Get(context.Background(), key, blocking(&calls, nil))
		done <- err
	}()
	require.Eventually(t, func() bool { return calls.Load() == 1 }, time.Second, time.Millisecond)

	c.Close()
	require.ErrorIs(t, <-done, pipeline.ErrCancelled)
	require.Equal(t, 0, c.Len())

	_, err := c.Get(context.Background(), key, counting(&calls))
	require.ErrorIs(t, err, ErrClosed)
	c.Close()
}

func TestLRUStore(t *testing.T) {
	store, err := NewLRUStore(100)
	require.NoError(t, err)

	c := New(WithStore(store))
	t.Cleanup(c.Close)

	var calls atomic.Int32
	require.Equal(t, "v1", content(t)(c.Get(context.Background(), key, counting(&calls))))
	require.Equal(t, "v1", content(t)(c.Get(context.Background(), key, counting(&calls))))

	rec, ok := store.Get(key)
	require.True(t, ok)
	require.Equal(t, key, rec.Key)

	var seen []resource.CacheKey
	store.Range(func(rec *Record) bool {
		seen = append(seen, rec.Key)
		return true
	})
	require.Equal(t, []resource.CacheKey{key}, seen)

	store.Delete(key)
	_, ok = store.Get(key)
	require.False(t, ok)

	require.Equal(t, "v2", content(t)(c.Get(context.Background(), key, counting(&calls))))
	c.Clear()
	_, ok = store.Get(key)
	require.False(t, ok)
}

func TestMemoryStore(t *testing.T) {
	s := NewMemoryStore()
	other := resource.CacheKey{Group: "other", Type: resource.TypeJS}
	s.Set(key, &Record{Key: key})
	s.Set(other, &Record{Key: other})
	require.Equal(t, 2, s.Len())

	n := 0
	s.Range(func(*Record) bool {
		n++
		return false
	})
	require.Equal(t, 1, n)

	s.Delete(other)
	_, ok := s.Get(other)
	require.False(t, ok)

	s.Clear()
	require.Equal(t, 0, s.Len())
	s.Close()
}
