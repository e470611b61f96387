package locator

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"testing/fstest"
	"time"

	"github.com/stretchr/testify/require"
)

func readAll(t *testing.T, l Locator, uri string) string {
	t.Helper()
	rc, err := l.Open(context.Background(), uri)
	require.NoError(t, err)
	defer rc.Close()
	b, err := io.ReadAll(rc)
	require.NoError(t, err)
	return string(b)
}

func TestFSLocator(t *testing.T) {
	mod := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	fsys := fstest.MapFS{
		"static/a.css":  {Data: []byte(".a{}"), ModTime: mod},
		"static/b.css":  {Data: []byte(".b{}")},
		"static/app.js": {Data: []byte("var a")},
	}
	l := NewClasspathLocator(fsys)

	require.Equal(t, ".a{}", readAll(t, l, "classpath:static/a.css"))
	require.Equal(t, ".a{}", readAll(t, l, "/static/a.css"))
	require.Equal(t, ".b{}", readAll(t, l, "classpath:static/b.css?v=2"))

	_, err := l.Open(context.Background(), "classpath:static/missing.css")
	require.ErrorIs(t, err, ErrResourceUnavailable)

	_, err = l.Open(context.Background(), "classpath:static")
	require.ErrorIs(t, err, ErrResourceUnavailable)

	ts, ok := l.LastModified(context.Background(), "classpath:static/a.css")
	require.True(t, ok)
	require.Equal(t, mod, ts)

	_, ok = l.LastModified(context.Background(), "classpath:static/b.css")
	require.False(t, ok)

	matches, err := l.Expand(context.Background(), "classpath:static/*.css")
	require.NoError(t, err)
	require.Equal(t, []string{"classpath:static/a.css", "classpath:static/b.css"}, matches)
}

func TestFileLocator(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "a.css"), []byte(".a{}"), 0o600))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "b.css"), []byte(".b{}"), 0o600))
	require.NoError(t, os.Mkdir(filepath.Join(dir, "sub.css"), 0o700))

	l := NewFileLocator()
	uri := "file:" + filepath.ToSlash(filepath.Join(dir, "a.css"))
	require.Equal(t, ".a{}", readAll(t, l, uri))

	_, ok := l.LastModified(context.Background(), uri)
	require.True(t, ok)

	_, err := l.Open(context.Background(), "file:"+filepath.ToSlash(filepath.Join(dir, "nope.css")))
	require.ErrorIs(t, err, ErrResourceUnavailable)

	matches, err := l.Expand(context.Background(), "file:"+filepath.ToSlash(filepath.Join(dir, "*.css")))
	require.NoError(t, err)
	require.Len(t, matches, 2)
	require.True(t, strings.HasSuffix(matches[0], "/a.css"))
	require.True(t, strings.HasSuffix(matches[1], "/b.css"))
}

func TestURLLocator(t *testing.T) {
	var calls atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		switch r.URL.Path {
		case "/a.css":
			w.Header().Set("Last-Modified", "Tue, 02 Jan 2024 03:04:05 GMT")
			_, _ = w.Write([]byte(".a{}"))
		case "/flaky.css":
			if calls.Load() < 2 {
				w.WriteHeader(http.StatusServiceUnavailable)
				return
			}
			_, _ = w.Write([]byte(".flaky{}"))
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	t.Cleanup(srv.Close)

	l := NewURLLocator(WithHTTPClient(srv.Client()))
	l.client.RetryWaitMin = time.Millisecond
	l.client.RetryWaitMax = time.Millisecond

	require.Equal(t, ".a{}", readAll(t, l, "url:"+srv.URL+"/a.css"))

	ts, ok := l.LastModified(context.Background(), srv.URL+"/a.css")
	require.True(t, ok)
	require.Equal(t, time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC), ts.UTC())

	_, err := l.Open(context.Background(), srv.URL+"/missing.css")
	require.ErrorIs(t, err, ErrResourceUnavailable)

	calls.Store(0)
	require.Equal(t, ".flaky{}", readAll(t, l, srv.URL+"/flaky.css"))
}

type stubLocator struct {
	content string
	err     error
	opened  atomic.Int32
}

func (s *stubLocator) Open(context.Context, string) (io.ReadCloser, error) {
	s.opened.Add(1)
	if s.err != nil {
		return nil, s.err
	}
	return io.NopCloser(strings.NewReader(s.content)), nil
}

func (s *stubLocator) LastModified(context.Context, string) (time.Time, bool) {
	return time.Time{}, false
}

func TestRegistryResolution(t *testing.T) {
	short := &stubLocator{content: "short"}
	long := &stubLocator{content: "long"}
	r := NewRegistry(WithScheme("a:", short), WithScheme("a:b:", long))

	require.Equal(t, "long", readAll(t, r, "a:b:x"))
	require.Equal(t, "short", readAll(t, r, "a:x"))

	_, err := r.Open(context.Background(), "z:x")
	require.ErrorIs(t, err, ErrLocatorNotFound)

	replaced := &stubLocator{content: "replaced"}
	r.Register("a:", replaced)
	require.Equal(t, "replaced", readAll(t, r, "a:x"))
}

func TestRegistryFallbackChain(t *testing.T) {
	missing := &stubLocator{err: unavailable("x", nil)}
	found := &stubLocator{content: "found"}
	never := &stubLocator{content: "never"}
	r := NewRegistry(WithFallback(missing, found, never))

	require.Equal(t, "found", readAll(t, r, "/x.css"))
	require.EqualValues(t, 1, missing.opened.Load())
	require.EqualValues(t, 0, never.opened.Load())

	r = NewRegistry(WithFallback(missing, missing))
	_, err := r.Open(context.Background(), "/x.css")
	require.ErrorIs(t, err, ErrResourceUnavailable)

	broken := errors.New("disk on fire")
	r = NewRegistry(WithFallback(&stubLocator{err: broken}, found))
	_, err = r.Open(context.Background(), "/x.css")
	require.ErrorIs(t, err, broken)
}

func TestRegistryExpand(t *testing.T) {
	fsys := fstest.MapFS{
		"css/a.css": {Data: []byte(".a{}")},
		"css/b.css": {Data: []byte(".b{}")},
	}
	r := NewRegistry(WithScheme(SchemeClasspath, NewClasspathLocator(fsys)))

	uris, err := r.Expand(context.Background(), "classpath:css/a.css")
	require.NoError(t, err)
	require.Equal(t, []string{"classpath:css/a.css"}, uris)

	uris, err = r.Expand(context.Background(), "classpath:css/*.css")
	require.NoError(t, err)
	require.Equal(t, []string{"classpath:css/a.css", "classpath:css/b.css"}, uris)

	_, err = r.Expand(context.Background(), "classpath:js/*.js")
	require.ErrorIs(t, err, ErrResourceUnavailable)

	uris, err = r.Expand(context.Background(), "url:http://cdn.example.com/a.js?v=2")
	require.NoError(t, err)
	require.Equal(t, []string{"url:http://cdn.example.com/a.js?v=2"}, uris)
}

func TestIsWildcard(t *testing.T) {
	require.True(t, IsWildcard("classpath:css/*.css"))
	require.True(t, IsWildcard("/static/**"))
	require.False(t, IsWildcard("url:http://cdn.example.com/a.js?v=2"))
	require.False(t, IsWildcard("/css/[id].css"))
}

func TestDefaultRegistry(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, "site.css"), []byte(".site{}"), 0o600))
	classpath := fstest.MapFS{"lib.css": {Data: []byte(".lib{}")}}

	r := NewDefaultRegistry(dir, classpath, nil)

	require.Equal(t, ".site{}", readAll(t, r, "/site.css"))
	require.Equal(t, ".site{}", readAll(t, r, "servletContext:/site.css"))
	require.Equal(t, ".lib{}", readAll(t, r, "lib.css"))
	require.Equal(t, ".lib{}", readAll(t, r, "classpath:lib.css"))

	_, err := r.Open(context.Background(), "classpath:site.css")
	require.ErrorIs(t, err, ErrResourceUnavailable)
}

func TestRegistryHonorsCancellation(t *testing.T) {
	r := NewRegistry(WithFallback(&stubLocator{content: "x"}))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := r.Open(ctx, "/x")
	require.ErrorIs(t, err, context.Canceled)
}
