package locator

import (
	"context"
	"io"
	"io/fs"
	"os"
	"path"
	"sort"
	"strings"
	"time"
)

// FSLocator serves resources from an fs.FS. It backs the classpath: and
// servletContext: schemes.
type FSLocator struct {
	prefix string
	fsys   fs.FS
}

var (
	_ Locator  = (*FSLocator)(nil)
	_ Expander = (*FSLocator)(nil)
)

// NewFSLocator serves fsys under prefix.
func NewFSLocator(prefix string, fsys fs.FS) *FSLocator {
	return &FSLocator{prefix: prefix, fsys: fsys}
}

// NewClasspathLocator serves fsys under classpath:.
func NewClasspathLocator(fsys fs.FS) *FSLocator {
	return NewFSLocator(SchemeClasspath, fsys)
}

// NewServletContextLocator serves the files below the context root directory.
func NewServletContextLocator(contextRoot string) *FSLocator {
	return NewFSLocator(SchemeServletContext, os.DirFS(contextRoot))
}

func (l *FSLocator) name(uri string) string {
	name := strings.TrimPrefix(uri, l.prefix)
	name = strings.TrimLeft(name, "/")
	if i := strings.IndexAny(name, "?#"); i >= 0 {
		name = name[:i]
	}
	return path.Clean(name)
}

func (l *FSLocator) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	name := l.name(uri)
	if !fs.ValidPath(name) {
		return nil, unavailable(uri, fs.ErrInvalid)
	}
	f, err := l.fsys.Open(name)
	if err != nil {
		return nil, unavailable(uri, err)
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		_ = f.Close()
		return nil, unavailable(uri, fs.ErrInvalid)
	}
	return f, nil
}

func (l *FSLocator) LastModified(_ context.Context, uri string) (time.Time, bool) {
	st, err := fs.Stat(l.fsys, l.name(uri))
	if err != nil || st.ModTime().IsZero() {
		return time.Time{}, false
	}
	return st.ModTime(), true
}

func (l *FSLocator) Expand(_ context.Context, pattern string) ([]string, error) {
	matches, err := fs.Glob(l.fsys, l.name(pattern))
	if err != nil {
		return nil, unavailable(pattern, err)
	}
	sort.Strings(matches)

	prefix := ""
	if strings.HasPrefix(pattern, l.prefix) {
		prefix = l.prefix
	}
	uris := make([]string, 0, len(matches))
	for _, m := range matches {
		if st, err := fs.Stat(l.fsys, m); err != nil || st.IsDir() {
			continue
		}
		uris = append(uris, prefix+m)
	}
	return uris, nil
}
