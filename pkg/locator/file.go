package locator

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// FileLocator serves files from the local disk. Relative paths resolve
// against the working directory.
type FileLocator struct{}

var (
	_ Locator  = (*FileLocator)(nil)
	_ Expander = (*FileLocator)(nil)
)

func NewFileLocator() *FileLocator {
	return &FileLocator{}
}

func (l *FileLocator) path(uri string) string {
	p := strings.TrimPrefix(uri, SchemeFile)
	// file:///abs/path
	if strings.HasPrefix(p, "//") {
		p = strings.TrimPrefix(p, "//")
	}
	return filepath.FromSlash(p)
}

func (l *FileLocator) Open(_ context.Context, uri string) (io.ReadCloser, error) {
	f, err := os.Open(l.path(uri))
	if err != nil {
		return nil, unavailable(uri, err)
	}
	if st, err := f.Stat(); err == nil && st.IsDir() {
		_ = f.Close()
		return nil, unavailable(uri, os.ErrInvalid)
	}
	return f, nil
}

func (l *FileLocator) LastModified(_ context.Context, uri string) (time.Time, bool) {
	st, err := os.Stat(l.path(uri))
	if err != nil {
		return time.Time{}, false
	}
	return st.ModTime(), true
}

func (l *FileLocator) Expand(_ context.Context, pattern string) ([]string, error) {
	matches, err := filepath.Glob(l.path(pattern))
	if err != nil {
		return nil, unavailable(pattern, err)
	}
	sort.Strings(matches)

	prefix := ""
	if strings.HasPrefix(pattern, SchemeFile) {
		prefix = SchemeFile
	}
	uris := make([]string, 0, len(matches))
	for _, m := range matches {
		if st, err := os.Stat(m); err != nil || st.IsDir() {
			continue
		}
		uris = append(uris, prefix+filepath.ToSlash(m))
	}
	return uris, nil
}
