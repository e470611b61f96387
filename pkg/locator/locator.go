//go:generate mockgen -source locator.go -destination ../../internal/mocks/mock_locator.go -package mocks

// Package locator resolves resource URIs to byte streams.
package locator

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

var (
	// ErrLocatorNotFound is returned when no scheme matches a URI and the
	// fallback chain is empty.
	ErrLocatorNotFound = errors.New("no locator found")

	// ErrResourceUnavailable is returned when the stream cannot be opened.
	ErrResourceUnavailable = errors.New("resource unavailable")
)

const (
	SchemeFile           = "file:"
	SchemeClasspath      = "classpath:"
	SchemeServletContext = "servletContext:"
	SchemeURL            = "url:"
	SchemeHTTP           = "http:"
	SchemeHTTPS          = "https:"
)

// Locator opens the resource identified by a URI. The URI passed to a
// locator may or may not carry the scheme prefix it was registered under.
type Locator interface {
	// Open returns a stream over the resource content. The caller closes it.
	Open(ctx context.Context, uri string) (io.ReadCloser, error)

	// LastModified returns the modification time of the resource, and false
	// when it is unknown.
	LastModified(ctx context.Context, uri string) (time.Time, bool)
}

// Expander is implemented by locators that support wildcard URIs.
type Expander interface {
	// Expand returns the URIs matching pattern, sorted.
	Expand(ctx context.Context, pattern string) ([]string, error)
}

// IsWildcard reports whether the uri is a pattern rather than a single
// resource. Only '*' marks a pattern; '?' starts a query string.
func IsWildcard(uri string) bool {
	return strings.Contains(uri, "*")
}

func unavailable(uri string, cause error) error {
	if cause == nil {
		return fmt.Errorf("%w: '%s'", ErrResourceUnavailable, uri)
	}
	return fmt.Errorf("%w: '%s': %w", ErrResourceUnavailable, uri, cause)
}

type scheme struct {
	prefix  string
	locator Locator
}

// Registry maps scheme prefixes to locators. URIs that match no prefix are
// offered to the fallback chain in order. Registry is itself a Locator.
type Registry struct {
	mu       sync.RWMutex
	schemes  []scheme
	fallback []Locator
}

var (
	_ Locator  = (*Registry)(nil)
	_ Expander = (*Registry)(nil)
)

// RegistryOption configures a Registry.
type RegistryOption func(*Registry)

// WithScheme registers l under prefix.
func WithScheme(prefix string, l Locator) RegistryOption {
	return func(r *Registry) {
		r.Register(prefix, l)
	}
}

// WithFallback sets the ordered chain consulted for URIs without a known prefix.
func WithFallback(chain ...Locator) RegistryOption {
	return func(r *Registry) {
		r.fallback = chain
	}
}

func NewRegistry(opts ...RegistryOption) *Registry {
	r := &Registry{}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Register adds or replaces the locator for prefix. Longer prefixes are
// matched first so that a prefix never shadows a more specific one.
func (r *Registry) Register(prefix string, l Locator) {
	r.mu.Lock()
	defer r.mu.Unlock()

	for i, s := range r.schemes {
		if s.prefix == prefix {
			r.schemes[i].locator = l
			return
		}
	}
	r.schemes = append(r.schemes, scheme{prefix: prefix, locator: l})
	sort.SliceStable(r.schemes, func(i, j int) bool {
		return len(r.schemes[i].prefix) > len(r.schemes[j].prefix)
	})
}

// resolve returns the locators to try for uri, in order.
func (r *Registry) resolve(uri string) ([]Locator, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	for _, s := range r.schemes {
		if strings.HasPrefix(uri, s.prefix) {
			return []Locator{s.locator}, nil
		}
	}
	if len(r.fallback) == 0 {
		return nil, fmt.Errorf("%w for '%s'", ErrLocatorNotFound, uri)
	}
	return r.fallback, nil
}

// Open opens uri with the locator of its scheme, or with the first locator
// of the fallback chain able to open it.
func (r *Registry) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	chain, err := r.resolve(uri)
	if err != nil {
		return nil, err
	}

	var errs []error
	for _, l := range chain {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		rc, err := l.Open(ctx, uri)
		if err == nil {
			return rc, nil
		}
		if !errors.Is(err, ErrResourceUnavailable) {
			return nil, err
		}
		errs = append(errs, err)
	}
	return nil, errors.Join(errs...)
}

// LastModified returns the first known modification time along the chain.
func (r *Registry) LastModified(ctx context.Context, uri string) (time.Time, bool) {
	chain, err := r.resolve(uri)
	if err != nil {
		return time.Time{}, false
	}
	for _, l := range chain {
		if t, ok := l.LastModified(ctx, uri); ok {
			return t, true
		}
	}
	return time.Time{}, false
}

// Expand expands a wildcard uri. A uri without wildcards is returned as is.
// An expansion that matches nothing fails with ErrResourceUnavailable.
func (r *Registry) Expand(ctx context.Context, uri string) ([]string, error) {
	if !IsWildcard(uri) {
		return []string{uri}, nil
	}
	chain, err := r.resolve(uri)
	if err != nil {
		return nil, err
	}
	for _, l := range chain {
		e, ok := l.(Expander)
		if !ok {
			continue
		}
		matches, err := e.Expand(ctx, uri)
		if err != nil {
			return nil, err
		}
		if len(matches) > 0 {
			return matches, nil
		}
	}
	return nil, unavailable(uri, errors.New("wildcard matched nothing"))
}
