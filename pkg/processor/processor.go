//go:generate mockgen -source processor.go -destination ../../internal/mocks/mock_processor.go -package mocks

// Package processor defines the pre- and post-processor contracts, the
// policies a processor may declare, and the alias registry.
package processor

import (
	"context"
	"slices"

	"github.com/wrogo/wro/pkg/resource"
)

// PreProcessor transforms the text of one resource.
type PreProcessor interface {
	Process(ctx context.Context, res resource.Resource, input string) (string, error)
}

// PostProcessor transforms the concatenated bundle of a cache key.
type PostProcessor interface {
	Process(ctx context.Context, key resource.CacheKey, input string) (string, error)
}

// PreProcessorFunc adapts a function to PreProcessor.
type PreProcessorFunc func(ctx context.Context, res resource.Resource, input string) (string, error)

func (f PreProcessorFunc) Process(ctx context.Context, res resource.Resource, input string) (string, error) {
	return f(ctx, res, input)
}

// PostProcessorFunc adapts a function to PostProcessor.
type PostProcessorFunc func(ctx context.Context, key resource.CacheKey, input string) (string, error)

func (f PostProcessorFunc) Process(ctx context.Context, key resource.CacheKey, input string) (string, error) {
	return f(ctx, key, input)
}

// Typed is implemented by processors restricted to some resource types.
// Processors that do not implement it apply to every type.
type Typed interface {
	SupportedTypes() []resource.Type
}

// Lenient is implemented by processors whose failures must not abort the
// run. A failing lenient processor passes its input through unchanged.
type Lenient interface {
	Lenient() bool
}

// Minimizer is implemented by processors that only run when minimization
// is requested.
type Minimizer interface {
	Minimize() bool
}

// Supports reports whether p applies to resources of type t. Policies
// declared by a processor behind a policy wrapper are honored.
func Supports(p any, t resource.Type) bool {
	typed, ok := find[Typed](p)
	if !ok {
		return true
	}
	return slices.Contains(typed.SupportedTypes(), t)
}

// IsLenient reports whether p declared itself lenient.
func IsLenient(p any) bool {
	l, ok := find[Lenient](p)
	return ok && l.Lenient()
}

// IsMinimizer reports whether p only runs when minimizing.
func IsMinimizer(p any) bool {
	m, ok := find[Minimizer](p)
	return ok && m.Minimize()
}

// find returns the outermost layer of p implementing T.
func find[T any](p any) (T, bool) {
	for {
		if t, ok := p.(T); ok {
			return t, true
		}
		u, ok := p.(interface{ Unwrap() any })
		if !ok {
			var zero T
			return zero, false
		}
		p = u.Unwrap()
	}
}

type lenientPre struct {
	PreProcessor
}

func (lenientPre) Lenient() bool { return true }

// Unwrap returns the wrapped processor, so that policies it declares remain visible.
func (l lenientPre) Unwrap() any { return l.PreProcessor }

type lenientPost struct {
	PostProcessor
}

func (lenientPost) Lenient() bool { return true }

func (l lenientPost) Unwrap() any { return l.PostProcessor }

// LenientPre marks p as lenient.
func LenientPre(p PreProcessor) PreProcessor {
	return lenientPre{p}
}

// LenientPost marks p as lenient.
func LenientPost(p PostProcessor) PostProcessor {
	return lenientPost{p}
}

// unwrap returns the innermost processor of a policy wrapper.
func unwrap(p any) any {
	for {
		u, ok := p.(interface{ Unwrap() any })
		if !ok {
			return p
		}
		p = u.Unwrap()
	}
}
