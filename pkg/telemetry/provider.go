package telemetry

import (
	"context"
	"errors"
	"sync"

	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// TracerProvider is the provider installed as the otel global.
type TracerProvider interface {
	trace.TracerProvider

	// Close flushes pending spans and shuts the provider down. Later calls
	// are no-ops.
	Close(context.Context) error
	RegisterSpanProcessor(sdktrace.SpanProcessor)
}

// provider wraps the global provider. sdk is nil when nothing is exported.
type provider struct {
	trace.TracerProvider

	mu  sync.Mutex
	sdk *sdktrace.TracerProvider
}

func install(tp trace.TracerProvider, sdk *sdktrace.TracerProvider) TracerProvider {
	otel.SetTracerProvider(tp)
	return &provider{TracerProvider: tp, sdk: sdk}
}

// Noop installs a provider that records nothing.
func Noop() TracerProvider {
	return install(noop.NewTracerProvider(), nil)
}

func (p *provider) Close(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sdk == nil {
		return nil
	}
	err := errors.Join(p.sdk.ForceFlush(ctx), p.sdk.Shutdown(ctx))
	p.sdk = nil
	return err
}

func (p *provider) RegisterSpanProcessor(sp sdktrace.SpanProcessor) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.sdk != nil {
		p.sdk.RegisterSpanProcessor(sp)
	}
}
