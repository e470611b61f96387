package locator

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/hashicorp/go-retryablehttp"
	"go.uber.org/zap"

	"github.com/wrogo/wro/pkg/logger"
)

const (
	DefaultURLRetryMax     = 3
	DefaultURLRetryWaitMin = 100 * time.Millisecond
	DefaultURLRetryWaitMax = 2 * time.Second
)

// URLLocator fetches remote resources over HTTP, retrying transient failures.
type URLLocator struct {
	client *retryablehttp.Client
	logger logger.Logger
}

var _ Locator = (*URLLocator)(nil)

type URLLocatorOption func(*URLLocator)

func WithURLLogger(l logger.Logger) URLLocatorOption {
	return func(u *URLLocator) {
		u.logger = l
	}
}

// WithRetryMax overrides the number of retries of a failed request.
func WithRetryMax(n int) URLLocatorOption {
	return func(u *URLLocator) {
		u.client.RetryMax = n
	}
}

// WithHTTPClient replaces the underlying client, e.g. the one of an httptest server.
func WithHTTPClient(c *http.Client) URLLocatorOption {
	return func(u *URLLocator) {
		u.client.HTTPClient = c
	}
}

func NewURLLocator(opts ...URLLocatorOption) *URLLocator {
	client := retryablehttp.NewClient()
	client.RetryMax = DefaultURLRetryMax
	client.RetryWaitMin = DefaultURLRetryWaitMin
	client.RetryWaitMax = DefaultURLRetryWaitMax

	u := &URLLocator{client: client, logger: logger.NewNoopLogger()}
	for _, opt := range opts {
		opt(u)
	}
	if u.logger == nil {
		u.logger = logger.NewNoopLogger()
	}
	u.client.Logger = leveledLogger{u.logger}
	return u
}

func (u *URLLocator) target(uri string) string {
	return strings.TrimPrefix(uri, SchemeURL)
}

func (u *URLLocator) do(ctx context.Context, method, uri string) (*http.Response, error) {
	req, err := retryablehttp.NewRequestWithContext(ctx, method, u.target(uri), nil)
	if err != nil {
		return nil, unavailable(uri, err)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, unavailable(uri, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_ = resp.Body.Close()
		return nil, unavailable(uri, fmt.Errorf("unexpected status %d", resp.StatusCode))
	}
	return resp, nil
}

func (u *URLLocator) Open(ctx context.Context, uri string) (io.ReadCloser, error) {
	resp, err := u.do(ctx, http.MethodGet, uri)
	if err != nil {
		return nil, err
	}
	return resp.Body, nil
}

func (u *URLLocator) LastModified(ctx context.Context, uri string) (time.Time, bool) {
	resp, err := u.do(ctx, http.MethodHead, uri)
	if err != nil {
		return time.Time{}, false
	}
	defer resp.Body.Close()

	t, err := http.ParseTime(resp.Header.Get("Last-Modified"))
	if err != nil {
		return time.Time{}, false
	}
	return t, true
}

// leveledLogger adapts logger.Logger to retryablehttp.LeveledLogger.
type leveledLogger struct {
	logger logger.Logger
}

var _ retryablehttp.LeveledLogger = leveledLogger{}

func fields(keysAndValues []interface{}) []zap.Field {
	fs := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fs = append(fs, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return fs
}

func (l leveledLogger) Error(msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, fields(keysAndValues)...)
}

func (l leveledLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Info(msg, fields(keysAndValues)...)
}

func (l leveledLogger) Debug(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues)...)
}

func (l leveledLogger) Warn(msg string, keysAndValues ...interface{}) {
	l.logger.Warn(msg, fields(keysAndValues)...)
}
