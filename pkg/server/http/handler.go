// Package http serves bundles over HTTP.
//
// Requests below the configured prefix are first offered to the request
// handlers (cache and model reload). Everything else is parsed as
// {group}.{css|js} and served from the manager with the configured caching
// headers.
package http

import (
	"context"
	"net/http"
	"path"
	"slices"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.uber.org/zap"

	"github.com/wrogo/wro/internal/build"
	"github.com/wrogo/wro/pkg/inject"
	"github.com/wrogo/wro/pkg/logger"
	"github.com/wrogo/wro/pkg/manager"
	"github.com/wrogo/wro/pkg/options"
	"github.com/wrogo/wro/pkg/resource"
)

// RequestIDHeader carries the id of the request, read from the request when
// present and always set on the response.
const RequestIDHeader = "X-Request-Id"

var responseCounter = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: build.ProjectName,
	Name:      "http_bundle_response_count",
	Help:      "The total number of bundle responses labeled by status code.",
}, []string{"code"})

// Service is the part of the manager used by the handler.
type Service interface {
	Serve(ctx context.Context, req manager.ServeRequest) (*resource.Entry, error)
	Source() *options.Source
	Injector() *inject.Injector
}

var _ Service = (*manager.Manager)(nil)

type Handler struct {
	service  Service
	prefix   string
	handlers []RequestHandler
	logger   logger.Logger

	headers     atomic.Pointer[http.Header]
	unsubscribe []func()
}

type Option func(*Handler)

func WithLogger(l logger.Logger) Option {
	return func(h *Handler) {
		h.logger = l
	}
}

// WithPrefix sets the path below which the handler serves. Defaults to "/".
func WithPrefix(prefix string) Option {
	return func(h *Handler) {
		h.prefix = prefix
	}
}

// WithRequestHandlers adds request handlers consulted before a bundle is
// served, after the built-in ones.
func WithRequestHandlers(handlers ...RequestHandler) Option {
	return func(h *Handler) {
		h.handlers = append(h.handlers, handlers...)
	}
}

// NewHandler creates the bundle handler. Request handlers are injected here,
// before their first use. Call Close to stop listening to option changes.
func NewHandler(s Service, opts ...Option) (*Handler, error) {
	h := &Handler{
		service:  s,
		logger:   logger.NewNoopLogger(),
		handlers: []RequestHandler{NewReloadCacheHandler(), NewReloadModelHandler()},
	}
	for _, opt := range opts {
		opt(h)
	}
	h.prefix = "/" + strings.Trim(h.prefix, "/")

	for _, rh := range h.handlers {
		if err := s.Injector().Inject(rh); err != nil {
			return nil, err
		}
	}

	source := s.Source()
	if err := h.initHeaders(source.Get()); err != nil {
		return nil, err
	}

	reset := func(_, current options.Options) {
		if err := h.initHeaders(current); err != nil {
			h.logger.Error("keeping previous response headers", zap.Error(err))
		}
	}
	for _, p := range []options.Property{
		options.PropertyDebug,
		options.PropertyHeader,
		options.PropertyCacheUpdatePeriod,
		options.PropertyModelUpdatePeriod,
	} {
		h.unsubscribe = append(h.unsubscribe, source.Subscribe(p, reset))
	}
	return h, nil
}

// initHeaders computes the response headers. Last-Modified is the time of
// the call, so a refresh period change invalidates what browsers cached.
func (h *Handler) initHeaders(opts options.Options) error {
	custom, err := options.ParseHeaders(opts.Header)
	if err != nil {
		return err
	}

	now := time.Now().UTC()
	headers := http.Header{}
	if !opts.Debug {
		headers.Set("Cache-Control", "public, max-age=315360000")
		headers.Set("Last-Modified", now.Format(http.TimeFormat))
		headers.Set("Expires", now.AddDate(1, 0, 0).Format(http.TimeFormat))
	}
	for _, c := range custom {
		if headers.Get(c.Name) == "" {
			headers.Set(c.Name, c.Value)
		}
	}
	if opts.Debug {
		headers.Set("Pragma", "no-cache")
		headers.Set("Cache-Control", "no-cache")
		headers.Set("Expires", "0")
	}

	h.headers.Store(&headers)
	return nil
}

// Close stops listening to option changes.
func (h *Handler) Close() {
	for _, unsubscribe := range h.unsubscribe {
		unsubscribe()
	}
	h.unsubscribe = nil
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	route, ok := h.route(r.URL.Path)
	if !ok {
		http.NotFound(w, r)
		return
	}

	requestID := r.Header.Get(RequestIDHeader)
	if requestID == "" {
		requestID = InitID(r.Context())
	}
	w.Header().Set(RequestIDHeader, requestID)
	ctx := logger.ContextWithRequestID(r.Context(), requestID)
	r = r.WithContext(ctx)

	opts := h.service.Source().Get()
	for _, rh := range h.handlers {
		if rh.Enabled(opts) && rh.Accept(route) {
			rh.Handle(w, r)
			return
		}
	}

	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		w.Header().Set("Allow", "GET, HEAD")
		h.writeStatus(w, http.StatusMethodNotAllowed)
		return
	}

	name := path.Base(route)
	typ, ok := resource.TypeFromURI(name)
	if !ok {
		h.writeStatus(w, http.StatusNotFound)
		return
	}
	group := strings.TrimSuffix(name, path.Ext(name))

	entry, err := h.service.Serve(ctx, manager.ServeRequest{
		Group:     group,
		Type:      typ,
		Minimize:  !strings.EqualFold(r.URL.Query().Get("minimize"), "false"),
		RequestID: requestID,
	})
	if err != nil {
		h.writeError(r.Context(), w, err)
		return
	}

	h.writeEntry(w, r, opts, typ, entry)
}

// route returns the path below the prefix.
func (h *Handler) route(p string) (string, bool) {
	if h.prefix == "/" {
		return strings.TrimPrefix(p, "/"), true
	}
	rest, ok := strings.CutPrefix(p, h.prefix+"/")
	return rest, ok
}

func (h *Handler) writeEntry(w http.ResponseWriter, r *http.Request, opts options.Options, typ resource.Type, entry *resource.Entry) {
	header := w.Header()
	for name, values := range *h.headers.Load() {
		header[name] = slices.Clone(values)
	}
	etag := entry.ETag()
	header.Set("ETag", strconv.Quote(etag))

	if etagMatches(r.Header.Get("If-None-Match"), etag) {
		h.writeStatus(w, http.StatusNotModified)
		return
	}

	header.Set("Content-Type", typ.ContentType()+"; charset="+strings.ToLower(opts.Encoding))
	header.Add("Vary", "Accept-Encoding")

	body := entry.Content
	if opts.GzipEnabled && acceptsGzip(r) {
		compressed, err := entry.Gzipped()
		if err != nil {
			h.logger.ErrorWithContext(r.Context(), "failed to gzip bundle, serving it uncompressed", zap.Error(err))
		} else {
			header.Set("Content-Encoding", "gzip")
			body = compressed
		}
	}

	h.writeStatus(w, http.StatusOK)
	if r.Method == http.MethodHead {
		return
	}
	if _, err := w.Write(body); err != nil {
		h.logger.DebugWithContext(r.Context(), "failed to write bundle", zap.Error(err))
	}
}

func (h *Handler) writeStatus(w http.ResponseWriter, code int) {
	responseCounter.WithLabelValues(strconv.Itoa(code)).Inc()
	w.WriteHeader(code)
}

func etagMatches(ifNoneMatch, etag string) bool {
	if ifNoneMatch == "" {
		return false
	}
	for _, candidate := range strings.Split(ifNoneMatch, ",") {
		candidate = strings.TrimSpace(candidate)
		if candidate == "*" {
			return true
		}
		candidate = strings.TrimPrefix(candidate, "W/")
		if strings.Trim(candidate, `"`) == etag {
			return true
		}
	}
	return false
}

func acceptsGzip(r *http.Request) bool {
	for _, enc := range strings.Split(r.Header.Get("Accept-Encoding"), ",") {
		name, _, _ := strings.Cut(strings.TrimSpace(enc), ";")
		if strings.EqualFold(name, "gzip") {
			return true
		}
	}
	return false
}
