package http

import (
	"context"
	"net/http"

	"go.uber.org/zap"

	"github.com/wrogo/wro/pkg/inject"
	"github.com/wrogo/wro/pkg/logger"
	"github.com/wrogo/wro/pkg/options"
)

const (
	ReloadCachePath = "api/reloadCache"
	ReloadModelPath = "api/reloadModel"
)

// RequestHandler handles requests that are not bundle requests. Handlers
// are consulted in order and the first enabled one accepting the route wins.
type RequestHandler interface {
	// Enabled reports whether the handler may be used with opts.
	Enabled(opts options.Options) bool

	// Accept reports whether the handler handles route, the request path
	// below the prefix without its leading slash.
	Accept(route string) bool

	Handle(w http.ResponseWriter, r *http.Request)
}

// Admin is what the reload handlers need from the manager.
type Admin interface {
	InvalidateAll()
	ReloadModel(ctx context.Context) error
}

// adminHandler is enabled in debug mode or when admin handlers are enabled
// explicitly. Its dependencies are injected.
type adminHandler struct {
	path   string
	admin  Admin
	logger logger.Logger
}

func (a *adminHandler) Slots() []inject.Slot {
	return []inject.Slot{inject.SlotManager, inject.SlotLogger}
}

func (a *adminHandler) Inject(slot inject.Slot, v any) error {
	var err error
	switch slot {
	case inject.SlotManager:
		a.admin, err = inject.Value[Admin](slot, v)
	case inject.SlotLogger:
		a.logger, err = inject.Value[logger.Logger](slot, v)
	}
	return err
}

func (a *adminHandler) Enabled(opts options.Options) bool {
	return opts.Debug || opts.AdminEnabled
}

func (a *adminHandler) Accept(route string) bool {
	return route == a.path
}

// ReloadCacheHandler marks every cached bundle stale.
type ReloadCacheHandler struct {
	adminHandler
}

var _ inject.Injectable = (*ReloadCacheHandler)(nil)

func NewReloadCacheHandler() *ReloadCacheHandler {
	return &ReloadCacheHandler{adminHandler{path: ReloadCachePath}}
}

func (h *ReloadCacheHandler) Handle(w http.ResponseWriter, _ *http.Request) {
	h.admin.InvalidateAll()
	w.WriteHeader(http.StatusOK)
}

// ReloadModelHandler reloads the model. On failure the previous model is
// kept and 500 is returned.
type ReloadModelHandler struct {
	adminHandler
}

var _ inject.Injectable = (*ReloadModelHandler)(nil)

func NewReloadModelHandler() *ReloadModelHandler {
	return &ReloadModelHandler{adminHandler{path: ReloadModelPath}}
}

func (h *ReloadModelHandler) Handle(w http.ResponseWriter, r *http.Request) {
	if err := h.admin.ReloadModel(r.Context()); err != nil {
		h.logger.ErrorWithContext(r.Context(), "model reload requested over http failed", zap.Error(err))
		http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
		return
	}
	w.WriteHeader(http.StatusOK)
}
