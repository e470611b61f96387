package http

import (
	"context"
	"errors"
	"net/http"
	"strconv"

	"go.uber.org/zap"

	"github.com/wrogo/wro/pkg/cache"
	"github.com/wrogo/wro/pkg/enginepool"
	"github.com/wrogo/wro/pkg/locator"
	"github.com/wrogo/wro/pkg/manager"
	"github.com/wrogo/wro/pkg/model"
	"github.com/wrogo/wro/pkg/pipeline"
)

// ErrorStatus maps a serve failure to a status code.
func ErrorStatus(err error) int {
	switch {
	case errors.Is(err, pipeline.ErrUnknownGroup),
		errors.Is(err, locator.ErrLocatorNotFound),
		errors.Is(err, locator.ErrResourceUnavailable):
		return http.StatusNotFound
	case manager.IsTransient(err),
		errors.Is(err, pipeline.ErrCancelled),
		errors.Is(err, model.ErrNotLoaded),
		errors.Is(err, manager.ErrClosed),
		errors.Is(err, cache.ErrClosed),
		errors.Is(err, enginepool.ErrPoolClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError writes the status of err. Nothing is written once the client
// has gone away.
func (h *Handler) writeError(ctx context.Context, w http.ResponseWriter, err error) {
	if ctx.Err() != nil {
		return
	}

	code := ErrorStatus(err)
	switch code {
	case http.StatusServiceUnavailable:
		w.Header().Set("Retry-After", "1")
	case http.StatusInternalServerError:
		h.logger.ErrorWithContext(ctx, "bundle request failed", zap.Error(err))
	}
	responseCounter.WithLabelValues(strconv.Itoa(code)).Inc()
	http.Error(w, http.StatusText(code), code)
}
