package handler

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5/middleware"

	"github.com/dmitrymomot/quotakit/pkg/logger"
)

// ErrorMapper translates a domain error into an HTTPError.
// It reports false when it does not recognise the error.
type ErrorMapper func(err error) (HTTPError, bool)

// NewErrorHandler renders errors as JSON envelopes. Mappers are tried in
// order before falling back to HTTPError and ValidationError detection.
// 5xx responses are logged at error level, 4xx at warn.
func NewErrorHandler(log *slog.Logger, mappers ...ErrorMapper) ErrorHandler {
	if log == nil {
		log = logger.Discard()
	}
	return func(ctx Context, err error) {
		for _, m := range mappers {
			if he, ok := m(err); ok {
				err = wrapped{HTTPError: he, cause: err}
				break
			}
		}

		resp := &jsonResponse{status: http.StatusInternalServerError}
		resp.body.Error = errorToDetail(err, &resp.status)

		level := slog.LevelWarn
		if resp.status >= http.StatusInternalServerError {
			level = slog.LevelError
		}
		r := ctx.Request()
		log.LogAttrs(ctx, level, "request failed",
			logger.RequestID(middleware.GetReqID(r.Context())),
			slog.String("method", r.Method),
			slog.String("path", r.URL.Path),
			slog.Int("status", resp.status),
			logger.Error(err),
		)

		if renderErr := resp.Render(ctx.ResponseWriter(), r); renderErr != nil {
			log.ErrorContext(ctx, "failed to render error response", logger.Error(renderErr))
		}
	}
}

// wrapped keeps the original error text while carrying the mapped status.
type wrapped struct {
	HTTPError
	cause error
}

func (w wrapped) Error() string { return w.cause.Error() }
func (w wrapped) Unwrap() error { return w.cause }
