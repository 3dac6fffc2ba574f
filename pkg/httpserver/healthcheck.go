package httpserver

import (
	"context"
	"log/slog"
	"net/http"
	"time"
)

// Check names a dependency probe.
type Check struct {
	Name string
	Fn   func(context.Context) error
}

// HealthCheckHandler answers "ALIVE" when no checks are given (liveness) and
// "READY" when all checks pass (readiness). A failing check yields 503
// "NOT_READY" and is logged with its name.
func HealthCheckHandler(log *slog.Logger, timeout time.Duration, checks ...Check) http.HandlerFunc {
	if timeout <= 0 {
		timeout = 2 * time.Second
	}
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if len(checks) == 0 {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ALIVE"))
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), timeout)
		defer cancel()
		for _, c := range checks {
			if err := c.Fn(ctx); err != nil {
				if log != nil {
					log.ErrorContext(ctx, "readiness check failed",
						slog.String("check", c.Name),
						slog.Any("error", err),
					)
				}
				w.WriteHeader(http.StatusServiceUnavailable)
				_, _ = w.Write([]byte("NOT_READY"))
				return
			}
		}

		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("READY"))
	}
}
