package jwt

import (
	"errors"
	"log/slog"
	"math"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/dmitrymomot/quotakit/pkg/authguard"
)

// ErrorFunc writes an authentication failure.
type ErrorFunc func(w http.ResponseWriter, r *http.Request, status int, err error)

type MiddlewareConfig struct {
	Service *Service
	// Guard throttles sources that repeatedly present invalid tokens.
	Guard *authguard.Guard
	// Source identifies the client for throttling. Defaults to the host part
	// of RemoteAddr.
	Source func(r *http.Request) string
	// OnError defaults to a plain-text response.
	OnError ErrorFunc
	Logger  *slog.Logger
}

var ErrLockedOut = errors.New("jwt: too many failed authentication attempts")

// Middleware authenticates requests with a bearer token.
func Middleware(cfg MiddlewareConfig) func(http.Handler) http.Handler {
	if cfg.Source == nil {
		cfg.Source = RemoteHost
	}
	if cfg.OnError == nil {
		cfg.OnError = func(w http.ResponseWriter, _ *http.Request, status int, err error) {
			http.Error(w, err.Error(), status)
		}
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			source := cfg.Source(r)

			if cfg.Guard != nil {
				if d := cfg.Guard.Check(ctx, source); !d.Allowed {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
					cfg.OnError(w, r, http.StatusTooManyRequests, ErrLockedOut)
					return
				}
			}

			token, err := BearerToken(r)
			if err == nil {
				var claims *Claims
				if claims, err = cfg.Service.Parse(token); err == nil {
					if cfg.Guard != nil {
						if err := cfg.Guard.RecordSuccess(ctx, source); err != nil {
							cfg.Logger.WarnContext(ctx, "failed to clear auth failures", slog.Any("error", err))
						}
					}
					next.ServeHTTP(w, r.WithContext(WithClaims(ctx, claims)))
					return
				}
			}

			if cfg.Guard != nil {
				d, gerr := cfg.Guard.RecordFailure(ctx, source)
				if gerr != nil {
					cfg.Logger.WarnContext(ctx, "failed to record auth failure", slog.Any("error", gerr))
				} else if !d.Allowed {
					w.Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(d.RetryAfter.Seconds()))))
					cfg.OnError(w, r, http.StatusTooManyRequests, ErrLockedOut)
					return
				}
			}
			cfg.OnError(w, r, http.StatusUnauthorized, err)
		})
	}
}

// BearerToken extracts the token from "Authorization: Bearer <token>".
func BearerToken(r *http.Request) (string, error) {
	scheme, token, ok := strings.Cut(r.Header.Get("Authorization"), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") || strings.TrimSpace(token) == "" {
		return "", ErrMissingToken
	}
	return strings.TrimSpace(token), nil
}

// RemoteHost returns the host part of r.RemoteAddr.
func RemoteHost(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}
