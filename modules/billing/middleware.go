package billing

import (
	"fmt"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/quotakit/pkg/handler"
	"github.com/dmitrymomot/quotakit/pkg/jwt"
	"github.com/dmitrymomot/quotakit/pkg/logger"
	"github.com/dmitrymomot/quotakit/pkg/ratelimiter"
	"github.com/dmitrymomot/quotakit/pkg/tier"
	svc "github.com/dmitrymomot/quotakit/svc/billing"
)

// RateLimit enforces the tier's per-minute, per-hour and per-day API
// limits. Requests are keyed by the authenticated tenant, or by client
// host when there is none, so it must run after authentication.
func RateLimit(l *ratelimiter.Tiered, ledger *svc.Ledger, log *slog.Logger) func(http.Handler) http.Handler {
	eh := NewErrorHandler(log)
	reject := func(w http.ResponseWriter, r *http.Request, v ratelimiter.Verdict) {
		eh(handler.NewContext(w, r), fmt.Errorf("%w: %s window", ErrRateLimited, v.Window))
	}
	return ratelimiter.Middleware(l, rateLimitKey, TenantTier(ledger, log), reject)
}

func rateLimitKey(r *http.Request) string {
	if id, ok := jwt.TenantID(r.Context()); ok {
		return "tenant:" + id.String()
	}
	return "host:" + jwt.RemoteHost(r)
}

// TenantTier resolves the tier whose rate limits apply. Tenants without a
// subscription, pending tenants and lookup failures get the free tier.
func TenantTier(ledger *svc.Ledger, log *slog.Logger) ratelimiter.TierFunc {
	if log == nil {
		log = logger.Discard()
	}
	return func(r *http.Request) tier.Tier {
		id, ok := jwt.TenantID(r.Context())
		if !ok {
			return tier.Free
		}
		snap, err := ledger.Snapshot(r.Context(), id)
		if err != nil {
			if svc.Classify(err) != svc.KindNotFound {
				log.WarnContext(r.Context(), "tier lookup failed, applying free tier limits",
					logger.TenantID(id), logger.Error(err))
			}
			return tier.Free
		}
		if snap.Status == svc.StatusPending {
			return tier.Free
		}
		return snap.Tier
	}
}

// Metered consumes amount scans before next runs. A denial is answered
// with 402 and the ledger decision, whose message states the shortfall.
func Metered(ledger *svc.Ledger, amount int64, log *slog.Logger) func(http.Handler) http.Handler {
	eh := NewErrorHandler(log)
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := handler.NewContext(w, r)
			id, err := authenticatedTenant(r.Context())
			if err != nil {
				eh(ctx, err)
				return
			}

			d, err := ledger.CheckAndConsume(r.Context(), id, amount)
			if err != nil {
				eh(ctx, err)
				return
			}
			if !d.Allowed {
				if err := handler.JSON(d, handler.WithJSONStatus(http.StatusPaymentRequired)).Render(w, r); err != nil {
					eh(ctx, err)
				}
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

