package billing

import (
	"net/http"

	"github.com/go-chi/chi/v5"
)

// Mountable is implemented by every billing sub-service.
type Mountable interface {
	Handle() http.Handler
}

// RouterOptions selects the services to mount. Nil services are skipped.
type RouterOptions struct {
	Orders        Mountable
	Subscriptions Mountable
	Quota         Mountable
	// Webhooks is mounted outside Middlewares; its requests are
	// authenticated by signature, not by bearer token.
	Webhooks Mountable
	// Middlewares wrap every tenant-facing route, typically
	// authentication followed by rate limiting.
	Middlewares []func(http.Handler) http.Handler
}

// Router creates the billing HTTP surface.
//
//	POST /orders
//	POST /orders/verify
//	GET  /subscription/{tenantId}
//	POST /quota/consume
//	POST /webhooks
func Router(opts RouterOptions) chi.Router {
	r := chi.NewRouter()

	if opts.Webhooks != nil {
		r.Mount("/webhooks", opts.Webhooks.Handle())
	}

	r.Group(func(r chi.Router) {
		r.Use(opts.Middlewares...)
		if opts.Orders != nil {
			r.Mount("/orders", opts.Orders.Handle())
		}
		if opts.Subscriptions != nil {
			r.Mount("/subscription", opts.Subscriptions.Handle())
		}
		if opts.Quota != nil {
			r.Mount("/quota", opts.Quota.Handle())
		}
	})

	return r
}
