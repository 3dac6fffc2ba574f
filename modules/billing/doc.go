// Package billing mounts the HTTP surface of the billing core: checkout
// creation and verification, webhook ingestion, subscription snapshots and
// quota consumption.
//
//	r.Mount("/", billing.Router(billing.RouterOptions{
//		Orders:        billing.NewOrderService(verifier, log),
//		Subscriptions: billing.NewSubscriptionService(ledger, log),
//		Quota:         billing.NewQuotaService(ledger, log),
//		Webhooks:      billing.NewWebhookService(processor, log),
//		Middlewares: []func(http.Handler) http.Handler{
//			jwt.Middleware(jwt.MiddlewareConfig{Service: tokens, Guard: guard}),
//			billing.RateLimit(limiter, ledger, log),
//		},
//	}))
//
// Tenant ids always come from the bearer token, never from a request body.
// Errors are rendered as JSON envelopes; see MapError for the status codes.
package billing
