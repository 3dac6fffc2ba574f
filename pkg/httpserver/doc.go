// Package httpserver runs an http.Server bound to a context. Run blocks until
// the context is cancelled or the listener fails, then drains in-flight
// requests within the configured shutdown timeout. Signal handling is left to
// the caller (for example signal.NotifyContext in main).
//
// HealthCheckHandler serves liveness and readiness probes built from named
// dependency checks such as pg.Healthcheck and redis.Healthcheck.
package httpserver
