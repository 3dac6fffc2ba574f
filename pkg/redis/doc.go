// Package redis connects go-redis clients with startup retries and exposes a
// readiness probe. Rate-limit windows, token buckets and auth throttling
// state use the returned client when the service runs with the redis backend.
package redis
