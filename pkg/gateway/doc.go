// Package gateway talks to the external payment gateway.
//
// Gateway is the contract the billing core depends on: create an order, and
// fetch orders and payments by id. Client implements it over the gateway's
// REST API with HTTP basic auth, a per-call timeout, a circuit breaker and
// bounded retries for idempotent reads. Order creation is never retried.
//
// The package also owns the gateway's signature schemes. Checkout signatures
// are HMAC-SHA256 over "order_id|payment_id" keyed with the API secret;
// webhook signatures are HMAC-SHA256 over the raw request body keyed with
// the webhook secret. Both are hex encoded and compared in constant time.
//
// ParseEvent decodes a webhook body into Event without interpreting it.
package gateway
