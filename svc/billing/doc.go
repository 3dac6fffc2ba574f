// Package billing keeps each tenant's entitlement record consistent with an
// external payment gateway.
//
// Three concurrent inputs mutate a Subscription: the Verifier (a client
// claims a checkout completed), the Processor (the gateway delivers a signed
// webhook) and the Ledger (a metered request consumes quota). Every mutation
// runs inside Store.InTx while holding the tenant's row lock, and nothing
// holds that lock across a gateway call.
//
// Subscription status changes go through Lifecycle, a transition table built
// on pkg/statemachine. The charge path distinguishes a renewal (usage reset,
// window advanced) from a same-tier update or a mid-period tier change (usage
// kept) using Policy.RenewalSkew as an explicit boundary tolerance.
//
// Webhook events are deduplicated through the webhook log. An entry is
// marked processed in the same transaction as the subscription mutation it
// caused, so redelivery after a crash is always safe.
package billing
