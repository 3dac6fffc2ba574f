// Package audit records security relevant billing actions such as payment
// verification decisions, fraud rejections and subscription transitions.
//
// A Logger stamps each event with an id, a timestamp and any tenant or
// request identifiers found in the context, then hands it to a Storage.
// Storage implementations are provided for in-memory use (tests), for slog
// output and, through BatchWriter, for asynchronous batched persistence.
//
//	log := audit.NewLogger(storage, audit.WithTenantIDExtractor(tenantFromCtx))
//	_ = log.Log(ctx, "payment.verified", audit.WithResource("payment", paymentID))
package audit
