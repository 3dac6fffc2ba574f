package pgstore

const subscriptionColumns = `id, tenant_id, tier, billing_cycle, status,
	gateway_customer_id, gateway_order_id, gateway_payment_id, gateway_subscription_id,
	scans_used, period_start, period_end, payment_retry_count, grace_period_ends_at,
	auto_renew, cancelled_at, created_at, updated_at`

const webhookColumns = `event_id, event_type, subscription_id, tenant_id, payload, signature,
	status, attempt_count, last_attempt_at, processed_at, error_message, created_at`

const (
	querySubscription     = `SELECT ` + subscriptionColumns + ` FROM subscriptions WHERE tenant_id = $1`
	queryLockSubscription = querySubscription + ` FOR UPDATE`

	queryInsertSubscription = `INSERT INTO subscriptions (` + subscriptionColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)
	ON CONFLICT (tenant_id) DO NOTHING`

	queryUpdateSubscription = `UPDATE subscriptions SET
	tier = $2, billing_cycle = $3, status = $4,
	gateway_customer_id = $5, gateway_order_id = $6, gateway_payment_id = $7, gateway_subscription_id = $8,
	scans_used = $9, period_start = $10, period_end = $11, payment_retry_count = $12,
	grace_period_ends_at = $13, auto_renew = $14, cancelled_at = $15, updated_at = $16
	WHERE tenant_id = $1`

	queryPaymentRecorded = `SELECT EXISTS (SELECT 1 FROM payments WHERE payment_ref = $1)`

	queryInsertPayment = `INSERT INTO payments
	(payment_ref, order_ref, tenant_id, tier, billing_cycle, amount, currency, source, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	ON CONFLICT (payment_ref) DO NOTHING`

	queryWebhookEntry     = `SELECT ` + webhookColumns + ` FROM webhook_events WHERE event_id = $1`
	queryLockWebhookEntry = queryWebhookEntry + ` FOR UPDATE`

	queryRetryableWebhookEntries = `SELECT ` + webhookColumns + ` FROM webhook_events
	WHERE status <> 'processed' AND attempt_count < $1
	ORDER BY last_attempt_at ASC
	LIMIT $2`

	queryUpsertWebhookEntry = `INSERT INTO webhook_events (` + webhookColumns + `)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	ON CONFLICT (event_id) DO UPDATE SET
	subscription_id = EXCLUDED.subscription_id,
	tenant_id = EXCLUDED.tenant_id,
	status = EXCLUDED.status,
	attempt_count = EXCLUDED.attempt_count,
	last_attempt_at = EXCLUDED.last_attempt_at,
	processed_at = EXCLUDED.processed_at,
	error_message = EXCLUDED.error_message`

	queryInsertAuditEvent = `INSERT INTO audit_events
	(id, tenant_id, request_id, action, resource, resource_id, result, error, metadata, created_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	ON CONFLICT (id) DO NOTHING`
)
