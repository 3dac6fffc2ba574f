package billing

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/tier"
)

// PaymentSource tells which path settled a payment.
type PaymentSource string

const (
	SourceVerify  PaymentSource = "verify"
	SourceWebhook PaymentSource = "webhook"
)

// Payment is a settled payment. PaymentRef is unique: a payment is applied
// to a subscription at most once.
type Payment struct {
	PaymentRef string
	OrderRef   string
	TenantID   uuid.UUID
	Tier       tier.Tier
	Cycle      tier.Cycle
	Amount     int64
	Currency   string
	Source     PaymentSource
	CreatedAt  time.Time
}

// WebhookStatus is the processing state of a webhook log entry.
type WebhookStatus string

const (
	WebhookPending   WebhookStatus = "pending"
	WebhookProcessed WebhookStatus = "processed"
	WebhookFailed    WebhookStatus = "failed"
	WebhookRetrying  WebhookStatus = "retrying"
)

// WebhookEntry is the idempotency and audit record for one gateway event id.
type WebhookEntry struct {
	EventID        string
	EventType      string
	SubscriptionID *uuid.UUID
	TenantID       *uuid.UUID
	Payload        []byte
	Signature      string
	Status         WebhookStatus
	AttemptCount   int
	LastAttemptAt  time.Time
	ProcessedAt    *time.Time
	ErrorMessage   string
	CreatedAt      time.Time
}

// Clone returns a deep copy.
func (e *WebhookEntry) Clone() *WebhookEntry {
	if e == nil {
		return nil
	}
	c := *e
	c.Payload = append([]byte(nil), e.Payload...)
	if e.SubscriptionID != nil {
		id := *e.SubscriptionID
		c.SubscriptionID = &id
	}
	if e.TenantID != nil {
		id := *e.TenantID
		c.TenantID = &id
	}
	c.ProcessedAt = cloneTime(e.ProcessedAt)
	return &c
}

// Store is the persistence boundary of the billing subsystem.
// Reads outside InTx take no locks.
type Store interface {
	// Subscription returns the tenant's subscription or ErrSubscriptionNotFound.
	Subscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	// WebhookEntry returns the log entry or ErrWebhookEntryNotFound.
	WebhookEntry(ctx context.Context, eventID string) (*WebhookEntry, error)
	// RetryableWebhookEntries lists entries not yet processed (pending,
	// failed or retrying) with fewer than maxAttempts attempts, oldest
	// attempt first.
	RetryableWebhookEntries(ctx context.Context, maxAttempts, limit int) ([]WebhookEntry, error)
	// PaymentRecorded reports whether the payment ref was already settled.
	PaymentRecorded(ctx context.Context, paymentRef string) (bool, error)
	// InTx runs fn in a transaction. fn returning an error rolls it back.
	// Locks taken through tx are released at commit or rollback.
	InTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error
}

// Tx is a transaction. Locks are exclusive and per key: two transactions
// never hold the same tenant or the same event id at once.
type Tx interface {
	// LockSubscription locks and returns the tenant's row, or ErrSubscriptionNotFound.
	LockSubscription(ctx context.Context, tenantID uuid.UUID) (*Subscription, error)
	// CreateSubscription inserts sub unless the tenant already has a row,
	// then locks and returns the tenant's row.
	CreateSubscription(ctx context.Context, sub *Subscription) (*Subscription, error)
	// SaveSubscription updates a row locked in this transaction.
	SaveSubscription(ctx context.Context, sub *Subscription) error

	PaymentRecorded(ctx context.Context, paymentRef string) (bool, error)
	// RecordPayment inserts p, or fails with ErrDuplicatePayment.
	RecordPayment(ctx context.Context, p Payment) error

	// LockWebhookEntry locks and returns the entry, or ErrWebhookEntryNotFound.
	LockWebhookEntry(ctx context.Context, eventID string) (*WebhookEntry, error)
	// SaveWebhookEntry inserts or updates the entry.
	SaveWebhookEntry(ctx context.Context, e *WebhookEntry) error

	// Savepoint runs fn in a nested scope. When fn fails only its writes
	// are rolled back and the transaction stays usable.
	Savepoint(ctx context.Context, fn func(ctx context.Context) error) error
}
