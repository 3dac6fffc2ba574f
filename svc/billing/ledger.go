package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/logger"
	"github.com/dmitrymomot/quotakit/pkg/tier"
)

// Decision is the result of a quota check.
type Decision struct {
	Allowed   bool      `json:"allowed"`
	Message   string    `json:"message"`
	Tier      tier.Tier `json:"tier"`
	Used      int64     `json:"used"`
	Limit     int64     `json:"limit"`
	Remaining int64     `json:"remaining"`
	Required  int64     `json:"required"`
	reason    error
}

// Err returns the business error behind a denial, or nil when allowed.
func (d *Decision) Err() error {
	if d.Allowed {
		return nil
	}
	return d.reason
}

// Ledger owns quota consumption.
type Ledger struct {
	store   Store
	catalog *tier.Catalog
	log     *slog.Logger
	now     func() time.Time
	metrics *Metrics
}

// NewLedger creates a quota ledger.
func NewLedger(store Store, catalog *tier.Catalog, opts ...Option) (*Ledger, error) {
	if store == nil || catalog == nil {
		return nil, fmt.Errorf("%w: store and catalog are required", ErrInvalidConfig)
	}
	o := newOptions(opts)
	return &Ledger{
		store:   store,
		catalog: catalog,
		log:     o.log.With(logger.Component("quota_ledger")),
		now:     o.now,
		metrics: o.metrics,
	}, nil
}

// CheckAndConsume atomically consumes amount scans when the tenant has
// headroom. A lapsed period is rolled over under the same lock before the
// check. Denials are reported through the Decision, not as errors.
func (l *Ledger) CheckAndConsume(ctx context.Context, tenantID uuid.UUID, amount int64) (*Decision, error) {
	if tenantID == uuid.Nil {
		return nil, ErrTenantRequired
	}
	if amount <= 0 {
		return nil, fmt.Errorf("%w: got %d", ErrInvalidAmount, amount)
	}

	var d *Decision
	err := l.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		now := l.now().UTC()
		sub, err := tx.LockSubscription(ctx, tenantID)
		if errors.Is(err, ErrSubscriptionNotFound) {
			sub, err = tx.CreateSubscription(ctx, NewFreeSubscription(tenantID, now))
		}
		if err != nil {
			return err
		}

		dirty := l.rollover(sub, now)
		d = l.decide(sub, amount, now)
		if d.Allowed {
			sub.ScansUsed += amount
			d.Used = sub.ScansUsed
			d.Remaining = d.Limit - sub.ScansUsed
			dirty = true
		}
		if !dirty {
			return nil
		}
		sub.UpdatedAt = now
		return tx.SaveSubscription(ctx, sub)
	})
	if err != nil {
		l.metrics.quotaDecision("error")
		return nil, err
	}

	if d.Allowed {
		l.metrics.quotaDecision("allowed")
	} else {
		l.metrics.quotaDecision("denied")
		l.log.DebugContext(ctx, "quota denied",
			logger.TenantID(tenantID),
			slog.Int64("required", amount),
			slog.Int64("remaining", d.Remaining),
			logger.Error(d.reason),
		)
	}
	return d, nil
}

// Snapshot returns the tenant's current entitlement view.
func (l *Ledger) Snapshot(ctx context.Context, tenantID uuid.UUID) (*Snapshot, error) {
	sub, err := l.store.Subscription(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	snap := NewSnapshot(sub, l.catalog)
	return &snap, nil
}

// rollover handles a lapsed period. Free subscriptions get a fresh window.
// A paid subscription in its grace period is left as is. Any other lapsed
// paid subscription falls back to the free tier; paid time is never
// extended without a charge.
func (l *Ledger) rollover(sub *Subscription, now time.Time) bool {
	if !sub.Lapsed(now) {
		return false
	}
	switch {
	case sub.Tier == tier.Free:
		sub.PeriodStart = now
		sub.PeriodEnd = sub.Cycle.Next(now)
		sub.ScansUsed = 0
	case sub.InGrace(now):
		return false
	default:
		l.log.Info("paid period lapsed, falling back to free tier",
			logger.TenantID(sub.TenantID),
			logger.Tier(sub.Tier.String()),
			slog.String("status", string(sub.Status)),
		)
		sub.Tier = tier.Free
		sub.Cycle = tier.Monthly
		sub.Status = StatusActive
		sub.PeriodStart = now
		sub.PeriodEnd = tier.Monthly.Next(now)
		sub.ScansUsed = 0
		sub.AutoRenew = false
		sub.PaymentRetryCount = 0
		sub.GracePeriodEndsAt = nil
	}
	return true
}

func (l *Ledger) decide(sub *Subscription, amount int64, now time.Time) *Decision {
	limit := effectiveLimit(sub, l.catalog)
	d := &Decision{
		Tier:      sub.Tier,
		Used:      sub.ScansUsed,
		Limit:     limit,
		Remaining: max(limit-sub.ScansUsed, 0),
		Required:  amount,
	}
	switch {
	case sub.Status == StatusPaused:
		d.reason = ErrSubscriptionPaused
		d.Message = "Subscription is paused"
	case sub.Status == StatusPastDue && !sub.InGrace(now):
		d.reason = ErrSubscriptionPastDue
		d.Message = "Payment is overdue and the grace period has ended"
	case d.Remaining < amount:
		d.reason = ErrQuotaExceeded
		d.Message = fmt.Sprintf("Quota exceeded: %d scans remaining, %d required", d.Remaining, amount)
	default:
		d.Allowed = true
		d.Message = "ok"
	}
	return d
}
