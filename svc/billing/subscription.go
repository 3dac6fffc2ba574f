package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/tier"
)

// Status is the subscription state.
type Status string

const (
	StatusPending   Status = "pending"
	StatusActive    Status = "active"
	StatusPastDue   Status = "past_due"
	StatusPaused    Status = "paused"
	StatusCancelled Status = "cancelled"
	StatusCompleted Status = "completed"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusActive, StatusPastDue, StatusPaused, StatusCancelled, StatusCompleted:
		return true
	}
	return false
}

// Subscription is the entitlement record of one tenant.
// The period is [PeriodStart, PeriodEnd); PeriodEnd is authoritative.
type Subscription struct {
	ID       uuid.UUID
	TenantID uuid.UUID
	Tier     tier.Tier
	Cycle    tier.Cycle
	Status   Status

	GatewayCustomerID     string
	GatewayOrderID        string
	GatewayPaymentID      string
	GatewaySubscriptionID string

	ScansUsed   int64
	PeriodStart time.Time
	PeriodEnd   time.Time

	PaymentRetryCount int
	GracePeriodEndsAt *time.Time
	AutoRenew         bool
	CancelledAt       *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
}

// NewFreeSubscription returns a free tier subscription with a monthly
// window starting at now.
func NewFreeSubscription(tenantID uuid.UUID, now time.Time) *Subscription {
	now = now.UTC()
	return &Subscription{
		ID:          uuid.New(),
		TenantID:    tenantID,
		Tier:        tier.Free,
		Cycle:       tier.Monthly,
		Status:      StatusActive,
		PeriodStart: now,
		PeriodEnd:   tier.Monthly.Next(now),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
}

// Clone returns a deep copy.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.GracePeriodEndsAt = cloneTime(s.GracePeriodEndsAt)
	c.CancelledAt = cloneTime(s.CancelledAt)
	return &c
}

// Validate checks the record invariants.
func (s *Subscription) Validate() error {
	switch {
	case s.TenantID == uuid.Nil:
		return fmt.Errorf("%w: tenant id is empty", ErrInvalidSubscription)
	case !s.Tier.Valid():
		return fmt.Errorf("%w: unknown tier %q", ErrInvalidSubscription, s.Tier)
	case !s.Cycle.Valid():
		return fmt.Errorf("%w: unknown cycle %q", ErrInvalidSubscription, s.Cycle)
	case !s.Status.Valid():
		return fmt.Errorf("%w: unknown status %q", ErrInvalidSubscription, s.Status)
	case s.ScansUsed < 0:
		return fmt.Errorf("%w: negative usage %d", ErrInvalidSubscription, s.ScansUsed)
	case !s.PeriodEnd.After(s.PeriodStart):
		return fmt.Errorf("%w: period end %s is not after start %s", ErrInvalidSubscription, s.PeriodEnd, s.PeriodStart)
	case s.PaymentRetryCount < 0:
		return fmt.Errorf("%w: negative retry count", ErrInvalidSubscription)
	}
	return nil
}

// Lapsed reports whether the current period has ended at now.
func (s *Subscription) Lapsed(now time.Time) bool {
	return !now.Before(s.PeriodEnd)
}

// InGrace reports whether a failed charge grace period is still running.
func (s *Subscription) InGrace(now time.Time) bool {
	return s.GracePeriodEndsAt != nil && now.Before(*s.GracePeriodEndsAt)
}

// Snapshot is the read model returned to clients.
type Snapshot struct {
	TenantID          uuid.UUID  `json:"tenant_id"`
	Tier              tier.Tier  `json:"tier"`
	Cycle             tier.Cycle `json:"cycle"`
	Status            Status     `json:"status"`
	ScansUsed         int64      `json:"scans_used"`
	ScanLimit         int64      `json:"scan_limit"`
	Remaining         int64      `json:"remaining"`
	PeriodStart       time.Time  `json:"period_start"`
	PeriodEnd         time.Time  `json:"period_end"`
	AutoRenew         bool       `json:"auto_renew"`
	PaymentRetryCount int        `json:"payment_retry_count,omitempty"`
	GracePeriodEndsAt *time.Time `json:"grace_period_ends_at,omitempty"`
	CancelledAt       *time.Time `json:"cancelled_at,omitempty"`
}

// NewSnapshot builds the read model. Pending subscriptions report the free
// tier ceiling.
func NewSnapshot(s *Subscription, catalog *tier.Catalog) Snapshot {
	limit := effectiveLimit(s, catalog)
	return Snapshot{
		TenantID:          s.TenantID,
		Tier:              s.Tier,
		Cycle:             s.Cycle,
		Status:            s.Status,
		ScansUsed:         s.ScansUsed,
		ScanLimit:         limit,
		Remaining:         max(limit-s.ScansUsed, 0),
		PeriodStart:       s.PeriodStart,
		PeriodEnd:         s.PeriodEnd,
		AutoRenew:         s.AutoRenew,
		PaymentRetryCount: s.PaymentRetryCount,
		GracePeriodEndsAt: cloneTime(s.GracePeriodEndsAt),
		CancelledAt:       cloneTime(s.CancelledAt),
	}
}

func effectiveLimit(s *Subscription, catalog *tier.Catalog) int64 {
	if s.Status == StatusPending {
		return catalog.ScanLimit(tier.Free)
	}
	return catalog.ScanLimit(s.Tier)
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
