package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/quotakit/pkg/statemachine"
	"github.com/dmitrymomot/quotakit/pkg/tier"
)

// Trigger is an event that moves a subscription between states.
type Trigger string

const (
	TriggerCharge       Trigger = "charge"
	TriggerChargeFailed Trigger = "charge_failed"
	TriggerHalt         Trigger = "halt"
	TriggerCancel       Trigger = "cancel"
	TriggerPause        Trigger = "pause"
	TriggerResume       Trigger = "resume"
	TriggerComplete     Trigger = "complete"
)

// ChargeKind tells how a successful charge affected the billing window.
type ChargeKind string

const (
	// ChargeActivation starts the first paid window. Usage resets.
	ChargeActivation ChargeKind = "activation"
	// ChargeRenewal advances the window after the old one ended. Usage resets.
	ChargeRenewal ChargeKind = "renewal"
	// ChargeSameTier is a payment for the current tier inside the current window. Usage is kept.
	ChargeSameTier ChargeKind = "same_tier"
	// ChargeTierChange is an upgrade or downgrade inside the current window. Usage is kept.
	ChargeTierChange ChargeKind = "tier_change"
)

// ResetsUsage reports whether the charge zeroes usage.
func (k ChargeKind) ResetsUsage() bool {
	return k == ChargeActivation || k == ChargeRenewal
}

// Policy holds the tunable lifecycle parameters.
type Policy struct {
	// RenewalSkew treats a charge arriving this long before the old period
	// end as a renewal.
	RenewalSkew time.Duration
	// GracePeriod keeps access after the first failed recurring charge.
	GracePeriod time.Duration
	// MaxChargeFailures consecutive failures move the subscription to past_due.
	MaxChargeFailures int
}

// DefaultPolicy returns a 5 minute renewal skew, a 7 day grace period and
// past_due after 3 failed charges.
func DefaultPolicy() Policy {
	return Policy{RenewalSkew: 5 * time.Minute, GracePeriod: 7 * 24 * time.Hour, MaxChargeFailures: 3}
}

func (p Policy) validate() error {
	if p.RenewalSkew < 0 {
		return fmt.Errorf("%w: renewal skew must not be negative", ErrInvalidConfig)
	}
	if p.GracePeriod <= 0 {
		return fmt.Errorf("%w: grace period must be positive", ErrInvalidConfig)
	}
	if p.MaxChargeFailures <= 0 {
		return fmt.Errorf("%w: max charge failures must be positive", ErrInvalidConfig)
	}
	return nil
}

// Charge describes a verified successful payment.
type Charge struct {
	Tier  tier.Tier
	Cycle tier.Cycle
	// PeriodStart and PeriodEnd are the window reported by the gateway, if any.
	PeriodStart time.Time
	PeriodEnd   time.Time

	OrderRef              string
	PaymentRef            string
	GatewayCustomerID     string
	GatewaySubscriptionID string
}

// ClassifyCharge decides how c affects sub at now. A nil or pending
// subscription is an activation. Otherwise the charge is a renewal when
// now+skew reaches the old period end, else a same-tier update or a tier
// change depending on the old tier.
func ClassifyCharge(sub *Subscription, c Charge, now time.Time, skew time.Duration) ChargeKind {
	switch {
	case sub == nil || sub.Status == StatusPending:
		return ChargeActivation
	case !now.Add(skew).Before(sub.PeriodEnd):
		return ChargeRenewal
	case c.Tier == sub.Tier:
		return ChargeSameTier
	default:
		return ChargeTierChange
	}
}

// change is the payload carried through the transition table.
type change struct {
	sub       *Subscription
	now       time.Time
	charge    Charge
	immediate bool
	kind      ChargeKind
}

// Lifecycle applies triggers to subscriptions.
type Lifecycle struct {
	policy  Policy
	machine *statemachine.Machine[Status, Trigger, *change]
}

// NewLifecycle builds the transition table for policy.
func NewLifecycle(policy Policy) (*Lifecycle, error) {
	if err := policy.validate(); err != nil {
		return nil, err
	}
	l := &Lifecycle{policy: policy}

	exhausted := func(_ context.Context, _ Status, _ Trigger, c *change) bool {
		return c.sub.PaymentRetryCount+1 >= policy.MaxChargeFailures
	}

	m, err := statemachine.NewBuilder[Status, Trigger, *change]().
		FromAny().When(TriggerCharge).To(StatusActive).WithAction(l.applyCharge).Add().
		From(StatusActive).When(TriggerChargeFailed).To(StatusPastDue).WithGuard(exhausted).WithAction(l.applyChargeFailure).Add().
		From(StatusActive).When(TriggerChargeFailed).To(StatusActive).WithAction(l.applyChargeFailure).Add().
		From(StatusPastDue).When(TriggerChargeFailed).To(StatusPastDue).WithAction(l.applyChargeFailure).Add().
		From(StatusActive, StatusPastDue).When(TriggerHalt).To(StatusPastDue).WithAction(l.applyHalt).Add().
		From(StatusPending, StatusActive, StatusPastDue, StatusPaused).When(TriggerCancel).To(StatusCancelled).WithAction(l.applyCancel).Add().
		From(StatusActive).When(TriggerPause).To(StatusPaused).Add().
		From(StatusPaused).When(TriggerResume).To(StatusActive).Add().
		From(StatusPending, StatusActive, StatusPastDue, StatusPaused, StatusCancelled).When(TriggerComplete).To(StatusCompleted).WithAction(l.applyComplete).Add().
		Build()
	if err != nil {
		return nil, err
	}
	l.machine = m
	return l, nil
}

// MustLifecycle is NewLifecycle that panics on an invalid policy.
func MustLifecycle(policy Policy) *Lifecycle {
	l, err := NewLifecycle(policy)
	if err != nil {
		panic(err)
	}
	return l
}

// Policy returns the lifecycle parameters.
func (l *Lifecycle) Policy() Policy { return l.policy }

// Charge applies a verified successful payment.
func (l *Lifecycle) Charge(ctx context.Context, sub *Subscription, c Charge, now time.Time) (ChargeKind, error) {
	if !c.Tier.Valid() {
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, c.Tier)
	}
	if !c.Cycle.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidCycle, c.Cycle)
	}
	ch := &change{sub: sub, now: now.UTC(), charge: c}
	if err := l.fire(ctx, TriggerCharge, ch); err != nil {
		return "", err
	}
	return ch.kind, nil
}

// ChargeFailed records a failed recurring charge attempt.
func (l *Lifecycle) ChargeFailed(ctx context.Context, sub *Subscription, now time.Time) error {
	return l.fire(ctx, TriggerChargeFailed, &change{sub: sub, now: now.UTC()})
}

// Halt moves the subscription to past_due after the gateway gave up retrying.
func (l *Lifecycle) Halt(ctx context.Context, sub *Subscription, now time.Time) error {
	return l.fire(ctx, TriggerHalt, &change{sub: sub, now: now.UTC()})
}

// Cancel cancels the subscription. Access is kept until the period ends
// unless immediate is set.
func (l *Lifecycle) Cancel(ctx context.Context, sub *Subscription, immediate bool, now time.Time) error {
	return l.fire(ctx, TriggerCancel, &change{sub: sub, now: now.UTC(), immediate: immediate})
}

// Pause pauses an active subscription.
func (l *Lifecycle) Pause(ctx context.Context, sub *Subscription, now time.Time) error {
	return l.fire(ctx, TriggerPause, &change{sub: sub, now: now.UTC()})
}

// Resume resumes a paused subscription.
func (l *Lifecycle) Resume(ctx context.Context, sub *Subscription, now time.Time) error {
	return l.fire(ctx, TriggerResume, &change{sub: sub, now: now.UTC()})
}

// Complete ends a subscription whose scheduled term ran out.
func (l *Lifecycle) Complete(ctx context.Context, sub *Subscription, now time.Time) error {
	return l.fire(ctx, TriggerComplete, &change{sub: sub, now: now.UTC()})
}

// CanApply reports whether trigger has a transition from the current status.
func (l *Lifecycle) CanApply(ctx context.Context, sub *Subscription, trigger Trigger, now time.Time) bool {
	return l.machine.CanFire(ctx, sub.Status, trigger, &change{sub: sub, now: now.UTC()})
}

func (l *Lifecycle) fire(ctx context.Context, trigger Trigger, c *change) error {
	if c.sub == nil {
		return fmt.Errorf("%w: nil subscription", ErrInvalidSubscription)
	}
	before := c.sub.Clone()
	to, err := l.machine.Fire(ctx, c.sub.Status, trigger, c)
	if err != nil {
		*c.sub = *before
		var noTransition *statemachine.ErrNoTransitionAvailable
		if errors.As(err, &noTransition) {
			return fmt.Errorf("%w: cannot %s from %s", ErrInvalidSubscription, trigger, before.Status)
		}
		return err
	}
	c.sub.Status = to
	c.sub.UpdatedAt = c.now
	if err := c.sub.Validate(); err != nil {
		*c.sub = *before
		return err
	}
	return nil
}

func (l *Lifecycle) applyCharge(_ context.Context, _, _ Status, _ Trigger, c *change) error {
	s, ch, now := c.sub, c.charge, c.now
	c.kind = ClassifyCharge(s, ch, now, l.policy.RenewalSkew)

	switch c.kind {
	case ChargeActivation:
		s.PeriodStart, s.PeriodEnd = chargeWindow(ch, now, now)
		s.ScansUsed = 0
	case ChargeRenewal:
		s.PeriodStart, s.PeriodEnd = chargeWindow(ch, s.PeriodEnd, now)
		s.ScansUsed = 0
	case ChargeSameTier, ChargeTierChange:
		s.PeriodStart = now
		s.PeriodEnd = ch.Cycle.Next(now)
		if ch.PeriodEnd.After(now) && ch.PeriodStart.Before(ch.PeriodEnd) {
			s.PeriodStart, s.PeriodEnd = ch.PeriodStart.UTC(), ch.PeriodEnd.UTC()
		}
	}

	s.Tier = ch.Tier
	s.Cycle = ch.Cycle
	s.PaymentRetryCount = 0
	s.GracePeriodEndsAt = nil
	s.CancelledAt = nil
	s.AutoRenew = true
	setIfNotEmpty(&s.GatewayOrderID, ch.OrderRef)
	setIfNotEmpty(&s.GatewayPaymentID, ch.PaymentRef)
	setIfNotEmpty(&s.GatewayCustomerID, ch.GatewayCustomerID)
	setIfNotEmpty(&s.GatewaySubscriptionID, ch.GatewaySubscriptionID)
	return nil
}

// chargeWindow picks the new billing window. A window reported by the
// gateway that ends in the future wins. Otherwise the window starts at from;
// if that window is already over it restarts at now.
func chargeWindow(ch Charge, from, now time.Time) (time.Time, time.Time) {
	if ch.PeriodEnd.After(now) && ch.PeriodStart.Before(ch.PeriodEnd) {
		return ch.PeriodStart.UTC(), ch.PeriodEnd.UTC()
	}
	start := from.UTC()
	end := ch.Cycle.Next(start)
	if !end.After(now) {
		start = now
		end = ch.Cycle.Next(now)
	}
	return start, end
}

func (l *Lifecycle) applyChargeFailure(_ context.Context, _, _ Status, _ Trigger, c *change) error {
	c.sub.PaymentRetryCount++
	if c.sub.GracePeriodEndsAt == nil {
		grace := c.now.Add(l.policy.GracePeriod)
		c.sub.GracePeriodEndsAt = &grace
	}
	return nil
}

func (l *Lifecycle) applyHalt(_ context.Context, _, _ Status, _ Trigger, c *change) error {
	if c.sub.GracePeriodEndsAt == nil {
		grace := c.now.Add(l.policy.GracePeriod)
		c.sub.GracePeriodEndsAt = &grace
	}
	return nil
}

func (l *Lifecycle) applyCancel(_ context.Context, _, _ Status, _ Trigger, c *change) error {
	s, now := c.sub, c.now
	s.CancelledAt = &now
	s.AutoRenew = false
	if c.immediate && s.PeriodEnd.After(now) {
		s.PeriodEnd = now
		if !s.PeriodStart.Before(now) {
			s.PeriodStart = now.Add(-time.Second)
		}
	}
	return nil
}

func (l *Lifecycle) applyComplete(_ context.Context, _, _ Status, _ Trigger, c *change) error {
	c.sub.AutoRenew = false
	return nil
}

func setIfNotEmpty(dst *string, v string) {
	if v != "" {
		*dst = v
	}
}
