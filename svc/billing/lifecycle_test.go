package billing_test

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotakit/pkg/tier"
	"github.com/dmitrymomot/quotakit/svc/billing"
)

var baseTime = time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)

func activeSub(t tier.Tier, used int64, end time.Time) *billing.Subscription {
	return &billing.Subscription{
		ID:          uuid.New(),
		TenantID:    uuid.New(),
		Tier:        t,
		Cycle:       tier.Monthly,
		Status:      billing.StatusActive,
		ScansUsed:   used,
		PeriodStart: end.AddDate(0, -1, 0),
		PeriodEnd:   end,
		AutoRenew:   true,
		CreatedAt:   end.AddDate(0, -2, 0),
	}
}

func TestClassifyCharge(t *testing.T) {
	t.Parallel()

	now := baseTime
	skew := 5 * time.Minute
	pro := billing.Charge{Tier: tier.Pro, Cycle: tier.Monthly}

	pending := activeSub(tier.Free, 0, now.AddDate(0, 0, 10))
	pending.Status = billing.StatusPending

	tests := []struct {
		name string
		sub  *billing.Subscription
		skew time.Duration
		want billing.ChargeKind
	}{
		{name: "no subscription", sub: nil, skew: skew, want: billing.ChargeActivation},
		{name: "pending", sub: pending, skew: skew, want: billing.ChargeActivation},
		{name: "period ended", sub: activeSub(tier.Pro, 10, now.Add(-24*time.Hour)), skew: skew, want: billing.ChargeRenewal},
		{name: "ends exactly now", sub: activeSub(tier.Pro, 10, now), skew: 0, want: billing.ChargeRenewal},
		{name: "one tick before end without skew", sub: activeSub(tier.Pro, 10, now.Add(time.Nanosecond)), skew: 0, want: billing.ChargeSameTier},
		{name: "inside skew", sub: activeSub(tier.Pro, 10, now.Add(skew)), skew: skew, want: billing.ChargeRenewal},
		{name: "just outside skew", sub: activeSub(tier.Pro, 10, now.Add(skew+time.Second)), skew: skew, want: billing.ChargeSameTier},
		{name: "mid period upgrade", sub: activeSub(tier.Basic, 10, now.AddDate(0, 0, 15)), skew: skew, want: billing.ChargeTierChange},
		{name: "mid period downgrade", sub: activeSub(tier.Max, 10, now.AddDate(0, 0, 15)), skew: skew, want: billing.ChargeTierChange},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			assert.Equal(t, tt.want, billing.ClassifyCharge(tt.sub, pro, now, tt.skew))
		})
	}
}

func TestLifecycle_RenewalResetsUsage(t *testing.T) {
	t.Parallel()

	l := billing.MustLifecycle(billing.DefaultPolicy())
	oldEnd := baseTime.Add(-24 * time.Hour)
	sub := activeSub(tier.Basic, 45, oldEnd)

	kind, err := l.Charge(context.Background(), sub, billing.Charge{Tier: tier.Basic, Cycle: tier.Monthly, PaymentRef: "pay_r"}, baseTime)
	require.NoError(t, err)

	assert.Equal(t, billing.ChargeRenewal, kind)
	assert.Zero(t, sub.ScansUsed)
	assert.Equal(t, oldEnd, sub.PeriodStart)
	assert.Equal(t, oldEnd.AddDate(0, 1, 0), sub.PeriodEnd)
	assert.True(t, sub.PeriodEnd.After(baseTime))
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.Equal(t, "pay_r", sub.GatewayPaymentID)
}

func TestLifecycle_RenewalAfterLongGapRestartsWindow(t *testing.T) {
	t.Parallel()

	l := billing.MustLifecycle(billing.DefaultPolicy())
	sub := activeSub(tier.Pro, 150, baseTime.AddDate(0, -3, 0))

	kind, err := l.Charge(context.Background(), sub, billing.Charge{Tier: tier.Pro, Cycle: tier.Monthly}, baseTime)
	require.NoError(t, err)
	assert.Equal(t, billing.ChargeRenewal, kind)
	assert.Equal(t, baseTime, sub.PeriodStart)
	assert.Equal(t, baseTime.AddDate(0, 1, 0), sub.PeriodEnd)
	assert.Zero(t, sub.ScansUsed)
}

func TestLifecycle_GatewayWindowWins(t *testing.T) {
	t.Parallel()

	l := billing.MustLifecycle(billing.DefaultPolicy())
	sub := activeSub(tier.Pro, 150, baseTime.Add(-time.Hour))
	start, end := baseTime.Add(-time.Hour), baseTime.Add(30*24*time.Hour)

	_, err := l.Charge(context.Background(), sub, billing.Charge{Tier: tier.Pro, Cycle: tier.Monthly, PeriodStart: start, PeriodEnd: end}, baseTime)
	require.NoError(t, err)
	assert.Equal(t, start, sub.PeriodStart)
	assert.Equal(t, end, sub.PeriodEnd)
}

func TestLifecycle_MidPeriodUpgradeKeepsUsage(t *testing.T) {
	t.Parallel()

	l := billing.MustLifecycle(billing.DefaultPolicy())
	sub := activeSub(tier.Free, 8, baseTime.AddDate(0, 0, 15))

	kind, err := l.Charge(context.Background(), sub, billing.Charge{Tier: tier.Pro, Cycle: tier.Monthly}, baseTime)
	require.NoError(t, err)

	assert.Equal(t, billing.ChargeTierChange, kind)
	assert.Equal(t, tier.Pro, sub.Tier)
	assert.Equal(t, int64(8), sub.ScansUsed)
	assert.Equal(t, baseTime, sub.PeriodStart)
	assert.Equal(t, baseTime.AddDate(0, 1, 0), sub.PeriodEnd)
}

func TestLifecycle_SameTierResubscribeKeepsUsage(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := billing.MustLifecycle(billing.DefaultPolicy())
	sub := activeSub(tier.Pro, 42, baseTime.AddDate(0, 0, 15))
	require.NoError(t, l.Cancel(ctx, sub, false, baseTime.Add(-time.Hour)))
	require.Equal(t, billing.StatusCancelled, sub.Status)

	kind, err := l.Charge(ctx, sub, billing.Charge{Tier: tier.Pro, Cycle: tier.Monthly}, baseTime)
	require.NoError(t, err)

	assert.Equal(t, billing.ChargeSameTier, kind)
	assert.Equal(t, int64(42), sub.ScansUsed)
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.Nil(t, sub.CancelledAt)
	assert.True(t, sub.AutoRenew)
}

func TestLifecycle_ActivationFromPending(t *testing.T) {
	t.Parallel()

	l := billing.MustLifecycle(billing.DefaultPolicy())
	sub := billing.NewFreeSubscription(uuid.New(), baseTime.Add(-time.Hour))
	sub.Status = billing.StatusPending
	sub.ScansUsed = 3

	kind, err := l.Charge(context.Background(), sub, billing.Charge{Tier: tier.Ultra, Cycle: tier.Yearly}, baseTime)
	require.NoError(t, err)
	assert.Equal(t, billing.ChargeActivation, kind)
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.Zero(t, sub.ScansUsed)
	assert.Equal(t, baseTime, sub.PeriodStart)
	assert.Equal(t, baseTime.AddDate(1, 0, 0), sub.PeriodEnd)
}

func TestLifecycle_ChargeFailures(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := billing.MustLifecycle(billing.DefaultPolicy())
	sub := activeSub(tier.Pro, 20, baseTime.AddDate(0, 0, 1))

	require.NoError(t, l.ChargeFailed(ctx, sub, baseTime))
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.Equal(t, 1, sub.PaymentRetryCount)
	require.NotNil(t, sub.GracePeriodEndsAt)
	grace := *sub.GracePeriodEndsAt
	assert.Equal(t, baseTime.Add(7*24*time.Hour), grace)

	require.NoError(t, l.ChargeFailed(ctx, sub, baseTime.Add(time.Hour)))
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.Equal(t, grace, *sub.GracePeriodEndsAt, "grace is set once")

	require.NoError(t, l.ChargeFailed(ctx, sub, baseTime.Add(2*time.Hour)))
	assert.Equal(t, billing.StatusPastDue, sub.Status)
	assert.Equal(t, 3, sub.PaymentRetryCount)

	require.NoError(t, l.ChargeFailed(ctx, sub, baseTime.Add(3*time.Hour)))
	assert.Equal(t, billing.StatusPastDue, sub.Status)
	assert.Equal(t, 4, sub.PaymentRetryCount)

	_, err := l.Charge(ctx, sub, billing.Charge{Tier: tier.Pro, Cycle: tier.Monthly}, baseTime.Add(4*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.Zero(t, sub.PaymentRetryCount)
	assert.Nil(t, sub.GracePeriodEndsAt)
}

func TestLifecycle_Cancel(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := billing.MustLifecycle(billing.DefaultPolicy())

	t.Run("soft", func(t *testing.T) {
		t.Parallel()
		end := baseTime.AddDate(0, 0, 10)
		sub := activeSub(tier.Pro, 5, end)
		require.NoError(t, l.Cancel(ctx, sub, false, baseTime))
		assert.Equal(t, billing.StatusCancelled, sub.Status)
		assert.Equal(t, end, sub.PeriodEnd, "access kept until period end")
		require.NotNil(t, sub.CancelledAt)
		assert.Equal(t, baseTime, *sub.CancelledAt)
		assert.False(t, sub.AutoRenew)
	})

	t.Run("immediate", func(t *testing.T) {
		t.Parallel()
		sub := activeSub(tier.Pro, 5, baseTime.AddDate(0, 0, 10))
		require.NoError(t, l.Cancel(ctx, sub, true, baseTime))
		assert.Equal(t, baseTime, sub.PeriodEnd)
		assert.True(t, sub.Lapsed(baseTime))
		require.NoError(t, sub.Validate())
	})
}

func TestLifecycle_PauseResumeComplete(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	l := billing.MustLifecycle(billing.DefaultPolicy())
	sub := activeSub(tier.Basic, 12, baseTime.AddDate(0, 0, 10))

	require.NoError(t, l.Pause(ctx, sub, baseTime))
	assert.Equal(t, billing.StatusPaused, sub.Status)
	assert.Equal(t, int64(12), sub.ScansUsed)

	assert.False(t, l.CanApply(ctx, sub, billing.TriggerPause, baseTime))
	err := l.Pause(ctx, sub, baseTime)
	require.ErrorIs(t, err, billing.ErrInvalidSubscription)
	assert.Equal(t, billing.StatusPaused, sub.Status)

	require.NoError(t, l.Resume(ctx, sub, baseTime))
	assert.Equal(t, billing.StatusActive, sub.Status)
	assert.Equal(t, int64(12), sub.ScansUsed)

	require.NoError(t, l.Complete(ctx, sub, baseTime))
	assert.Equal(t, billing.StatusCompleted, sub.Status)
	assert.False(t, sub.AutoRenew)

	require.ErrorIs(t, l.Cancel(ctx, sub, false, baseTime), billing.ErrInvalidSubscription)
}

func TestLifecycle_InvalidCharge(t *testing.T) {
	t.Parallel()

	l := billing.MustLifecycle(billing.DefaultPolicy())
	sub := activeSub(tier.Basic, 1, baseTime.AddDate(0, 0, 10))
	before := *sub

	_, err := l.Charge(context.Background(), sub, billing.Charge{Tier: "platinum", Cycle: tier.Monthly}, baseTime)
	require.ErrorIs(t, err, billing.ErrUnknownTier)
	_, err = l.Charge(context.Background(), sub, billing.Charge{Tier: tier.Pro, Cycle: "weekly"}, baseTime)
	require.ErrorIs(t, err, billing.ErrInvalidCycle)
	assert.Equal(t, before, *sub)
}

func TestNewLifecycle_InvalidPolicy(t *testing.T) {
	t.Parallel()

	tests := []billing.Policy{
		{RenewalSkew: -time.Second, GracePeriod: time.Hour, MaxChargeFailures: 1},
		{GracePeriod: 0, MaxChargeFailures: 1},
		{GracePeriod: time.Hour, MaxChargeFailures: 0},
	}
	for _, p := range tests {
		_, err := billing.NewLifecycle(p)
		require.ErrorIs(t, err, billing.ErrInvalidConfig)
	}
}
