package billing_test

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotakit/pkg/gateway"
	"github.com/dmitrymomot/quotakit/pkg/tier"
	"github.com/dmitrymomot/quotakit/svc/billing"
)

type processorEnv struct {
	*verifierEnv
	p *billing.Processor
}

func newProcessorEnv(t *testing.T, secret string) *processorEnv {
	t.Helper()
	env := newVerifierEnv(t)
	p, err := billing.NewProcessor(env.store, env.v, secret, billing.WithClock(env.clk.Now))
	require.NoError(t, err)
	return &processorEnv{verifierEnv: env, p: p}
}

func (e *processorEnv) deliver(t *testing.T, payload []byte) *billing.Outcome {
	t.Helper()
	out, err := e.p.HandleEvent(context.Background(), payload, gateway.SignWebhook(testWebhookSecret, payload))
	require.NoError(t, err)
	require.True(t, out.Accepted)
	return out
}

func (e *processorEnv) entry(t *testing.T, eventID string) *billing.WebhookEntry {
	t.Helper()
	entry, err := e.store.WebhookEntry(context.Background(), eventID)
	require.NoError(t, err)
	return entry
}

func subNotes(tenant uuid.UUID, t tier.Tier, c tier.Cycle) gateway.Notes {
	return gateway.Notes{
		billing.NoteTenantID: tenant.String(),
		billing.NoteTier:     t.String(),
		billing.NoteCycle:    c.String(),
	}
}

func subscriptionEvent(t *testing.T, id, typ string, entity gateway.Subscription, pay *gateway.Payment) []byte {
	t.Helper()
	ev := gateway.Event{
		ID:      id,
		Type:    typ,
		Payload: gateway.EventPayload{Subscription: &gateway.SubscriptionEnvelope{Entity: entity}},
	}
	if pay != nil {
		ev.Payload.Payment = &gateway.PaymentEnvelope{Entity: *pay}
	}
	raw, err := json.Marshal(ev)
	require.NoError(t, err)
	return raw
}

func paymentEvent(t *testing.T, id, typ string, pay gateway.Payment) []byte {
	t.Helper()
	raw, err := json.Marshal(gateway.Event{
		ID:      id,
		Type:    typ,
		Payload: gateway.EventPayload{Payment: &gateway.PaymentEnvelope{Entity: pay}},
	})
	require.NoError(t, err)
	return raw
}

func TestProcessor_Authenticity(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	payload := []byte(`{"id":"evt_1","event":"subscription.halted","payload":{}}`)

	t.Run("secret not configured", func(t *testing.T) {
		t.Parallel()
		env := newProcessorEnv(t, "")
		_, err := env.p.HandleEvent(ctx, payload, gateway.SignWebhook(testWebhookSecret, payload))
		require.ErrorIs(t, err, billing.ErrWebhookSecretMissing)
		assert.Equal(t, billing.KindInternal, billing.Classify(err))
	})

	t.Run("missing signature", func(t *testing.T) {
		t.Parallel()
		env := newProcessorEnv(t, testWebhookSecret)
		_, err := env.p.HandleEvent(ctx, payload, "  ")
		require.ErrorIs(t, err, billing.ErrMissingSignature)
		assert.Equal(t, billing.KindFraud, billing.Classify(err))
	})

	t.Run("wrong signature", func(t *testing.T) {
		t.Parallel()
		env := newProcessorEnv(t, testWebhookSecret)
		_, err := env.p.HandleEvent(ctx, payload, gateway.SignWebhook("other", payload))
		require.ErrorIs(t, err, billing.ErrSignatureMismatch)

		_, err = env.store.WebhookEntry(ctx, "evt_1")
		require.ErrorIs(t, err, billing.ErrWebhookEntryNotFound, "rejected deliveries are not logged")
	})

	t.Run("signed garbage", func(t *testing.T) {
		t.Parallel()
		env := newProcessorEnv(t, testWebhookSecret)
		body := []byte(`{"event":`)
		_, err := env.p.HandleEvent(ctx, body, gateway.SignWebhook(testWebhookSecret, body))
		require.ErrorIs(t, err, billing.ErrMalformedEvent)
		assert.Equal(t, billing.KindValidation, billing.Classify(err))
	})
}

func TestProcessor_ChargedRenewalAndRedelivery(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newProcessorEnv(t, testWebhookSecret)
	sub := activeSub(tier.Basic, 45, baseTime.Add(-time.Hour))
	env.store.Put(sub)

	start, end := baseTime.Add(-time.Hour), baseTime.Add(-time.Hour).AddDate(0, 1, 0)
	payload := subscriptionEvent(t, "evt_charged", gateway.EventSubscriptionCharged, gateway.Subscription{
		ID:           "sub_1",
		CustomerID:   "cust_1",
		CurrentStart: start.Unix(),
		CurrentEnd:   end.Unix(),
		Notes:        subNotes(sub.TenantID, tier.Basic, tier.Monthly),
	}, nil)

	out := env.deliver(t, payload)
	assert.False(t, out.Duplicate)
	assert.Equal(t, "charge applied: renewal", out.Message)

	got, err := env.store.Subscription(ctx, sub.TenantID)
	require.NoError(t, err)
	assert.Zero(t, got.ScansUsed)
	assert.Equal(t, start, got.PeriodStart)
	assert.Equal(t, end, got.PeriodEnd)
	assert.Equal(t, "sub_1", got.GatewaySubscriptionID)
	assert.Equal(t, "cust_1", got.GatewayCustomerID)

	entry := env.entry(t, "evt_charged")
	assert.Equal(t, billing.WebhookProcessed, entry.Status)
	assert.Equal(t, 1, entry.AttemptCount)
	require.NotNil(t, entry.SubscriptionID)
	assert.Equal(t, sub.ID, *entry.SubscriptionID)
	require.NotNil(t, entry.ProcessedAt)

	// Usage consumed after processing must survive a redelivery.
	got.ScansUsed = 7
	env.store.Put(got)

	again := env.deliver(t, payload)
	assert.True(t, again.Duplicate)
	after, err := env.store.Subscription(ctx, sub.TenantID)
	require.NoError(t, err)
	assert.Equal(t, int64(7), after.ScansUsed)
	assert.Equal(t, 1, env.entry(t, "evt_charged").AttemptCount)
}

func TestProcessor_ChargedWithPaymentDedupesAcrossPaths(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newProcessorEnv(t, testWebhookSecret)
	tenant := uuid.New()
	notes := subNotes(tenant, tier.Pro, tier.Monthly)

	order := env.gw.addOrder("order_s1", tenant, tier.Pro, tier.Monthly)
	pay := env.gw.addPayment("pay_s1", order)

	out := env.deliver(t, subscriptionEvent(t, "evt_a", gateway.EventSubscriptionActivated,
		gateway.Subscription{ID: "sub_9", Notes: notes}, pay))
	assert.Equal(t, "charge applied: activation", out.Message)

	payments := env.store.Payments(tenant)
	require.Len(t, payments, 1)
	assert.Equal(t, billing.SourceWebhook, payments[0].Source)

	// Same payment under a new event id.
	out = env.deliver(t, subscriptionEvent(t, "evt_b", gateway.EventSubscriptionCharged,
		gateway.Subscription{ID: "sub_9", Notes: notes}, pay))
	assert.Equal(t, "payment already settled", out.Message)
	assert.Equal(t, billing.WebhookProcessed, env.entry(t, "evt_b").Status)

	_, err := env.v.VerifyPayment(ctx, tenant, "order_s1", "pay_s1", gateway.SignPayment(testKeySecret, "order_s1", "pay_s1"))
	require.ErrorIs(t, err, billing.ErrDuplicatePayment)
	assert.Len(t, env.store.Payments(tenant), 1)
}

func TestProcessor_ChargedWrongAmountFails(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newProcessorEnv(t, testWebhookSecret)
	tenant := uuid.New()
	pay := &gateway.Payment{ID: "pay_x", Amount: 100, Currency: "INR", Status: gateway.PaymentCaptured}

	out := env.deliver(t, subscriptionEvent(t, "evt_x", gateway.EventSubscriptionCharged,
		gateway.Subscription{ID: "sub_x", Notes: subNotes(tenant, tier.Max, tier.Monthly)}, pay))
	assert.True(t, strings.HasPrefix(out.Message, "processing failed"))

	entry := env.entry(t, "evt_x")
	assert.Equal(t, billing.WebhookFailed, entry.Status)
	assert.Contains(t, entry.ErrorMessage, "amount")

	_, err := env.store.Subscription(ctx, tenant)
	require.ErrorIs(t, err, billing.ErrSubscriptionNotFound, "failed apply rolls back")
	assert.Empty(t, env.store.Payments(tenant))
}

func TestProcessor_StatusEvents(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newProcessorEnv(t, testWebhookSecret)
	sub := activeSub(tier.Pro, 30, baseTime.AddDate(0, 0, 20))
	env.store.Put(sub)
	entity := gateway.Subscription{ID: "sub_1", Notes: subNotes(sub.TenantID, tier.Pro, tier.Monthly)}

	for i := range 3 {
		env.deliver(t, subscriptionEvent(t, "evt_fail_"+strconv.Itoa(i), gateway.EventSubscriptionPending, entity, nil))
	}
	got, err := env.store.Subscription(ctx, sub.TenantID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPastDue, got.Status)
	assert.Equal(t, 3, got.PaymentRetryCount)
	require.NotNil(t, got.GracePeriodEndsAt)

	out := env.deliver(t, subscriptionEvent(t, "evt_pause", gateway.EventSubscriptionPaused, entity, nil))
	assert.Equal(t, "pause ignored in status past_due", out.Message)
	assert.Equal(t, billing.WebhookProcessed, env.entry(t, "evt_pause").Status)

	out = env.deliver(t, subscriptionEvent(t, "evt_halt", gateway.EventSubscriptionHalted, entity, nil))
	assert.Equal(t, "halt: past_due -> past_due", out.Message)

	ended := baseTime.Unix()
	cancelled := entity
	cancelled.EndedAt = &ended
	out = env.deliver(t, subscriptionEvent(t, "evt_cancel", gateway.EventSubscriptionCancelled, cancelled, nil))
	assert.Equal(t, "cancel: past_due -> cancelled", out.Message)

	got, err = env.store.Subscription(ctx, sub.TenantID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusCancelled, got.Status)
	assert.Equal(t, baseTime, got.PeriodEnd)
	assert.False(t, got.AutoRenew)

	out = env.deliver(t, subscriptionEvent(t, "evt_complete", gateway.EventSubscriptionCompleted, entity, nil))
	assert.Equal(t, "complete: cancelled -> completed", out.Message)
}

func TestProcessor_PauseResume(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newProcessorEnv(t, testWebhookSecret)
	sub := activeSub(tier.Ultra, 99, baseTime.AddDate(0, 0, 20))
	env.store.Put(sub)
	entity := gateway.Subscription{ID: "sub_1", Notes: subNotes(sub.TenantID, tier.Ultra, tier.Monthly)}

	env.deliver(t, subscriptionEvent(t, "evt_p", gateway.EventSubscriptionPaused, entity, nil))
	got, err := env.store.Subscription(ctx, sub.TenantID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPaused, got.Status)

	env.deliver(t, subscriptionEvent(t, "evt_r", gateway.EventSubscriptionResumed, entity, nil))
	got, err = env.store.Subscription(ctx, sub.TenantID)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusActive, got.Status)
	assert.Equal(t, int64(99), got.ScansUsed)
}

func TestProcessor_AuthenticatedCreatesPending(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newProcessorEnv(t, testWebhookSecret)
	tenant := uuid.New()

	out := env.deliver(t, subscriptionEvent(t, "evt_auth", gateway.EventSubscriptionAuthenticated,
		gateway.Subscription{ID: "sub_7", CustomerID: "cust_7", Notes: subNotes(tenant, tier.Pro, tier.Monthly)}, nil))
	assert.Equal(t, "mandate authenticated", out.Message)

	got, err := env.store.Subscription(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, billing.StatusPending, got.Status)
	assert.Equal(t, "sub_7", got.GatewaySubscriptionID)

	snap := billing.NewSnapshot(got, tier.Default())
	assert.Equal(t, int64(10), snap.ScanLimit, "pending gets the free ceiling")
}

func TestProcessor_IgnoredEvents(t *testing.T) {
	t.Parallel()

	env := newProcessorEnv(t, testWebhookSecret)

	out := env.deliver(t, []byte(`{"id":"evt_refund","event":"refund.created","payload":{}}`))
	assert.Equal(t, "ignored unsupported event type refund.created", out.Message)
	assert.Equal(t, billing.WebhookProcessed, env.entry(t, "evt_refund").Status)

	out = env.deliver(t, subscriptionEvent(t, "evt_halt", gateway.EventSubscriptionHalted,
		gateway.Subscription{Notes: gateway.Notes{billing.NoteTenantID: uuid.NewString()}}, nil))
	assert.Equal(t, "no subscription, halt ignored", out.Message)
}

func TestProcessor_UndecodableEventIsLoggedAsFailed(t *testing.T) {
	t.Parallel()

	env := newProcessorEnv(t, testWebhookSecret)

	out := env.deliver(t, subscriptionEvent(t, "evt_nt", gateway.EventSubscriptionCharged,
		gateway.Subscription{ID: "sub_1", Notes: gateway.Notes{billing.NoteTier: "pro", billing.NoteCycle: "monthly"}}, nil))
	assert.True(t, strings.HasPrefix(out.Message, "processing failed"))

	entry := env.entry(t, "evt_nt")
	assert.Equal(t, billing.WebhookFailed, entry.Status)
	assert.Contains(t, entry.ErrorMessage, billing.ErrTenantUnresolved.Error())
}

func TestProcessor_PaymentCaptured(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newProcessorEnv(t, testWebhookSecret)
	tenant := uuid.New()
	order := env.gw.addOrder("order_c", tenant, tier.Basic, tier.Yearly)
	pay := env.gw.addPayment("pay_c", order)

	out := env.deliver(t, paymentEvent(t, "evt_cap", gateway.EventPaymentCaptured, *pay))
	assert.Equal(t, "payment settled: activation", out.Message)

	got, err := env.store.Subscription(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, tier.Basic, got.Tier)
	assert.Equal(t, tier.Yearly, got.Cycle)
	assert.Equal(t, billing.StatusActive, got.Status)

	entry := env.entry(t, "evt_cap")
	require.NotNil(t, entry.TenantID)
	assert.Equal(t, tenant, *entry.TenantID)

	_, err = env.v.VerifyPayment(ctx, tenant, "order_c", "pay_c", gateway.SignPayment(testKeySecret, "order_c", "pay_c"))
	require.ErrorIs(t, err, billing.ErrDuplicatePayment)
}

func TestReplayer_RetriesFailedEntries(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newProcessorEnv(t, testWebhookSecret)
	tenant := uuid.New()
	order := env.gw.addOrder("order_r", tenant, tier.Pro, tier.Monthly)
	pay := env.gw.addPayment("pay_r", order)

	env.gw.fail(gateway.ErrTemporaryFailure)
	out := env.deliver(t, paymentEvent(t, "evt_r", gateway.EventPaymentCaptured, *pay))
	assert.True(t, strings.HasPrefix(out.Message, "processing failed"))
	assert.Equal(t, billing.WebhookFailed, env.entry(t, "evt_r").Status)
	env.gw.fail(nil)

	r, err := billing.NewReplayer(env.store, env.p,
		billing.WithClock(env.clk.Now),
		billing.WithBackoff(gateway.FixedBackoff{Interval: time.Minute}),
	)
	require.NoError(t, err)

	n, err := r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "entry is not due yet")

	env.clk.Advance(2 * time.Minute)
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	entry := env.entry(t, "evt_r")
	assert.Equal(t, billing.WebhookProcessed, entry.Status)
	assert.Equal(t, 2, entry.AttemptCount)
	assert.Empty(t, entry.ErrorMessage)

	got, err := env.store.Subscription(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, tier.Pro, got.Tier)

	env.clk.Advance(time.Hour)
	n, err = r.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, n, "processed entries are not replayed")
}

func TestReplayer_RespectsMaxAttempts(t *testing.T) {
	t.Parallel()

	ctx := context.Background()
	env := newProcessorEnv(t, testWebhookSecret)
	env.gw.fail(gateway.ErrTemporaryFailure)
	pay := gateway.Payment{ID: "pay_m", OrderID: "order_m", Amount: 1, Status: gateway.PaymentCaptured}
	env.deliver(t, paymentEvent(t, "evt_m", gateway.EventPaymentCaptured, pay))

	r, err := billing.NewReplayer(env.store, env.p,
		billing.WithClock(env.clk.Now),
		billing.WithMaxAttempts(2),
		billing.WithBackoff(gateway.FixedBackoff{Interval: time.Second}),
	)
	require.NoError(t, err)

	for range 3 {
		env.clk.Advance(time.Minute)
		_, err := r.RunOnce(ctx)
		require.NoError(t, err)
	}
	entry := env.entry(t, "evt_m")
	assert.Equal(t, 2, entry.AttemptCount)
	assert.Equal(t, billing.WebhookFailed, entry.Status)
}

func TestReplayer_Schedule(t *testing.T) {
	t.Parallel()

	env := newProcessorEnv(t, testWebhookSecret)
	r, err := billing.NewReplayer(env.store, env.p)
	require.NoError(t, err)

	c := cron.New()
	id, err := r.Schedule(context.Background(), c, "@every 5m", time.Minute)
	require.NoError(t, err)
	assert.NotZero(t, id)
	assert.Len(t, c.Entries(), 1)

	_, err = r.Schedule(context.Background(), c, "not a spec", time.Minute)
	require.Error(t, err)
}
