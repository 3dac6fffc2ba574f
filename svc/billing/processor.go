package billing

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/gateway"
	"github.com/dmitrymomot/quotakit/pkg/logger"
)

// Outcome is the acknowledgement returned to the gateway.
type Outcome struct {
	Accepted  bool   `json:"accepted"`
	Message   string `json:"message"`
	EventID   string `json:"event_id,omitempty"`
	Duplicate bool   `json:"duplicate,omitempty"`
}

// Processor ingests signed webhook events.
type Processor struct {
	store    Store
	verifier *Verifier
	secret   string
	metrics  *Metrics
	log      *slog.Logger
	now      func() time.Time
}

// NewProcessor creates a webhook processor. The verifier provides the
// catalog, the lifecycle and the settlement path for payment.captured.
// An empty secret is accepted here; every event is then rejected with
// ErrWebhookSecretMissing.
func NewProcessor(store Store, verifier *Verifier, webhookSecret string, opts ...Option) (*Processor, error) {
	if store == nil || verifier == nil {
		return nil, fmt.Errorf("%w: store and verifier are required", ErrInvalidConfig)
	}
	o := newOptions(opts)
	return &Processor{
		store:    store,
		verifier: verifier,
		secret:   webhookSecret,
		metrics:  o.metrics,
		log:      o.log.With(logger.Component("webhook_processor")),
		now:      o.now,
	}, nil
}

// HandleEvent verifies and processes one delivery. Errors are returned only
// for configuration, authenticity and malformed payload failures, and for
// storage failures before the event was logged. A failure while applying
// the event is recorded on the webhook log and acknowledged.
func (p *Processor) HandleEvent(ctx context.Context, payload []byte, signature string) (*Outcome, error) {
	if p.secret == "" {
		p.log.ErrorContext(ctx, "webhook rejected: secret not configured")
		return nil, ErrWebhookSecretMissing
	}
	if strings.TrimSpace(signature) == "" {
		p.log.WarnContext(ctx, "webhook rejected: missing signature", logger.Event("security"))
		p.metrics.webhook("unknown", "rejected")
		return nil, ErrMissingSignature
	}
	if err := gateway.VerifyWebhookSignature(p.secret, payload, signature); err != nil {
		p.log.WarnContext(ctx, "webhook rejected: signature mismatch", logger.Event("security"))
		p.metrics.webhook("unknown", "rejected")
		return nil, errors.Join(ErrSignatureMismatch, err)
	}

	raw, err := gateway.ParseEvent(payload)
	if err != nil {
		p.metrics.webhook("unknown", "malformed")
		return nil, errors.Join(ErrMalformedEvent, err)
	}
	log := p.log.With(logger.EventID(raw.ID), logger.EventType(raw.Type))

	existing, err := p.store.WebhookEntry(ctx, raw.ID)
	switch {
	case err == nil && existing.Status == WebhookProcessed:
		p.metrics.webhook(raw.Type, "duplicate")
		log.DebugContext(ctx, "duplicate webhook delivery")
		return duplicate(raw.ID), nil
	case err != nil && !errors.Is(err, ErrWebhookEntryNotFound):
		return nil, err
	}

	attempt, dup, err := p.recordAttempt(ctx, raw, payload, signature)
	if err != nil {
		return nil, err
	}
	if dup {
		p.metrics.webhook(raw.Type, "duplicate")
		return duplicate(raw.ID), nil
	}
	log = log.With(logger.RetryCount(attempt))

	now := p.now().UTC()
	ev, err := DecodeEvent(raw, now)
	if err == nil {
		err = p.prepare(ctx, ev)
	}
	if err != nil {
		return p.fail(ctx, log, raw, err)
	}

	var message string
	var applyErr error
	dup = false
	err = p.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		entry, err := tx.LockWebhookEntry(ctx, raw.ID)
		if err != nil {
			return err
		}
		if entry.Status == WebhookProcessed {
			dup = true
			return nil
		}

		var sub *Subscription
		applyErr = tx.Savepoint(ctx, func(ctx context.Context) error {
			var err error
			sub, message, err = p.apply(ctx, tx, ev, now)
			return err
		})

		if tenant, ok := eventTenant(ev); ok {
			entry.TenantID = &tenant
		}
		if sub != nil {
			entry.SubscriptionID = &sub.ID
			entry.TenantID = &sub.TenantID
		}
		entry.LastAttemptAt = now
		if applyErr != nil {
			entry.Status = WebhookFailed
			entry.ErrorMessage = applyErr.Error()
		} else {
			entry.Status = WebhookProcessed
			entry.ProcessedAt = &now
			entry.ErrorMessage = ""
		}
		return tx.SaveWebhookEntry(ctx, entry)
	})
	if err != nil {
		log.ErrorContext(ctx, "webhook transaction failed", logger.Error(err))
		p.metrics.webhook(raw.Type, "error")
		return &Outcome{Accepted: true, Message: "processing deferred", EventID: raw.ID}, nil
	}
	if dup {
		p.metrics.webhook(raw.Type, "duplicate")
		return duplicate(raw.ID), nil
	}
	if applyErr != nil {
		log.ErrorContext(ctx, "webhook processing failed", logger.Error(applyErr))
		p.metrics.webhook(raw.Type, "failed")
		return &Outcome{Accepted: true, Message: "processing failed: " + applyErr.Error(), EventID: raw.ID}, nil
	}

	log.InfoContext(ctx, "webhook processed", slog.String("result", message))
	p.metrics.webhook(raw.Type, "processed")
	return &Outcome{Accepted: true, Message: message, EventID: raw.ID}, nil
}

func duplicate(eventID string) *Outcome {
	return &Outcome{Accepted: true, Message: "event already processed", EventID: eventID, Duplicate: true}
}

// recordAttempt upserts the log entry in its own transaction so the attempt
// is durable before any subscription mutation.
func (p *Processor) recordAttempt(ctx context.Context, raw *gateway.Event, payload []byte, signature string) (attempt int, dup bool, err error) {
	err = p.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		now := p.now().UTC()
		entry, err := tx.LockWebhookEntry(ctx, raw.ID)
		switch {
		case errors.Is(err, ErrWebhookEntryNotFound):
			entry = &WebhookEntry{
				EventID:   raw.ID,
				EventType: raw.Type,
				Payload:   append([]byte(nil), payload...),
				Signature: signature,
				Status:    WebhookPending,
				CreatedAt: now,
			}
		case err != nil:
			return err
		case entry.Status == WebhookProcessed:
			dup = true
			return nil
		default:
			entry.Status = WebhookRetrying
		}
		entry.AttemptCount++
		entry.LastAttemptAt = now
		attempt = entry.AttemptCount
		return tx.SaveWebhookEntry(ctx, entry)
	})
	return attempt, dup, err
}

// fail marks the entry failed when the event could not be decoded or
// prepared. Nothing was mutated.
func (p *Processor) fail(ctx context.Context, log *slog.Logger, raw *gateway.Event, cause error) (*Outcome, error) {
	log.WarnContext(ctx, "webhook event not applicable", logger.Error(cause))
	err := p.store.InTx(ctx, func(ctx context.Context, tx Tx) error {
		entry, err := tx.LockWebhookEntry(ctx, raw.ID)
		if err != nil {
			return err
		}
		if entry.Status == WebhookProcessed {
			return nil
		}
		entry.Status = WebhookFailed
		entry.ErrorMessage = cause.Error()
		return tx.SaveWebhookEntry(ctx, entry)
	})
	if err != nil {
		log.ErrorContext(ctx, "failed to mark webhook entry", logger.Error(err))
	}
	p.metrics.webhook(raw.Type, "failed")
	return &Outcome{Accepted: true, Message: "processing failed: " + cause.Error(), EventID: raw.ID}, nil
}

// prepare performs the network calls an event needs before any lock is taken.
func (p *Processor) prepare(ctx context.Context, ev Event) error {
	e, ok := ev.(*PaymentCaptured)
	if !ok {
		return nil
	}
	order, err := p.verifier.gw.FetchOrder(ctx, e.Payment.OrderID)
	if err != nil {
		return gatewayError(err, ErrOrderNotFound)
	}
	e.order = order
	return nil
}

// apply runs inside the event transaction and a savepoint. Lock order is
// always webhook entry, then tenant.
func (p *Processor) apply(ctx context.Context, tx Tx, ev Event, now time.Time) (*Subscription, string, error) {
	lc := p.verifier.lifecycle

	switch e := ev.(type) {
	case *SubscriptionAuthenticated:
		pending := NewFreeSubscription(e.TenantID, now)
		pending.Status = StatusPending
		sub, err := tx.CreateSubscription(ctx, pending)
		if err != nil {
			return nil, "", err
		}
		setIfNotEmpty(&sub.GatewaySubscriptionID, e.Subscription.ID)
		setIfNotEmpty(&sub.GatewayCustomerID, e.Subscription.CustomerID)
		sub.UpdatedAt = now
		return sub, "mandate authenticated", tx.SaveSubscription(ctx, sub)

	case *SubscriptionCharged:
		return p.applyCharged(ctx, tx, e, now)

	case *ChargeFailed:
		return p.transition(ctx, tx, e.TenantID, TriggerChargeFailed, now, func(s *Subscription) error {
			return lc.ChargeFailed(ctx, s, now)
		})

	case *SubscriptionHalted:
		return p.transition(ctx, tx, e.TenantID, TriggerHalt, now, func(s *Subscription) error {
			return lc.Halt(ctx, s, now)
		})

	case *SubscriptionCancelled:
		return p.transition(ctx, tx, e.TenantID, TriggerCancel, now, func(s *Subscription) error {
			return lc.Cancel(ctx, s, e.Immediate, now)
		})

	case *SubscriptionPaused:
		return p.transition(ctx, tx, e.TenantID, TriggerPause, now, func(s *Subscription) error {
			return lc.Pause(ctx, s, now)
		})

	case *SubscriptionResumed:
		return p.transition(ctx, tx, e.TenantID, TriggerResume, now, func(s *Subscription) error {
			return lc.Resume(ctx, s, now)
		})

	case *SubscriptionCompleted:
		return p.transition(ctx, tx, e.TenantID, TriggerComplete, now, func(s *Subscription) error {
			return lc.Complete(ctx, s, now)
		})

	case *PaymentCaptured:
		return p.applyCaptured(ctx, tx, e, now)

	case *UnknownEvent:
		return nil, "ignored unsupported event type " + e.EventType(), nil

	default:
		return nil, "", fmt.Errorf("%w: unhandled event variant %T", ErrMalformedEvent, ev)
	}
}

// transition applies a status trigger. A missing subscription or a trigger
// with no transition from the current status is acknowledged as a no-op.
func (p *Processor) transition(ctx context.Context, tx Tx, tenantID uuid.UUID, trigger Trigger, now time.Time, fn func(*Subscription) error) (*Subscription, string, error) {
	sub, err := tx.LockSubscription(ctx, tenantID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		return nil, fmt.Sprintf("no subscription, %s ignored", trigger), nil
	}
	if err != nil {
		return nil, "", err
	}
	if !p.verifier.lifecycle.CanApply(ctx, sub, trigger, now) {
		return sub, fmt.Sprintf("%s ignored in status %s", trigger, sub.Status), nil
	}
	from := sub.Status
	if err := fn(sub); err != nil {
		return nil, "", err
	}
	if err := tx.SaveSubscription(ctx, sub); err != nil {
		return nil, "", err
	}
	return sub, fmt.Sprintf("%s: %s -> %s", trigger, from, sub.Status), nil
}

func (p *Processor) applyCharged(ctx context.Context, tx Tx, e *SubscriptionCharged, now time.Time) (*Subscription, string, error) {
	charge := Charge{
		Tier:                  e.Tier,
		Cycle:                 e.Cycle,
		GatewayCustomerID:     e.Subscription.CustomerID,
		GatewaySubscriptionID: e.Subscription.ID,
	}
	if start, end, ok := e.Subscription.Period(); ok {
		charge.PeriodStart, charge.PeriodEnd = start, end
	}

	if e.Payment == nil {
		sub, err := p.lockOrPending(ctx, tx, e.TenantID, now)
		if err != nil {
			return nil, "", err
		}
		kind, err := p.verifier.lifecycle.Charge(ctx, sub, charge, now)
		if err != nil {
			return nil, "", err
		}
		return sub, "charge applied: " + string(kind), tx.SaveSubscription(ctx, sub)
	}

	pay := e.Payment
	if !pay.Settled() {
		return nil, "", fmt.Errorf("%w: status %q", ErrPaymentNotCaptured, pay.Status)
	}
	plan, err := p.verifier.catalog.Plan(e.Tier)
	if err != nil {
		return nil, "", errors.Join(ErrUnknownTier, err)
	}
	if expected := plan.Price(e.Cycle); pay.Amount != expected {
		return nil, "", fmt.Errorf("%w: charged %d, expected %d", ErrAmountMismatch, pay.Amount, expected)
	}
	charge.PaymentRef = pay.ID
	charge.OrderRef = pay.OrderID

	sub, kind, err := p.verifier.settle(ctx, tx, e.TenantID, charge, now, Payment{
		PaymentRef: pay.ID,
		OrderRef:   pay.OrderID,
		TenantID:   e.TenantID,
		Amount:     pay.Amount,
		Currency:   pay.Currency,
		Source:     SourceWebhook,
	})
	if errors.Is(err, ErrDuplicatePayment) {
		return nil, "payment already settled", nil
	}
	if err != nil {
		return nil, "", err
	}
	return sub, "charge applied: " + string(kind), nil
}

func (p *Processor) applyCaptured(ctx context.Context, tx Tx, e *PaymentCaptured, now time.Time) (*Subscription, string, error) {
	order := e.order
	if order == nil {
		return nil, "", fmt.Errorf("%w: order not loaded", ErrOrderNotFound)
	}
	tenantID, err := tenantFromNotes(order.Notes)
	if err != nil {
		return nil, "", err
	}
	if !e.Payment.Settled() {
		return nil, "", fmt.Errorf("%w: status %q", ErrPaymentNotCaptured, e.Payment.Status)
	}
	charge, amount, err := p.verifier.expectedCharge(order)
	if err != nil {
		return nil, "", err
	}
	if e.Payment.Amount != amount || order.Amount != amount {
		return nil, "", fmt.Errorf("%w: paid %d, expected %d", ErrAmountMismatch, e.Payment.Amount, amount)
	}
	charge.OrderRef = order.ID
	charge.PaymentRef = e.Payment.ID

	sub, kind, err := p.verifier.settle(ctx, tx, tenantID, charge, now, Payment{
		PaymentRef: e.Payment.ID,
		OrderRef:   order.ID,
		TenantID:   tenantID,
		Amount:     e.Payment.Amount,
		Currency:   e.Payment.Currency,
		Source:     SourceWebhook,
	})
	if errors.Is(err, ErrDuplicatePayment) {
		return nil, "payment already settled", nil
	}
	if err != nil {
		return nil, "", err
	}
	return sub, "payment settled: " + string(kind), nil
}

func (p *Processor) lockOrPending(ctx context.Context, tx Tx, tenantID uuid.UUID, now time.Time) (*Subscription, error) {
	sub, err := tx.LockSubscription(ctx, tenantID)
	if errors.Is(err, ErrSubscriptionNotFound) {
		pending := NewFreeSubscription(tenantID, now)
		pending.Status = StatusPending
		return tx.CreateSubscription(ctx, pending)
	}
	return sub, err
}
