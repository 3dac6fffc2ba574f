package gateway

import (
	"encoding/json"
	"fmt"
	"time"
)

// Webhook event types emitted by the gateway.
const (
	EventSubscriptionAuthenticated = "subscription.authenticated"
	EventSubscriptionActivated     = "subscription.activated"
	EventSubscriptionCharged       = "subscription.charged"
	EventSubscriptionPending       = "subscription.pending"
	EventSubscriptionHalted        = "subscription.halted"
	EventSubscriptionCancelled     = "subscription.cancelled"
	EventSubscriptionPaused        = "subscription.paused"
	EventSubscriptionResumed       = "subscription.resumed"
	EventSubscriptionCompleted     = "subscription.completed"
	EventPaymentCaptured           = "payment.captured"
	EventPaymentFailed             = "payment.failed"
)

// Event is a decoded webhook body.
type Event struct {
	ID        string       `json:"id"`
	Type      string       `json:"event"`
	CreatedAt int64        `json:"created_at"`
	Payload   EventPayload `json:"payload"`
}

type EventPayload struct {
	Subscription *SubscriptionEnvelope `json:"subscription,omitempty"`
	Payment      *PaymentEnvelope      `json:"payment,omitempty"`
}

type SubscriptionEnvelope struct {
	Entity Subscription `json:"entity"`
}

type PaymentEnvelope struct {
	Entity Payment `json:"entity"`
}

// Subscription is the gateway's recurring plan object.
type Subscription struct {
	ID           string `json:"id"`
	PlanID       string `json:"plan_id"`
	CustomerID   string `json:"customer_id"`
	Status       string `json:"status"`
	CurrentStart int64  `json:"current_start"`
	CurrentEnd   int64  `json:"current_end"`
	EndedAt      *int64 `json:"ended_at"`
	ChargeAt     int64  `json:"charge_at"`
	PaidCount    int    `json:"paid_count"`
	Notes        Notes  `json:"notes"`
}

// Period returns the current billing window reported by the gateway.
// ok is false when the gateway did not send one.
func (s Subscription) Period() (start, end time.Time, ok bool) {
	if s.CurrentStart == 0 || s.CurrentEnd == 0 || s.CurrentEnd <= s.CurrentStart {
		return time.Time{}, time.Time{}, false
	}
	return time.Unix(s.CurrentStart, 0).UTC(), time.Unix(s.CurrentEnd, 0).UTC(), true
}

// ParseEvent decodes a webhook body. The event id and type are required.
func ParseEvent(payload []byte) (*Event, error) {
	var ev Event
	if err := json.Unmarshal(payload, &ev); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrMalformedPayload, err)
	}
	if ev.ID == "" {
		return nil, fmt.Errorf("%w: event id is missing", ErrMalformedPayload)
	}
	if ev.Type == "" {
		return nil, fmt.Errorf("%w: event type is missing", ErrMalformedPayload)
	}
	return &ev, nil
}
