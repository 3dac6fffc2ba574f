package billing

import (
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/gateway"
	"github.com/dmitrymomot/quotakit/pkg/tier"
)

// Event is a decoded webhook event. The set of variants is closed; the
// processor switches over all of them and UnknownEvent is the explicit
// default.
type Event interface {
	EventID() string
	EventType() string
	isEvent()
}

type eventBase struct {
	id  string
	typ string
}

func (b eventBase) EventID() string   { return b.id }
func (b eventBase) EventType() string { return b.typ }
func (eventBase) isEvent()            {}

// SubscriptionAuthenticated: the customer authorised a recurring mandate.
// No money moved yet.
type SubscriptionAuthenticated struct {
	eventBase
	TenantID     uuid.UUID
	Subscription gateway.Subscription
}

// SubscriptionCharged: a recurring charge succeeded. It covers both the
// activation charge and later renewals.
type SubscriptionCharged struct {
	eventBase
	TenantID     uuid.UUID
	Tier         tier.Tier
	Cycle        tier.Cycle
	Subscription gateway.Subscription
	Payment      *gateway.Payment
}

// ChargeFailed: a recurring charge attempt failed.
type ChargeFailed struct {
	eventBase
	TenantID uuid.UUID
	Payment  *gateway.Payment
}

// SubscriptionHalted: the gateway stopped retrying failed charges.
type SubscriptionHalted struct {
	eventBase
	TenantID uuid.UUID
}

// SubscriptionCancelled: cancellation, immediate when the gateway reports
// the subscription already ended.
type SubscriptionCancelled struct {
	eventBase
	TenantID  uuid.UUID
	Immediate bool
}

type SubscriptionPaused struct {
	eventBase
	TenantID uuid.UUID
}

type SubscriptionResumed struct {
	eventBase
	TenantID uuid.UUID
}

// SubscriptionCompleted: the plan ran its full scheduled term.
type SubscriptionCompleted struct {
	eventBase
	TenantID uuid.UUID
}

// PaymentCaptured is the one-shot notification for order based checkouts.
// It settles through the same path as the Verifier.
type PaymentCaptured struct {
	eventBase
	Payment gateway.Payment

	order *gateway.Order
}

// UnknownEvent is any event type this package does not handle. It is
// acknowledged without a state change.
type UnknownEvent struct {
	eventBase
}

// DecodeEvent turns a gateway event into its variant. now decides whether a
// cancellation is immediate.
func DecodeEvent(ev *gateway.Event, now time.Time) (Event, error) {
	base := eventBase{id: ev.ID, typ: ev.Type}
	sub := ev.Payload.Subscription
	pay := ev.Payload.Payment

	requireSub := func() (*gateway.Subscription, uuid.UUID, error) {
		if sub == nil {
			return nil, uuid.Nil, fmt.Errorf("%w: %s without subscription entity", ErrMalformedEvent, ev.Type)
		}
		id, err := tenantFromNotes(sub.Entity.Notes, paymentNotes(pay))
		return &sub.Entity, id, err
	}

	switch ev.Type {
	case gateway.EventSubscriptionAuthenticated:
		s, tenant, err := requireSub()
		if err != nil {
			return nil, err
		}
		return &SubscriptionAuthenticated{eventBase: base, TenantID: tenant, Subscription: *s}, nil

	case gateway.EventSubscriptionActivated, gateway.EventSubscriptionCharged:
		s, tenant, err := requireSub()
		if err != nil {
			return nil, err
		}
		t, err := tier.Parse(s.Notes[NoteTier])
		if err != nil || t == tier.Free {
			return nil, fmt.Errorf("%w: subscription tier %q", ErrMalformedEvent, s.Notes[NoteTier])
		}
		c, err := tier.ParseCycle(s.Notes[NoteCycle])
		if err != nil {
			return nil, fmt.Errorf("%w: subscription cycle %q", ErrMalformedEvent, s.Notes[NoteCycle])
		}
		out := &SubscriptionCharged{eventBase: base, TenantID: tenant, Tier: t, Cycle: c, Subscription: *s}
		if pay != nil {
			p := pay.Entity
			out.Payment = &p
		}
		return out, nil

	case gateway.EventSubscriptionPending, gateway.EventPaymentFailed:
		var subNotes gateway.Notes
		if sub != nil {
			subNotes = sub.Entity.Notes
		}
		tenant, err := tenantFromNotes(subNotes, paymentNotes(pay))
		if err != nil {
			return nil, err
		}
		out := &ChargeFailed{eventBase: base, TenantID: tenant}
		if pay != nil {
			p := pay.Entity
			out.Payment = &p
		}
		return out, nil

	case gateway.EventSubscriptionHalted:
		_, tenant, err := requireSub()
		if err != nil {
			return nil, err
		}
		return &SubscriptionHalted{eventBase: base, TenantID: tenant}, nil

	case gateway.EventSubscriptionCancelled:
		s, tenant, err := requireSub()
		if err != nil {
			return nil, err
		}
		immediate := s.EndedAt != nil && !time.Unix(*s.EndedAt, 0).After(now)
		return &SubscriptionCancelled{eventBase: base, TenantID: tenant, Immediate: immediate}, nil

	case gateway.EventSubscriptionPaused:
		_, tenant, err := requireSub()
		if err != nil {
			return nil, err
		}
		return &SubscriptionPaused{eventBase: base, TenantID: tenant}, nil

	case gateway.EventSubscriptionResumed:
		_, tenant, err := requireSub()
		if err != nil {
			return nil, err
		}
		return &SubscriptionResumed{eventBase: base, TenantID: tenant}, nil

	case gateway.EventSubscriptionCompleted:
		_, tenant, err := requireSub()
		if err != nil {
			return nil, err
		}
		return &SubscriptionCompleted{eventBase: base, TenantID: tenant}, nil

	case gateway.EventPaymentCaptured:
		if pay == nil || pay.Entity.ID == "" || pay.Entity.OrderID == "" {
			return nil, fmt.Errorf("%w: payment.captured without payment and order ids", ErrMalformedEvent)
		}
		return &PaymentCaptured{eventBase: base, Payment: pay.Entity}, nil

	default:
		return &UnknownEvent{eventBase: base}, nil
	}
}

func paymentNotes(p *gateway.PaymentEnvelope) gateway.Notes {
	if p == nil {
		return nil
	}
	return p.Entity.Notes
}

// tenantFromNotes returns the first valid tenant id found in the notes.
func tenantFromNotes(notes ...gateway.Notes) (uuid.UUID, error) {
	for _, n := range notes {
		raw, ok := n[NoteTenantID]
		if !ok {
			continue
		}
		id, err := uuid.Parse(raw)
		if err == nil && id != uuid.Nil {
			return id, nil
		}
	}
	return uuid.Nil, ErrTenantUnresolved
}

// eventTenant returns the tenant linked to ev, if known before preparation.
func eventTenant(ev Event) (uuid.UUID, bool) {
	switch e := ev.(type) {
	case *SubscriptionAuthenticated:
		return e.TenantID, true
	case *SubscriptionCharged:
		return e.TenantID, true
	case *ChargeFailed:
		return e.TenantID, true
	case *SubscriptionHalted:
		return e.TenantID, true
	case *SubscriptionCancelled:
		return e.TenantID, true
	case *SubscriptionPaused:
		return e.TenantID, true
	case *SubscriptionResumed:
		return e.TenantID, true
	case *SubscriptionCompleted:
		return e.TenantID, true
	}
	return uuid.Nil, false
}
