package billing_test

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/gateway"
	"github.com/dmitrymomot/quotakit/pkg/tier"
	"github.com/dmitrymomot/quotakit/svc/billing"
)

const (
	testKeySecret     = "key_secret_test"
	testWebhookSecret = "whsec_test"
)

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func newClock(t time.Time) *clock { return &clock{now: t} }

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// fakeGateway is an in-memory gateway.Gateway.
type fakeGateway struct {
	mu       sync.Mutex
	orders   map[string]*gateway.Order
	payments map[string]*gateway.Payment
	requests []gateway.OrderRequest
	seq      int
	err      error
}

func newFakeGateway() *fakeGateway {
	return &fakeGateway{
		orders:   make(map[string]*gateway.Order),
		payments: make(map[string]*gateway.Payment),
	}
}

func (g *fakeGateway) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	g.seq++
	g.requests = append(g.requests, req)
	o := &gateway.Order{
		ID:        fmt.Sprintf("order_%d", g.seq),
		Amount:    req.Amount,
		AmountDue: req.Amount,
		Currency:  req.Currency,
		Receipt:   req.Receipt,
		Status:    gateway.OrderCreated,
		Notes:     req.Notes,
	}
	g.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (g *fakeGateway) FetchOrder(_ context.Context, id string) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	o, ok := g.orders[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (g *fakeGateway) FetchPayment(_ context.Context, id string) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.err != nil {
		return nil, g.err
	}
	p, ok := g.payments[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

func (g *fakeGateway) fail(err error) {
	g.mu.Lock()
	g.err = err
	g.mu.Unlock()
}

// addOrder registers an order for tenant at the catalog price.
func (g *fakeGateway) addOrder(id string, tenantID uuid.UUID, t tier.Tier, c tier.Cycle) *gateway.Order {
	plan, err := tier.Default().Plan(t)
	if err != nil {
		panic(err)
	}
	o := &gateway.Order{
		ID:       id,
		Amount:   plan.Price(c),
		Currency: plan.Currency,
		Status:   gateway.OrderPaid,
		Notes: gateway.Notes{
			billing.NoteTenantID: tenantID.String(),
			billing.NoteTier:     t.String(),
			billing.NoteCycle:    c.String(),
		},
	}
	g.mu.Lock()
	g.orders[id] = o
	g.mu.Unlock()
	return o
}

// addPayment registers a captured payment for order.
func (g *fakeGateway) addPayment(id string, order *gateway.Order) *gateway.Payment {
	p := &gateway.Payment{
		ID:       id,
		OrderID:  order.ID,
		Amount:   order.Amount,
		Currency: order.Currency,
		Status:   gateway.PaymentCaptured,
		Captured: true,
	}
	g.mu.Lock()
	g.payments[id] = p
	g.mu.Unlock()
	return p
}

func (g *fakeGateway) orderRequests() []gateway.OrderRequest {
	g.mu.Lock()
	defer g.mu.Unlock()
	return append([]gateway.OrderRequest(nil), g.requests...)
}

type staticDirectory struct {
	email, name string
	err         error
}

func (d staticDirectory) Lookup(context.Context, uuid.UUID) (string, string, error) {
	return d.email, d.name, d.err
}
