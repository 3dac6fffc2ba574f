package billing_test

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotakit/modules/billing"
	"github.com/dmitrymomot/quotakit/pkg/gateway"
	"github.com/dmitrymomot/quotakit/pkg/handler"
	"github.com/dmitrymomot/quotakit/pkg/jwt"
	"github.com/dmitrymomot/quotakit/pkg/ratelimiter"
	"github.com/dmitrymomot/quotakit/pkg/tier"
	svc "github.com/dmitrymomot/quotakit/svc/billing"
	"github.com/dmitrymomot/quotakit/svc/billing/memstore"
)

const (
	keySecret     = "key_secret_test"
	webhookSecret = "whsec_test"
	signingKey    = "0123456789abcdef0123456789abcdef"
)

// gatewayStub is an in-memory gateway.Gateway.
type gatewayStub struct {
	mu       sync.Mutex
	orders   map[string]*gateway.Order
	payments map[string]*gateway.Payment
	seq      int
}

func newGatewayStub() *gatewayStub {
	return &gatewayStub{
		orders:   make(map[string]*gateway.Order),
		payments: make(map[string]*gateway.Payment),
	}
}

func (g *gatewayStub) CreateOrder(_ context.Context, req gateway.OrderRequest) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.seq++
	o := &gateway.Order{
		ID:       fmt.Sprintf("order_%d", g.seq),
		Amount:   req.Amount,
		Currency: req.Currency,
		Receipt:  req.Receipt,
		Status:   gateway.OrderCreated,
		Notes:    req.Notes,
	}
	g.orders[o.ID] = o
	cp := *o
	return &cp, nil
}

func (g *gatewayStub) FetchOrder(_ context.Context, id string) (*gateway.Order, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (g *gatewayStub) FetchPayment(_ context.Context, id string) (*gateway.Payment, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	p, ok := g.payments[id]
	if !ok {
		return nil, gateway.ErrNotFound
	}
	cp := *p
	return &cp, nil
}

// pay captures the full amount of orderID and returns the checkout signature.
func (g *gatewayStub) pay(t *testing.T, orderID, paymentID string) string {
	t.Helper()
	g.mu.Lock()
	defer g.mu.Unlock()
	o, ok := g.orders[orderID]
	require.True(t, ok, "unknown order %s", orderID)
	o.Status = gateway.OrderPaid
	o.AmountPaid = o.Amount
	g.payments[paymentID] = &gateway.Payment{
		ID:       paymentID,
		OrderID:  orderID,
		Amount:   o.Amount,
		Currency: o.Currency,
		Status:   gateway.PaymentCaptured,
		Captured: true,
	}
	return gateway.SignPayment(keySecret, orderID, paymentID)
}

type env struct {
	store    *memstore.Store
	gw       *gatewayStub
	tokens   *jwt.Service
	ledger   *svc.Ledger
	verifier *svc.Verifier
	server   http.Handler
	now      time.Time
}

type envConfig struct {
	catalog      *tier.Catalog
	orderLimiter *ratelimiter.Bucket
}

func newEnv(t *testing.T, opts ...func(*envConfig)) *env {
	t.Helper()

	cfg := envConfig{catalog: tier.Default()}
	for _, opt := range opts {
		opt(&cfg)
	}

	now := time.Date(2025, 6, 15, 12, 0, 0, 0, time.UTC)
	clock := func() time.Time { return now }
	e := &env{store: memstore.New(), gw: newGatewayStub(), now: now}

	var err error
	e.tokens, err = jwt.NewService([]byte(signingKey), jwt.WithClock(clock))
	require.NoError(t, err)

	svcOpts := []svc.Option{svc.WithClock(clock), svc.WithDirectory(jwt.ClaimsDirectory{})}
	if cfg.orderLimiter != nil {
		svcOpts = append(svcOpts, svc.WithOrderLimiter(cfg.orderLimiter))
	}
	e.ledger, err = svc.NewLedger(e.store, cfg.catalog, svcOpts...)
	require.NoError(t, err)
	e.verifier, err = svc.NewVerifier(e.store, e.gw, cfg.catalog, keySecret, svcOpts...)
	require.NoError(t, err)
	processor, err := svc.NewProcessor(e.store, e.verifier, webhookSecret, svcOpts...)
	require.NoError(t, err)

	limiter := ratelimiter.NewTiered(ratelimiter.NewMemoryWindowStore(0), cfg.catalog,
		ratelimiter.WithTieredClock(clock))

	e.server = billing.Router(billing.RouterOptions{
		Orders:        billing.NewOrderService(e.verifier, nil),
		Subscriptions: billing.NewSubscriptionService(e.ledger, nil),
		Quota:         billing.NewQuotaService(e.ledger, nil),
		Webhooks:      billing.NewWebhookService(processor, nil),
		Middlewares: []func(http.Handler) http.Handler{
			jwt.Middleware(jwt.MiddlewareConfig{Service: e.tokens}),
			billing.RateLimit(limiter, e.ledger, nil),
		},
	})
	return e
}

func withCatalog(c *tier.Catalog) func(*envConfig) {
	return func(cfg *envConfig) { cfg.catalog = c }
}

func withOrderLimiter(b *ratelimiter.Bucket) func(*envConfig) {
	return func(cfg *envConfig) { cfg.orderLimiter = b }
}

func (e *env) token(t *testing.T, tenantID uuid.UUID) string {
	t.Helper()
	tok, err := e.tokens.Issue(tenantID, "ops@example.com", "Ops Team")
	require.NoError(t, err)
	return tok
}

// do sends body as JSON. An empty token sends no Authorization header.
func (e *env) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	r := httptest.NewRequest(method, path, &buf)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		r.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, r)
	return rec
}

func (e *env) webhook(payload []byte, signature string) *httptest.ResponseRecorder {
	r := httptest.NewRequest(http.MethodPost, "/webhooks", bytes.NewReader(payload))
	r.Header.Set("Content-Type", "application/json")
	if signature != "" {
		r.Header.Set(billing.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	e.server.ServeHTTP(rec, r)
	return rec
}

// envelope decodes the response, re-encoding data into out when given.
func envelope(t *testing.T, rec *httptest.ResponseRecorder, out any) handler.JSONResponse {
	t.Helper()
	var body handler.JSONResponse
	require.NoError(t, json.NewDecoder(rec.Body).Decode(&body), rec.Body.String())
	if out != nil {
		raw, err := json.Marshal(body.Data)
		require.NoError(t, err)
		require.NoError(t, json.Unmarshal(raw, out))
	}
	return body
}
