// Package memstore is an in-process billing.Store for single instance
// deployments and tests. Transactions stage their writes and apply them on
// commit; tenant and event locks are exclusive per key.
package memstore

import (
	"context"
	"errors"
	"maps"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/svc/billing"
)

// Store implements billing.Store in memory.
type Store struct {
	mu       sync.RWMutex
	subs     map[uuid.UUID]*billing.Subscription
	payments map[string]billing.Payment
	entries  map[string]*billing.WebhookEntry

	tenants *keyedMutex[uuid.UUID]
	events  *keyedMutex[string]
}

// New creates an empty store.
func New() *Store {
	return &Store{
		subs:     make(map[uuid.UUID]*billing.Subscription),
		payments: make(map[string]billing.Payment),
		entries:  make(map[string]*billing.WebhookEntry),
		tenants:  newKeyedMutex[uuid.UUID](),
		events:   newKeyedMutex[string](),
	}
}

var _ billing.Store = (*Store)(nil)

func (s *Store) Subscription(_ context.Context, tenantID uuid.UUID) (*billing.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sub, ok := s.subs[tenantID]
	if !ok {
		return nil, billing.ErrSubscriptionNotFound
	}
	return sub.Clone(), nil
}

func (s *Store) WebhookEntry(_ context.Context, eventID string) (*billing.WebhookEntry, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[eventID]
	if !ok {
		return nil, billing.ErrWebhookEntryNotFound
	}
	return e.Clone(), nil
}

func (s *Store) RetryableWebhookEntries(_ context.Context, maxAttempts, limit int) ([]billing.WebhookEntry, error) {
	s.mu.RLock()
	var out []billing.WebhookEntry
	for _, e := range s.entries {
		if e.Status != billing.WebhookProcessed && e.AttemptCount < maxAttempts {
			out = append(out, *e.Clone())
		}
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b billing.WebhookEntry) int { return a.LastAttemptAt.Compare(b.LastAttemptAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) PaymentRecorded(_ context.Context, paymentRef string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.payments[paymentRef]
	return ok, nil
}

// Payments returns recorded payments for a tenant.
func (s *Store) Payments(tenantID uuid.UUID) []billing.Payment {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []billing.Payment
	for _, p := range s.payments {
		if p.TenantID == tenantID {
			out = append(out, p)
		}
	}
	slices.SortFunc(out, func(a, b billing.Payment) int { return a.CreatedAt.Compare(b.CreatedAt) })
	return out
}

// Put stores sub directly, bypassing transactions. Intended for seeding.
func (s *Store) Put(sub *billing.Subscription) {
	s.mu.Lock()
	s.subs[sub.TenantID] = sub.Clone()
	s.mu.Unlock()
}

// InTx runs fn with a staged transaction. Writes become visible on commit.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx billing.Tx) error) error {
	t := &tx{
		store:    s,
		subs:     make(map[uuid.UUID]*billing.Subscription),
		payments: make(map[string]billing.Payment),
		entries:  make(map[string]*billing.WebhookEntry),
		tenants:  make(map[uuid.UUID]bool),
		events:   make(map[string]bool),
	}
	defer t.release()

	if err := fn(ctx, t); err != nil {
		return err
	}
	return t.commit()
}

type tx struct {
	store *Store

	subs     map[uuid.UUID]*billing.Subscription
	payments map[string]billing.Payment
	entries  map[string]*billing.WebhookEntry

	tenants map[uuid.UUID]bool
	events  map[string]bool
}

func (t *tx) lockTenant(ctx context.Context, id uuid.UUID) error {
	if t.tenants[id] {
		return nil
	}
	if err := t.store.tenants.Lock(ctx, id); err != nil {
		return errors.Join(billing.ErrConcurrentTransaction, err)
	}
	t.tenants[id] = true
	return nil
}

func (t *tx) lockEvent(ctx context.Context, id string) error {
	if t.events[id] {
		return nil
	}
	if err := t.store.events.Lock(ctx, id); err != nil {
		return errors.Join(billing.ErrConcurrentTransaction, err)
	}
	t.events[id] = true
	return nil
}

func (t *tx) release() {
	for id := range t.tenants {
		t.store.tenants.Unlock(id)
	}
	for id := range t.events {
		t.store.events.Unlock(id)
	}
	t.tenants, t.events = nil, nil
}

func (t *tx) commit() error {
	s := t.store
	s.mu.Lock()
	defer s.mu.Unlock()
	for ref := range t.payments {
		if _, ok := s.payments[ref]; ok {
			return billing.ErrDuplicatePayment
		}
	}
	for id, sub := range t.subs {
		s.subs[id] = sub.Clone()
	}
	maps.Copy(s.payments, t.payments)
	for id, e := range t.entries {
		s.entries[id] = e.Clone()
	}
	return nil
}

func (t *tx) LockSubscription(ctx context.Context, tenantID uuid.UUID) (*billing.Subscription, error) {
	if err := t.lockTenant(ctx, tenantID); err != nil {
		return nil, err
	}
	if sub, ok := t.subs[tenantID]; ok {
		return sub.Clone(), nil
	}
	return t.store.Subscription(ctx, tenantID)
}

func (t *tx) CreateSubscription(ctx context.Context, sub *billing.Subscription) (*billing.Subscription, error) {
	existing, err := t.LockSubscription(ctx, sub.TenantID)
	if err == nil {
		return existing, nil
	}
	if !errors.Is(err, billing.ErrSubscriptionNotFound) {
		return nil, err
	}
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	t.subs[sub.TenantID] = sub.Clone()
	return sub.Clone(), nil
}

func (t *tx) SaveSubscription(_ context.Context, sub *billing.Subscription) error {
	if !t.tenants[sub.TenantID] {
		return errors.New("memstore: subscription saved without lock")
	}
	if err := sub.Validate(); err != nil {
		return err
	}
	t.subs[sub.TenantID] = sub.Clone()
	return nil
}

func (t *tx) PaymentRecorded(ctx context.Context, paymentRef string) (bool, error) {
	if _, ok := t.payments[paymentRef]; ok {
		return true, nil
	}
	return t.store.PaymentRecorded(ctx, paymentRef)
}

func (t *tx) RecordPayment(ctx context.Context, p billing.Payment) error {
	recorded, err := t.PaymentRecorded(ctx, p.PaymentRef)
	if err != nil {
		return err
	}
	if recorded {
		return billing.ErrDuplicatePayment
	}
	t.payments[p.PaymentRef] = p
	return nil
}

func (t *tx) LockWebhookEntry(ctx context.Context, eventID string) (*billing.WebhookEntry, error) {
	if err := t.lockEvent(ctx, eventID); err != nil {
		return nil, err
	}
	if e, ok := t.entries[eventID]; ok {
		return e.Clone(), nil
	}
	return t.store.WebhookEntry(ctx, eventID)
}

func (t *tx) SaveWebhookEntry(ctx context.Context, e *billing.WebhookEntry) error {
	if err := t.lockEvent(ctx, e.EventID); err != nil {
		return err
	}
	t.entries[e.EventID] = e.Clone()
	return nil
}

func (t *tx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	subs := make(map[uuid.UUID]*billing.Subscription, len(t.subs))
	for k, v := range t.subs {
		subs[k] = v.Clone()
	}
	payments := maps.Clone(t.payments)
	entries := make(map[string]*billing.WebhookEntry, len(t.entries))
	for k, v := range t.entries {
		entries[k] = v.Clone()
	}

	if err := fn(ctx); err != nil {
		t.subs, t.payments, t.entries = subs, payments, entries
		return err
	}
	return nil
}
