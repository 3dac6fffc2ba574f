package pgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/pg"
	"github.com/dmitrymomot/quotakit/pkg/tier"
	"github.com/dmitrymomot/quotakit/svc/billing"
)

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

type scanner interface {
	Scan(dest ...any) error
}

// Store implements billing.Store on PostgreSQL.
type Store struct {
	db *sql.DB
}

var _ billing.Store = (*Store)(nil)

// New wraps db. The schema from Migrations must be applied.
func New(db *sql.DB) *Store {
	return &Store{db: db}
}

func (s *Store) Subscription(ctx context.Context, tenantID uuid.UUID) (*billing.Subscription, error) {
	return getSubscription(ctx, s.db, querySubscription, tenantID)
}

func (s *Store) WebhookEntry(ctx context.Context, eventID string) (*billing.WebhookEntry, error) {
	return getWebhookEntry(ctx, s.db, queryWebhookEntry, eventID)
}

func (s *Store) RetryableWebhookEntries(ctx context.Context, maxAttempts, limit int) ([]billing.WebhookEntry, error) {
	lim := sql.NullInt64{Int64: int64(limit), Valid: limit > 0}
	rows, err := s.db.QueryContext(ctx, queryRetryableWebhookEntries, maxAttempts, lim)
	if err != nil {
		return nil, mapErr(err)
	}
	defer rows.Close()

	var out []billing.WebhookEntry
	for rows.Next() {
		e, err := scanWebhookEntry(rows)
		if err != nil {
			return nil, mapErr(err)
		}
		out = append(out, *e)
	}
	if err := rows.Err(); err != nil {
		return nil, mapErr(err)
	}
	return out, nil
}

func (s *Store) PaymentRecorded(ctx context.Context, paymentRef string) (bool, error) {
	return paymentRecorded(ctx, s.db, paymentRef)
}

// InTx runs fn in a read committed transaction. The transaction is rolled
// back when fn returns an error.
func (s *Store) InTx(ctx context.Context, fn func(ctx context.Context, tx billing.Tx) error) error {
	sqlTx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	t := &tx{tx: sqlTx}

	if err := fn(ctx, t); err != nil {
		if rbErr := sqlTx.Rollback(); rbErr != nil && !errors.Is(rbErr, sql.ErrTxDone) {
			return errors.Join(err, mapErr(rbErr))
		}
		return err
	}
	if err := sqlTx.Commit(); err != nil {
		return mapErr(err)
	}
	return nil
}

type tx struct {
	tx         *sql.Tx
	savepoints int
}

func (t *tx) LockSubscription(ctx context.Context, tenantID uuid.UUID) (*billing.Subscription, error) {
	return getSubscription(ctx, t.tx, queryLockSubscription, tenantID)
}

func (t *tx) CreateSubscription(ctx context.Context, sub *billing.Subscription) (*billing.Subscription, error) {
	if err := sub.Validate(); err != nil {
		return nil, err
	}
	_, err := t.tx.ExecContext(ctx, queryInsertSubscription,
		sub.ID, sub.TenantID, string(sub.Tier), string(sub.Cycle), string(sub.Status),
		sub.GatewayCustomerID, sub.GatewayOrderID, sub.GatewayPaymentID, sub.GatewaySubscriptionID,
		sub.ScansUsed, sub.PeriodStart, sub.PeriodEnd, sub.PaymentRetryCount, nullTime(sub.GracePeriodEndsAt),
		sub.AutoRenew, nullTime(sub.CancelledAt), sub.CreatedAt, sub.UpdatedAt,
	)
	if err != nil {
		return nil, mapErr(err)
	}
	return t.LockSubscription(ctx, sub.TenantID)
}

func (t *tx) SaveSubscription(ctx context.Context, sub *billing.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	res, err := t.tx.ExecContext(ctx, queryUpdateSubscription,
		sub.TenantID, string(sub.Tier), string(sub.Cycle), string(sub.Status),
		sub.GatewayCustomerID, sub.GatewayOrderID, sub.GatewayPaymentID, sub.GatewaySubscriptionID,
		sub.ScansUsed, sub.PeriodStart, sub.PeriodEnd, sub.PaymentRetryCount,
		nullTime(sub.GracePeriodEndsAt), sub.AutoRenew, nullTime(sub.CancelledAt), sub.UpdatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return billing.ErrSubscriptionNotFound
	}
	return nil
}

func (t *tx) PaymentRecorded(ctx context.Context, paymentRef string) (bool, error) {
	return paymentRecorded(ctx, t.tx, paymentRef)
}

func (t *tx) RecordPayment(ctx context.Context, p billing.Payment) error {
	res, err := t.tx.ExecContext(ctx, queryInsertPayment,
		p.PaymentRef, p.OrderRef, p.TenantID, string(p.Tier), string(p.Cycle),
		p.Amount, p.Currency, string(p.Source), p.CreatedAt,
	)
	if err != nil {
		return mapErr(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return mapErr(err)
	}
	if n == 0 {
		return billing.ErrDuplicatePayment
	}
	return nil
}

func (t *tx) LockWebhookEntry(ctx context.Context, eventID string) (*billing.WebhookEntry, error) {
	return getWebhookEntry(ctx, t.tx, queryLockWebhookEntry, eventID)
}

func (t *tx) SaveWebhookEntry(ctx context.Context, e *billing.WebhookEntry) error {
	_, err := t.tx.ExecContext(ctx, queryUpsertWebhookEntry,
		e.EventID, e.EventType, nullUUID(e.SubscriptionID), nullUUID(e.TenantID), e.Payload, e.Signature,
		string(e.Status), e.AttemptCount, e.LastAttemptAt, nullTime(e.ProcessedAt), e.ErrorMessage, e.CreatedAt,
	)
	return mapErr(err)
}

// Savepoint runs fn inside a SQL savepoint and rolls back to it when fn fails.
func (t *tx) Savepoint(ctx context.Context, fn func(ctx context.Context) error) error {
	t.savepoints++
	name := fmt.Sprintf("sp_%d", t.savepoints)
	if _, err := t.tx.ExecContext(ctx, "SAVEPOINT "+name); err != nil {
		return mapErr(err)
	}
	if err := fn(ctx); err != nil {
		if _, rbErr := t.tx.ExecContext(ctx, "ROLLBACK TO SAVEPOINT "+name); rbErr != nil {
			return errors.Join(err, mapErr(rbErr))
		}
		return err
	}
	if _, err := t.tx.ExecContext(ctx, "RELEASE SAVEPOINT "+name); err != nil {
		return mapErr(err)
	}
	return nil
}

func getSubscription(ctx context.Context, q querier, query string, tenantID uuid.UUID) (*billing.Subscription, error) {
	sub, err := scanSubscription(q.QueryRowContext(ctx, query, tenantID))
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrSubscriptionNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return sub, nil
}

func getWebhookEntry(ctx context.Context, q querier, query, eventID string) (*billing.WebhookEntry, error) {
	e, err := scanWebhookEntry(q.QueryRowContext(ctx, query, eventID))
	if pg.IsNotFoundError(err) {
		return nil, billing.ErrWebhookEntryNotFound
	}
	if err != nil {
		return nil, mapErr(err)
	}
	return e, nil
}

func paymentRecorded(ctx context.Context, q querier, paymentRef string) (bool, error) {
	var ok bool
	if err := q.QueryRowContext(ctx, queryPaymentRecorded, paymentRef).Scan(&ok); err != nil {
		return false, mapErr(err)
	}
	return ok, nil
}

func scanSubscription(row scanner) (*billing.Subscription, error) {
	var (
		s                billing.Subscription
		t, cycle, status string
		grace, cancelled sql.NullTime
	)
	err := row.Scan(
		&s.ID, &s.TenantID, &t, &cycle, &status,
		&s.GatewayCustomerID, &s.GatewayOrderID, &s.GatewayPaymentID, &s.GatewaySubscriptionID,
		&s.ScansUsed, &s.PeriodStart, &s.PeriodEnd, &s.PaymentRetryCount, &grace,
		&s.AutoRenew, &cancelled, &s.CreatedAt, &s.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	s.Tier = tier.Tier(t)
	s.Cycle = tier.Cycle(cycle)
	s.Status = billing.Status(status)
	s.PeriodStart = s.PeriodStart.UTC()
	s.PeriodEnd = s.PeriodEnd.UTC()
	s.CreatedAt = s.CreatedAt.UTC()
	s.UpdatedAt = s.UpdatedAt.UTC()
	s.GracePeriodEndsAt = timePtr(grace)
	s.CancelledAt = timePtr(cancelled)
	return &s, nil
}

func scanWebhookEntry(row scanner) (*billing.WebhookEntry, error) {
	var (
		e             billing.WebhookEntry
		status        string
		subID, tenant uuid.NullUUID
		processed     sql.NullTime
	)
	err := row.Scan(
		&e.EventID, &e.EventType, &subID, &tenant, &e.Payload, &e.Signature,
		&status, &e.AttemptCount, &e.LastAttemptAt, &processed, &e.ErrorMessage, &e.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	e.Status = billing.WebhookStatus(status)
	e.SubscriptionID = uuidPtr(subID)
	e.TenantID = uuidPtr(tenant)
	e.LastAttemptAt = e.LastAttemptAt.UTC()
	e.CreatedAt = e.CreatedAt.UTC()
	e.ProcessedAt = timePtr(processed)
	return &e, nil
}

// mapErr translates driver errors into billing sentinels. Lock timeouts,
// deadlocks and serialization failures are retryable conflicts; any other
// driver failure means the store is unavailable.
func mapErr(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return err
	case pg.IsRetryable(err):
		return errors.Join(billing.ErrConcurrentTransaction, err)
	case pg.IsDuplicateKeyError(err) && pg.ConstraintName(err) == "payments_pkey":
		return errors.Join(billing.ErrDuplicatePayment, err)
	default:
		return errors.Join(billing.ErrStoreUnavailable, err)
	}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func nullUUID(id *uuid.UUID) uuid.NullUUID {
	if id == nil {
		return uuid.NullUUID{}
	}
	return uuid.NullUUID{UUID: *id, Valid: true}
}

func uuidPtr(id uuid.NullUUID) *uuid.UUID {
	if !id.Valid {
		return nil
	}
	v := id.UUID
	return &v
}
