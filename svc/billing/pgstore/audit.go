package pgstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"

	"github.com/dmitrymomot/quotakit/pkg/audit"
)

// AuditStorage persists audit events to the audit_events table. It
// implements audit.Storage and audit.BatchStorage.
type AuditStorage struct {
	db *sql.DB
}

var (
	_ audit.Storage      = (*AuditStorage)(nil)
	_ audit.BatchStorage = (*AuditStorage)(nil)
)

func NewAuditStorage(db *sql.DB) *AuditStorage {
	return &AuditStorage{db: db}
}

func (s *AuditStorage) Store(ctx context.Context, e audit.Event) error {
	args, err := auditArgs(e)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, queryInsertAuditEvent, args...)
	return mapErr(err)
}

// StoreBatch writes events in one transaction.
func (s *AuditStorage) StoreBatch(ctx context.Context, events []audit.Event) error {
	if len(events) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return mapErr(err)
	}
	defer func() { _ = tx.Rollback() }()

	stmt, err := tx.PrepareContext(ctx, queryInsertAuditEvent)
	if err != nil {
		return mapErr(err)
	}
	defer stmt.Close()

	for _, e := range events {
		args, err := auditArgs(e)
		if err != nil {
			return err
		}
		if _, err := stmt.ExecContext(ctx, args...); err != nil {
			return mapErr(err)
		}
	}
	return mapErr(tx.Commit())
}

func auditArgs(e audit.Event) ([]any, error) {
	var metadata []byte
	if len(e.Metadata) > 0 {
		raw, err := json.Marshal(e.Metadata)
		if err != nil {
			return nil, errors.Join(audit.ErrEventValidation, err)
		}
		metadata = raw
	}
	return []any{
		e.ID, e.TenantID, e.RequestID, e.Action, e.Resource, e.ResourceID,
		string(e.Result), e.Error, metadata, e.CreatedAt,
	}, nil
}
