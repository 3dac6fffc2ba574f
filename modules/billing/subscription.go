package billing

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/binder"
	"github.com/dmitrymomot/quotakit/pkg/handler"
	"github.com/dmitrymomot/quotakit/pkg/jwt"
	svc "github.com/dmitrymomot/quotakit/svc/billing"
)

// SubscriptionService serves the tenant's entitlement snapshot.
type SubscriptionService struct {
	ledger       *svc.Ledger
	errorHandler handler.ErrorHandler
}

func NewSubscriptionService(ledger *svc.Ledger, log *slog.Logger) *SubscriptionService {
	return &SubscriptionService{ledger: ledger, errorHandler: NewErrorHandler(log)}
}

func (s *SubscriptionService) Handle() http.Handler {
	r := chi.NewRouter()
	r.Get("/{tenantId}", handler.Wrap(s.snapshot,
		handler.WithBinders[SnapshotRequest](binder.Path(chi.URLParam)),
		handler.WithErrorHandler[SnapshotRequest](s.errorHandler),
	))
	return r
}

type SnapshotRequest struct {
	TenantID uuid.UUID `path:"tenantId"`
}

// A tenant may only read its own snapshot.
func (s *SubscriptionService) snapshot(ctx handler.Context, req SnapshotRequest) handler.Response {
	tenantID, err := authenticatedTenant(ctx)
	if err != nil {
		return handler.Error(err)
	}
	if req.TenantID != tenantID {
		return handler.Error(ErrForeignTenant)
	}

	snap, err := s.ledger.Snapshot(ctx, tenantID)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(snap)
}

// QuotaService lets an out-of-process metering caller consume scans.
type QuotaService struct {
	ledger       *svc.Ledger
	errorHandler handler.ErrorHandler
}

func NewQuotaService(ledger *svc.Ledger, log *slog.Logger) *QuotaService {
	return &QuotaService{ledger: ledger, errorHandler: NewErrorHandler(log)}
}

func (s *QuotaService) Handle() http.Handler {
	r := chi.NewRouter()
	r.Post("/consume", handler.Wrap(s.consume,
		handler.WithBinders[ConsumeRequest](binder.JSON()),
		handler.WithErrorHandler[ConsumeRequest](s.errorHandler),
	))
	return r
}

type ConsumeRequest struct {
	Amount int64 `json:"amount"`
}

// consume answers 200 when the scans were consumed and 402 with the same
// decision body when they were not.
func (s *QuotaService) consume(ctx handler.Context, req ConsumeRequest) handler.Response {
	tenantID, err := authenticatedTenant(ctx)
	if err != nil {
		return handler.Error(err)
	}

	d, err := s.ledger.CheckAndConsume(ctx, tenantID, req.Amount)
	if err != nil {
		return handler.Error(err)
	}
	if !d.Allowed {
		return handler.JSON(d, handler.WithJSONStatus(http.StatusPaymentRequired))
	}
	return handler.JSON(d)
}

func authenticatedTenant(ctx context.Context) (uuid.UUID, error) {
	id, ok := jwt.TenantID(ctx)
	if !ok {
		return uuid.Nil, ErrUnauthenticated
	}
	return id, nil
}
