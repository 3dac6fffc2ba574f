package billing

import (
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/quotakit/pkg/binder"
	"github.com/dmitrymomot/quotakit/pkg/handler"
	"github.com/dmitrymomot/quotakit/pkg/tier"
	svc "github.com/dmitrymomot/quotakit/svc/billing"
)

// OrderService exposes checkout creation and payment verification.
type OrderService struct {
	verifier     *svc.Verifier
	errorHandler handler.ErrorHandler
}

func NewOrderService(verifier *svc.Verifier, log *slog.Logger) *OrderService {
	return &OrderService{verifier: verifier, errorHandler: NewErrorHandler(log)}
}

func (s *OrderService) Handle() http.Handler {
	r := chi.NewRouter()

	r.Post("/", handler.Wrap(s.createOrder,
		handler.WithBinders[CreateOrderRequest](binder.JSON()),
		handler.WithErrorHandler[CreateOrderRequest](s.errorHandler),
	))

	r.Post("/verify", handler.Wrap(s.verifyPayment,
		handler.WithBinders[VerifyPaymentRequest](binder.JSON()),
		handler.WithErrorHandler[VerifyPaymentRequest](s.errorHandler),
	))

	return r
}

// CreateOrderRequest selects the plan to purchase. The tenant comes from
// the bearer token.
type CreateOrderRequest struct {
	Tier  string `json:"tier"`
	Cycle string `json:"cycle"`
}

func (s *OrderService) createOrder(ctx handler.Context, req CreateOrderRequest) handler.Response {
	tenantID, err := authenticatedTenant(ctx)
	if err != nil {
		return handler.Error(err)
	}

	t, err := tier.Parse(req.Tier)
	if err != nil {
		return handler.Error(fmt.Errorf("%w: %q", svc.ErrUnknownTier, req.Tier))
	}
	c, err := tier.ParseCycle(req.Cycle)
	if err != nil {
		return handler.Error(fmt.Errorf("%w: %q", svc.ErrInvalidCycle, req.Cycle))
	}

	order, err := s.verifier.CreateOrder(ctx, tenantID, t, c)
	if err != nil {
		var rl *svc.RateLimitedError
		if errors.As(err, &rl) {
			secs := int64(math.Ceil(rl.RetryAfter.Seconds()))
			ctx.ResponseWriter().Header().Set("Retry-After", strconv.FormatInt(max(secs, 1), 10))
		}
		return handler.Error(err)
	}
	return handler.JSON(order, handler.WithJSONStatus(http.StatusCreated))
}

// VerifyPaymentRequest carries the fields returned by the gateway checkout.
type VerifyPaymentRequest struct {
	OrderRef   string `json:"order_id"`
	PaymentRef string `json:"payment_id"`
	Signature  string `json:"signature"`
}

func (s *OrderService) verifyPayment(ctx handler.Context, req VerifyPaymentRequest) handler.Response {
	tenantID, err := authenticatedTenant(ctx)
	if err != nil {
		return handler.Error(err)
	}

	snap, err := s.verifier.VerifyPayment(ctx, tenantID, req.OrderRef, req.PaymentRef, req.Signature)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(snap)
}
