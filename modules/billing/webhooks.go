package billing

import (
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/dmitrymomot/quotakit/pkg/binder"
	"github.com/dmitrymomot/quotakit/pkg/handler"
	svc "github.com/dmitrymomot/quotakit/svc/billing"
)

// SignatureHeader carries the gateway's HMAC over the raw body.
const SignatureHeader = "X-Razorpay-Signature"

const maxWebhookSize = 1 << 20

// WebhookService receives gateway deliveries. Every authenticated delivery
// is acknowledged with 200, including ones whose processing failed; those
// are followed up through the webhook log.
type WebhookService struct {
	processor    *svc.Processor
	errorHandler handler.ErrorHandler
}

func NewWebhookService(processor *svc.Processor, log *slog.Logger) *WebhookService {
	return &WebhookService{processor: processor, errorHandler: NewErrorHandler(log)}
}

func (s *WebhookService) Handle() http.Handler {
	r := chi.NewRouter()
	r.Post("/", handler.Wrap(s.receive,
		handler.WithBinders[WebhookRequest](bindWebhook),
		handler.WithErrorHandler[WebhookRequest](s.errorHandler),
	))
	return r
}

// WebhookRequest is the delivery exactly as received; the signature covers
// these bytes.
type WebhookRequest struct {
	Payload   []byte
	Signature string
}

func (s *WebhookService) receive(ctx handler.Context, req WebhookRequest) handler.Response {
	out, err := s.processor.HandleEvent(ctx, req.Payload, req.Signature)
	if err != nil {
		return handler.Error(err)
	}
	return handler.JSON(out)
}

func bindWebhook(r *http.Request, v any) error {
	req, ok := v.(*WebhookRequest)
	if !ok {
		return fmt.Errorf("%w: unexpected target %T", binder.ErrFailedToParseJSON, v)
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookSize+1))
	if err != nil {
		return fmt.Errorf("%w: read body: %v", binder.ErrFailedToParseJSON, err)
	}
	if len(body) > maxWebhookSize {
		return fmt.Errorf("%w: max %d bytes", binder.ErrBodyTooLarge, maxWebhookSize)
	}
	req.Payload = body
	req.Signature = r.Header.Get(SignatureHeader)
	return nil
}
