package billing

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/dmitrymomot/quotakit/pkg/binder"
	"github.com/dmitrymomot/quotakit/pkg/handler"
	"github.com/dmitrymomot/quotakit/pkg/jwt"
	svc "github.com/dmitrymomot/quotakit/svc/billing"
)

var (
	ErrUnauthenticated = errors.New("billing: request is not authenticated")
	ErrForeignTenant   = errors.New("billing: tenant does not match authenticated identity")
	ErrRateLimited     = errors.New("billing: rate limit exceeded")
)

var (
	errInvalidSignature    = handler.NewHTTPError(http.StatusBadRequest, "invalid_signature")
	errOwnershipMismatch   = handler.NewHTTPError(http.StatusForbidden, "ownership_mismatch")
	errValidation          = handler.NewHTTPError(http.StatusUnprocessableEntity, "validation_failed")
	errDuplicatePayment    = handler.NewHTTPError(http.StatusConflict, "duplicate_payment")
	errQuotaExceeded       = handler.NewHTTPError(http.StatusPaymentRequired, "quota_exceeded")
	errSubscriptionPaused  = handler.NewHTTPError(http.StatusPaymentRequired, "subscription_paused")
	errSubscriptionPastDue = handler.NewHTTPError(http.StatusPaymentRequired, "subscription_past_due")
	errPayloadTooLarge     = handler.NewHTTPError(http.StatusRequestEntityTooLarge, "payload_too_large")
)

// MapError translates billing, identity and binding errors into HTTP
// errors. Unknown errors are left to the default 500 handling.
func MapError(err error) (handler.HTTPError, bool) {
	switch {
	case errors.Is(err, binder.ErrMissingContentType), errors.Is(err, binder.ErrUnsupportedMediaType):
		return handler.ErrUnsupportedMedia, true
	case errors.Is(err, binder.ErrBodyTooLarge):
		return errPayloadTooLarge, true
	case errors.Is(err, binder.ErrFailedToParseJSON),
		errors.Is(err, binder.ErrFailedToParsePath),
		errors.Is(err, binder.ErrFailedToParseQuery):
		return handler.ErrBadRequest, true
	case errors.Is(err, ErrUnauthenticated), errors.Is(err, jwt.ErrNoClaims):
		return handler.ErrUnauthorized, true
	case errors.Is(err, ErrForeignTenant):
		return handler.ErrForbidden, true
	case errors.Is(err, ErrRateLimited):
		return handler.ErrTooManyRequests, true
	}

	switch svc.Classify(err) {
	case svc.KindFraud:
		if errors.Is(err, svc.ErrOwnershipMismatch) {
			return errOwnershipMismatch, true
		}
		return errInvalidSignature, true
	case svc.KindValidation:
		return errValidation, true
	case svc.KindDuplicate:
		return errDuplicatePayment, true
	case svc.KindTransient:
		return handler.ErrServiceUnavailable, true
	case svc.KindNotFound:
		return handler.ErrNotFound, true
	case svc.KindBusiness:
		switch {
		case errors.Is(err, svc.ErrOrderRateLimited):
			return handler.ErrTooManyRequests, true
		case errors.Is(err, svc.ErrSubscriptionPaused):
			return errSubscriptionPaused, true
		case errors.Is(err, svc.ErrSubscriptionPastDue):
			return errSubscriptionPastDue, true
		default:
			return errQuotaExceeded, true
		}
	}
	return handler.HTTPError{}, false
}

// NewErrorHandler renders errors as JSON envelopes using MapError.
func NewErrorHandler(log *slog.Logger) handler.ErrorHandler {
	return handler.NewErrorHandler(log, MapError)
}
