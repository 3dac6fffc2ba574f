package billing

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrSubscriptionNotFound  = errors.New("billing: subscription not found")
	ErrInvalidSubscription   = errors.New("billing: invalid subscription state")
	ErrWebhookEntryNotFound  = errors.New("billing: webhook entry not found")
	ErrInvalidAmount         = errors.New("billing: amount must be positive")
	ErrTenantRequired        = errors.New("billing: tenant id is required")
	ErrInvalidConfig         = errors.New("billing: invalid configuration")
	ErrStoreUnavailable      = errors.New("billing: store unavailable")
	ErrConcurrentTransaction = errors.New("billing: transaction conflict, retry")

	// Business outcomes.
	ErrQuotaExceeded       = errors.New("billing: quota exceeded")
	ErrSubscriptionPaused  = errors.New("billing: subscription is paused")
	ErrSubscriptionPastDue = errors.New("billing: subscription is past due")
	ErrOrderRateLimited    = errors.New("billing: too many orders")

	// Validation.
	ErrUnknownTier        = errors.New("billing: unknown tier")
	ErrInvalidCycle       = errors.New("billing: invalid billing cycle")
	ErrFreeTierOrder      = errors.New("billing: free tier does not require payment")
	ErrMissingReference   = errors.New("billing: order and payment references are required")
	ErrPaymentNotCaptured = errors.New("billing: payment is not captured")
	ErrAmountMismatch     = errors.New("billing: payment amount does not match order")
	ErrMalformedOrder     = errors.New("billing: order metadata is incomplete")
	ErrMalformedEvent     = errors.New("billing: malformed webhook event")
	ErrTenantUnresolved   = errors.New("billing: cannot resolve tenant for event")

	// Fraud and security.
	ErrSignatureMismatch    = errors.New("billing: signature mismatch")
	ErrMissingSignature     = errors.New("billing: signature is missing")
	ErrOwnershipMismatch    = errors.New("billing: order belongs to another tenant")
	ErrWebhookSecretMissing = errors.New("billing: webhook secret is not configured")

	// Duplicates.
	ErrDuplicatePayment = errors.New("billing: payment already processed")

	// Infrastructure.
	ErrGatewayUnavailable = errors.New("billing: payment gateway unavailable")
	ErrOrderNotFound      = errors.New("billing: order not found")
)

// RateLimitedError is returned when order creation is throttled.
type RateLimitedError struct {
	RetryAfter time.Duration
}

func (e *RateLimitedError) Error() string {
	return fmt.Sprintf("%s: retry after %s", ErrOrderRateLimited, e.RetryAfter)
}

func (e *RateLimitedError) Unwrap() error { return ErrOrderRateLimited }

// Kind groups errors by how callers should react.
type Kind int

const (
	KindInternal Kind = iota
	KindFraud
	KindValidation
	KindDuplicate
	KindTransient
	KindBusiness
	KindNotFound
)

func (k Kind) String() string {
	switch k {
	case KindFraud:
		return "fraud"
	case KindValidation:
		return "validation"
	case KindDuplicate:
		return "duplicate"
	case KindTransient:
		return "transient"
	case KindBusiness:
		return "business"
	case KindNotFound:
		return "not_found"
	default:
		return "internal"
	}
}

var kinds = []struct {
	kind Kind
	errs []error
}{
	{KindFraud, []error{ErrSignatureMismatch, ErrMissingSignature, ErrOwnershipMismatch}},
	{KindDuplicate, []error{ErrDuplicatePayment}},
	{KindTransient, []error{ErrGatewayUnavailable, ErrStoreUnavailable, ErrConcurrentTransaction}},
	{KindBusiness, []error{ErrQuotaExceeded, ErrSubscriptionPaused, ErrSubscriptionPastDue, ErrOrderRateLimited}},
	{KindNotFound, []error{ErrSubscriptionNotFound, ErrOrderNotFound, ErrWebhookEntryNotFound}},
	{KindValidation, []error{
		ErrUnknownTier, ErrInvalidCycle, ErrFreeTierOrder, ErrMissingReference, ErrPaymentNotCaptured,
		ErrAmountMismatch, ErrMalformedOrder, ErrMalformedEvent, ErrTenantUnresolved, ErrInvalidAmount,
		ErrTenantRequired,
	}},
}

// Classify maps err onto the error taxonomy. Unrecognised errors are internal.
func Classify(err error) Kind {
	if err == nil {
		return KindInternal
	}
	for _, group := range kinds {
		for _, target := range group.errs {
			if errors.Is(err, target) {
				return group.kind
			}
		}
	}
	return KindInternal
}
