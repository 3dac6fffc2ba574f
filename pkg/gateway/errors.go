package gateway

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidConfiguration = errors.New("gateway: invalid configuration")
	ErrNotFound             = errors.New("gateway: resource not found")
	ErrPermanentFailure     = errors.New("gateway: permanent failure")
	ErrTemporaryFailure     = errors.New("gateway: temporary failure")
	ErrTimeout              = errors.New("gateway: request timeout")
	ErrCircuitOpen          = errors.New("gateway: circuit breaker is open")
	ErrInvalidSignature     = errors.New("gateway: signature mismatch")
	ErrMissingSignature     = errors.New("gateway: signature is missing")
	ErrMalformedPayload     = errors.New("gateway: malformed payload")
)

// APIError is an error response returned by the gateway.
type APIError struct {
	StatusCode  int    `json:"-"`
	Code        string `json:"code"`
	Description string `json:"description"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("gateway api error %d %s: %s", e.StatusCode, e.Code, e.Description)
}

// IsTransient reports errors the caller may retry as a whole operation.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTemporaryFailure) || errors.Is(err, ErrTimeout) || errors.Is(err, ErrCircuitOpen)
}
