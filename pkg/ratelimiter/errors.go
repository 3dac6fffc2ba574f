package ratelimiter

import "errors"

var (
	ErrInvalidConfig     = errors.New("invalid configuration")
	ErrInvalidTokenCount = errors.New("invalid token count")
	ErrKeyRequired       = errors.New("rate limit key is required")
	ErrStoreUnavailable  = errors.New("rate limit store unavailable")
)
