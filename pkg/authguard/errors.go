package authguard

import "errors"

var (
	ErrInvalidConfig    = errors.New("authguard: invalid configuration")
	ErrSourceRequired   = errors.New("authguard: source is required")
	ErrStoreUnavailable = errors.New("authguard: store unavailable")
)
