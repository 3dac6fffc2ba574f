package jwt

import "errors"

var (
	ErrMissingToken   = errors.New("jwt: missing bearer token")
	ErrInvalidToken   = errors.New("jwt: invalid token")
	ErrInvalidClaims  = errors.New("jwt: invalid claims")
	ErrSigningKey     = errors.New("jwt: signing key must be at least 32 bytes")
	ErrNoClaims       = errors.New("jwt: no claims in context")
	ErrTenantMismatch = errors.New("jwt: tenant does not match authenticated identity")
)
