package jwt

import (
	"context"

	"github.com/google/uuid"
)

type claimsKey struct{}

func WithClaims(ctx context.Context, c *Claims) context.Context {
	return context.WithValue(ctx, claimsKey{}, c)
}

func ClaimsFromContext(ctx context.Context) (*Claims, bool) {
	c, ok := ctx.Value(claimsKey{}).(*Claims)
	return c, ok && c != nil
}

// TenantID returns the authenticated tenant.
func TenantID(ctx context.Context) (uuid.UUID, bool) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return uuid.Nil, false
	}
	id, err := c.Tenant()
	return id, err == nil
}

// ClaimsDirectory resolves tenant contact details from the request's token.
type ClaimsDirectory struct{}

// Lookup returns the email and name carried by the token of the tenant.
func (ClaimsDirectory) Lookup(ctx context.Context, tenantID uuid.UUID) (email, name string, err error) {
	c, ok := ClaimsFromContext(ctx)
	if !ok {
		return "", "", ErrNoClaims
	}
	if id, err := c.Tenant(); err != nil || id != tenantID {
		return "", "", ErrTenantMismatch
	}
	return c.Email, c.Name, nil
}
