// Package jwt is the service's identity provider. It issues and verifies
// HS256 bearer tokens built on github.com/golang-jwt/jwt/v5 and exposes the
// authenticated tenant to handlers through the request context.
//
// Middleware rejects requests without a valid token. When configured with
// an authguard.Guard, failed verifications are counted per client source,
// locked-out sources receive 429 with Retry-After, and a valid token clears
// the source's failure history.
//
//	svc, _ := jwt.NewService(key, jwt.WithIssuer("quotakit"))
//	r.Use(jwt.Middleware(jwt.MiddlewareConfig{Service: svc, Guard: guard}))
//
//	tenantID, ok := jwt.TenantID(r.Context())
package jwt
