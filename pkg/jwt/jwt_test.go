package jwt_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/quotakit/pkg/authguard"
	"github.com/dmitrymomot/quotakit/pkg/jwt"
)

var signingKey = []byte("0123456789abcdef0123456789abcdef")

func newService(t *testing.T, now time.Time) *jwt.Service {
	t.Helper()
	svc, err := jwt.NewService(signingKey, jwt.WithIssuer("quotakit"), jwt.WithTTL(time.Hour),
		jwt.WithClock(func() time.Time { return now }))
	require.NoError(t, err)
	return svc
}

func TestIssueAndParse(t *testing.T) {
	t.Parallel()

	now := time.Now()
	svc := newService(t, now)
	tenant := uuid.New()

	token, err := svc.Issue(tenant, "owner@example.com", "Acme")
	require.NoError(t, err)

	claims, err := svc.Parse(token)
	require.NoError(t, err)
	got, err := claims.Tenant()
	require.NoError(t, err)
	assert.Equal(t, tenant, got)
	assert.Equal(t, "owner@example.com", claims.Email)
	assert.Equal(t, "quotakit", claims.Issuer)
}

func TestParseRejects(t *testing.T) {
	t.Parallel()

	now := time.Now()
	svc := newService(t, now)
	tenant := uuid.New()
	valid, err := svc.Issue(tenant, "", "")
	require.NoError(t, err)

	expired, err := newService(t, now.Add(-2*time.Hour)).Issue(tenant, "", "")
	require.NoError(t, err)

	otherIssuer, err := jwt.NewService(signingKey, jwt.WithIssuer("someone-else"))
	require.NoError(t, err)
	foreign, err := otherIssuer.Issue(tenant, "", "")
	require.NoError(t, err)

	none, err := gojwt.NewWithClaims(gojwt.SigningMethodNone, jwt.Claims{TenantID: tenant.String()}).
		SignedString(gojwt.UnsafeAllowNoneSignatureType)
	require.NoError(t, err)

	noTenant, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, jwt.Claims{
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    "quotakit",
			ExpiresAt: gojwt.NewNumericDate(now.Add(time.Hour)),
		},
	}).SignedString(signingKey)
	require.NoError(t, err)

	tests := map[string]string{
		"expired":        expired,
		"wrong issuer":   foreign,
		"alg none":       none,
		"tampered":       valid[:len(valid)-2] + "xx",
		"garbage":        "not-a-token",
		"missing tenant": noTenant,
	}
	for name, token := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := svc.Parse(token)
			assert.Error(t, err)
		})
	}
}

func TestNewServiceRejectsShortKey(t *testing.T) {
	t.Parallel()
	_, err := jwt.NewService([]byte("short"))
	assert.ErrorIs(t, err, jwt.ErrSigningKey)
}

func TestClaimsDirectory(t *testing.T) {
	t.Parallel()

	tenant := uuid.New()
	ctx := jwt.WithClaims(context.Background(), &jwt.Claims{TenantID: tenant.String(), Email: "a@b.c", Name: "A"})

	email, name, err := jwt.ClaimsDirectory{}.Lookup(ctx, tenant)
	require.NoError(t, err)
	assert.Equal(t, "a@b.c", email)
	assert.Equal(t, "A", name)

	_, _, err = jwt.ClaimsDirectory{}.Lookup(ctx, uuid.New())
	assert.ErrorIs(t, err, jwt.ErrTenantMismatch)

	_, _, err = jwt.ClaimsDirectory{}.Lookup(context.Background(), tenant)
	assert.ErrorIs(t, err, jwt.ErrNoClaims)
}

func TestMiddleware(t *testing.T) {
	t.Parallel()

	svc := newService(t, time.Now())
	tenant := uuid.New()
	token, err := svc.Issue(tenant, "", "")
	require.NoError(t, err)

	guard, err := authguard.New(authguard.NewMemoryStore(64, time.Hour), authguard.DefaultConfig())
	require.NoError(t, err)

	var seen uuid.UUID
	h := jwt.Middleware(jwt.MiddlewareConfig{Service: svc, Guard: guard})(
		http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			seen, _ = jwt.TenantID(r.Context())
			w.WriteHeader(http.StatusNoContent)
		}),
	)

	call := func(auth, ip string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.RemoteAddr = ip + ":4321"
		if auth != "" {
			req.Header.Set("Authorization", auth)
		}
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec
	}

	rec := call("Bearer "+token, "10.0.0.1")
	assert.Equal(t, http.StatusNoContent, rec.Code)
	assert.Equal(t, tenant, seen)

	for i := range 4 {
		rec = call("Bearer bogus", "10.0.0.2")
		assert.Equal(t, http.StatusUnauthorized, rec.Code, "attempt %d", i+1)
	}
	rec = call("", "10.0.0.2")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "fifth failure locks the source out")
	assert.Equal(t, "5", rec.Header().Get("Retry-After"))

	rec = call("Bearer "+token, "10.0.0.2")
	assert.Equal(t, http.StatusTooManyRequests, rec.Code, "valid token is refused while locked out")
	assert.True(t, strings.Contains(rec.Body.String(), "too many"))

	rec = call("Bearer "+token, "10.0.0.3")
	assert.Equal(t, http.StatusNoContent, rec.Code, "other sources are unaffected")
}

func TestBearerToken(t *testing.T) {
	t.Parallel()

	for header, ok := range map[string]bool{
		"Bearer abc": true,
		"bearer abc": true,
		"Basic abc":  false,
		"Bearer ":    false,
		"":           false,
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		req.Header.Set("Authorization", header)
		_, err := jwt.BearerToken(req)
		assert.Equal(t, ok, err == nil, header)
	}
}
