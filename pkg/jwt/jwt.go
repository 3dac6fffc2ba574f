package jwt

import (
	"errors"
	"fmt"
	"time"

	gojwt "github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// Claims identify a tenant user.
type Claims struct {
	TenantID string `json:"tid"`
	Email    string `json:"email,omitempty"`
	Name     string `json:"name,omitempty"`
	gojwt.RegisteredClaims
}

// Tenant returns the parsed tenant id.
func (c *Claims) Tenant() (uuid.UUID, error) {
	id, err := uuid.Parse(c.TenantID)
	if err != nil || id == uuid.Nil {
		return uuid.Nil, ErrInvalidClaims
	}
	return id, nil
}

// Service signs and verifies tokens.
type Service struct {
	key    []byte
	issuer string
	ttl    time.Duration
	clock  func() time.Time
	leeway time.Duration
}

type Option func(*Service)

func WithIssuer(issuer string) Option {
	return func(s *Service) { s.issuer = issuer }
}

// WithTTL sets the lifetime of issued tokens.
func WithTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.ttl = ttl
		}
	}
}

func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.clock = clock
		}
	}
}

func NewService(signingKey []byte, opts ...Option) (*Service, error) {
	if len(signingKey) < 32 {
		return nil, ErrSigningKey
	}
	s := &Service{
		key:    signingKey,
		ttl:    time.Hour,
		clock:  time.Now,
		leeway: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s, nil
}

// Issue signs a token for a tenant user.
func (s *Service) Issue(tenantID uuid.UUID, email, name string) (string, error) {
	now := s.clock()
	claims := Claims{
		TenantID: tenantID.String(),
		Email:    email,
		Name:     name,
		RegisteredClaims: gojwt.RegisteredClaims{
			Issuer:    s.issuer,
			Subject:   tenantID.String(),
			IssuedAt:  gojwt.NewNumericDate(now),
			NotBefore: gojwt.NewNumericDate(now),
			ExpiresAt: gojwt.NewNumericDate(now.Add(s.ttl)),
			ID:        uuid.NewString(),
		},
	}
	signed, err := gojwt.NewWithClaims(gojwt.SigningMethodHS256, claims).SignedString(s.key)
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

// Parse verifies signature, algorithm, expiry and issuer.
func (s *Service) Parse(token string) (*Claims, error) {
	parserOpts := []gojwt.ParserOption{
		gojwt.WithValidMethods([]string{gojwt.SigningMethodHS256.Alg()}),
		gojwt.WithTimeFunc(s.clock),
		gojwt.WithLeeway(s.leeway),
		gojwt.WithExpirationRequired(),
	}
	if s.issuer != "" {
		parserOpts = append(parserOpts, gojwt.WithIssuer(s.issuer))
	}

	var claims Claims
	_, err := gojwt.ParseWithClaims(token, &claims, func(*gojwt.Token) (any, error) {
		return s.key, nil
	}, parserOpts...)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if _, err := claims.Tenant(); err != nil {
		return nil, err
	}
	return &claims, nil
}
