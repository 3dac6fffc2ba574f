package main

import (
	"errors"
	"fmt"
	"time"

	"github.com/dmitrymomot/quotakit/pkg/httpserver"
	"github.com/dmitrymomot/quotakit/svc/billing"
)

const (
	backendMemory   = "memory"
	backendPostgres = "postgres"
	backendRedis    = "redis"
)

// appConfig is loaded from the environment. Postgres and Redis settings
// are loaded separately, only when their backend is selected.
type appConfig struct {
	Env  string `env:"APP_ENV" envDefault:"development"`
	Name string `env:"APP_NAME" envDefault:"quotakit"`

	StoreBackend     string `env:"STORE_BACKEND" envDefault:"postgres"`
	RateLimitBackend string `env:"RATE_LIMIT_BACKEND" envDefault:"memory"`

	HTTP httpserver.Config
	// TrustedIPHeaders lists proxy headers that carry the client address,
	// e.g. "CF-Connecting-IP,X-Forwarded-For". Empty trusts none.
	TrustedIPHeaders []string `env:"TRUSTED_IP_HEADERS" envSeparator:","`

	GatewayBaseURL       string        `env:"GATEWAY_BASE_URL" envDefault:"https://api.razorpay.com"`
	GatewayKeyID         string        `env:"GATEWAY_KEY_ID,required"`
	GatewayKeySecret     string        `env:"GATEWAY_KEY_SECRET,required"`
	GatewayWebhookSecret string        `env:"GATEWAY_WEBHOOK_SECRET,required"`
	GatewayTimeout       time.Duration `env:"GATEWAY_TIMEOUT" envDefault:"10s"`

	JWTSigningKey string `env:"JWT_SIGNING_KEY,required"`
	JWTIssuer     string `env:"JWT_ISSUER" envDefault:"quotakit"`

	TierCatalogPath string `env:"TIER_CATALOG_PATH"`

	RenewalSkew       time.Duration `env:"RENEWAL_SKEW" envDefault:"5m"`
	GracePeriod       time.Duration `env:"GRACE_PERIOD" envDefault:"168h"`
	MaxChargeFailures int           `env:"MAX_CHARGE_FAILURES" envDefault:"3"`

	OrderRateCapacity int           `env:"ORDER_RATE_CAPACITY" envDefault:"5"`
	OrderRateInterval time.Duration `env:"ORDER_RATE_INTERVAL" envDefault:"1h"`

	WebhookReplaySchedule string        `env:"WEBHOOK_REPLAY_SCHEDULE" envDefault:"@every 5m"`
	WebhookReplayTimeout  time.Duration `env:"WEBHOOK_REPLAY_TIMEOUT" envDefault:"1m"`
	WebhookMaxAttempts    int           `env:"WEBHOOK_MAX_ATTEMPTS" envDefault:"5"`

	AuthMaxFailures   int           `env:"AUTH_MAX_FAILURES" envDefault:"5"`
	AuthFailureWindow time.Duration `env:"AUTH_FAILURE_WINDOW" envDefault:"15m"`
}

func (c *appConfig) Validate() error {
	var errs []error
	if c.StoreBackend != backendPostgres && c.StoreBackend != backendMemory {
		errs = append(errs, fmt.Errorf("STORE_BACKEND must be %q or %q", backendPostgres, backendMemory))
	}
	if c.RateLimitBackend != backendRedis && c.RateLimitBackend != backendMemory {
		errs = append(errs, fmt.Errorf("RATE_LIMIT_BACKEND must be %q or %q", backendRedis, backendMemory))
	}
	if len(c.JWTSigningKey) < 32 {
		errs = append(errs, errors.New("JWT_SIGNING_KEY must be at least 32 bytes"))
	}
	if c.OrderRateCapacity <= 0 || c.OrderRateInterval <= 0 {
		errs = append(errs, errors.New("ORDER_RATE_CAPACITY and ORDER_RATE_INTERVAL must be positive"))
	}
	if c.AuthMaxFailures <= 0 || c.AuthFailureWindow <= 0 {
		errs = append(errs, errors.New("AUTH_MAX_FAILURES and AUTH_FAILURE_WINDOW must be positive"))
	}
	return errors.Join(errs...)
}

func (c *appConfig) policy() billing.Policy {
	return billing.Policy{
		RenewalSkew:       c.RenewalSkew,
		GracePeriod:       c.GracePeriod,
		MaxChargeFailures: c.MaxChargeFailures,
	}
}
