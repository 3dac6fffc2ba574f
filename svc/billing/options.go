package billing

import (
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/dmitrymomot/quotakit/pkg/audit"
	"github.com/dmitrymomot/quotakit/pkg/gateway"
	"github.com/dmitrymomot/quotakit/pkg/logger"
	"github.com/dmitrymomot/quotakit/pkg/ratelimiter"
)

// Directory resolves tenant profile data used on receipts.
type Directory interface {
	Lookup(ctx context.Context, tenantID uuid.UUID) (email, name string, err error)
}

// Option configures the Ledger, Verifier, Processor and Replayer. Each
// service reads only the options relevant to it.
type Option func(*options)

type options struct {
	log          *slog.Logger
	now          func() time.Time
	metrics      *Metrics
	audit        *audit.Logger
	lifecycle    *Lifecycle
	orderLimiter *ratelimiter.Bucket
	directory    Directory
	keyID        string
	maxAttempts  int
	replayBatch  int
	backoff      gateway.BackoffStrategy
}

func newOptions(opts []Option) options {
	o := options{
		log:         logger.Discard(),
		now:         time.Now,
		maxAttempts: 10,
		replayBatch: 50,
		backoff:     gateway.ExponentialBackoff{Initial: time.Minute, Max: 6 * time.Hour, Multiplier: 2},
	}
	for _, opt := range opts {
		opt(&o)
	}
	if o.lifecycle == nil {
		o.lifecycle = MustLifecycle(DefaultPolicy())
	}
	return o
}

// WithLogger sets the logger. Nil keeps the discard logger.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) {
		if l != nil {
			o.log = l
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(o *options) {
		if now != nil {
			o.now = now
		}
	}
}

// WithMetrics records counters on m.
func WithMetrics(m *Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithAudit records verification outcomes.
func WithAudit(a *audit.Logger) Option {
	return func(o *options) { o.audit = a }
}

// WithLifecycle sets the transition table and policy.
func WithLifecycle(l *Lifecycle) Option {
	return func(o *options) {
		if l != nil {
			o.lifecycle = l
		}
	}
}

// WithOrderLimiter throttles order creation per tenant.
func WithOrderLimiter(b *ratelimiter.Bucket) Option {
	return func(o *options) { o.orderLimiter = b }
}

// WithDirectory sets the profile lookup used for receipts.
func WithDirectory(d Directory) Option {
	return func(o *options) { o.directory = d }
}

// WithKeyID sets the public gateway key returned with order handles.
func WithKeyID(id string) Option {
	return func(o *options) { o.keyID = id }
}

// WithMaxAttempts caps webhook replays per event.
func WithMaxAttempts(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.maxAttempts = n
		}
	}
}

// WithReplayBatch sets how many entries one replay run loads.
func WithReplayBatch(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.replayBatch = n
		}
	}
}

// WithBackoff sets the delay between webhook replays, keyed by attempt count.
func WithBackoff(b gateway.BackoffStrategy) Option {
	return func(o *options) {
		if b != nil {
			o.backoff = b
		}
	}
}
