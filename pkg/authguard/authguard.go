package authguard

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"time"
)

// Config tunes the guard.
type Config struct {
	MaxFailures  int
	Window       time.Duration
	Backoff      []time.Duration
	ViolationTTL time.Duration
}

// DefaultConfig allows 5 failures per 15 minutes and backs off
// 5s, 10s, 30s, 60s and then 300s per repeated lockout.
func DefaultConfig() Config {
	return Config{
		MaxFailures:  5,
		Window:       15 * time.Minute,
		Backoff:      []time.Duration{5 * time.Second, 10 * time.Second, 30 * time.Second, time.Minute, 5 * time.Minute},
		ViolationTTL: 24 * time.Hour,
	}
}

func (c Config) validate() error {
	if c.MaxFailures <= 0 || c.Window <= 0 || c.ViolationTTL <= 0 || len(c.Backoff) == 0 {
		return fmt.Errorf("%w: %+v", ErrInvalidConfig, c)
	}
	for i, d := range c.Backoff {
		if d <= 0 || (i > 0 && d < c.Backoff[i-1]) {
			return fmt.Errorf("%w: backoff must be positive and non-decreasing", ErrInvalidConfig)
		}
	}
	return nil
}

// State is the persisted throttling state of one source.
type State struct {
	Failures      []time.Time `json:"failures,omitempty"`
	Violations    int         `json:"violations"`
	LastViolation time.Time   `json:"last_violation"`
	LockedUntil   time.Time   `json:"locked_until"`
}

// Decision reports whether a source may attempt authentication.
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Violations int
}

// Guard tracks authentication failures.
type Guard struct {
	store    Store
	cfg      Config
	clock    func() time.Time
	logger   *slog.Logger
	onLockout func(source string, d time.Duration)
}

type Option func(*Guard)

func WithClock(clock func() time.Time) Option {
	return func(g *Guard) {
		if clock != nil {
			g.clock = clock
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(g *Guard) {
		if l != nil {
			g.logger = l
		}
	}
}

// WithLockoutHook is called every time a source gets locked out.
func WithLockoutHook(fn func(source string, d time.Duration)) Option {
	return func(g *Guard) { g.onLockout = fn }
}

func New(store Store, cfg Config, opts ...Option) (*Guard, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	g := &Guard{
		store:  store,
		cfg:    cfg,
		clock:  time.Now,
		logger: slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(g)
	}
	return g, nil
}

// Check reports whether source is currently locked out.
func (g *Guard) Check(ctx context.Context, source string) Decision {
	if source == "" {
		return Decision{Allowed: true}
	}
	st, ok, err := g.store.Get(ctx, source)
	if err != nil {
		g.logger.WarnContext(ctx, "auth guard store unavailable, failing open",
			slog.String("source", source), slog.Any("error", err))
		return Decision{Allowed: true}
	}
	if !ok {
		return Decision{Allowed: true}
	}
	now := g.clock()
	if now.Before(st.LockedUntil) {
		return Decision{RetryAfter: st.LockedUntil.Sub(now), Violations: st.Violations}
	}
	return Decision{Allowed: true, Violations: st.Violations}
}

// RecordFailure counts a failed attempt and returns the resulting decision.
// Failures while locked out are not counted.
func (g *Guard) RecordFailure(ctx context.Context, source string) (Decision, error) {
	if source == "" {
		return Decision{}, ErrSourceRequired
	}
	now := g.clock()
	var lockout time.Duration

	st, err := g.store.Update(ctx, source, g.ttl(), func(st *State) {
		if now.Before(st.LockedUntil) {
			return
		}
		if !st.LastViolation.IsZero() && now.Sub(st.LastViolation) >= g.cfg.ViolationTTL {
			st.Violations = 0
			st.LastViolation = time.Time{}
		}

		cutoff := now.Add(-g.cfg.Window)
		kept := st.Failures[:0]
		for _, f := range st.Failures {
			if f.After(cutoff) {
				kept = append(kept, f)
			}
		}
		st.Failures = append(kept, now)

		if len(st.Failures) >= g.cfg.MaxFailures {
			st.Violations++
			st.LastViolation = now
			lockout = g.backoff(st.Violations)
			st.LockedUntil = now.Add(lockout)
			st.Failures = nil
		}
	})
	if err != nil {
		return Decision{}, err
	}

	if lockout > 0 {
		g.logger.WarnContext(ctx, "authentication source locked out",
			slog.String("source", source),
			slog.Int("violations", st.Violations),
			slog.Duration("lockout", lockout),
		)
		if g.onLockout != nil {
			g.onLockout(source, lockout)
		}
	}
	if now.Before(st.LockedUntil) {
		return Decision{RetryAfter: st.LockedUntil.Sub(now), Violations: st.Violations}, nil
	}
	return Decision{Allowed: true, Violations: st.Violations}, nil
}

// RecordSuccess clears every counter for source.
func (g *Guard) RecordSuccess(ctx context.Context, source string) error {
	if source == "" {
		return nil
	}
	return g.store.Delete(ctx, source)
}

func (g *Guard) backoff(violations int) time.Duration {
	i := min(violations, len(g.cfg.Backoff)) - 1
	return g.cfg.Backoff[max(i, 0)]
}

func (g *Guard) ttl() time.Duration {
	return max(g.cfg.Window, g.cfg.ViolationTTL, g.cfg.Backoff[len(g.cfg.Backoff)-1])
}
