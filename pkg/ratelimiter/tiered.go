package ratelimiter

import (
	"context"
	"io"
	"log/slog"
	"time"

	"github.com/dmitrymomot/quotakit/pkg/tier"
)

// Window names reported in verdicts and metrics.
const (
	WindowMinute = "minute"
	WindowHour   = "hour"
	WindowDay    = "day"
)

// Verdict is the outcome of a tiered check.
type Verdict struct {
	Allowed bool
	// Window is the exceeded window when denied, otherwise the window with
	// the least headroom.
	Window     string
	Limit      int
	Remaining  int
	ResetAt    time.Time
	RetryAfter time.Duration
	// Degraded is set when the store failed and the request was admitted
	// without enforcement.
	Degraded bool
}

// Tiered enforces the per-minute, per-hour and per-day limits of a tier.
type Tiered struct {
	store      WindowStore
	catalog    *tier.Catalog
	clock      func() time.Time
	logger     *slog.Logger
	onReject   func(window string)
	onDegraded func()
}

type TieredOption func(*Tiered)

func WithTieredClock(clock func() time.Time) TieredOption {
	return func(t *Tiered) {
		if clock != nil {
			t.clock = clock
		}
	}
}

func WithLogger(l *slog.Logger) TieredOption {
	return func(t *Tiered) {
		if l != nil {
			t.logger = l
		}
	}
}

// WithRejectHook is called with the exceeded window on every denial.
func WithRejectHook(fn func(window string)) TieredOption {
	return func(t *Tiered) { t.onReject = fn }
}

// WithDegradedHook is called whenever a request is admitted because the
// store failed.
func WithDegradedHook(fn func()) TieredOption {
	return func(t *Tiered) { t.onDegraded = fn }
}

func NewTiered(store WindowStore, catalog *tier.Catalog, opts ...TieredOption) *Tiered {
	t := &Tiered{
		store:   store,
		catalog: catalog,
		clock:   time.Now,
		logger:  slog.New(slog.NewTextHandler(io.Discard, nil)),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Windows returns the enforced windows for tr, skipping zero limits.
func (t *Tiered) Windows(tr tier.Tier) []Window {
	plan, err := t.catalog.Plan(tr)
	if err != nil {
		plan, _ = t.catalog.Plan(tier.Free)
	}
	rl := plan.RateLimits
	out := make([]Window, 0, 3)
	for _, w := range []Window{
		{Name: WindowMinute, Size: time.Minute, Limit: rl.PerMinute},
		{Name: WindowHour, Size: time.Hour, Limit: rl.PerHour},
		{Name: WindowDay, Size: 24 * time.Hour, Limit: rl.PerDay},
	} {
		if w.Limit > 0 {
			out = append(out, w)
		}
	}
	return out
}

// Allow admits one request for key under tr's limits. Unknown tiers get
// free-tier limits. Store failures admit the request.
func (t *Tiered) Allow(ctx context.Context, key string, tr tier.Tier) Verdict {
	windows := t.Windows(tr)
	if len(windows) == 0 {
		return Verdict{Allowed: true}
	}

	now := t.clock()
	counts, admitted, err := t.store.Admit(ctx, key, windows, now)
	if err != nil {
		t.logger.WarnContext(ctx, "rate limiter store unavailable, failing open",
			slog.String("key", key),
			slog.Any("error", err),
		)
		if t.onDegraded != nil {
			t.onDegraded()
		}
		return Verdict{Allowed: true, Degraded: true}
	}

	if !admitted {
		for i, w := range windows {
			if counts[i].Count < w.Limit {
				continue
			}
			resetAt := now.Add(w.Size)
			if !counts[i].Oldest.IsZero() {
				resetAt = counts[i].Oldest.Add(w.Size)
			}
			if t.onReject != nil {
				t.onReject(w.Name)
			}
			return Verdict{
				Window:     w.Name,
				Limit:      w.Limit,
				ResetAt:    resetAt,
				RetryAfter: max(resetAt.Sub(now), time.Second),
			}
		}
	}

	v := Verdict{Allowed: true, Remaining: -1}
	for i, w := range windows {
		remaining := w.Limit - counts[i].Count - 1
		if v.Remaining >= 0 && remaining >= v.Remaining {
			continue
		}
		resetAt := now.Add(w.Size)
		if !counts[i].Oldest.IsZero() {
			resetAt = counts[i].Oldest.Add(w.Size)
		}
		v.Window, v.Limit, v.Remaining, v.ResetAt = w.Name, w.Limit, remaining, resetAt
	}
	return v
}

// Reset clears every window for key under tr's limits.
func (t *Tiered) Reset(ctx context.Context, key string, tr tier.Tier) error {
	return t.store.Reset(ctx, key, t.Windows(tr))
}
