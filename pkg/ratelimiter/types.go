package ratelimiter

import (
	"context"
	"time"
)

// Result describes a token bucket decision.
type Result struct {
	Limit     int
	Remaining int // negative when the request was denied
	ResetAt   time.Time
	now       time.Time
}

func (r *Result) Allowed() bool { return r.Remaining >= 0 }

// RetryAfter is the wait until the next refill. Zero when allowed.
func (r *Result) RetryAfter() time.Duration {
	if r.Allowed() {
		return 0
	}
	return max(r.ResetAt.Sub(r.now), 0)
}

// Config defines a token bucket.
type Config struct {
	Capacity       int
	RefillRate     int
	RefillInterval time.Duration
}

// Store persists token bucket state. When tokens exceed the available
// amount, implementations must leave the bucket untouched and return the
// negative shortfall as remaining.
type Store interface {
	ConsumeTokens(ctx context.Context, key string, tokens int, cfg Config, now time.Time) (remaining int, resetAt time.Time, err error)
	Reset(ctx context.Context, key string) error
}

// Window is one sliding window: at most Limit admissions per Size.
type Window struct {
	Name  string
	Size  time.Duration
	Limit int
}

// WindowCount is the state of one window observed before admission.
type WindowCount struct {
	Count  int
	Oldest time.Time // zero when Count is 0
}

// WindowStore admits a request against several windows at once. The request
// is recorded in every window only when all of them have headroom.
type WindowStore interface {
	Admit(ctx context.Context, key string, windows []Window, now time.Time) (counts []WindowCount, admitted bool, err error)
	Reset(ctx context.Context, key string, windows []Window) error
}
