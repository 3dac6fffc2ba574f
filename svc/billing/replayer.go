package billing

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/dmitrymomot/quotakit/pkg/gateway"
	"github.com/dmitrymomot/quotakit/pkg/logger"
)

// Replayer re-runs webhook log entries that did not reach processed.
// Stored payloads go through HandleEvent again, so signatures are
// re-verified and idempotency still applies.
type Replayer struct {
	store       Store
	processor   *Processor
	backoff     gateway.BackoffStrategy
	maxAttempts int
	batch       int
	log         *slog.Logger
	now         func() time.Time
}

// NewReplayer creates a replayer.
func NewReplayer(store Store, processor *Processor, opts ...Option) (*Replayer, error) {
	if store == nil || processor == nil {
		return nil, fmt.Errorf("%w: store and processor are required", ErrInvalidConfig)
	}
	o := newOptions(opts)
	return &Replayer{
		store:       store,
		processor:   processor,
		backoff:     o.backoff,
		maxAttempts: o.maxAttempts,
		batch:       o.replayBatch,
		log:         o.log.With(logger.Component("webhook_replayer")),
		now:         o.now,
	}, nil
}

// RunOnce replays every due entry and returns how many were attempted.
// An entry is due once backoff(attempt_count) has passed since its last attempt.
func (r *Replayer) RunOnce(ctx context.Context) (int, error) {
	entries, err := r.store.RetryableWebhookEntries(ctx, r.maxAttempts, r.batch)
	if err != nil {
		return 0, err
	}

	now := r.now()
	replayed := 0
	for _, e := range entries {
		if err := ctx.Err(); err != nil {
			return replayed, err
		}
		if now.Before(e.LastAttemptAt.Add(r.backoff.NextInterval(e.AttemptCount))) {
			continue
		}
		replayed++
		out, err := r.processor.HandleEvent(ctx, e.Payload, e.Signature)
		if err != nil {
			r.log.WarnContext(ctx, "replay rejected", logger.EventID(e.EventID), logger.Error(err))
			continue
		}
		r.log.InfoContext(ctx, "webhook replayed",
			logger.EventID(e.EventID),
			logger.EventType(e.EventType),
			logger.RetryCount(e.AttemptCount),
			slog.String("result", out.Message),
		)
	}
	return replayed, nil
}

// Schedule registers RunOnce on c with a cron spec such as "@every 5m".
// Each run gets its own timeout.
func (r *Replayer) Schedule(ctx context.Context, c *cron.Cron, spec string, timeout time.Duration) (cron.EntryID, error) {
	return c.AddFunc(spec, func() {
		runCtx, cancel := context.WithTimeout(ctx, timeout)
		defer cancel()
		n, err := r.RunOnce(runCtx)
		if err != nil {
			r.log.ErrorContext(runCtx, "webhook replay run failed", logger.Error(err))
			return
		}
		if n > 0 {
			r.log.InfoContext(runCtx, "webhook replay run finished", slog.Int("replayed", n))
		}
	})
}
