package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Extractor pulls a string identifier out of a context.
type Extractor func(context.Context) (string, bool)

// Logger records audit events.
type Logger struct {
	storage   Storage
	tenantID  Extractor
	requestID Extractor
	now       func() time.Time
}

// Option configures a Logger.
type Option func(*Logger)

// WithTenantIDExtractor sets how tenant ids are read from context.
func WithTenantIDExtractor(fn Extractor) Option {
	return func(l *Logger) { l.tenantID = fn }
}

// WithRequestIDExtractor sets how request ids are read from context.
func WithRequestIDExtractor(fn Extractor) Option {
	return func(l *Logger) { l.requestID = fn }
}

// WithClock overrides the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(l *Logger) {
		if now != nil {
			l.now = now
		}
	}
}

// NewLogger creates a new audit logger.
func NewLogger(storage Storage, opts ...Option) (*Logger, error) {
	if storage == nil {
		return nil, ErrNilStorage
	}
	l := &Logger{storage: storage, now: time.Now}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

// Log records a successful action.
func (l *Logger) Log(ctx context.Context, action string, opts ...EventOption) error {
	return l.record(ctx, action, ResultSuccess, nil, opts)
}

// LogError records a failed action. The result defaults to ResultError.
func (l *Logger) LogError(ctx context.Context, action string, err error, opts ...EventOption) error {
	return l.record(ctx, action, ResultError, err, opts)
}

func (l *Logger) record(ctx context.Context, action string, result Result, cause error, opts []EventOption) error {
	event := Event{
		ID:        uuid.NewString(),
		Action:    action,
		Result:    result,
		CreatedAt: l.now().UTC(),
	}
	if cause != nil {
		event.Error = cause.Error()
	}
	if l.tenantID != nil {
		if v, ok := l.tenantID(ctx); ok {
			event.TenantID = v
		}
	}
	if l.requestID != nil {
		if v, ok := l.requestID(ctx); ok {
			event.RequestID = v
		}
	}
	for _, opt := range opts {
		opt(&event)
	}
	if err := event.Validate(); err != nil {
		return err
	}
	return l.storage.Store(ctx, event)
}
