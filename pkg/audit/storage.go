package audit

import (
	"context"
	"log/slog"
	"slices"
	"sync"
)

// MemoryStorage keeps events in memory. Useful in tests and local runs.
type MemoryStorage struct {
	mu     sync.RWMutex
	events []Event
}

// NewMemoryStorage creates an empty in-memory storage.
func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{}
}

// Store implements Storage.
func (m *MemoryStorage) Store(_ context.Context, event Event) error {
	m.mu.Lock()
	m.events = append(m.events, event)
	m.mu.Unlock()
	return nil
}

// StoreBatch implements BatchStorage.
func (m *MemoryStorage) StoreBatch(_ context.Context, events []Event) error {
	m.mu.Lock()
	m.events = append(m.events, events...)
	m.mu.Unlock()
	return nil
}

// Events returns a copy of the stored events in insertion order.
func (m *MemoryStorage) Events() []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return slices.Clone(m.events)
}

// ByAction returns stored events with the given action.
func (m *MemoryStorage) ByAction(action string) []Event {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Event
	for _, e := range m.events {
		if e.Action == action {
			out = append(out, e)
		}
	}
	return out
}

// SlogStorage writes events to a structured logger.
type SlogStorage struct {
	log *slog.Logger
}

// NewSlogStorage creates a storage that logs every event at info level,
// or warn level for failures and errors.
func NewSlogStorage(log *slog.Logger) *SlogStorage {
	if log == nil {
		log = slog.Default()
	}
	return &SlogStorage{log: log.With(slog.String("component", "audit"))}
}

// Store implements Storage.
func (s *SlogStorage) Store(ctx context.Context, e Event) error {
	level := slog.LevelInfo
	if e.Result != ResultSuccess {
		level = slog.LevelWarn
	}
	attrs := []slog.Attr{
		slog.String("audit_id", e.ID),
		slog.String("action", e.Action),
		slog.String("result", string(e.Result)),
	}
	if e.TenantID != "" {
		attrs = append(attrs, slog.String("tenant_id", e.TenantID))
	}
	if e.Resource != "" {
		attrs = append(attrs, slog.String("resource", e.Resource), slog.String("resource_id", e.ResourceID))
	}
	if e.Error != "" {
		attrs = append(attrs, slog.String("error", e.Error))
	}
	if len(e.Metadata) > 0 {
		attrs = append(attrs, slog.Any("metadata", e.Metadata))
	}
	s.log.LogAttrs(ctx, level, "audit event", attrs...)
	return nil
}

// MultiStorage fans an event out to several storages. The first error wins
// but every storage is attempted.
func MultiStorage(storages ...Storage) Storage {
	return StorageFunc(func(ctx context.Context, e Event) error {
		var first error
		for _, s := range storages {
			if err := s.Store(ctx, e); err != nil && first == nil {
				first = err
			}
		}
		return first
	})
}
