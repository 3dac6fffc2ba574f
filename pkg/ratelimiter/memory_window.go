package ratelimiter

import (
	"context"
	"sync"
	"time"
)

// MemoryWindowStore keeps admission timestamps per key and window in
// process memory. A single mutex makes multi-window admission atomic.
type MemoryWindowStore struct {
	mu   sync.Mutex
	logs map[string][]time.Time

	stop     chan struct{}
	stopOnce sync.Once
}

// NewMemoryWindowStore creates the store. A positive sweepEvery starts a
// goroutine that drops logs with no recent entries; call Close to stop it.
func NewMemoryWindowStore(sweepEvery time.Duration) *MemoryWindowStore {
	s := &MemoryWindowStore{
		logs: make(map[string][]time.Time),
		stop: make(chan struct{}),
	}
	if sweepEvery > 0 {
		go s.sweep(sweepEvery)
	}
	return s
}

func (s *MemoryWindowStore) Admit(_ context.Context, key string, windows []Window, now time.Time) ([]WindowCount, bool, error) {
	if key == "" {
		return nil, false, ErrKeyRequired
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	counts := make([]WindowCount, len(windows))
	admitted := true
	for i, w := range windows {
		k := windowKey(key, w)
		log := prune(s.logs[k], now.Add(-w.Size))
		s.logs[k] = log

		counts[i].Count = len(log)
		if len(log) > 0 {
			counts[i].Oldest = log[0]
		}
		if len(log) >= w.Limit {
			admitted = false
		}
	}
	if admitted {
		for _, w := range windows {
			k := windowKey(key, w)
			s.logs[k] = append(s.logs[k], now)
		}
	}
	return counts, admitted, nil
}

func (s *MemoryWindowStore) Reset(_ context.Context, key string, windows []Window) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, w := range windows {
		delete(s.logs, windowKey(key, w))
	}
	return nil
}

func (s *MemoryWindowStore) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

func (s *MemoryWindowStore) sweep(every time.Duration) {
	ticker := time.NewTicker(every)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			s.mu.Lock()
			for k, log := range s.logs {
				// Day is the longest window in use; anything older is dead.
				if len(log) == 0 || now.Sub(log[len(log)-1]) > 24*time.Hour {
					delete(s.logs, k)
				}
			}
			s.mu.Unlock()
		}
	}
}

// prune drops timestamps at or before cutoff. log is ascending.
func prune(log []time.Time, cutoff time.Time) []time.Time {
	i := 0
	for i < len(log) && !log[i].After(cutoff) {
		i++
	}
	if i == 0 {
		return log
	}
	return append(log[:0:0], log[i:]...)
}

func windowKey(key string, w Window) string {
	return key + ":" + w.Name
}
