package store

import (
	"context"
	"sync"
	"time"

	"github.com/i474232898/weather-trigger-oracle/internal/weather"
)

// MemoryStore is a concurrency-safe in-memory Store.
type MemoryStore struct {
	mu sync.RWMutex

	// key: location key, value: records oldest first
	data map[string][]Record

	maxHistory int           // max records per location
	maxAge     time.Duration // drop records older than this
	now        func() time.Time
}

// NewMemoryStore creates a MemoryStore. Non-positive limits mean unlimited.
func NewMemoryStore(maxHistory int, maxAge time.Duration) *MemoryStore {
	return &MemoryStore{
		data:       make(map[string][]Record),
		maxHistory: maxHistory,
		maxAge:     maxAge,
		now:        time.Now,
	}
}

// Save appends rec under its location and enforces retention.
func (s *MemoryStore) Save(_ context.Context, rec Record) error {
	if rec.CheckedAt.IsZero() {
		rec.CheckedAt = s.now().UTC()
	}
	key := rec.Location.Key()

	s.mu.Lock()
	defer s.mu.Unlock()

	history := append(s.data[key], rec)

	if s.maxHistory > 0 && len(history) > s.maxHistory {
		history = history[len(history)-s.maxHistory:]
	}

	if s.maxAge > 0 {
		cutoff := s.now().Add(-s.maxAge)
		i := 0
		for ; i < len(history); i++ {
			if !history[i].CheckedAt.Before(cutoff) {
				break
			}
		}
		history = history[i:]
	}

	if len(history) == 0 {
		delete(s.data, key)
		return nil
	}
	s.data[key] = history
	return nil
}

// Latest returns the most recent record for loc.
func (s *MemoryStore) Latest(ctx context.Context, loc weather.Location) (Record, error) {
	recs, err := s.Recent(ctx, loc, 1)
	if err != nil {
		return Record{}, err
	}
	return recs[0], nil
}

// Recent returns up to limit records for loc, newest first.
func (s *MemoryStore) Recent(_ context.Context, loc weather.Location, limit int) ([]Record, error) {
	key := loc.Key()

	s.mu.RLock()
	defer s.mu.RUnlock()

	history := s.data[key]
	if len(history) == 0 {
		return nil, ErrNotFound
	}

	n := len(history)
	if limit > 0 && limit < n {
		n = limit
	}
	out := make([]Record, 0, n)
	for i := len(history) - 1; i >= 0 && len(out) < n; i-- {
		out = append(out, history[i])
	}
	return out, nil
}
