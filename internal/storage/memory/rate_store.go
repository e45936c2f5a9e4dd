// Package memory provides in-memory stores for dry runs and tests.
package memory

import (
	"context"
	"slices"
	"sync"
	"time"

	"github.com/JakeFAU/cbr-rates-crawler/internal/crawler"
)

type rateKey struct {
	date time.Time
	name string
}

// RateStore is an in-memory crawler.Sink keyed by (date, name).
type RateStore struct {
	mu     sync.RWMutex
	rows   map[rateKey]crawler.Record
	latest time.Time
}

// NewRateStore constructs a RateStore.
func NewRateStore() *RateStore {
	return &RateStore{rows: make(map[rateKey]crawler.Record)}
}

// Store inserts records, skipping any (date, name) already present.
func (s *RateStore) Store(_ context.Context, records []crawler.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, rec := range records {
		key := rateKey{date: crawler.DateOf(rec.Date), name: rec.Name}
		if _, exists := s.rows[key]; exists {
			continue
		}
		s.rows[key] = rec
		if key.date.After(s.latest) {
			s.latest = key.date
		}
	}
	return nil
}

// LatestDate returns the most recent stored day.
func (s *RateStore) LatestDate(_ context.Context) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if len(s.rows) == 0 {
		return time.Time{}, false, nil
	}
	return s.latest, true, nil
}

// Ping always succeeds.
func (s *RateStore) Ping(context.Context) error { return nil }

// Len returns the number of stored rows.
func (s *RateStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.rows)
}

// Records returns a copy of the rows stored for day, ordered by name.
func (s *RateStore) Records(day time.Time) []crawler.Record {
	s.mu.RLock()
	defer s.mu.RUnlock()
	day = crawler.DateOf(day)
	var out []crawler.Record
	for key, rec := range s.rows {
		if key.date.Equal(day) {
			out = append(out, rec)
		}
	}
	slices.SortFunc(out, func(a, b crawler.Record) int {
		switch {
		case a.Name < b.Name:
			return -1
		case a.Name > b.Name:
			return 1
		}
		return 0
	})
	return out
}
