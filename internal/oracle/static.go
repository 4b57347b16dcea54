package oracle

import (
	"context"
	"fmt"
	"sync"
	"time"
)

// Static is a manually-driven oracle: prices are set by calls, not a feed.
// Used by tests and local runs without a live price stream.
type Static struct {
	mu      sync.RWMutex
	samples map[string]Sample
}

func NewStatic() *Static {
	return &Static{samples: make(map[string]Sample)}
}

// Set records a price for a feed, stamped now.
func (s *Static) Set(feedID string, price int64) {
	s.SetAt(feedID, price, time.Now())
}

// SetAt records a price with an explicit update time.
func (s *Static) SetAt(feedID string, price int64, updatedAt time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.samples[feedID] = Sample{Price: price, UpdatedAt: updatedAt}
}

func (s *Static) LatestPrice(_ context.Context, feedID string) (Sample, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sample, ok := s.samples[feedID]
	if !ok {
		return Sample{}, fmt.Errorf("%w: %s", ErrNoPrice, feedID)
	}
	return sample, nil
}
