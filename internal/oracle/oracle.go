package oracle

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Sample is one price reading: an 8-decimal fixed-point USD price and the
// moment the source last updated it.
type Sample struct {
	Price     int64
	UpdatedAt time.Time
}

// PriceOracle supplies the latest price for a feed identifier.
type PriceOracle interface {
	LatestPrice(ctx context.Context, feedID string) (Sample, error)
}

var (
	// ErrStalePrice means the consulted price is older than the staleness
	// window. The enclosing operation must fail — the engine freezes rather
	// than operate on guessed collateral values.
	ErrStalePrice = errors.New("stale price")

	// ErrNoPrice means the feed has never delivered a sample.
	ErrNoPrice = errors.New("no price for feed")
)

// StalenessGuard wraps an oracle and rejects samples older than maxAge.
// There is deliberately no fallback pricing behind it.
type StalenessGuard struct {
	inner  PriceOracle
	maxAge time.Duration
	now    func() time.Time
}

// DefaultStalenessWindow matches the upstream feed heartbeat with margin.
const DefaultStalenessWindow = 3 * time.Hour

func NewStalenessGuard(inner PriceOracle, maxAge time.Duration) *StalenessGuard {
	if maxAge <= 0 {
		maxAge = DefaultStalenessWindow
	}
	return &StalenessGuard{inner: inner, maxAge: maxAge, now: time.Now}
}

// WithClock overrides the wall clock, for tests.
func (g *StalenessGuard) WithClock(now func() time.Time) *StalenessGuard {
	g.now = now
	return g
}

func (g *StalenessGuard) LatestPrice(ctx context.Context, feedID string) (Sample, error) {
	s, err := g.inner.LatestPrice(ctx, feedID)
	if err != nil {
		return Sample{}, err
	}

	if age := g.now().Sub(s.UpdatedAt); age > g.maxAge {
		return Sample{}, fmt.Errorf("%w: feed %s updated %s ago (max %s)",
			ErrStalePrice, feedID, age.Truncate(time.Second), g.maxAge)
	}

	return s, nil
}
