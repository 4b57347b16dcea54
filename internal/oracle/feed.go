package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// Feed is a websocket price-stream client. It subscribes to a set of feed
// identifiers and keeps the most recent sample per feed in memory; reads
// are served from that cache. Staleness is not judged here — wrap the feed
// in a StalenessGuard.
type Feed struct {
	url       string
	feedIDs   []string
	reconnect time.Duration
	log       zerolog.Logger

	mu      sync.RWMutex
	samples map[string]Sample
}

// priceTick is the wire format of one stream message.
type priceTick struct {
	Feed    string `json:"feed"`
	Price   int64  `json:"price"` // 8-decimal fixed point
	Updated int64  `json:"updated_at_ms"`
}

func NewFeed(url string, feedIDs []string, reconnect time.Duration, log zerolog.Logger) *Feed {
	if reconnect <= 0 {
		reconnect = 5 * time.Second
	}
	return &Feed{
		url:       url,
		feedIDs:   feedIDs,
		reconnect: reconnect,
		log:       log,
		samples:   make(map[string]Sample),
	}
}

// Run maintains the websocket connection until ctx is cancelled,
// reconnecting with a fixed delay on any error.
func (f *Feed) Run(ctx context.Context) error {
	dialer := websocket.Dialer{HandshakeTimeout: 10 * time.Second}

	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		conn, _, err := dialer.DialContext(ctx, f.url, nil)
		if err != nil {
			f.log.Warn().Err(err).Str("url", f.url).Msg("price feed connect failed")
			if err := f.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		sub := map[string]any{"op": "subscribe", "feeds": f.feedIDs}
		if err := conn.WriteJSON(sub); err != nil {
			f.log.Warn().Err(err).Msg("price feed subscribe failed")
			conn.Close()
			if err := f.sleep(ctx); err != nil {
				return err
			}
			continue
		}

		f.log.Info().Str("url", f.url).Int("feeds", len(f.feedIDs)).Msg("price feed connected")

		if err := f.readLoop(ctx, conn); err != nil {
			f.log.Warn().Err(err).Msg("price feed stream error, reconnecting")
		}
		conn.Close()

		if err := f.sleep(ctx); err != nil {
			return err
		}
	}
}

func (f *Feed) readLoop(ctx context.Context, conn *websocket.Conn) error {
	// Unblock ReadMessage on shutdown.
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-ctx.Done():
			conn.Close()
		case <-done:
		}
	}()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}

		var tick priceTick
		if err := json.Unmarshal(raw, &tick); err != nil {
			f.log.Debug().Err(err).Msg("undecodable price tick")
			continue
		}
		if tick.Feed == "" || tick.Price <= 0 {
			continue
		}

		f.mu.Lock()
		f.samples[tick.Feed] = Sample{
			Price:     tick.Price,
			UpdatedAt: time.UnixMilli(tick.Updated),
		}
		f.mu.Unlock()
	}
}

func (f *Feed) sleep(ctx context.Context) error {
	select {
	case <-time.After(f.reconnect):
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (f *Feed) LatestPrice(_ context.Context, feedID string) (Sample, error) {
	f.mu.RLock()
	defer f.mu.RUnlock()

	sample, ok := f.samples[feedID]
	if !ok {
		return Sample{}, fmt.Errorf("%w: %s", ErrNoPrice, feedID)
	}
	return sample, nil
}
