package oracle

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
)

const (
	DefaultFeedInterval  = 5 * time.Second
	DefaultFeedMaxChange = 0.01 // ±1% per tick
)

// Feed moves every price in a Static table by a bounded random step on each tick
type Feed struct {
	prices    *Static
	interval  time.Duration
	maxChange float64

	mu  sync.Mutex
	rnd *rand.Rand
}

// NewFeed creates a random-walk feed over prices. Zero values fall back to the defaults.
func NewFeed(prices *Static, interval time.Duration, maxChange float64) *Feed {
	if interval <= 0 {
		interval = DefaultFeedInterval
	}
	if maxChange <= 0 || maxChange >= 1 {
		maxChange = DefaultFeedMaxChange
	}
	return &Feed{
		prices:    prices,
		interval:  interval,
		maxChange: maxChange,
		rnd:       rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// WithSeed makes the walk reproducible
func (f *Feed) WithSeed(seed int64) *Feed {
	f.mu.Lock()
	f.rnd = rand.New(rand.NewSource(seed))
	f.mu.Unlock()
	return f
}

// Start runs the update loop until ctx is cancelled
func (f *Feed) Start(ctx context.Context) error {
	logger := log.With().Str("component", "price_feed").Logger()
	logger.Info().
		Dur("interval", f.interval).
		Float64("max_change", f.maxChange).
		Msg("starting price feed")

	ticker := time.NewTicker(f.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down price feed")
			return nil
		case <-ticker.C:
			f.Step()
			logger.Debug().Msg("prices updated")
		}
	}
}

// Step applies one random-walk move to every price
func (f *Feed) Step() {
	f.mu.Lock()
	defer f.mu.Unlock()

	f.prices.update(func(_ string, price float64) float64 {
		change := (f.rnd.Float64() - 0.5) * 2 * f.maxChange
		return price * (1 + change)
	})
}
