// Package market keeps a warm in-memory candle cache fed by venue streams.
package market

import (
	"sync"

	"botcore/internal/venue"
)

// Cache retains the most recent candles per symbol/timeframe. The engine
// falls back to it when the REST candle fetch fails transiently mid-batch.
type Cache struct {
	mu    sync.RWMutex
	limit int
	bars  map[string][]venue.Candle
}

// NewCache retains up to limit candles per key.
func NewCache(limit int) *Cache {
	if limit <= 0 {
		limit = 200
	}
	return &Cache{limit: limit, bars: make(map[string][]venue.Candle)}
}

func key(symbol, timeframe string) string {
	return symbol + "/" + timeframe
}

// Seed replaces the cached window, keeping ascending order.
func (c *Cache) Seed(symbol, timeframe string, candles []venue.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	window := candles
	if len(window) > c.limit {
		window = window[len(window)-c.limit:]
	}
	out := make([]venue.Candle, len(window))
	copy(out, window)
	c.bars[key(symbol, timeframe)] = out
}

// Append adds one closed candle, replacing the last entry when the venue
// re-emits the same open time.
func (c *Cache) Append(symbol, timeframe string, candle venue.Candle) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := key(symbol, timeframe)
	bars := c.bars[k]
	if n := len(bars); n > 0 && bars[n-1].Timestamp.Equal(candle.Timestamp) {
		bars[n-1] = candle
	} else {
		bars = append(bars, candle)
	}
	if len(bars) > c.limit {
		bars = bars[len(bars)-c.limit:]
	}
	c.bars[k] = bars
}

// Window returns a copy of the cached candles, oldest first.
func (c *Cache) Window(symbol, timeframe string) []venue.Candle {
	c.mu.RLock()
	defer c.mu.RUnlock()
	bars := c.bars[key(symbol, timeframe)]
	out := make([]venue.Candle, len(bars))
	copy(out, bars)
	return out
}
