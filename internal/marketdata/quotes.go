// Package marketdata holds the last-write-wins caches for quotes and greeks
package marketdata

import (
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"qtrader/internal/core"
)

// QuoteCache holds the latest observed quote per symbol. Entries are
// overwritten in place and never deleted; stale entries are tolerated.
type QuoteCache struct {
	mu     sync.RWMutex
	quotes map[string]core.Quote
	clock  func() time.Time
}

// NewQuoteCache creates an empty quote cache
func NewQuoteCache() *QuoteCache {
	return &QuoteCache{
		quotes: make(map[string]core.Quote),
		clock:  time.Now,
	}
}

// Apply folds a tick into the cache and returns the stored quote.
// Change figures are derived against the prior session close; a tick
// without a close falls back to the close already cached for the symbol.
func (c *QuoteCache) Apply(tick core.PriceTick) core.Quote {
	c.mu.Lock()
	defer c.mu.Unlock()

	prevClose := tick.Close
	if prevClose.IsZero() {
		if existing, ok := c.quotes[tick.Symbol]; ok {
			prevClose = existing.PreviousClose
		}
	}

	q := core.Quote{
		Symbol:        tick.Symbol,
		Last:          tick.Last,
		Bid:           tick.Bid,
		Ask:           tick.Ask,
		High:          tick.High,
		Low:           tick.Low,
		PreviousClose: prevClose,
		Volume:        tick.Volume,
		ObservedAt:    c.clock(),
	}
	if prevClose.Sign() > 0 {
		q.Change = tick.Last.Sub(prevClose)
		q.ChangePercent = q.Change.Div(prevClose).Mul(decimal.NewFromInt(100))
	}

	c.quotes[tick.Symbol] = q
	return q
}

// Get returns a copy of the latest quote for a symbol
func (c *QuoteCache) Get(symbol string) (core.Quote, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	q, ok := c.quotes[symbol]
	return q, ok
}

// Symbols returns all symbols currently cached
func (c *QuoteCache) Symbols() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.quotes))
	for sym := range c.quotes {
		out = append(out, sym)
	}
	return out
}

// StaleSymbols returns symbols whose last observation is older than maxAge
func (c *QuoteCache) StaleSymbols(maxAge time.Duration) []string {
	cutoff := c.clock().Add(-maxAge)
	c.mu.RLock()
	defer c.mu.RUnlock()
	var out []string
	for sym, q := range c.quotes {
		if q.ObservedAt.Before(cutoff) {
			out = append(out, sym)
		}
	}
	return out
}

// Len returns the number of cached symbols
func (c *QuoteCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.quotes)
}
