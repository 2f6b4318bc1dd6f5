package marketdata

import (
	"sync"
	"time"

	"qtrader/internal/core"
)

// GreeksCache holds the latest option sensitivities keyed by instrument
// identity. Same last-write-wins shape as the quote cache.
type GreeksCache struct {
	mu     sync.RWMutex
	greeks map[core.InstrumentKey]core.Greeks
	clock  func() time.Time
}

// NewGreeksCache creates an empty greeks cache
func NewGreeksCache() *GreeksCache {
	return &GreeksCache{
		greeks: make(map[core.InstrumentKey]core.Greeks),
		clock:  time.Now,
	}
}

// Apply clamps and stores an update, returning the stored greeks.
// Upstream feeds emit sentinel values (-1, -2) for "not computed"; those
// and anything outside domain bounds are normalized to zero rather than
// stored verbatim.
func (c *GreeksCache) Apply(inst core.Instrument, update core.GreeksUpdate) core.Greeks {
	g := core.Greeks{
		Delta:             clampDelta(update.Delta),
		Gamma:             clampNonNegative(update.Gamma),
		Theta:             update.Theta,
		Vega:              clampNonNegative(update.Vega),
		Rho:               update.Rho,
		ImpliedVolatility: clampPositive(update.ImpliedVolatility),
		ObservedAt:        c.clock(),
	}

	c.mu.Lock()
	c.greeks[inst.Key()] = g
	c.mu.Unlock()
	return g
}

// Get returns a copy of the latest greeks for an option identity
func (c *GreeksCache) Get(key core.InstrumentKey) (core.Greeks, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	g, ok := c.greeks[key]
	return g, ok
}

// Len returns the number of cached option identities
func (c *GreeksCache) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.greeks)
}

func clampDelta(v float64) float64 {
	if v < -1 || v > 1 {
		return 0
	}
	return v
}

func clampNonNegative(v float64) float64 {
	if v < 0 {
		return 0
	}
	return v
}

func clampPositive(v float64) float64 {
	if v <= 0 {
		return 0
	}
	return v
}
