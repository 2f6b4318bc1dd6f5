// Package portfolio maintains per-account position ledgers and roll-ups
package portfolio

import (
	"time"

	"github.com/shopspring/decimal"

	"qtrader/internal/core"
)

// Ledger holds the open positions for one account, keyed by instrument
// identity. It is not safe for concurrent use on its own; the Aggregator
// serializes access under its lock.
type Ledger struct {
	accountID string
	positions map[core.InstrumentKey]*core.Position
	logger    core.ILogger
	clock     func() time.Time
}

// NewLedger creates an empty ledger for one account
func NewLedger(accountID string, logger core.ILogger) *Ledger {
	return &Ledger{
		accountID: accountID,
		positions: make(map[core.InstrumentKey]*core.Position),
		logger:    logger.WithField("account", accountID),
		clock:     time.Now,
	}
}

// Upsert replaces the mutable fields of the position matching inst, or
// inserts a new position, and recomputes valuation. Absolute replace, no
// incremental arithmetic: applying the same delta twice yields the same
// state.
func (l *Ledger) Upsert(inst core.Instrument, delta core.PositionDelta) *core.Position {
	key := inst.Key()
	multiplier := core.ContractMultiplier(delta.Contract, inst.Kind)

	price := delta.MarketPrice
	if price.IsZero() && delta.Quantity != 0 && !delta.MarketValue.IsZero() {
		// Some feeds omit the mark price on the first report
		price = delta.MarketValue.Div(decimal.NewFromInt(delta.Quantity * multiplier))
	}

	pos, exists := l.positions[key]
	if !exists {
		pos = &core.Position{
			AccountID:  l.accountID,
			Instrument: inst,
			Multiplier: multiplier,
			Meta:       core.PositionMeta{Signal: core.SignalHold, Priority: core.PriorityMedium, Confidence: 50},
		}
		l.positions[key] = pos
	}

	pos.Quantity = delta.Quantity
	pos.Multiplier = multiplier
	pos.AvgCost = delta.AvgCost
	pos.CurrentPrice = price
	pos.RealizedPnL = delta.RealizedPnL
	pos.UpdatedAt = l.clock()
	l.revalue(pos)

	return pos
}

// RemoveIfClosed removes the position matching inst if present and
// reports whether a removal occurred. Identity already carries normalized
// expiry dates, so cross-format contracts resolve to the same key.
func (l *Ledger) RemoveIfClosed(inst core.Instrument) bool {
	key := inst.Key()
	if _, ok := l.positions[key]; !ok {
		return false
	}
	delete(l.positions, key)
	return true
}

// ApplyPrice updates every position on the given underlying symbol and
// returns the identities touched. Day P&L accumulates the market value
// delta contributed by each tick, not a reset-per-tick figure.
func (l *Ledger) ApplyPrice(symbol string, price decimal.Decimal) []core.InstrumentKey {
	var updated []core.InstrumentKey
	for key, pos := range l.positions {
		if pos.Instrument.Symbol != symbol {
			continue
		}
		oldValue := pos.MarketValue
		pos.CurrentPrice = price
		l.revalue(pos)
		pos.DayPnL = pos.DayPnL.Add(pos.MarketValue.Sub(oldValue))
		pos.UpdatedAt = l.clock()
		updated = append(updated, key)
	}
	return updated
}

// ApplyGreeks attaches sensitivities to the position matching the option
// identity, if held.
func (l *Ledger) ApplyGreeks(key core.InstrumentKey, greeks core.Greeks) bool {
	pos, ok := l.positions[key]
	if !ok {
		return false
	}
	g := greeks
	pos.Greeks = &g
	pos.UpdatedAt = l.clock()
	return true
}

// Get returns the live position for an identity, or nil
func (l *Ledger) Get(key core.InstrumentKey) *core.Position {
	return l.positions[key]
}

// Len returns the number of open positions
func (l *Ledger) Len() int {
	return len(l.positions)
}

// Each calls fn for every live position
func (l *Ledger) Each(fn func(*core.Position)) {
	for _, pos := range l.positions {
		fn(pos)
	}
}

// revalue recomputes market value and unrealized P&L from quantity,
// price, and the contract multiplier.
func (l *Ledger) revalue(p *core.Position) {
	qty := decimal.NewFromInt(p.Quantity * p.Multiplier)
	p.MarketValue = p.CurrentPrice.Mul(qty)
	p.UnrealizedPnL = p.CurrentPrice.Sub(p.AvgCost).Mul(qty)
}
