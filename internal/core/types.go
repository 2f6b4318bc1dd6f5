// Package core defines the data model and core interfaces shared across the service
package core

import (
	"time"

	"github.com/shopspring/decimal"
)

// InstrumentKind discriminates the instrument tagged union
type InstrumentKind string

const (
	KindEquity InstrumentKind = "EQUITY"
	KindCall   InstrumentKind = "CALL"
	KindPut    InstrumentKind = "PUT"
	KindFuture InstrumentKind = "FUTURE"
)

// IsOption reports whether the kind is an option leg
func (k InstrumentKind) IsOption() bool {
	return k == KindCall || k == KindPut
}

// OptionRight is the option right (call/put) as reported by the feed
type OptionRight string

const (
	RightCall OptionRight = "C"
	RightPut  OptionRight = "P"
)

// AccountClass classifies an account for tax/display purposes
type AccountClass string

const (
	AccountTaxable       AccountClass = "individual_taxable"
	AccountTaxAdvantaged AccountClass = "retirement_tax_free"
)

// Signal is an advisory action attached to a position by upstream analysis
type Signal string

const (
	SignalBuy           Signal = "BUY"
	SignalSell          Signal = "SELL"
	SignalHold          Signal = "HOLD"
	SignalTakeProfit    Signal = "TAKE_PROFIT"
	SignalTakeLoss      Signal = "TAKE_LOSS"
	SignalPartialProfit Signal = "PARTIAL_PROFIT"
	SignalRoll          Signal = "ROLL"
)

// Priority ranks alerts and position metadata
type Priority string

const (
	PriorityLow    Priority = "LOW"
	PriorityMedium Priority = "MEDIUM"
	PriorityHigh   Priority = "HIGH"
	PriorityUrgent Priority = "URGENT"
)

// Quote holds the latest observed market data for one symbol.
// Overwritten in place on every tick, never deleted.
type Quote struct {
	Symbol        string
	Last          decimal.Decimal
	Bid           decimal.Decimal
	Ask           decimal.Decimal
	High          decimal.Decimal
	Low           decimal.Decimal
	PreviousClose decimal.Decimal
	Volume        int64
	Change        decimal.Decimal
	ChangePercent decimal.Decimal
	ObservedAt    time.Time
}

// Greeks holds option sensitivities. Out-of-domain values are clamped to
// zero before storage (feeds emit sentinels like -1/-2 for "not computed").
type Greeks struct {
	Delta             float64
	Gamma             float64
	Theta             float64
	Vega              float64
	Rho               float64
	ImpliedVolatility float64
	ObservedAt        time.Time
}

// PositionMeta carries advisory metadata attached to a position
type PositionMeta struct {
	Signal     Signal
	Priority   Priority
	Confidence int
	Notes      string
	Levels     map[string]decimal.Decimal
}

// Position is one open position in a ledger. Quantity is never zero for a
// stored position; a zero-quantity delta is a removal signal.
type Position struct {
	AccountID     string
	Instrument    Instrument
	Quantity      int64
	Multiplier    int64
	AvgCost       decimal.Decimal
	CurrentPrice  decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
	DayPnL        decimal.Decimal
	Greeks        *Greeks
	StrategyLabel string
	Meta          PositionMeta
	UpdatedAt     time.Time
}

// Clone returns an independent copy safe to hand to concurrent readers
func (p Position) Clone() Position {
	cp := p
	if p.Greeks != nil {
		g := *p.Greeks
		cp.Greeks = &g
	}
	if p.Meta.Levels != nil {
		levels := make(map[string]decimal.Decimal, len(p.Meta.Levels))
		for k, v := range p.Meta.Levels {
			levels[k] = v
		}
		cp.Meta.Levels = levels
	}
	return cp
}

// PortfolioGreeks is the position-weighted greek roll-up for one account
type PortfolioGreeks struct {
	Delta float64
	Gamma float64
	Theta float64
	Vega  float64
	Rho   float64
}

// Portfolio is the account-level aggregate. Totals are always a pure
// function of positions plus cash, recomputed wholesale after any change.
type Portfolio struct {
	AccountID       string
	Class           AccountClass
	Positions       []Position
	CashBalance     decimal.Decimal
	BuyingPower     decimal.Decimal
	MarginUsed      decimal.Decimal
	TotalValue      decimal.Decimal
	DayPnL          decimal.Decimal
	DayPnLPercent   decimal.Decimal
	TotalPnL        decimal.Decimal
	TotalPnLPercent decimal.Decimal
	Greeks          PortfolioGreeks
	OtherValues     map[string]string
	UpdatedAt       time.Time
}

// Clone returns a deep copy of the portfolio
func (p Portfolio) Clone() Portfolio {
	cp := p
	cp.Positions = make([]Position, len(p.Positions))
	for i, pos := range p.Positions {
		cp.Positions[i] = pos.Clone()
	}
	if p.OtherValues != nil {
		other := make(map[string]string, len(p.OtherValues))
		for k, v := range p.OtherValues {
			other[k] = v
		}
		cp.OtherValues = other
	}
	return cp
}
