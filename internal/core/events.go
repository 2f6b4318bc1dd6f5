package core

import (
	"github.com/shopspring/decimal"
)

// PriceTick is one decoded market data update from the feed
type PriceTick struct {
	Symbol string
	Last   decimal.Decimal
	Bid    decimal.Decimal
	Ask    decimal.Decimal
	High   decimal.Decimal
	Low    decimal.Decimal
	Close  decimal.Decimal // prior session close
	Volume int64
}

// GreeksUpdate is one decoded option sensitivity update from the feed
type GreeksUpdate struct {
	Symbol            string
	Strike            decimal.Decimal
	Expiry            string
	Right             string
	Delta             float64
	Gamma             float64
	Theta             float64
	Vega              float64
	Rho               float64
	ImpliedVolatility float64
}

// PositionDelta is one decoded position update from the feed. Values are
// absolute (the broker reports full current state, not increments); a zero
// Quantity signals the position is closed.
type PositionDelta struct {
	AccountID     string
	Contract      Contract
	Quantity      int64
	AvgCost       decimal.Decimal
	MarketPrice   decimal.Decimal
	MarketValue   decimal.Decimal
	UnrealizedPnL decimal.Decimal
	RealizedPnL   decimal.Decimal
}

// AccountValue is one decoded account-level figure from the feed
type AccountValue struct {
	AccountID string
	Key       string
	Value     string
	Currency  string
}
