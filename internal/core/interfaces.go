// Package core defines the core interfaces for the portfolio service
package core

import (
	"context"
	"time"

	"github.com/shopspring/decimal"
)

// IQuoteCache is the read/write contract for the market data cache
type IQuoteCache interface {
	Apply(tick PriceTick) Quote
	Get(symbol string) (Quote, bool)
	Symbols() []string
	StaleSymbols(maxAge time.Duration) []string
}

// IGreeksCache is the read/write contract for the option sensitivity cache
type IGreeksCache interface {
	Apply(inst Instrument, update GreeksUpdate) Greeks
	Get(key InstrumentKey) (Greeks, bool)
	Len() int
}

// IAggregator owns all portfolios and serializes mutations to them
type IAggregator interface {
	ApplyPositionDelta(inst Instrument, delta PositionDelta) error
	ApplyCashUpdate(av AccountValue) error
	ApplyPrice(symbol string, price decimal.Decimal) []string
	ApplyGreeks(inst Instrument, greeks Greeks) []string
	Snapshot(accountID string) (Portfolio, bool)
	SnapshotAll() map[string]Portfolio
	Accounts() []string
	PruneEmpty() []string
}

// IReconciler is the single entry point for all upstream feed events
type IReconciler interface {
	Run(ctx context.Context) error
	SubmitPriceTick(tick PriceTick)
	SubmitGreeks(ctx context.Context, update GreeksUpdate) error
	SubmitPositionDelta(ctx context.Context, delta PositionDelta) error
	SubmitAccountValue(ctx context.Context, av AccountValue) error
	Snapshot(accountID string) (Portfolio, bool)
	SnapshotAll() map[string]Portfolio
	GetQuote(symbol string) (Quote, bool)
	GetGreeks(key InstrumentKey) (Greeks, bool)
}

// IFeedSource produces decoded feed events into a reconciler
type IFeedSource interface {
	Run(ctx context.Context, sink IReconciler) error
}

// ILogger defines the interface for logging
type ILogger interface {
	Debug(msg string, fields ...interface{})
	Info(msg string, fields ...interface{})
	Warn(msg string, fields ...interface{})
	Error(msg string, fields ...interface{})
	Fatal(msg string, fields ...interface{})
	WithField(key string, value interface{}) ILogger
	WithFields(fields map[string]interface{}) ILogger
}
