package alert

import (
	"context"
	"fmt"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"qtrader/internal/core"
	"qtrader/pkg/telemetry"
)

// Rule names, used as metric labels and dedupe keys
const (
	RulePositionLoss   = "position_loss"
	RuleDayLoss        = "day_loss"
	RuleExpiringSoon   = "expiring_soon"
	RuleHighIV         = "high_iv"
	RuleLowVolume      = "low_volume"
	RuleLowBuyingPower = "low_buying_power"
	RuleHighMargin     = "high_margin"
	RuleStaleQuote     = "stale_quote"
)

// Snapshotter supplies portfolio snapshots to evaluate
type Snapshotter interface {
	SnapshotAll() map[string]core.Portfolio
}

// EvaluatorConfig tunes alert rule thresholds and delivery pacing
type EvaluatorConfig struct {
	Interval         time.Duration
	PositionLossPct  float64 // alert when position P&L pct at or below the negation of this
	DayLossPct       float64 // alert when day P&L pct at or below the negation of this
	ExpiryWindowDays int
	HighIV           float64
	MinVolume        int64
	MinBuyingPower   float64
	MaxMarginPct     float64
	StaleQuoteAge    time.Duration
	Cooldown         time.Duration // per rule+account+symbol re-fire suppression
	MaxDedupeEntries int
	AlertsPerMinute  int
}

// DefaultEvaluatorConfig returns production thresholds
func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		Interval:         30 * time.Second,
		PositionLossPct:  20,
		DayLossPct:       10,
		ExpiryWindowDays: 7,
		HighIV:           1.0,
		MinVolume:        10,
		MinBuyingPower:   1000,
		MaxMarginPct:     80,
		StaleQuoteAge:    5 * time.Minute,
		Cooldown:         15 * time.Minute,
		MaxDedupeEntries: 1000,
		AlertsPerMinute:  30,
	}
}

// Evaluator periodically scans portfolio snapshots and the quote cache
// against the rule set, deduplicates repeat findings and forwards new
// ones to the alert manager.
type Evaluator struct {
	cfg     EvaluatorConfig
	snaps   Snapshotter
	quotes  core.IQuoteCache
	manager *AlertManager

	limiter *rate.Limiter
	fired   map[string]time.Time

	metrics *telemetry.MetricsHolder
	logger  core.ILogger
	clock   func() time.Time
}

func NewEvaluator(cfg EvaluatorConfig, snaps Snapshotter, quotes core.IQuoteCache, manager *AlertManager, logger core.ILogger) *Evaluator {
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.MaxDedupeEntries <= 0 {
		cfg.MaxDedupeEntries = 1000
	}
	if cfg.AlertsPerMinute <= 0 {
		cfg.AlertsPerMinute = 30
	}

	return &Evaluator{
		cfg:     cfg,
		snaps:   snaps,
		quotes:  quotes,
		manager: manager,
		limiter: rate.NewLimiter(rate.Every(time.Minute/time.Duration(cfg.AlertsPerMinute)), cfg.AlertsPerMinute),
		fired:   make(map[string]time.Time),
		metrics: telemetry.GetGlobalMetrics(),
		logger:  logger.WithField("component", "alert_evaluator"),
		clock:   time.Now,
	}
}

// Run evaluates on the configured interval until the context is canceled
func (e *Evaluator) Run(ctx context.Context) error {
	ticker := time.NewTicker(e.cfg.Interval)
	defer ticker.Stop()

	e.logger.Info("Alert evaluator started", "interval", e.cfg.Interval)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Alert evaluator stopped")
			return nil
		case <-ticker.C:
			e.Evaluate(ctx)
		}
	}
}

// Evaluate runs one pass over every portfolio and the quote cache
func (e *Evaluator) Evaluate(ctx context.Context) {
	for accountID, pf := range e.snaps.SnapshotAll() {
		e.checkAccount(ctx, accountID, pf)
		for _, pos := range pf.Positions {
			e.checkPosition(ctx, accountID, pos)
		}
	}

	if e.cfg.StaleQuoteAge > 0 {
		for _, symbol := range e.quotes.StaleSymbols(e.cfg.StaleQuoteAge) {
			e.fire(ctx, AlertPayload{
				Rule:    RuleStaleQuote,
				Level:   Warning,
				Title:   "Stale Market Data",
				Message: fmt.Sprintf("No quote received for %s in over %s", symbol, e.cfg.StaleQuoteAge),
				Symbol:  symbol,
			})
		}
	}
}

func (e *Evaluator) checkAccount(ctx context.Context, accountID string, pf core.Portfolio) {
	dayLossLimit := decimal.NewFromFloat(-e.cfg.DayLossPct)
	if e.cfg.DayLossPct > 0 && pf.DayPnLPercent.LessThanOrEqual(dayLossLimit) && !pf.DayPnLPercent.IsZero() {
		e.fire(ctx, AlertPayload{
			Rule:      RuleDayLoss,
			Level:     Critical,
			Title:     "Daily Loss Limit",
			Message:   fmt.Sprintf("Account %s is down %s%% today", accountID, pf.DayPnLPercent.StringFixed(2)),
			AccountID: accountID,
			Fields:    map[string]string{"day_pnl": pf.DayPnL.StringFixed(2)},
		})
	}

	minBP := decimal.NewFromFloat(e.cfg.MinBuyingPower)
	if e.cfg.MinBuyingPower > 0 && pf.BuyingPower.Sign() > 0 && pf.BuyingPower.LessThan(minBP) {
		e.fire(ctx, AlertPayload{
			Rule:      RuleLowBuyingPower,
			Level:     Warning,
			Title:     "Low Buying Power",
			Message:   fmt.Sprintf("Account %s buying power is %s", accountID, pf.BuyingPower.StringFixed(2)),
			AccountID: accountID,
		})
	}

	if e.cfg.MaxMarginPct > 0 && pf.TotalValue.Sign() > 0 && pf.MarginUsed.Sign() > 0 {
		marginPct := pf.MarginUsed.Div(pf.TotalValue).Mul(decimal.NewFromInt(100))
		if marginPct.GreaterThan(decimal.NewFromFloat(e.cfg.MaxMarginPct)) {
			e.fire(ctx, AlertPayload{
				Rule:      RuleHighMargin,
				Level:     Critical,
				Title:     "High Margin Usage",
				Message:   fmt.Sprintf("Account %s margin usage is %s%% of portfolio value", accountID, marginPct.StringFixed(1)),
				AccountID: accountID,
				Fields:    map[string]string{"margin_used": pf.MarginUsed.StringFixed(2)},
			})
		}
	}
}

func (e *Evaluator) checkPosition(ctx context.Context, accountID string, pos core.Position) {
	symbol := pos.Instrument.Symbol

	if e.cfg.PositionLossPct > 0 {
		basis := pos.AvgCost.Mul(decimal.NewFromInt(pos.Quantity * pos.Multiplier)).Abs()
		if basis.Sign() > 0 {
			lossPct := pos.UnrealizedPnL.Div(basis).Mul(decimal.NewFromInt(100))
			if lossPct.LessThanOrEqual(decimal.NewFromFloat(-e.cfg.PositionLossPct)) {
				level := Warning
				if lossPct.LessThanOrEqual(decimal.NewFromFloat(-2 * e.cfg.PositionLossPct)) {
					level = Critical
				}
				e.fire(ctx, AlertPayload{
					Rule:      RulePositionLoss,
					Level:     level,
					Title:     "Position Loss",
					Message:   fmt.Sprintf("%s is down %s%% (%s)", pos.Instrument.String(), lossPct.StringFixed(2), pos.UnrealizedPnL.StringFixed(2)),
					AccountID: accountID,
					Symbol:    symbol,
				})
			}
		}
	}

	if e.cfg.ExpiryWindowDays > 0 && pos.Instrument.Kind.IsOption() && pos.Instrument.Expiry != "" {
		if expiry, err := time.Parse("2006-01-02", pos.Instrument.Expiry); err == nil {
			days := int(expiry.Sub(e.clock()).Hours() / 24)
			if days >= 0 && days <= e.cfg.ExpiryWindowDays {
				level := Warning
				if days <= 1 {
					level = Critical
				}
				e.fire(ctx, AlertPayload{
					Rule:      RuleExpiringSoon,
					Level:     level,
					Title:     "Option Expiring Soon",
					Message:   fmt.Sprintf("%s expires in %d days", pos.Instrument.String(), days),
					AccountID: accountID,
					Symbol:    symbol,
				})
			}
		}
	}

	if e.cfg.HighIV > 0 && pos.Greeks != nil && pos.Greeks.ImpliedVolatility >= e.cfg.HighIV {
		e.fire(ctx, AlertPayload{
			Rule:      RuleHighIV,
			Level:     Info,
			Title:     "High Implied Volatility",
			Message:   fmt.Sprintf("%s implied volatility is %.0f%%", pos.Instrument.String(), pos.Greeks.ImpliedVolatility*100),
			AccountID: accountID,
			Symbol:    symbol,
		})
	}

	if e.cfg.MinVolume > 0 {
		if quote, ok := e.quotes.Get(symbol); ok && quote.Volume > 0 && quote.Volume < e.cfg.MinVolume {
			e.fire(ctx, AlertPayload{
				Rule:      RuleLowVolume,
				Level:     Info,
				Title:     "Low Liquidity",
				Message:   fmt.Sprintf("%s traded only %d contracts", symbol, quote.Volume),
				AccountID: accountID,
				Symbol:    symbol,
			})
		}
	}
}

// fire deduplicates, rate limits and delivers one finding
func (e *Evaluator) fire(ctx context.Context, payload AlertPayload) {
	key := payload.Rule + "|" + payload.AccountID + "|" + payload.Symbol
	now := e.clock()

	if last, ok := e.fired[key]; ok && now.Sub(last) < e.cfg.Cooldown {
		return
	}
	if !e.limiter.Allow() {
		e.logger.Warn("Alert suppressed by rate limit", "rule", payload.Rule, "account", payload.AccountID)
		return
	}

	e.remember(key, now)
	payload.Timestamp = now

	e.metrics.IncAlertTriggered(payload.Rule)
	e.manager.Alert(ctx, payload)
}

// remember records a firing, evicting the oldest entries past the cap
func (e *Evaluator) remember(key string, at time.Time) {
	e.fired[key] = at
	if len(e.fired) <= e.cfg.MaxDedupeEntries {
		return
	}

	var oldestKey string
	var oldest time.Time
	for k, t := range e.fired {
		if oldestKey == "" || t.Before(oldest) {
			oldestKey, oldest = k, t
		}
	}
	delete(e.fired, oldestKey)
}
