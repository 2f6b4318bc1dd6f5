package main

import (
	"context"
	"time"

	"qtrader/internal/alert"
	"qtrader/internal/core"
	"qtrader/internal/reconcile"
	"qtrader/pkg/liveserver"
)

// Broadcaster bridges engine updates onto the WebSocket hub. Event
// notifications push incremental messages; a periodic refresh resends
// full snapshots so late-joining clients converge.
type Broadcaster struct {
	engine *reconcile.Engine
	quotes core.IQuoteCache
	hub    *liveserver.Hub
	logger core.ILogger

	refreshInterval time.Duration
	statusInterval  time.Duration
	startedAt       time.Time
}

func NewBroadcaster(engine *reconcile.Engine, quotes core.IQuoteCache, hub *liveserver.Hub, refreshInterval, statusInterval time.Duration, logger core.ILogger) *Broadcaster {
	if refreshInterval <= 0 {
		refreshInterval = 5 * time.Second
	}
	if statusInterval <= 0 {
		statusInterval = 30 * time.Second
	}
	return &Broadcaster{
		engine:          engine,
		quotes:          quotes,
		hub:             hub,
		logger:          logger.WithField("component", "broadcaster"),
		refreshInterval: refreshInterval,
		statusInterval:  statusInterval,
		startedAt:       time.Now(),
	}
}

// HandleUpdate is registered as an engine update listener
func (b *Broadcaster) HandleUpdate(u reconcile.Update) {
	switch u.Kind {
	case reconcile.UpdateQuote:
		if quote, ok := b.engine.GetQuote(u.Symbol); ok {
			b.hub.Broadcast(liveserver.NewQuoteMessage(quotePayload(quote)))
		}
	case reconcile.UpdateGreeks:
		b.hub.Broadcast(liveserver.NewGreeksMessage(map[string]interface{}{
			"symbol": u.Symbol,
		}))
	case reconcile.UpdatePortfolio:
		if pf, ok := b.engine.Snapshot(u.AccountID); ok {
			b.hub.Broadcast(liveserver.NewPortfolioMessage(u.AccountID, portfolioPayload(pf)))
		}
	}
}

// Run resends full snapshots and status on a fixed cadence
func (b *Broadcaster) Run(ctx context.Context) error {
	refresh := time.NewTicker(b.refreshInterval)
	defer refresh.Stop()
	status := time.NewTicker(b.statusInterval)
	defer status.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-refresh.C:
			b.refreshAll()
		case <-status.C:
			b.broadcastStatus()
		}
	}
}

func (b *Broadcaster) refreshAll() {
	snapshots := b.engine.SnapshotAll()

	accounts := make([]string, 0, len(snapshots))
	for accountID, pf := range snapshots {
		accounts = append(accounts, accountID)
		b.hub.Broadcast(liveserver.NewPortfolioMessage(accountID, portfolioPayload(pf)))
	}
	b.hub.Broadcast(liveserver.NewAccountsMessage(accounts))
}

func (b *Broadcaster) broadcastStatus() {
	b.hub.Broadcast(liveserver.NewStatusMessage(map[string]interface{}{
		"uptime_seconds": int64(time.Since(b.startedAt).Seconds()),
		"clients":        b.hub.ClientCount(),
		"symbols":        len(b.quotes.Symbols()),
		"time":           time.Now().Unix(),
	}))
}

// hubAlertChannel forwards triggered alerts to connected dashboards
type hubAlertChannel struct {
	hub *liveserver.Hub
}

func (h *hubAlertChannel) Name() string { return "dashboard" }

func (h *hubAlertChannel) Send(ctx context.Context, a alert.AlertPayload) error {
	h.hub.Broadcast(liveserver.NewAlertMessage(map[string]interface{}{
		"rule":    a.Rule,
		"level":   string(a.Level),
		"title":   a.Title,
		"message": a.Message,
		"account": a.AccountID,
		"symbol":  a.Symbol,
		"time":    a.Timestamp.Unix(),
		"fields":  a.Fields,
	}))
	return nil
}

// Payload builders. Decimals are rendered as strings so dashboards do
// not lose precision to float64 JSON numbers.

func quotePayload(q core.Quote) map[string]interface{} {
	return map[string]interface{}{
		"symbol":         q.Symbol,
		"last":           q.Last.String(),
		"bid":            q.Bid.String(),
		"ask":            q.Ask.String(),
		"high":           q.High.String(),
		"low":            q.Low.String(),
		"previous_close": q.PreviousClose.String(),
		"volume":         q.Volume,
		"change":         q.Change.String(),
		"change_percent": q.ChangePercent.String(),
		"observed_at":    q.ObservedAt.Unix(),
	}
}

func positionPayload(p core.Position) map[string]interface{} {
	out := map[string]interface{}{
		"symbol":         p.Instrument.Symbol,
		"kind":           string(p.Instrument.Kind),
		"quantity":       p.Quantity,
		"multiplier":     p.Multiplier,
		"avg_cost":       p.AvgCost.String(),
		"current_price":  p.CurrentPrice.String(),
		"market_value":   p.MarketValue.String(),
		"unrealized_pnl": p.UnrealizedPnL.String(),
		"realized_pnl":   p.RealizedPnL.String(),
		"day_pnl":        p.DayPnL.String(),
		"strategy":       p.StrategyLabel,
	}
	if p.Instrument.Kind.IsOption() {
		out["strike"] = p.Instrument.Strike.String()
		out["expiry"] = p.Instrument.Expiry
		out["right"] = string(p.Instrument.Right)
	}
	if p.Greeks != nil {
		out["greeks"] = map[string]interface{}{
			"delta": p.Greeks.Delta,
			"gamma": p.Greeks.Gamma,
			"theta": p.Greeks.Theta,
			"vega":  p.Greeks.Vega,
			"rho":   p.Greeks.Rho,
			"iv":    p.Greeks.ImpliedVolatility,
		}
	}
	return out
}

func portfolioPayload(pf core.Portfolio) map[string]interface{} {
	positions := make([]map[string]interface{}, 0, len(pf.Positions))
	for _, p := range pf.Positions {
		positions = append(positions, positionPayload(p))
	}

	return map[string]interface{}{
		"account":           pf.AccountID,
		"class":             string(pf.Class),
		"positions":         positions,
		"cash_balance":      pf.CashBalance.String(),
		"buying_power":      pf.BuyingPower.String(),
		"margin_used":       pf.MarginUsed.String(),
		"total_value":       pf.TotalValue.String(),
		"day_pnl":           pf.DayPnL.String(),
		"day_pnl_percent":   pf.DayPnLPercent.String(),
		"total_pnl":         pf.TotalPnL.String(),
		"total_pnl_percent": pf.TotalPnLPercent.String(),
		"greeks": map[string]interface{}{
			"delta": pf.Greeks.Delta,
			"gamma": pf.Greeks.Gamma,
			"theta": pf.Greeks.Theta,
			"vega":  pf.Greeks.Vega,
			"rho":   pf.Greeks.Rho,
		},
		"updated_at": pf.UpdatedAt.Unix(),
	}
}
