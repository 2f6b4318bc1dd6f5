package alert

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrader/internal/core"
)

type stubSnapshotter struct {
	portfolios map[string]core.Portfolio
}

func (s *stubSnapshotter) SnapshotAll() map[string]core.Portfolio {
	out := make(map[string]core.Portfolio, len(s.portfolios))
	for k, v := range s.portfolios {
		out[k] = v.Clone()
	}
	return out
}

type stubQuoteCache struct {
	quotes map[string]core.Quote
	stale  []string
}

func (s *stubQuoteCache) Apply(tick core.PriceTick) core.Quote { return core.Quote{} }
func (s *stubQuoteCache) Get(symbol string) (core.Quote, bool) {
	q, ok := s.quotes[symbol]
	return q, ok
}
func (s *stubQuoteCache) Symbols() []string {
	out := make([]string, 0, len(s.quotes))
	for sym := range s.quotes {
		out = append(out, sym)
	}
	return out
}
func (s *stubQuoteCache) StaleSymbols(maxAge time.Duration) []string { return s.stale }

func newTestEvaluator(t *testing.T, snaps Snapshotter, quotes core.IQuoteCache) (*Evaluator, *mockAlertChannel) {
	t.Helper()
	manager := NewAlertManager(&mockLogger{})
	sink := &mockAlertChannel{name: "sink"}
	manager.AddChannel(sink)

	cfg := DefaultEvaluatorConfig()
	ev := NewEvaluator(cfg, snaps, quotes, manager, &mockLogger{})
	return ev, sink
}

func losingPosition(unrealizedPct float64) core.Position {
	avgCost := decimal.NewFromInt(100)
	qty := int64(10)
	basis := avgCost.Mul(decimal.NewFromInt(qty))
	return core.Position{
		AccountID:     "ACC1",
		Instrument:    core.Instrument{Symbol: "XYZ", Kind: core.KindEquity},
		Quantity:      qty,
		Multiplier:    1,
		AvgCost:       avgCost,
		UnrealizedPnL: basis.Mul(decimal.NewFromFloat(unrealizedPct / 100)),
	}
}

func waitForRules(t *testing.T, sink *mockAlertChannel, want ...string) {
	t.Helper()
	require.Eventually(t, func() bool {
		return len(sink.getSent()) >= len(want)
	}, time.Second, 5*time.Millisecond)

	got := make(map[string]bool)
	for _, a := range sink.getSent() {
		got[a.Rule] = true
	}
	for _, rule := range want {
		assert.True(t, got[rule], "expected rule %s to fire, got %v", rule, got)
	}
}

func TestEvaluator_PositionLoss(t *testing.T) {
	snaps := &stubSnapshotter{portfolios: map[string]core.Portfolio{
		"ACC1": {AccountID: "ACC1", Positions: []core.Position{losingPosition(-25)}},
	}}
	ev, sink := newTestEvaluator(t, snaps, &stubQuoteCache{})

	ev.Evaluate(context.Background())
	waitForRules(t, sink, RulePositionLoss)
}

func TestEvaluator_PositionLossBelowThresholdIsQuiet(t *testing.T) {
	snaps := &stubSnapshotter{portfolios: map[string]core.Portfolio{
		"ACC1": {AccountID: "ACC1", Positions: []core.Position{losingPosition(-5)}},
	}}
	ev, sink := newTestEvaluator(t, snaps, &stubQuoteCache{})

	ev.Evaluate(context.Background())
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, sink.getSent())
}

func TestEvaluator_AccountRules(t *testing.T) {
	snaps := &stubSnapshotter{portfolios: map[string]core.Portfolio{
		"ACC1": {
			AccountID:     "ACC1",
			DayPnLPercent: decimal.NewFromFloat(-12.5),
			DayPnL:        decimal.NewFromInt(-1250),
			BuyingPower:   decimal.NewFromInt(500),
			TotalValue:    decimal.NewFromInt(10000),
			MarginUsed:    decimal.NewFromInt(8500),
		},
	}}
	ev, sink := newTestEvaluator(t, snaps, &stubQuoteCache{})

	ev.Evaluate(context.Background())
	waitForRules(t, sink, RuleDayLoss, RuleLowBuyingPower, RuleHighMargin)
}

func TestEvaluator_ExpiringOptionAndHighIV(t *testing.T) {
	now := time.Date(2026, 8, 23, 12, 0, 0, 0, time.UTC)
	pos := core.Position{
		AccountID: "ACC1",
		Instrument: core.Instrument{
			Symbol: "AAPL", Kind: core.KindCall,
			Strike: decimal.NewFromInt(150), Expiry: "2026-08-28", Right: core.RightCall,
		},
		Quantity:   1,
		Multiplier: 100,
		Greeks:     &core.Greeks{ImpliedVolatility: 1.2},
	}
	snaps := &stubSnapshotter{portfolios: map[string]core.Portfolio{
		"ACC1": {AccountID: "ACC1", Positions: []core.Position{pos}},
	}}
	ev, sink := newTestEvaluator(t, snaps, &stubQuoteCache{})
	ev.clock = func() time.Time { return now }

	ev.Evaluate(context.Background())
	waitForRules(t, sink, RuleExpiringSoon, RuleHighIV)
}

func TestEvaluator_LowVolumeAndStaleQuotes(t *testing.T) {
	snaps := &stubSnapshotter{portfolios: map[string]core.Portfolio{
		"ACC1": {AccountID: "ACC1", Positions: []core.Position{{
			AccountID:  "ACC1",
			Instrument: core.Instrument{Symbol: "THIN", Kind: core.KindEquity},
			Quantity:   1, Multiplier: 1,
		}}},
	}}
	quotes := &stubQuoteCache{
		quotes: map[string]core.Quote{"THIN": {Symbol: "THIN", Volume: 3}},
		stale:  []string{"OLD"},
	}
	ev, sink := newTestEvaluator(t, snaps, quotes)

	ev.Evaluate(context.Background())
	waitForRules(t, sink, RuleLowVolume, RuleStaleQuote)
}

func TestEvaluator_CooldownSuppressesRepeats(t *testing.T) {
	snaps := &stubSnapshotter{portfolios: map[string]core.Portfolio{
		"ACC1": {AccountID: "ACC1", Positions: []core.Position{losingPosition(-30)}},
	}}
	ev, sink := newTestEvaluator(t, snaps, &stubQuoteCache{})

	ev.Evaluate(context.Background())
	ev.Evaluate(context.Background())
	ev.Evaluate(context.Background())

	require.Eventually(t, func() bool {
		return len(sink.getSent()) >= 1
	}, time.Second, 5*time.Millisecond)
	time.Sleep(50 * time.Millisecond)
	assert.Len(t, sink.getSent(), 1, "repeat findings within the cooldown must not re-fire")
}

func TestEvaluator_DedupeCapEvictsOldest(t *testing.T) {
	ev, _ := newTestEvaluator(t, &stubSnapshotter{}, &stubQuoteCache{})
	ev.cfg.MaxDedupeEntries = 3

	base := time.Now()
	for i, key := range []string{"a", "b", "c"} {
		ev.remember(key, base.Add(time.Duration(i)*time.Second))
	}
	ev.remember("d", base.Add(10*time.Second))

	assert.Len(t, ev.fired, 3)
	_, hasOldest := ev.fired["a"]
	assert.False(t, hasOldest, "oldest entry should be evicted")
	_, hasNewest := ev.fired["d"]
	assert.True(t, hasNewest)
}
