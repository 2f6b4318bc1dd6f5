package portfolio

import (
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"qtrader/internal/core"
)

func newTestAggregator(t *testing.T) *Aggregator {
	t.Helper()
	return NewAggregator(&mockLogger{})
}

func applyEquity(t *testing.T, agg *Aggregator, accountID, symbol string, qty int64, avgCost, price float64) {
	t.Helper()
	contract := core.Contract{Symbol: symbol, SecType: "STK"}
	inst, err := core.ParseInstrument(contract)
	require.NoError(t, err)
	require.NoError(t, agg.ApplyPositionDelta(inst, core.PositionDelta{
		AccountID:   accountID,
		Contract:    contract,
		Quantity:    qty,
		AvgCost:     decimal.NewFromFloat(avgCost),
		MarketPrice: decimal.NewFromFloat(price),
	}))
}

func TestAggregator_Scenario(t *testing.T) {
	agg := newTestAggregator(t)

	// Open: 100 AAPL @ avg 150, marked 155
	applyEquity(t, agg, "ACC1", "AAPL", 100, 150.00, 155.00)

	snap, ok := agg.Snapshot("ACC1")
	require.True(t, ok)
	require.Len(t, snap.Positions, 1)
	assert.True(t, snap.Positions[0].MarketValue.Equal(decimal.NewFromFloat(15500.00)))
	assert.True(t, snap.Positions[0].UnrealizedPnL.Equal(decimal.NewFromFloat(500.00)))
	assert.True(t, snap.TotalValue.Equal(decimal.NewFromFloat(15500.00)))

	// Tick to 160
	touched := agg.ApplyPrice("AAPL", decimal.NewFromFloat(160.00))
	assert.Equal(t, []string{"ACC1"}, touched)

	snap, _ = agg.Snapshot("ACC1")
	assert.True(t, snap.Positions[0].MarketValue.Equal(decimal.NewFromFloat(16000.00)))
	assert.True(t, snap.Positions[0].UnrealizedPnL.Equal(decimal.NewFromFloat(1000.00)))
	assert.True(t, snap.DayPnL.Equal(decimal.NewFromFloat(500.00)))
	assert.True(t, snap.TotalValue.Equal(decimal.NewFromFloat(16000.00)))

	// Close: zero quantity removes the position and its contribution
	applyEquity(t, agg, "ACC1", "AAPL", 0, 0, 0)

	snap, _ = agg.Snapshot("ACC1")
	assert.Empty(t, snap.Positions)
	assert.True(t, snap.TotalValue.IsZero())
}

func TestAggregator_TotalsConsistency(t *testing.T) {
	agg := newTestAggregator(t)

	applyEquity(t, agg, "ACC1", "AAPL", 100, 150, 155)
	applyEquity(t, agg, "ACC1", "MSFT", -20, 400, 390)
	require.NoError(t, agg.ApplyCashUpdate(core.AccountValue{
		AccountID: "ACC1", Key: "CashBalance", Value: "10000.50", Currency: "USD",
	}))
	agg.ApplyPrice("AAPL", decimal.NewFromFloat(152))
	applyEquity(t, agg, "ACC1", "MSFT", -10, 400, 395)

	snap, ok := agg.Snapshot("ACC1")
	require.True(t, ok)

	sumMV := decimal.Zero
	sumDay := decimal.Zero
	sumPnL := decimal.Zero
	for _, p := range snap.Positions {
		sumMV = sumMV.Add(p.MarketValue)
		sumDay = sumDay.Add(p.DayPnL)
		sumPnL = sumPnL.Add(p.UnrealizedPnL.Add(p.RealizedPnL))
	}

	assert.True(t, snap.TotalValue.Equal(sumMV.Add(snap.CashBalance)), "total_value = sum(mv) + cash")
	assert.True(t, snap.DayPnL.Equal(sumDay))
	assert.True(t, snap.TotalPnL.Equal(sumPnL))
}

func TestAggregator_PnLPercentGuards(t *testing.T) {
	agg := newTestAggregator(t)

	// A short position with negative carrying value can push invested
	// capital non-positive; percentages must resolve to zero, not fault.
	applyEquity(t, agg, "ACC1", "GME", -100, 10, 40)

	snap, ok := agg.Snapshot("ACC1")
	require.True(t, ok)
	assert.True(t, snap.TotalPnLPercent.IsZero())
	assert.True(t, snap.DayPnLPercent.IsZero())
}

func TestAggregator_CashKeys(t *testing.T) {
	agg := newTestAggregator(t)

	for key, want := range map[string]string{
		"CashBalance": "5000",
		"BuyingPower": "20000",
		"MarginUsed":  "1500",
	} {
		require.NoError(t, agg.ApplyCashUpdate(core.AccountValue{
			AccountID: "ACC1", Key: key, Value: want, Currency: "USD",
		}))
	}

	snap, _ := agg.Snapshot("ACC1")
	assert.True(t, snap.CashBalance.Equal(decimal.NewFromInt(5000)))
	assert.True(t, snap.BuyingPower.Equal(decimal.NewFromInt(20000)))
	assert.True(t, snap.MarginUsed.Equal(decimal.NewFromInt(1500)))
	assert.True(t, snap.TotalValue.Equal(decimal.NewFromInt(5000)), "only cash feeds totals")
}

func TestAggregator_UnknownKeyStoredNotTotaled(t *testing.T) {
	agg := newTestAggregator(t)

	require.NoError(t, agg.ApplyCashUpdate(core.AccountValue{
		AccountID: "ACC1", Key: "GrossPositionValue", Value: "123456", Currency: "USD",
	}))

	snap, _ := agg.Snapshot("ACC1")
	assert.Equal(t, "123456", snap.OtherValues["GrossPositionValue"])
	assert.True(t, snap.TotalValue.IsZero())
}

func TestAggregator_MalformedCashRejected(t *testing.T) {
	agg := newTestAggregator(t)

	err := agg.ApplyCashUpdate(core.AccountValue{
		AccountID: "ACC1", Key: "CashBalance", Value: "not-a-number",
	})
	assert.Error(t, err)

	// State is untouched by the rejected event
	snap, _ := agg.Snapshot("ACC1")
	assert.True(t, snap.CashBalance.IsZero())
}

func TestAggregator_AccountClassification(t *testing.T) {
	agg := newTestAggregator(t)

	applyEquity(t, agg, "U123-IRA", "AAPL", 1, 1, 1)
	applyEquity(t, agg, "U456", "AAPL", 1, 1, 1)

	ira, _ := agg.Snapshot("U123-IRA")
	taxable, _ := agg.Snapshot("U456")
	assert.Equal(t, core.AccountTaxAdvantaged, ira.Class)
	assert.Equal(t, core.AccountTaxable, taxable.Class)
}

func TestAggregator_CloseUnknownPositionIsNoop(t *testing.T) {
	agg := newTestAggregator(t)

	// Redelivered close for a position never seen: logged, not an error
	applyEquity(t, agg, "ACC1", "AAPL", 0, 0, 0)

	snap, ok := agg.Snapshot("ACC1")
	require.True(t, ok, "first event lazily creates the account")
	assert.Empty(t, snap.Positions)
}

func TestAggregator_PruneEmpty(t *testing.T) {
	agg := newTestAggregator(t)

	applyEquity(t, agg, "EMPTY", "AAPL", 0, 0, 0)
	applyEquity(t, agg, "HELD", "AAPL", 10, 100, 100)
	require.NoError(t, agg.ApplyCashUpdate(core.AccountValue{
		AccountID: "CASHED", Key: "CashBalance", Value: "100",
	}))

	removed := agg.PruneEmpty()
	assert.Equal(t, []string{"EMPTY"}, removed)
	assert.Equal(t, []string{"CASHED", "HELD"}, agg.Accounts())
}

func TestAggregator_GreeksRollup(t *testing.T) {
	agg := newTestAggregator(t)

	applyEquity(t, agg, "ACC1", "AAPL", 100, 150, 155)

	contract := core.Contract{
		Symbol: "AAPL", SecType: "OPT",
		Strike: decimal.NewFromFloat(150), Expiry: "20251219", Right: "C",
	}
	inst, err := core.ParseInstrument(contract)
	require.NoError(t, err)
	require.NoError(t, agg.ApplyPositionDelta(inst, core.PositionDelta{
		AccountID: "ACC1", Contract: contract,
		Quantity: 2, AvgCost: decimal.NewFromFloat(5), MarketPrice: decimal.NewFromFloat(6),
	}))

	touched := agg.ApplyGreeks(inst, core.Greeks{Delta: 0.6, Gamma: 0.02, Theta: -0.05, Vega: 0.12})
	assert.Equal(t, []string{"ACC1"}, touched)

	snap, _ := agg.Snapshot("ACC1")
	// Equity contributes qty to delta; option contributes greek * qty * 100
	assert.InDelta(t, 100+0.6*200, snap.Greeks.Delta, 1e-9)
	assert.InDelta(t, 0.02*200, snap.Greeks.Gamma, 1e-9)
	assert.InDelta(t, -0.05*200, snap.Greeks.Theta, 1e-9)
	assert.InDelta(t, 0.12*200, snap.Greeks.Vega, 1e-9)
}

func TestAggregator_StrategyLabels(t *testing.T) {
	agg := newTestAggregator(t)

	applyEquity(t, agg, "ACC1", "AAPL", 100, 150, 155)

	contract := core.Contract{
		Symbol: "AAPL", SecType: "OPT",
		Strike: decimal.NewFromFloat(160), Expiry: "20251219", Right: "C",
	}
	inst, err := core.ParseInstrument(contract)
	require.NoError(t, err)
	require.NoError(t, agg.ApplyPositionDelta(inst, core.PositionDelta{
		AccountID: "ACC1", Contract: contract,
		Quantity: -1, AvgCost: decimal.NewFromFloat(3), MarketPrice: decimal.NewFromFloat(2),
	}))

	snap, _ := agg.Snapshot("ACC1")
	for _, p := range snap.Positions {
		assert.Equal(t, "Covered Call", p.StrategyLabel)
	}
}

func TestAggregator_SnapshotIsDeepCopy(t *testing.T) {
	agg := newTestAggregator(t)
	applyEquity(t, agg, "ACC1", "AAPL", 100, 150, 155)

	snap, _ := agg.Snapshot("ACC1")
	snap.Positions[0].MarketValue = decimal.NewFromInt(-1)
	snap.OtherValues["injected"] = "x"

	again, _ := agg.Snapshot("ACC1")
	assert.True(t, again.Positions[0].MarketValue.Equal(decimal.NewFromFloat(15500)))
	assert.NotContains(t, again.OtherValues, "injected")
}

func TestAggregator_ConcurrentSnapshotConsistency(t *testing.T) {
	agg := newTestAggregator(t)
	applyEquity(t, agg, "ACC1", "AAPL", 100, 150, 150)

	stop := make(chan struct{})
	var writer sync.WaitGroup
	writer.Add(1)
	go func() {
		defer writer.Done()
		for i := 0; ; i++ {
			select {
			case <-stop:
				return
			default:
				agg.ApplyPrice("AAPL", decimal.NewFromInt(int64(150+i%50)))
			}
		}
	}()

	var readers sync.WaitGroup
	for r := 0; r < 4; r++ {
		readers.Add(1)
		go func() {
			defer readers.Done()
			for i := 0; i < 500; i++ {
				snap, ok := agg.Snapshot("ACC1")
				if !ok {
					continue
				}
				pos := snap.Positions[0]
				// A snapshot must never pair a price with a market value
				// computed from a different price.
				expected := pos.CurrentPrice.Mul(decimal.NewFromInt(pos.Quantity))
				if !pos.MarketValue.Equal(expected) {
					t.Errorf("torn snapshot: price=%s mv=%s", pos.CurrentPrice, pos.MarketValue)
					return
				}
				if !snap.TotalValue.Equal(pos.MarketValue.Add(snap.CashBalance)) {
					t.Errorf("torn totals: total=%s mv=%s cash=%s", snap.TotalValue, pos.MarketValue, snap.CashBalance)
					return
				}
			}
		}()
	}

	readers.Wait()
	close(stop)
	writer.Wait()
}
