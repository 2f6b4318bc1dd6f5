package portfolio

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"

	"qtrader/internal/core"
	apperrors "qtrader/pkg/errors"
	"qtrader/pkg/telemetry"
)

// Cash figure keys recognized from the account value stream. Anything else
// is retained verbatim for observability and never feeds totals.
var (
	cashKeys   = map[string]bool{"CashBalance": true, "TotalCashBalance": true}
	powerKeys  = map[string]bool{"BuyingPower": true}
	marginKeys = map[string]bool{"MarginUsed": true, "MaintMarginReq": true}
)

type account struct {
	id          string
	class       core.AccountClass
	ledger      *Ledger
	cashBalance decimal.Decimal
	buyingPower decimal.Decimal
	marginUsed  decimal.Decimal
	otherValues map[string]string

	totalValue      decimal.Decimal
	dayPnL          decimal.Decimal
	dayPnLPercent   decimal.Decimal
	totalPnL        decimal.Decimal
	totalPnLPercent decimal.Decimal
	greeks          core.PortfolioGreeks
	updatedAt       time.Time
}

// Aggregator owns one ledger per account plus the account-level cash
// figures, and recomputes roll-ups wholesale after any contributing
// change. One coarse lock covers every portfolio; update volumes are tens
// per second, not thousands.
type Aggregator struct {
	mu       sync.RWMutex
	accounts map[string]*account
	logger   core.ILogger
	metrics  *telemetry.MetricsHolder
	clock    func() time.Time
}

// NewAggregator creates an empty aggregator
func NewAggregator(logger core.ILogger) *Aggregator {
	return &Aggregator{
		accounts: make(map[string]*account),
		logger:   logger.WithField("component", "aggregator"),
		metrics:  telemetry.GetGlobalMetrics(),
		clock:    time.Now,
	}
}

// getOrCreate lazily creates an account on its first event, classifying
// it from the account-id naming convention.
func (a *Aggregator) getOrCreate(accountID string) *account {
	acct, ok := a.accounts[accountID]
	if !ok {
		acct = &account{
			id:          accountID,
			class:       core.ClassifyAccount(accountID),
			ledger:      NewLedger(accountID, a.logger),
			otherValues: make(map[string]string),
			updatedAt:   a.clock(),
		}
		a.accounts[accountID] = acct
		a.logger.Info("Created account", "account", accountID, "class", acct.class)
		a.metrics.SetAccountsActive(int64(len(a.accounts)))
	}
	return acct
}

// ApplyPositionDelta routes a delta to upsert or removal based on the
// zero-quantity convention, then recomputes totals for the account.
func (a *Aggregator) ApplyPositionDelta(inst core.Instrument, delta core.PositionDelta) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	acct := a.getOrCreate(delta.AccountID)

	if delta.Quantity == 0 {
		if !acct.ledger.RemoveIfClosed(inst) {
			// Expected under redelivery or startup ordering, not an error
			a.logger.Warn("Close for unknown position", "account", delta.AccountID, "instrument", inst.String())
		}
	} else {
		acct.ledger.Upsert(inst, delta)
		a.relabel(acct, inst.Symbol)
	}

	a.recalculate(acct)
	return nil
}

// ApplyCashUpdate folds one account-level figure into the portfolio.
// Recognized keys affect totals; unknown keys are stored as-is.
func (a *Aggregator) ApplyCashUpdate(av core.AccountValue) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	acct := a.getOrCreate(av.AccountID)

	switch {
	case cashKeys[av.Key]:
		value, err := decimal.NewFromString(av.Value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", apperrors.ErrInvalidValue, av.Key, av.Value, err)
		}
		acct.cashBalance = value
	case powerKeys[av.Key]:
		value, err := decimal.NewFromString(av.Value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", apperrors.ErrInvalidValue, av.Key, av.Value, err)
		}
		acct.buyingPower = value
	case marginKeys[av.Key]:
		value, err := decimal.NewFromString(av.Value)
		if err != nil {
			return fmt.Errorf("%w: %s=%q: %v", apperrors.ErrInvalidValue, av.Key, av.Value, err)
		}
		acct.marginUsed = value
	default:
		acct.otherValues[av.Key] = av.Value
		acct.updatedAt = a.clock()
		return nil
	}

	a.recalculate(acct)
	return nil
}

// ApplyPrice pushes a tick into every account holding the symbol and
// returns the accounts whose totals changed.
func (a *Aggregator) ApplyPrice(symbol string, price decimal.Decimal) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var touched []string
	for id, acct := range a.accounts {
		if len(acct.ledger.ApplyPrice(symbol, price)) == 0 {
			continue
		}
		a.recalculate(acct)
		touched = append(touched, id)
	}
	return touched
}

// ApplyGreeks attaches sensitivities to every held position matching the
// option identity and returns the accounts touched.
func (a *Aggregator) ApplyGreeks(inst core.Instrument, greeks core.Greeks) []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	key := inst.Key()
	var touched []string
	for id, acct := range a.accounts {
		if !acct.ledger.ApplyGreeks(key, greeks) {
			continue
		}
		a.recalculate(acct)
		touched = append(touched, id)
	}
	return touched
}

// Snapshot returns a deep, independent copy of one portfolio
func (a *Aggregator) Snapshot(accountID string) (core.Portfolio, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()

	acct, ok := a.accounts[accountID]
	if !ok {
		return core.Portfolio{}, false
	}
	return a.snapshotLocked(acct), true
}

// SnapshotAll returns deep copies of every portfolio
func (a *Aggregator) SnapshotAll() map[string]core.Portfolio {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make(map[string]core.Portfolio, len(a.accounts))
	for id, acct := range a.accounts {
		out[id] = a.snapshotLocked(acct)
	}
	return out
}

// Accounts returns the known account ids
func (a *Aggregator) Accounts() []string {
	a.mu.RLock()
	defer a.mu.RUnlock()

	out := make([]string, 0, len(a.accounts))
	for id := range a.accounts {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// PruneEmpty removes accounts holding no positions and no cash figures.
// Called by the engine's maintenance pass; takes the same lock as any
// writer.
func (a *Aggregator) PruneEmpty() []string {
	a.mu.Lock()
	defer a.mu.Unlock()

	var removed []string
	for id, acct := range a.accounts {
		if acct.ledger.Len() > 0 || !acct.cashBalance.IsZero() || !acct.buyingPower.IsZero() || !acct.marginUsed.IsZero() {
			continue
		}
		delete(a.accounts, id)
		a.metrics.RemoveAccount(id)
		removed = append(removed, id)
	}
	if len(removed) > 0 {
		a.metrics.SetAccountsActive(int64(len(a.accounts)))
	}
	return removed
}

// recalculate recomputes every roll-up from current state. Full recompute
// keeps totals correct regardless of update order or partial information.
func (a *Aggregator) recalculate(acct *account) {
	hundred := decimal.NewFromInt(100)

	marketValue := decimal.Zero
	dayPnL := decimal.Zero
	totalPnL := decimal.Zero
	var greeks core.PortfolioGreeks

	acct.ledger.Each(func(p *core.Position) {
		marketValue = marketValue.Add(p.MarketValue)
		dayPnL = dayPnL.Add(p.DayPnL)
		totalPnL = totalPnL.Add(p.UnrealizedPnL.Add(p.RealizedPnL))

		if p.Instrument.Kind == core.KindEquity {
			greeks.Delta += float64(p.Quantity)
		} else if p.Greeks != nil {
			weight := float64(p.Quantity * p.Multiplier)
			greeks.Delta += p.Greeks.Delta * weight
			greeks.Gamma += p.Greeks.Gamma * weight
			greeks.Theta += p.Greeks.Theta * weight
			greeks.Vega += p.Greeks.Vega * weight
			greeks.Rho += p.Greeks.Rho * weight
		}
	})

	acct.totalValue = marketValue.Add(acct.cashBalance)
	acct.dayPnL = dayPnL
	acct.totalPnL = totalPnL
	acct.greeks = greeks

	if acct.totalValue.Sign() > 0 {
		acct.dayPnLPercent = dayPnL.Div(acct.totalValue).Mul(hundred)
	} else {
		acct.dayPnLPercent = decimal.Zero
	}

	invested := acct.totalValue.Sub(totalPnL)
	if invested.Sign() > 0 {
		acct.totalPnLPercent = totalPnL.Div(invested).Mul(hundred)
	} else {
		acct.totalPnLPercent = decimal.Zero
	}

	acct.updatedAt = a.clock()

	a.metrics.SetPortfolioTotals(acct.id,
		acct.totalValue.InexactFloat64(),
		acct.dayPnL.InexactFloat64(),
		int64(acct.ledger.Len()))
}

// relabel refreshes strategy labels for every position on one underlying
func (a *Aggregator) relabel(acct *account, symbol string) {
	var legs []*core.Position
	acct.ledger.Each(func(p *core.Position) {
		if p.Instrument.Symbol == symbol {
			legs = append(legs, p)
		}
	})
	label := IdentifyStrategy(legs)
	for _, p := range legs {
		p.StrategyLabel = label
	}
}

func (a *Aggregator) snapshotLocked(acct *account) core.Portfolio {
	p := core.Portfolio{
		AccountID:       acct.id,
		Class:           acct.class,
		CashBalance:     acct.cashBalance,
		BuyingPower:     acct.buyingPower,
		MarginUsed:      acct.marginUsed,
		TotalValue:      acct.totalValue,
		DayPnL:          acct.dayPnL,
		DayPnLPercent:   acct.dayPnLPercent,
		TotalPnL:        acct.totalPnL,
		TotalPnLPercent: acct.totalPnLPercent,
		Greeks:          acct.greeks,
		UpdatedAt:       acct.updatedAt,
	}

	p.Positions = make([]core.Position, 0, acct.ledger.Len())
	acct.ledger.Each(func(pos *core.Position) {
		p.Positions = append(p.Positions, pos.Clone())
	})
	sort.Slice(p.Positions, func(i, j int) bool {
		ki, kj := p.Positions[i].Instrument.Key(), p.Positions[j].Instrument.Key()
		if ki.Symbol != kj.Symbol {
			return ki.Symbol < kj.Symbol
		}
		if ki.Kind != kj.Kind {
			return ki.Kind < kj.Kind
		}
		if ki.Expiry != kj.Expiry {
			return ki.Expiry < kj.Expiry
		}
		return ki.Strike < kj.Strike
	})

	p.OtherValues = make(map[string]string, len(acct.otherValues))
	for k, v := range acct.otherValues {
		p.OtherValues[k] = v
	}

	return p
}
