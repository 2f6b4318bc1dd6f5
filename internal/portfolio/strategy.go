package portfolio

import (
	"qtrader/internal/core"
)

// IdentifyStrategy classifies the option structure held on one underlying.
// The label is advisory display metadata; it never feeds valuation.
func IdentifyStrategy(positions []*core.Position) string {
	var calls, puts, stocks []*core.Position
	for _, p := range positions {
		switch p.Instrument.Kind {
		case core.KindCall:
			calls = append(calls, p)
		case core.KindPut:
			puts = append(puts, p)
		case core.KindEquity:
			stocks = append(stocks, p)
		}
	}

	switch {
	case len(calls) == 1 && len(puts) == 0 && len(stocks) == 0:
		if calls[0].Quantity > 0 {
			return "Long Call"
		}
		return "Short Call"

	case len(calls) == 0 && len(puts) == 1 && len(stocks) == 0:
		if puts[0].Quantity > 0 {
			return "Long Put"
		}
		return "Short Put"

	case len(calls) == 1 && len(puts) == 0 && len(stocks) == 1:
		if calls[0].Quantity < 0 && stocks[0].Quantity > 0 {
			return "Covered Call"
		}
		return "Stock + Call"

	case len(calls) == 0 && len(puts) == 1 && len(stocks) == 1:
		if puts[0].Quantity > 0 && stocks[0].Quantity > 0 {
			return "Protective Put"
		}
		return "Stock + Put"

	case len(calls) == 1 && len(puts) == 1:
		if calls[0].Instrument.Strike.Equal(puts[0].Instrument.Strike) {
			return "Straddle"
		}
		return "Strangle"

	case len(calls) == 2 && len(puts) == 0:
		for _, c := range calls {
			if c.Quantity > 0 {
				return "Bull Call Spread"
			}
		}
		return "Bear Call Spread"

	case len(calls) == 0 && len(puts) == 2:
		for _, p := range puts {
			if p.Quantity > 0 {
				return "Bear Put Spread"
			}
		}
		return "Bull Put Spread"

	case len(calls) == 2 && len(puts) == 2:
		return "Iron Condor"

	case len(calls) == 0 && len(puts) == 0 && len(stocks) == 1:
		return "Stock"

	case len(calls)+len(puts)+len(stocks) == 0:
		return "No Position"

	default:
		return "Complex Strategy"
	}
}
