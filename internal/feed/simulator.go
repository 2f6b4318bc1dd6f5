// Package feed contains upstream event sources for the reconciliation
// engine. The simulator generates a plausible brokerage event stream for
// development and demos without a broker connection.
package feed

import (
	"context"
	"fmt"
	"math/rand"
	"time"

	"github.com/shopspring/decimal"

	"qtrader/internal/core"
)

// SimulatorConfig tunes the synthetic event stream
type SimulatorConfig struct {
	Symbols      []string
	Accounts     []string
	TickInterval time.Duration
	Seed         int64
}

// Simulator implements core.IFeedSource. It seeds a handful of equity
// and option positions, then emits random-walk price ticks with
// occasional greeks and account value updates.
type Simulator struct {
	cfg     SimulatorConfig
	rng     *rand.Rand
	prices  map[string]decimal.Decimal
	strikes map[string]decimal.Decimal
	expiry  string
	logger  core.ILogger
}

func NewSimulator(cfg SimulatorConfig, logger core.ILogger) *Simulator {
	if len(cfg.Accounts) == 0 {
		cfg.Accounts = []string{"U1000001", "U1000002-IRA"}
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = 500 * time.Millisecond
	}
	seed := cfg.Seed
	if seed == 0 {
		seed = time.Now().UnixNano()
	}

	return &Simulator{
		cfg:     cfg,
		rng:     rand.New(rand.NewSource(seed)),
		prices:  make(map[string]decimal.Decimal),
		strikes: make(map[string]decimal.Decimal),
		expiry:  time.Now().AddDate(0, 1, 0).Format("20060102"),
		logger:  logger.WithField("component", "feed_simulator"),
	}
}

// Run seeds positions and streams events until the context is canceled
func (s *Simulator) Run(ctx context.Context, sink core.IReconciler) error {
	s.logger.Info("Simulator started", "symbols", s.cfg.Symbols, "accounts", s.cfg.Accounts)

	if err := s.seed(ctx, sink); err != nil {
		return fmt.Errorf("simulator seed: %w", err)
	}

	ticker := time.NewTicker(s.cfg.TickInterval)
	defer ticker.Stop()

	n := 0
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Simulator stopped")
			return nil
		case <-ticker.C:
			n++
			s.emitTicks(sink)
			// Greeks and account values arrive far less often than ticks
			if n%10 == 0 {
				if err := s.emitGreeks(ctx, sink); err != nil {
					return err
				}
			}
			if n%20 == 0 {
				if err := s.emitAccountValues(ctx, sink); err != nil {
					return err
				}
			}
		}
	}
}

// seed sets opening prices and initial positions and balances
func (s *Simulator) seed(ctx context.Context, sink core.IReconciler) error {
	for _, symbol := range s.cfg.Symbols {
		price := decimal.NewFromFloat(50 + s.rng.Float64()*400).Round(2)
		s.prices[symbol] = price
		s.strikes[symbol] = price.Mul(decimal.NewFromFloat(1.05)).Round(0)
	}

	for i, account := range s.cfg.Accounts {
		for j, symbol := range s.cfg.Symbols {
			price := s.prices[symbol]
			qty := int64(100 * (1 + (i+j)%3))
			avgCost := price.Mul(decimal.NewFromFloat(0.9 + s.rng.Float64()*0.2)).Round(2)

			if err := sink.SubmitPositionDelta(ctx, core.PositionDelta{
				AccountID:   account,
				Contract:    core.Contract{Symbol: symbol, SecType: "STK"},
				Quantity:    qty,
				AvgCost:     avgCost,
				MarketPrice: price,
			}); err != nil {
				return err
			}

			// One covered call per equity position
			if err := sink.SubmitPositionDelta(ctx, core.PositionDelta{
				AccountID: account,
				Contract: core.Contract{
					Symbol:  symbol,
					SecType: "OPT",
					Strike:  s.strikes[symbol],
					Expiry:  s.expiry,
					Right:   "C",
				},
				Quantity:    -qty / 100,
				AvgCost:     decimal.NewFromFloat(2 + s.rng.Float64()*5).Round(2),
				MarketPrice: decimal.NewFromFloat(2 + s.rng.Float64()*5).Round(2),
			}); err != nil {
				return err
			}
		}

		for key, value := range map[string]string{
			"CashBalance": fmt.Sprintf("%.2f", 10000+s.rng.Float64()*90000),
			"BuyingPower": fmt.Sprintf("%.2f", 50000+s.rng.Float64()*150000),
		} {
			if err := sink.SubmitAccountValue(ctx, core.AccountValue{
				AccountID: account,
				Key:       key,
				Value:     value,
				Currency:  "USD",
			}); err != nil {
				return err
			}
		}
	}
	return nil
}

// emitTicks advances each symbol on a random walk
func (s *Simulator) emitTicks(sink core.IReconciler) {
	for _, symbol := range s.cfg.Symbols {
		price := s.prices[symbol]
		drift := decimal.NewFromFloat((s.rng.Float64() - 0.5) * 0.004)
		price = price.Mul(decimal.NewFromInt(1).Add(drift)).Round(2)
		s.prices[symbol] = price

		spread := price.Mul(decimal.NewFromFloat(0.0005)).Round(2)
		sink.SubmitPriceTick(core.PriceTick{
			Symbol: symbol,
			Last:   price,
			Bid:    price.Sub(spread),
			Ask:    price.Add(spread),
			Volume: int64(s.rng.Intn(10000)),
		})
	}
}

// emitGreeks refreshes greeks for each simulated short call
func (s *Simulator) emitGreeks(ctx context.Context, sink core.IReconciler) error {
	for _, symbol := range s.cfg.Symbols {
		if err := sink.SubmitGreeks(ctx, core.GreeksUpdate{
			Symbol:            symbol,
			Strike:            s.strikes[symbol],
			Expiry:            s.expiry,
			Right:             "C",
			Delta:             0.2 + s.rng.Float64()*0.5,
			Gamma:             s.rng.Float64() * 0.05,
			Theta:             -s.rng.Float64() * 0.1,
			Vega:              s.rng.Float64() * 0.3,
			ImpliedVolatility: 0.15 + s.rng.Float64()*0.5,
		}); err != nil {
			return err
		}
	}
	return nil
}

// emitAccountValues drifts cash balances slightly
func (s *Simulator) emitAccountValues(ctx context.Context, sink core.IReconciler) error {
	for _, account := range s.cfg.Accounts {
		if err := sink.SubmitAccountValue(ctx, core.AccountValue{
			AccountID: account,
			Key:       "CashBalance",
			Value:     fmt.Sprintf("%.2f", 10000+s.rng.Float64()*90000),
			Currency:  "USD",
		}); err != nil {
			return err
		}
	}
	return nil
}
