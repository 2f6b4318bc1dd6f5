// Package reconcile folds asynchronous feed events into consistent
// portfolio state
package reconcile

import (
	"context"
	"fmt"
	"time"

	"qtrader/internal/core"
	"qtrader/pkg/concurrency"
	"qtrader/pkg/telemetry"
)

// UpdateKind identifies what an update notification refers to
type UpdateKind string

const (
	UpdatePortfolio UpdateKind = "portfolio"
	UpdateQuote     UpdateKind = "quote"
	UpdateGreeks    UpdateKind = "greeks"
)

// Update is delivered to registered listeners after an event is applied
type Update struct {
	Kind      UpdateKind
	AccountID string
	Symbol    string
}

// Config tunes the engine's queues and maintenance cadence
type Config struct {
	GreeksQueueSize     int
	PositionQueueSize   int
	AccountQueueSize    int
	MaintenanceInterval time.Duration
	RedeliveryWindow    time.Duration
}

// DefaultConfig returns production defaults
func DefaultConfig() Config {
	return Config{
		GreeksQueueSize:     256,
		PositionQueueSize:   256,
		AccountQueueSize:    256,
		MaintenanceInterval: time.Minute,
		RedeliveryWindow:    5 * time.Minute,
	}
}

// Engine is the single entry point for upstream feed events. Producers
// submit onto per-channel queues; one consumer goroutine applies events,
// which also serializes all events for the same account in arrival order.
// Price ticks conflate (last-write-wins tolerates loss); the other
// channels apply backpressure because losing a delta corrupts state.
type Engine struct {
	cfg    Config
	quotes core.IQuoteCache
	greeks core.IGreeksCache
	agg    core.IAggregator

	ticks      *tickQueue
	greeksCh   chan core.GreeksUpdate
	positionCh chan core.PositionDelta
	accountCh  chan core.AccountValue

	listeners  []func(Update)
	notifyPool *concurrency.WorkerPool

	// Redelivered-delta observability; correctness never depends on it
	// because every apply is an absolute replace.
	seen map[string]time.Time

	metrics *telemetry.MetricsHolder
	logger  core.ILogger
	clock   func() time.Time
}

// NewEngine wires the engine to its caches and aggregator. notifyPool may
// be nil, in which case listeners run inline on the consumer goroutine.
func NewEngine(cfg Config, quotes core.IQuoteCache, greeks core.IGreeksCache, agg core.IAggregator, notifyPool *concurrency.WorkerPool, logger core.ILogger) *Engine {
	if cfg.GreeksQueueSize <= 0 {
		cfg.GreeksQueueSize = 256
	}
	if cfg.PositionQueueSize <= 0 {
		cfg.PositionQueueSize = 256
	}
	if cfg.AccountQueueSize <= 0 {
		cfg.AccountQueueSize = 256
	}
	if cfg.MaintenanceInterval <= 0 {
		cfg.MaintenanceInterval = time.Minute
	}
	if cfg.RedeliveryWindow <= 0 {
		cfg.RedeliveryWindow = 5 * time.Minute
	}

	return &Engine{
		cfg:        cfg,
		quotes:     quotes,
		greeks:     greeks,
		agg:        agg,
		ticks:      newTickQueue(),
		greeksCh:   make(chan core.GreeksUpdate, cfg.GreeksQueueSize),
		positionCh: make(chan core.PositionDelta, cfg.PositionQueueSize),
		accountCh:  make(chan core.AccountValue, cfg.AccountQueueSize),
		notifyPool: notifyPool,
		seen:       make(map[string]time.Time),
		metrics:    telemetry.GetGlobalMetrics(),
		logger:     logger.WithField("component", "reconcile_engine"),
		clock:      time.Now,
	}
}

// OnUpdate registers a listener notified after each applied event.
// Must be called before Run.
func (e *Engine) OnUpdate(fn func(Update)) {
	e.listeners = append(e.listeners, fn)
}

// Run consumes events until the context is canceled
func (e *Engine) Run(ctx context.Context) error {
	maintenance := time.NewTicker(e.cfg.MaintenanceInterval)
	defer maintenance.Stop()

	e.logger.Info("Engine started",
		"greeks_queue", e.cfg.GreeksQueueSize,
		"position_queue", e.cfg.PositionQueueSize,
		"account_queue", e.cfg.AccountQueueSize,
	)

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("Engine stopped")
			return nil

		case <-e.ticks.wait():
			for {
				tick, ok := e.ticks.pop()
				if !ok {
					break
				}
				e.handleTick(tick)
			}

		case update := <-e.greeksCh:
			e.handleGreeks(update)

		case delta := <-e.positionCh:
			e.handlePosition(delta)

		case av := <-e.accountCh:
			e.handleAccount(av)

		case <-maintenance.C:
			e.maintain()
		}
	}
}

// SubmitPriceTick enqueues a tick. Never blocks: an undelivered older
// tick for the same symbol is superseded instead.
func (e *Engine) SubmitPriceTick(tick core.PriceTick) {
	if e.ticks.push(tick) {
		e.metrics.IncTicksConflated()
	}
	e.metrics.SetQueueDepth("prices", int64(e.ticks.depth()))
}

// SubmitGreeks enqueues a greeks update, blocking when the queue is full
func (e *Engine) SubmitGreeks(ctx context.Context, update core.GreeksUpdate) error {
	select {
	case e.greeksCh <- update:
		e.metrics.SetQueueDepth("greeks", int64(len(e.greeksCh)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("greeks submit: %w", ctx.Err())
	}
}

// SubmitPositionDelta enqueues a position delta, blocking when the queue
// is full. Position deltas are never dropped.
func (e *Engine) SubmitPositionDelta(ctx context.Context, delta core.PositionDelta) error {
	select {
	case e.positionCh <- delta:
		e.metrics.SetQueueDepth("positions", int64(len(e.positionCh)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("position submit: %w", ctx.Err())
	}
}

// SubmitAccountValue enqueues an account value, blocking when the queue
// is full.
func (e *Engine) SubmitAccountValue(ctx context.Context, av core.AccountValue) error {
	select {
	case e.accountCh <- av:
		e.metrics.SetQueueDepth("accounts", int64(len(e.accountCh)))
		return nil
	case <-ctx.Done():
		return fmt.Errorf("account value submit: %w", ctx.Err())
	}
}

// Snapshot returns a deep copy of one portfolio
func (e *Engine) Snapshot(accountID string) (core.Portfolio, bool) {
	e.metrics.IncSnapshots()
	return e.agg.Snapshot(accountID)
}

// SnapshotAll returns deep copies of every portfolio
func (e *Engine) SnapshotAll() map[string]core.Portfolio {
	e.metrics.IncSnapshots()
	return e.agg.SnapshotAll()
}

// GetQuote returns the latest quote for a symbol
func (e *Engine) GetQuote(symbol string) (core.Quote, bool) {
	return e.quotes.Get(symbol)
}

// GetGreeks returns the latest greeks for an option identity
func (e *Engine) GetGreeks(key core.InstrumentKey) (core.Greeks, bool) {
	return e.greeks.Get(key)
}

func (e *Engine) handleTick(tick core.PriceTick) {
	quote := e.quotes.Apply(tick)
	e.metrics.SetQuoteCacheSize(int64(len(e.quotes.Symbols())))

	touched := e.agg.ApplyPrice(tick.Symbol, quote.Last)

	e.metrics.IncEventsProcessed("prices")
	e.notify(Update{Kind: UpdateQuote, Symbol: tick.Symbol})
	for _, accountID := range touched {
		e.notify(Update{Kind: UpdatePortfolio, AccountID: accountID, Symbol: tick.Symbol})
	}
}

func (e *Engine) handleGreeks(update core.GreeksUpdate) {
	inst, err := core.ParseInstrument(core.Contract{
		Symbol:  update.Symbol,
		SecType: "OPT",
		Strike:  update.Strike,
		Expiry:  update.Expiry,
		Right:   update.Right,
	})
	if err != nil {
		e.reject("greeks", err, "symbol", update.Symbol, "expiry", update.Expiry, "right", update.Right)
		return
	}

	greeks := e.greeks.Apply(inst, update)
	touched := e.agg.ApplyGreeks(inst, greeks)

	e.metrics.IncEventsProcessed("greeks")
	e.notify(Update{Kind: UpdateGreeks, Symbol: update.Symbol})
	for _, accountID := range touched {
		e.notify(Update{Kind: UpdatePortfolio, AccountID: accountID, Symbol: update.Symbol})
	}
}

func (e *Engine) handlePosition(delta core.PositionDelta) {
	inst, err := core.ParseInstrument(delta.Contract)
	if err != nil {
		e.reject("positions", err, "account", delta.AccountID, "symbol", delta.Contract.Symbol, "sec_type", delta.Contract.SecType)
		return
	}

	key := fmt.Sprintf("%s|%v", delta.AccountID, inst.Key())
	if last, ok := e.seen[key]; ok && e.clock().Sub(last) < e.cfg.RedeliveryWindow {
		e.logger.Debug("Redelivered position delta", "account", delta.AccountID, "instrument", inst.String())
	}
	e.seen[key] = e.clock()

	if err := e.agg.ApplyPositionDelta(inst, delta); err != nil {
		e.reject("positions", err, "account", delta.AccountID, "instrument", inst.String())
		return
	}

	e.metrics.IncEventsProcessed("positions")
	e.notify(Update{Kind: UpdatePortfolio, AccountID: delta.AccountID, Symbol: inst.Symbol})
}

func (e *Engine) handleAccount(av core.AccountValue) {
	if err := e.agg.ApplyCashUpdate(av); err != nil {
		e.reject("accounts", err, "account", av.AccountID, "key", av.Key, "value", av.Value)
		return
	}

	e.metrics.IncEventsProcessed("accounts")
	e.notify(Update{Kind: UpdatePortfolio, AccountID: av.AccountID})
}

// maintain prunes empty accounts and expires redelivery bookkeeping. It
// takes the same locks as any writer; it is not privileged.
func (e *Engine) maintain() {
	removed := e.agg.PruneEmpty()
	if len(removed) > 0 {
		e.logger.Info("Pruned empty accounts", "accounts", removed)
	}

	cutoff := e.clock().Add(-e.cfg.RedeliveryWindow)
	for key, at := range e.seen {
		if at.Before(cutoff) {
			delete(e.seen, key)
		}
	}
}

// reject logs and counts a single bad event. Failures are contained at
// the handler boundary; processing of other events continues and existing
// state is never touched.
func (e *Engine) reject(channel string, err error, fields ...interface{}) {
	e.metrics.IncEventsRejected(channel)
	e.logger.Warn("Rejected event", append([]interface{}{"channel", channel, "error", err}, fields...)...)
}

func (e *Engine) notify(update Update) {
	for _, fn := range e.listeners {
		fn := fn
		if e.notifyPool != nil {
			if err := e.notifyPool.Submit(func() { fn(update) }); err != nil {
				e.logger.Warn("Listener dispatch dropped", "error", err)
			}
			continue
		}
		fn(update)
	}
}
