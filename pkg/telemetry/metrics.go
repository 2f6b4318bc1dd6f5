package telemetry

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Metric names
const (
	MetricEventsProcessedTotal = "qtrader_events_processed_total"
	MetricEventsRejectedTotal  = "qtrader_events_rejected_total"
	MetricTicksConflatedTotal  = "qtrader_price_ticks_conflated_total"
	MetricSnapshotsTotal       = "qtrader_snapshots_total"
	MetricAlertsTriggeredTotal = "qtrader_alerts_triggered_total"
	MetricPortfolioTotalValue  = "qtrader_portfolio_total_value"
	MetricPortfolioDayPnL      = "qtrader_portfolio_day_pnl"
	MetricPositionsOpen        = "qtrader_positions_open"
	MetricAccountsActive       = "qtrader_accounts_active"
	MetricQuoteCacheSize       = "qtrader_quote_cache_size"
	MetricEventQueueDepth      = "qtrader_event_queue_depth"
)

// MetricsHolder holds initialized instruments
type MetricsHolder struct {
	EventsProcessedTotal metric.Int64Counter
	EventsRejectedTotal  metric.Int64Counter
	TicksConflatedTotal  metric.Int64Counter
	SnapshotsTotal       metric.Int64Counter
	AlertsTriggeredTotal metric.Int64Counter
	PortfolioTotalValue  metric.Float64ObservableGauge
	PortfolioDayPnL      metric.Float64ObservableGauge
	PositionsOpen        metric.Int64ObservableGauge
	AccountsActive       metric.Int64ObservableGauge
	QuoteCacheSize       metric.Int64ObservableGauge
	EventQueueDepth      metric.Int64ObservableGauge

	// State for observable gauges
	mu             sync.RWMutex
	totalValueMap  map[string]float64
	dayPnLMap      map[string]float64
	positionsMap   map[string]int64
	queueDepthMap  map[string]int64
	accountsActive int64
	quoteCacheSize int64
}

var (
	globalMetrics *MetricsHolder
	initOnce      sync.Once
)

// GetGlobalMetrics returns the singleton metrics holder
func GetGlobalMetrics() *MetricsHolder {
	initOnce.Do(func() {
		globalMetrics = &MetricsHolder{
			totalValueMap: make(map[string]float64),
			dayPnLMap:     make(map[string]float64),
			positionsMap:  make(map[string]int64),
			queueDepthMap: make(map[string]int64),
		}
		// Initialization of instruments happens in InitMetrics
	})
	return globalMetrics
}

// InitMetrics initializes instruments using the meter
func (m *MetricsHolder) InitMetrics(meter metric.Meter) error {
	var err error

	m.EventsProcessedTotal, err = meter.Int64Counter(MetricEventsProcessedTotal, metric.WithDescription("Total feed events applied, by channel"))
	if err != nil {
		return err
	}

	m.EventsRejectedTotal, err = meter.Int64Counter(MetricEventsRejectedTotal, metric.WithDescription("Total feed events rejected, by reason"))
	if err != nil {
		return err
	}

	m.TicksConflatedTotal, err = meter.Int64Counter(MetricTicksConflatedTotal, metric.WithDescription("Price ticks superseded before processing"))
	if err != nil {
		return err
	}

	m.SnapshotsTotal, err = meter.Int64Counter(MetricSnapshotsTotal, metric.WithDescription("Portfolio snapshot reads served"))
	if err != nil {
		return err
	}

	m.AlertsTriggeredTotal, err = meter.Int64Counter(MetricAlertsTriggeredTotal, metric.WithDescription("Alerts emitted, by rule"))
	if err != nil {
		return err
	}

	// Observables
	m.PortfolioTotalValue, err = meter.Float64ObservableGauge(MetricPortfolioTotalValue, metric.WithDescription("Current total portfolio value"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for account, val := range m.totalValueMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("account", account)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PortfolioDayPnL, err = meter.Float64ObservableGauge(MetricPortfolioDayPnL, metric.WithDescription("Current day P&L"),
		metric.WithFloat64Callback(func(ctx context.Context, obs metric.Float64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for account, val := range m.dayPnLMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("account", account)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.PositionsOpen, err = meter.Int64ObservableGauge(MetricPositionsOpen, metric.WithDescription("Number of open positions"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for account, val := range m.positionsMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("account", account)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	m.AccountsActive, err = meter.Int64ObservableGauge(MetricAccountsActive, metric.WithDescription("Number of active accounts"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.accountsActive)
			return nil
		}))
	if err != nil {
		return err
	}

	m.QuoteCacheSize, err = meter.Int64ObservableGauge(MetricQuoteCacheSize, metric.WithDescription("Symbols held in the quote cache"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			obs.Observe(m.quoteCacheSize)
			return nil
		}))
	if err != nil {
		return err
	}

	m.EventQueueDepth, err = meter.Int64ObservableGauge(MetricEventQueueDepth, metric.WithDescription("Pending events per feed channel"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			m.mu.RLock()
			defer m.mu.RUnlock()
			for channel, val := range m.queueDepthMap {
				obs.Observe(val, metric.WithAttributes(attribute.String("channel", channel)))
			}
			return nil
		}))
	if err != nil {
		return err
	}

	return nil
}

// Counter helpers. Safe to call before InitMetrics; increments are
// dropped until instruments exist.

func (m *MetricsHolder) IncEventsProcessed(channel string) {
	if m.EventsProcessedTotal != nil {
		m.EventsProcessedTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("channel", channel)))
	}
}

func (m *MetricsHolder) IncEventsRejected(channel string) {
	if m.EventsRejectedTotal != nil {
		m.EventsRejectedTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("channel", channel)))
	}
}

func (m *MetricsHolder) IncTicksConflated() {
	if m.TicksConflatedTotal != nil {
		m.TicksConflatedTotal.Add(context.Background(), 1)
	}
}

func (m *MetricsHolder) IncSnapshots() {
	if m.SnapshotsTotal != nil {
		m.SnapshotsTotal.Add(context.Background(), 1)
	}
}

func (m *MetricsHolder) IncAlertTriggered(rule string) {
	if m.AlertsTriggeredTotal != nil {
		m.AlertsTriggeredTotal.Add(context.Background(), 1, metric.WithAttributes(attribute.String("rule", rule)))
	}
}

// Helpers to update observable state

func (m *MetricsHolder) SetPortfolioTotals(account string, totalValue, dayPnL float64, positions int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.totalValueMap[account] = totalValue
	m.dayPnLMap[account] = dayPnL
	m.positionsMap[account] = positions
}

func (m *MetricsHolder) RemoveAccount(account string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.totalValueMap, account)
	delete(m.dayPnLMap, account)
	delete(m.positionsMap, account)
}

func (m *MetricsHolder) SetAccountsActive(count int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.accountsActive = count
}

func (m *MetricsHolder) SetQuoteCacheSize(size int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.quoteCacheSize = size
}

func (m *MetricsHolder) SetQueueDepth(channel string, depth int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.queueDepthMap[channel] = depth
}
