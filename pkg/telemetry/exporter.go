package telemetry

import (
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/sdk/metric"
)

// InitMetrics installs a Prometheus-backed meter provider as the OTel
// global and registers the shared instrument set on it. The registry is
// scraped through the live server's /metrics endpoint.
func InitMetrics() error {
	exporter, err := prometheus.New()
	if err != nil {
		return fmt.Errorf("create prometheus exporter: %w", err)
	}

	provider := metric.NewMeterProvider(metric.WithReader(exporter))
	otel.SetMeterProvider(provider)

	if err := GetGlobalMetrics().InitMetrics(provider.Meter("qtrader_core")); err != nil {
		return fmt.Errorf("register instruments: %w", err)
	}
	return nil
}
