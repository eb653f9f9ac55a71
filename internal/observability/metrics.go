// Package observability provides OpenTelemetry metrics instrumentation.
package observability

import (
	"context"
	"fmt"
	"net/http"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/exporters/prometheus"
	"go.opentelemetry.io/otel/metric"
	sdkmetric "go.opentelemetry.io/otel/sdk/metric"
)

// Metrics bundles the counters the services record into.
type Metrics struct {
	Meter metric.Meter

	// ClaimsTotal counts successful claims.
	ClaimsTotal metric.Int64Counter

	// FatalErrors counts runtime invariant violations. Non-zero means a bug.
	FatalErrors metric.Int64Counter

	// DatalakeFailures counts best-effort datalake appends that were dropped.
	DatalakeFailures metric.Int64Counter

	// MonitorRecoveries counts jobs recovered by the monitors.
	MonitorRecoveries metric.Int64Counter
}

// InitMetrics initializes the OpenTelemetry metrics provider with a
// Prometheus exporter. It returns the /metrics HTTP handler, the counter
// bundle, and a shutdown function for graceful cleanup on exit.
func InitMetrics() (http.Handler, *Metrics, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)
	otel.SetMeterProvider(provider)

	meter := otel.Meter("botfleet-coordinator")

	claims, err := meter.Int64Counter("botfleet.claims.total",
		metric.WithDescription("Number of successful job claims"))
	if err != nil {
		return nil, nil, nil, err
	}

	fatals, err := meter.Int64Counter("botfleet.errors.fatal",
		metric.WithDescription("Runtime invariant violations detected"))
	if err != nil {
		return nil, nil, nil, err
	}

	lakeFailures, err := meter.Int64Counter("botfleet.datalake.append_failures",
		metric.WithDescription("Datalake appends dropped after the owning transaction committed"))
	if err != nil {
		return nil, nil, nil, err
	}

	recoveries, err := meter.Int64Counter("botfleet.monitor.recoveries",
		metric.WithDescription("Jobs recovered by the background monitors"))
	if err != nil {
		return nil, nil, nil, err
	}

	m := &Metrics{
		Meter:             meter,
		ClaimsTotal:       claims,
		FatalErrors:       fatals,
		DatalakeFailures:  lakeFailures,
		MonitorRecoveries: recoveries,
	}

	return promhttp.Handler(), m, provider.Shutdown, nil
}

// RegisterQueueGauge registers an observable gauge that queries the pending
// queue depth only when scraped.
func (m *Metrics) RegisterQueueGauge(count func(ctx context.Context) (int64, error)) error {
	_, err := m.Meter.Int64ObservableGauge("botfleet.jobs.pending",
		metric.WithDescription("Current number of pending jobs"),
		metric.WithInt64Callback(func(ctx context.Context, obs metric.Int64Observer) error {
			n, err := count(ctx)
			if err != nil {
				// Don't fail the scrape on a transient store error.
				return nil
			}
			obs.Observe(n)
			return nil
		}),
	)
	return err
}
