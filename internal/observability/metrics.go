// Package observability provides OpenTelemetry instrumentation for tracing and metrics.
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

// InitMetrics initializes the OpenTelemetry metrics provider with a Prometheus exporter.
// It returns the HTTP handler for the /metrics endpoint and a shutdown function.
// The shutdown function should be called on application exit for graceful cleanup.
func InitMetrics() (http.Handler, func(context.Context) error, error) {
	exporter, err := prometheus.New()
	if err != nil {
		return nil, nil, fmt.Errorf("failed to create prometheus exporter: %w", err)
	}

	provider := sdkmetric.NewMeterProvider(
		sdkmetric.WithReader(exporter),
	)

	otel.SetMeterProvider(provider)

	return promhttp.Handler(), provider.Shutdown, nil
}

// RegisterRunningTasksGauge registers an observable gauge reporting how many
// tasks are currently executing. The count callback runs only when the
// metrics endpoint is scraped, so it may query the database.
func RegisterRunningTasksGauge(count func(context.Context) (int64, error)) error {
	meter := otel.Meter("cubqueue")

	_, err := meter.Int64ObservableGauge("cubqueue.tasks.running",
		metric.WithDescription("Number of tasks currently executing"),
		metric.WithInt64Callback(func(ctx context.Context, observer metric.Int64Observer) error {
			n, err := count(ctx)
			if err != nil {
				// Skip the sample rather than failing the whole scrape.
				return nil
			}
			observer.Observe(n)
			return nil
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to register running tasks gauge: %w", err)
	}

	return nil
}
