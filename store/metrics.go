package store

import (
	"github.com/byzfuzz/rmo/internal/measurements"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("rmo/store")

var metrics = struct {
	latestRun  metric.Int64Gauge
	violations metric.Int64Counter
}{
	latestRun: measurements.Must(meter.Int64Gauge("rmo_store_latest_run",
		metric.WithDescription("The latest run recorded in the store."))),
	violations: measurements.Must(meter.Int64Counter("rmo_store_violations",
		metric.WithDescription("Number of violation records written."))),
}
