package checker

import (
	"github.com/byzfuzz/rmo/internal/measurements"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("rmo/checker")

var metrics = struct {
	violations metric.Int64Counter
}{
	violations: measurements.Must(meter.Int64Counter("rmo_checker_violations",
		metric.WithDescription("Number of property violations observed, by kind."))),
}
