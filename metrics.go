package rmo

import (
	"context"
	"time"

	"github.com/byzfuzz/rmo/checker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("rmo")
var metrics = struct {
	runs           metric.Int64Counter
	evaluationTime metric.Float64Histogram
	recordFailures metric.Int64Counter
}{
	runs: must(meter.Int64Counter("rmo_runs", metric.WithDescription("Number of schedules evaluated, by outcome."))),
	evaluationTime: must(meter.Float64Histogram("rmo_evaluation_time",
		metric.WithDescription("Histogram of time spent evaluating a schedule in seconds"),
		metric.WithExplicitBucketBoundaries(0.1, 0.5, 1.0, 2.0, 5.0, 10.0, 20.0, 30.0, 60.0, 120.0, 300.0),
		metric.WithUnit("s"),
	)),
	recordFailures: must(meter.Int64Counter("rmo_record_failures", metric.WithDescription("Number of evaluated runs that could not be stored."))),
}

func recordEvaluation(ctx context.Context, elapsed time.Duration, outcome checker.Outcome, err error) {
	result := outcome.String()
	if err != nil {
		result = "error"
	}
	attrs := metric.WithAttributes(attribute.String("outcome", result))
	metrics.runs.Add(ctx, 1, attrs)
	metrics.evaluationTime.Record(ctx, elapsed.Seconds(), attrs)
}

func must[V any](v V, err error) V {
	if err != nil {
		panic(err)
	}
	return v
}
