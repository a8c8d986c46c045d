package scheduler

import (
	"github.com/byzfuzz/rmo/internal/measurements"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	attrPolicy = attribute.Key("policy")
	attrHeld   = attribute.Key("held")
)

var meter = otel.Meter("rmo/scheduler")

var metrics = struct {
	submitted  metric.Int64Counter
	delivered  metric.Int64Counter
	dropped    metric.Int64Counter
	overflow   metric.Int64Counter
	delay      metric.Float64Histogram
	queueDepth metric.Int64UpDownCounter
	rate       metric.Float64Histogram
	fitness    metric.Float64Histogram
}{
	submitted: measurements.Must(meter.Int64Counter("rmo_scheduler_events_submitted",
		metric.WithDescription("Number of intercepted events submitted, by message type."))),
	delivered: measurements.Must(meter.Int64Counter("rmo_scheduler_events_delivered",
		metric.WithDescription("Number of events delivered, by policy and whether the event was held."))),
	dropped: measurements.Must(meter.Int64Counter("rmo_scheduler_events_dropped",
		metric.WithDescription("Number of events that could not be delivered before shutdown completed."))),
	overflow: measurements.Must(meter.Int64Counter("rmo_scheduler_delay_overflow",
		metric.WithDescription("Number of events delivered without their delay because the in-flight bound was reached."))),
	delay: measurements.Must(meter.Float64Histogram("rmo_scheduler_applied_delay",
		metric.WithDescription("Delay applied to held events."),
		metric.WithExplicitBucketBoundaries(0.001, 0.005, 0.01, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0),
		metric.WithUnit("s"))),
	queueDepth: measurements.Must(meter.Int64UpDownCounter("rmo_scheduler_priority_queue_depth",
		metric.WithDescription("Number of events waiting in the priority queue."))),
	rate: measurements.Must(meter.Float64Histogram("rmo_scheduler_priority_rate",
		metric.WithDescription("Delivery rate chosen by the priority controller."),
		metric.WithUnit("{event}/s"))),
	fitness: measurements.Must(meter.Float64Histogram("rmo_scheduler_fitness",
		metric.WithDescription("Fitness of evaluated schedules, by fitness kind."))),
}
