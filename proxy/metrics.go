package proxy

import (
	"github.com/byzfuzz/rmo/internal/measurements"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	attrRoute  = attribute.Key("route")
	attrReason = attribute.Key("reason")

	attrInbound  = measurements.AttrDirection.String("inbound")
	attrOutbound = measurements.AttrDirection.String("outbound")
)

var meter = otel.Meter("rmo/proxy")

var metrics = struct {
	decoded     metric.Int64Counter
	rejected    metric.Int64Counter
	duplicates  metric.Int64Counter
	bytes       metric.Int64Counter
	dials       metric.Int64Counter
	connections metric.Int64Counter
	active      metric.Int64UpDownCounter
}{
	decoded: measurements.Must(meter.Int64Counter("rmo_proxy_frames_decoded",
		metric.WithDescription("Number of frames decoded, by message type."))),
	rejected: measurements.Must(meter.Int64Counter("rmo_proxy_frames_rejected",
		metric.WithDescription("Number of malformed frames that tore down a connection, by reason."))),
	duplicates: measurements.Must(meter.Int64Counter("rmo_proxy_frames_duplicate",
		metric.WithDescription("Number of frames whose payload was recently seen on any link, by message type."))),
	bytes: measurements.Must(meter.Int64Counter("rmo_proxy_bytes",
		metric.WithDescription("Number of bytes relayed, by direction."),
		metric.WithUnit("By"))),
	dials: measurements.Must(meter.Int64Counter("rmo_proxy_dials",
		metric.WithDescription("Number of upstream dial attempts, by outcome."))),
	connections: measurements.Must(meter.Int64Counter("rmo_proxy_connections_closed",
		metric.WithDescription("Number of relayed connection pairs closed, by status."))),
	active: measurements.Must(meter.Int64UpDownCounter("rmo_proxy_connections_active",
		metric.WithDescription("Number of relayed connection pairs currently open."))),
}
