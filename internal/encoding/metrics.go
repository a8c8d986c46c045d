package encoding

import (
	"github.com/byzfuzz/rmo/internal/measurements"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var (
	attrCodecCbor    = attribute.String("codec", "cbor")
	attrCodecZstd    = attribute.String("codec", "zstd")
	attrActionEncode = attribute.String("action", "encode")
	attrActionDecode = attribute.String("action", "decode")
	attrValueType    = attribute.Key("type")

	meter = otel.Meter("rmo/internal/encoding")

	metrics = struct {
		encodingTime         metric.Float64Histogram
		zstdCompressionRatio metric.Float64Histogram
		oversized            metric.Int64Counter
	}{
		encodingTime: measurements.Must(meter.Float64Histogram(
			"rmo_internal_encoding_time",
			metric.WithDescription("The time spent on encoding/decoding in seconds."),
			metric.WithUnit("s"),
			metric.WithExplicitBucketBoundaries(0.001, 0.003, 0.005, 0.01, 0.03, 0.05, 0.1, 0.3, 0.5, 1.0, 2.0, 5.0, 10.0),
		)),
		zstdCompressionRatio: measurements.Must(meter.Float64Histogram(
			"rmo_internal_encoding_zstd_compression_ratio",
			metric.WithDescription("The ratio of compressed to uncompressed data size for zstd encoding."),
			metric.WithExplicitBucketBoundaries(0.0, 0.1, 0.2, 0.5, 1.0, 2.0, 3.0, 4.0, 5.0, 10.0),
		)),
		oversized: measurements.Must(meter.Int64Counter(
			"rmo_internal_encoding_zstd_oversized",
			metric.WithDescription("The number of values refused for exceeding the maximum decompressed size."),
		)),
	}
)

func attrSuccessFromErr(err error) attribute.KeyValue {
	return attribute.Bool("success", err == nil)
}
