// Package encoding provides CBOR and zstd-compressed CBOR codecs for records
// that implement the cbor-gen marshalling interfaces.
package encoding

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/klauspost/compress/zstd"
	cbg "github.com/whyrusleeping/cbor-gen"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// DefaultMaxDecompressedSize bounds the memory allocated by the zstd decoder.
// Dependency graph snapshots of long runs reach a few MiB.
const DefaultMaxDecompressedSize = 16 << 20

var ErrTooLarge = errors.New("encoded value cannot exceed maximum size")

type CBORMarshalUnmarshaler interface {
	cbg.CBORMarshaler
	cbg.CBORUnmarshaler
}

type EncodeDecoder[T CBORMarshalUnmarshaler] interface {
	Encode(v T) ([]byte, error)
	Decode([]byte, T) error
}

type CBOR[T CBORMarshalUnmarshaler] struct{}

func NewCBOR[T CBORMarshalUnmarshaler]() *CBOR[T] {
	return &CBOR[T]{}
}

func (c *CBOR[T]) Encode(m T) (_ []byte, _err error) {
	defer func(start time.Time) {
		record(start, attrCodecCbor, attrActionEncode, _err)
	}(time.Now())
	var buf bytes.Buffer
	if err := m.MarshalCBOR(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (c *CBOR[T]) Decode(v []byte, t T) (_err error) {
	defer func(start time.Time) {
		record(start, attrCodecCbor, attrActionDecode, _err)
	}(time.Now())
	return t.UnmarshalCBOR(bytes.NewReader(v))
}

type ZSTD[T CBORMarshalUnmarshaler] struct {
	cborEncoding        *CBOR[T]
	maxDecompressedSize int
	compressor          *zstd.Encoder
	decompressor        *zstd.Decoder
}

// NewZSTD returns a codec that refuses values whose CBOR encoding exceeds
// maxDecompressedSize bytes, or DefaultMaxDecompressedSize if zero.
func NewZSTD[T CBORMarshalUnmarshaler](maxDecompressedSize int) (*ZSTD[T], error) {
	if maxDecompressedSize <= 0 {
		maxDecompressedSize = DefaultMaxDecompressedSize
	}
	writer, err := zstd.NewWriter(nil)
	if err != nil {
		return nil, err
	}
	reader, err := zstd.NewReader(nil, zstd.WithDecoderMaxMemory(uint64(maxDecompressedSize)))
	if err != nil {
		return nil, err
	}
	return &ZSTD[T]{
		cborEncoding:        &CBOR[T]{},
		maxDecompressedSize: maxDecompressedSize,
		compressor:          writer,
		decompressor:        reader,
	}, nil
}

func (c *ZSTD[T]) Encode(m T) (_ []byte, _err error) {
	defer func(start time.Time) {
		record(start, attrCodecZstd, attrActionEncode, _err)
	}(time.Now())
	cborEncoded, err := c.cborEncoding.Encode(m)
	if err != nil {
		return nil, err
	}
	if len(cborEncoded) > c.maxDecompressedSize {
		// Error out early if the encoded value is too large to be decompressed.
		metrics.oversized.Add(context.Background(), 1, metric.WithAttributes(attrActionEncode, c.getMetricAttribute()))
		return nil, fmt.Errorf("%w: %d > %d", ErrTooLarge, len(cborEncoded), c.maxDecompressedSize)
	}
	compressed := c.compressor.EncodeAll(cborEncoded, make([]byte, 0, len(cborEncoded)))
	if len(cborEncoded) > 0 {
		metrics.zstdCompressionRatio.Record(context.Background(), float64(len(compressed))/float64(len(cborEncoded)),
			metric.WithAttributes(c.getMetricAttribute()))
	}
	return compressed, nil
}

func (c *ZSTD[T]) Decode(v []byte, t T) (_err error) {
	defer func(start time.Time) {
		record(start, attrCodecZstd, attrActionDecode, _err)
	}(time.Now())
	cborEncoded, err := c.decompressor.DecodeAll(v, make([]byte, 0, len(v)))
	if errors.Is(err, zstd.ErrDecoderSizeExceeded) {
		metrics.oversized.Add(context.Background(), 1, metric.WithAttributes(attrActionDecode, c.getMetricAttribute()))
		return fmt.Errorf("%w: %w", ErrTooLarge, err)
	} else if err != nil {
		return err
	}
	return c.cborEncoding.Decode(cborEncoded, t)
}

func (c *ZSTD[T]) getMetricAttribute() attribute.KeyValue {
	var zero T
	return attrValueType.String(fmt.Sprintf("%T", zero))
}

func record(start time.Time, codec, action attribute.KeyValue, err error) {
	metrics.encodingTime.Record(context.Background(), time.Since(start).Seconds(),
		metric.WithAttributes(codec, action, attrSuccessFromErr(err)))
}
