package measurements

import (
	"context"
	"time"

	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/query"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

const attrDsOperationKey = "operation"

var (
	_ datastore.Batching = (*MeteredDatastore)(nil)

	attrDsOperationGet     = attribute.String(attrDsOperationKey, "get")
	attrDsOperationHas     = attribute.String(attrDsOperationKey, "has")
	attrDsOperationGetSize = attribute.String(attrDsOperationKey, "get-size")
	attrDsOperationQuery   = attribute.String(attrDsOperationKey, "query")
	attrDsOperationPut     = attribute.String(attrDsOperationKey, "put")
	attrDsOperationDelete  = attribute.String(attrDsOperationKey, "delete")
	attrDsOperationSync    = attribute.String(attrDsOperationKey, "sync")
	attrDsOperationBatch   = attribute.String(attrDsOperationKey, "batch-commit")
	attrDsOperationClose   = attribute.String(attrDsOperationKey, "close")
)

// MeteredDatastore records latency and payload size of every operation on
// the wrapped datastore. Batches are supported whenever the delegate
// supports them; otherwise writes are applied one at a time.
type MeteredDatastore struct {
	delegate datastore.Datastore

	latency metric.Float64Histogram
	bytes   metric.Int64Histogram
}

// NewMeteredDatastore wraps the delegate, naming its instruments with the
// given prefix.
func NewMeteredDatastore(meter metric.Meter, metricsPrefix string, delegate datastore.Datastore) *MeteredDatastore {
	return &MeteredDatastore{
		delegate: delegate,
		latency: Must(meter.Float64Histogram(metricsPrefix+"latency",
			metric.WithDescription("Datastore latency by operation and status."),
			metric.WithUnit("s"))),
		bytes: Must(meter.Int64Histogram(metricsPrefix+"bytes",
			metric.WithDescription("Datastore bytes exchanged by operation and status."),
			metric.WithUnit("By"))),
	}
}

func (m *MeteredDatastore) Get(ctx context.Context, key datastore.Key) (_value []byte, _err error) {
	defer m.observe(ctx, time.Now(), attrDsOperationGet, func() (int, error) { return len(_value), _err })
	return m.delegate.Get(ctx, key)
}

func (m *MeteredDatastore) Has(ctx context.Context, key datastore.Key) (_ bool, _err error) {
	defer m.observe(ctx, time.Now(), attrDsOperationHas, func() (int, error) { return -1, _err })
	return m.delegate.Has(ctx, key)
}

func (m *MeteredDatastore) GetSize(ctx context.Context, key datastore.Key) (_size int, _err error) {
	defer m.observe(ctx, time.Now(), attrDsOperationGetSize, func() (int, error) { return _size, _err })
	return m.delegate.GetSize(ctx, key)
}

func (m *MeteredDatastore) Query(ctx context.Context, q query.Query) (_ query.Results, _err error) {
	defer m.observe(ctx, time.Now(), attrDsOperationQuery, func() (int, error) { return -1, _err })
	return m.delegate.Query(ctx, q)
}

func (m *MeteredDatastore) Put(ctx context.Context, key datastore.Key, value []byte) (_err error) {
	defer m.observe(ctx, time.Now(), attrDsOperationPut, func() (int, error) { return len(value), _err })
	return m.delegate.Put(ctx, key, value)
}

func (m *MeteredDatastore) Delete(ctx context.Context, key datastore.Key) (_err error) {
	defer m.observe(ctx, time.Now(), attrDsOperationDelete, func() (int, error) { return -1, _err })
	return m.delegate.Delete(ctx, key)
}

func (m *MeteredDatastore) Sync(ctx context.Context, prefix datastore.Key) (_err error) {
	defer m.observe(ctx, time.Now(), attrDsOperationSync, func() (int, error) { return -1, _err })
	return m.delegate.Sync(ctx, prefix)
}

func (m *MeteredDatastore) Close() (_err error) {
	defer m.observe(context.Background(), time.Now(), attrDsOperationClose, func() (int, error) { return -1, _err })
	return m.delegate.Close()
}

// Batch returns a batch of the delegate when it supports batching.
func (m *MeteredDatastore) Batch(ctx context.Context) (datastore.Batch, error) {
	if b, ok := m.delegate.(datastore.Batching); ok {
		inner, err := b.Batch(ctx)
		if err != nil {
			return nil, err
		}
		return &meteredBatch{Batch: inner, m: m}, nil
	}
	return datastore.NewBasicBatch(m), nil
}

type meteredBatch struct {
	datastore.Batch
	m     *MeteredDatastore
	bytes int
}

func (b *meteredBatch) Put(ctx context.Context, key datastore.Key, value []byte) error {
	b.bytes += len(value)
	return b.Batch.Put(ctx, key, value)
}

func (b *meteredBatch) Commit(ctx context.Context) (_err error) {
	defer b.m.observe(ctx, time.Now(), attrDsOperationBatch, func() (int, error) { return b.bytes, _err })
	return b.Batch.Commit(ctx)
}

func (m *MeteredDatastore) observe(ctx context.Context, start time.Time, operation attribute.KeyValue, result func() (int, error)) {
	bytes, err := result()
	attributes := metric.WithAttributes(operation, Status(ctx, err))
	m.latency.Record(ctx, time.Since(start).Seconds(), attributes)
	if bytes > -1 {
		m.bytes.Record(ctx, int64(bytes), attributes)
	}
}
