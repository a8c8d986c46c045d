// Package store persists the results of fuzzing runs: a summary per run, the
// violations it raised and a snapshot of its dependency graph.
package store

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/Kubuxu/go-broadcast"
	"github.com/byzfuzz/rmo/ged"
	"github.com/byzfuzz/rmo/internal/encoding"
	"github.com/byzfuzz/rmo/internal/measurements"
	"github.com/ipfs/go-datastore"
	"github.com/ipfs/go-datastore/namespace"
	"github.com/ipfs/go-datastore/query"
	"golang.org/x/xerrors"
)

var (
	ErrRunNotFound   = errors.New("run not found")
	ErrRunExists     = errors.New("run already recorded")
	ErrGraphNotFound = errors.New("graph not found")
)

// RunStore records runs under the /rmo namespace of a datastore.
type RunStore struct {
	writeLk    sync.Mutex
	ds         datastore.Batching
	runs       *encoding.CBOR[*RunRecord]
	violations *encoding.CBOR[*ViolationRecord]
	graphs     *encoding.ZSTD[*graphRecord]
	busRuns    broadcast.Channel[*RunRecord]
}

// NewRunStore opens a store over ds, which has to be thread safe.
func NewRunStore(ctx context.Context, ds datastore.Batching) (*RunStore, error) {
	graphs, err := encoding.NewZSTD[*graphRecord](0)
	if err != nil {
		return nil, xerrors.Errorf("creating graph codec: %w", err)
	}
	rs := &RunStore{
		ds:         namespace.Wrap(measurements.NewMeteredDatastore(meter, "rmo_store_", ds), datastore.NewKey("/rmo")),
		runs:       encoding.NewCBOR[*RunRecord](),
		violations: encoding.NewCBOR[*ViolationRecord](),
		graphs:     graphs,
	}
	latest, err := rs.loadLatest(ctx)
	if err != nil {
		return nil, xerrors.Errorf("loading latest run: %w", err)
	}
	if latest != nil {
		rs.busRuns.Publish(latest)
		metrics.latestRun.Record(ctx, int64(latest.ID))
	}
	return rs, nil
}

func (rs *RunStore) loadLatest(ctx context.Context) (*RunRecord, error) {
	res, err := rs.ds.Query(ctx, query.Query{
		Prefix: "/runs",
		Orders: []query.Order{query.OrderByKeyDescending{}},
		Limit:  1,
	})
	if err != nil {
		return nil, xerrors.Errorf("querying for the latest run: %w", err)
	}
	defer res.Close()
	entry, ok := res.NextSync()
	if !ok {
		return nil, nil
	}
	if entry.Error != nil {
		return nil, entry.Error
	}
	var r RunRecord
	if err := rs.runs.Decode(entry.Value, &r); err != nil {
		return nil, xerrors.Errorf("unmarshalling latest run: %w", err)
	}
	return &r, nil
}

func runKey(id uint64) datastore.Key {
	return datastore.NewKey(fmt.Sprintf("/runs/%016X", id))
}

func violationsPrefix(run uint64) string {
	return fmt.Sprintf("/violations/%016X", run)
}

func violationKey(run uint64, i int) datastore.Key {
	return datastore.NewKey(fmt.Sprintf("%s/%08X", violationsPrefix(run), i))
}

func graphKey(run uint64) datastore.Key {
	return datastore.NewKey(fmt.Sprintf("/graphs/%016X", run))
}

// Latest returns the run with the highest ID, or nil.
func (rs *RunStore) Latest() *RunRecord {
	return rs.busRuns.Last()
}

// NextID returns the ID following the latest run.
func (rs *RunStore) NextID() uint64 {
	if latest := rs.Latest(); latest != nil {
		return latest.ID + 1
	}
	return 0
}

// PutRun records a run summary. Runs are immutable: recording an ID twice
// fails with ErrRunExists.
func (rs *RunStore) PutRun(ctx context.Context, r *RunRecord) error {
	return rs.SaveRun(ctx, r, nil, nil)
}

// SaveRun atomically records a run summary together with its violations and,
// if graph is not nil, its dependency graph.
func (rs *RunStore) SaveRun(ctx context.Context, r *RunRecord, violations []ViolationRecord, graph *ged.Graph) error {
	value, err := rs.runs.Encode(r)
	if err != nil {
		return xerrors.Errorf("marshalling run %d: %w", r.ID, err)
	}

	rs.writeLk.Lock()
	defer rs.writeLk.Unlock()

	exists, err := rs.ds.Has(ctx, runKey(r.ID))
	if err != nil {
		return xerrors.Errorf("checking existence of run %d: %w", r.ID, err)
	}
	if exists {
		return xerrors.Errorf("run %d: %w", r.ID, ErrRunExists)
	}

	batch, err := rs.ds.Batch(ctx)
	if err != nil {
		return xerrors.Errorf("starting batch: %w", err)
	}
	if err := batch.Put(ctx, runKey(r.ID), value); err != nil {
		return xerrors.Errorf("putting run %d: %w", r.ID, err)
	}
	if err := rs.putViolations(ctx, batch, r.ID, violations); err != nil {
		return err
	}
	if graph != nil {
		if err := rs.putGraph(ctx, batch, r.ID, graph); err != nil {
			return err
		}
	}
	if err := batch.Commit(ctx); err != nil {
		return xerrors.Errorf("committing run %d: %w", r.ID, err)
	}

	if latest := rs.Latest(); latest == nil || r.ID > latest.ID {
		rs.busRuns.Publish(r)
		metrics.latestRun.Record(ctx, int64(r.ID))
	}
	log.Debugw("Recorded run", "run", r.ID, "fitness", r.Fitness, "violations", len(violations))
	return nil
}

func (rs *RunStore) GetRun(ctx context.Context, id uint64) (*RunRecord, error) {
	b, err := rs.ds.Get(ctx, runKey(id))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, xerrors.Errorf("run %d: %w", id, ErrRunNotFound)
	}
	if err != nil {
		return nil, xerrors.Errorf("accessing run %d: %w", id, err)
	}
	var r RunRecord
	if err := rs.runs.Decode(b, &r); err != nil {
		return nil, xerrors.Errorf("unmarshalling run %d: %w", id, err)
	}
	return &r, nil
}

// ListRuns returns the limit most recent runs, newest first, or every run if
// limit is zero.
func (rs *RunStore) ListRuns(ctx context.Context, limit int) ([]RunRecord, error) {
	res, err := rs.ds.Query(ctx, query.Query{
		Prefix: "/runs",
		Orders: []query.Order{query.OrderByKeyDescending{}},
		Limit:  limit,
	})
	if err != nil {
		return nil, xerrors.Errorf("querying runs: %w", err)
	}
	entries, err := res.Rest()
	if err != nil {
		return nil, xerrors.Errorf("listing runs: %w", err)
	}
	runs := make([]RunRecord, len(entries))
	for i, e := range entries {
		if err := rs.runs.Decode(e.Value, &runs[i]); err != nil {
			return nil, xerrors.Errorf("unmarshalling run at %s: %w", e.Key, err)
		}
	}
	return runs, nil
}

// PutViolations appends violations to those recorded for a run.
func (rs *RunStore) PutViolations(ctx context.Context, run uint64, violations []ViolationRecord) error {
	rs.writeLk.Lock()
	defer rs.writeLk.Unlock()

	batch, err := rs.ds.Batch(ctx)
	if err != nil {
		return xerrors.Errorf("starting batch: %w", err)
	}
	if err := rs.putViolations(ctx, batch, run, violations); err != nil {
		return err
	}
	return batch.Commit(ctx)
}

func (rs *RunStore) putViolations(ctx context.Context, batch datastore.Batch, run uint64, violations []ViolationRecord) error {
	if len(violations) == 0 {
		return nil
	}
	offset, err := rs.countViolations(ctx, run)
	if err != nil {
		return err
	}
	for i := range violations {
		value, err := rs.violations.Encode(&violations[i])
		if err != nil {
			return xerrors.Errorf("marshalling violation %d of run %d: %w", offset+i, run, err)
		}
		if err := batch.Put(ctx, violationKey(run, offset+i), value); err != nil {
			return xerrors.Errorf("putting violation %d of run %d: %w", offset+i, run, err)
		}
	}
	metrics.violations.Add(ctx, int64(len(violations)))
	return nil
}

func (rs *RunStore) countViolations(ctx context.Context, run uint64) (int, error) {
	res, err := rs.ds.Query(ctx, query.Query{Prefix: violationsPrefix(run), KeysOnly: true})
	if err != nil {
		return 0, xerrors.Errorf("querying violations of run %d: %w", run, err)
	}
	entries, err := res.Rest()
	if err != nil {
		return 0, xerrors.Errorf("counting violations of run %d: %w", run, err)
	}
	return len(entries), nil
}

// Violations returns the violations recorded for a run in the order they
// were put.
func (rs *RunStore) Violations(ctx context.Context, run uint64) ([]ViolationRecord, error) {
	res, err := rs.ds.Query(ctx, query.Query{
		Prefix: violationsPrefix(run),
		Orders: []query.Order{query.OrderByKey{}},
	})
	if err != nil {
		return nil, xerrors.Errorf("querying violations of run %d: %w", run, err)
	}
	entries, err := res.Rest()
	if err != nil {
		return nil, xerrors.Errorf("listing violations of run %d: %w", run, err)
	}
	violations := make([]ViolationRecord, len(entries))
	for i, e := range entries {
		if err := rs.violations.Decode(e.Value, &violations[i]); err != nil {
			return nil, xerrors.Errorf("unmarshalling violation at %s: %w", e.Key, err)
		}
	}
	return violations, nil
}

// PutGraph records the dependency graph of a run, replacing any previous one.
func (rs *RunStore) PutGraph(ctx context.Context, run uint64, g *ged.Graph) error {
	rs.writeLk.Lock()
	defer rs.writeLk.Unlock()
	return rs.putGraph(ctx, rs.ds, run, g)
}

type putter interface {
	Put(ctx context.Context, key datastore.Key, value []byte) error
}

func (rs *RunStore) putGraph(ctx context.Context, dst putter, run uint64, g *ged.Graph) error {
	value, err := rs.graphs.Encode(&graphRecord{graph: g})
	if err != nil {
		return xerrors.Errorf("marshalling graph of run %d: %w", run, err)
	}
	if err := dst.Put(ctx, graphKey(run), value); err != nil {
		return xerrors.Errorf("putting graph of run %d: %w", run, err)
	}
	return nil
}

func (rs *RunStore) GetGraph(ctx context.Context, run uint64) (*ged.Graph, error) {
	b, err := rs.ds.Get(ctx, graphKey(run))
	if errors.Is(err, datastore.ErrNotFound) {
		return nil, xerrors.Errorf("run %d: %w", run, ErrGraphNotFound)
	}
	if err != nil {
		return nil, xerrors.Errorf("accessing graph of run %d: %w", run, err)
	}
	var g graphRecord
	if err := rs.graphs.Decode(b, &g); err != nil {
		return nil, xerrors.Errorf("unmarshalling graph of run %d: %w", run, err)
	}
	return g.graph, nil
}

// SubscribeRuns is used to subscribe to newly recorded runs with increasing
// IDs. If the passed channel is full at any point, it will be dropped from
// subscription and closed.
func (rs *RunStore) SubscribeRuns(ch chan<- *RunRecord) (last *RunRecord, closer func()) {
	return rs.busRuns.Subscribe(ch)
}

// Close closes the underlying datastore.
func (rs *RunStore) Close() error {
	return rs.ds.Close()
}
