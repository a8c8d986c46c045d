package rmo

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/byzfuzz/rmo/checker"
	"github.com/byzfuzz/rmo/codec"
	"github.com/byzfuzz/rmo/model"
	"github.com/byzfuzz/rmo/proxy"
	"github.com/byzfuzz/rmo/scheduler"
	"github.com/byzfuzz/rmo/validation"
	"github.com/byzfuzz/rmo/wire"
	"github.com/ipfs/go-datastore"
	ds_sync "github.com/ipfs/go-datastore/sync"
	"github.com/stretchr/testify/require"
)

const validators = 4

func testConfig(t *testing.T) (Config, [][]byte) {
	cfg := DefaultConfig()
	keys := make([][]byte, validators)
	for i := range keys {
		key := make([]byte, 33)
		key[0] = 0x03
		key[1] = 0x7A
		key[32] = byte(i + 1)
		keys[i] = key
		cfg.Validators = append(cfg.Validators, model.Validator{
			Index:     model.NodeIndex(i),
			PublicKey: codec.EncodeNodePublic(key),
			PeerAddr:  fmt.Sprintf("127.0.0.1:%d", 51235+i),
		})
	}
	cfg.Routes = []proxy.Route{{From: 0, To: 1, ListenAddr: "127.0.0.1:0"}}
	cfg.Fitness = scheduler.EvaluatorConfig{Kind: scheduler.CompositeFitness, TargetLedgers: 2, RunTimeout: 5 * time.Second}
	require.NoError(t, cfg.Validate())
	return cfg, keys
}

func validationMsg(t *testing.T, key []byte, seq uint32, hash byte) *wire.Validation {
	blob, err := (&validation.Parsed{
		LedgerSequence: seq,
		LedgerHash:     codec.Hash256{hash},
		SigningPubKey:  key,
		Flags:          validation.FlagFullValidation,
	}).Encode()
	require.NoError(t, err)
	return &wire.Validation{Blob: blob}
}

// newHarness returns a harness whose round trigger makes every validator
// validate the next target ledgers.
func newHarness(t *testing.T, ds datastore.Batching) *Harness {
	cfg, keys := testConfig(t)
	var h *Harness
	var next uint32
	trigger := scheduler.RoundTriggerFunc(func(ctx context.Context) error {
		for l := 0; l < cfg.Fitness.TargetLedgers; l++ {
			next++
			for signer := range keys {
				if err := h.Scheduler().Submit(ctx, &model.Event{
					From:    model.NodeIndex(signer),
					To:      model.NodeIndex((signer + 1) % validators),
					Message: validationMsg(t, keys[signer], next, byte(next)),
				}); err != nil {
					return err
				}
			}
		}
		return nil
	})
	var err error
	h, err = New(context.Background(), cfg, ds, WithRoundTrigger(trigger))
	require.NoError(t, err)
	return h
}

func TestHarness(t *testing.T) {
	ctx := context.Background()
	ds := ds_sync.MutexWrap(datastore.NewMapDatastore())
	h := newHarness(t, ds)
	genome := make(model.Genome, model.GenomeLength(validators))

	_, err := h.Evaluate(ctx, genome)
	require.ErrorIs(t, err, ErrNotRunning)
	require.ErrorIs(t, h.Stop(ctx), ErrNotRunning)

	require.NoError(t, h.Start(ctx))
	require.Error(t, h.Start(ctx))

	// The first run makes the cluster stable.
	first, err := h.Evaluate(ctx, genome)
	require.NoError(t, err)
	require.Equal(t, checker.OK, first.Outcome)
	require.Equal(t, 2, first.Ledgers)
	require.Eventually(t, func() bool { return h.Scheduler().State() == scheduler.Scheduling }, time.Second, time.Millisecond)

	requests := make(chan model.Genome)
	responses := make(chan scheduler.Fitness)
	serveCtx, cancelServe := context.WithCancel(ctx)
	served := make(chan error, 1)
	go func() { served <- h.Serve(serveCtx, requests, responses) }()

	delayed := append(model.Genome(nil), genome...)
	i, err := model.GenomeIndex(validators, 0, 1, model.Validation)
	require.NoError(t, err)
	delayed[i] = 5
	requests <- delayed
	second := <-responses
	require.Equal(t, 2, second.Ledgers)
	require.Positive(t, second.AccumulatedDelay)
	cancelServe()
	require.NoError(t, <-served)

	runs, err := h.Store().ListRuns(ctx, 0)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	require.Equal(t, uint64(1), runs[0].ID)
	require.Equal(t, uint64(0), runs[1].ID)
	require.Equal(t, "delay", runs[1].Policy)
	require.Equal(t, "composite", runs[1].FitnessKind)
	require.Equal(t, "OK", runs[1].Outcome)
	require.Equal(t, []float64(delayed), runs[0].Genome)
	require.Equal(t, second.AccumulatedDelay, runs[0].AccumulatedDelay)

	cmp, err := h.CompareRuns(ctx, 0, 1)
	require.NoError(t, err)
	require.True(t, cmp.Distance.Optimal)
	require.GreaterOrEqual(t, cmp.Distance.Distance, 0.0)
	require.GreaterOrEqual(t, cmp.Similarity, 0.0)
	require.LessOrEqual(t, cmp.Similarity, 1.0)

	self, err := h.CompareRuns(ctx, 1, 1)
	require.NoError(t, err)
	require.Zero(t, self.Distance.Distance)
	require.Equal(t, 1.0, self.Similarity)

	require.NoError(t, h.Stop(ctx))
	select {
	case <-h.Done():
	default:
		require.FailNow(t, "harness not done after stop")
	}

	// A new harness over the same datastore continues the run numbering.
	reopened := newHarness(t, ds)
	require.Equal(t, uint64(2), reopened.nextRun)
}

func TestHarnessWithoutStore(t *testing.T) {
	h := newHarness(t, nil)
	require.Nil(t, h.Store())
	_, err := h.CompareRuns(context.Background(), 0, 1)
	require.Error(t, err)
}

func TestNewRejectsBadRoutes(t *testing.T) {
	cfg, _ := testConfig(t)
	cfg.Routes = append(cfg.Routes, proxy.Route{From: 1, To: 0, ListenAddr: "127.0.0.1:0"})
	_, err := New(context.Background(), cfg, nil)
	require.Error(t, err)
}
