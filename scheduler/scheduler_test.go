package scheduler

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/byzfuzz/rmo/checker"
	"github.com/byzfuzz/rmo/codec"
	"github.com/byzfuzz/rmo/internal/clock"
	"github.com/byzfuzz/rmo/model"
	"github.com/byzfuzz/rmo/validation"
	"github.com/byzfuzz/rmo/wire"
	"github.com/stretchr/testify/require"
)

const validators = 4

type fixture struct {
	keys   [][]byte
	vs     *model.ValidatorSet
	states *model.NodeStates
	suite  *checker.Suite
	s      *Scheduler
	clk    *clock.Mock

	stop func() error
}

func newFixture(t *testing.T, suiteOpts []checker.Option, o ...Option) *fixture {
	t.Helper()
	f := &fixture{clk: clock.NewMock()}
	f.keys = make([][]byte, validators)
	vals := make([]model.Validator, validators)
	for i := range f.keys {
		key := make([]byte, 33)
		key[0] = 0x02
		key[1] = 0x5C
		key[32] = byte(i + 1)
		f.keys[i] = key
		vals[i] = model.Validator{
			Index:     model.NodeIndex(i),
			PublicKey: codec.EncodeNodePublic(key),
			PeerAddr:  fmt.Sprintf("127.0.0.1:%d", 51235+i),
		}
	}
	var err error
	f.vs, err = model.NewValidatorSet(vals)
	require.NoError(t, err)
	f.states = model.NewNodeStates(f.clk, f.vs)
	f.suite, err = checker.NewSuite(f.vs, suiteOpts...)
	require.NoError(t, err)
	f.s, err = New(f.vs, f.states, f.suite, append([]Option{WithClock(f.clk)}, o...)...)
	require.NoError(t, err)
	return f
}

func (f *fixture) start(t *testing.T) {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	errs := make(chan error, 1)
	go func() { errs <- f.s.Run(ctx) }()
	require.Eventually(t, f.s.running.Load, time.Second, time.Millisecond)
	var once sync.Once
	var stopErr error
	f.stop = func() error {
		once.Do(func() {
			cancel()
			select {
			case stopErr = <-errs:
			case <-time.After(5 * time.Second):
				stopErr = errors.New("scheduler did not stop")
			}
		})
		return stopErr
	}
	t.Cleanup(func() { _ = f.stop() })
}

// genome returns a genome with the given genes set and every other gene zero.
func (f *fixture) genome(t *testing.T, genes map[[3]int]float64) model.Genome {
	g := make(model.Genome, model.GenomeLength(validators))
	for k, v := range genes {
		i, err := model.GenomeIndex(validators, model.NodeIndex(k[0]), model.NodeIndex(k[1]), model.ConsensusMessageType(k[2]))
		require.NoError(t, err)
		g[i] = v
	}
	return g
}

func (f *fixture) install(t *testing.T, genes map[[3]int]float64) {
	schedule, err := f.s.Decode(f.genome(t, genes))
	require.NoError(t, err)
	require.NoError(t, f.s.Install(schedule))
}

func (f *fixture) submit(t *testing.T, from, to int, msg wire.Message) *model.Event {
	e := &model.Event{From: model.NodeIndex(from), To: model.NodeIndex(to), Message: msg}
	require.NoError(t, f.s.Submit(context.Background(), e))
	return e
}

func (f *fixture) validation(t *testing.T, signer int, seq uint32, hash byte) *wire.Validation {
	blob, err := (&validation.Parsed{
		LedgerSequence: seq,
		LedgerHash:     codec.Hash256{hash},
		SigningPubKey:  f.keys[signer],
		Flags:          validation.FlagFullValidation,
	}).Encode()
	require.NoError(t, err)
	return &wire.Validation{Blob: blob}
}

func receive(t *testing.T, ch <-chan *model.Event) *model.Event {
	t.Helper()
	select {
	case e := <-ch:
		return e
	case <-time.After(time.Second):
		require.FailNow(t, "no event delivered")
		return nil
	}
}

func requireEmpty(t *testing.T, ch <-chan *model.Event) {
	t.Helper()
	require.Never(t, func() bool { return len(ch) > 0 }, 20*time.Millisecond, time.Millisecond)
}

var (
	propose = int(model.ProposeSet)
	status  = int(model.StatusChange)
	valid   = int(model.Validation)
)

func TestPassthroughIgnoresSchedule(t *testing.T) {
	f := newFixture(t, nil)
	f.install(t, map[[3]int]float64{{0, 1, propose}: 1000})
	f.start(t)

	require.Equal(t, Passthrough, f.s.State())
	sent := f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 1})
	require.Same(t, sent, receive(t, f.s.Outbox(0, 1)))
	require.Zero(t, f.s.Applied())
}

func TestStalledLinkDoesNotBlockOthers(t *testing.T) {
	f := newFixture(t, nil, WithOutboxSize(1))
	f.start(t)

	first := f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 1})
	second := f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 2})
	require.Eventually(t, func() bool { return f.s.Backlog(0, 1) == 1 }, time.Second, time.Millisecond)

	other := f.submit(t, 2, 3, &wire.ProposeSet{ProposeSeq: 3})
	require.Same(t, other, receive(t, f.s.Outbox(2, 3)))
	_, _, _, err := f.s.GraphStats(context.Background())
	require.NoError(t, err)

	// The stalled link resumes in order once its reader comes back.
	require.Same(t, first, receive(t, f.s.Outbox(0, 1)))
	require.Same(t, second, receive(t, f.s.Outbox(0, 1)))
	require.Zero(t, f.s.Backlog(0, 1))
	require.NoError(t, f.stop())
}

func TestDrainReportsUnreadLinks(t *testing.T) {
	f := newFixture(t, nil, WithOutboxSize(1), WithDrainTimeout(50*time.Millisecond))
	f.start(t)

	f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 1})
	f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 2})
	require.Eventually(t, func() bool { return f.s.Backlog(0, 1) == 1 }, time.Second, time.Millisecond)

	stopped := make(chan error, 1)
	go func() { stopped <- f.stop() }()
	require.Eventually(t, func() bool { return f.s.State() == Draining }, time.Second, time.Millisecond)
	f.clk.Add(50 * time.Millisecond)
	err := <-stopped
	require.ErrorContains(t, err, "1 events undelivered")
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDelayPolicy(t *testing.T) {
	t.Run("zero delay is immediate", func(t *testing.T) {
		f := newFixture(t, nil)
		f.install(t, map[[3]int]float64{{1, 0, propose}: 1000})
		f.s.MarkStable()
		f.start(t)

		sent := f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 1})
		require.Same(t, sent, receive(t, f.s.Outbox(0, 1)))
	})
	t.Run("non-consensus messages bypass delay", func(t *testing.T) {
		f := newFixture(t, nil)
		genes := make(map[[3]int]float64)
		for kind := 0; kind < model.NumConsensusMessageTypes; kind++ {
			genes[[3]int{0, 1, kind}] = 1000
		}
		f.install(t, genes)
		f.s.MarkStable()
		f.start(t)

		sent := f.submit(t, 0, 1, &wire.Ping{Kind: wire.PingKind(0), Seq: 3})
		require.Same(t, sent, receive(t, f.s.Outbox(0, 1)))
	})
	t.Run("not delivered before its delay", func(t *testing.T) {
		f := newFixture(t, nil)
		f.install(t, map[[3]int]float64{{0, 1, propose}: 50})
		f.s.MarkStable()
		f.start(t)
		outbox := f.s.Outbox(0, 1)

		sent := f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 1})
		require.Eventually(t, func() bool { return f.s.Applied() == 50*time.Millisecond }, time.Second, time.Millisecond)
		f.clk.Add(49 * time.Millisecond)
		requireEmpty(t, outbox)
		f.clk.Add(time.Millisecond)
		require.Same(t, sent, receive(t, outbox))
	})
	t.Run("concurrent delays complete out of order", func(t *testing.T) {
		f := newFixture(t, nil)
		f.install(t, map[[3]int]float64{
			{0, 1, propose}: 30,
			{0, 1, status}:  10,
		})
		f.s.MarkStable()
		f.start(t)
		outbox := f.s.Outbox(0, 1)

		first := f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 1})
		second := f.submit(t, 0, 1, &wire.StatusChange{NewEvent: wire.EventClosingLedger, LedgerSeq: 2})
		require.Eventually(t, func() bool { return f.s.Applied() == 40*time.Millisecond }, time.Second, time.Millisecond)

		f.clk.Add(10 * time.Millisecond)
		require.Same(t, second, receive(t, outbox))
		requireEmpty(t, outbox)
		f.clk.Add(20 * time.Millisecond)
		require.Same(t, first, receive(t, outbox))
		require.Less(t, first.ID, second.ID)
	})
	t.Run("overflow delivers immediately", func(t *testing.T) {
		f := newFixture(t, nil, WithMaxInFlightDelays(1))
		f.install(t, map[[3]int]float64{{0, 1, propose}: 100})
		f.s.MarkStable()
		f.start(t)
		outbox := f.s.Outbox(0, 1)

		delayed := f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 1})
		require.Eventually(t, func() bool { return f.s.Applied() == 100*time.Millisecond }, time.Second, time.Millisecond)
		overflowed := f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 2})
		require.Same(t, overflowed, receive(t, outbox))

		f.clk.Add(100 * time.Millisecond)
		require.Same(t, delayed, receive(t, outbox))
		require.Equal(t, 100*time.Millisecond, f.s.Applied())
	})
	t.Run("shutdown waits for delayed events", func(t *testing.T) {
		f := newFixture(t, nil)
		f.install(t, map[[3]int]float64{{0, 1, propose}: 20})
		f.s.MarkStable()
		f.start(t)
		outbox := f.s.Outbox(0, 1)

		sent := f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 1})
		require.Eventually(t, func() bool { return f.s.Applied() > 0 }, time.Second, time.Millisecond)
		stopped := make(chan error, 1)
		go func() { stopped <- f.stop() }()
		require.Eventually(t, func() bool { return f.s.State() == Draining }, time.Second, time.Millisecond)
		f.clk.Add(20 * time.Millisecond)
		require.Same(t, sent, receive(t, outbox))
		require.NoError(t, <-stopped)
		require.Equal(t, Stopped, f.s.State())
	})
}

func TestPriorityPolicy(t *testing.T) {
	stalled := RateConfig{TargetDepth: 1, Initial: 1, Factor: 2, Min: 1, Max: 1}

	t.Run("higher priority first", func(t *testing.T) {
		f := newFixture(t, nil, WithPolicy(PriorityPolicyKind), WithRateConfig(RateConfig{
			TargetDepth: 1, Initial: 1000, Factor: 2, Min: 1, Max: 1000,
		}))
		f.install(t, map[[3]int]float64{
			{0, 1, propose}: 1,
			{0, 1, status}:  2,
		})
		f.s.MarkStable()
		policy := f.s.Policy().(*PriorityPolicy)

		// Both are queued before the controller is allowed to tick.
		low := f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 1})
		high := f.submit(t, 0, 1, &wire.StatusChange{NewEvent: wire.EventClosingLedger, LedgerSeq: 2})
		f.start(t)
		require.Eventually(t, func() bool { return policy.Len() == 2 }, time.Second, time.Millisecond)

		outbox := f.s.Outbox(0, 1)
		var got []*model.Event
		require.Eventually(t, func() bool {
			f.clk.Add(time.Millisecond)
			select {
			case e := <-outbox:
				got = append(got, e)
			default:
			}
			return len(got) == 2
		}, 2*time.Second, time.Millisecond)
		require.Equal(t, []*model.Event{high, low}, got)
		require.Zero(t, policy.Len())
	})
	t.Run("drain empties queue in priority order", func(t *testing.T) {
		f := newFixture(t, nil, WithPolicy(PriorityPolicyKind), WithRateConfig(stalled))
		f.install(t, map[[3]int]float64{
			{0, 1, propose}: 1,
			{0, 1, status}:  3,
			{0, 1, valid}:   2,
		})
		f.s.MarkStable()
		f.start(t)
		policy := f.s.Policy().(*PriorityPolicy)

		a := f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 1})
		b := f.submit(t, 0, 1, &wire.StatusChange{NewEvent: wire.EventClosingLedger, LedgerSeq: 2})
		c := f.submit(t, 0, 1, &wire.Validation{Blob: []byte{0x01}})
		d := f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 2})
		require.Eventually(t, func() bool { return policy.Len() == 4 }, time.Second, time.Millisecond)

		require.NoError(t, f.stop())
		require.Equal(t, Stopped, f.s.State())
		outbox := f.s.Outbox(0, 1)
		for _, want := range []*model.Event{b, c, a, d} {
			require.Same(t, want, receive(t, outbox))
		}
		require.ErrorIs(t, f.s.Submit(context.Background(), &model.Event{From: 0, To: 1, Message: &wire.Ping{}}), ErrStopped)
	})
	t.Run("schedule type must match", func(t *testing.T) {
		f := newFixture(t, nil, WithPolicy(PriorityPolicyKind))
		dm, err := model.NewDelayMap(validators, f.genome(t, nil))
		require.NoError(t, err)
		require.ErrorIs(t, f.s.Install(dm), ErrScheduleMismatch)

		pm, err := model.NewPriorityMap(validators+1, make(model.Genome, model.GenomeLength(validators+1)))
		require.NoError(t, err)
		require.ErrorIs(t, f.s.Install(pm), ErrScheduleMismatch)
	})
}

func TestStableOnFirstValidatedLedger(t *testing.T) {
	f := newFixture(t, nil)
	f.start(t)
	require.Equal(t, Passthrough, f.s.State())
	for signer := 0; signer < validators; signer++ {
		f.submit(t, signer, (signer+1)%validators, f.validation(t, signer, 3, 0xAB))
	}
	require.Eventually(t, func() bool { return f.s.State() == Scheduling }, time.Second, time.Millisecond)
	require.Equal(t, uint32(3), f.states.Validated().Seq)
}

func TestSubmitAndReset(t *testing.T) {
	f := newFixture(t, nil)
	require.ErrorIs(t, f.s.Submit(context.Background(), &model.Event{From: 1, To: 1, Message: &wire.Ping{}}), ErrUnknownNode)
	require.ErrorIs(t, f.s.Submit(context.Background(), &model.Event{From: 0, To: validators, Message: &wire.Ping{}}), ErrUnknownNode)
	require.Nil(t, f.s.Outbox(2, 2))

	f.start(t)
	ctx := context.Background()
	first := f.submit(t, 0, 1, &wire.ProposeSet{ProposeSeq: 1})
	receive(t, f.s.Outbox(0, 1))
	second := f.submit(t, 1, 2, &wire.ProposeSet{ProposeSeq: 1})
	receive(t, f.s.Outbox(1, 2))
	require.Equal(t, first.ID+1, second.ID)
	require.False(t, second.ArrivedAt.IsZero())

	nodes, edges, acyclic, err := f.s.GraphStats(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, nodes)
	require.Equal(t, 1, edges)
	require.True(t, acyclic)

	g, err := f.s.Graph(ctx)
	require.NoError(t, err)
	require.Equal(t, 2, g.Len())

	require.NoError(t, f.s.Reset(ctx))
	nodes, _, _, err = f.s.GraphStats(ctx)
	require.NoError(t, err)
	require.Zero(t, nodes)

	require.ErrorIs(t, f.s.Run(ctx), ErrAlreadyRunning)
}

func TestRateController(t *testing.T) {
	rc, err := NewRateController(RateConfig{TargetDepth: 10, Initial: 100, Factor: 2, Min: 25, Max: 400})
	require.NoError(t, err)
	require.Equal(t, 10*time.Millisecond, rc.Interval())

	for _, step := range []struct {
		depth int
		want  float64
	}{
		{depth: 10, want: 100},
		{depth: 15, want: 100},
		{depth: 16, want: 200},
		{depth: 40, want: 400},
		{depth: 40, want: 400},
		{depth: 5, want: 400},
		{depth: 4, want: 200},
		{depth: 0, want: 100},
		{depth: 0, want: 50},
		{depth: 0, want: 25},
		{depth: 0, want: 25},
	} {
		require.Equal(t, step.want, rc.Adjust(step.depth), "depth %d", step.depth)
	}
	rc.Reset()
	require.Equal(t, 100.0, rc.Rate())

	for _, bad := range []RateConfig{
		{TargetDepth: 0, Initial: 1, Factor: 2, Min: 1, Max: 1},
		{TargetDepth: 1, Initial: 1, Factor: 1, Min: 1, Max: 1},
		{TargetDepth: 1, Initial: 1, Factor: 2, Min: 0, Max: 1},
		{TargetDepth: 1, Initial: 1, Factor: 2, Min: 2, Max: 1},
		{TargetDepth: 1, Initial: 5, Factor: 2, Min: 1, Max: 2},
	} {
		_, err := NewRateController(bad)
		require.Error(t, err, "%+v", bad)
	}
}

func TestEventQueue(t *testing.T) {
	q := newEventQueue()
	event := func(id uint64) *model.Event { return &model.Event{ID: id} }
	q.Insert(&queuedEvent{event: event(4), priority: 1})
	q.Insert(&queuedEvent{event: event(3), priority: 2})
	q.Insert(&queuedEvent{event: event(1), priority: 1})
	q.Insert(&queuedEvent{event: event(2), priority: 2})
	q.Insert(&queuedEvent{event: event(5), priority: -1})

	var got []uint64
	for item := q.Remove(); item != nil; item = q.Remove() {
		got = append(got, item.event.ID)
	}
	require.Equal(t, []uint64{2, 3, 1, 4, 5}, got)
	require.Nil(t, q.Remove())
}

func TestKindsText(t *testing.T) {
	for _, k := range []PolicyKind{DelayPolicyKind, PriorityPolicyKind} {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var got PolicyKind
		require.NoError(t, got.UnmarshalText(text))
		require.Equal(t, k, got)
	}
	for k := FailedRoundsFitness; k <= CompositeFitness; k++ {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var got FitnessKind
		require.NoError(t, got.UnmarshalText(text))
		require.Equal(t, k, got)
	}
	_, err := ParsePolicyKind("fifo")
	require.Error(t, err)
	_, err = ParseFitnessKind("speed")
	require.Error(t, err)
}
