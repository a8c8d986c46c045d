package model

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/byzfuzz/rmo/codec"
	"github.com/byzfuzz/rmo/internal/clock"
	"github.com/byzfuzz/rmo/validation"
	"github.com/byzfuzz/rmo/wire"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

// testKeys returns n distinct compressed public keys.
func testKeys(n int) [][]byte {
	keys := make([][]byte, n)
	for i := range keys {
		key := make([]byte, 33)
		key[0] = 0x02
		key[32] = byte(i + 1)
		keys[i] = key
	}
	return keys
}

func testValidators(t *testing.T, n int) (*ValidatorSet, [][]byte) {
	keys := testKeys(n)
	validators := make([]Validator, n)
	for i, key := range keys {
		validators[i] = Validator{
			Index:     NodeIndex(i),
			PublicKey: codec.EncodeNodePublic(key),
			PeerAddr:  fmt.Sprintf("127.0.0.1:%d", 51235+i),
		}
	}
	vs, err := NewValidatorSet(validators)
	require.NoError(t, err)
	return vs, keys
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

func TestValidatorSet(t *testing.T) {
	vs, keys := testValidators(t, 7)
	require.Equal(t, 7, vs.Len())
	require.Equal(t, 6, vs.Quorum())

	i, ok := vs.IndexOf(codec.EncodeNodePublic(keys[4]))
	require.True(t, ok)
	require.Equal(t, NodeIndex(4), i)
	_, ok = vs.IndexOf("n9Unknown")
	require.False(t, ok)

	all := vs.All()
	_, err := NewValidatorSet(append(all, Validator{Index: 7, PublicKey: all[0].PublicKey}))
	require.ErrorContains(t, err, "share public key")
	_, err = NewValidatorSet([]Validator{{Index: 1, PublicKey: all[0].PublicKey}})
	require.ErrorContains(t, err, "out of range")
	_, err = NewValidatorSet([]Validator{{Index: 0, PublicKey: "garbage"}})
	require.Error(t, err)
}

func TestClassify(t *testing.T) {
	for _, ct := range ConsensusMessageTypes {
		got, ok := Classify(ct.WireType())
		require.True(t, ok)
		require.Equal(t, ct, got)
	}
	_, ok := Classify(wire.TypePing)
	require.False(t, ok)
	require.Equal(t, "HaveTransactionSet", HaveTransactionSet.String())
}

func TestGenomeIndex_IsBijective(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		n := rapid.IntRange(2, 9).Draw(t, "n")
		seen := make(map[int]bool, GenomeLength(n))
		for from := 0; from < n; from++ {
			for to := 0; to < n; to++ {
				for _, ct := range ConsensusMessageTypes {
					i, err := GenomeIndex(n, NodeIndex(from), NodeIndex(to), ct)
					if from == to {
						require.ErrorIs(t, err, ErrSelfPair)
						continue
					}
					require.NoError(t, err)
					require.GreaterOrEqual(t, i, 0)
					require.Less(t, i, GenomeLength(n))
					require.False(t, seen[i])
					seen[i] = true
				}
			}
		}
		require.Len(t, seen, GenomeLength(n))
	})
}

func TestGenomeIndex_Strides(t *testing.T) {
	// stride1 = 5·(n-1) = 30 and stride2 = 5 for seven validators.
	i, err := GenomeIndex(7, 2, 5, Validation)
	require.NoError(t, err)
	require.Equal(t, 2*30+4*5+4, i)
	i, err = GenomeIndex(7, 2, 1, ProposeSet)
	require.NoError(t, err)
	require.Equal(t, 2*30+1*5, i)
	require.Equal(t, 210, GenomeLength(7))
}

func TestDelayMap(t *testing.T) {
	genome := make(Genome, GenomeLength(3))
	i, err := GenomeIndex(3, 0, 2, StatusChange)
	require.NoError(t, err)
	genome[i] = 12.5
	j, err := GenomeIndex(3, 1, 0, Validation)
	require.NoError(t, err)
	genome[j] = -4

	dm, err := NewDelayMap(3, genome)
	require.NoError(t, err)
	require.Equal(t, 12500*time.Microsecond, dm.Delay(0, 2, StatusChange))
	require.Zero(t, dm.Delay(1, 0, Validation))
	require.Zero(t, dm.Delay(1, 1, Validation))
	require.Equal(t, 12500*time.Microsecond, dm.Total())

	_, err = NewDelayMap(3, genome[1:])
	require.ErrorIs(t, err, ErrGenomeLength)
}

func TestPriorityMap(t *testing.T) {
	genome := make(Genome, GenomeLength(2))
	for i := range genome {
		genome[i] = float64(i)
	}
	pm, err := NewPriorityMap(2, genome)
	require.NoError(t, err)
	require.Equal(t, 9.0, pm.Priority(1, 0, Validation))
	require.Equal(t, 0.0, pm.Priority(0, 1, ProposeSet))
	require.Equal(t, genome, pm.Genome())
}

func TestNodeStates_ValidationsReachQuorum(t *testing.T) {
	vs, keys := testValidators(t, 4)
	clk := clock.NewMock()
	states := NewNodeStates(clk, vs)

	sub := make(chan *ValidatedLedger, 4)
	last, closer := states.SubscribeValidated(sub)
	defer closer()
	require.Nil(t, last)

	// Quorum for four validators is four.
	for i := 0; i < 3; i++ {
		states.Observe(NodeIndex(i), validationMsg(t, keys[i], 5, 0xAA))
	}
	require.Zero(t, states.Validated().Seq)
	// A relayed validation is attributed to its signer.
	states.Observe(0, validationMsg(t, keys[3], 5, 0xAA))

	got := states.Validated()
	require.EqualValues(t, 5, got.Seq)
	require.Equal(t, codec.Hash256{0xAA}, got.Hash)
	select {
	case v := <-sub:
		require.EqualValues(t, 5, v.Seq)
	default:
		t.Fatal("validated ledger not published")
	}

	view := states.Snapshot()
	require.EqualValues(t, 6, view.Nodes[3].Round)
	require.EqualValues(t, 5, view.Nodes[3].LastValidated)
	require.Equal(t, PhaseOpen, view.Nodes[3].Phase)
}

func TestNodeStates_StatusChangesAreDeduplicated(t *testing.T) {
	vs, _ := testValidators(t, 3)
	states := NewNodeStates(clock.NewMock(), vs)
	switched := &wire.StatusChange{NewEvent: wire.EventSwitchedLedger, LedgerSeq: 9}
	for to := 0; to < 2; to++ {
		states.Observe(2, switched)
	}
	states.Observe(2, &wire.StatusChange{NewEvent: wire.EventAcceptedLedger, LedgerSeq: 10, LedgerHash: []byte{1}, NewStatus: wire.StatusValidating})

	view := states.Snapshot()
	require.Equal(t, 1, view.FailedRounds)
	require.Equal(t, 1, view.Nodes[2].FailedRounds)
	require.Equal(t, PhaseAccepted, view.Nodes[2].Phase)
	require.Equal(t, wire.StatusValidating, view.Nodes[2].ServerState)
	require.Equal(t, []byte{1}, view.Nodes[2].AcceptedLedgers[10])

	states.Reset()
	view = states.Snapshot()
	require.Zero(t, view.FailedRounds)
	require.Empty(t, view.Nodes[2].AcceptedLedgers)
	require.Equal(t, PhaseAccepted, view.Nodes[2].Phase)
}

func TestNodeStates_WaitFor(t *testing.T) {
	vs, _ := testValidators(t, 2)
	states := NewNodeStates(clock.NewMock(), vs)

	var wg sync.WaitGroup
	wg.Add(1)
	var waitErr error
	go func() {
		defer wg.Done()
		waitErr = states.WaitFor(context.Background(), PhaseChanged, func(v View) bool {
			return v.Nodes[1].Phase == PhaseEstablish
		})
	}()
	// Spurious wake-ups with the predicate still false.
	states.Observe(0, &wire.StatusChange{NewEvent: wire.EventClosingLedger, LedgerSeq: 3})
	states.Observe(1, &wire.StatusChange{NewEvent: wire.EventClosingLedger, LedgerSeq: 3})
	wg.Wait()
	require.NoError(t, waitErr)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	err := states.WaitFor(ctx, RoundChanged, func(View) bool { return false })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDependencyGraph(t *testing.T) {
	dg := NewDependencyGraph()
	ping := &wire.Ping{}
	e1 := &Event{ID: 1, From: 0, To: 1, Message: &wire.ProposeSet{}}
	e2 := &Event{ID: 2, From: 1, To: 2, Message: &wire.Validation{}}
	e3 := &Event{ID: 3, From: 1, To: 0, Message: ping}

	dg.Sent(e1)
	dg.Delivered(e1)
	dg.Sent(e2)
	dg.Sent(e3)
	dg.Sent(e3)

	require.Equal(t, 3, dg.Len())
	require.True(t, dg.HasDependency(1, 2))
	require.True(t, dg.HasDependency(1, 3))
	require.True(t, dg.HasDependency(2, 3))
	require.False(t, dg.HasDependency(2, 1))
	require.Equal(t, 3, dg.NumEdges())
	require.True(t, dg.IsAcyclic())

	labeled := dg.Labeled()
	require.Equal(t, []string{"ProposeSet", "Validation", "Ping"}, labeled.Labels())
	require.Equal(t, [][2]int{{0, 1}, {0, 2}, {1, 2}}, labeled.Edges())

	dg.Reset()
	require.Zero(t, dg.Len())
}
