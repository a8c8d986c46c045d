package checker

import (
	"context"
	"fmt"
	"testing"

	"github.com/byzfuzz/rmo/codec"
	"github.com/byzfuzz/rmo/model"
	"github.com/byzfuzz/rmo/validation"
	"github.com/byzfuzz/rmo/wire"
	"github.com/stretchr/testify/require"
)

func testValidators(t *testing.T, n int) (*model.ValidatorSet, [][]byte) {
	keys := make([][]byte, n)
	validators := make([]model.Validator, n)
	for i := range keys {
		key := make([]byte, 33)
		key[0] = 0x03
		key[31] = 0xEE
		key[32] = byte(i + 1)
		keys[i] = key
		validators[i] = model.Validator{
			Index:     model.NodeIndex(i),
			PublicKey: codec.EncodeNodePublic(key),
			PeerAddr:  fmt.Sprintf("127.0.0.1:%d", 51235+i),
		}
	}
	vs, err := model.NewValidatorSet(validators)
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

func accepted(seq uint32, hash byte) *wire.StatusChange {
	return &wire.StatusChange{
		NewEvent:   wire.EventAcceptedLedger,
		LedgerSeq:  seq,
		LedgerHash: []byte{hash, 0xAA},
	}
}

func committedTx(t *testing.T, account byte, seq uint32, fee uint64, sig string) *wire.Transaction {
	raw, err := codec.Encode(codec.MustObject(
		"TransactionType", codec.UInt16(0),
		"Sequence", codec.UInt32(seq),
		"Fee", codec.Amount(fee),
		"TxnSignature", codec.Blob(sig),
		"Account", codec.AccountID{account},
	))
	require.NoError(t, err)
	return &wire.Transaction{Raw: raw, Status: wire.TxCommitted}
}

func kinds(vs []Violation) []Kind {
	var out []Kind
	for _, v := range vs {
		out = append(out, v.Kind)
	}
	return out
}

func TestInsufficientSupport(t *testing.T) {
	vs, keys := testValidators(t, 7)
	majority := []model.NodeIndex{0, 1, 2}
	minority := []model.NodeIndex{4, 5, 6}

	newCheck := func(t *testing.T) *InsufficientSupportCheck {
		c, err := NewInsufficientSupportCheck(vs, majority, minority, []model.NodeIndex{3})
		require.NoError(t, err)
		return c
	}
	observe := func(c *InsufficientSupportCheck, from, signer model.NodeIndex, seq uint32, hash byte) []Violation {
		return c.Check(NewObservation(vs, from, validationMsg(t, keys[signer], seq, hash)))
	}

	t.Run("flagged once both groups are complete", func(t *testing.T) {
		c := newCheck(t)
		for _, i := range majority {
			require.Empty(t, observe(c, i, i, 7, 0xA))
		}
		require.Empty(t, observe(c, 4, 4, 7, 0xB))
		require.Empty(t, observe(c, 5, 5, 7, 0xB))
		got := observe(c, 6, 6, 7, 0xB)
		require.Len(t, got, 1)
		require.Equal(t, Liveness, got[0].Kind)
		require.Equal(t, uint32(7), got[0].Seq)
		require.Equal(t, NoNode, got[0].Node)

		// Already flagged for this sequence.
		require.Empty(t, observe(c, 3, 3, 7, 0xC))
	})
	t.Run("relayed validations are ignored", func(t *testing.T) {
		c := newCheck(t)
		for _, i := range majority {
			require.Empty(t, observe(c, i, i, 7, 0xA))
		}
		require.Empty(t, observe(c, 4, 4, 7, 0xB))
		require.Empty(t, observe(c, 5, 5, 7, 0xB))
		// Node 6's validation relayed by node 5.
		require.Empty(t, observe(c, 5, 6, 7, 0xB))
		require.Len(t, observe(c, 6, 6, 7, 0xB), 1)
	})
	t.Run("excluded signer never triggers", func(t *testing.T) {
		c := newCheck(t)
		for _, i := range []model.NodeIndex{0, 1, 2, 4, 5} {
			hash := byte(0xA)
			if i >= 4 {
				hash = 0xB
			}
			require.Empty(t, observe(c, i, i, 9, hash))
		}
		require.Empty(t, observe(c, 3, 3, 9, 0xB))
		require.Len(t, observe(c, 6, 6, 9, 0xB), 1)
	})
	t.Run("first validation per signer wins", func(t *testing.T) {
		c := newCheck(t)
		require.Empty(t, observe(c, 0, 0, 3, 0xB))
		require.Empty(t, observe(c, 0, 0, 3, 0xA))
		require.Empty(t, observe(c, 1, 1, 3, 0xA))
		require.Empty(t, observe(c, 2, 2, 3, 0xA))
		for _, i := range minority {
			require.Empty(t, observe(c, i, i, 3, 0xB))
		}
	})
	t.Run("agreeing groups are fine", func(t *testing.T) {
		c := newCheck(t)
		for i := range keys {
			require.Empty(t, observe(c, model.NodeIndex(i), model.NodeIndex(i), 5, 0xA))
		}
	})
	t.Run("reset forgets", func(t *testing.T) {
		c := newCheck(t)
		for _, i := range majority {
			observe(c, i, i, 7, 0xA)
		}
		c.Reset()
		for _, i := range minority {
			require.Empty(t, observe(c, i, i, 7, 0xB))
		}
	})
	t.Run("invalid groups", func(t *testing.T) {
		_, err := NewInsufficientSupportCheck(vs, nil, minority, nil)
		require.Error(t, err)
		_, err = NewInsufficientSupportCheck(vs, []model.NodeIndex{0, 9}, minority, nil)
		require.Error(t, err)
		_, err = NewInsufficientSupportCheck(vs, []model.NodeIndex{0, 4}, minority, nil)
		require.Error(t, err)
	})
}

func TestTimeout(t *testing.T) {
	c := NewTimeoutCheck(3)
	o := NewObservation(nil, 0, &wire.Ping{})
	for i := 0; i < 3; i++ {
		require.Empty(t, c.Check(o))
	}
	got := c.Check(o)
	require.Len(t, got, 1)
	require.Equal(t, Timeout, got[0].Kind)
	require.Empty(t, c.Check(o))
	c.Reset()
	require.Empty(t, c.Check(o))
}

func TestIntegrity(t *testing.T) {
	vs, keys := testValidators(t, 4)
	c := NewIntegrityCheck()
	check := func(from model.NodeIndex, msg wire.Message) []Violation {
		return c.Check(NewObservation(vs, from, msg))
	}

	require.Empty(t, check(1, accepted(4, 0x1)))
	require.Empty(t, check(1, accepted(4, 0x1)))
	require.Empty(t, check(2, accepted(4, 0x2)))
	got := check(1, accepted(4, 0x2))
	require.Equal(t, []Kind{Integrity1}, kinds(got))
	require.Equal(t, model.NodeIndex(1), got[0].Node)
	require.Empty(t, check(1, accepted(4, 0x3)))

	require.Empty(t, check(0, validationMsg(t, keys[3], 4, 0x1)))
	// Attribution follows the signer, not the sender.
	got = check(2, validationMsg(t, keys[3], 4, 0x2))
	require.Equal(t, []Kind{Integrity2}, kinds(got))
	require.Equal(t, model.NodeIndex(3), got[0].Node)

	// Non-accepted status changes and undecodable blobs carry no signal.
	require.Empty(t, check(1, &wire.StatusChange{NewEvent: wire.EventClosingLedger, LedgerSeq: 4, LedgerHash: []byte{9}}))
	require.Empty(t, check(1, &wire.Validation{Blob: []byte{0xFF, 0x01}}))
}

func TestAgreement(t *testing.T) {
	vs, keys := testValidators(t, 4)
	c := NewAgreementCheck()
	check := func(from model.NodeIndex, msg wire.Message) []Violation {
		return c.Check(NewObservation(vs, from, msg))
	}

	require.Empty(t, check(0, validationMsg(t, keys[0], 10, 0x1)))
	require.Empty(t, check(1, validationMsg(t, keys[1], 10, 0x1)))
	got := check(2, validationMsg(t, keys[2], 10, 0x2))
	require.Equal(t, []Kind{Agreement1}, kinds(got))
	require.Equal(t, model.NodeIndex(2), got[0].Node)
	require.Empty(t, check(3, validationMsg(t, keys[3], 10, 0x3)))

	require.Empty(t, check(0, accepted(10, 0x1)))
	require.Equal(t, []Kind{Agreement2}, kinds(check(1, accepted(10, 0x2))))
	require.Empty(t, check(2, accepted(11, 0x2)))

	c.Reset()
	require.Empty(t, check(2, validationMsg(t, keys[2], 10, 0x2)))
}

func TestDoubleSpend(t *testing.T) {
	c := NewDoubleSpendCheck()
	check := func(msg wire.Message) []Violation {
		return c.Check(NewObservation(nil, 0, msg))
	}

	require.Empty(t, check(committedTx(t, 1, 5, 10, "sig-a")))
	// Same transaction with a different signature.
	require.Empty(t, check(committedTx(t, 1, 5, 10, "sig-b")))
	// Different account, same sequence.
	require.Empty(t, check(committedTx(t, 2, 5, 20, "sig-a")))
	// Uncommitted transactions are ignored.
	pending := committedTx(t, 1, 5, 99, "sig-c")
	pending.Status = wire.TransactionStatus(1)
	require.Empty(t, check(pending))

	got := check(committedTx(t, 1, 5, 99, "sig-c"))
	require.Equal(t, []Kind{DoubleSpend}, kinds(got))
	require.Equal(t, uint32(5), got[0].Seq)
	require.Empty(t, check(committedTx(t, 1, 5, 100, "sig-d")))

	require.Empty(t, check(&wire.Transaction{Raw: []byte{0x12}, Status: wire.TxCommitted}))
}

func TestSuite(t *testing.T) {
	ctx := context.Background()
	vs, keys := testValidators(t, 4)

	t.Run("flagged without termination", func(t *testing.T) {
		s, err := NewSuite(vs)
		require.NoError(t, err)
		ch := make(chan *Violation, 4)
		closer := s.Subscribe(ch)
		defer closer()

		require.Equal(t, OK, s.Observe(ctx, 0, validationMsg(t, keys[0], 2, 0x1)))
		require.Equal(t, Flagged, s.Observe(ctx, 1, validationMsg(t, keys[1], 2, 0x2)))
		require.Equal(t, 1, s.Count(Agreement1))
		require.Equal(t, Agreement1, (<-ch).Kind)
		require.Equal(t, Flagged, s.Outcome())

		s.Reset()
		require.Equal(t, OK, s.Outcome())
		require.Empty(t, s.Violations())
		require.Equal(t, OK, s.Observe(ctx, 1, validationMsg(t, keys[1], 2, 0x2)))
	})
	t.Run("terminating kinds", func(t *testing.T) {
		s, err := NewSuite(vs, WithTerminateOn(Integrity2))
		require.NoError(t, err)
		require.True(t, s.Terminates(Integrity2))
		require.False(t, s.Terminates(Agreement1))

		require.Equal(t, OK, s.Observe(ctx, 0, validationMsg(t, keys[0], 2, 0x1)))
		outcome := s.Observe(ctx, 0, validationMsg(t, keys[0], 2, 0x2))
		require.Equal(t, Terminate, outcome)
		require.True(t, outcome.Stops())
		require.ElementsMatch(t, []Kind{Integrity2, Agreement1}, kinds(s.Violations()))
		require.Equal(t, Terminate, s.Outcome())
	})
	t.Run("timeout", func(t *testing.T) {
		s, err := NewSuite(vs, WithMessageCeiling(2))
		require.NoError(t, err)
		require.Equal(t, OK, s.Observe(ctx, 0, &wire.Ping{}))
		require.Equal(t, OK, s.Observe(ctx, 0, &wire.Ping{}))
		require.Equal(t, TimedOut, s.Observe(ctx, 0, &wire.Ping{}))
		require.Equal(t, TimedOut, s.Outcome())
	})
	t.Run("support groups", func(t *testing.T) {
		s, err := NewSuite(vs, WithSupportGroups([]model.NodeIndex{0, 1}, []model.NodeIndex{2, 3}, nil), WithTerminateOn(Liveness))
		require.NoError(t, err)
		require.Equal(t, OK, s.Observe(ctx, 0, validationMsg(t, keys[0], 8, 0x1)))
		require.Equal(t, OK, s.Observe(ctx, 1, validationMsg(t, keys[1], 8, 0x1)))
		require.Equal(t, Flagged, s.Observe(ctx, 2, validationMsg(t, keys[2], 8, 0x2)))
		require.Equal(t, Terminate, s.Observe(ctx, 3, validationMsg(t, keys[3], 8, 0x2)))
		require.Equal(t, 1, s.Count(Liveness))
	})
	t.Run("invalid options", func(t *testing.T) {
		_, err := NewSuite(vs, WithMessageCeiling(0))
		require.Error(t, err)
		_, err = NewSuite(vs, WithSupportGroups(nil, []model.NodeIndex{1}, nil))
		require.Error(t, err)
	})
}

func TestKindText(t *testing.T) {
	for _, k := range Kinds {
		text, err := k.MarshalText()
		require.NoError(t, err)
		var got Kind
		require.NoError(t, got.UnmarshalText(text))
		require.Equal(t, k, got)
	}
	_, err := ParseKind("nonsense")
	require.Error(t, err)
}
