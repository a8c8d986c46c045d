package checker

import (
	"bytes"
	"fmt"

	"github.com/byzfuzz/rmo/codec"
	"github.com/byzfuzz/rmo/model"
	"github.com/minio/sha256-simd"
)

// Check is a stateful property evaluated on every delivered message. Checks
// are driven by a single goroutine and need not be safe for concurrent use.
type Check interface {
	Name() string
	Check(o *Observation) []Violation
	// Reset clears the state accumulated during a run.
	Reset()
}

var (
	_ Check = (*TimeoutCheck)(nil)
	_ Check = (*InsufficientSupportCheck)(nil)
	_ Check = (*IntegrityCheck)(nil)
	_ Check = (*AgreementCheck)(nil)
	_ Check = (*DoubleSpendCheck)(nil)
)

// TimeoutCheck flags a run once it has delivered more than a fixed number of
// messages.
type TimeoutCheck struct {
	ceiling uint64
	count   uint64
}

func NewTimeoutCheck(ceiling uint64) *TimeoutCheck {
	return &TimeoutCheck{ceiling: ceiling}
}

func (*TimeoutCheck) Name() string { return "timeout" }

func (c *TimeoutCheck) Check(*Observation) []Violation {
	c.count++
	if c.count != c.ceiling+1 {
		return nil
	}
	return []Violation{{
		Kind:   Timeout,
		Seq:    uint32(min(c.count, uint64(^uint32(0)))),
		Node:   NoNode,
		Detail: fmt.Sprintf("more than %d messages delivered", c.ceiling),
	}}
}

func (c *TimeoutCheck) Reset() { c.count = 0 }

// InsufficientSupportCheck detects a quorum split after a fork: every member
// of the majority group validated one ledger while every member of the
// minority group validated another for the same sequence.
type InsufficientSupportCheck struct {
	validators *model.ValidatorSet
	majority   []model.NodeIndex
	minority   []model.NodeIndex
	excluded   map[model.NodeIndex]bool

	seen    map[uint32][]*codec.Hash256
	flagged map[uint32]bool
}

// NewInsufficientSupportCheck returns a check over the given groups.
// Validations signed by an excluded validator are recorded but never trigger
// an evaluation.
func NewInsufficientSupportCheck(vs *model.ValidatorSet, majority, minority, excluded []model.NodeIndex) (*InsufficientSupportCheck, error) {
	if len(majority) == 0 || len(minority) == 0 {
		return nil, fmt.Errorf("support groups must not be empty")
	}
	member := make(map[model.NodeIndex]bool)
	for _, i := range append(append([]model.NodeIndex(nil), majority...), minority...) {
		if _, ok := vs.Get(i); !ok {
			return nil, fmt.Errorf("support group member %d is not a validator", i)
		}
		if member[i] {
			return nil, fmt.Errorf("validator %d appears in more than one support group position", i)
		}
		member[i] = true
	}
	c := &InsufficientSupportCheck{
		validators: vs,
		majority:   majority,
		minority:   minority,
		excluded:   make(map[model.NodeIndex]bool, len(excluded)),
	}
	for _, i := range excluded {
		c.excluded[i] = true
	}
	c.Reset()
	return c, nil
}

func (*InsufficientSupportCheck) Name() string { return "insufficient-support" }

func (c *InsufficientSupportCheck) Check(o *Observation) []Violation {
	parsed, ok := o.Validation()
	if !ok {
		return nil
	}
	signer, ok := o.Signer()
	// Only validations sent by their signer count. Relayed or spoofed ones are
	// ignored.
	if !ok || signer != o.From {
		return nil
	}
	seq := parsed.LedgerSequence
	hashes, ok := c.seen[seq]
	if !ok {
		hashes = make([]*codec.Hash256, c.validators.Len())
		c.seen[seq] = hashes
	}
	if hashes[signer] != nil {
		return nil
	}
	h := parsed.LedgerHash
	hashes[signer] = &h
	if c.excluded[signer] || c.flagged[seq] {
		return nil
	}
	majority, ok := agreed(hashes, c.majority)
	if !ok {
		return nil
	}
	minority, ok := agreed(hashes, c.minority)
	if !ok || majority == minority {
		return nil
	}
	c.flagged[seq] = true
	return []Violation{{
		Kind:   Liveness,
		Seq:    seq,
		Node:   NoNode,
		Detail: fmt.Sprintf("majority %v validated %s while minority %v validated %s", c.majority, majority, c.minority, minority),
	}}
}

// agreed returns the hash every member of group recorded, if they all
// recorded the same one.
func agreed(hashes []*codec.Hash256, group []model.NodeIndex) (codec.Hash256, bool) {
	var first *codec.Hash256
	for _, i := range group {
		h := hashes[i]
		switch {
		case h == nil:
			return codec.Hash256{}, false
		case first == nil:
			first = h
		case *h != *first:
			return codec.Hash256{}, false
		}
	}
	return *first, true
}

func (c *InsufficientSupportCheck) Reset() {
	c.seen = make(map[uint32][]*codec.Hash256)
	c.flagged = make(map[uint32]bool)
}

type nodeSeq struct {
	node model.NodeIndex
	seq  uint32
}

// IntegrityCheck detects a node contradicting itself: accepting (I1) or
// validating (I2) two different ledgers for the same sequence.
type IntegrityCheck struct {
	accepted  map[nodeSeq][]byte
	validated map[nodeSeq]codec.Hash256
	flagged   map[Kind]map[nodeSeq]bool
}

func NewIntegrityCheck() *IntegrityCheck {
	c := &IntegrityCheck{}
	c.Reset()
	return c
}

func (*IntegrityCheck) Name() string { return "integrity" }

func (c *IntegrityCheck) Check(o *Observation) []Violation {
	if sc, ok := o.Accepted(); ok {
		key := nodeSeq{node: o.From, seq: sc.LedgerSeq}
		previous, seen := c.accepted[key]
		switch {
		case !seen:
			c.accepted[key] = append([]byte(nil), sc.LedgerHash...)
		case !bytes.Equal(previous, sc.LedgerHash) && c.flag(Integrity1, key):
			return []Violation{{
				Kind:   Integrity1,
				Seq:    sc.LedgerSeq,
				Node:   o.From,
				Detail: fmt.Sprintf("accepted %X after %X", sc.LedgerHash, previous),
			}}
		}
		return nil
	}
	parsed, ok := o.Validation()
	if !ok {
		return nil
	}
	signer, ok := o.Signer()
	if !ok {
		return nil
	}
	key := nodeSeq{node: signer, seq: parsed.LedgerSequence}
	previous, seen := c.validated[key]
	switch {
	case !seen:
		c.validated[key] = parsed.LedgerHash
	case previous != parsed.LedgerHash && c.flag(Integrity2, key):
		return []Violation{{
			Kind:   Integrity2,
			Seq:    parsed.LedgerSequence,
			Node:   signer,
			Detail: fmt.Sprintf("validated %s after %s", parsed.LedgerHash, previous),
		}}
	}
	return nil
}

// flag marks key as reported for kind and reports whether it was new.
func (c *IntegrityCheck) flag(kind Kind, key nodeSeq) bool {
	if c.flagged[kind][key] {
		return false
	}
	c.flagged[kind][key] = true
	return true
}

func (c *IntegrityCheck) Reset() {
	c.accepted = make(map[nodeSeq][]byte)
	c.validated = make(map[nodeSeq]codec.Hash256)
	c.flagged = map[Kind]map[nodeSeq]bool{
		Integrity1: make(map[nodeSeq]bool),
		Integrity2: make(map[nodeSeq]bool),
	}
}

type firstSeen struct {
	node model.NodeIndex
	hash string
}

// AgreementCheck detects nodes disagreeing with each other: validating (A1)
// or accepting (A2) different ledgers for the same sequence.
type AgreementCheck struct {
	validated map[uint32]firstSeen
	accepted  map[uint32]firstSeen
	flagged   map[Kind]map[uint32]bool
}

func NewAgreementCheck() *AgreementCheck {
	c := &AgreementCheck{}
	c.Reset()
	return c
}

func (*AgreementCheck) Name() string { return "agreement" }

func (c *AgreementCheck) Check(o *Observation) []Violation {
	if sc, ok := o.Accepted(); ok {
		return c.compare(Agreement2, c.accepted, sc.LedgerSeq, o.From, fmt.Sprintf("%X", sc.LedgerHash))
	}
	parsed, ok := o.Validation()
	if !ok {
		return nil
	}
	signer, ok := o.Signer()
	if !ok {
		return nil
	}
	return c.compare(Agreement1, c.validated, parsed.LedgerSequence, signer, parsed.LedgerHash.String())
}

func (c *AgreementCheck) compare(kind Kind, group map[uint32]firstSeen, seq uint32, node model.NodeIndex, hash string) []Violation {
	first, seen := group[seq]
	if !seen {
		group[seq] = firstSeen{node: node, hash: hash}
		return nil
	}
	if first.hash == hash || c.flagged[kind][seq] {
		return nil
	}
	c.flagged[kind][seq] = true
	return []Violation{{
		Kind:   kind,
		Seq:    seq,
		Node:   node,
		Detail: fmt.Sprintf("%s disagrees with %s from node %d", hash, first.hash, first.node),
	}}
}

func (c *AgreementCheck) Reset() {
	c.validated = make(map[uint32]firstSeen)
	c.accepted = make(map[uint32]firstSeen)
	c.flagged = map[Kind]map[uint32]bool{
		Agreement1: make(map[uint32]bool),
		Agreement2: make(map[uint32]bool),
	}
}

type accountSeq struct {
	account codec.AccountID
	seq     uint32
}

// DoubleSpendCheck detects two different committed transactions that spend
// the same account sequence.
type DoubleSpendCheck struct {
	committed map[accountSeq][sha256.Size]byte
	flagged   map[accountSeq]bool
}

func NewDoubleSpendCheck() *DoubleSpendCheck {
	c := &DoubleSpendCheck{}
	c.Reset()
	return c
}

func (*DoubleSpendCheck) Name() string { return "double-spend" }

func (c *DoubleSpendCheck) Check(o *Observation) []Violation {
	tx, ok := o.Transaction()
	if !ok {
		return nil
	}
	account, ok := tx.AccountID("Account")
	if !ok {
		return nil
	}
	seq, ok := tx.UInt32("Sequence")
	if !ok {
		return nil
	}
	digest, err := txDigest(tx)
	if err != nil {
		return nil
	}
	key := accountSeq{account: account, seq: seq}
	previous, seen := c.committed[key]
	switch {
	case !seen:
		c.committed[key] = digest
	case previous != digest && !c.flagged[key]:
		c.flagged[key] = true
		return []Violation{{
			Kind:   DoubleSpend,
			Seq:    seq,
			Node:   o.From,
			Detail: fmt.Sprintf("account %s committed two transactions with sequence %d", account, seq),
		}}
	}
	return nil
}

// txDigest hashes the canonical encoding of a transaction without its
// signature, so that resigned copies of one transaction compare equal.
func txDigest(tx *codec.Object) ([sha256.Size]byte, error) {
	unsigned := codec.NewObject()
	for _, f := range tx.Fields() {
		if f.Name != "TxnSignature" {
			unsigned.Set(f)
		}
	}
	encoded, err := codec.Encode(unsigned)
	if err != nil {
		return [sha256.Size]byte{}, err
	}
	return sha256.Sum256(encoded), nil
}

func (c *DoubleSpendCheck) Reset() {
	c.committed = make(map[accountSeq][sha256.Size]byte)
	c.flagged = make(map[accountSeq]bool)
}
