package model

import (
	"context"
	"sync"
	"time"

	"github.com/Kubuxu/go-broadcast"
	"github.com/byzfuzz/rmo/codec"
	"github.com/byzfuzz/rmo/internal/clock"
	"github.com/byzfuzz/rmo/validation"
	"github.com/byzfuzz/rmo/wire"
)

// Phase is a validator's position within one consensus round.
type Phase int

const (
	PhaseOpen Phase = iota
	PhaseEstablish
	PhaseAccepted
)

func (p Phase) String() string {
	switch p {
	case PhaseOpen:
		return "Open"
	case PhaseEstablish:
		return "Establish"
	case PhaseAccepted:
		return "Accepted"
	default:
		return "Unknown"
	}
}

// Condition names a class of state change that waiters can block on.
type Condition int

const (
	RoundChanged Condition = iota
	PhaseChanged
	ValidatedChanged
	ServerStateChanged

	numConditions
)

// NodeState is the consensus state of one validator as inferred from the
// messages it sends.
type NodeState struct {
	Phase         Phase
	Round         uint32
	LastValidated uint32
	ServerState   wire.NodeStatus
	FailedRounds  int
	// Validations holds the first ledger hash the node validated per sequence.
	Validations map[uint32]codec.Hash256
	// AcceptedLedgers holds the first ledger hash the node announced as
	// accepted per sequence.
	AcceptedLedgers map[uint32][]byte

	lastStatus statusKey
}

type statusKey struct {
	event wire.NodeEvent
	seq   uint32
}

func (ns NodeState) clone() NodeState {
	c := ns
	c.Validations = make(map[uint32]codec.Hash256, len(ns.Validations))
	for seq, h := range ns.Validations {
		c.Validations[seq] = h
	}
	c.AcceptedLedgers = make(map[uint32][]byte, len(ns.AcceptedLedgers))
	for seq, h := range ns.AcceptedLedgers {
		c.AcceptedLedgers[seq] = h
	}
	return c
}

// ValidatedLedger is a ledger validated by a quorum of the cluster.
type ValidatedLedger struct {
	Seq  uint32
	Hash codec.Hash256
	At   time.Time
}

// View is the state visible to a wait predicate. It is only valid for the
// duration of the call and must not be modified or retained.
type View struct {
	Nodes        []NodeState
	Validated    ValidatedLedger
	FailedRounds int
}

// NodeStates tracks the inferred consensus state of every validator. A single
// writer feeds it through Observe; any number of readers may wait for
// conditions on it.
type NodeStates struct {
	clk        clock.Clock
	validators *ValidatorSet

	mu           sync.Mutex
	conds        [numConditions]*sync.Cond
	nodes        []NodeState
	validated    ValidatedLedger
	failedRounds int

	busValidated broadcast.Channel[*ValidatedLedger]
}

// NewNodeStates returns the initial state of every validator in vs.
func NewNodeStates(clk clock.Clock, vs *ValidatorSet) *NodeStates {
	s := &NodeStates{
		clk:        clk,
		validators: vs,
		nodes:      make([]NodeState, vs.Len()),
	}
	for i := range s.conds {
		s.conds[i] = sync.NewCond(&s.mu)
	}
	for i := range s.nodes {
		s.nodes[i] = newNodeState()
	}
	return s
}

func newNodeState() NodeState {
	return NodeState{
		Validations:     make(map[uint32]codec.Hash256),
		AcceptedLedgers: make(map[uint32][]byte),
	}
}

// Observe updates the state of the sender of msg. Messages are typically
// broadcast to every peer, so repeated observations of the same transition are
// ignored.
func (s *NodeStates) Observe(from NodeIndex, msg wire.Message) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if from < 0 || int(from) >= len(s.nodes) {
		return
	}
	switch m := msg.(type) {
	case *wire.StatusChange:
		s.observeStatusChange(from, m)
	case *wire.Validation:
		s.observeValidation(m)
	case *wire.ProposeSet:
		node := &s.nodes[from]
		if m.ProposeSeq == 0 && node.Phase == PhaseOpen {
			node.Phase = PhaseEstablish
			s.conds[PhaseChanged].Broadcast()
		}
	}
}

func (s *NodeStates) observeStatusChange(from NodeIndex, m *wire.StatusChange) {
	node := &s.nodes[from]
	if m.NewStatus != 0 && m.NewStatus != node.ServerState {
		node.ServerState = m.NewStatus
		s.conds[ServerStateChanged].Broadcast()
	}
	key := statusKey{event: m.NewEvent, seq: m.LedgerSeq}
	if m.NewEvent == 0 || key == node.lastStatus {
		return
	}
	node.lastStatus = key
	phase := node.Phase
	switch m.NewEvent {
	case wire.EventClosingLedger:
		phase = PhaseEstablish
	case wire.EventAcceptedLedger:
		phase = PhaseAccepted
		if _, seen := node.AcceptedLedgers[m.LedgerSeq]; !seen {
			node.AcceptedLedgers[m.LedgerSeq] = append([]byte(nil), m.LedgerHash...)
		}
	case wire.EventSwitchedLedger, wire.EventLostSync:
		phase = PhaseOpen
		node.FailedRounds++
		s.failedRounds++
	}
	if phase != node.Phase {
		node.Phase = phase
		s.conds[PhaseChanged].Broadcast()
	}
}

// observeValidation attributes a validation to its signer, which differs from
// the sender when validations are relayed.
func (s *NodeStates) observeValidation(m *wire.Validation) {
	parsed, err := validation.Parse(m.Blob)
	if err != nil {
		return
	}
	signer, ok := s.validators.IndexOf(parsed.NodePublic())
	if !ok {
		return
	}
	node := &s.nodes[signer]
	seq := parsed.LedgerSequence
	if _, seen := node.Validations[seq]; seen {
		return
	}
	node.Validations[seq] = parsed.LedgerHash
	if seq > node.LastValidated {
		node.LastValidated = seq
	}
	if seq+1 > node.Round {
		node.Round = seq + 1
		s.conds[RoundChanged].Broadcast()
	}
	if node.Phase != PhaseOpen {
		node.Phase = PhaseOpen
		s.conds[PhaseChanged].Broadcast()
	}
	if seq <= s.validated.Seq {
		return
	}
	var agreeing int
	for i := range s.nodes {
		if h, ok := s.nodes[i].Validations[seq]; ok && h == parsed.LedgerHash {
			agreeing++
		}
	}
	if agreeing >= s.validators.Quorum() {
		s.validated = ValidatedLedger{Seq: seq, Hash: parsed.LedgerHash, At: s.clk.Now()}
		s.conds[ValidatedChanged].Broadcast()
		published := s.validated
		s.busValidated.Publish(&published)
	}
}

// WaitFor blocks until pred holds, re-evaluating it whenever cond is signalled.
// It returns the context error if ctx is done first.
func (s *NodeStates) WaitFor(ctx context.Context, cond Condition, pred func(View) bool) error {
	stop := context.AfterFunc(ctx, func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		s.conds[cond].Broadcast()
	})
	defer stop()

	s.mu.Lock()
	defer s.mu.Unlock()
	for !pred(s.viewLocked()) {
		if err := ctx.Err(); err != nil {
			return err
		}
		s.conds[cond].Wait()
	}
	return nil
}

func (s *NodeStates) viewLocked() View {
	return View{Nodes: s.nodes, Validated: s.validated, FailedRounds: s.failedRounds}
}

// Snapshot returns a deep copy of the current state.
func (s *NodeStates) Snapshot() View {
	s.mu.Lock()
	defer s.mu.Unlock()
	nodes := make([]NodeState, len(s.nodes))
	for i, ns := range s.nodes {
		nodes[i] = ns.clone()
	}
	return View{Nodes: nodes, Validated: s.validated, FailedRounds: s.failedRounds}
}

// Validated returns the highest ledger validated by a quorum.
func (s *NodeStates) Validated() ValidatedLedger {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.validated
}

// SubscribeValidated delivers every newly quorum-validated ledger to ch. If ch
// is full at any point it is dropped from the subscription and closed.
func (s *NodeStates) SubscribeValidated(ch chan<- *ValidatedLedger) (last *ValidatedLedger, closer func()) {
	return s.busValidated.Subscribe(ch)
}

// Reset clears per-run history while keeping each node's current phase,
// round and last validated ledger.
func (s *NodeStates) Reset() {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.nodes {
		fresh := newNodeState()
		fresh.Phase = s.nodes[i].Phase
		fresh.Round = s.nodes[i].Round
		fresh.LastValidated = s.nodes[i].LastValidated
		fresh.ServerState = s.nodes[i].ServerState
		s.nodes[i] = fresh
	}
	s.failedRounds = 0
	for _, c := range s.conds {
		c.Broadcast()
	}
}
