package model

import (
	"time"

	"github.com/byzfuzz/rmo/wire"
)

// ConsensusMessageType enumerates the message kinds a schedule may delay or
// reorder. Its values index the per-pair block of a genome.
type ConsensusMessageType int

const (
	ProposeSet ConsensusMessageType = iota
	StatusChange
	Transaction
	HaveTransactionSet
	Validation

	// NumConsensusMessageTypes is the number of consensus message kinds.
	NumConsensusMessageTypes = 5
)

// ConsensusMessageTypes lists the kinds in genome order.
var ConsensusMessageTypes = []ConsensusMessageType{ProposeSet, StatusChange, Transaction, HaveTransactionSet, Validation}

func (t ConsensusMessageType) String() string {
	return t.WireType().String()
}

// WireType returns the envelope message type of t.
func (t ConsensusMessageType) WireType() wire.MessageType {
	switch t {
	case ProposeSet:
		return wire.TypeProposeSet
	case StatusChange:
		return wire.TypeStatusChange
	case Transaction:
		return wire.TypeTransaction
	case HaveTransactionSet:
		return wire.TypeHaveTransactionSet
	case Validation:
		return wire.TypeValidation
	default:
		return 0
	}
}

// Classify maps an envelope message type to its consensus kind. Other
// messages are not subject to scheduling.
func Classify(t wire.MessageType) (ConsensusMessageType, bool) {
	switch t {
	case wire.TypeProposeSet:
		return ProposeSet, true
	case wire.TypeStatusChange:
		return StatusChange, true
	case wire.TypeTransaction:
		return Transaction, true
	case wire.TypeHaveTransactionSet:
		return HaveTransactionSet, true
	case wire.TypeValidation:
		return Validation, true
	default:
		return 0, false
	}
}

// Event is one intercepted message travelling from one validator to another.
type Event struct {
	// ID orders events by interception. It is unique within a harness.
	ID        uint64
	From      NodeIndex
	To        NodeIndex
	Message   wire.Message
	ArrivedAt time.Time
	// Raw is the payload as intercepted, when the event came off the wire.
	// It is relayed in place of re-encoding Message so that fields the
	// decoder does not model reach the destination unchanged.
	Raw []byte
}

// Payload returns the bytes to relay for e.
func (e *Event) Payload() []byte {
	if e.Raw != nil {
		return e.Raw
	}
	return wire.Encode(e.Message)
}

// Type returns the envelope message type of the carried message.
func (e *Event) Type() wire.MessageType { return e.Message.Type() }

// Consensus classifies the carried message.
func (e *Event) Consensus() (ConsensusMessageType, bool) { return Classify(e.Type()) }
