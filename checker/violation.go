// Package checker verifies consensus properties over the stream of messages
// the scheduler delivers.
package checker

import (
	"fmt"

	"github.com/byzfuzz/rmo/model"
)

// Kind classifies a property violation.
type Kind int

const (
	// Timeout signals that the run exceeded its message budget without
	// resolving.
	Timeout Kind = iota + 1
	// Liveness signals a quorum split in which two groups of validators
	// support different ledgers for the same sequence.
	Liveness
	// Integrity1 signals a node accepting two different ledgers for the same
	// sequence.
	Integrity1
	// Integrity2 signals a node validating two different ledgers for the
	// same sequence.
	Integrity2
	// Agreement1 signals two nodes validating different ledgers for the same
	// sequence.
	Agreement1
	// Agreement2 signals two nodes accepting different ledgers for the same
	// sequence.
	Agreement2
	// DoubleSpend signals two different committed transactions from the same
	// account with the same sequence.
	DoubleSpend
)

// Kinds lists every violation kind.
var Kinds = []Kind{Timeout, Liveness, Integrity1, Integrity2, Agreement1, Agreement2, DoubleSpend}

func (k Kind) String() string {
	switch k {
	case Timeout:
		return "Timeout"
	case Liveness:
		return "Liveness"
	case Integrity1:
		return "Integrity1"
	case Integrity2:
		return "Integrity2"
	case Agreement1:
		return "Agreement1"
	case Agreement2:
		return "Agreement2"
	case DoubleSpend:
		return "DoubleSpend"
	default:
		return fmt.Sprintf("Kind(%d)", int(k))
	}
}

// ParseKind is the inverse of Kind.String.
func ParseKind(s string) (Kind, error) {
	for _, k := range Kinds {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown violation kind %q", s)
}

// MarshalText encodes the kind by name.
func (k Kind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *Kind) UnmarshalText(text []byte) error {
	parsed, err := ParseKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// NoNode marks a violation that is not attributable to a single validator.
const NoNode model.NodeIndex = -1

// Violation is a property violation observed on the delivered stream. It is a
// signal about the system under test, not an error of the harness.
type Violation struct {
	Kind Kind
	// Seq is the ledger sequence, or the message count for Timeout.
	Seq    uint32
	Node   model.NodeIndex
	Detail string
}

func (v Violation) String() string {
	if v.Node == NoNode {
		return fmt.Sprintf("%s at %d: %s", v.Kind, v.Seq, v.Detail)
	}
	return fmt.Sprintf("%s at %d by node %d: %s", v.Kind, v.Seq, v.Node, v.Detail)
}

// Outcome is the verdict of the suite after one observation.
type Outcome int

const (
	// OK means no violation was raised.
	OK Outcome = iota
	// Flagged means violations were recorded but the run may continue.
	Flagged
	// Terminate means a violation of a kind in the termination policy was
	// raised.
	Terminate
	// TimedOut means the message budget was exhausted. The run must stop.
	TimedOut
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "OK"
	case Flagged:
		return "Flagged"
	case Terminate:
		return "Terminate"
	case TimedOut:
		return "TimedOut"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// Stops reports whether the run must end.
func (o Outcome) Stops() bool { return o == Terminate || o == TimedOut }
