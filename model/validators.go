package model

import (
	"fmt"
	"strconv"

	"github.com/byzfuzz/rmo/codec"
)

// NodeIndex identifies a validator within a ValidatorSet.
type NodeIndex int

func (i NodeIndex) String() string { return strconv.Itoa(int(i)) }

// Validator is one node of the cluster under test.
type Validator struct {
	Index NodeIndex `json:"index"`
	// PublicKey is the base58 node public key.
	PublicKey string `json:"publicKey"`
	// PeerAddr is the address of the validator's peer port.
	PeerAddr string `json:"peerAddr"`
}

// ValidatorSet resolves validator identities. It is immutable once built.
type ValidatorSet struct {
	validators []Validator
	byKey      map[string]NodeIndex
}

// NewValidatorSet builds a set from validators whose indices must be exactly
// 0..len-1 and whose public keys must be distinct, decodable node keys.
func NewValidatorSet(validators []Validator) (*ValidatorSet, error) {
	vs := &ValidatorSet{
		validators: make([]Validator, len(validators)),
		byKey:      make(map[string]NodeIndex, len(validators)),
	}
	seen := make([]bool, len(validators))
	for _, v := range validators {
		if v.Index < 0 || int(v.Index) >= len(validators) {
			return nil, fmt.Errorf("validator index %d out of range [0, %d)", v.Index, len(validators))
		}
		if seen[v.Index] {
			return nil, fmt.Errorf("duplicate validator index %d", v.Index)
		}
		if _, err := codec.DecodeNodePublic(v.PublicKey); err != nil {
			return nil, fmt.Errorf("validator %d: invalid public key %q: %w", v.Index, v.PublicKey, err)
		}
		if other, dup := vs.byKey[v.PublicKey]; dup {
			return nil, fmt.Errorf("validators %d and %d share public key %s", other, v.Index, v.PublicKey)
		}
		seen[v.Index] = true
		vs.validators[v.Index] = v
		vs.byKey[v.PublicKey] = v.Index
	}
	return vs, nil
}

// IndexOf resolves a base58 node public key.
func (vs *ValidatorSet) IndexOf(nodePublic string) (NodeIndex, bool) {
	i, ok := vs.byKey[nodePublic]
	return i, ok
}

// Get returns the validator at index i.
func (vs *ValidatorSet) Get(i NodeIndex) (Validator, bool) {
	if i < 0 || int(i) >= len(vs.validators) {
		return Validator{}, false
	}
	return vs.validators[i], true
}

func (vs *ValidatorSet) Len() int { return len(vs.validators) }

// All returns the validators ordered by index.
func (vs *ValidatorSet) All() []Validator {
	return append([]Validator(nil), vs.validators...)
}

// Quorum returns the number of validators whose agreement makes a ledger
// validated: 80% of the set, rounded up.
func (vs *ValidatorSet) Quorum() int {
	return (len(vs.validators)*4 + 4) / 5
}
