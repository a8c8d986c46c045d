// Package validation decodes the signed validation blobs validators broadcast
// once they have accepted a ledger.
package validation

import (
	"errors"
	"fmt"

	"github.com/byzfuzz/rmo/codec"
	"golang.org/x/xerrors"
)

const (
	// FlagFullValidation marks a validation issued by a full validator as
	// opposed to a partial one.
	FlagFullValidation uint32 = 0x00000001
	// FlagFullyCanonicalSig marks a signature in fully canonical form.
	FlagFullyCanonicalSig uint32 = 0x80000000
)

// ErrMissingField signals that a field every validation must carry is absent.
var ErrMissingField = errors.New("missing required validation field")

// Parsed is the typed content of a validation.
type Parsed struct {
	LedgerSequence uint32
	LedgerHash     codec.Hash256
	ValidatedHash  codec.Hash256
	ConsensusHash  codec.Hash256
	Cookie         uint64
	SigningPubKey  []byte
	Signature      []byte
	Flags          uint32
	SigningTime    uint32
}

// Parse decodes a serialized validation.
func Parse(blob []byte) (*Parsed, error) {
	obj, err := codec.Decode(blob)
	if err != nil {
		return nil, xerrors.Errorf("decoding validation: %w", err)
	}
	return FromObject(obj)
}

// FromObject extracts a validation from an already decoded object.
func FromObject(obj *codec.Object) (*Parsed, error) {
	var p Parsed
	var ok bool
	if p.LedgerSequence, ok = obj.UInt32("LedgerSequence"); !ok {
		return nil, fmt.Errorf("LedgerSequence: %w", ErrMissingField)
	}
	if p.LedgerHash, ok = obj.Hash256("LedgerHash"); !ok {
		return nil, fmt.Errorf("LedgerHash: %w", ErrMissingField)
	}
	if p.SigningPubKey, ok = obj.Blob("SigningPubKey"); !ok || len(p.SigningPubKey) == 0 {
		return nil, fmt.Errorf("SigningPubKey: %w", ErrMissingField)
	}
	p.ValidatedHash, _ = obj.Hash256("ValidatedHash")
	p.ConsensusHash, _ = obj.Hash256("ConsensusHash")
	p.Cookie, _ = obj.UInt64("Cookie")
	p.Signature, _ = obj.Blob("Signature")
	p.Flags, _ = obj.UInt32("Flags")
	p.SigningTime, _ = obj.UInt32("SigningTime")
	return &p, nil
}

// Full reports whether the validation was issued by a full validator.
func (p *Parsed) Full() bool { return p.Flags&FlagFullValidation != 0 }

// NodePublic returns the base58 node public key of the signer.
func (p *Parsed) NodePublic() string {
	return codec.EncodeNodePublic(p.SigningPubKey)
}

// Object returns the validation as a codec object. Zero optional fields are
// omitted.
func (p *Parsed) Object() *codec.Object {
	pairs := []any{
		"Flags", codec.UInt32(p.Flags),
		"LedgerSequence", codec.UInt32(p.LedgerSequence),
		"SigningTime", codec.UInt32(p.SigningTime),
		"LedgerHash", p.LedgerHash,
		"SigningPubKey", codec.Blob(p.SigningPubKey),
	}
	if p.Cookie != 0 {
		pairs = append(pairs, "Cookie", codec.UInt64(p.Cookie))
	}
	if p.ConsensusHash != (codec.Hash256{}) {
		pairs = append(pairs, "ConsensusHash", p.ConsensusHash)
	}
	if p.ValidatedHash != (codec.Hash256{}) {
		pairs = append(pairs, "ValidatedHash", p.ValidatedHash)
	}
	if len(p.Signature) > 0 {
		pairs = append(pairs, "Signature", codec.Blob(p.Signature))
	}
	return codec.MustObject(pairs...)
}

// Encode serializes the validation in canonical field order.
func (p *Parsed) Encode() ([]byte, error) {
	return codec.Encode(p.Object())
}

func (p *Parsed) String() string {
	return fmt.Sprintf("validation{seq: %d, hash: %s, signer: %s}", p.LedgerSequence, p.LedgerHash, p.NodePublic())
}
