package codec

import (
	"bytes"
	"errors"
	"fmt"

	sha256 "github.com/minio/sha256-simd"
	"github.com/mr-tron/base58"
)

const (
	// VersionAccountID prefixes account addresses.
	VersionAccountID byte = 0x00
	// VersionNodePublic prefixes validator node public keys.
	VersionNodePublic byte = 0x1C

	checksumLength = 4
)

// Alphabet is the base58 alphabet of the XRP Ledger, which differs from the
// Bitcoin one.
var Alphabet = base58.NewAlphabet("rpshnaf39wBUDNEGHJKLM4PQRST7VWXYZ2bcdeCg65jkm8oFqi1tuvAxyz")

var (
	ErrChecksum = errors.New("base58 checksum mismatch")
	ErrVersion  = errors.New("unexpected base58 version byte")
)

// EncodeBase58Check prefixes payload with version, appends a four byte double
// SHA-256 checksum and base58 encodes the result.
func EncodeBase58Check(version byte, payload []byte) string {
	buf := make([]byte, 0, 1+len(payload)+checksumLength)
	buf = append(buf, version)
	buf = append(buf, payload...)
	buf = append(buf, checksum(buf)...)
	return base58.EncodeAlphabet(buf, Alphabet)
}

// DecodeBase58Check reverses EncodeBase58Check, verifying the version byte and
// checksum.
func DecodeBase58Check(version byte, s string) ([]byte, error) {
	raw, err := base58.DecodeAlphabet(s, Alphabet)
	if err != nil {
		return nil, fmt.Errorf("decoding base58: %w", err)
	}
	if len(raw) < 1+checksumLength {
		return nil, fmt.Errorf("decoded value too short: %d bytes", len(raw))
	}
	body, sum := raw[:len(raw)-checksumLength], raw[len(raw)-checksumLength:]
	if !bytes.Equal(checksum(body), sum) {
		return nil, ErrChecksum
	}
	if body[0] != version {
		return nil, fmt.Errorf("%w: got 0x%02x, want 0x%02x", ErrVersion, body[0], version)
	}
	return body[1:], nil
}

func checksum(b []byte) []byte {
	first := sha256.Sum256(b)
	second := sha256.Sum256(first[:])
	return second[:checksumLength]
}

// EncodeNodePublic renders a compressed validator public key.
func EncodeNodePublic(pub []byte) string {
	return EncodeBase58Check(VersionNodePublic, pub)
}

// DecodeNodePublic parses a validator public key.
func DecodeNodePublic(s string) ([]byte, error) {
	return DecodeBase58Check(VersionNodePublic, s)
}

// EncodeAccountID renders an account address.
func EncodeAccountID(id [20]byte) string {
	return EncodeBase58Check(VersionAccountID, id[:])
}

// DecodeAccountID parses an account address.
func DecodeAccountID(s string) (AccountID, error) {
	var id AccountID
	b, err := DecodeBase58Check(VersionAccountID, s)
	if err != nil {
		return id, err
	}
	if len(b) != len(id) {
		return id, fmt.Errorf("account id must be %d bytes, got %d", len(id), len(b))
	}
	copy(id[:], b)
	return id, nil
}
