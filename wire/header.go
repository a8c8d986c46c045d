package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

const (
	// HeaderSize is the size of the envelope header in bytes.
	HeaderSize = 6
	// MaxPayloadSize is the largest payload a peer accepts.
	MaxPayloadSize = 64 << 20

	reservedBitsMask = 0xC0
)

var (
	// ErrReservedBits signals that the reserved compression bits of the header
	// are set.
	ErrReservedBits = errors.New("reserved header bits set")
	// ErrPayloadTooLarge signals a declared payload size above MaxPayloadSize.
	ErrPayloadTooLarge = errors.New("payload too large")
	// ErrUnknownMessageType signals a message type outside the dispatch table.
	ErrUnknownMessageType = errors.New("unknown message type")
	// ErrShortHeader signals fewer than HeaderSize bytes.
	ErrShortHeader = errors.New("short header")
)

// Header is the fixed envelope prefix of every peer message.
type Header struct {
	PayloadSize uint32
	Type        MessageType
}

// ParseHeader parses the first HeaderSize bytes of b.
func ParseHeader(b []byte) (Header, error) {
	if len(b) < HeaderSize {
		return Header{}, ErrShortHeader
	}
	if b[0]&reservedBitsMask != 0 {
		return Header{}, fmt.Errorf("header byte 0x%02x: %w", b[0], ErrReservedBits)
	}
	h := Header{
		PayloadSize: binary.BigEndian.Uint32(b[0:4]),
		Type:        MessageType(binary.BigEndian.Uint16(b[4:6])),
	}
	if h.PayloadSize > MaxPayloadSize {
		return Header{}, fmt.Errorf("declared %d bytes: %w", h.PayloadSize, ErrPayloadTooLarge)
	}
	return h, nil
}

// AppendEnvelope appends the header and payload of a message of type t to dst.
func AppendEnvelope(dst []byte, t MessageType, payload []byte) []byte {
	dst = binary.BigEndian.AppendUint32(dst, uint32(len(payload)))
	dst = binary.BigEndian.AppendUint16(dst, uint16(t))
	return append(dst, payload...)
}

// AppendMessage encodes m and appends it to dst as a complete envelope.
func AppendMessage(dst []byte, m Message) []byte {
	return AppendEnvelope(dst, m.Type(), Encode(m))
}
