package codec

const (
	// MaxSingleByteVL is the largest length encoded in one prefix byte.
	MaxSingleByteVL = 192
	// MaxDoubleByteVL is the largest length encoded in two prefix bytes.
	MaxDoubleByteVL = 12480
	// MaxVL is the largest length the prefix can represent.
	MaxVL = 918744
)

// DecodeVL reads a variable length prefix from the start of b, returning the
// declared length and the number of prefix bytes consumed.
func DecodeVL(b []byte) (length int, n int, err error) {
	if len(b) < 1 {
		return 0, 0, truncated(0, 1, len(b))
	}
	b1 := int(b[0])
	switch {
	case b1 <= 192:
		return b1, 1, nil
	case b1 <= 240:
		if len(b) < 2 {
			return 0, 0, truncated(0, 2, len(b))
		}
		return 193 + (b1-193)*256 + int(b[1]), 2, nil
	case b1 <= 254:
		if len(b) < 3 {
			return 0, 0, truncated(0, 3, len(b))
		}
		return 12481 + (b1-241)*65536 + int(b[1])*256 + int(b[2]), 3, nil
	default:
		return 0, 0, &DecodeError{Err: ErrLengthPrefix}
	}
}

// EncodeVL returns the shortest variable length prefix for length.
func EncodeVL(length int) ([]byte, error) {
	switch {
	case length < 0:
		return nil, ErrLengthOutOfRange
	case length <= MaxSingleByteVL:
		return []byte{byte(length)}, nil
	case length <= MaxDoubleByteVL:
		l := length - 193
		return []byte{byte(193 + (l >> 8)), byte(l)}, nil
	case length <= MaxVL:
		l := length - 12481
		return []byte{byte(241 + (l >> 16)), byte(l >> 8), byte(l)}, nil
	default:
		return nil, ErrLengthOutOfRange
	}
}
