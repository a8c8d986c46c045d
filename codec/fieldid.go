package codec

// DecodeFieldID reads a field header from the start of b. The first byte holds
// the type code in its high nibble and the field code in its low nibble; a zero
// nibble means the corresponding code follows in its own byte, type first.
func DecodeFieldID(b []byte) (TypeCode, FieldCode, int, error) {
	if len(b) < 1 {
		return 0, 0, 0, truncated(0, 1, len(b))
	}
	hi, lo := b[0]>>4, b[0]&0x0f
	switch {
	case hi == 0 && lo == 0:
		if len(b) < 3 {
			return 0, 0, 0, truncated(0, 3, len(b))
		}
		return TypeCode(b[1]), FieldCode(b[2]), 3, nil
	case hi == 0:
		if len(b) < 2 {
			return 0, 0, 0, truncated(0, 2, len(b))
		}
		return TypeCode(b[1]), FieldCode(lo), 2, nil
	case lo == 0:
		if len(b) < 2 {
			return 0, 0, 0, truncated(0, 2, len(b))
		}
		return TypeCode(hi), FieldCode(b[1]), 2, nil
	default:
		return TypeCode(hi), FieldCode(lo), 1, nil
	}
}

// EncodeFieldID returns the shortest header for the given codes. A code only
// goes in a nibble when it is between 1 and 15, since a zero nibble is the
// escape for a following byte.
func EncodeFieldID(t TypeCode, f FieldCode) []byte {
	tNibble := t > 0 && t < 16
	fNibble := f > 0 && f < 16
	switch {
	case tNibble && fNibble:
		return []byte{byte(t)<<4 | byte(f)}
	case tNibble:
		return []byte{byte(t) << 4, byte(f)}
	case fNibble:
		return []byte{byte(f), byte(t)}
	default:
		return []byte{0, byte(t), byte(f)}
	}
}
