package codec

import (
	"encoding/binary"
	"errors"
)

// maxObjectDepth bounds STObject nesting.
const maxObjectDepth = 16

var errObjectEnd = errors.New("object end marker outside nested object")

// Decoder decodes the tagged binary serialization format.
type Decoder struct {
	defs *Definitions
}

// NewDecoder returns a decoder resolving field names with defs. A nil defs
// uses DefaultDefinitions.
func NewDecoder(defs *Definitions) *Decoder {
	if defs == nil {
		defs = DefaultDefinitions()
	}
	return &Decoder{defs: defs}
}

// Decode decodes b with the default definitions.
func Decode(b []byte) (*Object, error) {
	return NewDecoder(nil).Decode(b)
}

// Decode decodes every field in b. The input must end exactly on a field
// boundary.
func (d *Decoder) Decode(b []byte) (*Object, error) {
	obj, _, err := d.decodeObject(b, 0, 0)
	return obj, err
}

// decodeObject decodes fields from b[offset:] until the input is exhausted or,
// when depth is positive, until the object end marker.
func (d *Decoder) decodeObject(b []byte, offset int, depth int) (*Object, int, error) {
	obj := NewObject()
	for offset < len(b) {
		start := offset
		t, f, n, err := DecodeFieldID(b[offset:])
		if err != nil {
			return nil, 0, relocate(err, start)
		}
		offset += n
		if t == TypeSTObject && f == objectEndMarker {
			if depth == 0 {
				return nil, 0, &DecodeError{Offset: start, Err: errObjectEnd}
			}
			return obj, offset, nil
		}
		if !t.Known() || t == TypeNotPresent {
			return nil, 0, &DecodeError{Offset: start, Err: ErrUnknownType}
		}
		name, _ := d.defs.FieldName(t, f)
		value, next, err := d.decodeValue(b, offset, t, depth)
		if err != nil {
			var de *DecodeError
			if errors.As(err, &de) && de.Field == "" {
				de.Field = name
			}
			return nil, 0, err
		}
		offset = next
		if obj.Set(Field{Type: t, Code: f, Name: name, Value: value}) {
			log.Warnw("Duplicate field name in object, keeping the last value", "field", name, "offset", start)
		}
	}
	if depth > 0 {
		return nil, 0, truncated(offset, 1, 0)
	}
	return obj, offset, nil
}

func (d *Decoder) decodeValue(b []byte, offset int, t TypeCode, depth int) (Value, int, error) {
	need := func(n int) error {
		if len(b)-offset < n {
			return truncated(offset, n, len(b)-offset)
		}
		return nil
	}
	switch t {
	case TypeUInt16:
		if err := need(2); err != nil {
			return nil, 0, err
		}
		return UInt16(binary.BigEndian.Uint16(b[offset:])), offset + 2, nil
	case TypeUInt32:
		if err := need(4); err != nil {
			return nil, 0, err
		}
		return UInt32(binary.BigEndian.Uint32(b[offset:])), offset + 4, nil
	case TypeUInt64:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		return UInt64(binary.BigEndian.Uint64(b[offset:])), offset + 8, nil
	case TypeHash256:
		if err := need(32); err != nil {
			return nil, 0, err
		}
		var h Hash256
		copy(h[:], b[offset:offset+32])
		return h, offset + 32, nil
	case TypeAmount:
		if err := need(8); err != nil {
			return nil, 0, err
		}
		raw := binary.BigEndian.Uint64(b[offset:])
		if raw&amountNotXRPBit != 0 {
			return nil, 0, &DecodeError{Offset: offset, Err: ErrIssuedCurrency}
		}
		return Amount(raw ^ amountPositiveBit), offset + 8, nil
	case TypeBlob, TypeVector256:
		length, n, err := DecodeVL(b[offset:])
		if err != nil {
			return nil, 0, relocate(err, offset)
		}
		offset += n
		if err := need(length); err != nil {
			return nil, 0, err
		}
		content := make([]byte, length)
		copy(content, b[offset:offset+length])
		if t == TypeVector256 {
			if length%32 != 0 {
				return nil, 0, &DecodeError{Offset: offset, Expected: length + (32 - length%32), Available: length, Err: ErrLengthPrefix}
			}
			return Vector256(content), offset + length, nil
		}
		return Blob(content), offset + length, nil
	case TypeAccountID:
		if err := need(1 + 20); err != nil {
			return nil, 0, err
		}
		if b[offset] != 20 {
			return nil, 0, &DecodeError{Offset: offset, Expected: 20, Available: int(b[offset]), Err: ErrLengthPrefix}
		}
		var a AccountID
		copy(a[:], b[offset+1:offset+21])
		return a, offset + 21, nil
	case TypeSTObject:
		if depth+1 > maxObjectDepth {
			return nil, 0, &DecodeError{Offset: offset, Err: errors.New("object nesting too deep")}
		}
		obj, next, err := d.decodeObject(b, offset, depth+1)
		if err != nil {
			return nil, 0, err
		}
		return obj, next, nil
	default:
		return nil, 0, &DecodeError{Offset: offset, Err: ErrUnknownType}
	}
}

// relocate shifts the offset of a decode error produced on a sub-slice.
func relocate(err error, base int) error {
	var de *DecodeError
	if errors.As(err, &de) {
		de.Offset += base
	}
	return err
}
