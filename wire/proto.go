package wire

import (
	"fmt"

	"google.golang.org/protobuf/encoding/protowire"
)

// protoField is one decoded protobuf field. Scalar values are held in v and
// length-delimited values in raw, which aliases the input.
type protoField struct {
	num protowire.Number
	typ protowire.Type
	v   uint64
	raw []byte
}

// rangeFields calls fn for every field in b in wire order. Unknown fields are
// passed to fn, which ignores them by not matching their number.
func rangeFields(b []byte, fn func(protoField) error) error {
	for len(b) > 0 {
		num, typ, n := protowire.ConsumeTag(b)
		if n < 0 {
			return protowire.ParseError(n)
		}
		b = b[n:]
		f := protoField{num: num, typ: typ}
		switch typ {
		case protowire.VarintType:
			f.v, n = protowire.ConsumeVarint(b)
		case protowire.Fixed32Type:
			var v uint32
			v, n = protowire.ConsumeFixed32(b)
			f.v = uint64(v)
		case protowire.Fixed64Type:
			f.v, n = protowire.ConsumeFixed64(b)
		case protowire.BytesType:
			f.raw, n = protowire.ConsumeBytes(b)
		default:
			n = protowire.ConsumeFieldValue(num, typ, b)
		}
		if n < 0 {
			return fmt.Errorf("field %d: %w", num, protowire.ParseError(n))
		}
		b = b[n:]
		if err := fn(f); err != nil {
			return err
		}
	}
	return nil
}

func (f protoField) expect(typ protowire.Type) error {
	if f.typ != typ {
		return fmt.Errorf("field %d: wire type %d, expected %d", f.num, f.typ, typ)
	}
	return nil
}

func (f protoField) uint64() (uint64, error) {
	if err := f.expect(protowire.VarintType); err != nil {
		return 0, err
	}
	return f.v, nil
}

func (f protoField) uint32() (uint32, error) {
	v, err := f.uint64()
	return uint32(v), err
}

func (f protoField) bool() (bool, error) {
	v, err := f.uint64()
	return v != 0, err
}

// bytes returns a copy of a length-delimited value. Empty values are nil.
func (f protoField) bytes() ([]byte, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return nil, err
	}
	return append([]byte(nil), f.raw...), nil
}

func (f protoField) string() (string, error) {
	if err := f.expect(protowire.BytesType); err != nil {
		return "", err
	}
	return string(f.raw), nil
}

// message decodes a nested message into dst.
func (f protoField) message(dst interface{ unmarshalProto([]byte) error }) error {
	if err := f.expect(protowire.BytesType); err != nil {
		return err
	}
	if err := dst.unmarshalProto(f.raw); err != nil {
		return fmt.Errorf("field %d: %w", f.num, err)
	}
	return nil
}

// appendUint32s decodes a repeated uint32 in either packed or unpacked form.
func (f protoField) appendUint32s(dst []uint32) ([]uint32, error) {
	switch f.typ {
	case protowire.VarintType:
		return append(dst, uint32(f.v)), nil
	case protowire.BytesType:
		b := f.raw
		for len(b) > 0 {
			v, n := protowire.ConsumeVarint(b)
			if n < 0 {
				return nil, fmt.Errorf("field %d: %w", f.num, protowire.ParseError(n))
			}
			dst = append(dst, uint32(v))
			b = b[n:]
		}
		return dst, nil
	default:
		return nil, f.expect(protowire.VarintType)
	}
}

func appendVarint(b []byte, num protowire.Number, v uint64) []byte {
	b = protowire.AppendTag(b, num, protowire.VarintType)
	return protowire.AppendVarint(b, v)
}

// appendOptVarint omits zero values.
func appendOptVarint(b []byte, num protowire.Number, v uint64) []byte {
	if v == 0 {
		return b
	}
	return appendVarint(b, num, v)
}

func appendOptBool(b []byte, num protowire.Number, v bool) []byte {
	if !v {
		return b
	}
	return appendVarint(b, num, 1)
}

func appendBytes(b []byte, num protowire.Number, v []byte) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, v)
}

// appendOptBytes omits empty values.
func appendOptBytes(b []byte, num protowire.Number, v []byte) []byte {
	if len(v) == 0 {
		return b
	}
	return appendBytes(b, num, v)
}

func appendOptString(b []byte, num protowire.Number, v string) []byte {
	if v == "" {
		return b
	}
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendString(b, v)
}

func appendMessage(b []byte, num protowire.Number, m interface{ appendProto([]byte) []byte }) []byte {
	b = protowire.AppendTag(b, num, protowire.BytesType)
	return protowire.AppendBytes(b, m.appendProto(nil))
}
