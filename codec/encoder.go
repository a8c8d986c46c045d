package codec

import (
	"encoding/binary"
	"fmt"

	"golang.org/x/xerrors"
)

// Encode serializes obj in canonical field order.
func Encode(obj *Object) ([]byte, error) {
	return AppendObject(nil, obj)
}

// AppendObject appends the canonical serialization of obj to dst.
func AppendObject(dst []byte, obj *Object) ([]byte, error) {
	var err error
	for _, f := range obj.Canonical() {
		if dst, err = AppendField(dst, f); err != nil {
			return nil, err
		}
	}
	return dst, nil
}

// AppendField appends a single serialized field to dst.
func AppendField(dst []byte, f Field) ([]byte, error) {
	if f.Value == nil {
		return nil, fmt.Errorf("field %s has no value", f.Name)
	}
	if f.Value.Type() != f.Type {
		return nil, fmt.Errorf("field %s declared as %s but holds %s", f.Name, f.Type, f.Value.Type())
	}
	dst = append(dst, EncodeFieldID(f.Type, f.Code)...)
	switch v := f.Value.(type) {
	case UInt16:
		dst = binary.BigEndian.AppendUint16(dst, uint16(v))
	case UInt32:
		dst = binary.BigEndian.AppendUint32(dst, uint32(v))
	case UInt64:
		dst = binary.BigEndian.AppendUint64(dst, uint64(v))
	case Hash256:
		dst = append(dst, v[:]...)
	case Amount:
		if uint64(v)&amountNotXRPBit != 0 {
			return nil, xerrors.Errorf("field %s: %w", f.Name, ErrIssuedCurrency)
		}
		dst = binary.BigEndian.AppendUint64(dst, uint64(v)^amountPositiveBit)
	case Blob:
		return appendVL(dst, f.Name, v)
	case Vector256:
		if len(v)%32 != 0 {
			return nil, fmt.Errorf("field %s: vector length %d is not a multiple of 32", f.Name, len(v))
		}
		return appendVL(dst, f.Name, v)
	case AccountID:
		dst = append(dst, 20)
		dst = append(dst, v[:]...)
	case *Object:
		var err error
		if dst, err = AppendObject(dst, v); err != nil {
			return nil, xerrors.Errorf("field %s: %w", f.Name, err)
		}
		dst = append(dst, EncodeFieldID(TypeSTObject, objectEndMarker)...)
	default:
		return nil, fmt.Errorf("field %s: unsupported value %T", f.Name, v)
	}
	return dst, nil
}

func appendVL(dst []byte, name string, content []byte) ([]byte, error) {
	prefix, err := EncodeVL(len(content))
	if err != nil {
		return nil, xerrors.Errorf("field %s: %w", name, err)
	}
	dst = append(dst, prefix...)
	return append(dst, content...), nil
}

// NewField builds a field by name using the default definitions.
func NewField(name string, v Value) (Field, error) {
	return DefaultDefinitions().NewField(name, v)
}

// NewField builds a field by name, checking the value matches the defined type.
func (d *Definitions) NewField(name string, v Value) (Field, error) {
	t, f, ok := d.Lookup(name)
	if !ok {
		return Field{}, xerrors.Errorf("%s: %w", name, ErrUnknownField)
	}
	if v.Type() != t {
		return Field{}, fmt.Errorf("field %s is %s, got %s", name, t, v.Type())
	}
	return Field{Type: t, Code: f, Name: name, Value: v}, nil
}

// MustObject builds an object from name and value pairs, panicking on unknown
// names or mismatched types. It is intended for fixtures.
func MustObject(pairs ...any) *Object {
	if len(pairs)%2 != 0 {
		panic("odd number of arguments")
	}
	obj := NewObject()
	for i := 0; i < len(pairs); i += 2 {
		f, err := NewField(pairs[i].(string), pairs[i+1].(Value))
		if err != nil {
			panic(err)
		}
		obj.Set(f)
	}
	return obj
}
