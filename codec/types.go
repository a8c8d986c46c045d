package codec

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// TypeCode identifies the serialized type of a field.
type TypeCode uint8

// FieldCode is the ordinal of a field within its type, also known as nth.
type FieldCode uint8

const (
	TypeNotPresent TypeCode = 0
	TypeUInt16     TypeCode = 1
	TypeUInt32     TypeCode = 2
	TypeUInt64     TypeCode = 3
	TypeHash256    TypeCode = 5
	TypeAmount     TypeCode = 6
	TypeBlob       TypeCode = 7
	TypeAccountID  TypeCode = 8
	TypeSTObject   TypeCode = 14
	TypeVector256  TypeCode = 19
)

var typeNames = map[TypeCode]string{
	TypeNotPresent: "NotPresent",
	TypeUInt16:     "UInt16",
	TypeUInt32:     "UInt32",
	TypeUInt64:     "UInt64",
	TypeHash256:    "Hash256",
	TypeAmount:     "Amount",
	TypeBlob:       "Blob",
	TypeAccountID:  "AccountID",
	TypeSTObject:   "STObject",
	TypeVector256:  "Vector256",
}

// Known reports whether the type code is part of the supported type table.
func (t TypeCode) Known() bool {
	_, ok := typeNames[t]
	return ok
}

func (t TypeCode) String() string {
	if name, ok := typeNames[t]; ok {
		return name
	}
	return "Unknown(" + strconv.Itoa(int(t)) + ")"
}

// typeCodeByName resolves a type name as used in the definitions table.
func typeCodeByName(name string) (TypeCode, bool) {
	for code, n := range typeNames {
		if n == name {
			return code, true
		}
	}
	return 0, false
}

// objectEndMarker terminates a nested STObject.
const objectEndMarker FieldCode = 1

// amountNotXRPBit is set on the wire for issued-currency amounts.
const amountNotXRPBit = uint64(1) << 63

// amountPositiveBit is baked into every serialized XRP amount.
const amountPositiveBit = uint64(0x4000000000000000)

// Value is a decoded field value. The set of implementations is closed.
type Value interface {
	Type() TypeCode
	String() string
	isValue()
}

type (
	UInt16    uint16
	UInt32    uint32
	UInt64    uint64
	Hash256   [32]byte
	Amount    uint64
	Blob      []byte
	Vector256 []byte
	AccountID [20]byte
)

func (UInt16) Type() TypeCode    { return TypeUInt16 }
func (UInt32) Type() TypeCode    { return TypeUInt32 }
func (UInt64) Type() TypeCode    { return TypeUInt64 }
func (Hash256) Type() TypeCode   { return TypeHash256 }
func (Amount) Type() TypeCode    { return TypeAmount }
func (Blob) Type() TypeCode      { return TypeBlob }
func (Vector256) Type() TypeCode { return TypeVector256 }
func (AccountID) Type() TypeCode { return TypeAccountID }
func (*Object) Type() TypeCode   { return TypeSTObject }

func (UInt16) isValue()    {}
func (UInt32) isValue()    {}
func (UInt64) isValue()    {}
func (Hash256) isValue()   {}
func (Amount) isValue()    {}
func (Blob) isValue()      {}
func (Vector256) isValue() {}
func (AccountID) isValue() {}
func (*Object) isValue()   {}

func (v UInt16) String() string { return strconv.FormatUint(uint64(v), 10) }
func (v UInt32) String() string { return strconv.FormatUint(uint64(v), 10) }

// String renders UInt64 values as hex, the way rippled displays them.
func (v UInt64) String() string { return strings.ToUpper(strconv.FormatUint(uint64(v), 16)) }

func (v Hash256) String() string   { return strings.ToUpper(hex.EncodeToString(v[:])) }
func (v Amount) String() string    { return strconv.FormatUint(uint64(v), 10) }
func (v Blob) String() string      { return strings.ToUpper(hex.EncodeToString(v)) }
func (v Vector256) String() string { return strings.ToUpper(hex.EncodeToString(v)) }
func (v AccountID) String() string { return EncodeAccountID(v) }

// Field is a single decoded wire unit.
type Field struct {
	Type  TypeCode
	Code  FieldCode
	Name  string
	Value Value
}

func (f Field) String() string {
	return fmt.Sprintf("%s(%s:%d)=%s", f.Name, f.Type, f.Code, f.Value)
}
