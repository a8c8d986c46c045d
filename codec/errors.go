package codec

import (
	"errors"
	"fmt"
)

var (
	_ error = (*DecodeError)(nil)

	// ErrTruncated signals that the input ended before a declared length was
	// satisfied.
	ErrTruncated = errors.New("truncated input")
	// ErrUnknownType signals a type code outside the supported type table.
	ErrUnknownType = errors.New("unknown type code")
	// ErrLengthPrefix signals a malformed variable length prefix.
	ErrLengthPrefix = errors.New("malformed length prefix")
	// ErrIssuedCurrency signals an amount that is not denominated in XRP.
	ErrIssuedCurrency = errors.New("issued currency amounts are not supported")
	// ErrLengthOutOfRange signals a length that cannot be represented by the
	// variable length prefix.
	ErrLengthOutOfRange = errors.New("length out of range")
	// ErrUnknownField signals an attempt to encode a field name absent from the
	// definitions.
	ErrUnknownField = errors.New("unknown field name")
)

// DecodeError describes where and why decoding failed.
type DecodeError struct {
	// Offset is the position in the input at which the failing unit starts.
	Offset int
	// Expected is the number of bytes the unit needed, if known.
	Expected int
	// Available is the number of bytes that were left.
	Available int
	// Field is the name of the field being decoded, if known.
	Field string
	Err   error
}

func (e *DecodeError) Error() string {
	msg := fmt.Sprintf("decode error at offset %d", e.Offset)
	if e.Field != "" {
		msg += fmt.Sprintf(" in field %s", e.Field)
	}
	if e.Expected > 0 {
		msg += fmt.Sprintf(": expected %d bytes, %d available", e.Expected, e.Available)
	}
	return msg + ": " + e.Err.Error()
}

func (e *DecodeError) Unwrap() error { return e.Err }

func truncated(offset, expected, available int) *DecodeError {
	return &DecodeError{Offset: offset, Expected: expected, Available: available, Err: ErrTruncated}
}
