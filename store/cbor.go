package store

import (
	"fmt"
	"io"
	"math"

	cbg "github.com/whyrusleeping/cbor-gen"
)

// maxStringLength bounds decoded text fields such as violation details.
const maxStringLength = 1 << 20

func writeHeader(w io.Writer, maj byte, extra uint64) error {
	_, err := w.Write(cbg.CborEncodeMajorType(maj, extra))
	return err
}

func readHeader(r io.Reader, want byte) (uint64, error) {
	maj, extra, err := cbg.CborReadHeader(r)
	if err != nil {
		return 0, err
	}
	if maj != want {
		return 0, fmt.Errorf("expected cbor major type %d, got %d", want, maj)
	}
	return extra, nil
}

func writeArrayHeader(w io.Writer, n int) error {
	return writeHeader(w, cbg.MajArray, uint64(n))
}

// readArrayHeader reads the header of an array of exactly n items.
func readArrayHeader(r io.Reader, n int) error {
	extra, err := readHeader(r, cbg.MajArray)
	if err != nil {
		return err
	}
	if extra != uint64(n) {
		return fmt.Errorf("expected array of %d fields, got %d", n, extra)
	}
	return nil
}

// readLength reads an array header of any length up to limit.
func readLength(r io.Reader, limit uint64) (int, error) {
	extra, err := readHeader(r, cbg.MajArray)
	if err != nil {
		return 0, err
	}
	if extra > limit {
		return 0, fmt.Errorf("array of %d items exceeds limit %d", extra, limit)
	}
	return int(extra), nil
}

func writeUint(w io.Writer, v uint64) error {
	return writeHeader(w, cbg.MajUnsignedInt, v)
}

func readUint(r io.Reader) (uint64, error) {
	return readHeader(r, cbg.MajUnsignedInt)
}

func writeInt(w io.Writer, v int64) error {
	if v < 0 {
		return writeHeader(w, cbg.MajNegativeInt, uint64(-v-1))
	}
	return writeHeader(w, cbg.MajUnsignedInt, uint64(v))
}

func readInt(r io.Reader) (int64, error) {
	maj, extra, err := cbg.CborReadHeader(r)
	if err != nil {
		return 0, err
	}
	if extra > math.MaxInt64 {
		return 0, fmt.Errorf("integer %d overflows int64", extra)
	}
	switch maj {
	case cbg.MajUnsignedInt:
		return int64(extra), nil
	case cbg.MajNegativeInt:
		return -1 - int64(extra), nil
	default:
		return 0, fmt.Errorf("expected cbor integer, got major type %d", maj)
	}
}

// Floats are stored by their IEEE 754 bits.
func writeFloat(w io.Writer, v float64) error {
	return writeUint(w, math.Float64bits(v))
}

func readFloat(r io.Reader) (float64, error) {
	bits, err := readUint(r)
	return math.Float64frombits(bits), err
}

func writeString(w io.Writer, s string) error {
	if err := writeHeader(w, cbg.MajTextString, uint64(len(s))); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readHeader(r, cbg.MajTextString)
	if err != nil {
		return "", err
	}
	if n > maxStringLength {
		return "", fmt.Errorf("string of %d bytes exceeds limit %d", n, maxStringLength)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
