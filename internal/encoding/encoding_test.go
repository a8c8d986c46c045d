package encoding_test

import (
	"bytes"
	"io"
	"testing"

	"github.com/byzfuzz/rmo/internal/encoding"
	"github.com/stretchr/testify/require"
	cbg "github.com/whyrusleeping/cbor-gen"
)

var (
	_ cbg.CBORMarshaler   = (*testValue)(nil)
	_ cbg.CBORUnmarshaler = (*testValue)(nil)
)

type testValue struct {
	Value string
}

func (m *testValue) MarshalCBOR(w io.Writer) error {
	return cbg.WriteByteArray(w, []byte(m.Value))
}

func (m *testValue) UnmarshalCBOR(r io.Reader) error {
	data, err := cbg.ReadByteArray(r, cbg.MaxLength)
	if err != nil {
		return err
	}
	m.Value = string(data)
	return err
}

func TestCBOR(t *testing.T) {
	subject := encoding.NewCBOR[*testValue]()
	data := &testValue{Value: "fish"}
	encoded, err := subject.Encode(data)
	require.NoError(t, err)
	decoded := &testValue{}
	err = subject.Decode(encoded, decoded)
	require.NoError(t, err)
	require.Equal(t, data.Value, decoded.Value)
}

func TestZSTD(t *testing.T) {
	encoder, err := encoding.NewZSTD[*testValue](0)
	require.NoError(t, err)
	data := &testValue{Value: "lobster"}
	encoded, err := encoder.Encode(data)
	require.NoError(t, err)
	decoded := &testValue{}
	err = encoder.Decode(encoded, decoded)
	require.NoError(t, err)
	require.Equal(t, data.Value, decoded.Value)
	require.Equal(t, "*encoding_test.testValue", encoder.GetMetricAttribute().Value.AsString())
}

func TestZSTDLimit(t *testing.T) {
	encoder, err := encoding.NewZSTD[*testValue](64)
	require.NoError(t, err)

	_, err = encoder.Encode(&testValue{Value: string(bytes.Repeat([]byte{'a'}, 128))})
	require.ErrorIs(t, err, encoding.ErrTooLarge)

	large, err := encoding.NewZSTD[*testValue](0)
	require.NoError(t, err)
	encoded, err := large.Encode(&testValue{Value: string(bytes.Repeat([]byte{'a'}, 128))})
	require.NoError(t, err)
	require.Error(t, encoder.Decode(encoded, &testValue{}))
}
