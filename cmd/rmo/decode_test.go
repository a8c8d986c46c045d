package main

import (
	"bytes"
	"encoding/hex"
	"testing"

	"github.com/byzfuzz/rmo/codec"
	"github.com/byzfuzz/rmo/validation"
	"github.com/byzfuzz/rmo/wire"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"
)

func runDecode(t *testing.T, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	app := &cli.App{
		Name:     "rmo",
		Writer:   &out,
		Commands: []*cli.Command{&decodeCmd},
	}
	err := app.Run(append([]string{"rmo", "decode"}, args...))
	return out.String(), err
}

func TestDecode(t *testing.T) {
	t.Run("object", func(t *testing.T) {
		b, err := codec.Encode(codec.MustObject("LedgerSequence", codec.UInt32(7)))
		require.NoError(t, err)
		out, err := runDecode(t, hex.EncodeToString(b))
		require.NoError(t, err)
		require.Contains(t, out, `"LedgerSequence": 7`)
	})
	t.Run("envelope", func(t *testing.T) {
		var b []byte
		b = wire.AppendMessage(b, &wire.Validation{Blob: []byte{0x01, 0x02}})
		b = wire.AppendMessage(b, &wire.Validation{Blob: []byte{0x03}})
		out, err := runDecode(t, "--envelope", "0x"+hex.EncodeToString(b))
		require.NoError(t, err)
		require.Equal(t, 2, bytes.Count([]byte(out), []byte(wire.TypeValidation.String())))

		_, err = runDecode(t, "--envelope", hex.EncodeToString(b[:len(b)-1]))
		require.ErrorContains(t, err, "trailing bytes")
	})
	t.Run("validation", func(t *testing.T) {
		key, err := hex.DecodeString("02d1a5c4b1e8f0c3a2b9e7d6f5a4b3c2d1e0f9a8b7c6d5e4f3a2b1c0d9e8f7a6b5")
		require.NoError(t, err)
		blob, err := (&validation.Parsed{
			LedgerSequence: 9,
			LedgerHash:     codec.Hash256{0xAB},
			SigningPubKey:  key,
		}).Encode()
		require.NoError(t, err)
		out, err := runDecode(t, "--validation", hex.EncodeToString(blob))
		require.NoError(t, err)
		require.Contains(t, out, `"LedgerSequence": 9`)
		require.Contains(t, out, codec.EncodeNodePublic(key))
	})
	t.Run("bad input", func(t *testing.T) {
		_, err := runDecode(t)
		require.Error(t, err)
		_, err = runDecode(t, "zz")
		require.ErrorContains(t, err, "parsing hex")
		_, err = runDecode(t, "--envelope", "--validation", "00")
		require.ErrorContains(t, err, "mutually exclusive")
	})
}
