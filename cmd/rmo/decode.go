package main

import (
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/byzfuzz/rmo/codec"
	"github.com/byzfuzz/rmo/validation"
	"github.com/byzfuzz/rmo/wire"
	"github.com/urfave/cli/v2"
)

var decodeCmd = cli.Command{
	Name:      "decode",
	Usage:     "decodes hex encoded protocol data",
	ArgsUsage: "<hex>",
	Flags: []cli.Flag{
		&cli.BoolFlag{
			Name:  "envelope",
			Usage: "input is a framed peer message",
		},
		&cli.BoolFlag{
			Name:  "validation",
			Usage: "input is a serialized validation",
		},
	},
	Action: func(c *cli.Context) error {
		if c.NArg() != 1 {
			return errors.New("expected exactly one hex argument")
		}
		if c.Bool("envelope") && c.Bool("validation") {
			return errors.New("--envelope and --validation are mutually exclusive")
		}
		b, err := hex.DecodeString(strings.TrimPrefix(strings.TrimSpace(c.Args().First()), "0x"))
		if err != nil {
			return fmt.Errorf("parsing hex: %w", err)
		}

		enc := json.NewEncoder(c.App.Writer)
		enc.SetIndent("", "  ")
		switch {
		case c.Bool("envelope"):
			var framer wire.Framer
			_, _ = framer.Write(b)
			for {
				frame, ok, err := framer.Next()
				if err != nil {
					return err
				}
				if !ok {
					break
				}
				msg, err := wire.DecodeFrame(frame)
				if err != nil {
					return err
				}
				if err := enc.Encode(struct {
					Type    string `json:"type"`
					Message any    `json:"message"`
				}{frame.Type.String(), msg}); err != nil {
					return err
				}
			}
			if n := framer.Buffered(); n > 0 {
				return fmt.Errorf("%d trailing bytes do not form a complete envelope", n)
			}
			return nil
		case c.Bool("validation"):
			v, err := validation.Parse(b)
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintln(c.App.Writer, v)
			return enc.Encode(v.Object())
		default:
			obj, err := codec.Decode(b)
			if err != nil {
				return err
			}
			return enc.Encode(obj)
		}
	},
}
