package main

import (
	"fmt"
	"os"

	"github.com/byzfuzz/rmo"
	"github.com/byzfuzz/rmo/model"
	"github.com/byzfuzz/rmo/proxy"
	"github.com/urfave/cli/v2"
)

var configCmd = cli.Command{
	Name:  "config",
	Usage: "inspect harness configuration",
	Subcommands: []*cli.Command{
		{
			Name:  "check",
			Usage: "validates the config file",
			Action: func(c *cli.Context) error {
				cfg, err := rmo.LoadConfig(c.String("config"))
				if err != nil {
					return err
				}
				vs, err := model.NewValidatorSet(cfg.Validators)
				if err != nil {
					return err
				}
				if _, err := proxy.New(vs, nil, cfg.Routes); err != nil {
					return err
				}
				_, _ = fmt.Fprintf(c.App.Writer, "%s: %d validators, %d routes, %s policy\n",
					c.String("config"), len(cfg.Validators), len(cfg.Routes), cfg.Policy)
				return nil
			},
		},
		{
			Name:  "defaults",
			Usage: "prints the default config",
			Flags: []cli.Flag{
				&cli.StringFlag{
					Name:  "output",
					Usage: "write to this file instead of stdout",
				},
			},
			Action: func(c *cli.Context) error {
				w := c.App.Writer
				if path := c.String("output"); path != "" {
					f, err := os.OpenFile(path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o644)
					if err != nil {
						return fmt.Errorf("opening output: %w", err)
					}
					defer f.Close()
					w = f
				}
				b, err := rmo.DefaultConfig().Marshal()
				if err != nil {
					return err
				}
				_, err = fmt.Fprintln(w, string(b))
				return err
			},
		},
	},
}
