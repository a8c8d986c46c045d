package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	logging "github.com/ipfs/go-log/v2"
	"github.com/urfave/cli/v2"
)

var log = logging.Logger("rmo/cmd")

func main() {
	app := &cli.App{
		Name:  "rmo",
		Usage: "schedule fuzzing of validator clusters",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:  "config",
				Value: "rmo.json",
				Usage: "path to the harness config file",
			},
			&cli.StringFlag{
				Name:  "datastore",
				Value: "rmo-data",
				Usage: "directory of the run datastore",
			},
			&cli.StringFlag{
				Name:  "log-level",
				Value: "info",
				Usage: "log level of the rmo loggers",
			},
		},
		Before: func(c *cli.Context) error {
			for _, subsystem := range logging.GetSubsystems() {
				if len(subsystem) >= 3 && subsystem[:3] == "rmo" {
					if err := logging.SetLogLevel(subsystem, c.String("log-level")); err != nil {
						return fmt.Errorf("setting log level: %w", err)
					}
				}
			}
			return nil
		},
		Commands: []*cli.Command{
			&runCmd,
			&configCmd,
			&decodeCmd,
			&runsCmd,
			&gedCmd,
		},
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		cancel()
	}()

	if err := app.RunContext(ctx, os.Args); err != nil {
		fmt.Fprintf(os.Stderr, "runtime error: %+v\n", err)
		os.Exit(1)
	}
}
