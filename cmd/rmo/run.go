package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"io"
	"os"

	"github.com/byzfuzz/rmo"
	"github.com/byzfuzz/rmo/model"
	"github.com/byzfuzz/rmo/scheduler"
	leveldb "github.com/ipfs/go-ds-leveldb"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

var runCmd = cli.Command{
	Name:  "run",
	Usage: "relays the cluster and evaluates the genomes read from stdin",
	Description: `Each line of stdin is a JSON array of genes. For each, one line
describing the resulting fitness is written to stdout. The harness stops
on interrupt or once stdin is closed.`,
	Action: func(c *cli.Context) (_err error) {
		ctx := c.Context
		cfg, err := rmo.LoadConfig(c.String("config"))
		if err != nil {
			return err
		}
		ds, err := leveldb.NewDatastore(c.String("datastore"), nil)
		if err != nil {
			return xerrors.Errorf("opening datastore: %w", err)
		}
		defer func() { _err = multierr.Append(_err, ds.Close()) }()

		h, err := rmo.New(ctx, *cfg, ds)
		if err != nil {
			return xerrors.Errorf("creating harness: %w", err)
		}
		if err := h.Start(ctx); err != nil {
			return xerrors.Errorf("starting harness: %w", err)
		}

		requests := make(chan model.Genome)
		responses := make(chan scheduler.Fitness)
		eg, ctx := errgroup.WithContext(ctx)
		eg.Go(func() error {
			defer close(requests)
			return readGenomes(ctx, os.Stdin, requests)
		})
		eg.Go(func() error {
			return writeFitness(ctx, os.Stdout, responses)
		})
		eg.Go(func() error {
			err := h.Serve(ctx, requests, responses)
			if errors.Is(err, scheduler.ErrChannelClosed) {
				log.Infow("Genome input closed, stopping")
				return errInputClosed
			}
			return err
		})
		err = eg.Wait()
		if errors.Is(err, errInputClosed) {
			err = nil
		}
		return multierr.Append(err, h.Stop(c.Context))
	},
}

var errInputClosed = errors.New("genome input closed")

func readGenomes(ctx context.Context, r io.Reader, requests chan<- model.Genome) error {
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64<<10), 16<<20)
	for scanner.Scan() {
		if len(scanner.Bytes()) == 0 {
			continue
		}
		var genome model.Genome
		if err := json.Unmarshal(scanner.Bytes(), &genome); err != nil {
			return xerrors.Errorf("parsing genome: %w", err)
		}
		select {
		case requests <- genome:
		case <-ctx.Done():
			return nil
		}
	}
	return scanner.Err()
}

type fitnessLine struct {
	Kind             string   `json:"kind"`
	Value            float64  `json:"value"`
	Outcome          string   `json:"outcome"`
	Ledgers          int      `json:"ledgers"`
	FailedRounds     int      `json:"failedRounds"`
	DurationMs       int64    `json:"durationMs"`
	AccumulatedDelay int64    `json:"accumulatedDelayMs"`
	Violations       []string `json:"violations,omitempty"`
}

func writeFitness(ctx context.Context, w io.Writer, responses <-chan scheduler.Fitness) error {
	enc := json.NewEncoder(w)
	for {
		select {
		case <-ctx.Done():
			return nil
		case f := <-responses:
			line := fitnessLine{
				Kind:             f.Kind.String(),
				Value:            f.Value,
				Outcome:          f.Outcome.String(),
				Ledgers:          f.Ledgers,
				FailedRounds:     f.FailedRounds,
				DurationMs:       f.Duration.Milliseconds(),
				AccumulatedDelay: f.AccumulatedDelay.Milliseconds(),
			}
			for _, v := range f.Violations {
				line.Violations = append(line.Violations, v.String())
			}
			if err := enc.Encode(line); err != nil {
				return xerrors.Errorf("writing fitness: %w", err)
			}
		}
	}
}
