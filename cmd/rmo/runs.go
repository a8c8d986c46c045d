package main

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/byzfuzz/rmo"
	"github.com/byzfuzz/rmo/ged"
	"github.com/byzfuzz/rmo/store"
	leveldb "github.com/ipfs/go-ds-leveldb"
	"github.com/urfave/cli/v2"
	"go.uber.org/multierr"
	"golang.org/x/xerrors"
)

func openStore(c *cli.Context) (*store.RunStore, func() error, error) {
	ds, err := leveldb.NewDatastore(c.String("datastore"), nil)
	if err != nil {
		return nil, nil, xerrors.Errorf("opening datastore: %w", err)
	}
	rs, err := store.NewRunStore(c.Context, ds)
	if err != nil {
		return nil, nil, multierr.Append(err, ds.Close())
	}
	// Closing the run store closes ds.
	return rs, rs.Close, nil
}

var runsCmd = cli.Command{
	Name:  "runs",
	Usage: "lists recorded runs",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "limit",
			Value: 20,
			Usage: "number of most recent runs to show, 0 for all",
		},
		&cli.BoolFlag{
			Name:  "violations",
			Usage: "also print the violations of each run",
		},
	},
	Action: func(c *cli.Context) (_err error) {
		rs, closer, err := openStore(c)
		if err != nil {
			return err
		}
		defer func() { _err = multierr.Append(_err, closer()) }()

		runs, err := rs.ListRuns(c.Context, c.Int("limit"))
		if err != nil {
			return err
		}
		w := tabwriter.NewWriter(c.App.Writer, 0, 4, 2, ' ', 0)
		_, _ = fmt.Fprintln(w, "ID\tSTARTED\tPOLICY\tFITNESS\tLEDGERS\tFAILED\tOUTCOME\tVIOLATIONS")
		for _, r := range runs {
			_, _ = fmt.Fprintf(w, "%d\t%s\t%s\t%s=%g\t%d\t%d\t%s\t%d\n",
				r.ID, r.StartedAt.Format("2006-01-02 15:04:05"), r.Policy, r.FitnessKind, r.Fitness,
				r.Ledgers, r.FailedRounds, r.Outcome, r.Violations)
			if !c.Bool("violations") || r.Violations == 0 {
				continue
			}
			vs, err := rs.Violations(c.Context, r.ID)
			if err != nil {
				return err
			}
			for _, v := range vs {
				_, _ = fmt.Fprintf(w, "\t%s\tseq=%d\tnode=%d\t%s\n", v.Kind, v.Seq, v.Node, v.Detail)
			}
		}
		return w.Flush()
	},
}

var gedCmd = cli.Command{
	Name:      "ged",
	Usage:     "compares the dependency graphs of two recorded runs",
	ArgsUsage: "<run> <run>",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "max-expansions",
			Usage: "bound on the search states expanded, 0 for unbounded",
		},
	},
	Action: func(c *cli.Context) (_err error) {
		if c.NArg() != 2 {
			return fmt.Errorf("expected two run IDs, got %d arguments", c.NArg())
		}
		var ids [2]uint64
		for i := range ids {
			id, err := strconv.ParseUint(c.Args().Get(i), 10, 64)
			if err != nil {
				return fmt.Errorf("parsing run ID %q: %w", c.Args().Get(i), err)
			}
			ids[i] = id
		}
		rs, closer, err := openStore(c)
		if err != nil {
			return err
		}
		defer func() { _err = multierr.Append(_err, closer()) }()

		var opts []ged.Option
		if n := c.Int("max-expansions"); n > 0 {
			opts = append(opts, ged.WithMaxExpansions(n))
		}
		cmp, err := rmo.CompareRuns(c.Context, rs, ids[0], ids[1], opts...)
		if err != nil {
			return err
		}
		exact := "exact"
		if !cmp.Distance.Optimal {
			exact = "upper bound"
		}
		_, _ = fmt.Fprintf(c.App.Writer, "distance: %g (%s, %d expansions)\nsimilarity: %.4f\n",
			cmp.Distance.Distance, exact, cmp.Distance.Expansions, cmp.Similarity)
		return nil
	},
}
