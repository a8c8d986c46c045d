// Package rmo wires a fuzzing harness around a cluster of validators: proxies
// intercept their traffic, a scheduler delays or reorders consensus messages
// according to a schedule, a property checker watches what is delivered and a
// store records the outcome of every schedule evaluated.
package rmo

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/byzfuzz/rmo/checker"
	"github.com/byzfuzz/rmo/ged"
	"github.com/byzfuzz/rmo/internal/clock"
	"github.com/byzfuzz/rmo/model"
	"github.com/byzfuzz/rmo/proxy"
	"github.com/byzfuzz/rmo/scheduler"
	"github.com/byzfuzz/rmo/store"
	"github.com/ipfs/go-datastore"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

var ErrNotRunning = errors.New("harness is not running")

type Option func(*options) error

type options struct {
	clock        clock.Clock
	trigger      scheduler.RoundTrigger
	proxyOptions []proxy.Option
}

// WithClock sets the clock of the scheduler, the node state tracker and the
// proxies.
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		if clk == nil {
			return errors.New("clock must not be nil")
		}
		o.clock = clk
		return nil
	}
}

// WithRoundTrigger sets how fresh consensus activity is started at the
// beginning of each run. By default the cluster is left to close ledgers on
// its own.
func WithRoundTrigger(trigger scheduler.RoundTrigger) Option {
	return func(o *options) error {
		o.trigger = trigger
		return nil
	}
}

// WithProxyOptions passes options to the proxies.
func WithProxyOptions(o ...proxy.Option) Option {
	return func(opts *options) error {
		opts.proxyOptions = append(opts.proxyOptions, o...)
		return nil
	}
}

type Harness struct {
	config     Config
	clock      clock.Clock
	validators *model.ValidatorSet
	states     *model.NodeStates
	suite      *checker.Suite
	scheduler  *scheduler.Scheduler
	evaluator  *scheduler.Evaluator
	proxy      *proxy.Proxy
	store      *store.RunStore

	runningCtx context.Context
	cancelCtx  context.CancelFunc
	errgrp     *errgroup.Group

	// evalMu serialises evaluations, which share the scheduler.
	evalMu  sync.Mutex
	nextRun uint64
}

// New builds a harness for cfg. Runs are recorded in ds when it is not nil;
// ds has to be thread safe. The context is used for initialization not
// runtime.
func New(ctx context.Context, cfg Config, ds datastore.Batching, o ...Option) (*Harness, error) {
	if err := cfg.Validate(); err != nil {
		return nil, xerrors.Errorf("invalid config: %w", err)
	}
	opts := &options{clock: clock.Real()}
	for _, apply := range o {
		if err := apply(opts); err != nil {
			return nil, err
		}
	}

	h := &Harness{config: cfg, clock: opts.clock}
	var err error
	if h.validators, err = model.NewValidatorSet(cfg.Validators); err != nil {
		return nil, err
	}
	h.states = model.NewNodeStates(opts.clock, h.validators)
	if h.suite, err = checker.NewSuite(h.validators, cfg.checkerOptions()...); err != nil {
		return nil, xerrors.Errorf("creating property checker: %w", err)
	}
	schedOpts := append(cfg.schedulerOptions(), scheduler.WithClock(opts.clock))
	if h.scheduler, err = scheduler.New(h.validators, h.states, h.suite, schedOpts...); err != nil {
		return nil, xerrors.Errorf("creating scheduler: %w", err)
	}
	if h.evaluator, err = scheduler.NewEvaluator(h.scheduler, opts.trigger, cfg.Fitness); err != nil {
		return nil, xerrors.Errorf("creating evaluator: %w", err)
	}
	proxyOpts := append([]proxy.Option{proxy.WithClock(opts.clock)}, opts.proxyOptions...)
	if h.proxy, err = proxy.New(h.validators, h.scheduler, cfg.Routes, proxyOpts...); err != nil {
		return nil, xerrors.Errorf("creating proxy: %w", err)
	}
	if ds != nil {
		if h.store, err = store.NewRunStore(ctx, ds); err != nil {
			return nil, xerrors.Errorf("opening run store: %w", err)
		}
		h.nextRun = h.store.NextID()
	}
	return h, nil
}

// Start runs the scheduler and the proxies in the background until Stop is
// called or one of them fails.
func (h *Harness) Start(startCtx context.Context) error {
	if h.runningCtx != nil {
		return errors.New("harness already started")
	}
	runningCtx, cancel := context.WithCancel(context.WithoutCancel(startCtx))
	h.errgrp, h.runningCtx = errgroup.WithContext(runningCtx)
	h.cancelCtx = cancel

	h.errgrp.Go(func() error {
		if err := h.scheduler.Run(h.runningCtx); err != nil {
			return xerrors.Errorf("scheduler: %w", err)
		}
		return nil
	})
	h.errgrp.Go(func() error {
		if err := h.proxy.Run(h.runningCtx); err != nil {
			return xerrors.Errorf("proxy: %w", err)
		}
		return nil
	})
	log.Infow("Harness started", "validators", h.validators.Len(), "routes", len(h.config.Routes), "policy", h.config.Policy)
	return nil
}

// Stop cancels the harness and waits for held messages to drain.
func (h *Harness) Stop(context.Context) error {
	if h.cancelCtx == nil {
		return ErrNotRunning
	}
	h.cancelCtx()
	err := h.errgrp.Wait()
	log.Infow("Harness stopped", "error", err)
	return err
}

// Done is closed once the harness stops, for example because a proxy failed
// to listen.
func (h *Harness) Done() <-chan struct{} {
	if h.runningCtx == nil {
		return nil
	}
	return h.runningCtx.Done()
}

func (h *Harness) Scheduler() *scheduler.Scheduler { return h.scheduler }

func (h *Harness) Store() *store.RunStore { return h.store }

// Evaluate applies the schedule encoded by genome for one run and records
// the result.
func (h *Harness) Evaluate(ctx context.Context, genome model.Genome) (scheduler.Fitness, error) {
	if h.runningCtx == nil {
		return scheduler.Fitness{}, ErrNotRunning
	}
	h.evalMu.Lock()
	defer h.evalMu.Unlock()

	start := h.clock.Now()
	f, err := h.evaluator.ApplySchedule(ctx, genome)
	recordEvaluation(ctx, h.clock.Since(start), f.Outcome, err)
	if err != nil {
		return f, err
	}

	run := h.nextRun
	h.nextRun++
	if h.store != nil {
		if err := h.record(ctx, run, start, f); err != nil {
			metrics.recordFailures.Add(ctx, 1)
			return f, xerrors.Errorf("recording run %d: %w", run, err)
		}
	}
	if f.Outcome != checker.OK {
		for _, v := range f.Violations {
			log.Warnw("Property violated", "run", run, "violation", v.String())
		}
	}
	return f, nil
}

func (h *Harness) record(ctx context.Context, run uint64, start time.Time, f scheduler.Fitness) error {
	graph, err := h.scheduler.Graph(ctx)
	if err != nil {
		return xerrors.Errorf("snapshotting dependency graph: %w", err)
	}
	rec := &store.RunRecord{
		ID:               run,
		StartedAt:        start.UTC(),
		Policy:           h.config.Policy.String(),
		FitnessKind:      f.Kind.String(),
		Fitness:          f.Value,
		Genome:           f.Genome,
		Ledgers:          uint64(f.Ledgers),
		FailedRounds:     uint64(f.FailedRounds),
		Duration:         f.Duration,
		AccumulatedDelay: f.AccumulatedDelay,
		Outcome:          f.Outcome.String(),
		Violations:       uint64(len(f.Violations)),
	}
	violations := make([]store.ViolationRecord, len(f.Violations))
	for i, v := range f.Violations {
		violations[i] = store.ViolationRecord{
			Kind:   v.Kind.String(),
			Seq:    uint64(v.Seq),
			Node:   int64(v.Node),
			Detail: v.Detail,
		}
	}
	return h.store.SaveRun(ctx, rec, violations, graph)
}

// Serve answers fitness requests from a genetic search driver until ctx is
// done or the harness stops. See scheduler.Serve.
func (h *Harness) Serve(ctx context.Context, requests <-chan model.Genome, responses chan<- scheduler.Fitness) error {
	if h.runningCtx == nil {
		return ErrNotRunning
	}
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()
	stop := context.AfterFunc(h.runningCtx, cancel)
	defer stop()
	return scheduler.Serve(ctx, h.Evaluate, requests, responses)
}

// Comparison relates the dependency graphs of two runs.
type Comparison struct {
	// Distance is the graph edit distance between the two graphs.
	Distance ged.Result
	// Similarity is in [0, 1], 1 meaning the graphs are identical.
	Similarity float64
}

// CompareRuns measures how differently two recorded runs unfolded.
func (h *Harness) CompareRuns(ctx context.Context, a, b uint64, o ...ged.Option) (Comparison, error) {
	if h.store == nil {
		return Comparison{}, errors.New("no run store configured")
	}
	return CompareRuns(ctx, h.store, a, b, o...)
}

// CompareRuns measures how differently two runs recorded in rs unfolded.
func CompareRuns(ctx context.Context, rs *store.RunStore, a, b uint64, o ...ged.Option) (Comparison, error) {
	g1, err1 := rs.GetGraph(ctx, a)
	g2, err2 := rs.GetGraph(ctx, b)
	if err := multierr.Combine(err1, err2); err != nil {
		return Comparison{}, err
	}
	d, err := ged.Distance(ctx, g1, g2, o...)
	if err != nil {
		return Comparison{}, xerrors.Errorf("computing distance between runs %d and %d: %w", a, b, err)
	}
	return Comparison{Distance: d, Similarity: ged.Similarity(g1, g2)}, nil
}
