package scheduler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/byzfuzz/rmo/checker"
	"github.com/byzfuzz/rmo/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/xerrors"
)

// FitnessKind selects the scalar a schedule evaluation reports. Higher is
// more disruptive.
type FitnessKind int

const (
	// FailedRoundsFitness counts consensus rounds abandoned by any validator.
	FailedRoundsFitness FitnessKind = iota + 1
	// DurationFitness is the wall-clock time taken to validate the target
	// number of ledgers, in seconds.
	DurationFitness
	// AccumulatedDelayFitness is the total delay imposed on held events, in
	// seconds.
	AccumulatedDelayFitness
	// CompositeFitness adds failed rounds, violations and the fraction of the
	// run timeout consumed.
	CompositeFitness
)

func (k FitnessKind) String() string {
	switch k {
	case FailedRoundsFitness:
		return "failed-rounds"
	case DurationFitness:
		return "duration"
	case AccumulatedDelayFitness:
		return "accumulated-delay"
	case CompositeFitness:
		return "composite"
	default:
		return fmt.Sprintf("FitnessKind(%d)", int(k))
	}
}

func ParseFitnessKind(s string) (FitnessKind, error) {
	for k := FailedRoundsFitness; k <= CompositeFitness; k++ {
		if k.String() == s {
			return k, nil
		}
	}
	return 0, fmt.Errorf("unknown fitness kind %q", s)
}

func (k FitnessKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

func (k *FitnessKind) UnmarshalText(text []byte) error {
	parsed, err := ParseFitnessKind(string(text))
	if err != nil {
		return err
	}
	*k = parsed
	return nil
}

// Fitness is the result of running the cluster under one schedule.
type Fitness struct {
	Kind  FitnessKind
	Value float64

	Genome           model.Genome
	Ledgers          int
	FailedRounds     int
	Duration         time.Duration
	AccumulatedDelay time.Duration
	Outcome          checker.Outcome
	Violations       []checker.Violation
}

// RoundTrigger starts fresh consensus activity on the cluster, typically by
// submitting a transaction workload.
type RoundTrigger interface {
	StartRound(ctx context.Context) error
}

// RoundTriggerFunc adapts a function to RoundTrigger.
type RoundTriggerFunc func(ctx context.Context) error

func (f RoundTriggerFunc) StartRound(ctx context.Context) error { return f(ctx) }

const (
	DefaultTargetLedgers = 5
	DefaultRunTimeout    = 2 * time.Minute
)

// EvaluatorConfig controls how a schedule is measured.
type EvaluatorConfig struct {
	Kind FitnessKind `json:"kind"`
	// TargetLedgers is the number of newly validated ledgers that completes a
	// run.
	TargetLedgers int `json:"targetLedgers"`
	// RunTimeout ends a run that has not completed.
	RunTimeout time.Duration `json:"runTimeout"`
}

func DefaultEvaluatorConfig() EvaluatorConfig {
	return EvaluatorConfig{
		Kind:          FailedRoundsFitness,
		TargetLedgers: DefaultTargetLedgers,
		RunTimeout:    DefaultRunTimeout,
	}
}

func (c EvaluatorConfig) Validate() error {
	switch {
	case c.Kind < FailedRoundsFitness || c.Kind > CompositeFitness:
		return fmt.Errorf("unknown fitness kind %d", c.Kind)
	case c.TargetLedgers < 1:
		return fmt.Errorf("target ledgers must be at least 1, got %d", c.TargetLedgers)
	case c.RunTimeout <= 0:
		return fmt.Errorf("run timeout must be positive, got %s", c.RunTimeout)
	}
	return nil
}

// Evaluator measures the fitness of schedules against the live cluster. Its
// methods must be called from a single goroutine.
type Evaluator struct {
	scheduler *Scheduler
	trigger   RoundTrigger
	config    EvaluatorConfig
	// violationBuffer sizes the subscription that ends runs early.
	violationBuffer int
}

// NewEvaluator returns an evaluator driving s. The trigger may be nil when
// the cluster produces consensus activity on its own.
func NewEvaluator(s *Scheduler, trigger RoundTrigger, config EvaluatorConfig) (*Evaluator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	return &Evaluator{scheduler: s, trigger: trigger, config: config, violationBuffer: 64}, nil
}

// ApplySchedule installs the schedule encoded by genome, runs the cluster
// until it validates the target number of ledgers, a run-ending violation is
// reported or the run times out, and returns the resulting fitness.
func (ev *Evaluator) ApplySchedule(ctx context.Context, genome model.Genome) (Fitness, error) {
	s := ev.scheduler
	schedule, err := s.Decode(genome)
	if err != nil {
		return Fitness{}, err
	}
	if err := s.Install(schedule); err != nil {
		return Fitness{}, err
	}
	if err := s.Reset(ctx); err != nil {
		return Fitness{}, xerrors.Errorf("resetting run state: %w", err)
	}

	violations := make(chan *checker.Violation, ev.violationBuffer)
	closer := s.suite.Subscribe(violations)
	defer func() { closer() }()

	clk := s.opts.clock
	start := clk.Now()
	from := s.states.Validated().Seq
	goal := from + uint32(ev.config.TargetLedgers)
	if ev.trigger != nil {
		if err := ev.trigger.StartRound(ctx); err != nil {
			return Fitness{}, xerrors.Errorf("starting round: %w", err)
		}
	}

	runCtx, cancel := clk.WithTimeout(ctx, ev.config.RunTimeout)
	defer cancel()
	reached := make(chan error, 1)
	go func() {
		reached <- s.states.WaitFor(runCtx, model.ValidatedChanged, func(v model.View) bool {
			return v.Validated.Seq >= goal
		})
	}()

	var timedOut bool
	for waiting := true; waiting; {
		select {
		case err := <-reached:
			waiting = false
			switch {
			case err == nil:
			case ctx.Err() != nil:
				return Fitness{}, ctx.Err()
			case errors.Is(err, context.DeadlineExceeded):
				timedOut = true
			default:
				return Fitness{}, err
			}
		case _, ok := <-violations:
			if !ok {
				// Dropped by the bus for falling behind. The suite still
				// records every violation, so resubscribe and consult it.
				closer()
				violations = make(chan *checker.Violation, ev.violationBuffer)
				closer = s.suite.Subscribe(violations)
			}
			if !s.suite.Outcome().Stops() {
				continue
			}
			cancel()
			<-reached
			waiting = false
		}
	}

	outcome := s.suite.Outcome()
	if timedOut {
		outcome = checker.TimedOut
	}

	view := s.states.Snapshot()
	f := Fitness{
		Kind:             ev.config.Kind,
		Genome:           append(model.Genome(nil), genome...),
		FailedRounds:     view.FailedRounds,
		Duration:         clk.Since(start),
		AccumulatedDelay: s.Applied(),
		Outcome:          outcome,
		Violations:       s.suite.Violations(),
	}
	if view.Validated.Seq > from {
		f.Ledgers = int(view.Validated.Seq - from)
	}
	f.Value = ev.score(f)
	metrics.fitness.Record(ctx, f.Value, metric.WithAttributes(attribute.String("kind", f.Kind.String())))
	log.Infow("Evaluated schedule", "kind", f.Kind, "value", f.Value, "outcome", f.Outcome,
		"ledgers", f.Ledgers, "failedRounds", f.FailedRounds, "duration", f.Duration, "violations", len(f.Violations))
	return f, nil
}

func (ev *Evaluator) score(f Fitness) float64 {
	switch f.Kind {
	case DurationFitness:
		return f.Duration.Seconds()
	case AccumulatedDelayFitness:
		return f.AccumulatedDelay.Seconds()
	case CompositeFitness:
		return float64(f.FailedRounds) + float64(len(f.Violations)) + min(1, f.Duration.Seconds()/ev.config.RunTimeout.Seconds())
	default:
		return float64(f.FailedRounds)
	}
}

// EvaluateFunc measures one genome. Evaluator.ApplySchedule is one.
type EvaluateFunc func(ctx context.Context, genome model.Genome) (Fitness, error)

// Serve answers fitness requests from a genetic search driver until ctx is
// done. A closed request channel means the driver went away without shutting
// the harness down, and is reported as ErrChannelClosed.
func Serve(ctx context.Context, evaluate EvaluateFunc, requests <-chan model.Genome, responses chan<- Fitness) error {
	for {
		select {
		case <-ctx.Done():
			return nil
		case genome, ok := <-requests:
			if !ok {
				return ErrChannelClosed
			}
			f, err := evaluate(ctx, genome)
			if err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return xerrors.Errorf("evaluating schedule: %w", err)
			}
			select {
			case responses <- f:
			case <-ctx.Done():
				return nil
			}
		}
	}
}
