package scheduler

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"github.com/byzfuzz/rmo/checker"
	"github.com/byzfuzz/rmo/ged"
	"github.com/byzfuzz/rmo/model"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/sync/errgroup"
	"golang.org/x/xerrors"
)

// Scheduler arbitrates delivery of every intercepted event between
// validators. All forwarding happens on one goroutine: each event is checked
// by the property suite, folded into the node states and the dependency
// graph, and then queued on its link, exactly once. Each link feeds its
// outbox on its own goroutine, so a destination that stops reading holds up
// only the events addressed to it.
type Scheduler struct {
	opts       *options
	validators *model.ValidatorSet
	states     *model.NodeStates
	suite      *checker.Suite
	graph      *model.DependencyGraph
	policy     Policy

	inbox   chan *model.Event
	ready   chan *model.Event
	control chan func()
	links   []*link

	state   atomic.Int32
	running atomic.Bool
	nextID  atomic.Uint64
	done    chan struct{}
}

// New builds a scheduler for the given validators. Consensus state is
// tracked in states and every delivered event is checked by suite.
func New(vs *model.ValidatorSet, states *model.NodeStates, suite *checker.Suite, o ...Option) (*Scheduler, error) {
	opts, err := newOptions(o...)
	if err != nil {
		return nil, err
	}
	s := &Scheduler{
		opts:       opts,
		validators: vs,
		states:     states,
		suite:      suite,
		graph:      model.NewDependencyGraph(),
		inbox:      make(chan *model.Event, opts.inboxSize),
		ready:      make(chan *model.Event, opts.maxInFlightDelays),
		control:    make(chan func()),
		done:       make(chan struct{}),
	}
	switch opts.policy {
	case PriorityPolicyKind:
		if s.policy, err = NewPriorityPolicy(opts.clock, s.ready, opts.rate); err != nil {
			return nil, err
		}
	default:
		s.policy = NewDelayPolicy(opts.clock, s.ready, opts.maxInFlightDelays)
	}
	n := vs.Len()
	s.links = make([]*link, n*n)
	for from := 0; from < n; from++ {
		for to := 0; to < n; to++ {
			if from != to {
				s.links[from*n+to] = newLink(opts.outboxSize)
			}
		}
	}
	return s, nil
}

func (s *Scheduler) State() State { return State(s.state.Load()) }

func (s *Scheduler) setState(to State) {
	from := State(s.state.Swap(int32(to)))
	if from != to {
		log.Infow("Scheduler state changed", "from", from, "to", to)
	}
}

// MarkStable moves the scheduler from Passthrough to Scheduling. It has no
// effect in any other state.
func (s *Scheduler) MarkStable() {
	if s.state.CompareAndSwap(int32(Passthrough), int32(Scheduling)) {
		log.Infow("Scheduler state changed", "from", Passthrough, "to", Scheduling)
	}
}

func (s *Scheduler) Policy() Policy { return s.policy }

// Decode interprets genome as a schedule for the configured policy.
func (s *Scheduler) Decode(genome model.Genome) (model.Schedule, error) {
	return s.policy.Decode(s.validators.Len(), genome)
}

// Install replaces the active schedule. It is safe to call while running.
func (s *Scheduler) Install(schedule model.Schedule) error {
	if schedule.Validators() != s.validators.Len() {
		return fmt.Errorf("schedule for %d validators on a cluster of %d: %w", schedule.Validators(), s.validators.Len(), ErrScheduleMismatch)
	}
	if err := s.policy.Install(schedule); err != nil {
		return err
	}
	log.Debugw("Installed schedule", "policy", s.policy.Kind(), "genes", len(schedule.Genome()))
	return nil
}

// Applied returns the delay imposed on held events since the last Reset.
func (s *Scheduler) Applied() time.Duration { return s.policy.Applied() }

// Outbox returns the channel on which events travelling from one validator
// to another are delivered, or nil if there is no such link.
func (s *Scheduler) Outbox(from, to model.NodeIndex) <-chan *model.Event {
	i, ok := s.link(from, to)
	if !ok {
		return nil
	}
	return s.links[i].out
}

// Backlog returns the number of events queued for the link from one
// validator to another that did not fit in its outbox yet.
func (s *Scheduler) Backlog(from, to model.NodeIndex) int {
	i, ok := s.link(from, to)
	if !ok {
		return 0
	}
	return s.links[i].backlog()
}

func (s *Scheduler) link(from, to model.NodeIndex) (int, bool) {
	n := s.validators.Len()
	if from == to || from < 0 || to < 0 || int(from) >= n || int(to) >= n {
		return 0, false
	}
	return int(from)*n + int(to), true
}

// Submit hands an intercepted event to the scheduler, assigning its ID and,
// if unset, its arrival time.
func (s *Scheduler) Submit(ctx context.Context, e *model.Event) error {
	if _, ok := s.link(e.From, e.To); !ok {
		return fmt.Errorf("event from %d to %d: %w", e.From, e.To, ErrUnknownNode)
	}
	select {
	case <-s.done:
		return ErrStopped
	default:
	}
	e.ID = s.nextID.Add(1)
	if e.ArrivedAt.IsZero() {
		e.ArrivedAt = s.opts.clock.Now()
	}
	select {
	case s.inbox <- e:
		return nil
	case <-s.done:
		return ErrStopped
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Reset clears the property suite, the dependency graph, the per-run node
// state history and the applied delay, between two runs.
func (s *Scheduler) Reset(ctx context.Context) error {
	return s.do(ctx, func() {
		s.suite.Reset()
		s.graph.Reset()
		s.states.Reset()
		s.policy.Reset()
	})
}

// Graph returns the labelled dependency graph of the current run.
func (s *Scheduler) Graph(ctx context.Context) (*ged.Graph, error) {
	var g *ged.Graph
	err := s.do(ctx, func() { g = s.graph.Labeled() })
	return g, err
}

// GraphStats returns the size of the current dependency graph and whether it
// is acyclic.
func (s *Scheduler) GraphStats(ctx context.Context) (nodes, edges int, acyclic bool, err error) {
	err = s.do(ctx, func() {
		nodes, edges, acyclic = s.graph.Len(), s.graph.NumEdges(), s.graph.IsAcyclic()
	})
	return
}

// do runs fn on the forwarding goroutine, or directly when that goroutine is
// not running.
func (s *Scheduler) do(ctx context.Context, fn func()) error {
	select {
	case <-s.done:
		fn()
		return nil
	default:
	}
	if !s.running.Load() {
		fn()
		return nil
	}
	finished := make(chan struct{})
	select {
	case s.control <- func() { defer close(finished); fn() }:
		<-finished
		return nil
	case <-s.done:
		fn()
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run forwards events until ctx is cancelled, then drains every held event
// and stops. It may only be called once.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer close(s.done)

	background, cancel := context.WithCancel(ctx)
	var eg errgroup.Group
	eg.Go(func() error {
		s.policy.Run(background)
		return nil
	})
	eg.Go(func() error {
		s.awaitStable(background)
		return nil
	})

	// Links outlive ctx so that draining can still deliver.
	linkCtx, stopLinks := context.WithCancel(context.WithoutCancel(ctx))
	defer stopLinks()
	var undelivered atomic.Int64
	var links errgroup.Group
	policy := s.policy.Kind().String()
	for _, l := range s.links {
		l := l
		if l != nil {
			links.Go(func() error {
				undelivered.Add(int64(l.run(linkCtx, policy)))
				return nil
			})
		}
	}
	waitLinks := func(ctx context.Context) int {
		for _, l := range s.links {
			if l != nil {
				l.close()
			}
		}
		stop := context.AfterFunc(ctx, stopLinks)
		defer stop()
		_ = links.Wait()
		return int(undelivered.Load())
	}

	var held int
	for {
		select {
		case <-ctx.Done():
			cancel()
			_ = eg.Wait()
			return s.drain(ctx, held, waitLinks)
		case e := <-s.inbox:
			if s.admit(e) {
				held++
				continue
			}
			s.forward(ctx, e, false)
		case e := <-s.ready:
			held--
			s.forward(ctx, e, true)
		case fn := <-s.control:
			fn()
		}
	}
}

func (s *Scheduler) awaitStable(ctx context.Context) {
	ch := make(chan *model.ValidatedLedger, 1)
	last, closer := s.states.SubscribeValidated(ch)
	defer closer()
	if last != nil {
		s.MarkStable()
		return
	}
	select {
	case <-ctx.Done():
	case _, ok := <-ch:
		if ok {
			s.MarkStable()
		}
	}
}

// admit records the interception of e and reports whether the policy now
// holds it.
func (s *Scheduler) admit(e *model.Event) bool {
	s.graph.Sent(e)
	metrics.submitted.Add(context.Background(), 1,
		metric.WithAttributes(attribute.String("message-type", e.Type().String())))
	if s.State() != Scheduling {
		return false
	}
	t, ok := e.Consensus()
	if !ok {
		return false
	}
	return s.policy.Hold(e, t)
}

// forward observes e and queues it on its link.
func (s *Scheduler) forward(ctx context.Context, e *model.Event, held bool) {
	s.observe(ctx, e)
	i, _ := s.link(e.From, e.To)
	s.links[i].push(e, held)
}

// drain delivers what is left once Run is cancelled. Events still held when
// the drain timeout expires, or still queued on a link nobody reads, are
// dropped and reported.
func (s *Scheduler) drain(parent context.Context, held int, waitLinks func(context.Context) int) error {
	ctx, cancel := s.opts.clock.WithTimeout(context.WithoutCancel(parent), s.opts.drainTimeout)
	defer cancel()
	s.setState(Draining)

	// Submissions that raced with shutdown are delivered without delay.
	for pending := true; pending; {
		select {
		case e := <-s.inbox:
			s.admit(e)
			s.forward(ctx, e, false)
		default:
			pending = false
		}
	}
	for _, e := range s.policy.Flush() {
		held--
		s.forward(ctx, e, true)
	}

	var dropped int
	for held > 0 {
		select {
		case e := <-s.ready:
			held--
			s.forward(ctx, e, true)
		case <-ctx.Done():
			dropped += held
			held = 0
		}
	}
	dropped += waitLinks(ctx)
	s.setState(Stopped)
	if dropped > 0 {
		metrics.dropped.Add(context.Background(), int64(dropped))
		log.Errorw("Events undelivered at shutdown", "count", dropped, "timeout", s.opts.drainTimeout)
		return xerrors.Errorf("draining scheduler: %d events undelivered: %w", dropped, context.DeadlineExceeded)
	}
	return nil
}

// observe applies the forwarding side effects of e without delivering it.
func (s *Scheduler) observe(ctx context.Context, e *model.Event) {
	if outcome := s.suite.Observe(ctx, e.From, e.Message); outcome.Stops() {
		log.Debugw("Delivered event ends the run", "event", e.ID, "outcome", outcome)
	}
	s.states.Observe(e.From, e.Message)
	s.graph.Delivered(e)
}
