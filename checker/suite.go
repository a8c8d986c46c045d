package checker

import (
	"context"
	"sync"

	"github.com/Kubuxu/go-broadcast"
	"github.com/byzfuzz/rmo/model"
	"github.com/byzfuzz/rmo/wire"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// Suite runs every check on each delivered message, in order, and applies the
// termination policy to what they report.
type Suite struct {
	validators *model.ValidatorSet
	checks     []Check
	terminate  map[Kind]bool

	mu            sync.Mutex
	violations    []Violation
	busViolations broadcast.Channel[*Violation]
}

// NewSuite builds the timeout, integrity, agreement and double spend checks,
// plus the insufficient support check when support groups are configured.
func NewSuite(vs *model.ValidatorSet, o ...Option) (*Suite, error) {
	opts, err := newOptions(o...)
	if err != nil {
		return nil, err
	}
	s := &Suite{
		validators: vs,
		checks: []Check{
			NewTimeoutCheck(opts.ceiling),
			NewIntegrityCheck(),
			NewAgreementCheck(),
			NewDoubleSpendCheck(),
		},
		terminate: map[Kind]bool{Timeout: true},
	}
	if len(opts.majority) > 0 || len(opts.minority) > 0 {
		support, err := NewInsufficientSupportCheck(vs, opts.majority, opts.minority, opts.excluded)
		if err != nil {
			return nil, err
		}
		s.checks = append(s.checks, support)
	}
	s.checks = append(s.checks, opts.extra...)
	for _, k := range opts.terminateOn {
		s.terminate[k] = true
	}
	return s, nil
}

// Observe runs the checks on a message delivered from a validator. Observe is
// called from a single goroutine.
func (s *Suite) Observe(ctx context.Context, from model.NodeIndex, msg wire.Message) Outcome {
	o := NewObservation(s.validators, from, msg)
	outcome := OK
	for _, c := range s.checks {
		for _, v := range c.Check(o) {
			s.record(ctx, v)
			switch {
			case v.Kind == Timeout:
				outcome = TimedOut
			case s.terminate[v.Kind] && outcome != TimedOut:
				outcome = Terminate
			case outcome == OK:
				outcome = Flagged
			}
		}
	}
	return outcome
}

func (s *Suite) record(ctx context.Context, v Violation) {
	log.Warnw("Property violated", "kind", v.Kind, "seq", v.Seq, "node", v.Node, "detail", v.Detail)
	metrics.violations.Add(ctx, 1, metric.WithAttributes(attribute.String("kind", v.Kind.String())))

	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = append(s.violations, v)
	published := v
	s.busViolations.Publish(&published)
}

// Violations returns the violations recorded since the last reset.
func (s *Suite) Violations() []Violation {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]Violation(nil), s.violations...)
}

// Outcome classifies the violations recorded since the last reset the way
// Observe classifies those raised by one message.
func (s *Suite) Outcome() Outcome {
	s.mu.Lock()
	defer s.mu.Unlock()
	outcome := OK
	for _, v := range s.violations {
		switch {
		case v.Kind == Timeout:
			return TimedOut
		case s.terminate[v.Kind]:
			outcome = Terminate
		case outcome == OK:
			outcome = Flagged
		}
	}
	return outcome
}

// Count returns the number of recorded violations of kind k.
func (s *Suite) Count(k Kind) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	for _, v := range s.violations {
		if v.Kind == k {
			n++
		}
	}
	return n
}

// Terminates reports whether violations of kind k end the run.
func (s *Suite) Terminates(k Kind) bool { return s.terminate[k] }

// Subscribe delivers every violation recorded from now on to ch. If ch is full
// at any point it is dropped from the subscription and closed.
func (s *Suite) Subscribe(ch chan<- *Violation) (closer func()) {
	_, closer = s.busViolations.Subscribe(ch)
	return closer
}

// Reset clears every check and the recorded violations. It must not be
// called concurrently with Observe.
func (s *Suite) Reset() {
	for _, c := range s.checks {
		c.Reset()
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.violations = nil
}
