package scheduler

import (
	"errors"
	"fmt"
	"time"

	"github.com/byzfuzz/rmo/internal/clock"
)

const (
	// DefaultMaxInFlightDelays bounds the number of concurrently delayed
	// events. Events beyond the bound are delivered without delay.
	DefaultMaxInFlightDelays = 4096
	DefaultInboxSize         = 1024
	DefaultOutboxSize        = 256
	DefaultDrainTimeout      = 10 * time.Second
)

// Priority controller defaults.
const (
	DefaultTargetDepth = 32
	DefaultInitialRate = 200.0
	DefaultRateFactor  = 1.25
	DefaultMinRate     = 1.0
	DefaultMaxRate     = 10_000.0
)

type Option func(*options) error

type options struct {
	clock             clock.Clock
	policy            PolicyKind
	maxInFlightDelays int64
	inboxSize         int
	outboxSize        int
	drainTimeout      time.Duration
	rate              RateConfig
}

func newOptions(o ...Option) (*options, error) {
	opts := &options{
		clock:             clock.Real(),
		policy:            DelayPolicyKind,
		maxInFlightDelays: DefaultMaxInFlightDelays,
		inboxSize:         DefaultInboxSize,
		outboxSize:        DefaultOutboxSize,
		drainTimeout:      DefaultDrainTimeout,
		rate:              DefaultRateConfig(),
	}
	for _, apply := range o {
		if err := apply(opts); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

// WithClock sets the clock used for delays, controller ticks and deadlines.
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		if clk == nil {
			return errors.New("clock must not be nil")
		}
		o.clock = clk
		return nil
	}
}

// WithPolicy selects the scheduling policy. Defaults to DelayPolicyKind.
func WithPolicy(kind PolicyKind) Option {
	return func(o *options) error {
		switch kind {
		case DelayPolicyKind, PriorityPolicyKind:
			o.policy = kind
			return nil
		default:
			return fmt.Errorf("unknown policy %d", kind)
		}
	}
}

// WithMaxInFlightDelays bounds the number of events delayed at once.
func WithMaxInFlightDelays(n int64) Option {
	return func(o *options) error {
		if n < 1 {
			return fmt.Errorf("max in-flight delays must be at least 1, got %d", n)
		}
		o.maxInFlightDelays = n
		return nil
	}
}

// WithInboxSize sets the buffer size of the submission channel.
func WithInboxSize(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return fmt.Errorf("inbox size must not be negative, got %d", n)
		}
		o.inboxSize = n
		return nil
	}
}

// WithOutboxSize sets the buffer size of every per-link delivery channel.
func WithOutboxSize(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return fmt.Errorf("outbox size must not be negative, got %d", n)
		}
		o.outboxSize = n
		return nil
	}
}

// WithDrainTimeout bounds how long shutdown waits for held events.
func WithDrainTimeout(d time.Duration) Option {
	return func(o *options) error {
		if d <= 0 {
			return fmt.Errorf("drain timeout must be positive, got %s", d)
		}
		o.drainTimeout = d
		return nil
	}
}

// WithRateConfig sets the priority controller constants.
func WithRateConfig(c RateConfig) Option {
	return func(o *options) error {
		if err := c.Validate(); err != nil {
			return err
		}
		o.rate = c
		return nil
	}
}
