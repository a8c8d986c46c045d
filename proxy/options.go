package proxy

import (
	"context"
	"errors"
	"net"
	"time"

	"github.com/byzfuzz/rmo/internal/clock"
)

const (
	DefaultDialTimeout         = 5 * time.Second
	DefaultBreakerMaxFailures  = 3
	DefaultBreakerResetTimeout = 2 * time.Second
	DefaultReadBufferSize      = 32 << 10
	DefaultDuplicateWindow     = 4096
)

// Dialer opens upstream connections to validators.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

type Option func(*options) error

type options struct {
	clock               clock.Clock
	dialer              Dialer
	dialTimeout         time.Duration
	breakerMaxFailures  int
	breakerResetTimeout time.Duration
	readBufferSize      int
	duplicateWindow     int
}

func newOptions(o ...Option) (*options, error) {
	opts := &options{
		clock:               clock.Real(),
		dialer:              &net.Dialer{},
		dialTimeout:         DefaultDialTimeout,
		breakerMaxFailures:  DefaultBreakerMaxFailures,
		breakerResetTimeout: DefaultBreakerResetTimeout,
		readBufferSize:      DefaultReadBufferSize,
		duplicateWindow:     DefaultDuplicateWindow,
	}
	for _, apply := range o {
		if err := apply(opts); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

// WithClock sets the clock used to stamp arrivals and to time out dials.
func WithClock(clk clock.Clock) Option {
	return func(o *options) error {
		if clk == nil {
			return errors.New("clock must not be nil")
		}
		o.clock = clk
		return nil
	}
}

// WithDialer sets the dialer used to reach validators. Defaults to a plain
// TCP net.Dialer.
func WithDialer(d Dialer) Option {
	return func(o *options) error {
		if d == nil {
			return errors.New("dialer must not be nil")
		}
		o.dialer = d
		return nil
	}
}

func WithDialTimeout(timeout time.Duration) Option {
	return func(o *options) error {
		if timeout <= 0 {
			return errors.New("dial timeout must be positive")
		}
		o.dialTimeout = timeout
		return nil
	}
}

// WithCircuitBreaker sets how many consecutive dial failures to a validator
// stop further dials, and for how long.
func WithCircuitBreaker(maxFailures int, resetTimeout time.Duration) Option {
	return func(o *options) error {
		if maxFailures < 1 {
			return errors.New("max failures must be at least 1")
		}
		if resetTimeout < 0 {
			return errors.New("reset timeout must not be negative")
		}
		o.breakerMaxFailures = maxFailures
		o.breakerResetTimeout = resetTimeout
		return nil
	}
}

func WithReadBufferSize(size int) Option {
	return func(o *options) error {
		if size < 1 {
			return errors.New("read buffer size must be positive")
		}
		o.readBufferSize = size
		return nil
	}
}

// WithDuplicateWindow sets the number of recent payloads remembered to count
// relayed duplicates.
func WithDuplicateWindow(size int) Option {
	return func(o *options) error {
		if size < 1 {
			return errors.New("duplicate window must be positive")
		}
		o.duplicateWindow = size
		return nil
	}
}
