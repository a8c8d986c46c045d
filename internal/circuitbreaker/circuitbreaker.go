// Package circuitbreaker guards repeated attempts at an unreliable operation,
// such as dialling a validator that is restarting.
package circuitbreaker

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/byzfuzz/rmo/internal/clock"
)

const (
	Closed Status = iota
	Open
	HalfOpen
)

// ErrOpen signals that the circuit is open. See CircuitBreaker.Run.
var ErrOpen = errors.New("circuit breaker is open")

type Status int

func (s Status) String() string {
	switch s {
	case Closed:
		return "closed"
	case Open:
		return "open"
	case HalfOpen:
		return "half-open"
	default:
		return fmt.Sprintf("Status(%d)", int(s))
	}
}

type CircuitBreaker struct {
	clk          clock.Clock
	maxFailures  int
	resetTimeout time.Duration

	// mu guards access to status, lastFailure and failures.
	mu          sync.Mutex
	failures    int
	lastFailure time.Time
	status      Status
}

// New creates a CircuitBreaker that opens after maxFailures consecutive
// failures and allows another attempt once resetTimeout has passed on clk.
func New(clk clock.Clock, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	return &CircuitBreaker{
		clk:          clk,
		maxFailures:  max(1, maxFailures),
		resetTimeout: resetTimeout,
	}
}

// Run makes an attempt unless the circuit is open.
//
// While open, Run returns ErrOpen without attempting until resetTimeout has
// passed since the circuit opened. The next attempt is then made half-open: a
// failure opens the circuit again and a success closes it. Attempts are
// serialised.
func (cb *CircuitBreaker) Run(attempt func() error) error {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	switch cb.status {
	case Open:
		if cb.clk.Since(cb.lastFailure) < cb.resetTimeout {
			return ErrOpen
		}
		cb.status = HalfOpen
		fallthrough
	case HalfOpen, Closed:
		if err := attempt(); err != nil {
			cb.failures++
			if cb.status == HalfOpen || cb.failures >= cb.maxFailures {
				cb.status = Open
				cb.lastFailure = cb.clk.Now()
			}
			return err
		}
		cb.status = Closed
		cb.failures = 0
		return nil
	default:
		return fmt.Errorf("unknown status: %d", cb.status)
	}
}

// Status returns the current status of the CircuitBreaker.
func (cb *CircuitBreaker) Status() Status {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.status
}
