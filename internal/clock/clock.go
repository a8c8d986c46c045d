// Package clock provides the time source used by the scheduler and the
// consensus state tracker, so that tests can substitute a mock.
package clock

import (
	"github.com/benbjohnson/clock"
)

type (
	Clock  = clock.Clock
	Mock   = clock.Mock
	Timer  = clock.Timer
	Ticker = clock.Ticker
)

var realClock = clock.New()

// Real returns the wall clock.
func Real() Clock { return realClock }

// NewMock returns a mock clock set to the Unix epoch.
func NewMock() *Mock {
	return clock.NewMock()
}
