package checker

import (
	"errors"

	"github.com/byzfuzz/rmo/model"
)

// DefaultMessageCeiling is the number of delivered messages after which a run
// times out.
const DefaultMessageCeiling = 1_000_000

type Option func(*options) error

type options struct {
	ceiling     uint64
	terminateOn []Kind
	majority    []model.NodeIndex
	minority    []model.NodeIndex
	excluded    []model.NodeIndex
	extra       []Check
}

func newOptions(o ...Option) (*options, error) {
	opts := &options{ceiling: DefaultMessageCeiling}
	for _, apply := range o {
		if err := apply(opts); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

// WithMessageCeiling sets the message count after which the run times out.
func WithMessageCeiling(n uint64) Option {
	return func(o *options) error {
		if n == 0 {
			return errors.New("message ceiling must be positive")
		}
		o.ceiling = n
		return nil
	}
}

// WithTerminateOn sets the violation kinds that end the run. Timeout always
// ends the run.
func WithTerminateOn(kinds ...Kind) Option {
	return func(o *options) error {
		o.terminateOn = kinds
		return nil
	}
}

// WithSupportGroups enables the insufficient support check over the given
// groups.
func WithSupportGroups(majority, minority, excluded []model.NodeIndex) Option {
	return func(o *options) error {
		o.majority = majority
		o.minority = minority
		o.excluded = excluded
		return nil
	}
}

// WithChecks appends checks run after the built-in ones.
func WithChecks(checks ...Check) Option {
	return func(o *options) error {
		o.extra = append(o.extra, checks...)
		return nil
	}
}
