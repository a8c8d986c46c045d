package ged

import "errors"

type Option func(*options) error

type options struct {
	maxExpansions int
}

func newOptions(o ...Option) (*options, error) {
	opts := &options{}
	for _, apply := range o {
		if err := apply(opts); err != nil {
			return nil, err
		}
	}
	return opts, nil
}

// WithMaxExpansions bounds the number of search states the exact solver
// expands. Once the bound is reached the best distance found so far is
// returned as a non-optimal result. Zero, the default, means unbounded.
func WithMaxExpansions(n int) Option {
	return func(o *options) error {
		if n < 0 {
			return errors.New("max expansions must not be negative")
		}
		o.maxExpansions = n
		return nil
	}
}
