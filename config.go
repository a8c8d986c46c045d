package rmo

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/byzfuzz/rmo/checker"
	"github.com/byzfuzz/rmo/model"
	"github.com/byzfuzz/rmo/proxy"
	"github.com/byzfuzz/rmo/scheduler"
	"golang.org/x/xerrors"
)

// Config describes the cluster under test and how schedules are applied to
// it. Durations are encoded in nanoseconds.
type Config struct {
	Validators []model.Validator `json:"validators"`
	Routes     []proxy.Route     `json:"routes"`

	Policy            scheduler.PolicyKind      `json:"policy"`
	Fitness           scheduler.EvaluatorConfig `json:"fitness"`
	Rate              scheduler.RateConfig      `json:"rate"`
	MaxInFlightDelays int64                     `json:"maxInFlightDelays"`
	DrainTimeout      time.Duration             `json:"drainTimeout"`

	Checker CheckerConfig `json:"checker"`
}

// CheckerConfig selects the property checks and which violations end a run.
type CheckerConfig struct {
	MessageCeiling uint64         `json:"messageCeiling"`
	TerminateOn    []checker.Kind `json:"terminateOn,omitempty"`
	// Majority and Minority enable the insufficient support check. Excluded
	// validators are ignored by it.
	Majority []model.NodeIndex `json:"majority,omitempty"`
	Minority []model.NodeIndex `json:"minority,omitempty"`
	Excluded []model.NodeIndex `json:"excluded,omitempty"`
}

// DefaultConfig returns a configuration with no validators and every tunable
// at its default.
func DefaultConfig() Config {
	return Config{
		Policy:            scheduler.DelayPolicyKind,
		Fitness:           scheduler.DefaultEvaluatorConfig(),
		Rate:              scheduler.DefaultRateConfig(),
		MaxInFlightDelays: scheduler.DefaultMaxInFlightDelays,
		DrainTimeout:      scheduler.DefaultDrainTimeout,
		Checker:           CheckerConfig{MessageCeiling: checker.DefaultMessageCeiling},
	}
}

// LoadConfig reads a JSON configuration from path. Fields absent from the
// file keep their defaults.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, xerrors.Errorf("opening config: %w", err)
	}
	defer f.Close()
	cfg := DefaultConfig()
	if err := cfg.Unmarshal(f); err != nil {
		return nil, xerrors.Errorf("loading config from %s: %w", path, err)
	}
	return &cfg, nil
}

// Unmarshal decodes JSON over c and validates the result.
func (c *Config) Unmarshal(r io.Reader) error {
	dec := json.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(c); err != nil {
		return xerrors.Errorf("decoding config: %w", err)
	}
	return c.Validate()
}

func (c Config) Marshal() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

func (c Config) Validate() error {
	if len(c.Validators) < 2 {
		return fmt.Errorf("at least 2 validators are required, got %d", len(c.Validators))
	}
	if _, err := model.NewValidatorSet(c.Validators); err != nil {
		return err
	}
	switch c.Policy {
	case scheduler.DelayPolicyKind, scheduler.PriorityPolicyKind:
	default:
		return fmt.Errorf("unknown policy %d", c.Policy)
	}
	if err := c.Fitness.Validate(); err != nil {
		return xerrors.Errorf("fitness: %w", err)
	}
	if err := c.Rate.Validate(); err != nil {
		return xerrors.Errorf("rate: %w", err)
	}
	if c.MaxInFlightDelays < 1 {
		return errors.New("max in-flight delays must be positive")
	}
	if c.DrainTimeout <= 0 {
		return errors.New("drain timeout must be positive")
	}
	if c.Checker.MessageCeiling == 0 {
		return errors.New("message ceiling must be positive")
	}
	return nil
}

func (c Config) schedulerOptions() []scheduler.Option {
	return []scheduler.Option{
		scheduler.WithPolicy(c.Policy),
		scheduler.WithRateConfig(c.Rate),
		scheduler.WithMaxInFlightDelays(c.MaxInFlightDelays),
		scheduler.WithDrainTimeout(c.DrainTimeout),
	}
}

func (c Config) checkerOptions() []checker.Option {
	opts := []checker.Option{
		checker.WithMessageCeiling(c.Checker.MessageCeiling),
		checker.WithTerminateOn(c.Checker.TerminateOn...),
	}
	if len(c.Checker.Majority) > 0 || len(c.Checker.Minority) > 0 {
		opts = append(opts, checker.WithSupportGroups(c.Checker.Majority, c.Checker.Minority, c.Checker.Excluded))
	}
	return opts
}
