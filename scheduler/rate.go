package scheduler

import (
	"fmt"
	"time"
)

// RateConfig holds the constants of the priority policy's delivery rate
// controller. Rates are in events per second.
type RateConfig struct {
	// TargetDepth is the queue depth the controller steers towards. The rate
	// rises once the depth exceeds 1.5×TargetDepth and falls once it drops
	// below 0.5×TargetDepth.
	TargetDepth int     `json:"targetDepth"`
	Initial     float64 `json:"initialRate"`
	Factor      float64 `json:"factor"`
	Min         float64 `json:"minRate"`
	Max         float64 `json:"maxRate"`
}

func DefaultRateConfig() RateConfig {
	return RateConfig{
		TargetDepth: DefaultTargetDepth,
		Initial:     DefaultInitialRate,
		Factor:      DefaultRateFactor,
		Min:         DefaultMinRate,
		Max:         DefaultMaxRate,
	}
}

func (c RateConfig) Validate() error {
	switch {
	case c.TargetDepth < 1:
		return fmt.Errorf("target depth must be at least 1, got %d", c.TargetDepth)
	case c.Factor <= 1:
		return fmt.Errorf("rate factor must be greater than 1, got %g", c.Factor)
	case c.Min <= 0:
		return fmt.Errorf("minimum rate must be positive, got %g", c.Min)
	case c.Max < c.Min:
		return fmt.Errorf("maximum rate %g is below minimum rate %g", c.Max, c.Min)
	case c.Initial < c.Min || c.Initial > c.Max:
		return fmt.Errorf("initial rate %g outside [%g, %g]", c.Initial, c.Min, c.Max)
	}
	return nil
}

// RateController is a multiplicative feedback controller over the priority
// queue depth. It is not safe for concurrent use.
type RateController struct {
	config RateConfig
	rate   float64
}

func NewRateController(c RateConfig) (*RateController, error) {
	if err := c.Validate(); err != nil {
		return nil, err
	}
	return &RateController{config: c, rate: c.Initial}, nil
}

// Adjust updates the rate given the current queue depth and returns it.
func (rc *RateController) Adjust(depth int) float64 {
	target := float64(rc.config.TargetDepth)
	switch d := float64(depth); {
	case d > 1.5*target:
		rc.rate = min(rc.rate*rc.config.Factor, rc.config.Max)
	case d < 0.5*target:
		rc.rate = max(rc.rate/rc.config.Factor, rc.config.Min)
	}
	return rc.rate
}

func (rc *RateController) Rate() float64 { return rc.rate }

// Interval is the pause between two pops at the current rate.
func (rc *RateController) Interval() time.Duration {
	return time.Duration(float64(time.Second) / rc.rate)
}

// Reset restores the initial rate.
func (rc *RateController) Reset() { rc.rate = rc.config.Initial }
