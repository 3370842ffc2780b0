package memory

import (
	"fmt"

	"github.com/becomeliminal/mnemo-go-sdk/core"
)

// Config holds the consolidation engine's tuning knobs. It is passed at
// construction and never mutated afterward, so extreme values can be
// injected in tests and per-deployment tuning stays explicit.
type Config struct {
	// MaxDepth caps live memory nodes per user.
	MaxDepth int

	// ReinforceThreshold is the similarity at or above which new input
	// reinforces the best-matching node instead of merging.
	ReinforceThreshold float64

	// MergeThreshold is the similarity at or above which new input merges
	// into the best-matching node instead of creating a new one.
	MergeThreshold float64

	// DecayFactor is applied multiplicatively to every untouched sibling
	// on each consolidation event, floored at core.MinImportance.
	DecayFactor float64

	// ReinforcementFactor is the multiplicative importance boost on
	// reinforcement, capped at core.MaxImportance.
	ReinforcementFactor float64

	// Retry bounds oracle and store call attempts.
	Retry core.RetryPolicy
}

// DefaultConfig returns the production defaults.
func DefaultConfig() Config {
	return Config{
		MaxDepth:            5,
		ReinforceThreshold:  0.85,
		MergeThreshold:      0.70,
		DecayFactor:         0.99,
		ReinforcementFactor: 1.1,
		Retry:               core.DefaultRetryPolicy(),
	}
}

// Validate rejects configurations that would break engine invariants.
func (c Config) Validate() error {
	if c.MaxDepth < 1 {
		return fmt.Errorf("%w: MaxDepth must be >= 1, got %d", core.ErrValidation, c.MaxDepth)
	}
	if c.MergeThreshold > c.ReinforceThreshold {
		return fmt.Errorf("%w: MergeThreshold (%v) must not exceed ReinforceThreshold (%v)",
			core.ErrValidation, c.MergeThreshold, c.ReinforceThreshold)
	}
	if c.DecayFactor <= 0 || c.DecayFactor > 1 {
		return fmt.Errorf("%w: DecayFactor must be in (0, 1], got %v", core.ErrValidation, c.DecayFactor)
	}
	if c.ReinforcementFactor < 1 {
		return fmt.Errorf("%w: ReinforcementFactor must be >= 1, got %v", core.ErrValidation, c.ReinforcementFactor)
	}
	return nil
}
