// Package strategy classifies claims into an execution strategy.
package strategy

import (
	"fmt"
	"slices"

	"github.com/dukex/claimflow/pkg/models"
)

// Thresholds parameterise the selector. The zero value is not useful; start from DefaultThresholds.
type Thresholds struct {
	FastTrackMaxAmount float64  `yaml:"fast_track_max_amount" validate:"gt=0"`
	HighValueAmount    float64  `yaml:"high_value_amount"     validate:"gtfield=FastTrackMaxAmount"`
	FastTrackTypes     []string `yaml:"fast_track_types"      validate:"min=1"`
	SequentialTypes    []string `yaml:"sequential_types"`
}

// DefaultThresholds returns the production thresholds.
func DefaultThresholds() Thresholds {
	return Thresholds{
		FastTrackMaxAmount: 1000,
		HighValueAmount:    25000,
		FastTrackTypes:     []string{"auto_glass", "glass_only", "windshield"},
		SequentialTypes:    []string{"liability"},
	}
}

// Select maps a claim onto exactly one strategy. Sequential criteria are evaluated first, then
// fast-track, and everything else runs in parallel.
func Select(claim models.ClaimContext, th Thresholds) models.Strategy {
	strategy, _ := Explain(claim, th)

	return strategy
}

// Explain returns the selected strategy together with the criteria that matched.
func Explain(claim models.ClaimContext, th Thresholds) (models.Strategy, []string) {
	var reasons []string

	if claim.Amount > th.HighValueAmount {
		reasons = append(reasons, fmt.Sprintf("amount above %.0f", th.HighValueAmount))
	}

	if claim.InjuriesReported {
		reasons = append(reasons, "injuries reported")
	}

	if claim.PartiesInvolved() > 1 {
		reasons = append(reasons, "multiple other parties")
	}

	if slices.Contains(th.SequentialTypes, claim.Type) {
		reasons = append(reasons, "claim type "+claim.Type)
	}

	if len(reasons) > 0 {
		return models.StrategySequential, reasons
	}

	if slices.Contains(th.FastTrackTypes, claim.Type) && claim.Amount < th.FastTrackMaxAmount {
		return models.StrategyFastTrack, []string{
			"low complexity type " + claim.Type,
			fmt.Sprintf("amount below %.0f", th.FastTrackMaxAmount),
		}
	}

	return models.StrategyParallel, []string{"default"}
}
