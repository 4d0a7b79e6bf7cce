// Package progression computes progression scores and score trends.
package progression

import (
	"fmt"
	"math"

	"github.com/radprogressor-server/internal/domain"
)

// Default score weights.
const (
	DefaultAlpha = 0.7
	DefaultBeta  = 0.3
)

// Weights are the coefficients applied to severity (Alpha) and the
// normalized report delta (Beta).
type Weights struct {
	Alpha float64 `json:"alpha"`
	Beta  float64 `json:"beta"`
}

// DefaultWeights returns the standard 0.7/0.3 weighting.
func DefaultWeights() Weights {
	return Weights{Alpha: DefaultAlpha, Beta: DefaultBeta}
}

// Validate checks that both weights lie in [0,1].
func (w Weights) Validate() error {
	if w.Alpha < 0 || w.Alpha > 1 || math.IsNaN(w.Alpha) {
		return domain.NewValidationError("alpha", "must be within [0,1]", w.Alpha)
	}
	if w.Beta < 0 || w.Beta > 1 || math.IsNaN(w.Beta) {
		return domain.NewValidationError("beta", "must be within [0,1]", w.Beta)
	}
	return nil
}

// Score applies the weights to severity and delta.
func (w Weights) Score(severity float64, delta int) (float64, error) {
	if err := w.Validate(); err != nil {
		return 0, err
	}
	return Score(severity, delta, w.Alpha, w.Beta)
}

// NormalizeDelta maps -1, 0, +1 onto 0.0, 0.5, 1.0.
func NormalizeDelta(delta int) (float64, error) {
	switch delta {
	case -1:
		return 0.0, nil
	case 0:
		return 0.5, nil
	case 1:
		return 1.0, nil
	default:
		return 0, domain.NewValidationError("delta", fmt.Sprintf("delta %d not in {-1,0,1}", delta), delta)
	}
}

// Score returns alpha*severity + beta*normalized(delta), clamped to [0,1].
// It fails only when delta is outside {-1,0,1}.
func Score(severity float64, delta int, alpha, beta float64) (float64, error) {
	norm, err := NormalizeDelta(delta)
	if err != nil {
		return 0, err
	}
	return clamp(alpha*severity + beta*norm), nil
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
