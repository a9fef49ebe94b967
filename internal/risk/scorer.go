// Package risk turns a classification into a bounded 0-100 risk score.
package risk

import (
	"errors"
	"fmt"
	"math"
	"strconv"

	"github.com/smartshieldai-idps/ddosguard/internal/detection/ml"
)

// ErrWeightSum is returned when the weights do not add up to one.
var ErrWeightSum = errors.New("risk weights must sum to 1.0")

// WeightTolerance is the allowed deviation of the weight sum from 1.0.
const WeightTolerance = 1e-6

const (
	durationCeilingMicros = 1_000_000 // one second
	ratioCeiling          = 10
)

// Weights sets how much each signal contributes to the score.
type Weights struct {
	Confidence float64 `yaml:"confidence"`
	Duration   float64 `yaml:"duration"`
	Ratio      float64 `yaml:"ratio"`
}

// DefaultWeights returns 0.5 confidence, 0.25 duration, 0.25 ratio.
func DefaultWeights() Weights {
	return Weights{Confidence: 0.5, Duration: 0.25, Ratio: 0.25}
}

// Validate checks that no weight is negative and that they sum to 1.
func (w Weights) Validate() error {
	if w.Confidence < 0 || w.Duration < 0 || w.Ratio < 0 {
		return fmt.Errorf("%w: negative weight in %+v", ErrWeightSum, w)
	}
	sum := w.Confidence + w.Duration + w.Ratio
	if math.Abs(sum-1.0) > WeightTolerance {
		return fmt.Errorf("%w: got %.6f", ErrWeightSum, sum)
	}
	return nil
}

// Scorer computes risk scores with a fixed set of weights.
type Scorer struct {
	weights Weights
}

// NewScorer validates the weights and returns a scorer.
func NewScorer(w Weights) (*Scorer, error) {
	if err := w.Validate(); err != nil {
		return nil, err
	}
	return &Scorer{weights: w}, nil
}

// Weights returns the configured weights.
func (s *Scorer) Weights() Weights {
	return s.weights
}

// Score combines the binary confidence with the flow duration and the
// forward/backward packet ratio. The result is in [0, 100] with two decimals.
func (s *Scorer) Score(confidence float64, flow ml.FlowShape) float64 {
	durationScore := DurationScore(flow.DurationMicros)
	ratioScore := RatioScore(flow.FwdPackets, flow.BwdPackets)

	raw := clamp01(confidence)*s.weights.Confidence +
		durationScore*s.weights.Duration +
		ratioScore*s.weights.Ratio

	return math.Min(math.Max(round2(raw*100), 0), 100)
}

// DurationScore normalizes a flow duration against a one second ceiling.
func DurationScore(durationMicros float64) float64 {
	return clamp01(durationMicros / durationCeilingMicros)
}

// RatioScore normalizes the forward/backward packet ratio against a ceiling of
// 10. Fewer than one backward packet counts as one.
func RatioScore(fwd, bwd float64) float64 {
	return clamp01((fwd / math.Max(bwd, 1)) / ratioCeiling)
}

func clamp01(x float64) float64 {
	if math.IsNaN(x) {
		return 0
	}
	return math.Min(math.Max(x, 0), 1)
}

// round2 rounds the exact binary value of x to two decimals, ties to even.
// math.Round(x*100)/100 would round the already-rounded product instead and
// can land a cent off on .xx5 boundaries.
func round2(x float64) float64 {
	v, err := strconv.ParseFloat(strconv.FormatFloat(x, 'f', 2, 64), 64)
	if err != nil {
		return x
	}
	return v
}
