package ml

import (
	"errors"
	"fmt"
	"math"
	"sort"
	"strings"
	"time"
)

// ErrExplanationUnsupported is returned when the active binary model cannot
// attribute its decision to individual features.
var ErrExplanationUnsupported = errors.New("model does not support explanations")

// maxKeyFactors caps the factors named in an explanation summary.
const maxKeyFactors = 3

// Attributor is a binary classifier that can split its attack logit into
// per-feature contributions.
type Attributor interface {
	Contributions(scaled FeatureVector) []float64
}

// FeatureImportance is one feature's share of the attack decision.
type FeatureImportance struct {
	Index        int     `json:"index"`
	Name         string  `json:"name"`
	Value        float64 `json:"value"`
	Contribution float64 `json:"contribution"`
	// Share is |Contribution| over the sum of all absolute contributions.
	Share float64 `json:"share"`
	// TowardAttack is true when the feature pushes the flow toward attack.
	TowardAttack bool `json:"toward_attack"`
}

// Explanation attributes a binary decision to the input features.
type Explanation struct {
	IsAttack     bool                `json:"is_attack"`
	Confidence   float64             `json:"confidence"`
	Summary      string              `json:"summary"`
	Importance   []FeatureImportance `json:"feature_importance"`
	ModelVersion string              `json:"model_version"`
	Timestamp    time.Time           `json:"timestamp"`
}

// Explain attributes the binary decision for features. Features that do not
// move the logit are left out; the rest are sorted by share, largest first.
func (s *Service) Explain(features FeatureVector) (*Explanation, error) {
	artifacts := s.registry.Current()
	if artifacts == nil {
		return nil, ErrModelUnavailable
	}
	attributor, ok := artifacts.Binary.(Attributor)
	if !ok {
		return nil, ErrExplanationUnsupported
	}

	full, err := prepare(features, artifacts.ExpectedArity())
	if err != nil {
		return nil, err
	}

	scaled := artifacts.Scaler.Transform(full)
	isAttack, confidence := artifacts.Binary.Decide(scaled)
	contributions := attributor.Contributions(scaled)

	var total float64
	for _, c := range contributions {
		total += math.Abs(c)
	}

	importance := make([]FeatureImportance, 0, len(contributions))
	for i, c := range contributions {
		if c == 0 {
			continue
		}
		importance = append(importance, FeatureImportance{
			Index:        i,
			Name:         FeatureName(i, len(full)),
			Value:        full[i],
			Contribution: c,
			Share:        math.Abs(c) / total,
			TowardAttack: c > 0,
		})
	}
	sort.SliceStable(importance, func(i, j int) bool {
		return importance[i].Share > importance[j].Share
	})

	return &Explanation{
		IsAttack:     isAttack,
		Confidence:   confidence,
		Summary:      summarize(confidence, importance),
		Importance:   importance,
		ModelVersion: artifacts.Version.String(),
		Timestamp:    time.Now(),
	}, nil
}

// FeatureName names slot i of a full vector of length arity. Slots without a
// fixed meaning are named by position.
func FeatureName(i, arity int) string {
	switch i {
	case IdxFlowDuration:
		return "flow_duration"
	case IdxFwdPackets:
		return "fwd_packets"
	case IdxBwdPackets:
		return "bwd_packets"
	case IdxFlowBytesRate:
		return "flow_bytes_rate"
	case IdxFlowPacketsRate:
		return "flow_packets_rate"
	case IdxIdleMean:
		return "idle_mean"
	case IdxTotalFwdLength:
		return "total_fwd_length"
	}
	switch i - (arity - DerivedFeatureCount) {
	case 0:
		return "fwd_bwd_packet_ratio"
	case 1:
		return "bytes_per_packet"
	case 2:
		return "avg_fwd_packet_length"
	}
	return fmt.Sprintf("feature_%d", i)
}

func summarize(confidence float64, importance []FeatureImportance) string {
	var b strings.Builder
	switch {
	case confidence > 0.9:
		b.WriteString("High confidence detection")
	case confidence > 0.7:
		b.WriteString("Moderate confidence detection")
	default:
		b.WriteString("Low confidence detection")
	}
	fmt.Fprintf(&b, " (%.1f%% confidence).", confidence*100)

	if len(importance) == 0 {
		b.WriteString(" No feature moved the decision.")
		return b.String()
	}

	top := importance
	if len(top) > maxKeyFactors {
		top = top[:maxKeyFactors]
	}
	b.WriteString(" Key factors: ")
	for i, f := range top {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s (%.1f%% contribution)", f.Name, f.Share*100)
	}
	return b.String()
}
