package ml

import (
	"fmt"
	"sort"
)

// BenignLabel is reported when the binary model rejects the attack hypothesis.
const BenignLabel = "BENIGN"

// LowConfidencePrefix marks display labels below the low-confidence threshold.
const LowConfidencePrefix = "LOW_CONFIDENCE: "

// ClassProbability is one entry of a multiclass distribution.
type ClassProbability struct {
	Label       string  `json:"label"`
	Probability float64 `json:"probability"`
}

// Distribution is the multiclass output, one entry per known class.
type Distribution []ClassProbability

// Sorted returns a copy ordered by probability, highest first. Ties keep the
// class order of the model.
func (d Distribution) Sorted() Distribution {
	out := make(Distribution, len(d))
	copy(out, d)
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Probability > out[j].Probability
	})
	return out
}

// ResolverConfig holds the label correction thresholds.
type ResolverConfig struct {
	LowConfidenceThreshold float64 `yaml:"low_confidence_threshold"`
	NoisyClass             string  `yaml:"noisy_class"`
	NoisyClassLimit        float64 `yaml:"noisy_class_limit"`
}

// DefaultResolverConfig returns the thresholds the shipped models were tuned for.
func DefaultResolverConfig() ResolverConfig {
	return ResolverConfig{
		LowConfidenceThreshold: 0.45,
		NoisyClass:             "NetBIOS",
		NoisyClassLimit:        0.85,
	}
}

// Resolution is the outcome of label resolution.
type Resolution struct {
	Label         string  `json:"label"`
	Confidence    float64 `json:"confidence"`
	Display       string  `json:"display"`
	LowConfidence bool    `json:"low_confidence"`
	Corrected     bool    `json:"corrected"`
}

// ResolveLabel picks the label for a positive binary decision.
//
// The noisy class is over-predicted by the multiclass model, so when it wins
// with less than NoisyClassLimit the best non-noisy class is used instead. An
// empty distribution resolves to an empty label.
func ResolveLabel(dist Distribution, cfg ResolverConfig) Resolution {
	ranked := dist.Sorted()
	if len(ranked) == 0 {
		return Resolution{
			LowConfidence: 0 < cfg.LowConfidenceThreshold,
			Display:       formatLabel("", 0, cfg),
		}
	}

	res := Resolution{Label: ranked[0].Label, Confidence: ranked[0].Probability}

	if res.Label == cfg.NoisyClass && res.Confidence < cfg.NoisyClassLimit {
		for _, alt := range ranked[1:] {
			if alt.Label != cfg.NoisyClass {
				res.Label = alt.Label
				res.Confidence = alt.Probability
				res.Corrected = true
				break
			}
		}
	}

	res.LowConfidence = res.Confidence < cfg.LowConfidenceThreshold
	res.Display = formatLabel(res.Label, res.Confidence, cfg)
	return res
}

func formatLabel(label string, confidence float64, cfg ResolverConfig) string {
	if confidence < cfg.LowConfidenceThreshold {
		return fmt.Sprintf("%s%s (%.2f)", LowConfidencePrefix, label, confidence)
	}
	return fmt.Sprintf("%s (%.2f)", label, confidence)
}
