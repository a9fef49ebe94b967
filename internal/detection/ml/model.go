package ml

import (
	"time"
)

// Scaler normalizes a full feature vector before classification.
type Scaler interface {
	Transform(v FeatureVector) FeatureVector
}

// BinaryClassifier decides attack vs benign. Confidence is the probability of
// the attack class.
type BinaryClassifier interface {
	Decide(scaled FeatureVector) (isAttack bool, confidence float64)
}

// MulticlassClassifier returns the probability of every known attack class.
type MulticlassClassifier interface {
	Distribution(scaled FeatureVector) Distribution
	// InputSize is the number of features the model was fitted on.
	InputSize() int
}

// ClassificationResult is the classifier output for one flow.
type ClassificationResult struct {
	IsAttack     bool         `json:"is_attack"`
	Confidence   float64      `json:"confidence"`
	Distribution Distribution `json:"distribution,omitempty"`
}

// DetectionResult is the classified flow handed to scoring and recommendation.
type DetectionResult struct {
	ClassificationResult
	// AttackType is the display label: BENIGN or the formatted resolution.
	AttackType   string        `json:"attack_type"`
	Resolution   *Resolution   `json:"resolution,omitempty"`
	Features     FeatureVector `json:"features,omitempty"`
	ModelVersion string        `json:"model_version"`
	Timestamp    time.Time     `json:"timestamp"`
}

// Label returns the bare class name.
func (r *DetectionResult) Label() string {
	if r.Resolution == nil {
		return BenignLabel
	}
	return r.Resolution.Label
}

// GuideLabel is the key for guide catalog lookups. A low-confidence result
// keeps its LOW_CONFIDENCE display string, which no catalog entry matches, so
// an uncertain guess never gets a specific remediation guide.
func (r *DetectionResult) GuideLabel() string {
	if r.Resolution != nil && r.Resolution.LowConfidence {
		return r.Resolution.Display
	}
	return r.Label()
}
