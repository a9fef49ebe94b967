package ml

import (
	"fmt"
	"math"
)

// StandardScaler applies (x - mean) / scale per feature.
type StandardScaler struct {
	Mean  []float64 `json:"mean"`
	Scale []float64 `json:"scale"`
}

func (s *StandardScaler) validate() error {
	if len(s.Mean) == 0 {
		return fmt.Errorf("scaler has no features")
	}
	if len(s.Mean) != len(s.Scale) {
		return fmt.Errorf("scaler mean/scale length differ: %d != %d", len(s.Mean), len(s.Scale))
	}
	return nil
}

// Transform returns the scaled copy of v. A zero scale leaves the centered value
// as is, like scikit-learn does for constant features.
func (s *StandardScaler) Transform(v FeatureVector) FeatureVector {
	out := make(FeatureVector, len(v))
	for i, x := range v {
		if i >= len(s.Mean) {
			out[i] = x
			continue
		}
		scale := s.Scale[i]
		if scale == 0 {
			scale = 1
		}
		out[i] = (x - s.Mean[i]) / scale
	}
	return out
}

// LogisticModel is a fitted binary logistic regression.
type LogisticModel struct {
	Coef      []float64 `json:"coef"`
	Intercept float64   `json:"intercept"`
	Threshold float64   `json:"threshold"`
}

func (m *LogisticModel) validate() error {
	if len(m.Coef) == 0 {
		return fmt.Errorf("binary model has no coefficients")
	}
	if m.Threshold <= 0 || m.Threshold >= 1 {
		m.Threshold = 0.5
	}
	return nil
}

// Decide reports the attack probability and whether it reaches the threshold.
func (m *LogisticModel) Decide(scaled FeatureVector) (bool, float64) {
	p := sigmoid(dot(m.Coef, scaled) + m.Intercept)
	return p >= m.Threshold, p
}

// Contributions returns coef[i] * scaled[i] for every feature. Their sum plus
// the intercept is the attack logit.
func (m *LogisticModel) Contributions(scaled FeatureVector) []float64 {
	out := make([]float64, len(m.Coef))
	for i, w := range m.Coef {
		if i < len(scaled) {
			out[i] = w * scaled[i]
		}
	}
	return out
}

// SoftmaxModel is a fitted multinomial logistic regression. Row i of Coef
// belongs to the i-th class label.
type SoftmaxModel struct {
	Coef      [][]float64 `json:"coef"`
	Intercept []float64   `json:"intercept"`

	labels []string
}

func (m *SoftmaxModel) validate(labels []string) error {
	if len(m.Coef) == 0 {
		return fmt.Errorf("multiclass model has no classes")
	}
	if len(m.Coef) != len(labels) {
		return fmt.Errorf("multiclass model has %d classes, label set has %d", len(m.Coef), len(labels))
	}
	if len(m.Intercept) != len(m.Coef) {
		return fmt.Errorf("multiclass model has %d intercepts for %d classes", len(m.Intercept), len(m.Coef))
	}
	width := len(m.Coef[0])
	for i, row := range m.Coef {
		if len(row) != width || width == 0 {
			return fmt.Errorf("multiclass coefficient row %d has %d features, want %d", i, len(row), width)
		}
	}
	m.labels = labels
	return nil
}

// InputSize implements MulticlassClassifier.
func (m *SoftmaxModel) InputSize() int {
	if len(m.Coef) == 0 {
		return 0
	}
	return len(m.Coef[0])
}

// Distribution implements MulticlassClassifier.
func (m *SoftmaxModel) Distribution(scaled FeatureVector) Distribution {
	logits := make([]float64, len(m.Coef))
	maxLogit := math.Inf(-1)
	for i, row := range m.Coef {
		logits[i] = dot(row, scaled) + m.Intercept[i]
		if logits[i] > maxLogit {
			maxLogit = logits[i]
		}
	}

	var sum float64
	for i := range logits {
		logits[i] = math.Exp(logits[i] - maxLogit)
		sum += logits[i]
	}

	dist := make(Distribution, len(logits))
	for i, e := range logits {
		dist[i] = ClassProbability{Label: m.labels[i], Probability: e / sum}
	}
	return dist
}

func dot(w []float64, x FeatureVector) float64 {
	var sum float64
	for i, wi := range w {
		if i < len(x) {
			sum += wi * x[i]
		}
	}
	return sum
}

func sigmoid(x float64) float64 {
	return 1.0 / (1.0 + math.Exp(-x))
}
