package ml

import (
	"errors"
	"time"

	"github.com/smartshieldai-idps/ddosguard/internal/monitoring"
)

// Service runs the classification half of the pipeline against the active
// artifact set. It holds no per-request state and is safe for concurrent use.
type Service struct {
	registry *Registry
	resolver ResolverConfig
	metrics  *monitoring.Metrics
}

// ModelInfo describes the active artifact set.
type ModelInfo struct {
	Version  string    `json:"version"`
	Arity    int       `json:"arity"`
	Classes  []string  `json:"classes"`
	LoadedAt time.Time `json:"loaded_at"`
}

// NewService creates a detection service. metrics may be nil.
func NewService(registry *Registry, resolver ResolverConfig, metrics *monitoring.Metrics) *Service {
	return &Service{
		registry: registry,
		resolver: resolver,
		metrics:  metrics,
	}
}

// Detect classifies one raw feature vector.
func (s *Service) Detect(features FeatureVector) (*DetectionResult, error) {
	start := time.Now()
	artifacts := s.registry.Current()
	if artifacts == nil {
		s.metrics.ObservePrediction(monitoring.OutcomeError, 0)
		return nil, ErrModelUnavailable
	}

	full, err := prepare(features, artifacts.ExpectedArity())
	if err != nil {
		s.metrics.ObservePrediction(monitoring.OutcomeRejected, 0)
		return nil, err
	}

	scaled := artifacts.Scaler.Transform(full)
	isAttack, confidence := artifacts.Binary.Decide(scaled)

	result := &DetectionResult{
		ClassificationResult: ClassificationResult{
			IsAttack:   isAttack,
			Confidence: confidence,
		},
		AttackType:   BenignLabel,
		Features:     full,
		ModelVersion: artifacts.Version.String(),
		Timestamp:    time.Now(),
	}

	outcome := monitoring.OutcomeBenign
	if isAttack {
		result.Distribution = artifacts.Multiclass.Distribution(scaled)
		resolution := ResolveLabel(result.Distribution, s.resolver)
		result.Resolution = &resolution
		result.AttackType = resolution.Display
		outcome = monitoring.OutcomeAttack
	}

	s.metrics.ObservePrediction(outcome, time.Since(start))
	return result, nil
}

// Reload swaps in a freshly loaded artifact set.
func (s *Service) Reload() (*ModelInfo, error) {
	artifacts, err := s.registry.Reload()
	s.metrics.ObserveReload(err)
	if err != nil {
		return nil, err
	}
	return infoOf(artifacts), nil
}

// GetStats describes the active artifact set.
func (s *Service) GetStats() *ModelInfo {
	return infoOf(s.registry.Current())
}

// prepare expands features to the full vector and rejects non-finite values.
// The length check comes first, so a short vector fails with a count mismatch
// whatever it holds. Validating the expanded vector also catches log1p of a
// value below -1.
func prepare(features FeatureVector, arity int) (FeatureVector, error) {
	full, err := Expand(features, arity)
	if err != nil {
		return nil, err
	}
	if err := full.Validate(); err != nil {
		return nil, err
	}
	return full, nil
}

// IsClientError reports whether err was caused by the request payload.
func IsClientError(err error) bool {
	return errors.Is(err, ErrFeatureCountMismatch) || errors.Is(err, ErrInvalidFeatureValue)
}

func infoOf(a *Artifacts) *ModelInfo {
	if a == nil {
		return nil
	}
	return &ModelInfo{
		Version:  a.Version.String(),
		Arity:    a.ExpectedArity(),
		Classes:  append([]string(nil), a.Labels...),
		LoadedAt: a.LoadedAt,
	}
}
