// Package detection ties classification, risk scoring and recommendation
// together and fans each detection out to the storage and alert collaborators.
package detection

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/smartshieldai-idps/ddosguard/internal/detection/ml"
	"github.com/smartshieldai-idps/ddosguard/internal/geo"
	"github.com/smartshieldai-idps/ddosguard/internal/models"
	"github.com/smartshieldai-idps/ddosguard/internal/monitoring"
	"github.com/smartshieldai-idps/ddosguard/internal/recommend"
	"github.com/smartshieldai-idps/ddosguard/internal/risk"
	"github.com/smartshieldai-idps/ddosguard/internal/sink"
)

// AlertThreshold is the risk score at which an alert email is sent.
const AlertThreshold = 80

// Detector classifies one raw feature vector.
type Detector interface {
	Detect(features ml.FeatureVector) (*ml.DetectionResult, error)
}

// Locator resolves a source address for display.
type Locator interface {
	Resolve(ip string) geo.Location
}

// Notifier delivers alerts.
type Notifier interface {
	Enabled() bool
	Send(ctx context.Context, subject, body string) error
}

// Pipeline scores flows. Collaborator failures are logged and never fail a
// prediction.
type Pipeline struct {
	detector    Detector
	scorer      *risk.Scorer
	recommender *recommend.Engine
	locator     Locator
	dispatcher  *sink.Dispatcher
	sinks       []sink.Sink
	notifier    Notifier
	metrics     *monitoring.Metrics
	logger      *zap.Logger
}

// Option configures optional collaborators.
type Option func(*Pipeline)

// WithSinks sets where detection logs are written.
func WithSinks(sinks ...sink.Sink) Option {
	return func(p *Pipeline) { p.sinks = append(p.sinks, sinks...) }
}

// WithNotifier sets the high-risk alert channel.
func WithNotifier(n Notifier) Option {
	return func(p *Pipeline) { p.notifier = n }
}

// WithMetrics records risk scores and alert outcomes.
func WithMetrics(m *monitoring.Metrics) Option {
	return func(p *Pipeline) { p.metrics = m }
}

// NewPipeline creates a pipeline. Sinks and alerts need a dispatcher; with a
// nil dispatcher they are skipped.
func NewPipeline(detector Detector, scorer *risk.Scorer, recommender *recommend.Engine, locator Locator,
	dispatcher *sink.Dispatcher, logger *zap.Logger, opts ...Option) *Pipeline {
	p := &Pipeline{
		detector:    detector,
		scorer:      scorer,
		recommender: recommender,
		locator:     locator,
		dispatcher:  dispatcher,
		logger:      logger,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// Predict runs one flow through the whole pipeline.
func (p *Pipeline) Predict(ctx context.Context, req models.PredictRequest) (*models.PredictResponse, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	result, err := p.detector.Detect(req.Features)
	if err != nil {
		return nil, err
	}

	loc := geo.Location{Country: geo.Unknown}
	if p.locator != nil {
		loc = p.locator.Resolve(req.SrcIP)
	}

	// Risk reads the flow descriptors from the request as sent, before any
	// legacy expansion.
	score := p.scorer.Score(result.Confidence, ml.FeatureVector(req.Features).Shape())
	p.metrics.ObserveRisk(score)

	guide := p.recommender.Recommend(result.GuideLabel(), score, loc.Country, req.DstPort)

	record := &models.DetectionLog{
		ID:           uuid.New(),
		Timestamp:    result.Timestamp,
		SrcIP:        req.SrcIP,
		DstPort:      req.DstPort,
		AttackType:   result.AttackType,
		Label:        result.Label(),
		IsAttack:     result.IsAttack,
		Confidence:   result.Confidence,
		RiskScore:    score,
		Country:      loc.Country,
		Latitude:     loc.Latitude,
		Longitude:    loc.Longitude,
		ModelVersion: result.ModelVersion,
	}

	p.logger.Debug("flow scored",
		zap.String("id", record.ID.String()),
		zap.String("attack_type", record.AttackType),
		zap.Float64("confidence", record.Confidence),
		zap.Float64("risk_score", score),
		zap.String("country", loc.Country),
	)

	if p.dispatcher != nil {
		p.dispatcher.Fanout(record, p.sinks...)
		if score >= AlertThreshold {
			p.alert(record, guide)
		}
	}

	return &models.PredictResponse{
		AttackType: result.AttackType,
		Confidence: result.Confidence,
		RiskScore:  score,
		Guide:      guide,
		Country:    loc.Country,
	}, nil
}

func (p *Pipeline) alert(record *models.DetectionLog, guide string) {
	if p.notifier == nil || !p.notifier.Enabled() {
		return
	}
	subject := AlertSubject(record.AttackType, record.RiskScore)
	_ = p.dispatcher.Submit("email", func(ctx context.Context) error {
		err := p.notifier.Send(ctx, subject, guide)
		p.metrics.ObserveAlert(err)
		return err
	})
}

// AlertSubject names the attack type and risk score.
func AlertSubject(attackType string, score float64) string {
	return fmt.Sprintf("DDoS detected (%s) risk %.2f", attackType, score)
}
