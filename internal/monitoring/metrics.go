package monitoring

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Prediction outcomes.
const (
	OutcomeAttack   = "attack"
	OutcomeBenign   = "benign"
	OutcomeRejected = "rejected"
	OutcomeError    = "error"
)

// Metrics holds the service's Prometheus collectors. A nil *Metrics is valid
// and records nothing.
type Metrics struct {
	predictions  *prometheus.CounterVec
	riskScore    prometheus.Histogram
	latency      prometheus.Histogram
	reloads      *prometheus.CounterVec
	sinkFailures *prometheus.CounterVec
	alerts       *prometheus.CounterVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		predictions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ddosguard",
			Name:      "predictions_total",
			Help:      "Prediction requests by outcome.",
		}, []string{"outcome"}),
		riskScore: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ddosguard",
			Name:      "risk_score",
			Help:      "Distribution of computed risk scores.",
			Buckets:   []float64{10, 20, 30, 40, 50, 60, 70, 80, 90, 100},
		}),
		latency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "ddosguard",
			Name:      "prediction_duration_seconds",
			Help:      "Time spent classifying one flow.",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 14),
		}),
		reloads: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ddosguard",
			Name:      "model_reloads_total",
			Help:      "Model reload attempts by status.",
		}, []string{"status"}),
		sinkFailures: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ddosguard",
			Name:      "sink_failures_total",
			Help:      "Failed background writes by sink.",
		}, []string{"sink"}),
		alerts: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ddosguard",
			Name:      "alerts_total",
			Help:      "High-risk alert deliveries by status.",
		}, []string{"status"}),
	}

	reg.MustRegister(m.predictions, m.riskScore, m.latency, m.reloads, m.sinkFailures, m.alerts)
	return m
}

// ObservePrediction records one classification.
func (m *Metrics) ObservePrediction(outcome string, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.predictions.WithLabelValues(outcome).Inc()
	if outcome == OutcomeAttack || outcome == OutcomeBenign {
		m.latency.Observe(elapsed.Seconds())
	}
}

// ObserveRisk records a computed risk score.
func (m *Metrics) ObserveRisk(score float64) {
	if m == nil {
		return
	}
	m.riskScore.Observe(score)
}

// ObserveReload records a model reload attempt.
func (m *Metrics) ObserveReload(err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "failure"
	}
	m.reloads.WithLabelValues(status).Inc()
}

// SinkFailed records a failed background write.
func (m *Metrics) SinkFailed(sink string) {
	if m == nil {
		return
	}
	m.sinkFailures.WithLabelValues(sink).Inc()
}

// ObserveAlert records an alert delivery attempt.
func (m *Metrics) ObserveAlert(err error) {
	if m == nil {
		return
	}
	status := "sent"
	if err != nil {
		status = "failed"
	}
	m.alerts.WithLabelValues(status).Inc()
}
