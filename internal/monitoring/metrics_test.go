package monitoring

import (
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

func TestMetrics_Counters(t *testing.T) {
	m := NewMetrics(prometheus.NewRegistry())

	m.ObservePrediction(OutcomeAttack, time.Millisecond)
	m.ObservePrediction(OutcomeAttack, time.Millisecond)
	m.ObservePrediction(OutcomeRejected, 0)
	m.ObserveReload(nil)
	m.ObserveReload(errors.New("corrupt"))
	m.SinkFailed("redis")
	m.ObserveAlert(nil)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.predictions.WithLabelValues(OutcomeAttack)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.predictions.WithLabelValues(OutcomeRejected)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.reloads.WithLabelValues("failure")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sinkFailures.WithLabelValues("redis")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alerts.WithLabelValues("sent")))
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePrediction(OutcomeBenign, time.Millisecond)
		m.ObserveRisk(50)
		m.ObserveReload(nil)
		m.SinkFailed("postgres")
		m.ObserveAlert(errors.New("smtp"))
	})
}
