package flow

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics is the engine's Prometheus instrumentation. A nil *Metrics is
// valid and records nothing, so tests and embedded uses pay no cost.
type Metrics struct {
	steps         *prometheus.CounterVec
	stepDuration  prometheus.Histogram
	active        prometheus.Gauge
	validationErr *prometheus.CounterVec
	webhookCalls  *prometheus.CounterVec
}

// NewMetrics registers the engine metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		steps: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadflow",
			Name:      "steps_total",
			Help:      "Conversation steps processed, labeled by result kind.",
		}, []string{"result_kind"}),
		stepDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Namespace: "leadflow",
			Name:      "step_duration_seconds",
			Help:      "Wall time of one inbound-message step.",
			Buckets:   prometheus.DefBuckets,
		}),
		active: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "leadflow",
			Name:      "active_conversations",
			Help:      "Conversations currently holding a step lock.",
		}),
		validationErr: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadflow",
			Name:      "validation_failures_total",
			Help:      "Field validation failures by field kind and error code.",
		}, []string{"field_kind", "error_code"}),
		webhookCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "leadflow",
			Name:      "webhook_calls_total",
			Help:      "Outbound webhook calls by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) stepDone(kind ResultKind, seconds float64) {
	if m == nil {
		return
	}
	m.steps.WithLabelValues(string(kind)).Inc()
	m.stepDuration.Observe(seconds)
}

func (m *Metrics) stepStarted() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *Metrics) stepFinished() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *Metrics) validationFailure(fieldKind, errorCode string) {
	if m == nil {
		return
	}
	m.validationErr.WithLabelValues(fieldKind, errorCode).Inc()
}

func (m *Metrics) webhookCall(success bool) {
	if m == nil {
		return
	}
	outcome := "failure"
	if success {
		outcome = "success"
	}
	m.webhookCalls.WithLabelValues(outcome).Inc()
}
