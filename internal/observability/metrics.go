package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics groups all Prometheus instruments used by the conversation core.
type Metrics struct {
	StatusTransitions *prometheus.CounterVec
	RejectedTriggers  *prometheus.CounterVec
	Turns             *prometheus.CounterVec
	BackendErrors     *prometheus.CounterVec
	WSMessages        *prometheus.CounterVec
	FirstDeltaLatency prometheus.Histogram
	StageDuration     *prometheus.HistogramVec
	AnimatorSteps     prometheus.Counter
	HistoryLength     prometheus.Gauge
}

func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		StatusTransitions: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "status_transitions_total",
			Help:      "Conversation status transitions by from/to state and trigger.",
		}, []string{"from", "to", "trigger"}),
		RejectedTriggers: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "rejected_triggers_total",
			Help:      "Triggers rejected because the status did not allow them.",
		}, []string{"state", "trigger"}),
		Turns: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "turns_total",
			Help:      "Completed conversational turns by outcome.",
		}, []string{"outcome"}),
		BackendErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "backend_errors_total",
			Help:      "Backend call failures by endpoint and code.",
		}, []string{"endpoint", "code"}),
		WSMessages: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "ws_messages_total",
			Help:      "WebSocket messages by direction and type.",
		}, []string{"direction", "type"}),
		FirstDeltaLatency: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "first_delta_latency_ms",
			Help:      "Latency to the first assistant text fragment in milliseconds.",
			Buckets:   []float64{100, 200, 300, 500, 700, 900, 1200, 2000, 4000},
		}),
		StageDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "turn_stage_duration_ms",
			Help:      "Duration of each turn stage in milliseconds.",
			Buckets:   []float64{50, 100, 250, 500, 1000, 2000, 4000, 8000},
		}, []string{"stage"}),
		AnimatorSteps: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "animator_steps_total",
			Help:      "Render-frame animator updates performed.",
		}),
		HistoryLength: promauto.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "history_messages",
			Help:      "Messages currently held in the conversation history.",
		}),
	}
}

func (m *Metrics) ObserveFirstDeltaLatency(d time.Duration) {
	m.FirstDeltaLatency.Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ObserveStage(stage string, d time.Duration) {
	m.StageDuration.WithLabelValues(stage).Observe(float64(d.Milliseconds()))
}

func MetricsHandler() http.Handler {
	return promhttp.Handler()
}
