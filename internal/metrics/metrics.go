package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	LLMRequests = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readingquiz_llm_requests_total",
			Help: "Total number of requests sent to the AI service",
		},
		[]string{"operation", "outcome"},
	)

	LLMDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "readingquiz_llm_request_duration_seconds",
			Help:    "Duration of requests sent to the AI service",
			Buckets: []float64{0.5, 1, 2, 5, 10, 30, 60, 120},
		},
		[]string{"operation"},
	)

	PhaseTransitions = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "readingquiz_phase_transitions_total",
			Help: "Quiz session phase transitions",
		},
		[]string{"from", "to"},
	)

	ActiveSessions = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "readingquiz_sessions_active",
			Help: "Number of quiz sessions held in memory",
		},
	)
)

var registerOnce sync.Once

// Init registers all collectors with the default registry. Safe to call more than once.
func Init() {
	registerOnce.Do(func() {
		prometheus.MustRegister(LLMRequests, LLMDuration, PhaseTransitions, ActiveSessions)
	})
}

// Handler serves the default registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveLLM records one AI service call.
func ObserveLLM(operation string, start time.Time, err error) {
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	LLMRequests.WithLabelValues(operation, outcome).Inc()
	LLMDuration.WithLabelValues(operation).Observe(time.Since(start).Seconds())
}
