// Package metrics exposes Prometheus counters for the generation
// pipeline on a dedicated listener, kept off the public API port.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics bundles the pipeline counters.
type Metrics struct {
	GenerateAttempts prometheus.Counter
	GenerateOutcomes *prometheus.CounterVec
	GeminiCalls      *prometheus.CounterVec
	TTSCalls         *prometheus.CounterVec
	QuotaDenied      *prometheus.CounterVec

	registry *prometheus.Registry
}

// New registers the counters on a private registry.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		GenerateAttempts: factory.NewCounter(prometheus.CounterOpts{
			Name: "briefcast_generate_attempts_total",
			Help: "Briefing generation attempts admitted past the quota gate.",
		}),
		GenerateOutcomes: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "briefcast_generate_outcomes_total",
			Help: "Final outcomes of briefing generation requests.",
		}, []string{"outcome"}),
		GeminiCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "briefcast_gemini_calls_total",
			Help: "Script generation upstream outcomes.",
		}, []string{"outcome"}),
		TTSCalls: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "briefcast_tts_calls_total",
			Help: "Speech synthesis upstream calls.",
		}, []string{"outcome"}),
		QuotaDenied: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "briefcast_quota_denied_total",
			Help: "Generation requests denied by the quota gate.",
		}, []string{"code"}),
		registry: reg,
	}
}

// Handler serves the metrics endpoint.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// Serve runs the metrics listener until the server fails. Callers run
// it in a goroutine; an empty addr disables metrics.
func (m *Metrics) Serve(addr string) error {
	if addr == "" {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	return http.ListenAndServe(addr, mux)
}
