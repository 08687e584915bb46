package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics collects the core's Prometheus metrics: provider round-trips,
// cache effectiveness, retries, and token consumption.
type Metrics struct {
	// ProviderRequestDuration measures provider round-trip latency in seconds.
	// Labels: provider, model
	ProviderRequestDuration *prometheus.HistogramVec

	// ProviderRequestCounter counts provider requests.
	// Labels: provider, model, status (success|error)
	ProviderRequestCounter *prometheus.CounterVec

	// TokensUsed tracks token consumption.
	// Labels: provider, model, type (input|output|cache_read|cache_creation|thought)
	TokensUsed *prometheus.CounterVec

	// CacheEvents counts response-cache outcomes.
	// Labels: result (hit|miss|store|skip)
	CacheEvents *prometheus.CounterVec

	// SpeakRetries counts validator-driven retries.
	// Labels: provider, reason
	SpeakRetries *prometheus.CounterVec

	// ActiveSessions tracks the number of registered user sessions.
	ActiveSessions prometheus.Gauge
}

// NewMetrics creates and registers all metrics on reg; nil uses a fresh
// registry, which keeps tests isolated from the default registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	factory := promauto.With(reg)

	return &Metrics{
		ProviderRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "bbcore_provider_request_duration_seconds",
				Help:    "Duration of LLM provider requests in seconds",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
			},
			[]string{"provider", "model"},
		),
		ProviderRequestCounter: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bbcore_provider_requests_total",
				Help: "Total LLM provider requests by provider, model, and status",
			},
			[]string{"provider", "model", "status"},
		),
		TokensUsed: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bbcore_tokens_total",
				Help: "Total tokens consumed by provider, model, and type",
			},
			[]string{"provider", "model", "type"},
		),
		CacheEvents: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bbcore_cache_events_total",
				Help: "Response cache outcomes",
			},
			[]string{"result"},
		),
		SpeakRetries: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "bbcore_speak_retries_total",
				Help: "Validator-driven speak retries by provider and reason",
			},
			[]string{"provider", "reason"},
		),
		ActiveSessions: factory.NewGauge(
			prometheus.GaugeOpts{
				Name: "bbcore_active_sessions",
				Help: "Number of registered user sessions",
			},
		),
	}
}

// ObserveUsage records token counts for one provider response.
func (m *Metrics) ObserveUsage(provider, model string, input, output, cacheRead, cacheCreation, thought int) {
	if m == nil {
		return
	}
	m.TokensUsed.WithLabelValues(provider, model, "input").Add(float64(input))
	m.TokensUsed.WithLabelValues(provider, model, "output").Add(float64(output))
	m.TokensUsed.WithLabelValues(provider, model, "cache_read").Add(float64(cacheRead))
	m.TokensUsed.WithLabelValues(provider, model, "cache_creation").Add(float64(cacheCreation))
	m.TokensUsed.WithLabelValues(provider, model, "thought").Add(float64(thought))
}
