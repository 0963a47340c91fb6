// Package metrics holds the Prometheus collectors exported on /metrics.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	RequestCount = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaya_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "route", "status"},
	)

	RequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "kaya_http_request_duration_seconds",
			Help: "HTTP request duration in seconds",
		},
		[]string{"method", "route"},
	)

	DispatchTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaya_dispatch_total",
			Help: "Handled utterances by agent and answer source",
		},
		[]string{"agent", "source"},
	)

	DispatchDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "kaya_dispatch_duration_seconds",
			Help:    "End to end utterance handling time in seconds",
			Buckets: prometheus.ExponentialBuckets(0.001, 2, 15),
		},
	)

	DispatchPanics = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kaya_dispatch_panics_total",
			Help: "Recovered panics during utterance handling",
		},
	)

	RouteDecisions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaya_route_decisions_total",
			Help: "Router decisions by rule and agent",
		},
		[]string{"rule", "agent"},
	)

	ActiveSessions = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaya_active_sessions",
			Help: "Number of live sessions",
		},
	)

	SessionEvictions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaya_session_evictions_total",
			Help: "Sessions removed from memory by reason",
		},
		[]string{"reason"},
	)

	KnowledgeRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaya_knowledge_requests_total",
			Help: "Dataset lookups by result",
		},
		[]string{"result"},
	)

	KnowledgeLoads = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaya_knowledge_loads_total",
			Help: "Dataset reloads by outcome",
		},
		[]string{"outcome"},
	)

	KnowledgeLoadDuration = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaya_knowledge_last_load_duration_seconds",
			Help: "Duration of the last successful dataset reload",
		},
	)

	LLMRequests = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaya_llm_requests_total",
			Help: "Generation requests by outcome",
		},
		[]string{"outcome"},
	)

	LLMLatency = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "kaya_llm_latency_seconds",
			Help: "External model call latency in seconds",
		},
		[]string{"provider"},
	)

	LLMTokens = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaya_llm_tokens_total",
			Help: "Tokens consumed by direction",
		},
		[]string{"direction"},
	)

	LLMCostUSD = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "kaya_llm_cost_usd_total",
			Help: "Estimated model spend in USD",
		},
	)

	BreakerState = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "kaya_llm_breaker_state",
			Help: "Circuit breaker state (0 closed, 1 open, 2 half-open)",
		},
	)

	CacheLookups = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "kaya_llm_cache_lookups_total",
			Help: "Response cache lookups by tier and result",
		},
		[]string{"tier", "result"},
	)
)
