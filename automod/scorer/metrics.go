package scorer

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var scoreOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_toxicity_scores",
	Help: "Number of toxicity scoring attempts, by oracle and outcome",
}, []string{"oracle", "outcome"})

var scoreDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "automod_toxicity_score_duration_sec",
	Help:    "Duration of toxicity oracle calls, including abandoned (timed out) calls",
	Buckets: prometheus.ExponentialBuckets(0.005, 2, 12),
}, []string{"oracle"})

var breakerState = promauto.NewGaugeVec(prometheus.GaugeOpts{
	Name: "automod_oracle_breaker_state",
	Help: "Circuit breaker state per oracle (0=closed, 1=open, 2=half-open)",
}, []string{"oracle"})

var breakerTransitions = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_oracle_breaker_transitions",
	Help: "Number of circuit breaker state transitions, by destination state",
}, []string{"oracle", "to"})

var oracleHTTPCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_oracle_http_requests",
	Help: "Number of HTTP requests to the toxicity model server, by status code",
}, []string{"status"})

var oracleHTTPDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name: "automod_oracle_http_duration_sec",
	Help: "Duration of HTTP requests to the toxicity model server",
})
