package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var ingestDuration = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "automod_ingest_duration_sec",
	Help:    "Total duration of message processing, from ingest to dispatched verdict",
	Buckets: prometheus.ExponentialBuckets(0.001, 2, 14),
})

var verdictCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_verdicts",
	Help: "Number of verdicts produced, by action and policy rule",
}, []string{"action", "rule"})

var degradedCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_degraded_verdicts",
	Help: "Number of verdicts made with missing or invalid signals",
})

var modelWaitTimeouts = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_model_wait_timeouts",
	Help: "Number of messages where the toxicity signal missed the max-wait-for-model deadline",
})

var rejectedCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_rejected_messages",
	Help: "Number of messages rejected before admission, by reason",
}, []string{"reason"})

var dispatchErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_dispatch_errors",
	Help: "Number of verdicts whose dispatch reported an error",
})

var engineExceptionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_engine_exceptions",
	Help: "Number of recovered panics, by component",
}, []string{"component"})
