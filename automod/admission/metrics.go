package admission

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var inFlightGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "automod_admission_in_flight",
	Help: "Number of messages currently admitted to the scoring pipeline",
})

var queueDepthGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "automod_admission_queue_depth",
	Help: "Number of messages waiting for an in-flight slot",
})

var throttledCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_admission_throttled",
	Help: "Number of messages rejected at admission, by reason",
}, []string{"reason"})

var admissionWait = promauto.NewHistogram(prometheus.HistogramOpts{
	Name:    "automod_admission_wait_sec",
	Help:    "Time spent waiting for an in-flight slot",
	Buckets: prometheus.ExponentialBuckets(0.0005, 2, 14),
})

var rateExceededCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_rate_exceeded",
	Help: "Number of messages over the per-sender rate limit",
})

var rateSendersGauge = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "automod_rate_senders",
	Help: "Number of senders with tracked rate state",
})
