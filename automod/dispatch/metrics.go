package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var actionCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_dispatch_actions",
	Help: "Number of action handler invocations, by action and outcome",
}, []string{"action", "outcome"})

var auditAppendCount = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "automod_audit_appends",
	Help: "Number of audit record writes, by outcome",
}, []string{"outcome"})

var auditRetryCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_audit_retries",
	Help: "Number of audit append attempts which failed and were retried",
})

var notifyErrorCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_notify_errors",
	Help: "Number of moderator notifications which failed to send",
})

var notifyDroppedCount = promauto.NewCounter(prometheus.CounterOpts{
	Name: "automod_notify_dropped",
	Help: "Number of moderator notifications dropped by the notification rate limit",
})
