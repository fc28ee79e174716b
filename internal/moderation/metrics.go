package moderation

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var decisionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_moderation_decisions_total",
	Help: "Events handled by the orchestrator, by event type and decision",
}, []string{"event", "decision"})

var sanctionsTotal = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_moderation_sanctions_total",
	Help: "Sanctions applied to spam senders, by action",
}, []string{"action"})

var handleDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
	Name:    "guardian_moderation_handle_seconds",
	Help:    "Time spent handling one event",
	Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
}, []string{"event"})

var dispatchQueued = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "guardian_dispatcher_queued_events",
	Help: "Events waiting in dispatcher queues",
})
