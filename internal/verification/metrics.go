package verification

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var sessionsStarted = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_verification_sessions_started_total",
	Help: "Number of captcha sessions started, by kind",
}, []string{"kind"})

var sessionOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_verification_outcomes_total",
	Help: "Number of captcha sessions that ended, by kind and outcome",
}, []string{"kind", "outcome"})

var pendingSessions = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "guardian_verification_pending_sessions",
	Help: "Number of captcha sessions currently pending",
})
