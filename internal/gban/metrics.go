package gban

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var enforcements = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "guardian_gban_enforcements_total",
	Help: "Global ban enforcement attempts per group, by result",
}, []string{"result"})

var activeEntries = promauto.NewGauge(prometheus.GaugeOpts{
	Name: "guardian_gban_entries",
	Help: "Number of active global bans",
})
