package monitor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	cyclesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthwatch_cycles_total",
		Help: "Total number of health check cycles by result",
	}, []string{"result"})

	cycleDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "healthwatch_cycle_duration_seconds",
		Help:    "Duration of completed health check cycles",
		Buckets: prometheus.DefBuckets,
	})

	escalationDecisions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthwatch_escalation_decisions_total",
		Help: "Total number of escalation decisions by outcome and reason",
	}, []string{"outcome", "reason"})

	dispatches = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthwatch_dispatches_total",
		Help: "Total number of alert dispatch attempts by channel and result",
	}, []string{"channel", "result"})

	collaboratorFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthwatch_collaborator_failures_total",
		Help: "Total number of failed collaborator calls",
	}, []string{"collaborator"})
)
