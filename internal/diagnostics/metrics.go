package diagnostics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	slowOperationsRecorded = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthwatch_slow_operations_recorded_total",
		Help: "Total number of operations that exceeded their slow threshold",
	}, []string{"kind"})

	memorySnapshots = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "healthwatch_memory_snapshots_total",
		Help: "Total number of memory snapshot attempts",
	}, []string{"trigger", "result"})
)
