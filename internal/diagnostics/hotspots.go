package diagnostics

import (
	"sort"
	"time"

	"github.com/t77yq/healthwatch/internal/model"
)

// Stat summarises a series of samples
type Stat struct {
	Avg float64 `json:"avg"`
	Min float64 `json:"min"`
	Max float64 `json:"max"`
}

// ProcessHotspot aggregates the resource history of one process
type ProcessHotspot struct {
	PID          int32     `json:"pid"`
	Samples      int       `json:"samples"`
	CPUPercent   Stat      `json:"cpu_percent"`
	MemoryMB     Stat      `json:"memory_mb"`
	LastSampleAt time.Time `json:"last_sample_at"`
}

// SlowOperationReport lists the worst operations of one kind
type SlowOperationReport struct {
	ThresholdMs int64                 `json:"threshold_ms"`
	Capacity    int                   `json:"capacity"`
	Entries     []model.SlowOperation `json:"entries"`
}

// MemoryReport lists stored memory snapshots with the snapshot settings
type MemoryReport struct {
	Enabled        bool                   `json:"enabled"`
	ThresholdMB    float64                `json:"threshold_mb"`
	TopN           int                    `json:"top_n"`
	LastSnapshotAt *time.Time             `json:"last_snapshot_at,omitempty"`
	Snapshots      []model.MemorySnapshot `json:"snapshots"`
}

// HotspotsReport is the troubleshooting view over the recorder
type HotspotsReport struct {
	GeneratedAt   time.Time           `json:"generated_at"`
	Processes     []ProcessHotspot    `json:"processes"`
	SlowQueries   SlowOperationReport `json:"slow_queries"`
	SlowEndpoints SlowOperationReport `json:"slow_endpoints"`
	Memory        MemoryReport        `json:"memory"`
}

// Aggregator computes hotspot reports on demand. It holds no state of its own.
type Aggregator struct {
	recorder *Recorder
}

// NewAggregator creates an aggregator reading from recorder
func NewAggregator(recorder *Recorder) *Aggregator {
	return &Aggregator{recorder: recorder}
}

// Aggregate builds a report from one consistent copy of the recorder state
func (a *Aggregator) Aggregate() HotspotsReport {
	state := a.recorder.State()

	report := HotspotsReport{
		GeneratedAt: a.recorder.now(),
		Processes:   make([]ProcessHotspot, 0, len(state.Processes)),
		SlowQueries: SlowOperationReport{
			ThresholdMs: state.SlowQueryThreshold.Milliseconds(),
			Capacity:    state.SlowQueryCapacity,
			Entries:     state.SlowQueries,
		},
		SlowEndpoints: SlowOperationReport{
			ThresholdMs: state.SlowEndpointThreshold.Milliseconds(),
			Capacity:    state.SlowEndpointCapacity,
			Entries:     state.SlowEndpoints,
		},
		Memory: MemoryReport{
			Enabled:     state.SnapshotEnabled,
			ThresholdMB: state.SnapshotThresholdMB,
			TopN:        state.SnapshotTopN,
			Snapshots:   state.MemorySnapshots,
		},
	}
	if !state.LastSnapshotAt.IsZero() {
		last := state.LastSnapshotAt
		report.Memory.LastSnapshotAt = &last
	}

	for pid, history := range state.Processes {
		if len(history) == 0 {
			continue
		}
		report.Processes = append(report.Processes, summarizeProcess(pid, history))
	}
	sort.Slice(report.Processes, func(i, j int) bool {
		pi, pj := report.Processes[i], report.Processes[j]
		if pi.CPUPercent.Avg != pj.CPUPercent.Avg {
			return pi.CPUPercent.Avg > pj.CPUPercent.Avg
		}
		return pi.PID < pj.PID
	})

	return report
}

func summarizeProcess(pid int32, history []model.ProcessHistoryEntry) ProcessHotspot {
	first := history[0]
	hotspot := ProcessHotspot{
		PID:          pid,
		Samples:      len(history),
		CPUPercent:   Stat{Min: first.CPUPercent, Max: first.CPUPercent},
		MemoryMB:     Stat{Min: first.ResidentMemoryMB, Max: first.ResidentMemoryMB},
		LastSampleAt: history[len(history)-1].Timestamp,
	}

	var cpuSum, memSum float64
	for _, e := range history {
		cpuSum += e.CPUPercent
		memSum += e.ResidentMemoryMB
		hotspot.CPUPercent.Min = min(hotspot.CPUPercent.Min, e.CPUPercent)
		hotspot.CPUPercent.Max = max(hotspot.CPUPercent.Max, e.CPUPercent)
		hotspot.MemoryMB.Min = min(hotspot.MemoryMB.Min, e.ResidentMemoryMB)
		hotspot.MemoryMB.Max = max(hotspot.MemoryMB.Max, e.ResidentMemoryMB)
	}
	hotspot.CPUPercent.Avg = cpuSum / float64(len(history))
	hotspot.MemoryMB.Avg = memSum / float64(len(history))

	return hotspot
}
