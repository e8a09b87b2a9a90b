package monitor

import (
	"context"
	"time"

	"github.com/t77yq/healthwatch/internal/config"
	"github.com/t77yq/healthwatch/internal/diagnostics"
	"github.com/t77yq/healthwatch/internal/model"
)

// Sample is one observed value of a signal
type Sample struct {
	Value     float64
	Timestamp time.Time
}

// MetricSampler reads the current value of a signal
type MetricSampler interface {
	Sample(ctx context.Context, signal config.SignalConfig) (Sample, error)
}

// ProcessSample is the resource usage of one process
type ProcessSample struct {
	PID              int32
	CPUPercent       float64
	ResidentMemoryMB float64
}

// ProcessSampler reads per-process resource usage. It may return partial results
// together with an error.
type ProcessSampler interface {
	SampleProcesses(ctx context.Context, pids []int32) ([]ProcessSample, error)
}

// Notifier delivers an alert on one channel
type Notifier interface {
	Send(ctx context.Context, alert *model.Alert) error
}

// SettingsStore loads the persisted configuration
type SettingsStore interface {
	Load(ctx context.Context) (*config.Config, error)
}

// AlertHistory keeps a durable record of alerts and suppressions
type AlertHistory interface {
	RecordAlert(ctx context.Context, alert *model.Alert) error
	RecordSuppression(ctx context.Context, event model.SuppressionEvent) error
}

// Dependencies are the collaborators of a Coordinator. Only Sampler is required.
type Dependencies struct {
	Sampler   MetricSampler
	Processes ProcessSampler
	// Notifiers maps channel names to their notifier
	Notifiers map[string]Notifier
	Settings  SettingsStore
	History   AlertHistory

	// Recorder is shared with request paths. When nil, Init creates one using Allocations.
	Recorder    *diagnostics.Recorder
	Allocations diagnostics.AllocationTracker

	// Clock defaults to time.Now
	Clock func() time.Time
}
