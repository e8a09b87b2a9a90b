package monitor

import (
	"context"
	"slices"
	"time"

	"github.com/t77yq/healthwatch/internal/config"
	"github.com/t77yq/healthwatch/internal/diagnostics"
	"github.com/t77yq/healthwatch/internal/model"
)

// CycleStats counts cycles by result
type CycleStats struct {
	State         CycleState    `json:"state"`
	Completed     uint64        `json:"completed"`
	Skipped       uint64        `json:"skipped"`
	Aborted       uint64        `json:"aborted"`
	Cancelled     uint64        `json:"cancelled"`
	LastResult    CycleResult   `json:"last_result,omitempty"`
	LastStartedAt time.Time     `json:"last_started_at"`
	LastDuration  time.Duration `json:"last_duration"`
}

// SignalStatus is the current view of one signal
type SignalStatus struct {
	Key       string            `json:"key"`
	Name      string            `json:"name"`
	Kind      config.SignalKind `json:"kind"`
	Value     float64           `json:"value"`
	Threshold float64           `json:"threshold"`
	Failing   bool              `json:"failing"`
	// Transient is set while the signal fails but has not reached the failure threshold
	Transient           bool                 `json:"transient"`
	ConsecutiveFailures uint                 `json:"consecutive_failures"`
	LastOutcome         model.Outcome        `json:"last_outcome,omitempty"`
	LastReason          model.SuppressReason `json:"last_reason,omitempty"`
	LastError           string               `json:"last_error,omitempty"`
	LastCheckedAt       *time.Time           `json:"last_checked_at,omitempty"`
	LastEscalatedAt     *time.Time           `json:"last_escalated_at,omitempty"`
	RecoveredAt         *time.Time           `json:"recovered_at,omitempty"`
	// Recovering is set during the recovery window after an escalated signal turned healthy
	Recovering bool `json:"recovering"`
}

// Status is the monitor state served to operators
type Status struct {
	GeneratedAt  time.Time                `json:"generated_at"`
	Signals      []SignalStatus           `json:"signals"`
	Suppressions []model.SuppressionEvent `json:"suppressions"`
	Cycles       CycleStats               `json:"cycles"`
}

// Status returns the per-signal state, recent suppressions and cycle counters
func (c *Coordinator) Status() (Status, error) {
	cfg := c.cfg.Load()
	if cfg == nil {
		return Status{}, ErrNotInitialized
	}

	now := c.now()
	states := c.tracker.States()

	c.mu.RLock()
	defer c.mu.RUnlock()

	status := Status{
		GeneratedAt:  now,
		Signals:      make([]SignalStatus, 0, len(cfg.Signals)),
		Suppressions: make([]model.SuppressionEvent, 0, c.suppressions.Len()),
		Cycles:       c.stats,
	}
	status.Cycles.State = c.state.Load().(CycleState)

	for _, signal := range cfg.Signals {
		s := SignalStatus{
			Key:       signal.Key,
			Name:      signal.Name,
			Kind:      signal.Kind,
			Threshold: signal.Threshold,
		}

		if o, ok := c.signals[signal.Key]; ok {
			s.Value = o.value
			s.Failing = o.failing
			s.LastOutcome = o.decision.Outcome
			s.LastReason = o.decision.Reason
			s.LastError = o.lastError
			if !o.lastCheckedAt.IsZero() {
				at := o.lastCheckedAt
				s.LastCheckedAt = &at
			}
		}

		if state, ok := states[model.AlertKey(signal.Key)]; ok {
			s.ConsecutiveFailures = state.ConsecutiveFailures
			s.LastEscalatedAt = state.LastEscalatedAt
			s.RecoveredAt = state.RecoveredAt
		}

		s.Transient = s.Failing && s.ConsecutiveFailures < uint(cfg.ConsecutiveFailureThreshold)
		s.Recovering = !s.Failing && s.RecoveredAt != nil && now.Sub(*s.RecoveredAt) < cfg.RecoveryWindow()

		status.Signals = append(status.Signals, s)
	}

	for _, entry := range c.suppressions.Items() {
		status.Suppressions = append(status.Suppressions, entry.Payload)
	}
	return status, nil
}

// Hotspots aggregates the diagnostic buffers
func (c *Coordinator) Hotspots() (diagnostics.HotspotsReport, error) {
	if c.cfg.Load() == nil {
		return diagnostics.HotspotsReport{}, ErrNotInitialized
	}
	return c.aggregator.Aggregate(), nil
}

// RecentAlerts returns the alerts escalated within window, newest first
func (c *Coordinator) RecentAlerts(window time.Duration) ([]model.Alert, error) {
	if c.cfg.Load() == nil {
		return nil, ErrNotInitialized
	}

	since := c.now().Add(-window)

	c.mu.RLock()
	entries := c.recentAlerts.Items()
	c.mu.RUnlock()

	alerts := make([]model.Alert, 0, len(entries))
	for _, entry := range entries {
		if !entry.CapturedAt.Before(since) {
			alert := entry.Payload
			alert.Channels = slices.Clone(alert.Channels)
			alerts = append(alerts, alert)
		}
	}
	slices.Reverse(alerts)
	return alerts, nil
}

// ForceMemorySnapshot captures a memory snapshot now regardless of the snapshot
// settings and the minimum interval
func (c *Coordinator) ForceMemorySnapshot(ctx context.Context) (*model.MemorySnapshot, error) {
	if c.cfg.Load() == nil {
		return nil, ErrNotInitialized
	}
	return c.recorder.ForceSnapshot(ctx)
}
