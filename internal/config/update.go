package config

import "maps"

// Update is a partial configuration change. Nil fields are left unchanged.
type Update struct {
	ConsecutiveFailureThreshold *int `json:"consecutive_failure_threshold,omitempty"`
	DedupWindowSeconds          *int `json:"dedup_window_seconds,omitempty"`
	RecoveryWindowMinutes       *int `json:"recovery_window_minutes,omitempty"`
	ChannelCooldownSeconds      *int `json:"channel_cooldown_seconds,omitempty"`
	MaxCycleRuntimeSeconds      *int `json:"max_cycle_runtime_seconds,omitempty"`

	ProcessHistoryCapacity  *int `json:"process_history_capacity,omitempty"`
	SlowQueryThresholdMs    *int `json:"slow_query_threshold_ms,omitempty"`
	SlowQueryCapacity       *int `json:"slow_query_capacity,omitempty"`
	SlowEndpointThresholdMs *int `json:"slow_endpoint_threshold_ms,omitempty"`
	SlowEndpointCapacity    *int `json:"slow_endpoint_capacity,omitempty"`

	MemorySnapshotEnabled     *bool    `json:"memory_snapshot_enabled,omitempty"`
	MemorySnapshotThresholdMB *float64 `json:"memory_snapshot_threshold_mb,omitempty"`
	MemorySnapshotTopN        *int     `json:"memory_snapshot_top_n,omitempty"`

	// SignalThresholds maps signal keys to new thresholds
	SignalThresholds map[string]float64 `json:"signal_thresholds,omitempty"`
}

// Apply returns a validated copy of base with the update applied. base is not modified.
func (u Update) Apply(base *Config) (*Config, error) {
	next := base.Clone()

	setInt(&next.ConsecutiveFailureThreshold, u.ConsecutiveFailureThreshold)
	setInt(&next.DedupWindowSeconds, u.DedupWindowSeconds)
	setInt(&next.RecoveryWindowMinutes, u.RecoveryWindowMinutes)
	setInt(&next.ChannelCooldownSeconds, u.ChannelCooldownSeconds)
	setInt(&next.MaxCycleRuntimeSeconds, u.MaxCycleRuntimeSeconds)
	setInt(&next.ProcessHistoryCapacity, u.ProcessHistoryCapacity)
	setInt(&next.SlowQueryThresholdMs, u.SlowQueryThresholdMs)
	setInt(&next.SlowQueryCapacity, u.SlowQueryCapacity)
	setInt(&next.SlowEndpointThresholdMs, u.SlowEndpointThresholdMs)
	setInt(&next.SlowEndpointCapacity, u.SlowEndpointCapacity)
	setInt(&next.MemorySnapshotTopN, u.MemorySnapshotTopN)

	if u.MemorySnapshotEnabled != nil {
		next.MemorySnapshotEnabled = *u.MemorySnapshotEnabled
	}
	if u.MemorySnapshotThresholdMB != nil {
		next.MemorySnapshotThresholdMB = *u.MemorySnapshotThresholdMB
	}

	for key, threshold := range u.SignalThresholds {
		found := false
		for i := range next.Signals {
			if next.Signals[i].Key == key {
				next.Signals[i].Threshold = threshold
				found = true
				break
			}
		}
		if !found {
			return nil, invalid("signal_thresholds", "unknown signal %q", key)
		}
	}

	if err := next.Validate(); err != nil {
		return nil, err
	}
	return next, nil
}

// Merge layers next on top of u. Fields set in next win; signal thresholds are combined.
func (u Update) Merge(next Update) Update {
	out := u
	pick(&out.ConsecutiveFailureThreshold, next.ConsecutiveFailureThreshold)
	pick(&out.DedupWindowSeconds, next.DedupWindowSeconds)
	pick(&out.RecoveryWindowMinutes, next.RecoveryWindowMinutes)
	pick(&out.ChannelCooldownSeconds, next.ChannelCooldownSeconds)
	pick(&out.MaxCycleRuntimeSeconds, next.MaxCycleRuntimeSeconds)
	pick(&out.ProcessHistoryCapacity, next.ProcessHistoryCapacity)
	pick(&out.SlowQueryThresholdMs, next.SlowQueryThresholdMs)
	pick(&out.SlowQueryCapacity, next.SlowQueryCapacity)
	pick(&out.SlowEndpointThresholdMs, next.SlowEndpointThresholdMs)
	pick(&out.SlowEndpointCapacity, next.SlowEndpointCapacity)
	pick(&out.MemorySnapshotTopN, next.MemorySnapshotTopN)

	pick(&out.MemorySnapshotEnabled, next.MemorySnapshotEnabled)
	pick(&out.MemorySnapshotThresholdMB, next.MemorySnapshotThresholdMB)

	if len(u.SignalThresholds)+len(next.SignalThresholds) > 0 {
		out.SignalThresholds = make(map[string]float64, len(u.SignalThresholds)+len(next.SignalThresholds))
		maps.Copy(out.SignalThresholds, u.SignalThresholds)
		maps.Copy(out.SignalThresholds, next.SignalThresholds)
	}
	return out
}

// IsZero reports whether the update changes nothing
func (u Update) IsZero() bool {
	return u.ConsecutiveFailureThreshold == nil && u.DedupWindowSeconds == nil &&
		u.RecoveryWindowMinutes == nil && u.ChannelCooldownSeconds == nil &&
		u.MaxCycleRuntimeSeconds == nil && u.ProcessHistoryCapacity == nil &&
		u.SlowQueryThresholdMs == nil && u.SlowQueryCapacity == nil &&
		u.SlowEndpointThresholdMs == nil && u.SlowEndpointCapacity == nil &&
		u.MemorySnapshotEnabled == nil && u.MemorySnapshotThresholdMB == nil &&
		u.MemorySnapshotTopN == nil && len(u.SignalThresholds) == 0
}

// pick copies the value so the merged update does not alias the caller's
func pick[T any](dst **T, v *T) {
	if v != nil {
		c := *v
		*dst = &c
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}
