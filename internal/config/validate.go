package config

import (
	"errors"
	"fmt"
)

// MaxBufferCapacity bounds every configurable diagnostic buffer
const MaxBufferCapacity = 1000

// ErrInvalidConfig is the root of every configuration validation failure
var ErrInvalidConfig = errors.New("invalid configuration")

// ValidationError reports the offending field
type ValidationError struct {
	Field  string
	Reason string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid configuration: %s %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is match ErrInvalidConfig
func (e *ValidationError) Unwrap() error {
	return ErrInvalidConfig
}

func invalid(field, format string, args ...interface{}) error {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}

// Validate checks the configuration and returns the first problem found
func (c *Config) Validate() error {
	if c.ConsecutiveFailureThreshold < 1 {
		return invalid("consecutive_failure_threshold", "must be at least 1, got %d", c.ConsecutiveFailureThreshold)
	}

	nonNegative := []struct {
		field string
		value int
	}{
		{"dedup_window_seconds", c.DedupWindowSeconds},
		{"recovery_window_minutes", c.RecoveryWindowMinutes},
		{"channel_cooldown_seconds", c.ChannelCooldownSeconds},
	}
	for _, f := range nonNegative {
		if f.value < 0 {
			return invalid(f.field, "must not be negative, got %d", f.value)
		}
	}

	positive := []struct {
		field string
		value int
	}{
		{"health_check_interval_seconds", c.HealthCheckIntervalSeconds},
		{"max_cycle_runtime_seconds", c.MaxCycleRuntimeSeconds},
		{"slow_query_threshold_ms", c.SlowQueryThresholdMs},
		{"slow_endpoint_threshold_ms", c.SlowEndpointThresholdMs},
		{"memory_snapshot_top_n", c.MemorySnapshotTopN},
	}
	for _, f := range positive {
		if f.value <= 0 {
			return invalid(f.field, "must be positive, got %d", f.value)
		}
	}

	capacities := []struct {
		field string
		value int
	}{
		{"process_history_capacity", c.ProcessHistoryCapacity},
		{"slow_query_capacity", c.SlowQueryCapacity},
		{"slow_endpoint_capacity", c.SlowEndpointCapacity},
		{"memory_snapshot_capacity", c.MemorySnapshotCapacity},
		{"recent_alerts_capacity", c.RecentAlertsCapacity},
	}
	for _, f := range capacities {
		if f.value < 1 || f.value > MaxBufferCapacity {
			return invalid(f.field, "must be between 1 and %d, got %d", MaxBufferCapacity, f.value)
		}
	}

	if c.MemorySnapshotThresholdMB <= 0 {
		return invalid("memory_snapshot_threshold_mb", "must be positive, got %g", c.MemorySnapshotThresholdMB)
	}

	seen := make(map[string]struct{}, len(c.Signals))
	for i, s := range c.Signals {
		field := fmt.Sprintf("signals[%d]", i)
		if s.Key == "" {
			return invalid(field+".key", "must not be empty")
		}
		if _, dup := seen[s.Key]; dup {
			return invalid(field+".key", "duplicate key %q", s.Key)
		}
		seen[s.Key] = struct{}{}

		if s.Kind != SignalResource && s.Kind != SignalLiveness {
			return invalid(field+".kind", "unknown kind %q", s.Kind)
		}
		if s.Metric == "" {
			return invalid(field+".metric", "must not be empty")
		}
		if s.Threshold <= 0 {
			return invalid(field+".threshold", "must be positive, got %g", s.Threshold)
		}
		if len(c.ChannelsFor(s)) == 0 {
			return invalid(field+".channels", "no notification channel configured")
		}
	}

	return nil
}
