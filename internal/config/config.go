package config

import (
	"slices"
	"time"
)

// SignalKind selects how a sampled value is compared to its threshold
type SignalKind string

const (
	// SignalResource fails when the sampled value is above the threshold
	SignalResource SignalKind = "resource"
	// SignalLiveness fails when the sampled value is below the threshold (1 up, 0 down)
	SignalLiveness SignalKind = "liveness"
)

// SignalConfig describes one monitored condition
type SignalConfig struct {
	Key       string     `mapstructure:"key" json:"key"`
	Name      string     `mapstructure:"name" json:"name"`
	Kind      SignalKind `mapstructure:"kind" json:"kind"`
	Metric    string     `mapstructure:"metric" json:"metric"`
	Target    string     `mapstructure:"target" json:"target,omitempty"`
	Threshold float64    `mapstructure:"threshold" json:"threshold"`
	// Percentage marks 0-100 scaled metrics; only those get the absolute high-severity rule
	Percentage bool     `mapstructure:"percentage" json:"percentage"`
	Channels   []string `mapstructure:"channels" json:"channels,omitempty"`
}

// Config holds the monitoring configuration. A Config value is never mutated after it
// has been published; updates build a new value.
type Config struct {
	ConsecutiveFailureThreshold int `mapstructure:"consecutive_failure_threshold" json:"consecutive_failure_threshold"`
	DedupWindowSeconds          int `mapstructure:"dedup_window_seconds" json:"dedup_window_seconds"`
	RecoveryWindowMinutes       int `mapstructure:"recovery_window_minutes" json:"recovery_window_minutes"`
	HealthCheckIntervalSeconds  int `mapstructure:"health_check_interval_seconds" json:"health_check_interval_seconds"`
	MaxCycleRuntimeSeconds      int `mapstructure:"max_cycle_runtime_seconds" json:"max_cycle_runtime_seconds"`
	ChannelCooldownSeconds      int `mapstructure:"channel_cooldown_seconds" json:"channel_cooldown_seconds"`

	ProcessHistoryCapacity int     `mapstructure:"process_history_capacity" json:"process_history_capacity"`
	ProcessPIDs            []int32 `mapstructure:"process_pids" json:"process_pids,omitempty"`

	SlowQueryThresholdMs    int `mapstructure:"slow_query_threshold_ms" json:"slow_query_threshold_ms"`
	SlowQueryCapacity       int `mapstructure:"slow_query_capacity" json:"slow_query_capacity"`
	SlowEndpointThresholdMs int `mapstructure:"slow_endpoint_threshold_ms" json:"slow_endpoint_threshold_ms"`
	SlowEndpointCapacity    int `mapstructure:"slow_endpoint_capacity" json:"slow_endpoint_capacity"`

	MemorySnapshotEnabled     bool    `mapstructure:"memory_snapshot_enabled" json:"memory_snapshot_enabled"`
	MemorySnapshotThresholdMB float64 `mapstructure:"memory_snapshot_threshold_mb" json:"memory_snapshot_threshold_mb"`
	MemorySnapshotTopN        int     `mapstructure:"memory_snapshot_top_n" json:"memory_snapshot_top_n"`
	MemorySnapshotCapacity    int     `mapstructure:"memory_snapshot_capacity" json:"memory_snapshot_capacity"`

	RecentAlertsCapacity int `mapstructure:"recent_alerts_capacity" json:"recent_alerts_capacity"`

	// Channels are the notification channels used by signals without their own list
	Channels []string       `mapstructure:"channels" json:"channels"`
	Signals  []SignalConfig `mapstructure:"signals" json:"signals"`
}

// Default returns the configuration used when nothing is persisted
func Default() *Config {
	return &Config{
		ConsecutiveFailureThreshold: 3,
		DedupWindowSeconds:          300,
		RecoveryWindowMinutes:       60,
		HealthCheckIntervalSeconds:  60,
		MaxCycleRuntimeSeconds:      30,
		ChannelCooldownSeconds:      600,
		ProcessHistoryCapacity:      100,
		SlowQueryThresholdMs:        1000,
		SlowQueryCapacity:           50,
		SlowEndpointThresholdMs:     2000,
		SlowEndpointCapacity:        50,
		MemorySnapshotEnabled:       false,
		MemorySnapshotThresholdMB:   512,
		MemorySnapshotTopN:          10,
		MemorySnapshotCapacity:      10,
		RecentAlertsCapacity:        200,
		Channels:                    []string{"log"},
		Signals: []SignalConfig{
			{Key: "cpu", Name: "CPU usage", Kind: SignalResource, Metric: "cpu_percent", Threshold: 85, Percentage: true},
			{Key: "memory", Name: "Memory usage", Kind: SignalResource, Metric: "memory_percent", Threshold: 90, Percentage: true},
			{Key: "disk", Name: "Disk usage", Kind: SignalResource, Metric: "disk_percent", Target: "/", Threshold: 90, Percentage: true},
			{Key: "database", Name: "Database", Kind: SignalLiveness, Metric: "tcp", Target: "127.0.0.1:5432", Threshold: 1},
		},
	}
}

// Clone returns a deep copy
func (c *Config) Clone() *Config {
	out := *c
	out.ProcessPIDs = slices.Clone(c.ProcessPIDs)
	out.Channels = slices.Clone(c.Channels)
	out.Signals = make([]SignalConfig, len(c.Signals))
	for i, s := range c.Signals {
		s.Channels = slices.Clone(s.Channels)
		out.Signals[i] = s
	}
	return &out
}

// Signal returns the signal with the given key
func (c *Config) Signal(key string) (SignalConfig, bool) {
	for _, s := range c.Signals {
		if s.Key == key {
			return s, true
		}
	}
	return SignalConfig{}, false
}

// ChannelsFor returns the notification channels of a signal
func (c *Config) ChannelsFor(s SignalConfig) []string {
	if len(s.Channels) > 0 {
		return s.Channels
	}
	return c.Channels
}

func (c *Config) DedupWindow() time.Duration {
	return time.Duration(c.DedupWindowSeconds) * time.Second
}

func (c *Config) RecoveryWindow() time.Duration {
	return time.Duration(c.RecoveryWindowMinutes) * time.Minute
}

func (c *Config) HealthCheckInterval() time.Duration {
	return time.Duration(c.HealthCheckIntervalSeconds) * time.Second
}

func (c *Config) MaxCycleRuntime() time.Duration {
	return time.Duration(c.MaxCycleRuntimeSeconds) * time.Second
}

func (c *Config) ChannelCooldown() time.Duration {
	return time.Duration(c.ChannelCooldownSeconds) * time.Second
}

func (c *Config) SlowQueryThreshold() time.Duration {
	return time.Duration(c.SlowQueryThresholdMs) * time.Millisecond
}

func (c *Config) SlowEndpointThreshold() time.Duration {
	return time.Duration(c.SlowEndpointThresholdMs) * time.Millisecond
}
