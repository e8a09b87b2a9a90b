package config

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/spf13/viper"
	"go.uber.org/zap"
)

const (
	// envPrefix is prepended to every environment override, e.g. HEALTHWATCH_DEDUP_WINDOW_SECONDS
	envPrefix = "HEALTHWATCH"

	configName = "config"
)

// ViperStore loads the monitoring configuration from a YAML file with environment
// overrides. viper is not safe for concurrent use, so every read of v holds mu.
type ViperStore struct {
	dir string

	mu     sync.Mutex
	logger *zap.Logger
	v      *viper.Viper
}

// NewViperStore creates a store reading config.yaml from dir
func NewViperStore(dir string, logger *zap.Logger) *ViperStore {
	v := viper.New()
	v.SetConfigName(configName)
	v.SetConfigType("yaml")
	v.AddConfigPath(dir)
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v, Default())

	return &ViperStore{
		dir:    dir,
		logger: logger.Named("config"),
		v:      v,
	}
}

// SetLogger replaces the store logger. The startup settings pick the logger, so they are
// read before it exists.
func (s *ViperStore) SetLogger(logger *zap.Logger) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.logger = logger.Named("config")
}

// setDefaults registers scalar defaults so environment overrides are picked up by Unmarshal
func setDefaults(v *viper.Viper, d *Config) {
	v.SetDefault("consecutive_failure_threshold", d.ConsecutiveFailureThreshold)
	v.SetDefault("dedup_window_seconds", d.DedupWindowSeconds)
	v.SetDefault("recovery_window_minutes", d.RecoveryWindowMinutes)
	v.SetDefault("health_check_interval_seconds", d.HealthCheckIntervalSeconds)
	v.SetDefault("max_cycle_runtime_seconds", d.MaxCycleRuntimeSeconds)
	v.SetDefault("channel_cooldown_seconds", d.ChannelCooldownSeconds)
	v.SetDefault("process_history_capacity", d.ProcessHistoryCapacity)
	v.SetDefault("slow_query_threshold_ms", d.SlowQueryThresholdMs)
	v.SetDefault("slow_query_capacity", d.SlowQueryCapacity)
	v.SetDefault("slow_endpoint_threshold_ms", d.SlowEndpointThresholdMs)
	v.SetDefault("slow_endpoint_capacity", d.SlowEndpointCapacity)
	v.SetDefault("memory_snapshot_enabled", d.MemorySnapshotEnabled)
	v.SetDefault("memory_snapshot_threshold_mb", d.MemorySnapshotThresholdMB)
	v.SetDefault("memory_snapshot_top_n", d.MemorySnapshotTopN)
	v.SetDefault("memory_snapshot_capacity", d.MemorySnapshotCapacity)
	v.SetDefault("recent_alerts_capacity", d.RecentAlertsCapacity)

	v.SetDefault("app.name", "healthwatch")
	v.SetDefault("log.development", false)
	v.SetDefault("nats.max_reconnects", 5)
	v.SetDefault("nats.reconnect_wait", 2*time.Second)
	v.SetDefault("nats.connect_timeout", 5*time.Second)
	v.SetDefault("smtp.port", 587)
	v.SetDefault("history.path", "healthwatch.db")
	v.SetDefault("history.retention_days", 30)
}

// Load reads and validates the configuration. A missing file yields the defaults.
func (s *ViperStore) Load(ctx context.Context) (*Config, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
		s.logger.Warn("Config file not found, using defaults")
	}

	cfg := Default()
	// decoding into a non-nil slice would merge element-wise with the defaults
	if s.v.IsSet("signals") {
		cfg.Signals = nil
	}
	if s.v.IsSet("channels") {
		cfg.Channels = nil
	}
	if s.v.IsSet("process_pids") {
		cfg.ProcessPIDs = nil
	}

	if err := s.v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("failed to decode config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadServer reads the startup settings. A missing file yields the defaults.
func (s *ViperStore) LoadServer() (*ServerConfig, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.v.ReadInConfig(); err != nil {
		var notFound viper.ConfigFileNotFoundError
		if !errors.As(err, &notFound) {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var cfg ServerConfig
	if err := s.v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to decode server config: %w", err)
	}
	if cfg.History.RetentionDays < 1 {
		return nil, invalid("history.retention_days", "must be at least 1, got %d", cfg.History.RetentionDays)
	}
	return &cfg, nil
}

// Watch calls onChange when the config file in the store directory is written or
// replaced. It never reads the file itself; onChange is expected to call Load. The
// watcher stops when ctx is done.
func (s *ViperStore) Watch(ctx context.Context, onChange func()) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("failed to create config watcher: %w", err)
	}
	// editors replace the file on save, which drops a watch on the file itself
	if err := watcher.Add(s.dir); err != nil {
		_ = watcher.Close()
		return fmt.Errorf("failed to watch config dir %s: %w", s.dir, err)
	}

	s.mu.Lock()
	logger := s.logger
	s.mu.Unlock()

	go func() {
		defer watcher.Close()
		for {
			select {
			case <-ctx.Done():
				return
			case event, ok := <-watcher.Events:
				if !ok {
					return
				}
				if !isConfigFile(event.Name) || !(event.Has(fsnotify.Write) || event.Has(fsnotify.Create)) {
					continue
				}
				logger.Info("Config file changed",
					zap.String("file", event.Name),
					zap.String("op", event.Op.String()))
				onChange()
			case err, ok := <-watcher.Errors:
				if !ok {
					return
				}
				logger.Warn("Config watcher error", zap.Error(err))
			}
		}
	}()
	return nil
}

// isConfigFile matches config.<ext> for any extension viper would search
func isConfigFile(name string) bool {
	base := filepath.Base(name)
	ext := filepath.Ext(base)
	if ext == "" {
		return false
	}
	return strings.TrimSuffix(base, ext) == configName && slices.Contains(viper.SupportedExts, ext[1:])
}
