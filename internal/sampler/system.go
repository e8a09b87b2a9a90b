package sampler

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/disk"
	"github.com/shirou/gopsutil/v3/load"
	"github.com/shirou/gopsutil/v3/mem"
	"go.uber.org/zap"

	"github.com/t77yq/healthwatch/internal/config"
	"github.com/t77yq/healthwatch/internal/monitor"
)

const (
	MetricCPUPercent    = "cpu_percent"
	MetricMemoryPercent = "memory_percent"
	MetricDiskPercent   = "disk_percent"
	MetricLoad1         = "load1"

	// cpuSampleInterval is how long cpu_percent measures
	cpuSampleInterval = time.Second

	// DefaultProbeTimeout bounds a single liveness probe
	DefaultProbeTimeout = 5 * time.Second
)

// ErrUnknownMetric is returned for a metric no sampler handles
var ErrUnknownMetric = errors.New("unknown metric")

// Probe checks one liveness target and returns 1 when it is up and 0 when it is down.
// Other values are allowed (consul returns the number of passing instances). An error
// means the probe itself could not run.
type Probe func(ctx context.Context, target string) (float64, error)

// SystemSampler samples host resources via gopsutil and runs liveness probes
type SystemSampler struct {
	logger       *zap.Logger
	probeTimeout time.Duration
	probes       map[string]Probe

	// Collection functions, replaced in tests
	cpuPercent    func(ctx context.Context, interval time.Duration, percpu bool) ([]float64, error)
	virtualMemory func(ctx context.Context) (*mem.VirtualMemoryStat, error)
	diskUsage     func(ctx context.Context, path string) (*disk.UsageStat, error)
	loadAvg       func(ctx context.Context) (*load.AvgStat, error)
	now           func() time.Time
}

// NewSystemSampler creates a sampler with the tcp and http probes registered
func NewSystemSampler(logger *zap.Logger) *SystemSampler {
	s := &SystemSampler{
		logger:        logger.Named("sampler"),
		probeTimeout:  DefaultProbeTimeout,
		probes:        make(map[string]Probe),
		cpuPercent:    cpu.PercentWithContext,
		virtualMemory: mem.VirtualMemoryWithContext,
		diskUsage:     disk.UsageWithContext,
		loadAvg:       load.AvgWithContext,
		now:           time.Now,
	}
	s.RegisterProbe(MetricTCP, TCPProbe)
	s.RegisterProbe(MetricHTTP, NewHTTPProbe(nil))
	return s
}

// RegisterProbe makes probe available to liveness signals using metric
func (s *SystemSampler) RegisterProbe(metric string, probe Probe) {
	s.probes[metric] = probe
}

// Sample implements monitor.MetricSampler
func (s *SystemSampler) Sample(ctx context.Context, signal config.SignalConfig) (monitor.Sample, error) {
	var (
		value float64
		err   error
	)
	if signal.Kind == config.SignalLiveness {
		value, err = s.probe(ctx, signal)
	} else {
		value, err = s.resource(ctx, signal)
	}
	if err != nil {
		return monitor.Sample{}, fmt.Errorf("failed to sample %s: %w", signal.Metric, err)
	}

	s.logger.Debug("Signal sampled",
		zap.String("signal", signal.Key),
		zap.String("metric", signal.Metric),
		zap.Float64("value", value))
	return monitor.Sample{Value: value, Timestamp: s.now()}, nil
}

func (s *SystemSampler) resource(ctx context.Context, signal config.SignalConfig) (float64, error) {
	switch signal.Metric {
	case MetricCPUPercent:
		percent, err := s.cpuPercent(ctx, cpuSampleInterval, false)
		if err != nil {
			return 0, err
		}
		if len(percent) == 0 {
			return 0, errors.New("no cpu usage reported")
		}
		return percent[0], nil

	case MetricMemoryPercent:
		vm, err := s.virtualMemory(ctx)
		if err != nil {
			return 0, err
		}
		return vm.UsedPercent, nil

	case MetricDiskPercent:
		path := signal.Target
		if path == "" {
			path = "/"
		}
		usage, err := s.diskUsage(ctx, path)
		if err != nil {
			return 0, err
		}
		return usage.UsedPercent, nil

	case MetricLoad1:
		avg, err := s.loadAvg(ctx)
		if err != nil {
			return 0, err
		}
		return avg.Load1, nil
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, signal.Metric)
}

func (s *SystemSampler) probe(ctx context.Context, signal config.SignalConfig) (float64, error) {
	probe, ok := s.probes[signal.Metric]
	if !ok {
		return 0, fmt.Errorf("%w: %q", ErrUnknownMetric, signal.Metric)
	}

	ctx, cancel := context.WithTimeout(ctx, s.probeTimeout)
	defer cancel()
	return probe(ctx, signal.Target)
}
