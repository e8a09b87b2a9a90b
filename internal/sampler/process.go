package sampler

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/shirou/gopsutil/v3/process"
	"go.uber.org/zap"

	"github.com/t77yq/healthwatch/internal/monitor"
)

const bytesPerMB = 1024 * 1024

// ProcessSampler reads cpu and resident memory of processes via gopsutil. CPU usage is
// measured between two calls, so the first sample of a pid reports 0.
type ProcessSampler struct {
	logger *zap.Logger

	mu        sync.Mutex
	processes map[int32]*process.Process

	newProcess func(ctx context.Context, pid int32) (*process.Process, error)
}

// NewProcessSampler creates a process sampler
func NewProcessSampler(logger *zap.Logger) *ProcessSampler {
	return &ProcessSampler{
		logger:     logger.Named("process-sampler"),
		processes:  make(map[int32]*process.Process),
		newProcess: process.NewProcessWithContext,
	}
}

// SampleProcesses implements monitor.ProcessSampler. Processes that cannot be read are
// skipped and reported in the returned error.
func (s *ProcessSampler) SampleProcesses(ctx context.Context, pids []int32) ([]monitor.ProcessSample, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var (
		samples []monitor.ProcessSample
		errs    []error
	)
	wanted := make(map[int32]struct{}, len(pids))

	for _, pid := range pids {
		wanted[pid] = struct{}{}

		sample, err := s.sampleLocked(ctx, pid)
		if err != nil {
			delete(s.processes, pid)
			errs = append(errs, fmt.Errorf("pid %d: %w", pid, err))
			continue
		}
		samples = append(samples, sample)
	}

	for pid := range s.processes {
		if _, ok := wanted[pid]; !ok {
			delete(s.processes, pid)
		}
	}

	return samples, errors.Join(errs...)
}

func (s *ProcessSampler) sampleLocked(ctx context.Context, pid int32) (monitor.ProcessSample, error) {
	p, ok := s.processes[pid]
	if !ok {
		var err error
		if p, err = s.newProcess(ctx, pid); err != nil {
			return monitor.ProcessSample{}, err
		}
		s.processes[pid] = p
	}

	cpuPercent, err := p.PercentWithContext(ctx, 0)
	if err != nil {
		return monitor.ProcessSample{}, fmt.Errorf("cpu: %w", err)
	}
	memInfo, err := p.MemoryInfoWithContext(ctx)
	if err != nil {
		return monitor.ProcessSample{}, fmt.Errorf("memory: %w", err)
	}

	return monitor.ProcessSample{
		PID:              pid,
		CPUPercent:       cpuPercent,
		ResidentMemoryMB: float64(memInfo.RSS) / bytesPerMB,
	}, nil
}
