package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/t77yq/healthwatch/internal/config"
	"github.com/t77yq/healthwatch/internal/model"
	"github.com/t77yq/healthwatch/internal/ringbuffer"
)

const (
	// MinSnapshotInterval is the minimum time between two automatic memory snapshots
	MinSnapshotInterval = 5 * time.Minute

	MaxIdentifierLength    = 1000
	MaxMetadataValueLength = 500
	maxMetadataEntries     = 20

	// maxTrackedProcesses bounds how many pids keep a history
	maxTrackedProcesses = 64
)

var (
	// ErrAllocationTrackerUnavailable is returned by ForceSnapshot when no tracker is wired
	ErrAllocationTrackerUnavailable = errors.New("allocation tracker not configured")

	// ErrSnapshotInProgress is returned by ForceSnapshot when another snapshot is running
	ErrSnapshotInProgress = errors.New("memory snapshot already in progress")
)

// AllocationTracker reports the largest live allocation sites
type AllocationTracker interface {
	Snapshot(ctx context.Context, topN int) ([]model.AllocationSite, error)
}

type settings struct {
	processCapacity       int
	slowQueryThreshold    time.Duration
	slowEndpointThreshold time.Duration
	snapshotEnabled       bool
	snapshotThresholdMB   float64
	snapshotTopN          int
}

func settingsFrom(cfg *config.Config) settings {
	return settings{
		processCapacity:       cfg.ProcessHistoryCapacity,
		slowQueryThreshold:    cfg.SlowQueryThreshold(),
		slowEndpointThreshold: cfg.SlowEndpointThreshold(),
		snapshotEnabled:       cfg.MemorySnapshotEnabled,
		snapshotThresholdMB:   cfg.MemorySnapshotThresholdMB,
		snapshotTopN:          cfg.MemorySnapshotTopN,
	}
}

// Recorder keeps bounded diagnostic history: slow operations, per-process resource
// samples and memory snapshots. It is called inline from request paths, so every method
// holds the lock only for in-memory work.
type Recorder struct {
	logger  *zap.Logger
	tracker AllocationTracker
	now     func() time.Time

	minSnapshotInterval time.Duration

	mu             sync.Mutex
	settings       settings
	processes      map[int32]*ringbuffer.RecencyN[model.ProcessHistoryEntry]
	slowQueries    *ringbuffer.WorstN[model.SlowOperation]
	slowEndpoints  *ringbuffer.WorstN[model.SlowOperation]
	snapshots      *ringbuffer.RecencyN[model.MemorySnapshot]
	lastSnapshotAt time.Time
	snapshotting   bool
}

func operationDuration(op model.SlowOperation) time.Duration { return op.Duration }

// NewRecorder creates a recorder sized from cfg. tracker may be nil, which disables
// memory snapshots.
func NewRecorder(cfg *config.Config, tracker AllocationTracker, logger *zap.Logger) *Recorder {
	return &Recorder{
		logger:              logger.Named("diagnostics"),
		tracker:             tracker,
		now:                 time.Now,
		minSnapshotInterval: MinSnapshotInterval,
		settings:            settingsFrom(cfg),
		processes:           make(map[int32]*ringbuffer.RecencyN[model.ProcessHistoryEntry]),
		slowQueries:         ringbuffer.NewWorstN(cfg.SlowQueryCapacity, operationDuration),
		slowEndpoints:       ringbuffer.NewWorstN(cfg.SlowEndpointCapacity, operationDuration),
		snapshots:           ringbuffer.NewRecencyN[model.MemorySnapshot](cfg.MemorySnapshotCapacity),
	}
}

// Configure applies new thresholds and capacities. Shrinking a buffer keeps the most
// relevant entries.
func (r *Recorder) Configure(cfg *config.Config) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.settings = settingsFrom(cfg)
	r.slowQueries.Resize(cfg.SlowQueryCapacity)
	r.slowEndpoints.Resize(cfg.SlowEndpointCapacity)
	r.snapshots.Resize(cfg.MemorySnapshotCapacity)
	for _, history := range r.processes {
		history.Resize(cfg.ProcessHistoryCapacity)
	}
}

// RecordProcessSample appends a resource sample to the history of pid
func (r *Recorder) RecordProcessSample(pid int32, cpuPercent, residentMemoryMB float64) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	history, ok := r.processes[pid]
	if !ok {
		if len(r.processes) >= maxTrackedProcesses {
			r.evictStalestProcessLocked()
		}
		history = ringbuffer.NewRecencyN[model.ProcessHistoryEntry](r.settings.processCapacity)
		r.processes[pid] = history
	}

	err := history.Push(now, model.ProcessHistoryEntry{
		PID:              pid,
		Timestamp:        now,
		CPUPercent:       cpuPercent,
		ResidentMemoryMB: residentMemoryMB,
	})
	r.checkCapacity("process_history", err)
}

func (r *Recorder) evictStalestProcessLocked() {
	var (
		stalest   int32
		stalestAt time.Time
		found     bool
	)
	for pid, history := range r.processes {
		latest, ok := history.Latest()
		if !ok {
			stalest, found = pid, true
			break
		}
		if !found || latest.CapturedAt.Before(stalestAt) {
			stalest, stalestAt, found = pid, latest.CapturedAt, true
		}
	}
	if found {
		delete(r.processes, stalest)
		r.logger.Debug("Evicted process history", zap.Int32("pid", stalest))
	}
}

// RecordSlowOperation stores an operation that took at least the slow threshold of its
// kind. Faster operations are ignored.
func (r *Recorder) RecordSlowOperation(kind model.OperationKind, identifier string, duration time.Duration, metadata map[string]string) {
	now := r.now()

	r.mu.Lock()
	defer r.mu.Unlock()

	var (
		threshold time.Duration
		buffer    *ringbuffer.WorstN[model.SlowOperation]
	)
	switch kind {
	case model.OperationQuery:
		threshold, buffer = r.settings.slowQueryThreshold, r.slowQueries
	case model.OperationEndpoint:
		threshold, buffer = r.settings.slowEndpointThreshold, r.slowEndpoints
	default:
		r.logger.Debug("Ignoring unknown operation kind", zap.String("kind", string(kind)))
		return
	}

	if duration < threshold {
		return
	}

	err := buffer.Insert(now, model.SlowOperation{
		Kind:       kind,
		Identifier: truncateText(identifier, MaxIdentifierLength),
		Duration:   duration,
		Metadata:   truncateMetadata(metadata),
		Timestamp:  now,
	})
	r.checkCapacity("slow_"+string(kind), err)
	slowOperationsRecorded.WithLabelValues(string(kind)).Inc()
}

// Track starts timing an operation. Call the returned func when it completes.
//
//	defer recorder.Track(model.OperationQuery, query, nil)()
func (r *Recorder) Track(kind model.OperationKind, identifier string, metadata map[string]string) func() {
	start := time.Now()
	return func() {
		r.RecordSlowOperation(kind, identifier, time.Since(start), metadata)
	}
}

// MaybeSnapshotMemory captures the top allocation sites when snapshots are enabled,
// currentTotalMB is at or above the threshold and the minimum interval has passed since
// the last snapshot. Tracker failures are logged and yield nil.
func (r *Recorder) MaybeSnapshotMemory(ctx context.Context, currentTotalMB float64) *model.MemorySnapshot {
	r.mu.Lock()
	s := r.settings
	now := r.now()
	due := s.snapshotEnabled &&
		r.tracker != nil &&
		currentTotalMB >= s.snapshotThresholdMB &&
		!r.snapshotting &&
		(r.lastSnapshotAt.IsZero() || now.Sub(r.lastSnapshotAt) >= r.minSnapshotInterval)
	if due {
		r.snapshotting = true
	}
	r.mu.Unlock()

	if !due {
		return nil
	}

	snapshot, err := r.capture(ctx, currentTotalMB, s.snapshotTopN)
	if err != nil {
		r.logger.Warn("Memory snapshot failed",
			zap.Float64("total_memory_mb", currentTotalMB),
			zap.Error(err))
		memorySnapshots.WithLabelValues("threshold", "failed").Inc()
		return nil
	}

	r.logger.Info("Memory snapshot captured",
		zap.Float64("total_memory_mb", currentTotalMB),
		zap.Float64("threshold_mb", s.snapshotThresholdMB),
		zap.Int("allocations", len(snapshot.TopAllocations)))
	memorySnapshots.WithLabelValues("threshold", "captured").Inc()
	return snapshot
}

// ForceSnapshot captures a snapshot now, ignoring the enabled flag, the threshold and
// the minimum interval.
func (r *Recorder) ForceSnapshot(ctx context.Context) (*model.MemorySnapshot, error) {
	if r.tracker == nil {
		return nil, ErrAllocationTrackerUnavailable
	}

	r.mu.Lock()
	if r.snapshotting {
		r.mu.Unlock()
		return nil, ErrSnapshotInProgress
	}
	r.snapshotting = true
	total := r.latestTotalMemoryLocked()
	topN := r.settings.snapshotTopN
	r.mu.Unlock()

	snapshot, err := r.capture(ctx, total, topN)
	if err != nil {
		memorySnapshots.WithLabelValues("forced", "failed").Inc()
		return nil, err
	}

	r.logger.Info("Forced memory snapshot captured",
		zap.Float64("total_memory_mb", total),
		zap.Int("allocations", len(snapshot.TopAllocations)))
	memorySnapshots.WithLabelValues("forced", "captured").Inc()
	return snapshot, nil
}

// capture calls the tracker without holding the lock and stores the result.
// The caller must have set r.snapshotting.
func (r *Recorder) capture(ctx context.Context, totalMB float64, topN int) (snapshot *model.MemorySnapshot, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("allocation tracker panicked: %v", p)
		}
		r.mu.Lock()
		r.snapshotting = false
		if err == nil {
			r.lastSnapshotAt = snapshot.Timestamp
			r.checkCapacity("memory_snapshots", r.snapshots.Push(snapshot.Timestamp, *snapshot))
		}
		r.mu.Unlock()
	}()

	sites, err := r.tracker.Snapshot(ctx, topN)
	if err != nil {
		return nil, fmt.Errorf("failed to snapshot allocations: %w", err)
	}
	if len(sites) > topN {
		sites = sites[:topN]
	}
	for i := range sites {
		sites[i].Location = truncateText(sites[i].Location, MaxIdentifierLength)
	}

	return &model.MemorySnapshot{
		Timestamp:      r.now(),
		TotalMemoryMB:  totalMB,
		TopAllocations: sites,
	}, nil
}

// latestTotalMemoryLocked sums the newest resident memory sample of every tracked process
func (r *Recorder) latestTotalMemoryLocked() float64 {
	var total float64
	for _, history := range r.processes {
		if latest, ok := history.Latest(); ok {
			total += latest.Payload.ResidentMemoryMB
		}
	}
	return total
}

func (r *Recorder) checkCapacity(buffer string, err error) {
	if err != nil {
		r.logger.Error("Diagnostic buffer exceeded its capacity, truncated",
			zap.String("buffer", buffer),
			zap.Error(err))
	}
}

// State is a consistent copy of everything the recorder holds
type State struct {
	Processes             map[int32][]model.ProcessHistoryEntry
	SlowQueries           []model.SlowOperation
	SlowEndpoints         []model.SlowOperation
	MemorySnapshots       []model.MemorySnapshot
	SlowQueryThreshold    time.Duration
	SlowQueryCapacity     int
	SlowEndpointThreshold time.Duration
	SlowEndpointCapacity  int
	SnapshotEnabled       bool
	SnapshotThresholdMB   float64
	SnapshotTopN          int
	LastSnapshotAt        time.Time
}

// State returns a copy of the recorder contents taken under one lock
func (r *Recorder) State() State {
	r.mu.Lock()
	defer r.mu.Unlock()

	state := State{
		Processes:             make(map[int32][]model.ProcessHistoryEntry, len(r.processes)),
		SlowQueries:           payloads(r.slowQueries.Items()),
		SlowEndpoints:         payloads(r.slowEndpoints.Items()),
		MemorySnapshots:       payloads(r.snapshots.Items()),
		SlowQueryThreshold:    r.settings.slowQueryThreshold,
		SlowQueryCapacity:     r.slowQueries.Cap(),
		SlowEndpointThreshold: r.settings.slowEndpointThreshold,
		SlowEndpointCapacity:  r.slowEndpoints.Cap(),
		SnapshotEnabled:       r.settings.snapshotEnabled,
		SnapshotThresholdMB:   r.settings.snapshotThresholdMB,
		SnapshotTopN:          r.settings.snapshotTopN,
		LastSnapshotAt:        r.lastSnapshotAt,
	}
	for pid, history := range r.processes {
		state.Processes[pid] = payloads(history.Items())
	}
	return state
}

func payloads[T any](entries []ringbuffer.Entry[T]) []T {
	out := make([]T, len(entries))
	for i, e := range entries {
		out[i] = e.Payload
	}
	return out
}

func truncateText(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	// no rune start at all, the input is not UTF-8
	if cut == 0 {
		return s[:max]
	}
	return s[:cut]
}

func truncateMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, min(len(metadata), maxMetadataEntries))
	for k, v := range metadata {
		if len(out) == maxMetadataEntries {
			break
		}
		out[truncateText(k, MaxIdentifierLength)] = truncateText(v, MaxMetadataValueLength)
	}
	return out
}
