package monitor

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/healthwatch/internal/config"
	"github.com/t77yq/healthwatch/internal/diagnostics"
	"github.com/t77yq/healthwatch/internal/model"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

type fakeSampler struct {
	mu     sync.Mutex
	values map[string]float64
	errs   map[string]error
	// gate, when set, blocks every Sample call until closed. Context is ignored.
	gate    chan struct{}
	entered chan struct{}
}

func newFakeSampler() *fakeSampler {
	return &fakeSampler{
		values: map[string]float64{"cpu": 10, "memory": 20, "database": 1},
		errs:   make(map[string]error),
	}
}

func (f *fakeSampler) Set(key string, value float64) {
	f.mu.Lock()
	f.values[key] = value
	f.errs[key] = nil
	f.mu.Unlock()
}

func (f *fakeSampler) Fail(key string, err error) {
	f.mu.Lock()
	f.errs[key] = err
	f.mu.Unlock()
}

func (f *fakeSampler) Block() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.gate = make(chan struct{})
	f.entered = make(chan struct{}, 1)
	gate := f.gate
	return func() { close(gate) }
}

func (f *fakeSampler) Sample(ctx context.Context, signal config.SignalConfig) (Sample, error) {
	f.mu.Lock()
	gate, entered := f.gate, f.entered
	value, err := f.values[signal.Key], f.errs[signal.Key]
	f.mu.Unlock()

	if gate != nil {
		select {
		case entered <- struct{}{}:
		default:
		}
		<-gate
	}
	if err != nil {
		return Sample{}, err
	}
	return Sample{Value: value, Timestamp: time.Now()}, nil
}

type recordingNotifier struct {
	mu     sync.Mutex
	alerts []model.Alert
	err    error
}

func (n *recordingNotifier) Send(ctx context.Context, alert *model.Alert) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.alerts = append(n.alerts, *alert)
	return nil
}

func (n *recordingNotifier) Alerts() []model.Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]model.Alert(nil), n.alerts...)
}

type fakeHistory struct {
	mu           sync.Mutex
	alerts       []string
	suppressions []model.SuppressionEvent
}

func (h *fakeHistory) RecordAlert(ctx context.Context, alert *model.Alert) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.alerts = append(h.alerts, alert.ID)
	return nil
}

func (h *fakeHistory) RecordSuppression(ctx context.Context, event model.SuppressionEvent) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.suppressions = append(h.suppressions, event)
	return nil
}

type fakeProcesses struct {
	samples []ProcessSample
}

func (f *fakeProcesses) SampleProcesses(ctx context.Context, pids []int32) ([]ProcessSample, error) {
	return f.samples, nil
}

type fakeAllocations struct{}

func (fakeAllocations) Snapshot(ctx context.Context, topN int) ([]model.AllocationSite, error) {
	return []model.AllocationSite{{Location: "pkg.decode", SizeMB: 128, Count: 4}}, nil
}

type settingsFunc func(ctx context.Context) (*config.Config, error)

func (f settingsFunc) Load(ctx context.Context) (*config.Config, error) { return f(ctx) }

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.ChannelCooldownSeconds = 0
	cfg.Channels = []string{"log"}
	cfg.Signals = []config.SignalConfig{
		{Key: "cpu", Name: "CPU usage", Kind: config.SignalResource, Metric: "cpu_percent", Threshold: 80, Percentage: true},
		{Key: "database", Name: "Database", Kind: config.SignalLiveness, Metric: "tcp", Target: "127.0.0.1:5432", Threshold: 1},
	}
	return cfg
}

type harness struct {
	coordinator *Coordinator
	sampler     *fakeSampler
	notifier    *recordingNotifier
	history     *fakeHistory
	clock       *fakeClock
}

func newHarness(t *testing.T, cfg *config.Config, configure func(*Dependencies)) *harness {
	t.Helper()

	h := &harness{
		sampler:  newFakeSampler(),
		notifier: &recordingNotifier{},
		history:  &fakeHistory{},
		clock:    &fakeClock{now: t0},
	}
	deps := Dependencies{
		Sampler:   h.sampler,
		Notifiers: map[string]Notifier{"log": h.notifier},
		History:   h.history,
		Clock:     h.clock.Now,
	}
	if configure != nil {
		configure(&deps)
	}

	c, err := New(deps, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, c.Init(cfg))
	h.coordinator = c
	return h
}

func (h *harness) tick(t *testing.T) {
	t.Helper()
	result, err := h.coordinator.Tick(context.Background())
	require.NoError(t, err)
	require.Equal(t, CycleCompleted, result)
}

func (h *harness) signal(t *testing.T, key string) SignalStatus {
	t.Helper()
	status, err := h.coordinator.Status()
	require.NoError(t, err)
	for _, s := range status.Signals {
		if s.Key == key {
			return s
		}
	}
	t.Fatalf("signal %q not in status", key)
	return SignalStatus{}
}

func TestNew_RequiresSampler(t *testing.T) {
	_, err := New(Dependencies{}, zaptest.NewLogger(t))
	require.Error(t, err)
}

func TestCoordinator_NotInitialized(t *testing.T) {
	c, err := New(Dependencies{Sampler: newFakeSampler()}, zaptest.NewLogger(t))
	require.NoError(t, err)

	_, err = c.Tick(context.Background())
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.Status()
	require.ErrorIs(t, err, ErrNotInitialized)
	_, err = c.UpdateThresholds(config.Update{})
	require.ErrorIs(t, err, ErrNotInitialized)
	assert.Nil(t, c.Recorder())
}

func TestCoordinator_InitOnce(t *testing.T) {
	c, err := New(Dependencies{
		Sampler:   newFakeSampler(),
		Notifiers: map[string]Notifier{"log": &recordingNotifier{}},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)

	bad := testConfig()
	bad.ConsecutiveFailureThreshold = 0
	require.ErrorIs(t, c.Init(bad), config.ErrInvalidConfig)
	assert.Nil(t, c.Config())

	require.NoError(t, c.Init(testConfig()))
	require.ErrorIs(t, c.Init(testConfig()), ErrAlreadyInitialized)
}

func TestCoordinator_EscalatesAfterConsecutiveFailures(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.sampler.Set("cpu", 90)

	h.tick(t)
	s := h.signal(t, "cpu")
	assert.True(t, s.Failing)
	assert.True(t, s.Transient)
	assert.EqualValues(t, 1, s.ConsecutiveFailures)
	assert.Equal(t, model.SuppressBelowThreshold, s.LastReason)

	h.clock.Advance(60 * time.Second)
	h.tick(t)
	assert.Empty(t, h.notifier.Alerts())

	h.clock.Advance(60 * time.Second)
	h.tick(t)
	alerts := h.notifier.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertKey("cpu"), alerts[0].Key)
	assert.Equal(t, model.AlertTypeResourceUsage, alerts[0].Type)
	assert.Equal(t, model.SeverityMedium, alerts[0].Severity)
	assert.Equal(t, 90.0, alerts[0].Value)
	assert.Equal(t, t0.Add(120*time.Second), alerts[0].CreatedAt)

	s = h.signal(t, "cpu")
	assert.False(t, s.Transient)
	assert.Equal(t, model.OutcomeEscalate, s.LastOutcome)

	h.clock.Advance(30 * time.Second)
	h.tick(t)
	assert.Len(t, h.notifier.Alerts(), 1)
	assert.Equal(t, model.SuppressWithinDedupWindow, h.signal(t, "cpu").LastReason)

	status, err := h.coordinator.Status()
	require.NoError(t, err)
	require.Len(t, status.Suppressions, 3)
	assert.Equal(t, model.SuppressWithinDedupWindow, status.Suppressions[2].Reason)
	assert.EqualValues(t, 4, status.Cycles.Completed)
	assert.Equal(t, StateIdle, status.Cycles.State)

	h.history.mu.Lock()
	assert.Len(t, h.history.alerts, 1)
	assert.Len(t, h.history.suppressions, 3)
	h.history.mu.Unlock()
}

func TestCoordinator_LivenessEscalatesHigh(t *testing.T) {
	cfg := testConfig()
	cfg.ConsecutiveFailureThreshold = 1
	h := newHarness(t, cfg, nil)

	h.sampler.Set("database", 0)
	h.tick(t)

	alerts := h.notifier.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, model.AlertTypeServiceDown, alerts[0].Type)
	assert.Equal(t, model.SeverityHigh, alerts[0].Severity)
}

func TestCoordinator_SamplerErrorLeavesStateUnchanged(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	h.sampler.Set("cpu", 95)

	h.tick(t)
	h.tick(t)
	require.EqualValues(t, 2, h.signal(t, "cpu").ConsecutiveFailures)

	h.sampler.Fail("cpu", errors.New("procfs unavailable"))
	h.tick(t)

	s := h.signal(t, "cpu")
	assert.EqualValues(t, 2, s.ConsecutiveFailures)
	assert.Equal(t, "procfs unavailable", s.LastError)
	assert.Empty(t, h.notifier.Alerts())

	// other signals still checked in the failing cycle
	assert.NotNil(t, h.signal(t, "database").LastCheckedAt)

	h.sampler.Set("cpu", 95)
	h.tick(t)
	require.Len(t, h.notifier.Alerts(), 1)
	assert.Empty(t, h.signal(t, "cpu").LastError)
}

func TestCoordinator_SharedChannelCooldown(t *testing.T) {
	cfg := testConfig()
	cfg.ConsecutiveFailureThreshold = 1
	cfg.ChannelCooldownSeconds = 600
	cfg.Signals = append(cfg.Signals, config.SignalConfig{
		Key: "memory", Name: "Memory usage", Kind: config.SignalResource, Metric: "memory_percent", Threshold: 90, Percentage: true,
	})
	h := newHarness(t, cfg, nil)

	h.sampler.Set("cpu", 85)
	h.sampler.Set("memory", 97)
	h.tick(t)

	require.Len(t, h.notifier.Alerts(), 1, "one dispatch per channel and alert type")

	recent, err := h.coordinator.RecentAlerts(time.Hour)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	assert.Equal(t, model.AlertKey("memory"), recent[0].Key, "newest first")
	assert.Empty(t, recent[0].Channels)
	assert.Equal(t, []string{"log"}, recent[1].Channels)

	status, err := h.coordinator.Status()
	require.NoError(t, err)
	require.Len(t, status.Suppressions, 1)
	assert.Equal(t, model.SuppressChannelCooldown, status.Suppressions[0].Reason)
	assert.Equal(t, "log", status.Suppressions[0].Channel)

	// a different alert type is not held back by the resource cooldown
	h.sampler.Set("database", 0)
	h.clock.Advance(time.Minute)
	h.tick(t)
	alerts := h.notifier.Alerts()
	require.Len(t, alerts, 2)
	assert.Equal(t, model.AlertTypeServiceDown, alerts[1].Type)
}

func TestCoordinator_NotifierFailureIsContained(t *testing.T) {
	cfg := testConfig()
	cfg.ConsecutiveFailureThreshold = 1
	cfg.Channels = []string{"broken", "log"}
	broken := &recordingNotifier{err: errors.New("smtp: connection refused")}
	h := newHarness(t, cfg, func(d *Dependencies) {
		d.Notifiers["broken"] = broken
	})

	h.sampler.Set("cpu", 99)
	h.tick(t)

	require.Len(t, h.notifier.Alerts(), 1)
	recent, err := h.coordinator.RecentAlerts(time.Minute)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, []string{"log"}, recent[0].Channels)
}

func TestCoordinator_RejectsUnknownChannel(t *testing.T) {
	typo := testConfig()
	typo.Signals[1].Channels = []string{"emial"}

	c, err := New(Dependencies{
		Sampler:   newFakeSampler(),
		Notifiers: map[string]Notifier{"log": &recordingNotifier{}},
	}, zaptest.NewLogger(t))
	require.NoError(t, err)
	err = c.Init(typo)
	require.ErrorIs(t, err, ErrUnknownChannel)
	assert.Contains(t, err.Error(), `"emial"`)
	assert.Nil(t, c.Config())

	h := newHarness(t, testConfig(), func(d *Dependencies) {
		d.Settings = settingsFunc(func(ctx context.Context) (*config.Config, error) {
			return typo.Clone(), nil
		})
	})
	before := h.coordinator.Config()
	require.ErrorIs(t, h.coordinator.Reload(context.Background()), ErrUnknownChannel)
	assert.Same(t, before, h.coordinator.Config())
}

func TestCoordinator_SkipsOverlappingCycle(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	release := h.sampler.Block()

	results := make(chan CycleResult, 1)
	go func() {
		result, _ := h.coordinator.Tick(context.Background())
		results <- result
	}()
	<-h.sampler.entered

	result, err := h.coordinator.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleSkipped, result)

	status, err := h.coordinator.Status()
	require.NoError(t, err)
	assert.Equal(t, StateRunning, status.Cycles.State)

	release()
	assert.Equal(t, CycleCompleted, <-results)

	status, err = h.coordinator.Status()
	require.NoError(t, err)
	assert.EqualValues(t, 1, status.Cycles.Skipped)
	assert.EqualValues(t, 1, status.Cycles.Completed)
}

func TestCoordinator_AbortsHungCycle(t *testing.T) {
	cfg := testConfig()
	cfg.MaxCycleRuntimeSeconds = 1
	cfg.ConsecutiveFailureThreshold = 1
	h := newHarness(t, cfg, nil)
	h.sampler.Set("cpu", 99)
	release := h.sampler.Block()

	result, err := h.coordinator.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleAborted, result)

	status, err := h.coordinator.Status()
	require.NoError(t, err)
	assert.Equal(t, StateAborted, status.Cycles.State)
	assert.EqualValues(t, 1, status.Cycles.Aborted)

	// the hung goroutine still holds the cycle lock
	result, err = h.coordinator.Tick(context.Background())
	require.NoError(t, err)
	assert.Equal(t, CycleSkipped, result)

	release()
	require.Eventually(t, func() bool {
		return h.coordinator.cycleMu.TryLock() && func() bool { h.coordinator.cycleMu.Unlock(); return true }()
	}, 5*time.Second, 10*time.Millisecond)

	// the late sample of the aborted cycle was dropped
	assert.Empty(t, h.notifier.Alerts())
	assert.Zero(t, h.signal(t, "cpu").ConsecutiveFailures)

	h.tick(t)
	assert.Len(t, h.notifier.Alerts(), 1)
}

func TestCoordinator_CancelledCycleIsNotAnAbort(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	release := h.sampler.Block()

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	result, err := h.coordinator.Tick(ctx)
	require.NoError(t, err)
	assert.Equal(t, CycleCancelled, result)

	status, err := h.coordinator.Status()
	require.NoError(t, err)
	assert.EqualValues(t, 1, status.Cycles.Cancelled)
	assert.Zero(t, status.Cycles.Aborted)
	assert.NotEqual(t, StateAborted, status.Cycles.State)

	release()
	require.Eventually(t, func() bool {
		return h.coordinator.cycleMu.TryLock() && func() bool { h.coordinator.cycleMu.Unlock(); return true }()
	}, 5*time.Second, 10*time.Millisecond)
}

func TestCoordinator_UpdateThresholds(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	before := h.coordinator.Config()

	zero := 0
	_, err := h.coordinator.UpdateThresholds(config.Update{ConsecutiveFailureThreshold: &zero})
	require.ErrorIs(t, err, config.ErrInvalidConfig)
	assert.Same(t, before, h.coordinator.Config())

	_, err = h.coordinator.UpdateThresholds(config.Update{SignalThresholds: map[string]float64{"cpu": 0}})
	require.ErrorIs(t, err, config.ErrInvalidConfig)

	one := 1
	next, err := h.coordinator.UpdateThresholds(config.Update{
		ConsecutiveFailureThreshold: &one,
		SignalThresholds:            map[string]float64{"cpu": 50},
	})
	require.NoError(t, err)
	assert.Same(t, next, h.coordinator.Config())
	assert.Equal(t, 80.0, before.Signals[0].Threshold, "previous config untouched")

	h.sampler.Set("cpu", 60)
	h.tick(t)
	alerts := h.notifier.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, 50.0, alerts[0].Threshold)
	assert.Equal(t, model.SeverityHigh, alerts[0].Severity)
}

func TestCoordinator_Reload(t *testing.T) {
	var (
		mu     sync.Mutex
		stored = testConfig()
	)
	h := newHarness(t, testConfig(), func(d *Dependencies) {
		d.Settings = settingsFunc(func(ctx context.Context) (*config.Config, error) {
			mu.Lock()
			defer mu.Unlock()
			if stored == nil {
				return nil, errors.New("settings unavailable")
			}
			return stored.Clone(), nil
		})
	})

	mu.Lock()
	stored.DedupWindowSeconds = 30
	mu.Unlock()
	require.NoError(t, h.coordinator.Reload(context.Background()))
	assert.Equal(t, 30, h.coordinator.Config().DedupWindowSeconds)

	mu.Lock()
	stored = nil
	mu.Unlock()
	require.Error(t, h.coordinator.Reload(context.Background()))
	assert.Equal(t, 30, h.coordinator.Config().DedupWindowSeconds)
}

func TestCoordinator_ReloadKeepsRuntimeOverrides(t *testing.T) {
	var (
		mu     sync.Mutex
		stored = testConfig()
	)
	h := newHarness(t, testConfig(), func(d *Dependencies) {
		d.Settings = settingsFunc(func(ctx context.Context) (*config.Config, error) {
			mu.Lock()
			defer mu.Unlock()
			return stored.Clone(), nil
		})
	})

	one := 1
	_, err := h.coordinator.UpdateThresholds(config.Update{ConsecutiveFailureThreshold: &one})
	require.NoError(t, err)
	_, err = h.coordinator.UpdateThresholds(config.Update{SignalThresholds: map[string]float64{"cpu": 50}})
	require.NoError(t, err)

	// the persisted settings did not change
	require.NoError(t, h.coordinator.Reload(context.Background()))
	cfg := h.coordinator.Config()
	assert.Equal(t, 1, cfg.ConsecutiveFailureThreshold)
	assert.Equal(t, 50.0, cfg.Signals[0].Threshold)

	// fields without an override follow the store
	mu.Lock()
	stored.DedupWindowSeconds = 45
	mu.Unlock()
	require.NoError(t, h.coordinator.Reload(context.Background()))
	cfg = h.coordinator.Config()
	assert.Equal(t, 45, cfg.DedupWindowSeconds)
	assert.Equal(t, 1, cfg.ConsecutiveFailureThreshold)

	overrides := h.coordinator.Overrides()
	require.NotNil(t, overrides.ConsecutiveFailureThreshold)
	assert.Equal(t, 1, *overrides.ConsecutiveFailureThreshold)
	assert.Equal(t, map[string]float64{"cpu": 50}, overrides.SignalThresholds)

	h.sampler.Set("cpu", 60)
	h.tick(t)
	alerts := h.notifier.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, 50.0, alerts[0].Threshold)
}

func TestCoordinator_ReloadDropsStaleOverrides(t *testing.T) {
	stored := testConfig()
	stored.Signals = stored.Signals[:1]
	h := newHarness(t, testConfig(), func(d *Dependencies) {
		d.Settings = settingsFunc(func(ctx context.Context) (*config.Config, error) {
			return stored.Clone(), nil
		})
	})

	_, err := h.coordinator.UpdateThresholds(config.Update{SignalThresholds: map[string]float64{"database": 2}})
	require.NoError(t, err)

	require.NoError(t, h.coordinator.Reload(context.Background()))
	assert.Len(t, h.coordinator.Config().Signals, 1)
	assert.True(t, h.coordinator.Overrides().IsZero())
}

func TestCoordinator_ReloadWithoutStore(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	require.ErrorIs(t, h.coordinator.Reload(context.Background()), ErrNoSettingsStore)
}

func TestCoordinator_RecoveryWindow(t *testing.T) {
	cfg := testConfig()
	cfg.ConsecutiveFailureThreshold = 1
	cfg.RecoveryWindowMinutes = 10
	h := newHarness(t, cfg, nil)

	h.sampler.Set("cpu", 90)
	h.tick(t)
	require.Len(t, h.notifier.Alerts(), 1)

	h.sampler.Set("cpu", 40)
	h.clock.Advance(time.Minute)
	h.tick(t)

	s := h.signal(t, "cpu")
	assert.True(t, s.Recovering)
	require.NotNil(t, s.RecoveredAt)
	assert.Equal(t, t0.Add(time.Minute), *s.RecoveredAt)

	h.clock.Advance(10 * time.Minute)
	assert.False(t, h.signal(t, "cpu").Recovering)
}

func TestCoordinator_FeedsDiagnostics(t *testing.T) {
	cfg := testConfig()
	cfg.MemorySnapshotEnabled = true
	cfg.MemorySnapshotThresholdMB = 512
	h := newHarness(t, cfg, func(d *Dependencies) {
		d.Processes = &fakeProcesses{samples: []ProcessSample{
			{PID: 100, CPUPercent: 12, ResidentMemoryMB: 400},
			{PID: 200, CPUPercent: 3, ResidentMemoryMB: 200},
		}}
		d.Allocations = fakeAllocations{}
	})

	h.tick(t)

	report, err := h.coordinator.Hotspots()
	require.NoError(t, err)
	require.Len(t, report.Processes, 2)
	assert.Equal(t, int32(100), report.Processes[0].PID)
	require.Len(t, report.Memory.Snapshots, 1, "summed resident memory crossed the threshold")
	assert.Equal(t, 600.0, report.Memory.Snapshots[0].TotalMemoryMB)

	snapshot, err := h.coordinator.ForceMemorySnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 600.0, snapshot.TotalMemoryMB)
}

func TestCoordinator_ForceSnapshotWithoutTracker(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	_, err := h.coordinator.ForceMemorySnapshot(context.Background())
	require.ErrorIs(t, err, diagnostics.ErrAllocationTrackerUnavailable)
}

func TestCoordinator_RecentAlertsWindow(t *testing.T) {
	cfg := testConfig()
	cfg.ConsecutiveFailureThreshold = 1
	cfg.DedupWindowSeconds = 0
	h := newHarness(t, cfg, nil)
	h.sampler.Set("cpu", 90)

	h.tick(t)
	h.clock.Advance(2 * time.Hour)
	h.tick(t)

	recent, err := h.coordinator.RecentAlerts(time.Hour)
	require.NoError(t, err)
	require.Len(t, recent, 1)
	assert.Equal(t, t0.Add(2*time.Hour), recent[0].CreatedAt)

	all, err := h.coordinator.RecentAlerts(24 * time.Hour)
	require.NoError(t, err)
	assert.Len(t, all, 2)
}

func TestCoordinator_Shutdown(t *testing.T) {
	h := newHarness(t, testConfig(), nil)
	release := h.sampler.Block()

	finished := make(chan struct{})
	go func() {
		defer close(finished)
		_, _ = h.coordinator.Tick(context.Background())
	}()
	<-h.sampler.entered

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, h.coordinator.Shutdown(ctx), context.DeadlineExceeded)

	_, err := h.coordinator.Tick(context.Background())
	require.ErrorIs(t, err, ErrShutdown)

	release()
	<-finished
	require.NoError(t, h.coordinator.Shutdown(context.Background()), "second call is a no-op")
}
