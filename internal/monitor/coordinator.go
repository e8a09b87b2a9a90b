package monitor

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/t77yq/healthwatch/internal/config"
	"github.com/t77yq/healthwatch/internal/diagnostics"
	"github.com/t77yq/healthwatch/internal/model"
	"github.com/t77yq/healthwatch/internal/ringbuffer"
)

// CycleResult is how a Tick ended
type CycleResult string

const (
	CycleCompleted CycleResult = "completed"
	CycleSkipped   CycleResult = "skipped"
	CycleAborted   CycleResult = "aborted"
	// CycleCancelled means the caller's context ended first, e.g. on shutdown
	CycleCancelled CycleResult = "cancelled"
)

// CycleState is the state of the cycle machinery
type CycleState string

const (
	StateIdle    CycleState = "idle"
	StateRunning CycleState = "running"
	StateAborted CycleState = "aborted"
)

const shutdownPollInterval = 10 * time.Millisecond

// Coordinator runs health check cycles: it samples every signal, passes failing ones
// through the escalation tracker and the dispatch cooldown and hands escalations to the
// notifiers. It is created once by the composition root and shared by handle.
type Coordinator struct {
	logger *zap.Logger
	deps   Dependencies
	now    func() time.Time

	cfg      config.Holder
	updateMu sync.Mutex
	closed   atomic.Bool

	// overrides are the runtime updates, reapplied on top of every reloaded configuration
	overrides config.Update

	tracker    *EscalationTracker
	cooldown   *DispatchCooldown
	recorder   *diagnostics.Recorder
	aggregator *diagnostics.Aggregator

	// cycleMu is only ever try-locked; a held lock means a cycle is in flight
	cycleMu sync.Mutex
	state   atomic.Value

	mu           sync.RWMutex
	signals      map[string]*signalObservation
	recentAlerts *ringbuffer.RecencyN[model.Alert]
	suppressions *ringbuffer.RecencyN[model.SuppressionEvent]
	stats        CycleStats
}

type signalObservation struct {
	value         float64
	failing       bool
	decision      model.Decision
	lastError     string
	lastCheckedAt time.Time
}

// New creates an uninitialized coordinator
func New(deps Dependencies, logger *zap.Logger) (*Coordinator, error) {
	if deps.Sampler == nil {
		return nil, errors.New("metric sampler is required")
	}
	if deps.Notifiers == nil {
		deps.Notifiers = make(map[string]Notifier)
	}

	now := deps.Clock
	if now == nil {
		now = time.Now
	}

	c := &Coordinator{
		logger:  logger.Named("coordinator"),
		deps:    deps,
		now:     now,
		signals: make(map[string]*signalObservation),
	}
	c.state.Store(StateIdle)
	return c, nil
}

// Init validates and installs the first configuration
func (c *Coordinator) Init(cfg *config.Config) error {
	if c.closed.Load() {
		return ErrShutdown
	}

	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	if c.cfg.Load() != nil {
		return ErrAlreadyInitialized
	}
	if err := cfg.Validate(); err != nil {
		return err
	}
	if err := c.checkChannels(cfg); err != nil {
		return err
	}

	tracker, err := NewEscalationTracker(policyFrom(cfg))
	if err != nil {
		return err
	}
	c.tracker = tracker
	c.cooldown = NewDispatchCooldown(cfg.ChannelCooldown())

	c.recorder = c.deps.Recorder
	if c.recorder == nil {
		c.recorder = diagnostics.NewRecorder(cfg, c.deps.Allocations, c.logger)
	}
	c.aggregator = diagnostics.NewAggregator(c.recorder)

	c.mu.Lock()
	c.recentAlerts = ringbuffer.NewRecencyN[model.Alert](cfg.RecentAlertsCapacity)
	c.suppressions = ringbuffer.NewRecencyN[model.SuppressionEvent](cfg.RecentAlertsCapacity)
	c.mu.Unlock()

	return c.publishLocked(cfg)
}

func policyFrom(cfg *config.Config) EscalationPolicy {
	return EscalationPolicy{
		Threshold:   uint(cfg.ConsecutiveFailureThreshold),
		DedupWindow: cfg.DedupWindow(),
	}
}

// checkChannels rejects a configuration naming a channel that has no notifier
func (c *Coordinator) checkChannels(cfg *config.Config) error {
	for _, signal := range cfg.Signals {
		for _, channel := range cfg.ChannelsFor(signal) {
			if _, ok := c.deps.Notifiers[channel]; !ok {
				return fmt.Errorf("%w: signal %q uses %q", ErrUnknownChannel, signal.Key, channel)
			}
		}
	}
	return nil
}

// publishLocked swaps cfg in and resizes the buffers. The caller holds updateMu.
func (c *Coordinator) publishLocked(cfg *config.Config) error {
	if err := c.checkChannels(cfg); err != nil {
		return err
	}
	if err := c.cfg.Swap(cfg); err != nil {
		return err
	}
	c.recorder.Configure(cfg)

	c.mu.Lock()
	c.recentAlerts.Resize(cfg.RecentAlertsCapacity)
	c.suppressions.Resize(cfg.RecentAlertsCapacity)
	c.mu.Unlock()

	c.logger.Info("Configuration applied",
		zap.Int("consecutive_failure_threshold", cfg.ConsecutiveFailureThreshold),
		zap.Duration("dedup_window", cfg.DedupWindow()),
		zap.Duration("channel_cooldown", cfg.ChannelCooldown()),
		zap.Int("signals", len(cfg.Signals)))
	return nil
}

// Config returns the active configuration, nil before Init
func (c *Coordinator) Config() *config.Config {
	return c.cfg.Load()
}

// Recorder returns the diagnostics recorder, nil before Init
func (c *Coordinator) Recorder() *diagnostics.Recorder {
	if c.cfg.Load() == nil {
		return nil
	}
	return c.recorder
}

// Tick runs one cycle. It never waits for a running cycle: an overlapping call returns
// CycleSkipped. A cycle exceeding the max runtime returns CycleAborted; its goroutine
// keeps the cycle lock until the stuck collaborator returns.
func (c *Coordinator) Tick(ctx context.Context) (CycleResult, error) {
	if c.closed.Load() {
		return "", ErrShutdown
	}
	cfg := c.cfg.Load()
	if cfg == nil {
		return "", ErrNotInitialized
	}

	if !c.cycleMu.TryLock() {
		c.logger.Info("Health check cycle already running, skipping")
		c.finishCycle(CycleSkipped, time.Time{}, 0)
		return CycleSkipped, nil
	}

	started := c.now()
	c.state.Store(StateRunning)
	c.mu.Lock()
	c.stats.LastStartedAt = started
	c.mu.Unlock()

	runCtx, cancel := context.WithTimeout(ctx, cfg.MaxCycleRuntime())
	defer cancel()
	done := make(chan struct{})

	go func() {
		defer close(done)
		defer c.cycleMu.Unlock()
		defer c.state.Store(StateIdle)
		defer func() {
			if p := recover(); p != nil {
				c.logger.Error("Health check cycle panicked", zap.Any("panic", p))
			}
		}()

		c.runCycle(runCtx, cfg)
	}()

	select {
	case <-done:
		c.finishCycle(CycleCompleted, started, c.now().Sub(started))
		return CycleCompleted, nil
	case <-runCtx.Done():
		select {
		case <-done:
			c.finishCycle(CycleCompleted, started, c.now().Sub(started))
			return CycleCompleted, nil
		default:
		}
		if !errors.Is(runCtx.Err(), context.DeadlineExceeded) || ctx.Err() != nil {
			c.logger.Info("Health check cycle cancelled", zap.Error(ctx.Err()))
			c.finishCycle(CycleCancelled, started, c.now().Sub(started))
			return CycleCancelled, nil
		}
		c.state.CompareAndSwap(StateRunning, StateAborted)
		c.logger.Error("Health check cycle aborted",
			zap.Duration("max_runtime", cfg.MaxCycleRuntime()),
			zap.Error(runCtx.Err()))
		c.finishCycle(CycleAborted, started, c.now().Sub(started))
		return CycleAborted, nil
	}
}

func (c *Coordinator) finishCycle(result CycleResult, started time.Time, duration time.Duration) {
	cyclesTotal.WithLabelValues(string(result)).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()

	c.stats.LastResult = result
	switch result {
	case CycleSkipped:
		c.stats.Skipped++
		return
	case CycleCancelled:
		c.stats.Cancelled++
	case CycleAborted:
		c.stats.Aborted++
	case CycleCompleted:
		c.stats.Completed++
		cycleDuration.Observe(duration.Seconds())
	}
	c.stats.LastDuration = duration
}

func (c *Coordinator) runCycle(ctx context.Context, cfg *config.Config) {
	// One cycle sees one policy even if the configuration is swapped meanwhile
	if err := c.tracker.SetPolicy(policyFrom(cfg)); err != nil {
		c.logger.Error("Invalid escalation policy", zap.Error(err))
		return
	}
	c.cooldown.SetCooldown(cfg.ChannelCooldown())

	for _, signal := range cfg.Signals {
		if ctx.Err() != nil {
			return
		}
		c.checkSignal(ctx, cfg, signal)
	}

	if ctx.Err() == nil {
		c.sampleProcesses(ctx, cfg)
	}
}

func (c *Coordinator) checkSignal(ctx context.Context, cfg *config.Config, signal config.SignalConfig) {
	key := model.AlertKey(signal.Key)
	logger := c.logger.With(zap.String("signal", signal.Key))

	started := c.now()
	sample, err := c.deps.Sampler.Sample(ctx, signal)
	elapsed := c.now().Sub(started)

	if signal.Kind == config.SignalLiveness {
		c.recorder.RecordSlowOperation(model.OperationEndpoint, "probe:"+signal.Key, elapsed,
			map[string]string{"metric": signal.Metric, "target": signal.Target})
	}

	if err != nil {
		collaboratorFailures.WithLabelValues("sampler").Inc()
		logger.Warn("Failed to sample signal", zap.Error(err))
		c.observe(signal.Key, func(o *signalObservation) {
			o.lastError = err.Error()
			o.lastCheckedAt = started
		})
		return
	}
	// A sample that arrives after the cycle was aborted is dropped
	if ctx.Err() != nil {
		return
	}

	failing := isFailing(signal, sample.Value)
	now := c.now()
	decision := c.tracker.Evaluate(key, failing, now)
	escalationDecisions.WithLabelValues(string(decision.Outcome), string(decision.Reason)).Inc()

	c.observe(signal.Key, func(o *signalObservation) {
		o.value = sample.Value
		o.failing = failing
		o.decision = decision
		o.lastError = ""
		o.lastCheckedAt = now
	})

	switch decision.Outcome {
	case model.OutcomeSuppressed:
		logger.Debug("Escalation suppressed",
			zap.String("reason", string(decision.Reason)),
			zap.Uint("consecutive_failures", decision.ConsecutiveFailures),
			zap.Float64("value", sample.Value))
		c.recordSuppression(ctx, model.SuppressionEvent{
			Key:                 key,
			Reason:              decision.Reason,
			ConsecutiveFailures: decision.ConsecutiveFailures,
			Value:               sample.Value,
			At:                  now,
		})
	case model.OutcomeEscalate:
		c.escalate(ctx, cfg, signal, sample, decision, now)
	}
}

func isFailing(signal config.SignalConfig, value float64) bool {
	if signal.Kind == config.SignalLiveness {
		return value < signal.Threshold
	}
	return value > signal.Threshold
}

func (c *Coordinator) escalate(ctx context.Context, cfg *config.Config, signal config.SignalConfig,
	sample Sample, decision model.Decision, now time.Time) {
	alert, err := buildAlert(signal, sample, decision, now)
	if err != nil {
		c.logger.Error("Failed to classify escalation",
			zap.String("signal", signal.Key),
			zap.Error(err))
		return
	}

	for _, channel := range cfg.ChannelsFor(signal) {
		notifier, ok := c.deps.Notifiers[channel]
		if !ok {
			dispatches.WithLabelValues(channel, "unknown_channel").Inc()
			c.logger.Warn("No notifier for channel", zap.String("channel", channel))
			continue
		}

		if !c.cooldown.TryDispatch(ChannelKey(channel, alert.Type), now) {
			dispatches.WithLabelValues(channel, "cooldown").Inc()
			c.recordSuppression(ctx, model.SuppressionEvent{
				Key:                 alert.Key,
				Reason:              model.SuppressChannelCooldown,
				Channel:             channel,
				ConsecutiveFailures: decision.ConsecutiveFailures,
				Value:               sample.Value,
				At:                  now,
			})
			continue
		}

		if err := notifier.Send(ctx, alert); err != nil {
			collaboratorFailures.WithLabelValues("notifier").Inc()
			dispatches.WithLabelValues(channel, "failed").Inc()
			c.logger.Error("Failed to send alert",
				zap.String("id", alert.ID),
				zap.String("channel", channel),
				zap.Error(err))
			continue
		}
		dispatches.WithLabelValues(channel, "sent").Inc()
		alert.Channels = append(alert.Channels, channel)
	}

	c.logger.Info("Alert escalated",
		zap.String("id", alert.ID),
		zap.String("key", string(alert.Key)),
		zap.String("type", string(alert.Type)),
		zap.Stringer("severity", alert.Severity),
		zap.Strings("channels", alert.Channels))
	c.recordAlert(ctx, alert)
}

func buildAlert(signal config.SignalConfig, sample Sample, decision model.Decision, now time.Time) (*model.Alert, error) {
	alert := &model.Alert{
		ID:        uuid.New().String(),
		Key:       model.AlertKey(signal.Key),
		Value:     sample.Value,
		Threshold: signal.Threshold,
		CreatedAt: now,
	}

	if signal.Kind == config.SignalLiveness {
		alert.Type = model.AlertTypeServiceDown
		alert.Severity = model.SeverityHigh
		alert.Subject = fmt.Sprintf("[%s] %s is down", alert.Severity, signal.Name)
		alert.Body = fmt.Sprintf("%s (%s %s) failed %d consecutive checks.",
			signal.Name, signal.Metric, signal.Target, decision.ConsecutiveFailures)
		return alert, nil
	}

	severity, err := Classify(sample.Value, signal.Threshold, signal.Percentage)
	if err != nil {
		return nil, err
	}
	alert.Type = model.AlertTypeResourceUsage
	alert.Severity = severity
	alert.Subject = fmt.Sprintf("[%s] %s is %.1f", severity, signal.Name, sample.Value)
	alert.Body = fmt.Sprintf("%s is %.2f, above its threshold of %.2f for %d consecutive checks.",
		signal.Name, sample.Value, signal.Threshold, decision.ConsecutiveFailures)
	return alert, nil
}

func (c *Coordinator) sampleProcesses(ctx context.Context, cfg *config.Config) {
	if c.deps.Processes == nil {
		return
	}

	pids := cfg.ProcessPIDs
	if len(pids) == 0 {
		pids = []int32{int32(os.Getpid())}
	}

	samples, err := c.deps.Processes.SampleProcesses(ctx, pids)
	if err != nil {
		collaboratorFailures.WithLabelValues("process_sampler").Inc()
		c.logger.Warn("Failed to sample processes", zap.Error(err))
	}
	if len(samples) == 0 || ctx.Err() != nil {
		return
	}

	var totalMB float64
	for _, s := range samples {
		c.recorder.RecordProcessSample(s.PID, s.CPUPercent, s.ResidentMemoryMB)
		totalMB += s.ResidentMemoryMB
	}
	c.recorder.MaybeSnapshotMemory(ctx, totalMB)
}

func (c *Coordinator) observe(key string, update func(*signalObservation)) {
	c.mu.Lock()
	defer c.mu.Unlock()

	o, ok := c.signals[key]
	if !ok {
		o = &signalObservation{}
		c.signals[key] = o
	}
	update(o)
}

func (c *Coordinator) recordSuppression(ctx context.Context, event model.SuppressionEvent) {
	c.mu.Lock()
	err := c.suppressions.Push(event.At, event)
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("Suppression buffer exceeded its capacity, truncated", zap.Error(err))
	}

	if c.deps.History == nil {
		return
	}
	if err := c.deps.History.RecordSuppression(ctx, event); err != nil {
		collaboratorFailures.WithLabelValues("history").Inc()
		c.logger.Warn("Failed to record suppression", zap.Error(err))
	}
}

func (c *Coordinator) recordAlert(ctx context.Context, alert *model.Alert) {
	c.mu.Lock()
	err := c.recentAlerts.Push(alert.CreatedAt, *alert)
	c.mu.Unlock()
	if err != nil {
		c.logger.Error("Alert buffer exceeded its capacity, truncated", zap.Error(err))
	}

	if c.deps.History == nil {
		return
	}
	if err := c.deps.History.RecordAlert(ctx, alert); err != nil {
		collaboratorFailures.WithLabelValues("history").Inc()
		c.logger.Warn("Failed to record alert", zap.String("id", alert.ID), zap.Error(err))
	}
}

// UpdateThresholds applies a partial change. An invalid change leaves the active
// configuration in place. The change takes effect from the next cycle and is kept as an
// override that survives Reload.
func (c *Coordinator) UpdateThresholds(update config.Update) (*config.Config, error) {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	base := c.cfg.Load()
	if base == nil {
		return nil, ErrNotInitialized
	}

	next, err := update.Apply(base)
	if err != nil {
		c.logger.Warn("Rejected threshold update", zap.Error(err))
		return nil, err
	}
	if err := c.publishLocked(next); err != nil {
		return nil, err
	}
	c.overrides = c.overrides.Merge(update)
	return next, nil
}

// Reload loads the persisted configuration, reapplies the runtime overrides and swaps
// the result in. Overrides that no longer fit the loaded configuration are dropped.
func (c *Coordinator) Reload(ctx context.Context) error {
	if c.deps.Settings == nil {
		return ErrNoSettingsStore
	}

	c.updateMu.Lock()
	defer c.updateMu.Unlock()

	if c.cfg.Load() == nil {
		return ErrNotInitialized
	}

	loaded, err := c.deps.Settings.Load(ctx)
	if err != nil {
		collaboratorFailures.WithLabelValues("settings").Inc()
		c.logger.Warn("Failed to reload configuration, keeping the active one", zap.Error(err))
		return fmt.Errorf("failed to reload configuration: %w", err)
	}

	next, overrideErr := c.overrides.Apply(loaded)
	if overrideErr != nil {
		next = loaded
	}
	if err := c.publishLocked(next); err != nil {
		c.logger.Warn("Rejected reloaded configuration, keeping the active one", zap.Error(err))
		return err
	}

	switch {
	case overrideErr != nil:
		c.logger.Warn("Dropped runtime overrides that no longer apply", zap.Error(overrideErr))
		c.overrides = config.Update{}
	case !c.overrides.IsZero():
		c.logger.Info("Reapplied runtime overrides to reloaded configuration")
	}
	return nil
}

// Overrides returns the runtime updates kept across reloads
func (c *Coordinator) Overrides() config.Update {
	c.updateMu.Lock()
	defer c.updateMu.Unlock()
	return config.Update{}.Merge(c.overrides)
}

// Shutdown stops new cycles and waits for a running one to finish. The cycle lock is
// kept afterwards so no further cycle can start.
func (c *Coordinator) Shutdown(ctx context.Context) error {
	if c.closed.Swap(true) {
		return nil
	}
	c.logger.Info("Shutting down monitor")

	ticker := time.NewTicker(shutdownPollInterval)
	defer ticker.Stop()

	for !c.cycleMu.TryLock() {
		select {
		case <-ctx.Done():
			return fmt.Errorf("waiting for running cycle: %w", ctx.Err())
		case <-ticker.C:
		}
	}
	return nil
}
