package diagnostics

import (
	"context"
	"errors"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/t77yq/healthwatch/internal/config"
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
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fakeTracker struct {
	calls    atomic.Int32
	snapshot func(ctx context.Context, topN int) ([]model.AllocationSite, error)
}

func (f *fakeTracker) Snapshot(ctx context.Context, topN int) ([]model.AllocationSite, error) {
	f.calls.Add(1)
	if f.snapshot != nil {
		return f.snapshot(ctx, topN)
	}
	return []model.AllocationSite{
		{Location: "cache.(*Store).Put", SizeMB: 120, Count: 4000},
		{Location: "bytes.growSlice", SizeMB: 40, Count: 12},
	}, nil
}

func newTestRecorder(t *testing.T, cfg *config.Config, tracker AllocationTracker) (*Recorder, *fakeClock) {
	t.Helper()
	clock := &fakeClock{now: time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)}
	r := NewRecorder(cfg, tracker, zaptest.NewLogger(t))
	r.now = clock.Now
	return r, clock
}

func TestRecorder_SlowOperationThresholds(t *testing.T) {
	cfg := config.Default()
	cfg.SlowQueryThresholdMs = 100
	cfg.SlowQueryCapacity = 2
	cfg.SlowEndpointThresholdMs = 500
	r, _ := newTestRecorder(t, cfg, nil)

	r.RecordSlowOperation(model.OperationQuery, "SELECT 1", 50*time.Millisecond, nil)
	for _, ms := range []int{150, 300, 120} {
		r.RecordSlowOperation(model.OperationQuery, "SELECT * FROM pages", time.Duration(ms)*time.Millisecond, nil)
	}
	r.RecordSlowOperation(model.OperationEndpoint, "GET /admin", 400*time.Millisecond, nil)
	r.RecordSlowOperation(model.OperationEndpoint, "GET /admin/pages", 700*time.Millisecond, nil)
	r.RecordSlowOperation("cache", "ignored", time.Hour, nil)

	state := r.State()
	require.Len(t, state.SlowQueries, 2)
	assert.Equal(t, 300*time.Millisecond, state.SlowQueries[0].Duration)
	assert.Equal(t, 150*time.Millisecond, state.SlowQueries[1].Duration)

	require.Len(t, state.SlowEndpoints, 1)
	assert.Equal(t, "GET /admin/pages", state.SlowEndpoints[0].Identifier)
}

func TestRecorder_TruncatesStoredText(t *testing.T) {
	cfg := config.Default()
	cfg.SlowQueryThresholdMs = 1
	r, _ := newTestRecorder(t, cfg, nil)

	query := strings.Repeat("é", MaxIdentifierLength)
	r.RecordSlowOperation(model.OperationQuery, query, time.Second, map[string]string{
		"params": strings.Repeat("x", MaxMetadataValueLength*3),
	})

	op := r.State().SlowQueries[0]
	assert.LessOrEqual(t, len(op.Identifier), MaxIdentifierLength)
	assert.True(t, strings.HasPrefix(query, op.Identifier))
	assert.Len(t, op.Metadata["params"], MaxMetadataValueLength)
}

func TestTruncateText(t *testing.T) {
	assert.Equal(t, "short", truncateText("short", 10))
	assert.Equal(t, "ab", truncateText("abé", 3), "never splits a rune")

	// continuation bytes only: there is no rune boundary to back up to
	garbage := strings.Repeat("\x80", 20)
	assert.Equal(t, garbage[:8], truncateText(garbage, 8))

	r, _ := newTestRecorder(t, func() *config.Config {
		cfg := config.Default()
		cfg.SlowQueryThresholdMs = 1
		return cfg
	}(), nil)
	r.RecordSlowOperation(model.OperationQuery, strings.Repeat("\xbf", MaxIdentifierLength+5), time.Second, nil)
	assert.Len(t, r.State().SlowQueries[0].Identifier, MaxIdentifierLength)
}

func TestRecorder_Track(t *testing.T) {
	cfg := config.Default()
	cfg.SlowQueryThresholdMs = 1
	r, _ := newTestRecorder(t, cfg, nil)

	done := r.Track(model.OperationQuery, "SELECT pg_sleep(0.01)", map[string]string{"db": "main"})
	time.Sleep(5 * time.Millisecond)
	done()

	ops := r.State().SlowQueries
	require.Len(t, ops, 1)
	assert.GreaterOrEqual(t, ops[0].Duration, time.Millisecond)
	assert.Equal(t, "main", ops[0].Metadata["db"])
}

func TestRecorder_ProcessHistoryIsRecencyBounded(t *testing.T) {
	cfg := config.Default()
	cfg.ProcessHistoryCapacity = 3
	r, clock := newTestRecorder(t, cfg, nil)

	for i := 0; i < 5; i++ {
		r.RecordProcessSample(100, float64(i), 10)
		clock.Advance(time.Second)
	}
	r.RecordProcessSample(200, 50, 20)

	state := r.State()
	require.Len(t, state.Processes[100], 3)
	assert.Equal(t, []float64{2, 3, 4}, []float64{
		state.Processes[100][0].CPUPercent,
		state.Processes[100][1].CPUPercent,
		state.Processes[100][2].CPUPercent,
	})
	require.Len(t, state.Processes[200], 1)
}

func TestRecorder_TrackedProcessesBounded(t *testing.T) {
	r, clock := newTestRecorder(t, config.Default(), nil)

	for pid := int32(1); pid <= maxTrackedProcesses+1; pid++ {
		r.RecordProcessSample(pid, 1, 1)
		clock.Advance(time.Second)
	}

	state := r.State()
	assert.Len(t, state.Processes, maxTrackedProcesses)
	assert.NotContains(t, state.Processes, int32(1), "the least recently sampled pid is evicted")
	assert.Contains(t, state.Processes, int32(maxTrackedProcesses+1))
}

func TestRecorder_ConfigureResizes(t *testing.T) {
	cfg := config.Default()
	cfg.SlowQueryThresholdMs = 1
	r, _ := newTestRecorder(t, cfg, nil)

	for i := 1; i <= 10; i++ {
		r.RecordSlowOperation(model.OperationQuery, "q", time.Duration(i)*time.Second, nil)
		r.RecordProcessSample(1, float64(i), 1)
	}

	next := cfg.Clone()
	next.SlowQueryCapacity = 3
	next.ProcessHistoryCapacity = 2
	r.Configure(next)

	state := r.State()
	require.Len(t, state.SlowQueries, 3)
	assert.Equal(t, 10*time.Second, state.SlowQueries[0].Duration)
	require.Len(t, state.Processes[1], 2)
	assert.Equal(t, 10.0, state.Processes[1][1].CPUPercent)
}

func TestRecorder_MaybeSnapshotMemory(t *testing.T) {
	cfg := config.Default()
	cfg.MemorySnapshotEnabled = true
	cfg.MemorySnapshotThresholdMB = 500
	cfg.MemorySnapshotTopN = 1

	t.Run("disabled", func(t *testing.T) {
		disabled := cfg.Clone()
		disabled.MemorySnapshotEnabled = false
		tracker := &fakeTracker{}
		r, _ := newTestRecorder(t, disabled, tracker)

		assert.Nil(t, r.MaybeSnapshotMemory(context.Background(), 900))
		assert.Zero(t, tracker.calls.Load())
	})

	t.Run("below threshold", func(t *testing.T) {
		tracker := &fakeTracker{}
		r, _ := newTestRecorder(t, cfg, tracker)

		assert.Nil(t, r.MaybeSnapshotMemory(context.Background(), 499))
		assert.Zero(t, tracker.calls.Load())
	})

	t.Run("rate limited", func(t *testing.T) {
		tracker := &fakeTracker{}
		r, clock := newTestRecorder(t, cfg, tracker)

		first := r.MaybeSnapshotMemory(context.Background(), 600)
		require.NotNil(t, first)
		require.Len(t, first.TopAllocations, 1, "top_n is enforced")
		assert.Equal(t, 600.0, first.TotalMemoryMB)

		clock.Advance(MinSnapshotInterval - time.Second)
		assert.Nil(t, r.MaybeSnapshotMemory(context.Background(), 700))
		assert.Len(t, r.State().MemorySnapshots, 1)

		clock.Advance(time.Second)
		assert.NotNil(t, r.MaybeSnapshotMemory(context.Background(), 700))
		assert.Len(t, r.State().MemorySnapshots, 2)
		assert.EqualValues(t, 2, tracker.calls.Load())
	})

	t.Run("concurrent callers take one snapshot", func(t *testing.T) {
		release := make(chan struct{})
		tracker := &fakeTracker{snapshot: func(ctx context.Context, topN int) ([]model.AllocationSite, error) {
			<-release
			return []model.AllocationSite{{Location: "x", SizeMB: 1, Count: 1}}, nil
		}}
		r, _ := newTestRecorder(t, cfg, tracker)

		var wg sync.WaitGroup
		var captured atomic.Int32
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				if r.MaybeSnapshotMemory(context.Background(), 800) != nil {
					captured.Add(1)
				}
			}()
		}
		time.Sleep(20 * time.Millisecond)
		close(release)
		wg.Wait()

		assert.EqualValues(t, 1, captured.Load())
		assert.Len(t, r.State().MemorySnapshots, 1)
	})

	t.Run("tracker failure is swallowed", func(t *testing.T) {
		tracker := &fakeTracker{snapshot: func(ctx context.Context, topN int) ([]model.AllocationSite, error) {
			return nil, errors.New("profiling unavailable")
		}}
		r, _ := newTestRecorder(t, cfg, tracker)

		assert.Nil(t, r.MaybeSnapshotMemory(context.Background(), 800))
		assert.Empty(t, r.State().MemorySnapshots)
		assert.True(t, r.State().LastSnapshotAt.IsZero(), "failed snapshot does not start the interval")
	})

	t.Run("tracker panic is swallowed", func(t *testing.T) {
		tracker := &fakeTracker{snapshot: func(ctx context.Context, topN int) ([]model.AllocationSite, error) {
			panic("boom")
		}}
		r, _ := newTestRecorder(t, cfg, tracker)

		assert.NotPanics(t, func() {
			assert.Nil(t, r.MaybeSnapshotMemory(context.Background(), 800))
		})
		tracker.snapshot = nil
		assert.NotNil(t, r.MaybeSnapshotMemory(context.Background(), 800))
	})
}

func TestRecorder_ForceSnapshot(t *testing.T) {
	cfg := config.Default() // snapshots disabled
	tracker := &fakeTracker{}
	r, _ := newTestRecorder(t, cfg, tracker)
	r.RecordProcessSample(1, 10, 300)
	r.RecordProcessSample(2, 10, 200)

	snap, err := r.ForceSnapshot(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 500.0, snap.TotalMemoryMB)

	// forcing ignores the interval as well
	_, err = r.ForceSnapshot(context.Background())
	require.NoError(t, err)
	assert.Len(t, r.State().MemorySnapshots, 2)

	noTracker, _ := newTestRecorder(t, cfg, nil)
	_, err = noTracker.ForceSnapshot(context.Background())
	require.ErrorIs(t, err, ErrAllocationTrackerUnavailable)
}

func TestRecorder_ConcurrentUse(t *testing.T) {
	cfg := config.Default()
	cfg.SlowQueryThresholdMs = 1
	cfg.SlowQueryCapacity = 10
	r := NewRecorder(cfg, nil, zaptest.NewLogger(t))
	agg := NewAggregator(r)

	var wg sync.WaitGroup
	for w := 0; w < 8; w++ {
		wg.Add(1)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < 200; i++ {
				r.RecordSlowOperation(model.OperationQuery, "q", time.Duration(i+1)*time.Millisecond, nil)
				r.RecordProcessSample(int32(w), float64(i), float64(i))
				_ = agg.Aggregate()
			}
		}(w)
	}
	wg.Wait()

	state := r.State()
	assert.Len(t, state.SlowQueries, 10)
	for _, history := range state.Processes {
		assert.LessOrEqual(t, len(history), cfg.ProcessHistoryCapacity)
	}
}
