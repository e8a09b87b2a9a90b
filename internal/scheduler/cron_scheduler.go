package scheduler

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Job is a unit of scheduled work
type Job func(ctx context.Context) error

// CronScheduler runs named jobs on cron expressions or fixed intervals
type CronScheduler struct {
	logger *zap.Logger
	cron   *cron.Cron
	parser cron.Parser
	// serial wraps jobs that must never overlap with themselves
	serial cron.JobWrapper

	mu      sync.Mutex
	entries map[string]cron.EntryID
	jobs    map[string]Job
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

// cronLogger adapts zap.Logger to cron.Logger
type cronLogger struct {
	logger *zap.Logger
}

func (l *cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug(msg, fields(keysAndValues)...)
}

func (l *cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error(msg, append(fields(keysAndValues), zap.Error(err))...)
}

func fields(keysAndValues []interface{}) []zap.Field {
	out := make([]zap.Field, 0, len(keysAndValues)/2)
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		out = append(out, zap.Any(fmt.Sprint(keysAndValues[i]), keysAndValues[i+1]))
	}
	return out
}

// NewCronScheduler creates a new scheduler. Cron expressions include a seconds field.
func NewCronScheduler(logger *zap.Logger) *CronScheduler {
	cronLogger := &cronLogger{logger: logger.Named("cron")}
	parser := cron.NewParser(cron.SecondOptional | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	cronOptions := []cron.Option{
		cron.WithParser(parser),
		cron.WithChain(cron.Recover(cronLogger)),
		cron.WithLogger(cronLogger),
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &CronScheduler{
		logger:  logger.Named("scheduler"),
		cron:    cron.New(cronOptions...),
		parser:  parser,
		serial:  cron.SkipIfStillRunning(cronLogger),
		entries: make(map[string]cron.EntryID),
		jobs:    make(map[string]Job),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start starts the scheduler
func (s *CronScheduler) Start() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.running {
		return
	}
	s.cron.Start()
	s.running = true
	s.logger.Info("Scheduler started", zap.Int("jobs", len(s.entries)))
}

// Stop stops scheduling new runs, cancels running jobs and waits for them until ctx is done
func (s *CronScheduler) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	stopCtx := s.cron.Stop()
	s.cancel()

	select {
	case <-stopCtx.Done():
		s.logger.Info("Scheduler stopped")
		return nil
	case <-ctx.Done():
		s.logger.Warn("Scheduler stop timed out")
		return fmt.Errorf("failed to stop scheduler: %w", ctx.Err())
	}
}

// AddIntervalJob schedules job every interval, replacing any job with the same name
func (s *CronScheduler) AddIntervalJob(name string, interval time.Duration, job Job) error {
	if interval <= 0 {
		return fmt.Errorf("%s: %w: %s", name, ErrInvalidInterval, interval)
	}
	return s.add(name, cron.Every(interval), job, false)
}

// AddCronJob schedules job on a cron expression, replacing any job with the same name.
// Runs of the same job never overlap; a run due while the previous one is active is skipped.
func (s *CronScheduler) AddCronJob(name, expression string, job Job) error {
	schedule, err := s.parser.Parse(expression)
	if err != nil {
		return fmt.Errorf("%s: %w: %v", name, ErrInvalidSchedule, err)
	}
	return s.add(name, schedule, job, true)
}

func (s *CronScheduler) add(name string, schedule cron.Schedule, job Job, serial bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if entryID, ok := s.entries[name]; ok {
		s.cron.Remove(entryID)
		delete(s.entries, name)
	}

	var cronJob cron.Job = cron.FuncJob(func() { s.runJob(name, job) })
	if serial {
		cronJob = s.serial(cronJob)
	}

	entryID := s.cron.Schedule(schedule, cronJob)
	s.entries[name] = entryID
	s.jobs[name] = job

	s.logger.Info("Added job",
		zap.String("name", name),
		zap.Time("next_run", schedule.Next(time.Now())))
	return nil
}

// Remove removes a job
func (s *CronScheduler) Remove(name string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[name]
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	s.cron.Remove(entryID)
	delete(s.entries, name)
	delete(s.jobs, name)

	s.logger.Info("Removed job", zap.String("name", name))
	return nil
}

// Trigger runs a job immediately in the background, outside its schedule
func (s *CronScheduler) Trigger(name string) error {
	s.mu.Lock()
	job, ok := s.jobs[name]
	s.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}

	go s.runJob(name, job)
	return nil
}

// Next returns the next scheduled run of a job. It is zero until the scheduler is started.
func (s *CronScheduler) Next(name string) (time.Time, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entryID, ok := s.entries[name]
	if !ok {
		return time.Time{}, fmt.Errorf("%w: %s", ErrJobNotFound, name)
	}
	return s.cron.Entry(entryID).Next, nil
}

// Jobs lists the registered job names
func (s *CronScheduler) Jobs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	names := make([]string, 0, len(s.entries))
	for name := range s.entries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (s *CronScheduler) runJob(name string, job Job) {
	start := time.Now()
	err := job(s.ctx)
	duration := time.Since(start)

	jobDuration.WithLabelValues(name).Observe(duration.Seconds())
	if err != nil {
		jobRuns.WithLabelValues(name, "error").Inc()
		s.logger.Error("Job failed",
			zap.String("name", name),
			zap.Duration("duration", duration),
			zap.Error(err))
		return
	}

	jobRuns.WithLabelValues(name, "ok").Inc()
	s.logger.Debug("Job finished",
		zap.String("name", name),
		zap.Duration("duration", duration))
}
