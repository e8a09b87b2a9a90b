package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/t77yq/healthwatch/internal/monitor"
	"github.com/t77yq/healthwatch/internal/scheduler"
)

const (
	shutdownTimeout = 10 * time.Second
	// reloadInterval bounds how stale settings get when file notifications are missed
	reloadInterval = 5 * time.Minute
)

type rootOptions struct {
	configDir string
}

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	opts := &rootOptions{}
	root := &cobra.Command{
		Use:          "healthwatch",
		Short:        "Threshold-based health monitor with escalation and alert dispatch",
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServer(cmd.Context(), opts)
		},
	}
	root.PersistentFlags().StringVar(&opts.configDir, "config-dir", "./config", "directory holding config.yaml")
	root.AddCommand(newCheckCmd(opts), newHistoryCmd(opts))
	return root
}

func runServer(ctx context.Context, opts *rootOptions) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := buildApp(ctx, opts.configDir)
	if err != nil {
		return err
	}
	logger := a.logger

	sched := scheduler.NewCronScheduler(logger)
	cycles := &cycleReloader{coordinator: a.coordinator, scheduler: sched, logger: logger}
	if err := cycles.schedule(); err != nil {
		a.close()
		return err
	}
	if err := sched.AddIntervalJob(scheduler.JobSettingsReload, reloadInterval, scheduler.ReloadJob(cycles)); err != nil {
		a.close()
		return err
	}
	if a.history != nil {
		prune := scheduler.PruneJob(a.history, a.server.History.Retention(), nil)
		if err := sched.AddCronJob(scheduler.JobHistoryPrune, scheduler.PruneSchedule, prune); err != nil {
			a.close()
			return err
		}
	}

	err = a.store.Watch(ctx, func() {
		if err := sched.Trigger(scheduler.JobSettingsReload); err != nil {
			logger.Error("Failed to trigger settings reload", zap.Error(err))
		}
	})
	if err != nil {
		logger.Warn("Config file watch unavailable, relying on periodic reload", zap.Error(err))
	}

	var metricsServer *http.Server
	if addr := a.server.Metrics.Address; addr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics listener failed", zap.Error(err))
			}
		}()
		logger.Info("Serving metrics", zap.String("address", addr))
	}

	sched.Start()
	logSchedule(logger, sched)
	if err := sched.Trigger(scheduler.JobHealthCycle); err != nil {
		logger.Error("Failed to trigger first health cycle", zap.Error(err))
	}
	logger.Info("Health monitor started")

	<-ctx.Done()
	logger.Info("Received shutdown signal")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	var errs []error
	if err := sched.Stop(shutdownCtx); err != nil {
		errs = append(errs, err)
	}
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.shutdown(shutdownCtx); err != nil {
		errs = append(errs, err)
	}

	logger.Info("Server shutting down gracefully")
	return errors.Join(errs...)
}

func logSchedule(logger *zap.Logger, sched *scheduler.CronScheduler) {
	for _, name := range sched.Jobs() {
		next, err := sched.Next(name)
		if err != nil {
			continue
		}
		logger.Info("Scheduled job", zap.String("job", name), zap.Time("next_run", next))
	}
}

// cycleReloader reloads settings and reschedules the health cycle when its interval changed
type cycleReloader struct {
	coordinator *monitor.Coordinator
	scheduler   *scheduler.CronScheduler
	logger      *zap.Logger

	mu       sync.Mutex
	interval time.Duration
}

func (r *cycleReloader) schedule() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	interval := r.coordinator.Config().HealthCheckInterval()
	if interval == r.interval {
		return nil
	}
	if err := r.scheduler.AddIntervalJob(scheduler.JobHealthCycle, interval, scheduler.CycleJob(r.coordinator, r.logger)); err != nil {
		return err
	}
	r.interval = interval
	return nil
}

// Reload implements scheduler.Reloader
func (r *cycleReloader) Reload(ctx context.Context) error {
	if err := r.coordinator.Reload(ctx); err != nil {
		return err
	}
	return r.schedule()
}
