package main

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/healthwatch/internal/config"
	"github.com/t77yq/healthwatch/internal/diagnostics"
	"github.com/t77yq/healthwatch/internal/monitor"
	"github.com/t77yq/healthwatch/internal/notify"
	"github.com/t77yq/healthwatch/internal/sampler"
	"github.com/t77yq/healthwatch/internal/storage"
)

const natsConnectAttempts = 5

// app holds the wired components shared by the commands
type app struct {
	logger      *zap.Logger
	server      *config.ServerConfig
	store       *config.ViperStore
	coordinator *monitor.Coordinator
	history     *storage.SQLiteAlertHistory
	nc          *nats.Conn
}

func newLogger(development bool) (*zap.Logger, error) {
	if development {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

// buildApp loads the configuration and wires every collaborator of the coordinator
func buildApp(ctx context.Context, configDir string) (*app, error) {
	store := config.NewViperStore(configDir, zap.NewNop())
	server, err := store.LoadServer()
	if err != nil {
		return nil, fmt.Errorf("failed to load server config: %w", err)
	}

	logger, err := newLogger(server.Log.Development)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger = logger.With(zap.String("app", server.App.Name))
	store.SetLogger(logger)

	a := &app{
		logger: logger,
		server: server,
		store:  store,
	}

	cfg, err := a.store.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load monitoring config: %w", err)
	}

	recorder := diagnostics.NewRecorder(cfg, sampler.NewHeapAllocationTracker(), logger)

	systemSampler := sampler.NewSystemSampler(logger)
	systemSampler.RegisterProbe(sampler.MetricPostgres, sampler.PostgresProbe)
	if server.Consul.Address != "" {
		client, err := sampler.NewConsulClient(server.Consul.Address)
		if err != nil {
			return nil, err
		}
		systemSampler.RegisterProbe(sampler.MetricConsul, sampler.NewConsulProbe(client))
	}

	notifiers, err := a.buildNotifiers()
	if err != nil {
		a.close()
		return nil, err
	}

	deps := monitor.Dependencies{
		Sampler:   systemSampler,
		Processes: sampler.NewProcessSampler(logger),
		Notifiers: notifiers,
		Settings:  a.store,
		Recorder:  recorder,
	}

	if server.History.Path != "" {
		a.history, err = storage.NewSQLiteAlertHistory(logger, server.History.Path, recorder)
		if err != nil {
			a.close()
			return nil, err
		}
		deps.History = a.history
	}

	a.coordinator, err = monitor.New(deps, logger)
	if err != nil {
		a.close()
		return nil, err
	}
	if err := a.coordinator.Init(cfg); err != nil {
		a.close()
		return nil, fmt.Errorf("failed to initialize monitor: %w", err)
	}

	return a, nil
}

func (a *app) buildNotifiers() (map[string]monitor.Notifier, error) {
	notifiers := map[string]monitor.Notifier{
		notify.ChannelLog: notify.NewLogNotifier(a.logger),
	}

	if len(a.server.NATS.URLs) > 0 {
		nc, err := connectNATS(a.server, a.logger)
		if err != nil {
			return nil, err
		}
		a.nc = nc

		js, err := nc.JetStream()
		if err != nil {
			return nil, fmt.Errorf("failed to create JetStream context: %w", err)
		}
		jsNotifier, err := notify.NewJetStreamNotifier(js, a.logger)
		if err != nil {
			return nil, err
		}
		notifiers[notify.ChannelNATS] = jsNotifier
	}

	if a.server.SMTP.Enabled() {
		email, err := notify.NewEmailNotifier(a.server.SMTP, a.logger)
		if err != nil {
			return nil, err
		}
		notifiers[notify.ChannelEmail] = email
	}

	if a.server.Mailgun.Enabled() {
		mg, err := notify.NewMailgunNotifier(a.server.Mailgun, a.logger)
		if err != nil {
			return nil, err
		}
		notifiers[notify.ChannelMailgun] = mg
	}

	channels := make([]string, 0, len(notifiers))
	for name := range notifiers {
		channels = append(channels, name)
	}
	a.logger.Info("Notification channels ready", zap.Strings("channels", channels))
	return notifiers, nil
}

func connectNATS(server *config.ServerConfig, logger *zap.Logger) (*nats.Conn, error) {
	opts := []nats.Option{
		nats.Name(server.App.Name),
		nats.MaxReconnects(server.NATS.MaxReconnects),
		nats.ReconnectWait(server.NATS.ReconnectWait),
		nats.Timeout(server.NATS.ConnectTimeout),
		nats.PingInterval(20 * time.Second),
		nats.MaxPingsOutstanding(5),
		nats.ReconnectBufSize(5 * 1024 * 1024), // 5MB
		nats.DrainTimeout(30 * time.Second),
		nats.ErrorHandler(func(nc *nats.Conn, sub *nats.Subscription, err error) {
			fields := []zap.Field{zap.Error(err)}
			if sub != nil {
				fields = append(fields, zap.String("subject", sub.Subject))
			}
			logger.Error("NATS connection error", fields...)
		}),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			logger.Warn("NATS disconnected", zap.Error(err))
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			logger.Info("NATS reconnected",
				zap.String("url", nc.ConnectedUrl()))
		}),
	}

	urls := strings.Join(server.NATS.URLs, ",")

	var (
		nc  *nats.Conn
		err error
	)
	for i := 0; i < natsConnectAttempts; i++ {
		nc, err = nats.Connect(urls, opts...)
		if err == nil {
			break
		}
		logger.Warn("Failed to connect to NATS, retrying...",
			zap.Int("attempt", i+1),
			zap.Error(err))
		time.Sleep(time.Second * time.Duration(i+1))
	}
	if err != nil {
		return nil, fmt.Errorf("failed to connect to NATS after %d attempts: %w", natsConnectAttempts, err)
	}

	logger.Info("Connected to NATS successfully",
		zap.String("url", nc.ConnectedUrl()))
	return nc, nil
}

// shutdown stops the coordinator and releases the connections
func (a *app) shutdown(ctx context.Context) error {
	var errs []error
	if a.coordinator != nil {
		if err := a.coordinator.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
	}
	if err := a.close(); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

func (a *app) close() error {
	var errs []error
	if a.history != nil {
		if err := a.history.Close(); err != nil {
			errs = append(errs, fmt.Errorf("failed to close history: %w", err))
		}
	}
	if a.nc != nil {
		if err := a.nc.Drain(); err != nil {
			errs = append(errs, fmt.Errorf("failed to drain NATS connection: %w", err))
		}
	}
	_ = a.logger.Sync()
	return errors.Join(errs...)
}
