package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"

	"github.com/t77yq/healthwatch/internal/model"
)

const (
	// AlertStream is the JetStream stream holding published alerts
	AlertStream = "ALERTS"

	alertSubjectPrefix = "alert."
)

// AlertSubject returns the subject an alert type is published on
func AlertSubject(alertType model.AlertType) string {
	return alertSubjectPrefix + string(alertType)
}

// JetStreamNotifier publishes alerts as JSON to alert.<type>
type JetStreamNotifier struct {
	logger *zap.Logger
	js     nats.JetStreamContext
}

// NewJetStreamNotifier creates a notifier and makes sure the alert stream exists
func NewJetStreamNotifier(js nats.JetStreamContext, logger *zap.Logger) (*JetStreamNotifier, error) {
	n := &JetStreamNotifier{
		logger: logger.Named("jetstream-notifier"),
		js:     js,
	}
	if err := n.ensureStream(); err != nil {
		return nil, err
	}
	return n, nil
}

func (n *JetStreamNotifier) ensureStream() error {
	stream, err := n.js.StreamInfo(AlertStream)
	if err != nil && !errors.Is(err, nats.ErrStreamNotFound) {
		return fmt.Errorf("failed to get stream info: %w", err)
	}
	if stream != nil {
		return nil
	}

	_, err = n.js.AddStream(&nats.StreamConfig{
		Name:     AlertStream,
		Subjects: []string{alertSubjectPrefix + "*"},
		Storage:  nats.FileStorage,
	})
	if err != nil {
		return fmt.Errorf("failed to create stream: %w", err)
	}
	n.logger.Info("Alert stream created", zap.String("stream", AlertStream))
	return nil
}

// Send implements monitor.Notifier. The alert ID is the message ID, so a repeated
// publish of the same alert is dropped by the stream.
func (n *JetStreamNotifier) Send(ctx context.Context, alert *model.Alert) error {
	data, err := json.Marshal(alert)
	if err != nil {
		return fmt.Errorf("failed to marshal alert: %w", err)
	}

	subject := AlertSubject(alert.Type)
	if _, err := n.js.Publish(subject, data, nats.Context(ctx), nats.MsgId(alert.ID)); err != nil {
		return fmt.Errorf("failed to publish alert: %w", err)
	}

	n.logger.Info("Alert published",
		zap.String("id", alert.ID),
		zap.String("subject", subject),
		zap.Stringer("severity", alert.Severity))
	return nil
}
