package notify

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mailgun/mailgun-go/v4"
	"go.uber.org/zap"

	"github.com/t77yq/healthwatch/internal/config"
	"github.com/t77yq/healthwatch/internal/model"
)

const mailgunSendTimeout = 30 * time.Second

// MailgunNotifier sends alerts through the Mailgun API
type MailgunNotifier struct {
	logger   *zap.Logger
	settings config.MailgunSettings
	client   *mailgun.MailgunImpl
}

// NewMailgunNotifier creates a Mailgun notifier
func NewMailgunNotifier(settings config.MailgunSettings, logger *zap.Logger) (*MailgunNotifier, error) {
	if !settings.Enabled() {
		return nil, errors.New("mailgun domain and api key are required")
	}
	if settings.From == "" || len(settings.To) == 0 {
		return nil, errors.New("mailgun sender and recipients are required")
	}
	return &MailgunNotifier{
		logger:   logger.Named("mailgun-notifier"),
		settings: settings,
		client:   mailgun.NewMailgun(settings.Domain, settings.APIKey),
	}, nil
}

// Send implements monitor.Notifier
func (n *MailgunNotifier) Send(ctx context.Context, alert *model.Alert) error {
	message := n.client.NewMessage(n.settings.From, alert.Subject, alertText(alert), n.settings.To...)
	message.AddTag("healthwatch")
	message.AddTag(string(alert.Type))

	sendCtx, cancel := context.WithTimeout(ctx, mailgunSendTimeout)
	defer cancel()

	_, messageID, err := n.client.Send(sendCtx, message)
	if err != nil {
		return fmt.Errorf("failed to send mailgun message: %w", err)
	}

	n.logger.Info("Alert sent via mailgun",
		zap.String("id", alert.ID),
		zap.String("message_id", messageID))
	return nil
}
