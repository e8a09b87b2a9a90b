package notify

import (
	"context"
	"errors"
	"fmt"
	"net/smtp"
	"strings"

	"go.uber.org/zap"

	"github.com/t77yq/healthwatch/internal/config"
	"github.com/t77yq/healthwatch/internal/model"
)

// EmailNotifier sends alerts over SMTP
type EmailNotifier struct {
	logger   *zap.Logger
	settings config.SMTPSettings

	sendMail func(addr string, a smtp.Auth, from string, to []string, msg []byte) error
}

// NewEmailNotifier creates an SMTP notifier
func NewEmailNotifier(settings config.SMTPSettings, logger *zap.Logger) (*EmailNotifier, error) {
	if !settings.Enabled() {
		return nil, errors.New("smtp host is required")
	}
	if settings.From == "" || len(settings.To) == 0 {
		return nil, errors.New("smtp sender and recipients are required")
	}
	return &EmailNotifier{
		logger:   logger.Named("email-notifier"),
		settings: settings,
		sendMail: smtp.SendMail,
	}, nil
}

// Send implements monitor.Notifier. net/smtp has no context support, so ctx is only
// checked before sending.
func (n *EmailNotifier) Send(ctx context.Context, alert *model.Alert) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	var auth smtp.Auth
	if n.settings.Username != "" {
		auth = smtp.PlainAuth("", n.settings.Username, n.settings.Password, n.settings.Host)
	}

	if err := n.sendMail(n.settings.Addr(), auth, n.settings.From, n.settings.To, n.message(alert)); err != nil {
		return fmt.Errorf("failed to send email: %w", err)
	}

	n.logger.Info("Alert emailed",
		zap.String("id", alert.ID),
		zap.Int("recipients", len(n.settings.To)))
	return nil
}

func (n *EmailNotifier) message(alert *model.Alert) []byte {
	return []byte(fmt.Sprintf("From: %s\r\n"+
		"To: %s\r\n"+
		"Subject: %s\r\n"+
		"Content-Type: text/plain; charset=UTF-8\r\n"+
		"\r\n"+
		"%s\r\n",
		n.settings.From,
		strings.Join(n.settings.To, ", "),
		alert.Subject,
		alertText(alert)))
}

// alertText renders the plain text body shared by the email channels
func alertText(alert *model.Alert) string {
	var b strings.Builder
	b.WriteString(alert.Body)
	b.WriteString("\n\n")
	fmt.Fprintf(&b, "Severity:  %s\n", alert.Severity)
	fmt.Fprintf(&b, "Condition: %s (%s)\n", alert.Key, alert.Type)
	fmt.Fprintf(&b, "Value:     %.2f (threshold %.2f)\n", alert.Value, alert.Threshold)
	fmt.Fprintf(&b, "Time:      %s\n", alert.CreatedAt.UTC().Format("2006-01-02 15:04:05 MST"))
	fmt.Fprintf(&b, "Alert ID:  %s\n", alert.ID)
	return b.String()
}
