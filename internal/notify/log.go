package notify

import (
	"context"

	"go.uber.org/zap"

	"github.com/t77yq/healthwatch/internal/model"
)

// LogNotifier writes alerts to the application log
type LogNotifier struct {
	logger *zap.Logger
}

func NewLogNotifier(logger *zap.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.Named("alerts")}
}

// Send implements monitor.Notifier
func (n *LogNotifier) Send(ctx context.Context, alert *model.Alert) error {
	n.logger.Warn(alert.Subject,
		zap.String("id", alert.ID),
		zap.String("key", string(alert.Key)),
		zap.String("type", string(alert.Type)),
		zap.Stringer("severity", alert.Severity),
		zap.Float64("value", alert.Value),
		zap.Float64("threshold", alert.Threshold))
	return nil
}
