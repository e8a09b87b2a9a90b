package monitor

import "github.com/t77yq/healthwatch/internal/model"

const (
	// criticalPercent is the absolute level above which a percentage metric is high severity
	criticalPercent = 95.0

	highOvershootPercent   = 15.0
	mediumOvershootPercent = 5.0
)

// Classify maps how far value overshoots threshold to a severity. The absolute
// criticalPercent rule only applies when percentage is set, i.e. the metric is 0-100 scaled.
func Classify(value, threshold float64, percentage bool) (model.SeverityLevel, error) {
	if threshold <= 0 {
		return 0, ErrInvalidThreshold
	}

	overshoot := (value - threshold) / threshold * 100
	switch {
	case (percentage && value > criticalPercent) || overshoot > highOvershootPercent:
		return model.SeverityHigh, nil
	case overshoot > mediumOvershootPercent:
		return model.SeverityMedium, nil
	default:
		return model.SeverityWarning, nil
	}
}
