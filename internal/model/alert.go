package model

import (
	"fmt"
	"time"
)

// AlertKey identifies one monitored condition
type AlertKey string

// SeverityLevel represents the severity of an escalated alert. Levels are ordered.
type SeverityLevel int

const (
	SeverityWarning SeverityLevel = iota + 1
	SeverityMedium
	SeverityHigh
)

func (s SeverityLevel) String() string {
	switch s {
	case SeverityWarning:
		return "warning"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	default:
		return fmt.Sprintf("severity(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler
func (s SeverityLevel) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler
func (s *SeverityLevel) UnmarshalText(text []byte) error {
	switch string(text) {
	case "warning":
		*s = SeverityWarning
	case "medium":
		*s = SeverityMedium
	case "high":
		*s = SeverityHigh
	default:
		return fmt.Errorf("unknown severity: %q", text)
	}
	return nil
}

// AlertType represents the type of alert
type AlertType string

const (
	AlertTypeResourceUsage AlertType = "resource_usage"
	AlertTypeServiceDown   AlertType = "service_down"
)

// Alert represents an escalated alert that was handed to the notification channels
type Alert struct {
	ID        string        `json:"id"`
	Key       AlertKey      `json:"key"`
	Type      AlertType     `json:"type"`
	Severity  SeverityLevel `json:"severity"`
	Subject   string        `json:"subject"`
	Body      string        `json:"body"`
	Value     float64       `json:"value"`
	Threshold float64       `json:"threshold"`
	// Channels lists the channels the alert was actually sent on
	Channels  []string  `json:"channels,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}
