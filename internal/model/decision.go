package model

import "time"

// Outcome is the result of evaluating one observation of a monitored condition
type Outcome string

const (
	OutcomeHealthy    Outcome = "healthy"
	OutcomeSuppressed Outcome = "suppressed"
	OutcomeEscalate   Outcome = "escalate"
)

// SuppressReason explains why a failing condition was not dispatched
type SuppressReason string

const (
	SuppressNone              SuppressReason = ""
	SuppressBelowThreshold    SuppressReason = "below_threshold"
	SuppressWithinDedupWindow SuppressReason = "within_dedup_window"
	SuppressChannelCooldown   SuppressReason = "channel_cooldown"
)

// Decision is what the escalation tracker concluded for one observation
type Decision struct {
	Outcome             Outcome        `json:"outcome"`
	Reason              SuppressReason `json:"reason,omitempty"`
	ConsecutiveFailures uint           `json:"consecutive_failures"`
}

// SuppressionEvent records a failing condition that was held back
type SuppressionEvent struct {
	Key                 AlertKey       `json:"key"`
	Reason              SuppressReason `json:"reason"`
	Channel             string         `json:"channel,omitempty"`
	ConsecutiveFailures uint           `json:"consecutive_failures"`
	Value               float64        `json:"value"`
	At                  time.Time      `json:"at"`
}
