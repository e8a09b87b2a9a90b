package monitor

import (
	"fmt"
	"sync"
	"time"

	"github.com/t77yq/healthwatch/internal/model"
)

// EscalationPolicy holds the escalation settings applied for one cycle
type EscalationPolicy struct {
	// Threshold is the number of consecutive failing observations before escalating
	Threshold uint
	// DedupWindow is the minimum time between two escalations of the same key
	DedupWindow time.Duration
}

// EscalationState is the tracked state of one alert key
type EscalationState struct {
	ConsecutiveFailures uint       `json:"consecutive_failures"`
	LastEscalatedAt     *time.Time `json:"last_escalated_at,omitempty"`
	// RecoveredAt is set when the key turns healthy after having escalated
	RecoveredAt *time.Time `json:"recovered_at,omitempty"`
}

// EscalationTracker decides when a failing condition should be escalated. It separates
// hysteresis (not failing long enough) from deduplication (already reported recently).
type EscalationTracker struct {
	mu     sync.Mutex
	policy EscalationPolicy
	states map[model.AlertKey]*EscalationState
}

// NewEscalationTracker creates a tracker. A zero threshold is rejected.
func NewEscalationTracker(policy EscalationPolicy) (*EscalationTracker, error) {
	if policy.Threshold < 1 {
		return nil, fmt.Errorf("consecutive failure threshold: %w", ErrInvalidThreshold)
	}
	return &EscalationTracker{
		policy: policy,
		states: make(map[model.AlertKey]*EscalationState),
	}, nil
}

// SetPolicy replaces the policy used by subsequent evaluations
func (t *EscalationTracker) SetPolicy(policy EscalationPolicy) error {
	if policy.Threshold < 1 {
		return fmt.Errorf("consecutive failure threshold: %w", ErrInvalidThreshold)
	}
	t.mu.Lock()
	t.policy = policy
	t.mu.Unlock()
	return nil
}

// Evaluate records one observation of key at now and returns the decision
func (t *EscalationTracker) Evaluate(key model.AlertKey, failing bool, now time.Time) model.Decision {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[key]
	if !ok {
		state = &EscalationState{}
		t.states[key] = state
	}

	if !failing {
		if state.ConsecutiveFailures > 0 && state.LastEscalatedAt != nil &&
			(state.RecoveredAt == nil || state.RecoveredAt.Before(*state.LastEscalatedAt)) {
			recovered := now
			state.RecoveredAt = &recovered
		}
		state.ConsecutiveFailures = 0
		return model.Decision{Outcome: model.OutcomeHealthy}
	}

	state.ConsecutiveFailures++
	if state.ConsecutiveFailures < t.policy.Threshold {
		return model.Decision{
			Outcome:             model.OutcomeSuppressed,
			Reason:              model.SuppressBelowThreshold,
			ConsecutiveFailures: state.ConsecutiveFailures,
		}
	}

	if state.LastEscalatedAt != nil && now.Sub(*state.LastEscalatedAt) < t.policy.DedupWindow {
		return model.Decision{
			Outcome:             model.OutcomeSuppressed,
			Reason:              model.SuppressWithinDedupWindow,
			ConsecutiveFailures: state.ConsecutiveFailures,
		}
	}

	escalated := now
	state.LastEscalatedAt = &escalated
	return model.Decision{
		Outcome:             model.OutcomeEscalate,
		ConsecutiveFailures: state.ConsecutiveFailures,
	}
}

// State returns a copy of the state of key
func (t *EscalationTracker) State(key model.AlertKey) (EscalationState, bool) {
	t.mu.Lock()
	defer t.mu.Unlock()

	state, ok := t.states[key]
	if !ok {
		return EscalationState{}, false
	}
	return copyState(state), true
}

// States returns a copy of every tracked state
func (t *EscalationTracker) States() map[model.AlertKey]EscalationState {
	t.mu.Lock()
	defer t.mu.Unlock()

	out := make(map[model.AlertKey]EscalationState, len(t.states))
	for key, state := range t.states {
		out[key] = copyState(state)
	}
	return out
}

func copyState(s *EscalationState) EscalationState {
	out := EscalationState{ConsecutiveFailures: s.ConsecutiveFailures}
	if s.LastEscalatedAt != nil {
		at := *s.LastEscalatedAt
		out.LastEscalatedAt = &at
	}
	if s.RecoveredAt != nil {
		at := *s.RecoveredAt
		out.RecoveredAt = &at
	}
	return out
}
