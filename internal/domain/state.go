package domain

// SessionState represents the lifecycle state of a server download session
type SessionState string

const (
	StateIdle       SessionState = "idle"
	StateRunning    SessionState = "running"
	StatePaused     SessionState = "paused"
	StateCancelling SessionState = "cancelling"
	StateCancelled  SessionState = "cancelled"
	StateCompleted  SessionState = "completed"
	StateFailed     SessionState = "failed"
)

// transitions lists the allowed state changes
var transitions = map[SessionState][]SessionState{
	StateIdle:       {StateRunning},
	StateRunning:    {StatePaused, StateCancelling, StateCompleted, StateFailed},
	StatePaused:     {StateRunning, StateCancelling, StateFailed},
	StateCancelling: {StateCancelled},
}

// CanTransition reports whether from -> to is a legal move
func (s SessionState) CanTransition(to SessionState) bool {
	for _, next := range transitions[s] {
		if next == to {
			return true
		}
	}
	return false
}

// IsTerminal checks if the session can no longer change state
func (s SessionState) IsTerminal() bool {
	return s == StateCancelled || s == StateCompleted || s == StateFailed
}

// IsActive checks if the session holds (or is about to release) its worker
func (s SessionState) IsActive() bool {
	return s == StateRunning || s == StatePaused || s == StateCancelling
}

// ValidateState checks if a state string is known
func ValidateState(s SessionState) bool {
	switch s {
	case StateIdle, StateRunning, StatePaused, StateCancelling, StateCancelled, StateCompleted, StateFailed:
		return true
	}
	return false
}
