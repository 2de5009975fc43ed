package session

import "time"

// State is a session lifecycle state.
type State int

const (
	StateConnected State = iota
	StateCapturing
	StateFinalizing
	StatePipeline
	StateClosed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateConnected:
		return "connected"
	case StateCapturing:
		return "capturing"
	case StateFinalizing:
		return "finalizing"
	case StatePipeline:
		return "pipeline"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// StateChange represents a session state transition. Err is set when the
// session enters Closed because of a failure.
type StateChange struct {
	SessionID string
	From      State
	To        State
	Timestamp time.Time
	Err       error
}

// Listener observes session state changes. Calls happen on the session's own
// goroutine and must not block.
type Listener interface {
	OnSessionState(event StateChange)
}

// ListenerFunc adapts a function to Listener.
type ListenerFunc func(StateChange)

func (f ListenerFunc) OnSessionState(event StateChange) { f(event) }

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid session transition from " + e.From.String() + " to " + e.To.String()
}

// Closed is reachable from every state except itself.
var validTransitions = map[State][]State{
	StateConnected:  {StateCapturing, StateFinalizing, StateClosed},
	StateCapturing:  {StateFinalizing, StateClosed},
	StateFinalizing: {StatePipeline, StateClosed},
	StatePipeline:   {StateClosed},
}

func canTransition(from, to State) bool {
	for _, s := range validTransitions[from] {
		if s == to {
			return true
		}
	}
	return false
}
