package pipeline

import (
	"sync"
	"time"
)

// State is a post-capture pipeline state.
type State int

const (
	StateIdle State = iota
	StateTranscoding
	StateTranscribing
	StateSummarizing
	StateDone
	StateFailed
)

// String returns the string representation of a State
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateTranscoding:
		return "transcoding"
	case StateTranscribing:
		return "transcribing"
	case StateSummarizing:
		return "summarizing"
	case StateDone:
		return "done"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Terminal reports whether no further transitions are possible.
func (s State) Terminal() bool {
	return s == StateDone || s == StateFailed
}

// StateChange represents a state transition event.
type StateChange struct {
	SessionID string
	From      State
	To        State
	Timestamp time.Time
	Err       error
}

// StateListener observes pipeline state changes.
type StateListener interface {
	OnStateChange(event StateChange)
}

// ListenerFunc adapts a function to StateListener.
type ListenerFunc func(StateChange)

func (f ListenerFunc) OnStateChange(event StateChange) { f(event) }

// InvalidTransitionError represents an invalid state transition attempt
type InvalidTransitionError struct {
	From State
	To   State
}

func (e *InvalidTransitionError) Error() string {
	return "invalid pipeline transition from " + e.From.String() + " to " + e.To.String()
}

var validTransitions = map[State][]State{
	StateIdle:         {StateTranscoding},
	StateTranscoding:  {StateTranscribing, StateFailed},
	StateTranscribing: {StateSummarizing, StateFailed},
	StateSummarizing:  {StateDone, StateFailed},
}

// machine tracks one pipeline run.
type machine struct {
	mu        sync.Mutex
	sessionID string
	current   State
	listeners []StateListener
}

func newMachine(sessionID string, listeners []StateListener) *machine {
	return &machine{sessionID: sessionID, current: StateIdle, listeners: listeners}
}

func (m *machine) State() State {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.current
}

func (m *machine) transition(to State, cause error) error {
	m.mu.Lock()
	from := m.current
	allowed := false
	for _, s := range validTransitions[from] {
		if s == to {
			allowed = true
			break
		}
	}
	if !allowed {
		m.mu.Unlock()
		return &InvalidTransitionError{From: from, To: to}
	}
	m.current = to
	listeners := make([]StateListener, len(m.listeners))
	copy(listeners, m.listeners)
	m.mu.Unlock()

	event := StateChange{
		SessionID: m.sessionID,
		From:      from,
		To:        to,
		Timestamp: time.Now(),
		Err:       cause,
	}
	for _, l := range listeners {
		l.OnStateChange(event)
	}
	return nil
}
