package app

import (
	"fmt"
	"sync"

	"github.com/bft-labs/sqlreplay/pkg/log"
)

// State represents the lifecycle state of a replay session.
type State int

const (
	StatePending State = iota
	StateDialing
	StateReplaying
	StateReconnecting
	StateFinished
	StateFailed
)

// String returns a human-readable representation of the state.
func (s State) String() string {
	switch s {
	case StatePending:
		return "Pending"
	case StateDialing:
		return "Dialing"
	case StateReplaying:
		return "Replaying"
	case StateReconnecting:
		return "Reconnecting"
	case StateFinished:
		return "Finished"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// Terminal reports whether no transition leaves s.
func (s State) Terminal() bool {
	return s == StateFinished || s == StateFailed
}

// EventEmitter is called when a session changes state.
type EventEmitter interface {
	OnStateChange(session string, previous, current State, reason string)
}

// Lifecycle tracks the state machine of one session.
type Lifecycle struct {
	mu           sync.RWMutex
	session      string
	state        State
	logger       log.Logger
	eventEmitter EventEmitter
}

// NewLifecycle creates a new lifecycle in StatePending.
func NewLifecycle(session string, logger log.Logger, emitter EventEmitter) *Lifecycle {
	if logger == nil {
		logger = log.NewNoopLogger()
	}
	return &Lifecycle{
		session:      session,
		state:        StatePending,
		logger:       logger,
		eventEmitter: emitter,
	}
}

// State returns the current lifecycle state.
func (l *Lifecycle) State() State {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.state
}

func validTransition(from, to State) bool {
	switch from {
	case StatePending:
		return to == StateDialing
	case StateDialing:
		return to == StateReplaying || to == StateFailed
	case StateReplaying:
		return to == StateFinished || to == StateFailed || to == StateReconnecting
	case StateReconnecting:
		return to == StateDialing || to == StateFailed
	default:
		return false
	}
}

// TransitionTo attempts to transition to a new state.
// Returns an error if the transition is not valid.
func (l *Lifecycle) TransitionTo(newState State, reason string) error {
	l.mu.Lock()
	oldState := l.state
	if !validTransition(oldState, newState) {
		l.mu.Unlock()
		return fmt.Errorf("session %s: invalid transition %s -> %s", l.session, oldState, newState)
	}
	l.state = newState
	l.mu.Unlock()

	// Emit event outside of lock
	if l.eventEmitter != nil {
		l.eventEmitter.OnStateChange(l.session, oldState, newState, reason)
	}

	l.logger.Debug("session state",
		log.String("from", oldState.String()),
		log.String("to", newState.String()),
		log.String("reason", reason),
	)
	return nil
}
