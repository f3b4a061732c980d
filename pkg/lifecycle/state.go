package lifecycle

import "fmt"

// State is the connection lifecycle state of a session.
//
// Assumed transitions:
//
//	StateIdle
//	  -> StateConnecting (Open called)
//
//	StateConnecting
//	  -> StateConnected (open acknowledgment received)
//	  -> StateReconnecting (dial failure or open timeout, retry budget remains)
//	  -> StateErrored (retry budget exhausted)
//
//	StateConnected
//	  -> StateReconnecting (non-manual closure, retry budget remains)
//	  -> StateErrored (retry budget exhausted)
//
//	StateReconnecting
//	  -> StateConnecting (retry timer fired)
//
//	Any state
//	  -> StateClosed (manual close)
//
// StateClosed and StateErrored are terminal; a new Manager must be
// constructed to connect again.
type State int

const (
	StateIdle State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
	StateErrored
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	case StateErrored:
		return "errored"
	default:
		return "invalid"
	}
}

// Status maps a State onto the four-valued indicator the editor shows.
func (s State) Status() string {
	switch s {
	case StateConnecting, StateReconnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateIdle, StateClosed:
		return "disconnected"
	default:
		return "error"
	}
}

func (s State) validateTransitionTo(newState State) error {
	if newState == StateClosed && s != StateClosed {
		return nil
	}

	switch s {
	case StateIdle:
		if newState == StateConnecting {
			return nil
		}
	case StateConnecting:
		switch newState {
		case StateConnected, StateReconnecting, StateErrored:
			return nil
		}
	case StateConnected:
		switch newState {
		case StateReconnecting, StateErrored:
			return nil
		}
	case StateReconnecting:
		switch newState {
		case StateConnecting, StateErrored:
			return nil
		}
	}

	return fmt.Errorf("invalid state transition from %v to %v", s, newState)
}
