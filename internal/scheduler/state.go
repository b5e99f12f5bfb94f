package scheduler

import (
	"errors"
	"fmt"
	"sync"
)

// State is the lifecycle state of one output's scheduler.
type State int

const (
	StateConnecting State = iota
	StateActive
	StateSuspended
	StateErrored
	StateTornDown
)

var ErrIllegalTransition = errors.New("illegal scheduler transition")

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateActive:
		return "active"
	case StateSuspended:
		return "suspended"
	case StateErrored:
		return "errored"
	case StateTornDown:
		return "torn_down"
	default:
		return fmt.Sprintf("state(%d)", int(s))
	}
}

// MarshalText renders the state name in status output.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *State) UnmarshalText(b []byte) error {
	for st := StateConnecting; st <= StateTornDown; st++ {
		if st.String() == string(b) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown scheduler state %q", b)
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to State) bool {
	if to == StateTornDown {
		return from != StateTornDown
	}
	switch from {
	case StateConnecting:
		return to == StateActive || to == StateErrored
	case StateActive:
		return to == StateSuspended || to == StateErrored
	case StateSuspended:
		return to == StateActive || to == StateErrored
	case StateErrored:
		return to == StateConnecting
	}
	return false
}

// FSM guards state changes.
type FSM struct {
	mu    sync.Mutex
	state State
}

func (f *FSM) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Transition moves to `to`. An illegal move leaves the state unchanged.
func (f *FSM) Transition(to State) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !CanTransition(f.state, to) {
		return fmt.Errorf("%w: %s -> %s", ErrIllegalTransition, f.state, to)
	}
	f.state = to
	return nil
}
