// Package session tracks one imaging run on the controller side, from image
// selection through the worker's terminal result.
package session

import (
	"errors"
	"fmt"

	"github.com/nace/peka/internal/protocol"
	"github.com/nace/peka/internal/system"
)

// ErrPermissionDenied indicates elevation was declined or unavailable; no
// device operation was attempted.
var ErrPermissionDenied = errors.New("permission denied: could not start privileged worker")

// ErrExecutorLost indicates the worker died before reporting a terminal
// result. The controller must never assume the write succeeded.
var ErrExecutorLost = errors.New("privileged worker exited without reporting a result")

// State is one step of the session lifecycle
type State int

const (
	StateIdle State = iota
	StateImageSelected
	StateDeviceSelected
	StateConfirmed
	StateUnmounting
	StateWriting
	StateVerifying
	StateDone
	StateFailed
	StateCancelled
)

// String returns the state name
func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateImageSelected:
		return "ImageSelected"
	case StateDeviceSelected:
		return "DeviceSelected"
	case StateConfirmed:
		return "Confirmed"
	case StateUnmounting:
		return "Unmounting"
	case StateWriting:
		return "Writing"
	case StateVerifying:
		return "Verifying"
	case StateDone:
		return "Done"
	case StateFailed:
		return "Failed"
	case StateCancelled:
		return "Cancelled"
	default:
		return fmt.Sprintf("State(%d)", int(s))
	}
}

// transitions lists the legal forward edges. Failed is reachable from
// everywhere, Cancelled only from the running phases.
var transitions = map[State][]State{
	StateIdle:           {StateImageSelected},
	StateImageSelected:  {StateDeviceSelected},
	StateDeviceSelected: {StateConfirmed},
	StateConfirmed:      {StateUnmounting},
	StateUnmounting:     {StateWriting, StateCancelled},
	StateWriting:        {StateVerifying, StateDone, StateCancelled},
	StateVerifying:      {StateDone, StateCancelled},
}

// Session owns the state machine, session-scoped cleanup, and the terminal
// result of one run.
type Session struct {
	state   State
	cleanup *system.CleanupStack
	result  *protocol.Result
}

// New creates a session in Idle
func New() *Session {
	return &Session{
		state:   StateIdle,
		cleanup: system.NewCleanupStack(),
	}
}

// State returns the current state
func (s *Session) State() State {
	return s.state
}

// Cleanup returns the session's cleanup stack. Temporary extraction
// directories register here and are removed on every exit path.
func (s *Session) Cleanup() *system.CleanupStack {
	return s.cleanup
}

// Result returns the terminal record, nil while the session is running
func (s *Session) Result() *protocol.Result {
	return s.result
}

// Advance moves to the given state, rejecting transitions the lifecycle
// does not allow.
func (s *Session) Advance(to State) error {
	if to == StateFailed {
		s.state = StateFailed
		return nil
	}
	for _, allowed := range transitions[s.state] {
		if allowed == to {
			s.state = to
			return nil
		}
	}
	return fmt.Errorf("illegal session transition %s -> %s", s.state, to)
}

// Observe updates the state from one worker event. Progress events drive
// the Unmounting/Writing/Verifying phases; the result event terminates the
// session.
func (s *Session) Observe(ev *protocol.Event) error {
	switch ev.Type {
	case protocol.EventProgress:
		target := s.state
		switch ev.Phase {
		case protocol.PhaseUnmounting:
			target = StateUnmounting
		case protocol.PhaseWriting:
			target = StateWriting
		case protocol.PhaseVerifying:
			target = StateVerifying
		}
		if target != s.state {
			return s.Advance(target)
		}
		return nil

	case protocol.EventResult:
		if ev.Result == nil {
			return s.Finish(LostResult())
		}
		return s.Finish(ev.Result)

	default:
		return nil
	}
}

// Finish records the terminal result exactly once and runs cleanup
func (s *Session) Finish(result *protocol.Result) error {
	if s.result != nil {
		return fmt.Errorf("session already finished with outcome %s", s.result.Outcome)
	}
	s.result = result

	switch result.Outcome {
	case protocol.OutcomeSuccess:
		s.state = StateDone
	case protocol.OutcomeCancelled:
		s.state = StateCancelled
	default:
		s.state = StateFailed
	}

	return s.cleanup.Execute()
}

// Reset returns the session to Idle, dropping all session-scoped data and
// deleting any remaining temp artifacts.
func (s *Session) Reset() error {
	err := s.cleanup.Execute()
	s.state = StateIdle
	s.result = nil
	s.cleanup = system.NewCleanupStack()
	return err
}

// LostResult synthesizes the terminal record for a worker that died before
// reporting one.
func LostResult() *protocol.Result {
	return &protocol.Result{
		Outcome: protocol.OutcomeFailed,
		Error: &protocol.WireError{
			Kind:    protocol.KindExecutorLost,
			Message: ErrExecutorLost.Error(),
		},
	}
}
