package delivery

import "fmt"

// State is the lifecycle state of the background delivery channel
type State int

const (
	// StateNotReady means no channel is open; pushed events are buffered
	StateNotReady State = iota
	// StateInitializing means Open was called and the channel has not reported ready
	StateInitializing
	// StateReady means events are delivered as they arrive
	StateReady
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateNotReady:
		return "NotReady"
	case StateInitializing:
		return "Initializing"
	case StateReady:
		return "Ready"
	default:
		return fmt.Sprintf("Unknown(%d)", s)
	}
}

// validTransitions defines which state transitions are allowed
var validTransitions = map[State][]State{
	StateNotReady:     {StateInitializing},
	StateInitializing: {StateReady, StateNotReady},
	StateReady:        {StateNotReady},
}

// CanTransitionTo checks if a transition from current state to next state is valid
func (s State) CanTransitionTo(next State) bool {
	for _, state := range validTransitions[s] {
		if state == next {
			return true
		}
	}
	return false
}
