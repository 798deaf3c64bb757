package playback

// State represents the playback state of a session.
type State int

const (
	// StateIdle indicates the session has not started.
	StateIdle State = iota
	// StateBuffering indicates the sink is open and the first chunk is awaited.
	StateBuffering
	// StatePlaying indicates audio is being written to the sink.
	StatePlaying
	// StatePaused indicates output is halted in place.
	StatePaused
	// StateStopping indicates the session is tearing down.
	StateStopping
	// StateCompleted indicates every chunk was played.
	StateCompleted
	// StateCancelled indicates the session was stopped or superseded.
	StateCancelled
	// StateFailed indicates a transport, protocol or device error.
	StateFailed
)

// String returns the string representation of the state.
func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateBuffering:
		return "buffering"
	case StatePlaying:
		return "playing"
	case StatePaused:
		return "paused"
	case StateStopping:
		return "stopping"
	case StateCompleted:
		return "completed"
	case StateCancelled:
		return "cancelled"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// MarshalText lets states appear by name in JSON and YAML.
func (s State) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// IsTerminal returns true for Completed, Cancelled and Failed.
func (s State) IsTerminal() bool {
	return s == StateCompleted || s == StateCancelled || s == StateFailed
}

// IsActive returns true while the session holds the sink.
func (s State) IsActive() bool {
	return s == StateBuffering || s == StatePlaying || s == StatePaused
}

// StateMachine enforces the allowed playback transitions. It is not safe
// for concurrent use; the Controller guards it with its own mutex.
type StateMachine struct {
	current     State
	transitions map[State][]State
	onEnter     map[State]func()
	onExit      map[State]func()
}

// NewStateMachine creates a new state machine with valid transitions.
func NewStateMachine() *StateMachine {
	return &StateMachine{
		current: StateIdle,
		transitions: map[State][]State{
			StateIdle:      {StateBuffering, StateStopping},
			StateBuffering: {StatePlaying, StateStopping},
			StatePlaying:   {StatePaused, StateStopping},
			StatePaused:    {StatePlaying, StateStopping},
			StateStopping:  {StateCompleted, StateCancelled, StateFailed},
		},
		onEnter: make(map[State]func()),
		onExit:  make(map[State]func()),
	}
}

// CanTransition reports whether to is reachable from the current state.
func (sm *StateMachine) CanTransition(to State) bool {
	for _, state := range sm.transitions[sm.current] {
		if state == to {
			return true
		}
	}
	return false
}

// Transition attempts to transition to the specified state.
func (sm *StateMachine) Transition(to State) bool {
	if !sm.CanTransition(to) {
		return false
	}

	// Execute exit callback for current state
	if exitFn, ok := sm.onExit[sm.current]; ok && exitFn != nil {
		exitFn()
	}

	sm.current = to

	// Execute enter callback for new state
	if enterFn, ok := sm.onEnter[to]; ok && enterFn != nil {
		enterFn()
	}

	return true
}

// Current returns the current state.
func (sm *StateMachine) Current() State {
	return sm.current
}

// OnEnter registers a callback for entering a state.
func (sm *StateMachine) OnEnter(state State, fn func()) {
	sm.onEnter[state] = fn
}

// OnExit registers a callback for exiting a state.
func (sm *StateMachine) OnExit(state State, fn func()) {
	sm.onExit[state] = fn
}
