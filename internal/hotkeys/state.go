package hotkeys

// State is the lifecycle state of a Manager's event loop.
type State int

const (
	StateIdle State = iota
	StateInitializing
	StateListening
	StateDraining
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "idle"
	case StateInitializing:
		return "initializing"
	case StateListening:
		return "listening"
	case StateDraining:
		return "draining"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
