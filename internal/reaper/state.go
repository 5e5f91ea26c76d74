package reaper

// State tracks a session through its lifecycle. Transitions only move
// forward: Starting -> Ready -> Terminating -> Exited, with the short
// Starting -> Exited path when a setup-time race is detected.
type State int32

const (
	StateStarting State = iota
	StateReady
	StateTerminating
	StateExited
)

func (s State) String() string {
	switch s {
	case StateStarting:
		return "starting"
	case StateReady:
		return "ready"
	case StateTerminating:
		return "terminating"
	case StateExited:
		return "exited"
	default:
		return "unknown"
	}
}
