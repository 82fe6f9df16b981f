package runner

// State is the lifecycle state of a Controller
type State string

const (
	StateIdle     State = "idle"
	StateStarting State = "starting"
	// StateRunning means the run has been dispatched and no pre-run event has arrived yet
	StateRunning State = "running"
	// StateDraining means records were built from pre-run and results are streaming in
	StateDraining State = "draining"

	StateFinished     State = "finished"
	StateNoTestsFound State = "no_tests_found"
	StateUnavailable  State = "unavailable"
	StateInterrupted  State = "interrupted"
)

// Terminal reports whether no further events will change the run
func (s State) Terminal() bool {
	switch s {
	case StateFinished, StateNoTestsFound, StateUnavailable, StateInterrupted:
		return true
	default:
		return false
	}
}

// StatusText returns the human readable status line of a run in this state
func (s State) StatusText(coverage bool) string {
	switch s {
	case StateStarting, StateRunning, StateDraining:
		if coverage {
			return StatusRunningWithCoverage
		}
		return StatusRunning
	case StateFinished:
		return StatusFinished
	case StateNoTestsFound:
		return StatusNoTestsFound
	case StateUnavailable:
		return StatusUnavailable
	case StateInterrupted:
		return StatusInterrupted
	default:
		return ""
	}
}
