package strata

// Status represents the lifecycle position of a Runtime.
type Status int32

const (
	// StatusIdle indicates the Runtime has not been started.
	StatusIdle Status = iota

	// StatusRunning indicates the feedback loop is wired and reducers are applied.
	StatusRunning

	// StatusFailed indicates a reducer failed. The state channel has
	// terminated with the error and no further reducers are applied.
	StatusFailed

	// StatusStopped indicates Stop was called.
	StatusStopped
)

// String returns the string representation of the status.
func (s Status) String() string {
	switch s {
	case StatusIdle:
		return "idle"
	case StatusRunning:
		return "running"
	case StatusFailed:
		return "failed"
	case StatusStopped:
		return "stopped"
	default:
		return "unknown"
	}
}
