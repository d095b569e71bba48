package crawler

import "errors"

// Scheduling errors are returned to callers of the Manager.
var (
	ErrNotFound       = errors.New("not found")
	ErrInvalidRequest = errors.New("invalid request")
	ErrStopTimeout    = errors.New("stop timed out")
	ErrNotRemovable   = errors.New("job is not stopped or finished")
)

// Pipeline errors are logged and counted but never surfaced to callers.
var (
	ErrItemRejected    = errors.New("content item rejected")
	ErrSinkUnavailable = errors.New("sink unavailable")
	ErrFetchFailed     = errors.New("fetch failed")
)

// ErrStopRequested is the cancellation cause attached to a job's run context.
var ErrStopRequested = errors.New("stop requested")

// StopOutcome distinguishes a stop that took effect from a no-op on a job that
// had already reached a terminal state.
type StopOutcome int

const (
	// StopOutcomeStopped means the job is now stopped.
	StopOutcomeStopped StopOutcome = iota + 1
	// StopOutcomeAlreadyStopped means the job was already stopped or finished.
	StopOutcomeAlreadyStopped
)

func (o StopOutcome) String() string {
	switch o {
	case StopOutcomeStopped:
		return "stopped"
	case StopOutcomeAlreadyStopped:
		return "already stopped"
	default:
		return "unknown"
	}
}
