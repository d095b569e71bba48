package crawler

import "fmt"

// JobStatus is the lifecycle state of a job.
type JobStatus string

// Job lifecycle states.
const (
	JobStatusWaiting      JobStatus = "waiting"
	JobStatusRunning      JobStatus = "running"
	JobStatusFinished     JobStatus = "finished"
	JobStatusStopped      JobStatus = "stopped"
	JobStatusBeingRemoved JobStatus = "being removed"
)

var validTransitions = map[JobStatus][]JobStatus{
	JobStatusWaiting: {
		JobStatusRunning, // picked up by its platform worker
		JobStatusStopped, // stopped before it ran
	},
	JobStatusRunning: {
		JobStatusFinished,
	},
	JobStatusFinished: {
		JobStatusStopped, // relabeled after a stop request was honored
		JobStatusBeingRemoved,
	},
	JobStatusStopped: {
		JobStatusBeingRemoved,
	},
	JobStatusBeingRemoved: {},
}

// ValidateTransition returns an error unless from -> to is allowed.
func ValidateTransition(from, to JobStatus) error {
	allowed, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("unknown source status: %s", from)
	}
	for _, s := range allowed {
		if s == to {
			return nil
		}
	}
	return fmt.Errorf("invalid status transition from %s to %s", from, to)
}

// IsTerminal reports whether a job in this status will not run again.
func IsTerminal(s JobStatus) bool {
	return s == JobStatusFinished || s == JobStatusStopped || s == JobStatusBeingRemoved
}

// IsRemovable reports whether RemoveCrawl may discard a job in this status.
func IsRemovable(s JobStatus) bool {
	return s == JobStatusFinished || s == JobStatusStopped
}
