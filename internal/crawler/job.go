package crawler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// JobSpec holds the immutable part of a job.
type JobSpec struct {
	ID             string
	Platform       string
	Strategy       string
	Parameters     []string
	CampaignID     string
	ScheduledStart time.Time
	ScheduledEnd   time.Time
	CreatedAt      time.Time
}

// Job is one platform-bound unit of repeated page fetches. Its status, timing
// and statistics are written by the owning worker only; the stop flag may be
// set by anyone.
type Job struct {
	spec     JobSpec
	strategy Strategy

	stopRequested atomic.Bool

	mu            sync.RWMutex
	status        JobStatus
	actualStart   time.Time
	actualEnd     time.Time
	runningTime   time.Duration
	stats         Stats
	outputArchive string
	cancel        context.CancelCauseFunc
}

// NewJob builds a waiting job bound to its fetch strategy.
func NewJob(spec JobSpec, strategy Strategy) *Job {
	spec.Parameters = append([]string(nil), spec.Parameters...)
	return &Job{
		spec:     spec,
		strategy: strategy,
		status:   JobStatusWaiting,
	}
}

// ID returns the job id.
func (j *Job) ID() string { return j.spec.ID }

// Spec returns a copy of the immutable job description.
func (j *Job) Spec() JobSpec {
	spec := j.spec
	spec.Parameters = append([]string(nil), j.spec.Parameters...)
	return spec
}

// Strategy returns the fetch strategy bound at creation.
func (j *Job) Strategy() Strategy { return j.strategy }

// Status returns the current lifecycle status.
func (j *Job) Status() JobStatus {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.status
}

// Transition moves the job from one status to another atomically. It returns
// false when the job is not in the expected status or the move is invalid.
func (j *Job) Transition(from, to JobStatus) bool {
	if ValidateTransition(from, to) != nil {
		return false
	}
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != from {
		return false
	}
	j.status = to
	return true
}

// StopRequested reports whether a stop has been requested.
func (j *Job) StopRequested() bool {
	return j.stopRequested.Load()
}

// RequestStop sets the stop flag and cancels the run context if the job is
// currently running. It is safe to call from any goroutine, any number of times.
func (j *Job) RequestStop() {
	j.stopRequested.Store(true)
	j.mu.RLock()
	cancel := j.cancel
	j.mu.RUnlock()
	if cancel != nil {
		cancel(ErrStopRequested)
	}
}

// RunContext derives the context a worker passes to the fetch strategy. It is
// canceled with ErrStopRequested once RequestStop is called.
func (j *Job) RunContext(parent context.Context) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancelCause(parent)
	j.mu.Lock()
	j.cancel = cancel
	j.mu.Unlock()
	if j.stopRequested.Load() {
		cancel(ErrStopRequested)
	}
	return ctx, func() {
		j.mu.Lock()
		j.cancel = nil
		j.mu.Unlock()
		cancel(nil)
	}
}

// MarkRunning moves a waiting job to running and records its actual start.
func (j *Job) MarkRunning(now time.Time) bool {
	j.mu.Lock()
	defer j.mu.Unlock()
	if j.status != JobStatusWaiting {
		return false
	}
	j.status = JobStatusRunning
	j.actualStart = now
	return true
}

// MarkFinished records the end of a run and moves the job to finished.
func (j *Job) MarkFinished(now time.Time, outputArchive string) time.Duration {
	j.mu.Lock()
	defer j.mu.Unlock()
	j.actualEnd = now
	j.runningTime = now.Sub(j.actualStart)
	j.outputArchive = outputArchive
	if j.status == JobStatusRunning {
		j.status = JobStatusFinished
	}
	return j.runningTime
}

// AddStats accumulates per-page statistics.
func (j *Job) AddStats(delta Stats) {
	j.mu.Lock()
	j.stats = j.stats.Add(delta)
	j.mu.Unlock()
}

// Stats returns the cumulative statistics.
func (j *Job) Stats() Stats {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return j.stats
}

// JobSnapshot is a consistent, read-only copy of a job.
type JobSnapshot struct {
	ID                 string     `json:"id"`
	Platform           string     `json:"platform"`
	Strategy           string     `json:"strategy"`
	Parameters         []string   `json:"parameters"`
	CampaignID         string     `json:"campaign_id"`
	Status             JobStatus  `json:"status"`
	ScheduledStart     *time.Time `json:"scheduled_start,omitempty"`
	ScheduledEnd       *time.Time `json:"scheduled_end,omitempty"`
	ActualStart        *time.Time `json:"actual_start,omitempty"`
	ActualEnd          *time.Time `json:"actual_end,omitempty"`
	RunningTimeSeconds float64    `json:"running_time_seconds"`
	StopRequested      bool       `json:"stop_requested"`
	Statistics         Stats      `json:"statistics"`
	OutputArchive      string     `json:"output_archive,omitempty"`
	CreatedAt          time.Time  `json:"created_at"`
}

// Snapshot copies the job state under its lock.
func (j *Job) Snapshot() JobSnapshot {
	j.mu.RLock()
	defer j.mu.RUnlock()
	return JobSnapshot{
		ID:                 j.spec.ID,
		Platform:           j.spec.Platform,
		Strategy:           j.spec.Strategy,
		Parameters:         append([]string(nil), j.spec.Parameters...),
		CampaignID:         j.spec.CampaignID,
		Status:             j.status,
		ScheduledStart:     timePtr(j.spec.ScheduledStart),
		ScheduledEnd:       timePtr(j.spec.ScheduledEnd),
		ActualStart:        timePtr(j.actualStart),
		ActualEnd:          timePtr(j.actualEnd),
		RunningTimeSeconds: j.runningTime.Seconds(),
		StopRequested:      j.stopRequested.Load(),
		Statistics:         j.stats,
		OutputArchive:      j.outputArchive,
		CreatedAt:          j.spec.CreatedAt,
	}
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
