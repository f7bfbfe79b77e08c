package queue

import "time"

// JobState tracks the dispatcher's view of one job.
type JobState string

const (
	JobStateWaiting   JobState = "waiting"
	JobStateActive    JobState = "active"
	JobStateCompleted JobState = "completed"
	// JobStateFailed means retries are exhausted. It is the dispatcher's
	// own terminal marker, distinct from the order's failed status.
	JobStateFailed JobState = "failed"
)

// Terminal reports whether the job will never run again.
func (s JobState) Terminal() bool {
	return s == JobStateCompleted || s == JobStateFailed
}

// Job wraps an order id for dispatch. Its ID equals the order id,
// which is what enforces at-most-one live job per order.
type Job struct {
	ID        string
	State     JobState
	Attempts  int
	NextRunAt time.Time
	LastError string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Handle refers to a queued job. Two Enqueue calls for the same order
// id return handles naming the same underlying job.
type Handle struct {
	ID string
	q  *Queue
}

// Job returns a snapshot of the underlying job record.
func (h *Handle) Job() (Job, bool) {
	return h.q.Job(h.ID)
}
