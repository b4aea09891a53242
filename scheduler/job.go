package scheduler

import (
	"context"
	"math/big"
	"time"

	"anima/native/access"
)

// JobStatus tracks a job through its lifecycle. Once terminal a job is
// immutable apart from the stored executor result.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Terminal reports whether the status is an end state.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// ExecutionResult is what the production executor returns for a finished
// job. QualityScore is in [0,1].
type ExecutionResult struct {
	QualityScore float64 `json:"qualityScore"`
	Detail       string  `json:"detail,omitempty"`
}

// Executor is the opaque production backend. It is invoked once per
// dequeued job and treated as synchronous-but-external; the core imposes no
// timeout of its own.
type Executor interface {
	Execute(ctx context.Context, req access.Request) (ExecutionResult, error)
}

// Job is a scheduled production. PriorityScore is captured at submission
// time and never recomputed, so later stake changes do not reorder the
// queue.
type Job struct {
	ID            uint64           `json:"id"`
	Owner         string           `json:"owner"`
	Request       access.Request   `json:"request"`
	PriorityScore float64          `json:"priorityScore"`
	Sequence      uint64           `json:"sequence"`
	Cost          *big.Int         `json:"cost"`
	Status        JobStatus        `json:"status"`
	SubmittedAt   time.Time        `json:"submittedAt"`
	StartedAt     time.Time        `json:"startedAt,omitempty"`
	CompletedAt   time.Time        `json:"completedAt,omitempty"`
	Result        *ExecutionResult `json:"result,omitempty"`
	FailureReason string           `json:"failureReason,omitempty"`
}

func (j *Job) clone() *Job {
	out := *j
	if j.Cost != nil {
		out.Cost = new(big.Int).Set(j.Cost)
	}
	if j.Result != nil {
		result := *j.Result
		out.Result = &result
	}
	return &out
}

// QueueStats summarises scheduler occupancy.
type QueueStats struct {
	Queued     int `json:"queued"`
	Processing int `json:"processing"`
	Completed  int `json:"completed"`
	Failed     int `json:"failed"`
	Total      int `json:"total"`
}
