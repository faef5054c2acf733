package scheduler

import (
	"context"
	"encoding/json"
	"fmt"
)

// JobKind names the kind of reconciliation work a job carries.
type JobKind string

const (
	// JobResumeTopUp finishes the credit of an approved top-up request.
	JobResumeTopUp JobKind = "resume_topup"
	// JobCheckAccount runs a consistency check on an account balance.
	JobCheckAccount JobKind = "check_account"
)

// Job is one unit of reconciliation work.
type Job struct {
	Kind JobKind `json:"kind"`
	ID   string  `json:"id"`
}

// DecodeJob parses a queued message body.
func DecodeJob(body string) (Job, error) {
	var job Job
	if err := json.Unmarshal([]byte(body), &job); err != nil {
		return Job{}, fmt.Errorf("failed to unmarshal job: %w", err)
	}
	switch job.Kind {
	case JobResumeTopUp, JobCheckAccount:
	default:
		return Job{}, fmt.Errorf("unknown job kind %q", job.Kind)
	}
	if job.ID == "" {
		return Job{}, fmt.Errorf("job %s has no id", job.Kind)
	}
	return job, nil
}

// Scheduler defines the interface for a component that queues reconciliation work.
type Scheduler interface {
	// Schedule enqueues a job for asynchronous processing.
	Schedule(ctx context.Context, job Job) error
}

// Handler processes a job.
type Handler func(ctx context.Context, job Job) error

// Inline runs each job immediately in the caller's goroutine. Used by the
// single-process server, where there is no queue.
type Inline struct {
	Handle Handler
}

var _ Scheduler = (*Inline)(nil)

func (s *Inline) Schedule(ctx context.Context, job Job) error {
	return s.Handle(ctx, job)
}
