package query

import "github.com/google/uuid"

const (
	TypeGetJobStatus    = "billing_hooks.query.webhook_job.status"
	TypeListJobAttempts = "billing_hooks.query.webhook_job.attempts"
)

type GetJobStatusMessage struct {
	JobID uuid.UUID
}

func (GetJobStatusMessage) Type() string { return TypeGetJobStatus }

func (m GetJobStatusMessage) Validate() error {
	if m.JobID == uuid.Nil {
		return queryValidationError("jobId", "job id is required")
	}
	return nil
}

type ListJobAttemptsMessage struct {
	JobID uuid.UUID
}

func (ListJobAttemptsMessage) Type() string { return TypeListJobAttempts }

func (m ListJobAttemptsMessage) Validate() error {
	if m.JobID == uuid.Nil {
		return queryValidationError("jobId", "job id is required")
	}
	return nil
}
