package query

import (
	"context"

	"github.com/goliatone/go-billing-hooks/core"
	"github.com/google/uuid"
)

type JobReader interface {
	Status(ctx context.Context, jobID uuid.UUID) (core.JobStatusView, error)
	Attempts(ctx context.Context, jobID uuid.UUID) ([]core.DeliveryOutcome, error)
}

type GetJobStatusQuery struct {
	reader JobReader
}

func NewGetJobStatusQuery(reader JobReader) *GetJobStatusQuery {
	return &GetJobStatusQuery{reader: reader}
}

func (q *GetJobStatusQuery) Query(ctx context.Context, msg GetJobStatusMessage) (core.JobStatusView, error) {
	if q == nil || q.reader == nil {
		return core.JobStatusView{}, queryDependencyError("query: webhook job reader is required")
	}
	return q.reader.Status(ctx, msg.JobID)
}

type ListJobAttemptsQuery struct {
	reader JobReader
}

func NewListJobAttemptsQuery(reader JobReader) *ListJobAttemptsQuery {
	return &ListJobAttemptsQuery{reader: reader}
}

// Query returns the attempt history oldest first. A job that has not been
// attempted yet yields an empty, non-nil slice.
func (q *ListJobAttemptsQuery) Query(ctx context.Context, msg ListJobAttemptsMessage) ([]core.DeliveryOutcome, error) {
	if q == nil || q.reader == nil {
		return nil, queryDependencyError("query: webhook job reader is required")
	}
	attempts, err := q.reader.Attempts(ctx, msg.JobID)
	if err != nil {
		return nil, err
	}
	if attempts == nil {
		attempts = []core.DeliveryOutcome{}
	}
	return attempts, nil
}
