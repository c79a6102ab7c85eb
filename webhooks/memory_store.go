package webhooks

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	"github.com/google/uuid"
)

// MemoryJobStore is a process-local JobStore. Pending jobs are lost when
// the process exits.
type MemoryJobStore struct {
	mu       sync.Mutex
	jobs     map[uuid.UUID]*core.WebhookJob
	attempts map[uuid.UUID][]core.DeliveryOutcome
	now      func() time.Time
}

func NewMemoryJobStore() *MemoryJobStore {
	return &MemoryJobStore{
		jobs:     map[uuid.UUID]*core.WebhookJob{},
		attempts: map[uuid.UUID][]core.DeliveryOutcome{},
		now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryJobStore) Durable() bool {
	return false
}

func (s *MemoryJobStore) Insert(_ context.Context, job core.WebhookJob) error {
	if job.ID == uuid.Nil {
		return fmt.Errorf("webhooks: job id is required")
	}
	if job.Status != core.JobStatusPending {
		return fmt.Errorf("webhooks: new job must be pending, got %q", job.Status)
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, exists := s.jobs[job.ID]; exists {
		return fmt.Errorf("webhooks: job %s already exists", job.ID)
	}
	stored := cloneJob(job)
	s.jobs[job.ID] = &stored
	return nil
}

func (s *MemoryJobStore) ClaimDue(_ context.Context, req core.ClaimRequest) ([]core.WebhookJob, error) {
	if req.Limit <= 0 {
		return nil, nil
	}
	if strings.TrimSpace(req.Owner) == "" {
		return nil, fmt.Errorf("webhooks: claim owner is required")
	}
	if !req.LeaseUntil.After(req.Now) {
		return nil, fmt.Errorf("webhooks: claim lease must end after %s", req.Now.Format(time.RFC3339))
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	due := make([]*core.WebhookJob, 0)
	for _, job := range s.jobs {
		if job.Status == core.JobStatusPending && !job.NextAttemptAt.After(req.Now) {
			due = append(due, job)
		}
	}
	sort.Slice(due, func(i, j int) bool {
		if due[i].NextAttemptAt.Equal(due[j].NextAttemptAt) {
			return due[i].CreatedAt.Before(due[j].CreatedAt)
		}
		return due[i].NextAttemptAt.Before(due[j].NextAttemptAt)
	})
	if len(due) > req.Limit {
		due = due[:req.Limit]
	}

	claimed := make([]core.WebhookJob, 0, len(due))
	for _, job := range due {
		job.Status = core.JobStatusInFlight
		job.ClaimedBy = req.Owner
		job.ClaimExpiresAt = req.LeaseUntil
		job.UpdatedAt = req.Now
		claimed = append(claimed, cloneJob(*job))
	}
	return claimed, nil
}

func (s *MemoryJobStore) MarkDelivered(_ context.Context, id uuid.UUID, outcome core.DeliveryOutcome) error {
	return s.finish(id, core.JobStatusDelivered, time.Time{}, outcome)
}

func (s *MemoryJobStore) MarkRetry(_ context.Context, id uuid.UUID, nextAttemptAt time.Time, outcome core.DeliveryOutcome) error {
	return s.finish(id, core.JobStatusPending, nextAttemptAt, outcome)
}

func (s *MemoryJobStore) MarkFailed(_ context.Context, id uuid.UUID, outcome core.DeliveryOutcome) error {
	return s.finish(id, core.JobStatusFailed, time.Time{}, outcome)
}

func (s *MemoryJobStore) finish(id uuid.UUID, next core.JobStatus, nextAttemptAt time.Time, outcome core.DeliveryOutcome) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return core.ErrJobNotFound
	}
	if !job.Status.CanTransitionTo(next) {
		return fmt.Errorf("%w: %s -> %s", core.ErrInvalidJobTransition, job.Status, next)
	}
	if outcome.Attempt < job.Attempt {
		return fmt.Errorf("%w: attempt %d is behind %d", core.ErrInvalidJobTransition, outcome.Attempt, job.Attempt)
	}
	job.Status = next
	job.Attempt = outcome.Attempt
	if next == core.JobStatusPending {
		job.NextAttemptAt = nextAttemptAt
	}
	job.ClaimedBy = ""
	job.ClaimExpiresAt = time.Time{}
	recorded := outcome
	job.LastOutcome = &recorded
	job.UpdatedAt = s.now()
	s.attempts[id] = append(s.attempts[id], outcome)
	return nil
}

func (s *MemoryJobStore) Get(_ context.Context, id uuid.UUID) (core.WebhookJob, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	job, ok := s.jobs[id]
	if !ok {
		return core.WebhookJob{}, core.ErrJobNotFound
	}
	return cloneJob(*job), nil
}

func (s *MemoryJobStore) ListAttempts(_ context.Context, id uuid.UUID) ([]core.DeliveryOutcome, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.jobs[id]; !ok {
		return nil, core.ErrJobNotFound
	}
	return append([]core.DeliveryOutcome(nil), s.attempts[id]...), nil
}

func (s *MemoryJobStore) ReleaseClaims(_ context.Context, owner string) ([]uuid.UUID, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("webhooks: claim owner is required")
	}
	return s.release(func(job *core.WebhookJob) bool {
		return job.ClaimedBy == owner
	}), nil
}

func (s *MemoryJobStore) ReleaseExpired(_ context.Context, now time.Time) ([]uuid.UUID, error) {
	return s.release(func(job *core.WebhookJob) bool {
		return !job.ClaimExpiresAt.After(now)
	}), nil
}

func (s *MemoryJobStore) release(match func(*core.WebhookJob) bool) []uuid.UUID {
	s.mu.Lock()
	defer s.mu.Unlock()
	released := make([]uuid.UUID, 0)
	for id, job := range s.jobs {
		if job.Status != core.JobStatusInFlight || !match(job) {
			continue
		}
		job.Status = core.JobStatusPending
		job.ClaimedBy = ""
		job.ClaimExpiresAt = time.Time{}
		job.UpdatedAt = s.now()
		released = append(released, id)
	}
	return released
}

func (s *MemoryJobStore) CountByStatus(_ context.Context, status core.JobStatus) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	count := 0
	for _, job := range s.jobs {
		if job.Status == status {
			count++
		}
	}
	return count, nil
}

func cloneJob(job core.WebhookJob) core.WebhookJob {
	out := job
	out.Payload = append([]byte(nil), job.Payload...)
	if job.LastOutcome != nil {
		outcome := *job.LastOutcome
		out.LastOutcome = &outcome
	}
	if job.Intent.ExtraFields != nil {
		out.Intent.ExtraFields = make(map[string]any, len(job.Intent.ExtraFields))
		for key, value := range job.Intent.ExtraFields {
			out.Intent.ExtraFields[key] = value
		}
	}
	return out
}

var (
	_ core.JobStore     = (*MemoryJobStore)(nil)
	_ core.DurableStore = (*MemoryJobStore)(nil)
)
