package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	repository "github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const webhookJobColumns = `
	id,
	kind,
	subject_id,
	account_id,
	tenant_id,
	extra_fields,
	payload,
	idempotency_key,
	target_url,
	status,
	attempt,
	max_attempts,
	next_attempt_at,
	last_status_code,
	last_reason,
	last_error,
	last_response_body,
	last_duration_ms,
	last_attempt_at,
	claimed_by,
	claim_expires_at,
	created_at,
	updated_at`

// WebhookJobStore persists webhook jobs and their attempt history. Claims
// flip pending rows to in_flight in a single statement so concurrent
// dispatchers never receive the same job. Each claim records its owner and
// lease so releases only touch rows the caller owns or that nobody renewed.
type WebhookJobStore struct {
	db           *bun.DB
	repo         repository.Repository[*webhookJobRecord]
	attemptsRepo repository.Repository[*webhookAttemptRecord]
	now          func() time.Time
}

func NewWebhookJobStore(db *bun.DB) (*WebhookJobStore, error) {
	if db == nil {
		return nil, fmt.Errorf("sqlstore: bun db is required")
	}
	repo := repository.NewRepository[*webhookJobRecord](db, webhookJobHandlers())
	if validator, ok := repo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook job repository wiring: %w", err)
		}
	}
	attemptsRepo := repository.NewRepository[*webhookAttemptRecord](db, webhookAttemptHandlers())
	if validator, ok := attemptsRepo.(repository.Validator); ok {
		if err := validator.Validate(); err != nil {
			return nil, fmt.Errorf("sqlstore: invalid webhook attempt repository wiring: %w", err)
		}
	}
	return &WebhookJobStore{
		db:           db,
		repo:         repo,
		attemptsRepo: attemptsRepo,
		now: func() time.Time {
			return time.Now().UTC()
		},
	}, nil
}

func (s *WebhookJobStore) Durable() bool {
	return true
}

func (s *WebhookJobStore) Insert(ctx context.Context, job core.WebhookJob) error {
	if s == nil || s.repo == nil {
		return fmt.Errorf("sqlstore: webhook job store is not configured")
	}
	if job.ID == uuid.Nil {
		return fmt.Errorf("sqlstore: webhook job id is required")
	}
	if job.Status != core.JobStatusPending {
		return fmt.Errorf("sqlstore: new webhook job must be pending, got %q", job.Status)
	}
	if strings.TrimSpace(job.TargetURL) == "" {
		return fmt.Errorf("sqlstore: webhook job target url is required")
	}
	record := webhookJobToRecord(job)
	now := s.now()
	if record.CreatedAt.IsZero() {
		record.CreatedAt = now
	}
	if record.UpdatedAt.IsZero() {
		record.UpdatedAt = now
	}
	if record.NextAttemptAt.IsZero() {
		record.NextAttemptAt = record.CreatedAt
	}
	_, err := s.repo.Create(ctx, record)
	return err
}

func (s *WebhookJobStore) ClaimDue(ctx context.Context, req core.ClaimRequest) ([]core.WebhookJob, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: webhook job store is not configured")
	}
	if req.Limit <= 0 {
		return nil, nil
	}
	if strings.TrimSpace(req.Owner) == "" {
		return nil, fmt.Errorf("sqlstore: claim owner is required")
	}
	now := req.Now.UTC()
	leaseUntil := req.LeaseUntil.UTC()
	if !leaseUntil.After(now) {
		return nil, fmt.Errorf("sqlstore: claim lease must end after %s", now.Format(time.RFC3339))
	}
	var records []webhookJobRecord
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		query := `
WITH claimed AS (
	SELECT id
	FROM billing_webhook_jobs
	WHERE status = ?
	  AND next_attempt_at <= ?
	ORDER BY next_attempt_at ASC, created_at ASC
	LIMIT ?
)
UPDATE billing_webhook_jobs
SET status = ?, claimed_by = ?, claim_expires_at = ?, updated_at = ?
WHERE id IN (SELECT id FROM claimed)
  AND status = ?
RETURNING` + webhookJobColumns + `
`
		return tx.NewRaw(
			query,
			string(core.JobStatusPending),
			now,
			req.Limit,
			string(core.JobStatusInFlight),
			req.Owner,
			leaseUntil,
			now,
			string(core.JobStatusPending),
		).Scan(ctx, &records)
	})
	if err != nil {
		return nil, err
	}

	jobs := make([]core.WebhookJob, 0, len(records))
	for i := range records {
		jobs = append(jobs, webhookJobToDomain(&records[i]))
	}
	return jobs, nil
}

func (s *WebhookJobStore) MarkDelivered(ctx context.Context, id uuid.UUID, outcome core.DeliveryOutcome) error {
	return s.finish(ctx, id, core.JobStatusDelivered, time.Time{}, outcome)
}

func (s *WebhookJobStore) MarkRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, outcome core.DeliveryOutcome) error {
	if nextAttemptAt.IsZero() {
		return fmt.Errorf("sqlstore: next attempt time is required")
	}
	return s.finish(ctx, id, core.JobStatusPending, nextAttemptAt, outcome)
}

func (s *WebhookJobStore) MarkFailed(ctx context.Context, id uuid.UUID, outcome core.DeliveryOutcome) error {
	return s.finish(ctx, id, core.JobStatusFailed, time.Time{}, outcome)
}

// finish moves an in-flight job to next and appends outcome to its history.
// Rows that are no longer in flight, or already hold a later attempt, are
// left untouched and reported as an invalid transition.
func (s *WebhookJobStore) finish(
	ctx context.Context,
	id uuid.UUID,
	next core.JobStatus,
	nextAttemptAt time.Time,
	outcome core.DeliveryOutcome,
) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("sqlstore: webhook job store is not configured")
	}
	if id == uuid.Nil {
		return fmt.Errorf("sqlstore: webhook job id is required")
	}
	now := s.now()
	occurredAt := outcome.OccurredAt.UTC()
	if occurredAt.IsZero() {
		occurredAt = now
	}

	return s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		update := tx.NewUpdate().
			Model((*webhookJobRecord)(nil)).
			Set("status = ?", string(next)).
			Set("attempt = ?", outcome.Attempt).
			Set("last_status_code = ?", outcome.StatusCode).
			Set("last_reason = ?", string(outcome.Reason)).
			Set("last_error = ?", outcome.Error).
			Set("last_response_body = ?", outcome.ResponseBody).
			Set("last_duration_ms = ?", outcome.Duration.Milliseconds()).
			Set("last_attempt_at = ?", occurredAt).
			Set("claimed_by = ?", "").
			Set("claim_expires_at = NULL").
			Set("updated_at = ?", now)
		if next == core.JobStatusPending {
			update = update.Set("next_attempt_at = ?", nextAttemptAt.UTC())
		}
		res, err := update.
			Where("id = ?", id.String()).
			Where("status = ?", string(core.JobStatusInFlight)).
			Where("attempt <= ?", outcome.Attempt).
			Exec(ctx)
		if err != nil {
			return err
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return err
		}
		if affected == 0 {
			exists, err := tx.NewSelect().
				Model((*webhookJobRecord)(nil)).
				Where("id = ?", id.String()).
				Exists(ctx)
			if err != nil {
				return err
			}
			if !exists {
				return core.ErrJobNotFound
			}
			return fmt.Errorf("%w: job %s is not in flight at attempt %d", core.ErrInvalidJobTransition, id, outcome.Attempt)
		}

		attempt := &webhookAttemptRecord{
			ID:           uuid.NewString(),
			JobID:        id.String(),
			Attempt:      outcome.Attempt,
			StatusCode:   outcome.StatusCode,
			Reason:       string(outcome.Reason),
			Error:        outcome.Error,
			ResponseBody: outcome.ResponseBody,
			DurationMS:   outcome.Duration.Milliseconds(),
			OccurredAt:   occurredAt,
		}
		_, err = tx.NewInsert().Model(attempt).Exec(ctx)
		return err
	})
}

func (s *WebhookJobStore) Get(ctx context.Context, id uuid.UUID) (core.WebhookJob, error) {
	if s == nil || s.db == nil {
		return core.WebhookJob{}, fmt.Errorf("sqlstore: webhook job store is not configured")
	}
	record := &webhookJobRecord{}
	err := s.db.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return core.WebhookJob{}, core.ErrJobNotFound
		}
		return core.WebhookJob{}, err
	}
	return webhookJobToDomain(record), nil
}

func (s *WebhookJobStore) ListAttempts(ctx context.Context, id uuid.UUID) ([]core.DeliveryOutcome, error) {
	if s == nil || s.attemptsRepo == nil {
		return nil, fmt.Errorf("sqlstore: webhook job store is not configured")
	}
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	records, _, err := s.attemptsRepo.List(ctx,
		repository.SelectBy("job_id", "=", id.String()),
		repository.OrderBy("attempt ASC"),
	)
	if err != nil {
		return nil, err
	}
	outcomes := make([]core.DeliveryOutcome, 0, len(records))
	for _, record := range records {
		outcomes = append(outcomes, webhookAttemptToDomain(record))
	}
	return outcomes, nil
}

func (s *WebhookJobStore) ReleaseClaims(ctx context.Context, owner string) ([]uuid.UUID, error) {
	if strings.TrimSpace(owner) == "" {
		return nil, fmt.Errorf("sqlstore: claim owner is required")
	}
	return s.release(ctx, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.Where("claimed_by = ?", owner)
	})
}

func (s *WebhookJobStore) ReleaseExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	return s.release(ctx, func(q *bun.UpdateQuery) *bun.UpdateQuery {
		return q.WhereGroup(" AND ", func(q *bun.UpdateQuery) *bun.UpdateQuery {
			return q.Where("claim_expires_at IS NULL").WhereOr("claim_expires_at <= ?", now.UTC())
		})
	})
}

// release returns matching in-flight rows to pending and reports their ids.
func (s *WebhookJobStore) release(ctx context.Context, scope func(*bun.UpdateQuery) *bun.UpdateQuery) ([]uuid.UUID, error) {
	if s == nil || s.db == nil {
		return nil, fmt.Errorf("sqlstore: webhook job store is not configured")
	}
	var ids []string
	err := s.db.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		update := tx.NewUpdate().
			Model((*webhookJobRecord)(nil)).
			Set("status = ?", string(core.JobStatusPending)).
			Set("claimed_by = ?", "").
			Set("claim_expires_at = NULL").
			Set("updated_at = ?", s.now()).
			Where("status = ?", string(core.JobStatusInFlight))
		return scope(update).
			Returning("id").
			Scan(ctx, &ids)
	})
	if err != nil {
		return nil, err
	}
	released := make([]uuid.UUID, 0, len(ids))
	for _, id := range ids {
		released = append(released, parseUUID(id))
	}
	return released, nil
}

func (s *WebhookJobStore) CountByStatus(ctx context.Context, status core.JobStatus) (int, error) {
	if s == nil || s.db == nil {
		return 0, fmt.Errorf("sqlstore: webhook job store is not configured")
	}
	return s.db.NewSelect().
		Model((*webhookJobRecord)(nil)).
		Where("status = ?", string(status)).
		Count(ctx)
}

func webhookJobToRecord(job core.WebhookJob) *webhookJobRecord {
	record := &webhookJobRecord{
		ID:             job.ID.String(),
		Kind:           string(job.Intent.Kind),
		SubjectID:      job.Intent.SubjectID.String(),
		AccountID:      job.Intent.AccountID.String(),
		TenantID:       job.Intent.TenantID.String(),
		ExtraFields:    copyAnyMap(job.Intent.ExtraFields),
		Payload:        string(job.Payload),
		IdempotencyKey: job.IdempotencyKey,
		TargetURL:      strings.TrimSpace(job.TargetURL),
		Status:         string(job.Status),
		Attempt:        job.Attempt,
		MaxAttempts:    job.MaxAttempts,
		NextAttemptAt:  job.NextAttemptAt.UTC(),
		CreatedAt:      job.CreatedAt.UTC(),
		UpdatedAt:      job.UpdatedAt.UTC(),
	}
	if job.LastOutcome != nil {
		record.LastStatusCode = job.LastOutcome.StatusCode
		record.LastReason = string(job.LastOutcome.Reason)
		record.LastError = job.LastOutcome.Error
		record.LastResponseBody = job.LastOutcome.ResponseBody
		record.LastDurationMS = job.LastOutcome.Duration.Milliseconds()
		at := job.LastOutcome.OccurredAt.UTC()
		record.LastAttemptAt = &at
	}
	if job.ClaimedBy != "" {
		record.ClaimedBy = job.ClaimedBy
		expires := job.ClaimExpiresAt.UTC()
		record.ClaimExpiresAt = &expires
	}
	return record
}

func webhookJobToDomain(record *webhookJobRecord) core.WebhookJob {
	job := core.WebhookJob{
		ID: parseUUID(record.ID),
		Intent: core.NotificationIntent{
			Kind:      core.IntentKind(record.Kind),
			SubjectID: parseUUID(record.SubjectID),
			AccountID: parseUUID(record.AccountID),
			TenantID:  parseUUID(record.TenantID),
		},
		Payload:        []byte(record.Payload),
		IdempotencyKey: record.IdempotencyKey,
		TargetURL:      record.TargetURL,
		Status:         core.JobStatus(record.Status),
		Attempt:        record.Attempt,
		MaxAttempts:    record.MaxAttempts,
		NextAttemptAt:  record.NextAttemptAt.UTC(),
		ClaimedBy:      record.ClaimedBy,
		CreatedAt:      record.CreatedAt.UTC(),
		UpdatedAt:      record.UpdatedAt.UTC(),
	}
	if record.ClaimExpiresAt != nil {
		job.ClaimExpiresAt = record.ClaimExpiresAt.UTC()
	}
	if len(record.ExtraFields) > 0 {
		job.Intent.ExtraFields = copyAnyMap(record.ExtraFields)
	}
	if record.LastAttemptAt != nil {
		job.LastOutcome = &core.DeliveryOutcome{
			Attempt:      record.Attempt,
			StatusCode:   record.LastStatusCode,
			ResponseBody: record.LastResponseBody,
			Error:        record.LastError,
			Reason:       core.OutcomeReason(record.LastReason),
			Duration:     time.Duration(record.LastDurationMS) * time.Millisecond,
			OccurredAt:   record.LastAttemptAt.UTC(),
		}
	}
	return job
}

func webhookAttemptToDomain(record *webhookAttemptRecord) core.DeliveryOutcome {
	return core.DeliveryOutcome{
		Attempt:      record.Attempt,
		StatusCode:   record.StatusCode,
		ResponseBody: record.ResponseBody,
		Error:        record.Error,
		Reason:       core.OutcomeReason(record.Reason),
		Duration:     time.Duration(record.DurationMS) * time.Millisecond,
		OccurredAt:   record.OccurredAt.UTC(),
	}
}

func copyAnyMap(in map[string]any) map[string]any {
	if len(in) == 0 {
		return map[string]any{}
	}
	out := make(map[string]any, len(in))
	for key, value := range in {
		out[key] = value
	}
	return out
}
