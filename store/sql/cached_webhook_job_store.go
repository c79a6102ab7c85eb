package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	repositorycache "github.com/goliatone/go-repository-cache/cache"
	"github.com/google/uuid"
)

const webhookJobCacheKeyPrefix = "go-billing-hooks::webhook_job::v1"

// CachedWebhookJobStore serves job status reads from a cache and evicts the
// entry whenever this process changes the job, releases included.
type CachedWebhookJobStore struct {
	base  core.JobStore
	cache repositorycache.CacheService
}

func NewCachedWebhookJobStore(base core.JobStore, cacheService repositorycache.CacheService) (*CachedWebhookJobStore, error) {
	if base == nil {
		return nil, fmt.Errorf("sqlstore: base webhook job store is required")
	}
	if cacheService == nil {
		return nil, fmt.Errorf("sqlstore: webhook job cache service is required")
	}
	return &CachedWebhookJobStore{base: base, cache: cacheService}, nil
}

// WebhookJobCacheKey returns go-billing-hooks::webhook_job::v1::<job id>.
func WebhookJobCacheKey(id uuid.UUID) string {
	return webhookJobCacheKeyPrefix + "::" + id.String()
}

func (s *CachedWebhookJobStore) Durable() bool {
	durable, ok := s.base.(core.DurableStore)
	return ok && durable.Durable()
}

func (s *CachedWebhookJobStore) Insert(ctx context.Context, job core.WebhookJob) error {
	return s.base.Insert(ctx, job)
}

func (s *CachedWebhookJobStore) ClaimDue(ctx context.Context, req core.ClaimRequest) ([]core.WebhookJob, error) {
	jobs, err := s.base.ClaimDue(ctx, req)
	if err != nil {
		return jobs, err
	}
	for _, job := range jobs {
		if err := s.evict(ctx, job.ID); err != nil {
			return jobs, err
		}
	}
	return jobs, nil
}

func (s *CachedWebhookJobStore) MarkDelivered(ctx context.Context, id uuid.UUID, outcome core.DeliveryOutcome) error {
	if err := s.base.MarkDelivered(ctx, id, outcome); err != nil {
		return err
	}
	return s.evict(ctx, id)
}

func (s *CachedWebhookJobStore) MarkRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, outcome core.DeliveryOutcome) error {
	if err := s.base.MarkRetry(ctx, id, nextAttemptAt, outcome); err != nil {
		return err
	}
	return s.evict(ctx, id)
}

func (s *CachedWebhookJobStore) MarkFailed(ctx context.Context, id uuid.UUID, outcome core.DeliveryOutcome) error {
	if err := s.base.MarkFailed(ctx, id, outcome); err != nil {
		return err
	}
	return s.evict(ctx, id)
}

func (s *CachedWebhookJobStore) Get(ctx context.Context, id uuid.UUID) (core.WebhookJob, error) {
	if s == nil || s.base == nil || s.cache == nil {
		return core.WebhookJob{}, fmt.Errorf("sqlstore: cached webhook job store is not configured")
	}
	job, err := repositorycache.GetOrFetch(ctx, s.cache, WebhookJobCacheKey(id), func(ctx context.Context) (core.WebhookJob, error) {
		return s.base.Get(ctx, id)
	})
	if err != nil {
		return core.WebhookJob{}, err
	}
	return cloneWebhookJob(job), nil
}

func (s *CachedWebhookJobStore) ListAttempts(ctx context.Context, id uuid.UUID) ([]core.DeliveryOutcome, error) {
	return s.base.ListAttempts(ctx, id)
}

func (s *CachedWebhookJobStore) ReleaseClaims(ctx context.Context, owner string) ([]uuid.UUID, error) {
	released, err := s.base.ReleaseClaims(ctx, owner)
	if err != nil {
		return released, err
	}
	return released, s.evictAll(ctx, released)
}

func (s *CachedWebhookJobStore) ReleaseExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error) {
	released, err := s.base.ReleaseExpired(ctx, now)
	if err != nil {
		return released, err
	}
	return released, s.evictAll(ctx, released)
}

func (s *CachedWebhookJobStore) CountByStatus(ctx context.Context, status core.JobStatus) (int, error) {
	return s.base.CountByStatus(ctx, status)
}

func (s *CachedWebhookJobStore) evict(ctx context.Context, id uuid.UUID) error {
	return s.cache.Delete(ctx, WebhookJobCacheKey(id))
}

func (s *CachedWebhookJobStore) evictAll(ctx context.Context, ids []uuid.UUID) error {
	for _, id := range ids {
		if err := s.evict(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

func cloneWebhookJob(job core.WebhookJob) core.WebhookJob {
	cloned := job
	cloned.Payload = append([]byte(nil), job.Payload...)
	if job.Intent.ExtraFields != nil {
		cloned.Intent.ExtraFields = copyAnyMap(job.Intent.ExtraFields)
	}
	if job.LastOutcome != nil {
		outcome := *job.LastOutcome
		cloned.LastOutcome = &outcome
	}
	return cloned
}
