package sqlstore

import (
	"time"

	"github.com/uptrace/bun"
)

type webhookJobRecord struct {
	bun.BaseModel `bun:"table:billing_webhook_jobs,alias:bwj"`

	ID               string         `bun:"id,pk"`
	Kind             string         `bun:"kind,notnull"`
	SubjectID        string         `bun:"subject_id,notnull"`
	AccountID        string         `bun:"account_id,notnull"`
	TenantID         string         `bun:"tenant_id,notnull"`
	ExtraFields      map[string]any `bun:"extra_fields,type:jsonb,notnull"`
	Payload          string         `bun:"payload,notnull"`
	IdempotencyKey   string         `bun:"idempotency_key,notnull"`
	TargetURL        string         `bun:"target_url,notnull"`
	Status           string         `bun:"status,notnull"`
	Attempt          int            `bun:"attempt,notnull"`
	MaxAttempts      int            `bun:"max_attempts,notnull"`
	NextAttemptAt    time.Time      `bun:"next_attempt_at,notnull"`
	LastStatusCode   int            `bun:"last_status_code,notnull"`
	LastReason       string         `bun:"last_reason,notnull"`
	LastError        string         `bun:"last_error,notnull"`
	LastResponseBody string         `bun:"last_response_body,notnull"`
	LastDurationMS   int64          `bun:"last_duration_ms,notnull"`
	LastAttemptAt    *time.Time     `bun:"last_attempt_at,nullzero"`
	ClaimedBy        string         `bun:"claimed_by,notnull"`
	ClaimExpiresAt   *time.Time     `bun:"claim_expires_at,nullzero"`
	CreatedAt        time.Time      `bun:"created_at,nullzero,notnull,default:current_timestamp"`
	UpdatedAt        time.Time      `bun:"updated_at,nullzero,notnull,default:current_timestamp"`
}

type webhookAttemptRecord struct {
	bun.BaseModel `bun:"table:billing_webhook_attempts,alias:bwa"`

	ID           string    `bun:"id,pk"`
	JobID        string    `bun:"job_id,notnull"`
	Attempt      int       `bun:"attempt,notnull"`
	StatusCode   int       `bun:"status_code,notnull"`
	Reason       string    `bun:"reason,notnull"`
	Error        string    `bun:"error,notnull"`
	ResponseBody string    `bun:"response_body,notnull"`
	DurationMS   int64     `bun:"duration_ms,notnull"`
	OccurredAt   time.Time `bun:"occurred_at,notnull"`
}
