package core

import (
	"context"
	"net/http"
	"time"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

type Logger = glog.Logger

type LoggerProvider = glog.LoggerProvider

type FieldsLogger = glog.FieldsLogger

type MetricsRecorder interface {
	IncCounter(ctx context.Context, name string, value int64, tags map[string]string)
	ObserveHistogram(ctx context.Context, name string, value float64, tags map[string]string)
}

// AccountAPI is the billing platform's account lookup. Implementations
// return ErrAccountNotFound (possibly wrapped) for unknown accounts.
type AccountAPI interface {
	GetAccountByID(ctx context.Context, accountID uuid.UUID, tenant TenantContext) (Account, error)
}

// ClaimRequest leases up to Limit due jobs to Owner until LeaseUntil.
type ClaimRequest struct {
	Owner      string
	Now        time.Time
	Limit      int
	LeaseUntil time.Time
}

// JobStore is the shared job queue. Implementations must make ClaimDue
// atomic so each due job is handed to exactly one caller, and must reject
// Mark* calls for jobs that are not in flight with ErrInvalidJobTransition.
// Mark* calls set the job attempt counter to outcome.Attempt, clear the
// claim and append the outcome to the job's attempt history.
//
// ReleaseClaims returns the owner's in-flight jobs to pending. ReleaseExpired
// does the same for any in-flight job whose lease ended at or before now.
// Neither touches jobs leased to a live owner.
type JobStore interface {
	Insert(ctx context.Context, job WebhookJob) error
	ClaimDue(ctx context.Context, req ClaimRequest) ([]WebhookJob, error)
	MarkDelivered(ctx context.Context, id uuid.UUID, outcome DeliveryOutcome) error
	MarkRetry(ctx context.Context, id uuid.UUID, nextAttemptAt time.Time, outcome DeliveryOutcome) error
	MarkFailed(ctx context.Context, id uuid.UUID, outcome DeliveryOutcome) error
	Get(ctx context.Context, id uuid.UUID) (WebhookJob, error)
	ListAttempts(ctx context.Context, id uuid.UUID) ([]DeliveryOutcome, error)
	ReleaseClaims(ctx context.Context, owner string) ([]uuid.UUID, error)
	ReleaseExpired(ctx context.Context, now time.Time) ([]uuid.UUID, error)
	CountByStatus(ctx context.Context, status JobStatus) (int, error)
}

// DurableStore is implemented by job stores whose pending jobs survive a
// process restart.
type DurableStore interface {
	Durable() bool
}

type DeliveryRequest struct {
	JobID     uuid.UUID
	TargetURL string
	Payload   []byte
	Headers   map[string]string
	Timeout   time.Duration
}

type DeliveryResponse struct {
	StatusCode int
	Header     http.Header
	Body       []byte
	Duration   time.Duration
}

// Sender performs one outbound HTTP POST. A non-nil error means no HTTP
// response was received.
type Sender interface {
	Send(ctx context.Context, req DeliveryRequest) (DeliveryResponse, error)
}

// PayloadSigner adds authentication headers for an outbound payload.
type PayloadSigner interface {
	Sign(payload []byte, at time.Time) (map[string]string, error)
}

type DeliveryPipeline interface {
	Enqueue(ctx context.Context, intent NotificationIntent, targetURL string) (uuid.UUID, error)
	EnqueueWithPolicy(ctx context.Context, intent NotificationIntent, targetURL string, maxAttempts int) (uuid.UUID, error)
	Status(ctx context.Context, jobID uuid.UUID) (JobStatusView, error)
	Attempts(ctx context.Context, jobID uuid.UUID) ([]DeliveryOutcome, error)
	DispatchPending(ctx context.Context, limit int) (DispatchStats, error)
	Start(ctx context.Context) error
	Shutdown(ctx context.Context) (ShutdownReport, error)
}

type EventHandler interface {
	OnEvent(ctx context.Context, event DomainEvent)
	HandleEvent(ctx context.Context, event DomainEvent) (EventResult, error)
}
