package core

import (
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
)

var (
	ErrJobNotFound          = errors.New("core: webhook job not found")
	ErrInvalidJobTransition = errors.New("core: invalid webhook job transition")
	ErrAccountNotFound      = errors.New("core: account not found")
	ErrPipelineClosed       = errors.New("core: delivery pipeline is closed")
)

type EventType string

const (
	EventTypeInvoiceCreation       EventType = "INVOICE_CREATION"
	EventTypeOverdueInvoice        EventType = "OVERDUE_INVOICE"
	EventTypePaymentFailed         EventType = "PAYMENT_FAILED"
	EventTypePaymentSuccess        EventType = "PAYMENT_SUCCESS"
	EventTypeAccountCreation       EventType = "ACCOUNT_CREATION"
	EventTypeAccountChange         EventType = "ACCOUNT_CHANGE"
	EventTypeInvoiceAdjustment     EventType = "INVOICE_ADJUSTMENT"
	EventTypeInvoicePaymentSuccess EventType = "INVOICE_PAYMENT_SUCCESS"
	EventTypeInvoicePaymentFailed  EventType = "INVOICE_PAYMENT_FAILED"
	EventTypeSubscriptionCreation  EventType = "SUBSCRIPTION_CREATION"
	EventTypeSubscriptionChange    EventType = "SUBSCRIPTION_CHANGE"
	EventTypeSubscriptionCancel    EventType = "SUBSCRIPTION_CANCEL"
	EventTypeTagCreation           EventType = "TAG_CREATION"
	EventTypeTagDeletion           EventType = "TAG_DELETION"
)

func (t EventType) Normalize() EventType {
	return EventType(strings.ToUpper(strings.TrimSpace(string(t))))
}

type ObjectType string

const (
	ObjectTypeAccount      ObjectType = "ACCOUNT"
	ObjectTypeInvoice      ObjectType = "INVOICE"
	ObjectTypePayment      ObjectType = "PAYMENT"
	ObjectTypeSubscription ObjectType = "SUBSCRIPTION"
	ObjectTypeBundle       ObjectType = "BUNDLE"
	ObjectTypeTag          ObjectType = "TAG"
)

// DomainEvent is a state change notification delivered by the billing
// platform's event bus. Values are treated as immutable.
type DomainEvent struct {
	EventType  EventType  `json:"eventType"`
	ObjectID   uuid.UUID  `json:"objectId"`
	ObjectType ObjectType `json:"objectType"`
	AccountID  uuid.UUID  `json:"accountId"`
	TenantID   uuid.UUID  `json:"tenantId"`
}

type IntentKind string

const (
	IntentKindInvoiceCreation IntentKind = "InvoiceCreation"
	IntentKindOverdueInvoice  IntentKind = "OverdueInvoice"
	IntentKindPaymentFailed   IntentKind = "PaymentFailed"
	IntentKindPaymentSuccess  IntentKind = "PaymentSuccess"
	IntentKindAccountChange   IntentKind = "AccountChange"
)

func IntentKinds() []IntentKind {
	return []IntentKind{
		IntentKindInvoiceCreation,
		IntentKindOverdueInvoice,
		IntentKindPaymentFailed,
		IntentKindPaymentSuccess,
		IntentKindAccountChange,
	}
}

func (k IntentKind) Valid() bool {
	for _, known := range IntentKinds() {
		if k == known {
			return true
		}
	}
	return false
}

// NotificationIntent records that an event should produce one outbound
// webhook. ExtraFields is never mutated after classification.
type NotificationIntent struct {
	Kind        IntentKind     `json:"kind"`
	AccountID   uuid.UUID      `json:"accountId"`
	TenantID    uuid.UUID      `json:"tenantId"`
	SubjectID   uuid.UUID      `json:"subjectId"`
	ExtraFields map[string]any `json:"extraFields,omitempty"`
}

// WithExtraField returns a copy of the intent carrying key=value.
func (i NotificationIntent) WithExtraField(key string, value any) NotificationIntent {
	out := i
	out.ExtraFields = make(map[string]any, len(i.ExtraFields)+1)
	for k, v := range i.ExtraFields {
		out.ExtraFields[k] = v
	}
	out.ExtraFields[key] = value
	return out
}

type JobStatus string

const (
	JobStatusPending   JobStatus = "pending"
	JobStatusInFlight  JobStatus = "in_flight"
	JobStatusDelivered JobStatus = "delivered"
	JobStatusFailed    JobStatus = "failed"
)

func (s JobStatus) Terminal() bool {
	return s == JobStatusDelivered || s == JobStatusFailed
}

func (s JobStatus) CanTransitionTo(next JobStatus) bool {
	switch s {
	case JobStatusPending:
		return next == JobStatusInFlight
	case JobStatusInFlight:
		return next == JobStatusDelivered || next == JobStatusPending || next == JobStatusFailed
	default:
		return false
	}
}

type OutcomeReason string

const (
	OutcomeDelivered         OutcomeReason = "delivered"
	OutcomePermanentFailure  OutcomeReason = "permanent_failure"
	OutcomeTransientFailure  OutcomeReason = "transient_failure"
	OutcomeRetriesExhausted  OutcomeReason = "retries_exhausted"
	OutcomeReleasedOnRestart OutcomeReason = "released"
)

// DeliveryOutcome is the record of one delivery attempt.
type DeliveryOutcome struct {
	Attempt      int           `json:"attempt"`
	StatusCode   int           `json:"statusCode,omitempty"`
	ResponseBody string        `json:"responseBody,omitempty"`
	Error        string        `json:"error,omitempty"`
	Reason       OutcomeReason `json:"reason"`
	Duration     time.Duration `json:"duration"`
	OccurredAt   time.Time     `json:"occurredAt"`
}

type WebhookJob struct {
	ID             uuid.UUID
	Intent         NotificationIntent
	Payload        []byte
	IdempotencyKey string
	TargetURL      string
	Attempt        int
	MaxAttempts    int
	NextAttemptAt  time.Time
	Status         JobStatus
	LastOutcome    *DeliveryOutcome
	ClaimedBy      string
	ClaimExpiresAt time.Time
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// JobStatusView is the read-only projection returned by status queries.
type JobStatusView struct {
	JobID          uuid.UUID        `json:"jobId"`
	Kind           IntentKind       `json:"kind"`
	SubjectID      uuid.UUID        `json:"subjectId"`
	IdempotencyKey string           `json:"idempotencyKey"`
	TargetURL      string           `json:"targetUrl"`
	Status         JobStatus        `json:"status"`
	Attempt        int              `json:"attempt"`
	MaxAttempts    int              `json:"maxAttempts"`
	NextAttemptAt  time.Time        `json:"nextAttemptAt"`
	LastOutcome    *DeliveryOutcome `json:"lastOutcome,omitempty"`
	CreatedAt      time.Time        `json:"createdAt"`
	UpdatedAt      time.Time        `json:"updatedAt"`
}

func (j WebhookJob) View() JobStatusView {
	view := JobStatusView{
		JobID:          j.ID,
		Kind:           j.Intent.Kind,
		SubjectID:      j.Intent.SubjectID,
		IdempotencyKey: j.IdempotencyKey,
		TargetURL:      j.TargetURL,
		Status:         j.Status,
		Attempt:        j.Attempt,
		MaxAttempts:    j.MaxAttempts,
		NextAttemptAt:  j.NextAttemptAt,
		CreatedAt:      j.CreatedAt,
		UpdatedAt:      j.UpdatedAt,
	}
	if j.LastOutcome != nil {
		outcome := *j.LastOutcome
		view.LastOutcome = &outcome
	}
	return view
}

type DispatchStats struct {
	Claimed   int
	Delivered int
	Retried   int
	Failed    int
}

type ShutdownReport struct {
	Pending   int
	Released  int
	Abandoned bool
}

type TenantContext struct {
	TenantID uuid.UUID
}

type Account struct {
	ID          uuid.UUID
	ExternalKey string
	Name        string
	Email       string
	Currency    string
}

// EventResult describes what the listener did with one event.
type EventResult struct {
	EventType EventType
	Kind      IntentKind
	Ignored   bool
	Disabled  bool
	Enriched  bool
	JobID     uuid.UUID
}
