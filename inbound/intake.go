package inbound

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const defaultKeyTTL = 10 * time.Minute

// Verifier authenticates the raw body of an inbound request.
// webhooks.HMACVerifier satisfies it.
type Verifier interface {
	Verify(headers map[string]string, body []byte) error
}

// ClaimStore records which idempotency keys are being or have been
// processed.
type ClaimStore interface {
	Claim(ctx context.Context, key string, lease time.Duration) (claimID string, accepted bool, err error)
	Complete(ctx context.Context, claimID string) error
	Fail(ctx context.Context, claimID string, cause error, retryAt time.Time) error
}

// EventHandler is the part of core.EventHandler the intake needs.
type EventHandler interface {
	HandleEvent(ctx context.Context, event core.DomainEvent) (core.EventResult, error)
}

// KeyExtractor returns the idempotency key of a request, or "" when the
// sender did not supply one.
type KeyExtractor func(req Request) string

type Request struct {
	Headers map[string]string
	Body    []byte
}

type Result struct {
	Accepted   bool
	Deduped    bool
	StatusCode int
	Event      core.DomainEvent
	Outcome    core.EventResult
}

type eventBody struct {
	EventType  string `json:"eventType"`
	ObjectID   string `json:"objectId"`
	ObjectType string `json:"objectType"`
	AccountID  string `json:"accountId"`
	TenantID   string `json:"tenantId"`
}

type EventIntake struct {
	Verifier   Verifier
	Store      ClaimStore
	Handler    EventHandler
	ExtractKey KeyExtractor
	KeyTTL     time.Duration
}

func NewEventIntake(handler EventHandler, verifier Verifier, store ClaimStore) *EventIntake {
	return &EventIntake{
		Verifier:   verifier,
		Store:      store,
		Handler:    handler,
		ExtractKey: DefaultKeyExtractor,
		KeyTTL:     defaultKeyTTL,
	}
}

// Accept verifies, decodes, and de-duplicates one inbound event, then hands
// it to the handler. Duplicates report Deduped with status 200.
func (i *EventIntake) Accept(ctx context.Context, req Request) (Result, error) {
	if i == nil || i.Handler == nil {
		return Result{}, inboundInternal("inbound: event intake is not configured", nil)
	}
	if i.Verifier != nil {
		if err := i.Verifier.Verify(req.Headers, req.Body); err != nil {
			return Result{StatusCode: http.StatusUnauthorized}, inboundUnauthorized(err)
		}
	}

	event, err := DecodeEvent(req.Body)
	if err != nil {
		return Result{StatusCode: http.StatusBadRequest}, err
	}

	claimID := ""
	if i.Store != nil {
		extractor := i.ExtractKey
		if extractor == nil {
			extractor = DefaultKeyExtractor
		}
		if key := extractor(req); key != "" {
			var accepted bool
			claimID, accepted, err = i.Store.Claim(ctx, "event:"+key, i.keyTTL())
			if err != nil {
				return Result{}, inboundWrapError(
					err,
					goerrors.CategoryInternal,
					"inbound: idempotency claim failed",
					http.StatusInternalServerError,
					core.ServiceErrorInternal,
					map[string]any{"idempotency_key": key},
				)
			}
			if !accepted {
				return Result{Accepted: true, Deduped: true, StatusCode: http.StatusOK, Event: event}, nil
			}
		}
	}

	outcome, err := i.Handler.HandleEvent(ctx, event)
	if err != nil {
		mapped := core.MapError(err)
		if claimID != "" {
			if failErr := i.Store.Fail(context.WithoutCancel(ctx), claimID, err, time.Time{}); failErr != nil {
				return Result{}, errors.Join(mapped, inboundWrapError(
					failErr,
					goerrors.CategoryInternal,
					"inbound: release idempotency claim",
					http.StatusInternalServerError,
					core.ServiceErrorInternal,
					map[string]any{"claim_id": claimID},
				))
			}
		}
		return Result{StatusCode: mapped.Code, Event: event}, mapped
	}
	if claimID != "" {
		if err := i.Store.Complete(context.WithoutCancel(ctx), claimID); err != nil {
			return Result{}, inboundWrapError(
				err,
				goerrors.CategoryInternal,
				"inbound: complete idempotency claim",
				http.StatusInternalServerError,
				core.ServiceErrorInternal,
				map[string]any{"claim_id": claimID},
			)
		}
	}
	return Result{Accepted: true, StatusCode: http.StatusAccepted, Event: event, Outcome: outcome}, nil
}

// DecodeEvent parses a JSON DomainEvent. eventType and objectId are
// required; accountId and tenantId may be omitted.
func DecodeEvent(body []byte) (core.DomainEvent, error) {
	var raw eventBody
	if err := json.Unmarshal(body, &raw); err != nil {
		return core.DomainEvent{}, inboundBadInput("inbound: event body is not valid json", map[string]any{"error": err.Error()})
	}
	if strings.TrimSpace(raw.EventType) == "" {
		return core.DomainEvent{}, inboundBadInput("inbound: eventType is required", map[string]any{"field": "eventType"})
	}
	objectID, err := parseID("objectId", raw.ObjectID, true)
	if err != nil {
		return core.DomainEvent{}, err
	}
	accountID, err := parseID("accountId", raw.AccountID, false)
	if err != nil {
		return core.DomainEvent{}, err
	}
	tenantID, err := parseID("tenantId", raw.TenantID, false)
	if err != nil {
		return core.DomainEvent{}, err
	}
	return core.DomainEvent{
		EventType:  core.EventType(strings.TrimSpace(raw.EventType)),
		ObjectID:   objectID,
		ObjectType: core.ObjectType(strings.TrimSpace(raw.ObjectType)),
		AccountID:  accountID,
		TenantID:   tenantID,
	}, nil
}

// DefaultKeyExtractor reads Idempotency-Key, X-Idempotency-Key, or X-Event-Id.
func DefaultKeyExtractor(req Request) string {
	for _, name := range []string{"idempotency-key", "x-idempotency-key", "x-event-id"} {
		if value := headerValue(req.Headers, name); value != "" {
			return value
		}
	}
	return ""
}

func (i *EventIntake) keyTTL() time.Duration {
	if i != nil && i.KeyTTL > 0 {
		return i.KeyTTL
	}
	return defaultKeyTTL
}

func parseID(field, raw string, required bool) (uuid.UUID, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if required {
			return uuid.Nil, inboundBadInput("inbound: "+field+" is required", map[string]any{"field": field})
		}
		return uuid.Nil, nil
	}
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, inboundBadInput("inbound: "+field+" must be a uuid", map[string]any{"field": field})
	}
	return id, nil
}

func headerValue(headers map[string]string, key string) string {
	for existing, value := range headers {
		if strings.EqualFold(strings.TrimSpace(existing), strings.TrimSpace(key)) {
			return strings.TrimSpace(value)
		}
	}
	return ""
}

type claimStatus string

const (
	claimStatusProcessing claimStatus = "processing"
	claimStatusRetryReady claimStatus = "retry_ready"
	claimStatusComplete   claimStatus = "complete"
)

type claimEntry struct {
	Status         claimStatus
	ClaimID        string
	Attempts       int
	KeyTTL         time.Duration
	LeaseExpiresAt time.Time
	RetryAt        time.Time
}

// MemoryClaimStore is a process-local ClaimStore. Completed keys are kept
// for their TTL; processing claims expire with their lease.
type MemoryClaimStore struct {
	mu      sync.Mutex
	entries map[string]claimEntry
	claims  map[string]string
	nextID  int
	Now     func() time.Time
}

func NewMemoryClaimStore() *MemoryClaimStore {
	return &MemoryClaimStore{
		entries: map[string]claimEntry{},
		claims:  map[string]string{},
		Now: func() time.Time {
			return time.Now().UTC()
		},
	}
}

func (s *MemoryClaimStore) Claim(_ context.Context, key string, lease time.Duration) (string, bool, error) {
	if s == nil {
		return "", false, inboundInternal("inbound: claim store is nil", nil)
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", false, inboundBadInput("inbound: idempotency key is required", nil)
	}
	if lease <= 0 {
		lease = defaultKeyTTL
	}
	now := s.now()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.evictExpiredLocked(now)
	entry, exists := s.entries[key]
	if exists {
		switch entry.Status {
		case claimStatusComplete, claimStatusProcessing:
			if now.Before(entry.LeaseExpiresAt) {
				return "", false, nil
			}
		case claimStatusRetryReady:
			if !entry.RetryAt.IsZero() && now.Before(entry.RetryAt) {
				return "", false, nil
			}
		}
		delete(s.claims, entry.ClaimID)
	}

	claimID := s.nextClaimID()
	entry.Status = claimStatusProcessing
	entry.ClaimID = claimID
	entry.Attempts++
	entry.KeyTTL = lease
	entry.LeaseExpiresAt = now.Add(lease)
	entry.RetryAt = time.Time{}
	s.entries[key] = entry
	s.claims[claimID] = key
	return claimID, true, nil
}

func (s *MemoryClaimStore) Complete(_ context.Context, claimID string) error {
	return s.settle(claimID, func(entry *claimEntry, now time.Time) {
		entry.Status = claimStatusComplete
		entry.LeaseExpiresAt = now.Add(entry.KeyTTL)
	})
}

func (s *MemoryClaimStore) Fail(_ context.Context, claimID string, _ error, retryAt time.Time) error {
	return s.settle(claimID, func(entry *claimEntry, now time.Time) {
		if retryAt.IsZero() {
			retryAt = now
		}
		entry.Status = claimStatusRetryReady
		entry.RetryAt = retryAt.UTC()
		entry.LeaseExpiresAt = time.Time{}
	})
}

func (s *MemoryClaimStore) settle(claimID string, apply func(entry *claimEntry, now time.Time)) error {
	if s == nil {
		return inboundInternal("inbound: claim store is nil", nil)
	}
	claimID = strings.TrimSpace(claimID)
	if claimID == "" {
		return inboundBadInput("inbound: claim id is required", nil)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	key, ok := s.claims[claimID]
	if !ok {
		return nil
	}
	delete(s.claims, claimID)
	entry, exists := s.entries[key]
	if !exists || entry.ClaimID != claimID || entry.Status != claimStatusProcessing {
		return nil
	}
	apply(&entry, s.now())
	s.entries[key] = entry
	return nil
}

func (s *MemoryClaimStore) now() time.Time {
	if s != nil && s.Now != nil {
		return s.Now().UTC()
	}
	return time.Now().UTC()
}

func (s *MemoryClaimStore) nextClaimID() string {
	s.nextID++
	return fmt.Sprintf("claim_%d", s.nextID)
}

func (s *MemoryClaimStore) evictExpiredLocked(now time.Time) {
	for key, entry := range s.entries {
		if entry.Status == claimStatusComplete && !now.Before(entry.LeaseExpiresAt) {
			delete(s.entries, key)
		}
	}
}
