package inbound

import (
	"context"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	"github.com/goliatone/go-billing-hooks/webhooks"
	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

type stubHandler struct {
	events []core.DomainEvent
	err    error
}

func (h *stubHandler) HandleEvent(_ context.Context, event core.DomainEvent) (core.EventResult, error) {
	h.events = append(h.events, event)
	if h.err != nil {
		return core.EventResult{}, h.err
	}
	return core.EventResult{EventType: event.EventType, Kind: core.IntentKindPaymentSuccess, JobID: uuid.New()}, nil
}

var testObjectID = uuid.MustParse("6f1c2a8e-1d2b-4c3a-9e8f-7a6b5c4d3e2f")

func eventJSON() []byte {
	return []byte(`{"eventType":"PAYMENT_SUCCESS","objectId":"` + testObjectID.String() + `","objectType":"PAYMENT"}`)
}

func TestEventIntake_AcceptsAndDedupesByKey(t *testing.T) {
	handler := &stubHandler{}
	intake := NewEventIntake(handler, nil, NewMemoryClaimStore())
	req := Request{Headers: map[string]string{"Idempotency-Key": "evt-1"}, Body: eventJSON()}

	first, err := intake.Accept(context.Background(), req)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if !first.Accepted || first.Deduped || first.StatusCode != http.StatusAccepted {
		t.Fatalf("unexpected first result %+v", first)
	}
	if first.Event.ObjectID != testObjectID || first.Event.EventType != core.EventTypePaymentSuccess {
		t.Fatalf("unexpected decoded event %+v", first.Event)
	}

	second, err := intake.Accept(context.Background(), req)
	if err != nil {
		t.Fatalf("accept duplicate: %v", err)
	}
	if !second.Deduped || second.StatusCode != http.StatusOK {
		t.Fatalf("expected duplicate to be deduped, got %+v", second)
	}
	if len(handler.events) != 1 {
		t.Fatalf("expected handler called once, got %d", len(handler.events))
	}
}

func TestEventIntake_WithoutKeyAlwaysHandles(t *testing.T) {
	handler := &stubHandler{}
	intake := NewEventIntake(handler, nil, NewMemoryClaimStore())
	for i := 0; i < 2; i++ {
		if _, err := intake.Accept(context.Background(), Request{Body: eventJSON()}); err != nil {
			t.Fatalf("accept: %v", err)
		}
	}
	if len(handler.events) != 2 {
		t.Fatalf("expected both unkeyed events handled, got %d", len(handler.events))
	}
}

func TestEventIntake_HandlerFailureReleasesClaim(t *testing.T) {
	handler := &stubHandler{err: core.NewServiceError("store down", goerrors.CategoryInternal, core.ServiceErrorInternal)}
	intake := NewEventIntake(handler, nil, NewMemoryClaimStore())
	req := Request{Headers: map[string]string{"X-Event-Id": "evt-2"}, Body: eventJSON()}

	result, err := intake.Accept(context.Background(), req)
	if !core.IsTextCode(err, core.ServiceErrorInternal) {
		t.Fatalf("expected internal error, got %v", err)
	}
	if result.StatusCode != http.StatusInternalServerError {
		t.Fatalf("expected 500 status, got %d", result.StatusCode)
	}

	handler.err = nil
	retry, err := intake.Accept(context.Background(), req)
	if err != nil {
		t.Fatalf("retry: %v", err)
	}
	if retry.Deduped || len(handler.events) != 2 {
		t.Fatalf("expected retry to reach handler, got %+v after %d calls", retry, len(handler.events))
	}
}

func TestEventIntake_VerifiesSignature(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	verifier := webhooks.HMACVerifier{Secret: "s3cret", Tolerance: 5 * time.Minute, Now: func() time.Time { return now }}
	handler := &stubHandler{}
	intake := NewEventIntake(handler, verifier, nil)

	body := eventJSON()
	headers, err := webhooks.HMACSigner{Secret: "s3cret"}.Sign(body, now)
	if err != nil {
		t.Fatalf("sign: %v", err)
	}
	if _, err := intake.Accept(context.Background(), Request{Headers: headers, Body: body}); err != nil {
		t.Fatalf("expected signed event accepted, got %v", err)
	}

	result, err := intake.Accept(context.Background(), Request{Headers: map[string]string{}, Body: body})
	if !core.IsTextCode(err, core.ServiceErrorUnauthorized) {
		t.Fatalf("expected unauthorized, got %v", err)
	}
	var rich *goerrors.Error
	if !goerrors.As(err, &rich) || rich.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 envelope, got %v", err)
	}
	if result.StatusCode != http.StatusUnauthorized || len(handler.events) != 1 {
		t.Fatalf("unexpected rejection result %+v calls=%d", result, len(handler.events))
	}
}

func TestDecodeEvent_RejectsBadInput(t *testing.T) {
	cases := map[string]string{
		"not json":       `{`,
		"no event type":  `{"objectId":"` + testObjectID.String() + `"}`,
		"no object id":   `{"eventType":"PAYMENT_SUCCESS"}`,
		"bad object id":  `{"eventType":"PAYMENT_SUCCESS","objectId":"x"}`,
		"bad account id": `{"eventType":"PAYMENT_SUCCESS","objectId":"` + testObjectID.String() + `","accountId":"x"}`,
	}
	for name, body := range cases {
		_, err := DecodeEvent([]byte(body))
		if !core.IsTextCode(err, core.ServiceErrorBadInput) {
			t.Fatalf("%s: expected bad input, got %v", name, err)
		}
	}
}

func TestEventIntake_NotConfigured(t *testing.T) {
	var intake *EventIntake
	_, err := intake.Accept(context.Background(), Request{Body: eventJSON()})
	var rich *goerrors.Error
	if !errors.As(err, &rich) || rich.TextCode != core.ServiceErrorInternal {
		t.Fatalf("expected internal envelope, got %v", err)
	}
}

func TestMemoryClaimStore_CompletedKeyExpires(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)
	store := NewMemoryClaimStore()
	store.Now = func() time.Time { return now }
	ctx := context.Background()

	claimID, accepted, err := store.Claim(ctx, "k", time.Minute)
	if err != nil || !accepted {
		t.Fatalf("expected first claim accepted, got %v %v", accepted, err)
	}
	if _, accepted, _ := store.Claim(ctx, "k", time.Minute); accepted {
		t.Fatalf("expected in-progress key to be held")
	}
	if err := store.Complete(ctx, claimID); err != nil {
		t.Fatalf("complete: %v", err)
	}
	if _, accepted, _ := store.Claim(ctx, "k", time.Minute); accepted {
		t.Fatalf("expected completed key to be held for its ttl")
	}
	now = now.Add(2 * time.Minute)
	if _, accepted, _ := store.Claim(ctx, "k", time.Minute); !accepted {
		t.Fatalf("expected key to be claimable after ttl")
	}
}
