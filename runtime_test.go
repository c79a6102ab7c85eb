package billinghooks

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	"github.com/goliatone/go-billing-hooks/webhooks"
	"github.com/google/uuid"
)

type receivedWebhook struct {
	body    string
	headers map[string]string
}

type webhookReceiver struct {
	mu       sync.Mutex
	received []receivedWebhook
	status   int
}

func (r *webhookReceiver) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	body, _ := io.ReadAll(req.Body)
	headers := map[string]string{}
	for key := range req.Header {
		headers[key] = req.Header.Get(key)
	}
	r.mu.Lock()
	r.received = append(r.received, receivedWebhook{body: string(body), headers: headers})
	status := r.status
	r.mu.Unlock()
	if status == 0 {
		status = http.StatusOK
	}
	w.WriteHeader(status)
}

func (r *webhookReceiver) all() []receivedWebhook {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]receivedWebhook(nil), r.received...)
}

func newTestRuntime(t *testing.T, mutate func(*core.Config)) (*Runtime, *webhookReceiver) {
	t.Helper()
	receiver := &webhookReceiver{}
	server := httptest.NewServer(receiver)
	t.Cleanup(server.Close)

	cfg := core.DefaultConfig()
	cfg.Delivery.TargetURL = server.URL
	if mutate != nil {
		mutate(&cfg)
	}
	rt, err := NewRuntime(context.Background(), cfg, RuntimeOptions{})
	if err != nil {
		t.Fatalf("new runtime: %v", err)
	}
	return rt, receiver
}

func TestRuntime_DeliversPaymentSuccessEndToEnd(t *testing.T) {
	rt, receiver := newTestRuntime(t, nil)
	ctx := context.Background()

	event := core.DomainEvent{
		EventType:  core.EventTypePaymentSuccess,
		ObjectID:   uuid.MustParse("6f1c2a8e-1d2b-4c3a-9e8f-7a6b5c4d3e2f"),
		ObjectType: core.ObjectTypePayment,
		AccountID:  uuid.MustParse("0b7d7c57-3f0e-4c35-9a6f-2f0f54a0e9d1"),
	}
	result, err := rt.Service().HandleEvent(ctx, event)
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if result.Kind != core.IntentKindPaymentSuccess || result.JobID == uuid.Nil {
		t.Fatalf("unexpected result %#v", result)
	}

	stats, err := rt.Service().DispatchPending(ctx, 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Claimed != 1 || stats.Delivered != 1 {
		t.Fatalf("unexpected stats %+v", stats)
	}

	received := receiver.all()
	if len(received) != 1 {
		t.Fatalf("expected one webhook, got %d", len(received))
	}
	want := `{"eventType":"PaymentSuccess","accountId":"0b7d7c57-3f0e-4c35-9a6f-2f0f54a0e9d1","subjectId":"6f1c2a8e-1d2b-4c3a-9e8f-7a6b5c4d3e2f"}`
	if received[0].body != want {
		t.Fatalf("unexpected payload %s", received[0].body)
	}
	if received[0].headers[webhooks.HeaderWebhookID] != result.JobID.String() {
		t.Fatalf("expected job id header, got %q", received[0].headers[webhooks.HeaderWebhookID])
	}

	view, err := rt.Service().Status(ctx, result.JobID)
	if err != nil {
		t.Fatalf("status: %v", err)
	}
	if view.Status != core.JobStatusDelivered || view.Attempt != 1 {
		t.Fatalf("unexpected view %#v", view)
	}
}

func TestRuntime_SignsPayloadsWhenSecretConfigured(t *testing.T) {
	rt, receiver := newTestRuntime(t, func(cfg *core.Config) {
		cfg.Delivery.SigningSecret = "whsec_test"
	})
	ctx := context.Background()

	if _, err := rt.Service().Enqueue(ctx, core.NotificationIntent{
		Kind:      core.IntentKindInvoiceCreation,
		SubjectID: uuid.New(),
	}); err != nil {
		t.Fatalf("enqueue: %v", err)
	}
	if _, err := rt.Service().DispatchPending(ctx, 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	received := receiver.all()
	if len(received) != 1 {
		t.Fatalf("expected one webhook, got %d", len(received))
	}
	verifier := webhooks.HMACVerifier{Secret: "whsec_test", Tolerance: time.Hour}
	if err := verifier.Verify(received[0].headers, []byte(received[0].body)); err != nil {
		t.Fatalf("expected signature to verify: %v", err)
	}
}

func TestRuntime_HonorsDisabledKinds(t *testing.T) {
	rt, receiver := newTestRuntime(t, func(cfg *core.Config) {
		cfg.Kinds = map[string]core.KindPolicy{
			string(core.IntentKindPaymentFailed): {Disabled: true},
		}
	})

	result, err := rt.Service().HandleEvent(context.Background(), core.DomainEvent{
		EventType: core.EventTypePaymentFailed,
		ObjectID:  uuid.New(),
	})
	if err != nil {
		t.Fatalf("handle event: %v", err)
	}
	if !result.Disabled || result.JobID != uuid.Nil {
		t.Fatalf("expected disabled result, got %#v", result)
	}
	if _, err := rt.Service().DispatchPending(context.Background(), 10); err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(receiver.all()) != 0 {
		t.Fatalf("expected no webhook for disabled kind")
	}
}

func TestRuntime_StartAndShutdownDrainWorkers(t *testing.T) {
	rt, receiver := newTestRuntime(t, func(cfg *core.Config) {
		cfg.Delivery.PollInterval = 10 * time.Millisecond
		cfg.Delivery.Workers = 2
	})
	ctx := context.Background()
	if err := rt.Start(ctx); err != nil {
		t.Fatalf("start: %v", err)
	}

	rt.Service().OnEvent(ctx, core.DomainEvent{
		EventType: core.EventTypeInvoiceCreation,
		ObjectID:  uuid.New(),
		AccountID: uuid.New(),
	})

	deadline := time.Now().Add(2 * time.Second)
	for len(receiver.all()) == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if len(receiver.all()) != 1 {
		t.Fatalf("expected workers to deliver the webhook")
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, time.Second)
	defer cancel()
	report, err := rt.Shutdown(shutdownCtx)
	if err != nil {
		t.Fatalf("shutdown: %v", err)
	}
	if report.Pending != 0 || report.Abandoned {
		t.Fatalf("unexpected shutdown report %+v", report)
	}
}

func TestNewRuntime_RejectsInvalidConfig(t *testing.T) {
	cfg := core.DefaultConfig()
	cfg.Delivery.TargetURL = "ftp://hooks.example.com"
	if _, err := NewRuntime(context.Background(), cfg, RuntimeOptions{}); err == nil {
		t.Fatalf("expected invalid target url to be rejected")
	}
}

func TestRuntime_CircuitBreakerShortCircuitsFailingTarget(t *testing.T) {
	rt, receiver := newTestRuntime(t, func(cfg *core.Config) {
		cfg.Delivery.BreakerFailures = 1
		cfg.Delivery.BreakerOpenTimeout = time.Hour
	})
	receiver.mu.Lock()
	receiver.status = http.StatusServiceUnavailable
	receiver.mu.Unlock()
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := rt.Service().Enqueue(ctx, core.NotificationIntent{
			Kind:      core.IntentKindInvoiceCreation,
			SubjectID: uuid.New(),
		}); err != nil {
			t.Fatalf("enqueue %d: %v", i, err)
		}
	}
	stats, err := rt.Service().DispatchPending(ctx, 10)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if stats.Claimed != 2 || stats.Retried != 2 {
		t.Fatalf("expected both jobs retried, got %+v", stats)
	}
	if len(receiver.all()) != 1 {
		t.Fatalf("expected the open breaker to skip the second send, got %d requests", len(receiver.all()))
	}
}
