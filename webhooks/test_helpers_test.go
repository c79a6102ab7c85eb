package webhooks

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	"github.com/google/uuid"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)}
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type scriptedResponse struct {
	status int
	header http.Header
	body   string
	err    error
}

// scriptedSender replays responses in order and repeats the last one.
type scriptedSender struct {
	mu        sync.Mutex
	responses []scriptedResponse
	requests  []core.DeliveryRequest
	block     chan struct{}
}

func (s *scriptedSender) Send(ctx context.Context, req core.DeliveryRequest) (core.DeliveryResponse, error) {
	s.mu.Lock()
	s.requests = append(s.requests, req)
	index := len(s.requests) - 1
	block := s.block
	s.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return core.DeliveryResponse{}, ctx.Err()
		}
	}

	if len(s.responses) == 0 {
		return core.DeliveryResponse{StatusCode: http.StatusOK}, nil
	}
	if index >= len(s.responses) {
		index = len(s.responses) - 1
	}
	resp := s.responses[index]
	if resp.err != nil {
		return core.DeliveryResponse{}, resp.err
	}
	return core.DeliveryResponse{
		StatusCode: resp.status,
		Header:     resp.header,
		Body:       []byte(resp.body),
	}, nil
}

func (s *scriptedSender) calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func (s *scriptedSender) request(i int) core.DeliveryRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.requests[i]
}

var errConnectionRefused = errors.New("dial tcp 127.0.0.1:9: connect: connection refused")

func testIntent() core.NotificationIntent {
	return core.NotificationIntent{
		Kind:      core.IntentKindInvoiceCreation,
		AccountID: uuid.MustParse("0b7d7c57-3f0e-4c35-9a6f-2f0f54a0e9d1"),
		TenantID:  uuid.MustParse("9a3e6b0c-8a51-4f57-bb3e-5f5a7f1c5d10"),
		SubjectID: uuid.MustParse("6f1c2a8e-1d2b-4c3a-9e8f-7a6b5c4d3e2f"),
	}
}

func noJitterPolicy() ExponentialJitterPolicy {
	return ExponentialJitterPolicy{Base: time.Second, Max: 5 * time.Minute}
}

func newTestPipeline(sender core.Sender, clock *fakeClock, opts ...PipelineOption) (*Pipeline, *MemoryJobStore) {
	store := NewMemoryJobStore()
	store.now = clock.Now
	base := []PipelineOption{WithClock(clock.Now), WithRetryPolicy(noJitterPolicy())}
	pipeline, err := NewPipeline(store, sender, PipelineConfig{
		MaxAttempts:  3,
		Workers:      2,
		PollInterval: 10 * time.Millisecond,
	}, append(base, opts...)...)
	if err != nil {
		panic(err)
	}
	return pipeline, store
}

const testTargetURL = "https://hooks.example.com/billing"

func memoryClaim(owner string, now time.Time, limit int) core.ClaimRequest {
	return core.ClaimRequest{Owner: owner, Now: now, Limit: limit, LeaseUntil: now.Add(time.Minute)}
}

// partialClaimStore returns the jobs it managed to claim together with err.
type partialClaimStore struct {
	*MemoryJobStore
	err error
}

func (s *partialClaimStore) ClaimDue(ctx context.Context, req core.ClaimRequest) ([]core.WebhookJob, error) {
	jobs, err := s.MemoryJobStore.ClaimDue(ctx, req)
	if err != nil {
		return jobs, err
	}
	return jobs, s.err
}

type stubThrottle struct {
	mu       sync.Mutex
	delay    time.Duration
	observed []int
}

func (s *stubThrottle) Delay(context.Context, string) (time.Duration, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.delay, nil
}

func (s *stubThrottle) Observe(_ context.Context, _ string, resp core.DeliveryResponse) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.observed = append(s.observed, resp.StatusCode)
	return nil
}

func (s *stubThrottle) set(delay time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.delay = delay
}
