package ratelimit

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"testing"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	"github.com/goliatone/go-billing-hooks/webhooks"
)

var _ webhooks.TargetThrottle = (*TargetThrottle)(nil)

const target = "https://hooks.example.com/billing"

func newTestThrottle(now time.Time) (*TargetThrottle, *MemoryStateStore) {
	store := NewMemoryStateStore()
	throttle := NewTargetThrottle(store)
	throttle.Now = func() time.Time { return now }
	return throttle, store
}

func TestTargetThrottle_AllowsWhenNoState(t *testing.T) {
	throttle, _ := newTestThrottle(time.Now())
	if err := throttle.BeforeSend(context.Background(), target); err != nil {
		t.Fatalf("expected no error without state, got %v", err)
	}
	if delay, err := throttle.Delay(context.Background(), target); err != nil || delay != 0 {
		t.Fatalf("expected zero delay, got %s err=%v", delay, err)
	}
}

func TestTargetThrottle_ObserveParsesHeaders(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle, store := newTestThrottle(now)

	err := throttle.Observe(context.Background(), target, core.DeliveryResponse{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"X-Ratelimit-Limit":     []string{"100"},
			"X-Ratelimit-Remaining": []string{"99"},
			"X-Ratelimit-Reset":     []string{"1700000045"},
		},
	})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}

	state, err := store.Get(context.Background(), "https://hooks.example.com")
	if err != nil {
		t.Fatalf("get state: %v", err)
	}
	if state.Limit != 100 || state.Remaining != 99 {
		t.Fatalf("unexpected limit state %+v", state)
	}
	if state.ResetAt == nil || !state.ResetAt.Equal(now.Add(45*time.Second)) {
		t.Fatalf("unexpected reset %+v", state.ResetAt)
	}
	if state.ThrottledUntil != nil {
		t.Fatalf("expected no throttle window for healthy response")
	}
}

func TestTargetThrottle_429OpensWindowForWholeHost(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle, _ := newTestThrottle(now)

	err := throttle.Observe(context.Background(), target, core.DeliveryResponse{
		StatusCode: http.StatusTooManyRequests,
		Header:     http.Header{"Retry-After": []string{strconv.Itoa(20)}},
	})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}

	err = throttle.BeforeSend(context.Background(), "https://HOOKS.example.com/other-path")
	var throttled ThrottledError
	if !errors.As(err, &throttled) {
		t.Fatalf("expected ThrottledError, got %v", err)
	}
	if throttled.RetryAfter != 20*time.Second {
		t.Fatalf("expected 20s window, got %s", throttled.RetryAfter)
	}
	if delay, _ := throttle.Delay(context.Background(), "https://other.example.com/x"); delay != 0 {
		t.Fatalf("expected other hosts unaffected, got %s", delay)
	}
}

func TestTargetThrottle_BacksOffWithoutRetryAfterAndClearsOnSuccess(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle, store := newTestThrottle(now)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		if err := throttle.Observe(ctx, target, core.DeliveryResponse{StatusCode: http.StatusTooManyRequests}); err != nil {
			t.Fatalf("observe: %v", err)
		}
	}
	if delay, _ := throttle.Delay(ctx, target); delay != 4*time.Second {
		t.Fatalf("expected third strike to back off 4s, got %s", delay)
	}

	if err := throttle.Observe(ctx, target, core.DeliveryResponse{StatusCode: http.StatusNoContent}); err != nil {
		t.Fatalf("observe success: %v", err)
	}
	if delay, _ := throttle.Delay(ctx, target); delay != 0 {
		t.Fatalf("expected success to clear throttle, got %s", delay)
	}
	state, _ := store.Get(ctx, TargetKey(target))
	if state.Strikes != 0 {
		t.Fatalf("expected strikes reset, got %d", state.Strikes)
	}
}

func TestTargetThrottle_ExhaustedQuotaWaitsForReset(t *testing.T) {
	now := time.Unix(1_700_000_000, 0).UTC()
	throttle, _ := newTestThrottle(now)

	err := throttle.Observe(context.Background(), target, core.DeliveryResponse{
		StatusCode: http.StatusOK,
		Header: http.Header{
			"X-Ratelimit-Remaining": []string{"0"},
			"X-Ratelimit-Reset":     []string{"1700000030"},
		},
	})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if delay, _ := throttle.Delay(context.Background(), target); delay != 30*time.Second {
		t.Fatalf("expected wait until reset, got %s", delay)
	}
}

func TestTargetThrottle_ServerErrorsDoNotThrottle(t *testing.T) {
	throttle, _ := newTestThrottle(time.Now())
	err := throttle.Observe(context.Background(), target, core.DeliveryResponse{
		StatusCode: http.StatusServiceUnavailable,
		Header:     http.Header{"Retry-After": []string{"30"}},
	})
	if err != nil {
		t.Fatalf("observe: %v", err)
	}
	if delay, _ := throttle.Delay(context.Background(), target); delay != 0 {
		t.Fatalf("expected 503 to leave target open, got %s", delay)
	}
}

func TestThrottledError_ToServiceError(t *testing.T) {
	mapped := ThrottledError{Target: "https://hooks.example.com", RetryAfter: 3 * time.Second}.ToServiceError()
	if mapped.TextCode != core.ServiceErrorTargetThrottled {
		t.Fatalf("expected %q, got %q", core.ServiceErrorTargetThrottled, mapped.TextCode)
	}
	if mapped.Code != http.StatusTooManyRequests {
		t.Fatalf("expected 429, got %d", mapped.Code)
	}
}

func TestTargetKey(t *testing.T) {
	cases := map[string]string{
		"https://Hooks.Example.com/a/b?x=1": "https://hooks.example.com",
		"http://localhost:8080/hook":        "http://localhost:8080",
		"  not a url ":                      "not a url",
	}
	for in, want := range cases {
		if got := TargetKey(in); got != want {
			t.Fatalf("TargetKey(%q) = %q, want %q", in, got, want)
		}
	}
}
