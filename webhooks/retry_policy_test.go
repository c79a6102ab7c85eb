package webhooks

import (
	"errors"
	"net/http"
	"testing"
	"time"
)

func TestExponentialJitterPolicy_GrowsAndCaps(t *testing.T) {
	policy := ExponentialJitterPolicy{Base: time.Second, Max: 10 * time.Second}
	cases := map[int]time.Duration{
		0:  time.Second,
		1:  2 * time.Second,
		3:  8 * time.Second,
		4:  10 * time.Second,
		60: 10 * time.Second,
	}
	for attempt, want := range cases {
		if got := policy.NextDelay(attempt); got != want {
			t.Fatalf("attempt %d: expected %s, got %s", attempt, want, got)
		}
	}
}

func TestExponentialJitterPolicy_JitterStaysInBounds(t *testing.T) {
	for _, sample := range []float64{0, 0.25, 0.5, 0.999} {
		value := sample
		policy := ExponentialJitterPolicy{
			Base:   time.Second,
			Max:    time.Minute,
			Jitter: 0.2,
			Rand:   func() float64 { return value },
		}
		got := policy.NextDelay(2)
		if got < 3200*time.Millisecond || got > 4800*time.Millisecond {
			t.Fatalf("rand=%v: delay %s outside ±20%% of 4s", value, got)
		}
	}

	capped := ExponentialJitterPolicy{Base: time.Second, Max: 4 * time.Second, Jitter: 0.5, Rand: func() float64 { return 0.999 }}
	if got := capped.NextDelay(5); got > 4*time.Second {
		t.Fatalf("jitter must not exceed max backoff, got %s", got)
	}
}

func TestRetryAfter(t *testing.T) {
	now := time.Date(2026, 3, 2, 9, 0, 0, 0, time.UTC)

	if got, ok := RetryAfter(http.Header{"Retry-After": []string{"12"}}, now); !ok || got != 12*time.Second {
		t.Fatalf("expected 12s, got %s ok=%v", got, ok)
	}
	date := now.Add(90 * time.Second).Format(http.TimeFormat)
	if got, ok := RetryAfter(http.Header{"Retry-After": []string{date}}, now); !ok || got != 90*time.Second {
		t.Fatalf("expected 90s from http date, got %s ok=%v", got, ok)
	}
	if _, ok := RetryAfter(http.Header{"Retry-After": []string{"soon"}}, now); ok {
		t.Fatalf("expected garbage header to be ignored")
	}
	if _, ok := RetryAfter(nil, now); ok {
		t.Fatalf("expected missing header to be ignored")
	}
}

func TestClassifyOutcome(t *testing.T) {
	cases := []struct {
		status int
		err    error
		want   Verdict
	}{
		{status: 200, want: VerdictDelivered},
		{status: 204, want: VerdictDelivered},
		{status: 301, want: VerdictPermanent},
		{status: 400, want: VerdictPermanent},
		{status: 404, want: VerdictPermanent},
		{status: 408, want: VerdictPermanent},
		{status: 429, want: VerdictTransient},
		{status: 500, want: VerdictTransient},
		{status: 503, want: VerdictTransient},
		{err: errors.New("timeout"), want: VerdictTransient},
	}
	for _, tc := range cases {
		if got := ClassifyOutcome(tc.status, tc.err); got != tc.want {
			t.Fatalf("status=%d err=%v: expected %s, got %s", tc.status, tc.err, tc.want, got)
		}
	}
}

func TestTruncateBodyKeepsUTF8Boundaries(t *testing.T) {
	body := []byte("héllo")
	if got := truncateBody(body, 2); got != "h" {
		t.Fatalf("expected split rune to be dropped, got %q", got)
	}
	if got := truncateBody(body, 100); got != "héllo" {
		t.Fatalf("expected untouched body, got %q", got)
	}
}
