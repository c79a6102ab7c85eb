package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	goerrors "github.com/goliatone/go-errors"
)

var ErrStateNotFound = errors.New("ratelimit: state not found")

// State is the backpressure last reported by one webhook target.
type State struct {
	Target         string
	Limit          int
	Remaining      int
	ResetAt        *time.Time
	RetryAfter     *time.Duration
	ThrottledUntil *time.Time
	LastStatus     int
	Strikes        int
	UpdatedAt      time.Time
}

type StateStore interface {
	Get(ctx context.Context, target string) (State, error)
	Upsert(ctx context.Context, state State) error
}

type ThrottledError struct {
	Target     string
	RetryAfter time.Duration
}

func (e ThrottledError) Error() string {
	return fmt.Sprintf("ratelimit: target %q throttled for %s", e.Target, e.RetryAfter)
}

func (e ThrottledError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{"target": e.Target}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(core.ServiceErrorTargetThrottled).
		WithMetadata(metadata)
}

// TargetThrottle tracks receiver backpressure per scheme and host. A 429, or
// a response reporting an exhausted quota, opens a throttle window that
// later sends to the same target should wait out.
type TargetThrottle struct {
	Store            StateStore
	Now              func() time.Time
	InitialBackoff   time.Duration
	MaxBackoff       time.Duration
	DefaultRetryHint time.Duration
}

func NewTargetThrottle(store StateStore) *TargetThrottle {
	if store == nil {
		store = NewMemoryStateStore()
	}
	return &TargetThrottle{
		Store:            store,
		Now:              func() time.Time { return time.Now().UTC() },
		InitialBackoff:   time.Second,
		MaxBackoff:       time.Minute,
		DefaultRetryHint: 5 * time.Second,
	}
}

// BeforeSend returns a ThrottledError while targetURL's window is open.
func (t *TargetThrottle) BeforeSend(ctx context.Context, targetURL string) error {
	if t == nil || t.Store == nil {
		return nil
	}
	target := TargetKey(targetURL)
	state, err := t.Store.Get(ctx, target)
	if err != nil {
		if errors.Is(err, ErrStateNotFound) {
			return nil
		}
		return err
	}

	now := t.now()
	if until := state.ThrottledUntil; until != nil && now.Before(*until) {
		return ThrottledError{Target: target, RetryAfter: until.Sub(now)}
	}
	if state.Remaining == 0 && state.ResetAt != nil && now.Before(*state.ResetAt) {
		return ThrottledError{Target: target, RetryAfter: state.ResetAt.Sub(now)}
	}
	return nil
}

// Delay is how long a send to targetURL should wait; zero when clear.
func (t *TargetThrottle) Delay(ctx context.Context, targetURL string) (time.Duration, error) {
	err := t.BeforeSend(ctx, targetURL)
	if err == nil {
		return 0, nil
	}
	var throttled ThrottledError
	if errors.As(err, &throttled) {
		return throttled.RetryAfter, nil
	}
	return 0, err
}

// Observe records the rate limit signals in resp for targetURL.
func (t *TargetThrottle) Observe(ctx context.Context, targetURL string, resp core.DeliveryResponse) error {
	if t == nil || t.Store == nil {
		return nil
	}
	target := TargetKey(targetURL)
	now := t.now()
	state, err := t.Store.Get(ctx, target)
	if err != nil && !errors.Is(err, ErrStateNotFound) {
		return err
	}
	if errors.Is(err, ErrStateNotFound) {
		state = State{Target: target}
	}

	state.LastStatus = resp.StatusCode
	state.UpdatedAt = now

	limit, hasLimit := parseHeaderInt(resp.Header, "X-RateLimit-Limit")
	if hasLimit {
		state.Limit = limit
	}
	remaining, hasRemaining := parseHeaderInt(resp.Header, "X-RateLimit-Remaining")
	if hasRemaining {
		state.Remaining = remaining
	}
	resetAt, hasResetAt := parseHeaderResetAt(resp.Header)
	if hasResetAt {
		state.ResetAt = &resetAt
	}
	retryAfter, hasRetryAfter := parseRetryAfter(resp.Header, now)
	if hasRetryAfter {
		state.RetryAfter = &retryAfter
	} else {
		state.RetryAfter = nil
	}

	if isThrottledResponse(resp.StatusCode, state.Remaining, hasRemaining, hasResetAt, hasLimit, hasRetryAfter) {
		state.Strikes++
		delay := retryAfter
		if !hasRetryAfter {
			delay = t.nextBackoff(state.Strikes)
			if hasResetAt && resetAt.After(now) {
				delay = resetAt.Sub(now)
			}
		}
		until := now.Add(delay)
		state.ThrottledUntil = &until
		return t.Store.Upsert(ctx, state)
	}

	state.Strikes = 0
	state.ThrottledUntil = nil
	return t.Store.Upsert(ctx, state)
}

func (t *TargetThrottle) now() time.Time {
	if t != nil && t.Now != nil {
		return t.Now().UTC()
	}
	return time.Now().UTC()
}

func (t *TargetThrottle) nextBackoff(strikes int) time.Duration {
	initial := t.InitialBackoff
	if initial <= 0 {
		initial = time.Second
	}
	maximum := t.MaxBackoff
	if maximum <= 0 {
		maximum = time.Minute
	}
	if strikes <= 0 {
		return initial
	}
	delay := initial
	for i := 1; i < strikes; i++ {
		delay *= 2
		if delay >= maximum {
			return maximum
		}
	}
	if delay <= 0 {
		return t.defaultRetryHint()
	}
	return delay
}

func (t *TargetThrottle) defaultRetryHint() time.Duration {
	if t != nil && t.DefaultRetryHint > 0 {
		return t.DefaultRetryHint
	}
	return 5 * time.Second
}

// TargetKey reduces a webhook URL to the scheme and host it is throttled by.
func TargetKey(targetURL string) string {
	parsed, err := url.Parse(strings.TrimSpace(targetURL))
	if err != nil || parsed.Host == "" {
		return strings.ToLower(strings.TrimSpace(targetURL))
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host)
}

func isThrottledResponse(
	statusCode int,
	remaining int,
	hasRemaining bool,
	hasResetAt bool,
	hasLimit bool,
	hasRetryAfter bool,
) bool {
	if statusCode == http.StatusTooManyRequests {
		return true
	}
	if statusCode >= 500 {
		return false
	}
	return remaining == 0 && hasRemaining && (hasResetAt || hasLimit || hasRetryAfter)
}

func parseRetryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds <= 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	if retryAt, err := http.ParseTime(raw); err == nil && retryAt.After(now) {
		return retryAt.Sub(now), true
	}
	return 0, false
}

func parseHeaderInt(header http.Header, key string) (int, bool) {
	value := strings.TrimSpace(header.Get(key))
	if value == "" {
		return 0, false
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false
	}
	return parsed, true
}

func parseHeaderResetAt(header http.Header) (time.Time, bool) {
	value := strings.TrimSpace(header.Get("X-RateLimit-Reset"))
	if value == "" {
		return time.Time{}, false
	}
	unix, err := strconv.ParseInt(value, 10, 64)
	if err != nil || unix <= 0 {
		return time.Time{}, false
	}
	return time.Unix(unix, 0).UTC(), true
}

type MemoryStateStore struct {
	mu    sync.RWMutex
	items map[string]State
}

func NewMemoryStateStore() *MemoryStateStore {
	return &MemoryStateStore{items: map[string]State{}}
}

func (s *MemoryStateStore) Get(_ context.Context, target string) (State, error) {
	if s == nil {
		return State{}, fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	state, ok := s.items[target]
	if !ok {
		return State{}, ErrStateNotFound
	}
	return state, nil
}

func (s *MemoryStateStore) Upsert(_ context.Context, state State) error {
	if s == nil {
		return fmt.Errorf("ratelimit: state store is nil")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.items[state.Target] = state
	return nil
}
