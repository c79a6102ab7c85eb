package transport

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	goerrors "github.com/goliatone/go-errors"
	"github.com/sony/gobreaker"
)

const (
	defaultBreakerOpenTimeout      = 30 * time.Second
	defaultBreakerHalfOpenRequests = 1
)

var errTargetUnhealthy = errors.New("transport: target answered with a retryable status")

type BreakerSettings struct {
	// ConsecutiveFailures trips the breaker for a target host.
	ConsecutiveFailures uint32
	// OpenTimeout is how long a tripped breaker rejects sends before a trial send.
	OpenTimeout time.Duration
	// HalfOpenRequests caps trial sends while half-open.
	HalfOpenRequests uint32
	OnStateChange    func(target string, from, to gobreaker.State)
}

// BreakerSender guards a Sender with one circuit breaker per scheme+host.
// 5xx and 429 responses count as failures but are still handed back to the
// caller unchanged; only an open breaker turns into an error.
type BreakerSender struct {
	next     core.Sender
	settings BreakerSettings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

func NewBreakerSender(next core.Sender, settings BreakerSettings) *BreakerSender {
	if settings.ConsecutiveFailures == 0 {
		settings.ConsecutiveFailures = 5
	}
	if settings.OpenTimeout <= 0 {
		settings.OpenTimeout = defaultBreakerOpenTimeout
	}
	if settings.HalfOpenRequests == 0 {
		settings.HalfOpenRequests = defaultBreakerHalfOpenRequests
	}
	return &BreakerSender{
		next:     next,
		settings: settings,
		breakers: map[string]*gobreaker.CircuitBreaker{},
	}
}

func (s *BreakerSender) Send(ctx context.Context, req core.DeliveryRequest) (core.DeliveryResponse, error) {
	if s == nil || s.next == nil {
		return core.DeliveryResponse{}, transportError(
			"transport: breaker sender requires a sender",
			goerrors.CategoryInternal,
			http.StatusInternalServerError,
			map[string]any{"job_id": req.JobID.String()},
		)
	}
	key, ok := breakerKey(req.TargetURL)
	if !ok {
		return s.next.Send(ctx, req)
	}

	var resp core.DeliveryResponse
	_, err := s.breaker(key).Execute(func() (any, error) {
		out, sendErr := s.next.Send(ctx, req)
		resp = out
		if sendErr != nil {
			return nil, sendErr
		}
		if out.StatusCode == http.StatusTooManyRequests || out.StatusCode >= 500 {
			return nil, errTargetUnhealthy
		}
		return nil, nil
	})
	switch {
	case err == nil, errors.Is(err, errTargetUnhealthy):
		return resp, nil
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		return core.DeliveryResponse{}, transportWrapError(
			err,
			goerrors.CategoryExternal,
			"transport: target circuit is open",
			http.StatusServiceUnavailable,
			map[string]any{"job_id": req.JobID.String(), "target": key},
		)
	default:
		return resp, err
	}
}

// State reports the breaker state for the host of targetURL.
func (s *BreakerSender) State(targetURL string) gobreaker.State {
	key, ok := breakerKey(targetURL)
	if s == nil || !ok {
		return gobreaker.StateClosed
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, found := s.breakers[key]; found {
		return cb.State()
	}
	return gobreaker.StateClosed
}

func (s *BreakerSender) breaker(key string) *gobreaker.CircuitBreaker {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cb, ok := s.breakers[key]; ok {
		return cb
	}
	threshold := s.settings.ConsecutiveFailures
	onChange := s.settings.OnStateChange
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        key,
		MaxRequests: s.settings.HalfOpenRequests,
		Timeout:     s.settings.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= threshold
		},
		IsSuccessful: func(err error) bool {
			// a malformed request says nothing about the target's health
			return err == nil || core.IsTextCode(err, core.ServiceErrorBadInput)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			if onChange != nil {
				onChange(name, from, to)
			}
		},
	})
	s.breakers[key] = cb
	return cb
}

func breakerKey(raw string) (string, bool) {
	parsed, err := url.Parse(strings.TrimSpace(raw))
	if err != nil || parsed.Host == "" {
		return "", false
	}
	return strings.ToLower(parsed.Scheme + "://" + parsed.Host), true
}

var _ core.Sender = (*BreakerSender)(nil)
