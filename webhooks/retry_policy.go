package webhooks

import (
	"math"
	"math/rand/v2"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const minRetryDelay = time.Millisecond

type RetryPolicy interface {
	NextDelay(attempt int) time.Duration
}

// ExponentialJitterPolicy computes Base * 2^attempt, capped at Max, then
// spreads it by up to ±Jitter (a fraction of the delay). The result is
// never below one millisecond so successive retries always move forward.
type ExponentialJitterPolicy struct {
	Base   time.Duration
	Max    time.Duration
	Jitter float64
	// Rand returns a value in [0, 1). Defaults to math/rand/v2.
	Rand func() float64
}

func (p ExponentialJitterPolicy) NextDelay(attempt int) time.Duration {
	base := p.Base
	if base <= 0 {
		base = time.Second
	}
	maximum := p.Max
	if maximum <= 0 {
		maximum = 5 * time.Minute
	}
	if attempt < 0 {
		attempt = 0
	}

	delay := float64(base) * math.Pow(2, float64(attempt))
	if delay > float64(maximum) || math.IsInf(delay, 0) || math.IsNaN(delay) {
		delay = float64(maximum)
	}

	jitter := p.Jitter
	if jitter > 1 {
		jitter = 1
	}
	if jitter > 0 {
		random := p.Rand
		if random == nil {
			random = rand.Float64
		}
		delay += delay * jitter * (2*random() - 1)
	}
	if delay > float64(maximum) {
		delay = float64(maximum)
	}
	out := time.Duration(delay)
	if out < minRetryDelay {
		return minRetryDelay
	}
	return out
}

// RetryAfter parses a Retry-After header given as delta seconds or an HTTP
// date relative to now.
func RetryAfter(header http.Header, now time.Time) (time.Duration, bool) {
	if header == nil {
		return 0, false
	}
	raw := strings.TrimSpace(header.Get("Retry-After"))
	if raw == "" {
		return 0, false
	}
	if seconds, err := strconv.Atoi(raw); err == nil {
		if seconds < 0 {
			return 0, false
		}
		return time.Duration(seconds) * time.Second, true
	}
	at, err := http.ParseTime(raw)
	if err != nil {
		return 0, false
	}
	delay := at.Sub(now)
	if delay < 0 {
		return 0, true
	}
	return delay, true
}
