package webhooks

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
)

type BurstMode string

const (
	BurstModeNone     BurstMode = "none"
	BurstModeCoalesce BurstMode = "coalesce"
)

type BurstDecision struct {
	Allow         bool
	ExistingJobID uuid.UUID
	Metadata      map[string]any
}

// BurstController decides whether an intent with the given idempotency key
// should produce a new job or be folded into one enqueued moments ago.
type BurstController interface {
	Admit(ctx context.Context, key string, jobID uuid.UUID) (BurstDecision, error)
	Forget(ctx context.Context, key string, jobID uuid.UUID)
}

type BurstOptions struct {
	Mode       BurstMode
	Window     time.Duration
	MaxEntries int
	Now        func() time.Time
}

type burstEntry struct {
	jobID  uuid.UUID
	seenAt time.Time
}

type DefaultBurstController struct {
	mode       BurstMode
	window     time.Duration
	maxEntries int
	now        func() time.Time

	mu      sync.Mutex
	entries map[string]burstEntry
}

func NewBurstController(opts BurstOptions) *DefaultBurstController {
	mode := normalizeBurstMode(opts.Mode)
	window := opts.Window
	if window <= 0 {
		window = 2 * time.Second
	}
	maxEntries := opts.MaxEntries
	if maxEntries <= 0 {
		maxEntries = 4096
	}
	now := opts.Now
	if now == nil {
		now = func() time.Time { return time.Now().UTC() }
	}
	return &DefaultBurstController{
		mode:       mode,
		window:     window,
		maxEntries: maxEntries,
		now:        now,
		entries:    map[string]burstEntry{},
	}
}

func (c *DefaultBurstController) Admit(_ context.Context, key string, jobID uuid.UUID) (BurstDecision, error) {
	if c == nil || c.mode == BurstModeNone {
		return BurstDecision{Allow: true}, nil
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return BurstDecision{Allow: true}, nil
	}

	now := c.now().UTC()
	c.mu.Lock()
	defer c.mu.Unlock()

	existing, exists := c.entries[key]
	c.cleanup(now)
	if exists && now.Sub(existing.seenAt) < c.window {
		return BurstDecision{
			Allow:         false,
			ExistingJobID: existing.jobID,
			Metadata: map[string]any{
				"burst_mode":      string(c.mode),
				"burst_key":       key,
				"burst_window_ms": c.window.Milliseconds(),
				"coalesced":       true,
			},
		}, nil
	}
	c.entries[key] = burstEntry{jobID: jobID, seenAt: now}
	return BurstDecision{Allow: true}, nil
}

// Forget drops the entry for key when it still points at jobID, used when
// the admitted job could not be stored.
func (c *DefaultBurstController) Forget(_ context.Context, key string, jobID uuid.UUID) {
	if c == nil {
		return
	}
	key = strings.TrimSpace(key)
	c.mu.Lock()
	defer c.mu.Unlock()
	if entry, ok := c.entries[key]; ok && entry.jobID == jobID {
		delete(c.entries, key)
	}
}

func (c *DefaultBurstController) cleanup(now time.Time) {
	if len(c.entries) <= c.maxEntries {
		for key, entry := range c.entries {
			if now.Sub(entry.seenAt) > c.window*4 {
				delete(c.entries, key)
			}
		}
		return
	}
	for key, entry := range c.entries {
		if now.Sub(entry.seenAt) > c.window {
			delete(c.entries, key)
		}
		if len(c.entries) <= c.maxEntries {
			break
		}
	}
}

func normalizeBurstMode(mode BurstMode) BurstMode {
	switch strings.ToLower(strings.TrimSpace(string(mode))) {
	case string(BurstModeCoalesce):
		return BurstModeCoalesce
	default:
		return BurstModeNone
	}
}

var _ BurstController = (*DefaultBurstController)(nil)
