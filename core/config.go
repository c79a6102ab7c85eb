package core

import (
	"fmt"
	"net/url"
	"strings"
	"time"
)

const (
	DefaultMaxAttempts          = 5
	DefaultBaseBackoff          = time.Second
	DefaultMaxBackoff           = 5 * time.Minute
	DefaultJitter               = 0.2
	DefaultRequestTimeout       = 10 * time.Second
	DefaultWorkers              = 4
	DefaultPollInterval         = time.Second
	DefaultBatchSize            = 20
	DefaultMaxResponseBodyBytes = 64 * 1024
	DefaultAccountLookupTimeout = 2 * time.Second
	DefaultUserAgent            = "go-billing-hooks/1"
	DefaultBreakerOpenTimeout   = 30 * time.Second
	DefaultClaimLease           = time.Minute
)

type DeliveryConfig struct {
	TargetURL            string        `koanf:"target_url" mapstructure:"target_url"`
	MaxAttempts          int           `koanf:"max_attempts" mapstructure:"max_attempts"`
	BaseBackoff          time.Duration `koanf:"base_backoff" mapstructure:"base_backoff"`
	MaxBackoff           time.Duration `koanf:"max_backoff" mapstructure:"max_backoff"`
	Jitter               float64       `koanf:"jitter" mapstructure:"jitter"`
	RequestTimeout       time.Duration `koanf:"request_timeout" mapstructure:"request_timeout"`
	Workers              int           `koanf:"workers" mapstructure:"workers"`
	PollInterval         time.Duration `koanf:"poll_interval" mapstructure:"poll_interval"`
	BatchSize            int           `koanf:"batch_size" mapstructure:"batch_size"`
	MaxResponseBodyBytes int64         `koanf:"max_response_body_bytes" mapstructure:"max_response_body_bytes"`
	UserAgent            string        `koanf:"user_agent" mapstructure:"user_agent"`
	SigningSecret        string        `koanf:"signing_secret" mapstructure:"signing_secret"`
	DedupeWindow         time.Duration `koanf:"dedupe_window" mapstructure:"dedupe_window"`

	// BreakerFailures trips a per-host circuit breaker after that many
	// consecutive failed sends. Zero leaves the breaker off.
	BreakerFailures    int           `koanf:"breaker_failures" mapstructure:"breaker_failures"`
	BreakerOpenTimeout time.Duration `koanf:"breaker_open_timeout" mapstructure:"breaker_open_timeout"`
}

type AccountConfig struct {
	Disabled      bool          `koanf:"disabled" mapstructure:"disabled"`
	LookupTimeout time.Duration `koanf:"lookup_timeout" mapstructure:"lookup_timeout"`
}

// KindPolicy overrides delivery settings for one intent kind.
type KindPolicy struct {
	TargetURL   string `koanf:"target_url" mapstructure:"target_url"`
	MaxAttempts int    `koanf:"max_attempts" mapstructure:"max_attempts"`
	Disabled    bool   `koanf:"disabled" mapstructure:"disabled"`
}

type Config struct {
	ServiceName string                `koanf:"service_name" mapstructure:"service_name"`
	Delivery    DeliveryConfig        `koanf:"delivery" mapstructure:"delivery"`
	Account     AccountConfig         `koanf:"account" mapstructure:"account"`
	Kinds       map[string]KindPolicy `koanf:"kinds" mapstructure:"kinds"`
}

func DefaultConfig() Config {
	return Config{
		ServiceName: "billing-hooks",
		Delivery: DeliveryConfig{
			MaxAttempts:          DefaultMaxAttempts,
			BaseBackoff:          DefaultBaseBackoff,
			MaxBackoff:           DefaultMaxBackoff,
			Jitter:               DefaultJitter,
			RequestTimeout:       DefaultRequestTimeout,
			Workers:              DefaultWorkers,
			PollInterval:         DefaultPollInterval,
			BatchSize:            DefaultBatchSize,
			MaxResponseBodyBytes: DefaultMaxResponseBodyBytes,
			UserAgent:            DefaultUserAgent,
			BreakerOpenTimeout:   DefaultBreakerOpenTimeout,
		},
		Account: AccountConfig{
			LookupTimeout: DefaultAccountLookupTimeout,
		},
	}
}

func (c Config) Validate() error {
	if strings.TrimSpace(c.ServiceName) == "" {
		return fmt.Errorf("core: service_name is required")
	}
	d := c.Delivery
	if d.MaxAttempts < 1 {
		return fmt.Errorf("core: delivery.max_attempts must be at least 1")
	}
	if d.BaseBackoff <= 0 {
		return fmt.Errorf("core: delivery.base_backoff must be positive")
	}
	if d.MaxBackoff < d.BaseBackoff {
		return fmt.Errorf("core: delivery.max_backoff must be >= delivery.base_backoff")
	}
	if d.Jitter < 0 || d.Jitter > 1 {
		return fmt.Errorf("core: delivery.jitter must be within [0, 1]")
	}
	if d.RequestTimeout <= 0 {
		return fmt.Errorf("core: delivery.request_timeout must be positive")
	}
	if d.Workers < 1 {
		return fmt.Errorf("core: delivery.workers must be at least 1")
	}
	if d.PollInterval <= 0 {
		return fmt.Errorf("core: delivery.poll_interval must be positive")
	}
	if d.BatchSize < 1 {
		return fmt.Errorf("core: delivery.batch_size must be at least 1")
	}
	if d.DedupeWindow < 0 {
		return fmt.Errorf("core: delivery.dedupe_window must not be negative")
	}
	if d.BreakerFailures < 0 {
		return fmt.Errorf("core: delivery.breaker_failures must not be negative")
	}
	if d.BreakerFailures > 0 && d.BreakerOpenTimeout <= 0 {
		return fmt.Errorf("core: delivery.breaker_open_timeout must be positive when the breaker is on")
	}
	if err := ValidateTargetURL(d.TargetURL, true); err != nil {
		return err
	}
	if c.Account.LookupTimeout < 0 {
		return fmt.Errorf("core: account.lookup_timeout must not be negative")
	}
	for name, policy := range c.Kinds {
		if !IntentKind(name).Valid() {
			return fmt.Errorf("core: kinds.%s is not a known intent kind", name)
		}
		if policy.MaxAttempts < 0 {
			return fmt.Errorf("core: kinds.%s.max_attempts must not be negative", name)
		}
		if err := ValidateTargetURL(policy.TargetURL, true); err != nil {
			return fmt.Errorf("core: kinds.%s: %w", name, err)
		}
	}
	return nil
}

// DeliveryTarget is the resolved destination and retry budget for a kind.
type DeliveryTarget struct {
	URL         string
	MaxAttempts int
	Disabled    bool
}

func (c Config) TargetFor(kind IntentKind) DeliveryTarget {
	target := DeliveryTarget{
		URL:         strings.TrimSpace(c.Delivery.TargetURL),
		MaxAttempts: c.Delivery.MaxAttempts,
	}
	policy, ok := c.Kinds[string(kind)]
	if !ok {
		return target
	}
	if override := strings.TrimSpace(policy.TargetURL); override != "" {
		target.URL = override
	}
	if policy.MaxAttempts > 0 {
		target.MaxAttempts = policy.MaxAttempts
	}
	target.Disabled = policy.Disabled
	return target
}

func ValidateTargetURL(raw string, allowEmpty bool) error {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		if allowEmpty {
			return nil
		}
		return fmt.Errorf("core: target url is required")
	}
	parsed, err := url.Parse(raw)
	if err != nil {
		return fmt.Errorf("core: target url is invalid: %w", err)
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return fmt.Errorf("core: target url scheme %q is invalid", parsed.Scheme)
	}
	if strings.TrimSpace(parsed.Host) == "" {
		return fmt.Errorf("core: target url host is required")
	}
	return nil
}
