package core

import (
	"context"
	"errors"
	"testing"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

type fixedConfigProvider struct {
	cfg Config
}

func (p *fixedConfigProvider) Load(context.Context, Config) (Config, error) {
	return p.cfg, nil
}

type failingConfigProvider struct{}

func (failingConfigProvider) Load(context.Context, Config) (Config, error) {
	return Config{}, errors.New("config source unavailable")
}

func TestNewService_DefaultDependencies(t *testing.T) {
	svc, err := NewService(Config{}, WithDeliveryPipeline(&stubPipeline{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	deps := svc.Dependencies()
	if deps.Logger == nil {
		t.Fatalf("expected default logger")
	}
	if deps.LoggerProvider == nil {
		t.Fatalf("expected default logger provider")
	}
	if deps.ErrorMapper == nil {
		t.Fatalf("expected default error mapper")
	}
	if deps.ConfigProvider == nil || deps.OptionsResolver == nil {
		t.Fatalf("expected default config provider and options resolver")
	}
	cfg := svc.Config()
	if cfg.ServiceName != "billing-hooks" {
		t.Fatalf("expected default service name, got %q", cfg.ServiceName)
	}
	if cfg.Delivery.MaxAttempts != DefaultMaxAttempts || cfg.Delivery.RequestTimeout != DefaultRequestTimeout {
		t.Fatalf("expected delivery defaults, got %+v", cfg.Delivery)
	}
}

func TestNewService_RequiresPipeline(t *testing.T) {
	if _, err := NewService(Config{}); err == nil {
		t.Fatalf("expected error without delivery pipeline")
	}
}

func TestNewService_WithLoggerProvider(t *testing.T) {
	custom := stubLogger{}
	svc, err := NewService(Config{},
		WithLoggerProvider(stubLoggerProvider{logger: custom}),
		WithDeliveryPipeline(&stubPipeline{}),
		WithMetricsRecorder(&recordingMetrics{}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, ok := svc.Dependencies().Logger.(stubLogger); !ok {
		t.Fatalf("expected logger from provider, got %T", svc.Dependencies().Logger)
	}
	if _, ok := svc.Dependencies().MetricsRecorder.(*recordingMetrics); !ok {
		t.Fatalf("expected custom metrics recorder")
	}
}

func TestResolveConfig_LayersDefaultsLoadedAndRuntime(t *testing.T) {
	provider := NewCfgxConfigProvider(mapRawLoader{values: map[string]any{
		"service_name": "billing-hooks-test",
		"delivery": map[string]any{
			"target_url":   "https://loaded.example.com/hook",
			"max_attempts": 7,
			"workers":      2,
		},
		"kinds": map[string]any{
			"OverdueInvoice": map[string]any{"max_attempts": 10},
		},
	}})
	runtime := Config{Delivery: DeliveryConfig{BaseBackoff: 250 * time.Millisecond}}

	cfg, err := ResolveConfig(context.Background(), provider, GoOptionsResolver{}, runtime)
	if err != nil {
		t.Fatalf("resolve config: %v", err)
	}
	if cfg.ServiceName != "billing-hooks-test" {
		t.Fatalf("expected loaded service name, got %q", cfg.ServiceName)
	}
	if cfg.Delivery.TargetURL != "https://loaded.example.com/hook" || cfg.Delivery.MaxAttempts != 7 || cfg.Delivery.Workers != 2 {
		t.Fatalf("expected loaded delivery values, got %+v", cfg.Delivery)
	}
	if cfg.Delivery.BaseBackoff != 250*time.Millisecond {
		t.Fatalf("expected runtime base backoff, got %s", cfg.Delivery.BaseBackoff)
	}
	if cfg.Delivery.RequestTimeout != DefaultRequestTimeout {
		t.Fatalf("expected default request timeout, got %s", cfg.Delivery.RequestTimeout)
	}
	if got := cfg.TargetFor(IntentKindOverdueInvoice).MaxAttempts; got != 10 {
		t.Fatalf("expected overdue invoice override, got %d", got)
	}
	if got := cfg.TargetFor(IntentKindInvoiceCreation).MaxAttempts; got != 7 {
		t.Fatalf("expected invoice creation to use delivery max attempts, got %d", got)
	}
}

func TestNewService_ConfigProviderErrorIsMapped(t *testing.T) {
	_, err := NewService(Config{},
		WithConfigProvider(failingConfigProvider{}),
		WithDeliveryPipeline(&stubPipeline{}),
	)
	if err == nil {
		t.Fatalf("expected config error")
	}
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		t.Fatalf("expected mapped go-errors error, got %T", err)
	}
}

func TestService_DispatchPendingErrorIsMapped(t *testing.T) {
	var mapped []error
	svc, err := NewService(Config{},
		WithDeliveryPipeline(&stubPipeline{dispatchErr: errStubFailure}),
		WithErrorMapper(func(err error) *goerrors.Error {
			mapped = append(mapped, err)
			return goerrors.Wrap(err, goerrors.CategoryExternal, "dispatch failed").
				WithTextCode(ServiceErrorDeliveryTransientFailure)
		}),
	)
	if err != nil {
		t.Fatalf("new service: %v", err)
	}

	stats, err := svc.DispatchPending(context.Background(), 3)
	if !IsTextCode(err, ServiceErrorDeliveryTransientFailure) {
		t.Fatalf("expected mapped dispatch error, got %v", err)
	}
	if !errors.Is(err, errStubFailure) {
		t.Fatalf("expected mapped error to keep its cause, got %v", err)
	}
	if stats.Claimed != 3 {
		t.Fatalf("expected partial stats to survive mapping, got %+v", stats)
	}
	if len(mapped) != 1 {
		t.Fatalf("expected one error routed through the mapper, got %d", len(mapped))
	}

	healthy, err := NewService(Config{}, WithDeliveryPipeline(&stubPipeline{}))
	if err != nil {
		t.Fatalf("new service: %v", err)
	}
	if _, err := healthy.DispatchPending(context.Background(), 1); err != nil {
		t.Fatalf("expected nil error to stay nil, got %v", err)
	}
}

func TestNewService_FixedProviderValidation(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Delivery.Jitter = 2
	_, err := NewService(Config{},
		WithConfigProvider(&fixedConfigProvider{cfg: cfg}),
		WithDeliveryPipeline(&stubPipeline{}),
	)
	if err == nil {
		t.Fatalf("expected validation error for jitter out of range")
	}
}

func TestConfigValidate(t *testing.T) {
	cases := map[string]func(*Config){
		"service name":   func(c *Config) { c.ServiceName = " " },
		"max attempts":   func(c *Config) { c.Delivery.MaxAttempts = 0 },
		"max backoff":    func(c *Config) { c.Delivery.MaxBackoff = time.Millisecond },
		"target scheme":  func(c *Config) { c.Delivery.TargetURL = "ftp://example.com" },
		"target host":    func(c *Config) { c.Delivery.TargetURL = "https://" },
		"unknown kind":   func(c *Config) { c.Kinds = map[string]KindPolicy{"Refund": {}} },
		"kind target":    func(c *Config) { c.Kinds = map[string]KindPolicy{"PaymentFailed": {TargetURL: "nope"}} },
		"request budget": func(c *Config) { c.Delivery.RequestTimeout = 0 },
		"breaker count":  func(c *Config) { c.Delivery.BreakerFailures = -1 },
	}
	for name, mutate := range cases {
		cfg := testConfig()
		mutate(&cfg)
		if err := cfg.Validate(); err == nil {
			t.Fatalf("%s: expected validation error", name)
		}
	}
	if err := testConfig().Validate(); err != nil {
		t.Fatalf("expected test config to validate: %v", err)
	}

	breaker := testConfig()
	breaker.Delivery.BreakerFailures = 3
	breaker.Delivery.BreakerOpenTimeout = 0
	if err := breaker.Validate(); err == nil {
		t.Fatalf("expected breaker without open timeout to be rejected")
	}
}
