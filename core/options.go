package core

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-config/cfgx"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	opts "github.com/goliatone/go-options"
)

type ErrorMapper func(err error) *goerrors.Error

type ConfigProvider interface {
	Load(ctx context.Context, defaults Config) (Config, error)
}

type RawConfigLoader interface {
	LoadRaw(ctx context.Context) (map[string]any, error)
}

// RawConfigLoaderFunc adapts a function to RawConfigLoader.
type RawConfigLoaderFunc func(ctx context.Context) (map[string]any, error)

func (fn RawConfigLoaderFunc) LoadRaw(ctx context.Context) (map[string]any, error) {
	if fn == nil {
		return map[string]any{}, nil
	}
	return fn(ctx)
}

type OptionsResolver interface {
	Resolve(defaults Config, loaded Config, runtime Config) (Config, error)
}

type serviceBuilder struct {
	runtimeConfig   Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	accountAPI      AccountAPI
	pipeline        DeliveryPipeline
}

type Option func(*serviceBuilder)

func WithLogger(logger Logger) Option {
	return func(b *serviceBuilder) {
		b.logger = logger
	}
}

func WithLoggerProvider(provider LoggerProvider) Option {
	return func(b *serviceBuilder) {
		b.loggerProvider = provider
	}
}

func WithMetricsRecorder(recorder MetricsRecorder) Option {
	return func(b *serviceBuilder) {
		b.metricsRecorder = recorder
	}
}

func WithErrorMapper(mapper ErrorMapper) Option {
	return func(b *serviceBuilder) {
		b.errorMapper = mapper
	}
}

func WithConfigProvider(provider ConfigProvider) Option {
	return func(b *serviceBuilder) {
		b.configProvider = provider
	}
}

func WithOptionsResolver(resolver OptionsResolver) Option {
	return func(b *serviceBuilder) {
		b.optionsResolver = resolver
	}
}

func WithAccountAPI(api AccountAPI) Option {
	return func(b *serviceBuilder) {
		b.accountAPI = api
	}
}

func WithDeliveryPipeline(pipeline DeliveryPipeline) Option {
	return func(b *serviceBuilder) {
		b.pipeline = pipeline
	}
}

func defaultServiceBuilder(runtime Config) serviceBuilder {
	loggerProvider, logger := glog.Resolve("billing-hooks", nil, nil)
	return serviceBuilder{
		runtimeConfig:   runtime,
		loggerProvider:  loggerProvider,
		logger:          logger,
		metricsRecorder: NopMetricsRecorder{},
		errorMapper:     MapError,
		configProvider:  NewCfgxConfigProvider(nil),
		optionsResolver: GoOptionsResolver{},
	}
}

// ResolveConfig runs the defaults, loaded, and runtime layers through the
// same pipeline NewService uses.
func ResolveConfig(ctx context.Context, provider ConfigProvider, resolver OptionsResolver, runtime Config) (Config, error) {
	if provider == nil {
		provider = NewCfgxConfigProvider(nil)
	}
	if resolver == nil {
		resolver = GoOptionsResolver{}
	}
	defaults := DefaultConfig()
	loaded, err := provider.Load(ctx, defaults)
	if err != nil {
		return Config{}, err
	}
	return resolver.Resolve(defaults, loaded, runtime)
}

type staticRawConfigLoader struct {
	Values map[string]any
}

func (l staticRawConfigLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.Values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.Values))
	for key, value := range l.Values {
		out[key] = value
	}
	return out, nil
}

type CfgxConfigProvider struct {
	Loader RawConfigLoader
}

func NewCfgxConfigProvider(loader RawConfigLoader) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: loader}
}

func NewStaticConfigProvider(values map[string]any) *CfgxConfigProvider {
	return &CfgxConfigProvider{Loader: staticRawConfigLoader{Values: values}}
}

func (p *CfgxConfigProvider) Load(ctx context.Context, defaults Config) (Config, error) {
	if p == nil {
		return defaults, nil
	}
	loader := p.Loader
	if loader == nil {
		loader = staticRawConfigLoader{}
	}
	raw, err := loader.LoadRaw(ctx)
	if err != nil {
		return Config{}, err
	}
	cfg, err := cfgx.Build[Config](raw,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	return cfg, nil
}

type GoOptionsResolver struct{}

func (GoOptionsResolver) Resolve(defaults Config, loaded Config, runtime Config) (Config, error) {
	defaultLayer := configToLayerMap(defaults, true)
	loadedLayer := configToLayerMap(loaded, false)
	runtimeLayer := configToLayerMap(runtime, false)

	stack, err := opts.NewStack(
		opts.NewLayer(
			opts.NewScope("defaults", 0),
			defaultLayer,
			opts.WithSnapshotID[map[string]any]("defaults"),
		),
		opts.NewLayer(
			opts.NewScope("config", 10),
			loadedLayer,
			opts.WithSnapshotID[map[string]any]("config"),
		),
		opts.NewLayer(
			opts.NewScope("runtime", 20),
			runtimeLayer,
			opts.WithSnapshotID[map[string]any]("runtime"),
		),
	)
	if err != nil {
		return Config{}, fmt.Errorf("core: options stack build failed: %w", err)
	}
	merged, err := stack.Merge()
	if err != nil {
		return Config{}, fmt.Errorf("core: options merge failed: %w", err)
	}
	resolved, err := cfgx.Build[Config](merged.Value,
		cfgx.WithDefaults(defaults),
		cfgx.WithValidator[Config]((*Config).Validate),
	)
	if err != nil {
		return Config{}, err
	}
	if err := resolved.Validate(); err != nil {
		return Config{}, err
	}
	return resolved, nil
}

func configToLayerMap(cfg Config, includeZero bool) map[string]any {
	layer := map[string]any{}
	if includeZero || strings.TrimSpace(cfg.ServiceName) != "" {
		layer["service_name"] = cfg.ServiceName
	}

	delivery := map[string]any{}
	d := cfg.Delivery
	setString := func(key string, value string) {
		if includeZero || strings.TrimSpace(value) != "" {
			delivery[key] = value
		}
	}
	setInt := func(key string, value int64) {
		if includeZero || value != 0 {
			delivery[key] = value
		}
	}
	setDuration := func(key string, value time.Duration) {
		if includeZero || value != 0 {
			delivery[key] = value
		}
	}
	setString("target_url", d.TargetURL)
	setInt("max_attempts", int64(d.MaxAttempts))
	setDuration("base_backoff", d.BaseBackoff)
	setDuration("max_backoff", d.MaxBackoff)
	if includeZero || d.Jitter != 0 {
		delivery["jitter"] = d.Jitter
	}
	setDuration("request_timeout", d.RequestTimeout)
	setInt("workers", int64(d.Workers))
	setDuration("poll_interval", d.PollInterval)
	setInt("batch_size", int64(d.BatchSize))
	setInt("max_response_body_bytes", d.MaxResponseBodyBytes)
	setString("user_agent", d.UserAgent)
	setString("signing_secret", d.SigningSecret)
	setDuration("dedupe_window", d.DedupeWindow)
	setInt("breaker_failures", int64(d.BreakerFailures))
	setDuration("breaker_open_timeout", d.BreakerOpenTimeout)
	if len(delivery) > 0 {
		layer["delivery"] = delivery
	}

	account := map[string]any{}
	if includeZero || cfg.Account.Disabled {
		account["disabled"] = cfg.Account.Disabled
	}
	if includeZero || cfg.Account.LookupTimeout != 0 {
		account["lookup_timeout"] = cfg.Account.LookupTimeout
	}
	if len(account) > 0 {
		layer["account"] = account
	}

	if includeZero || len(cfg.Kinds) > 0 {
		kinds := make(map[string]any, len(cfg.Kinds))
		for name, policy := range cfg.Kinds {
			kinds[name] = map[string]any{
				"target_url":   policy.TargetURL,
				"max_attempts": policy.MaxAttempts,
				"disabled":     policy.Disabled,
			}
		}
		layer["kinds"] = kinds
	}
	return layer
}
