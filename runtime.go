package billinghooks

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/goliatone/go-billing-hooks/adapters/gologger"
	"github.com/goliatone/go-billing-hooks/core"
	"github.com/goliatone/go-billing-hooks/ratelimit"
	"github.com/goliatone/go-billing-hooks/transport"
	"github.com/goliatone/go-billing-hooks/webhooks"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/sony/gobreaker"
)

const loggerRoot = "billing_hooks"

// RuntimeOptions supplies the collaborators NewRuntime composes. Nil fields
// fall back to an in-memory job store and a pooled HTTP sender.
type RuntimeOptions struct {
	Store           core.JobStore
	Sender          core.Sender
	AccountAPI      core.AccountAPI
	Logger          core.Logger
	LoggerProvider  core.LoggerProvider
	MetricsRecorder core.MetricsRecorder
	ConfigProvider  core.ConfigProvider
	Throttle        webhooks.TargetThrottle
	Clock           func() time.Time

	// InstanceID owns this runtime's job claims. Empty picks a random id.
	InstanceID string
}

// Runtime is a fully wired listener plus delivery pipeline.
type Runtime struct {
	config   core.Config
	store    core.JobStore
	pipeline *webhooks.Pipeline
	service  *core.Service
	facade   *Facade
}

func NewRuntime(ctx context.Context, cfg core.Config, options RuntimeOptions) (*Runtime, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	resolved, err := core.ResolveConfig(ctx, options.ConfigProvider, nil, cfg)
	if err != nil {
		return nil, err
	}

	provider, logger := glog.Resolve(loggerRoot, options.LoggerProvider, options.Logger)
	metrics := options.MetricsRecorder
	if metrics == nil {
		metrics = core.NopMetricsRecorder{}
	}

	store := options.Store
	if store == nil {
		store = webhooks.NewMemoryJobStore()
	}
	sender := options.Sender
	if sender == nil {
		httpSender := transport.NewHTTPSender(nil)
		httpSender.DefaultTimeout = resolved.Delivery.RequestTimeout
		httpSender.MaxResponseBodyBytes = resolved.Delivery.MaxResponseBodyBytes
		sender = httpSender
	}
	if failures := resolved.Delivery.BreakerFailures; failures > 0 {
		breakerLogger := gologger.ComponentLogger(provider, loggerRoot, "breaker")
		sender = transport.NewBreakerSender(sender, transport.BreakerSettings{
			ConsecutiveFailures: uint32(failures),
			OpenTimeout:         resolved.Delivery.BreakerOpenTimeout,
			OnStateChange: func(target string, from, to gobreaker.State) {
				breakerLogger.Warn("delivery circuit state changed", "target", target, "from", from.String(), "to", to.String())
			},
		})
	}

	pipelineOpts := []webhooks.PipelineOption{
		webhooks.WithLogger(gologger.ComponentLogger(provider, loggerRoot, "webhooks")),
		webhooks.WithMetricsRecorder(metrics),
		webhooks.WithRetryPolicy(webhooks.RetryPolicyFromDelivery(resolved.Delivery)),
	}
	if secret := strings.TrimSpace(resolved.Delivery.SigningSecret); secret != "" {
		pipelineOpts = append(pipelineOpts, webhooks.WithSigner(webhooks.HMACSigner{Secret: secret}))
	}
	if window := resolved.Delivery.DedupeWindow; window > 0 {
		pipelineOpts = append(pipelineOpts, webhooks.WithBurstController(webhooks.NewBurstController(webhooks.BurstOptions{
			Mode:   webhooks.BurstModeCoalesce,
			Window: window,
			Now:    options.Clock,
		})))
	}
	throttle := options.Throttle
	if throttle == nil {
		targetThrottle := ratelimit.NewTargetThrottle(nil)
		if options.Clock != nil {
			targetThrottle.Now = options.Clock
		}
		if resolved.Delivery.MaxBackoff > 0 {
			targetThrottle.MaxBackoff = resolved.Delivery.MaxBackoff
		}
		throttle = targetThrottle
	}
	pipelineOpts = append(pipelineOpts, webhooks.WithTargetThrottle(throttle))
	if options.Clock != nil {
		pipelineOpts = append(pipelineOpts, webhooks.WithClock(options.Clock))
	}
	if options.InstanceID != "" {
		pipelineOpts = append(pipelineOpts, webhooks.WithInstanceID(options.InstanceID))
	}

	pipeline, err := webhooks.NewPipeline(store, sender, webhooks.PipelineConfigFromDelivery(resolved.Delivery), pipelineOpts...)
	if err != nil {
		return nil, err
	}

	serviceOpts := []core.Option{
		core.WithDeliveryPipeline(pipeline),
		core.WithLogger(logger),
		core.WithMetricsRecorder(metrics),
	}
	if provider != nil {
		serviceOpts = append(serviceOpts, core.WithLoggerProvider(provider))
	}
	if options.AccountAPI != nil {
		serviceOpts = append(serviceOpts, core.WithAccountAPI(options.AccountAPI))
	}
	service, err := core.NewService(resolved, serviceOpts...)
	if err != nil {
		return nil, err
	}
	facade, err := NewFacade(service)
	if err != nil {
		return nil, err
	}

	return &Runtime{
		config:   resolved,
		store:    store,
		pipeline: pipeline,
		service:  service,
		facade:   facade,
	}, nil
}

func (r *Runtime) Config() core.Config {
	if r == nil {
		return core.Config{}
	}
	return r.config
}

func (r *Runtime) Service() *core.Service {
	if r == nil {
		return nil
	}
	return r.service
}

func (r *Runtime) Pipeline() *webhooks.Pipeline {
	if r == nil {
		return nil
	}
	return r.pipeline
}

func (r *Runtime) Store() core.JobStore {
	if r == nil {
		return nil
	}
	return r.store
}

func (r *Runtime) Facade() *Facade {
	if r == nil {
		return nil
	}
	return r.facade
}

// Start releases jobs stranded in flight and launches the delivery workers.
func (r *Runtime) Start(ctx context.Context) error {
	if r == nil || r.service == nil {
		return fmt.Errorf("billinghooks: runtime is not configured")
	}
	return r.service.Start(ctx)
}

// Shutdown stops the workers, bounded by ctx.
func (r *Runtime) Shutdown(ctx context.Context) (core.ShutdownReport, error) {
	if r == nil || r.service == nil {
		return core.ShutdownReport{}, fmt.Errorf("billinghooks: runtime is not configured")
	}
	return r.service.Shutdown(ctx)
}
