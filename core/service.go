package core

import (
	"context"
	"errors"

	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

var (
	errPipelineRequired     = errors.New("core: delivery pipeline is required")
	errServiceNotConfigured = errors.New("core: service is not configured")
)

// Service is the composed webhook dispatch engine: the bus-facing listener
// plus the delivery pipeline it feeds.
type Service struct {
	config          Config
	logger          Logger
	loggerProvider  LoggerProvider
	metricsRecorder MetricsRecorder
	errorMapper     ErrorMapper
	configProvider  ConfigProvider
	optionsResolver OptionsResolver
	accountAPI      AccountAPI
	pipeline        DeliveryPipeline
	listener        *Listener
}

type ServiceDependencies struct {
	Logger          Logger
	LoggerProvider  LoggerProvider
	MetricsRecorder MetricsRecorder
	ErrorMapper     ErrorMapper
	ConfigProvider  ConfigProvider
	OptionsResolver OptionsResolver
	AccountAPI      AccountAPI
	Pipeline        DeliveryPipeline
}

func NewService(cfg Config, opts ...Option) (*Service, error) {
	builder := defaultServiceBuilder(cfg)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(&builder)
	}

	provider, logger := glog.Resolve("billing-hooks", builder.loggerProvider, builder.logger)
	logger = glog.Ensure(logger)
	if provider != nil {
		if named := provider.GetLogger("billing-hooks"); named != nil {
			logger = glog.Ensure(named)
		}
	}

	if builder.metricsRecorder == nil {
		builder.metricsRecorder = NopMetricsRecorder{}
	}
	if builder.errorMapper == nil {
		builder.errorMapper = MapError
	}

	finalConfig, err := ResolveConfig(context.Background(), builder.configProvider, builder.optionsResolver, builder.runtimeConfig)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}
	if builder.pipeline == nil {
		return nil, mapBuildError(builder.errorMapper, errPipelineRequired)
	}

	observer := NewObserver(logger, builder.metricsRecorder)
	var enricher *AccountEnricher
	if builder.accountAPI != nil {
		enricher = NewAccountEnricher(builder.accountAPI, finalConfig.Account.LookupTimeout)
	}
	listener, err := NewListener(finalConfig, builder.pipeline, enricher, observer)
	if err != nil {
		return nil, mapBuildError(builder.errorMapper, err)
	}

	return &Service{
		config:          finalConfig,
		logger:          logger,
		loggerProvider:  provider,
		metricsRecorder: builder.metricsRecorder,
		errorMapper:     builder.errorMapper,
		configProvider:  builder.configProvider,
		optionsResolver: builder.optionsResolver,
		accountAPI:      builder.accountAPI,
		pipeline:        builder.pipeline,
		listener:        listener,
	}, nil
}

func Setup(cfg Config, opts ...Option) (*Service, error) {
	return NewService(cfg, opts...)
}

func mapBuildError(mapper ErrorMapper, err error) error {
	if err == nil {
		return nil
	}
	if mapper == nil {
		return err
	}
	mapped := mapper(err)
	if mapped == nil {
		return err
	}
	return mapped
}

func (s *Service) Config() Config {
	if s == nil {
		return Config{}
	}
	return s.config
}

func (s *Service) Dependencies() ServiceDependencies {
	if s == nil {
		return ServiceDependencies{}
	}
	return ServiceDependencies{
		Logger:          s.logger,
		LoggerProvider:  s.loggerProvider,
		MetricsRecorder: s.metricsRecorder,
		ErrorMapper:     s.errorMapper,
		ConfigProvider:  s.configProvider,
		OptionsResolver: s.optionsResolver,
		AccountAPI:      s.accountAPI,
		Pipeline:        s.pipeline,
	}
}

func (s *Service) Listener() *Listener {
	if s == nil {
		return nil
	}
	return s.listener
}

func (s *Service) OnEvent(ctx context.Context, event DomainEvent) {
	if s == nil || s.listener == nil {
		return
	}
	s.listener.OnEvent(ctx, event)
}

func (s *Service) HandleEvent(ctx context.Context, event DomainEvent) (EventResult, error) {
	if s == nil || s.listener == nil {
		return EventResult{}, errServiceNotConfigured
	}
	result, err := s.listener.HandleEvent(ctx, event)
	return result, s.mapError(err)
}

// Enqueue schedules an intent directly, bypassing classification. The
// target and retry budget come from the kind's configured policy.
func (s *Service) Enqueue(ctx context.Context, intent NotificationIntent) (uuid.UUID, error) {
	if s == nil || s.pipeline == nil {
		return uuid.Nil, errServiceNotConfigured
	}
	target := s.config.TargetFor(intent.Kind)
	if err := ValidateTargetURL(target.URL, false); err != nil {
		return uuid.Nil, s.mapError(err)
	}
	jobID, err := s.pipeline.EnqueueWithPolicy(ctx, intent, target.URL, target.MaxAttempts)
	return jobID, s.mapError(err)
}

func (s *Service) Status(ctx context.Context, jobID uuid.UUID) (JobStatusView, error) {
	if s == nil || s.pipeline == nil {
		return JobStatusView{}, errServiceNotConfigured
	}
	view, err := s.pipeline.Status(ctx, jobID)
	return view, s.mapError(err)
}

func (s *Service) Attempts(ctx context.Context, jobID uuid.UUID) ([]DeliveryOutcome, error) {
	if s == nil || s.pipeline == nil {
		return nil, errServiceNotConfigured
	}
	attempts, err := s.pipeline.Attempts(ctx, jobID)
	return attempts, s.mapError(err)
}

func (s *Service) DispatchPending(ctx context.Context, limit int) (DispatchStats, error) {
	if s == nil || s.pipeline == nil {
		return DispatchStats{}, errServiceNotConfigured
	}
	stats, err := s.pipeline.DispatchPending(ctx, limit)
	return stats, s.mapError(err)
}

func (s *Service) Start(ctx context.Context) error {
	if s == nil || s.pipeline == nil {
		return errServiceNotConfigured
	}
	return s.mapError(s.pipeline.Start(ctx))
}

func (s *Service) Shutdown(ctx context.Context) (ShutdownReport, error) {
	if s == nil || s.pipeline == nil {
		return ShutdownReport{}, errServiceNotConfigured
	}
	report, err := s.pipeline.Shutdown(ctx)
	return report, s.mapError(err)
}

func (s *Service) mapError(err error) error {
	if err == nil {
		return nil
	}
	return mapBuildError(s.errorMapper, err)
}

var _ EventHandler = (*Service)(nil)
