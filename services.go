package billinghooks

import "github.com/goliatone/go-billing-hooks/core"

type Config = core.Config

type DeliveryConfig = core.DeliveryConfig

type KindPolicy = core.KindPolicy

type Option = core.Option

type Service = core.Service

type ServiceDependencies = core.ServiceDependencies

type DomainEvent = core.DomainEvent
type EventResult = core.EventResult
type NotificationIntent = core.NotificationIntent
type IntentKind = core.IntentKind
type JobStatus = core.JobStatus
type JobStatusView = core.JobStatusView
type DeliveryOutcome = core.DeliveryOutcome
type DispatchStats = core.DispatchStats
type ShutdownReport = core.ShutdownReport

type Account = core.Account
type AccountAPI = core.AccountAPI
type TenantContext = core.TenantContext
type JobStore = core.JobStore
type Sender = core.Sender
type PayloadSigner = core.PayloadSigner
type MetricsRecorder = core.MetricsRecorder

var (
	WithLogger           = core.WithLogger
	WithLoggerProvider   = core.WithLoggerProvider
	WithMetricsRecorder  = core.WithMetricsRecorder
	WithErrorMapper      = core.WithErrorMapper
	WithConfigProvider   = core.WithConfigProvider
	WithOptionsResolver  = core.WithOptionsResolver
	WithAccountAPI       = core.WithAccountAPI
	WithDeliveryPipeline = core.WithDeliveryPipeline
)

var (
	DefaultConfig = core.DefaultConfig
	NewService    = core.NewService
	Setup         = core.Setup
	Classify      = core.Classify
	BuildPayload  = core.BuildPayload
)
