package gocommand

import (
	"context"
	"fmt"
	"strings"

	hookcommand "github.com/goliatone/go-billing-hooks/command"
	"github.com/goliatone/go-billing-hooks/core"
	hookquery "github.com/goliatone/go-billing-hooks/query"
	"github.com/goliatone/go-command"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
	jobqueuecommand "github.com/goliatone/go-job/queue/command"
	"github.com/google/uuid"
)

// CommandTypes lists the billing hook command message types in
// registration order.
func CommandTypes() []string {
	return []string{
		hookcommand.TypeHandleEvent,
		hookcommand.TypeEnqueueNotification,
		hookcommand.TypeDispatchPending,
	}
}

// QueryTypes lists the billing hook query message types.
func QueryTypes() []string {
	return []string{
		hookquery.TypeGetJobStatus,
		hookquery.TypeListJobAttempts,
	}
}

// ValidateMessageContract checks that msg carries one of the billing hook
// message types and passes its own Validate().
func ValidateMessageContract(msg any) error {
	if err := command.ValidateMessage(msg); err != nil {
		return err
	}
	m, ok := msg.(command.Message)
	if !ok {
		return fmt.Errorf("gocommand: message must implement Type() string")
	}
	messageType := strings.TrimSpace(m.Type())
	if messageType == "" {
		return fmt.Errorf("gocommand: message type is required")
	}
	if !strings.HasPrefix(messageType, "billing_hooks.") {
		return fmt.Errorf("gocommand: %q is not a billing hooks message", messageType)
	}
	return nil
}

// RegistryAdapter registers the billing hook handlers on a go-command
// registry, optionally mirroring them into a go-job queue registry.
type RegistryAdapter struct {
	registry *command.Registry
}

func NewRegistryAdapter(registry *command.Registry) *RegistryAdapter {
	if registry == nil {
		registry = command.NewRegistry()
	}
	return &RegistryAdapter{registry: registry}
}

func (a *RegistryAdapter) Registry() *command.Registry {
	if a == nil {
		return nil
	}
	return a.registry
}

func (a *RegistryAdapter) RegisterCommand(cmd any) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.RegisterCommand(cmd)
}

func (a *RegistryAdapter) AddResolver(key string, resolver command.Resolver) error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.AddResolver(strings.TrimSpace(key), resolver)
}

// AddQueueResolver mirrors registered commands into queueRegistry so a
// go-job worker can run DispatchPending passes.
func (a *RegistryAdapter) AddQueueResolver(key string, queueRegistry *jobqueuecommand.Registry) error {
	if queueRegistry == nil {
		return fmt.Errorf("gocommand: queue registry is required")
	}
	return a.AddResolver(key, jobqueuecommand.QueueResolver(queueRegistry))
}

func (a *RegistryAdapter) HasResolver(key string) bool {
	if a == nil || a.registry == nil {
		return false
	}
	return a.registry.HasResolver(strings.TrimSpace(key))
}

func (a *RegistryAdapter) Initialize() error {
	if a == nil || a.registry == nil {
		return fmt.Errorf("gocommand: registry is not configured")
	}
	return a.registry.Initialize()
}

// HandleEvent dispatches a HandleEventMessage and returns the outcome the
// handler stored.
func HandleEvent(ctx context.Context, event core.DomainEvent) (core.EventResult, error) {
	return dispatchWithResult[core.EventResult](ctx, hookcommand.HandleEventMessage{Event: event})
}

// EnqueueNotification dispatches an EnqueueNotificationMessage and returns
// the new job id.
func EnqueueNotification(ctx context.Context, intent core.NotificationIntent) (uuid.UUID, error) {
	return dispatchWithResult[uuid.UUID](ctx, hookcommand.EnqueueNotificationMessage{Intent: intent})
}

// DispatchPending dispatches a DispatchPendingMessage and returns the pass
// statistics.
func DispatchPending(ctx context.Context, limit int) (core.DispatchStats, error) {
	return dispatchWithResult[core.DispatchStats](ctx, hookcommand.DispatchPendingMessage{Limit: limit})
}

func JobStatus(ctx context.Context, jobID uuid.UUID) (core.JobStatusView, error) {
	msg := hookquery.GetJobStatusMessage{JobID: jobID}
	if err := ValidateMessageContract(msg); err != nil {
		return core.JobStatusView{}, err
	}
	return commanddispatcher.Query[hookquery.GetJobStatusMessage, core.JobStatusView](ctx, msg)
}

func JobAttempts(ctx context.Context, jobID uuid.UUID) ([]core.DeliveryOutcome, error) {
	msg := hookquery.ListJobAttemptsMessage{JobID: jobID}
	if err := ValidateMessageContract(msg); err != nil {
		return nil, err
	}
	return commanddispatcher.Query[hookquery.ListJobAttemptsMessage, []core.DeliveryOutcome](ctx, msg)
}

func dispatchWithResult[R any, T command.Message](ctx context.Context, msg T) (R, error) {
	var zero R
	if err := ValidateMessageContract(msg); err != nil {
		return zero, err
	}
	collector := command.NewResult[R]()
	if err := commanddispatcher.Dispatch(command.ContextWithResult(ctx, collector), msg); err != nil {
		return zero, err
	}
	out, _ := collector.Load()
	return out, nil
}

func registerAndSubscribe[T any](
	adapter *RegistryAdapter,
	cmd command.Commander[T],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if cmd == nil {
		return nil, fmt.Errorf("gocommand: command is required")
	}
	subscription := commanddispatcher.SubscribeCommand(cmd, runnerOpts...)
	if err := adapter.RegisterCommand(cmd); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}

func registerAndSubscribeQuery[T any, R any](
	adapter *RegistryAdapter,
	qry command.Querier[T, R],
	runnerOpts ...runner.Option,
) (commanddispatcher.Subscription, error) {
	if qry == nil {
		return nil, fmt.Errorf("gocommand: query is required")
	}
	subscription := commanddispatcher.SubscribeQuery(qry, runnerOpts...)
	if err := adapter.RegisterCommand(qry); err != nil {
		if subscription != nil {
			subscription.Unsubscribe()
		}
		return nil, err
	}
	return subscription, nil
}
