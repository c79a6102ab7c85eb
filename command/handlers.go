package command

import (
	"context"

	"github.com/goliatone/go-billing-hooks/core"
	gocmd "github.com/goliatone/go-command"
	"github.com/google/uuid"
)

type EventService interface {
	HandleEvent(ctx context.Context, event core.DomainEvent) (core.EventResult, error)
}

type NotificationService interface {
	Enqueue(ctx context.Context, intent core.NotificationIntent) (uuid.UUID, error)
}

type DispatchService interface {
	DispatchPending(ctx context.Context, limit int) (core.DispatchStats, error)
}

type HandleEventCommand struct {
	service EventService
}

func NewHandleEventCommand(service EventService) *HandleEventCommand {
	return &HandleEventCommand{service: service}
}

func (c *HandleEventCommand) Execute(ctx context.Context, msg HandleEventMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: event service is required")
	}
	out, err := c.service.HandleEvent(ctx, msg.Event)
	if err != nil {
		return err
	}
	storeResult(ctx, out)
	return nil
}

type EnqueueNotificationCommand struct {
	service NotificationService
}

func NewEnqueueNotificationCommand(service NotificationService) *EnqueueNotificationCommand {
	return &EnqueueNotificationCommand{service: service}
}

func (c *EnqueueNotificationCommand) Execute(ctx context.Context, msg EnqueueNotificationMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: notification service is required")
	}
	jobID, err := c.service.Enqueue(ctx, msg.Intent)
	if err != nil {
		return err
	}
	storeResult(ctx, jobID)
	return nil
}

type DispatchPendingCommand struct {
	service DispatchService
}

func NewDispatchPendingCommand(service DispatchService) *DispatchPendingCommand {
	return &DispatchPendingCommand{service: service}
}

func (c *DispatchPendingCommand) Execute(ctx context.Context, msg DispatchPendingMessage) error {
	if c == nil || c.service == nil {
		return commandDependencyError("command: dispatch service is required")
	}
	stats, err := c.service.DispatchPending(ctx, msg.Limit)
	if err != nil {
		return err
	}
	storeResult(ctx, stats)
	return nil
}

func storeResult[T any](ctx context.Context, value T) {
	collector := gocmd.ResultFromContext[T](ctx)
	if collector == nil {
		return
	}
	collector.Store(value)
}
