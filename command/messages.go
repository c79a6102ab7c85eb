package command

import (
	"strings"

	"github.com/goliatone/go-billing-hooks/core"
	"github.com/google/uuid"
)

const (
	TypeHandleEvent         = "billing_hooks.command.event.handle"
	TypeEnqueueNotification = "billing_hooks.command.notification.enqueue"
	TypeDispatchPending     = "billing_hooks.command.webhooks.dispatch"
)

type HandleEventMessage struct {
	Event core.DomainEvent
}

func (HandleEventMessage) Type() string { return TypeHandleEvent }

func (m HandleEventMessage) Validate() error {
	if strings.TrimSpace(string(m.Event.EventType)) == "" {
		return commandValidationError("eventType", "event type is required")
	}
	if m.Event.ObjectID == uuid.Nil {
		return commandValidationError("objectId", "object id is required")
	}
	return nil
}

type EnqueueNotificationMessage struct {
	Intent core.NotificationIntent
}

func (EnqueueNotificationMessage) Type() string { return TypeEnqueueNotification }

func (m EnqueueNotificationMessage) Validate() error {
	if !m.Intent.Kind.Valid() {
		return commandValidationError("kind", "notification kind is invalid")
	}
	if m.Intent.SubjectID == uuid.Nil {
		return commandValidationError("subjectId", "subject id is required")
	}
	return nil
}

type DispatchPendingMessage struct {
	Limit int
}

func (DispatchPendingMessage) Type() string { return TypeDispatchPending }

func (m DispatchPendingMessage) Validate() error {
	if m.Limit < 0 {
		return commandInvalidInputError("command: dispatch limit must not be negative")
	}
	return nil
}
