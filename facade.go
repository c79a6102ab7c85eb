package billinghooks

import (
	"fmt"

	hookcommand "github.com/goliatone/go-billing-hooks/command"
	hookquery "github.com/goliatone/go-billing-hooks/query"
)

// CommandQueryService is the service surface behind the facade handlers.
type CommandQueryService interface {
	hookcommand.EventService
	hookcommand.NotificationService
	hookcommand.DispatchService
	hookquery.JobReader
}

type Commands struct {
	HandleEvent         *hookcommand.HandleEventCommand
	EnqueueNotification *hookcommand.EnqueueNotificationCommand
	DispatchPending     *hookcommand.DispatchPendingCommand
}

type Queries struct {
	GetJobStatus    *hookquery.GetJobStatusQuery
	ListJobAttempts *hookquery.ListJobAttemptsQuery
}

type Facade struct {
	service  CommandQueryService
	commands Commands
	queries  Queries
}

func NewFacade(service CommandQueryService) (*Facade, error) {
	if service == nil {
		return nil, fmt.Errorf("billinghooks: command/query service is required")
	}
	return &Facade{
		service: service,
		commands: Commands{
			HandleEvent:         hookcommand.NewHandleEventCommand(service),
			EnqueueNotification: hookcommand.NewEnqueueNotificationCommand(service),
			DispatchPending:     hookcommand.NewDispatchPendingCommand(service),
		},
		queries: Queries{
			GetJobStatus:    hookquery.NewGetJobStatusQuery(service),
			ListJobAttempts: hookquery.NewListJobAttemptsQuery(service),
		},
	}, nil
}

func (f *Facade) Commands() Commands {
	if f == nil {
		return Commands{}
	}
	return f.commands
}

func (f *Facade) Queries() Queries {
	if f == nil {
		return Queries{}
	}
	return f.queries
}

func (f *Facade) Service() CommandQueryService {
	if f == nil {
		return nil
	}
	return f.service
}
