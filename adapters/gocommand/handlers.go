package gocommand

import (
	"fmt"

	hookcommand "github.com/goliatone/go-billing-hooks/command"
	hookquery "github.com/goliatone/go-billing-hooks/query"
	commanddispatcher "github.com/goliatone/go-command/dispatcher"
	"github.com/goliatone/go-command/runner"
)

// BillingHooksService is the service surface the billing hook handlers
// delegate to. *core.Service satisfies it.
type BillingHooksService interface {
	hookcommand.EventService
	hookcommand.NotificationService
	hookcommand.DispatchService
	hookquery.JobReader
}

// HandlerRegistration holds the dispatcher subscriptions created by
// RegisterBillingHooksHandlers.
type HandlerRegistration struct {
	subscriptions []commanddispatcher.Subscription
}

func (r *HandlerRegistration) Len() int {
	if r == nil {
		return 0
	}
	return len(r.subscriptions)
}

// Close removes every subscription.
func (r *HandlerRegistration) Close() {
	if r == nil {
		return
	}
	for _, subscription := range r.subscriptions {
		if subscription != nil {
			subscription.Unsubscribe()
		}
	}
	r.subscriptions = nil
}

// RegisterBillingHooksHandlers registers and subscribes the billing hook
// commands and queries. On failure, subscriptions made so far are removed.
func RegisterBillingHooksHandlers(
	adapter *RegistryAdapter,
	service BillingHooksService,
	runnerOpts ...runner.Option,
) (*HandlerRegistration, error) {
	if adapter == nil || adapter.registry == nil {
		return nil, fmt.Errorf("gocommand: registry is not configured")
	}
	if service == nil {
		return nil, fmt.Errorf("gocommand: billing hooks service is required")
	}

	registration := &HandlerRegistration{}
	add := func(subscription commanddispatcher.Subscription, err error) error {
		if err != nil {
			registration.Close()
			return err
		}
		registration.subscriptions = append(registration.subscriptions, subscription)
		return nil
	}

	if err := add(registerAndSubscribe(adapter, hookcommand.NewHandleEventCommand(service), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := add(registerAndSubscribe(adapter, hookcommand.NewEnqueueNotificationCommand(service), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := add(registerAndSubscribe(adapter, hookcommand.NewDispatchPendingCommand(service), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := add(registerAndSubscribeQuery(adapter, hookquery.NewGetJobStatusQuery(service), runnerOpts...)); err != nil {
		return nil, err
	}
	if err := add(registerAndSubscribeQuery(adapter, hookquery.NewListJobAttemptsQuery(service), runnerOpts...)); err != nil {
		return nil, err
	}
	return registration, nil
}
