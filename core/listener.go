package core

import (
	"context"
	"fmt"
	"runtime/debug"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

// Listener turns billing platform events into queued webhook jobs. It runs
// on the event bus goroutine and never performs delivery I/O itself.
type Listener struct {
	config   Config
	enricher *AccountEnricher
	pipeline DeliveryPipeline
	observer Observer
}

func NewListener(cfg Config, pipeline DeliveryPipeline, enricher *AccountEnricher, observer Observer) (*Listener, error) {
	if pipeline == nil {
		return nil, fmt.Errorf("core: delivery pipeline is required")
	}
	return &Listener{
		config:   cfg,
		enricher: enricher,
		pipeline: pipeline,
		observer: observer,
	}, nil
}

// OnEvent is the bus-facing entry point. Every failure is logged and
// swallowed so subsequent events keep flowing.
func (l *Listener) OnEvent(ctx context.Context, event DomainEvent) {
	if l == nil {
		return
	}
	defer func() {
		if recovered := recover(); recovered != nil {
			l.observer.Error(ctx, "billing event handler panicked", map[string]any{
				"event_type": string(event.EventType),
				"object_id":  event.ObjectID.String(),
				"panic":      fmt.Sprint(recovered),
				"stack":      string(debug.Stack()),
			})
			l.observer.Counter(ctx, MetricEventsTotal, 1, map[string]string{
				"event_type": string(event.EventType),
				"outcome":    "panic",
			})
		}
	}()

	if _, err := l.HandleEvent(ctx, event); err != nil {
		mapped := MapError(err)
		fields := eventFields(event)
		fields["error"] = err.Error()
		fields["text_code"] = mapped.TextCode
		for key, value := range mapped.Metadata {
			fields["error_"+key] = value
		}
		l.observer.Error(ctx, "billing event dropped", fields)
	}
}

// HandleEvent logs, classifies and enqueues one event, returning what
// happened. Callers other than the event bus use it to inspect the result.
func (l *Listener) HandleEvent(ctx context.Context, event DomainEvent) (result EventResult, err error) {
	if ctx == nil {
		ctx = context.Background()
	}
	startedAt := time.Now()
	result = EventResult{EventType: event.EventType.Normalize()}
	l.observer.Info(ctx, "billing event received", eventFields(event))
	defer func() {
		outcome := "enqueued"
		switch {
		case err != nil:
			outcome = "error"
		case result.Ignored:
			outcome = "ignored"
		case result.Disabled:
			outcome = "disabled"
		}
		l.observer.Counter(ctx, MetricEventsTotal, 1, map[string]string{
			"event_type": string(result.EventType),
			"outcome":    outcome,
		})
		l.observer.Histogram(ctx, "billing_hooks.events.duration_ms", float64(time.Since(startedAt).Milliseconds()), map[string]string{
			"event_type": string(result.EventType),
		})
	}()

	intent, ok := Classify(event)
	if !ok {
		result.Ignored = true
		l.observer.Debug(ctx, "billing event ignored", eventFields(event))
		return result, nil
	}
	result.Kind = intent.Kind

	target := l.config.TargetFor(intent.Kind)
	if target.Disabled {
		result.Disabled = true
		fields := eventFields(event)
		fields["kind"] = string(intent.Kind)
		l.observer.Debug(ctx, "billing event kind disabled", fields)
		return result, nil
	}

	if intent.Kind == IntentKindAccountChange && l.enricher != nil && !l.config.Account.Disabled {
		intent, result.Enriched = l.enrichAccount(ctx, event, intent)
	}

	if err := ValidateTargetURL(target.URL, false); err != nil {
		return result, NewServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput).
			WithMetadata(map[string]any{"kind": string(intent.Kind)})
	}

	jobID, err := l.pipeline.EnqueueWithPolicy(ctx, intent, target.URL, target.MaxAttempts)
	if err != nil {
		return result, err
	}
	result.JobID = jobID
	return result, nil
}

func (l *Listener) enrichAccount(ctx context.Context, event DomainEvent, intent NotificationIntent) (NotificationIntent, bool) {
	enriched, ok, err := l.enricher.Enrich(ctx, intent)
	fields := eventFields(event)
	if err != nil {
		fields["error"] = err.Error()
		fields["text_code"] = ServiceErrorAccountLookupFailed
		l.observer.Warn(ctx, "account lookup failed", fields)
		l.observer.Counter(ctx, MetricAccountLookupsTotal, 1, map[string]string{"outcome": "failure"})
		return intent, false
	}
	if ok {
		if details, exists := enriched.ExtraFields[AccountDetailsField].(map[string]any); exists {
			for key, value := range details {
				fields["account_"+key] = value
			}
		}
		l.observer.Info(ctx, "account loaded", fields)
	}
	l.observer.Counter(ctx, MetricAccountLookupsTotal, 1, map[string]string{"outcome": "success"})
	return enriched, ok
}

func eventFields(event DomainEvent) map[string]any {
	return map[string]any{
		"event_type":  string(event.EventType),
		"object_id":   event.ObjectID.String(),
		"object_type": string(event.ObjectType),
		"account_id":  event.AccountID.String(),
		"tenant_id":   event.TenantID.String(),
	}
}

var _ EventHandler = (*Listener)(nil)
