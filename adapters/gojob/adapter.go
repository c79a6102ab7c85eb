package gojob

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-billing-hooks/core"

	job "github.com/goliatone/go-job"
	"github.com/goliatone/go-job/queue"
	"github.com/goliatone/go-job/queue/worker"
)

const (
	JobIDWebhookDispatch = "billing.webhooks.dispatch"

	ParamLimit = "limit"

	defaultRetryDelay = 5 * time.Second
)

// RetryPolicy defines queue retry bounds to avoid unbounded retry loops.
type RetryPolicy struct {
	MaxAttempts     int
	MaxDelay        time.Duration
	DeadLetterOnMax bool
}

// NormalizeAttempt enforces bounded retry behavior for a nack operation.
func (p RetryPolicy) NormalizeAttempt(opts queue.NackOptions, attempt int) queue.NackOptions {
	out := opts
	out.Reason = strings.TrimSpace(out.Reason)
	if out.Delay < 0 {
		out.Delay = 0
	}
	if p.MaxDelay > 0 && out.Delay > p.MaxDelay {
		out.Delay = p.MaxDelay
	}
	if out.DeadLetter {
		out.Requeue = false
	}
	if p.MaxAttempts > 0 && attempt >= p.MaxAttempts {
		out.Requeue = false
		if p.DeadLetterOnMax || out.DeadLetter {
			out.DeadLetter = true
		}
	}
	if !out.Requeue && !out.DeadLetter {
		out.Requeue = true
	}
	return out
}

// DispatchService runs one synchronous delivery pass.
type DispatchService interface {
	DispatchPending(ctx context.Context, limit int) (core.DispatchStats, error)
}

// NewDispatchMessage builds the go-job message that triggers one dispatch
// pass over at most limit due jobs. A zero limit uses the pipeline batch size.
func NewDispatchMessage(limit int, idempotencyKey string) *job.ExecutionMessage {
	params := map[string]any{}
	if limit > 0 {
		params[ParamLimit] = limit
	}
	return &job.ExecutionMessage{
		JobID:          JobIDWebhookDispatch,
		ScriptPath:     JobIDWebhookDispatch,
		Parameters:     params,
		IdempotencyKey: strings.TrimSpace(idempotencyKey),
	}
}

// LimitFromMessage reads the dispatch limit parameter. Missing or malformed
// values yield 0.
func LimitFromMessage(msg *job.ExecutionMessage) int {
	if msg == nil || msg.Parameters == nil {
		return 0
	}
	switch value := msg.Parameters[ParamLimit].(type) {
	case int:
		return max(value, 0)
	case int64:
		return max(int(value), 0)
	case float64:
		return max(int(value), 0)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(value))
		if err != nil {
			return 0
		}
		return max(parsed, 0)
	default:
		return 0
	}
}

type TriggerEnqueuer struct {
	enqueuer queue.Enqueuer
}

func NewTriggerEnqueuer(enqueuer queue.Enqueuer) *TriggerEnqueuer {
	return &TriggerEnqueuer{enqueuer: enqueuer}
}

func (t *TriggerEnqueuer) EnqueueDispatch(ctx context.Context, limit int, idempotencyKey string) error {
	if t == nil || t.enqueuer == nil {
		return fmt.Errorf("gojob: enqueuer is not configured")
	}
	return t.enqueuer.Enqueue(ctx, NewDispatchMessage(limit, idempotencyKey))
}

type RunnerOption func(*DispatchRunner)

func WithObserver(observer core.Observer) RunnerOption {
	return func(r *DispatchRunner) {
		r.observer = observer
	}
}

// WithRetryDelay sets the nack delay used when a dispatch pass fails.
func WithRetryDelay(delay time.Duration) RunnerOption {
	return func(r *DispatchRunner) {
		if delay > 0 {
			r.retryDelay = delay
		}
	}
}

// DispatchRunner consumes dispatch trigger messages from a go-job queue and
// runs one DispatchPending pass per message. Failed passes are nacked through
// the RetryPolicy; the failure count is tracked per idempotency key.
type DispatchRunner struct {
	dequeuer   queue.Dequeuer
	service    DispatchService
	policy     RetryPolicy
	observer   core.Observer
	retryDelay time.Duration

	mu       sync.Mutex
	failures map[string]int
}

func NewDispatchRunner(dequeuer queue.Dequeuer, service DispatchService, policy RetryPolicy, opts ...RunnerOption) (*DispatchRunner, error) {
	if dequeuer == nil {
		return nil, fmt.Errorf("gojob: dequeuer is required")
	}
	if service == nil {
		return nil, fmt.Errorf("gojob: dispatch service is required")
	}
	runner := &DispatchRunner{
		dequeuer:   dequeuer,
		service:    service,
		policy:     policy,
		observer:   core.NewObserver(nil, nil),
		retryDelay: defaultRetryDelay,
		failures:   map[string]int{},
	}
	for _, opt := range opts {
		if opt != nil {
			opt(runner)
		}
	}
	return runner, nil
}

// RunOnce dequeues a single message and handles it.
func (r *DispatchRunner) RunOnce(ctx context.Context) (core.DispatchStats, error) {
	if r == nil || r.dequeuer == nil {
		return core.DispatchStats{}, fmt.Errorf("gojob: dispatch runner is not configured")
	}
	delivery, err := r.dequeuer.Dequeue(ctx)
	if err != nil {
		return core.DispatchStats{}, err
	}
	if delivery == nil {
		return core.DispatchStats{}, nil
	}
	return r.Handle(ctx, delivery)
}

// Run handles messages until ctx is cancelled.
func (r *DispatchRunner) Run(ctx context.Context) error {
	for {
		if err := ctx.Err(); err != nil {
			return nil
		}
		if _, err := r.RunOnce(ctx); err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
				return nil
			}
			r.observer.Warn(ctx, "webhook dispatch run failed", map[string]any{"error": err.Error()})
		}
	}
}

// Handle acks the delivery after a successful pass and nacks it otherwise.
// Messages for other job ids are dead-lettered.
func (r *DispatchRunner) Handle(ctx context.Context, delivery queue.Delivery) (core.DispatchStats, error) {
	msg := delivery.Message()
	if msg == nil || strings.TrimSpace(msg.JobID) != JobIDWebhookDispatch {
		jobID := ""
		if msg != nil {
			jobID = msg.JobID
		}
		nackErr := delivery.Nack(ctx, queue.NackOptions{DeadLetter: true, Reason: "unsupported job id"})
		return core.DispatchStats{}, errors.Join(fmt.Errorf("gojob: unsupported job id %q", jobID), nackErr)
	}

	key := strings.TrimSpace(msg.IdempotencyKey)
	stats, err := r.service.DispatchPending(ctx, LimitFromMessage(msg))
	if err != nil {
		attempt := r.recordFailure(key)
		opts := r.policy.NormalizeAttempt(queue.NackOptions{
			Delay:   r.retryDelay,
			Requeue: true,
			Reason:  err.Error(),
		}, attempt)
		if !opts.Requeue {
			r.forget(key)
		}
		r.observer.Warn(ctx, "webhook dispatch pass failed", map[string]any{
			"attempt":     attempt,
			"requeue":     opts.Requeue,
			"dead_letter": opts.DeadLetter,
			"error":       err.Error(),
		})
		if nackErr := delivery.Nack(ctx, opts); nackErr != nil {
			return stats, errors.Join(err, nackErr)
		}
		return stats, err
	}

	r.forget(key)
	r.observer.Debug(ctx, "webhook dispatch pass completed", map[string]any{
		"claimed":   stats.Claimed,
		"delivered": stats.Delivered,
		"retried":   stats.Retried,
		"failed":    stats.Failed,
	})
	return stats, delivery.Ack(ctx)
}

func (r *DispatchRunner) recordFailure(key string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.failures[key]++
	return r.failures[key]
}

func (r *DispatchRunner) forget(key string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.failures, key)
}

// WorkerHookAdapter reports go-job worker lifecycle events as structured logs.
type WorkerHookAdapter struct {
	observer core.Observer
}

func NewWorkerHookAdapter(observer core.Observer) *WorkerHookAdapter {
	return &WorkerHookAdapter{observer: observer}
}

func (a *WorkerHookAdapter) OnStart(ctx context.Context, event worker.Event) {
	if a == nil {
		return
	}
	a.observer.Debug(ctx, "dispatch job started", workerEventFields(event))
}

func (a *WorkerHookAdapter) OnSuccess(ctx context.Context, event worker.Event) {
	if a == nil {
		return
	}
	a.observer.Info(ctx, "dispatch job succeeded", workerEventFields(event))
}

func (a *WorkerHookAdapter) OnFailure(ctx context.Context, event worker.Event) {
	if a == nil {
		return
	}
	a.observer.Error(ctx, "dispatch job failed", workerEventFields(event))
}

func (a *WorkerHookAdapter) OnRetry(ctx context.Context, event worker.Event) {
	if a == nil {
		return
	}
	a.observer.Warn(ctx, "dispatch job retrying", workerEventFields(event))
}

func workerEventFields(event worker.Event) map[string]any {
	message := event.Message
	if message == nil && event.Delivery != nil {
		message = event.Delivery.Message()
	}
	fields := map[string]any{
		"attempt":     event.Attempt,
		"duration_ms": event.Duration.Milliseconds(),
	}
	if message != nil {
		fields["job_id"] = message.JobID
		if message.IdempotencyKey != "" {
			fields["idempotency_key"] = message.IdempotencyKey
		}
	}
	if event.Delay > 0 {
		fields["delay"] = event.Delay.String()
	}
	if !event.StartedAt.IsZero() {
		fields["started_at"] = event.StartedAt.UTC().Format(time.RFC3339Nano)
	}
	if event.Err != nil {
		fields["error"] = event.Err.Error()
	}
	return fields
}

var (
	_ worker.Hook     = (*WorkerHookAdapter)(nil)
	_ DispatchService = core.DeliveryPipeline(nil)
)
