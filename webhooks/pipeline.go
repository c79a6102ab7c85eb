package webhooks

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/goliatone/go-billing-hooks/core"
	goerrors "github.com/goliatone/go-errors"
	glog "github.com/goliatone/go-logger/glog"
	"github.com/google/uuid"
)

const (
	HeaderContentType    = "Content-Type"
	HeaderUserAgent      = "User-Agent"
	HeaderWebhookID      = "X-Webhook-Id"
	HeaderWebhookAttempt = "X-Webhook-Attempt"
	HeaderWebhookEvent   = "X-Webhook-Event"
	HeaderSchemaVersion  = "X-Webhook-Schema-Version"
	HeaderIdempotencyKey = "X-Idempotency-Key"
)

type PipelineConfig struct {
	MaxAttempts          int
	RequestTimeout       time.Duration
	MaxBackoff           time.Duration
	Workers              int
	PollInterval         time.Duration
	BatchSize            int
	MaxResponseBodyBytes int
	UserAgent            string
	// ClaimLease is added to BatchSize x RequestTimeout when leasing a
	// batch. Jobs whose lease runs out are released by the next Start.
	ClaimLease time.Duration
}

func DefaultPipelineConfig() PipelineConfig {
	return PipelineConfig{
		MaxAttempts:          core.DefaultMaxAttempts,
		RequestTimeout:       core.DefaultRequestTimeout,
		MaxBackoff:           core.DefaultMaxBackoff,
		Workers:              core.DefaultWorkers,
		PollInterval:         core.DefaultPollInterval,
		BatchSize:            core.DefaultBatchSize,
		MaxResponseBodyBytes: core.DefaultMaxResponseBodyBytes,
		UserAgent:            core.DefaultUserAgent,
		ClaimLease:           core.DefaultClaimLease,
	}
}

// PipelineConfigFromDelivery maps the service delivery settings onto the
// pipeline, leaving zero values to the pipeline defaults.
func PipelineConfigFromDelivery(cfg core.DeliveryConfig) PipelineConfig {
	return PipelineConfig{
		MaxAttempts:          cfg.MaxAttempts,
		RequestTimeout:       cfg.RequestTimeout,
		MaxBackoff:           cfg.MaxBackoff,
		Workers:              cfg.Workers,
		PollInterval:         cfg.PollInterval,
		BatchSize:            cfg.BatchSize,
		MaxResponseBodyBytes: int(cfg.MaxResponseBodyBytes),
		UserAgent:            cfg.UserAgent,
	}
}

// RetryPolicyFromDelivery builds the default backoff policy for cfg.
func RetryPolicyFromDelivery(cfg core.DeliveryConfig) ExponentialJitterPolicy {
	return ExponentialJitterPolicy{
		Base:   cfg.BaseBackoff,
		Max:    cfg.MaxBackoff,
		Jitter: cfg.Jitter,
	}
}

type PipelineOption func(*Pipeline)

func WithLogger(logger core.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = logger
	}
}

func WithMetricsRecorder(recorder core.MetricsRecorder) PipelineOption {
	return func(p *Pipeline) {
		p.metrics = recorder
	}
}

func WithRetryPolicy(policy RetryPolicy) PipelineOption {
	return func(p *Pipeline) {
		p.retryPolicy = policy
	}
}

func WithSigner(signer core.PayloadSigner) PipelineOption {
	return func(p *Pipeline) {
		p.signer = signer
	}
}

func WithBurstController(controller BurstController) PipelineOption {
	return func(p *Pipeline) {
		p.burst = controller
	}
}

// TargetThrottle tracks backpressure signalled by webhook receivers so that
// sends to a throttled target are held back.
type TargetThrottle interface {
	Delay(ctx context.Context, targetURL string) (time.Duration, error)
	Observe(ctx context.Context, targetURL string, resp core.DeliveryResponse) error
}

func WithTargetThrottle(throttle TargetThrottle) PipelineOption {
	return func(p *Pipeline) {
		p.throttle = throttle
	}
}

func WithClock(now func() time.Time) PipelineOption {
	return func(p *Pipeline) {
		p.now = now
	}
}

// WithInstanceID names the owner recorded on claimed jobs. Pipelines that
// share a store must use distinct ids.
func WithInstanceID(id string) PipelineOption {
	return func(p *Pipeline) {
		p.instanceID = strings.TrimSpace(id)
	}
}

// Pipeline delivers webhook jobs at least once. Enqueue only writes to the
// job store; a pool of workers claims due jobs and performs the HTTP calls.
// Claims are leased to the pipeline's instance id, so several pipelines can
// share one store.
type Pipeline struct {
	instanceID  string
	store       core.JobStore
	sender      core.Sender
	config      PipelineConfig
	retryPolicy RetryPolicy
	signer      core.PayloadSigner
	burst       BurstController
	throttle    TargetThrottle
	logger      core.Logger
	metrics     core.MetricsRecorder
	observer    core.Observer
	now         func() time.Time

	mu         sync.Mutex
	started    bool
	closed     bool
	wake       chan struct{}
	stop       chan struct{}
	sendCtx    context.Context
	cancelSend context.CancelFunc
	workers    sync.WaitGroup
	passes     sync.WaitGroup
}

func NewPipeline(store core.JobStore, sender core.Sender, cfg PipelineConfig, opts ...PipelineOption) (*Pipeline, error) {
	if store == nil {
		return nil, fmt.Errorf("webhooks: job store is required")
	}
	if sender == nil {
		return nil, fmt.Errorf("webhooks: sender is required")
	}
	defaults := DefaultPipelineConfig()
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = defaults.MaxAttempts
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = defaults.RequestTimeout
	}
	if cfg.MaxBackoff <= 0 {
		cfg.MaxBackoff = defaults.MaxBackoff
	}
	if cfg.Workers <= 0 {
		cfg.Workers = defaults.Workers
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = defaults.PollInterval
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = defaults.BatchSize
	}
	if cfg.MaxResponseBodyBytes <= 0 {
		cfg.MaxResponseBodyBytes = defaults.MaxResponseBodyBytes
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = defaults.UserAgent
	}
	if cfg.ClaimLease <= 0 {
		cfg.ClaimLease = defaults.ClaimLease
	}

	p := &Pipeline{
		store:  store,
		sender: sender,
		config: cfg,
		retryPolicy: ExponentialJitterPolicy{
			Base:   core.DefaultBaseBackoff,
			Max:    cfg.MaxBackoff,
			Jitter: core.DefaultJitter,
		},
		metrics: core.NopMetricsRecorder{},
		now: func() time.Time {
			return time.Now().UTC()
		},
		wake: make(chan struct{}, 1),
		stop: make(chan struct{}),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(p)
	}
	if p.instanceID == "" {
		p.instanceID = uuid.NewString()
	}
	_, p.logger = glog.Resolve("billing-hooks.webhooks", nil, p.logger)
	p.observer = core.NewObserver(p.logger, p.metrics)
	p.sendCtx, p.cancelSend = context.WithCancel(context.Background())
	return p, nil
}

func (p *Pipeline) Enqueue(ctx context.Context, intent core.NotificationIntent, targetURL string) (uuid.UUID, error) {
	return p.EnqueueWithPolicy(ctx, intent, targetURL, 0)
}

// EnqueueWithPolicy stores a pending job and returns without waiting for
// delivery. maxAttempts <= 0 uses the pipeline default.
func (p *Pipeline) EnqueueWithPolicy(ctx context.Context, intent core.NotificationIntent, targetURL string, maxAttempts int) (uuid.UUID, error) {
	if p == nil {
		return uuid.Nil, fmt.Errorf("webhooks: pipeline is not configured")
	}
	if p.isClosed() {
		return uuid.Nil, core.NewServiceError(core.ErrPipelineClosed.Error(), goerrors.CategoryConflict, core.ServiceErrorPipelineClosed)
	}
	if err := core.ValidateTargetURL(targetURL, false); err != nil {
		return uuid.Nil, core.NewServiceError(err.Error(), goerrors.CategoryBadInput, core.ServiceErrorBadInput)
	}

	payload, err := core.BuildPayload(intent)
	if err != nil {
		fields := intentFields(intent)
		fields["error"] = err.Error()
		fields["extra_fields"] = fmt.Sprintf("%#v", intent.ExtraFields)
		p.observer.Error(ctx, "webhook payload build failed", fields)
		p.observer.Counter(ctx, core.MetricJobsEnqueuedTotal, 1, map[string]string{
			"kind":    string(intent.Kind),
			"outcome": "serialization_failed",
		})
		return uuid.Nil, err
	}

	if maxAttempts <= 0 {
		maxAttempts = p.config.MaxAttempts
	}
	now := p.now()
	key := core.IdempotencyKey(intent)
	job := core.WebhookJob{
		ID:             uuid.New(),
		Intent:         intent,
		Payload:        payload,
		IdempotencyKey: key,
		TargetURL:      targetURL,
		Attempt:        0,
		MaxAttempts:    maxAttempts,
		NextAttemptAt:  now.Add(p.throttleDelay(ctx, targetURL)),
		Status:         core.JobStatusPending,
		CreatedAt:      now,
		UpdatedAt:      now,
	}

	if p.burst != nil {
		decision, err := p.burst.Admit(ctx, key, job.ID)
		if err != nil {
			return uuid.Nil, err
		}
		if !decision.Allow {
			fields := intentFields(intent)
			for k, v := range decision.Metadata {
				fields[k] = v
			}
			fields["job_id"] = decision.ExistingJobID.String()
			p.observer.Debug(ctx, "webhook intent coalesced", fields)
			p.observer.Counter(ctx, core.MetricJobsEnqueuedTotal, 1, map[string]string{
				"kind":    string(intent.Kind),
				"outcome": "coalesced",
			})
			return decision.ExistingJobID, nil
		}
	}

	if err := p.store.Insert(ctx, job); err != nil {
		if p.burst != nil {
			p.burst.Forget(ctx, key, job.ID)
		}
		return uuid.Nil, fmt.Errorf("webhooks: enqueue job: %w", err)
	}

	fields := intentFields(intent)
	fields["job_id"] = job.ID.String()
	fields["target_url"] = targetURL
	fields["max_attempts"] = maxAttempts
	p.observer.Debug(ctx, "webhook job enqueued", fields)
	p.observer.Counter(ctx, core.MetricJobsEnqueuedTotal, 1, map[string]string{
		"kind":    string(intent.Kind),
		"outcome": "enqueued",
	})
	p.signal()
	return job.ID, nil
}

func (p *Pipeline) Status(ctx context.Context, jobID uuid.UUID) (core.JobStatusView, error) {
	if p == nil {
		return core.JobStatusView{}, fmt.Errorf("webhooks: pipeline is not configured")
	}
	job, err := p.store.Get(ctx, jobID)
	if err != nil {
		return core.JobStatusView{}, notFoundError(jobID, err)
	}
	return job.View(), nil
}

func (p *Pipeline) Attempts(ctx context.Context, jobID uuid.UUID) ([]core.DeliveryOutcome, error) {
	if p == nil {
		return nil, fmt.Errorf("webhooks: pipeline is not configured")
	}
	attempts, err := p.store.ListAttempts(ctx, jobID)
	if err != nil {
		return nil, notFoundError(jobID, err)
	}
	return attempts, nil
}

// InstanceID is the owner recorded on jobs this pipeline claims.
func (p *Pipeline) InstanceID() string {
	if p == nil {
		return ""
	}
	return p.instanceID
}

// DispatchPending claims up to limit due jobs and delivers them on the
// calling goroutine. Only store failures are returned as errors; delivery
// failures are recorded on the jobs. A pass that is still running when
// Shutdown gives up is cancelled and its claims are released.
func (p *Pipeline) DispatchPending(ctx context.Context, limit int) (core.DispatchStats, error) {
	if p == nil {
		return core.DispatchStats{}, fmt.Errorf("webhooks: pipeline is not configured")
	}
	if limit <= 0 {
		limit = p.config.BatchSize
	}
	passCtx, done, err := p.beginPass(ctx)
	if err != nil {
		return core.DispatchStats{}, err
	}
	defer done()

	jobs, claimErr := p.claim(passCtx, limit)
	stats := core.DispatchStats{Claimed: len(jobs)}
	dispatchErr := claimErr
	for _, job := range jobs {
		reason, err := p.deliver(passCtx, job)
		if err != nil {
			dispatchErr = joinErrors(dispatchErr, err)
			continue
		}
		tally(&stats, reason)
	}
	return stats, dispatchErr
}

// beginPass registers a caller-driven dispatch pass so Shutdown waits for it.
// The returned context is also cancelled when Shutdown cancels sends.
func (p *Pipeline) beginPass(ctx context.Context) (context.Context, func(), error) {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return nil, nil, core.NewServiceError(core.ErrPipelineClosed.Error(), goerrors.CategoryConflict, core.ServiceErrorPipelineClosed)
	}
	p.passes.Add(1)
	p.mu.Unlock()

	passCtx, cancel := context.WithCancel(ctx)
	stopCancel := context.AfterFunc(p.sendCtx, cancel)
	return passCtx, func() {
		stopCancel()
		cancel()
		p.passes.Done()
	}, nil
}

// claim leases up to limit due jobs to this pipeline. The lease covers one
// request timeout per job plus the configured margin.
func (p *Pipeline) claim(ctx context.Context, limit int) ([]core.WebhookJob, error) {
	now := p.now()
	lease := p.config.ClaimLease + time.Duration(limit)*p.config.RequestTimeout
	return p.store.ClaimDue(ctx, core.ClaimRequest{
		Owner:      p.instanceID,
		Now:        now,
		Limit:      limit,
		LeaseUntil: now.Add(lease),
	})
}

// Start launches the worker pool. Jobs whose claim lease has expired, such
// as those left by a crashed process, are released back to pending first.
// Jobs leased to other live pipelines are left alone.
func (p *Pipeline) Start(ctx context.Context) error {
	if p == nil {
		return fmt.Errorf("webhooks: pipeline is not configured")
	}
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return core.NewServiceError(core.ErrPipelineClosed.Error(), goerrors.CategoryConflict, core.ServiceErrorPipelineClosed)
	}
	if p.started {
		p.mu.Unlock()
		return nil
	}
	p.started = true
	p.mu.Unlock()

	released, err := p.store.ReleaseExpired(ctx, p.now())
	if err != nil {
		return fmt.Errorf("webhooks: release expired claims: %w", err)
	}
	if len(released) > 0 {
		p.observer.Warn(ctx, "released expired webhook job claims", map[string]any{
			"released": len(released),
			"instance": p.instanceID,
		})
	}

	for i := 0; i < p.config.Workers; i++ {
		p.workers.Add(1)
		go p.runWorker(i)
	}
	p.observer.Info(ctx, "webhook pipeline started", map[string]any{
		"instance":      p.instanceID,
		"workers":       p.config.Workers,
		"poll_interval": p.config.PollInterval.String(),
	})
	p.signal()
	return nil
}

// Shutdown stops claiming new jobs and waits for in-flight deliveries,
// including DispatchPending passes. When ctx expires first, outstanding
// requests are cancelled and this pipeline's claims are released back to
// pending without consuming an attempt.
func (p *Pipeline) Shutdown(ctx context.Context) (core.ShutdownReport, error) {
	if p == nil {
		return core.ShutdownReport{}, fmt.Errorf("webhooks: pipeline is not configured")
	}
	p.mu.Lock()
	if !p.closed {
		p.closed = true
		close(p.stop)
	}
	p.mu.Unlock()

	done := make(chan struct{})
	go func() {
		p.workers.Wait()
		p.passes.Wait()
		close(done)
	}()
	forced := false
	select {
	case <-done:
	case <-ctx.Done():
		forced = true
		p.cancelSend()
		<-done
	}
	p.cancelSend()

	storeCtx := context.WithoutCancel(ctx)
	released, err := p.store.ReleaseClaims(storeCtx, p.instanceID)
	if err != nil {
		return core.ShutdownReport{}, fmt.Errorf("webhooks: release claimed jobs: %w", err)
	}
	pending, err := p.store.CountByStatus(storeCtx, core.JobStatusPending)
	if err != nil {
		return core.ShutdownReport{}, fmt.Errorf("webhooks: count pending jobs: %w", err)
	}
	report := core.ShutdownReport{
		Pending:   pending,
		Released:  len(released),
		Abandoned: pending > 0 && !isDurable(p.store),
	}
	fields := map[string]any{
		"pending":   report.Pending,
		"released":  report.Released,
		"abandoned": report.Abandoned,
		"forced":    forced,
	}
	if report.Abandoned {
		p.observer.Warn(storeCtx, "webhook pipeline stopped with abandoned jobs", fields)
	} else {
		p.observer.Info(storeCtx, "webhook pipeline stopped", fields)
	}
	return report, nil
}

func (p *Pipeline) runWorker(index int) {
	defer p.workers.Done()
	ticker := time.NewTicker(p.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stop:
			return
		default:
		}

		jobs, err := p.claim(p.sendCtx, 1)
		if err != nil {
			if p.sendCtx.Err() == nil {
				p.observer.Error(p.sendCtx, "webhook claim failed", map[string]any{
					"worker": index,
					"error":  err.Error(),
				})
			}
		}
		if len(jobs) > 0 {
			if _, err := p.deliver(p.sendCtx, jobs[0]); err != nil && p.sendCtx.Err() == nil {
				p.observer.Error(p.sendCtx, "webhook job update failed", map[string]any{
					"worker": index,
					"job_id": jobs[0].ID.String(),
					"error":  err.Error(),
				})
			}
			continue
		}

		select {
		case <-p.stop:
			return
		case <-p.wake:
		case <-ticker.C:
		}
	}
}

// deliver performs one attempt for a claimed job and records the result.
func (p *Pipeline) deliver(ctx context.Context, job core.WebhookJob) (core.OutcomeReason, error) {
	attempt := job.Attempt + 1
	headers, err := p.requestHeaders(job, attempt)
	if err != nil {
		outcome := core.DeliveryOutcome{
			Attempt:    attempt,
			Error:      err.Error(),
			Reason:     core.OutcomePermanentFailure,
			OccurredAt: p.now(),
		}
		p.observeAttempt(ctx, job, outcome)
		return outcome.Reason, p.store.MarkFailed(context.WithoutCancel(ctx), job.ID, outcome)
	}

	startedAt := time.Now()
	resp, sendErr := p.sender.Send(ctx, core.DeliveryRequest{
		JobID:     job.ID,
		TargetURL: job.TargetURL,
		Payload:   job.Payload,
		Headers:   headers,
		Timeout:   p.config.RequestTimeout,
	})
	elapsed := time.Since(startedAt)
	if sendErr != nil && p.sendCtx.Err() != nil {
		// shutdown cancelled the request, the job is released as-is
		return "", nil
	}

	if sendErr == nil {
		p.observeThrottle(ctx, job, resp)
	}

	now := p.now()
	outcome := core.DeliveryOutcome{
		Attempt:      attempt,
		StatusCode:   resp.StatusCode,
		ResponseBody: truncateBody(resp.Body, p.config.MaxResponseBodyBytes),
		Duration:     elapsed,
		OccurredAt:   now,
	}
	if sendErr != nil {
		outcome.Error = sendErr.Error()
	}

	storeCtx := context.WithoutCancel(ctx)
	verdict := ClassifyOutcome(resp.StatusCode, sendErr)
	var markErr error
	switch verdict {
	case VerdictDelivered:
		outcome.Reason = core.OutcomeDelivered
		markErr = p.store.MarkDelivered(storeCtx, job.ID, outcome)
	case VerdictPermanent:
		outcome.Reason = core.OutcomePermanentFailure
		markErr = p.store.MarkFailed(storeCtx, job.ID, outcome)
	default:
		if attempt < job.MaxAttempts {
			outcome.Reason = core.OutcomeTransientFailure
			delay := p.retryDelay(ctx, job.TargetURL, attempt, resp, now)
			markErr = p.store.MarkRetry(storeCtx, job.ID, now.Add(delay), outcome)
		} else {
			outcome.Reason = core.OutcomeRetriesExhausted
			markErr = p.store.MarkFailed(storeCtx, job.ID, outcome)
		}
	}
	p.observeAttempt(ctx, job, outcome)
	if markErr != nil {
		return outcome.Reason, fmt.Errorf("webhooks: record outcome for job %s: %w", job.ID, markErr)
	}
	return outcome.Reason, nil
}

func (p *Pipeline) retryDelay(ctx context.Context, targetURL string, attempt int, resp core.DeliveryResponse, now time.Time) time.Duration {
	delay := p.retryPolicy.NextDelay(attempt)
	if retryAfter, ok := RetryAfter(resp.Header, now); ok && retryAfter > delay {
		delay = retryAfter
	}
	if wait := p.throttleDelay(ctx, targetURL); wait > delay {
		delay = wait
	}
	if delay > p.config.MaxBackoff {
		delay = p.config.MaxBackoff
	}
	if delay < minRetryDelay {
		delay = minRetryDelay
	}
	return delay
}

// throttleDelay is the open throttle window for targetURL, capped at the
// maximum backoff. Throttle lookup failures never block delivery.
func (p *Pipeline) throttleDelay(ctx context.Context, targetURL string) time.Duration {
	if p.throttle == nil {
		return 0
	}
	wait, err := p.throttle.Delay(ctx, targetURL)
	if err != nil {
		p.observer.Warn(ctx, "webhook target throttle lookup failed", map[string]any{
			"target_url": targetURL,
			"error":      err.Error(),
		})
		return 0
	}
	if wait > p.config.MaxBackoff {
		wait = p.config.MaxBackoff
	}
	return wait
}

func (p *Pipeline) observeThrottle(ctx context.Context, job core.WebhookJob, resp core.DeliveryResponse) {
	if p.throttle == nil {
		return
	}
	if err := p.throttle.Observe(context.WithoutCancel(ctx), job.TargetURL, resp); err != nil {
		p.observer.Warn(ctx, "webhook target throttle update failed", map[string]any{
			"job_id":     job.ID.String(),
			"target_url": job.TargetURL,
			"error":      err.Error(),
		})
	}
}

func (p *Pipeline) requestHeaders(job core.WebhookJob, attempt int) (map[string]string, error) {
	headers := map[string]string{
		HeaderContentType:    "application/json",
		HeaderUserAgent:      p.config.UserAgent,
		HeaderWebhookID:      job.ID.String(),
		HeaderWebhookAttempt: strconv.Itoa(attempt),
		HeaderWebhookEvent:   string(job.Intent.Kind),
		HeaderSchemaVersion:  core.PayloadSchemaVersion,
		HeaderIdempotencyKey: job.IdempotencyKey,
	}
	if p.signer == nil {
		return headers, nil
	}
	signed, err := p.signer.Sign(job.Payload, p.now())
	if err != nil {
		return nil, fmt.Errorf("webhooks: sign payload: %w", err)
	}
	for key, value := range signed {
		headers[key] = value
	}
	return headers, nil
}

func (p *Pipeline) observeAttempt(ctx context.Context, job core.WebhookJob, outcome core.DeliveryOutcome) {
	fields := intentFields(job.Intent)
	fields["job_id"] = job.ID.String()
	fields["attempt"] = outcome.Attempt
	fields["max_attempts"] = job.MaxAttempts
	fields["status_code"] = outcome.StatusCode
	fields["reason"] = string(outcome.Reason)
	fields["duration_ms"] = outcome.Duration.Milliseconds()
	if outcome.Error != "" {
		fields["error"] = outcome.Error
	}

	tags := map[string]string{
		"kind":   string(job.Intent.Kind),
		"reason": string(outcome.Reason),
		"status": strconv.Itoa(outcome.StatusCode),
	}
	p.observer.Counter(ctx, core.MetricDeliveryAttemptsTotal, 1, tags)
	p.observer.Histogram(ctx, core.MetricDeliveryDurationMS, float64(outcome.Duration.Milliseconds()), tags)

	switch outcome.Reason {
	case core.OutcomeDelivered:
		p.observer.Info(ctx, "webhook delivered", fields)
	case core.OutcomeTransientFailure:
		fields["text_code"] = core.ServiceErrorDeliveryTransientFailure
		p.observer.Warn(ctx, "webhook delivery will be retried", fields)
	case core.OutcomeRetriesExhausted:
		fields["text_code"] = core.ServiceErrorRetriesExhausted
		fields["response_body"] = outcome.ResponseBody
		p.observer.Error(ctx, "webhook delivery retries exhausted", fields)
	default:
		fields["text_code"] = core.ServiceErrorDeliveryPermanentFailure
		fields["response_body"] = outcome.ResponseBody
		p.observer.Error(ctx, "webhook delivery failed permanently", fields)
	}
}

func (p *Pipeline) signal() {
	select {
	case p.wake <- struct{}{}:
	default:
	}
}

func (p *Pipeline) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

func tally(stats *core.DispatchStats, reason core.OutcomeReason) {
	switch reason {
	case core.OutcomeDelivered:
		stats.Delivered++
	case core.OutcomeTransientFailure:
		stats.Retried++
	case core.OutcomePermanentFailure, core.OutcomeRetriesExhausted:
		stats.Failed++
	}
}

func notFoundError(jobID uuid.UUID, err error) error {
	if errors.Is(err, core.ErrJobNotFound) {
		return core.NewServiceError("webhooks: job not found", goerrors.CategoryNotFound, core.ServiceErrorJobNotFound).
			WithMetadata(map[string]any{"job_id": jobID.String()})
	}
	return err
}

func isDurable(store core.JobStore) bool {
	durable, ok := store.(core.DurableStore)
	return ok && durable.Durable()
}

func intentFields(intent core.NotificationIntent) map[string]any {
	return map[string]any{
		"kind":       string(intent.Kind),
		"subject_id": intent.SubjectID.String(),
		"account_id": intent.AccountID.String(),
		"tenant_id":  intent.TenantID.String(),
	}
}

func joinErrors(existing error, next error) error {
	if existing == nil {
		return next
	}
	if next == nil {
		return existing
	}
	return fmt.Errorf("%w; %v", existing, next)
}

var _ core.DeliveryPipeline = (*Pipeline)(nil)
