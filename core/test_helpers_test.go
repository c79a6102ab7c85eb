package core

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
)

type stubLogger struct{}

func (stubLogger) Trace(string, ...any) {}
func (stubLogger) Debug(string, ...any) {}
func (stubLogger) Info(string, ...any)  {}
func (stubLogger) Warn(string, ...any)  {}
func (stubLogger) Error(string, ...any) {}
func (stubLogger) Fatal(string, ...any) {}
func (s stubLogger) WithContext(context.Context) Logger {
	return s
}

type stubLoggerProvider struct {
	logger Logger
}

func (s stubLoggerProvider) GetLogger(string) Logger {
	return s.logger
}

type logEntry struct {
	level   string
	message string
	args    []any
}

type recordingLogger struct {
	mu      *sync.Mutex
	entries *[]logEntry
}

func newRecordingLogger() recordingLogger {
	return recordingLogger{mu: &sync.Mutex{}, entries: &[]logEntry{}}
}

func (l recordingLogger) record(level string, message string, args []any) {
	l.mu.Lock()
	defer l.mu.Unlock()
	*l.entries = append(*l.entries, logEntry{level: level, message: message, args: args})
}

func (l recordingLogger) Trace(msg string, args ...any) { l.record("trace", msg, args) }
func (l recordingLogger) Debug(msg string, args ...any) { l.record("debug", msg, args) }
func (l recordingLogger) Info(msg string, args ...any)  { l.record("info", msg, args) }
func (l recordingLogger) Warn(msg string, args ...any)  { l.record("warn", msg, args) }
func (l recordingLogger) Error(msg string, args ...any) { l.record("error", msg, args) }
func (l recordingLogger) Fatal(msg string, args ...any) { l.record("fatal", msg, args) }
func (l recordingLogger) WithContext(context.Context) Logger {
	return l
}

func (l recordingLogger) find(level string, message string) (logEntry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for _, entry := range *l.entries {
		if entry.level == level && entry.message == message {
			return entry, true
		}
	}
	return logEntry{}, false
}

func argValue(entry logEntry, key string) any {
	for i := 0; i+1 < len(entry.args); i += 2 {
		if fmt.Sprint(entry.args[i]) == key {
			return entry.args[i+1]
		}
	}
	return nil
}

type counterCall struct {
	name  string
	value int64
	tags  map[string]string
}

type recordingMetrics struct {
	mu       sync.Mutex
	counters []counterCall
}

func (m *recordingMetrics) IncCounter(_ context.Context, name string, value int64, tags map[string]string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.counters = append(m.counters, counterCall{name: name, value: value, tags: tags})
}

func (m *recordingMetrics) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func (m *recordingMetrics) count(name string, tagKey string, tagValue string) int64 {
	m.mu.Lock()
	defer m.mu.Unlock()
	var total int64
	for _, call := range m.counters {
		if call.name == name && call.tags[tagKey] == tagValue {
			total += call.value
		}
	}
	return total
}

type enqueueCall struct {
	intent      NotificationIntent
	targetURL   string
	maxAttempts int
}

type stubPipeline struct {
	mu          sync.Mutex
	calls       []enqueueCall
	err         error
	dispatchErr error
	panicMsg    string
}

func (p *stubPipeline) Enqueue(ctx context.Context, intent NotificationIntent, targetURL string) (uuid.UUID, error) {
	return p.EnqueueWithPolicy(ctx, intent, targetURL, 0)
}

func (p *stubPipeline) EnqueueWithPolicy(_ context.Context, intent NotificationIntent, targetURL string, maxAttempts int) (uuid.UUID, error) {
	if p.panicMsg != "" {
		panic(p.panicMsg)
	}
	if p.err != nil {
		return uuid.Nil, p.err
	}
	if _, err := BuildPayload(intent); err != nil {
		return uuid.Nil, err
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.calls = append(p.calls, enqueueCall{intent: intent, targetURL: targetURL, maxAttempts: maxAttempts})
	return uuid.New(), nil
}

func (p *stubPipeline) Status(context.Context, uuid.UUID) (JobStatusView, error) {
	return JobStatusView{}, ErrJobNotFound
}

func (p *stubPipeline) Attempts(context.Context, uuid.UUID) ([]DeliveryOutcome, error) {
	return nil, ErrJobNotFound
}

func (p *stubPipeline) DispatchPending(_ context.Context, limit int) (DispatchStats, error) {
	return DispatchStats{Claimed: limit}, p.dispatchErr
}

func (p *stubPipeline) Start(context.Context) error {
	return nil
}

func (p *stubPipeline) Shutdown(context.Context) (ShutdownReport, error) {
	return ShutdownReport{}, nil
}

func (p *stubPipeline) enqueued() []enqueueCall {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]enqueueCall(nil), p.calls...)
}

type stubAccountAPI struct {
	account Account
	err     error
	delay   time.Duration
	calls   int
	mu      sync.Mutex
}

func (s *stubAccountAPI) GetAccountByID(ctx context.Context, accountID uuid.UUID, _ TenantContext) (Account, error) {
	s.mu.Lock()
	s.calls++
	s.mu.Unlock()
	if s.delay > 0 {
		select {
		case <-time.After(s.delay):
		case <-ctx.Done():
			return Account{}, ctx.Err()
		}
	}
	if s.err != nil {
		return Account{}, s.err
	}
	account := s.account
	account.ID = accountID
	return account, nil
}

type mapRawLoader struct {
	values map[string]any
}

func (l mapRawLoader) LoadRaw(context.Context) (map[string]any, error) {
	if len(l.values) == 0 {
		return map[string]any{}, nil
	}
	out := make(map[string]any, len(l.values))
	for key, value := range l.values {
		out[key] = value
	}
	return out, nil
}

var errStubFailure = errors.New("stub failure")

func testConfig() Config {
	cfg := DefaultConfig()
	cfg.Delivery.TargetURL = "https://hooks.example.com/billing"
	return cfg
}
