package core

import "context"

const (
	MetricEventsTotal           = "billing_hooks.events.total"
	MetricAccountLookupsTotal   = "billing_hooks.account_lookups.total"
	MetricDeliveryAttemptsTotal = "billing_hooks.delivery.attempts.total"
	MetricDeliveryDurationMS    = "billing_hooks.delivery.duration_ms"
	MetricJobsEnqueuedTotal     = "billing_hooks.jobs.enqueued.total"
)

type NopMetricsRecorder struct{}

func (NopMetricsRecorder) IncCounter(context.Context, string, int64, map[string]string) {}

func (NopMetricsRecorder) ObserveHistogram(context.Context, string, float64, map[string]string) {}

func CloneTags(tags map[string]string) map[string]string {
	if len(tags) == 0 {
		return map[string]string{}
	}
	copied := make(map[string]string, len(tags))
	for key, value := range tags {
		copied[key] = value
	}
	return copied
}

var _ MetricsRecorder = NopMetricsRecorder{}
