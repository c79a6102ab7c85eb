package sqlstore

import "github.com/goliatone/go-billing-hooks/core"

var (
	_ core.JobStore     = (*WebhookJobStore)(nil)
	_ core.DurableStore = (*WebhookJobStore)(nil)
	_ core.JobStore     = (*CachedWebhookJobStore)(nil)
	_ core.DurableStore = (*CachedWebhookJobStore)(nil)
)
