// Package webhooks contains the outbound delivery pipeline.
//
// Jobs move through a claim lifecycle:
// pending -> in_flight -> delivered|pending (retry)|failed.
// A job is claimed by one worker at a time. Jobs left in flight by a crash or
// a forced shutdown are released back to pending, so a receiver may see the
// same X-Webhook-Id more than once.
package webhooks
