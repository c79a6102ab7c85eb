// Package inbound accepts billing events delivered over HTTP.
//
// Requests are authenticated, decoded, and claimed by idempotency key before
// reaching the event handler. A failed handler releases its claim so the
// sender's retry is processed rather than dropped as a duplicate.
package inbound
