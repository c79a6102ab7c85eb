// Package core contains the billing webhook domain: event classification,
// canonical payload building, account enrichment, and the listener that
// feeds the delivery pipeline. Delivery, storage, and transport adapters
// depend on this package; core must not depend on them.
package core
