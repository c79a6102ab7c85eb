package core

// OverdueEventTypeField is the extra field stamped on overdue invoice intents.
const OverdueEventTypeField = "eventType"

// Classify maps a domain event to a notification intent. It performs no I/O;
// account enrichment happens separately in AccountEnricher.
func Classify(event DomainEvent) (NotificationIntent, bool) {
	intent := NotificationIntent{
		AccountID: event.AccountID,
		TenantID:  event.TenantID,
		SubjectID: event.ObjectID,
	}
	switch event.EventType.Normalize() {
	case EventTypeInvoiceCreation:
		intent.Kind = IntentKindInvoiceCreation
	case EventTypeOverdueInvoice:
		intent.Kind = IntentKindOverdueInvoice
		intent.ExtraFields = map[string]any{
			OverdueEventTypeField: string(EventTypeOverdueInvoice),
		}
	case EventTypePaymentFailed:
		intent.Kind = IntentKindPaymentFailed
	case EventTypePaymentSuccess:
		intent.Kind = IntentKindPaymentSuccess
	case EventTypeAccountCreation, EventTypeAccountChange:
		intent.Kind = IntentKindAccountChange
		intent.SubjectID = event.AccountID
	default:
		return NotificationIntent{}, false
	}
	return intent, true
}
