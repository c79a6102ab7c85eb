package core

import (
	"bytes"
	"encoding/json"
	"sort"

	goerrors "github.com/goliatone/go-errors"
	"github.com/google/uuid"
)

const (
	PayloadSchemaVersion = "1"

	PayloadFieldEventType = "eventType"
	PayloadFieldAccountID = "accountId"
	PayloadFieldSubjectID = "subjectId"
)

var reservedPayloadFields = []string{
	PayloadFieldEventType,
	PayloadFieldAccountID,
	PayloadFieldSubjectID,
}

type payloadField struct {
	key   string
	value any
}

// BuildPayload renders the canonical JSON document for an intent. Reserved
// fields come first in fixed order, followed by extra fields sorted by key.
// An extra field named like a reserved field replaces its value in place.
// The account id is omitted when the intent carries no account.
func BuildPayload(intent NotificationIntent) ([]byte, error) {
	if !intent.Kind.Valid() {
		return nil, NewServiceError("core: payload intent kind is invalid", goerrors.CategoryBadInput, ServiceErrorBadInput).
			WithMetadata(map[string]any{"kind": string(intent.Kind)})
	}
	if intent.SubjectID == uuid.Nil {
		return nil, NewServiceError("core: payload subject id is required", goerrors.CategoryBadInput, ServiceErrorBadInput).
			WithMetadata(map[string]any{"kind": string(intent.Kind)})
	}

	fields := make([]payloadField, 0, len(reservedPayloadFields)+len(intent.ExtraFields))
	fields = append(fields, payloadField{key: PayloadFieldEventType, value: payloadEventType(intent)})
	if value, ok := intent.ExtraFields[PayloadFieldAccountID]; ok {
		fields = append(fields, payloadField{key: PayloadFieldAccountID, value: value})
	} else if intent.AccountID != uuid.Nil {
		fields = append(fields, payloadField{key: PayloadFieldAccountID, value: intent.AccountID.String()})
	}
	fields = append(fields, payloadField{key: PayloadFieldSubjectID, value: intent.SubjectID.String()})
	for idx := range fields {
		if value, ok := intent.ExtraFields[fields[idx].key]; ok {
			fields[idx].value = value
		}
	}

	extraKeys := make([]string, 0, len(intent.ExtraFields))
	for key := range intent.ExtraFields {
		if isReservedPayloadField(key) {
			continue
		}
		extraKeys = append(extraKeys, key)
	}
	sort.Strings(extraKeys)
	for _, key := range extraKeys {
		fields = append(fields, payloadField{key: key, value: intent.ExtraFields[key]})
	}

	var buf bytes.Buffer
	buf.WriteByte('{')
	for idx, field := range fields {
		if idx > 0 {
			buf.WriteByte(',')
		}
		encodedKey, err := json.Marshal(field.key)
		if err != nil {
			return nil, NewSerializationError(intent, field.key, err)
		}
		encodedValue, err := json.Marshal(field.value)
		if err != nil {
			return nil, NewSerializationError(intent, field.key, err)
		}
		buf.Write(encodedKey)
		buf.WriteByte(':')
		buf.Write(encodedValue)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// IdempotencyKey is the stable identifier receivers use to drop duplicate
// deliveries of the same intent: the payload's eventType value and the
// subject id.
func IdempotencyKey(intent NotificationIntent) string {
	return payloadEventType(intent) + ":" + intent.SubjectID.String()
}

// payloadEventType is the eventType value the payload carries. A string
// extra field under the reserved key replaces the kind.
func payloadEventType(intent NotificationIntent) string {
	if value, ok := intent.ExtraFields[PayloadFieldEventType].(string); ok && value != "" {
		return value
	}
	return string(intent.Kind)
}

func isReservedPayloadField(key string) bool {
	for _, reserved := range reservedPayloadFields {
		if key == reserved {
			return true
		}
	}
	return false
}
