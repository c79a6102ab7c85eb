package core

import (
	"errors"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorBadInput                 = "WEBHOOK_BAD_INPUT"
	ServiceErrorJobNotFound              = "WEBHOOK_JOB_NOT_FOUND"
	ServiceErrorPipelineClosed           = "WEBHOOK_PIPELINE_CLOSED"
	ServiceErrorAccountLookupFailed      = "ACCOUNT_LOOKUP_FAILED"
	ServiceErrorSerializationFailed      = "SERIALIZATION_FAILED"
	ServiceErrorDeliveryTransientFailure = "DELIVERY_TRANSIENT_FAILURE"
	ServiceErrorDeliveryPermanentFailure = "DELIVERY_PERMANENT_FAILURE"
	ServiceErrorRetriesExhausted         = "DELIVERY_RETRIES_EXHAUSTED"
	ServiceErrorTargetThrottled          = "DELIVERY_TARGET_THROTTLED"
	ServiceErrorUnauthorized             = "EVENT_UNAUTHORIZED"
	ServiceErrorInternal                 = "WEBHOOK_INTERNAL_ERROR"
)

// MapError normalizes any error into the go-errors envelope used across the
// module, filling text code and HTTP status from the category.
func MapError(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	switch {
	case errors.Is(err, ErrJobNotFound):
		return NewServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorJobNotFound)
	case errors.Is(err, ErrPipelineClosed):
		return NewServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorPipelineClosed)
	case errors.Is(err, ErrAccountNotFound):
		return NewServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorAccountLookupFailed)
	case errors.Is(err, ErrInvalidJobTransition):
		return NewServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorInternal)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"):
		return NewServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func NewServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

// NewSerializationError reports an intent whose payload could not be encoded.
func NewSerializationError(intent NotificationIntent, field string, cause error) *goerrors.Error {
	err := goerrors.Wrap(cause, goerrors.CategoryInternal, "core: payload serialization failed for field "+field).
		WithTextCode(ServiceErrorSerializationFailed).
		WithMetadata(map[string]any{
			"field":      field,
			"kind":       string(intent.Kind),
			"subject_id": intent.SubjectID.String(),
			"account_id": intent.AccountID.String(),
		})
	return ensureServiceErrorEnvelope(err)
}

func IsTextCode(err error, textCode string) bool {
	var richErr *goerrors.Error
	if !goerrors.As(err, &richErr) {
		return false
	}
	return richErr.TextCode == textCode
}

func ensureServiceErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = serviceHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultServiceTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultServiceTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return ServiceErrorBadInput
	case goerrors.CategoryNotFound:
		return ServiceErrorJobNotFound
	case goerrors.CategoryConflict:
		return ServiceErrorPipelineClosed
	case goerrors.CategoryRateLimit:
		return ServiceErrorTargetThrottled
	case goerrors.CategoryAuth:
		return ServiceErrorUnauthorized
	case goerrors.CategoryExternal:
		return ServiceErrorDeliveryTransientFailure
	default:
		return ServiceErrorInternal
	}
}

func serviceHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
