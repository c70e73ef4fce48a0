package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
)

const (
	RelayErrorBadInput          = "RELAY_BAD_INPUT"
	RelayErrorUnauthorized      = "RELAY_UNAUTHORIZED"
	RelayErrorDuplicateDelivery = "RELAY_DUPLICATE_DELIVERY"
	RelayErrorBindingNotFound   = "RELAY_BINDING_NOT_FOUND"
	RelayErrorRateLimited       = "RELAY_RATE_LIMITED"
	RelayErrorNotFound          = "RELAY_NOT_FOUND"
	RelayErrorOrphaned          = "RELAY_ORPHANED"
	RelayErrorOperationFailed   = "RELAY_OPERATION_FAILED"
	RelayErrorInternal          = "RELAY_INTERNAL_ERROR"
)

// MalformedPayloadError marks a delivery that must be acknowledged without
// processing: retrying it would loop forever on the same bad payload.
type MalformedPayloadError struct {
	Reason string
	Cause  error
}

func (e MalformedPayloadError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("core: malformed payload: %s: %v", e.Reason, e.Cause)
	}
	return fmt.Sprintf("core: malformed payload: %s", e.Reason)
}

func (e MalformedPayloadError) Unwrap() error {
	return e.Cause
}

func IsMalformedPayload(err error) bool {
	var malformed MalformedPayloadError
	return errors.As(err, &malformed)
}

// RateLimitError carries the retry-after hint from the platform so the
// issuing lane can suspend without affecting other keys.
type RateLimitError struct {
	ProviderID string
	BucketKey  string
	RetryAfter time.Duration
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf(
		"core: provider %q bucket %q rate limited for %s",
		strings.TrimSpace(e.ProviderID),
		strings.TrimSpace(e.BucketKey),
		e.RetryAfter,
	)
}

func (e RateLimitError) ToServiceError() *goerrors.Error {
	metadata := map[string]any{
		"provider_id": strings.TrimSpace(e.ProviderID),
		"bucket_key":  strings.TrimSpace(e.BucketKey),
	}
	if e.RetryAfter > 0 {
		metadata["retry_after_ms"] = e.RetryAfter.Milliseconds()
	}
	return goerrors.New(e.Error(), goerrors.CategoryRateLimit).
		WithCode(http.StatusTooManyRequests).
		WithTextCode(RelayErrorRateLimited).
		WithMetadata(metadata)
}

func IsRateLimited(err error) (time.Duration, bool) {
	var limited RateLimitError
	if errors.As(err, &limited) {
		return limited.RetryAfter, true
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Category == goerrors.CategoryRateLimit {
		return 0, true
	}
	return 0, false
}

// NotFoundError reports a thread or channel deleted out from under us. The
// owning record is orphaned rather than retried.
type NotFoundError struct {
	Resource string
	ID       string
}

func (e NotFoundError) Error() string {
	return fmt.Sprintf("core: %s %q not found on platform", strings.TrimSpace(e.Resource), strings.TrimSpace(e.ID))
}

func IsPlatformNotFound(err error) bool {
	var notFound NotFoundError
	return errors.As(err, &notFound)
}

func relayErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureRelayErrorEnvelope(richErr)
	}

	var limited RateLimitError
	if errors.As(err, &limited) {
		return limited.ToServiceError()
	}
	var notFound NotFoundError
	if errors.As(err, &notFound) {
		return ensureRelayErrorEnvelope(
			goerrors.New(notFound.Error(), goerrors.CategoryNotFound).
				WithTextCode(RelayErrorNotFound),
		)
	}
	if IsMalformedPayload(err) {
		return ensureRelayErrorEnvelope(
			goerrors.New(err.Error(), goerrors.CategoryBadInput).
				WithTextCode(RelayErrorBadInput),
		)
	}

	switch {
	case errors.Is(err, ErrBindingNotFound):
		return newRelayError(err.Error(), goerrors.CategoryNotFound, RelayErrorBindingNotFound)
	case errors.Is(err, ErrRecordNotFound):
		return newRelayError(err.Error(), goerrors.CategoryNotFound, RelayErrorNotFound)
	case errors.Is(err, ErrRecordOrphaned):
		return newRelayError(err.Error(), goerrors.CategoryConflict, RelayErrorOrphaned)
	case errors.Is(err, ErrDispatcherClosed):
		return newRelayError(err.Error(), goerrors.CategoryOperation, RelayErrorOperationFailed)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "signature"), strings.Contains(msg, "unauthorized"):
		return newRelayError(err.Error(), goerrors.CategoryAuth, RelayErrorUnauthorized)
	case strings.Contains(msg, "rate limit"), strings.Contains(msg, "throttl"):
		return newRelayError(err.Error(), goerrors.CategoryRateLimit, RelayErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "malformed"):
		return newRelayError(err.Error(), goerrors.CategoryBadInput, RelayErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureRelayErrorEnvelope(mapped)
}

func newRelayError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureRelayErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
}

func ensureRelayErrorEnvelope(err *goerrors.Error) *goerrors.Error {
	if err == nil {
		return nil
	}
	if err.Code == 0 {
		err.Code = relayHTTPStatus(err.Category)
	}
	if strings.TrimSpace(err.TextCode) == "" {
		err.TextCode = defaultRelayTextCode(err.Category)
	}
	if err.Category == goerrors.CategoryInternal && strings.TrimSpace(err.Message) == "" {
		err.Message = "An unexpected error occurred"
	}
	return err
}

func defaultRelayTextCode(category goerrors.Category) string {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return RelayErrorBadInput
	case goerrors.CategoryNotFound:
		return RelayErrorNotFound
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return RelayErrorUnauthorized
	case goerrors.CategoryConflict:
		return RelayErrorDuplicateDelivery
	case goerrors.CategoryRateLimit:
		return RelayErrorRateLimited
	case goerrors.CategoryOperation, goerrors.CategoryExternal:
		return RelayErrorOperationFailed
	default:
		return RelayErrorInternal
	}
}

func relayHTTPStatus(category goerrors.Category) int {
	switch category {
	case goerrors.CategoryBadInput, goerrors.CategoryValidation:
		return http.StatusBadRequest
	case goerrors.CategoryNotFound:
		return http.StatusNotFound
	case goerrors.CategoryAuth:
		return http.StatusUnauthorized
	case goerrors.CategoryAuthz:
		return http.StatusForbidden
	case goerrors.CategoryConflict:
		return http.StatusConflict
	case goerrors.CategoryRateLimit:
		return http.StatusTooManyRequests
	case goerrors.CategoryExternal:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}
