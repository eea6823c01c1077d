package core

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

const (
	ServiceErrorBadInput          = "SOCIAL_BAD_INPUT"
	ServiceErrorPlatformNotFound  = "SOCIAL_PLATFORM_NOT_FOUND"
	ServiceErrorConnectionMissing = "SOCIAL_CONNECTION_NOT_FOUND"
	ServiceErrorStateInvalid      = "SOCIAL_STATE_INVALID"
	ServiceErrorCredentialCorrupt = "SOCIAL_CREDENTIAL_CORRUPT"
	ServiceErrorReauthRequired    = "SOCIAL_REAUTH_REQUIRED"
	ServiceErrorRefreshLocked     = "SOCIAL_REFRESH_LOCKED"
	ServiceErrorRateLimited       = "SOCIAL_RATE_LIMITED"
	ServiceErrorPublishRejected   = "SOCIAL_PUBLISH_REJECTED"
	ServiceErrorInternal          = "SOCIAL_INTERNAL_ERROR"
)

// PlatformError is the classified form of a third-party failure. Each
// platform adapter owns the mapping from its wire errors to this shape;
// upstream components only read Retryable and the text code.
type PlatformError struct {
	Platform   string
	Op         string
	Message    string
	StatusCode int
	Retryable  bool
	Err        error
}

func (e *PlatformError) Error() string {
	if e == nil {
		return "<nil>"
	}
	msg := strings.TrimSpace(e.Message)
	if msg == "" && e.Err != nil {
		msg = e.Err.Error()
	}
	return fmt.Sprintf("%s: %s failed: %s", e.Platform, e.Op, msg)
}

func (e *PlatformError) Unwrap() error {
	if e == nil {
		return nil
	}
	return e.Err
}

// IsRetryable reports whether a caller-side backoff policy may re-attempt
// the operation. Unclassified errors are treated as non-retryable.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		return platformErr.Retryable
	}
	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		switch richErr.Category {
		case goerrors.CategoryRateLimit, goerrors.CategoryExternal:
			return true
		}
	}
	return false
}

func serviceErrorMapper(err error) *goerrors.Error {
	if err == nil {
		return nil
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		return ensureServiceErrorEnvelope(richErr)
	}

	var platformErr *PlatformError
	if errors.As(err, &platformErr) {
		category := goerrors.CategoryExternal
		textCode := ServiceErrorPublishRejected
		if platformErr.Retryable {
			category = goerrors.CategoryRateLimit
			textCode = ServiceErrorRateLimited
		}
		return ensureServiceErrorEnvelope(
			goerrors.Wrap(err, category, platformErr.Error()).
				WithTextCode(textCode).
				WithMetadata(map[string]any{
					"platform":  platformErr.Platform,
					"operation": platformErr.Op,
					"retryable": platformErr.Retryable,
				}),
		)
	}

	switch {
	case errors.Is(err, ErrStateMalformed),
		errors.Is(err, ErrStateExpired),
		errors.Is(err, ErrStatePlatformMismatch):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorStateInvalid)
	case errors.Is(err, ErrConnectionNotFound):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorConnectionMissing)
	case errors.Is(err, ErrRefreshNotSupported):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorReauthRequired)
	case errors.Is(err, ErrRevisionConflict):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorRefreshLocked)
	}

	msg := strings.ToLower(strings.TrimSpace(err.Error()))
	switch {
	case strings.Contains(msg, "platform") && strings.Contains(msg, "not registered"):
		return newServiceError(err.Error(), goerrors.CategoryNotFound, ServiceErrorPlatformNotFound)
	case strings.Contains(msg, "lock already held"), strings.Contains(msg, "refresh lock"):
		return newServiceError(err.Error(), goerrors.CategoryConflict, ServiceErrorRefreshLocked)
	case strings.Contains(msg, "corrupt credential"), strings.Contains(msg, "decrypt"):
		return newServiceError(err.Error(), goerrors.CategoryAuth, ServiceErrorCredentialCorrupt)
	case strings.Contains(msg, "throttl"), strings.Contains(msg, "rate limit"):
		return newServiceError(err.Error(), goerrors.CategoryRateLimit, ServiceErrorRateLimited)
	case strings.Contains(msg, "required"), strings.Contains(msg, "invalid"), strings.Contains(msg, "mismatch"):
		return newServiceError(err.Error(), goerrors.CategoryBadInput, ServiceErrorBadInput)
	}

	mapped := goerrors.MapToError(err, goerrors.DefaultErrorMappers())
	return ensureServiceErrorEnvelope(mapped)
}

func newServiceError(message string, category goerrors.Category, textCode string) *goerrors.Error {
	return ensureServiceErrorEnvelope(
		goerrors.New(message, category).
			WithTextCode(textCode),
	)
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
		return ServiceErrorConnectionMissing
	case goerrors.CategoryAuth, goerrors.CategoryAuthz:
		return ServiceErrorReauthRequired
	case goerrors.CategoryConflict:
		return ServiceErrorRefreshLocked
	case goerrors.CategoryRateLimit:
		return ServiceErrorRateLimited
	case goerrors.CategoryExternal:
		return ServiceErrorPublishRejected
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
