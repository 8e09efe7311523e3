// Package gateerr defines the unified error taxonomy for gateway operations.
// Every pipeline stage returns one of these errors; the HTTP layer translates
// them into status codes and a stable machine-readable body.
package gateerr

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Stable machine-readable error codes.
const (
	CodeInvalidRequest        = "invalid_request"
	CodeUnauthorized          = "unauthorized"
	CodeInsufficientCredits   = "insufficient_credits"
	CodeSecurityDenied        = "security_denied"
	CodeNotFound              = "not_found"
	CodeRateLimited           = "rate_limited"
	CodeProviderNotConfigured = "provider_not_configured"
	CodeProviderError         = "provider_error"
	CodeInternal              = "internal_error"
)

// Error carries an HTTP status, a stable code, and a human message.
type Error struct {
	Status  int    `json:"-"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ProviderNotConfigured reports an unresolvable provider, listing the
// providers that are configured so the caller can correct the request.
func ProviderNotConfigured(provider string, configured []string) *Error {
	return &Error{
		Status:  http.StatusBadRequest,
		Code:    CodeProviderNotConfigured,
		Message: fmt.Sprintf("provider %q is not configured (configured providers: %s)", provider, strings.Join(configured, ", ")),
	}
}

// InvalidRequest reports a malformed request body or parameters.
func InvalidRequest(message string) *Error {
	return &Error{Status: http.StatusBadRequest, Code: CodeInvalidRequest, Message: message}
}

// Unauthorized reports a missing or invalid credential.
func Unauthorized(message string) *Error {
	return &Error{Status: http.StatusUnauthorized, Code: CodeUnauthorized, Message: message}
}

// InsufficientCredits reports an exhausted credit balance.
func InsufficientCredits() *Error {
	return &Error{Status: http.StatusPaymentRequired, Code: CodeInsufficientCredits, Message: "insufficient credits"}
}

// SecurityDenied reports a security-gate denial. The reason is logged by the
// gate; callers always receive the same fixed message.
func SecurityDenied() *Error {
	return &Error{Status: http.StatusForbidden, Code: CodeSecurityDenied, Message: "access denied"}
}

// NotFound reports a missing resource.
func NotFound(message string) *Error {
	return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Message: message}
}

// RateLimited reports an admission denial.
func RateLimited(message string) *Error {
	return &Error{Status: http.StatusTooManyRequests, Code: CodeRateLimited, Message: message}
}

// ProviderError wraps an upstream vendor failure. The vendor message is
// passed through verbatim and the call is never retried by the gateway.
func ProviderError(message string) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: CodeProviderError, Message: message}
}

// Internal reports an unhandled gateway failure.
func Internal(message string) *Error {
	return &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Message: message}
}

// From extracts a gateway error from err, wrapping unknown errors as internal.
func From(err error) *Error {
	var ge *Error
	if errors.As(err, &ge) {
		return ge
	}
	return Internal(err.Error())
}
