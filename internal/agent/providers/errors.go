package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Reason categorizes why a provider request failed. It drives retry
// decisions and the guidance shown to the user.
type Reason string

const (
	// ReasonBilling indicates payment/quota issues (HTTP 402).
	ReasonBilling Reason = "billing"

	// ReasonRateLimit indicates rate limiting (HTTP 429).
	ReasonRateLimit Reason = "rate_limit"

	// ReasonAuth indicates authentication failure (HTTP 401, 403).
	ReasonAuth Reason = "auth"

	// ReasonTimeout indicates a request timeout.
	ReasonTimeout Reason = "timeout"

	// ReasonServerError indicates server-side issues (HTTP 5xx).
	ReasonServerError Reason = "server_error"

	// ReasonInvalidRequest indicates client-side issues (HTTP 400).
	ReasonInvalidRequest Reason = "invalid_request"

	// ReasonModelUnavailable indicates the model is not available.
	ReasonModelUnavailable Reason = "model_unavailable"

	// ReasonTransport indicates the request never reached the vendor
	// (connection refused, DNS failure).
	ReasonTransport Reason = "transport"

	// ReasonCanceled indicates the caller canceled the request.
	ReasonCanceled Reason = "canceled"

	// ReasonUnknown indicates an unclassified error.
	ReasonUnknown Reason = "unknown"
)

// IsRetryable returns true if retrying the same request may succeed.
func (r Reason) IsRetryable() bool {
	switch r {
	case ReasonRateLimit, ReasonTimeout, ReasonServerError, ReasonTransport:
		return true
	default:
		return false
	}
}

// ShouldFailover returns true if the error warrants trying a different
// provider or model rather than retrying the same one.
func (r Reason) ShouldFailover() bool {
	switch r {
	case ReasonBilling, ReasonAuth, ReasonModelUnavailable:
		return true
	default:
		return false
	}
}

// ProviderError is a structured error from an LLM provider. It carries the
// context needed for retry logic and for building an actionable message.
type ProviderError struct {
	// Reason categorizes the error.
	Reason Reason

	// Provider is the vendor name (e.g. "anthropic", "openai").
	Provider string

	// Model is the model that was requested.
	Model string

	// Status is the HTTP status code, if applicable.
	Status int

	// Code is the provider-specific error code.
	Code string

	// Message is the human-readable error message.
	Message string

	// RequestID is the provider's request ID for debugging.
	RequestID string

	// Cause is the underlying error.
	Cause error
}

// Error implements the error interface.
func (e *ProviderError) Error() string {
	var parts []string

	parts = append(parts, fmt.Sprintf("[%s]", e.Reason))
	if e.Provider != "" {
		parts = append(parts, e.Provider)
	}
	if e.Model != "" {
		parts = append(parts, fmt.Sprintf("model=%s", e.Model))
	}
	if e.Status != 0 {
		parts = append(parts, fmt.Sprintf("status=%d", e.Status))
	}
	if e.Code != "" {
		parts = append(parts, fmt.Sprintf("code=%s", e.Code))
	}
	if e.Message != "" {
		parts = append(parts, e.Message)
	} else if e.Cause != nil {
		parts = append(parts, e.Cause.Error())
	}

	return strings.Join(parts, " ")
}

// Unwrap returns the underlying error.
func (e *ProviderError) Unwrap() error {
	return e.Cause
}

// Guidance returns a user-actionable description of the failure: what went
// wrong and what to do about it, phrased per vendor.
func (e *ProviderError) Guidance() string {
	vendor := e.Provider
	if vendor == "" {
		vendor = "the provider"
	}
	switch e.Reason {
	case ReasonAuth:
		return fmt.Sprintf("authentication with %s failed; check the API key configured for it", vendor)
	case ReasonBilling:
		return fmt.Sprintf("%s rejected the request for billing or quota reasons; check the account's plan and credits", vendor)
	case ReasonRateLimit:
		return fmt.Sprintf("%s is rate limiting requests; wait a moment and try again, or switch models", vendor)
	case ReasonModelUnavailable:
		if vendor == "local" {
			return fmt.Sprintf("model %q was not found on the local server; make sure the server is running and the model is pulled", e.Model)
		}
		return fmt.Sprintf("model %q is not available on %s; check the model identifier", e.Model, vendor)
	case ReasonInvalidRequest:
		if e.Message != "" {
			return fmt.Sprintf("%s rejected the request as invalid: %s", vendor, e.Message)
		}
		return fmt.Sprintf("%s rejected the request as invalid; check the model name and request options", vendor)
	case ReasonServerError:
		if vendor == "local" {
			return "the local model server returned an error; make sure it is running and healthy"
		}
		return fmt.Sprintf("%s is temporarily unavailable; try again shortly", vendor)
	case ReasonTransport:
		if vendor == "local" {
			return "could not reach the local model server; make sure it is running (e.g. `ollama serve`) and the base URL is correct"
		}
		return fmt.Sprintf("could not reach %s; check network connectivity and any proxy configuration", vendor)
	case ReasonTimeout:
		return fmt.Sprintf("the request to %s timed out; try again or reduce the request size", vendor)
	case ReasonCanceled:
		return "request canceled"
	default:
		if e.Message != "" {
			return fmt.Sprintf("%s request failed: %s", vendor, e.Message)
		}
		return fmt.Sprintf("%s request failed", vendor)
	}
}

// NewProviderError creates a ProviderError, classifying the cause by its
// message when no more specific information is attached later.
func NewProviderError(provider, model string, cause error) *ProviderError {
	err := &ProviderError{
		Provider: provider,
		Model:    model,
		Cause:    cause,
		Reason:   ReasonUnknown,
	}
	if cause != nil {
		err.Message = cause.Error()
		err.Reason = ClassifyError(cause)
	}
	return err
}

// WithStatus adds the HTTP status and reclassifies from it.
func (e *ProviderError) WithStatus(status int) *ProviderError {
	e.Status = status
	e.Reason = classifyStatusCode(status)
	return e
}

// WithCode adds a provider-specific error code and reclassifies if the code
// is recognized.
func (e *ProviderError) WithCode(code string) *ProviderError {
	e.Code = code
	if reason := classifyErrorCode(code); reason != ReasonUnknown {
		e.Reason = reason
	}
	return e
}

// WithRequestID adds the provider's request ID.
func (e *ProviderError) WithRequestID(id string) *ProviderError {
	e.RequestID = id
	return e
}

// WithMessage sets the error message.
func (e *ProviderError) WithMessage(msg string) *ProviderError {
	e.Message = msg
	return e
}

// ClassifyError inspects an error's text and returns the matching Reason.
func ClassifyError(err error) Reason {
	if err == nil {
		return ReasonUnknown
	}

	errStr := strings.ToLower(err.Error())

	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") ||
		strings.Contains(errStr, "context deadline") {
		return ReasonTimeout
	}

	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "network is unreachable") {
		return ReasonTransport
	}

	if strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "rate_limit") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "429") {
		return ReasonRateLimit
	}

	if strings.Contains(errStr, "unauthorized") ||
		strings.Contains(errStr, "invalid api key") ||
		strings.Contains(errStr, "invalid_api_key") ||
		strings.Contains(errStr, "authentication") ||
		strings.Contains(errStr, "permission denied") ||
		strings.Contains(errStr, "401") ||
		strings.Contains(errStr, "403") {
		return ReasonAuth
	}

	if strings.Contains(errStr, "billing") ||
		strings.Contains(errStr, "payment") ||
		strings.Contains(errStr, "quota") ||
		strings.Contains(errStr, "insufficient") ||
		strings.Contains(errStr, "402") {
		return ReasonBilling
	}

	if strings.Contains(errStr, "model not found") ||
		strings.Contains(errStr, "model_not_found") ||
		strings.Contains(errStr, "does not exist") ||
		strings.Contains(errStr, "unavailable") {
		return ReasonModelUnavailable
	}

	if strings.Contains(errStr, "internal server") ||
		strings.Contains(errStr, "server error") ||
		strings.Contains(errStr, "500") ||
		strings.Contains(errStr, "502") ||
		strings.Contains(errStr, "503") ||
		strings.Contains(errStr, "504") {
		return ReasonServerError
	}

	return ReasonUnknown
}

// classifyStatusCode maps HTTP status codes to reasons.
func classifyStatusCode(status int) Reason {
	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return ReasonAuth
	case status == http.StatusPaymentRequired:
		return ReasonBilling
	case status == http.StatusTooManyRequests:
		return ReasonRateLimit
	case status == http.StatusNotFound:
		return ReasonModelUnavailable
	case status == http.StatusRequestTimeout:
		return ReasonTimeout
	case status == http.StatusBadRequest, status == http.StatusUnprocessableEntity:
		return ReasonInvalidRequest
	case status >= 500:
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// classifyErrorCode maps well-known provider error codes to reasons.
func classifyErrorCode(code string) Reason {
	switch strings.ToLower(code) {
	case "rate_limit_error", "rate_limit_exceeded":
		return ReasonRateLimit
	case "authentication_error", "invalid_api_key", "permission_error":
		return ReasonAuth
	case "insufficient_quota", "billing_hard_limit_reached":
		return ReasonBilling
	case "invalid_request_error":
		return ReasonInvalidRequest
	case "not_found_error", "model_not_found":
		return ReasonModelUnavailable
	case "overloaded_error", "api_error", "internal_server_error":
		return ReasonServerError
	default:
		return ReasonUnknown
	}
}

// GetProviderError extracts a *ProviderError from an error chain.
func GetProviderError(err error) (*ProviderError, bool) {
	var pe *ProviderError
	if errors.As(err, &pe) {
		return pe, true
	}
	return nil, false
}

// IsProviderError reports whether the chain contains a ProviderError.
func IsProviderError(err error) bool {
	_, ok := GetProviderError(err)
	return ok
}

// IsCanceled reports whether the error represents caller cancellation.
func IsCanceled(err error) bool {
	if pe, ok := GetProviderError(err); ok && pe.Reason == ReasonCanceled {
		return true
	}
	return false
}

// IsInvalidRequest reports whether the provider rejected the request as
// malformed, which makes a retry without optional request features (tools)
// worth attempting.
func IsInvalidRequest(err error) bool {
	if pe, ok := GetProviderError(err); ok && pe.Reason == ReasonInvalidRequest {
		return true
	}
	return false
}

// IsRetryableError reports whether the chain's classified reason suggests a
// retry may succeed. Unwrapped errors are classified by message.
func IsRetryableError(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := GetProviderError(err); ok {
		return pe.Reason.IsRetryable()
	}
	return ClassifyError(err).IsRetryable()
}

// ShouldFailover reports whether switching provider or model is the right
// reaction to the error.
func ShouldFailover(err error) bool {
	if err == nil {
		return false
	}
	if pe, ok := GetProviderError(err); ok {
		return pe.Reason.ShouldFailover()
	}
	return ClassifyError(err).ShouldFailover()
}
