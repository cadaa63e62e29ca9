package providers

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"testing"
)

func TestClassifyStatusCode(t *testing.T) {
	tests := []struct {
		status int
		want   Reason
	}{
		{http.StatusUnauthorized, ReasonAuth},
		{http.StatusForbidden, ReasonAuth},
		{http.StatusPaymentRequired, ReasonBilling},
		{http.StatusTooManyRequests, ReasonRateLimit},
		{http.StatusNotFound, ReasonModelUnavailable},
		{http.StatusBadRequest, ReasonInvalidRequest},
		{http.StatusInternalServerError, ReasonServerError},
		{http.StatusServiceUnavailable, ReasonServerError},
		{http.StatusTeapot, ReasonUnknown},
	}
	for _, tt := range tests {
		err := NewProviderError("openai", "gpt-4o", errors.New("x")).WithStatus(tt.status)
		if err.Reason != tt.want {
			t.Errorf("status %d: Reason = %v, want %v", tt.status, err.Reason, tt.want)
		}
	}
}

func TestClassifyErrorByMessage(t *testing.T) {
	tests := []struct {
		msg  string
		want Reason
	}{
		{"dial tcp 127.0.0.1:11434: connection refused", ReasonTransport},
		{"lookup api.example.com: no such host", ReasonTransport},
		{"context deadline exceeded", ReasonTimeout},
		{"429 too many requests", ReasonRateLimit},
		{"invalid api key provided", ReasonAuth},
		{"model not found", ReasonModelUnavailable},
		{"500 internal server error", ReasonServerError},
		{"something odd", ReasonUnknown},
	}
	for _, tt := range tests {
		if got := ClassifyError(errors.New(tt.msg)); got != tt.want {
			t.Errorf("ClassifyError(%q) = %v, want %v", tt.msg, got, tt.want)
		}
	}
}

func TestRetryablePredicates(t *testing.T) {
	if !ReasonRateLimit.IsRetryable() || !ReasonServerError.IsRetryable() || !ReasonTransport.IsRetryable() {
		t.Error("rate limit, server error and transport should be retryable")
	}
	if ReasonAuth.IsRetryable() || ReasonInvalidRequest.IsRetryable() || ReasonCanceled.IsRetryable() {
		t.Error("auth, invalid request and canceled must not be retryable")
	}

	wrapped := fmt.Errorf("request failed: %w",
		NewProviderError("anthropic", "claude-sonnet-4-5", errors.New("overloaded")).WithStatus(529))
	if !IsRetryableError(wrapped) {
		t.Error("wrapped 5xx ProviderError should be retryable")
	}
}

func TestFailoverPredicates(t *testing.T) {
	if !ReasonAuth.ShouldFailover() || !ReasonBilling.ShouldFailover() || !ReasonModelUnavailable.ShouldFailover() {
		t.Error("auth, billing and model-unavailable should warrant failover")
	}
	if ReasonRateLimit.ShouldFailover() || ReasonCanceled.ShouldFailover() {
		t.Error("rate limit and canceled must not warrant failover")
	}

	wrapped := fmt.Errorf("request failed: %w",
		NewProviderError("openai", "gpt-4o", errors.New("401")).WithStatus(http.StatusUnauthorized))
	if !ShouldFailover(wrapped) {
		t.Error("wrapped auth ProviderError should warrant failover")
	}
}

func TestErrorStringCarriesContext(t *testing.T) {
	err := NewProviderError("anthropic", "claude-sonnet-4-5", errors.New("boom")).
		WithStatus(http.StatusTooManyRequests).
		WithCode("rate_limit_error").
		WithRequestID("req_123")

	s := err.Error()
	for _, want := range []string{"[rate_limit]", "anthropic", "model=claude-sonnet-4-5", "status=429", "code=rate_limit_error"} {
		if !strings.Contains(s, want) {
			t.Errorf("Error() = %q, missing %q", s, want)
		}
	}
	if err.RequestID != "req_123" {
		t.Errorf("RequestID = %q", err.RequestID)
	}
}

func TestGuidanceIsActionable(t *testing.T) {
	auth := NewProviderError("openai", "gpt-4o", errors.New("401")).WithStatus(http.StatusUnauthorized)
	if g := auth.Guidance(); !strings.Contains(g, "API key") || !strings.Contains(g, "openai") {
		t.Errorf("auth guidance not actionable: %q", g)
	}

	local := NewProviderError("local", "llama3", errors.New("connection refused"))
	if g := local.Guidance(); !strings.Contains(g, "ollama serve") {
		t.Errorf("local transport guidance should tell the user to start the server: %q", g)
	}

	missing := NewProviderError("local", "llama3", errors.New("404")).WithStatus(http.StatusNotFound)
	if g := missing.Guidance(); !strings.Contains(g, "pulled") {
		t.Errorf("local 404 guidance should mention pulling the model: %q", g)
	}
}

func TestIsInvalidRequestMatchesThroughWrapping(t *testing.T) {
	base := NewProviderError("google", "gemini-2.0-flash", errors.New("bad schema")).WithStatus(http.StatusBadRequest)
	wrapped := fmt.Errorf("stream failed: %w", base)
	if !IsInvalidRequest(wrapped) {
		t.Error("IsInvalidRequest should see through wrapping")
	}
	if IsCanceled(wrapped) {
		t.Error("invalid request must not read as canceled")
	}
}
