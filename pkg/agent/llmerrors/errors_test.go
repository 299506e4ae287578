package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestErrorTypeString(t *testing.T) {
	cases := map[ErrorType]string{
		ErrorTypeRateLimit:     "rate_limit",
		ErrorTypeTransient:     "transient",
		ErrorTypeEmptyResponse: "empty_response",
		ErrorTypeAuth:          "auth",
		ErrorTypeBadPrompt:     "bad_prompt",
		ErrorTypeInvalidOutput: "invalid_output",
		ErrorTypeTimeout:       "timeout",
		ErrorTypeUnknown:       "unknown",
	}
	for et, want := range cases {
		if got := et.String(); got != want {
			t.Errorf("ErrorType(%d).String() = %q, want %q", et, got, want)
		}
	}
}

func TestIsRetryable(t *testing.T) {
	retryable := []ErrorType{ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse, ErrorTypeUnknown}
	for _, et := range retryable {
		if !NewError(et, "x").IsRetryable() {
			t.Errorf("%s should be retryable", et)
		}
	}

	terminal := []ErrorType{ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeInvalidOutput, ErrorTypeTimeout}
	for _, et := range terminal {
		if NewError(et, "x").IsRetryable() {
			t.Errorf("%s should not be retryable", et)
		}
	}
}

func TestTypeOfUnwrapsThroughWrapping(t *testing.T) {
	base := NewErrorWithStatus(ErrorTypeRateLimit, 429, "quota exceeded")
	wrapped := fmt.Errorf("request failed: %w", base)

	if got := TypeOf(wrapped); got != ErrorTypeRateLimit {
		t.Errorf("TypeOf(wrapped) = %s, want rate_limit", got)
	}
	if !Is(wrapped, ErrorTypeRateLimit) {
		t.Error("Is(wrapped, ErrorTypeRateLimit) = false")
	}
}

func TestTypeOfDeadlineExceeded(t *testing.T) {
	err := fmt.Errorf("call failed: %w", context.DeadlineExceeded)
	if got := TypeOf(err); got != ErrorTypeTimeout {
		t.Errorf("TypeOf(deadline) = %s, want timeout", got)
	}
	if !IsTimeout(err) {
		t.Error("IsTimeout(deadline) = false")
	}
}

func TestIsTimeout(t *testing.T) {
	if !IsTimeout(NewError(ErrorTypeTimeout, "stage bound exceeded")) {
		t.Error("classified timeout not detected")
	}
	if IsTimeout(NewError(ErrorTypeTransient, "connection reset")) {
		t.Error("transient error detected as timeout")
	}
	if IsTimeout(errors.New("plain")) {
		t.Error("plain error detected as timeout")
	}
}

func TestIsModelUnavailable(t *testing.T) {
	unavailable := []ErrorType{
		ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse,
		ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeUnknown,
	}
	for _, et := range unavailable {
		if !IsModelUnavailable(NewError(et, "x")) {
			t.Errorf("%s should count as model unavailable", et)
		}
	}

	if IsModelUnavailable(NewError(ErrorTypeTimeout, "x")) {
		t.Error("timeout must not degrade, it is fatal to the run")
	}
	if IsModelUnavailable(NewError(ErrorTypeInvalidOutput, "x")) {
		t.Error("invalid output is a re-prompt, not unavailability")
	}

	// Unclassified errors degrade rather than abort.
	if !IsModelUnavailable(errors.New("plain failure")) {
		t.Error("unclassified error should count as model unavailable")
	}
}

func TestGetRetryConfigFallsBack(t *testing.T) {
	cfg := NewError(ErrorTypeRateLimit, "x").GetRetryConfig()
	if cfg.MaxRetries != DefaultRateLimitRetries {
		t.Errorf("rate limit MaxRetries = %d, want %d", cfg.MaxRetries, DefaultRateLimitRetries)
	}

	// Types without an explicit config use the unknown config.
	cfg = NewError(ErrorTypeAuth, "x").GetRetryConfig()
	if cfg.MaxRetries != DefaultUnknownRetries {
		t.Errorf("fallback MaxRetries = %d, want %d", cfg.MaxRetries, DefaultUnknownRetries)
	}
}

func TestErrorMessageFormats(t *testing.T) {
	e := NewError(ErrorTypeAuth, "bad api key")
	if got := e.Error(); got != "LLM error (auth): bad api key" {
		t.Errorf("Error() = %q", got)
	}

	cause := errors.New("underlying")
	e = NewErrorWithCause(ErrorTypeTransient, cause, "")
	if !errors.Is(e, cause) {
		t.Error("Unwrap does not expose the cause")
	}
}
