// Package llmerrors provides structured error classification and retry
// configuration for LLM API interactions.
package llmerrors

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// ErrorType represents different categories of LLM errors for retry and
// degradation logic.
type ErrorType int8

const (
	// Retryable error types.

	// ErrorTypeRateLimit represents rate limiting errors (429, quota exceeded).
	ErrorTypeRateLimit ErrorType = iota
	// ErrorTypeTransient represents transient errors (5xx, EOF, connection reset).
	ErrorTypeTransient
	// ErrorTypeEmptyResponse represents HTTP 200 but no content errors.
	ErrorTypeEmptyResponse

	// Non-retryable error types.

	// ErrorTypeAuth represents authentication errors (401/403, bad API key).
	ErrorTypeAuth
	// ErrorTypeBadPrompt represents malformed request errors (too long, violates policy).
	ErrorTypeBadPrompt
	// ErrorTypeInvalidOutput represents structured-output validation failure:
	// schema mismatch or a citation referencing an unknown snippet id.
	ErrorTypeInvalidOutput
	// ErrorTypeTimeout represents an exceeded per-call bound. Fatal to the run.
	ErrorTypeTimeout
	// ErrorTypeUnknown represents default for unclassified errors.
	ErrorTypeUnknown
)

// String returns the string representation of the error type.
func (et ErrorType) String() string {
	switch et {
	case ErrorTypeRateLimit:
		return "rate_limit"
	case ErrorTypeTransient:
		return "transient"
	case ErrorTypeEmptyResponse:
		return "empty_response"
	case ErrorTypeAuth:
		return "auth"
	case ErrorTypeBadPrompt:
		return "bad_prompt"
	case ErrorTypeInvalidOutput:
		return "invalid_output"
	case ErrorTypeTimeout:
		return "timeout"
	case ErrorTypeUnknown:
		return "unknown"
	default:
		return "invalid"
	}
}

// Default retry limits per error type.
const (
	DefaultRateLimitRetries     = 4
	DefaultTransientRetries     = 3
	DefaultEmptyResponseRetries = 2
	DefaultUnknownRetries       = 1
)

// RetryConfig defines exponential backoff configuration for each error type.
type RetryConfig struct {
	MaxRetries    int           // Maximum number of retry attempts
	InitialDelay  time.Duration // Initial delay for exponential backoff
	MaxDelay      time.Duration // Maximum delay between retries
	BackoffFactor float64       // Multiplier for exponential backoff
	Jitter        bool          // Add random jitter to prevent thundering herd
}

// DefaultRetryConfigs provides default retry configurations for each error type.
//
//nolint:gochecknoglobals // Configuration map - acceptable for package defaults
var DefaultRetryConfigs = map[ErrorType]RetryConfig{
	ErrorTypeRateLimit: {
		MaxRetries:    DefaultRateLimitRetries,
		InitialDelay:  1 * time.Second,
		MaxDelay:      60 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	},
	ErrorTypeTransient: {
		MaxRetries:    DefaultTransientRetries,
		InitialDelay:  500 * time.Millisecond,
		MaxDelay:      10 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	},
	ErrorTypeEmptyResponse: {
		MaxRetries:    DefaultEmptyResponseRetries,
		InitialDelay:  2 * time.Second,
		MaxDelay:      30 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	},
	ErrorTypeUnknown: {
		MaxRetries:    DefaultUnknownRetries,
		InitialDelay:  1 * time.Second,
		MaxDelay:      5 * time.Second,
		BackoffFactor: 2.0,
		Jitter:        true,
	},
}

// Error represents a classified LLM error with retry metadata.
type Error struct {
	Err        error     // Wrapped underlying error
	Message    string    // Human-readable error message
	Type       ErrorType // Classified error type
	StatusCode int       // HTTP status code if applicable
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Message != "" {
		return fmt.Sprintf("LLM error (%s): %s", e.Type.String(), e.Message)
	}
	if e.Err != nil {
		return fmt.Sprintf("LLM error (%s): %v", e.Type.String(), e.Err)
	}
	return fmt.Sprintf("LLM error (%s): status %d", e.Type.String(), e.StatusCode)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *Error) Unwrap() error {
	return e.Err
}

// IsRetryable returns whether this error type should be retried at the
// transport level. Timeout and InvalidOutput are handled above the transport:
// the pipeline treats Timeout as fatal and InvalidOutput as a re-prompt.
func (e *Error) IsRetryable() bool {
	switch e.Type {
	case ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeInvalidOutput, ErrorTypeTimeout:
		return false
	default:
		return true
	}
}

// GetRetryConfig returns the retry configuration for this error type.
func (e *Error) GetRetryConfig() RetryConfig {
	if config, exists := DefaultRetryConfigs[e.Type]; exists {
		return config
	}
	return DefaultRetryConfigs[ErrorTypeUnknown]
}

// Is checks if an error is of a specific type.
func Is(err error, errorType ErrorType) bool {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type == errorType
	}
	return false
}

// TypeOf returns the error type of an error, or ErrorTypeUnknown if not classified.
func TypeOf(err error) ErrorType {
	var llmErr *Error
	if errors.As(err, &llmErr) {
		return llmErr.Type
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return ErrorTypeTimeout
	}
	return ErrorTypeUnknown
}

// IsTimeout reports whether the error is a per-call timeout, which is fatal
// to the owning run.
func IsTimeout(err error) bool {
	return Is(err, ErrorTypeTimeout) || errors.Is(err, context.DeadlineExceeded)
}

// IsInvalidOutput reports whether the error is a structured-output validation
// failure eligible for a single re-prompt.
func IsInvalidOutput(err error) bool {
	return Is(err, ErrorTypeInvalidOutput)
}

// IsModelUnavailable reports whether the error represents a transport or
// model-side failure: the owning stage degrades instead of aborting the run.
func IsModelUnavailable(err error) bool {
	switch TypeOf(err) {
	case ErrorTypeRateLimit, ErrorTypeTransient, ErrorTypeEmptyResponse,
		ErrorTypeAuth, ErrorTypeBadPrompt, ErrorTypeUnknown:
		return true
	default:
		return false
	}
}

// NewError creates a new classified LLM error.
func NewError(errorType ErrorType, message string) *Error {
	return &Error{
		Type:    errorType,
		Message: message,
	}
}

// NewErrorWithStatus creates a new classified LLM error with HTTP status.
func NewErrorWithStatus(errorType ErrorType, statusCode int, message string) *Error {
	return &Error{
		Type:       errorType,
		StatusCode: statusCode,
		Message:    message,
	}
}

// NewErrorWithCause creates a new classified LLM error wrapping another error.
func NewErrorWithCause(errorType ErrorType, cause error, message string) *Error {
	return &Error{
		Type:    errorType,
		Err:     cause,
		Message: message,
	}
}
