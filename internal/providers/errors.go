package providers

import (
	"context"
	"errors"
	"strings"
	"time"
)

// ErrorClass splits upstream failures into retryable and fatal.
type ErrorClass string

const (
	// ClassTransient covers timeouts, rate limits, and 5xx-style failures.
	ClassTransient ErrorClass = "transient"
	// ClassPermanent covers invalid input, auth failures, and exhausted quotas.
	ClassPermanent ErrorClass = "permanent"
)

// UpstreamError wraps a failure from an AI capability call with its
// retry classification.
type UpstreamError struct {
	Op         string // "generate_story", "generate_image"
	Class      ErrorClass
	RetryAfter time.Duration // Hint from a 429 response, zero if unknown
	Err        error
}

func (e *UpstreamError) Error() string {
	if e.Err == nil {
		return string(e.Class) + " upstream error: " + e.Op
	}
	return e.Op + ": " + e.Err.Error()
}

func (e *UpstreamError) Unwrap() error { return e.Err }

// Transient wraps err as a retryable upstream failure.
func Transient(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Class: ClassTransient, Err: err}
}

// Permanent wraps err as a non-retryable upstream failure.
func Permanent(op string, err error) *UpstreamError {
	return &UpstreamError{Op: op, Class: ClassPermanent, Err: err}
}

// IsTransient reports whether err should be retried. Classified errors are
// trusted; unclassified errors fall back to message sniffing so wrapped SDK
// transport failures still retry.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}

	var ue *UpstreamError
	if errors.As(err, &ue) {
		return ue.Class == ClassTransient
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	if errors.Is(err, context.Canceled) {
		return false
	}

	errStr := err.Error()
	if strings.Contains(errStr, "status 500") ||
		strings.Contains(errStr, "status 502") ||
		strings.Contains(errStr, "status 503") ||
		strings.Contains(errStr, "status 504") {
		return true
	}
	if strings.Contains(errStr, "status 429") ||
		strings.Contains(errStr, "rate limit") ||
		strings.Contains(errStr, "too many requests") {
		return true
	}
	if strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "deadline exceeded") {
		return true
	}
	if strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "EOF") {
		return true
	}
	return false
}

// classifyStatus maps an HTTP status code from an AI vendor to an error class.
func classifyStatus(status int) ErrorClass {
	switch {
	case status == 429:
		return ClassTransient
	case status >= 500:
		return ClassTransient
	default:
		return ClassPermanent
	}
}
