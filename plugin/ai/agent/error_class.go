package agent

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/hrygo/bankdesk/plugin/ai/agent/tools"
)

// ErrorClass is the category of a model or tool fault.
type ErrorClass int

const (
	// ErrorClassTransient is a temporary fault: network trouble, timeouts, an overloaded upstream.
	ErrorClassTransient ErrorClass = iota

	// ErrorClassPermanent is a fault that repeats on retry: validation failures, bad input.
	ErrorClassPermanent

	// ErrorClassAuth is a rejected or missing credential.
	ErrorClassAuth
)

// String returns the string representation of ErrorClass.
func (e ErrorClass) String() string {
	switch e {
	case ErrorClassTransient:
		return "transient"
	case ErrorClassPermanent:
		return "permanent"
	case ErrorClassAuth:
		return "auth"
	default:
		return "unknown"
	}
}

// ClassifiedError wraps an error with its classification and retry guidance.
type ClassifiedError struct {
	Class      ErrorClass
	Original   error
	RetryAfter time.Duration // Suggested delay before retry (for transient errors)
}

// Error returns a formatted error message.
func (c *ClassifiedError) Error() string {
	if c.Original == nil {
		return fmt.Sprintf("classified error: class=%s", c.Class)
	}
	return fmt.Sprintf("%s: %v", c.Class, c.Original)
}

// Unwrap returns the original error for errors.Is/As.
func (c *ClassifiedError) Unwrap() error {
	return c.Original
}

// IsTransient returns true if the error is temporary and may succeed on retry.
func (c *ClassifiedError) IsTransient() bool {
	return c.Class == ErrorClassTransient
}

// IsPermanent returns true if the error is non-retryable.
func (c *ClassifiedError) IsPermanent() bool {
	return c.Class == ErrorClassPermanent
}

// IsAuth returns true if a credential was rejected.
func (c *ClassifiedError) IsAuth() bool {
	return c.Class == ErrorClassAuth
}

// messagePatterns classify faults that carry no typed cause, such as errors
// relayed as text by the model endpoint or the toolbox.
var messagePatterns = []struct {
	class      ErrorClass
	retryAfter time.Duration
	patterns   []string
}{
	{ErrorClassTransient, 3 * time.Second, []string{"timeout", "timed out", "deadline exceeded"}},
	{ErrorClassTransient, 2 * time.Second, []string{
		"connection refused", "connection reset", "broken pipe", "network is unreachable",
		"no such host", "temporary failure", "dial tcp", "eof",
	}},
	{ErrorClassAuth, 0, []string{"unauthorized", "forbidden", "invalid token"}},
}

// ClassifyError sorts a model or tool fault into a class with retry guidance.
// Unknown faults are permanent.
func ClassifyError(err error) *ClassifiedError {
	if err == nil {
		return nil
	}

	if errors.Is(err, tools.ErrToolTimeout) || errors.Is(err, context.DeadlineExceeded) {
		return &ClassifiedError{Class: ErrorClassTransient, Original: err, RetryAfter: 3 * time.Second}
	}

	var statusErr *tools.StatusError
	if errors.As(err, &statusErr) {
		return classifyStatus(err, statusErr.StatusCode)
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return &ClassifiedError{Class: ErrorClassTransient, Original: err, RetryAfter: 2 * time.Second}
	}

	msg := strings.ToLower(err.Error())
	for _, group := range messagePatterns {
		for _, pattern := range group.patterns {
			if strings.Contains(msg, pattern) {
				return &ClassifiedError{Class: group.class, Original: err, RetryAfter: group.retryAfter}
			}
		}
	}
	return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
}

// classifyStatus maps a toolbox HTTP status to a class.
func classifyStatus(err error, status int) *ClassifiedError {
	switch {
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return &ClassifiedError{Class: ErrorClassAuth, Original: err}
	case status == http.StatusTooManyRequests || status >= http.StatusInternalServerError:
		return &ClassifiedError{Class: ErrorClassTransient, Original: err, RetryAfter: 2 * time.Second}
	default:
		return &ClassifiedError{Class: ErrorClassPermanent, Original: err}
	}
}

// ShouldRetry returns true if the error warrants a retry attempt.
func ShouldRetry(err error) bool {
	if err == nil {
		return false
	}
	return ClassifyError(err).IsTransient()
}

// GetRetryDelay returns the suggested delay before retry, or 0 if not retryable.
func GetRetryDelay(err error) time.Duration {
	if err == nil {
		return 0
	}
	classified := ClassifyError(err)
	if classified.IsTransient() && classified.RetryAfter > 0 {
		return classified.RetryAfter
	}
	return 0
}
