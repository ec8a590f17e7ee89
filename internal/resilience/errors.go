// Package resilience provides the error classifier, circuit breaker, and
// retry executor guarding calls to external data services.
package resilience

import (
	"errors"
	"net"
	"strings"
	"syscall"
)

// Category classifies a failure for retry and reporting decisions.
type Category string

const (
	// CategoryRecoverable covers timeouts, rate limits, and 5xx/gateway
	// errors; retried with backoff.
	CategoryRecoverable Category = "recoverable"
	// CategoryNonRecoverable covers auth failures and malformed requests;
	// the item fails immediately, no retry.
	CategoryNonRecoverable Category = "non_recoverable"
	// CategoryDegraded covers partial-content responses, accepted as a
	// best-effort success and never retried.
	CategoryDegraded Category = "degraded"
	// CategoryServiceUnavailable marks calls rejected by an open circuit
	// breaker, so operators can tell "our logic is broken" from "the
	// dependency is down".
	CategoryServiceUnavailable Category = "service_unavailable"
)

// Retryable reports whether the retry executor should attempt the call again.
func (c Category) Retryable() bool {
	return c == CategoryRecoverable
}

// ClassifiedError carries an explicit category through an error chain.
type ClassifiedError struct {
	Err        error
	Category   Category
	StatusCode int
}

func (e *ClassifiedError) Error() string { return e.Err.Error() }

func (e *ClassifiedError) Unwrap() error { return e.Err }

// Recoverable wraps err as retryable with an optional HTTP status code.
func Recoverable(err error, statusCode int) *ClassifiedError {
	return &ClassifiedError{Err: err, Category: CategoryRecoverable, StatusCode: statusCode}
}

// NonRecoverable wraps err as a permanent failure.
func NonRecoverable(err error, statusCode int) *ClassifiedError {
	return &ClassifiedError{Err: err, Category: CategoryNonRecoverable, StatusCode: statusCode}
}

// Degraded wraps err as a partial-success signal.
func Degraded(err error) *ClassifiedError {
	return &ClassifiedError{Err: err, Category: CategoryDegraded}
}

// Classify maps an error to its category. Explicit ClassifiedError wrappers
// win; open-breaker rejections map to service_unavailable; network-level
// transient failures map to recoverable; everything else is non_recoverable.
func Classify(err error) Category {
	if err == nil {
		return CategoryRecoverable
	}

	var ce *ClassifiedError
	if errors.As(err, &ce) {
		return ce.Category
	}

	if errors.Is(err, ErrCircuitOpen) {
		return CategoryServiceUnavailable
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return CategoryRecoverable
	}

	if errors.Is(err, syscall.ECONNRESET) ||
		errors.Is(err, syscall.ECONNREFUSED) ||
		errors.Is(err, syscall.ECONNABORTED) {
		return CategoryRecoverable
	}

	// String-based heuristics for wrapped errors from HTTP clients.
	msg := strings.ToLower(err.Error())
	recoverablePatterns := []string{
		"connection reset by peer",
		"broken pipe",
		"temporary failure in name resolution",
		"no such host",
		"tls handshake timeout",
		"i/o timeout",
		"server closed idle connection",
		"transport connection broken",
	}
	for _, p := range recoverablePatterns {
		if strings.Contains(msg, p) {
			return CategoryRecoverable
		}
	}

	return CategoryNonRecoverable
}

// ClassifyStatus maps an HTTP status code to a category. 429 is recoverable;
// other 4xx are not. 206 partial content is degraded.
func ClassifyStatus(statusCode int) Category {
	switch {
	case statusCode == 206:
		return CategoryDegraded
	case statusCode == 408 || statusCode == 429:
		return CategoryRecoverable
	case statusCode >= 500:
		return CategoryRecoverable
	case statusCode >= 400:
		return CategoryNonRecoverable
	default:
		return CategoryRecoverable
	}
}
