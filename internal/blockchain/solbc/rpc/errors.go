// internal/blockchain/solbc/rpc/errors.go
package rpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"
	"syscall"
)

var (
	// ErrNoEndpoints is returned when a pool is built without endpoints.
	ErrNoEndpoints = errors.New("no endpoints configured")

	// ErrRateLimit is returned when the endpoint throttles us (HTTP 429).
	ErrRateLimit = errors.New("rate limit exceeded")

	// ErrTimeout is returned when a request does not complete in time.
	ErrTimeout = errors.New("request timeout")

	// ErrInvalidResponse marks a malformed or rejected request. Not retried.
	ErrInvalidResponse = errors.New("invalid response")

	// ErrConnectionFailed covers transport-level failures and 5xx responses.
	ErrConnectionFailed = errors.New("connection failed")

	// ErrExhaustedRetries is matched by *ExhaustedRetriesError via errors.Is.
	ErrExhaustedRetries = errors.New("retries exhausted")
)

// Error carries the endpoint and method an error came from.
type Error struct {
	Err      error
	Endpoint string
	Method   string
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s at %s: %v", e.Method, e.Endpoint, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err with endpoint context.
func NewError(err error, endpoint, method string) error {
	return &Error{
		Err:      err,
		Endpoint: endpoint,
		Method:   method,
	}
}

// ExhaustedRetriesError is returned after every allowed attempt failed
// with a retryable error.
type ExhaustedRetriesError struct {
	Method   string
	Attempts int
	Last     error
}

func (e *ExhaustedRetriesError) Error() string {
	return fmt.Sprintf("%s: %d attempts exhausted: %v", e.Method, e.Attempts, e.Last)
}

func (e *ExhaustedRetriesError) Unwrap() []error {
	return []error{ErrExhaustedRetries, e.Last}
}

// StatusError maps an HTTP status code onto the error taxonomy.
// Returns nil for 2xx.
func StatusError(code int) error {
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests:
		return ErrRateLimit
	case code == http.StatusRequestTimeout, code == http.StatusGatewayTimeout:
		return ErrTimeout
	case code >= 500:
		return fmt.Errorf("%w: status %d", ErrConnectionFailed, code)
	default:
		return fmt.Errorf("%w: status %d", ErrInvalidResponse, code)
	}
}

// IsRetryable reports whether err is a transient failure worth another
// attempt on a (possibly different) endpoint.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}

	switch {
	case errors.Is(err, ErrInvalidResponse):
		return false
	case errors.Is(err, ErrTimeout),
		errors.Is(err, ErrRateLimit),
		errors.Is(err, ErrConnectionFailed),
		errors.Is(err, context.DeadlineExceeded),
		errors.Is(err, syscall.ECONNRESET),
		errors.Is(err, syscall.ECONNREFUSED):
		return true
	}

	var netErr net.Error
	if errors.As(err, &netErr) && netErr.Timeout() {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}

	// solana-go surfaces HTTP failures as plain strings
	errStr := strings.ToLower(err.Error())
	return strings.Contains(errStr, "429") ||
		strings.Contains(errStr, "too many requests") ||
		strings.Contains(errStr, "connection reset") ||
		strings.Contains(errStr, "connection refused") ||
		strings.Contains(errStr, "no such host") ||
		strings.Contains(errStr, "timeout") ||
		strings.Contains(errStr, "eof")
}
