// internal/apiclient/errors.go
package apiclient

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// TimeoutError marks a request that exceeded its deadline. Timeouts travel
// the same error channel as network failures so callers treat both as
// retryable.
type TimeoutError struct {
	URL string
	Err error
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("request to %s timed out: %v", e.URL, e.Err)
}

func (e *TimeoutError) Unwrap() error { return e.Err }

// AuthError is terminal for the current operation: the token refresh failed
// or a 401 persisted after refresh and retry. It carries the logout side
// effects with it.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string {
	return fmt.Sprintf("authentication failed: %v", e.Err)
}

func (e *AuthError) Unwrap() error { return e.Err }

// ServerError is a non-2xx response with a body. 5xx responses are retryable
// up to the retry budget; 4xx responses are surfaced immediately.
type ServerError struct {
	Status int
	Body   []byte
}

func (e *ServerError) Error() string {
	return fmt.Sprintf("server returned status %d", e.Status)
}

// errUnauthorized is the internal marker for a 401 so the client can route
// it through the refresh coordinator instead of the retry loop.
var errUnauthorized = errors.New("unauthorized")

// Retryable reports whether an error is worth another attempt: timeouts,
// transport-level failures and 5xx responses are; auth failures and client
// errors are not.
func Retryable(err error) bool {
	var authErr *AuthError
	if errors.As(err, &authErr) {
		return false
	}
	if errors.Is(err, errUnauthorized) {
		return false
	}
	var srvErr *ServerError
	if errors.As(err, &srvErr) {
		return srvErr.Status >= 500
	}
	var timeoutErr *TimeoutError
	if errors.As(err, &timeoutErr) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
