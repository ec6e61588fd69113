package types

import (
	"errors"
	"fmt"
	"net/http"
)

// NetworkError reports a failed round trip to a remote collaborator: either a
// transport failure (StatusCode 0) or a non-success HTTP status.
type NetworkError struct {
	// Op names the collaborator operation, e.g. "synth.synthesize".
	Op string

	// StatusCode is the HTTP status, or 0 when no response was received.
	StatusCode int

	// Body holds a truncated response body for diagnostics.
	Body string

	// Err is the underlying transport error, if any.
	Err error
}

func (e *NetworkError) Error() string {
	switch {
	case e.StatusCode != 0 && e.Body != "":
		return fmt.Sprintf("%s: unexpected status %d: %s", e.Op, e.StatusCode, e.Body)
	case e.StatusCode != 0:
		return fmt.Sprintf("%s: unexpected status %d", e.Op, e.StatusCode)
	default:
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
}

func (e *NetworkError) Unwrap() error { return e.Err }

// Retryable reports whether repeating the request may succeed. Transport
// failures, 429 and 5xx responses are retryable; other statuses are not.
func (e *NetworkError) Retryable() bool {
	switch {
	case e.StatusCode == 0:
		return true
	case e.StatusCode == http.StatusTooManyRequests:
		return true
	case e.StatusCode >= 500:
		return true
	default:
		return false
	}
}

// IsNetworkError reports whether err is or wraps a [*NetworkError].
func IsNetworkError(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne)
}

// IsRetryable reports whether err wraps a retryable [*NetworkError].
func IsRetryable(err error) bool {
	var ne *NetworkError
	return errors.As(err, &ne) && ne.Retryable()
}
