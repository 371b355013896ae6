// ABOUTME: Error taxonomy for calls against the Mercury REST API.
// ABOUTME: Distinguishes local validation, transport, upstream status, and decode failures.

package mercury

import (
	"errors"
	"fmt"
)

// ErrMissingAPIKey is returned when the client is constructed without an API key.
var ErrMissingAPIKey = errors.New("mercury API key is required (set MERCURY_API_KEY)")

// maxErrorBodyLen caps how much of an upstream body is echoed in error strings.
const maxErrorBodyLen = 512

// InvalidArgumentError reports caller input that failed local validation.
// It is always returned before any network activity.
type InvalidArgumentError struct {
	Argument string
	Reason   string
}

func (e *InvalidArgumentError) Error() string {
	return fmt.Sprintf("invalid argument %s: %s", e.Argument, e.Reason)
}

// TransportError wraps a network-level failure reaching the API
// (DNS, connection refused, reset, client timeout).
type TransportError struct {
	Cause error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("mercury transport error: %v", e.Cause)
}

func (e *TransportError) Unwrap() error {
	return e.Cause
}

// UpstreamError reports a non-2xx response. 401, 404 and 429 are not
// special-cased; callers inspect StatusCode.
type UpstreamError struct {
	StatusCode int
	Body       string
}

func (e *UpstreamError) Error() string {
	body := e.Body
	if len(body) > maxErrorBodyLen {
		body = body[:maxErrorBodyLen] + "..."
	}
	if body == "" {
		return fmt.Sprintf("mercury API returned status %d", e.StatusCode)
	}
	return fmt.Sprintf("mercury API returned status %d: %s", e.StatusCode, body)
}

// DecodeError reports a response body that is not valid JSON or lacks the
// fields the adapter needs.
type DecodeError struct {
	RawBody []byte
	Cause   error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("decoding mercury response: %v", e.Cause)
}

func (e *DecodeError) Unwrap() error {
	return e.Cause
}
