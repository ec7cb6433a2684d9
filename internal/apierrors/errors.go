// Package apierrors provides the shared error taxonomy for the Driftmail client.
package apierrors

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel errors for errors.Is() checks. Every failure surfaced by the
// client matches exactly one of the kind sentinels below, in addition to
// any convenience sentinel its status code maps to.
var (
	// ErrNetwork indicates a connection-level failure before a response
	// was received.
	ErrNetwork = errors.New("network error")

	// ErrTimeout indicates an attempt exceeded its deadline.
	ErrTimeout = errors.New("request timed out")

	// ErrCancelled indicates the caller's context was cancelled.
	ErrCancelled = errors.New("request cancelled")

	// ErrServerTransient indicates a retryable server response (429, 502, 503, 504).
	ErrServerTransient = errors.New("transient server error")

	// ErrServerPermanent indicates a non-retryable server response.
	ErrServerPermanent = errors.New("permanent server error")

	// ErrClientProtocol indicates the server sent something the client
	// could not interpret as the expected protocol.
	ErrClientProtocol = errors.New("protocol error")

	// ErrDecode indicates a response body or event payload could not be
	// decoded or decrypted.
	ErrDecode = errors.New("decode error")

	// ErrNonReplayableBody indicates a retry was required but the request
	// body cannot be regenerated.
	ErrNonReplayableBody = errors.New("request body is not replayable")

	// ErrUnauthorized is returned when the auth token is invalid or expired.
	ErrUnauthorized = errors.New("invalid or expired auth token")

	// ErrInboxNotFound is returned when an inbox is not found.
	ErrInboxNotFound = errors.New("inbox not found")

	// ErrEmailNotFound is returned when an email is not found.
	ErrEmailNotFound = errors.New("email not found")

	// ErrRateLimited is returned when the API rate limit is exceeded.
	ErrRateLimited = errors.New("rate limit exceeded")
)

// ResourceType indicates which type of resource an error relates to.
type ResourceType string

const (
	// ResourceUnknown indicates the resource type is not specified.
	ResourceUnknown ResourceType = ""
	// ResourceInbox indicates the error relates to an inbox.
	ResourceInbox ResourceType = "inbox"
	// ResourceEmail indicates the error relates to an email.
	ResourceEmail ResourceType = "email"
)

// transientStatus reports whether a status code is classified as transient.
func transientStatus(code int) bool {
	switch code {
	case 429, 502, 503, 504:
		return true
	}
	return false
}

// StatusError represents a non-2xx HTTP response from the Driftmail API.
type StatusError struct {
	StatusCode   int
	Message      string
	RequestID    string
	ResourceType ResourceType
	// RetryAfter is the server-provided retry hint on 429 responses,
	// zero when absent.
	RetryAfter time.Duration
}

func (e *StatusError) Error() string {
	if e.RequestID != "" {
		if e.Message != "" {
			return fmt.Sprintf("API error %d: %s (request_id: %s)", e.StatusCode, e.Message, e.RequestID)
		}
		return fmt.Sprintf("API error %d (request_id: %s)", e.StatusCode, e.RequestID)
	}
	if e.Message != "" {
		return fmt.Sprintf("API error %d: %s", e.StatusCode, e.Message)
	}
	return fmt.Sprintf("API error %d", e.StatusCode)
}

// Transient reports whether the response status is retryable.
func (e *StatusError) Transient() bool {
	return transientStatus(e.StatusCode)
}

// Is implements errors.Is for sentinel error matching.
func (e *StatusError) Is(target error) bool {
	if target == ErrServerTransient {
		return e.Transient()
	}
	if target == ErrServerPermanent {
		return !e.Transient()
	}
	switch e.StatusCode {
	case 401, 403:
		return target == ErrUnauthorized
	case 404:
		switch e.ResourceType {
		case ResourceInbox:
			return target == ErrInboxNotFound
		case ResourceEmail:
			return target == ErrEmailNotFound
		default:
			return target == ErrInboxNotFound || target == ErrEmailNotFound
		}
	case 429:
		return target == ErrRateLimited
	}
	return false
}

// WithResourceType returns a copy of the error with the resource type set.
// If the error is not a *StatusError, it is returned unchanged.
func WithResourceType(err error, rt ResourceType) error {
	if err == nil {
		return nil
	}
	var sErr *StatusError
	if errors.As(err, &sErr) {
		return &StatusError{
			StatusCode:   sErr.StatusCode,
			Message:      sErr.Message,
			RequestID:    sErr.RequestID,
			ResourceType: rt,
			RetryAfter:   sErr.RetryAfter,
		}
	}
	return err
}

// NetworkError represents a failure below the HTTP layer: connect, write
// or read errors, per-attempt deadlines, and caller cancellation.
type NetworkError struct {
	Err     error
	URL     string
	Attempt int

	// Kind is one of ErrNetwork, ErrTimeout, ErrCancelled.
	Kind error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("%v: %v", e.Kind, e.Err)
}

// Unwrap returns the underlying error.
func (e *NetworkError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *NetworkError) Is(target error) bool {
	return target == e.Kind
}

// DecodeError indicates a response or payload could not be decoded.
type DecodeError struct {
	Op  string
	Err error
}

func (e *DecodeError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *DecodeError) Is(target error) bool {
	return target == ErrDecode
}

// ProtocolError indicates the server violated the expected wire protocol,
// such as a malformed event-stream frame.
type ProtocolError struct {
	Op     string
	Detail string
}

func (e *ProtocolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Op, e.Detail)
}

// Is implements errors.Is for sentinel error matching.
func (e *ProtocolError) Is(target error) bool {
	return target == ErrClientProtocol
}
