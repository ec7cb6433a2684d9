package driftmail

import (
	"errors"
	"fmt"

	"github.com/driftmail/client-go/internal/apierrors"
)

// Sentinel errors for errors.Is() checks. Transport failures match
// exactly one kind sentinel; the convenience sentinels additionally
// match specific server responses.
var (
	// ErrMissingAuthToken is returned when no auth token is provided.
	ErrMissingAuthToken = errors.New("auth token is required")

	// ErrClosed is returned when operations are attempted on a closed client.
	ErrClosed = errors.New("client has been closed")

	// ErrNotRegistered is returned when an operation references an inbox
	// this client is not monitoring.
	ErrNotRegistered = errors.New("inbox is not registered")

	// ErrStreamTerminated is reported through subscriptions when the
	// event stream fails permanently and the engine stops.
	ErrStreamTerminated = errors.New("event stream terminated")

	// ErrNetwork indicates a connection-level failure.
	ErrNetwork = apierrors.ErrNetwork

	// ErrTimeout indicates an attempt exceeded its deadline.
	ErrTimeout = apierrors.ErrTimeout

	// ErrCancelled indicates the caller's context was cancelled.
	ErrCancelled = apierrors.ErrCancelled

	// ErrServerTransient indicates a retryable server response that
	// survived the retry budget.
	ErrServerTransient = apierrors.ErrServerTransient

	// ErrServerPermanent indicates a non-retryable server response.
	ErrServerPermanent = apierrors.ErrServerPermanent

	// ErrClientProtocol indicates the server violated the expected protocol.
	ErrClientProtocol = apierrors.ErrClientProtocol

	// ErrDecode indicates a payload could not be decoded or decrypted.
	ErrDecode = apierrors.ErrDecode

	// ErrNonReplayableBody indicates a retry was required but the request
	// body cannot be regenerated.
	ErrNonReplayableBody = apierrors.ErrNonReplayableBody

	// ErrUnauthorized is returned when the auth token is invalid or expired.
	ErrUnauthorized = apierrors.ErrUnauthorized

	// ErrInboxNotFound is returned when an inbox is not found on the server.
	ErrInboxNotFound = apierrors.ErrInboxNotFound

	// ErrEmailNotFound is returned when an email is not found on the server.
	ErrEmailNotFound = apierrors.ErrEmailNotFound

	// ErrRateLimited is returned when the API rate limit is exceeded.
	ErrRateLimited = apierrors.ErrRateLimited
)

// DecryptError reports a per-event decryption failure. One bad event
// does not poison the stream; the error is delivered only to the
// subscriptions matching the affected inbox.
type DecryptError struct {
	InboxID string
	EventID string
	Err     error
}

func (e *DecryptError) Error() string {
	return fmt.Sprintf("decrypt event %s for inbox %s: %v", e.EventID, e.InboxID, e.Err)
}

// Unwrap returns the underlying error.
func (e *DecryptError) Unwrap() error {
	return e.Err
}

// Is implements errors.Is for sentinel error matching.
func (e *DecryptError) Is(target error) bool {
	return target == ErrDecode
}
