package notifier

import "errors"

var (
	// ErrNotFound means the user does not exist or is not a daily subscriber.
	ErrNotFound = errors.New("subscriber not found")

	// ErrNotModified means the user is subscribed but nothing changed for them.
	ErrNotModified = errors.New("no changes for subscriber")

	// ErrUpstreamUnavailable wraps failures of the resource provider.
	ErrUpstreamUnavailable = errors.New("resource provider unavailable")

	// ErrSendFailure wraps failures of the mail collaborator.
	ErrSendFailure = errors.New("send digest")
)
