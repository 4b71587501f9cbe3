package copilot

import "errors"

var (
	// ErrUnrecognizedSender is returned for messages without a sender id.
	ErrUnrecognizedSender = errors.New("unrecognized sender")

	// ErrExtractionAmbiguous means a reply could not be classified as a
	// confirmation or rejection of the pending update.
	ErrExtractionAmbiguous = errors.New("ambiguous reply to pending update")

	// ErrPendingExpired means the pending update outlived its TTL.
	ErrPendingExpired = errors.New("pending update expired")

	// ErrNothingPending means a confirm or cancel arrived with no pending update.
	ErrNothingPending = errors.New("nothing pending")

	// ErrStalePending means a confirm or cancel targeted a replaced update.
	ErrStalePending = errors.New("pending update was replaced")

	// ErrRouterClosed is returned by Route after Shutdown.
	ErrRouterClosed = errors.New("router closed")
)
