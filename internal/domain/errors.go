package domain

import "errors"

// Sentinel errors used throughout the application.
// Handlers translate these to HTTP status codes via a single mapError function.
var (
	ErrNotFound              = errors.New("not found")
	ErrMissingSubject        = errors.New("subject id is required")
	ErrMissingPayload        = errors.New("payload is required when no idempotency key is supplied")
	ErrUnknownSubmissionType = errors.New("unknown submission type")
	ErrInvalidPayload        = errors.New("payload does not match the submission type schema")
	ErrEmptyWishlist         = errors.New("wishlist must contain at least one item")
	ErrUnsupportedSchema     = errors.New("unsupported schema version")
	ErrUnauthorized          = errors.New("missing or invalid orchestrator secret")
	ErrQueueFull             = errors.New("execution queue is at capacity, try again later")
	ErrInvalidTransition     = errors.New("notification cannot move to the requested state")
	ErrPublisherClosed       = errors.New("event publisher is closed")
)
