package notify

import "errors"

var (
	// ErrMissingInstructor is returned for a notification or connection
	// without an instructor id.
	ErrMissingInstructor = errors.New("missing instructor id")
	// ErrHubClosed is returned when attaching to a closed hub.
	ErrHubClosed = errors.New("notification hub closed")
)
