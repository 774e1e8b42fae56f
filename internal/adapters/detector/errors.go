package detector

import "errors"

var (
	// ErrNotConfigured is returned by Disabled.
	ErrNotConfigured = errors.New("face detector not configured")
	// ErrRemote wraps an error reported by the landmark service.
	ErrRemote = errors.New("landmark service error")
)
