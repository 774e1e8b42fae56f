package liveness

import "errors"

var (
	// ErrSessionNotFound is returned for unknown, expired or foreign session ids.
	ErrSessionNotFound = errors.New("liveness session not found")
	// ErrSessionLimit is returned when the store is full of live sessions.
	ErrSessionLimit = errors.New("too many active liveness sessions")
)
