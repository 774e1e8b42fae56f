package repository

import "errors"

// Sentinel kinds for store errors.
var (
	ErrInvalidRecord  = errors.New("invalid record")
	ErrUnknownBackend = errors.New("unknown store backend")
)
