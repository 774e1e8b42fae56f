package config

import "errors"

// Sentinel errors. Validation failures always wrap ErrInvalidConfig; the
// backend errors are wrapped alongside it so callers can tell them apart.
var (
	ErrInvalidConfig   = errors.New("invalid config")
	ErrLoadConfig      = errors.New("load config failed")
	ErrUnknownBackend  = errors.New("unknown backend")
	ErrMissingEndpoint = errors.New("backend endpoint not set")
)
