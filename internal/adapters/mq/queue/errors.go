package queue

import "errors"

// Sentinel errors for task submission.
var (
	ErrQueueFull = errors.New("task queue full")
	ErrClosed    = errors.New("task queue closed")
)
