package worker

import "errors"

// ErrTaskPanic wraps a recovered panic from a task.
var ErrTaskPanic = errors.New("task panicked")
