package pose

import "errors"

// Sentinel errors for pose estimation.
var (
	ErrSolveFailure          = errors.New("pose solve failure")
	ErrInsufficientLandmarks = errors.New("insufficient landmarks for pose")
)
