package enrollment

import "errors"

var (
	// ErrTooFewImages is returned when fewer frames are submitted than the input floor.
	ErrTooFewImages = errors.New("too few enrollment images")
	// ErrInsufficientFrames is returned when too few frames survive filtering.
	ErrInsufficientFrames = errors.New("insufficient valid enrollment frames")
	// ErrInsufficientPoseDiversity is returned when the surviving frames show too little head movement.
	ErrInsufficientPoseDiversity = errors.New("insufficient pose diversity")
)
