package pose

import "github.com/okian/presence/pkg/logger"

// Option configures a PnPEstimator.
type Option func(*PnPEstimator)

// WithFocalScale sets focal length as a multiple of image width.
func WithFocalScale(scale float64) Option {
	return func(e *PnPEstimator) {
		if scale > 0 {
			e.focalScale = scale
		}
	}
}

// WithMaxIterations bounds the refinement loop.
func WithMaxIterations(n int) Option {
	return func(e *PnPEstimator) {
		if n > 0 {
			e.maxIterations = n
		}
	}
}

// WithDefaultSize sets the frame size assumed when the caller passes none.
func WithDefaultSize(width, height int) Option {
	return func(e *PnPEstimator) {
		if width > 0 && height > 0 {
			e.defaultWidth = width
			e.defaultHeight = height
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(e *PnPEstimator) {
		if l != nil {
			e.logger = l
		}
	}
}
