package enrollment

import (
	"github.com/okian/presence/internal/domain/frontal"
	"github.com/okian/presence/pkg/logger"
)

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithMinImages sets how many frames a request must carry.
func WithMinImages(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.minImages = n
		}
	}
}

// WithMinValidFrames sets how many frames must survive filtering.
func WithMinValidFrames(n int) Option {
	return func(a *Aggregator) {
		if n > 0 {
			a.minValidFrames = n
		}
	}
}

// WithMinPoseRange sets the minimum yaw and pitch spread in degrees.
func WithMinPoseRange(yaw, pitch float64) Option {
	return func(a *Aggregator) {
		if yaw >= 0 {
			a.minYawRange = yaw
		}
		if pitch >= 0 {
			a.minPitchRange = pitch
		}
	}
}

// WithFrontalValidator replaces the default frontal tolerances.
func WithFrontalValidator(v frontal.Validator) Option {
	return func(a *Aggregator) {
		a.frontal = v
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(a *Aggregator) {
		if l != nil {
			a.logger = l
		}
	}
}
