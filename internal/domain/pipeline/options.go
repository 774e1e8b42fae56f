package pipeline

import (
	"time"

	"github.com/okian/presence/internal/domain/frontal"
	"github.com/okian/presence/internal/domain/geo"
	"github.com/okian/presence/internal/domain/quality"
	"github.com/okian/presence/pkg/logger"
)

// Option configures a Pipeline.
type Option func(*Pipeline)

// WithArea sets the authorized location.
func WithArea(a geo.Area) Option {
	return func(p *Pipeline) {
		if a.RadiusMeters > 0 {
			p.area = a
		}
	}
}

// WithSimilarityThreshold sets the minimum cosine similarity for a match.
func WithSimilarityThreshold(t float64) Option {
	return func(p *Pipeline) {
		if t > 0 && t <= 1 {
			p.similarity = t
		}
	}
}

// WithMaxAttempts sets the daily invalid-location limit.
func WithMaxAttempts(n int) Option {
	return func(p *Pipeline) {
		if n > 0 {
			p.maxAttempts = n
		}
	}
}

// WithQualityGate replaces the default image quality thresholds.
func WithQualityGate(g quality.Gate) Option {
	return func(p *Pipeline) {
		p.gate = g
	}
}

// WithFrontalValidator sets the validator used for the diagnostic frontal report.
func WithFrontalValidator(v frontal.Validator) Option {
	return func(p *Pipeline) {
		p.frontal = v
	}
}

// WithExecutor runs check-ins on a worker pool instead of the caller's goroutine.
func WithExecutor(e Executor) Option {
	return func(p *Pipeline) {
		if e != nil {
			p.exec = e
		}
	}
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) {
		if now != nil {
			p.now = now
		}
	}
}

// WithLocation sets the time zone that decides the attempt date.
func WithLocation(loc *time.Location) Option {
	return func(p *Pipeline) {
		if loc != nil {
			p.location = loc
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(p *Pipeline) {
		if l != nil {
			p.logger = l
		}
	}
}
