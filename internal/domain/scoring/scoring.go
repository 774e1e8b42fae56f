// Package scoring turns liveness indicator counts into a score, a verdict and
// user guidance.
package scoring

import (
	"context"
	"math"

	"github.com/okian/presence/internal/domain/types"
	"github.com/okian/presence/pkg/logger"
)

// Default scoring configuration constants.
const (
	DefaultBlinkWeight   = 0.4
	DefaultMouthWeight   = 0.3
	DefaultHeadWeight    = 0.3
	DefaultThreshold     = 0.6
	DefaultMaxIndicators = 10

	weightSumTolerance = 0.01
	guidanceLowBand    = 0.3
)

// Guidance messages shown to the user.
const (
	GuidanceVerified = "Great! Now look straight at the camera to take the photo"
	GuidancePartial  = "Almost there. Blink, smile or turn your head a little more"
	GuidanceLow      = "Please blink or smile to show you are a live person"
	GuidanceNoFace   = "No face found. Please look at the camera"
)

// Option applies a configuration option to the Scorer.
type Option func(*Scorer)

// WithWeights sets the blink, mouth and head weights. Weights that do not sum
// to one are rescaled at construction.
func WithWeights(blink, mouth, head float64) Option {
	return func(s *Scorer) {
		if blink >= 0 && mouth >= 0 && head >= 0 && blink+mouth+head > 0 {
			s.blink, s.mouth, s.head = blink, mouth, head
		}
	}
}

// WithThreshold sets the verification threshold.
func WithThreshold(threshold float64) Option {
	return func(s *Scorer) {
		if threshold > 0 && threshold <= 1 {
			s.threshold = threshold
		}
	}
}

// WithMaxIndicators sets the count at which an indicator saturates.
func WithMaxIndicators(n int) Option {
	return func(s *Scorer) {
		if n > 0 {
			s.maxIndicators = n
		}
	}
}

// WithLogger sets a custom logger.
func WithLogger(l logger.Logger) Option {
	return func(s *Scorer) {
		if l != nil {
			s.logger = l
		}
	}
}

// Scorer combines indicator counts into a liveness score in [0,1].
type Scorer struct {
	blink, mouth, head float64
	threshold          float64
	maxIndicators      int
	logger             logger.Logger
}

// New creates a Scorer with the given options applied.
func New(opts ...Option) *Scorer {
	s := &Scorer{
		blink:         DefaultBlinkWeight,
		mouth:         DefaultMouthWeight,
		head:          DefaultHeadWeight,
		threshold:     DefaultThreshold,
		maxIndicators: DefaultMaxIndicators,
		logger:        logger.Named("scoring"),
	}
	for _, opt := range opts {
		opt(s)
	}

	if sum := s.blink + s.mouth + s.head; math.Abs(sum-1) > weightSumTolerance {
		s.logger.Warn(context.Background(), "liveness weights do not sum to 1, normalizing",
			logger.Float64("sum", sum))
		s.blink /= sum
		s.mouth /= sum
		s.head /= sum
	}
	return s
}

// Weights returns the effective blink, mouth and head weights.
func (s *Scorer) Weights() (blink, mouth, head float64) {
	return s.blink, s.mouth, s.head
}

// Threshold returns the verification threshold.
func (s *Scorer) Threshold() float64 { return s.threshold }

// Score computes the weighted liveness score for the given counts.
func (s *Scorer) Score(blinks, mouths, heads int) float64 {
	score := s.blink*s.normalize(blinks) + s.mouth*s.normalize(mouths) + s.head*s.normalize(heads)
	return math.Max(0, math.Min(1, score))
}

// ScoreIndicators is Score over an Indicators value.
func (s *Scorer) ScoreIndicators(in types.Indicators) float64 {
	return s.Score(in.BlinkCount, in.MouthMovementCount, in.HeadMovementCount)
}

func (s *Scorer) normalize(count int) float64 {
	if count <= 0 {
		return 0
	}
	return math.Min(1, float64(count)/float64(s.maxIndicators))
}

// IsVerified reports whether score reaches the threshold.
func (s *Scorer) IsVerified(score float64) bool {
	return score >= s.threshold
}

// Status maps a score to a frame status for a detected face.
func (s *Scorer) Status(score float64) types.Status {
	if s.IsVerified(score) {
		return types.StatusLivenessVerified
	}
	return types.StatusNoLiveness
}

// Guidance returns an instructional message for the score. It is advisory
// only and never changes the verdict.
func (s *Scorer) Guidance(score float64) string {
	switch {
	case score >= s.threshold:
		return GuidanceVerified
	case score >= guidanceLowBand:
		return GuidancePartial
	default:
		return GuidanceLow
	}
}
