// Package enrollment builds a user's identity template from a burst of frames.
package enrollment

import (
	"context"
	"fmt"
	"time"

	"github.com/okian/presence/internal/domain/embedding"
	"github.com/okian/presence/internal/domain/frontal"
	"github.com/okian/presence/internal/domain/model"
	"github.com/okian/presence/internal/domain/types"
	"github.com/okian/presence/pkg/logger"
	"gonum.org/v1/gonum/floats"
)

// Default policy values.
const (
	DefaultMinImages      = 20
	DefaultMinValidFrames = 15
	DefaultMinYawRange    = 25.0
	DefaultMinPitchRange  = 10.0
)

// Discard reasons counted in Summary.
const (
	DiscardInvalidFrame = "invalid_frame"
	DiscardLowQuality   = "low_image_quality"
	DiscardNoFace       = "no_face"
	DiscardNoEmbedding  = "no_embedding"
	DiscardNotFrontal   = "not_frontal"
)

// PoseEstimator yields a pose for a face, falling back when solving fails.
type PoseEstimator interface {
	EstimateFace(ctx context.Context, face types.Face, size types.Size) (types.PoseAngles, bool)
}

// Candidate is one submitted frame after detection and embedding. Discard is
// set when the frame was dropped before detection. Face is nil when
// detection failed; Embedding is nil when no vector was produced.
type Candidate struct {
	Discard   string
	Face      *types.Face
	Size      types.Size
	Embedding []float64
}

// Summary reports how the frames were used.
type Summary struct {
	SamplesUsed  int            `json:"samples_used"`
	TotalSamples int            `json:"total_samples"`
	YawRange     float64        `json:"yaw_range"`
	PitchRange   float64        `json:"pitch_range"`
	Discarded    map[string]int `json:"discarded,omitempty"`
}

// Aggregator turns candidates into an EnrollmentTemplate.
type Aggregator struct {
	pose           PoseEstimator
	frontal        frontal.Validator
	minImages      int
	minValidFrames int
	minYawRange    float64
	minPitchRange  float64
	now            func() time.Time
	logger         logger.Logger
}

// New creates an Aggregator.
func New(pose PoseEstimator, opts ...Option) *Aggregator {
	a := &Aggregator{
		pose:           pose,
		frontal:        frontal.New(0, 0, 0),
		minImages:      DefaultMinImages,
		minValidFrames: DefaultMinValidFrames,
		minYawRange:    DefaultMinYawRange,
		minPitchRange:  DefaultMinPitchRange,
		now:            time.Now,
		logger:         logger.Named("enrollment"),
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// MinImages returns the input floor.
func (a *Aggregator) MinImages() int { return a.minImages }

// CheckInput rejects requests below the input floor before any processing.
func (a *Aggregator) CheckInput(n int) error {
	if n < a.minImages {
		return fmt.Errorf("%w: got %d, need at least %d", ErrTooFewImages, n, a.minImages)
	}
	return nil
}

// Aggregate filters candidates, checks the policy and averages the survivors.
// Nothing is returned on failure; the template is all or nothing.
func (a *Aggregator) Aggregate(ctx context.Context, userID string, candidates []Candidate) (model.EnrollmentTemplate, Summary, error) {
	summary := Summary{TotalSamples: len(candidates), Discarded: map[string]int{}}
	if err := a.CheckInput(len(candidates)); err != nil {
		return model.EnrollmentTemplate{}, summary, err
	}

	var (
		vectors     [][]float64
		yaws        []float64
		pitches     []float64
		fallbackHit int
	)
	for _, c := range candidates {
		switch {
		case c.Discard != "":
			summary.Discarded[c.Discard]++
			continue
		case c.Face == nil:
			summary.Discarded[DiscardNoFace]++
			continue
		case len(c.Embedding) == 0:
			summary.Discarded[DiscardNoEmbedding]++
			continue
		}
		angles, fellBack := a.pose.EstimateFace(ctx, *c.Face, c.Size)
		if fellBack {
			fallbackHit++
		}
		if !a.frontal.Validate(angles).IsFrontal {
			summary.Discarded[DiscardNotFrontal]++
			continue
		}
		vectors = append(vectors, c.Embedding)
		yaws = append(yaws, angles.Yaw)
		pitches = append(pitches, angles.Pitch)
	}

	summary.SamplesUsed = len(vectors)
	summary.YawRange = spread(yaws)
	summary.PitchRange = spread(pitches)

	a.logger.Debug(ctx, "enrollment frames filtered",
		logger.String("user_id", userID),
		logger.Int("used", summary.SamplesUsed),
		logger.Int("total", summary.TotalSamples),
		logger.Int("pose_fallbacks", fallbackHit),
		logger.Float64("yaw_range", summary.YawRange),
		logger.Float64("pitch_range", summary.PitchRange))

	if summary.SamplesUsed < a.minValidFrames {
		return model.EnrollmentTemplate{}, summary, fmt.Errorf("%w: %d of %d usable, need %d",
			ErrInsufficientFrames, summary.SamplesUsed, summary.TotalSamples, a.minValidFrames)
	}
	// Ranges must exceed the minimums; equality is not enough.
	if summary.YawRange <= a.minYawRange || summary.PitchRange <= a.minPitchRange {
		return model.EnrollmentTemplate{}, summary, fmt.Errorf("%w: yaw range %.1f (need %.1f), pitch range %.1f (need %.1f)",
			ErrInsufficientPoseDiversity, summary.YawRange, a.minYawRange, summary.PitchRange, a.minPitchRange)
	}

	mean := embedding.Mean(vectors)
	if mean == nil {
		return model.EnrollmentTemplate{}, summary, fmt.Errorf("%w: embedding dimensions differ", ErrInsufficientFrames)
	}
	std := embedding.Std(vectors, mean)

	return model.EnrollmentTemplate{
		UserID:       userID,
		Embedding:    embedding.Normalize(mean),
		EmbeddingStd: std,
		StdMean:      embedding.Average(std),
		SampleCount:  summary.SamplesUsed,
		TotalSamples: summary.TotalSamples,
		YawRange:     summary.YawRange,
		PitchRange:   summary.PitchRange,
		CreatedAt:    a.now().UTC(),
	}, summary, nil
}

func spread(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	return floats.Max(vs) - floats.Min(vs)
}
