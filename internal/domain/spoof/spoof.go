// Package spoof scores how likely a frame shows a replayed or synthetic face.
//
// The default Heuristic looks at image statistics of the face region only.
// It is a placeholder policy; a trained classifier can be dropped in through
// the Detector interface without touching the pipeline.
package spoof

import (
	"context"
	"image"
	"math"

	"github.com/okian/presence/internal/domain/imaging"
	"github.com/okian/presence/internal/domain/types"
)

// DefaultThreshold is the fake confidence above which a frame is rejected.
const DefaultThreshold = 0.7

// Heuristic tuning.
const (
	varianceCeiling   = 2500.0
	edgeCeiling       = 0.15
	edgeGradient      = 30.0
	textureSampleStep = 2

	varianceWeight = 0.4
	edgeWeight     = 0.3
	textureWeight  = 0.3
)

// Result is the outcome of a spoof check.
type Result struct {
	RealScore      float64 `json:"real_score"`
	FakeConfidence float64 `json:"fake_confidence"`
	IsFake         bool    `json:"is_fake"`
	Variance       float64 `json:"variance"`
	EdgeDensity    float64 `json:"edge_density"`
	Texture        float64 `json:"texture"`
}

// Detector scores a frame. face may be nil when no box is known.
type Detector interface {
	Detect(ctx context.Context, img image.Image, face *types.Face) (Result, error)
}

// Heuristic combines luma variance, edge density and LBP texture entropy of
// the face crop into a real score.
type Heuristic struct {
	threshold float64
}

// NewHeuristic returns a Heuristic. A threshold outside (0,1] selects the default.
func NewHeuristic(threshold float64) *Heuristic {
	if threshold <= 0 || threshold > 1 {
		threshold = DefaultThreshold
	}
	return &Heuristic{threshold: threshold}
}

// Threshold returns the fake confidence threshold.
func (h *Heuristic) Threshold() float64 { return h.threshold }

// Detect implements Detector.
func (h *Heuristic) Detect(ctx context.Context, img image.Image, face *types.Face) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	region := img
	if face != nil && face.Box.W > 0 && face.Box.H > 0 {
		b := img.Bounds()
		region = imaging.Crop(img, image.Rect(
			b.Min.X+face.Box.X, b.Min.Y+face.Box.Y,
			b.Min.X+face.Box.X+face.Box.W, b.Min.Y+face.Box.Y+face.Box.H,
		))
	}
	gray := imaging.Gray(region)

	r := Result{
		Variance:    imaging.Variance(gray),
		EdgeDensity: imaging.EdgeDensity(gray, edgeGradient),
		Texture:     imaging.TextureComplexity(gray, textureSampleStep),
	}
	r.RealScore = varianceWeight*ratio(r.Variance, varianceCeiling) +
		edgeWeight*ratio(r.EdgeDensity, edgeCeiling) +
		textureWeight*r.Texture
	r.RealScore = math.Max(0, math.Min(1, r.RealScore))
	r.FakeConfidence = 1 - r.RealScore
	r.IsFake = r.FakeConfidence > h.threshold
	return r, nil
}

func ratio(v, ceiling float64) float64 {
	return math.Max(0, math.Min(1, v/ceiling))
}
