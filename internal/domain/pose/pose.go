// Package pose estimates head orientation from facial landmarks.
//
// The estimator solves a six-point perspective-n-point problem against a
// generic 3D face model with an assumed pinhole camera whose focal length is
// derived from the frame width, then decomposes the rotation into yaw, pitch
// and roll. When solving fails callers fall back to a coarse estimate taken
// from the face box position.
package pose

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/okian/presence/internal/domain/types"
	"github.com/okian/presence/pkg/logger"
	"github.com/okian/presence/pkg/metrics"
)

// Plausibility and clamp limits in degrees.
const (
	maxPlausibleYaw   = 150
	maxPlausiblePitch = 80

	yawLimit   = 90
	pitchLimit = 45
	rollLimit  = 30

	fallbackYawScale   = 30
	fallbackPitchScale = 20

	defaultMaxIterations = 100
	defaultWidth         = 640
	defaultHeight        = 480
	defaultDistanceMM    = 500
	modelEyeSpanMM       = 90
	minPointSpreadPx     = 1
)

// keyIndices selects nose tip, outer eye corners, mouth corners and chin.
var keyIndices = [6]int{
	types.NoseTip,
	types.LeftEyeOuter,
	types.RightEyeOuter,
	types.MouthLeftCorner,
	types.MouthRightCorner,
	types.Chin,
}

// faceModel holds millimetre coordinates for keyIndices in a frame with
// x to image right, y down and z away from the camera, nose tip at origin.
var faceModel = []vec3{
	{0, 0, 0},
	{-45, -34, 27},
	{45, -34, 27},
	{-30, 30, 25},
	{30, 30, 25},
	{0, 66, 13},
}

// Estimator turns landmarks into head pose angles.
type Estimator interface {
	Estimate(landmarks types.LandmarkSet, size types.Size) (types.PoseAngles, error)
}

// PnPEstimator implements Estimator with an iterative PnP solver.
type PnPEstimator struct {
	focalScale    float64
	maxIterations int
	defaultWidth  int
	defaultHeight int
	logger        logger.Logger
}

// New creates a PnPEstimator.
func New(opts ...Option) *PnPEstimator {
	e := &PnPEstimator{
		focalScale:    1,
		maxIterations: defaultMaxIterations,
		defaultWidth:  defaultWidth,
		defaultHeight: defaultHeight,
		logger:        logger.Named("pose"),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Estimate solves head pose for one landmark set. A six-point set is taken
// in keyIndices order; longer sets must follow the 68-point layout.
func (e *PnPEstimator) Estimate(landmarks types.LandmarkSet, size types.Size) (types.PoseAngles, error) {
	start := time.Now()
	defer func() {
		metrics.RecordPoseSolveLatency(float64(time.Since(start).Microseconds()) / 1000)
	}()

	pts, err := keyPoints(landmarks)
	if err != nil {
		return types.PoseAngles{}, err
	}
	if spread(pts) < minPointSpreadPx {
		return types.PoseAngles{}, fmt.Errorf("%w: degenerate landmarks", ErrSolveFailure)
	}

	w, h := e.frameSize(size)
	focal := float64(w) * e.focalScale
	cx, cy := float64(w)/2, float64(h)/2

	prob := &problem{model: faceModel, image: make([][2]float64, len(pts)), maxIterations: e.maxIterations}
	for i, p := range pts {
		prob.image[i] = [2]float64{(p.X - cx) / focal, (p.Y - cy) / focal}
	}

	frontal := frontalStart(prob)
	starts := []solution{frontal}
	if s, ok := prob.directLinear(); ok {
		starts = append([]solution{s}, starts...)
	}
	sol, ok := prob.fit(starts, frontal.translation)
	if !ok {
		return types.PoseAngles{}, fmt.Errorf("%w: refinement did not converge", ErrSolveFailure)
	}
	return orient(sol.rotation)
}

// fit refines from starts. When none converges it retries once from the
// model turned around, placed at translation.
func (p *problem) fit(starts []solution, translation vec3) (solution, bool) {
	if sol, ok := p.solve(starts); ok {
		return sol, true
	}
	return p.solve([]solution{{rotation: flipY, translation: translation}})
}

// orient reads clamped head angles from r. A solution facing away from the
// camera is turned around once; if neither reading is plausible it fails.
func orient(r mat3) (types.PoseAngles, error) {
	angles := anglesFromRotation(r)
	if !plausible(angles) {
		angles = anglesFromRotation(r.mul(flipY))
		if !plausible(angles) {
			return types.PoseAngles{}, fmt.Errorf("%w: yaw %.1f pitch %.1f out of bounds", ErrSolveFailure, angles.Yaw, angles.Pitch)
		}
	}
	return Clamp(angles), nil
}

// EstimateFace solves pose for a detected face and falls back to the face
// box heuristic when solving fails. The boolean reports a fallback.
func (e *PnPEstimator) EstimateFace(ctx context.Context, face types.Face, size types.Size) (types.PoseAngles, bool) {
	angles, err := e.Estimate(face.Landmarks, size)
	if err == nil {
		return angles, false
	}
	metrics.RecordPoseFallback()
	e.logger.Debug(ctx, "pose solve failed, using face box offset", logger.Error(err))
	w, h := e.frameSize(size)
	return Fallback(face.Box, types.Size{Width: w, Height: h}), true
}

func (e *PnPEstimator) frameSize(size types.Size) (int, int) {
	if size.Width <= 0 || size.Height <= 0 {
		return e.defaultWidth, e.defaultHeight
	}
	return size.Width, size.Height
}

// Fallback estimates pose from where the face box sits in the frame.
func Fallback(box types.FaceBox, size types.Size) types.PoseAngles {
	if size.Width <= 0 || size.Height <= 0 {
		return types.PoseAngles{}
	}
	c := box.Center()
	halfW, halfH := float64(size.Width)/2, float64(size.Height)/2
	offsetX := (c.X - halfW) / halfW
	offsetY := (c.Y - halfH) / halfH
	return Clamp(types.PoseAngles{
		Yaw:   offsetX * fallbackYawScale,
		Pitch: offsetY * fallbackPitchScale,
	})
}

// Clamp limits angles to yaw [-90,90], pitch [-45,45] and roll [-30,30].
func Clamp(a types.PoseAngles) types.PoseAngles {
	return types.PoseAngles{
		Yaw:   clamp(a.Yaw, yawLimit),
		Pitch: clamp(a.Pitch, pitchLimit),
		Roll:  clamp(a.Roll, rollLimit),
	}
}

func clamp(v, limit float64) float64 {
	return math.Max(-limit, math.Min(limit, v))
}

func plausible(a types.PoseAngles) bool {
	return math.Abs(a.Yaw) <= maxPlausibleYaw && math.Abs(a.Pitch) <= maxPlausiblePitch
}

func keyPoints(landmarks types.LandmarkSet) ([]types.Point, error) {
	switch {
	case len(landmarks) == len(keyIndices):
		return append([]types.Point(nil), landmarks...), nil
	case len(landmarks) >= types.LandmarkCount:
		pts := make([]types.Point, len(keyIndices))
		for i, idx := range keyIndices {
			pts[i] = landmarks[idx]
		}
		return pts, nil
	default:
		return nil, fmt.Errorf("%w: got %d points", ErrInsufficientLandmarks, len(landmarks))
	}
}

func spread(pts []types.Point) float64 {
	var best float64
	for i := range pts {
		if math.IsNaN(pts[i].X) || math.IsNaN(pts[i].Y) {
			return 0
		}
		for j := i + 1; j < len(pts); j++ {
			best = math.Max(best, pts[i].Dist(pts[j]))
		}
	}
	return best
}

// frontalStart places the model facing the camera at a distance implied by
// the observed eye span.
func frontalStart(p *problem) solution {
	eyes := math.Hypot(p.image[2][0]-p.image[1][0], p.image[2][1]-p.image[1][1])
	d := float64(defaultDistanceMM)
	if eyes > 1e-9 {
		d = modelEyeSpanMM / eyes
	}
	return solution{
		rotation:    identity3,
		translation: vec3{p.image[0][0] * d, p.image[0][1] * d, d},
	}
}
