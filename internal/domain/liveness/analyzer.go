// Package liveness runs the motion detectors and scorer over the frames of a
// verification session.
package liveness

import (
	"github.com/okian/presence/internal/domain/indicator"
	"github.com/okian/presence/internal/domain/scoring"
	"github.com/okian/presence/internal/domain/types"
)

// Settings holds detector thresholds. Zero values select package defaults.
type Settings struct {
	EARThreshold    float64
	MARThreshold    float64
	HeadThreshold   float64
	HistorySize     int
	HeadHistorySize int
}

// Analyzer owns one set of detectors. It is not safe for concurrent use;
// Session serializes access.
type Analyzer struct {
	blink  *indicator.BlinkDetector
	mouth  *indicator.MouthDetector
	head   *indicator.HeadTracker
	scorer *scoring.Scorer
}

// NewAnalyzer creates detectors from settings. The scorer is stateless and
// may be shared between analyzers.
func NewAnalyzer(s Settings, scorer *scoring.Scorer) *Analyzer {
	if scorer == nil {
		scorer = scoring.New()
	}
	return &Analyzer{
		blink:  indicator.NewBlinkDetector(s.EARThreshold, s.HistorySize),
		mouth:  indicator.NewMouthDetector(s.MARThreshold, s.HistorySize),
		head:   indicator.NewHeadTracker(s.HeadThreshold, s.HeadHistorySize),
		scorer: scorer,
	}
}

// Analyze feeds one frame. A nil face yields a no_face result and leaves
// detector state untouched.
func (a *Analyzer) Analyze(face *types.Face, pose types.PoseAngles) types.LivenessResult {
	if face == nil {
		return types.LivenessResult{
			Status:   types.StatusNoFace,
			Guidance: scoring.GuidanceNoFace,
		}
	}

	in := types.Indicators{
		BlinkDetected:         a.blink.Update(face.Landmarks),
		MouthMovementDetected: a.mouth.Update(face.Landmarks),
		HeadMovementDetected:  a.head.Update(pose),
	}
	in.BlinkCount = a.blink.Count()
	in.MouthMovementCount = a.mouth.Count()
	in.HeadMovementCount = a.head.Count()

	score := a.scorer.ScoreIndicators(in)
	p := pose
	return types.LivenessResult{
		FaceDetected: true,
		Score:        score,
		Indicators:   in,
		Pose:         &p,
		Status:       a.scorer.Status(score),
		Guidance:     a.scorer.Guidance(score),
	}
}

// Reset clears every detector.
func (a *Analyzer) Reset() {
	a.blink.Reset()
	a.mouth.Reset()
	a.head.Reset()
}
