package indicator

import (
	"math"

	"github.com/okian/presence/internal/domain/types"
)

// Head tracker defaults.
const (
	DefaultHeadThreshold   = 5.0
	DefaultHeadHistorySize = 10
)

// HeadTracker counts deliberate head turns. Each pose is compared with the
// last pose that registered as movement, not with the previous frame, so
// slow drift and jitter below the threshold never count.
type HeadTracker struct {
	threshold float64
	history   window[types.PoseAngles]
	reference *types.PoseAngles
	count     int
}

// NewHeadTracker creates a tracker. Non-positive arguments select defaults.
func NewHeadTracker(thresholdDeg float64, historySize int) *HeadTracker {
	if thresholdDeg <= 0 {
		thresholdDeg = DefaultHeadThreshold
	}
	if historySize <= 0 {
		historySize = DefaultHeadHistorySize
	}
	return &HeadTracker{threshold: thresholdDeg, history: newWindow[types.PoseAngles](historySize)}
}

// Update feeds one pose and reports whether it counted as a movement.
func (t *HeadTracker) Update(p types.PoseAngles) bool {
	t.history.push(p)
	if t.reference == nil {
		ref := p
		t.reference = &ref
		return false
	}
	diff := math.Max(math.Abs(p.Yaw-t.reference.Yaw),
		math.Max(math.Abs(p.Pitch-t.reference.Pitch), math.Abs(p.Roll-t.reference.Roll)))
	if diff <= t.threshold {
		return false
	}
	t.count++
	*t.reference = p
	return true
}

// Count returns movements seen since the last reset.
func (t *HeadTracker) Count() int { return t.count }

// Recent returns the latest poses, oldest first.
func (t *HeadTracker) Recent() []types.PoseAngles { return t.history.snapshot() }

// Reset clears all state.
func (t *HeadTracker) Reset() {
	t.count = 0
	t.reference = nil
	t.history.clear()
}
