package indicator

import (
	"github.com/okian/presence/internal/domain/types"
)

// Blink detector defaults.
const (
	DefaultEARThreshold = 0.2
	DefaultHistorySize  = 5
)

// EyeAspectRatio computes (|p2-p6| + |p3-p5|) / (2|p1-p4|) over six eye
// points. A degenerate eye width reads as open (1.0).
func EyeAspectRatio(eye []types.Point) float64 {
	if len(eye) < 6 {
		return 1
	}
	horizontal := eye[0].Dist(eye[3])
	if horizontal == 0 {
		return 1
	}
	return (eye[1].Dist(eye[5]) + eye[2].Dist(eye[4])) / (2 * horizontal)
}

// BlinkDetector counts open-to-closed eye transitions.
type BlinkDetector struct {
	threshold float64
	history   window[float64]
	count     int
	inBlink   bool
}

// NewBlinkDetector creates a detector. Non-positive arguments select defaults.
func NewBlinkDetector(threshold float64, historySize int) *BlinkDetector {
	if threshold <= 0 {
		threshold = DefaultEARThreshold
	}
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &BlinkDetector{threshold: threshold, history: newWindow[float64](historySize)}
}

// Update feeds one landmark set and reports whether a blink started on this
// frame. Sets without both eyes are ignored.
func (d *BlinkDetector) Update(l types.LandmarkSet) bool {
	left, right := l.LeftEye(), l.RightEye()
	if left == nil || right == nil {
		return false
	}
	return d.Observe((EyeAspectRatio(left) + EyeAspectRatio(right)) / 2)
}

// Observe feeds an averaged eye aspect ratio directly.
func (d *BlinkDetector) Observe(ear float64) bool {
	d.history.push(ear)
	if ear < d.threshold {
		if d.inBlink {
			return false
		}
		d.inBlink = true
		d.count++
		return true
	}
	d.inBlink = false
	return false
}

// Count returns blinks seen since the last reset.
func (d *BlinkDetector) Count() int { return d.count }

// Recent returns the latest ratios, oldest first.
func (d *BlinkDetector) Recent() []float64 { return d.history.snapshot() }

// Reset clears all state.
func (d *BlinkDetector) Reset() {
	d.count = 0
	d.inBlink = false
	d.history.clear()
}
