package indicator

import (
	"github.com/okian/presence/internal/domain/types"
)

// DefaultMARThreshold is the mouth aspect ratio above which the mouth is open.
const DefaultMARThreshold = 0.5

// MouthAspectRatio averages two vertical lip distances over the mouth width.
// Points are the twenty mouth landmarks starting at the left corner.
func MouthAspectRatio(mouth []types.Point) float64 {
	if len(mouth) < 11 {
		return 0
	}
	horizontal := mouth[0].Dist(mouth[6])
	if horizontal == 0 {
		return 0
	}
	vertical := (mouth[2].Dist(mouth[10]) + mouth[3].Dist(mouth[9])) / 2
	return vertical / horizontal
}

// MouthDetector counts closed-to-open mouth transitions.
type MouthDetector struct {
	threshold float64
	history   window[float64]
	count     int
	open      bool
}

// NewMouthDetector creates a detector. Non-positive arguments select defaults.
func NewMouthDetector(threshold float64, historySize int) *MouthDetector {
	if threshold <= 0 {
		threshold = DefaultMARThreshold
	}
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	return &MouthDetector{threshold: threshold, history: newWindow[float64](historySize)}
}

// Update feeds one landmark set and reports whether the mouth opened on this frame.
func (d *MouthDetector) Update(l types.LandmarkSet) bool {
	mouth := l.Mouth()
	if mouth == nil {
		return false
	}
	return d.Observe(MouthAspectRatio(mouth))
}

// Observe feeds a mouth aspect ratio directly.
func (d *MouthDetector) Observe(mar float64) bool {
	d.history.push(mar)
	if mar > d.threshold {
		if d.open {
			return false
		}
		d.open = true
		d.count++
		return true
	}
	d.open = false
	return false
}

// Count returns mouth movements seen since the last reset.
func (d *MouthDetector) Count() int { return d.count }

// Recent returns the latest ratios, oldest first.
func (d *MouthDetector) Recent() []float64 { return d.history.snapshot() }

// Reset clears all state.
func (d *MouthDetector) Reset() {
	d.count = 0
	d.open = false
	d.history.clear()
}
