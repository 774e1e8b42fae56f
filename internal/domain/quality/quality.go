// Package quality rejects frames that are too dark, too bright or too blurry
// to analyse.
package quality

import (
	"image"

	"github.com/okian/presence/internal/domain/imaging"
)

// Default thresholds tuned for mobile cameras.
const (
	DefaultMinBrightness = 40.0
	DefaultMaxBrightness = 240.0
	DefaultMinSharpness  = 5.0
)

// Reasons reported for rejected frames.
const (
	ReasonTooDark   = "image too dark, move somewhere brighter"
	ReasonTooBright = "image too bright, avoid direct light"
	ReasonBlurry    = "image blurry, hold the camera still and focus on the face"
	ReasonOK        = "image quality good"
)

// Report describes one frame.
type Report struct {
	OK         bool    `json:"ok"`
	Brightness float64 `json:"brightness"`
	Sharpness  float64 `json:"sharpness"`
	Reason     string  `json:"reason"`
}

// Gate holds the thresholds.
type Gate struct {
	MinBrightness float64
	MaxBrightness float64
	MinSharpness  float64
}

// DefaultGate returns a Gate with default thresholds.
func DefaultGate() Gate {
	return Gate{
		MinBrightness: DefaultMinBrightness,
		MaxBrightness: DefaultMaxBrightness,
		MinSharpness:  DefaultMinSharpness,
	}
}

// Check measures img. Brightness is checked before sharpness.
func (g Gate) Check(img image.Image) Report {
	gray := imaging.Gray(img)
	r := Report{
		Brightness: imaging.Mean(gray),
		Sharpness:  imaging.LaplacianVariance(gray),
	}
	switch {
	case r.Brightness < g.MinBrightness:
		r.Reason = ReasonTooDark
	case r.Brightness > g.MaxBrightness:
		r.Reason = ReasonTooBright
	case r.Sharpness < g.MinSharpness:
		r.Reason = ReasonBlurry
	default:
		r.OK = true
		r.Reason = ReasonOK
	}
	return r
}
