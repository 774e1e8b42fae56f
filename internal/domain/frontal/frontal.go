// Package frontal checks whether a head pose is close enough to facing the
// camera for a usable capture.
package frontal

import (
	"fmt"
	"math"
	"strings"

	"github.com/okian/presence/internal/domain/types"
)

// Default tolerances in degrees.
const (
	DefaultYawTolerance   = 15.0
	DefaultPitchTolerance = 15.0
	DefaultRollTolerance  = 10.0
)

// MessageFrontal is reported when every axis is within tolerance.
const MessageFrontal = "Face is straight. Ready to capture."

// Report is the outcome of a frontal check.
type Report struct {
	IsFrontal  bool     `json:"is_frontal"`
	Yaw        float64  `json:"yaw"`
	Pitch      float64  `json:"pitch"`
	Roll       float64  `json:"roll"`
	YawValid   bool     `json:"yaw_valid"`
	PitchValid bool     `json:"pitch_valid"`
	RollValid  bool     `json:"roll_valid"`
	Reasons    []string `json:"errors"`
	Message    string   `json:"message"`
}

// Validator holds per-axis tolerances. The zero value is not usable; use New.
type Validator struct {
	yaw, pitch, roll float64
}

// New returns a Validator. Non-positive tolerances select the defaults.
func New(yaw, pitch, roll float64) Validator {
	if yaw <= 0 {
		yaw = DefaultYawTolerance
	}
	if pitch <= 0 {
		pitch = DefaultPitchTolerance
	}
	if roll <= 0 {
		roll = DefaultRollTolerance
	}
	return Validator{yaw: yaw, pitch: pitch, roll: roll}
}

// Validate checks each axis independently.
func (v Validator) Validate(p types.PoseAngles) Report {
	r := Report{
		Yaw:        p.Yaw,
		Pitch:      p.Pitch,
		Roll:       p.Roll,
		YawValid:   math.Abs(p.Yaw) <= v.yaw,
		PitchValid: math.Abs(p.Pitch) <= v.pitch,
		RollValid:  math.Abs(p.Roll) <= v.roll,
	}
	if !r.YawValid {
		r.Reasons = append(r.Reasons, fmt.Sprintf("face turned too far %s (yaw: %.1f°)", pick(p.Yaw > 0, "left", "right"), p.Yaw))
	}
	if !r.PitchValid {
		r.Reasons = append(r.Reasons, fmt.Sprintf("face tilted too far %s (pitch: %.1f°)", pick(p.Pitch > 0, "up", "down"), p.Pitch))
	}
	if !r.RollValid {
		r.Reasons = append(r.Reasons, fmt.Sprintf("head leaning too far %s (roll: %.1f°)", pick(p.Roll > 0, "right", "left"), p.Roll))
	}
	r.IsFrontal = r.YawValid && r.PitchValid && r.RollValid
	if r.IsFrontal {
		r.Message = MessageFrontal
	} else {
		r.Message = strings.Join(r.Reasons, " | ")
	}
	return r
}

func pick(cond bool, a, b string) string {
	if cond {
		return a
	}
	return b
}
