// Package types contains value types shared by the liveness and verification packages.
package types

import "math"

// Canonical 68-point landmark layout.
const (
	LandmarkCount = 68

	Chin             = 8
	NoseTip          = 30
	LeftEyeStart     = 36
	LeftEyeOuter     = 36
	RightEyeStart    = 42
	RightEyeOuter    = 45
	MouthStart       = 48
	MouthLeftCorner  = 48
	MouthRightCorner = 54
	MouthEnd         = 68

	eyePoints = 6
)

// Point is a 2D image coordinate in pixels.
type Point struct {
	X float64 `json:"x" bson:"x"`
	Y float64 `json:"y" bson:"y"`
}

// Dist returns the Euclidean distance between p and q.
func (p Point) Dist(q Point) float64 {
	return math.Hypot(p.X-q.X, p.Y-q.Y)
}

// LandmarkSet is the ordered landmark list for one face in one frame.
type LandmarkSet []Point

// LeftEye returns the six left-eye points, or nil if the set is too short.
func (l LandmarkSet) LeftEye() []Point {
	if len(l) < LeftEyeStart+eyePoints {
		return nil
	}
	return l[LeftEyeStart : LeftEyeStart+eyePoints]
}

// RightEye returns the six right-eye points, or nil if the set is too short.
func (l LandmarkSet) RightEye() []Point {
	if len(l) < RightEyeStart+eyePoints {
		return nil
	}
	return l[RightEyeStart : RightEyeStart+eyePoints]
}

// Mouth returns the twenty mouth points, or nil if the set is too short.
func (l LandmarkSet) Mouth() []Point {
	if len(l) < MouthEnd {
		return nil
	}
	return l[MouthStart:MouthEnd]
}

// FaceBox is a detected face bounding box.
type FaceBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Center returns the box center.
func (b FaceBox) Center() Point {
	return Point{X: float64(b.X) + float64(b.W)/2, Y: float64(b.Y) + float64(b.H)/2}
}

// Face is one detected face with its landmarks.
type Face struct {
	Box       FaceBox     `json:"box"`
	Landmarks LandmarkSet `json:"landmarks"`
}

// Size is an image size in pixels.
type Size struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// PoseAngles is head orientation in degrees.
type PoseAngles struct {
	Yaw   float64 `json:"yaw" bson:"yaw"`
	Pitch float64 `json:"pitch" bson:"pitch"`
	Roll  float64 `json:"roll" bson:"roll"`
}

// Status is the liveness verdict for a frame.
type Status string

const (
	StatusNoFace           Status = "no_face"
	StatusNoLiveness       Status = "no_liveness"
	StatusLivenessVerified Status = "liveness_verified"
	StatusError            Status = "error"
)

// Indicators holds the detector counters and whether each fired on the current frame.
type Indicators struct {
	BlinkCount            int  `json:"blink_count" bson:"blink_count"`
	MouthMovementCount    int  `json:"mouth_movement_count" bson:"mouth_movement_count"`
	HeadMovementCount     int  `json:"head_movement_count" bson:"head_movement_count"`
	BlinkDetected         bool `json:"blink_detected" bson:"blink_detected"`
	MouthMovementDetected bool `json:"mouth_movement_detected" bson:"mouth_movement_detected"`
	HeadMovementDetected  bool `json:"head_movement_detected" bson:"head_movement_detected"`
}

// None reports whether no indicator has ever fired.
func (i Indicators) None() bool {
	return i.BlinkCount == 0 && i.MouthMovementCount == 0 && i.HeadMovementCount == 0
}

// LivenessResult is the per-frame liveness outcome.
type LivenessResult struct {
	FaceDetected bool        `json:"face_detected" bson:"face_detected"`
	Score        float64     `json:"liveness_score" bson:"liveness_score"`
	Indicators   Indicators  `json:"indicators" bson:"indicators"`
	Pose         *PoseAngles `json:"pose,omitempty" bson:"pose,omitempty"`
	Status       Status      `json:"status" bson:"status"`
	Guidance     string      `json:"guidance" bson:"guidance"`
}
