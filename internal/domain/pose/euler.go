package pose

import (
	"math"

	"github.com/okian/presence/internal/domain/types"
)

const gimbalEpsilon = 1e-6

// eulerZYX decomposes r = Rz(roll)·Ry(yaw)·Rx(pitch) in the camera frame.
// Angles are radians.
func eulerZYX(r mat3) (pitch, yaw, roll float64) {
	sy := math.Sqrt(r[0][0]*r[0][0] + r[1][0]*r[1][0])
	if sy < gimbalEpsilon {
		return math.Atan2(-r[1][2], r[1][1]), math.Atan2(-r[2][0], sy), 0
	}
	return math.Atan2(r[2][1], r[2][2]), math.Atan2(-r[2][0], sy), math.Atan2(r[1][0], r[0][0])
}

// rotationZYX is the inverse of eulerZYX.
func rotationZYX(pitch, yaw, roll float64) mat3 {
	sa, ca := math.Sincos(pitch)
	sb, cb := math.Sincos(yaw)
	sg, cg := math.Sincos(roll)
	rx := mat3{{1, 0, 0}, {0, ca, -sa}, {0, sa, ca}}
	ry := mat3{{cb, 0, sb}, {0, 1, 0}, {-sb, 0, cb}}
	rz := mat3{{cg, -sg, 0}, {sg, cg, 0}, {0, 0, 1}}
	return rz.mul(ry).mul(rx)
}

// anglesFromRotation maps a camera-frame rotation to reported head angles.
// Positive yaw is the subject turning to their left, positive pitch is
// looking up, positive roll tilts the crown towards image right.
func anglesFromRotation(r mat3) types.PoseAngles {
	pitch, yaw, roll := eulerZYX(r)
	return types.PoseAngles{
		Yaw:   -degrees(yaw),
		Pitch: -degrees(pitch),
		Roll:  degrees(roll),
	}
}

// rotationFromAngles is the inverse of anglesFromRotation.
func rotationFromAngles(a types.PoseAngles) mat3 {
	return rotationZYX(-radians(a.Pitch), -radians(a.Yaw), radians(a.Roll))
}

func degrees(rad float64) float64 { return rad * 180 / math.Pi }

func radians(deg float64) float64 { return deg * math.Pi / 180 }
