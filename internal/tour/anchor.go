package tour

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"
)

// Anchor is a hotspot position on the viewing sphere, in degrees.
// Yaw 0 / pitch 0 looks down -Z; yaw grows to the right, pitch grows upward.
type Anchor struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
}

// Position returns the anchor as a point on the unit sphere.
func (a Anchor) Position() mgl64.Vec3 {
	p := mgl64.DegToRad(a.Pitch)
	y := mgl64.DegToRad(a.Yaw)
	return mgl64.Vec3{
		math.Cos(p) * math.Sin(y),
		math.Sin(p),
		-math.Cos(p) * math.Cos(y),
	}
}

// AnchorFromPosition converts a 3D point to pitch/yaw. The point does not
// have to lie on the unit sphere; the zero vector maps to the zero anchor.
func AnchorFromPosition(v mgl64.Vec3) Anchor {
	l := v.Len()
	if l == 0 {
		return Anchor{}
	}
	n := v.Mul(1 / l)
	return Anchor{
		Pitch: mgl64.RadToDeg(math.Asin(mgl64.Clamp(n.Y(), -1, 1))),
		Yaw:   NormalizeYaw(mgl64.RadToDeg(math.Atan2(n.X(), -n.Z()))),
	}
}

// NormalizeYaw wraps a yaw angle into (-180, 180].
func NormalizeYaw(yaw float64) float64 {
	y := math.Mod(yaw, 360)
	if y <= -180 {
		y += 360
	} else if y > 180 {
		y -= 360
	}
	return y
}
