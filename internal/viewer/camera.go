package viewer

import (
	"math"

	"github.com/go-gl/mathgl/mgl64"

	"github.com/onnwee/panotour/internal/tour"
)

// Camera limits and projection constants.
const (
	MinPitch = -90.0
	MaxPitch = 90.0
	MinHFov  = 30.0
	MaxHFov  = 120.0

	// TransitionHFov is the field of view the camera zooms to while flying
	// toward a hotspot.
	TransitionHFov = 40.0

	nearPlane = 0.1
	farPlane  = 100.0

	// Anchors closer than this to the eye plane are behind the camera.
	hiddenDepth = -0.1

	// Hotspot markers are spheres placed on a shell around the camera.
	markerDistance = 5.0
	markerRadius   = 0.35
)

// Orientation is the camera pose in degrees. HFov is the horizontal field
// of view.
type Orientation struct {
	Pitch float64 `json:"pitch"`
	Yaw   float64 `json:"yaw"`
	HFov  float64 `json:"hfov"`
}

// Clamp returns o with pitch and field of view inside the camera limits and
// yaw wrapped into (-180, 180].
func (o Orientation) Clamp() Orientation {
	return Orientation{
		Pitch: mgl64.Clamp(o.Pitch, MinPitch, MaxPitch),
		Yaw:   tour.NormalizeYaw(o.Yaw),
		HFov:  mgl64.Clamp(o.HFov, MinHFov, MaxHFov),
	}
}

// Viewport is the drawing surface in pixels.
type Viewport struct {
	Width  int `json:"width"`
	Height int `json:"height"`
}

// DefaultViewport is used when a session is opened without a size.
var DefaultViewport = Viewport{Width: 1280, Height: 720}

func (v Viewport) aspect() float64 {
	if v.Width <= 0 || v.Height <= 0 {
		return DefaultViewport.aspect()
	}
	return float64(v.Width) / float64(v.Height)
}

// View returns the world-to-camera matrix for a camera at the origin.
func (o Orientation) View() mgl64.Mat4 {
	// lookAt degenerates when looking straight up or down.
	pitch := mgl64.Clamp(o.Pitch, -89.9, 89.9)
	center := tour.Anchor{Pitch: pitch, Yaw: o.Yaw}.Position()
	return mgl64.LookAtV(mgl64.Vec3{}, center, mgl64.Vec3{0, 1, 0})
}

// Projection returns the perspective matrix for the viewport.
func (o Orientation) Projection(vp Viewport) mgl64.Mat4 {
	aspect := vp.aspect()
	hfov := mgl64.DegToRad(mgl64.Clamp(o.HFov, 1, 179))
	vfov := 2 * math.Atan(math.Tan(hfov/2)/aspect)
	return mgl64.Perspective(vfov, aspect, nearPlane, farPlane)
}

// Project maps an anchor to viewport pixels. visible is false when the
// anchor lies behind the camera; x and y may fall outside the viewport.
func Project(o Orientation, vp Viewport, a tour.Anchor) (x, y float64, visible bool) {
	p := a.Position().Mul(markerDistance)
	view := o.View().Mul4x1(p.Vec4(1))
	if view.Z() > hiddenDepth {
		return 0, 0, false
	}
	clip := o.Projection(vp).Mul4x1(view)
	if clip.W() == 0 {
		return 0, 0, false
	}
	ndcX := clip.X() / clip.W()
	ndcY := clip.Y() / clip.W()
	w, h := viewportSize(vp)
	return (ndcX + 1) / 2 * w, (1 - ndcY) / 2 * h, true
}

// Ray returns the unit direction through viewport pixel (x, y).
func Ray(o Orientation, vp Viewport, x, y float64) mgl64.Vec3 {
	w, h := viewportSize(vp)
	ndcX := 2*x/w - 1
	ndcY := 1 - 2*y/h

	inv := o.Projection(vp).Mul4(o.View()).Inv()
	near := inv.Mul4x1(mgl64.Vec4{ndcX, ndcY, -1, 1})
	far := inv.Mul4x1(mgl64.Vec4{ndcX, ndcY, 1, 1})
	n := near.Vec3().Mul(1 / near.W())
	f := far.Vec3().Mul(1 / far.W())
	return f.Sub(n).Normalize()
}

// Pick casts a ray through (x, y) against the marker spheres of anchors and
// returns the index of the nearest hit.
func Pick(o Orientation, vp Viewport, x, y float64, anchors []tour.Anchor) (int, bool) {
	dir := Ray(o, vp, x, y)

	best, bestT := -1, math.Inf(1)
	for i, a := range anchors {
		t, ok := hitSphere(dir, a.Position().Mul(markerDistance), markerRadius)
		if ok && t < bestT {
			best, bestT = i, t
		}
	}
	return best, best >= 0
}

// hitSphere intersects a ray from the origin with a sphere and returns the
// distance to the nearest intersection in front of the origin.
func hitSphere(dir, center mgl64.Vec3, radius float64) (float64, bool) {
	tc := center.Dot(dir)
	if tc <= 0 {
		return 0, false
	}
	d2 := center.Dot(center) - tc*tc
	r2 := radius * radius
	if d2 > r2 {
		return 0, false
	}
	return tc - math.Sqrt(r2-d2), true
}

func viewportSize(vp Viewport) (float64, float64) {
	if vp.Width <= 0 || vp.Height <= 0 {
		vp = DefaultViewport
	}
	return float64(vp.Width), float64(vp.Height)
}

// ease is the quadratic ease-in-out curve used by scene transitions.
func ease(t float64) float64 {
	t = mgl64.Clamp(t, 0, 1)
	if t < 0.5 {
		return 2 * t * t
	}
	return -1 + (4-2*t)*t
}

// interpolate moves from a toward b by k in [0, 1], turning along the
// shortest yaw arc.
func interpolate(a, b Orientation, k float64) Orientation {
	dYaw := tour.NormalizeYaw(b.Yaw - a.Yaw)
	return Orientation{
		Pitch: a.Pitch + (b.Pitch-a.Pitch)*k,
		Yaw:   tour.NormalizeYaw(a.Yaw + dYaw*k),
		HFov:  a.HFov + (b.HFov-a.HFov)*k,
	}
}
