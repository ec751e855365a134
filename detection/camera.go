package detection

import (
	"math"

	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// Intrinsics is a distortion free pinhole camera model in pixels.
type Intrinsics struct {
	Fx, Fy float64 // focal lengths
	Cx, Cy float64 // principal point
}

// IntrinsicsFromFOV derives a square pixel pinhole camera from the image size
// and the horizontal field of view, with the principal point at the centre.
func IntrinsicsFromFOV(width, height int, hfovRadians float64) Intrinsics {
	f := float64(width) / 2 / math.Tan(hfovRadians/2)
	return Intrinsics{
		Fx: f,
		Fy: f,
		Cx: float64(width) / 2,
		Cy: float64(height) / 2,
	}
}

// Normalize maps a pixel coordinate onto the z=1 image plane.
func (in Intrinsics) Normalize(p r2.Vec) r2.Vec {
	return r2.Vec{
		X: (p.X - in.Cx) / in.Fx,
		Y: (p.Y - in.Cy) / in.Fy,
	}
}

// Project maps a camera frame point to pixels. ok is false for points at or
// behind the camera.
func (in Intrinsics) Project(p r3.Vec) (px r2.Vec, ok bool) {
	if p.Z <= 1e-9 {
		return r2.Vec{}, false
	}
	return r2.Vec{
		X: in.Fx*p.X/p.Z + in.Cx,
		Y: in.Fy*p.Y/p.Z + in.Cy,
	}, true
}
