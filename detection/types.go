package detection

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Pose is a position and orientation in the camera frame
// (x right, y down, z forward, metres).
type Pose struct {
	Position    r3.Vec
	Orientation quat.Number // unit quaternion
}

// IdentityPose has no translation and no rotation.
var IdentityPose = Pose{Orientation: quat.Number{Real: 1}}

// Apply transforms a point from the posed frame into the camera frame.
func (p Pose) Apply(v r3.Vec) r3.Vec {
	return r3.Add(r3.Rotation(p.Orientation).Rotate(v), p.Position)
}

// Detection is one frame's observation of a marker. It is only valid until
// the next call to Detect on the detector that produced it.
type Detection struct {
	ID   int
	Pose Pose
}

// TimingSample is a named stage duration from the latest detector invocation.
type TimingSample struct {
	Name   string
	Micros int64
}
