package detection

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

// ErrDegenerateCorners is returned when four corners do not describe a
// plane seen from the front.
var ErrDegenerateCorners = errors.New("degenerate marker corners")

// MarkerCorners returns the corners of a square marker of the given side
// length in its own frame, in detector order: top-left, top-right,
// bottom-right, bottom-left, with the marker lying in z=0.
func MarkerCorners(size float64) [4]r3.Vec {
	h := size / 2
	return [4]r3.Vec{
		{X: -h, Y: h},
		{X: h, Y: h},
		{X: h, Y: -h},
		{X: -h, Y: -h},
	}
}

// EstimatePose recovers the marker pose from its four image corners by
// fitting the plane to image homography and decomposing it.
func EstimatePose(corners [4]r2.Vec, size float64, in Intrinsics) (Pose, error) {
	if size <= 0 || in.Fx <= 0 || in.Fy <= 0 {
		return Pose{}, ErrDegenerateCorners
	}
	object := MarkerCorners(size)

	a := mat.NewDense(8, 9, nil)
	for i := range corners {
		n := in.Normalize(corners[i])
		X, Y := object[i].X, object[i].Y
		a.SetRow(2*i, []float64{X, Y, 1, 0, 0, 0, -n.X * X, -n.X * Y, -n.X})
		a.SetRow(2*i+1, []float64{0, 0, 0, X, Y, 1, -n.Y * X, -n.Y * Y, -n.Y})
	}

	var svd mat.SVD
	if !svd.Factorize(a, mat.SVDFull) {
		return Pose{}, ErrDegenerateCorners
	}
	values := svd.Values(nil)
	if values[len(values)-1] < 1e-12*values[0] {
		// Rank below 8: three or more corners are collinear.
		return Pose{}, ErrDegenerateCorners
	}
	var v mat.Dense
	svd.VTo(&v)
	h := make([]float64, 9)
	for k := range h {
		h[k] = v.At(k, 8)
	}

	c1 := r3.Vec{X: h[0], Y: h[3], Z: h[6]}
	c2 := r3.Vec{X: h[1], Y: h[4], Z: h[7]}
	c3 := r3.Vec{X: h[2], Y: h[5], Z: h[8]}
	norm := r3.Norm(c1) + r3.Norm(c2)
	if norm < 1e-12 {
		return Pose{}, ErrDegenerateCorners
	}
	lambda := 2 / norm
	if c3.Z < 0 {
		lambda = -lambda
	}

	r1 := r3.Scale(lambda, c1)
	r2v := r3.Scale(lambda, c2)
	t := r3.Scale(lambda, c3)
	if t.Z <= 0 {
		return Pose{}, ErrDegenerateCorners
	}

	rot, err := nearestRotation(r1, r2v, r3.Cross(r1, r2v))
	if err != nil {
		return Pose{}, err
	}
	return Pose{Position: t, Orientation: rotationToQuat(rot)}, nil
}

// nearestRotation projects the matrix with the given columns onto SO(3).
func nearestRotation(c1, c2, c3 r3.Vec) (*mat.Dense, error) {
	m := mat.NewDense(3, 3, []float64{
		c1.X, c2.X, c3.X,
		c1.Y, c2.Y, c3.Y,
		c1.Z, c2.Z, c3.Z,
	})
	var svd mat.SVD
	if !svd.Factorize(m, mat.SVDFull) {
		return nil, ErrDegenerateCorners
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var rot mat.Dense
	rot.Mul(&u, v.T())
	if mat.Det(&rot) < 0 {
		for i := 0; i < 3; i++ {
			u.Set(i, 2, -u.At(i, 2))
		}
		rot.Mul(&u, v.T())
	}
	return &rot, nil
}

// rotationToQuat converts a rotation matrix to a unit quaternion.
func rotationToQuat(m mat.Matrix) quat.Number {
	m00, m01, m02 := m.At(0, 0), m.At(0, 1), m.At(0, 2)
	m10, m11, m12 := m.At(1, 0), m.At(1, 1), m.At(1, 2)
	m20, m21, m22 := m.At(2, 0), m.At(2, 1), m.At(2, 2)

	var q quat.Number
	switch tr := m00 + m11 + m22; {
	case tr > 0:
		s := math.Sqrt(tr+1) * 2
		q = quat.Number{Real: s / 4, Imag: (m21 - m12) / s, Jmag: (m02 - m20) / s, Kmag: (m10 - m01) / s}
	case m00 > m11 && m00 > m22:
		s := math.Sqrt(1+m00-m11-m22) * 2
		q = quat.Number{Real: (m21 - m12) / s, Imag: s / 4, Jmag: (m01 + m10) / s, Kmag: (m02 + m20) / s}
	case m11 > m22:
		s := math.Sqrt(1+m11-m00-m22) * 2
		q = quat.Number{Real: (m02 - m20) / s, Imag: (m01 + m10) / s, Jmag: s / 4, Kmag: (m12 + m21) / s}
	default:
		s := math.Sqrt(1+m22-m00-m11) * 2
		q = quat.Number{Real: (m10 - m01) / s, Imag: (m02 + m20) / s, Jmag: (m12 + m21) / s, Kmag: s / 4}
	}
	return quat.Scale(1/quat.Abs(q), q)
}
