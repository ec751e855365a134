package detection

import (
	"errors"
	"math"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"
)

func projectMarker(t *testing.T, pose Pose, size float64, in Intrinsics) [4]r2.Vec {
	t.Helper()
	var px [4]r2.Vec
	for i, c := range MarkerCorners(size) {
		p, ok := in.Project(pose.Apply(c))
		require.True(t, ok, "corner %d behind camera", i)
		px[i] = p
	}
	return px
}

func TestEstimatePose_RecoversSyntheticPose(t *testing.T) {
	in := IntrinsicsFromFOV(1280, 720, 60*math.Pi/180)
	facing := r3.NewRotation(math.Pi, r3.Vec{X: 1})

	tests := []struct {
		name     string
		position r3.Vec
		rotation r3.Rotation
	}{
		{"frontal", r3.Vec{Z: 0.5}, facing},
		{"offset", r3.Vec{X: 0.1, Y: -0.05, Z: 0.8}, facing},
		{"yawed", r3.Vec{X: -0.02, Y: 0.03, Z: 0.4},
			r3.Rotation(quat.Mul(quat.Number(r3.NewRotation(0.5, r3.Vec{Y: 1})), quat.Number(facing)))},
		{"tilted", r3.Vec{Z: 1.2},
			r3.Rotation(quat.Mul(quat.Number(r3.NewRotation(-0.7, r3.Vec{X: 1, Z: 1})), quat.Number(facing)))},
	}

	approx := cmpopts.EquateApprox(0, 1e-6)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			want := Pose{Position: tt.position, Orientation: quat.Number(tt.rotation)}
			corners := projectMarker(t, want, 0.05, in)

			got, err := EstimatePose(corners, 0.05, in)
			require.NoError(t, err)

			if diff := cmp.Diff(want.Position, got.Position, approx); diff != "" {
				t.Errorf("position mismatch (-want +got):\n%s", diff)
			}
			// q and -q are the same rotation, compare by effect.
			for _, axis := range []r3.Vec{{X: 1}, {Y: 1}, {Z: 1}} {
				w := r3.Rotation(want.Orientation).Rotate(axis)
				g := r3.Rotation(got.Orientation).Rotate(axis)
				if diff := cmp.Diff(w, g, approx); diff != "" {
					t.Errorf("rotated axis %v mismatch (-want +got):\n%s", axis, diff)
				}
			}
			assert.InDelta(t, 1.0, quat.Abs(got.Orientation), 1e-9)
		})
	}
}

func TestEstimatePose_Degenerate(t *testing.T) {
	in := IntrinsicsFromFOV(640, 480, math.Pi/3)

	collinear := [4]r2.Vec{{X: 10, Y: 10}, {X: 20, Y: 20}, {X: 30, Y: 30}, {X: 40, Y: 40}}
	_, err := EstimatePose(collinear, 0.05, in)
	assert.True(t, errors.Is(err, ErrDegenerateCorners))

	square := [4]r2.Vec{{X: 300, Y: 220}, {X: 340, Y: 220}, {X: 340, Y: 260}, {X: 300, Y: 260}}
	_, err = EstimatePose(square, 0, in)
	assert.ErrorIs(t, err, ErrDegenerateCorners)
}

func TestIntrinsics_ProjectNormalizeRoundTrip(t *testing.T) {
	in := IntrinsicsFromFOV(800, 600, math.Pi/2)
	assert.InDelta(t, 400.0, in.Fx, 1e-9)
	assert.Equal(t, 400.0, in.Cx)
	assert.Equal(t, 300.0, in.Cy)

	p := r3.Vec{X: 0.2, Y: -0.1, Z: 2}
	px, ok := in.Project(p)
	require.True(t, ok)
	n := in.Normalize(px)
	assert.InDelta(t, p.X/p.Z, n.X, 1e-12)
	assert.InDelta(t, p.Y/p.Z, n.Y, 1e-12)

	_, ok = in.Project(r3.Vec{Z: -1})
	assert.False(t, ok)
}

func TestPose_ApplyIdentity(t *testing.T) {
	v := r3.Vec{X: 1, Y: 2, Z: 3}
	assert.Equal(t, v, IdentityPose.Apply(v))
}
