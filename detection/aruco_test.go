package detection

import (
	"image"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/spatial/r2"
)

const (
	testFOV        = 60 * math.Pi / 180
	testMarkerSize = 0.05
)

// markerFrame returns a white 640x480 BGR frame with one 4x4_50 marker of
// side pixels pasted at each origin.
func markerFrame(t *testing.T, id, side int, origins ...image.Point) gocv.Mat {
	t.Helper()
	marker := gocv.NewMat()
	defer marker.Close()
	gocv.ArucoGenerateImageMarker(gocv.ArucoDict4x4_50, id, side, marker, 1)
	require.False(t, marker.Empty())

	gray := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), 480, 640, gocv.MatTypeCV8U)
	defer gray.Close()
	for _, o := range origins {
		roi := gray.Region(image.Rect(o.X, o.Y, o.X+side, o.Y+side))
		marker.CopyTo(&roi)
		roi.Close()
	}

	frame := gocv.NewMat()
	gocv.CvtColor(gray, &frame, gocv.ColorGrayToBGR)
	return frame
}

func sampleNames(samples []TimingSample) []string {
	names := make([]string, len(samples))
	for i, s := range samples {
		names[i] = s.Name
	}
	return names
}

func TestArucoDetector_DetectsGeneratedMarker(t *testing.T) {
	frame := markerFrame(t, 7, 160, image.Pt(240, 160))
	defer frame.Close()

	// Marker centred in the frame, 160px across: z = size * fx / side.
	fx := IntrinsicsFromFOV(640, 480, testFOV).Fx
	wantZ := testMarkerSize * fx / 160

	var poses []Pose
	for _, dec := range []int{1, 2} {
		d, err := NewArucoDetector(640, 480, dec, "4x4_50")
		require.NoError(t, err)

		dets, err := d.Detect(frame, testFOV, testMarkerSize)
		require.NoError(t, err, "decimation %d", dec)
		require.Len(t, dets, 1, "decimation %d", dec)
		assert.Equal(t, 7, dets[0].ID)
		assert.InDelta(t, wantZ, dets[0].Pose.Position.Z, 0.1*wantZ, "decimation %d", dec)
		assert.InDelta(t, 0, dets[0].Pose.Position.X, 0.01)
		assert.InDelta(t, 0, dets[0].Pose.Position.Y, 0.01)
		assert.Equal(t, []string{"Convert", "Decimate", "Detect", "Estimate"}, sampleNames(d.TimingSamples()))

		poses = append(poses, dets[0].Pose)
		require.NoError(t, d.Close())
	}

	full, decimated := poses[0].Position, poses[1].Position
	assert.InDelta(t, full.X, decimated.X, 0.005)
	assert.InDelta(t, full.Y, decimated.Y, 0.005)
	assert.InDelta(t, full.Z, decimated.Z, 0.05*full.Z)
}

func TestArucoDetector_DuplicateIDKeepsLargerQuad(t *testing.T) {
	big := markerFrame(t, 3, 160, image.Pt(60, 160))
	defer big.Close()
	small := markerFrame(t, 3, 80, image.Pt(460, 200))
	defer small.Close()

	// Paste the small marker's half into the frame holding the big one.
	frame := big.Clone()
	defer frame.Close()
	right := image.Rect(400, 0, 640, 480)
	src := small.Region(right)
	dst := frame.Region(right)
	src.CopyTo(&dst)
	src.Close()
	dst.Close()

	d, err := NewArucoDetector(640, 480, 1, "4x4_50")
	require.NoError(t, err)
	defer d.Close()

	dets, err := d.Detect(frame, testFOV, testMarkerSize)
	require.NoError(t, err)
	require.Len(t, dets, 1)
	assert.Equal(t, 3, dets[0].ID)

	fx := IntrinsicsFromFOV(640, 480, testFOV).Fx
	wantZ := testMarkerSize * fx / 160
	assert.InDelta(t, wantZ, dets[0].Pose.Position.Z, 0.1*wantZ, "pose comes from the 160px quad")
	assert.Less(t, dets[0].Pose.Position.X, 0.0, "pose comes from the left-hand quad")
}

func TestArucoDetector_DetectErrors(t *testing.T) {
	d, err := NewArucoDetector(640, 480, 1, "4x4_50")
	require.NoError(t, err)
	defer d.Close()

	wrong := gocv.NewMatWithSize(240, 320, gocv.MatTypeCV8UC3)
	defer wrong.Close()
	_, err = d.Detect(wrong, testFOV, testMarkerSize)
	assert.ErrorIs(t, err, ErrFrameSize)

	empty := gocv.NewMat()
	defer empty.Close()
	_, err = d.Detect(empty, testFOV, testMarkerSize)
	assert.ErrorIs(t, err, ErrFrameSize)

	frame := markerFrame(t, 1, 100, image.Pt(270, 190))
	defer frame.Close()
	for _, fov := range []float64{0, -0.5, math.Pi, 4} {
		_, err = d.Detect(frame, fov, testMarkerSize)
		require.Error(t, err, "fov %v", fov)
		assert.Contains(t, err.Error(), "out of range")
		assert.NotErrorIs(t, err, ErrFrameSize)
	}
}

func square(x, y, side float64) [4]r2.Vec {
	return [4]r2.Vec{{X: x, Y: y}, {X: x + side, Y: y}, {X: x + side, Y: y + side}, {X: x, Y: y + side}}
}

func TestQuadArea(t *testing.T) {
	assert.InDelta(t, 100, quadArea(square(3, 4, 10)), 1e-9)

	// Winding order does not change the area.
	q := square(0, 0, 4)
	q[1], q[3] = q[3], q[1]
	assert.InDelta(t, 16, quadArea(q), 1e-9)
}

func TestLargestPerID(t *testing.T) {
	tests := []struct {
		name  string
		ids   []int
		quads [][4]r2.Vec
		want  []int
	}{
		{"empty", nil, nil, []int{}},
		{"unique", []int{5, 2}, [][4]r2.Vec{square(0, 0, 1), square(5, 5, 1)}, []int{0, 1}},
		{"later larger wins", []int{5, 2, 5},
			[][4]r2.Vec{square(0, 0, 10), square(50, 50, 10), square(100, 0, 30)}, []int{2, 1}},
		{"earlier larger wins", []int{5, 5},
			[][4]r2.Vec{square(0, 0, 30), square(100, 0, 10)}, []int{0}},
		{"equal keeps first", []int{9, 9},
			[][4]r2.Vec{square(0, 0, 10), square(100, 0, 10)}, []int{0}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, largestPerID(tt.ids, tt.quads))
		})
	}
}
