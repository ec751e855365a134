package detection

import (
	"fmt"
	"image"
	"math"
	"time"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/spatial/r2"
)

// ArucoDetector implements Detector with the OpenCV ArUco module, which also
// decodes the AprilTag families.
type ArucoDetector struct {
	width      int
	height     int
	decimation int

	aruco gocv.ArucoDetector
	gray  gocv.Mat
	small gocv.Mat

	detections []Detection
	samples    []TimingSample
}

// NewArucoDetector creates a detector for frames of width x height pixels.
// A decimation above 1 shrinks the frame by that factor before corner
// detection; corners are scaled back before pose estimation.
func NewArucoDetector(width, height, decimation int, dictionary string) (*ArucoDetector, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidSize, width, height)
	}
	if decimation < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDecimation, decimation)
	}
	code, ok := dictionaries[dictionary]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDictionary, dictionary)
	}

	dict := gocv.GetPredefinedDictionary(code)
	params := gocv.NewArucoDetectorParameters()

	return &ArucoDetector{
		width:      width,
		height:     height,
		decimation: decimation,
		aruco:      gocv.NewArucoDetectorWithParams(dict, params),
		gray:       gocv.NewMat(),
		small:      gocv.NewMat(),
	}, nil
}

// Detect performs marker detection and pose estimation on a frame
func (ad *ArucoDetector) Detect(frame gocv.Mat, fovRadians, markerSize float64) ([]Detection, error) {
	if frame.Empty() {
		return nil, fmt.Errorf("%w: empty frame", ErrFrameSize)
	}
	if frame.Cols() != ad.width || frame.Rows() != ad.height {
		return nil, fmt.Errorf("%w: got %dx%d, want %dx%d",
			ErrFrameSize, frame.Cols(), frame.Rows(), ad.width, ad.height)
	}
	if fovRadians <= 0 || fovRadians >= math.Pi {
		return nil, fmt.Errorf("field of view %.3f rad out of range", fovRadians)
	}

	ad.samples = ad.samples[:0]
	ad.detections = ad.detections[:0]

	// Grayscale conversion
	start := time.Now()
	input := frame
	if frame.Channels() > 1 {
		gocv.CvtColor(frame, &ad.gray, gocv.ColorBGRToGray)
		input = ad.gray
	}
	ad.record("Convert", start)

	// Decimation
	start = time.Now()
	if ad.decimation > 1 {
		f := 1 / float64(ad.decimation)
		gocv.Resize(input, &ad.small, image.Point{}, f, f, gocv.InterpolationArea)
		input = ad.small
	}
	ad.record("Decimate", start)

	// Quad detection and decoding
	start = time.Now()
	corners, ids, _ := ad.aruco.DetectMarkers(input)
	ad.record("Detect", start)

	// Pose estimation
	start = time.Now()
	intr := IntrinsicsFromFOV(ad.width, ad.height, fovRadians)
	scale := float64(ad.decimation)
	quads := make([][4]r2.Vec, 0, len(ids))
	quadIDs := make([]int, 0, len(ids))
	for i, id := range ids {
		if i >= len(corners) || len(corners[i]) != 4 {
			continue
		}
		var px [4]r2.Vec
		for k, c := range corners[i] {
			px[k] = r2.Vec{X: (float64(c.X)+0.5)*scale - 0.5, Y: (float64(c.Y)+0.5)*scale - 0.5}
		}
		quads = append(quads, px)
		quadIDs = append(quadIDs, id)
	}
	for _, i := range largestPerID(quadIDs, quads) {
		pose, err := EstimatePose(quads[i], markerSize, intr)
		if err != nil {
			debugMsg("DETECT", fmt.Sprintf("Pose estimation failed for marker %d: %v", quadIDs[i], err))
			continue
		}
		ad.detections = append(ad.detections, Detection{ID: quadIDs[i], Pose: pose})
	}
	ad.record("Estimate", start)

	return ad.detections, nil
}

// largestPerID returns the indices of the quads to keep, one per marker ID in
// order of first appearance. When an ID was decoded more than once in a frame
// the quad with the largest image area wins.
func largestPerID(ids []int, quads [][4]r2.Vec) []int {
	keep := make([]int, 0, len(ids))
	slot := make(map[int]int, len(ids))
	for i, id := range ids {
		j, seen := slot[id]
		if !seen {
			slot[id] = len(keep)
			keep = append(keep, i)
			continue
		}
		if quadArea(quads[i]) > quadArea(quads[keep[j]]) {
			debugMsg("DETECT", fmt.Sprintf("Marker %d decoded twice, keeping the larger quad", id))
			keep[j] = i
		} else {
			debugMsg("DETECT", fmt.Sprintf("Marker %d decoded twice, dropping the smaller quad", id))
		}
	}
	return keep
}

// quadArea is the shoelace area of a quad in square pixels.
func quadArea(q [4]r2.Vec) float64 {
	var a float64
	for i := range q {
		j := (i + 1) % len(q)
		a += q[i].X*q[j].Y - q[j].X*q[i].Y
	}
	return math.Abs(a) / 2
}

func (ad *ArucoDetector) record(name string, start time.Time) {
	ad.samples = append(ad.samples, TimingSample{Name: name, Micros: time.Since(start).Microseconds()})
}

// TimingSamples returns the stage timings of the latest Detect call.
func (ad *ArucoDetector) TimingSamples() []TimingSample {
	out := make([]TimingSample, len(ad.samples))
	copy(out, ad.samples)
	return out
}

// Close releases resources used by the detector
func (ad *ArucoDetector) Close() error {
	ad.aruco.Close()
	ad.gray.Close()
	ad.small.Close()
	return nil
}
