package capture

import (
	"errors"
	"fmt"
	"image"
	"strconv"

	"gocv.io/x/gocv"
)

// ErrOpen is returned when a capture device, stream or file cannot be opened.
var ErrOpen = errors.New("cannot open image source")

// Global debug function for capture package
var debugMsgFunc func(string, string, ...string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(string, string, ...string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string, tags ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, tags...)
	}
}

// Source produces one frame per call at a resolution fixed when it opens.
type Source interface {
	// CurrentFrame returns the latest frame, or an empty Mat when none is
	// available. The Mat is owned by the Source and reused between calls.
	CurrentFrame() gocv.Mat
	Resolution() image.Point
	Close() error
}

// isValidFrame checks if a frame is usable for detection
func isValidFrame(frame gocv.Mat) bool {
	if frame.Ptr() == nil || frame.Empty() {
		return false
	}
	return frame.Rows() > 0 && frame.Cols() > 0 && frame.Channels() > 0
}

// VideoSource reads frames from a camera device, stream URL or video file.
type VideoSource struct {
	capture    *gocv.VideoCapture
	frame      gocv.Mat
	empty      gocv.Mat
	resolution image.Point
	failures   int
}

// OpenVideo opens device, which is either a numeric camera index or a
// URL/path, and requests the given resolution. The actual resolution reported
// by the device is used from then on.
func OpenVideo(device string, width, height int) (*VideoSource, error) {
	var (
		vc  *gocv.VideoCapture
		err error
	)
	if idx, convErr := strconv.Atoi(device); convErr == nil {
		vc, err = gocv.OpenVideoCapture(idx)
	} else {
		vc, err = gocv.OpenVideoCapture(device)
	}
	if err != nil {
		return nil, fmt.Errorf("%w %q: %v", ErrOpen, device, err)
	}

	if width > 0 && height > 0 {
		vc.Set(gocv.VideoCaptureFrameWidth, float64(width))
		vc.Set(gocv.VideoCaptureFrameHeight, float64(height))
	}
	res := image.Pt(int(vc.Get(gocv.VideoCaptureFrameWidth)), int(vc.Get(gocv.VideoCaptureFrameHeight)))
	debugMsg("CAPTURE", fmt.Sprintf("Opened %q at %dx%d (requested %dx%d)", device, res.X, res.Y, width, height))

	return &VideoSource{
		capture:    vc,
		frame:      gocv.NewMat(),
		empty:      gocv.NewMat(),
		resolution: res,
	}, nil
}

// CurrentFrame reads the next frame from the device.
func (vs *VideoSource) CurrentFrame() gocv.Mat {
	if ok := vs.capture.Read(&vs.frame); !ok || !isValidFrame(vs.frame) {
		vs.failures++
		if vs.failures == 1 || vs.failures%100 == 0 {
			debugMsg("CAPTURE", fmt.Sprintf("No frame available (%d consecutive misses)", vs.failures))
		}
		return vs.empty
	}
	if vs.failures > 0 {
		debugMsg("CAPTURE", fmt.Sprintf("Frames resumed after %d misses", vs.failures))
		vs.failures = 0
	}
	if vs.frame.Cols() != vs.resolution.X || vs.frame.Rows() != vs.resolution.Y {
		// Some backends report a different size than they deliver; the
		// detector is sized once, so such frames are dropped.
		return vs.empty
	}
	return vs.frame
}

// Resolution returns the frame size.
func (vs *VideoSource) Resolution() image.Point {
	return vs.resolution
}

// Close releases the device and frame buffers
func (vs *VideoSource) Close() error {
	vs.frame.Close()
	vs.empty.Close()
	return vs.capture.Close()
}

// StillSource serves the same image on every call.
type StillSource struct {
	frame gocv.Mat
}

// OpenStill loads an image file.
func OpenStill(path string) (*StillSource, error) {
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return nil, fmt.Errorf("%w %q: unreadable image", ErrOpen, path)
	}
	debugMsg("CAPTURE", fmt.Sprintf("Loaded still image %q (%dx%d)", path, img.Cols(), img.Rows()))
	return &StillSource{frame: img}, nil
}

// CurrentFrame returns the loaded image.
func (ss *StillSource) CurrentFrame() gocv.Mat {
	return ss.frame
}

// Resolution returns the image size.
func (ss *StillSource) Resolution() image.Point {
	return image.Pt(ss.frame.Cols(), ss.frame.Rows())
}

// Close releases the image.
func (ss *StillSource) Close() error {
	return ss.frame.Close()
}
