package detection

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"gocv.io/x/gocv"
)

var (
	// ErrInvalidSize is returned when a detector is built for a non-positive resolution.
	ErrInvalidSize = errors.New("invalid detector resolution")
	// ErrInvalidDecimation is returned for a decimation factor below 1.
	ErrInvalidDecimation = errors.New("invalid decimation factor")
	// ErrUnknownDictionary is returned for a dictionary name with no OpenCV equivalent.
	ErrUnknownDictionary = errors.New("unknown marker dictionary")
	// ErrFrameSize is returned when a frame does not match the detector resolution.
	ErrFrameSize = errors.New("frame size does not match detector")
)

// Global debug function for detection package
var debugMsgFunc func(string, string, ...string)

// SetDebugFunction allows main package to provide debug function
func SetDebugFunction(fn func(string, string, ...string)) {
	debugMsgFunc = fn
}

// debugMsg is a wrapper that handles nil checks
func debugMsg(component, message string, tags ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, tags...)
	}
}

// Detector finds fiducial markers in a frame and estimates their pose.
type Detector interface {
	// Detect returns the markers visible in frame. The result is only valid
	// until the next call.
	Detect(frame gocv.Mat, fovRadians, markerSize float64) ([]Detection, error)
	// TimingSamples returns the stage timings of the latest Detect call in
	// the order the stages ran.
	TimingSamples() []TimingSample
	Close() error
}

// Constructor builds a detector for a fixed image resolution.
type Constructor func(width, height, decimation int) (Detector, error)

// DefaultDictionary is the marker family used when none is configured.
const DefaultDictionary = "apriltag_36h11"

var dictionaries = map[string]gocv.ArucoDictionaryCode{
	"4x4_50":         gocv.ArucoDict4x4_50,
	"4x4_100":        gocv.ArucoDict4x4_100,
	"5x5_100":        gocv.ArucoDict5x5_100,
	"6x6_250":        gocv.ArucoDict6x6_250,
	"aruco_original": gocv.ArucoDictArucoOriginal,
	"apriltag_16h5":  gocv.ArucoDictAprilTag_16h5,
	"apriltag_25h9":  gocv.ArucoDictAprilTag_25h9,
	"apriltag_36h10": gocv.ArucoDictAprilTag_36h10,
	"apriltag_36h11": gocv.ArucoDictAprilTag_36h11,
}

// Dictionaries lists the supported dictionary names.
func Dictionaries() []string {
	names := make([]string, 0, len(dictionaries))
	for name := range dictionaries {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ProviderInfo contains information about the detection provider
type ProviderInfo struct {
	Backend    string        // "OpenCV ArUco"
	Dictionary string        // Marker family
	Width      int           // Source resolution
	Height     int           //
	Decimation int           // Downsampling factor
	InitTime   time.Duration // Time taken by the last construction
}

// String formats the provider information for startup logs.
func (pi ProviderInfo) String() string {
	return fmt.Sprintf("%s dict=%s %dx%d decimation=%d init=%v",
		pi.Backend, pi.Dictionary, pi.Width, pi.Height, pi.Decimation, pi.InitTime)
}

// Provider builds marker detectors for one dictionary and remembers how the
// latest one was configured.
type Provider struct {
	dictionary string
	info       ProviderInfo
}

// NewProvider validates the dictionary name and returns a provider for it.
func NewProvider(dictionary string) (*Provider, error) {
	if dictionary == "" {
		dictionary = DefaultDictionary
	}
	if _, ok := dictionaries[dictionary]; !ok {
		return nil, fmt.Errorf("%w: %q", ErrUnknownDictionary, dictionary)
	}
	return &Provider{dictionary: dictionary}, nil
}

// Construct implements Constructor.
func (p *Provider) Construct(width, height, decimation int) (Detector, error) {
	debugMsg("PROVIDER", fmt.Sprintf("Initializing ArUco detector (%s) for %dx%d, decimation %d",
		p.dictionary, width, height, decimation))

	startTime := time.Now()
	det, err := NewArucoDetector(width, height, decimation, p.dictionary)
	if err != nil {
		return nil, err
	}

	p.info = ProviderInfo{
		Backend:    "OpenCV ArUco",
		Dictionary: p.dictionary,
		Width:      width,
		Height:     height,
		Decimation: decimation,
		InitTime:   time.Since(startTime),
	}
	debugMsg("PROVIDER", fmt.Sprintf("Detector initialized (%v)", p.info.InitTime))
	return det, nil
}

// GetProviderInfo returns information about the latest constructed detector
func (p *Provider) GetProviderInfo() ProviderInfo {
	return p.info
}
