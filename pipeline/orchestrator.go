// Package pipeline drives one marker tracking cycle per display refresh:
// acquire a frame, detect markers, reconcile the object pool, and publish
// throttled detector telemetry.
package pipeline

import (
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"

	"tagcam/capture"
	"tagcam/detection"
	"tagcam/telemetry"
	"tagcam/tracking"
)

// DefaultTelemetryInterval is the number of processed frames between debug
// text updates.
const DefaultTelemetryInterval = 30

var (
	// ErrInvalidResolution is returned by New when the source reports a
	// non-positive frame size.
	ErrInvalidResolution = errors.New("invalid source resolution")
	// ErrInvalidDecimation is returned by New for a decimation below 1.
	ErrInvalidDecimation = errors.New("invalid decimation")
	// ErrDetectorInit wraps detector construction failures.
	ErrDetectorInit = errors.New("detector construction failed")
	// ErrDetectorFailed wraps detector invocation failures. The run should
	// stop when Tick returns it.
	ErrDetectorFailed = errors.New("marker detection failed")
	// ErrClosed is returned by Tick and Shutdown after Shutdown.
	ErrClosed = errors.New("orchestrator is shut down")
)

// debugMsgFunc is a function that will be set by main package to use unified logging
var debugMsgFunc func(component, message string, tags ...string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string, tags ...string)) {
	debugMsgFunc = fn
}

func debugMsg(component, message string, tags ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, tags...)
	}
}

// Display receives the per-frame outputs of the orchestrator.
type Display interface {
	// ShowPreview presents the frame that was just processed. The Mat is
	// only valid during the call.
	ShowPreview(frame gocv.Mat)
	// SetDebugText replaces the debug text block.
	SetDebugText(text string)
}

// Config holds the construction parameters of an Orchestrator.
type Config struct {
	Decimation        int
	TelemetryInterval int // processed frames between telemetry updates; 0 means default
}

// Orchestrator owns the detector and the object pool for one image source.
// Tick must be called from a single goroutine.
type Orchestrator struct {
	id       string
	source   capture.Source
	detector detection.Detector
	pool     *tracking.Pool
	display  Display
	throttle *telemetry.Throttle
	stats    *telemetry.Stats

	lastResult tracking.ReconcileResult
	closed     bool
}

// New validates the source resolution and decimation, then builds the
// detector for that resolution. Nothing is retained on failure.
func New(cfg Config, src capture.Source, newDetector detection.Constructor, factory tracking.ObjectFactory, display Display) (*Orchestrator, error) {
	res := src.Resolution()
	if res.X <= 0 || res.Y <= 0 {
		return nil, fmt.Errorf("%w: %dx%d", ErrInvalidResolution, res.X, res.Y)
	}
	if cfg.Decimation < 1 {
		return nil, fmt.Errorf("%w: %d", ErrInvalidDecimation, cfg.Decimation)
	}
	interval := cfg.TelemetryInterval
	if interval <= 0 {
		interval = DefaultTelemetryInterval
	}

	det, err := newDetector(res.X, res.Y, cfg.Decimation)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrDetectorInit, err)
	}

	o := &Orchestrator{
		id:       uuid.NewString()[:8],
		source:   src,
		detector: det,
		pool:     tracking.NewPool(factory),
		display:  display,
		throttle: telemetry.Every(interval),
		stats:    telemetry.NewStats(),
	}
	o.log(fmt.Sprintf("Initialized for %dx%d, decimation %d, telemetry every %d frames",
		res.X, res.Y, cfg.Decimation, interval))
	return o, nil
}

func (o *Orchestrator) log(message string) {
	debugMsg("ORCHESTRATOR", fmt.Sprintf("[%s] %s", o.id, message))
}

// ID returns the short instance identifier used in log lines.
func (o *Orchestrator) ID() string {
	return o.id
}

// Tick runs one tracking cycle. A tick without an available frame does
// nothing and returns nil. A detector error is returned wrapped in
// ErrDetectorFailed and leaves the pool untouched.
func (o *Orchestrator) Tick(fovRadians, markerSize float64) error {
	if o.closed {
		return ErrClosed
	}

	// Source image acquisition
	start := time.Now()
	frame := o.source.CurrentFrame()
	if frame.Empty() {
		o.stats.FrameSkipped()
		return nil
	}
	o.stats.Observe(telemetry.StageAcquire, time.Since(start))

	// Marker detection
	start = time.Now()
	dets, err := o.detector.Detect(frame, fovRadians, markerSize)
	if err != nil {
		o.log(fmt.Sprintf("Detector failed: %v", err))
		return fmt.Errorf("%w: %v", ErrDetectorFailed, err)
	}
	o.stats.Observe(telemetry.StageDetect, time.Since(start))

	// Object pool reconciliation
	start = time.Now()
	o.lastResult = o.pool.Reconcile(dets, markerSize)
	o.stats.Observe(telemetry.StageReconcile, time.Since(start))
	o.stats.FrameProcessed()

	// Profile data output
	if o.throttle.Tick() {
		o.display.SetDebugText(telemetry.Format(o.detector.TimingSamples()))
	}

	start = time.Now()
	o.display.ShowPreview(frame)
	o.stats.Observe(telemetry.StagePresent, time.Since(start))
	return nil
}

// Pool exposes the object pool for inspection.
func (o *Orchestrator) Pool() *tracking.Pool {
	return o.pool
}

// LastResult returns the summary of the latest reconcile round.
func (o *Orchestrator) LastResult() tracking.ReconcileResult {
	return o.lastResult
}

// Frames returns the number of frames that went through detection.
func (o *Orchestrator) Frames() int64 {
	return o.throttle.Count()
}

// Stats returns the per-stage statistics collected by Tick.
func (o *Orchestrator) Stats() *telemetry.Stats {
	return o.stats
}

// Shutdown releases the detector and the pooled objects. It may only
// succeed once; later calls return ErrClosed.
func (o *Orchestrator) Shutdown() error {
	if o.closed {
		return ErrClosed
	}
	o.closed = true

	o.pool.Release()
	err := o.detector.Close()
	o.detector = nil
	o.log(fmt.Sprintf("Shut down after %d frames", o.throttle.Count()))
	if err != nil {
		return fmt.Errorf("closing detector: %w", err)
	}
	return nil
}
