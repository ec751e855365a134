package ffmpeg

import (
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"gocv.io/x/gocv"
)

var (
	ErrRecorderClosed = errors.New("recorder closed")
	ErrFrameMismatch  = errors.New("frame does not match recorder format")
	ErrUnhealthy      = errors.New("encoder unhealthy")
)

// Options configures a Recorder.
type Options struct {
	Binary string // defaults to "ffmpeg"
	Path   string
	Width  int
	Height int
	FPS    int
}

// Args returns the encoder command line for o, without the binary.
func (o Options) Args() []string {
	return []string{
		"-hide_banner", "-loglevel", "warning",
		"-nostats", "-progress", "pipe:1",
		"-f", "rawvideo",
		"-pix_fmt", "bgr24",
		"-s", fmt.Sprintf("%dx%d", o.Width, o.Height),
		"-r", strconv.Itoa(o.FPS),
		"-i", "pipe:0",
		"-an",
		"-c:v", "libx264",
		"-preset", "veryfast",
		"-pix_fmt", "yuv420p",
		"-y", o.Path,
	}
}

func (o Options) validate() error {
	if o.Path == "" {
		return errors.New("output path is empty")
	}
	if o.Width <= 0 || o.Height <= 0 {
		return fmt.Errorf("invalid frame size %dx%d", o.Width, o.Height)
	}
	if o.FPS <= 0 {
		return fmt.Errorf("invalid fps %d", o.FPS)
	}
	return nil
}

// Recorder writes BGR frames to an ffmpeg process. It implements
// overlay.FrameSink.
type Recorder struct {
	ID string

	opts    Options
	cmd     *exec.Cmd
	stdin   io.WriteCloser
	monitor *HealthMonitor

	mu        sync.Mutex
	frames    int64
	unhealthy string
	closed    bool
}

// NewRecorder starts the encoder.
func NewRecorder(opts Options) (*Recorder, error) {
	if opts.Binary == "" {
		opts.Binary = "ffmpeg"
	}
	if err := opts.validate(); err != nil {
		return nil, err
	}

	r := &Recorder{
		ID:   uuid.NewString()[:8],
		opts: opts,
	}
	// 200 written frames without progress counts as a stall.
	r.monitor = NewHealthMonitor(r.ID, 200*time.Second/time.Duration(opts.FPS), 200)

	cmd := exec.Command(opts.Binary, opts.Args()...)
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdin pipe: %w", err)
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("failed to create stderr pipe: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start %s: %w", opts.Binary, err)
	}
	r.cmd = cmd
	r.stdin = stdin

	r.monitor.Start(stdout, stderr, r.markUnhealthy)
	debugMsg("FFMPEG", fmt.Sprintf("Recorder %s started (PID %d) -> %s", r.ID, cmd.Process.Pid, opts.Path))
	return r, nil
}

func (r *Recorder) markUnhealthy(reason string) {
	r.mu.Lock()
	r.unhealthy = reason
	r.mu.Unlock()
	r.monitor.DumpCrashInfo(os.Stderr)
}

// WriteFrame sends one frame to the encoder. Frames must be 8-bit BGR at the
// configured size.
func (r *Recorder) WriteFrame(frame gocv.Mat) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.closed {
		return ErrRecorderClosed
	}
	if r.unhealthy != "" {
		return fmt.Errorf("%w: %s", ErrUnhealthy, r.unhealthy)
	}
	if frame.Cols() != r.opts.Width || frame.Rows() != r.opts.Height || frame.Type() != gocv.MatTypeCV8UC3 {
		return fmt.Errorf("%w: got %dx%d type %v, want %dx%d bgr24",
			ErrFrameMismatch, frame.Cols(), frame.Rows(), frame.Type(), r.opts.Width, r.opts.Height)
	}

	if _, err := r.stdin.Write(frame.ToBytes()); err != nil {
		return fmt.Errorf("failed to write frame %d: %w", r.frames, err)
	}
	r.frames++
	r.monitor.FrameSent()
	return nil
}

// Frames returns the number of frames written.
func (r *Recorder) Frames() int64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// Close ends the input stream and waits for the encoder to finish the file.
func (r *Recorder) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	frames := r.frames
	r.mu.Unlock()

	r.stdin.Close()
	r.monitor.Wait()
	err := r.cmd.Wait()
	r.monitor.Stop()

	if err != nil {
		r.monitor.DumpCrashInfo(os.Stderr)
		return fmt.Errorf("encoder exited: %w", err)
	}
	debugMsg("FFMPEG", fmt.Sprintf("Recorder %s finished: %d frames written, encoder reported %d",
		r.ID, frames, r.monitor.LastFrame()))
	return nil
}
