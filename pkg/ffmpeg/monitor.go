// Package ffmpeg records annotated frames by piping them into an ffmpeg
// process and watches that process for stalls.
package ffmpeg

import (
	"bufio"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
)

// debugMsgFunc is a function that will be set by main package to use unified logging
var debugMsgFunc func(component, message string, tags ...string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string, tags ...string)) {
	debugMsgFunc = fn
}

// debugMsgVerboseFunc receives every encoder output line
var debugMsgVerboseFunc func(component, message string, tags ...string)

// SetDebugVerboseFunction allows main package to provide the verbose debug logger
func SetDebugVerboseFunction(fn func(component, message string, tags ...string)) {
	debugMsgVerboseFunc = fn
}

func debugMsg(component, message string, tags ...string) {
	if debugMsgFunc != nil {
		debugMsgFunc(component, message, tags...)
	}
}

func debugMsgVerbose(component, message string, tags ...string) {
	if debugMsgVerboseFunc != nil {
		debugMsgVerboseFunc(component, message, tags...)
	}
}

var (
	frameRegex          = regexp.MustCompile(`frame=\s*(\d+)`)
	timestampErrorRegex = regexp.MustCompile(`(?i)((DTS|PTS)\s+\d+,\s+next:\d+.*invalid dropping|Non-monotonic DTS.*previous:.*current:.*changing to)`)
)

const (
	healthCheckInterval = 5 * time.Second
	timestampErrorLimit = 3
	timestampErrorReset = 30 * time.Second
)

// HealthMonitor follows the output of an encoder process. The encoder is
// healthy while it keeps up with the frames written to it: it only counts as
// stalled once stallFrames frames went in without the encoder printing or
// advancing its frame counter. An idle input never makes it unhealthy.
type HealthMonitor struct {
	session string

	lastOutput      time.Time
	lastFrameNumber int
	lastFrameUpdate time.Time
	outputTimeout   time.Duration
	frameTimeout    time.Duration

	framesSent        int
	sentSinceOutput   int
	sentSinceProgress int
	stallFrames       int

	timestampErrors int
	lastErrorTime   time.Time
	forceUnhealthy  bool
	running         bool

	stderrBuffer *OutputBuffer
	stdoutBuffer *OutputBuffer

	onUnhealthy func(reason string)
	now         func() time.Time
	done        chan struct{}
	wg          sync.WaitGroup
	mutex       sync.RWMutex
}

// NewHealthMonitor creates a monitor. frameTimeout is how long the frame
// counter may stand still, and stallFrames how many written frames it may fall
// behind by, before the encoder counts as stalled.
func NewHealthMonitor(session string, frameTimeout time.Duration, stallFrames int) *HealthMonitor {
	if stallFrames < 1 {
		stallFrames = 1
	}
	return &HealthMonitor{
		session:       session,
		outputTimeout: 30 * time.Second,
		frameTimeout:  frameTimeout,
		stallFrames:   stallFrames,
		stderrBuffer:  NewOutputBuffer(100),
		stdoutBuffer:  NewOutputBuffer(100),
		now:           time.Now,
		done:          make(chan struct{}),
	}
}

// Start follows stdout and stderr until both reach EOF, and checks health
// periodically until Stop. onUnhealthy is called at most once.
func (hm *HealthMonitor) Start(stdout, stderr io.Reader, onUnhealthy func(reason string)) {
	hm.mutex.Lock()
	now := hm.now()
	hm.running = true
	hm.lastOutput = now
	hm.lastFrameUpdate = now
	hm.onUnhealthy = onUnhealthy
	hm.mutex.Unlock()

	debugMsg("FFMPEG", fmt.Sprintf("Session %s: starting output monitors", hm.session))

	hm.wg.Add(2)
	go hm.monitorOutput(stderr, "STDERR", hm.stderrBuffer)
	go hm.monitorOutput(stdout, "STDOUT", hm.stdoutBuffer)
	go hm.healthCheckLoop()
}

// Wait blocks until both output monitors have drained their pipes.
func (hm *HealthMonitor) Wait() {
	hm.wg.Wait()
}

// Stop ends the health check loop.
func (hm *HealthMonitor) Stop() {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()
	if !hm.running {
		return
	}
	hm.running = false
	close(hm.done)
}

// Healthy reports whether the encoder is making progress.
func (hm *HealthMonitor) Healthy() bool {
	return hm.unhealthyReason() == ""
}

// FrameSent records that one more frame was handed to the encoder.
func (hm *HealthMonitor) FrameSent() {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()
	hm.framesSent++
	hm.sentSinceOutput++
	hm.sentSinceProgress++
}

// LastFrame returns the highest frame number the encoder reported.
func (hm *HealthMonitor) LastFrame() int {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()
	return hm.lastFrameNumber
}

func (hm *HealthMonitor) unhealthyReason() string {
	hm.mutex.RLock()
	defer hm.mutex.RUnlock()

	now := hm.now()
	switch {
	case !hm.running:
		return "process not running"
	case hm.forceUnhealthy:
		return "repeated timestamp errors"
	case hm.sentSinceOutput >= hm.stallFrames && now.Sub(hm.lastOutput) > hm.outputTimeout:
		return fmt.Sprintf("no output for %v after %d frames written",
			now.Sub(hm.lastOutput).Round(time.Millisecond), hm.sentSinceOutput)
	case hm.frameTimeout > 0 && hm.sentSinceProgress >= hm.stallFrames && now.Sub(hm.lastFrameUpdate) > hm.frameTimeout:
		return fmt.Sprintf("no frame progress for %v (last frame %d of %d written)",
			now.Sub(hm.lastFrameUpdate).Round(time.Millisecond), hm.lastFrameNumber, hm.framesSent)
	}
	return ""
}

// DumpCrashInfo writes the recent encoder output to w.
func (hm *HealthMonitor) DumpCrashInfo(w io.Writer) {
	rule := strings.Repeat("=", 80)
	fmt.Fprintf(w, "\n%s\nFFMPEG CRASH DUMP (session %s)\n%s\n", rule, hm.session, rule)
	for _, section := range []struct {
		name string
		buf  *OutputBuffer
	}{
		{"STDERR", hm.stderrBuffer},
		{"STDOUT", hm.stdoutBuffer},
	} {
		lines := section.buf.GetRecent()
		fmt.Fprintf(w, "\nRecent %s (%d lines):\n%s\n", section.name, len(lines), strings.Repeat("-", 50))
		if len(lines) == 0 {
			fmt.Fprintf(w, "(no %s output captured)\n", strings.ToLower(section.name))
		}
		for _, line := range lines {
			fmt.Fprintln(w, line)
		}
	}
	fmt.Fprintf(w, "\n%s\n\n", rule)
}

func (hm *HealthMonitor) monitorOutput(pipe io.Reader, source string, buffer *OutputBuffer) {
	defer hm.wg.Done()

	scanner := bufio.NewScanner(pipe)
	// ffmpeg banner lines can be long
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	lineCount := 0
	for scanner.Scan() {
		line := scanner.Text()
		lineCount++
		buffer.Add(line)
		hm.processOutputLine(line)
		debugMsgVerbose("FFMPEG", fmt.Sprintf("[%s] %s", source, line))
	}
	if err := scanner.Err(); err != nil {
		buffer.Add(fmt.Sprintf("SCANNER_ERROR: %v", err))
		debugMsg("FFMPEG", fmt.Sprintf("Scanner error on %s: %v", source, err))
	}
	debugMsg("FFMPEG", fmt.Sprintf("%s monitor finished (%d lines)", source, lineCount))
}

// processOutputLine updates the health state from one line of output.
func (hm *HealthMonitor) processOutputLine(line string) {
	hm.mutex.Lock()
	defer hm.mutex.Unlock()

	now := hm.now()
	if !hm.forceUnhealthy {
		hm.lastOutput = now
		hm.sentSinceOutput = 0
	}

	if timestampErrorRegex.MatchString(line) {
		if now.Sub(hm.lastErrorTime) > timestampErrorReset {
			hm.timestampErrors = 0
		}
		hm.timestampErrors++
		hm.lastErrorTime = now
		debugMsg("FFMPEG", fmt.Sprintf("Timestamp error #%d: %s", hm.timestampErrors, line))
		if hm.timestampErrors >= timestampErrorLimit {
			hm.forceUnhealthy = true
			hm.timestampErrors = 0
		}
		return
	}

	if m := frameRegex.FindStringSubmatch(line); len(m) > 1 {
		if n, err := strconv.Atoi(m[1]); err == nil && n > hm.lastFrameNumber {
			hm.lastFrameNumber = n
			hm.lastFrameUpdate = now
			hm.sentSinceProgress = 0
		}
	}
}

func (hm *HealthMonitor) healthCheckLoop() {
	ticker := time.NewTicker(healthCheckInterval)
	defer ticker.Stop()

	for {
		select {
		case <-hm.done:
			return
		case <-ticker.C:
			reason := hm.unhealthyReason()
			if reason == "" {
				continue
			}
			debugMsg("FFMPEG", "Encoder unhealthy: "+reason)
			hm.mutex.RLock()
			cb := hm.onUnhealthy
			hm.mutex.RUnlock()
			if cb != nil {
				cb(reason)
			}
			return
		}
	}
}
