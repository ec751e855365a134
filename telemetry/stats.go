package telemetry

import (
	"fmt"
	"sync"
	"time"
)

// Stage names recorded by the frame orchestrator.
const (
	StageAcquire   = "acquire"
	StageDetect    = "detect"
	StageReconcile = "reconcile"
	StagePresent   = "present"
)

// Stats accumulates per-stage durations and frame counts between reports.
type Stats struct {
	mu sync.Mutex

	now            func() time.Time
	lastReportTime time.Time
	frames         int64
	skipped        int64
	order          []string
	totals         map[string]time.Duration
	counts         map[string]int64
}

// StageAverage is one stage's mean duration over a report window.
type StageAverage struct {
	Name    string
	Average time.Duration
	Count   int64
}

// Snapshot is a report window.
type Snapshot struct {
	Window  time.Duration
	Frames  int64
	Skipped int64
	FPS     float64
	Stages  []StageAverage
}

// NewStats creates a new pipeline statistics tracker
func NewStats() *Stats {
	return newStatsWithClock(time.Now)
}

func newStatsWithClock(now func() time.Time) *Stats {
	return &Stats{
		now:            now,
		lastReportTime: now(),
		totals:         make(map[string]time.Duration),
		counts:         make(map[string]int64),
	}
}

// Observe adds one duration to a stage.
func (s *Stats) Observe(stage string, d time.Duration) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.counts[stage]; !ok {
		s.order = append(s.order, stage)
	}
	s.totals[stage] += d
	s.counts[stage]++
}

// FrameProcessed counts a frame that went through detection.
func (s *Stats) FrameProcessed() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.frames++
}

// FrameSkipped counts a tick without a frame.
func (s *Stats) FrameSkipped() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.skipped++
}

// Snapshot returns the current window and resets counters
func (s *Stats) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.now()
	window := now.Sub(s.lastReportTime)
	secs := window.Seconds()
	if secs <= 0 {
		secs = 1.0 // Prevent division by zero
	}

	snap := Snapshot{
		Window:  window,
		Frames:  s.frames,
		Skipped: s.skipped,
		FPS:     float64(s.frames) / secs,
	}
	for _, name := range s.order {
		n := s.counts[name]
		avg := time.Duration(0)
		if n > 0 {
			avg = s.totals[name] / time.Duration(n)
		}
		snap.Stages = append(snap.Stages, StageAverage{Name: name, Average: avg, Count: n})
	}

	s.frames = 0
	s.skipped = 0
	s.order = nil
	s.totals = make(map[string]time.Duration)
	s.counts = make(map[string]int64)
	s.lastReportTime = now
	return snap
}

// FormatStats renders a snapshot as a single report line.
func FormatStats(snap Snapshot) string {
	line := fmt.Sprintf("%.1f fps over %v (%d frames, %d skipped)",
		snap.FPS, snap.Window.Round(time.Millisecond), snap.Frames, snap.Skipped)
	for _, st := range snap.Stages {
		line += fmt.Sprintf(" | %s %v", st.Name, st.Average.Round(time.Microsecond))
	}
	return line
}
