// Package telemetry turns detector timing samples into the debug text block
// and keeps per-stage pipeline statistics for the periodic performance report.
package telemetry

import (
	"strconv"
	"strings"

	"tagcam/detection"
)

// Header is the first line of every formatted profile block.
const Header = "Profile (usec)"

// Format renders samples as a header line followed by one "name : micros"
// line per sample, in the order given. It has no state; the caller decides
// how often to call it.
func Format(samples []detection.TimingSample) string {
	var b strings.Builder
	b.WriteString(Header)
	for _, s := range samples {
		b.WriteByte('\n')
		b.WriteString(s.Name)
		b.WriteString(" : ")
		b.WriteString(strconv.FormatInt(s.Micros, 10))
	}
	return b.String()
}

// Throttle fires on every nth call to Tick.
type Throttle struct {
	every int
	count int64
}

// Every returns a throttle firing every n ticks. n below 1 is treated as 1.
func Every(n int) *Throttle {
	if n < 1 {
		n = 1
	}
	return &Throttle{every: n}
}

// Tick advances the counter and reports whether this tick is due.
func (t *Throttle) Tick() bool {
	t.count++
	return t.count%int64(t.every) == 0
}

// Count returns the number of ticks so far.
func (t *Throttle) Count() int64 {
	return t.count
}
