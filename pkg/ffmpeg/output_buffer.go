package ffmpeg

import (
	"fmt"
	"sync"
	"time"
)

// OutputBuffer keeps the most recent output lines of the encoder for crash
// dumps. It is a fixed size ring; the oldest line is overwritten first.
type OutputBuffer struct {
	lines    []string
	maxLines int
	index    int
	full     bool
	now      func() time.Time
	mutex    sync.RWMutex
}

// NewOutputBuffer creates a ring holding at most maxLines lines.
func NewOutputBuffer(maxLines int) *OutputBuffer {
	if maxLines < 1 {
		maxLines = 1
	}
	return &OutputBuffer{
		lines:    make([]string, maxLines),
		maxLines: maxLines,
		now:      time.Now,
	}
}

// Add stores a timestamped line.
func (ob *OutputBuffer) Add(line string) {
	ob.mutex.Lock()
	defer ob.mutex.Unlock()

	ob.lines[ob.index] = fmt.Sprintf("[%s] %s", ob.now().Format("15:04:05.000"), line)
	ob.index = (ob.index + 1) % ob.maxLines
	if ob.index == 0 {
		ob.full = true
	}
}

// GetRecent returns the stored lines, oldest first.
func (ob *OutputBuffer) GetRecent() []string {
	ob.mutex.RLock()
	defer ob.mutex.RUnlock()

	if !ob.full {
		return append([]string(nil), ob.lines[:ob.index]...)
	}
	result := make([]string, 0, ob.maxLines)
	result = append(result, ob.lines[ob.index:]...)
	result = append(result, ob.lines[:ob.index]...)
	return result
}

// Len returns the number of stored lines.
func (ob *OutputBuffer) Len() int {
	ob.mutex.RLock()
	defer ob.mutex.RUnlock()
	if ob.full {
		return ob.maxLines
	}
	return ob.index
}
