package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DebugLogger provides unified debug message handling for console, files, and overlay
type DebugLogger struct {
	enabled        bool
	verbose        bool
	baseDir        string
	console        io.Writer
	mu             sync.RWMutex
	markerFiles    map[string]*os.File // marker id -> file handle
	overlayHistory []DebugMessage
	maxOverlayMsgs int
	writeQueue     chan DebugWriteTask
	stopWorker     chan struct{}
	workerStopped  sync.WaitGroup
	dropped        int64
}

type DebugMessage struct {
	Timestamp time.Time
	Component string
	Message   string
	MarkerID  string
}

type DebugWriteTask struct {
	file    *os.File
	content string
}

// NewDebugLogger creates the logger. With enabled set, messages tagged with
// a marker id are also appended to <baseDir>/marker_<id>.txt.
func NewDebugLogger(enabled, verbose bool, baseDir string, console io.Writer) *DebugLogger {
	if enabled {
		if err := os.MkdirAll(baseDir, 0755); err != nil {
			fmt.Fprintf(console, "[DEBUG_LOGGER] Failed to create debug directory: %v\n", err)
			enabled = false
		}
	}

	dl := &DebugLogger{
		enabled:        enabled,
		verbose:        verbose,
		baseDir:        baseDir,
		console:        console,
		markerFiles:    make(map[string]*os.File),
		maxOverlayMsgs: 50,
		writeQueue:     make(chan DebugWriteTask, 100),
		stopWorker:     make(chan struct{}),
	}

	if enabled {
		dl.workerStopped.Add(1)
		go dl.fileWriteWorker()
	}
	return dl
}

// debugMsg is the main unified debug function
func (dl *DebugLogger) debugMsg(component, message string, markerID ...string) {
	timestamp := time.Now()
	line := fmt.Sprintf("[%s][%s] %s", timestamp.Format("15:04:05.000"), component, message)

	id := ""
	if len(markerID) > 0 {
		id = markerID[0]
	}

	dl.mu.Lock()
	defer dl.mu.Unlock()

	fmt.Fprintln(dl.console, line)

	// Overlay history works independently of debug mode
	dl.overlayHistory = append(dl.overlayHistory, DebugMessage{
		Timestamp: timestamp,
		Component: component,
		Message:   message,
		MarkerID:  id,
	})
	if len(dl.overlayHistory) > dl.maxOverlayMsgs {
		dl.overlayHistory = dl.overlayHistory[1:]
	}

	if !dl.enabled || id == "" {
		return
	}
	file := dl.getOrCreateMarkerFile(id)
	if file == nil {
		return
	}
	select {
	case dl.writeQueue <- DebugWriteTask{file: file, content: line + "\n"}:
	default:
		// Queue full, drop message to prevent blocking the frame loop
		dl.dropped++
	}
}

// debugMsgVerbose only outputs if verbose logging is enabled
func (dl *DebugLogger) debugMsgVerbose(component, message string, markerID ...string) {
	if !dl.verbose {
		return
	}
	dl.debugMsg(component, message, markerID...)
}

// getOrCreateMarkerFile must be called with dl.mu held.
func (dl *DebugLogger) getOrCreateMarkerFile(id string) *os.File {
	if file, ok := dl.markerFiles[id]; ok {
		return file
	}

	path := filepath.Join(dl.baseDir, fmt.Sprintf("marker_%s.txt", id))
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		fmt.Fprintf(dl.console, "[DEBUG_LOGGER] Failed to open debug file %s: %v\n", path, err)
		return nil
	}

	if info, err := file.Stat(); err == nil && info.Size() == 0 {
		fmt.Fprintf(file, "=== MARKER %s DEBUG LOG ===\nStarted: %s\n\n",
			id, time.Now().Format("2006-01-02 15:04:05"))
	}
	dl.markerFiles[id] = file
	return file
}

// fileWriteWorker handles async file writing
func (dl *DebugLogger) fileWriteWorker() {
	defer dl.workerStopped.Done()

	for {
		select {
		case task := <-dl.writeQueue:
			task.file.WriteString(task.content)
		case <-dl.stopWorker:
			for {
				select {
				case task := <-dl.writeQueue:
					task.file.WriteString(task.content)
				default:
					return
				}
			}
		}
	}
}

// GetOverlayHistory returns recent messages for the terminal overlay.
func (dl *DebugLogger) GetOverlayHistory() []string {
	dl.mu.RLock()
	defer dl.mu.RUnlock()

	history := make([]string, len(dl.overlayHistory))
	for i, msg := range dl.overlayHistory {
		history[i] = fmt.Sprintf("[%s] %s", msg.Component, msg.Message)
	}
	return history
}

// Close flushes pending file writes and closes the marker files.
func (dl *DebugLogger) Close() {
	if !dl.enabled {
		return
	}

	close(dl.stopWorker)
	dl.workerStopped.Wait()

	dl.mu.Lock()
	defer dl.mu.Unlock()
	for id, file := range dl.markerFiles {
		file.Sync()
		file.Close()
		delete(dl.markerFiles, id)
	}
	if dl.dropped > 0 {
		fmt.Fprintf(dl.console, "[DEBUG_LOGGER] %d file messages dropped (queue full)\n", dl.dropped)
	}
	dl.enabled = false
}
