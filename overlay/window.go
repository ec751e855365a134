package overlay

import (
	"image"
	"image/color"
	"strings"

	"gocv.io/x/gocv"
)

// FrameSink receives every annotated frame, e.g. a recorder.
type FrameSink interface {
	WriteFrame(frame gocv.Mat) error
}

// Window implements the preview and debug text surfaces. Each preview is the
// source frame with the rendered objects, the debug text block and, when
// enabled, the recent log lines drawn on top.
type Window struct {
	window   *gocv.Window
	renderer *Renderer
	canvas   gocv.Mat

	debugText []string
	terminal  func() []string
	sink      FrameSink
	sinkErr   error
	lastKey   int
}

// NewWindow creates the preview surface. With headless set no OS window is
// opened and frames are only rendered for the sink.
func NewWindow(title string, renderer *Renderer, headless bool) *Window {
	w := &Window{
		renderer: renderer,
		canvas:   gocv.NewMat(),
		lastKey:  -1,
	}
	if !headless {
		w.window = gocv.NewWindow(title)
	}
	return w
}

// SetTerminalSource enables the log panel fed by fn.
func (w *Window) SetTerminalSource(fn func() []string) {
	w.terminal = fn
}

// SetSink forwards each annotated frame to sink.
func (w *Window) SetSink(sink FrameSink) {
	w.sink = sink
}

// SetDebugText replaces the debug text block.
func (w *Window) SetDebugText(text string) {
	w.debugText = strings.Split(text, "\n")
}

// DebugText returns the current debug text lines.
func (w *Window) DebugText() []string {
	return w.debugText
}

// ShowPreview draws the annotated frame and presents it.
func (w *Window) ShowPreview(frame gocv.Mat) {
	w.canvas.Close()
	w.canvas = frame.Clone()

	w.renderer.Draw(&w.canvas)
	drawTextBlock(&w.canvas, w.debugText, image.Pt(10, 20), militaryGreen)
	if w.terminal != nil {
		w.drawTerminal()
	}

	if w.sink != nil && w.sinkErr == nil {
		if err := w.sink.WriteFrame(w.canvas); err != nil {
			// Recording stops, preview continues.
			w.sinkErr = err
			debugMsg("OVERLAY", "Frame sink failed, recording disabled: "+err.Error())
		}
	}

	if w.window != nil {
		w.window.IMShow(w.canvas)
		w.lastKey = w.window.WaitKey(1)
	}
}

// LastKey returns the key pressed during the latest preview, or -1.
func (w *Window) LastKey() int {
	return w.lastKey
}

// drawTerminal renders the most recent log lines in the lower-left corner.
func (w *Window) drawTerminal() {
	lines := w.terminal()
	const maxLines = 8
	if len(lines) > maxLines {
		lines = lines[len(lines)-maxLines:]
	}
	const lineHeight = 16
	y := w.canvas.Rows() - lineHeight*len(lines) - 4
	drawTextBlock(&w.canvas, lines, image.Pt(10, y), amber)
}

func drawTextBlock(img *gocv.Mat, lines []string, origin image.Point, c color.RGBA) {
	const lineHeight = 16
	for i, line := range lines {
		if line == "" {
			continue
		}
		pt := image.Pt(origin.X, origin.Y+i*lineHeight)
		// Dark outline keeps text readable on bright frames.
		gocv.PutText(img, line, pt, gocv.FontHersheyPlain, 1.0, color.RGBA{0, 0, 0, 0}, 3)
		gocv.PutText(img, line, pt, gocv.FontHersheyPlain, 1.0, c, 1)
	}
}

// Close releases the window and the canvas.
func (w *Window) Close() error {
	w.canvas.Close()
	if w.window != nil {
		return w.window.Close()
	}
	return nil
}
