package overlay

import (
	"errors"
	"fmt"
	"image"
	"image/color"
	"math"
	"sort"

	"gocv.io/x/gocv"
	"gonum.org/v1/gonum/spatial/r2"
	"gonum.org/v1/gonum/spatial/r3"

	"tagcam/detection"
	"tagcam/tracking"
)

// ErrObjectLimit is returned by Create when the renderer is full.
var ErrObjectLimit = errors.New("renderer object limit reached")

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

var (
	militaryGreen = color.RGBA{0, 255, 65, 0}
	targetRed     = color.RGBA{255, 40, 40, 0}
	systemBlue    = color.RGBA{40, 140, 255, 0}
	amber         = color.RGBA{255, 191, 0, 0}
	white         = color.RGBA{255, 255, 255, 0}
)

// palette cycles per marker identity so neighbouring tags are easy to tell apart.
var palette = []color.RGBA{
	militaryGreen,
	amber,
	{255, 0, 255, 0},
	{0, 255, 255, 0},
	{255, 128, 0, 0},
	{180, 120, 255, 0},
}

// renderObject is the renderer side state behind a tracking.Handle.
type renderObject struct {
	id      int
	pose    detection.Pose
	scale   float64
	visible bool
	color   color.RGBA
}

// Renderer handles visualization of tracked markers. It implements
// tracking.ObjectFactory; objects are drawn as pose aligned cubes whose
// base is the marker square.
type Renderer struct {
	// MaxObjects caps the number of objects Create will allocate; 0 means no limit.
	MaxObjects int

	camera  detection.Intrinsics
	next    tracking.Handle
	objects map[tracking.Handle]*renderObject

	thickness int
	showAxes  bool
}

// NewRenderer creates a renderer drawing through the given camera model.
func NewRenderer(camera detection.Intrinsics) *Renderer {
	return &Renderer{
		camera:    camera,
		objects:   make(map[tracking.Handle]*renderObject),
		thickness: 2,
		showAxes:  true,
	}
}

// SetCamera replaces the camera model used for projection.
func (r *Renderer) SetCamera(camera detection.Intrinsics) {
	r.camera = camera
}

// SetShowAxes toggles the per marker axis triad.
func (r *Renderer) SetShowAxes(show bool) {
	r.showAxes = show
}

// Create implements tracking.ObjectFactory.
func (r *Renderer) Create(id int) (tracking.Handle, error) {
	if r.MaxObjects > 0 && len(r.objects) >= r.MaxObjects {
		return 0, fmt.Errorf("%w (%d)", ErrObjectLimit, r.MaxObjects)
	}
	r.next++
	r.objects[r.next] = &renderObject{
		id:    id,
		pose:  detection.IdentityPose,
		color: palette[((id%len(palette))+len(palette))%len(palette)],
	}
	debugMsg("OVERLAY", fmt.Sprintf("Instantiated object %d for marker %d", r.next, id))
	return r.next, nil
}

// SetPose implements tracking.ObjectFactory.
func (r *Renderer) SetPose(h tracking.Handle, pose detection.Pose, scale float64) {
	if obj, ok := r.objects[h]; ok {
		obj.pose = pose
		obj.scale = scale
	}
}

// SetVisible implements tracking.ObjectFactory.
func (r *Renderer) SetVisible(h tracking.Handle, visible bool) {
	if obj, ok := r.objects[h]; ok {
		obj.visible = visible
	}
}

// Len returns the number of allocated objects.
func (r *Renderer) Len() int {
	return len(r.objects)
}

// VisibleCount returns the number of objects currently shown.
func (r *Renderer) VisibleCount() int {
	n := 0
	for _, obj := range r.objects {
		if obj.visible {
			n++
		}
	}
	return n
}

// cubeVertices returns the eight cube corners in the marker frame: the
// marker square at z=0 and the same square raised by one side length.
func cubeVertices(scale float64) [8]r3.Vec {
	var v [8]r3.Vec
	base := detection.MarkerCorners(scale)
	for i, c := range base {
		v[i] = c
		v[i+4] = r3.Add(c, r3.Vec{Z: scale})
	}
	return v
}

var cubeEdges = [12][2]int{
	{0, 1}, {1, 2}, {2, 3}, {3, 0},
	{4, 5}, {5, 6}, {6, 7}, {7, 4},
	{0, 4}, {1, 5}, {2, 6}, {3, 7},
}

// projectObject maps the cube of obj to pixels. ok is false when any vertex
// lies behind the camera.
func (r *Renderer) projectObject(obj *renderObject) (pts [8]image.Point, ok bool) {
	for i, v := range cubeVertices(obj.scale) {
		px, inFront := r.camera.Project(obj.pose.Apply(v))
		if !inFront {
			return pts, false
		}
		pts[i] = toPoint(px)
	}
	return pts, true
}

func toPoint(p r2.Vec) image.Point {
	return image.Pt(int(math.Round(p.X)), int(math.Round(p.Y)))
}

// Draw renders every visible object onto img, in identity order.
func (r *Renderer) Draw(img *gocv.Mat) {
	visible := make([]*renderObject, 0, len(r.objects))
	for _, obj := range r.objects {
		if obj.visible {
			visible = append(visible, obj)
		}
	}
	sort.Slice(visible, func(i, j int) bool { return visible[i].id < visible[j].id })

	for _, obj := range visible {
		pts, ok := r.projectObject(obj)
		if !ok {
			continue
		}
		r.drawCube(img, pts, obj.color)
		if r.showAxes {
			r.drawAxes(img, obj)
		}
		r.drawLabel(img, pts, obj)
	}
}

func (r *Renderer) drawCube(img *gocv.Mat, pts [8]image.Point, c color.RGBA) {
	for i, e := range cubeEdges {
		col := c
		if i < 4 {
			// Marker outline
			col = targetRed
		}
		gocv.Line(img, pts[e[0]], pts[e[1]], col, r.thickness)
	}
}

func (r *Renderer) drawAxes(img *gocv.Mat, obj *renderObject) {
	origin, ok := r.camera.Project(obj.pose.Position)
	if !ok {
		return
	}
	axes := []struct {
		dir r3.Vec
		col color.RGBA
	}{
		{r3.Vec{X: obj.scale / 2}, targetRed},
		{r3.Vec{Y: obj.scale / 2}, militaryGreen},
		{r3.Vec{Z: obj.scale / 2}, systemBlue},
	}
	for _, a := range axes {
		tip, ok := r.camera.Project(obj.pose.Apply(a.dir))
		if !ok {
			continue
		}
		gocv.Line(img, toPoint(origin), toPoint(tip), a.col, 1)
	}
}

func (r *Renderer) drawLabel(img *gocv.Mat, pts [8]image.Point, obj *renderObject) {
	top := pts[0]
	for _, p := range pts {
		if p.Y < top.Y {
			top = p
		}
	}
	label := fmt.Sprintf("ID %d  %.2fm", obj.id, r3.Norm(obj.pose.Position))
	gocv.PutText(img, label, image.Pt(top.X, top.Y-6), gocv.FontHersheyPlain, 1.0, white, 1)
}
