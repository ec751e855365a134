package tracking

import (
	"fmt"
	"sort"
	"strconv"

	"tagcam/detection"
)

// debugMsgFunc is a function that will be set by main package to use unified logging
var debugMsgFunc func(component, message string, tags ...string)

// debugMsgVerboseFunc is a function that will be set by main package for verbose logging only
var debugMsgVerboseFunc func(component, message string, tags ...string)

// SetDebugFunction allows main package to provide the debug logger
func SetDebugFunction(fn func(component, message string, tags ...string)) {
	debugMsgFunc = fn
}

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

// Pool maps marker identities to long-lived visual objects. Objects are
// created on first sight and hidden, never removed, when their marker is
// not detected, so the pool only grows.
//
// A Pool is not safe for concurrent use.
type Pool struct {
	factory ObjectFactory
	objects map[int]*TrackedObject
	motion  map[int]*MotionFilter
	round   int64
}

// NewPool creates an empty pool backed by factory.
func NewPool(factory ObjectFactory) *Pool {
	return &Pool{
		factory: factory,
		objects: make(map[int]*TrackedObject),
		motion:  make(map[int]*MotionFilter),
	}
}

// Reconcile updates the pool to match one frame's detections: every object
// is hidden, then each detected identity is created if needed, posed with a
// uniform scale of markerSize and shown.
//
// Identities must be unique within dets. When the factory fails to create an
// object the identity is skipped for this round and retried the next time it
// is detected.
func (p *Pool) Reconcile(dets []detection.Detection, markerSize float64) ReconcileResult {
	p.round++
	var res ReconcileResult

	for _, obj := range p.objects {
		if obj.Visible {
			p.factory.SetVisible(obj.Handle, false)
			obj.Visible = false
		}
	}

	for _, det := range dets {
		obj, ok := p.objects[det.ID]
		if !ok {
			h, err := p.factory.Create(det.ID)
			if err != nil {
				res.Failed++
				debugMsg("POOL", fmt.Sprintf("Failed to create object for marker %d: %v", det.ID, err),
					strconv.Itoa(det.ID))
				continue
			}
			obj = &TrackedObject{
				ID:        det.ID,
				Handle:    h,
				FirstSeen: p.round,
			}
			p.objects[det.ID] = obj
			p.motion[det.ID] = NewMotionFilter()
			res.Created++
			debugMsg("POOL", fmt.Sprintf("Created object %d for marker %d (pool size %d)",
				h, det.ID, len(p.objects)), strconv.Itoa(det.ID))
		}

		// The rendered pose is always the detected one; the filter only
		// feeds the velocity estimate.
		_, obj.Velocity = p.motion[det.ID].Update(det.Pose.Position, float64(p.round-obj.LastSeen))
		obj.Pose = det.Pose
		obj.Scale = markerSize
		obj.LastSeen = p.round
		obj.SeenCount++
		p.factory.SetPose(obj.Handle, det.Pose, markerSize)
		p.factory.SetVisible(obj.Handle, true)
		obj.Visible = true
		res.Visible++
	}

	res.Hidden = len(p.objects) - res.Visible
	debugMsgVerbose("POOL", fmt.Sprintf("Round %d: %d detections, %d visible, %d hidden, %d created, %d failed",
		p.round, len(dets), res.Visible, res.Hidden, res.Created, res.Failed))
	return res
}

// Len returns the number of pooled objects.
func (p *Pool) Len() int {
	return len(p.objects)
}

// Get returns a copy of the object for id.
func (p *Pool) Get(id int) (TrackedObject, bool) {
	obj, ok := p.objects[id]
	if !ok {
		return TrackedObject{}, false
	}
	return *obj, true
}

// Objects returns copies of all pooled objects ordered by identity.
func (p *Pool) Objects() []TrackedObject {
	out := make([]TrackedObject, 0, len(p.objects))
	for _, obj := range p.objects {
		out = append(out, *obj)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// VisibleIDs returns the identities shown after the latest round, ascending.
func (p *Pool) VisibleIDs() []int {
	var ids []int
	for id, obj := range p.objects {
		if obj.Visible {
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids
}

// Release hides every object and empties the pool. It is only meant for
// teardown; the factory keeps ownership of the underlying resources.
func (p *Pool) Release() {
	for _, obj := range p.objects {
		if obj.Visible {
			p.factory.SetVisible(obj.Handle, false)
		}
	}
	debugMsg("POOL", fmt.Sprintf("Released %d objects", len(p.objects)))
	p.objects = make(map[int]*TrackedObject)
	p.motion = make(map[int]*MotionFilter)
}
