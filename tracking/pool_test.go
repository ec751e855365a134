package tracking

import (
	"errors"
	"testing"

	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"

	"tagcam/detection"
)

type fakeObject struct {
	id      int
	pose    detection.Pose
	scale   float64
	visible bool
}

// fakeFactory records every call and can be told to fail creation for
// specific identities.
type fakeFactory struct {
	next    Handle
	objects map[Handle]*fakeObject
	creates map[int]int
	failFor map[int]bool
}

func newFakeFactory() *fakeFactory {
	return &fakeFactory{
		objects: make(map[Handle]*fakeObject),
		creates: make(map[int]int),
		failFor: make(map[int]bool),
	}
}

func (f *fakeFactory) Create(id int) (Handle, error) {
	if f.failFor[id] {
		return 0, errors.New("out of objects")
	}
	f.next++
	f.objects[f.next] = &fakeObject{id: id}
	f.creates[id]++
	return f.next, nil
}

func (f *fakeFactory) SetPose(h Handle, pose detection.Pose, scale float64) {
	f.objects[h].pose = pose
	f.objects[h].scale = scale
}

func (f *fakeFactory) SetVisible(h Handle, visible bool) {
	f.objects[h].visible = visible
}

func (f *fakeFactory) visibleIDs() []int {
	var ids []int
	for _, o := range f.objects {
		if o.visible {
			ids = append(ids, o.id)
		}
	}
	return ids
}

func det(id int, x float64) detection.Detection {
	return detection.Detection{
		ID: id,
		Pose: detection.Pose{
			Position:    r3.Vec{X: x, Y: 0.1, Z: 0.5},
			Orientation: quat.Number{Real: 1},
		},
	}
}

func TestReconcile_EmptySetIsIdempotentHide(t *testing.T) {
	f := newFakeFactory()
	p := NewPool(f)
	p.Reconcile([]detection.Detection{det(1, 0), det(2, 0)}, 0.05)
	require.Equal(t, 2, p.Len())

	for i := 0; i < 2; i++ {
		res := p.Reconcile(nil, 0.05)
		assert.Equal(t, ReconcileResult{Hidden: 2}, res)
		assert.Empty(t, p.VisibleIDs())
		assert.Empty(t, f.visibleIDs())
		assert.Equal(t, 2, p.Len())
		assert.Len(t, f.objects, 2)
	}
}

func TestReconcile_EmptyPoolEmptySet(t *testing.T) {
	f := newFakeFactory()
	p := NewPool(f)
	res := p.Reconcile(nil, 0.05)
	assert.Equal(t, ReconcileResult{}, res)
	assert.Zero(t, p.Len())
	assert.Empty(t, f.objects)
}

func TestReconcile_ReusesHandleAfterAbsence(t *testing.T) {
	f := newFakeFactory()
	p := NewPool(f)

	p.Reconcile([]detection.Detection{det(7, 0)}, 0.05)
	first, ok := p.Get(7)
	require.True(t, ok)

	p.Reconcile([]detection.Detection{det(3, 0)}, 0.05)
	hidden, _ := p.Get(7)
	assert.False(t, hidden.Visible)

	res := p.Reconcile([]detection.Detection{det(7, 1)}, 0.05)
	again, ok := p.Get(7)
	require.True(t, ok)
	assert.Equal(t, first.Handle, again.Handle)
	assert.True(t, again.Visible)
	assert.Equal(t, 1, f.creates[7])
	assert.Zero(t, res.Created)
	assert.Equal(t, 2, again.SeenCount)
	assert.Equal(t, int64(1), again.FirstSeen)
	assert.Equal(t, int64(3), again.LastSeen)
}

func TestReconcile_PoolSizeIsMonotonic(t *testing.T) {
	frames := [][]int{
		{1},
		{1, 2},
		{},
		{5},
		{2, 5, 9},
		{},
		{1, 9},
		{4, 3, 2, 1},
	}

	f := newFakeFactory()
	p := NewPool(f)
	prev := 0
	for i, ids := range frames {
		var dets []detection.Detection
		for _, id := range ids {
			dets = append(dets, det(id, float64(i)))
		}
		p.Reconcile(dets, 0.05)
		assert.GreaterOrEqual(t, p.Len(), prev, "frame %d", i)
		prev = p.Len()
	}
	assert.Equal(t, 6, p.Len())
	for id, n := range f.creates {
		assert.Equal(t, 1, n, "marker %d created more than once", id)
	}
}

func TestReconcile_PoseFidelity(t *testing.T) {
	f := newFakeFactory()
	p := NewPool(f)

	want := detection.Pose{
		Position:    r3.Vec{X: 0.12, Y: -0.34, Z: 0.56},
		Orientation: quat.Number(r3.NewRotation(0.3, r3.Vec{Y: 1})),
	}
	p.Reconcile([]detection.Detection{{ID: 7, Pose: want}}, 0.08)

	obj, ok := p.Get(7)
	require.True(t, ok)
	if diff := cmp.Diff(want, obj.Pose); diff != "" {
		t.Errorf("pool pose mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0.08, obj.Scale)

	rendered := f.objects[obj.Handle]
	if diff := cmp.Diff(want, rendered.pose); diff != "" {
		t.Errorf("factory pose mismatch (-want +got):\n%s", diff)
	}
	assert.Equal(t, 0.08, rendered.scale)
}

func TestReconcile_VisibilityPartition(t *testing.T) {
	f := newFakeFactory()
	p := NewPool(f)
	p.Reconcile([]detection.Detection{det(1, 0), det(2, 0), det(3, 0), det(4, 0)}, 0.05)

	res := p.Reconcile([]detection.Detection{det(4, 0), det(2, 0)}, 0.05)
	assert.Equal(t, ReconcileResult{Visible: 2, Hidden: 2}, res)
	assert.Equal(t, []int{2, 4}, p.VisibleIDs())
	assert.ElementsMatch(t, []int{2, 4}, f.visibleIDs())

	for _, obj := range p.Objects() {
		want := obj.ID == 2 || obj.ID == 4
		assert.Equal(t, want, obj.Visible, "marker %d", obj.ID)
		assert.Equal(t, want, f.objects[obj.Handle].visible, "marker %d", obj.ID)
	}
}

func TestReconcile_CreationFailureRetriedNextFrame(t *testing.T) {
	f := newFakeFactory()
	f.failFor[5] = true
	p := NewPool(f)

	res := p.Reconcile([]detection.Detection{det(5, 0), det(6, 0)}, 0.05)
	assert.Equal(t, 1, res.Failed)
	assert.Equal(t, 1, res.Created)
	_, ok := p.Get(5)
	assert.False(t, ok)
	assert.Equal(t, []int{6}, p.VisibleIDs())

	f.failFor[5] = false
	res = p.Reconcile([]detection.Detection{det(5, 0)}, 0.05)
	assert.Zero(t, res.Failed)
	assert.Equal(t, 1, res.Created)
	obj, ok := p.Get(5)
	require.True(t, ok)
	assert.True(t, obj.Visible)
}

func TestObjects_SortedCopies(t *testing.T) {
	p := NewPool(newFakeFactory())
	p.Reconcile([]detection.Detection{det(9, 0), det(1, 0), det(4, 0)}, 0.05)

	objs := p.Objects()
	require.Len(t, objs, 3)
	assert.Equal(t, []int{1, 4, 9}, []int{objs[0].ID, objs[1].ID, objs[2].ID})

	objs[0].Visible = false
	got, _ := p.Get(1)
	assert.True(t, got.Visible, "Objects must return copies")
}

func TestRelease_HidesAndEmpties(t *testing.T) {
	f := newFakeFactory()
	p := NewPool(f)
	p.Reconcile([]detection.Detection{det(1, 0), det(2, 0)}, 0.05)

	p.Release()
	assert.Zero(t, p.Len())
	assert.Empty(t, f.visibleIDs())
}

func TestSetDebugFunction_ReceivesCreationFailure(t *testing.T) {
	var components []string
	SetDebugFunction(func(component, message string, tags ...string) {
		components = append(components, component)
	})
	defer SetDebugFunction(nil)

	f := newFakeFactory()
	f.failFor[1] = true
	NewPool(f).Reconcile([]detection.Detection{det(1, 0)}, 0.05)
	assert.Contains(t, components, "POOL")
}
