package tracking

import (
	"gonum.org/v1/gonum/spatial/r3"

	"tagcam/detection"
)

// Handle is an opaque reference to a renderable object issued by an ObjectFactory.
type Handle uint64

// ObjectFactory creates and updates the visual representation of markers.
type ObjectFactory interface {
	// Create allocates a new object for a marker identity.
	Create(id int) (Handle, error)
	// SetPose places the object; scale is uniform.
	SetPose(h Handle, pose detection.Pose, scale float64)
	// SetVisible shows or hides the object.
	SetVisible(h Handle, visible bool)
}

// TrackedObject is the persistent representation of one marker identity.
type TrackedObject struct {
	ID      int
	Handle  Handle
	Visible bool
	Pose    detection.Pose
	Scale   float64

	// Velocity is the filtered marker velocity in metres per frame, zero
	// until the second sighting.
	Velocity r3.Vec

	FirstSeen int64 // reconcile round of creation
	LastSeen  int64 // latest reconcile round with a detection
	SeenCount int   // number of rounds with a detection
}

// ReconcileResult summarizes one reconcile round.
type ReconcileResult struct {
	Created int // objects created this round
	Visible int // objects visible after the round
	Hidden  int // pooled objects hidden after the round
	Failed  int // identities skipped because creation failed
}
