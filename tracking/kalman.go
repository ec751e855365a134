package tracking

import (
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/r3"
)

// MotionFilter is a constant velocity Kalman filter over a marker position.
// Time is measured in reconcile rounds, so velocities are metres per frame.
type MotionFilter struct {
	x *mat.VecDense // [x y z vx vy vz]
	p *mat.Dense

	q float64 // process noise scale
	r float64 // measurement variance, m^2

	initialized bool
}

// NewMotionFilter creates a filter. Defaults suit a hand held marker at
// desk distance.
func NewMotionFilter() *MotionFilter {
	return &MotionFilter{
		x: mat.NewVecDense(6, nil),
		p: mat.NewDense(6, 6, nil),
		q: 1e-4,
		r: 1e-4,
	}
}

// Update folds in a position measured dt rounds after the previous one and
// returns the filtered position and velocity.
func (kf *MotionFilter) Update(z r3.Vec, dt float64) (pos, vel r3.Vec) {
	if !kf.initialized {
		kf.x.SetVec(0, z.X)
		kf.x.SetVec(1, z.Y)
		kf.x.SetVec(2, z.Z)
		for i := 3; i < 6; i++ {
			kf.x.SetVec(i, 0)
		}
		kf.p.Zero()
		for i := 0; i < 3; i++ {
			kf.p.Set(i, i, kf.r)
			kf.p.Set(i+3, i+3, 1) // High initial velocity uncertainty
		}
		kf.initialized = true
		return z, r3.Vec{}
	}
	if dt <= 0 {
		dt = 1
	}

	// Predict
	F := mat.NewDense(6, 6, nil)
	Q := mat.NewDense(6, 6, nil)
	dt2, dt3, dt4 := dt*dt, dt*dt*dt, dt*dt*dt*dt
	for i := 0; i < 3; i++ {
		F.Set(i, i, 1)
		F.Set(i+3, i+3, 1)
		F.Set(i, i+3, dt)
		Q.Set(i, i, kf.q*dt4/4)
		Q.Set(i, i+3, kf.q*dt3/2)
		Q.Set(i+3, i, kf.q*dt3/2)
		Q.Set(i+3, i+3, kf.q*dt2)
	}

	var xPred mat.VecDense
	xPred.MulVec(F, kf.x)

	var fp, pPred mat.Dense
	fp.Mul(F, kf.p)
	pPred.Mul(&fp, F.T())
	pPred.Add(&pPred, Q)

	// Update: H selects the position block, so S = P[0:3,0:3] + R and
	// K = P[:,0:3] * inv(S).
	S := mat.DenseCopyOf(pPred.Slice(0, 3, 0, 3))
	for i := 0; i < 3; i++ {
		S.Set(i, i, S.At(i, i)+kf.r)
	}
	var sInv mat.Dense
	if err := sInv.Inverse(S); err != nil {
		// Singular innovation covariance, keep the prediction.
		kf.x.CopyVec(&xPred)
		kf.p.Copy(&pPred)
		return kf.Position(), kf.Velocity()
	}
	var K mat.Dense
	K.Mul(pPred.Slice(0, 6, 0, 3), &sInv)

	innovation := mat.NewVecDense(3, []float64{
		z.X - xPred.AtVec(0),
		z.Y - xPred.AtVec(1),
		z.Z - xPred.AtVec(2),
	})
	var correction mat.VecDense
	correction.MulVec(&K, innovation)
	kf.x.AddVec(&xPred, &correction)

	// P = (I - K*H) * P, with K*H being K padded to 6x6.
	var kp mat.Dense
	kp.Mul(&K, pPred.Slice(0, 3, 0, 6))
	kf.p.Sub(&pPred, &kp)

	return kf.Position(), kf.Velocity()
}

// Predict extrapolates the position dt rounds ahead.
func (kf *MotionFilter) Predict(dt float64) r3.Vec {
	if !kf.initialized {
		return r3.Vec{}
	}
	return r3.Add(kf.Position(), r3.Scale(dt, kf.Velocity()))
}

// Position returns the filtered position.
func (kf *MotionFilter) Position() r3.Vec {
	return r3.Vec{X: kf.x.AtVec(0), Y: kf.x.AtVec(1), Z: kf.x.AtVec(2)}
}

// Velocity returns the velocity estimate in metres per round.
func (kf *MotionFilter) Velocity() r3.Vec {
	return r3.Vec{X: kf.x.AtVec(3), Y: kf.x.AtVec(4), Z: kf.x.AtVec(5)}
}

// Reset forgets all state.
func (kf *MotionFilter) Reset() {
	kf.initialized = false
	kf.x.Zero()
	kf.p.Zero()
}
