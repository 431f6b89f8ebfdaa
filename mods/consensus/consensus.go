// Package consensus implements the dynamic discrete consensus filter that
// keeps every agent's local estimate of the formation statistics in agreement
// with its neighbors while tracking the swarm's true evolving moments.
package consensus

import (
	"gonum.org/v1/gonum/mat"

	"github.com/flocklab/flockd/mods/nums"
	"github.com/flocklab/flockd/mods/stats"
)

// Estimator holds one agent's current belief of the formation statistics.
type Estimator struct {
	estimate *mat.VecDense
}

// New returns an Estimator starting from the given belief.
func New(initial stats.Statistics) *Estimator {
	return &Estimator{estimate: initial.Vector()}
}

// Estimate returns the current belief.
func (e *Estimator) Estimate() stats.Statistics {
	s, _ := stats.FromVector(e.estimate)
	return s
}

// SetEstimate resets the belief.
func (e *Estimator) SetEstimate(s stats.Statistics) {
	e.estimate = s.Vector()
}

// Update applies one consensus step over dt:
//
//	x_k+1 = x_k + dt*phi_dot + dt*sum_j(x_j - x_k)
//
// phi_dot is the time derivative of the moment map at the virtual agent's
// current position and velocity; the sum ranges over the received neighbor
// observations. Both terms use the belief from before this step.
func (e *Estimator) Update(dt float64, pose nums.Pose, twist nums.Twist, received []stats.Statistics) stats.Statistics {
	phiDot := mat.NewVecDense(stats.Dimension, []float64{
		twist.VX,
		twist.VY,
		2 * pose.X * twist.VX,
		pose.Y*twist.VX + pose.X*twist.VY,
		2 * pose.Y * twist.VY,
	})

	obs := stats.Matrix(received)
	rows, _ := obs.Dims()
	correction := mat.NewVecDense(stats.Dimension, nil)
	diff := mat.NewVecDense(stats.Dimension, nil)
	for i := 0; i < rows; i++ {
		diff.SubVec(obs.RowView(i), e.estimate)
		correction.AddVec(correction, diff)
	}

	e.estimate.AddScaledVec(e.estimate, dt, phiDot)
	e.estimate.AddScaledVec(e.estimate, dt, correction)

	return e.Estimate()
}
