// Package control maps the formation statistics error into a bounded velocity
// command for the virtual agent through a weighted generalized inverse of the
// moment map jacobian.
package control

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/flocklab/flockd/mods/nums"
	"github.com/flocklab/flockd/mods/stats"
)

// Inputs is the number of virtual velocity components the law commands.
const Inputs = 2

// Gains holds the diagonal weighting matrices of the law. Gamma weights the
// statistics error, Lambda penalizes the state sensitivity, B penalizes the
// input effort. All three are fixed after construction.
type Gains struct {
	Gamma  []float64 `yaml:"gamma"`
	Lambda []float64 `yaml:"lambda"`
	B      []float64 `yaml:"b"`

	// VelocityThreshold bounds the norm of the commanded virtual velocity.
	VelocityThreshold float64 `yaml:"velocityVirtualThreshold"`
}

// Law computes the virtual agent velocity command.
//
//	u = inv(B + J'*Lambda*J) * J'*Gamma*err
//
// The jacobian J of phi(p) = (x, y, x^2, x*y, y^2) has four entries that are
// affine in the virtual position and must be refreshed every cycle.
type Law struct {
	gamma     *mat.DiagDense
	lambda    *mat.DiagDense
	b         *mat.DiagDense
	jacobian  *mat.Dense
	threshold float64
}

// New validates the gain dimensions and returns a ready Law.
func New(g Gains) (*Law, error) {
	if len(g.Gamma) != stats.Dimension {
		return nil, fmt.Errorf("gamma diagonal must have %d elements, got %d", stats.Dimension, len(g.Gamma))
	}
	if len(g.Lambda) != stats.Dimension {
		return nil, fmt.Errorf("lambda diagonal must have %d elements, got %d", stats.Dimension, len(g.Lambda))
	}
	if len(g.B) != Inputs {
		return nil, fmt.Errorf("b diagonal must have %d elements, got %d", Inputs, len(g.B))
	}
	if g.VelocityThreshold <= 0 {
		return nil, fmt.Errorf("virtual velocity threshold must be positive, got %f", g.VelocityThreshold)
	}

	jac := mat.NewDense(stats.Dimension, Inputs, nil)
	jac.Set(0, 0, 1)
	jac.Set(1, 1, 1)

	return &Law{
		gamma:     mat.NewDiagDense(stats.Dimension, g.Gamma),
		lambda:    mat.NewDiagDense(stats.Dimension, g.Lambda),
		b:         mat.NewDiagDense(Inputs, g.B),
		jacobian:  jac,
		threshold: g.VelocityThreshold,
	}, nil
}

// Update runs one control cycle: recompute the jacobian at the current
// virtual position, solve the weighted inverse, saturate the command norm and
// integrate the virtual pose. It returns the new virtual twist and pose.
//
// A singular control matrix is a configuration fault and is returned as an
// error; the law performs no runtime recovery.
func (l *Law) Update(dt float64, estimated stats.Statistics, target stats.Statistics, pose nums.Pose, twist nums.Twist) (nums.Twist, nums.Pose, error) {
	errVec := mat.NewVecDense(stats.Dimension, nil)
	errVec.SubVec(target.Vector(), estimated.Vector())

	l.jacobian.Set(2, 0, 2*pose.X)
	l.jacobian.Set(3, 0, pose.Y)
	l.jacobian.Set(3, 1, pose.X)
	l.jacobian.Set(4, 1, 2*pose.Y)

	// m = B + J'*Lambda*J
	m := mat.NewDense(Inputs, Inputs, nil)
	m.Product(l.jacobian.T(), l.lambda, l.jacobian)
	m.Add(m, l.b)

	var mInv mat.Dense
	if invErr := mInv.Inverse(m); invErr != nil {
		return twist, pose, fmt.Errorf("control matrix is singular: %w", invErr)
	}

	rhs := mat.NewVecDense(Inputs, nil)
	weighted := mat.NewVecDense(stats.Dimension, nil)
	weighted.MulVec(l.gamma, errVec)
	rhs.MulVec(l.jacobian.T(), weighted)

	u := mat.NewVecDense(Inputs, nil)
	u.MulVec(&mInv, rhs)

	// norm saturation, direction preserved
	if norm := math.Hypot(u.AtVec(0), u.AtVec(1)); norm > l.threshold {
		u.ScaleVec(l.threshold/norm, u)
	}

	next := nums.Twist{VX: u.AtVec(0), VY: u.AtVec(1)}
	pose.X = nums.Trapezoid(pose.X, twist.VX, next.VX, 1, dt)
	pose.Y = nums.Trapezoid(pose.Y, twist.VY, next.VY, 1, dt)

	return next, pose, nil
}
