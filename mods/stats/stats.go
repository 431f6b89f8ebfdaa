// Package stats defines the formation statistics vector exchanged between
// agents: the first and second spatial moments of the swarm distribution.
//
// The dimension is fixed. The moment order (m_x, m_y, m_xx, m_xy, m_yy) is
// baked into the control jacobian and the wire formats, so the vector can not
// be reconfigured to another dimension without changing all of them together.
package stats

import (
	"fmt"

	"gonum.org/v1/gonum/mat"
)

// Dimension is the number of tracked moments.
const Dimension = 5

// Statistics is one formation statistics vector.
type Statistics struct {
	MX  float64 `json:"m_x" yaml:"m_x"`
	MY  float64 `json:"m_y" yaml:"m_y"`
	MXX float64 `json:"m_xx" yaml:"m_xx"`
	MXY float64 `json:"m_xy" yaml:"m_xy"`
	MYY float64 `json:"m_yy" yaml:"m_yy"`
}

// Vector returns the statistics as a dense 5-vector in moment order.
func (s Statistics) Vector() *mat.VecDense {
	return mat.NewVecDense(Dimension, []float64{s.MX, s.MY, s.MXX, s.MXY, s.MYY})
}

// FromVector converts a 5-vector back into Statistics. A vector of any other
// length yields a DimensionError and the zero value, never a panic.
func FromVector(v mat.Vector) (Statistics, error) {
	if v.Len() != Dimension {
		return Statistics{}, &DimensionError{Got: v.Len()}
	}
	return Statistics{
		MX:  v.AtVec(0),
		MY:  v.AtVec(1),
		MXX: v.AtVec(2),
		MXY: v.AtVec(3),
		MYY: v.AtVec(4),
	}, nil
}

// Matrix stacks a batch of neighbor observations into an n-by-5 matrix,
// one observation per row.
func Matrix(batch []Statistics) *mat.Dense {
	if len(batch) == 0 {
		return &mat.Dense{}
	}
	m := mat.NewDense(len(batch), Dimension, nil)
	for i, s := range batch {
		m.SetRow(i, []float64{s.MX, s.MY, s.MXX, s.MXY, s.MYY})
	}
	return m
}

// Phi evaluates the moment-generating map at a position.
func Phi(x float64, y float64) Statistics {
	return Statistics{MX: x, MY: y, MXX: x * x, MXY: x * y, MYY: y * y}
}

// DimensionError reports a statistics vector of unexpected length.
type DimensionError struct {
	Got int
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("wrong statistics vector size (%d)", e.Got)
}
