// Package nums provides the planar geometry and numeric primitives shared by
// the estimation, control and guidance packages.
package nums

import (
	"math"
	"math/rand"
)

// Pose is a planar position with heading. Heading is a scalar yaw angle;
// quaternion conversion is a transport concern and never enters this package.
type Pose struct {
	X     float64 `json:"x"`
	Y     float64 `json:"y"`
	Theta float64 `json:"theta"`
}

// Twist is a planar velocity state.
type Twist struct {
	VX    float64 `json:"vx"`
	VY    float64 `json:"vy"`
	Omega float64 `json:"omega"`
}

// Speed returns the magnitude of the linear velocity.
func (t Twist) Speed() float64 {
	return math.Hypot(t.VX, t.VY)
}

// Distance returns the planar distance between two poses.
func Distance(a Pose, b Pose) float64 {
	return math.Hypot(b.X-a.X, b.Y-a.Y)
}

// Bearing returns the angle of the line of sight from a to b.
// Coincident positions yield bearing 0, which is the atan2(0, 0) convention.
func Bearing(a Pose, b Pose) float64 {
	return math.Atan2(b.Y-a.Y, b.X-a.X)
}

// RandomPose draws x and y uniformly from [-limit, limit] and the heading
// uniformly from [-pi, pi).
func RandomPose(limit float64) Pose {
	return Pose{
		X:     (rand.Float64()*2 - 1) * limit,
		Y:     (rand.Float64()*2 - 1) * limit,
		Theta: (rand.Float64()*2 - 1) * math.Pi,
	}
}
