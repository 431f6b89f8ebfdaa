// Package vehicle advances the real agent's pose under a planar unicycle
// model driven by the guidance commands.
package vehicle

import (
	"math"

	"github.com/flocklab/flockd/mods/nums"
)

// Unicycle is the kinematic model of the vehicle.
type Unicycle struct {
	// Length is the wheelbase used by the steering kinematics.
	Length float64
}

// Integrate advances the pose over dt under the commanded speed and steering
// angle, trapezoidally blending the previous cycle's rates with the new ones.
// The returned twist carries the new rates for the next cycle.
func (u Unicycle) Integrate(dt float64, pose nums.Pose, twist nums.Twist, speed float64, steer float64) (nums.Pose, nums.Twist) {
	xDot := speed * math.Cos(pose.Theta)
	yDot := speed * math.Sin(pose.Theta)
	thetaDot := speed / u.Length * math.Tan(steer)

	pose.X = nums.Trapezoid(pose.X, twist.VX, xDot, 1, dt)
	pose.Y = nums.Trapezoid(pose.Y, twist.VY, yDot, 1, dt)
	pose.Theta = nums.Trapezoid(pose.Theta, twist.Omega, thetaDot, 1, dt)

	return pose, nums.Twist{VX: xDot, VY: yDot, Omega: thetaDot}
}
