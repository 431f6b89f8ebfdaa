// Package guidance implements the line-of-sight outer loop that steers the
// real vehicle toward the virtual agent, producing speed and steering
// commands.
package guidance

import (
	"github.com/flocklab/flockd/mods/nums"
)

// Gains configures the LOS guidance loop. All values are fixed after
// construction.
type Gains struct {
	KpSpeed float64 `yaml:"kpSpeed"`
	KiSpeed float64 `yaml:"kiSpeed"`
	KpSteer float64 `yaml:"kpSteer"`

	SpeedMin float64 `yaml:"speedMin"`
	SpeedMax float64 `yaml:"speedMax"`
	SteerMin float64 `yaml:"steerMin"`
	SteerMax float64 `yaml:"steerMax"`

	// LOSDistanceThreshold is the distance at which the speed reference
	// reaches SpeedMax.
	LOSDistanceThreshold float64 `yaml:"losDistanceThreshold"`
}

// Command is one cycle's saturated guidance output.
type Command struct {
	Speed float64
	Steer float64
}

// Law keeps the PI state of the speed loop between cycles.
//
// The integral term accumulates even while the final command is saturated;
// there is no anti-windup. The steering error is reduced with math.Mod into
// (-pi, pi) instead of the shortest signed arc. Both are deliberate carries
// of the reference controller.
type Law struct {
	gains Gains

	speedError    float64
	speedIntegral float64
}

// New returns a Law with zero PI state.
func New(g Gains) *Law {
	return &Law{gains: g}
}

// Update computes one guidance cycle from the real pose toward the virtual
// pose.
func (l *Law) Update(dt float64, real nums.Pose, twist nums.Twist, virtual nums.Pose) Command {
	losDistance := nums.Distance(real, virtual)
	// atan2 yields bearing 0 for coincident positions, no special case
	losAngle := nums.Bearing(real, virtual)

	speedRef := l.gains.SpeedMax * losDistance / l.gains.LOSDistanceThreshold
	if speedRef > l.gains.SpeedMax {
		speedRef = l.gains.SpeedMax
	}

	errOld := l.speedError
	l.speedError = speedRef - twist.Speed()
	l.speedIntegral = nums.Trapezoid(l.speedIntegral, errOld, l.speedError, l.gains.KiSpeed, dt)

	speed := l.gains.KpSpeed * (l.speedError + l.speedIntegral)
	steer := l.gains.KpSteer * nums.ModPi(losAngle-real.Theta)

	return Command{
		Speed: nums.Saturate(speed, l.gains.SpeedMin, l.gains.SpeedMax),
		Steer: nums.Saturate(steer, l.gains.SteerMin, l.gains.SteerMax),
	}
}

// Integral exposes the accumulated speed integral, mainly for windup tests.
func (l *Law) Integral() float64 {
	return l.speedIntegral
}
