package nums_test

import (
	"math"
	"testing"

	"github.com/flocklab/flockd/mods/nums"
	"github.com/stretchr/testify/require"
)

func TestTrapezoidConstantRate(t *testing.T) {
	// constant rate r over dt must yield out + r*dt exactly
	out := nums.Trapezoid(1.5, 0.3, 0.3, 1, 0.1)
	require.Equal(t, 1.5+0.3*0.1, out)

	out = nums.Trapezoid(0, -2.0, -2.0, 1, 0.25)
	require.Equal(t, -0.5, out)
}

func TestTrapezoidGain(t *testing.T) {
	out := nums.Trapezoid(0, 1.0, 3.0, 0.5, 0.1)
	require.InDelta(t, 0.5*0.1*2.0, out, 1e-15)
}

func TestSaturate(t *testing.T) {
	require.Equal(t, 1.0, nums.Saturate(2.5, -1, 1))
	require.Equal(t, -1.0, nums.Saturate(-2.5, -1, 1))
	require.Equal(t, 0.5, nums.Saturate(0.5, -1, 1))
	require.Equal(t, 0.0, nums.Saturate(-0.5, 0, 1))
}

func TestModPi(t *testing.T) {
	// keeps the sign of the input, magnitude below pi
	require.InDelta(t, 1.5*math.Pi-math.Pi, nums.ModPi(1.5*math.Pi), 1e-12)
	require.InDelta(t, -(1.5*math.Pi-math.Pi), nums.ModPi(-1.5*math.Pi), 1e-12)
	require.InDelta(t, 0.5, nums.ModPi(0.5), 1e-12)
	// not the shortest arc: just below 2*pi stays close to pi, not 0
	require.InDelta(t, math.Pi-0.01, nums.ModPi(2*math.Pi-0.01), 1e-12)
}

func TestBearingDegenerate(t *testing.T) {
	p := nums.Pose{X: 1.2, Y: -3.4}
	require.Equal(t, 0.0, nums.Bearing(p, p))
	require.Equal(t, 0.0, nums.Distance(p, p))
}

func TestBearing(t *testing.T) {
	a := nums.Pose{}
	b := nums.Pose{X: 1, Y: 1}
	require.InDelta(t, math.Pi/4, nums.Bearing(a, b), 1e-12)
	require.InDelta(t, math.Sqrt2, nums.Distance(a, b), 1e-12)
}

func TestRandomPoseBounds(t *testing.T) {
	for i := 0; i < 100; i++ {
		p := nums.RandomPose(2.0)
		require.LessOrEqual(t, math.Abs(p.X), 2.0)
		require.LessOrEqual(t, math.Abs(p.Y), 2.0)
		require.LessOrEqual(t, math.Abs(p.Theta), math.Pi)
	}
}

func TestTwistSpeed(t *testing.T) {
	require.Equal(t, 5.0, nums.Twist{VX: 3, VY: 4}.Speed())
	require.Equal(t, 0.0, nums.Twist{}.Speed())
}
