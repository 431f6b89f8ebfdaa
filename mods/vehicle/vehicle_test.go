package vehicle_test

import (
	"math"
	"testing"

	"github.com/flocklab/flockd/mods/nums"
	"github.com/flocklab/flockd/mods/vehicle"
	"github.com/stretchr/testify/require"
)

func TestStraightLine(t *testing.T) {
	u := vehicle.Unicycle{Length: 0.5}
	pose := nums.Pose{}
	twist := nums.Twist{VX: 1} // already cruising at the commanded rate

	pose, twist = u.Integrate(0.1, pose, twist, 1.0, 0)
	require.InDelta(t, 0.1, pose.X, 1e-12)
	require.Equal(t, 0.0, pose.Y)
	require.Equal(t, 0.0, pose.Theta)
	require.Equal(t, nums.Twist{VX: 1}, twist)
}

func TestHeadingRatesFollowModel(t *testing.T) {
	u := vehicle.Unicycle{Length: 0.5}
	pose := nums.Pose{Theta: math.Pi / 2}

	pose, twist := u.Integrate(0.1, pose, nums.Twist{}, 1.0, 0.2)
	require.InDelta(t, 0.0, twist.VX, 1e-12)
	require.InDelta(t, 1.0, twist.VY, 1e-12)
	require.InDelta(t, 1.0/0.5*math.Tan(0.2), twist.Omega, 1e-12)

	// rates ramp from zero, so the pose moves half a full step
	require.InDelta(t, 0.1*1.0/2, pose.Y, 1e-12)
	require.InDelta(t, math.Pi/2+0.1*twist.Omega/2, pose.Theta, 1e-12)
}

func TestStoredTwistIsNextCycleOld(t *testing.T) {
	u := vehicle.Unicycle{Length: 1}
	pose := nums.Pose{}
	var twist nums.Twist

	pose, twist = u.Integrate(0.1, pose, twist, 2.0, 0)
	require.InDelta(t, 0.1, pose.X, 1e-12) // ramp from 0 to 2: mean 1

	pose, twist = u.Integrate(0.1, pose, twist, 2.0, 0)
	require.InDelta(t, 0.3, pose.X, 1e-12) // steady at 2 now
	require.Equal(t, 2.0, twist.VX)
}
