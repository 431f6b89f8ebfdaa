package agent_test

import (
	"math"
	"testing"
	"time"

	"github.com/flocklab/flockd/mods/agent"
	"github.com/flocklab/flockd/mods/eventbus"
	"github.com/flocklab/flockd/mods/stats"
	"github.com/stretchr/testify/require"
)

func f(v float64) *float64 { return &v }

func testConfig(id int, neighbors []int, x, y float64) agent.Config {
	cfg := agent.DefaultConfig()
	cfg.AgentID = id
	cfg.Neighbors = neighbors
	cfg.X = f(x)
	cfg.Y = f(y)
	cfg.Theta = f(0)
	return cfg
}

func TestNewRejectsInvalidConfig(t *testing.T) {
	cfg := testConfig(1, []int{2}, 0, 0)
	cfg.SampleTime = 0
	_, err := agent.New(cfg, eventbus.New())
	require.Error(t, err)

	cfg = testConfig(1, []int{1}, 0, 0) // self as neighbor
	_, err = agent.New(cfg, eventbus.New())
	require.Error(t, err)

	cfg = testConfig(1, []int{2}, 0, 0)
	cfg.Control.Gamma = []float64{1, 2, 3}
	_, err = agent.New(cfg, eventbus.New())
	require.Error(t, err)
}

func TestExplicitInitialPose(t *testing.T) {
	c, err := agent.New(testConfig(1, nil, 0.7, -0.3), eventbus.New())
	require.NoError(t, err)
	require.Equal(t, 0.7, c.Pose().X)
	require.Equal(t, -0.3, c.Pose().Y)
	// the virtual agent starts on the real one
	require.Equal(t, c.Pose().X, c.VirtualPose().X)
	require.Equal(t, c.Pose().Y, c.VirtualPose().Y)
}

func TestUnknownNeighborDiscarded(t *testing.T) {
	c, err := agent.New(testConfig(1, []int{2}, 0, 0), eventbus.New())
	require.NoError(t, err)

	c.OnReceived([]eventbus.Estimate{
		{AgentID: 2, Stats: stats.Statistics{MX: 1}},
		{AgentID: 99, Stats: stats.Statistics{MX: 100}},
	})
	require.NoError(t, c.Step())

	// only agent 2's observation entered the correction term:
	// estimate = dt * (obs - 0)
	require.InDelta(t, 0.1*1, c.Estimate().MX, 1e-12)
}

func TestReceivedBufferDrained(t *testing.T) {
	c, err := agent.New(testConfig(1, []int{2}, 0, 0), eventbus.New())
	require.NoError(t, err)

	c.OnReceived([]eventbus.Estimate{{AgentID: 2, Stats: stats.Statistics{MX: 1}}})
	require.NoError(t, c.Step())
	require.InDelta(t, 0.1, c.Estimate().MX, 1e-12)

	// second step with no new delivery: only phi_dot moves the estimate.
	// the first cycle left the virtual twist at vx = -0.1, so
	// m_x moves by dt*vx and the correction term stays zero.
	require.NoError(t, c.Step())
	require.InDelta(t, 0.09, c.Estimate().MX, 1e-12)
}

func TestStaleBatchReplaced(t *testing.T) {
	c, err := agent.New(testConfig(1, []int{2, 3}, 0, 0), eventbus.New())
	require.NoError(t, err)

	c.OnReceived([]eventbus.Estimate{{AgentID: 2, Stats: stats.Statistics{MX: 10}}})
	// overwrite before the cycle drained it: only the latest batch survives
	c.OnReceived([]eventbus.Estimate{{AgentID: 3, Stats: stats.Statistics{MX: 1}}})
	require.NoError(t, c.Step())
	require.InDelta(t, 0.1*1, c.Estimate().MX, 1e-12)
}

func TestTargetSwapTakesEffectNextCycle(t *testing.T) {
	c, err := agent.New(testConfig(1, nil, 0.2, 0.1), eventbus.New())
	require.NoError(t, err)
	require.NoError(t, c.Step())
	before := c.VirtualPose()

	c.OnTarget(stats.Statistics{MXX: 1, MYY: 1})
	require.Equal(t, stats.Statistics{MXX: 1, MYY: 1}, c.Target())
	require.NoError(t, c.Step())
	after := c.VirtualPose()
	require.NotEqual(t, before, after)
}

func TestEstimatePublishedEveryCycle(t *testing.T) {
	bus := eventbus.New()
	c, err := agent.New(testConfig(7, nil, 0.1, 0.1), bus)
	require.NoError(t, err)

	var events []*eventbus.Event
	bus.Subscribe(agent.DefaultTopics().Shared, func(_ string, ev *eventbus.Event) {
		events = append(events, ev)
	})

	require.NoError(t, c.Step())
	require.NoError(t, c.Step())
	require.Len(t, events, 2)
	require.Equal(t, eventbus.EVT_ESTIMATE, events[0].Type)
	require.Equal(t, 7, events[0].Estimate.AgentID)
	require.NotZero(t, events[0].Estimate.Timestamp)
}

func TestAccessorsWhileRunning(t *testing.T) {
	cfg := testConfig(1, nil, 0.1, 0.1)
	cfg.SampleTime = 0.002
	cfg.Target = stats.Statistics{MXX: 1, MYY: 1}
	c, err := agent.New(cfg, eventbus.New())
	require.NoError(t, err)

	c.Start()
	deadline := time.Now().Add(50 * time.Millisecond)
	for time.Now().Before(deadline) {
		_ = c.Estimate()
		_ = c.Pose()
		_ = c.VirtualPose()
		_ = c.Target()
	}
	c.Stop()
	require.NoError(t, <-c.Done())
}

// swarm wires n cores over one bus and relays every published estimate to all
// other agents before the next cycle, the way the ground station does.
type swarm struct {
	cores []*agent.Core
	bus   eventbus.Bus

	published []eventbus.Estimate
}

func newSwarm(t *testing.T, positions [][2]float64, target stats.Statistics) *swarm {
	s := &swarm{bus: eventbus.New()}
	n := len(positions)
	for i := 0; i < n; i++ {
		var neighbors []int
		for j := 1; j <= n; j++ {
			if j != i+1 {
				neighbors = append(neighbors, j)
			}
		}
		cfg := testConfig(i+1, neighbors, positions[i][0], positions[i][1])
		cfg.Target = target
		c, err := agent.New(cfg, s.bus)
		require.NoError(t, err)
		s.cores = append(s.cores, c)
	}
	s.bus.Subscribe(agent.DefaultTopics().Shared, func(_ string, ev *eventbus.Event) {
		s.published = append(s.published, *ev.Estimate)
	})
	return s
}

func (s *swarm) cycle(t *testing.T) {
	s.published = nil
	for _, c := range s.cores {
		require.NoError(t, c.Step())
	}
	for i, c := range s.cores {
		var batch []eventbus.Estimate
		for _, e := range s.published {
			if e.AgentID != i+1 {
				batch = append(batch, e)
			}
		}
		c.OnReceived(batch)
	}
}

func maxMomentError(a, b stats.Statistics) float64 {
	m := math.Abs(a.MX - b.MX)
	m = math.Max(m, math.Abs(a.MY-b.MY))
	m = math.Max(m, math.Abs(a.MXX-b.MXX))
	m = math.Max(m, math.Abs(a.MXY-b.MXY))
	m = math.Max(m, math.Abs(a.MYY-b.MYY))
	return m
}

// Three agents on a complete symmetric graph with identical gains must drive
// every estimate onto the commanded moments and hold them there.
func TestEndToEndConvergence(t *testing.T) {
	target := stats.Statistics{MXX: 1, MYY: 1}
	s := newSwarm(t, [][2]float64{{0.5, -0.2}, {-0.4, 0.3}, {0.1, 0.6}}, target)

	for i := 0; i < 600; i++ {
		s.cycle(t)
	}
	for _, c := range s.cores {
		require.Less(t, maxMomentError(c.Estimate(), target), 1e-3)
	}

	// stability: one hundred further cycles, no oscillation growth
	for i := 0; i < 100; i++ {
		s.cycle(t)
		for _, c := range s.cores {
			require.Less(t, maxMomentError(c.Estimate(), target), 1e-3)
		}
	}
}

// Two agents have four position degrees of freedom against five commanded
// moments, so the statistics error freezes on the control law's null space
// with a nonzero residual. Consensus agreement must still hold and the
// residual must stay put. This pins the known limitation rather than hiding
// it behind a passing tolerance.
func TestTwoAgentResidualIsStable(t *testing.T) {
	target := stats.Statistics{MXX: 1, MYY: 1}
	s := newSwarm(t, [][2]float64{{0.5, -0.2}, {-0.4, 0.3}}, target)

	for i := 0; i < 3000; i++ {
		s.cycle(t)
	}
	// estimates agree with each other
	require.Less(t, maxMomentError(s.cores[0].Estimate(), s.cores[1].Estimate()), 1e-9)

	// the residual toward the target is nonzero and frozen
	residual := maxMomentError(s.cores[0].Estimate(), target)
	require.Greater(t, residual, 1e-3)
	for i := 0; i < 100; i++ {
		s.cycle(t)
	}
	require.InDelta(t, residual, maxMomentError(s.cores[0].Estimate(), target), 1e-6)
}
