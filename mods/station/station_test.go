package station

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/flocklab/flockd/mods/eventbus"
	"github.com/flocklab/flockd/mods/stats"
)

func TestRegistryKeepsLatestPerAgent(t *testing.T) {
	s := New(DefaultConfig(), eventbus.New())

	s.OnEstimate(eventbus.Estimate{AgentID: 1, Stats: stats.Statistics{MX: 0.1}})
	s.OnEstimate(eventbus.Estimate{AgentID: 2, Stats: stats.Statistics{MX: 0.2}})
	s.OnEstimate(eventbus.Estimate{AgentID: 1, Stats: stats.Statistics{MX: 0.3}})

	got := s.Estimates()
	require.Len(t, got, 2)
	require.Equal(t, 1, got[0].AgentID)
	require.Equal(t, 0.3, got[0].Stats.MX)
	require.Equal(t, 2, got[1].AgentID)
}

func TestStaleEstimatesExpire(t *testing.T) {
	cfg := DefaultConfig()
	cfg.TTL = 0.02
	s := New(cfg, eventbus.New())

	s.OnEstimate(eventbus.Estimate{AgentID: 1, Stats: stats.Statistics{MX: 0.1}})
	require.Len(t, s.Estimates(), 1)

	time.Sleep(50 * time.Millisecond)
	require.Empty(t, s.Estimates())
}

func TestRebroadcastPublishesBatch(t *testing.T) {
	bus := eventbus.New()
	s := New(DefaultConfig(), bus)

	var batches [][]eventbus.Estimate
	bus.Subscribe(s.cfg.Topics.Received, func(_ string, ev *eventbus.Event) {
		require.Equal(t, eventbus.EVT_RECEIVED, ev.Type)
		batches = append(batches, ev.Received.Batch)
	})

	// empty registry publishes nothing
	s.rebroadcast()
	require.Empty(t, batches)

	s.OnEstimate(eventbus.Estimate{AgentID: 3, Stats: stats.Statistics{MYY: 1}})
	s.rebroadcast()
	require.Len(t, batches, 1)
	require.Equal(t, 3, batches[0][0].AgentID)
}

func TestEstimatesArriveOverTheBus(t *testing.T) {
	bus := eventbus.New()
	s := New(DefaultConfig(), bus)
	s.Start()
	defer s.Stop()

	bus.Publish(s.cfg.Topics.Shared, eventbus.NewEstimate(4, stats.Statistics{MXY: -0.5}))
	got := s.Estimates()
	require.Len(t, got, 1)
	require.Equal(t, 4, got[0].AgentID)
	require.Equal(t, -0.5, got[0].Stats.MXY)
}

func TestCommandTarget(t *testing.T) {
	bus := eventbus.New()
	s := New(DefaultConfig(), bus)

	var targets []stats.Statistics
	bus.Subscribe(s.cfg.Topics.Target, func(_ string, ev *eventbus.Event) {
		targets = append(targets, ev.Target.Stats)
	})

	s.CommandTarget(stats.Statistics{MXX: 1, MYY: 1})
	require.Len(t, targets, 1)
	require.Equal(t, 1.0, targets[0].MXX)
}
