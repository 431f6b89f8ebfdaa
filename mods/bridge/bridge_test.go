package bridge

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/flocklab/flockd/mods/agent"
	"github.com/flocklab/flockd/mods/eventbus"
	"github.com/flocklab/flockd/mods/stats"
)

type fakeTransport struct {
	published map[string][][]byte
	handlers  map[string]func(topic string, payload []byte)
	onConnect func()
}

func newFakeTransport() *fakeTransport {
	return &fakeTransport{
		published: map[string][][]byte{},
		handlers:  map[string]func(string, []byte){},
	}
}

func (f *fakeTransport) OnConnect(cb func()) { f.onConnect = cb; cb() }

func (f *fakeTransport) Publish(topic string, payload []byte) (bool, error) {
	f.published[topic] = append(f.published[topic], payload)
	return true, nil
}

func (f *fakeTransport) Subscribe(topic string, _ byte, cb func(string, []byte)) (*MqttSubscription, error) {
	f.handlers[topic] = cb
	return nil, nil
}

func (f *fakeTransport) deliver(t *testing.T, topic string, ev *eventbus.Event) {
	payload, err := json.Marshal(ev)
	require.NoError(t, err)
	require.NotNil(t, f.handlers[topic])
	f.handlers[topic](topic, payload)
}

func TestLinkForwardsEstimates(t *testing.T) {
	bus := eventbus.New()
	tr := newFakeTransport()
	link := NewLink(tr, bus, agent.DefaultTopics())
	link.Start()
	defer link.Stop()

	bus.Publish(agent.DefaultTopics().Shared, eventbus.NewEstimate(3, stats.Statistics{MX: 0.25}))

	wire := tr.published[agent.DefaultTopics().Shared]
	require.Len(t, wire, 1)
	got := &eventbus.Event{}
	require.NoError(t, json.Unmarshal(wire[0], got))
	require.Equal(t, eventbus.EVT_ESTIMATE, got.Type)
	require.Equal(t, 3, got.Estimate.AgentID)
	require.Equal(t, 0.25, got.Estimate.Stats.MX)
}

func TestLinkForwardsPoses(t *testing.T) {
	bus := eventbus.New()
	tr := newFakeTransport()
	link := NewLink(tr, bus, agent.DefaultTopics())
	link.Start()
	defer link.Stop()

	bus.Publish(agent.DefaultTopics().Poses, eventbus.NewPose(3, true, 1, 2, 0.5))
	require.Len(t, tr.published[agent.DefaultTopics().Poses], 1)
}

func TestLinkDeliversReceivedAndTarget(t *testing.T) {
	bus := eventbus.New()
	tr := newFakeTransport()
	link := NewLink(tr, bus, agent.DefaultTopics())
	link.Start()
	defer link.Stop()

	var gotBatches [][]eventbus.Estimate
	bus.Subscribe(agent.DefaultTopics().Received, func(_ string, ev *eventbus.Event) {
		gotBatches = append(gotBatches, ev.Received.Batch)
	})
	var gotTargets []stats.Statistics
	bus.Subscribe(agent.DefaultTopics().Target, func(_ string, ev *eventbus.Event) {
		gotTargets = append(gotTargets, ev.Target.Stats)
	})

	tr.deliver(t, agent.DefaultTopics().Received, &eventbus.Event{
		Type: eventbus.EVT_RECEIVED,
		Received: &eventbus.Received{Batch: []eventbus.Estimate{
			{AgentID: 2, Stats: stats.Statistics{MY: -1}},
		}},
	})
	tr.deliver(t, agent.DefaultTopics().Target, &eventbus.Event{
		Type:   eventbus.EVT_TARGET,
		Target: &eventbus.Target{Stats: stats.Statistics{MXX: 1, MYY: 1}},
	})

	require.Len(t, gotBatches, 1)
	require.Equal(t, 2, gotBatches[0][0].AgentID)
	require.Equal(t, -1.0, gotBatches[0][0].Stats.MY)
	require.Len(t, gotTargets, 1)
	require.Equal(t, 1.0, gotTargets[0].MXX)
}

func TestStationLinkMirrorsDirections(t *testing.T) {
	bus := eventbus.New()
	tr := newFakeTransport()
	link := NewStationLink(tr, bus, agent.DefaultTopics())
	link.Start()
	defer link.Stop()

	// wire estimate lands on the bus
	var estimates []*eventbus.Estimate
	bus.Subscribe(agent.DefaultTopics().Shared, func(_ string, ev *eventbus.Event) {
		estimates = append(estimates, ev.Estimate)
	})
	tr.deliver(t, agent.DefaultTopics().Shared, eventbus.NewEstimate(7, stats.Statistics{MXX: 0.5}))
	require.Len(t, estimates, 1)
	require.Equal(t, 7, estimates[0].AgentID)

	// bus target goes out to the wire
	bus.Publish(agent.DefaultTopics().Target, eventbus.NewTarget(stats.Statistics{MYY: 1}))
	require.Len(t, tr.published[agent.DefaultTopics().Target], 1)
}

func TestLinkIgnoresMalformedPayload(t *testing.T) {
	bus := eventbus.New()
	tr := newFakeTransport()
	link := NewLink(tr, bus, agent.DefaultTopics())
	link.Start()
	defer link.Stop()

	delivered := 0
	bus.Subscribe(agent.DefaultTopics().Target, func(string, *eventbus.Event) { delivered++ })

	tr.handlers[agent.DefaultTopics().Target](agent.DefaultTopics().Target, []byte("not json"))
	// wrong event type on the target topic is dropped too
	tr.deliver(t, agent.DefaultTopics().Target, eventbus.NewEstimate(1, stats.Statistics{}))
	require.Equal(t, 0, delivered)
}
