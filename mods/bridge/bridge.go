package bridge

import (
	"encoding/json"

	"github.com/flocklab/flockd/mods/agent"
	"github.com/flocklab/flockd/mods/eventbus"
	"github.com/flocklab/flockd/mods/logging"
)

// Transport is the wire client the link forwards through. *Mqtt implements
// it; tests substitute an in-memory one.
type Transport interface {
	OnConnect(cb func())
	Publish(topic string, payload []byte) (bool, error)
	Subscribe(topic string, qos byte, cb func(topic string, payload []byte)) (*MqttSubscription, error)
}

// Link is the agent-side adapter. Estimates and poses published on the bus
// go out to the wire; received-statistics batches and target commands coming
// in from the wire are published on the bus. The wire payload is the JSON
// encoding of the event.
type Link struct {
	log    logging.Log
	tr     Transport
	bus    eventbus.Bus
	topics agent.Topics

	busSubs  []*eventbus.Subscription
	wireSubs []*MqttSubscription
}

func NewLink(tr Transport, bus eventbus.Bus, topics agent.Topics) *Link {
	return &Link{
		log:    logging.GetLog("link"),
		tr:     tr,
		bus:    bus,
		topics: topics,
	}
}

// Start attaches the link on both sides. Wire subscriptions are installed on
// every connect since a clean session drops them.
func (l *Link) Start() {
	l.busSubs = append(l.busSubs,
		l.bus.Subscribe(l.topics.Shared, func(topic string, ev *eventbus.Event) {
			l.forward(topic, ev)
		}),
		l.bus.Subscribe(l.topics.Poses, func(topic string, ev *eventbus.Event) {
			l.forward(topic, ev)
		}),
	)
	l.tr.OnConnect(func() {
		l.subscribeWire()
	})
}

func (l *Link) Stop() {
	for _, s := range l.busSubs {
		s.Unsubscribe()
	}
	l.busSubs = nil
	for _, s := range l.wireSubs {
		if s != nil {
			if err := s.Unsubscribe(); err != nil {
				l.log.Debugf("unsubscribe: %v", err)
			}
		}
	}
	l.wireSubs = nil
}

func (l *Link) forward(topic string, ev *eventbus.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		l.log.Warnf("encode %s: %v", topic, err)
		return
	}
	if ok, err := l.tr.Publish(topic, payload); err != nil {
		l.log.Warnf("publish %s: %v", topic, err)
	} else if !ok {
		l.log.Warnf("publish %s timed out", topic)
	}
}

func (l *Link) subscribeWire() {
	l.wireSubs = nil
	if sub, err := l.tr.Subscribe(l.topics.Received, 1, l.onWire); err != nil {
		l.log.Warnf("subscribe %s: %v", l.topics.Received, err)
	} else {
		l.wireSubs = append(l.wireSubs, sub)
	}
	if sub, err := l.tr.Subscribe(l.topics.Target, 1, l.onWire); err != nil {
		l.log.Warnf("subscribe %s: %v", l.topics.Target, err)
	} else {
		l.wireSubs = append(l.wireSubs, sub)
	}
}

func (l *Link) onWire(topic string, payload []byte) {
	ev := &eventbus.Event{}
	if err := json.Unmarshal(payload, ev); err != nil {
		l.log.Warnf("decode %s: %v", topic, err)
		return
	}
	switch {
	case ev.Type == eventbus.EVT_RECEIVED && ev.Received != nil:
		l.bus.Publish(l.topics.Received, ev)
	case ev.Type == eventbus.EVT_TARGET && ev.Target != nil:
		l.bus.Publish(l.topics.Target, ev)
	default:
		l.log.Warnf("unexpected event %q on %s", ev.Type, topic)
	}
}

// StationLink is the ground-station-side adapter, the mirror of Link: agent
// estimates and poses come in from the wire, received batches and target
// commands go out.
type StationLink struct {
	log    logging.Log
	tr     Transport
	bus    eventbus.Bus
	topics agent.Topics

	busSubs  []*eventbus.Subscription
	wireSubs []*MqttSubscription
}

func NewStationLink(tr Transport, bus eventbus.Bus, topics agent.Topics) *StationLink {
	return &StationLink{
		log:    logging.GetLog("station-link"),
		tr:     tr,
		bus:    bus,
		topics: topics,
	}
}

func (l *StationLink) Start() {
	l.busSubs = append(l.busSubs,
		l.bus.Subscribe(l.topics.Received, func(topic string, ev *eventbus.Event) {
			l.forward(topic, ev)
		}),
		l.bus.Subscribe(l.topics.Target, func(topic string, ev *eventbus.Event) {
			l.forward(topic, ev)
		}),
	)
	l.tr.OnConnect(func() {
		l.subscribeWire()
	})
}

func (l *StationLink) Stop() {
	for _, s := range l.busSubs {
		s.Unsubscribe()
	}
	l.busSubs = nil
	for _, s := range l.wireSubs {
		if s != nil {
			if err := s.Unsubscribe(); err != nil {
				l.log.Debugf("unsubscribe: %v", err)
			}
		}
	}
	l.wireSubs = nil
}

func (l *StationLink) forward(topic string, ev *eventbus.Event) {
	payload, err := json.Marshal(ev)
	if err != nil {
		l.log.Warnf("encode %s: %v", topic, err)
		return
	}
	if ok, err := l.tr.Publish(topic, payload); err != nil {
		l.log.Warnf("publish %s: %v", topic, err)
	} else if !ok {
		l.log.Warnf("publish %s timed out", topic)
	}
}

func (l *StationLink) subscribeWire() {
	l.wireSubs = nil
	if sub, err := l.tr.Subscribe(l.topics.Shared, 1, l.onWire); err != nil {
		l.log.Warnf("subscribe %s: %v", l.topics.Shared, err)
	} else {
		l.wireSubs = append(l.wireSubs, sub)
	}
	if sub, err := l.tr.Subscribe(l.topics.Poses, 1, l.onWire); err != nil {
		l.log.Warnf("subscribe %s: %v", l.topics.Poses, err)
	} else {
		l.wireSubs = append(l.wireSubs, sub)
	}
}

func (l *StationLink) onWire(topic string, payload []byte) {
	ev := &eventbus.Event{}
	if err := json.Unmarshal(payload, ev); err != nil {
		l.log.Warnf("decode %s: %v", topic, err)
		return
	}
	switch {
	case ev.Type == eventbus.EVT_ESTIMATE && ev.Estimate != nil:
		l.bus.Publish(l.topics.Shared, ev)
	case ev.Type == eventbus.EVT_POSE && ev.Pose != nil:
		l.bus.Publish(l.topics.Poses, ev)
	default:
		l.log.Warnf("unexpected event %q on %s", ev.Type, topic)
	}
}
