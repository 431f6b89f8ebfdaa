// Package eventbus is the in-process publish/subscribe fabric between the
// agent core and its transports. Payloads are typed; the Event struct is a
// tagged union so a single subscription callback can switch on the type.
package eventbus

import (
	"sync"
	"time"

	"github.com/flocklab/flockd/mods/stats"
)

var Default Bus

func init() {
	Default = New()
}

const (
	EVT_ESTIMATE = "estimate" // agent -> transports
	EVT_RECEIVED = "received" // transports -> agent
	EVT_TARGET   = "target"   // transports -> agent
	EVT_POSE     = "pose"     // agent -> transports
)

type Event struct {
	Type     string    `json:"type"`
	Estimate *Estimate `json:"estimate,omitempty"`
	Received *Received `json:"received,omitempty"`
	Target   *Target   `json:"target,omitempty"`
	Pose     *Pose     `json:"pose,omitempty"`
}

// Estimate is one agent's stamped statistics estimate.
type Estimate struct {
	AgentID   int              `json:"agent_id"`
	Timestamp int64            `json:"timestamp"`
	Stats     stats.Statistics `json:"stats"`
}

// Received is a batch of other agents' estimates delivered to one agent.
type Received struct {
	Batch []Estimate `json:"batch"`
}

// Target is a commanded statistics target.
type Target struct {
	Stats stats.Statistics `json:"stats"`
}

// Pose is a stamped pose report, real or virtual.
type Pose struct {
	AgentID   int     `json:"agent_id"`
	Virtual   bool    `json:"virtual,omitempty"`
	Timestamp int64   `json:"timestamp"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Theta     float64 `json:"theta"`
}

func NewEstimate(agentID int, s stats.Statistics) *Event {
	return &Event{
		Type: EVT_ESTIMATE,
		Estimate: &Estimate{
			AgentID:   agentID,
			Timestamp: time.Now().UnixNano(),
			Stats:     s,
		},
	}
}

func NewReceived(batch []Estimate) *Event {
	return &Event{
		Type:     EVT_RECEIVED,
		Received: &Received{Batch: batch},
	}
}

func NewTarget(s stats.Statistics) *Event {
	return &Event{
		Type:   EVT_TARGET,
		Target: &Target{Stats: s},
	}
}

func NewPose(agentID int, virtual bool, x, y, theta float64) *Event {
	return &Event{
		Type: EVT_POSE,
		Pose: &Pose{
			AgentID:   agentID,
			Virtual:   virtual,
			Timestamp: time.Now().UnixNano(),
			X:         x,
			Y:         y,
			Theta:     theta,
		},
	}
}

// Handler receives every event published to a subscribed topic. Dispatch is
// synchronous in the publisher's goroutine.
type Handler func(topic string, ev *Event)

type Bus interface {
	Subscribe(topic string, h Handler) *Subscription
	Publish(topic string, ev *Event)
}

func New() Bus {
	return &bus{subs: make(map[string][]*Subscription)}
}

type Subscription struct {
	bus     *bus
	topic   string
	handler Handler
}

func (s *Subscription) Unsubscribe() {
	s.bus.unsubscribe(s)
}

type bus struct {
	mu   sync.RWMutex
	subs map[string][]*Subscription
}

func (b *bus) Subscribe(topic string, h Handler) *Subscription {
	sub := &Subscription{bus: b, topic: topic, handler: h}
	b.mu.Lock()
	b.subs[topic] = append(b.subs[topic], sub)
	b.mu.Unlock()
	return sub
}

func (b *bus) Publish(topic string, ev *Event) {
	b.mu.RLock()
	subs := b.subs[topic]
	b.mu.RUnlock()
	for _, s := range subs {
		s.handler(topic, ev)
	}
}

// unsubscribe swaps in a fresh slice instead of compacting in place; Publish
// iterates slice headers after releasing the lock, so a published-against
// backing array must never be mutated.
func (b *bus) unsubscribe(sub *Subscription) {
	b.mu.Lock()
	defer b.mu.Unlock()
	list := b.subs[sub.topic]
	for i, s := range list {
		if s == sub {
			next := make([]*Subscription, 0, len(list)-1)
			next = append(next, list[:i]...)
			next = append(next, list[i+1:]...)
			b.subs[sub.topic] = next
			return
		}
	}
}
