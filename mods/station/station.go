// Package station implements the ground-station side of the swarm. It keeps
// a registry of every agent's latest estimate with a staleness TTL and
// periodically rebroadcasts the batch on the received-statistics topic, which
// is what closes the consensus loop between agents. It also pushes commanded
// target statistics.
package station

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/jellydator/ttlcache/v3"

	"github.com/flocklab/flockd/mods/agent"
	"github.com/flocklab/flockd/mods/eventbus"
	"github.com/flocklab/flockd/mods/logging"
	"github.com/flocklab/flockd/mods/stats"
)

type Config struct {
	// SampleTime is the rebroadcast period in seconds.
	SampleTime float64 `yaml:"sampleTime"`
	// TTL is how long an agent's estimate stays in the registry without a
	// refresh, in seconds.
	TTL float64 `yaml:"ttl"`

	Topics agent.Topics `yaml:"topics"`

	Broker BrokerConfig `yaml:"broker"`
}

func DefaultConfig() Config {
	return Config{
		SampleTime: 0.1,
		TTL:        2.0,
		Topics:     agent.DefaultTopics(),
		Broker:     DefaultBrokerConfig(),
	}
}

type Station struct {
	log logging.Log
	cfg Config
	bus eventbus.Bus

	registry *ttlcache.Cache[int, eventbus.Estimate]

	subs   []*eventbus.Subscription
	stopCh chan struct{}
	wg     sync.WaitGroup
}

func New(cfg Config, bus eventbus.Bus) *Station {
	s := &Station{
		log:    logging.GetLog("station"),
		cfg:    cfg,
		bus:    bus,
		stopCh: make(chan struct{}),
	}
	s.registry = ttlcache.New(
		ttlcache.WithTTL[int, eventbus.Estimate](time.Duration(cfg.TTL * float64(time.Second))),
	)
	s.registry.OnEviction(func(_ context.Context, reason ttlcache.EvictionReason, item *ttlcache.Item[int, eventbus.Estimate]) {
		if reason == ttlcache.EvictionReasonExpired {
			s.log.Warnf("agent %d estimate expired", item.Key())
		}
	})
	return s
}

// Start attaches the registry to the shared-statistics topic and begins the
// rebroadcast loop.
func (s *Station) Start() {
	s.subs = append(s.subs,
		s.bus.Subscribe(s.cfg.Topics.Shared, func(_ string, ev *eventbus.Event) {
			if ev.Type == eventbus.EVT_ESTIMATE && ev.Estimate != nil {
				s.OnEstimate(*ev.Estimate)
			}
		}),
	)
	go s.registry.Start()

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ticker := time.NewTicker(time.Duration(s.cfg.SampleTime * float64(time.Second)))
		defer ticker.Stop()
		for {
			select {
			case <-s.stopCh:
				return
			case <-ticker.C:
				s.rebroadcast()
			}
		}
	}()
	s.log.Infof("started, rebroadcast every %.3fs, estimate ttl %.1fs", s.cfg.SampleTime, s.cfg.TTL)
}

func (s *Station) Stop() {
	close(s.stopCh)
	s.wg.Wait()
	s.registry.Stop()
	for _, sub := range s.subs {
		sub.Unsubscribe()
	}
	s.subs = nil
	s.log.Info("stopped")
}

// OnEstimate refreshes one agent's registry entry.
func (s *Station) OnEstimate(e eventbus.Estimate) {
	s.registry.Set(e.AgentID, e, ttlcache.DefaultTTL)
	s.log.Debugf("estimate from agent %d", e.AgentID)
}

// Estimates returns the current registry content. Expired entries are
// dropped first.
func (s *Station) Estimates() []eventbus.Estimate {
	s.registry.DeleteExpired()
	var out []eventbus.Estimate
	for _, item := range s.registry.Items() {
		out = append(out, item.Value())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].AgentID < out[j].AgentID })
	return out
}

// rebroadcast publishes the full batch of live estimates. Every agent
// receives the batch and filters out its own entry.
func (s *Station) rebroadcast() {
	batch := s.Estimates()
	if len(batch) == 0 {
		return
	}
	s.bus.Publish(s.cfg.Topics.Received, eventbus.NewReceived(batch))
	s.log.Tracef("rebroadcast %d estimates", len(batch))
}

// CommandTarget pushes a new commanded statistics target to the swarm.
func (s *Station) CommandTarget(target stats.Statistics) {
	s.bus.Publish(s.cfg.Topics.Target, eventbus.NewTarget(target))
	s.log.Info("target statistics has been changed")
}
