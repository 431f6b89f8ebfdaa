// Package agent runs the onboard control pipeline of one formation agent:
// consensus estimation, statistics-error control, line-of-sight guidance and
// kinematic integration, executed in order on every sample tick.
package agent

import (
	"fmt"
	"sync"
	"time"

	"github.com/flocklab/flockd/mods/consensus"
	"github.com/flocklab/flockd/mods/control"
	"github.com/flocklab/flockd/mods/eventbus"
	"github.com/flocklab/flockd/mods/guidance"
	"github.com/flocklab/flockd/mods/logging"
	"github.com/flocklab/flockd/mods/nums"
	"github.com/flocklab/flockd/mods/stats"
	"github.com/flocklab/flockd/mods/vehicle"
)

// Core owns the full per-agent state. Pipeline state is mutated only by
// Step, under the same mutex that guards the received buffer and the target,
// so the accessors are safe against a running loop. Bus publishes happen
// outside the lock.
type Core struct {
	log logging.Log
	cfg Config
	bus eventbus.Bus

	estimator *consensus.Estimator
	law       *control.Law
	guide     *guidance.Law
	model     vehicle.Unicycle

	pose         nums.Pose
	twist        nums.Twist
	poseVirtual  nums.Pose
	twistVirtual nums.Twist

	neighbors map[int]struct{}

	mu       sync.Mutex
	received []stats.Statistics
	target   stats.Statistics

	subs   []*eventbus.Subscription
	stopCh chan struct{}
	doneCh chan error
	wg     sync.WaitGroup
}

// New builds a Core from an immutable configuration. Gain dimension faults
// surface here; a singular control matrix surfaces on the first Step.
func New(cfg Config, bus eventbus.Bus) (*Core, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	law, err := control.New(cfg.Control)
	if err != nil {
		return nil, err
	}

	pose := nums.RandomPose(cfg.WorldLimit)
	if cfg.X != nil {
		pose.X = *cfg.X
	}
	if cfg.Y != nil {
		pose.Y = *cfg.Y
	}
	if cfg.Theta != nil {
		pose.Theta = *cfg.Theta
	}

	neighbors := make(map[int]struct{}, len(cfg.Neighbors))
	for _, id := range cfg.Neighbors {
		neighbors[id] = struct{}{}
	}

	c := &Core{
		log:       logging.GetLog(fmt.Sprintf("agent-%d", cfg.AgentID)),
		cfg:       cfg,
		bus:       bus,
		estimator: consensus.New(stats.Statistics{}),
		law:       law,
		guide:     guidance.New(cfg.Guidance),
		model:     vehicle.Unicycle{Length: cfg.VehicleLength},
		pose:      pose,
		// the virtual agent starts on top of the real one
		poseVirtual: pose,
		neighbors:   neighbors,
		target:      cfg.Target,
		stopCh:      make(chan struct{}),
		doneCh:      make(chan error, 1),
	}
	return c, nil
}

// OnReceived buffers a batch of neighbor estimates for the next consensus
// step. Estimates from agents outside the neighbor set are discarded.
// If the previous batch was never drained it is dropped with a warning and
// only the latest delivery is kept.
func (c *Core) OnReceived(batch []eventbus.Estimate) {
	kept := make([]stats.Statistics, 0, len(batch))
	for _, e := range batch {
		if e.AgentID == c.cfg.AgentID {
			continue
		}
		if _, ok := c.neighbors[e.AgentID]; !ok {
			c.log.Debugf("discarding statistics from unknown agent %d", e.AgentID)
			continue
		}
		kept = append(kept, e.Stats)
	}

	c.mu.Lock()
	if len(c.received) > 0 {
		c.log.Warn("last received statistics has not been used")
	}
	c.received = kept
	c.mu.Unlock()

	c.log.Debugf("received statistics from %d agents", len(kept))
}

// OnTarget replaces the commanded target, effective from the next cycle.
func (c *Core) OnTarget(s stats.Statistics) {
	c.mu.Lock()
	c.target = s
	c.mu.Unlock()
	c.log.Info("target statistics has been changed")
}

// Step runs one full pipeline cycle. Every stage completes before the method
// returns; a non-nil error means the control law configuration is unusable
// and the loop must not continue.
func (c *Core) Step() error {
	dt := c.cfg.SampleTime

	c.mu.Lock()
	batch := c.received
	c.received = nil
	target := c.target

	estimated := c.estimator.Update(dt, c.poseVirtual, c.twistVirtual, batch)

	twistVirtual, poseVirtual, err := c.law.Update(dt, estimated, target, c.poseVirtual, c.twistVirtual)
	var pose, virtual nums.Pose
	var cmd guidance.Command
	if err == nil {
		c.twistVirtual = twistVirtual
		c.poseVirtual = poseVirtual
		cmd = c.guide.Update(dt, c.pose, c.twist, c.poseVirtual)
		c.pose, c.twist = c.model.Integrate(dt, c.pose, c.twist, cmd.Speed, cmd.Steer)
		pose, virtual = c.pose, c.poseVirtual
	}
	c.mu.Unlock()

	c.bus.Publish(c.cfg.Topics.Shared, eventbus.NewEstimate(c.cfg.AgentID, estimated))
	if err != nil {
		c.log.Errorf("control law failed: %v", err)
		return err
	}

	if c.log.TraceEnabled() {
		c.log.Tracef("pose (%.3f, %.3f, %.3f) virtual (%.3f, %.3f) cmd (%.3f, %.3f)",
			pose.X, pose.Y, pose.Theta, virtual.X, virtual.Y, cmd.Speed, cmd.Steer)
	}
	return nil
}

// Start subscribes the core to its input topics and begins the periodic
// pipeline. The loop runs until Stop or until a fatal control error.
func (c *Core) Start() {
	c.subs = append(c.subs,
		c.bus.Subscribe(c.cfg.Topics.Received, func(_ string, ev *eventbus.Event) {
			if ev.Type == eventbus.EVT_RECEIVED && ev.Received != nil {
				c.OnReceived(ev.Received.Batch)
			}
		}),
		c.bus.Subscribe(c.cfg.Topics.Target, func(_ string, ev *eventbus.Event) {
			if ev.Type == eventbus.EVT_TARGET && ev.Target != nil {
				c.OnTarget(ev.Target.Stats)
			}
		}),
	)

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ticker := time.NewTicker(time.Duration(c.cfg.SampleTime * float64(time.Second)))
		defer ticker.Stop()
		for {
			select {
			case <-c.stopCh:
				c.doneCh <- nil
				return
			case <-ticker.C:
				if err := c.Step(); err != nil {
					c.doneCh <- err
					return
				}
				c.publishPoses()
			}
		}
	}()
	c.log.Infof("started, sample time %.3fs, %d neighbors", c.cfg.SampleTime, len(c.neighbors))
}

// Stop terminates the periodic loop and detaches from the bus.
func (c *Core) Stop() {
	close(c.stopCh)
	c.wg.Wait()
	for _, s := range c.subs {
		s.Unsubscribe()
	}
	c.subs = nil
	c.log.Info("stopped")
}

// Done reports loop termination; a non-nil error is a fatal control fault.
func (c *Core) Done() <-chan error {
	return c.doneCh
}

func (c *Core) publishPoses() {
	c.mu.Lock()
	pose, virtual := c.pose, c.poseVirtual
	c.mu.Unlock()
	c.bus.Publish(c.cfg.Topics.Poses, eventbus.NewPose(c.cfg.AgentID, false, pose.X, pose.Y, pose.Theta))
	c.bus.Publish(c.cfg.Topics.Poses, eventbus.NewPose(c.cfg.AgentID, true, virtual.X, virtual.Y, virtual.Theta))
}

// Estimate returns the current statistics belief.
func (c *Core) Estimate() stats.Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.estimator.Estimate()
}

// Target returns the currently commanded statistics.
func (c *Core) Target() stats.Statistics {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.target
}

// Pose returns the real agent's pose.
func (c *Core) Pose() nums.Pose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.pose
}

// VirtualPose returns the virtual agent's pose.
func (c *Core) VirtualPose() nums.Pose {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.poseVirtual
}
