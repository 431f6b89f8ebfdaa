package packet

import (
	"fmt"
	"time"

	"go.bug.st/serial"

	"github.com/flocklab/flockd/mods/agent"
	"github.com/flocklab/flockd/mods/eventbus"
	"github.com/flocklab/flockd/mods/logging"
	"github.com/flocklab/flockd/mods/stats"
)

// DriverConfig configures the serial link to the vehicle controller.
type DriverConfig struct {
	Port         string  `yaml:"port"`
	BaudRate     int     `yaml:"baudRate"`
	SampleTime   float64 `yaml:"sampleTime"`
	Timeout      float64 `yaml:"timeout"`
	BufferLength int     `yaml:"bufferLength"`

	Topics agent.Topics `yaml:"topics"`
}

func DefaultDriverConfig() DriverConfig {
	return DriverConfig{
		Port:         "/dev/ttyUSB0",
		BaudRate:     57600,
		SampleTime:   0.1,
		Timeout:      10.0,
		BufferLength: 256,
		Topics:       agent.DefaultTopics(),
	}
}

// serialPort is the slice of serial.Port the driver uses.
type serialPort interface {
	Read(p []byte) (int, error)
	Write(p []byte) (int, error)
	SetReadTimeout(t time.Duration) error
	Close() error
}

// Driver owns the serial port. Decoded Agent packets become estimate and
// pose events on the bus; Received and Target events on the bus are framed
// and written back to the port. A silence longer than the configured timeout
// is fatal, the vehicle controller is assumed gone.
type Driver struct {
	log logging.Log
	cfg DriverConfig
	bus eventbus.Bus

	port    serialPort
	decoder Decoder

	lastPacket time.Time

	subs   []*eventbus.Subscription
	stopCh chan struct{}
	doneCh chan error
}

func NewDriver(cfg DriverConfig, bus eventbus.Bus) *Driver {
	return &Driver{
		log:    logging.GetLog("serial"),
		cfg:    cfg,
		bus:    bus,
		stopCh: make(chan struct{}),
		doneCh: make(chan error, 1),
	}
}

// Start opens the port and begins the periodic read loop.
func (d *Driver) Start() error {
	if d.port == nil {
		port, err := serial.Open(d.cfg.Port, &serial.Mode{BaudRate: d.cfg.BaudRate})
		if err != nil {
			if ports, perr := serial.GetPortsList(); perr == nil {
				d.log.Warnf("available ports: %v", ports)
			}
			return fmt.Errorf("open %s: %w", d.cfg.Port, err)
		}
		d.port = port
	}
	if err := d.port.SetReadTimeout(10 * time.Millisecond); err != nil {
		return err
	}

	d.subs = append(d.subs,
		d.bus.Subscribe(d.cfg.Topics.Received, func(_ string, ev *eventbus.Event) {
			if ev.Type == eventbus.EVT_RECEIVED && ev.Received != nil {
				d.sendReceived(ev.Received.Batch)
			}
		}),
		d.bus.Subscribe(d.cfg.Topics.Target, func(_ string, ev *eventbus.Event) {
			if ev.Type == eventbus.EVT_TARGET && ev.Target != nil {
				d.sendTarget(ev.Target.Stats)
			}
		}),
	)

	d.lastPacket = time.Now()
	go d.run()
	d.log.Infof("started on %s at %d baud", d.cfg.Port, d.cfg.BaudRate)
	return nil
}

func (d *Driver) Stop() {
	close(d.stopCh)
	for _, s := range d.subs {
		s.Unsubscribe()
	}
	d.subs = nil
	if d.port != nil {
		d.port.Close()
	}
	d.log.Info("stopped")
}

// Done reports loop termination; a non-nil error means the link timed out.
func (d *Driver) Done() <-chan error {
	return d.doneCh
}

func (d *Driver) run() {
	ticker := time.NewTicker(time.Duration(d.cfg.SampleTime * float64(time.Second)))
	defer ticker.Stop()
	for {
		select {
		case <-d.stopCh:
			d.doneCh <- nil
			return
		case <-ticker.C:
			if silence := time.Since(d.lastPacket); silence > time.Duration(d.cfg.Timeout*float64(time.Second)) {
				err := fmt.Errorf("serial timeout, last packet received %s ago", silence.Round(time.Millisecond))
				d.log.Errorf("%v", err)
				d.doneCh <- err
				return
			}
			d.receive()
		}
	}
}

// receive drains the port and feeds the decoder byte by byte.
func (d *Driver) receive() {
	buf := make([]byte, d.cfg.BufferLength)
	for {
		n, err := d.port.Read(buf)
		if err != nil {
			d.log.Warnf("read: %v", err)
			return
		}
		if n == 0 {
			return
		}
		d.log.Debugf("received %d bytes", n)
		for _, b := range buf[:n] {
			frame, err := d.decoder.Feed(b)
			if err != nil {
				d.log.Warnf("decode: %v", err)
				continue
			}
			if frame != nil {
				d.handleFrame(frame)
			}
		}
	}
}

func (d *Driver) handleFrame(f *Frame) {
	if f.Header != HdrAgent {
		d.log.Warnf("unexpected packet header 0x%02x", f.Header)
		return
	}
	p, err := DecodeAgent(f.Payload)
	if err != nil {
		d.log.Warnf("%v", err)
		return
	}
	d.lastPacket = time.Now()

	d.bus.Publish(d.cfg.Topics.Shared, eventbus.NewEstimate(p.AgentID, p.Stats))
	d.bus.Publish(d.cfg.Topics.Poses, eventbus.NewPose(p.AgentID, false, p.Pose.X, p.Pose.Y, p.Pose.Theta))
	d.bus.Publish(d.cfg.Topics.Poses, eventbus.NewPose(p.AgentID, true, p.VirtualPose.X, p.VirtualPose.Y, p.VirtualPose.Theta))
	d.log.Debugf("received data from agent %d", p.AgentID)
}

// sendReceived aggregates the batch before framing. The vehicle controller
// works on the sum and the count only.
func (d *Driver) sendReceived(batch []eventbus.Estimate) {
	p := Received{Count: len(batch)}
	for _, e := range batch {
		p.Sum.MX += e.Stats.MX
		p.Sum.MY += e.Stats.MY
		p.Sum.MXX += e.Stats.MXX
		p.Sum.MXY += e.Stats.MXY
		p.Sum.MYY += e.Stats.MYY
	}
	d.write(EncodeReceived(p))
	d.log.Debugf("received statistics from %d other agents", len(batch))
}

func (d *Driver) sendTarget(s stats.Statistics) {
	d.write(EncodeTarget(Target{Stats: s}))
	d.log.Info("target statistics has been changed")
}

func (d *Driver) write(frame []byte) {
	n, err := d.port.Write(frame)
	if err != nil {
		d.log.Warnf("write: %v", err)
		return
	}
	d.log.Debugf("sent %d bytes", n)
}
