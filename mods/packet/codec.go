// Package packet implements the byte protocol of the microcontroller serial
// link and a driver that moves decoded packets onto the event bus.
//
// Frame layout:
//
//	STX | header | length | payload... | checksum | ETX
//
// where length counts payload bytes only and checksum is the XOR of header,
// length and payload. Payload scalars are little-endian float32.
package packet

import (
	"encoding/binary"
	"fmt"
	"math"

	"github.com/flocklab/flockd/mods/nums"
	"github.com/flocklab/flockd/mods/stats"
)

const (
	STX byte = 0x02
	ETX byte = 0x03

	HdrAgent    byte = 0x01
	HdrTarget   byte = 0x02
	HdrReceived byte = 0x03
)

const (
	agentPayloadLen    = 1 + 11*4 // id + stats(5) + pose(3) + virtual pose(3)
	targetPayloadLen   = 5 * 4
	receivedPayloadLen = 5*4 + 1 // summed stats + agent count
)

// Agent is the inbound report from the vehicle controller.
type Agent struct {
	AgentID     int
	Stats       stats.Statistics
	Pose        nums.Pose
	VirtualPose nums.Pose
}

// Target is the outbound commanded statistics.
type Target struct {
	Stats stats.Statistics
}

// Received is the outbound aggregate of the other agents' estimates. The
// vehicle controller consumes the sum and the count, not the individual
// entries.
type Received struct {
	Sum   stats.Statistics
	Count int
}

type payloadWriter struct {
	buf []byte
}

func (w *payloadWriter) putByte(b byte) {
	w.buf = append(w.buf, b)
}

func (w *payloadWriter) putFloat(v float64) {
	w.buf = binary.LittleEndian.AppendUint32(w.buf, math.Float32bits(float32(v)))
}

func (w *payloadWriter) putStats(s stats.Statistics) {
	w.putFloat(s.MX)
	w.putFloat(s.MY)
	w.putFloat(s.MXX)
	w.putFloat(s.MXY)
	w.putFloat(s.MYY)
}

type payloadReader struct {
	buf []byte
	off int
}

func (r *payloadReader) getByte() byte {
	b := r.buf[r.off]
	r.off++
	return b
}

func (r *payloadReader) getFloat() float64 {
	v := math.Float32frombits(binary.LittleEndian.Uint32(r.buf[r.off:]))
	r.off += 4
	return float64(v)
}

func (r *payloadReader) getStats() stats.Statistics {
	return stats.Statistics{
		MX:  r.getFloat(),
		MY:  r.getFloat(),
		MXX: r.getFloat(),
		MXY: r.getFloat(),
		MYY: r.getFloat(),
	}
}

func frame(header byte, payload []byte) []byte {
	out := make([]byte, 0, len(payload)+5)
	out = append(out, STX, header, byte(len(payload)))
	out = append(out, payload...)
	sum := header ^ byte(len(payload))
	for _, b := range payload {
		sum ^= b
	}
	return append(out, sum, ETX)
}

// EncodeAgent frames an agent report, id truncated to one byte like the
// vehicle controller sends it.
func EncodeAgent(p Agent) []byte {
	w := &payloadWriter{}
	w.putByte(byte(p.AgentID))
	w.putStats(p.Stats)
	w.putFloat(p.Pose.X)
	w.putFloat(p.Pose.Y)
	w.putFloat(p.Pose.Theta)
	w.putFloat(p.VirtualPose.X)
	w.putFloat(p.VirtualPose.Y)
	w.putFloat(p.VirtualPose.Theta)
	return frame(HdrAgent, w.buf)
}

func EncodeTarget(p Target) []byte {
	w := &payloadWriter{}
	w.putStats(p.Stats)
	return frame(HdrTarget, w.buf)
}

func EncodeReceived(p Received) []byte {
	w := &payloadWriter{}
	w.putStats(p.Sum)
	w.putByte(byte(p.Count))
	return frame(HdrReceived, w.buf)
}

func DecodeAgent(payload []byte) (Agent, error) {
	if len(payload) != agentPayloadLen {
		return Agent{}, fmt.Errorf("agent packet: payload length %d, want %d", len(payload), agentPayloadLen)
	}
	r := &payloadReader{buf: payload}
	p := Agent{AgentID: int(r.getByte())}
	p.Stats = r.getStats()
	p.Pose = nums.Pose{X: r.getFloat(), Y: r.getFloat(), Theta: r.getFloat()}
	p.VirtualPose = nums.Pose{X: r.getFloat(), Y: r.getFloat(), Theta: r.getFloat()}
	return p, nil
}

func DecodeTarget(payload []byte) (Target, error) {
	if len(payload) != targetPayloadLen {
		return Target{}, fmt.Errorf("target packet: payload length %d, want %d", len(payload), targetPayloadLen)
	}
	r := &payloadReader{buf: payload}
	return Target{Stats: r.getStats()}, nil
}

func DecodeReceived(payload []byte) (Received, error) {
	if len(payload) != receivedPayloadLen {
		return Received{}, fmt.Errorf("received packet: payload length %d, want %d", len(payload), receivedPayloadLen)
	}
	r := &payloadReader{buf: payload}
	p := Received{Sum: r.getStats()}
	p.Count = int(r.getByte())
	return p, nil
}

// Frame is one decoded wire frame with a verified checksum.
type Frame struct {
	Header  byte
	Payload []byte
}

type decodeState int

const (
	stateIdle decodeState = iota
	stateHeader
	stateLength
	statePayload
	stateChecksum
	stateEnd
)

// Decoder is a byte-wise frame parser. Bytes outside a frame are skipped; a
// checksum or framing fault discards the frame and resyncs on the next STX.
type Decoder struct {
	state   decodeState
	header  byte
	length  int
	payload []byte
	sum     byte
}

// Feed consumes one byte. It returns a completed frame, a framing error, or
// neither while a frame is still in progress.
func (d *Decoder) Feed(b byte) (*Frame, error) {
	switch d.state {
	case stateIdle:
		if b == STX {
			d.state = stateHeader
		}
	case stateHeader:
		d.header = b
		d.sum = b
		d.state = stateLength
	case stateLength:
		d.length = int(b)
		d.sum ^= b
		d.payload = make([]byte, 0, d.length)
		if d.length == 0 {
			d.state = stateChecksum
		} else {
			d.state = statePayload
		}
	case statePayload:
		d.payload = append(d.payload, b)
		d.sum ^= b
		if len(d.payload) == d.length {
			d.state = stateChecksum
		}
	case stateChecksum:
		if b != d.sum {
			d.state = stateIdle
			return nil, fmt.Errorf("checksum mismatch on packet 0x%02x: got 0x%02x, want 0x%02x", d.header, b, d.sum)
		}
		d.state = stateEnd
	case stateEnd:
		d.state = stateIdle
		if b != ETX {
			return nil, fmt.Errorf("missing frame end on packet 0x%02x", d.header)
		}
		return &Frame{Header: d.header, Payload: d.payload}, nil
	}
	return nil, nil
}
