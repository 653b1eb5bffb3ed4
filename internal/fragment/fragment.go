// Package fragment splits encoded datagrams into CAN frames and reassembles
// inbound frames back into datagrams, keyed by source node (§4.4).
package fragment

import (
	"github.com/arcosh/canboot/internal/can"
	"github.com/arcosh/canboot/internal/datagram"
)

// ToFrames splits an encoded datagram into standard-identifier CAN frames
// for transmission from source. The first frame has the start-of-datagram
// bit set; every following frame clears it. An empty datagram still yields
// exactly one zero-DLC frame with the start bit set (§4.4, §9 open question).
func ToFrames(bytes []byte, source uint8) []can.Frame {
	if len(bytes) == 0 {
		return []can.Frame{can.NewStandardFrame(source, true, nil)}
	}
	frames := make([]can.Frame, 0, (len(bytes)+7)/8)
	for i := 0; i < len(bytes); i += 8 {
		end := i + 8
		if end > len(bytes) {
			end = len(bytes)
		}
		frames = append(frames, can.NewStandardFrame(source, i == 0, bytes[i:end]))
	}
	return frames
}

// maxBufferedBytes bounds a single source's reassembly buffer, per §9: cap
// at a sane maximum and drop on overflow so malformed/adversarial traffic
// cannot grow memory unboundedly.
const maxBufferedBytes = 64 * 1024

// Decoded is one fully reassembled datagram, tagged with the source node
// that sent it.
type Decoded struct {
	Payload      []byte
	Destinations []uint8
	Source       uint8
}

// Reassembler holds one growing byte buffer per source node and emits a
// Decoded value each time a source's buffer completes a datagram.
//
// Not safe for concurrent use; each transaction.Run call (and each
// flash.Enumerate/Invoke call) creates its own instance and drives it from a
// single goroutine (§5).
type Reassembler struct {
	buf map[uint8][]byte
}

// New creates an empty Reassembler.
func New() *Reassembler { return &Reassembler{buf: make(map[uint8][]byte)} }

// Feed processes one inbound frame. It returns ok=true with the decoded
// datagram when f completes one; otherwise ok=false and the frame has been
// absorbed into the corresponding source's pending buffer (or discarded, if
// extended or overflowing).
func (r *Reassembler) Feed(f can.Frame) (Decoded, bool) {
	if f.Extended() {
		return Decoded{}, false
	}
	src := f.Source()
	if f.IsStartOfDatagram() {
		if _, exists := r.buf[src]; exists {
			// A new datagram has begun; discard whatever was pending (§4.4).
			delete(r.buf, src)
		}
	}
	r.buf[src] = append(r.buf[src], f.Payload()...)
	if len(r.buf[src]) > maxBufferedBytes {
		delete(r.buf, src)
		return Decoded{}, false
	}

	dec := datagram.Decode(r.buf[src])
	switch dec.Status {
	case datagram.Complete:
		delete(r.buf, src)
		return Decoded{Payload: dec.Payload, Destinations: dec.Destinations, Source: src}, true
	case datagram.Invalid:
		// CRC mismatch or malformed header: drop silently and let the
		// transaction engine's retry loop recover (§4.6, §7).
		delete(r.buf, src)
		return Decoded{}, false
	default: // NeedMore
		return Decoded{}, false
	}
}

// Reset discards all pending per-source buffers.
func (r *Reassembler) Reset() { r.buf = make(map[uint8][]byte) }
