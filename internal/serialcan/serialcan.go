// Package serialcan adapts a UART-framed CAN dongle to the
// channel.FrameChannel capability (§4.1), reusing the teacher's serial
// wire codec and async writer underneath a blocking-receive-with-deadline
// read loop.
package serialcan

import (
	"bytes"
	"context"
	"time"

	"github.com/arcosh/canboot/internal/can"
	"github.com/arcosh/canboot/internal/channel"
	"github.com/arcosh/canboot/internal/logging"
	"github.com/arcosh/canboot/internal/serial"
)

// DefaultReadBufferSize bounds how many decoded frames may be queued
// ahead of the consumer; once the queue is full the read goroutine drops
// each newly decoded frame (§9: bounded queue, not unbounded growth).
const DefaultReadBufferSize = 256

// Channel implements channel.FrameChannel over a serial CAN dongle.
type Channel struct {
	port   serial.Port
	tx     *serial.TXWriter
	codec  serial.Codec
	rx     chan can.Frame
	cancel context.CancelFunc
	done   chan struct{}
}

// Open opens name at baud and starts the background read/reassembly loop.
// readTimeout bounds each underlying port Read call; it should be short
// (tens of milliseconds) so the read loop notices cancellation promptly.
func Open(parent context.Context, name string, baud int, readTimeout time.Duration) (*Channel, error) {
	port, err := serial.Open(name, baud, readTimeout)
	if err != nil {
		return nil, channel.NewFatal(err)
	}
	return newChannel(parent, port), nil
}

func newChannel(parent context.Context, port serial.Port) *Channel {
	ctx, cancel := context.WithCancel(parent)
	c := &Channel{
		port:   port,
		tx:     serial.NewTXWriter(ctx, port, serial.Codec{}, DefaultReadBufferSize),
		rx:     make(chan can.Frame, DefaultReadBufferSize),
		cancel: cancel,
		done:   make(chan struct{}),
	}
	go c.readLoop(ctx)
	return c
}

func (c *Channel) readLoop(ctx context.Context) {
	defer close(c.done)
	buf := make([]byte, 256)
	var pending bytes.Buffer
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := c.port.Read(buf)
		if n > 0 {
			pending.Write(buf[:n])
			decodeErr := c.codec.DecodeStream(&pending, func(f can.Frame) {
				// The dongle's wire framing always carries a full 4-byte ID
				// tagged extended (§ teacher internal/serial); this
				// protocol only ever uses standard 11-bit IDs, so the tag
				// is reinterpreted away here rather than in the shared
				// codec.
				f.CANID &^= can.CAN_EFF_FLAG
				select {
				case c.rx <- f:
				default:
					logging.L().Warn("serialcan_rx_queue_full_dropping_frame")
				}
			})
			if decodeErr != nil {
				logging.L().Error("serialcan_decode_error", "error", decodeErr)
			}
		}
		if err != nil && ctx.Err() != nil {
			return
		}
	}
}

// SendFrame queues f for asynchronous transmission.
func (c *Channel) SendFrame(f can.Frame) error {
	if err := c.tx.SendFrame(f); err != nil {
		return channel.NewTxBufferOverflow(err)
	}
	return nil
}

// ReceiveFrame blocks until a frame arrives or deadline passes.
func (c *Channel) ReceiveFrame(deadline time.Time) (can.Frame, bool, error) {
	timer := time.NewTimer(time.Until(deadline))
	defer timer.Stop()
	select {
	case f := <-c.rx:
		return f, true, nil
	case <-timer.C:
		return can.Frame{}, false, nil
	}
}

// Close stops the read loop and the async writer, then closes the port.
func (c *Channel) Close() error {
	c.cancel()
	c.tx.Close()
	<-c.done
	return c.port.Close()
}

var _ channel.FrameChannel = (*Channel)(nil)
