//go:build linux

package socketcan

import (
	"context"
	"errors"
	"time"

	"golang.org/x/sys/unix"

	"github.com/arcosh/canboot/internal/can"
	"github.com/arcosh/canboot/internal/channel"
)

// Channel implements channel.FrameChannel over a Linux SocketCAN raw
// socket, serializing writes through TXWriter and applying SO_RCVTIMEO
// per-call so ReceiveFrame honors its deadline contract (§4.1).
type Channel struct {
	dev *Device
	tx  *TXWriter
}

// OpenChannel opens iface and wires it into a FrameChannel.
func OpenChannel(parent context.Context, iface string, txBuffer int) (*Channel, error) {
	dev, err := Open(iface)
	if err != nil {
		return nil, channel.NewFatal(err)
	}
	return &Channel{dev: dev, tx: NewTXWriter(parent, dev, txBuffer)}, nil
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
	if err := c.dev.SetReadDeadline(deadline); err != nil {
		return can.Frame{}, false, channel.NewFatal(err)
	}
	var fr can.Frame
	err := c.dev.ReadFrame(&fr)
	if err == nil {
		return fr, true, nil
	}
	if errors.Is(err, unix.EAGAIN) || errors.Is(err, unix.EWOULDBLOCK) {
		return can.Frame{}, false, nil
	}
	if errors.Is(err, unix.ENETDOWN) {
		return can.Frame{}, false, channel.NewDown(err)
	}
	return can.Frame{}, false, channel.NewFatal(err)
}

// Close stops the writer and closes the underlying socket.
func (c *Channel) Close() error {
	c.tx.Close()
	return c.dev.Close()
}

var _ channel.FrameChannel = (*Channel)(nil)
