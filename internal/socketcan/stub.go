//go:build !linux

package socketcan

import (
	"context"
	"errors"
	"time"

	"github.com/arcosh/canboot/internal/can"
	"github.com/arcosh/canboot/internal/channel"
)

// ErrTxOverflow is provided for non-linux builds so callers that reference
// the overflow sentinel across platforms still compile.
var ErrTxOverflow = errors.New("socketcan tx overflow (stub)")

// ErrUnsupported is returned by OpenChannel on platforms without
// SocketCAN; the caller should fall back to serialcan.
var ErrUnsupported = errors.New("socketcan: unsupported on this platform")

// Channel is a non-functional placeholder so code that type-switches on
// the available adapters still compiles on non-Linux platforms.
type Channel struct{}

// OpenChannel always fails on non-Linux platforms.
func OpenChannel(_ context.Context, _ string, _ int) (*Channel, error) {
	return nil, channel.NewFatal(ErrUnsupported)
}

func (c *Channel) SendFrame(can.Frame) error { return ErrUnsupported }

func (c *Channel) ReceiveFrame(time.Time) (can.Frame, bool, error) {
	return can.Frame{}, false, ErrUnsupported
}

func (c *Channel) Close() error { return nil }

var _ channel.FrameChannel = (*Channel)(nil)
