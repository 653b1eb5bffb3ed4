package cliopts

import (
	"context"
	"fmt"
	"time"

	"github.com/arcosh/canboot/internal/channel"
	"github.com/arcosh/canboot/internal/serialcan"
	"github.com/arcosh/canboot/internal/socketcan"
)

const txBufferSize = 256

// Connect opens whichever connection method Options selected and returns
// it as a channel.FrameChannel, plus a closer.
func Connect(ctx context.Context, o Options) (channel.FrameChannel, func() error, error) {
	switch {
	case o.SerialDevice != "":
		ch, err := serialcan.Open(ctx, o.SerialDevice, o.Baud, 100*time.Millisecond)
		if err != nil {
			return nil, nil, fmt.Errorf("cliopts: open serial %s: %w", o.SerialDevice, err)
		}
		return ch, ch.Close, nil
	case o.CANInterface != "":
		ch, err := socketcan.OpenChannel(ctx, o.CANInterface, txBufferSize)
		if err != nil {
			return nil, nil, fmt.Errorf("cliopts: open socketcan %s: %w", o.CANInterface, err)
		}
		return ch, ch.Close, nil
	default:
		return nil, nil, fmt.Errorf("cliopts: no connection method configured")
	}
}
