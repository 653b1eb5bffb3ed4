// Package channel defines the FrameChannel capability the transaction
// engine and flashing workflow depend on (§4.1): a single-owner abstraction
// over "send one frame" / "blocking-receive one frame with timeout" that
// hides whichever physical adapter (serial dongle or SocketCAN) is
// underneath.
package channel

import (
	"errors"
	"time"

	"github.com/arcosh/canboot/internal/can"
)

// Kind classifies a ChannelError the way the transaction engine needs to
// react to it (§7: transport fatal vs. transient).
type Kind int

const (
	// KindFatal is any adapter failure not covered by a more specific kind.
	KindFatal Kind = iota
	// KindTxBufferOverflow means the adapter/kernel rejected a send because
	// the bus is unacknowledged (no other node ACKing frames).
	KindTxBufferOverflow
	// KindDown means the link is administratively down.
	KindDown
)

func (k Kind) String() string {
	switch k {
	case KindTxBufferOverflow:
		return "tx_buffer_overflow"
	case KindDown:
		return "down"
	default:
		return "fatal"
	}
}

// ChannelError wraps an adapter-level failure with its Kind so callers can
// classify it with errors.Is/errors.As without string matching.
type ChannelError struct {
	Kind Kind
	Err  error
}

func (e *ChannelError) Error() string {
	if e.Err == nil {
		return "channel: " + e.Kind.String()
	}
	return "channel: " + e.Kind.String() + ": " + e.Err.Error()
}

func (e *ChannelError) Unwrap() error { return e.Err }

// Is lets errors.Is(err, ErrDown) and errors.Is(err, ErrTxBufferOverflow)
// match regardless of the wrapped cause.
func (e *ChannelError) Is(target error) bool {
	var ce *ChannelError
	if errors.As(target, &ce) {
		return ce.Kind == e.Kind
	}
	return false
}

// Sentinel ChannelErrors usable with errors.Is for kind-only matching.
var (
	ErrTxBufferOverflow = &ChannelError{Kind: KindTxBufferOverflow}
	ErrDown             = &ChannelError{Kind: KindDown}
	ErrFatal            = &ChannelError{Kind: KindFatal}
)

// NewTxBufferOverflow wraps cause as a KindTxBufferOverflow ChannelError.
func NewTxBufferOverflow(cause error) error { return &ChannelError{Kind: KindTxBufferOverflow, Err: cause} }

// NewDown wraps cause as a KindDown ChannelError.
func NewDown(cause error) error { return &ChannelError{Kind: KindDown, Err: cause} }

// NewFatal wraps cause as a KindFatal ChannelError.
func NewFatal(cause error) error { return &ChannelError{Kind: KindFatal, Err: cause} }

// FrameChannel is the single capability the core protocol layer needs from
// whatever physical CAN transport underlies it. Implementations
// are not required to be safe for concurrent use: the core assumes
// single-owner access (§4.1).
type FrameChannel interface {
	// SendFrame transmits one frame. It must not block indefinitely.
	SendFrame(f can.Frame) error
	// ReceiveFrame returns the next inbound frame received before deadline,
	// or (Frame{}, false, nil) on timeout. Adapter-specific status frames
	// must already be filtered out by the implementation.
	ReceiveFrame(deadline time.Time) (can.Frame, bool, error)
}
