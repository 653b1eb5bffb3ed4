// Package transaction implements the broadcast-request / multiple-reply
// engine (§4.6): encode one command addressed to a destination set, collect
// replies until every destination has answered or a retry budget is
// exhausted, and selectively resend to only the destinations still missing.
package transaction

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/arcosh/canboot/internal/channel"
	"github.com/arcosh/canboot/internal/datagram"
	"github.com/arcosh/canboot/internal/fragment"
	"github.com/arcosh/canboot/internal/logging"
	"github.com/arcosh/canboot/internal/metrics"
)

// ErrRetryExhausted is returned when the retry budget is exhausted and
// Options.ErrorExit is true (§4.6 step 3).
var ErrRetryExhausted = errors.New("transaction: retry limit exhausted")

// Options configures one Run call. Zero value is not directly usable;
// callers should start from DefaultOptions().
type Options struct {
	// RetryLimit bounds how many times a missing-destination resend is
	// attempted before giving up (default 3).
	RetryLimit uint32
	// ErrorExit, on retry exhaustion, makes Run return ErrRetryExhausted
	// instead of the partial answers collected so far (default true).
	ErrorExit bool
	// RetryForever ignores RetryLimit and never resends: used for flash
	// writes, where resending could corrupt an already-advanced on-device
	// write pointer, but replies must still be awaited (default false).
	RetryForever bool
	// InterFrameDelay paces outgoing frames to respect slow adapters/buses
	// (default ~3ms, §9).
	InterFrameDelay time.Duration
	// RetryDelay is slept before each resend (default ~10ms).
	RetryDelay time.Duration
	// ReceiveTimeout bounds each wait for a reply before the engine decides
	// destinations are missing (default ~2s).
	ReceiveTimeout time.Duration
	// Sleep is the delay primitive, overridable by tests; defaults to
	// time.Sleep.
	Sleep func(time.Duration)
}

// DefaultOptions returns the tunings named in §4.6/§9.
func DefaultOptions() Options {
	return Options{
		RetryLimit:      3,
		ErrorExit:       true,
		RetryForever:    false,
		InterFrameDelay: 3 * time.Millisecond,
		RetryDelay:      10 * time.Millisecond,
		ReceiveTimeout:  2 * time.Second,
		Sleep:           time.Sleep,
	}
}

func (o Options) sleep(d time.Duration) {
	if o.Sleep != nil {
		o.Sleep(d)
		return
	}
	time.Sleep(d)
}

// Result is the outcome of a completed or exhausted transaction.
type Result struct {
	// Answers maps each destination that replied to its reply payload.
	// Answers.keys is always a subset of the destinations passed to Run.
	Answers map[uint8]([]byte)
	// RetryCount is how many reply timeouts advanced the retry policy. Each
	// one within RetryLimit issues a resend; on exhaustion it is
	// RetryLimit+1, one more than the resends issued. Always 0 with
	// RetryForever.
	RetryCount uint32
}

// Run broadcasts command to destinations from source, collecting replies
// until every destination has answered or the retry policy gives up (§4.6).
//
// err is non-nil only for a send or receive failure from the channel, for
// ctx cancellation (ctx.Err()), or for retry exhaustion with
// Options.ErrorExit set (ErrRetryExhausted); CRC mismatches and reply
// timeouts are handled internally via retry (§7).
func Run(ctx context.Context, ch channel.FrameChannel, source uint8, command []byte, destinations []uint8, opts Options) (Result, error) {
	reassembler := fragment.New()
	answers := make(map[uint8][]byte, len(destinations))
	wanted := make(map[uint8]struct{}, len(destinations))
	for _, d := range destinations {
		wanted[d] = struct{}{}
	}

	send := func(dests []uint8) error {
		return sendDatagram(ctx, ch, source, command, dests, opts)
	}
	if err := send(destinations); err != nil {
		return Result{Answers: answers}, err
	}

	var retryCount uint32
	for len(answers) < len(wanted) {
		if ctx.Err() != nil {
			return Result{Answers: answers, RetryCount: retryCount}, ctx.Err()
		}
		fr, ok, err := ch.ReceiveFrame(time.Now().Add(opts.ReceiveTimeout))
		if err != nil {
			return Result{Answers: answers, RetryCount: retryCount}, err
		}
		if ok {
			dec, complete := reassembler.Feed(fr)
			if !complete {
				continue
			}
			if _, isWanted := wanted[dec.Source]; !isWanted {
				continue // extraneous reply, discarded (§4.6)
			}
			if _, already := answers[dec.Source]; already {
				continue // first reply wins, duplicates ignored (§4.6)
			}
			answers[dec.Source] = dec.Payload
			continue
		}

		// Timed out waiting for a reply.
		missing := missingDestinations(wanted, answers)
		if len(missing) == 0 {
			break
		}
		if opts.RetryForever {
			logging.L().Debug("transaction_retry_forever_wait", "missing", missing)
			continue
		}
		retryCount++
		if retryCount > opts.RetryLimit {
			metrics.IncTransactionExhausted()
			if opts.ErrorExit {
				return Result{Answers: answers, RetryCount: retryCount}, ErrRetryExhausted
			}
			return Result{Answers: answers, RetryCount: retryCount}, nil
		}
		metrics.IncTransactionRetry()
		logging.L().Warn("transaction_retry", "attempt", retryCount, "missing", missing)
		opts.sleep(opts.RetryDelay)
		if err := send(missing); err != nil {
			return Result{Answers: answers, RetryCount: retryCount}, err
		}
	}

	return Result{Answers: answers, RetryCount: retryCount}, nil
}

func missingDestinations(wanted map[uint8]struct{}, answers map[uint8][]byte) []uint8 {
	missing := make([]uint8, 0, len(wanted)-len(answers))
	for d := range wanted {
		if _, ok := answers[d]; !ok {
			missing = append(missing, d)
		}
	}
	return missing
}

func sendDatagram(ctx context.Context, ch channel.FrameChannel, source uint8, command []byte, destinations []uint8, opts Options) error {
	wire := datagram.Encode(command, destinations)
	frames := fragment.ToFrames(wire, source)
	for i, f := range frames {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		if err := ch.SendFrame(f); err != nil {
			return fmt.Errorf("transaction: send frame %d/%d: %w", i+1, len(frames), err)
		}
		if i < len(frames)-1 {
			opts.sleep(opts.InterFrameDelay)
		}
	}
	return nil
}
