// Package flash implements the higher-level flashing workflow (§4.7): a
// state machine over the transaction engine — enumerate, erase, write,
// verify, and optionally launch — with per-stage retry and exit policy.
package flash

import (
	"context"
	"errors"
	"fmt"
	"hash/crc32"
	"strconv"
	"strings"
	"time"

	"github.com/arcosh/canboot/internal/bootcmd"
	"github.com/arcosh/canboot/internal/channel"
	"github.com/arcosh/canboot/internal/fragment"
	"github.com/arcosh/canboot/internal/logging"
	"github.com/arcosh/canboot/internal/metrics"
	"github.com/arcosh/canboot/internal/transaction"
)

// DefaultPageSize is the flash page size assumed when the caller does not
// override it (§4.7).
const DefaultPageSize = 2048

// Default pacing constants named in §4.7/§9.
const (
	EnumerationRetries        = 3
	EnumerationResponseDelay  = 10 * time.Millisecond
	WritePreDelay             = 100 * time.Millisecond
	eraseRetryLimit    uint32 = 5
	corruptRetryBudget        = 5
)

// ErrBoardsOffline is returned by Run when not every requested board
// answered a ping during enumeration (§4.7, exit code 3).
var ErrBoardsOffline = errors.New("flash: boards offline")

// ErrVerificationFailed is returned when one or more destinations' CRC did
// not match after writing (§4.7, exit code 4).
var ErrVerificationFailed = errors.New("flash: verification failed")

// Options bundles the destinations and per-stage tunings shared by every
// stage of a flashing run.
type Options struct {
	Source      uint8 // this host's node ID on the bus, conventionally 0
	PageSize    uint32
	DeviceClass string
	// Progress, if non-nil, is called after each page-sized chunk of work
	// in Erase and Write with the cumulative byte offset and the binary's
	// total length. Progress display is an out-of-scope collaborator
	// (§1); this is the only hook the core exposes to it.
	Progress func(offset, total int)
}

func (o Options) pageSize() uint32 {
	if o.PageSize == 0 {
		return DefaultPageSize
	}
	return o.PageSize
}

// Enumerate pings requested up to EnumerationRetries times, collecting the
// set of nodes that answered, and returns early once every requested node
// has replied (§4.7 ENUMERATE).
func Enumerate(ctx context.Context, ch channel.FrameChannel, source uint8, requested []uint8) (map[uint8]struct{}, error) {
	want := make(map[uint8]struct{}, len(requested))
	for _, d := range requested {
		want[d] = struct{}{}
	}
	online := make(map[uint8]struct{}, len(requested))
	reassembler := fragment.New()

	for attempt := 0; attempt < EnumerationRetries && len(online) < len(want); attempt++ {
		if ctx.Err() != nil {
			return online, ctx.Err()
		}
		if err := sendPing(ctx, ch, source, requested, online); err != nil {
			return online, err
		}
		deadline := time.Now().Add(EnumerationResponseDelay)
		for {
			fr, ok, err := ch.ReceiveFrame(deadline)
			if err != nil {
				return online, err
			}
			if !ok {
				break
			}
			dec, complete := reassembler.Feed(fr)
			if !complete {
				continue
			}
			if _, isWanted := want[dec.Source]; isWanted {
				online[dec.Source] = struct{}{}
			}
		}
	}
	return online, nil
}

// sendPing broadcasts one ping and records in online every destination whose
// reply the engine already collected while waiting briefly after the send.
func sendPing(ctx context.Context, ch channel.FrameChannel, source uint8, destinations []uint8, online map[uint8]struct{}) error {
	opts := transaction.DefaultOptions()
	opts.RetryLimit = 0
	opts.ErrorExit = false
	opts.ReceiveTimeout = 1 * time.Millisecond // Enumerate does its own wait loop, not the engine's
	res, err := transaction.Run(ctx, ch, source, bootcmd.Ping(), destinations, opts)
	for id := range res.Answers {
		online[id] = struct{}{}
	}
	var chErr *channel.ChannelError
	if errors.As(err, &chErr) {
		return err
	}
	return nil // timeouts/retry exhaustion are expected here, not fatal
}

// StageOutcome summarizes one erase or write stage: whether any destination
// reported a non-success status at least once (the per-node statuses are
// logged as they arrive). The final CRC verification is always the arbiter
// of overall success (§4.7).
type StageOutcome struct {
	ErrorsOccurred bool
}

// Erase erases every flash page covering [baseAddress, baseAddress+imageLen)
// on each destination (§4.7 ERASE).
func Erase(ctx context.Context, ch channel.FrameChannel, source uint8, baseAddress uint32, imageLen int, destinations []uint8, opts Options) (StageOutcome, error) {
	var out StageOutcome
	pageSize := opts.pageSize()
	for offset := uint32(0); int(offset) < imageLen; offset += pageSize {
		for attempt := 0; ; attempt++ {
			cmd := bootcmd.EraseFlashPage(baseAddress+offset, opts.DeviceClass)
			topts := transaction.DefaultOptions()
			topts.RetryLimit = eraseRetryLimit
			topts.ErrorExit = false
			res, err := transaction.Run(ctx, ch, source, cmd, destinations, topts)
			if err != nil {
				return out, err
			}
			retry, err := handleEraseReplies(res.Answers, destinations, &out)
			if err != nil {
				return out, err
			}
			if !retry || attempt >= corruptRetryBudget {
				break
			}
		}
		if opts.Progress != nil {
			opts.Progress(int(offset)+int(pageSize), imageLen)
		}
	}
	if out.ErrorsOccurred {
		logging.L().Warn("flash_erase_errors_occurred")
	}
	return out, nil
}

func handleEraseReplies(answers map[uint8][]byte, destinations []uint8, out *StageOutcome) (retry bool, err error) {
	for _, d := range destinations {
		payload, ok := answers[d]
		if !ok {
			continue // missing reply already logged by the transaction engine
		}
		status, derr := bootcmd.DecodeStatus(payload)
		if derr != nil {
			return false, fmt.Errorf("flash: erase reply from %d: %w", d, derr)
		}
		if status == bootcmd.StatusSuccess {
			metrics.IncStageOutcome("erase", "success")
			continue
		}
		if status == bootcmd.CorruptDatagram {
			logging.L().Debug("flash_erase_corrupt_datagram_retry", "node", d)
			retry = true
			continue
		}
		out.ErrorsOccurred = true
		metrics.IncStageOutcome("erase", "error")
		logging.L().Error("flash_erase_status", "node", d, "status", status, "reason", bootcmd.DescribeStatus(bootcmd.OpEraseFlashPage, status))
	}
	return retry, nil
}

// Write writes binary in page-sized chunks starting at baseAddress
// (§4.7 WRITE). Replies are collected with RetryForever so a lost write
// frame is never retransmitted, only re-awaited.
func Write(ctx context.Context, ch channel.FrameChannel, source uint8, baseAddress uint32, binary []byte, destinations []uint8, opts Options) (StageOutcome, error) {
	var out StageOutcome
	pageSize := opts.pageSize()
	for offset := uint32(0); int(offset) < len(binary); offset += pageSize {
		end := offset + pageSize
		if int(end) > len(binary) {
			end = uint32(len(binary))
		}
		chunk := binary[offset:end]

		sleep(WritePreDelay)
		cmd := bootcmd.WriteFlash(chunk, baseAddress+offset, opts.DeviceClass)
		topts := transaction.DefaultOptions()
		topts.RetryLimit = 0
		topts.ErrorExit = false
		topts.RetryForever = true
		res, err := transaction.Run(ctx, ch, source, cmd, destinations, topts)
		if err != nil {
			return out, err
		}
		for _, d := range destinations {
			payload, ok := res.Answers[d]
			if !ok {
				continue
			}
			status, derr := bootcmd.DecodeStatus(payload)
			if derr != nil {
				return out, fmt.Errorf("flash: write reply from %d: %w", d, derr)
			}
			if status != bootcmd.StatusSuccess {
				out.ErrorsOccurred = true
				metrics.IncStageOutcome("write", "error")
				logging.L().Error("flash_write_status", "node", d, "status", status, "reason", bootcmd.DescribeStatus(bootcmd.OpWriteFlash, status))
			} else {
				metrics.IncStageOutcome("write", "success")
			}
		}
		if opts.Progress != nil {
			opts.Progress(int(end), len(binary))
		}
	}
	if out.ErrorsOccurred {
		logging.L().Warn("flash_write_errors_occurred")
	}
	return out, nil
}

var sleep = time.Sleep

// UpdateAndSaveConfig applies config to destinations then persists it to
// flash, via the standard retry engine (§4.7 CONFIG UPDATE).
func UpdateAndSaveConfig(ctx context.Context, ch channel.FrameChannel, source uint8, config map[string]interface{}, destinations []uint8) error {
	opts := transaction.DefaultOptions()
	if _, err := transaction.Run(ctx, ch, source, bootcmd.UpdateConfig(config), destinations, opts); err != nil {
		return fmt.Errorf("flash: update_config: %w", err)
	}
	if _, err := transaction.Run(ctx, ch, source, bootcmd.SaveConfig(), destinations, opts); err != nil {
		return fmt.Errorf("flash: save_config: %w", err)
	}
	return nil
}

// Verify requests a CRC32 over [baseAddress, baseAddress+len(binary)) from
// every destination and compares it against the locally computed CRC,
// returning the subset of destinations whose flash matches (§4.7 VERIFY).
func Verify(ctx context.Context, ch channel.FrameChannel, source uint8, baseAddress uint32, binary []byte, destinations []uint8) ([]uint8, error) {
	expected := crc32.ChecksumIEEE(binary)
	cmd := bootcmd.CRCRegion(baseAddress, uint32(len(binary)))
	opts := transaction.DefaultOptions()
	opts.RetryLimit = 0
	opts.ErrorExit = false
	res, err := transaction.Run(ctx, ch, source, cmd, destinations, opts)
	if err != nil {
		return nil, err
	}

	var valid []uint8
	for _, d := range destinations {
		payload, ok := res.Answers[d]
		if !ok {
			continue
		}
		crc, derr := bootcmd.DecodeCRC32(payload)
		if derr != nil {
			return nil, fmt.Errorf("flash: verify reply from %d: %w", d, derr)
		}
		switch {
		case crc == expected:
			metrics.IncStageOutcome("verify", "success")
			valid = append(valid, d)
		case crc == bootcmd.CRCAddressUnspecified, crc == bootcmd.CRCLengthUnspecified, crc == bootcmd.CRCIllegalAddress:
			metrics.IncStageOutcome("verify", "error")
			logging.L().Error("flash_verify_error", "node", d, "reason", bootcmd.DescribeCRCStatus(crc))
		default:
			metrics.IncStageOutcome("verify", "mismatch")
			logging.L().Warn("flash_verify_mismatch", "node", d, "got", crc, "want", expected)
		}
	}
	return valid, nil
}

// Launch fires jump_to_main at destinations without waiting for replies
// (§4.7 LAUNCH): the bootloader does not reply once it hands off to the
// application.
func Launch(ctx context.Context, ch channel.FrameChannel, source uint8, destinations []uint8) error {
	opts := transaction.DefaultOptions()
	opts.RetryLimit = 0
	opts.ErrorExit = false
	opts.ReceiveTimeout = 1 * time.Millisecond
	_, err := transaction.Run(ctx, ch, source, bootcmd.JumpToMain(), destinations, opts)
	var chErr *channel.ChannelError
	if errors.As(err, &chErr) {
		return err
	}
	return nil
}

// InvokeOptions tunes the Invoke ping-flood (§D.1: a standalone "wake up
// the bootloader" tool, distinct from Enumerate's bounded retry count).
type InvokeOptions struct {
	// MaxAttempts bounds how many ping rounds are sent while any
	// destination has not yet answered (default 2000).
	MaxAttempts int
	// TrailingPings is how many additional ping rounds are sent once every
	// destination has answered, so a board that reboots into the
	// bootloader right at the tail end of the flood is still caught
	// (default 100, mirroring invoke.py's trailing burst).
	TrailingPings int
}

// DefaultInvokeOptions returns the tunings named in §D.1, matching the
// trailing 100-ping burst of the original invoke tool.
func DefaultInvokeOptions() InvokeOptions {
	return InvokeOptions{MaxAttempts: 2000, TrailingPings: 100}
}

// Invoke floods destinations with ping until every one has answered at
// least once, then keeps pinging for a trailing burst so late-rebooting
// boards are not missed, and returns the set that ever answered.
func Invoke(ctx context.Context, ch channel.FrameChannel, source uint8, destinations []uint8, opts InvokeOptions) (map[uint8]struct{}, error) {
	if opts.MaxAttempts == 0 && opts.TrailingPings == 0 {
		opts = DefaultInvokeOptions()
	}
	want := make(map[uint8]struct{}, len(destinations))
	for _, d := range destinations {
		want[d] = struct{}{}
	}
	online := make(map[uint8]struct{}, len(destinations))
	reassembler := fragment.New()

	trailing := -1 // not yet counting down; starts once every destination has answered
	for attempt := 0; (trailing < 0 && attempt < opts.MaxAttempts) || trailing > 0; attempt++ {
		if ctx.Err() != nil {
			return online, ctx.Err()
		}
		if trailing > 0 {
			trailing--
		}
		if err := sendPing(ctx, ch, source, destinations, online); err != nil {
			return online, err
		}
		deadline := time.Now().Add(EnumerationResponseDelay)
		for {
			fr, ok, err := ch.ReceiveFrame(deadline)
			if err != nil {
				return online, err
			}
			if !ok {
				break
			}
			dec, complete := reassembler.Feed(fr)
			if !complete {
				continue
			}
			if _, isWanted := want[dec.Source]; isWanted {
				online[dec.Source] = struct{}{}
			}
		}
		if len(online) == len(want) && trailing < 0 {
			logging.L().Info("flash_invoke_all_online", "trailing_pings", opts.TrailingPings)
			trailing = opts.TrailingPings
		}
	}
	return online, nil
}

// Run drives the full enumerate -> erase -> write -> verify -> [launch]
// workflow for one binary image against destinations.
func Run(ctx context.Context, ch channel.FrameChannel, baseAddress uint32, binary []byte, destinations []uint8, launch bool, opts Options) error {
	online, err := Enumerate(ctx, ch, opts.Source, destinations)
	if err != nil {
		return err
	}
	if len(online) != len(destinations) {
		offline := make([]uint8, 0, len(destinations)-len(online))
		for _, d := range destinations {
			if _, ok := online[d]; !ok {
				offline = append(offline, d)
			}
		}
		return fmt.Errorf("%w: %s", ErrBoardsOffline, joinNodeIDs(offline))
	}

	if _, err := Erase(ctx, ch, opts.Source, baseAddress, len(binary), destinations, opts); err != nil {
		return err
	}
	if _, err := Write(ctx, ch, opts.Source, baseAddress, binary, destinations, opts); err != nil {
		return err
	}

	config := map[string]interface{}{
		"application_size": uint32(len(binary)),
		"application_crc":  crc32.ChecksumIEEE(binary),
	}
	if err := UpdateAndSaveConfig(ctx, ch, opts.Source, config, destinations); err != nil {
		return err
	}

	valid, err := Verify(ctx, ch, opts.Source, baseAddress, binary, destinations)
	if err != nil {
		return err
	}
	if len(valid) != len(destinations) {
		validSet := make(map[uint8]struct{}, len(valid))
		for _, v := range valid {
			validSet[v] = struct{}{}
		}
		var mismatched []uint8
		for _, d := range destinations {
			if _, ok := validSet[d]; !ok {
				mismatched = append(mismatched, d)
			}
		}
		return fmt.Errorf("%w for nodes %s", ErrVerificationFailed, joinNodeIDs(mismatched))
	}

	if launch {
		return Launch(ctx, ch, opts.Source, destinations)
	}
	return nil
}

// joinNodeIDs renders a node ID list the way the original tooling did
// (", ".join(str(x) for x in nodes)), e.g. "8, 9" rather than Go's "[8 9]".
func joinNodeIDs(ids []uint8) string {
	parts := make([]string, len(ids))
	for i, id := range ids {
		parts[i] = strconv.Itoa(int(id))
	}
	return strings.Join(parts, ", ")
}
