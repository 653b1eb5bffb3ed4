package metrics

import (
	"sync/atomic"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus counters
var (
	SerialRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_rx_frames_total",
		Help: "Total CAN frames decoded from the serial link.",
	})
	SocketCANRxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_rx_frames_total",
		Help: "Total CAN frames read from the SocketCAN interface.",
	})
	SerialTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "serial_tx_frames_total",
		Help: "Total CAN frames written to the serial link.",
	})
	SocketCANTxFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "socketcan_tx_frames_total",
		Help: "Total CAN frames written to the SocketCAN interface.",
	})
	Errors = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "errors_total",
		Help: "Error counters by subsystem.",
	}, []string{"where"})
	MalformedFrames = promauto.NewCounter(prometheus.CounterOpts{
		Name: "malformed_frames_total",
		Help: "Total rejected malformed frames (protocol violations, invalid length, truncated).",
	})
	TransactionRetries = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bootloader_transaction_retries_total",
		Help: "Total selective resends issued by the broadcast-request/multi-reply engine.",
	})
	TransactionsExhausted = promauto.NewCounter(prometheus.CounterOpts{
		Name: "bootloader_transaction_retries_exhausted_total",
		Help: "Total transactions that gave up after exhausting their retry budget.",
	})
	StageOutcomes = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "bootloader_stage_outcomes_total",
		Help: "Erase/write/verify outcomes by stage and result.",
	}, []string{"stage", "result"})
)

// Error label constants (stable label values to bound cardinality)
const (
	ErrSerialWrite    = "serial_write"
	ErrSerialOverflow = "serial_tx_overflow"
	ErrSocketCANWrite = "socketcan_write"
	ErrSocketCANOver  = "socketcan_tx_overflow"
	ErrSerialRead     = "serial_read"
	ErrSocketCANRead  = "socketcan_read"
)

// Local mirrored counters for easy in-process inspection (tests), avoiding
// a Prometheus scrape round-trip.
var (
	localSerialRx    uint64
	localSerialTx    uint64
	localSocketCANTx uint64
	localSocketCANRx uint64
	localErrors      uint64
	localMalformed   uint64
)

// Snapshot is a cheap copy of local counters.
type Snapshot struct {
	SerialRx    uint64
	SocketCANRx uint64
	SerialTx    uint64
	SocketCANTx uint64
	Errors      uint64 // sum across error labels
	Malformed   uint64
}

func Snap() Snapshot {
	return Snapshot{
		SerialRx:    atomic.LoadUint64(&localSerialRx),
		SocketCANRx: atomic.LoadUint64(&localSocketCANRx),
		SerialTx:    atomic.LoadUint64(&localSerialTx),
		SocketCANTx: atomic.LoadUint64(&localSocketCANTx),
		Errors:      atomic.LoadUint64(&localErrors),
		Malformed:   atomic.LoadUint64(&localMalformed),
	}
}

// Wrapper helpers to keep call sites simple.
func IncSerialRx() {
	SerialRxFrames.Inc()
	atomic.AddUint64(&localSerialRx, 1)
}

// IncSocketCANRx increments SocketCAN receive counters.
func IncSocketCANRx() {
	SocketCANRxFrames.Inc()
	atomic.AddUint64(&localSocketCANRx, 1)
}

func IncSerialTx() {
	SerialTxFrames.Inc()
	atomic.AddUint64(&localSerialTx, 1)
}

// IncSocketCANTx increments SocketCAN transmit counters.
func IncSocketCANTx() {
	SocketCANTxFrames.Inc()
	atomic.AddUint64(&localSocketCANTx, 1)
}

func IncError(label string) {
	Errors.WithLabelValues(label).Inc()
	atomic.AddUint64(&localErrors, 1)
}

func IncMalformed() {
	MalformedFrames.Inc()
	atomic.AddUint64(&localMalformed, 1)
}

// IncTransactionRetry counts one selective resend by the transaction engine.
func IncTransactionRetry() { TransactionRetries.Inc() }

// IncTransactionExhausted counts one transaction that gave up on its retry budget.
func IncTransactionExhausted() { TransactionsExhausted.Inc() }

// IncStageOutcome counts one erase/write/verify result for a single destination.
func IncStageOutcome(stage, result string) { StageOutcomes.WithLabelValues(stage, result).Inc() }
