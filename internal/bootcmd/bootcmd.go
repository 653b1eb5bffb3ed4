// Package bootcmd implements the bootloader command layer (§4.5): a closed
// set of typed operations, each producing an opaque MessagePack-packed
// payload byte string, plus the reply-status taxonomy the host must
// interpret (§7).
//
// The wire format is MessagePack. A command payload is an ordered *stream*
// of standalone MessagePack objects — the opcode as its own integer object,
// followed by each argument as its own object in turn — not a single array
// object (§3 draws this contrast explicitly: commands are an "object
// stream", replies are "a single typed object"). Firmware reads the opcode
// as the first standalone integer off the wire and then unpacks each
// argument in turn; wrapping them in one array would put an array, not an
// integer, first and break that contract (§4.5: "MUST use MessagePack
// exactly").
package bootcmd

import (
	"bytes"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Op is one of the eight wire-visible opcodes. Values MUST match the device
// firmware contract (§4.5) — they are not an internal enumeration.
type Op uint8

const (
	OpJumpToMain     Op = 1
	OpCRCRegion      Op = 2
	OpEraseFlashPage Op = 3
	OpWriteFlash     Op = 4
	OpPing           Op = 5
	OpReadConfig     Op = 6
	OpUpdateConfig   Op = 7
	OpSaveConfig     Op = 8
)

func (o Op) String() string {
	switch o {
	case OpJumpToMain:
		return "jump_to_main"
	case OpCRCRegion:
		return "crc_region"
	case OpEraseFlashPage:
		return "erase_flash_page"
	case OpWriteFlash:
		return "write_flash"
	case OpPing:
		return "ping"
	case OpReadConfig:
		return "read_config"
	case OpUpdateConfig:
		return "update_config"
	case OpSaveConfig:
		return "save_config"
	default:
		return fmt.Sprintf("op(%d)", uint8(o))
	}
}

// pack writes the opcode and its ordered arguments as separate, standalone
// MessagePack objects concatenated back to back — the "ordered, binary-
// packed object stream" of §3/§4.5, not a single array object.
func pack(op Op, args ...interface{}) []byte {
	var buf bytes.Buffer
	enc := msgpack.NewEncoder(&buf)
	if err := enc.Encode(uint8(op)); err != nil {
		// Every argument type used by this package is msgpack-encodable by
		// construction (uint8/uint32/string/[]byte/map[string]interface{}); an
		// encode failure here means a caller passed something else, which
		// is a programming error, not a runtime condition to recover from.
		panic(fmt.Sprintf("bootcmd: encode %s opcode: %v", op, err))
	}
	for i, a := range args {
		if err := enc.Encode(a); err != nil {
			panic(fmt.Sprintf("bootcmd: encode %s arg %d: %v", op, i, err))
		}
	}
	return buf.Bytes()
}

// Ping requests a liveness reply (§4.5). No arguments; reply is a single
// byte whose value is ignored.
func Ping() []byte { return pack(OpPing) }

// JumpToMain asks the bootloader to start the application. No reply is
// expected; the workflow sends this fire-and-forget (§4.7 LAUNCH).
func JumpToMain() []byte { return pack(OpJumpToMain) }

// CRCRegion requests the device compute a CRC32 over [address, address+length).
func CRCRegion(address, length uint32) []byte { return pack(OpCRCRegion, address, length) }

// EraseFlashPage requests erasure of the flash page containing address,
// scoped to deviceClass (mismatches are rejected by firmware, §7).
func EraseFlashPage(address uint32, deviceClass string) []byte {
	return pack(OpEraseFlashPage, address, deviceClass)
}

// WriteFlash requests chunk be written starting at address, scoped to
// deviceClass.
func WriteFlash(chunk []byte, address uint32, deviceClass string) []byte {
	return pack(OpWriteFlash, chunk, address, deviceClass)
}

// ReadConfig requests the device's current configuration map.
func ReadConfig() []byte { return pack(OpReadConfig) }

// UpdateConfig requests the device apply the given key/value pairs, leaving
// keys not present unchanged. Writing "ID" is rejected at the client layer
// (§6) by the caller, not by this encoder.
func UpdateConfig(config map[string]interface{}) []byte { return pack(OpUpdateConfig, config) }

// SaveConfig requests the device persist its current configuration to
// non-volatile storage.
func SaveConfig() []byte { return pack(OpSaveConfig) }

// DecodeStatus unpacks a single-byte status reply (erase/write/update/save).
func DecodeStatus(payload []byte) (uint8, error) {
	var v uint8
	if err := msgpack.Unmarshal(payload, &v); err != nil {
		return 0, fmt.Errorf("bootcmd: decode status: %w", err)
	}
	return v, nil
}

// DecodeCRC32 unpacks a crc_region reply. The value may be the device's
// computed CRC32 or one of the sentinel error codes 30/31/32 (§4.5/§7);
// the caller (internal/flash) disambiguates, inheriting the documented
// collision risk between a real CRC and those three values (§9 open
// question: not silently fixed).
func DecodeCRC32(payload []byte) (uint32, error) {
	var v uint32
	if err := msgpack.Unmarshal(payload, &v); err != nil {
		return 0, fmt.Errorf("bootcmd: decode crc32: %w", err)
	}
	return v, nil
}

// DecodeConfig unpacks a read_config reply into a map[string]interface{}.
// Each value keeps whatever Go type MessagePack decoding gives it; no value
// type is rejected, and an error is returned only when the payload cannot be
// decoded into that map.
func DecodeConfig(payload []byte) (map[string]interface{}, error) {
	var v map[string]interface{}
	if err := msgpack.Unmarshal(payload, &v); err != nil {
		return nil, fmt.Errorf("bootcmd: decode config: %w", err)
	}
	return v, nil
}
