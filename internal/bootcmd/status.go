package bootcmd

import "fmt"

// StatusSuccess is the shared "operation completed" value for erase/write/
// update/save status replies (§4.5: "u8 status (1 = ok)").
const StatusSuccess uint8 = 1

// CorruptDatagram is the erase-reply status that tells the host to resend
// the same offset rather than treat the reply as a terminal failure (§7).
// The spec names CORRUPT_DATAGRAM but does not assign it a number, and it
// does not appear in the original tooling's erase status ladder; the value
// 2 is an inference (the next free code after the shared 0/1 unspecified/
// success pair) and is unconfirmed against actual device firmware.
const CorruptDatagram uint8 = 2

// CRC region sentinel reply codes (§4.5, §7). These overlap in principle
// with a real 32-bit CRC value; that collision is inherited, not patched
// around (§9 open question).
const (
	CRCAddressUnspecified uint32 = 30
	CRCLengthUnspecified  uint32 = 31
	CRCIllegalAddress     uint32 = 32
)

// DescribeStatus renders a human-readable explanation of a status code for
// the given opcode, matching the per-code message ladder the original
// tooling printed (bootloader_flash.py's "error = ..." chain).
func DescribeStatus(op Op, code uint8) string {
	switch op {
	case OpEraseFlashPage:
		switch code {
		case StatusSuccess:
			return "success"
		case 0:
			return "unspecified error"
		case 10:
			return "illegal attempt to erase before app section"
		case 11:
			return "illegal attempt to erase after app section"
		case 12:
			return "device class mismatch"
		case 13:
			return "not erased properly"
		case CorruptDatagram:
			return "corrupt datagram, will retry"
		default:
			return fmt.Sprintf("unrecognized status code %d", code)
		}
	case OpWriteFlash:
		switch code {
		case StatusSuccess:
			return "success"
		case 0:
			return "unspecified error"
		case 20:
			return "illegal attempt to write before app section"
		case 21:
			return "illegal attempt to write after app section"
		case 22:
			return "device class mismatch"
		case 23:
			return "image size not specified"
		case 24:
			return "flash page not erased"
		default:
			return fmt.Sprintf("unrecognized status code %d", code)
		}
	default: // update_config / save_config share the plain 1=ok/0=error shape
		if code == StatusSuccess {
			return "success"
		}
		return fmt.Sprintf("error (code %d)", code)
	}
}

// DescribeCRCStatus renders the crc_region sentinel codes (§7).
func DescribeCRCStatus(code uint32) string {
	switch code {
	case CRCAddressUnspecified:
		return "address unspecified"
	case CRCLengthUnspecified:
		return "length unspecified"
	case CRCIllegalAddress:
		return "illegal address"
	default:
		return fmt.Sprintf("unrecognized status code %d", code)
	}
}
