package bootcmd

import (
	"bytes"
	"io"
	"testing"

	"github.com/vmihailenco/msgpack/v5"
)

// decodeElems drains wire as a stream of standalone MessagePack objects
// (the object-stream shape pack() produces, §3), not one array object.
func decodeElems(t *testing.T, wire []byte) []interface{} {
	t.Helper()
	dec := msgpack.NewDecoder(bytes.NewReader(wire))
	var elems []interface{}
	for {
		v, err := dec.DecodeInterface()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("decode element %d: %v", len(elems), err)
		}
		elems = append(elems, v)
	}
	return elems
}

func TestPing_EncodesBareOpcode(t *testing.T) {
	elems := decodeElems(t, Ping())
	if len(elems) != 1 {
		t.Fatalf("len(elems) = %d, want 1", len(elems))
	}
	if got := toUint8(t, elems[0]); got != uint8(OpPing) {
		t.Fatalf("opcode = %d, want %d", got, OpPing)
	}
}

func TestEraseFlashPage_EncodesArgsInOrder(t *testing.T) {
	elems := decodeElems(t, EraseFlashPage(0x08004000, "motor-board"))
	if len(elems) != 3 {
		t.Fatalf("len(elems) = %d, want 3", len(elems))
	}
	if got := toUint8(t, elems[0]); got != uint8(OpEraseFlashPage) {
		t.Fatalf("opcode = %d, want %d", got, OpEraseFlashPage)
	}
	if got := toUint64(t, elems[1]); got != 0x08004000 {
		t.Fatalf("address = %#x, want %#x", got, 0x08004000)
	}
	if got, _ := elems[2].(string); got != "motor-board" {
		t.Fatalf("device class = %q, want %q", got, "motor-board")
	}
}

func TestWriteFlash_EncodesChunkAddressAndClass(t *testing.T) {
	chunk := []byte{0xDE, 0xAD, 0xBE, 0xEF}
	elems := decodeElems(t, WriteFlash(chunk, 0x1000, "io-board"))
	if len(elems) != 4 {
		t.Fatalf("len(elems) = %d, want 4", len(elems))
	}
	gotChunk, ok := elems[1].([]byte)
	if !ok || string(gotChunk) != string(chunk) {
		t.Fatalf("chunk = %v, want %v", elems[1], chunk)
	}
}

func TestUpdateConfig_EncodesMap(t *testing.T) {
	cfg := map[string]interface{}{"kp": 1.5, "ki": 0}
	elems := decodeElems(t, UpdateConfig(cfg))
	if len(elems) != 2 {
		t.Fatalf("len(elems) = %d, want 2", len(elems))
	}
	got, ok := elems[1].(map[string]interface{})
	if !ok {
		t.Fatalf("second element is %T, want map[string]interface{}", elems[1])
	}
	if got["kp"] != 1.5 {
		t.Fatalf("kp = %v, want 1.5", got["kp"])
	}
}

func TestDecodeStatus_RoundTrip(t *testing.T) {
	wire, err := msgpack.Marshal(uint8(StatusSuccess))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := DecodeStatus(wire)
	if err != nil {
		t.Fatalf("DecodeStatus: %v", err)
	}
	if got != StatusSuccess {
		t.Fatalf("status = %d, want %d", got, StatusSuccess)
	}
}

func TestDecodeCRC32_RoundTrip(t *testing.T) {
	wire, err := msgpack.Marshal(uint32(0xCAFEBABE))
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := DecodeCRC32(wire)
	if err != nil {
		t.Fatalf("DecodeCRC32: %v", err)
	}
	if got != 0xCAFEBABE {
		t.Fatalf("crc = %#x, want %#x", got, 0xCAFEBABE)
	}
}

func TestDecodeConfig_RoundTrip(t *testing.T) {
	cfg := map[string]interface{}{"kp": 1.5, "name": "wheel"}
	wire, err := msgpack.Marshal(cfg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	got, err := DecodeConfig(wire)
	if err != nil {
		t.Fatalf("DecodeConfig: %v", err)
	}
	if got["name"] != "wheel" {
		t.Fatalf("name = %v, want wheel", got["name"])
	}
}

func TestDecodeStatus_MalformedPayload(t *testing.T) {
	if _, err := DecodeStatus([]byte{0xFF, 0xFF, 0xFF}); err == nil {
		t.Fatal("expected error decoding malformed status payload")
	}
}

func TestOp_String(t *testing.T) {
	cases := map[Op]string{
		OpJumpToMain:     "jump_to_main",
		OpPing:           "ping",
		OpWriteFlash:     "write_flash",
		OpSaveConfig:     "save_config",
		Op(200):          "op(200)",
	}
	for op, want := range cases {
		if got := op.String(); got != want {
			t.Errorf("Op(%d).String() = %q, want %q", op, got, want)
		}
	}
}

func TestDescribeStatus_EraseCodes(t *testing.T) {
	cases := map[uint8]string{
		StatusSuccess:   "success",
		0:               "unspecified error",
		12:              "device class mismatch",
		CorruptDatagram: "corrupt datagram, will retry",
		99:              "unrecognized status code 99",
	}
	for code, want := range cases {
		if got := DescribeStatus(OpEraseFlashPage, code); got != want {
			t.Errorf("DescribeStatus(erase, %d) = %q, want %q", code, got, want)
		}
	}
}

func TestDescribeStatus_WriteCodes(t *testing.T) {
	cases := map[uint8]string{
		StatusSuccess: "success",
		24:            "flash page not erased",
		20:            "illegal attempt to write before app section",
	}
	for code, want := range cases {
		if got := DescribeStatus(OpWriteFlash, code); got != want {
			t.Errorf("DescribeStatus(write, %d) = %q, want %q", code, got, want)
		}
	}
}

func TestDescribeStatus_GenericOps(t *testing.T) {
	if got := DescribeStatus(OpSaveConfig, StatusSuccess); got != "success" {
		t.Errorf("DescribeStatus(save, success) = %q, want success", got)
	}
	if got := DescribeStatus(OpUpdateConfig, 7); got != "error (code 7)" {
		t.Errorf("DescribeStatus(update, 7) = %q, want %q", got, "error (code 7)")
	}
}

func TestDescribeCRCStatus(t *testing.T) {
	cases := map[uint32]string{
		CRCAddressUnspecified: "address unspecified",
		CRCLengthUnspecified:  "length unspecified",
		CRCIllegalAddress:     "illegal address",
		12345:                 "unrecognized status code 12345",
	}
	for code, want := range cases {
		if got := DescribeCRCStatus(code); got != want {
			t.Errorf("DescribeCRCStatus(%d) = %q, want %q", code, got, want)
		}
	}
}

func toUint8(t *testing.T, v interface{}) uint8 {
	t.Helper()
	switch n := v.(type) {
	case uint8:
		return n
	case int8:
		return uint8(n)
	case int64:
		return uint8(n)
	case uint64:
		return uint8(n)
	default:
		t.Fatalf("unexpected numeric type %T", v)
		return 0
	}
}

func toUint64(t *testing.T, v interface{}) uint64 {
	t.Helper()
	switch n := v.(type) {
	case uint64:
		return n
	case int64:
		return uint64(n)
	case uint32:
		return uint64(n)
	default:
		t.Fatalf("unexpected numeric type %T", v)
		return 0
	}
}
