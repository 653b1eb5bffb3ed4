package fragment

import (
	"testing"

	"github.com/arcosh/canboot/internal/can"
	"github.com/arcosh/canboot/internal/datagram"
)

func TestToFromFrames_RoundTrip(t *testing.T) {
	payload := make([]byte, 37)
	for i := range payload {
		payload[i] = byte(i)
	}
	wire := datagram.Encode(payload, []uint8{3, 4})

	frames := ToFrames(wire, 5)
	if len(frames) == 0 {
		t.Fatal("ToFrames returned no frames")
	}
	if !frames[0].IsStartOfDatagram() {
		t.Fatal("first frame missing start-of-datagram bit")
	}
	for i, f := range frames[1:] {
		if f.IsStartOfDatagram() {
			t.Fatalf("frame %d unexpectedly has start-of-datagram bit set", i+1)
		}
	}
	for _, f := range frames {
		if f.Source() != 5 {
			t.Fatalf("frame source = %d, want 5", f.Source())
		}
	}

	r := New()
	var got Decoded
	var ok bool
	for _, f := range frames {
		got, ok = r.Feed(f)
	}
	if !ok {
		t.Fatal("reassembly did not complete on last frame")
	}
	if string(got.Payload) != string(payload) {
		t.Fatalf("payload mismatch: got %v, want %v", got.Payload, payload)
	}
	if got.Source != 5 {
		t.Fatalf("source = %d, want 5", got.Source)
	}
	if len(got.Destinations) != 2 || got.Destinations[0] != 3 || got.Destinations[1] != 4 {
		t.Fatalf("destinations = %v, want [3 4]", got.Destinations)
	}
}

func TestToFrames_EmptyDatagramYieldsOneStartFrame(t *testing.T) {
	frames := ToFrames(nil, 9)
	if len(frames) != 1 {
		t.Fatalf("len(frames) = %d, want 1", len(frames))
	}
	if !frames[0].IsStartOfDatagram() {
		t.Fatal("sole frame missing start-of-datagram bit")
	}
	if frames[0].Len != 0 {
		t.Fatalf("frame len = %d, want 0", frames[0].Len)
	}
}

func TestFeed_InterleavedSources(t *testing.T) {
	wireA := datagram.Encode([]byte("from A"), []uint8{1})
	wireB := datagram.Encode([]byte("from B, a longer payload to span frames"), []uint8{2})
	framesA := ToFrames(wireA, 10)
	framesB := ToFrames(wireB, 20)

	r := New()
	var gotA, gotB Decoded
	var okA, okB bool

	// Interleave: one frame from B between every frame from A.
	for i := 0; i < len(framesA) || i < len(framesB); i++ {
		if i < len(framesB) {
			d, ok := r.Feed(framesB[i])
			if ok {
				gotB, okB = d, ok
			}
		}
		if i < len(framesA) {
			d, ok := r.Feed(framesA[i])
			if ok {
				gotA, okA = d, ok
			}
		}
	}

	if !okA || string(gotA.Payload) != "from A" {
		t.Fatalf("source A reassembly failed: ok=%v payload=%q", okA, gotA.Payload)
	}
	if !okB || string(gotB.Payload) != "from B, a longer payload to span frames" {
		t.Fatalf("source B reassembly failed: ok=%v payload=%q", okB, gotB.Payload)
	}
}

func TestFeed_NewStartPreemptsPending(t *testing.T) {
	wire1 := datagram.Encode([]byte("first datagram, never finished"), []uint8{1})
	wire2 := datagram.Encode([]byte("second"), []uint8{1})
	frames1 := ToFrames(wire1, 7)
	frames2 := ToFrames(wire2, 7)

	r := New()
	// Feed only the first frame of datagram 1, then abandon it by starting
	// datagram 2 from the same source.
	r.Feed(frames1[0])

	var got Decoded
	var ok bool
	for _, f := range frames2 {
		got, ok = r.Feed(f)
	}
	if !ok {
		t.Fatal("reassembly of second datagram did not complete")
	}
	if string(got.Payload) != "second" {
		t.Fatalf("payload = %q, want %q (stale first datagram leaked in)", got.Payload, "second")
	}
}

func TestFeed_ExtendedFrameIgnored(t *testing.T) {
	r := New()
	f := can.Frame{CANID: can.CAN_EFF_FLAG | 0x123, Len: 3, Data: [8]byte{1, 2, 3}}
	_, ok := r.Feed(f)
	if ok {
		t.Fatal("extended frame should never complete a datagram")
	}
}

func TestFeed_OverflowDropsBuffer(t *testing.T) {
	r := New()
	// Header: zero CRC, one destination (1), then a payload length whose
	// last two bytes arrive in the next frame; the declared length is
	// 0x7FFFFFFF, so the buffer only ever decodes as NeedMore.
	first := can.NewStandardFrame(11, true, []byte{0, 0, 0, 0, 1, 1, 0xFF, 0xFF})
	r.Feed(first)
	// Keep appending non-start frames past maxBufferedBytes; the reassembler
	// must drop the buffer rather than grow it unboundedly.
	chunk := []byte{0xFF, 0x7F, 0, 0, 0, 0, 0, 0}
	for i := 0; i < maxBufferedBytes/8+2; i++ {
		_, ok := r.Feed(can.NewStandardFrame(11, false, chunk))
		if ok {
			t.Fatal("unexpected completion while feeding garbage overflow data")
		}
	}
	if n := len(r.buf[11]); n > maxBufferedBytes {
		t.Fatalf("buffered %d bytes for source 11, want at most %d", n, maxBufferedBytes)
	}
}

func TestFeed_CRCMismatchDropsAndRecovers(t *testing.T) {
	wire := datagram.Encode([]byte("payload"), []uint8{1})
	corrupted := append([]byte(nil), wire...)
	corrupted[len(corrupted)-1] ^= 0xFF
	framesBad := ToFrames(corrupted, 2)

	r := New()
	var ok bool
	for _, f := range framesBad {
		_, ok = r.Feed(f)
	}
	if ok {
		t.Fatal("corrupted datagram must not report completion")
	}

	// Same source can still complete a fresh, valid datagram afterwards.
	wireGood := datagram.Encode([]byte("payload"), []uint8{1})
	framesGood := ToFrames(wireGood, 2)
	var got Decoded
	for _, f := range framesGood {
		got, ok = r.Feed(f)
	}
	if !ok || string(got.Payload) != "payload" {
		t.Fatalf("recovery after CRC mismatch failed: ok=%v payload=%q", ok, got.Payload)
	}
}
