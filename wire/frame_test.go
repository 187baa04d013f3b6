package wire

import (
	"bytes"
	"testing"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	payload := []byte("hello, fabric")
	buf := Encode(Meta{UnitType: UnitComputeUnit, PackageType: PkgText, SrcUUID: 1, TgtUUID: 2}, payload, false)

	p := NewStreamParser(false)
	frames, unprocessed := p.Feed(buf)
	if unprocessed != 0 {
		t.Fatalf("unprocessed = %d, want 0", unprocessed)
	}
	if len(frames) != 1 {
		t.Fatalf("got %d frames, want 1", len(frames))
	}
	f := frames[0]
	if !bytes.Equal(f.Payload, payload) {
		t.Fatalf("payload mismatch: %q != %q", f.Payload, payload)
	}
	if f.Meta.SrcUUID != 1 || f.Meta.TgtUUID != 2 || f.Meta.PackageType != PkgText {
		t.Fatalf("meta mismatch: %+v", f.Meta)
	}
}

func TestEncodeDecodeWithChecksum(t *testing.T) {
	payload := []byte("checked payload")
	buf := Encode(Meta{PackageType: PkgWork}, payload, true)
	p := NewStreamParser(true)
	frames, unprocessed := p.Feed(buf)
	if unprocessed != 0 || len(frames) != 1 {
		t.Fatalf("unprocessed=%d frames=%d", unprocessed, len(frames))
	}
	if !bytes.Equal(frames[0].Payload, payload) {
		t.Fatal("payload mismatch with checksum enabled")
	}
}

// TestFramingRoundTripProperty is the direct test of spec.md §8
// invariant 8: for any byte stream formed by concatenating N valid
// frames followed by a partial frame of k bytes, the parser invokes
// exactly N callbacks (here: returns exactly N frames) and reports
// exactly k unprocessed bytes with the partial frame at buffer start.
func TestFramingRoundTripProperty(t *testing.T) {
	var all []byte
	const n = 5
	for i := 0; i < n; i++ {
		all = append(all, Encode(Meta{PackageType: PkgPlanResponse, SrcUUID: uint64(i)}, []byte("payload"), false)...)
	}
	full := Encode(Meta{PackageType: PkgPlanResponse}, []byte("trailing"), false)
	k := 10
	partial := full[:k]
	stream := append(all, partial...)

	p := NewStreamParser(false)
	frames, unprocessed := p.Feed(stream)
	if len(frames) != n {
		t.Fatalf("got %d frames, want %d", len(frames), n)
	}
	if unprocessed != k {
		t.Fatalf("unprocessed = %d, want %d", unprocessed, k)
	}
	for i, f := range frames {
		if f.Meta.SrcUUID != uint64(i) {
			t.Fatalf("frame %d SrcUUID = %d, want %d", i, f.Meta.SrcUUID, i)
		}
	}
}

func TestFeedAcrossMultipleCalls(t *testing.T) {
	buf := Encode(Meta{PackageType: PkgText}, []byte("split-me"), false)
	p := NewStreamParser(false)

	mid := len(buf) / 2
	frames, unprocessed := p.Feed(buf[:mid])
	if len(frames) != 0 {
		t.Fatalf("expected 0 frames from a half-delivered frame, got %d", len(frames))
	}
	if unprocessed != mid {
		t.Fatalf("unprocessed = %d, want %d", unprocessed, mid)
	}
	frames, unprocessed = p.Feed(buf[mid:])
	if len(frames) != 1 || unprocessed != 0 {
		t.Fatalf("after completing the frame: frames=%d unprocessed=%d", len(frames), unprocessed)
	}
}

func TestResyncSkipsGarbageBeforeMagic(t *testing.T) {
	garbage := []byte{0x00, 0x01, 0x02, 0x03, 0x04}
	valid := Encode(Meta{PackageType: PkgText}, []byte("ok"), false)
	stream := append(garbage, valid...)

	p := NewStreamParser(false)
	frames, unprocessed := p.Feed(stream)
	if len(frames) != 1 || unprocessed != 0 {
		t.Fatalf("frames=%d unprocessed=%d, want 1,0", len(frames), unprocessed)
	}
	if string(frames[0].Payload) != "ok" {
		t.Fatalf("payload = %q, want ok", frames[0].Payload)
	}
}
