package ramses

import (
	"testing"
	"time"
)

func mustAddr(t *testing.T, id string) Address {
	t.Helper()
	a, err := ParseAddress(id)
	if err != nil {
		t.Fatalf("ParseAddress(%q): %v", id, err)
	}
	return a
}

func TestDecode30C9AsSingleRecord(t *testing.T) {
	ctl := mustAddr(t, "01:145038")
	trv := mustAddr(t, "04:012345")
	p := Packet{Verb: VerbInfo, Addr: [3]Address{trv, NonDevice, ctl}, Code: "30C9", Length: 3, PayloadHx: "000898"}
	msg := DecodeMessage(p)
	if !msg.Valid {
		t.Fatalf("decode failed: %v", msg.Err)
	}
	if msg.IsArray {
		t.Error("a 30C9 from a sensor to its controller is not an array")
	}
	if len(msg.Records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(msg.Records))
	}
	if msg.Records[0]["temperature"] != 22.0 {
		t.Errorf("temperature = %v, want 22.0", msg.Records[0]["temperature"])
	}
}

func TestDecode30C9AsArray(t *testing.T) {
	ctl := mustAddr(t, "01:145038")
	p := Packet{Verb: VerbInfo, Addr: [3]Address{ctl, NonDevice, ctl}, Code: "30C9", Length: 6, PayloadHx: "00089801096C"}
	msg := DecodeMessage(p)
	if !msg.Valid {
		t.Fatalf("decode failed: %v", msg.Err)
	}
	if !msg.IsArray {
		t.Error("a controller self-broadcasting 30C9 is an array")
	}
	if len(msg.Records) != 2 {
		t.Fatalf("expected 2 records, got %d", len(msg.Records))
	}
	if msg.Records[0]["zone_idx"] != "00" || msg.Records[1]["zone_idx"] != "01" {
		t.Errorf("unexpected zone indices: %+v", msg.Records)
	}
}

func TestDecode000CAlwaysArray(t *testing.T) {
	ctl := mustAddr(t, "01:145038")
	// zone_idx=00, device_class=04 (sensor), one device 04:012345 packed as 0x103039
	p := Packet{Verb: VerbReply, Addr: [3]Address{ctl, NonDevice, ctl}, Code: "000C", Length: 5, PayloadHx: "0004" + mustAddr(t, "04:012345").Hex()}
	msg := DecodeMessage(p)
	if !msg.Valid {
		t.Fatalf("decode failed: %v", msg.Err)
	}
	if !msg.IsArray {
		t.Error("000C is always treated as an array opcode")
	}
	rec := msg.Records[0]
	if rec["device_class"] != "sensor" {
		t.Errorf("device_class = %v, want sensor", rec["device_class"])
	}
	devices, _ := rec["devices"].([]string)
	if len(devices) != 1 || devices[0] != "04:012345" {
		t.Errorf("devices = %v, want [04:012345]", devices)
	}
}

func TestDecodeUnknownOpcode(t *testing.T) {
	ctl := mustAddr(t, "01:145038")
	p := Packet{Verb: VerbInfo, Addr: [3]Address{ctl, NonDevice, ctl}, Code: "FFFF", Length: 1, PayloadHx: "00"}
	msg := DecodeMessage(p)
	if msg.Valid {
		t.Fatal("unknown opcode must not decode as valid")
	}
	if msg.Err == nil {
		t.Fatal("unknown opcode must populate Err")
	}
}

func TestDecode30C9ThreeZoneArray(t *testing.T) {
	ctl := mustAddr(t, "01:145038")
	// zone 00 -> 20.24C, zone 01 -> 21.20C, zone 02 -> 21.00C.
	p := Packet{Verb: VerbInfo, Addr: [3]Address{ctl, NonDevice, ctl}, Code: "30C9", Length: 9, PayloadHx: "0007E8010848020834"}
	msg := DecodeMessage(p)
	if !msg.Valid {
		t.Fatalf("decode failed: %v", msg.Err)
	}
	want := []struct {
		idx string
		t   float64
	}{{"00", 20.24}, {"01", 21.2}, {"02", 21.0}}
	if len(msg.Records) != len(want) {
		t.Fatalf("expected %d records, got %d", len(want), len(msg.Records))
	}
	for i, w := range want {
		rec := msg.Records[i]
		if rec["zone_idx"] != w.idx {
			t.Errorf("records[%d].zone_idx = %v, want %v", i, rec["zone_idx"], w.idx)
		}
		if rec["temperature"] != w.t {
			t.Errorf("records[%d].temperature = %v, want %v", i, rec["temperature"], w.t)
		}
	}
}

func TestDecodeOutOfRangeZoneIdxIsRejectedAtRouting(t *testing.T) {
	gwy := NewGateway(12, nil)
	r := NewRouter(gwy, discardLogger())
	ctl := mustAddr(t, "01:145038")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// zone_idx 13 (0x0D) is out of range for a 12-zone system (MAX_ZONES=12).
	p := Packet{RxAt: now, Verb: VerbInfo, Addr: [3]Address{ctl, NonDevice, NonDevice}, Code: "30C9", Length: 3, PayloadHx: "0D0000"}
	msg := DecodeMessage(p)
	if !msg.Valid {
		t.Fatalf("decode should succeed at the parser level: %v", msg.Err)
	}

	if err := r.Route(msg); err == nil {
		t.Fatal("expected a zone-idx-out-of-range error when routing a zone_idx 13 message against a 12-zone system")
	}
}

func TestIsArrayPacketStableAcrossCalls(t *testing.T) {
	ctl := mustAddr(t, "01:145038")
	p := Packet{Verb: VerbInfo, Addr: [3]Address{ctl, NonDevice, ctl}, Code: "30C9", Length: 6, PayloadHx: "00089801096C"}
	first := IsArrayPacket(p)
	for i := 0; i < 5; i++ {
		if IsArrayPacket(p) != first {
			t.Fatal("IsArrayPacket is not stable across repeated calls on the same packet")
		}
	}
}
