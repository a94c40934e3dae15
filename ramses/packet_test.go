package ramses

import (
	"bytes"
	"io"
	"log/slog"
	"testing"
	"time"
)

func fixedNow() time.Time { return time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC) }

func TestParsePacketValid(t *testing.T) {
	line := "046  I --- 01:145038 --:------ 01:145038 30C9 003 0003E8"
	p, err := ParsePacket(line, fixedNow())
	if err != nil {
		t.Fatalf("ParsePacket: %v", err)
	}
	if p.Code != "30C9" || p.Length != 3 || p.PayloadHx != "0003E8" {
		t.Errorf("unexpected fields: %+v", p)
	}
	if p.Src().String() != "01:145038" {
		t.Errorf("Src() = %s, want 01:145038", p.Src())
	}
}

func TestParsePacketMalformedGrammar(t *testing.T) {
	if _, err := ParsePacket("not a packet", fixedNow()); err == nil {
		t.Fatal("expected an error for grammar mismatch")
	}
}

func TestPacketIsValidRejectsThreeRealDevices(t *testing.T) {
	a1, _ := ParseAddress("01:145038")
	a2, _ := ParseAddress("04:012345")
	a3, _ := ParseAddress("18:000730")
	p := Packet{Addr: [3]Address{a1, a2, a3}, Length: 3, PayloadHx: "0003E8"}
	if err := p.IsValid(); err == nil {
		t.Fatal("expected an error when all three address slots are real")
	}
}

func TestPacketIsValidRejectsOverlength(t *testing.T) {
	a1, _ := ParseAddress("01:145038")
	p := Packet{Addr: [3]Address{a1, NonDevice, a1}, Length: 49, PayloadHx: string(bytes.Repeat([]byte("0"), 98))}
	if err := p.IsValid(); err == nil {
		t.Fatal("expected an error for length > 48")
	}
}

func TestPacketIsValidRejectsSameTypeDifferentDevices(t *testing.T) {
	a1, _ := ParseAddress("01:145038")
	a2, _ := ParseAddress("01:999999")
	p := Packet{Addr: [3]Address{a1, NonDevice, a2}, Length: 3, PayloadHx: "0003E8"}
	if err := p.IsValid(); err == nil {
		t.Fatal("expected an error when source and destination share a device type")
	}
}

func TestFramerSkipsMalformedLines(t *testing.T) {
	stream := "046  I --- 01:145038 --:------ 01:145038 30C9 003 0003E8\r\n" +
		"garbage line here\r\n" +
		"046 RP --- 01:145038 --:------ 18:000730 000A 003 00012C\r\n"
	var logBuf bytes.Buffer
	log := slog.New(slog.NewTextHandler(&logBuf, nil))
	f := NewFramer(bytes.NewBufferString(stream), log, fixedNow)

	p1, err := f.Next()
	if err != nil {
		t.Fatalf("first Next: %v", err)
	}
	if p1.Code != "30C9" {
		t.Errorf("first packet code = %s, want 30C9", p1.Code)
	}

	p2, err := f.Next()
	if err != nil {
		t.Fatalf("second Next (should skip malformed line): %v", err)
	}
	if p2.Code != "000A" {
		t.Errorf("second packet code = %s, want 000A", p2.Code)
	}

	if _, err := f.Next(); err != io.EOF {
		t.Errorf("expected io.EOF at stream end, got %v", err)
	}
}

func TestFormatOutbound(t *testing.T) {
	ctl, _ := ParseAddress("01:145038")
	line := FormatOutbound(VerbRequest, [3]Address{ctl, NonDevice, ctl}, "0418", "000000")
	if !CommandRegex.MatchString(line) {
		t.Errorf("FormatOutbound output %q does not match CommandRegex", line)
	}
}
