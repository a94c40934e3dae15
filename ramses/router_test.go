package ramses

import (
	"log/slog"
	"testing"
	"time"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func routeMsg(t *testing.T, r *Router, verb Verb, src, dst Address, code string, length int, payloadHex string, at time.Time) *Message {
	t.Helper()
	p := Packet{RxAt: at, Verb: verb, Addr: [3]Address{src, NonDevice, dst}, Code: code, Length: length, PayloadHx: payloadHex}
	msg := DecodeMessage(p)
	if !msg.Valid {
		t.Fatalf("decode %s failed: %v", code, msg.Err)
	}
	if err := r.Route(msg); err != nil {
		t.Fatalf("route %s: %v", code, err)
	}
	return msg
}

func TestHandle0005PopulatesZonesFromMask(t *testing.T) {
	gwy := NewGateway(4, nil)
	r := NewRouter(gwy, discardLogger())
	ctl := mustAddr(t, "01:145038")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	routeMsg(t, r, VerbReply, ctl, ctl, "0005", 4, "00080003", now)

	sysRef, _ := r.systemOf(mustRef(t, gwy, ctl))
	sys := gwy.System(sysRef)
	if !sys.Zones[0].Valid() || !sys.Zones[1].Valid() {
		t.Fatalf("expected zones 0 and 1 to be created from the bitmask, got %+v", sys.Zones)
	}
}

func mustRef(t *testing.T, gwy *Gateway, addr Address) DeviceRef {
	t.Helper()
	ref, ok := gwy.FindDevice(addr)
	if !ok {
		t.Fatalf("device %s not found", addr)
	}
	return ref
}

func TestHandle000CPopulatesZoneDevicesAndType(t *testing.T) {
	gwy := NewGateway(4, nil)
	r := NewRouter(gwy, discardLogger())
	ctl := mustAddr(t, "01:145038")
	trv := mustAddr(t, "04:012345")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	payload := "0008" + trv.Hex()
	routeMsg(t, r, VerbReply, ctl, ctl, "000C", 5, payload, now)

	sysRef, _ := r.systemOf(mustRef(t, gwy, ctl))
	zref, err := gwy.GetOrCreateZone(sysRef, "00")
	if err != nil {
		t.Fatalf("GetOrCreateZone: %v", err)
	}
	zone := gwy.Zone(zref)
	if zone.Type != ZoneTypeRAD {
		t.Errorf("zone.Type = %v, want ZoneTypeRAD", zone.Type)
	}
	if len(zone.Actuators) != 1 {
		t.Fatalf("expected 1 actuator, got %d", len(zone.Actuators))
	}
	dev := gwy.Device(zone.Actuators[0])
	if dev.Addr != trv {
		t.Errorf("actuator = %s, want %s", dev.Addr, trv)
	}
}

func TestSensorMatchingEavesdropping(t *testing.T) {
	gwy := NewGateway(4, nil)
	r := NewRouter(gwy, discardLogger())
	ctl := mustAddr(t, "01:145038")
	trv := mustAddr(t, "04:012345")
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	// Wide sync window so the two 30C9 arrays below both fall inside it.
	routeMsg(t, r, VerbInfo, ctl, NonDevice, "1F09", 3, "00012C", t0)

	// First array: zone 00 at 20.00C, zone 01 at 21.00C.
	routeMsg(t, r, VerbInfo, ctl, ctl, "30C9", 6, "0007D0010834", t0)

	// The TRV independently reports 20.50C, with no zone assignment yet.
	routeMsg(t, r, VerbInfo, trv, ctl, "30C9", 3, "000802", t0.Add(time.Second))

	// Second array: zone 00 moved uniquely to 20.50C, zone 01 unchanged.
	routeMsg(t, r, VerbInfo, ctl, ctl, "30C9", 6, "000802010834", t0.Add(2*time.Second))

	sysRef, _ := r.systemOf(mustRef(t, gwy, ctl))
	zone0, err := gwy.GetOrCreateZone(sysRef, "00")
	if err != nil {
		t.Fatalf("GetOrCreateZone(00): %v", err)
	}
	zone1, err := gwy.GetOrCreateZone(sysRef, "01")
	if err != nil {
		t.Fatalf("GetOrCreateZone(01): %v", err)
	}
	z0 := gwy.Zone(zone0)
	if !z0.Sensor.Valid() {
		t.Fatal("zone 00 should have matched the TRV as its sensor")
	}
	if gwy.Device(z0.Sensor).Addr != trv {
		t.Errorf("zone 00 sensor = %s, want %s", gwy.Device(z0.Sensor).Addr, trv)
	}

	z1 := gwy.Zone(zone1)
	if !z1.Sensor.Valid() {
		t.Fatal("zone 01 should fall back to the controller as its sensor (the only one left sensorless)")
	}
	if gwy.Device(z1.Sensor).Addr != ctl {
		t.Errorf("zone 01 sensor = %s, want the controller %s", gwy.Device(z1.Sensor).Addr, ctl)
	}
}

func TestHeatRelayPromotionAndConflict(t *testing.T) {
	gwy := NewGateway(4, nil)
	r := NewRouter(gwy, discardLogger())
	ctl := mustAddr(t, "01:145038")
	otb := mustAddr(t, "10:012345")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	routeMsg(t, r, VerbRequest, ctl, otb, "3220", 5, "0080190000", now)

	sysRef, _ := r.systemOf(mustRef(t, gwy, ctl))
	sys := gwy.System(sysRef)
	if !sys.HeatingCtl.Valid() {
		t.Fatal("expected the OTB to be promoted to the system's heating control")
	}
	if gwy.Device(sys.HeatingCtl).Addr != otb {
		t.Errorf("heating control = %s, want %s", gwy.Device(sys.HeatingCtl).Addr, otb)
	}

	relay := mustAddr(t, "13:054321")
	p := Packet{RxAt: now, Verb: VerbRequest, Addr: [3]Address{ctl, NonDevice, relay}, Code: "3EF0", Length: 2, PayloadHx: "0000"}
	msg := DecodeMessage(p)
	if !msg.Valid {
		t.Fatalf("decode 3EF0: %v", msg.Err)
	}
	if err := r.Route(msg); err == nil {
		t.Fatal("expected a corrupt-state error promoting a second, conflicting heat relay")
	}
}

func TestHandle10A0BindsDHWSensor(t *testing.T) {
	gwy := NewGateway(4, nil)
	r := NewRouter(gwy, discardLogger())
	ctl := mustAddr(t, "01:145038")
	dhwSensor := mustAddr(t, "07:012345")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)

	p := Packet{RxAt: now, Verb: VerbReply, Addr: [3]Address{ctl, NonDevice, dhwSensor}, Code: "10A0", Length: 3, PayloadHx: "000898"}
	msg := DecodeMessage(p)
	if !msg.Valid {
		t.Fatalf("decode 10A0: %v", msg.Err)
	}
	if err := r.Route(msg); err != nil {
		t.Fatalf("route 10A0: %v", err)
	}

	sysRef, _ := r.systemOf(mustRef(t, gwy, ctl))
	sys := gwy.System(sysRef)
	if sys.DHW == nil || !sys.DHW.Sensor.Valid() {
		t.Fatal("expected the DHW sensor to be bound")
	}
	if gwy.Device(sys.DHW.Sensor).Addr != dhwSensor {
		t.Errorf("DHW sensor = %s, want %s", gwy.Device(sys.DHW.Sensor).Addr, dhwSensor)
	}
}
