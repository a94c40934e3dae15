package ramses

import "testing"

func TestGetOrCreateDevicePromotesControllerToSystem(t *testing.T) {
	gwy := NewGateway(0, nil)
	ctl := mustAddr(t, "01:145038")
	ref, err := gwy.GetOrCreateDevice(ctl)
	if err != nil {
		t.Fatalf("GetOrCreateDevice: %v", err)
	}
	dev := gwy.Device(ref)
	if dev == nil {
		t.Fatal("device lookup failed")
	}
	if !dev.System.Valid() {
		t.Fatal("a 01: controller should auto-promote to a System")
	}
	if len(gwy.Systems()) != 1 {
		t.Fatalf("expected exactly one system, got %d", len(gwy.Systems()))
	}
}

func TestGetOrCreateDeviceIsIdempotent(t *testing.T) {
	gwy := NewGateway(0, nil)
	addr := mustAddr(t, "04:012345")
	first, err := gwy.GetOrCreateDevice(addr)
	if err != nil {
		t.Fatalf("GetOrCreateDevice: %v", err)
	}
	second, err := gwy.GetOrCreateDevice(addr)
	if err != nil {
		t.Fatalf("GetOrCreateDevice: %v", err)
	}
	if first != second {
		t.Errorf("expected the same DeviceRef on repeat lookup, got %+v vs %+v", first, second)
	}
	if gwy.DeviceCount() != 1 {
		t.Errorf("DeviceCount() = %d, want 1 (no duplicate device)", gwy.DeviceCount())
	}
}

func TestGetOrCreateDeviceRejectsSentinelAddress(t *testing.T) {
	gwy := NewGateway(0, nil)
	if _, err := gwy.GetOrCreateDevice(NonDevice); err == nil {
		t.Fatal("expected an error creating an entity for the non-device sentinel")
	}
	if _, err := gwy.GetOrCreateDevice(NulDevice); err == nil {
		t.Fatal("expected an error creating an entity for the null-device sentinel")
	}
}

func TestGetOrCreateZoneValidatesRange(t *testing.T) {
	gwy := NewGateway(4, nil)
	ctl := mustAddr(t, "01:145038")
	devRef, err := gwy.GetOrCreateDevice(ctl)
	if err != nil {
		t.Fatalf("GetOrCreateDevice: %v", err)
	}
	sysRef := gwy.Device(devRef).System

	if _, err := gwy.GetOrCreateZone(sysRef, "00"); err != nil {
		t.Fatalf("GetOrCreateZone(00): %v", err)
	}
	if _, err := gwy.GetOrCreateZone(sysRef, "03"); err != nil {
		t.Fatalf("GetOrCreateZone(03): %v", err)
	}
	if _, err := gwy.GetOrCreateZone(sysRef, "04"); err == nil {
		t.Fatal("zone idx 04 should be out of range for a 4-zone system")
	}
}

func TestGetOrCreateZoneIsIdempotent(t *testing.T) {
	gwy := NewGateway(4, nil)
	ctl := mustAddr(t, "01:145038")
	devRef, _ := gwy.GetOrCreateDevice(ctl)
	sysRef := gwy.Device(devRef).System

	first, err := gwy.GetOrCreateZone(sysRef, "01")
	if err != nil {
		t.Fatalf("GetOrCreateZone: %v", err)
	}
	second, err := gwy.GetOrCreateZone(sysRef, "01")
	if err != nil {
		t.Fatalf("GetOrCreateZone: %v", err)
	}
	if first != second {
		t.Errorf("expected the same ZoneRef on repeat lookup, got %+v vs %+v", first, second)
	}
}

func TestSetHeatingControlRejectsConflictingReassignment(t *testing.T) {
	gwy := NewGateway(0, nil)
	ctlRef, _ := gwy.GetOrCreateDevice(mustAddr(t, "01:145038"))
	sysRef := gwy.Device(ctlRef).System

	otbRef, _ := gwy.GetOrCreateDevice(mustAddr(t, "10:012345"))
	if err := gwy.SetHeatingControl(sysRef, otbRef); err != nil {
		t.Fatalf("first SetHeatingControl: %v", err)
	}
	if err := gwy.SetHeatingControl(sysRef, otbRef); err != nil {
		t.Fatalf("re-asserting the same heating control should not error: %v", err)
	}

	otherRef, _ := gwy.GetOrCreateDevice(mustAddr(t, "13:054321"))
	if err := gwy.SetHeatingControl(sysRef, otherRef); err == nil {
		t.Fatal("expected a corrupt-state error reassigning the heating control to a different device")
	}
}

func TestSetZoneSensorRejectsConflictingReassignment(t *testing.T) {
	gwy := NewGateway(4, nil)
	ctlRef, _ := gwy.GetOrCreateDevice(mustAddr(t, "01:145038"))
	sysRef := gwy.Device(ctlRef).System
	zoneRef, _ := gwy.GetOrCreateZone(sysRef, "00")

	sensorA, _ := gwy.GetOrCreateDevice(mustAddr(t, "04:012345"))
	if err := gwy.SetZoneSensor(zoneRef, sensorA); err != nil {
		t.Fatalf("first SetZoneSensor: %v", err)
	}

	sensorB, _ := gwy.GetOrCreateDevice(mustAddr(t, "04:054321"))
	if err := gwy.SetZoneSensor(zoneRef, sensorB); err == nil {
		t.Fatal("expected a corrupt-state error reassigning the zone sensor to a different device")
	}

	dev := gwy.Device(sensorA)
	if dev.Zone != zoneRef {
		t.Error("assigning a zone sensor should back-populate the device's owning zone")
	}
}
