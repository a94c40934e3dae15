package ramses

import "fmt"

// Arena-style storage per §9's Design Notes: every entity lives in a
// slice owned by the Gateway, referenced elsewhere only by a typed index
// — never by pointer cycles. A DeviceRef/ZoneRef/SystemRef of zero value
// with Valid=false denotes "no entity", the Go analogue of the source's
// None.

type DeviceRef struct {
	idx   int
	valid bool
}

func (r DeviceRef) Valid() bool { return r.valid }

type ZoneRef struct {
	idx   int
	valid bool
}

func (r ZoneRef) Valid() bool { return r.valid }

type SystemRef struct {
	idx   int
	valid bool
}

func (r SystemRef) Valid() bool { return r.valid }

// Device is a tagged-variant entity: it carries the union of all
// role-specific optional state fields (battery, setpoint, temperature,
// heat demand, window-open, actuator cycle, OpenTherm cache) rather than
// the source's per-role mixin composition, per §9 ("do not reproduce the
// diamond composition").
type Device struct {
	Addr     Address
	System   SystemRef // owning controller, if any
	Zone     ZoneRef   // owning zone, if any
	DomainID string    // non-empty if this device fills a domain role

	FriendlyName string
	Ignore       bool

	// Role-specific optional state. A nil pointer means "not yet observed
	// for this device"; role-capability (e.g. HasBattery) is read from
	// DeviceTypes, not inferred from whether the pointer is set.
	BatteryLow    *bool
	BatteryPct    *float64
	Temperature   *float64
	Setpoint      *float64
	HeatDemand    *float64
	WindowOpen    *bool
	ModulationPct *float64
	OpenThermMsgs map[int]Record
}

// IsSensorCapable reports whether the device's type can serve as a zone
// sensor (used by the eavesdropping match in router.go).
func (d *Device) IsSensorCapable() bool {
	dt, ok := DeviceTypes[d.Addr.Type]
	return ok && dt.HasZoneSensor
}

// Zone models §3's Zone entity.
type Zone struct {
	Idx        string
	System     SystemRef
	Type       ZoneType
	Sensor     DeviceRef
	Actuators  []DeviceRef
	Setpoint   *float64
	Temp       *float64
	Mode       ZoneMode
	MinTemp    *float64
	MaxTemp    *float64
	schedule   *Schedule // lazily fetched, see schedule.go
}

// DhwZone is the distinguished domain-FA zone.
type DhwZone struct {
	System     SystemRef
	Sensor     DeviceRef
	HotWaterValve DeviceRef
	HeatingValve  DeviceRef
	Setpoint   *float64
	Temp       *float64
	State      string // "off"/"on"
}

// System models §3's System (controller) entity: MAX_ZONES-bounded zones,
// an optional DHW, an optional heating-control relay, a fault log and
// system-level mode/language/datetime state.
type System struct {
	Controller   DeviceRef
	MaxZones     int
	Zones        [DefaultMaxZones]ZoneRef // sparse; ZoneRef.Valid() gates use
	DHW          *DhwZone
	HeatingCtl   DeviceRef
	Mode         SystemMode
	Language     string
	Datetime     string
	FaultLog     *FaultLogClient
}

// Gateway owns exactly one serial transport's worth of entity state: a
// flat device arena, a system arena and the zones each system spans. It
// is the sole writer of the graph (§4.5); every accessor elsewhere is a
// read-only view via the index tables below.
type Gateway struct {
	devices []*Device
	byAddr  map[Address]int

	systems []*System
	zones   []*Zone

	MaxZones int
	Metrics  *Metrics
}

// NewGateway constructs an empty entity graph. maxZones defaults to
// DefaultMaxZones when <= 0.
func NewGateway(maxZones int, metrics *Metrics) *Gateway {
	if maxZones <= 0 {
		maxZones = DefaultMaxZones
	}
	return &Gateway{byAddr: make(map[Address]int), MaxZones: maxZones, Metrics: metrics}
}

// Device resolves a DeviceRef to its entity; nil if invalid.
func (g *Gateway) Device(r DeviceRef) *Device {
	if !r.valid || r.idx < 0 || r.idx >= len(g.devices) {
		return nil
	}
	return g.devices[r.idx]
}

// System resolves a SystemRef to its entity; nil if invalid.
func (g *Gateway) System(r SystemRef) *System {
	if !r.valid || r.idx < 0 || r.idx >= len(g.systems) {
		return nil
	}
	return g.systems[r.idx]
}

// Zone resolves a ZoneRef to its entity; nil if invalid.
func (g *Gateway) Zone(r ZoneRef) *Zone {
	if !r.valid || r.idx < 0 || r.idx >= len(g.zones) {
		return nil
	}
	return g.zones[r.idx]
}

// FindDevice looks up a device by address without creating it.
func (g *Gateway) FindDevice(addr Address) (DeviceRef, bool) {
	idx, ok := g.byAddr[addr]
	if !ok {
		return DeviceRef{}, false
	}
	return DeviceRef{idx: idx, valid: true}, true
}

// GetOrCreateDevice returns the existing device at addr, or creates one.
// Controllers (01/23) auto-promote to Systems per §4.5 step 1.
func (g *Gateway) GetOrCreateDevice(addr Address) (DeviceRef, error) {
	if !addr.IsReal() {
		return DeviceRef{}, fmt.Errorf("ramses: cannot create an entity for sentinel address %s", addr)
	}
	if ref, ok := g.FindDevice(addr); ok {
		return ref, nil
	}
	dev := &Device{Addr: addr}
	idx := len(g.devices)
	g.devices = append(g.devices, dev)
	g.byAddr[addr] = idx
	ref := DeviceRef{idx: idx, valid: true}

	if dt, ok := addr.DeviceType(); ok && dt.IsController {
		if _, err := g.getOrCreateSystem(ref); err != nil {
			return ref, err
		}
	}
	g.Metrics.SetKnownDevices(len(g.devices))
	return ref, nil
}

func (g *Gateway) getOrCreateSystem(ctl DeviceRef) (SystemRef, error) {
	dev := g.Device(ctl)
	if dev == nil {
		return SystemRef{}, fmt.Errorf("ramses: invalid controller ref")
	}
	if dev.System.Valid() {
		return dev.System, nil
	}
	sys := &System{Controller: ctl, MaxZones: g.MaxZones, FaultLog: NewFaultLogClient()}
	idx := len(g.systems)
	g.systems = append(g.systems, sys)
	ref := SystemRef{idx: idx, valid: true}
	dev.System = ref
	return ref, nil
}

// GetOrCreateZone returns system sys's zone at idxStr, creating it (and
// validating idx < MAX_ZONES, invariant 3 / TESTABLE SCENARIO 6) if
// necessary.
func (g *Gateway) GetOrCreateZone(sysRef SystemRef, idxStr string) (ZoneRef, error) {
	sys := g.System(sysRef)
	if sys == nil {
		return ZoneRef{}, fmt.Errorf("ramses: invalid system ref")
	}
	idx, err := atoiHex2(idxStr)
	if err != nil {
		return ZoneRef{}, fmt.Errorf("ramses: malformed zone idx %q: %w", idxStr, err)
	}
	if idx < 0 || idx >= sys.MaxZones {
		return ZoneRef{}, fmt.Errorf("ramses: zone idx %d out of range [0,%d)", idx, sys.MaxZones)
	}
	if sys.Zones[idx].Valid() {
		return sys.Zones[idx], nil
	}
	zone := &Zone{Idx: idxStr, System: sysRef}
	zi := len(g.zones)
	g.zones = append(g.zones, zone)
	ref := ZoneRef{idx: zi, valid: true}
	sys.Zones[idx] = ref
	return ref, nil
}

// SetHeatingControl assigns a system's boiler-relay/OTB device. A later
// conflicting assignment is a corrupt-state error per §3's invariants and
// TESTABLE SCENARIO 5.
func (g *Gateway) SetHeatingControl(sysRef SystemRef, dev DeviceRef) error {
	sys := g.System(sysRef)
	if sys == nil {
		return fmt.Errorf("ramses: invalid system ref")
	}
	if sys.HeatingCtl.Valid() && sys.HeatingCtl.idx != dev.idx {
		return fmt.Errorf("ramses: corrupt state: heating control reassigned from device #%d to #%d", sys.HeatingCtl.idx, dev.idx)
	}
	sys.HeatingCtl = dev
	return nil
}

// SetDHWSensor binds a system's DHW sensor device, rejecting a
// conflicting reassignment per §3's invariants.
func (g *Gateway) SetDHWSensor(sysRef SystemRef, dev DeviceRef) error {
	sys := g.System(sysRef)
	if sys == nil {
		return fmt.Errorf("ramses: invalid system ref")
	}
	if sys.DHW == nil {
		sys.DHW = &DhwZone{System: sysRef}
	}
	if sys.DHW.Sensor.Valid() && sys.DHW.Sensor.idx != dev.idx {
		return fmt.Errorf("ramses: corrupt state: DHW sensor reassigned from device #%d to #%d", sys.DHW.Sensor.idx, dev.idx)
	}
	sys.DHW.Sensor = dev
	return nil
}

// SetZoneSensor binds a zone's sensor device, rejecting a conflicting
// reassignment.
func (g *Gateway) SetZoneSensor(zoneRef ZoneRef, dev DeviceRef) error {
	zone := g.Zone(zoneRef)
	if zone == nil {
		return fmt.Errorf("ramses: invalid zone ref")
	}
	if zone.Sensor.Valid() && zone.Sensor.idx != dev.idx {
		return fmt.Errorf("ramses: corrupt state: zone %s sensor reassigned from device #%d to #%d", zone.Idx, zone.Sensor.idx, dev.idx)
	}
	zone.Sensor = dev
	d := g.Device(dev)
	if d != nil {
		d.Zone = zoneRef
	}
	return nil
}

// DeviceCount reports the number of known devices, for metrics/debug.
func (g *Gateway) DeviceCount() int { return len(g.devices) }

// Devices returns a read-only snapshot of the device arena, in creation
// order, for the HTTP introspection surface.
func (g *Gateway) Devices() []*Device {
	out := make([]*Device, len(g.devices))
	copy(out, g.devices)
	return out
}

// Systems returns a read-only snapshot of the system arena.
func (g *Gateway) Systems() []*System {
	out := make([]*System, len(g.systems))
	copy(out, g.systems)
	return out
}
