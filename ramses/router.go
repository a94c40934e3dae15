package ramses

import (
	"fmt"
	"log/slog"
	"time"
)

// Router applies parsed Messages to a Gateway's entity graph. It is the
// only component that mutates the graph (§4.5); everything else reads a
// snapshot via the Gateway's accessor methods.
type Router struct {
	gwy *Gateway
	log *slog.Logger

	// sensor-matching eavesdropping state, keyed by controller address:
	// the previous 30C9 temperature array and when the current 1F09 sync
	// window was last observed, per §4.5 step 4.
	prevTemps     map[Address]map[string]float64
	prevTempsAt   map[Address]time.Time
	syncRemaining map[Address]time.Duration
	syncObservedAt map[Address]time.Time
}

// NewRouter builds a Router over gwy.
func NewRouter(gwy *Gateway, log *slog.Logger) *Router {
	return &Router{
		gwy:            gwy,
		log:            log,
		prevTemps:      make(map[Address]map[string]float64),
		prevTempsAt:    make(map[Address]time.Time),
		syncRemaining:  make(map[Address]time.Duration),
		syncObservedAt: make(map[Address]time.Time),
	}
}

// Route dispatches one decoded Message into the entity graph. A message
// carrying an Err is logged first, at Info when the host gateway (18:)
// sent it and at Warn otherwise. An invalid message (Valid == false) is
// then counted as a parse error and goes no further: no entity is
// created for it.
func (r *Router) Route(m *Message) error {
	if m.Err != nil {
		if m.Packet.Src().Type == "18" {
			r.log.Info("odd packet from host gateway", "code", m.Packet.Code, "error", m.Err)
		} else {
			r.log.Warn("message dropped", "code", m.Packet.Code, "error", m.Err)
		}
	}
	if !m.Valid {
		r.gwy.Metrics.ParseError()
		return nil
	}

	srcRef, err := r.gwy.GetOrCreateDevice(m.Packet.Src())
	if err != nil {
		return err
	}
	m.SrcDevice = r.gwy.Device(srcRef)

	var dstRef DeviceRef
	if dst := m.Packet.Dst(); dst.IsReal() && dst != m.Packet.Src() {
		dstRef, err = r.gwy.GetOrCreateDevice(dst)
		if err != nil {
			return err
		}
		m.DstDevice = r.gwy.Device(dstRef)
		// A device learned as the destination of a controller-sourced
		// packet is set as that controller's child, per §4.5 step 1.
		if srcDT, ok := m.Packet.Src().DeviceType(); ok && srcDT.IsController {
			if d := r.gwy.Device(dstRef); d != nil && !d.System.Valid() {
				if sysRef, ok := r.systemOf(srcRef); ok {
					d.System = sysRef
				}
			}
		}
	}

	switch m.Packet.Code {
	case "0005":
		return r.handle0005(m, srcRef)
	case "000C":
		return r.handle000C(m, srcRef)
	case "30C9":
		return r.handleSensorMatch(m, srcRef)
	case "1F09":
		return r.handle1F09(m, srcRef)
	case "3220":
		return r.handleHeatRelay3220(m, srcRef, dstRef)
	case "3EF0":
		return r.handleHeatRelay3EF0(m, srcRef, dstRef)
	case "3B00":
		return r.handleHeatRelay3B00(m, srcRef, dstRef)
	case "10A0":
		return r.handle10A0(m, srcRef, dstRef)
	}

	return r.applyCommonFields(m, srcRef)
}

func (r *Router) systemOf(devRef DeviceRef) (SystemRef, bool) {
	dev := r.gwy.Device(devRef)
	if dev == nil {
		return SystemRef{}, false
	}
	if dev.System.Valid() {
		return dev.System, true
	}
	return SystemRef{}, false
}

// applyCommonFields updates the general per-device/per-zone scalar state
// (temperature, setpoint, heat demand, window-open, battery, modulation)
// that most opcodes carry, regardless of opcode-specific structural
// handling above.
func (r *Router) applyCommonFields(m *Message, srcRef DeviceRef) error {
	dev := r.gwy.Device(srcRef)
	if dev == nil {
		return nil
	}
	for _, rec := range m.Records {
		if t, ok := rec["temperature"].(float64); ok {
			v := t
			dev.Temperature = &v
		}
		if t, ok := rec["setpoint"].(float64); ok {
			v := t
			dev.Setpoint = &v
		}
		if hd, ok := rec["heat_demand"].(float64); ok {
			v := hd
			dev.HeatDemand = &v
		}
		if wo, ok := rec["window_open"]; ok {
			if b, ok := wo.(bool); ok {
				dev.WindowOpen = &b
			}
		}
		if ml, ok := rec["modulation_level"].(float64); ok {
			v := ml
			dev.ModulationPct = &v
		}
		if zoneIdxStr, ok := rec["zone_idx"].(string); ok {
			if sysRef, ok := r.systemOf(srcRef); ok {
				zref, err := r.gwy.GetOrCreateZone(sysRef, zoneIdxStr)
				if err != nil {
					return err
				}
				zone := r.gwy.Zone(zref)
				if t, ok := rec["temperature"].(float64); ok {
					v := t
					zone.Temp = &v
				}
				if t, ok := rec["setpoint"].(float64); ok {
					v := t
					zone.Setpoint = &v
				}
			}
		}
	}
	return nil
}

// handle0005 populates a system's zones by bit-mask, per §4.5 step 3.
func (r *Router) handle0005(m *Message, srcRef DeviceRef) error {
	sysRef, ok := r.systemOf(srcRef)
	if !ok {
		return nil
	}
	for _, rec := range m.Records {
		mask, _ := rec["zone_mask"].([]int)
		for _, idx := range mask {
			if _, err := r.gwy.GetOrCreateZone(sysRef, fmt.Sprintf("%02X", idx)); err != nil {
				return err
			}
		}
	}
	return nil
}

// handle000C populates a zone's device list and type from the
// device-class byte, per §4.5 step 3.
func (r *Router) handle000C(m *Message, srcRef DeviceRef) error {
	sysRef, ok := r.systemOf(srcRef)
	if !ok {
		return nil
	}
	for _, rec := range m.Records {
		zoneIdxStr, _ := rec["zone_idx"].(string)
		if zoneIdxStr == "" {
			continue
		}
		zref, err := r.gwy.GetOrCreateZone(sysRef, zoneIdxStr)
		if err != nil {
			return err
		}
		zone := r.gwy.Zone(zref)
		deviceClass, _ := rec["device_class"].(string)
		devices, _ := rec["devices"].([]string)
		for _, idStr := range devices {
			addr, err := ParseAddress(idStr)
			if err != nil {
				continue
			}
			devRef, err := r.gwy.GetOrCreateDevice(addr)
			if err != nil {
				return err
			}
			d := r.gwy.Device(devRef)
			d.System = sysRef
			d.Zone = zref
			switch deviceClass {
			case "sensor":
				if err := r.gwy.SetZoneSensor(zref, devRef); err != nil {
					return err
				}
			case "rad_actuators":
				zone.Type = ZoneTypeRAD
				zone.Actuators = append(zone.Actuators, devRef)
			case "ufh_actuators":
				zone.Type = ZoneTypeUFH
				zone.Actuators = append(zone.Actuators, devRef)
			case "val_actuators":
				zone.Type = ZoneTypeVAL
				zone.Actuators = append(zone.Actuators, devRef)
			case "mix_actuators":
				zone.Type = ZoneTypeMIX
				zone.Actuators = append(zone.Actuators, devRef)
			case "ele_actuators":
				zone.Type = ZoneTypeELE
				zone.Actuators = append(zone.Actuators, devRef)
			}
		}
	}
	return nil
}

// handle1F09 records the current sync-cycle window for a controller, used
// by the sensor-matching eavesdropper to decide whether two consecutive
// 30C9 arrays fall within the same cycle.
func (r *Router) handle1F09(m *Message, srcRef DeviceRef) error {
	dev := r.gwy.Device(srcRef)
	if dev == nil || len(m.Records) == 0 {
		return nil
	}
	remaining, _ := m.Records[0]["remaining_seconds"].(int)
	r.syncRemaining[dev.Addr] = time.Duration(remaining) * time.Second
	r.syncObservedAt[dev.Addr] = m.Packet.RxAt
	return nil
}

// handleSensorMatch implements §4.5 step 4, the eavesdropping sensor
// match, grounded on system.py's find_zone_sensors(): when a controller
// self-broadcasts a 30C9 array and a previous array is on record within
// the current 1F09 sync window, compute the zones whose temperature
// changed between the two arrays to a value no other changed zone shares
// and have no assigned sensor; match each to the unique external sensor
// whose last reported temperature equals it (when that report arrived is
// not checked). If exactly one zone remains sensorless after this pass,
// assign the controller itself as that zone's sensor.
func (r *Router) handleSensorMatch(m *Message, srcRef DeviceRef) error {
	if err := r.applyCommonFields(m, srcRef); err != nil {
		return err
	}

	if !m.IsArray || m.Packet.Src() != m.Packet.Dst() {
		return nil
	}
	dev := r.gwy.Device(srcRef)
	if dev == nil {
		return nil
	}
	ctlAddr := dev.Addr
	sysRef, ok := r.systemOf(srcRef)
	if !ok {
		return nil
	}

	cur := make(map[string]float64, len(m.Records))
	for _, rec := range m.Records {
		zoneIdxStr, _ := rec["zone_idx"].(string)
		t, ok := rec["temperature"].(float64)
		if zoneIdxStr == "" || !ok {
			continue
		}
		cur[zoneIdxStr] = t
	}

	prev, havePrev := r.prevTemps[ctlAddr]
	windowOK := false
	if observed, ok := r.syncObservedAt[ctlAddr]; ok {
		windowOK = m.Packet.RxAt.Sub(observed) <= r.syncRemaining[ctlAddr]+2*time.Second
	}

	r.prevTemps[ctlAddr] = cur
	r.prevTempsAt[ctlAddr] = m.Packet.RxAt

	if !havePrev || !windowOK {
		return nil
	}

	// changed_zones: zones whose temperature differs from the previous
	// array, keyed by the new temperature; a new temperature shared by
	// two+ changed zones cannot be used to disambiguate either.
	deltaCount := map[float64]int{}
	deltaOf := map[string]float64{}
	for idx, t := range cur {
		if p, ok := prev[idx]; ok && p != t {
			deltaOf[idx] = t
			deltaCount[t]++
		}
	}

	var testableZones []string
	for idx, t := range deltaOf {
		if deltaCount[t] != 1 {
			continue
		}
		zref, err := r.gwy.GetOrCreateZone(sysRef, idx)
		if err != nil {
			continue
		}
		zone := r.gwy.Zone(zref)
		if zone.Sensor.Valid() {
			continue
		}
		testableZones = append(testableZones, idx)
	}

	tempCount := map[float64]int{}
	for _, t := range cur {
		tempCount[t]++
	}

	for _, idx := range testableZones {
		t := cur[idx]
		if tempCount[t] != 1 {
			continue // temperature not unique among the reported array
		}
		var matches []DeviceRef
		for _, d := range r.gwy.Devices() {
			if !d.IsSensorCapable() || d.Addr == ctlAddr {
				continue
			}
			if d.Zone.Valid() {
				continue
			}
			if d.Temperature == nil || *d.Temperature != t {
				continue
			}
			if d.System.Valid() && d.System.idx != sysRef.idx {
				continue
			}
			ref, _ := r.gwy.FindDevice(d.Addr)
			matches = append(matches, ref)
		}
		if len(matches) == 1 {
			zref, _ := r.gwy.GetOrCreateZone(sysRef, idx)
			if err := r.gwy.SetZoneSensor(zref, matches[0]); err != nil {
				return err
			}
		}
	}

	return r.assignControllerAsLastResortSensor(sysRef, ctlAddr, srcRef)
}

// assignControllerAsLastResortSensor implements the final pass of §4.5
// step 4: if exactly one zone in the system remains sensorless, the
// controller itself is assigned as that zone's sensor.
func (r *Router) assignControllerAsLastResortSensor(sysRef SystemRef, ctlAddr Address, ctlRef DeviceRef) error {
	sys := r.gwy.System(sysRef)
	if sys == nil {
		return nil
	}
	var sensorless []ZoneRef
	for _, zr := range sys.Zones {
		if !zr.Valid() {
			continue
		}
		zone := r.gwy.Zone(zr)
		if zone != nil && !zone.Sensor.Valid() {
			sensorless = append(sensorless, zr)
		}
	}
	if len(sensorless) == 1 {
		return r.gwy.SetZoneSensor(sensorless[0], ctlRef)
	}
	return nil
}

// handleHeatRelay3220 implements §4.5 step 5 for the OpenTherm-bridge
// case: an RQ 3220 from the controller to a 10:/13: device promotes that
// device to the system's heating control.
func (r *Router) handleHeatRelay3220(m *Message, srcRef, dstRef DeviceRef) error {
	return r.maybePromoteHeatRelay(m, srcRef, dstRef)
}

// handleHeatRelay3EF0 implements the 3EF0-RQ variant of heat-relay
// promotion.
func (r *Router) handleHeatRelay3EF0(m *Message, srcRef, dstRef DeviceRef) error {
	return r.maybePromoteHeatRelay(m, srcRef, dstRef)
}

// handleHeatRelay3B00 implements the 3B00 variant of heat-relay
// promotion: a single 3B00 of any verb from the controller to a 10: or
// 13: device promotes that device; no request/reply pair is required.
func (r *Router) handleHeatRelay3B00(m *Message, srcRef, dstRef DeviceRef) error {
	return r.maybePromoteHeatRelay(m, srcRef, dstRef)
}

func (r *Router) maybePromoteHeatRelay(m *Message, srcRef, dstRef DeviceRef) error {
	if m.Packet.Verb != VerbRequest && m.Packet.Code != "3B00" {
		return nil
	}
	src := r.gwy.Device(srcRef)
	if src == nil {
		return nil
	}
	srcDT, ok := src.Addr.DeviceType()
	if !ok || !srcDT.IsController {
		return nil
	}
	if !dstRef.Valid() {
		return nil
	}
	dst := r.gwy.Device(dstRef)
	if dst == nil {
		return nil
	}
	if dst.Addr.Type != "10" && dst.Addr.Type != "13" {
		return nil
	}
	sysRef, ok := r.systemOf(srcRef)
	if !ok {
		return nil
	}
	return r.gwy.SetHeatingControl(sysRef, dstRef)
}

// handle10A0 implements §4.5 step 6: a 10A0 RP sent from the controller
// to a 07: device binds that device as the DHW sensor.
func (r *Router) handle10A0(m *Message, srcRef, dstRef DeviceRef) error {
	if m.Packet.Verb != VerbReply {
		return nil
	}
	src := r.gwy.Device(srcRef)
	if src == nil {
		return nil
	}
	srcDT, ok := src.Addr.DeviceType()
	if !ok || !srcDT.IsController {
		return nil
	}
	if !dstRef.Valid() {
		return nil
	}
	dst := r.gwy.Device(dstRef)
	if dst == nil || dst.Addr.Type != "07" {
		return nil
	}
	sysRef, ok := r.systemOf(srcRef)
	if !ok {
		return nil
	}
	return r.gwy.SetDHWSensor(sysRef, dstRef)
}
