package ramses

import "fmt"

// decoderFunc is the pure payload decoder every opcode registers:
// (payload, is-this-message-an-array) -> records, or a parse error.
type decoderFunc func(p Packet, isArray bool) ([]Record, error)

// registry maps each 4-hex opcode to its decoder. Unknown opcodes fail at
// DecodeMessage with a "no parser registered" error, which the router
// logs at Warn and drops, per §7's "Unknown opcode" taxonomy entry.
var registry = map[string]decoderFunc{}

func register(code string, fn decoderFunc) { registry[code] = fn }

// single wraps a fixed-shape, non-array decoder: it ignores isArray
// (those opcodes never satisfy IsArrayPacket) and returns exactly one
// record built from the whole payload.
func single(build func(b []byte) (Record, error)) decoderFunc {
	return func(p Packet, isArray bool) ([]Record, error) {
		b, err := decodeBytes(p.PayloadHx)
		if err != nil {
			return nil, err
		}
		rec, err := build(b)
		if err != nil {
			return nil, err
		}
		return []Record{rec}, nil
	}
}

// singleVerb wraps a fixed-shape, non-array decoder that also needs the
// carrying packet's verb (only opcode 3220's RQ/RP master-slave split
// needs this; every other opcode uses single()).
func singleVerb(build func(b []byte, verb Verb) (Record, error)) decoderFunc {
	return func(p Packet, isArray bool) ([]Record, error) {
		b, err := decodeBytes(p.PayloadHx)
		if err != nil {
			return nil, err
		}
		rec, err := build(b, p.Verb)
		if err != nil {
			return nil, err
		}
		return []Record{rec}, nil
	}
}

// chunked wraps an opcode that is sometimes an array: when isArray, the
// payload is chunked into elemLen-byte elements and build is invoked once
// per element; otherwise build runs once over the whole payload.
func chunked(elemLen int, build func(b []byte) (Record, error)) decoderFunc {
	return func(p Packet, isArray bool) ([]Record, error) {
		b, err := decodeBytes(p.PayloadHx)
		if err != nil {
			return nil, err
		}
		if !isArray {
			rec, err := build(b)
			if err != nil {
				return nil, err
			}
			return []Record{rec}, nil
		}
		if len(b)%elemLen != 0 {
			return nil, fmt.Errorf("array payload length %d not a multiple of element length %d", len(b), elemLen)
		}
		var out []Record
		for off := 0; off < len(b); off += elemLen {
			rec, err := build(b[off : off+elemLen])
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
		return out, nil
	}
}

func init() {
	// 0001 - unknown, zone-idx carrying "ping" style opcode.
	register("0001", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 1); err != nil {
			return nil, err
		}
		return Record{"zone_idx": zoneIdx(b[0]), "raw": hexStr(b)}, nil
	}))

	// 0002 - outdoor sensor temperature.
	register("0002", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 3); err != nil {
			return nil, err
		}
		t, err := temperature(b[0:2])
		if err != nil {
			return nil, err
		}
		return Record{"temperature": t}, nil
	}))

	// 0004 - zone name.
	register("0004", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 3); err != nil {
			return nil, err
		}
		name := trimNulString(b[2:])
		return Record{"zone_idx": zoneIdx(b[0]), "name": name}, nil
	}))

	// 0005 - system zones bitmask, for a requested zone-type selector.
	register("0005", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 4); err != nil {
			return nil, err
		}
		zoneType := Code0005ZoneType[fmt.Sprintf("%02X", b[1])]
		mask := decodeZoneMask(b[2:4])
		return Record{"zone_type": zoneType, "zone_mask": mask}, nil
	}))

	// 0006 - schedule change counter.
	register("0006", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 4); err != nil {
			return nil, err
		}
		return Record{"change_counter": int(b[2])<<8 | int(b[3])}, nil
	}))

	// 0008 - relay demand / heat demand percentage for a domain or zone.
	register("0008", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 2); err != nil {
			return nil, err
		}
		return Record{"domain_or_zone_idx": hexStr(b[0:1]), "relay_demand": percentByte(b[1])}, nil
	}))

	// 0009 - per-zone/domain failsafe-mode flags; arrayable.
	register("0009", chunked(3, func(b []byte) (Record, error) {
		if err := requireLen(b, 3); err != nil {
			return nil, err
		}
		return Record{"domain_or_zone_idx": hexStr(b[0:1]), "failsafe_enabled": b[1]&0x01 != 0}, nil
	}))

	// 000A - zone configuration (min/max setpoint, local override); arrayable.
	register("000A", chunked(6, func(b []byte) (Record, error) {
		if err := requireLen(b, 6); err != nil {
			return nil, err
		}
		minT, err := temperature(b[2:4])
		if err != nil {
			return nil, err
		}
		maxT, err := temperature(b[4:6])
		if err != nil {
			return nil, err
		}
		return Record{
			"zone_idx":       zoneIdx(b[0]),
			"min_temp":       minT,
			"max_temp":       maxT,
			"local_override": b[1]&0x01 == 0,
			"openwindow":     b[1]&0x02 != 0,
		}, nil
	}))

	// 000C - zone/domain device list; a device-class selector byte
	// dictates whether the leading disambiguator is a zone idx, UFH idx
	// or domain id. Always an array per arrayOpcodesAlways.
	register("000C", func(p Packet, isArray bool) ([]Record, error) {
		b, err := decodeBytes(p.PayloadHx)
		if err != nil {
			return nil, err
		}
		if err := requireMinLen(b, 4); err != nil {
			return nil, err
		}
		deviceClass := Code000CDeviceType[fmt.Sprintf("%02X", b[1])]
		rec := Record{
			"zone_idx":     zoneIdx(b[0]),
			"device_class": deviceClass,
		}
		var devices []string
		for off := 2; off+3 <= len(b); off += 3 {
			addr, err := AddressFromHex(hexStr(b[off : off+3]))
			if err != nil {
				return nil, err
			}
			if addr.IsReal() {
				devices = append(devices, addr.String())
			}
		}
		rec["devices"] = devices
		return []Record{rec}, nil
	})

	// 000E - unknown, always a fixed 3-byte record.
	register("000E", single(func(b []byte) (Record, error) {
		return Record{"raw": hexStr(b)}, nil
	}))

	// 0016 - RF signal test / ping.
	register("0016", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 2); err != nil {
			return nil, err
		}
		return Record{"rf_check": int(b[1])}, nil
	}))

	// 0100 - controller display language.
	register("0100", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 5); err != nil {
			return nil, err
		}
		return Record{"language": string(b[1:3])}, nil
	}))

	// 01D0 / 01E9 - zone binding handshake markers.
	register("01D0", single(func(b []byte) (Record, error) {
		return Record{"raw": hexStr(b)}, nil
	}))
	register("01E9", single(func(b []byte) (Record, error) {
		return Record{"raw": hexStr(b)}, nil
	}))

	// 0404 - zone schedule fragment; decoded in full by schedule.go, this
	// entry only exposes the frame header fields to the generic pipeline.
	register("0404", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 7); err != nil {
			return nil, err
		}
		return Record{
			"zone_idx":    zoneIdx(b[0]),
			"frag_number": int(b[4]),
			"frag_total":  int(b[5]),
			"frag_length": int(b[6]),
		}, nil
	}))

	// 0418 - fault log entry; decoded in full by faultlog.go, this entry
	// exposes the common fields for generic consumers.
	register("0418", single(decode0418))

	// 042F - unknown counter packet.
	register("042F", single(func(b []byte) (Record, error) {
		return Record{"raw": hexStr(b)}, nil
	}))

	// 1030 - UFH controller per-circuit configuration.
	register("1030", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 1); err != nil {
			return nil, err
		}
		return Record{"ufh_idx": zoneIdx(b[0]), "raw": hexStr(b[1:])}, nil
	}))

	// 1060 - device battery status.
	register("1060", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 3); err != nil {
			return nil, err
		}
		return Record{
			"zone_idx":     zoneIdx(b[0]),
			"battery_low":  b[2]&0x01 == 0,
			"battery_pct":  percentByte(b[1]),
		}, nil
	}))

	// 1090 - OTB outdoor/return temperature pair.
	register("1090", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 5); err != nil {
			return nil, err
		}
		t1, err := temperature(b[1:3])
		if err != nil {
			return nil, err
		}
		t2, err := temperature(b[3:5])
		if err != nil {
			return nil, err
		}
		return Record{"temperature_1": t1, "temperature_2": t2}, nil
	}))

	// 10A0 - DHW params (setpoint, overrun, differential).
	register("10A0", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 3); err != nil {
			return nil, err
		}
		setpoint, err := temperature(b[1:3])
		if err != nil {
			return nil, err
		}
		rec := Record{"setpoint": setpoint}
		if len(b) >= 4 {
			rec["overrun_minutes"] = int(b[3])
		}
		if len(b) >= 6 {
			diff, err := temperature(b[4:6])
			if err == nil {
				rec["differential"] = diff
			}
		}
		return rec, nil
	}))

	// 10E0 - device hardware/version info.
	register("10E0", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 6); err != nil {
			return nil, err
		}
		return Record{"manufacturer_sub_id": hexStr(b[0:2]), "product_id": hexStr(b[2:3]), "description": trimNulString(b[6:])}, nil
	}))

	// 1100 - TPI (boiler relay) cycle parameters.
	register("1100", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 5); err != nil {
			return nil, err
		}
		return Record{
			"domain_id":       hexStr(b[0:1]),
			"cycle_rate":      int(b[1]) / 4,
			"min_on_time":     float64(b[2]) / 4,
			"min_off_time":    float64(b[3]) / 4,
		}, nil
	}))

	// 1260 - DHW sensor temperature.
	register("1260", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 3); err != nil {
			return nil, err
		}
		t, err := temperature(b[1:3])
		if err != nil {
			return nil, err
		}
		return Record{"temperature": t}, nil
	}))

	// 1290 - outdoor temperature (OTB variant).
	register("1290", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 3); err != nil {
			return nil, err
		}
		t, err := temperature(b[1:3])
		if err != nil {
			return nil, err
		}
		return Record{"temperature": t}, nil
	}))

	// 12A0 - indoor humidity.
	register("12A0", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 2); err != nil {
			return nil, err
		}
		return Record{"relative_humidity": percentByte(b[1])}, nil
	}))

	// 12B0 - window-open state for a zone.
	register("12B0", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 2); err != nil {
			return nil, err
		}
		return Record{"zone_idx": zoneIdx(b[0]), "window_open": boolByte(b[1])}, nil
	}))

	// 1F09 - sync-cycle timer, used to window sensor-matching eavesdropping.
	register("1F09", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 3); err != nil {
			return nil, err
		}
		remaining := int(b[1])<<8 | int(b[2])
		return Record{"sync_method": hexStr(b[0:1]), "remaining_seconds": remaining / 10}, nil
	}))

	// 1F41 - DHW mode.
	register("1F41", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 6); err != nil {
			return nil, err
		}
		return Record{"active": boolByte(b[1]), "mode": ZoneModeMap[fmt.Sprintf("%02X", b[2])]}, nil
	}))

	// 1FC9 - device binding offer/accept; always an array.
	register("1FC9", chunked(6, func(b []byte) (Record, error) {
		if err := requireLen(b, 6); err != nil {
			return nil, err
		}
		addr, err := AddressFromHex(hexStr(b[3:6]))
		if err != nil {
			return nil, err
		}
		return Record{"domain_id": hexStr(b[0:1]), "code": hexStr(b[1:3]), "device": addr.String()}, nil
	}))

	// 1FD4 - sequence counter heartbeat.
	register("1FD4", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 2); err != nil {
			return nil, err
		}
		return Record{"ticker": int(b[0])<<8 | int(b[1])}, nil
	}))

	// 2249 - programmer zone now/next setpoint; arrayable per-zone.
	register("2249", chunked(7, func(b []byte) (Record, error) {
		if err := requireLen(b, 7); err != nil {
			return nil, err
		}
		now, err := temperature(b[1:3])
		if err != nil {
			return nil, err
		}
		next, err := temperature(b[3:5])
		if err != nil {
			return nil, err
		}
		return Record{"zone_idx": zoneIdx(b[0]), "setpoint_now": now, "setpoint_next": next}, nil
	}))

	// 22C9 - UFH controller per-circuit setpoint range; arrayable.
	register("22C9", chunked(6, func(b []byte) (Record, error) {
		if err := requireLen(b, 6); err != nil {
			return nil, err
		}
		lo, err := temperature(b[1:3])
		if err != nil {
			return nil, err
		}
		hi, err := temperature(b[3:5])
		if err != nil {
			return nil, err
		}
		return Record{"ufh_idx": zoneIdx(b[0]), "setpoint_low": lo, "setpoint_high": hi}, nil
	}))

	// 22D0 - unknown, domain-tagged.
	register("22D0", single(func(b []byte) (Record, error) {
		return Record{"raw": hexStr(b)}, nil
	}))

	// 22D9 - OTB boiler setpoint.
	register("22D9", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 3); err != nil {
			return nil, err
		}
		t, err := temperature(b[1:3])
		if err != nil {
			return nil, err
		}
		return Record{"boiler_setpoint": t}, nil
	}))

	// 22F1 / 22F3 - fan rate/boost (HVAC).
	register("22F1", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 3); err != nil {
			return nil, err
		}
		return Record{"fan_mode": int(b[1]), "fan_mode_count": int(b[2])}, nil
	}))
	register("22F3", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 3); err != nil {
			return nil, err
		}
		return Record{"boost_minutes": int(b[1])<<8 | int(b[2])}, nil
	}))

	// 2309 - zone setpoint; arrayable.
	register("2309", chunked(3, func(b []byte) (Record, error) {
		if err := requireLen(b, 3); err != nil {
			return nil, err
		}
		t, err := temperature(b[1:3])
		if err != nil {
			return nil, err
		}
		return Record{"zone_idx": zoneIdx(b[0]), "setpoint": t}, nil
	}))

	// 2349 - zone setpoint override with mode and optional until-datetime.
	register("2349", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 7); err != nil {
			return nil, err
		}
		t, err := temperature(b[1:3])
		if err != nil {
			return nil, err
		}
		rec := Record{"zone_idx": zoneIdx(b[0]), "setpoint": t, "mode": ZoneModeMap[fmt.Sprintf("%02X", b[3])]}
		if len(b) >= 13 {
			until, err := datetime(b[7:13])
			if err == nil {
				rec["until"] = until
			}
		}
		return rec, nil
	}))

	// 2D49 - unknown, Hometronics.
	register("2D49", single(func(b []byte) (Record, error) {
		return Record{"raw": hexStr(b)}, nil
	}))

	// 2E04 - system mode read/write.
	register("2E04", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 1); err != nil {
			return nil, err
		}
		rec := Record{"system_mode": SystemModeMap[fmt.Sprintf("%02X", b[0])]}
		if len(b) >= 7 {
			until, err := datetime(b[1:7])
			if err == nil {
				rec["until"] = until
			}
		}
		if len(b) >= 8 {
			rec["is_until"] = b[7] != 0
		}
		return rec, nil
	}))

	// 30C9 - zone temperature; arrayable.
	register("30C9", chunked(3, func(b []byte) (Record, error) {
		if err := requireLen(b, 3); err != nil {
			return nil, err
		}
		t, err := temperature(b[1:3])
		if err != nil {
			return nil, err
		}
		return Record{"zone_idx": zoneIdx(b[0]), "temperature": t}, nil
	}))

	// 3120 - unknown device status byte-pack.
	register("3120", single(func(b []byte) (Record, error) {
		return Record{"raw": hexStr(b)}, nil
	}))

	// 313F - datetime sync.
	register("313F", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 7); err != nil {
			return nil, err
		}
		dt, err := datetime(b[1:7])
		if err != nil {
			return nil, err
		}
		return Record{"datetime": dt}, nil
	}))

	// 3150 - zone/domain heat demand percentage; arrayable for UFH source.
	register("3150", chunked(2, func(b []byte) (Record, error) {
		if err := requireLen(b, 2); err != nil {
			return nil, err
		}
		return Record{"zone_idx": zoneIdx(b[0]), "heat_demand": percentByte(b[1])}, nil
	}))

	// 31D9 - ventilation state (supplemented, see SPEC_FULL.md).
	register("31D9", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 3); err != nil {
			return nil, err
		}
		rec := Record{"fan_info": hexStr(b[0:1]), "exhaust_fan_speed": percentByte(b[1])}
		if len(b) >= 4 {
			rec["bypass_position"] = percentByte(b[3])
		}
		return rec, nil
	}))

	// 31DA - extended ventilation sensor record (supplemented).
	register("31DA", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 2); err != nil {
			return nil, err
		}
		rec := Record{"domain_id": hexStr(b[0:1])}
		if len(b) >= 4 {
			rec["air_quality"] = percentByte(b[3])
		}
		if len(b) >= 6 {
			co2, err := temperature(b[4:6])
			if err == nil {
				rec["co2_level"] = co2
			}
		}
		if len(b) >= 8 {
			rec["indoor_humidity"] = percentByte(b[6])
		}
		return rec, nil
	}))

	// 31E0 - ventilation on/off indicator (supplemented).
	register("31E0", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 4); err != nil {
			return nil, err
		}
		return Record{"state": boolByte(b[3])}, nil
	}))

	// 3220 - OpenTherm frame; fully decoded by opentherm.go.
	register("3220", singleVerb(decode3220))

	// 3B00 - actuator sync / boiler-relay pairing pulse.
	register("3B00", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 2); err != nil {
			return nil, err
		}
		return Record{"domain_id": hexStr(b[0:1]), "active": boolByte(b[1])}, nil
	}))

	// 3EF0 - actuator current state (modulation level).
	register("3EF0", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 2); err != nil {
			return nil, err
		}
		return Record{"modulation_level": percentByte(b[1])}, nil
	}))

	// 3EF1 - actuator cycle request/response.
	register("3EF1", single(func(b []byte) (Record, error) {
		if err := requireMinLen(b, 7); err != nil {
			return nil, err
		}
		return Record{
			"zone_idx":         zoneIdx(b[0]),
			"cycle_countdown":  int(b[1])<<8 | int(b[2]),
			"modulation_level": percentByte(b[6]),
		}, nil
	}))
}

func trimNulString(b []byte) string {
	end := len(b)
	for end > 0 && (b[end-1] == 0x00 || b[end-1] == 0x7F) {
		end--
	}
	return string(b[:end])
}

func decodeZoneMask(b []byte) []int {
	v := int(b[0])<<8 | int(b[1])
	var zones []int
	for i := 0; i < 16; i++ {
		if v&(1<<i) != 0 {
			zones = append(zones, i)
		}
	}
	return zones
}
