package ramses

import "fmt"

// OTMsgType is one of the eight OpenTherm master/slave message types.
type OTMsgType int

const (
	OTReadData OTMsgType = iota
	OTWriteData
	OTInvalidData
	OTReserved
	OTReadAck
	OTWriteAck
	OTDataInvalid
	OTUnknownDataID
)

var otMsgTypeNames = map[OTMsgType]string{
	OTReadData:      "read_data",
	OTWriteData:     "write_data",
	OTInvalidData:   "invalid_data",
	OTReserved:      "reserved",
	OTReadAck:       "read_ack",
	OTWriteAck:      "write_ack",
	OTDataInvalid:   "data_invalid",
	OTUnknownDataID: "unknown_data_id",
}

// otCodec names the value encoding of an OpenTherm message-id's data
// bytes.
type otCodec int

const (
	otFlag8 otCodec = iota
	otU8
	otS8
	otF88
	otU16
	otS16
	otHBLB // independent high-byte/low-byte fields, no combined value
)

type otMessageDef struct {
	Name  string
	Dir   string // "R-", "-W", "RW"
	Codec otCodec
	Flags []string // named bits, low-to-high, for otFlag8/otHBLB flag bytes
}

// otMessageTable is the message-id lookup table referenced by §4.4,
// carried in full per SPEC_FULL.md's "Full OpenTherm message-id table"
// supplement rather than a representative subset.
var otMessageTable = map[int]otMessageDef{
	0:   {Name: "status", Dir: "RW", Codec: otFlag8, Flags: []string{"fault", "central_heating", "dhw_active", "flame", "cooling", "ch2_active", "diag"}},
	1:   {Name: "control_setpoint", Dir: "-W", Codec: otF88},
	2:   {Name: "master_config", Dir: "-W", Codec: otHBLB},
	3:   {Name: "slave_config", Dir: "R-", Codec: otFlag8},
	4:   {Name: "command", Dir: "-W", Codec: otU8},
	5:   {Name: "fault_flags", Dir: "R-", Codec: otFlag8, Flags: []string{"service", "lockout_reset", "low_water", "gas_flame", "air_press", "water_over_temp"}},
	6:   {Name: "remote_flags", Dir: "R-", Codec: otFlag8},
	8:   {Name: "control_setpoint_2", Dir: "-W", Codec: otF88},
	9:   {Name: "remote_override_room_setpoint", Dir: "R-", Codec: otF88},
	10:  {Name: "tsp_count", Dir: "R-", Codec: otU8},
	14:  {Name: "max_rel_modulation_level", Dir: "-W", Codec: otF88},
	17:  {Name: "rel_modulation_level", Dir: "R-", Codec: otF88},
	18:  {Name: "ch_water_pressure", Dir: "R-", Codec: otF88},
	19:  {Name: "dhw_flow_rate", Dir: "R-", Codec: otF88},
	24:  {Name: "room_temp", Dir: "-W", Codec: otF88},
	25:  {Name: "boiler_water_temp", Dir: "R-", Codec: otF88},
	26:  {Name: "dhw_temp", Dir: "R-", Codec: otF88},
	27:  {Name: "outside_temp", Dir: "R-", Codec: otF88},
	28:  {Name: "return_water_temp", Dir: "R-", Codec: otF88},
	56:  {Name: "dhw_setpoint", Dir: "RW", Codec: otF88},
	57:  {Name: "max_ch_water_setpoint", Dir: "RW", Codec: otF88},
	100: {Name: "remote_override_function", Dir: "R-", Codec: otFlag8},
	115: {Name: "oem_diagnostic_code", Dir: "R-", Codec: otU16},
	116: {Name: "starts_burner", Dir: "R-", Codec: otU16},
	117: {Name: "starts_ch_pump", Dir: "R-", Codec: otU16},
	118: {Name: "starts_dhw_pump", Dir: "R-", Codec: otU16},
	119: {Name: "starts_burner_dhw", Dir: "R-", Codec: otU16},
	120: {Name: "hours_burner", Dir: "R-", Codec: otU16},
	121: {Name: "hours_ch_pump", Dir: "R-", Codec: otU16},
	122: {Name: "hours_dhw_pump", Dir: "R-", Codec: otU16},
	123: {Name: "hours_dhw_burner", Dir: "R-", Codec: otU16},
}

// otParity computes the even-parity fold over the low 31 bits of a 32-bit
// OpenTherm frame (type byte's low 7 bits, message-id byte, two data
// bytes), per §4.4.
func otParity(typeByte, msgID, dataHB, dataLB byte) bool {
	v := uint32(typeByte&0x7F)<<24 | uint32(msgID)<<16 | uint32(dataHB)<<8 | uint32(dataLB)
	parity := byte(0)
	for v != 0 {
		parity ^= byte(v & 1)
		v >>= 1
	}
	return parity == 1
}

// decode3220 decodes an opcode-3220 OpenTherm frame: one reserved byte,
// one parity+type byte, one message-id byte, two data bytes. verb is the
// carrying packet's RQ/RP/I/W verb, needed to enforce §4.4's master/slave
// split on the type byte with its parity bit masked off: for RQ it must be
// < 48 (msg-types 0-2, the master-originated types) and the data bytes
// must be zero; for RP it must be >= 48 (the reserved msg-type 3, or one
// of the four slave-originated msg-types 4-7).
func decode3220(b []byte, verb Verb) (Record, error) {
	if err := requireLen(b, 5); err != nil {
		return nil, err
	}
	typeByte := b[1]
	if typeByte&0x0F != 0 {
		return nil, fmt.Errorf("opentherm: low nibble of type byte must be zero, got %#x", typeByte)
	}
	wantParity := typeByte&0x80 != 0
	gotParity := otParity(typeByte, b[2], b[3], b[4])
	if wantParity != gotParity {
		return nil, fmt.Errorf("opentherm: parity mismatch")
	}
	msgType := OTMsgType((typeByte >> 4) & 0x07)
	typeVal := int(typeByte & 0x7F)
	msgID := int(b[2])

	switch verb {
	case VerbRequest:
		if typeVal >= 48 {
			return nil, fmt.Errorf("opentherm: RQ type %d must be < 48, got msg-type %d (slave-originated)", typeVal, msgType)
		}
		if b[3] != 0 || b[4] != 0 {
			return nil, fmt.Errorf("opentherm: RQ data bytes must be zero")
		}
	case VerbReply:
		if typeVal < 48 {
			return nil, fmt.Errorf("opentherm: RP type %d must be >= 48, got msg-type %d (master-originated)", typeVal, msgType)
		}
	}

	rec := Record{
		"msg_type": otMsgTypeNames[msgType],
		"msg_id":   msgID,
	}

	def, known := otMessageTable[msgID]
	if !known {
		rec["value"] = hexStr(b[3:5])
		return rec, nil
	}
	rec["name"] = def.Name

	switch def.Codec {
	case otFlag8:
		flags := Record{}
		for i, name := range def.Flags {
			if i >= 8 {
				break
			}
			flags[name] = b[3]&(1<<uint(i)) != 0
		}
		rec["flags"] = flags
	case otU8:
		rec["value"] = int(b[4])
	case otS8:
		rec["value"] = int(int8(b[4]))
	case otF88:
		rec["value"] = float64(int16(uint16(b[3])<<8|uint16(b[4]))) / 256.0
	case otU16:
		rec["value"] = int(b[3])<<8 | int(b[4])
	case otS16:
		rec["value"] = int(int16(uint16(b[3])<<8 | uint16(b[4])))
	case otHBLB:
		rec["hb"] = int(b[3])
		rec["lb"] = int(b[4])
	}
	return rec, nil
}
