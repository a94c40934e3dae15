package ramses

import "fmt"

// Record is a single decoded payload element. Opcodes whose payload is an
// array (see IsArrayPacket) produce one Message with multiple Records;
// all others produce exactly one.
type Record map[string]any

// Message is a Packet plus its parsed payload and resolved entities.
type Message struct {
	Packet  Packet
	Header  Header
	Records []Record // len 1 for a record opcode, len >= 0 for an array
	IsArray bool
	Valid   bool
	Err     error

	SrcDevice *Device
	DstDevice *Device
	Zone      *Zone // affected zone, if any, resolved by the router
}

// arrayOpcodes enumerates the opcodes that are arrays when and only when
// src == dst and the verb is I or RP (the controller self-broadcasting),
// per §4.3. 0009 additionally requires payload length >= 6 bytes and a
// leading domain byte; 22C9/3150 additionally require a UFH-controller
// source; 2249 additionally requires a programmer (23:) source; 000C and
// 1FC9 are arrays whenever I/RP regardless of src==dst.
var arrayOpcodesSrcEqDst = map[string]bool{
	"000A": true, "2309": true, "30C9": true,
}

var arrayOpcodesAlways = map[string]bool{
	"000C": true, "1FC9": true,
}

// IsArrayPacket implements the array-detection predicate of §4.3/TESTABLE
// PROPERTY 8. Address equality is by canonical id (Address is a value
// type compared with ==), not object identity, per §9's Design Notes.
func IsArrayPacket(p Packet) bool {
	if arrayOpcodesAlways[p.Code] {
		return p.Verb == VerbInfo || p.Verb == VerbReply
	}
	srcEqDst := p.Src() == p.Dst()
	selfBroadcast := srcEqDst && (p.Verb == VerbInfo || p.Verb == VerbReply)

	switch p.Code {
	case "0009":
		if !selfBroadcast {
			return false
		}
		return p.Length >= 6 && len(p.PayloadHx) >= 2 && p.PayloadHx[0:2] >= "F8"
	case "22C9", "3150":
		if !selfBroadcast {
			return false
		}
		return p.Src().Type == "02"
	case "2249":
		if !selfBroadcast {
			return false
		}
		return p.Src().Type == "23"
	}
	if arrayOpcodesSrcEqDst[p.Code] {
		return selfBroadcast
	}
	return false
}

// arrayElementLength gives the nybble-width of one array element for the
// opcodes that are ever arrays, used by the registry to chunk payload hex.
var arrayElementLength = map[string]int{
	"000A": 6, "2309": 6, "30C9": 6,
	"000C": 6, "1FC9": 6,
	"0009": 6, "22C9": 6, "3150": 4, "2249": 14,
}

// DecodeMessage parses p's payload using the opcode registry, producing a
// Message with its validity flag set per the error taxonomy: an unknown
// opcode or a decoder's own length/range assertion failure downgrades to
// Valid=false with Err populated, never a panic.
func DecodeMessage(p Packet) *Message {
	h := HeaderOf(p)
	m := &Message{Packet: p, Header: h}

	if p.Src().Type == "18" {
		if err := p.IsValid(); err != nil {
			// host gateway oddities are logged at Info, not Warn, by the
			// caller; DecodeMessage itself only records the detail.
			m.Err = err
		}
	}

	decoder, ok := registry[p.Code]
	if !ok {
		m.Err = fmt.Errorf("ramses: no parser registered for opcode %s", p.Code)
		return m
	}

	isArray := IsArrayPacket(p)
	m.IsArray = isArray

	records, err := decoder(p, isArray)
	if err != nil {
		m.Err = fmt.Errorf("ramses: opcode %s parse error: %w", p.Code, err)
		return m
	}
	m.Records = records
	m.Valid = true
	return m
}
