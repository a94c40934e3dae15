package ramses

import "fmt"

// Header is the QoS correlation key derived from a packet: verb,
// representative address, opcode and an opcode-specific disambiguator.
// A request header and its expected reply header differ only by a verb
// swap; Header.Reply() produces that pair.
type Header struct {
	Verb          Verb
	Addr          Address
	Code          string
	Disambiguator string // "" when the opcode carries none
}

func (h Header) String() string {
	if h.Disambiguator == "" {
		return fmt.Sprintf("%s|%s|%s", h.Verb, h.Addr, h.Code)
	}
	return fmt.Sprintf("%s|%s|%s|%s", h.Verb, h.Addr, h.Code, h.Disambiguator)
}

// Reply derives the header the matching reply to h must carry.
func (h Header) Reply() Header {
	return Header{Verb: h.Verb.Swap(), Addr: h.Addr, Code: h.Code, Disambiguator: h.Disambiguator}
}

// HeaderOf derives the correlation header for a packet, choosing the
// opcode-specific disambiguator:
//   - 0005/000C: the leading payload byte, as the zone index
//   - 0404: "zone_idx+frag_idx"
//   - 0418: log_idx
//   - the closed NoIdxOpcodes set: no disambiguator
//   - MayUseDomainID opcodes: a leading domain byte F8..FE, if present
//   - otherwise: the leading zone/domain byte if the payload is long
//     enough to carry one, else none
func HeaderOf(p Packet) Header {
	h := Header{Verb: p.Verb, Addr: p.Src(), Code: p.Code}
	h.Disambiguator = disambiguatorOf(p)
	return h
}

func disambiguatorOf(p Packet) string {
	if NoIdxOpcodes[p.Code] {
		return ""
	}
	payload := p.PayloadHx
	switch p.Code {
	case "0005":
		if len(payload) >= 2 {
			return payload[0:2]
		}
		return ""
	case "000C":
		if len(payload) >= 2 {
			return payload[0:2]
		}
		return ""
	case "0404":
		if len(payload) >= 4 {
			return payload[0:2] + "+" + payload[2:4]
		}
		return ""
	case "0418":
		// log_idx occupies the last three payload bytes of the request;
		// a 22-byte reply record carries it as byte 2, which is widened
		// to the same six-hex form so a request and its reply correlate.
		if len(payload) == 44 {
			return "0000" + payload[4:6]
		}
		if len(payload) >= 6 {
			return payload[len(payload)-6:]
		}
		return ""
	}
	if len(payload) < 2 {
		return ""
	}
	lead := payload[0:2]
	if MayUseDomainID[p.Code] && lead >= "F8" && lead <= "FE" {
		return lead
	}
	if MayUseZoneIdx[p.Code] {
		return lead
	}
	return ""
}

// MayUseZoneIdx is the set of opcodes whose leading payload byte is a
// zone index (mirrors CODE_SCHEMA's "uses_zone_idx" entries upstream).
var MayUseZoneIdx = map[string]bool{
	"0001": true, "0004": true, "0008": true, "0009": true, "000A": true,
	"0016": true, "01D0": true, "01E9": true, "0404": true, "1030": true,
	"1060": true, "12B0": true, "1FC9": true, "2249": true, "2309": true,
	"2349": true, "30C9": true, "3150": true, "3EF1": true,
}
