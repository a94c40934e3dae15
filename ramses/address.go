package ramses

import (
	"fmt"
	"strconv"
	"strings"
)

// Address is a 9-character device identifier of the form "TT:NNNNNN".
// It is immutable once constructed and comparable by value.
type Address struct {
	Type   string // two-digit prefix, e.g. "01"
	Serial int    // 0..262143 (18 bits)
}

// NonDevice is the "--:------" sentinel: slot absent.
var NonDevice = Address{Type: "--", Serial: 0}

// NulDevice is the "63:262142" sentinel: null/broadcast destination.
var NulDevice = Address{Type: "63", Serial: 262142}

// ParseAddress parses a "TT:NNNNNN" string, validating both the grammar
// and that TT names a known device type.
func ParseAddress(id string) (Address, error) {
	if !DeviceIDRegex.MatchString(id) {
		return Address{}, fmt.Errorf("ramses: malformed device id %q", id)
	}
	parts := strings.SplitN(id, ":", 2)
	typ, serialStr := parts[0], parts[1]
	if typ == "--" {
		return NonDevice, nil
	}
	if _, ok := DeviceTypes[typ]; !ok {
		return Address{}, fmt.Errorf("ramses: unknown device type %q in %q", typ, id)
	}
	serial, err := strconv.Atoi(serialStr)
	if err != nil {
		return Address{}, fmt.Errorf("ramses: malformed serial in %q: %w", id, err)
	}
	return Address{Type: typ, Serial: serial}, nil
}

// IsNonDevice reports whether a is the "--:------" absent-slot sentinel.
func (a Address) IsNonDevice() bool { return a.Type == "--" }

// IsNull reports whether a is the "63:262142" null/broadcast sentinel.
func (a Address) IsNull() bool { return a.Type == "63" && a.Serial == 262142 }

// IsReal reports whether a names an actual device (neither sentinel).
func (a Address) IsReal() bool { return !a.IsNonDevice() && !a.IsNull() }

// String renders the canonical "TT:NNNNNN" form.
func (a Address) String() string {
	if a.IsNonDevice() {
		return NonDeviceID
	}
	return fmt.Sprintf("%s:%06d", a.Type, a.Serial)
}

// Friendly renders "CTL:145038" style output using the device type's
// short mnemonic, falling back to the raw type if unknown.
func (a Address) Friendly() string {
	if a.IsNonDevice() {
		return strings.Repeat(" ", 10)
	}
	short := a.Type
	if dt, ok := DeviceTypes[a.Type]; ok {
		short = dt.Short
	}
	return fmt.Sprintf("%-3s:%06d", short, a.Serial)
}

// DeviceType resolves the type table entry for a, which must be a real
// device address (see IsReal).
func (a Address) DeviceType() (DeviceType, bool) {
	dt, ok := DeviceTypes[a.Type]
	return dt, ok
}

// Hex packs a into its 24-bit on-wire representation, as carried in a
// Packet's address-triple and command/header payload fields: the type in
// the top six bits, the serial in the bottom eighteen.
func (a Address) Hex() string {
	if a.IsNonDevice() {
		return "      "
	}
	typ, _ := strconv.Atoi(a.Type)
	packed := (typ << 18) | (a.Serial & 0x3FFFF)
	return fmt.Sprintf("%06X", packed)
}

// AddressFromHex unpacks a 24-bit on-wire hex device id, honouring the
// FFFFFE null-device and blank/absent sentinels.
func AddressFromHex(hex string) (Address, error) {
	if hex == "FFFFFE" {
		return NulDevice, nil
	}
	if strings.TrimSpace(hex) == "" {
		return NonDevice, nil
	}
	packed, err := strconv.ParseInt(hex, 16, 64)
	if err != nil {
		return Address{}, fmt.Errorf("ramses: malformed hex device id %q: %w", hex, err)
	}
	typ := (packed & 0xFC0000) >> 18
	serial := packed & 0x03FFFF
	return ParseAddress(fmt.Sprintf("%02d:%06d", typ, serial))
}
