package ramses

import "testing"

func TestParseAddressRoundTrip(t *testing.T) {
	tests := []string{"01:145038", "04:012345", "07:032000", "13:000001"}
	for _, id := range tests {
		t.Run(id, func(t *testing.T) {
			addr, err := ParseAddress(id)
			if err != nil {
				t.Fatalf("ParseAddress(%q): %v", id, err)
			}
			if got := addr.String(); got != id {
				t.Errorf("String() = %q, want %q", got, id)
			}
		})
	}
}

func TestParseAddressSentinels(t *testing.T) {
	nd, err := ParseAddress(NonDeviceID)
	if err != nil {
		t.Fatalf("ParseAddress(NonDeviceID): %v", err)
	}
	if !nd.IsNonDevice() || nd.IsReal() {
		t.Errorf("NonDevice classification wrong: %+v", nd)
	}

	nul, err := ParseAddress("63:262142")
	if err != nil {
		t.Fatalf("ParseAddress(nul): %v", err)
	}
	if !nul.IsNull() || nul.IsReal() {
		t.Errorf("NulDevice classification wrong: %+v", nul)
	}
}

func TestParseAddressMalformed(t *testing.T) {
	cases := []string{"", "01-145038", "99:145038", "01:14503"}
	for _, c := range cases {
		if _, err := ParseAddress(c); err == nil {
			t.Errorf("ParseAddress(%q) should have failed", c)
		}
	}
}

func TestAddressHexRoundTrip(t *testing.T) {
	addr, err := ParseAddress("01:145038")
	if err != nil {
		t.Fatalf("ParseAddress: %v", err)
	}
	hex := addr.Hex()
	back, err := AddressFromHex(hex)
	if err != nil {
		t.Fatalf("AddressFromHex(%q): %v", hex, err)
	}
	if back != addr {
		t.Errorf("round trip = %+v, want %+v", back, addr)
	}
}

func TestAddressFromHexSentinels(t *testing.T) {
	nul, err := AddressFromHex("FFFFFE")
	if err != nil || !nul.IsNull() {
		t.Errorf("AddressFromHex(FFFFFE) = %+v, %v; want NulDevice", nul, err)
	}
	nd, err := AddressFromHex("      ")
	if err != nil || !nd.IsNonDevice() {
		t.Errorf("AddressFromHex(blank) = %+v, %v; want NonDevice", nd, err)
	}
}
