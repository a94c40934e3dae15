// Package ramses decodes, encodes and reconstructs installation state for
// the RAMSES-II RF protocol used by Honeywell evohome and compatible
// heating controllers.
package ramses

import "regexp"

// DefaultMaxZones bounds a System's zone index range; Hometronics
// controllers and dev builds may report more, but 12 is the common case.
const DefaultMaxZones = 12

const (
	HGIDeviceID = "18:000730"
	NonDeviceID = "--:------"
	NulDeviceID = "63:262142"
)

// DeviceType describes what the corpus calls a device's archetype: its
// two-digit address prefix and the capabilities that follow from it.
type DeviceType struct {
	Code          string
	Short         string // e.g. "CTL", "TRV"
	Name          string
	HasBattery    bool
	HasZoneSensor bool
	IsController  bool
	IsSensor      bool
}

// DeviceTypes is keyed by the two-digit address prefix.
var DeviceTypes = map[string]DeviceType{
	"01": {Code: "01", Short: "CTL", Name: "Controller", IsController: true, IsSensor: true},
	"02": {Code: "02", Short: "UFC", Name: "UFH Controller"},
	"03": {Code: "03", Short: "STa", Name: "Room Sensor/Stat", HasBattery: true, HasZoneSensor: true, IsSensor: true},
	"04": {Code: "04", Short: "TRV", Name: "Radiator Valve", HasBattery: true, HasZoneSensor: true, IsSensor: true},
	"07": {Code: "07", Short: "DHW", Name: "DHW Sensor", HasBattery: true, IsSensor: true},
	"08": {Code: "08", Short: "JIM", Name: "HVAC Jasper interface"},
	"10": {Code: "10", Short: "OTB", Name: "OpenTherm Bridge"},
	"13": {Code: "13", Short: "BDR", Name: "Wireless Relay"},
	"17": {Code: "17", Short: " 17", Name: "Outdoor Sensor?"},
	"18": {Code: "18", Short: "HGI", Name: "Honeywell Gateway"},
	"20": {Code: "20", Short: "VCE", Name: "HVAC"},
	"22": {Code: "22", Short: "THM", Name: "Room Thermostat", HasBattery: true, HasZoneSensor: true, IsSensor: true},
	"23": {Code: "23", Short: "PRG", Name: "Programmer (wired)", IsSensor: true},
	"30": {Code: "30", Short: "GWY", Name: "Internet Gateway"},
	"31": {Code: "31", Short: "JST", Name: "HVAC Jasper stat"},
	"32": {Code: "32", Short: "VMS", Name: "HVAC sensor/switch"},
	"34": {Code: "34", Short: "STA", Name: "Round Thermostat", HasBattery: true, HasZoneSensor: true, IsSensor: true},
	"37": {Code: "37", Short: " 37", Name: "HVAC"},
	"39": {Code: "39", Short: "VMS", Name: "HVAC sensor/switch"},
	"49": {Code: "49", Short: " 49", Name: "HVAC switch"},
	"63": {Code: "63", Short: "NUL", Name: "Null Device"},
	"--": {Code: "--", Short: "---", Name: "No Device"},
}

// DeviceLookup maps a device's Short code back to its address prefix, as
// used when a friendly "CTL:145038" form is parsed back to "01:145038".
var DeviceLookup = func() map[string]string {
	m := make(map[string]string, len(DeviceTypes))
	for code, dt := range DeviceTypes {
		m[dt.Short] = code
	}
	return m
}()

// DomainID is a one-byte system-level identifier in F8..FE.
type DomainID string

const (
	DomainHeatingValve DomainID = "F9"
	DomainHotWaterValve DomainID = "FA"
	DomainHeatingControl DomainID = "FC"
	DomainHometronicsUnknown DomainID = "FD"
)

// DomainTypeNames describes the domain ids that carry a defined meaning;
// F8 and FB are reserved/unused.
var DomainTypeNames = map[DomainID]string{
	DomainHeatingValve:       "heating_valve",
	DomainHotWaterValve:      "hotwater_valve",
	DomainHeatingControl:     "heating_control",
	DomainHometronicsUnknown: "unknown",
}

// MayUseDomainID is the set of opcodes whose leading payload byte may be a
// DomainID (F8..FE) rather than a zone index.
var MayUseDomainID = map[string]bool{
	"0001": true, "0008": true, "0009": true, "1100": true,
	"1FC9": true, "3150": true, "3B00": true,
}

// NoIdxOpcodes is the closed set of opcodes that carry no zone/domain
// disambiguator at all.
var NoIdxOpcodes = map[string]bool{
	"1F09": true, "1FC9": true, "2E04": true,
}

type SystemMode string

const (
	SysModeAuto          SystemMode = "auto"
	SysModeHeatOff       SystemMode = "heat_off"
	SysModeEcoBoost      SystemMode = "eco_boost"
	SysModeAway          SystemMode = "away"
	SysModeDayOff        SystemMode = "day_off"
	SysModeDayOffEco     SystemMode = "day_off_eco"
	SysModeAutoWithReset SystemMode = "auto_with_reset"
	SysModeCustom        SystemMode = "custom"
)

var SystemModeMap = map[string]SystemMode{
	"00": SysModeAuto,
	"01": SysModeHeatOff,
	"02": SysModeEcoBoost,
	"03": SysModeAway,
	"04": SysModeDayOff,
	"05": SysModeDayOffEco,
	"06": SysModeAutoWithReset,
	"07": SysModeCustom,
}

type ZoneMode string

const (
	ZoneModeSchedule  ZoneMode = "follow_schedule"
	ZoneModeAdvanced  ZoneMode = "advanced_override"
	ZoneModePermanent ZoneMode = "permanent_override"
	ZoneModeCountdown ZoneMode = "countdown_override"
	ZoneModeTemporary ZoneMode = "temporary_override"
)

var ZoneModeMap = map[string]ZoneMode{
	"00": ZoneModeSchedule,
	"01": ZoneModeAdvanced,
	"02": ZoneModePermanent,
	"03": ZoneModeCountdown,
	"04": ZoneModeTemporary,
}

// ZoneType is the heating-element kind a Zone is configured with.
type ZoneType string

const (
	ZoneTypeUFH  ZoneType = "UFH"
	ZoneTypeRAD  ZoneType = "RAD"
	ZoneTypeELE  ZoneType = "ELE"
	ZoneTypeVAL  ZoneType = "VAL"
	ZoneTypeMIX  ZoneType = "MIX"
	ZoneTypeDHW  ZoneType = "DHW"
)

// Code0005ZoneType maps the 0005 "zone-type" selector byte to the slug the
// controller uses when asked "which zones exist of type X".
var Code0005ZoneType = map[string]string{
	"08": "radiator_valve",
	"09": "underfloor_heating",
	"0A": "zone_valve",
	"0B": "mixing_valve",
	"0D": "hotwater_sensor",
	"0E": "hotwater_valve",
	"0F": "heating_control",
	"11": "electric_heat",
}

// Code000CDeviceType maps the 000C "device-class" selector byte to the
// zone-actuator-role it enumerates.
var Code000CDeviceType = map[string]string{
	"00": "zone_actuators",
	"04": "sensor",
	"08": "rad_actuators",
	"09": "ufh_actuators",
	"0A": "val_actuators",
	"0B": "mix_actuators",
	"0D": "hotwater_sensor",
	"0E": "hotwater_valve",
	"0F": "heating_control",
	"11": "ele_actuators",
}

type FaultDeviceClass string

const (
	FaultClassController   FaultDeviceClass = "controller"
	FaultClassSensor        FaultDeviceClass = "sensor"
	FaultClassActuator      FaultDeviceClass = "actuator"
	FaultClassDHWSensor     FaultDeviceClass = "dhw_sensor"
	FaultClassRemoteGateway FaultDeviceClass = "remote_gateway"
)

var Code0418DeviceClass = map[string]FaultDeviceClass{
	"00": FaultClassController,
	"01": FaultClassSensor,
	"04": FaultClassActuator,
	"05": FaultClassDHWSensor,
	"06": FaultClassRemoteGateway,
}

// FaultState is left as an opaque byte value: "C0" is documented upstream
// only as "unknown_c0" and never surfaces in the controller's own UI, so
// no further interpretation is attempted (see DESIGN.md Open Questions).
type FaultState string

const (
	FaultStateFault   FaultState = "00"
	FaultStateRestore FaultState = "40"
	FaultStateUnknown FaultState = "C0"
)

var Code0418FaultType = map[string]string{
	"01": "system_fault",
	"03": "mains_low",
	"04": "battery_low",
	"06": "comms_fault",
	"0A": "sensor_error",
}

// Regex fragments mirroring the upstream packet grammar.
var (
	reRSSI    = `(-{3}|\d{3}|\.{3})`
	reVerb    = `( I|RP|RQ| W)`
	reDevice  = `(-{2}:-{6}|\d{2}:\d{6})`
	reCode    = `[0-9A-F]{4}`
	reLength  = `\d{3}`
	rePayload = `([0-9A-F]{2}){1,48}`

	DeviceIDRegex = regexp.MustCompile(`^` + reDevice + `$`)
	CommandRegex  = regexp.MustCompile(`^` + reVerb + ` ` + reRSSI + ` ` + reDevice + ` ` + reDevice + ` ` + reDevice + ` ` + reCode + ` ` + reLength + ` ` + rePayload + `$`)
	MessageRegex  = regexp.MustCompile(`^` + reRSSI + ` ` + reVerb + ` ` + reRSSI + ` ` + reDevice + ` ` + reDevice + ` ` + reDevice + ` ` + reCode + ` ` + reLength + ` ` + rePayload + `$`)
)

// Null0418 is the sentinel reply payload meaning "fault log exhausted".
const Null0418 = "000000B0000000000000000000007FFFFF7000000000"
