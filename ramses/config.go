package ramses

import (
	"encoding/json"
	"fmt"
	"os"
)

// Config is the gateway's startup configuration, loaded from YAML by the
// CLI layer (main.go) with yaml.Unmarshal; the CLI does not write it back.
type Config struct {
	SerialPort        string `yaml:"serial_port"`
	PacketLogPath     string `yaml:"packet_log"`
	DisableSending    bool   `yaml:"disable_sending"`
	DisableDiscovery  bool   `yaml:"disable_discovery"`
	EnforceAllowlist  bool   `yaml:"enforce_allowlist"`
	EnforceBlocklist  bool   `yaml:"enforce_blocklist"`
	MaxZones          int    `yaml:"max_zones"`
	ReduceProcessing  int    `yaml:"reduce_processing"`
	UseSchema         bool   `yaml:"use_schema"`
	AMQPURL           string `yaml:"amqp_url"`
	ArchiveDSN        string `yaml:"archive_dsn"`
	MetricsAddr       string `yaml:"metrics_addr"`
}

// DefaultConfig mirrors the upstream schema's defaults (schema.py
// CONFIG_SCHEMA): blocklist enforcement on, allowlist off, max zones at
// the library default.
func DefaultConfig() Config {
	return Config{
		EnforceBlocklist: true,
		MaxZones:         DefaultMaxZones,
		UseSchema:        true,
	}
}

// Normalize applies the load_schema.py cross-field rules: specifying a
// serial port takes precedence over an input (replay) file, and a
// sending-disabled gateway also disables discovery (it has no way to
// issue the discovery RQs).
func (c *Config) Normalize(inputFile string) {
	if c.SerialPort == "" && inputFile != "" {
		c.DisableSending = true
	}
	if c.DisableSending {
		c.DisableDiscovery = true
	}
}

// KnownDevice is one entry of the known-devices persistence file (§6): a
// friendly name and an ignore flag, plus optional schema hints.
type KnownDevice struct {
	Name          string `json:"name,omitempty"`
	Ignore        bool   `json:"ignore,omitempty"`
	ParentZone    string `json:"_parent_zone,omitempty"`
	HasBattery    *bool  `json:"_has_battery,omitempty"`
}

// KnownDevices is the JSON device-id -> KnownDevice map of §6, loaded at
// startup and rewritten only on graceful shutdown.
type KnownDevices map[string]KnownDevice

// LoadKnownDevices reads and validates a known-devices JSON file.
func LoadKnownDevices(path string) (KnownDevices, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ramses: read known-devices file: %w", err)
	}
	var kd KnownDevices
	if err := json.Unmarshal(b, &kd); err != nil {
		return nil, fmt.Errorf("ramses: parse known-devices file: %w", err)
	}
	for id := range kd {
		if !DeviceIDRegex.MatchString(id) {
			return nil, fmt.Errorf("ramses: known-devices file has malformed device id %q", id)
		}
	}
	return kd, nil
}

// Save rewrites the known-devices file, per §6 "rewritten on graceful
// shutdown only".
func (kd KnownDevices) Save(path string) error {
	b, err := json.MarshalIndent(kd, "", "  ")
	if err != nil {
		return fmt.Errorf("ramses: marshal known-devices: %w", err)
	}
	return os.WriteFile(path, b, 0o644)
}

// FilterList is an allowlist or blocklist: JSON maps from device id to a
// tag record whose presence is the only semantic (§4.7, §6).
type FilterList map[string]KnownDevice

// LoadFilterList reads and validates a filter-list JSON file.
func LoadFilterList(path string) (FilterList, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ramses: read filter list: %w", err)
	}
	var fl FilterList
	if err := json.Unmarshal(b, &fl); err != nil {
		return nil, fmt.Errorf("ramses: parse filter list: %w", err)
	}
	for id := range fl {
		if !DeviceIDRegex.MatchString(id) {
			return nil, fmt.Errorf("ramses: filter list has malformed device id %q", id)
		}
	}
	return fl, nil
}

// Filter decides, per §4.7, whether a source device's packets should be
// processed: at most one of allowlist/blocklist is active.
type Filter struct {
	Allow FilterList // non-nil only when enforcing an allowlist
	Block FilterList // non-nil only when enforcing a blocklist
}

// NewFilter builds a Filter from config and the loaded lists, enforcing
// "the gateway selects at most one of allowlist/blocklist" (§4.7).
func NewFilter(cfg Config, allow, block FilterList) Filter {
	if cfg.EnforceAllowlist {
		return Filter{Allow: allow}
	}
	if cfg.EnforceBlocklist {
		return Filter{Block: block}
	}
	return Filter{}
}

// Allows reports whether a packet from addr should be processed.
func (f Filter) Allows(addr Address) bool {
	if f.Allow != nil {
		_, ok := f.Allow[addr.String()]
		return ok
	}
	if f.Block != nil {
		_, blocked := f.Block[addr.String()]
		return !blocked
	}
	return true
}

// ZoneSchemaEntry is one zone's schema-file pre-population record (§6).
type ZoneSchemaEntry struct {
	ZoneType string   `json:"heating_type"`
	Sensor   string   `json:"sensor,omitempty"`
	Devices  []string `json:"devices,omitempty"`
}

// DHWSchema pre-populates a system's DHW zone.
type DHWSchema struct {
	Sensor       string `json:"hotwater_sensor,omitempty"`
	Valve        string `json:"hotwater_valve,omitempty"`
	HeatingValve string `json:"heating_valve,omitempty"`
}

// SystemSchema is the optional installation schema of §6: a single
// controller, optional heating-control/DHW device ids, and a zone-idx ->
// entry map.
type SystemSchema struct {
	Controller     string                     `json:"controller"`
	HeatingControl string                     `json:"heating_control,omitempty"`
	StoredHW       *DHWSchema                 `json:"stored_hotwater,omitempty"`
	Zones          map[string]ZoneSchemaEntry `json:"zones,omitempty"`
	Orphans        []string                   `json:"orphans,omitempty"`
}

// LoadSystemSchema reads and structurally validates a schema file.
// Unknown zone types fail validation, per §6.
func LoadSystemSchema(path string) (*SystemSchema, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("ramses: read schema file: %w", err)
	}
	var s SystemSchema
	if err := json.Unmarshal(b, &s); err != nil {
		return nil, fmt.Errorf("ramses: parse schema file: %w", err)
	}
	if !DeviceIDRegex.MatchString(s.Controller) {
		return nil, fmt.Errorf("ramses: schema controller id %q malformed", s.Controller)
	}
	validZoneTypes := map[string]bool{
		"radiator_valve": true, "underfloor_heating": true, "zone_valve": true,
		"mixing_valve": true, "hotwater_sensor": true, "hotwater_valve": true,
		"heating_control": true, "electric_heat": true,
	}
	for idx, z := range s.Zones {
		if z.ZoneType != "" && !validZoneTypes[z.ZoneType] {
			return nil, fmt.Errorf("ramses: schema zone %s has unknown heating_type %q", idx, z.ZoneType)
		}
	}
	return &s, nil
}

// Apply pre-populates gwy's entity graph from the schema, the way
// schema.py's load_schema walks controller -> heating control -> DHW ->
// zones, creating every named entity up front.
func (s *SystemSchema) Apply(gwy *Gateway) error {
	ctlAddr, err := ParseAddress(s.Controller)
	if err != nil {
		return err
	}
	ctlRef, err := gwy.GetOrCreateDevice(ctlAddr)
	if err != nil {
		return err
	}
	dev := gwy.Device(ctlRef)
	sysRef := dev.System
	if !sysRef.Valid() {
		return fmt.Errorf("ramses: schema controller %s did not promote to a system", s.Controller)
	}

	if s.HeatingControl != "" {
		addr, err := ParseAddress(s.HeatingControl)
		if err != nil {
			return err
		}
		ref, err := gwy.GetOrCreateDevice(addr)
		if err != nil {
			return err
		}
		if err := gwy.SetHeatingControl(sysRef, ref); err != nil {
			return err
		}
	}

	if s.StoredHW != nil {
		if s.StoredHW.Sensor != "" {
			addr, err := ParseAddress(s.StoredHW.Sensor)
			if err != nil {
				return err
			}
			ref, err := gwy.GetOrCreateDevice(addr)
			if err != nil {
				return err
			}
			if err := gwy.SetDHWSensor(sysRef, ref); err != nil {
				return err
			}
		}
	}

	for idx, z := range s.Zones {
		zref, err := gwy.GetOrCreateZone(sysRef, idx)
		if err != nil {
			return err
		}
		zone := gwy.Zone(zref)
		if z.ZoneType != "" {
			zone.Type = zoneTypeFromSlug(z.ZoneType)
		}
		if z.Sensor != "" {
			addr, err := ParseAddress(z.Sensor)
			if err != nil {
				return err
			}
			ref, err := gwy.GetOrCreateDevice(addr)
			if err != nil {
				return err
			}
			if err := gwy.SetZoneSensor(zref, ref); err != nil {
				return err
			}
		}
		for _, devID := range z.Devices {
			addr, err := ParseAddress(devID)
			if err != nil {
				return err
			}
			if _, err := gwy.GetOrCreateDevice(addr); err != nil {
				return err
			}
		}
	}

	for _, devID := range s.Orphans {
		addr, err := ParseAddress(devID)
		if err != nil {
			return err
		}
		if _, err := gwy.GetOrCreateDevice(addr); err != nil {
			return err
		}
	}
	return nil
}

func zoneTypeFromSlug(slug string) ZoneType {
	switch slug {
	case "radiator_valve":
		return ZoneTypeRAD
	case "underfloor_heating":
		return ZoneTypeUFH
	case "zone_valve":
		return ZoneTypeVAL
	case "mixing_valve":
		return ZoneTypeMIX
	case "electric_heat":
		return ZoneTypeELE
	default:
		return ""
	}
}
