package ramses

import (
	"context"
	"fmt"
	"sync"
)

// FaultEntry is one decoded 0418 fault-log record.
type FaultEntry struct {
	LogIdx      int
	Timestamp   string
	FaultState  FaultState
	FaultType   string
	DeviceClass FaultDeviceClass
	DomainID    string
	Device      Address
}

// decode0418 decodes a single fault-log reply payload (or the null
// sentinel meaning "log exhausted", in which case it returns a record
// with exhausted=true and no further fields). The 22-byte record layout:
// b0 reserved, b1 fault_state, b2 log_idx, b3 an unknown "B0" marker, b4
// fault_type, b5 zone/domain id, b6 device_class, b7-8 unknown, b9-14 a
// packed timestamp, b15-18 unknown, b19-21 the device id, per
// parser_0418.
func decode0418(b []byte) (Record, error) {
	if hexStr(b) == Null0418 {
		return Record{"exhausted": true}, nil
	}
	if err := requireLen(b, 22); err != nil {
		return nil, err
	}
	logIdx := int(b[2])
	faultState := FaultState(fmt.Sprintf("%02X", b[1]))
	faultType := Code0418FaultType[fmt.Sprintf("%02X", b[4])]
	domainID := hexStr(b[5:6])
	deviceClass := Code0418DeviceClass[fmt.Sprintf("%02X", b[6])]
	ts, err := faultTimestamp(b[9:15])
	if err != nil {
		return nil, err
	}
	dev, err := AddressFromHex(hexStr(b[19:22]))
	if err != nil {
		return nil, err
	}
	return Record{
		"log_idx":      logIdx,
		"fault_state":  string(faultState),
		"fault_type":   faultType,
		"device_class": deviceClass,
		"domain_id":    domainID,
		"timestamp":    ts,
		"device":       dev.String(),
	}, nil
}

// FaultLogClient drives the sequential RQ/RP 0418 paging protocol of
// §4.6: request log_idx 0, then 1, 2, ... until the peer returns the null
// sentinel, at which point the log is marked complete.
type FaultLogClient struct {
	mu      sync.Mutex
	entries []FaultEntry
	complete bool
}

// NewFaultLogClient returns an empty, not-yet-complete client.
func NewFaultLogClient() *FaultLogClient { return &FaultLogClient{} }

// Entries returns the fault entries collected so far, indexed by their
// own LogIdx (per TESTABLE SCENARIO 4).
func (c *FaultLogClient) Entries() []FaultEntry {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]FaultEntry, len(c.entries))
	copy(out, c.entries)
	return out
}

// Complete reports whether the traversal has reached the null sentinel.
func (c *FaultLogClient) Complete() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.complete
}

// Fetch drives the full traversal against a system, issuing sequential
// 0418 requests via send (a caller-supplied round-trip function so the
// QoS engine's own request/reply machinery is reused rather than
// duplicated here) until exhaustion or ctx is cancelled.
func (c *FaultLogClient) Fetch(ctx context.Context, send func(ctx context.Context, logIdx int) (*Message, error)) error {
	for logIdx := 0; ; logIdx++ {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		msg, err := send(ctx, logIdx)
		if err != nil {
			return fmt.Errorf("ramses: fault log fetch at idx %d: %w", logIdx, err)
		}
		if len(msg.Records) == 0 {
			return fmt.Errorf("ramses: fault log reply at idx %d had no records", logIdx)
		}
		rec := msg.Records[0]
		if exhausted, _ := rec["exhausted"].(bool); exhausted {
			c.mu.Lock()
			c.complete = true
			c.mu.Unlock()
			return nil
		}
		entry := FaultEntry{LogIdx: logIdx}
		if v, ok := rec["fault_state"].(string); ok {
			entry.FaultState = FaultState(v)
		}
		if v, ok := rec["fault_type"].(string); ok {
			entry.FaultType = v
		}
		if v, ok := rec["device_class"].(FaultDeviceClass); ok {
			entry.DeviceClass = v
		}
		if v, ok := rec["domain_id"].(string); ok {
			entry.DomainID = v
		}
		if v, ok := rec["timestamp"].(string); ok {
			entry.Timestamp = v
		}
		if v, ok := rec["device"].(string); ok {
			if addr, err := ParseAddress(v); err == nil {
				entry.Device = addr
			}
		}
		c.mu.Lock()
		c.entries = append(c.entries, entry)
		c.mu.Unlock()
	}
}

// RQPayload0418 encodes the RQ 0418 request payload for a given log_idx.
func RQPayload0418(logIdx int) string {
	return fmt.Sprintf("000000%06X", logIdx)
}
