package ramses

import (
	"fmt"
	"io"
	"os"
	"time"

	"go.bug.st/serial"
)

// Transport is the io.ReadWriteCloser seam between the framer/QoS engine
// and whatever actually carries RAMSES-II bytes: a live serial gateway or
// a packet-log replay file. Keeping the framer/QoS engine transport
// agnostic this way is the shape §5 requires ("suspension points:
// serial read...") without tying the core layers to a hardware driver.
type Transport interface {
	io.ReadWriteCloser
}

// SerialConfig describes the gateway's 115200-8N1 line per §6.
type SerialConfig struct {
	Port     string
	BaudRate int
}

// serialTransport wraps go.bug.st/serial.Port, the one library in the
// example pack that actually opens a hardware serial port (see
// SPEC_FULL.md DOMAIN STACK / DESIGN.md).
type serialTransport struct {
	port serial.Port
}

// OpenSerial opens the live gateway transport at the configured baud
// rate (115200 if unset), 8 data bits, no parity, 1 stop bit, and raises
// DTR. It configures no flow control: XON/XOFF is not enabled.
func OpenSerial(cfg SerialConfig) (Transport, error) {
	baud := cfg.BaudRate
	if baud == 0 {
		baud = 115200
	}
	mode := &serial.Mode{
		BaudRate: baud,
		DataBits: 8,
		Parity:   serial.NoParity,
		StopBits: serial.OneStopBit,
	}
	port, err := serial.Open(cfg.Port, mode)
	if err != nil {
		return nil, fmt.Errorf("ramses: open serial port %q: %w", cfg.Port, err)
	}
	if err := port.SetDTR(true); err != nil {
		port.Close()
		return nil, fmt.Errorf("ramses: set DTR on %q: %w", cfg.Port, err)
	}
	return &serialTransport{port: port}, nil
}

func (t *serialTransport) Read(p []byte) (int, error)  { return t.port.Read(p) }
func (t *serialTransport) Write(p []byte) (int, error) { return t.port.Write(p) }
func (t *serialTransport) Close() error                { return t.port.Close() }

// ListSerialPorts enumerates available serial devices.
func ListSerialPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("ramses: list serial ports: %w", err)
	}
	return ports, nil
}

// replayTransport wraps a packet-log file for offline replay: reads
// return its contents; writes are discarded (a replay has nothing to
// write to), matching §1's Non-goal of "no physical modulation of RF" and
// §6's "input_file" mode where disable_sending is forced on.
type replayTransport struct {
	f *os.File
}

// OpenReplay opens a packet-log file of the form described in §6, one
// packet per line, for sequential replay.
func OpenReplay(path string) (Transport, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("ramses: open replay file %q: %w", path, err)
	}
	return &replayTransport{f: f}, nil
}

func (t *replayTransport) Read(p []byte) (int, error)  { return t.f.Read(p) }
func (t *replayTransport) Write(p []byte) (int, error) { return len(p), nil }
func (t *replayTransport) Close() error                { return t.f.Close() }

// PacketLogWriter appends timestamped packet lines to a log file for
// later exact-replay, per §6: "ISO8601-timestamp<SP>packet-text".
type PacketLogWriter struct {
	f *os.File
}

// OpenPacketLog opens (creating/appending) a packet log file for writing.
func OpenPacketLog(path string) (*PacketLogWriter, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("ramses: open packet log %q: %w", path, err)
	}
	return &PacketLogWriter{f: f}, nil
}

// Write appends one packet line, annotating warnings/errors with the *
// and # markers described in §4.1/§6.
func (w *PacketLogWriter) Write(p Packet, annotation string) error {
	line := p.RxAt.Format(time.RFC3339Nano) + " " + p.Raw
	if annotation != "" {
		line += " " + annotation
	}
	_, err := fmt.Fprintln(w.f, line)
	return err
}

// Close flushes and closes the underlying file.
func (w *PacketLogWriter) Close() error { return w.f.Close() }
