package ramses

import (
	"bytes"
	"compress/zlib"
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"sync"
	"time"
)

// Switchpoint is one weekly-schedule entry: a time-of-day and a setpoint.
type Switchpoint struct {
	MinutesOfDay int
	SetpointC    float64
}

// Schedule is a zone's weekly schedule: seven days, each a list of
// switchpoints, per §4.6.
type Schedule struct {
	Days [7][]Switchpoint
}

// scheduleFragment is one raw 0404 RP slot as received, before all slots
// for a transfer are complete.
type scheduleFragment struct {
	number   int
	total    int
	data     []byte
	received time.Time
}

// staleFragmentAge is the 5-minute threshold past which a fragment is
// discarded and the transfer restarted, per §4.6.
const staleFragmentAge = 5 * time.Minute

// ScheduleTransfer assembles the fragments of one 0404 get/set operation
// for a single zone. Only one transfer is active per system at a time
// (enforced by the caller's per-system lock, see SystemScheduleLock).
type ScheduleTransfer struct {
	mu        sync.Mutex
	zoneIdx   string
	fragments map[int]scheduleFragment
	total     int
}

// NewScheduleTransfer starts tracking fragments for zoneIdx.
func NewScheduleTransfer(zoneIdx string) *ScheduleTransfer {
	return &ScheduleTransfer{zoneIdx: zoneIdx, fragments: make(map[int]scheduleFragment)}
}

// AddFragment records one RP 0404 reply's fragment. If frag_total changes
// mid-sequence, or any held fragment was received more than
// staleFragmentAge before this one, all held fragments are discarded and
// the sequence restarts from this one, per §4.6.
func (t *ScheduleTransfer) AddFragment(number, total int, data []byte, receivedAt time.Time) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.total != 0 && t.total != total {
		t.fragments = make(map[int]scheduleFragment)
	}
	t.total = total

	for _, f := range t.fragments {
		if receivedAt.Sub(f.received) > staleFragmentAge {
			t.fragments = make(map[int]scheduleFragment)
			break
		}
	}

	t.fragments[number] = scheduleFragment{number: number, total: total, data: data, received: receivedAt}
}

// Complete reports whether every fragment 1..total has been received.
func (t *ScheduleTransfer) Complete() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.total == 0 {
		return false
	}
	return len(t.fragments) == t.total
}

// NextFragmentIndex returns the 1-based index of the next fragment to
// request, and the last-known total (0 if none yet), per the wire
// protocol's RQ 0404 ZZ200008LLNNTT framing.
func (t *ScheduleTransfer) NextFragmentIndex() (idx int, total int) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i := 1; i <= t.total || t.total == 0; i++ {
		if _, ok := t.fragments[i]; !ok {
			return i, t.total
		}
		if t.total != 0 && i == t.total {
			break
		}
	}
	return 1, t.total
}

// Decode concatenates all fragments, zlib-inflates them (the reader takes
// the window size from the zlib header, so the firmware's 14-bit window
// inflates as is) and parses the result into a
// Schedule: 7 days x N switchpoints, each a fixed 20-byte record
// "xxxx BB xxx DD xxx TTTT xx SSSS xx" (zone_idx, day, minutes-of-day,
// temperature/100), per §4.6.
func (t *ScheduleTransfer) Decode() (*Schedule, error) {
	t.mu.Lock()
	if t.total == 0 || len(t.fragments) != t.total {
		t.mu.Unlock()
		return nil, fmt.Errorf("ramses: schedule transfer incomplete: have %d/%d fragments", len(t.fragments), t.total)
	}
	var buf bytes.Buffer
	for i := 1; i <= t.total; i++ {
		buf.Write(t.fragments[i].data)
	}
	t.mu.Unlock()

	return DecodeScheduleBlob(buf.Bytes())
}

// DecodeScheduleBlob zlib-inflates a concatenated fragment stream and
// parses it into fixed 20-byte records.
func DecodeScheduleBlob(raw []byte) (*Schedule, error) {
	zr, err := zlib.NewReaderDict(bytes.NewReader(raw), nil)
	if err != nil {
		return nil, fmt.Errorf("ramses: schedule zlib inflate failed: %w", err)
	}
	defer zr.Close()
	inflated, err := io.ReadAll(zr)
	if err != nil {
		return nil, fmt.Errorf("ramses: schedule zlib read failed: %w", err)
	}
	if len(inflated)%20 != 0 {
		return nil, fmt.Errorf("ramses: inflated schedule length %d not a multiple of 20", len(inflated))
	}
	var s Schedule
	for off := 0; off < len(inflated); off += 20 {
		rec := inflated[off : off+20]
		day := int(rec[2])
		minutes := int(rec[6])<<8 | int(rec[7])
		tenths := int16(uint16(rec[10])<<8 | uint16(rec[11]))
		if day < 0 || day > 6 {
			return nil, fmt.Errorf("ramses: schedule record day %d out of range", day)
		}
		s.Days[day] = append(s.Days[day], Switchpoint{
			MinutesOfDay: minutes,
			SetpointC:    float64(tenths) / 100.0,
		})
	}
	return &s, nil
}

// EncodeScheduleBlob is the inverse of DecodeScheduleBlob: builds
// fixed-layout 20-byte records for every switchpoint and zlib-deflates at
// level 9, per §4.6's set_schedule encoding. compress/zlib always writes
// a 32 KiB (15-bit) window header; a 14-bit window is not produced.
func EncodeScheduleBlob(zoneIdx int, s *Schedule) ([]byte, error) {
	var raw bytes.Buffer
	for day := 0; day < 7; day++ {
		for _, sp := range s.Days[day] {
			rec := make([]byte, 20)
			rec[0], rec[1] = 0, 0
			rec[2] = byte(day)
			rec[3], rec[4], rec[5] = 0, 0, 0
			rec[6] = byte(sp.MinutesOfDay >> 8)
			rec[7] = byte(sp.MinutesOfDay)
			rec[8], rec[9] = 0, 0
			tenths := int16(sp.SetpointC * 100)
			rec[10] = byte(uint16(tenths) >> 8)
			rec[11] = byte(uint16(tenths))
			raw.Write(rec)
		}
	}

	var out bytes.Buffer
	zw, err := zlib.NewWriterLevelDict(&out, zlib.BestCompression, nil)
	if err != nil {
		return nil, fmt.Errorf("ramses: schedule zlib writer: %w", err)
	}
	if _, err := zw.Write(raw.Bytes()); err != nil {
		zw.Close()
		return nil, fmt.Errorf("ramses: schedule zlib deflate: %w", err)
	}
	if err := zw.Close(); err != nil {
		return nil, fmt.Errorf("ramses: schedule zlib close: %w", err)
	}
	return out.Bytes(), nil
}

// ChunkFragments splits a deflated schedule blob into 41-byte (82-hex)
// fragments for the W 0404 wire encoding, per §4.6.
func ChunkFragments(blob []byte) []string {
	const fragSize = 41
	var frags []string
	for off := 0; off < len(blob); off += fragSize {
		end := off + fragSize
		if end > len(blob) {
			end = len(blob)
		}
		frags = append(frags, hex.EncodeToString(blob[off:end]))
	}
	return frags
}

// SystemScheduleLock serialises get_schedule/set_schedule calls for one
// system: only one zone schedule transfer at a time per system, per
// §4.6's concurrency note. A caller blocks (bounded by ctx) to acquire it.
type SystemScheduleLock struct {
	ch chan struct{}
}

// NewSystemScheduleLock returns an unlocked lock.
func NewSystemScheduleLock() *SystemScheduleLock {
	l := &SystemScheduleLock{ch: make(chan struct{}, 1)}
	l.ch <- struct{}{}
	return l
}

// Acquire blocks until the lock is free or ctx is done.
func (l *SystemScheduleLock) Acquire(ctx context.Context) error {
	select {
	case <-l.ch:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Release returns the lock.
func (l *SystemScheduleLock) Release() {
	select {
	case l.ch <- struct{}{}:
	default:
	}
}
