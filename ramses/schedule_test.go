package ramses

import (
	"context"
	"encoding/hex"
	"testing"
	"time"
)

func sampleSchedule() *Schedule {
	var s Schedule
	s.Days[0] = []Switchpoint{{MinutesOfDay: 360, SetpointC: 18.0}, {MinutesOfDay: 1320, SetpointC: 16.5}}
	s.Days[3] = []Switchpoint{{MinutesOfDay: 420, SetpointC: 21.0}}
	s.Days[6] = []Switchpoint{{MinutesOfDay: 480, SetpointC: 19.5}, {MinutesOfDay: 1200, SetpointC: 15.0}}
	return &s
}

func TestScheduleEncodeDecodeRoundTrip(t *testing.T) {
	want := sampleSchedule()
	blob, err := EncodeScheduleBlob(0, want)
	if err != nil {
		t.Fatalf("EncodeScheduleBlob: %v", err)
	}
	got, err := DecodeScheduleBlob(blob)
	if err != nil {
		t.Fatalf("DecodeScheduleBlob: %v", err)
	}
	for day := 0; day < 7; day++ {
		if len(got.Days[day]) != len(want.Days[day]) {
			t.Fatalf("day %d: got %d switchpoints, want %d", day, len(got.Days[day]), len(want.Days[day]))
		}
		for i, sp := range want.Days[day] {
			gsp := got.Days[day][i]
			if gsp.MinutesOfDay != sp.MinutesOfDay || gsp.SetpointC != sp.SetpointC {
				t.Errorf("day %d[%d] = %+v, want %+v", day, i, gsp, sp)
			}
		}
	}
}

func TestScheduleFragmentReassembly(t *testing.T) {
	blob, err := EncodeScheduleBlob(0, sampleSchedule())
	if err != nil {
		t.Fatalf("EncodeScheduleBlob: %v", err)
	}
	frags := ChunkFragments(blob)
	if len(frags) < 2 {
		t.Fatalf("expected the sample schedule to span multiple fragments, got %d", len(frags))
	}

	xfer := NewScheduleTransfer("00")
	now := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	for i, hexFrag := range frags {
		data, err := hex.DecodeString(hexFrag)
		if err != nil {
			t.Fatalf("decoding fragment hex: %v", err)
		}
		xfer.AddFragment(i+1, len(frags), data, now)
	}

	if !xfer.Complete() {
		t.Fatal("transfer should be complete once every fragment is added")
	}
	got, err := xfer.Decode()
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(got.Days[3]) != 1 || got.Days[3][0].SetpointC != 21.0 {
		t.Errorf("Days[3] = %+v, want one 21.0C switchpoint", got.Days[3])
	}
}

func TestScheduleStaleFragmentDiscardsSequence(t *testing.T) {
	xfer := NewScheduleTransfer("00")
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	xfer.AddFragment(1, 3, []byte{0x01}, t0)
	xfer.AddFragment(2, 3, []byte{0x02}, t0.Add(staleFragmentAge+time.Second))

	if xfer.Complete() {
		t.Fatal("transfer must not be complete: the stale first fragment should have been discarded")
	}
	idx, total := xfer.NextFragmentIndex()
	if total != 3 {
		t.Errorf("total = %d, want 3", total)
	}
	if idx == 3 {
		t.Error("fragment 1 should be requested again since it was discarded as stale, not fragment 3")
	}
}

func TestScheduleTransferRestartsOnTotalChange(t *testing.T) {
	xfer := NewScheduleTransfer("00")
	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	xfer.AddFragment(1, 2, []byte{0x01}, t0)
	xfer.AddFragment(1, 5, []byte{0x01}, t0)
	if xfer.Complete() {
		t.Fatal("a single fragment cannot complete a 5-fragment transfer")
	}
	_, total := xfer.NextFragmentIndex()
	if total != 5 {
		t.Errorf("total = %d, want 5 after frag_total changed mid-sequence", total)
	}
}

func TestSystemScheduleLockSerialises(t *testing.T) {
	lock := NewSystemScheduleLock()
	ctx := context.Background()
	if err := lock.Acquire(ctx); err != nil {
		t.Fatalf("first Acquire: %v", err)
	}

	ctx2, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	if err := lock.Acquire(ctx2); err == nil {
		t.Fatal("second Acquire should block and time out while the lock is held")
	}

	lock.Release()
	ctx3, cancel3 := context.WithTimeout(context.Background(), time.Second)
	defer cancel3()
	if err := lock.Acquire(ctx3); err != nil {
		t.Fatalf("Acquire after Release: %v", err)
	}
}
