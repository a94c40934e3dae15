package ramses

import (
	"strings"
	"sync"
	"testing"
	"time"
)

func TestLatencyStatsStringNoSamplesDoesNotPanic(t *testing.T) {
	ls := NewLatencyStats()

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("String() panicked with no samples: %v", r)
		}
	}()

	if s := ls.String(); s != "no samples" {
		t.Errorf("String() = %q, want %q", s, "no samples")
	}
}

func TestLatencyStatsStringOneSample(t *testing.T) {
	ls := NewLatencyStats()
	ls.Sample(314 * time.Millisecond)
	s := ls.String()
	for _, v := range []string{"n=1", "min=314ms", "avg=314ms", "max=314ms"} {
		if !strings.Contains(s, v) {
			t.Fatalf("String() did not include %q:\n%s", v, s)
		}
	}
}

func TestLatencyStatsStringTwoSamples(t *testing.T) {
	ls := NewLatencyStats()
	ls.Sample(100 * time.Millisecond)
	ls.Sample(300 * time.Millisecond)
	s := ls.String()
	for _, v := range []string{"n=2", "min=100ms", "avg=200ms", "max=300ms"} {
		if !strings.Contains(s, v) {
			t.Fatalf("String() did not include %q:\n%s", v, s)
		}
	}
}

func TestLatencyStatsConcurrentSamples(t *testing.T) {
	ls := NewLatencyStats()

	const n = 1000
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		go func() {
			defer wg.Done()
			ls.Sample(time.Millisecond)
		}()
	}
	wg.Wait()

	s := ls.String()
	for _, v := range []string{"n=1000", "min=1ms", "avg=1ms", "max=1ms"} {
		if !strings.Contains(s, v) {
			t.Fatalf("String() did not include %q:\n%s", v, s)
		}
	}
}
