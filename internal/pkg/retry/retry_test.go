package retry

import (
	"testing"
	"time"
)

func TestJitterBounds(t *testing.T) {
	base := 10 * time.Second
	for i := 0; i < 100; i++ {
		got := Jitter(base)
		if got < 8*time.Second || got > 12*time.Second {
			t.Fatalf("Jitter(%s): got=%s outside +/-20%%", base, got)
		}
	}
	if got := Jitter(0); got != 0 {
		t.Fatalf("Jitter(0): want=0 got=%s", got)
	}
}

func TestBackoffDelayCapped(t *testing.T) {
	b := Backoff{Base: time.Second, Max: 30 * time.Second}
	cases := []struct {
		attempt int
		center  time.Duration
	}{
		{0, time.Second},
		{1, 2 * time.Second},
		{3, 8 * time.Second},
		{10, 30 * time.Second},
		{1000, 30 * time.Second},
	}
	for _, tc := range cases {
		got := b.Delay(tc.attempt)
		lo := time.Duration(float64(tc.center) * 0.8)
		hi := time.Duration(float64(tc.center) * 1.2)
		if got < lo || got > hi {
			t.Fatalf("Delay(%d): want within [%s,%s] got=%s", tc.attempt, lo, hi, got)
		}
	}
	if got := (Backoff{}).Delay(3); got != 0 {
		t.Fatalf("zero Backoff: want=0 got=%s", got)
	}
}
