package server

import (
	"math"
	"testing"
	"time"
)

func TestParseBandwidthMode(t *testing.T) {
	t.Parallel()

	for _, name := range []string{"default", "VeryLow", "low", " NORMAL ", "high", "veryhigh"} {
		m, err := ParseBandwidthMode(name)
		if err != nil {
			t.Fatalf("%q: %v", name, err)
		}
		if again, err := ParseBandwidthMode(m.String()); err != nil || again != m {
			t.Fatalf("%q: String() = %q does not parse back", name, m.String())
		}
	}
	if _, err := ParseBandwidthMode("turbo"); err == nil {
		t.Fatal("unknown mode should fail")
	}
}

func TestBandwidthProfiles(t *testing.T) {
	t.Parallel()

	cases := []struct {
		mode     BandwidthMode
		show     int
		hide     int
		partial  bool
		skip     bool
		interval time.Duration
	}{
		{BandwidthVeryLow, blocksSquared(40), blocksSquared(42), true, true, 100 * time.Millisecond},
		{BandwidthLow, blocksSquared(50), blocksSquared(52), true, true, 50 * time.Millisecond},
		{BandwidthNormal, blocksSquared(68), blocksSquared(70), true, false, 50 * time.Millisecond},
		{BandwidthHigh, blocksSquared(128), blocksSquared(130), true, false, 50 * time.Millisecond},
		{BandwidthVeryHigh, math.MaxInt, math.MaxInt, false, false, 25 * time.Millisecond},
	}
	for _, tc := range cases {
		p := profileFor(tc.mode)
		if p.showDistanceSq != tc.show || p.hideDistanceSq != tc.hide {
			t.Errorf("%s: distances = %d/%d, want %d/%d", tc.mode, p.showDistanceSq, p.hideDistanceSq, tc.show, tc.hide)
		}
		if p.partialUpdates != tc.partial || p.skipUpdates != tc.skip {
			t.Errorf("%s: partial/skip = %v/%v", tc.mode, p.partialUpdates, p.skipUpdates)
		}
		if p.visibleInterval != tc.interval {
			t.Errorf("%s: interval = %v, want %v", tc.mode, p.visibleInterval, tc.interval)
		}
		if p.hideDistanceSq < p.showDistanceSq {
			t.Errorf("%s: hide distance below show distance", tc.mode)
		}
	}
}

func TestBandwidthMeter(t *testing.T) {
	t.Parallel()

	var m bandwidthMeter
	start := time.Unix(1000, 0)
	if s, r := m.measure(start, 100, 50); s != 0 || r != 0 {
		t.Fatalf("first sample = %d/%d, want 0/0", s, r)
	}
	s, r := m.measure(start.Add(2*time.Second), 2100, 450)
	if s != 1000 || r != 200 {
		t.Fatalf("rates = %d/%d, want 1000/200", s, r)
	}
}
