package capture

import (
	"testing"
	"time"
)

func TestLevel(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name string
		bins []uint8
		want float64
	}{
		{"empty", nil, 0},
		{"silent", []uint8{0, 0, 0, 0}, 0},
		{"full", []uint8{255, 255}, 1},
		{"mixed", []uint8{0, 255}, 0.5},
		{"quiet", []uint8{30, 30, 30}, 30.0 / 255},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			if got := Level(tc.bins); got != tc.want {
				t.Errorf("Level(%v) = %v, want %v", tc.bins, got, tc.want)
			}
		})
	}
}

func TestSilenceDetector(t *testing.T) {
	t.Parallel()
	start := time.Unix(0, 0)
	at := func(ms int) time.Time { return start.Add(time.Duration(ms) * time.Millisecond) }

	type sample struct {
		ms    int
		level float64
	}
	tests := []struct {
		name     string
		samples  []sample
		wantStop int // index of the sample that fires, -1 for never
	}{
		{
			name:     "silence from the start stops after duration",
			samples:  []sample{{100, 0}, {1000, 0.05}, {1900, 0.1}, {2000, 0}},
			wantStop: 3,
		},
		{
			name:     "level equal to threshold counts as silence",
			samples:  []sample{{1000, 0.12}, {2000, 0.12}},
			wantStop: 1,
		},
		{
			name:     "voice resets the window",
			samples:  []sample{{1500, 0.5}, {3000, 0}, {3400, 0}, {3500, 0}},
			wantStop: 3,
		},
		{
			name:     "continuous voice never stops",
			samples:  []sample{{1000, 0.2}, {2000, 0.3}, {3000, 0.9}, {4000, 0.13}},
			wantStop: -1,
		},
		{
			name:     "short pause does not stop",
			samples:  []sample{{500, 0.4}, {1500, 0}, {2400, 0}, {2450, 0.8}, {4000, 0}},
			wantStop: -1,
		},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			d := newSilenceDetector(0.12, 2*time.Second, start)
			got := -1
			for i, s := range tc.samples {
				if d.observe(s.level, at(s.ms)) {
					got = i
					break
				}
			}
			if got != tc.wantStop {
				t.Errorf("fired at sample %d, want %d", got, tc.wantStop)
			}
		})
	}
}
