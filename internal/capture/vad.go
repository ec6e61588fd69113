package capture

import "time"

// silenceDetector decides when the speaker has stopped talking. A level above
// threshold counts as voice; the detector fires once no voice has been seen
// for at least duration.
type silenceDetector struct {
	threshold float64
	duration  time.Duration
	lastVoice time.Time
}

// newSilenceDetector returns a detector that treats start as the last voice,
// so a session that never hears speech still ends after duration.
func newSilenceDetector(threshold float64, duration time.Duration, start time.Time) *silenceDetector {
	return &silenceDetector{threshold: threshold, duration: duration, lastVoice: start}
}

// observe records one level sample taken at now and reports whether the
// silence window has elapsed.
func (d *silenceDetector) observe(level float64, now time.Time) bool {
	if level > d.threshold {
		d.lastVoice = now
		return false
	}
	return now.Sub(d.lastVoice) >= d.duration
}
