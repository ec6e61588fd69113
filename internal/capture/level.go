package capture

import (
	"fmt"

	"github.com/MrWong99/facechat/pkg/media"
)

// Level returns the normalized energy of a byte-scaled frequency spectrum:
// the mean bin value divided by 255. An empty spectrum has level 0.
func Level(bins []uint8) float64 {
	if len(bins) == 0 {
		return 0
	}
	var sum int
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins)) / 255
}

// LevelSampler reads the current energy level of a live microphone stream.
type LevelSampler struct {
	stream media.MicStream
}

// NewLevelSampler returns a sampler reading from stream.
func NewLevelSampler(stream media.MicStream) *LevelSampler {
	return &LevelSampler{stream: stream}
}

// Sample returns the current level in [0, 1].
func (s *LevelSampler) Sample() (float64, error) {
	bins, err := s.stream.FrequencyData()
	if err != nil {
		return 0, fmt.Errorf("capture: read spectrum: %w", err)
	}
	return Level(bins), nil
}
