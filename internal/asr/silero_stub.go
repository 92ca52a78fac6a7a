//go:build !silero

package asr

import "fmt"

// SileroDetector is unavailable without the silero build tag.
type SileroDetector struct{}

func NewSileroDetector(DetectorOptions) (*SileroDetector, error) {
	return nil, fmt.Errorf("silero vad: %w (build with '-tags silero')", ErrUnavailable)
}

func (d *SileroDetector) NewState() State { return nil }

func (d *SileroDetector) Detect([]float32, State) ([]Boundary, error) {
	return nil, ErrUnavailable
}

func (d *SileroDetector) Close() error { return nil }
