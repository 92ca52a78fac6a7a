package asr

import (
	"fmt"
	"math"
)

// DetectorOptions tune the frame-level detectors.
type DetectorOptions struct {
	SampleRate  int
	FrameMS     int
	MinSpeechMS int
	SilenceMS   int
	// Threshold is an RMS level for the energy detector and a speech
	// probability for silero.
	Threshold      float64
	Aggressiveness int
	ModelPath      string
}

func (o DetectorOptions) frameSamples() int {
	return o.SampleRate * o.FrameMS / 1000
}

// EnergyDetector flags frames whose RMS exceeds a fixed threshold.
type EnergyDetector struct {
	opts DetectorOptions
}

type frameState struct {
	hyst *hysteresis
	rem  []float32
}

// NewEnergyDetector validates opts and returns a detector.
func NewEnergyDetector(opts DetectorOptions) (*EnergyDetector, error) {
	if opts.frameSamples() <= 0 {
		return nil, fmt.Errorf("energy vad: invalid frame %d ms at %d Hz", opts.FrameMS, opts.SampleRate)
	}
	if opts.Threshold <= 0 {
		return nil, fmt.Errorf("energy vad: threshold must be positive (got %v)", opts.Threshold)
	}
	return &EnergyDetector{opts: opts}, nil
}

func (d *EnergyDetector) NewState() State {
	return &frameState{hyst: newHysteresis(d.opts.FrameMS, d.opts.MinSpeechMS, d.opts.SilenceMS)}
}

func (d *EnergyDetector) Detect(chunk []float32, st State) ([]Boundary, error) {
	fs, ok := st.(*frameState)
	if !ok {
		return nil, fmt.Errorf("energy vad: foreign state %T", st)
	}
	return fs.scan(chunk, d.opts.frameSamples(), func(frame []float32) (bool, error) {
		return RMS(frame) >= d.opts.Threshold, nil
	})
}

// scan splits the carried remainder plus chunk into whole frames and runs
// classify on each.
func (fs *frameState) scan(chunk []float32, n int, classify func([]float32) (bool, error)) ([]Boundary, error) {
	data := chunk
	if len(fs.rem) > 0 {
		data = append(fs.rem, chunk...)
		fs.rem = nil
	}
	var out []Boundary
	off := 0
	for ; off+n <= len(data); off += n {
		voice, err := classify(data[off : off+n])
		if err != nil {
			return out, err
		}
		if b, flipped := fs.hyst.step(voice); flipped {
			out = append(out, b)
		}
	}
	if off < len(data) {
		fs.rem = append([]float32(nil), data[off:]...)
	}
	return out, nil
}

// RMS returns the root mean square of samples.
func RMS(samples []float32) float64 {
	if len(samples) == 0 {
		return 0
	}
	var sum float64
	for _, s := range samples {
		sum += float64(s) * float64(s)
	}
	return math.Sqrt(sum / float64(len(samples)))
}
