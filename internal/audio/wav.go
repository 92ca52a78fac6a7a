package audio

import (
	"fmt"
	"os"
	"sync"
	"time"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// ReadWAV decodes a PCM WAV file into mono float32 samples at SampleRate.
// Multi-channel input is averaged down to mono.
func ReadWAV(path string) ([]float32, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec := wav.NewDecoder(f)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%s: not a valid WAV file", path)
	}
	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return nil, fmt.Errorf("decode %s: %w", path, err)
	}
	if buf == nil || buf.Format == nil {
		return nil, fmt.Errorf("decode %s: missing format", path)
	}
	depth := buf.SourceBitDepth
	if depth == 0 {
		depth = int(dec.BitDepth)
	}
	mono, err := FromIntBuffer(buf, depth)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return Resample(mono, buf.Format.SampleRate, SampleRate), nil
}

// FromIntBuffer normalizes interleaved PCM of the given bit depth to mono
// float32 samples by averaging channels. The sample rate is left unchanged.
func FromIntBuffer(buf *goaudio.IntBuffer, depth int) ([]float32, error) {
	if depth <= 0 || depth > 32 {
		return nil, fmt.Errorf("unsupported bit depth %d", depth)
	}
	channels := 1
	if buf.Format != nil && buf.Format.NumChannels > 1 {
		channels = buf.Format.NumChannels
	}
	scale := float32(int64(1) << (depth - 1))
	mono := make([]float32, len(buf.Data)/channels)
	for i := range mono {
		var sum float32
		for c := 0; c < channels; c++ {
			sum += float32(buf.Data[i*channels+c]) / scale
		}
		mono[i] = sum / float32(channels)
	}
	return mono, nil
}

// SampleSource replays an in-memory signal as a capture source, in frames of
// a fixed size. With realtime pacing each frame is released after its own
// duration; otherwise frames are pushed as fast as the consumer accepts them.
type SampleSource struct {
	samples      []float32
	frameSamples int
	realtime     bool

	stop chan struct{}
	done chan struct{}
	once sync.Once
}

// NewSampleSource returns a source over samples with frameMS-sized frames.
func NewSampleSource(samples []float32, frameMS int, realtime bool) *SampleSource {
	n := SampleRate * frameMS / 1000
	if n <= 0 {
		n = SampleRate / 50
	}
	return &SampleSource{
		samples:      samples,
		frameSamples: n,
		realtime:     realtime,
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// NewWAVSource reads path and returns a source replaying it.
func NewWAVSource(path string, frameMS int, realtime bool) (*SampleSource, error) {
	samples, err := ReadWAV(path)
	if err != nil {
		return nil, err
	}
	return NewSampleSource(samples, frameMS, realtime), nil
}

func (s *SampleSource) Start(push func(Frame)) error {
	go func() {
		defer close(s.done)
		frameDur := SamplesToDuration(s.frameSamples, SampleRate)
		var ticker *time.Ticker
		if s.realtime {
			ticker = time.NewTicker(frameDur)
			defer ticker.Stop()
		}
		for off := 0; off < len(s.samples); off += s.frameSamples {
			end := min(off+s.frameSamples, len(s.samples))
			frame := make([]float32, end-off)
			copy(frame, s.samples[off:end])
			select {
			case <-s.stop:
				return
			default:
			}
			push(Frame{Samples: frame, Captured: time.Now()})
			if ticker != nil {
				select {
				case <-s.stop:
					return
				case <-ticker.C:
				}
			}
		}
	}()
	return nil
}

// Done is closed once every frame has been pushed or the source was closed.
func (s *SampleSource) Done() <-chan struct{} {
	return s.done
}

// Duration is the length of the replayed signal.
func (s *SampleSource) Duration() time.Duration {
	return SamplesToDuration(len(s.samples), SampleRate)
}

func (s *SampleSource) Close() error {
	s.once.Do(func() { close(s.stop) })
	return nil
}
