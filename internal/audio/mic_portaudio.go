//go:build portaudio

package audio

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/gordonklaus/portaudio"
)

// MicSource captures float32 mono frames from a PortAudio input device.
type MicSource struct {
	device  string
	frameMS int

	mu     sync.Mutex
	stream *portaudio.Stream
	name   string
}

// NewMicSource returns a source for the first input device whose name
// contains device (case-insensitive), or the default input when empty.
func NewMicSource(device string, frameMS int) (*MicSource, error) {
	if frameMS <= 0 {
		return nil, fmt.Errorf("frame_ms must be positive (got %d)", frameMS)
	}
	return &MicSource{device: device, frameMS: frameMS}, nil
}

func (m *MicSource) Start(push func(Frame)) error {
	if err := portaudio.Initialize(); err != nil {
		return fmt.Errorf("portaudio init: %w", err)
	}
	dev, err := selectDevice(m.device)
	if err != nil {
		_ = portaudio.Terminate()
		return err
	}
	frameSamples := SampleRate * m.frameMS / 1000
	stream, err := portaudio.OpenStream(portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: 1,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(SampleRate),
		FramesPerBuffer: frameSamples,
	}, func(in []float32) {
		cp := make([]float32, len(in))
		copy(cp, in)
		push(Frame{Samples: cp, Captured: time.Now()})
	})
	if err != nil {
		_ = portaudio.Terminate()
		return fmt.Errorf("open stream: %w", err)
	}
	if err := stream.Start(); err != nil {
		_ = stream.Close()
		_ = portaudio.Terminate()
		return fmt.Errorf("start stream: %w", err)
	}
	m.mu.Lock()
	m.stream = stream
	m.name = dev.Name
	m.mu.Unlock()
	return nil
}

// Name returns the selected device name once started.
func (m *MicSource) Name() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.name
}

func (m *MicSource) Close() error {
	m.mu.Lock()
	stream := m.stream
	m.stream = nil
	m.mu.Unlock()
	if stream == nil {
		return nil
	}
	var errs []error
	if err := stream.Stop(); err != nil {
		errs = append(errs, fmt.Errorf("stop stream: %w", err))
	}
	if err := stream.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close stream: %w", err))
	}
	if err := portaudio.Terminate(); err != nil {
		errs = append(errs, fmt.Errorf("portaudio terminate: %w", err))
	}
	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}

// InputDevice describes a capture device.
type InputDevice struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Channels  int     `json:"channels"`
	LatencyMs float64 `json:"latency_ms"`
	Default   bool    `json:"default"`
}

// ListInputDevices enumerates devices with at least one input channel.
func ListInputDevices() ([]InputDevice, error) {
	if err := portaudio.Initialize(); err != nil {
		return nil, fmt.Errorf("portaudio init: %w", err)
	}
	defer portaudio.Terminate()

	devs, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	def, _ := portaudio.DefaultInputDevice()
	out := []InputDevice{}
	for i, d := range devs {
		if d.MaxInputChannels < 1 {
			continue
		}
		out = append(out, InputDevice{
			Index:     i,
			Name:      d.Name,
			Channels:  d.MaxInputChannels,
			LatencyMs: d.DefaultLowInputLatency.Seconds() * 1000,
			Default:   def != nil && d.Name == def.Name,
		})
	}
	return out, nil
}

// CheckPortAudio initializes and terminates PortAudio once.
func CheckPortAudio() error {
	if err := portaudio.Initialize(); err != nil {
		return err
	}
	return portaudio.Terminate()
}

func selectDevice(preferred string) (*portaudio.DeviceInfo, error) {
	devs, err := portaudio.Devices()
	if err != nil {
		return nil, fmt.Errorf("list devices: %w", err)
	}
	if preferred != "" {
		for _, d := range devs {
			if d.MaxInputChannels > 0 && strings.Contains(strings.ToLower(d.Name), strings.ToLower(preferred)) {
				return d, nil
			}
		}
	}
	if def, err := portaudio.DefaultInputDevice(); err == nil && def != nil {
		return def, nil
	}
	for _, d := range devs {
		if d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no input devices found")
}
