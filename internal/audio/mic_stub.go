//go:build !portaudio

package audio

// MicSource is unavailable in this build.
type MicSource struct{}

func NewMicSource(string, int) (*MicSource, error) { return nil, ErrNoCapture }

func (m *MicSource) Start(func(Frame)) error { return ErrNoCapture }
func (m *MicSource) Name() string            { return "" }
func (m *MicSource) Close() error            { return nil }

// InputDevice describes a capture device.
type InputDevice struct {
	Index     int     `json:"index"`
	Name      string  `json:"name"`
	Channels  int     `json:"channels"`
	LatencyMs float64 `json:"latency_ms"`
	Default   bool    `json:"default"`
}

func ListInputDevices() ([]InputDevice, error) { return nil, ErrNoCapture }

func CheckPortAudio() error { return ErrNoCapture }
