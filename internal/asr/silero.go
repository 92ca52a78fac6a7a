//go:build silero

package asr

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"

	ort "github.com/yalue/onnxruntime_go"
)

const (
	// Silero VAD v5 at 16 kHz takes exactly 512 samples per inference.
	sileroWindow = 512
	// Combined RNN state tensor is [2, 1, 128].
	sileroStateLen = 2 * 128
)

var (
	ortInitOnce sync.Once
	ortInitErr  error
)

// SileroDetector runs Silero VAD v5 through ONNX Runtime. One native
// session is shared; the RNN state lives in each caller's State.
type SileroDetector struct {
	opts DetectorOptions

	mu      sync.Mutex
	session *ort.AdvancedSession
	input   *ort.Tensor[float32]
	state   *ort.Tensor[float32]
	sr      *ort.Tensor[int64]
	output  *ort.Tensor[float32]
	stateN  *ort.Tensor[float32]
}

type sileroState struct {
	frameState
	rnn []float32
}

// NewSileroDetector initializes ONNX Runtime once and loads the model file.
func NewSileroDetector(opts DetectorOptions) (*SileroDetector, error) {
	if opts.SampleRate != 16000 {
		return nil, fmt.Errorf("silero vad: requires 16000 Hz (got %d)", opts.SampleRate)
	}
	model, err := os.ReadFile(opts.ModelPath)
	if err != nil {
		return nil, fmt.Errorf("silero vad: read model: %w", err)
	}
	ortInitOnce.Do(func() {
		libPath, err := resolveORTLibPath()
		if err != nil {
			ortInitErr = fmt.Errorf("resolve ORT lib: %w", err)
			return
		}
		ort.SetSharedLibraryPath(libPath)
		ortInitErr = ort.InitializeEnvironment()
	})
	if ortInitErr != nil {
		return nil, fmt.Errorf("silero vad: %w", ortInitErr)
	}

	d := &SileroDetector{opts: opts}
	if err := d.allocate(model); err != nil {
		d.Close()
		return nil, err
	}
	return d, nil
}

func (d *SileroDetector) allocate(model []byte) error {
	var err error
	if d.input, err = ort.NewEmptyTensor[float32](ort.NewShape(1, sileroWindow)); err != nil {
		return fmt.Errorf("silero vad: input tensor: %w", err)
	}
	if d.state, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		return fmt.Errorf("silero vad: state tensor: %w", err)
	}
	if d.sr, err = ort.NewTensor(ort.NewShape(1), []int64{int64(d.opts.SampleRate)}); err != nil {
		return fmt.Errorf("silero vad: sr tensor: %w", err)
	}
	if d.output, err = ort.NewEmptyTensor[float32](ort.NewShape(1, 1)); err != nil {
		return fmt.Errorf("silero vad: output tensor: %w", err)
	}
	if d.stateN, err = ort.NewEmptyTensor[float32](ort.NewShape(2, 1, 128)); err != nil {
		return fmt.Errorf("silero vad: stateN tensor: %w", err)
	}
	d.session, err = ort.NewAdvancedSessionWithONNXData(
		model,
		[]string{"input", "state", "sr"},
		[]string{"output", "stateN"},
		[]ort.Value{d.input, d.state, d.sr},
		[]ort.Value{d.output, d.stateN},
		nil,
	)
	if err != nil {
		return fmt.Errorf("silero vad: create session: %w", err)
	}
	return nil
}

func (d *SileroDetector) NewState() State {
	return &sileroState{
		frameState: frameState{hyst: newHysteresis(sileroWindow*1000/d.opts.SampleRate, d.opts.MinSpeechMS, d.opts.SilenceMS)},
		rnn:        make([]float32, sileroStateLen),
	}
}

func (d *SileroDetector) Detect(chunk []float32, st State) ([]Boundary, error) {
	ss, ok := st.(*sileroState)
	if !ok {
		return nil, fmt.Errorf("silero vad: foreign state %T", st)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session == nil {
		return nil, fmt.Errorf("silero vad: closed")
	}
	return ss.scan(chunk, sileroWindow, func(window []float32) (bool, error) {
		copy(d.input.GetData(), window)
		copy(d.state.GetData(), ss.rnn)
		if err := d.session.Run(); err != nil {
			return false, fmt.Errorf("silero vad: inference: %w", err)
		}
		copy(ss.rnn, d.stateN.GetData())
		return float64(d.output.GetData()[0]) >= d.opts.Threshold, nil
	})
}

// Close releases the ONNX session and tensors. Safe to call twice.
func (d *SileroDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.session != nil {
		d.session.Destroy()
		d.session = nil
	}
	for _, t := range []*ort.Tensor[float32]{d.input, d.state, d.output, d.stateN} {
		if t != nil {
			t.Destroy()
		}
	}
	if d.sr != nil {
		d.sr.Destroy()
	}
	d.input, d.state, d.sr, d.output, d.stateN = nil, nil, nil, nil, nil
	return nil
}

// resolveORTLibPath finds the ONNX Runtime shared library: PARLEY_ORT_LIB
// first, then lib/<os>-<arch>/ next to or above the executable.
func resolveORTLibPath() (string, error) {
	if p := os.Getenv("PARLEY_ORT_LIB"); p != "" {
		info, err := os.Stat(p)
		if err != nil {
			return "", fmt.Errorf("ort: PARLEY_ORT_LIB=%q does not exist", p)
		}
		if info.IsDir() {
			return "", fmt.Errorf("ort: PARLEY_ORT_LIB=%q is a directory", p)
		}
		return p, nil
	}
	name := "libonnxruntime.so"
	switch runtime.GOOS {
	case "darwin":
		name = "libonnxruntime.dylib"
	case "windows":
		name = "onnxruntime.dll"
	}
	platform := runtime.GOOS + "-" + runtime.GOARCH
	if exe, err := os.Executable(); err == nil {
		dir := filepath.Dir(exe)
		for _, rel := range []string{filepath.Join("lib", platform, name), filepath.Join("..", "lib", platform, name)} {
			if _, err := os.Stat(filepath.Join(dir, rel)); err == nil {
				return filepath.Join(dir, rel), nil
			}
		}
	}
	return "", fmt.Errorf("ort: %s not found under lib/%s next to the executable (set PARLEY_ORT_LIB)", name, platform)
}
