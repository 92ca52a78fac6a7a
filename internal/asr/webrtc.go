package asr

import (
	"fmt"

	"parley/internal/audio"

	vad "github.com/maxhawkins/go-webrtcvad"
)

// WebRTCDetector classifies 10/20/30 ms frames with the WebRTC VAD.
type WebRTCDetector struct {
	opts DetectorOptions
}

type webrtcState struct {
	frameState
	vad *vad.VAD
	err error
}

// NewWebRTCDetector checks that the rate and frame length are ones the
// WebRTC VAD accepts.
func NewWebRTCDetector(opts DetectorOptions) (*WebRTCDetector, error) {
	switch opts.SampleRate {
	case 8000, 16000, 32000, 48000:
	default:
		return nil, fmt.Errorf("webrtc vad: sample rate must be 8k/16k/32k/48k (got %d)", opts.SampleRate)
	}
	if opts.FrameMS != 10 && opts.FrameMS != 20 && opts.FrameMS != 30 {
		return nil, fmt.Errorf("webrtc vad: frame must be 10, 20, or 30 ms (got %d)", opts.FrameMS)
	}
	if opts.Aggressiveness < 0 || opts.Aggressiveness > 3 {
		return nil, fmt.Errorf("webrtc vad: aggressiveness must be 0-3 (got %d)", opts.Aggressiveness)
	}
	// Create one instance up front; a broken native library fails the load.
	v, err := vad.New()
	if err != nil {
		return nil, fmt.Errorf("webrtc vad: %w", err)
	}
	if err := v.SetMode(opts.Aggressiveness); err != nil {
		return nil, fmt.Errorf("webrtc vad mode: %w", err)
	}
	return &WebRTCDetector{opts: opts}, nil
}

func (d *WebRTCDetector) NewState() State {
	st := &webrtcState{frameState: frameState{hyst: newHysteresis(d.opts.FrameMS, d.opts.MinSpeechMS, d.opts.SilenceMS)}}
	v, err := vad.New()
	if err == nil {
		err = v.SetMode(d.opts.Aggressiveness)
	}
	st.vad, st.err = v, err
	return st
}

func (d *WebRTCDetector) Detect(chunk []float32, st State) ([]Boundary, error) {
	ws, ok := st.(*webrtcState)
	if !ok {
		return nil, fmt.Errorf("webrtc vad: foreign state %T", st)
	}
	if ws.err != nil {
		return nil, fmt.Errorf("webrtc vad: %w", ws.err)
	}
	return ws.scan(chunk, d.opts.frameSamples(), func(frame []float32) (bool, error) {
		return ws.vad.Process(d.opts.SampleRate, audio.ToPCM16LE(frame))
	})
}
