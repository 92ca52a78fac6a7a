package asr

import (
	"context"
	"fmt"
	"strings"
	"time"

	"parley/internal/config"

	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

// Models holds the three adapters, each loading in the background from the
// moment NewModels returns.
type Models struct {
	Recognizer *Loader[Recognizer]
	Detector   *Loader[Detector]
	Punctuator *Loader[Punctuator]

	logger *logrus.Logger
}

// NewModels starts loading every backend configured in cfg.
func NewModels(ctx context.Context, cfg *config.Config, logger *logrus.Logger) *Models {
	return &Models{
		Recognizer: NewLoader(ctx, "recognizer:"+cfg.ASR.Backend, func(ctx context.Context) (Recognizer, error) {
			return NewRecognizer(ctx, cfg)
		}),
		Detector: NewLoader(ctx, "vad:"+cfg.VAD.Backend, func(context.Context) (Detector, error) {
			return NewDetector(cfg)
		}),
		Punctuator: NewLoader(ctx, "punctuation:"+cfg.Punctuation.Backend, func(context.Context) (Punctuator, error) {
			return NewPunctuator(cfg)
		}),
		logger: logger,
	}
}

// Warm waits for all loads. Detector and punctuator failures only degrade
// the session and are logged; a recognizer failure is returned.
func (m *Models) Warm(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		if _, err := m.Recognizer.Get(ctx); err != nil {
			return fmt.Errorf("%s: %w", m.Recognizer.Name(), err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := m.Detector.Get(ctx); err != nil && m.logger != nil {
			m.logger.Warnf("%s unavailable, vad will be disabled: %v", m.Detector.Name(), err)
		}
		return nil
	})
	g.Go(func() error {
		if _, err := m.Punctuator.Get(ctx); err != nil && m.logger != nil {
			m.logger.Warnf("%s unavailable, punctuation will be disabled: %v", m.Punctuator.Name(), err)
		}
		return nil
	})
	return g.Wait()
}

// Close releases adapters holding native resources. Loads still in flight
// are left alone.
func (m *Models) Close() {
	if v, ok := m.Recognizer.Peek(); ok {
		ReleaseState(v)
	}
	if v, ok := m.Detector.Peek(); ok {
		ReleaseState(v)
	}
	if v, ok := m.Punctuator.Peek(); ok {
		ReleaseState(v)
	}
}

// StreamParamsFromConfig returns the recognizer streaming parameters.
func StreamParamsFromConfig(cfg *config.Config) StreamParams {
	var shape ChunkShape
	copy(shape[:], cfg.ASR.ChunkSize)
	return StreamParams{
		Shape:           shape,
		EncoderLookBack: cfg.ASR.EncoderLookBack,
		DecoderLookBack: cfg.ASR.DecoderLookBack,
	}
}

// NewRecognizer builds the configured recognizer. The funasr backend pings
// its server so an unreachable endpoint fails the load.
func NewRecognizer(ctx context.Context, cfg *config.Config) (Recognizer, error) {
	switch strings.ToLower(cfg.ASR.Backend) {
	case "", "funasr":
		r, err := NewFunASRRecognizer(cfg.ASR.URL, cfg.Audio.SampleRate, config.Duration(cfg.ASR.TimeoutSec))
		if err != nil {
			return nil, err
		}
		if err := r.Ping(ctx); err != nil {
			return nil, err
		}
		return r.WithFinalGrace(time.Duration(cfg.ASR.FinalGraceMS) * time.Millisecond), nil
	case "whisper":
		r, err := NewWhisperRecognizer(cfg.ASR.ModelPath, cfg.ASR.Language)
		if err != nil {
			return nil, err
		}
		return r, nil
	default:
		return nil, fmt.Errorf("unknown asr backend %q", cfg.ASR.Backend)
	}
}

// NewDetector builds the configured voice activity detector.
func NewDetector(cfg *config.Config) (Detector, error) {
	opts := DetectorOptions{
		SampleRate:     cfg.Audio.SampleRate,
		FrameMS:        cfg.Audio.FrameMS,
		MinSpeechMS:    cfg.VAD.MinSpeechMS,
		SilenceMS:      cfg.VAD.SilenceMS,
		Aggressiveness: cfg.VAD.Aggressiveness,
		ModelPath:      cfg.VAD.SileroModelPath,
	}
	var (
		d   Detector
		err error
	)
	// d stays nil on error; never wrap a nil pointer.
	switch strings.ToLower(cfg.VAD.Backend) {
	case "", "energy":
		opts.Threshold = cfg.VAD.EnergyThresh
		var e *EnergyDetector
		if e, err = NewEnergyDetector(opts); err == nil {
			d = e
		}
	case "webrtc":
		var w *WebRTCDetector
		if w, err = NewWebRTCDetector(opts); err == nil {
			d = w
		}
	case "silero":
		opts.Threshold = cfg.VAD.SileroThreshold
		var s *SileroDetector
		if s, err = NewSileroDetector(opts); err == nil {
			d = s
		}
	default:
		err = fmt.Errorf("unknown vad backend %q", cfg.VAD.Backend)
	}
	return d, err
}

// NewPunctuator builds the configured punctuation backend.
func NewPunctuator(cfg *config.Config) (Punctuator, error) {
	switch strings.ToLower(cfg.Punctuation.Backend) {
	case "", "period":
		return PeriodPunctuator{}, nil
	case "command":
		p, err := NewCommandPunctuator(cfg.Punctuation.Command, cfg.Punctuation.Args, config.Duration(cfg.Punctuation.TimeoutSec))
		if err != nil {
			return nil, err
		}
		return p, nil
	default:
		return nil, fmt.Errorf("unknown punctuation backend %q", cfg.Punctuation.Backend)
	}
}
