package segment

import (
	"time"

	"parley/internal/asr"
	"parley/internal/config"
)

// Clock names accepted in Settings.Clock.
const (
	ClockWall   = "wall"
	ClockStream = "stream"
)

// Settings is the immutable configuration of one Engine.
type Settings struct {
	SampleRate         int
	VADEnabled         bool
	PunctuationEnabled bool
	// VADChunk and ASRChunk are window sizes in samples.
	VADChunk           int
	ASRChunk           int
	Params             asr.StreamParams
	MaxSegmentDuration time.Duration
	IdleSleep          time.Duration
	JoinTimeout        time.Duration
	// Clock is ClockWall (time.Now) or ClockStream, where time is the
	// position of the audio consumed so far.
	Clock string
}

// DefaultSettings matches the default configuration: 16 kHz, 200 ms VAD
// chunks, 600 ms recognizer chunks, 7 s forced cuts.
func DefaultSettings() Settings {
	return Settings{
		SampleRate:         16000,
		VADEnabled:         true,
		PunctuationEnabled: true,
		VADChunk:           3200,
		ASRChunk:           9600,
		Params: asr.StreamParams{
			Shape:           asr.ChunkShape{0, 10, 5},
			EncoderLookBack: 4,
			DecoderLookBack: 1,
		},
		MaxSegmentDuration: 7 * time.Second,
		IdleSleep:          10 * time.Millisecond,
		JoinTimeout:        2 * time.Second,
		Clock:              ClockWall,
	}
}

// FromConfig derives engine settings from a validated config.
func FromConfig(cfg *config.Config) Settings {
	rate := cfg.Audio.SampleRate
	s := Settings{
		SampleRate:         rate,
		VADEnabled:         cfg.VAD.Enabled,
		PunctuationEnabled: cfg.Punctuation.Enabled,
		VADChunk:           rate * cfg.VAD.ChunkMS / 1000,
		ASRChunk:           rate * cfg.ASR.ChunkMS / 1000,
		Params:             asr.StreamParamsFromConfig(cfg),
		MaxSegmentDuration: config.Duration(cfg.Segment.MaxDurationSec),
		IdleSleep:          time.Duration(cfg.Segment.IdleSleepMS) * time.Millisecond,
		JoinTimeout:        time.Duration(cfg.Segment.JoinTimeoutMS) * time.Millisecond,
		Clock:              cfg.Segment.Clock,
	}
	if s.Clock == "" {
		s.Clock = ClockWall
	}
	if s.IdleSleep <= 0 {
		s.IdleSleep = 10 * time.Millisecond
	}
	if s.JoinTimeout <= 0 {
		s.JoinTimeout = 2 * time.Second
	}
	return s
}
