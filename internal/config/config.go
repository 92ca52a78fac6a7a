package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"

	"github.com/pelletier/go-toml/v2"
)

const (
	defaultSampleRate     = 16000
	defaultVADChunkMS     = 200
	defaultASRChunkMS     = 600
	defaultMaxSegmentSec  = 7.0
	defaultStatusTail     = 10
	defaultStateDirLinux  = ".local/state/parley"
	defaultConfigDir      = ".config/parley"
	defaultFunASRURL      = "ws://127.0.0.1:10095"
	defaultJoinTimeoutMS  = 2000
	defaultIdleSleepMS    = 10
	defaultPuncTimeoutSec = 5
)

// Config holds user configuration loaded from TOML.
type Config struct {
	Audio struct {
		DeviceName string `toml:"device_name"`
		SampleRate int    `toml:"sample_rate"`
		Channels   int    `toml:"channels"`
		FrameMS    int    `toml:"frame_ms"`
	} `toml:"audio"`

	VAD struct {
		Enabled         bool    `toml:"enabled"`
		Backend         string  `toml:"backend"` // energy, webrtc, silero
		ChunkMS         int     `toml:"chunk_ms"`
		SilenceMS       int     `toml:"silence_ms"`
		MinSpeechMS     int     `toml:"min_speech_ms"`
		Aggressiveness  int     `toml:"aggressiveness"`
		EnergyThresh    float64 `toml:"energy_threshold"`
		SileroModelPath string  `toml:"silero_model_path"`
		SileroThreshold float64 `toml:"silero_threshold"`
	} `toml:"vad"`

	ASR struct {
		Backend         string  `toml:"backend"` // funasr, whisper
		URL             string  `toml:"url"`
		ModelPath       string  `toml:"model_path"`
		Language        string  `toml:"language"`
		ChunkMS         int     `toml:"chunk_ms"`
		ChunkSize       []int   `toml:"chunk_size"`
		EncoderLookBack int     `toml:"encoder_look_back"`
		DecoderLookBack int     `toml:"decoder_look_back"`
		TimeoutSec      float64 `toml:"timeout_sec"`
		// FinalGraceMS ends a funasr segment when the server stays quiet
		// this long after end of speech.
		FinalGraceMS int `toml:"final_grace_ms"`
	} `toml:"asr"`

	Punctuation struct {
		Enabled    bool     `toml:"enabled"`
		Backend    string   `toml:"backend"` // period, command
		Command    string   `toml:"command"`
		Args       []string `toml:"args"`
		TimeoutSec float64  `toml:"timeout_sec"`
	} `toml:"punctuation"`

	Segment struct {
		MaxDurationSec float64 `toml:"max_duration_sec"`
		IdleSleepMS    int     `toml:"idle_sleep_ms"`
		JoinTimeoutMS  int     `toml:"join_timeout_ms"`
		Clock          string  `toml:"clock"` // wall, stream
		// ListenOnStart opens the microphone as soon as the daemon is up.
		ListenOnStart bool `toml:"listen_on_start"`
	} `toml:"segment"`

	Hook struct {
		Command     string            `toml:"command"`
		Args        []string          `toml:"args"`
		Prefix      string            `toml:"prefix"`
		CooldownSec float64           `toml:"cooldown_sec"`
		MinChars    int               `toml:"min_chars"`
		QueueSize   int               `toml:"queue_size"`
		TimeoutSec  float64           `toml:"timeout_sec"`
		Env         map[string]string `toml:"env"`
		RedactPII   bool              `toml:"redact_pii"`
	} `toml:"hook"`

	Logging struct {
		Level  string `toml:"level"`  // debug, info, warn, error
		Format string `toml:"format"` // text, json
		Stdout bool   `toml:"stdout"`
		// Rotation of paths.log_path.
		MaxSizeMB  int `toml:"max_size_mb"`
		MaxBackups int `toml:"max_backups"`
		MaxAgeDays int `toml:"max_age_days"`
	} `toml:"logging"`

	Paths struct {
		StateDir       string `toml:"state_dir"`
		LogPath        string `toml:"log_path"`
		TranscriptPath string `toml:"transcript_path"`
		SocketPath     string `toml:"socket_path"`
		PidPath        string `toml:"pid_path"`
		ModelDir       string `toml:"model_dir"`
		ConfigPath     string `toml:"-"`
	} `toml:"paths"`

	UI struct {
		StatusTail int `toml:"status_tail"`
	} `toml:"ui"`

	Metrics struct {
		Enabled bool   `toml:"enabled"`
		Addr    string `toml:"addr"`
	} `toml:"metrics"`

	Events struct {
		Enabled bool `toml:"enabled"` // /events websocket on the metrics listener
	} `toml:"events"`

	Transcripts struct {
		Enabled bool `toml:"enabled"`
	} `toml:"transcripts"`
}

// Default returns Config populated with defaults.
func Default() (*Config, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, err
	}

	stateDir := filepath.Join(home, defaultStateDirLinux)
	// macOS prefers ~/Library/Application Support/parley for state/logs
	if isMac() {
		stateDir = filepath.Join(home, "Library", "Application Support", "parley")
	}

	cfg := &Config{}

	cfg.Audio.SampleRate = defaultSampleRate
	cfg.Audio.Channels = 1
	cfg.Audio.FrameMS = 20

	cfg.VAD.Enabled = true
	cfg.VAD.Backend = "energy"
	cfg.VAD.ChunkMS = defaultVADChunkMS
	cfg.VAD.SilenceMS = 800
	cfg.VAD.MinSpeechMS = 60
	cfg.VAD.Aggressiveness = 2
	cfg.VAD.EnergyThresh = 0.015
	cfg.VAD.SileroModelPath = filepath.Join(stateDir, "models", "silero_vad.onnx")
	cfg.VAD.SileroThreshold = 0.5

	cfg.ASR.Backend = "funasr"
	cfg.ASR.URL = defaultFunASRURL
	cfg.ASR.ModelPath = filepath.Join(stateDir, "models", "ggml-small-q5_1.bin")
	cfg.ASR.Language = "auto"
	cfg.ASR.ChunkMS = defaultASRChunkMS
	cfg.ASR.ChunkSize = []int{0, 10, 5}
	cfg.ASR.EncoderLookBack = 4
	cfg.ASR.DecoderLookBack = 1
	cfg.ASR.TimeoutSec = 10
	cfg.ASR.FinalGraceMS = 1500

	cfg.Punctuation.Enabled = true
	cfg.Punctuation.Backend = "period"
	cfg.Punctuation.Args = []string{}
	cfg.Punctuation.TimeoutSec = defaultPuncTimeoutSec

	cfg.Segment.MaxDurationSec = defaultMaxSegmentSec
	cfg.Segment.IdleSleepMS = defaultIdleSleepMS
	cfg.Segment.JoinTimeoutMS = defaultJoinTimeoutMS
	cfg.Segment.Clock = "wall"
	cfg.Segment.ListenOnStart = true

	cfg.Hook.Command = ""
	cfg.Hook.Args = []string{}
	cfg.Hook.Prefix = ""
	cfg.Hook.CooldownSec = 0
	cfg.Hook.MinChars = 1
	cfg.Hook.QueueSize = 16
	cfg.Hook.TimeoutSec = 10
	cfg.Hook.Env = map[string]string{}

	cfg.Logging.Level = "info"
	cfg.Logging.Format = "text"
	cfg.Logging.MaxSizeMB = 20
	cfg.Logging.MaxBackups = 3
	cfg.Logging.MaxAgeDays = 30

	cfg.Paths.StateDir = stateDir
	cfg.Paths.LogPath = filepath.Join(stateDir, "parley.log")
	cfg.Paths.TranscriptPath = filepath.Join(stateDir, "transcripts.log")
	cfg.Paths.SocketPath = filepath.Join(stateDir, "parley.sock")
	cfg.Paths.PidPath = filepath.Join(stateDir, "parley.pid")
	cfg.Paths.ModelDir = filepath.Join(stateDir, "models")

	cfg.UI.StatusTail = defaultStatusTail

	cfg.Metrics.Enabled = false
	cfg.Metrics.Addr = "127.0.0.1:9318"

	cfg.Events.Enabled = true

	cfg.Transcripts.Enabled = true

	return cfg, nil
}

// Load loads config from file, applying defaults.
func Load(path string) (*Config, error) {
	cfg, err := Default()
	if err != nil {
		return nil, err
	}

	if path == "" {
		home, _ := os.UserHomeDir()
		path = filepath.Join(home, defaultConfigDir, "config.toml")
	}

	// Read if exists; otherwise write template.
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if err := Save(cfg, path); err != nil {
				return nil, err
			}
			cfg.Paths.ConfigPath = path
			applyEnvOverrides(cfg)
			return cfg, nil
		}
		return nil, err
	}

	if err := toml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	cfg.Paths.ConfigPath = path
	applyEnvOverrides(cfg)
	return cfg, nil
}

// Save writes cfg to path.
func Save(cfg *Config, path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	out, err := toml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, out, 0o600)
}

// Validate checks the audio and chunking parameters the engine depends on.
func (c *Config) Validate() error {
	if c.Audio.Channels != 1 {
		return fmt.Errorf("only mono input supported; set audio.channels = 1")
	}
	if c.Audio.SampleRate <= 0 {
		return fmt.Errorf("audio.sample_rate must be positive (got %d)", c.Audio.SampleRate)
	}
	if c.Audio.FrameMS <= 0 {
		return fmt.Errorf("audio.frame_ms must be positive (got %d)", c.Audio.FrameMS)
	}
	if c.VAD.ChunkMS <= 0 || c.ASR.ChunkMS <= 0 {
		return fmt.Errorf("vad.chunk_ms and asr.chunk_ms must be positive (got %d, %d)", c.VAD.ChunkMS, c.ASR.ChunkMS)
	}
	if c.Audio.SampleRate*c.VAD.ChunkMS%1000 != 0 || c.Audio.SampleRate*c.ASR.ChunkMS%1000 != 0 {
		return fmt.Errorf("chunk durations must be whole samples at %d Hz", c.Audio.SampleRate)
	}
	if len(c.ASR.ChunkSize) != 3 {
		return fmt.Errorf("asr.chunk_size must have three entries (got %v)", c.ASR.ChunkSize)
	}
	if c.Segment.MaxDurationSec < 0 {
		return fmt.Errorf("segment.max_duration_sec must not be negative")
	}
	switch c.Segment.Clock {
	case "", "wall", "stream":
	default:
		return fmt.Errorf("segment.clock must be wall or stream (got %q)", c.Segment.Clock)
	}
	return nil
}

func isMac() bool {
	return runtime.GOOS == "darwin"
}

// MustStatePaths ensures state dirs exist.
func MustStatePaths(cfg *Config) error {
	for _, p := range []string{cfg.Paths.StateDir, filepath.Dir(cfg.Paths.LogPath), filepath.Dir(cfg.Paths.TranscriptPath)} {
		if p == "" {
			continue
		}
		if err := os.MkdirAll(p, 0o755); err != nil {
			return err
		}
	}
	return nil
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("PARLEY_VAD_ENABLED"); v != "" {
		cfg.VAD.Enabled = envBool(v)
	}
	if v := os.Getenv("PARLEY_PUNC_ENABLED"); v != "" {
		cfg.Punctuation.Enabled = envBool(v)
	}
	if v := os.Getenv("PARLEY_MAX_SEGMENT_SEC"); v != "" {
		if sec, err := strconv.ParseFloat(v, 64); err == nil {
			cfg.Segment.MaxDurationSec = sec
		}
	}
	if v := os.Getenv("PARLEY_LISTEN_ON_START"); v != "" {
		cfg.Segment.ListenOnStart = envBool(v)
	}
	if v := os.Getenv("PARLEY_ASR_URL"); v != "" {
		cfg.ASR.URL = v
	}
	if v := os.Getenv("PARLEY_METRICS_ADDR"); v != "" {
		cfg.Metrics.Addr = v
		cfg.Metrics.Enabled = true
	}
	if v := os.Getenv("PARLEY_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PARLEY_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
	if v := os.Getenv("PARLEY_TRANSCRIPTS_ENABLED"); v != "" {
		cfg.Transcripts.Enabled = envBool(v)
	}
	if v := os.Getenv("PARLEY_REDACT_PII"); v != "" {
		cfg.Hook.RedactPII = envBool(v)
	}
}

func envBool(v string) bool {
	return v != "0" && strings.ToLower(v) != "false"
}

// Duration converts fractional seconds from the config file.
func Duration(sec float64) time.Duration {
	return time.Duration(sec * float64(time.Second))
}
