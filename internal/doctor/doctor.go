package doctor

import (
	"context"
	"os"
	"os/exec"
	"strings"
	"time"

	"parley/internal/asr"
	"parley/internal/audio"
	"parley/internal/config"

	"github.com/google/shlex"
)

const pingTimeout = 3 * time.Second

// Result represents a diagnostic check.
type Result struct {
	Name   string
	Pass   bool
	Detail string
}

// Run executes doctor checks.
func Run(ctx context.Context, cfg *config.Config) []Result {
	results := []Result{
		checkFile("config path", cfg.Paths.ConfigPath),
		checkConfig(cfg),
		checkRecognizer(ctx, cfg),
	}
	if cfg.VAD.Enabled {
		results = append(results, checkDetector(cfg))
	}
	if cfg.Punctuation.Enabled && strings.EqualFold(cfg.Punctuation.Backend, "command") {
		results = append(results, checkExecutable("punctuation", cfg.Punctuation.Command))
	}
	results = append(results,
		checkHook(cfg.Hook.Command),
		checkPortAudioPkgConfig(),
		checkPortAudio(),
	)
	return results
}

func checkFile(label, path string) Result {
	if path == "" {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	if _, err := os.Stat(os.ExpandEnv(path)); err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: path}
}

func checkConfig(cfg *config.Config) Result {
	if err := cfg.Validate(); err != nil {
		return Result{Name: "config", Pass: false, Detail: err.Error()}
	}
	return Result{Name: "config", Pass: true, Detail: "valid"}
}

func checkRecognizer(ctx context.Context, cfg *config.Config) Result {
	switch strings.ToLower(cfg.ASR.Backend) {
	case "whisper":
		return checkFile("asr model", cfg.ASR.ModelPath)
	case "", "funasr":
		rec, err := asr.NewFunASRRecognizer(cfg.ASR.URL, cfg.Audio.SampleRate, pingTimeout)
		if err != nil {
			return Result{Name: "asr server", Pass: false, Detail: err.Error()}
		}
		if err := rec.Ping(ctx); err != nil {
			return Result{Name: "asr server", Pass: false, Detail: err.Error()}
		}
		return Result{Name: "asr server", Pass: true, Detail: cfg.ASR.URL}
	default:
		return Result{Name: "asr", Pass: false, Detail: "unknown backend " + cfg.ASR.Backend}
	}
}

func checkDetector(cfg *config.Config) Result {
	label := "vad " + cfg.VAD.Backend
	if strings.EqualFold(cfg.VAD.Backend, "silero") {
		if r := checkFile(label, cfg.VAD.SileroModelPath); !r.Pass {
			return r
		}
	}
	d, err := asr.NewDetector(cfg)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	asr.ReleaseState(d)
	return Result{Name: label, Pass: true, Detail: "ok"}
}

func checkHook(command string) Result {
	if strings.TrimSpace(command) == "" {
		return Result{Name: "hook.command", Pass: true, Detail: "not set (sentences are only logged)"}
	}
	return checkExecutable("hook.command", command)
}

// checkExecutable resolves the program of a shell-style command line.
func checkExecutable(label, command string) Result {
	argv, err := shlex.Split(command)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	if len(argv) == 0 {
		return Result{Name: label, Pass: false, Detail: "not set"}
	}
	path := os.ExpandEnv(argv[0])
	// If contains a path separator, treat as explicit path.
	if strings.Contains(path, "/") || strings.Contains(path, "\\") {
		info, err := os.Stat(path)
		if err != nil {
			return Result{Name: label, Pass: false, Detail: err.Error()}
		}
		if info.IsDir() {
			return Result{Name: label, Pass: false, Detail: "is a directory; point it at an executable file"}
		}
		if info.Mode().Perm()&0o111 == 0 {
			return Result{Name: label, Pass: false, Detail: "not executable; chmod +x or choose another command"}
		}
		return Result{Name: label, Pass: true, Detail: path}
	}
	// Else search PATH.
	resolved, err := exec.LookPath(path)
	if err != nil {
		return Result{Name: label, Pass: false, Detail: err.Error()}
	}
	return Result{Name: label, Pass: true, Detail: resolved}
}

func checkPortAudioPkgConfig() Result {
	pkg, err := exec.LookPath("pkg-config")
	if err != nil {
		return Result{Name: "pkg-config", Pass: false, Detail: "pkg-config not found (brew install pkg-config)"}
	}
	cmd := exec.Command(pkg, "--exists", "portaudio-2.0")
	if err := cmd.Run(); err != nil {
		return Result{Name: "portaudio pc", Pass: false, Detail: "portaudio-2.0 not found (brew install portaudio)"}
	}
	// Optional display version
	versionCmd := exec.Command(pkg, "--modversion", "portaudio-2.0")
	if out, err := versionCmd.Output(); err == nil {
		return Result{Name: "portaudio pc", Pass: true, Detail: strings.TrimSpace(string(out))}
	}
	return Result{Name: "portaudio pc", Pass: true, Detail: "found via pkg-config"}
}

func checkPortAudio() Result {
	if err := audio.CheckPortAudio(); err != nil {
		return Result{Name: "portaudio", Pass: false, Detail: err.Error()}
	}
	return Result{Name: "portaudio", Pass: true, Detail: "ok"}
}
