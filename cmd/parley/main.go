package main

import (
	"fmt"
	"os"

	"parley/internal/control"
	"parley/internal/daemon"
	"parley/internal/run"

	"github.com/spf13/cobra"
)

const version = "0.1.0"

func main() {
	if err := execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func execute() error {
	run.Version = version
	root := &cobra.Command{
		Use:   "parley",
		Short: "Parley - live speech segmentation and transcription daemon",
		Long: `Parley listens on your mic, cuts speech into sentences with voice activity detection,
transcribes each sentence incrementally (FunASR streaming server or local whisper.cpp),
restores punctuation and hands finished sentences to a hook and to /events subscribers.

Key commands:
  start|stop|restart        Daemon lifecycle
  listen|mute               Start or stop the listening session
  status [--json]           Uptime, session, last sentences
  transcribe <wav>          Run the pipeline over a WAV file
  mic list|set              Select microphone (alias: microphone, mics)
  doctor|setup              Check deps / download models
  models list|download|set  Manage whisper and silero models
  service install|uninstall|status   launchd helper (macOS)
  health|tail-log|test-hook Liveness, log tail, manual hook

Notable flags/env:
  --metrics-addr <addr>     Enable /metrics (Prometheus) and /events (websocket)
  --no-vad, --no-punc       Disable VAD or punctuation for this run
  Env overrides: PARLEY_VAD_ENABLED, PARLEY_PUNC_ENABLED, PARLEY_MAX_SEGMENT_SEC,
                 PARLEY_ASR_URL, PARLEY_METRICS_ADDR, PARLEY_LOG_LEVEL/FORMAT,
                 PARLEY_TRANSCRIPTS_ENABLED, PARLEY_REDACT_PII`,
		Example: `  parley start --metrics-addr 127.0.0.1:9318
  parley mute
  parley listen
  parley transcribe --interim meeting.wav
  parley mic set --index 1
  parley models download silero_vad.onnx
  parley service install --env PARLEY_METRICS_ADDR=127.0.0.1:9318
  parley test-hook "hello there."`,
		DisableFlagsInUseLine: true,
	}

	root.Version = version
	root.SetVersionTemplate("Parley v{{.Version}}\n")

	cfgPath := root.PersistentFlags().StringP("config", "c", "", "Path to config file (TOML). Defaults to ~/.config/parley/config.toml")
	root.CompletionOptions.DisableDefaultCmd = true

	root.AddCommand(daemon.NewStartCmd(cfgPath))
	root.AddCommand(daemon.NewStopCmd(cfgPath))
	root.AddCommand(daemon.NewRestartCmd(cfgPath))
	root.AddCommand(control.NewStatusCmd(cfgPath))
	root.AddCommand(control.NewListenCmd(cfgPath))
	root.AddCommand(control.NewMuteCmd(cfgPath))
	root.AddCommand(control.NewTailLogCmd(cfgPath))
	root.AddCommand(control.NewMicCmd(cfgPath))
	root.AddCommand(control.NewTestHookCmd(cfgPath))
	root.AddCommand(control.NewDoctorCmd(cfgPath))
	root.AddCommand(control.NewServiceRootCmd(cfgPath))
	root.AddCommand(control.NewSetupCmd(cfgPath))
	root.AddCommand(control.NewHealthCmd(cfgPath))
	root.AddCommand(control.NewTranscribeCmd(cfgPath))
	root.AddCommand(control.NewModelsCmd(cfgPath))

	// Hidden internal serve command used by start.
	root.AddCommand(daemon.NewServeCmd(cfgPath))

	applyColorHelp(root)

	return root.Execute()
}

func applyColorHelp(root *cobra.Command) {
	const (
		boldBlue = "\033[1;34m"
		green    = "\033[32m"
		bold     = "\033[1m"
		dim      = "\033[2m"
		reset    = "\033[0m"
	)
	root.SetHelpFunc(func(cmd *cobra.Command, args []string) {
		if cmd != root {
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintln(out, cmd.UsageString())
			return
		}
		out := cmd.OutOrStdout()
		write := func(format string, args ...any) { _, _ = fmt.Fprintf(out, format, args...) }
		writeln := func(line string) { _, _ = fmt.Fprintln(out, line) }

		write("%sParley%s - live speech segmentation and transcription %s(v%s)%s\n", boldBlue, reset, dim, version, reset)
		write("%sListens on the mic, cuts sentences, transcribes incrementally, runs your hook.%s\n\n", dim, reset)

		write("%sUsage%s\n", bold, reset)
		write("  parley [command] [flags]\n\n")

		write("%sKey commands%s\n", bold, reset)
		writeln("  start|stop|restart          daemon lifecycle")
		writeln("  listen|mute                 start/stop the listening session")
		writeln("  status [--json]             uptime, session, last sentences")
		writeln("  transcribe <wav>            segment + transcribe a WAV file")
		writeln("  mic list|set                select input device (alias: microphone, mics)")
		writeln("  doctor                      check config/asr server/vad/portaudio")
		writeln("  setup                       download models the config needs")
		writeln("  models list|download|set    manage whisper and silero models")
		writeln("  service install|uninstall|status manage launchd plist (macOS)")
		writeln("  health                      control-socket liveness ping")
		writeln("  tail-log [--transcripts]    show last log lines")
		writeln("  test-hook \"text\"            invoke hook manually")
		writeln("")

		write("%sNotable flags & env%s\n", bold, reset)
		writeln("  --metrics-addr <addr>   enable /metrics (Prometheus) and /events")
		writeln("  --no-vad, --no-punc     disable VAD or punctuation for this run")
		writeln("  -c, --config <path>     config file (default ~/.config/parley/config.toml)")
		writeln("  Env: PARLEY_VAD_ENABLED=0, PARLEY_METRICS_ADDR=host:port,")
		writeln("       PARLEY_ASR_URL=ws://host:10095, PARLEY_MAX_SEGMENT_SEC=7,")
		writeln("       PARLEY_LOG_LEVEL=debug, PARLEY_LOG_FORMAT=json")
		writeln("")

		write("%sCommands%s\n", bold, reset)
		for _, c := range cmd.Commands() {
			if c.Hidden {
				continue
			}
			write("  %s%-15s%s %s\n", green, c.Name(), reset, c.Short)
		}
	})
}
