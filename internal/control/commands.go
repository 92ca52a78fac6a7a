package control

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"parley/internal/config"
	"parley/internal/doctor"
	"parley/internal/hook"
	"parley/internal/logging"

	"github.com/spf13/cobra"
)

// NewStatusCmd queries daemon status.
func NewStatusCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			var status Status
			if err := Call(cfg.Paths.SocketPath, Request{Op: "status"}, &status); err != nil {
				return err
			}
			jsonOut, _ := cmd.Flags().GetBool("json")
			if jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(status)
			}
			printStatus(cmd.OutOrStdout(), status)
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	return cmd
}

func printStatus(w io.Writer, status Status) {
	listening := "muted"
	if status.Listening {
		listening = "listening"
	}
	fmt.Fprintf(w, "running: %v\nuptime: %.1fs\nmic: %s\n", status.Running, status.UptimeSec, listening)
	if status.SessionID != "" {
		fmt.Fprintf(w, "session: %s\n", status.SessionID)
	}
	if status.SessionTranscript != "" {
		fmt.Fprintf(w, "transcript: %s\n", status.SessionTranscript)
	}
	for _, t := range status.Transcripts {
		fmt.Fprintf(w, "%s  %s\n", t.Timestamp.Format("15:04:05"), t.Text)
	}
}

// NewHealthCmd pings the control socket.
func NewHealthCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the daemon answers on its control socket",
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleOp(cmd, *cfgPath, "health")
		},
	}
}

// NewListenCmd starts a listening session in the running daemon.
func NewListenCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Start listening on the microphone",
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleOp(cmd, *cfgPath, "listen")
		},
	}
}

// NewMuteCmd stops the listening session; the last sentence is flushed.
func NewMuteCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "mute",
		Short: "Stop listening and flush the current sentence",
		RunE: func(cmd *cobra.Command, args []string) error {
			return simpleOp(cmd, *cfgPath, "mute")
		},
	}
}

func simpleOp(cmd *cobra.Command, cfgPath, op string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}
	var resp SimpleResponse
	if err := Call(cfg.Paths.SocketPath, Request{Op: op}, &resp); err != nil {
		return err
	}
	if !resp.OK {
		return fmt.Errorf("%s failed: %s", op, resp.Message)
	}
	fmt.Fprintln(cmd.OutOrStdout(), resp.Message)
	return nil
}

// NewTailLogCmd tails the main log file (simple last N lines).
func NewTailLogCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tail-log",
		Short: "Show last log lines",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			n, _ := cmd.Flags().GetInt("lines")
			path := cfg.Paths.LogPath
			if tr, _ := cmd.Flags().GetBool("transcripts"); tr {
				path = cfg.Paths.TranscriptPath
			}
			return tailFile(cmd.OutOrStdout(), path, n)
		},
	}
	cmd.Flags().IntP("lines", "n", 50, "number of lines")
	cmd.Flags().Bool("transcripts", false, "tail the transcripts log instead")
	return cmd
}

func tailFile(w io.Writer, path string, n int) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	lines := strings.Split(strings.TrimRight(string(data), "\n"), "\n")
	if len(lines) > n {
		lines = lines[len(lines)-n:]
	}
	for _, l := range lines {
		if strings.TrimSpace(l) != "" {
			fmt.Fprintln(w, l)
		}
	}
	return nil
}

// NewTestHookCmd triggers hook manually.
func NewTestHookCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "test-hook \"some text\"",
		Short: "Send sample text through hook",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			logger, err := logging.Configure(cfg)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("args") {
				raw, _ := cmd.Flags().GetString("args")
				if cfg.Hook.Args, err = hook.ParseArgs(raw); err != nil {
					return err
				}
			}
			r := hook.NewRunner(cfg, logger)
			if !r.Configured() {
				return fmt.Errorf("no hook.command configured in %s", cfg.Paths.ConfigPath)
			}
			job := hook.Job{Text: args[0], Cause: "test", Timestamp: time.Now()}
			return r.Run(cmd.Context(), job)
		},
	}
	cmd.Flags().String("args", "", "override hook.args for this call (shell quoting)")
	return cmd
}

// NewDoctorCmd runs environment checks.
func NewDoctorCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "doctor",
		Short: "Check dependencies and config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			results := doctor.Run(cmd.Context(), cfg)
			exitCode := 0
			for _, r := range results {
				status := "ok"
				if !r.Pass {
					status = "fail"
					exitCode = 1
				}
				fmt.Fprintf(cmd.OutOrStdout(), "%-14s %-4s %s\n", r.Name, status, r.Detail)
			}
			if exitCode != 0 {
				return fmt.Errorf("doctor found issues")
			}
			return nil
		},
	}
}
