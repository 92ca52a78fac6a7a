package control

import (
	"fmt"
	"time"

	"parley/internal/asr"
	"parley/internal/audio"
	"parley/internal/config"
	"parley/internal/hook"
	"parley/internal/logging"
	"parley/internal/segment"

	"github.com/spf13/cobra"
)

// NewTranscribeCmd runs the segmentation pipeline over a WAV file and
// optionally fires the hook for each sentence.
func NewTranscribeCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "transcribe <wavfile>",
		Short: "Transcribe a WAV file sentence by sentence",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			if err := cfg.Validate(); err != nil {
				return err
			}
			logger, err := logging.Configure(cfg)
			if err != nil {
				return err
			}
			wantHook, _ := cmd.Flags().GetBool("hook")
			interim, _ := cmd.Flags().GetBool("interim")
			realtime, _ := cmd.Flags().GetBool("realtime")

			src, err := audio.NewWAVSource(args[0], cfg.Audio.FrameMS, realtime)
			if err != nil {
				return err
			}
			settings := segment.FromConfig(cfg)
			settings.Clock = segment.ClockStream

			ctx := cmd.Context()
			models := asr.NewModels(ctx, cfg, logger)
			defer models.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "%s (%s)\n", args[0], src.Duration().Round(time.Millisecond))
			finals, transcript, err := transcribe(ctx, settings, models, src, out, interim, logger)
			if err != nil {
				return err
			}
			fmt.Fprintf(out, "\n%s\n", transcript)

			if !wantHook {
				return nil
			}
			r := hook.NewRunner(cfg, logger)
			if !r.Configured() {
				return fmt.Errorf("no hook.command configured")
			}
			for _, ev := range finals {
				if !r.Accept(ev.SentenceText) {
					continue
				}
				job := hook.Job{
					Text:      ev.SentenceText,
					SessionID: ev.SessionID,
					Seq:       ev.Seq,
					Cause:     string(ev.Cause),
					Timestamp: time.Now(),
				}
				if err := r.Run(ctx, job); err != nil {
					return err
				}
			}
			return nil
		},
	}
	cmd.Flags().Bool("hook", false, "also send each sentence through the configured hook")
	cmd.Flags().Bool("interim", false, "print interim results")
	cmd.Flags().Bool("realtime", false, "replay the file at capture speed")
	return cmd
}
