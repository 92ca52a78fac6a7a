package control

import (
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"parley/internal/config"

	"github.com/spf13/cobra"
)

// NewSetupCmd downloads the models the configured backends need.
func NewSetupCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "setup",
		Short: "Download the whisper and silero models the config needs",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			needed := requiredModels(cfg)
			if len(needed) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "nothing to download for the configured backends")
				return nil
			}
			for _, m := range needed {
				if _, err := os.Stat(m.path); err == nil {
					fmt.Fprintln(cmd.OutOrStdout(), "model already present at", m.path)
					continue
				}
				fmt.Fprintf(cmd.OutOrStdout(), "downloading model to %s\n", m.path)
				if err := download(cmd.Context(), http.DefaultClient, m.url, m.path); err != nil {
					return fmt.Errorf("%s: %w", filepath.Base(m.path), err)
				}
			}
			fmt.Fprintln(cmd.OutOrStdout(), "model download complete")
			return nil
		},
	}
}

type requiredModel struct {
	path string
	url  string
}

func requiredModels(cfg *config.Config) []requiredModel {
	var out []requiredModel
	if strings.EqualFold(cfg.ASR.Backend, "whisper") {
		path := os.ExpandEnv(cfg.ASR.ModelPath)
		entry, ok := modelRegistry[filepath.Base(path)]
		if !ok {
			entry = modelRegistry["ggml-small-q5_1.bin"]
		}
		out = append(out, requiredModel{path: path, url: entry.URL})
	}
	if cfg.VAD.Enabled && strings.EqualFold(cfg.VAD.Backend, "silero") {
		out = append(out, requiredModel{
			path: os.ExpandEnv(cfg.VAD.SileroModelPath),
			url:  modelRegistry["silero_vad.onnx"].URL,
		})
	}
	return out
}
