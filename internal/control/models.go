package control

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"parley/internal/config"

	"github.com/spf13/cobra"
)

type modelKind string

const (
	kindWhisper modelKind = "whisper"
	kindSilero  modelKind = "silero"
)

type modelEntry struct {
	Kind modelKind
	URL  string
}

// simple registry of known models.
var modelRegistry = map[string]modelEntry{
	"ggml-small-q5_1.bin":          {kindWhisper, "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-small-q5_1.bin"},
	"ggml-medium-q5_1.bin":         {kindWhisper, "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-medium-q5_1.bin"},
	"ggml-large-v3-q5_0.bin":       {kindWhisper, "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3-q5_0.bin"},
	"ggml-large-v3-turbo-q8_0.bin": {kindWhisper, "https://huggingface.co/ggerganov/whisper.cpp/resolve/main/ggml-large-v3-turbo-q8_0.bin"},
	"silero_vad.onnx":              {kindSilero, "https://github.com/snakers4/silero-vad/raw/master/src/silero_vad/data/silero_vad.onnx"},
}

// NewModelsCmd wires up the models subcommands (list/download/set).
func NewModelsCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "models",
		Short: "List/download/set whisper and silero models",
	}
	cmd.AddCommand(newModelsListCmd(cfgPath))
	cmd.AddCommand(newModelsDownloadCmd(cfgPath))
	cmd.AddCommand(newModelsSetCmd(cfgPath))
	return cmd
}

func newModelsListCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List known models and those present locally",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			local := map[string]bool{}
			entries, _ := os.ReadDir(cfg.Paths.ModelDir)
			for _, e := range entries {
				if !e.IsDir() {
					local[e.Name()] = true
				}
			}
			names := make([]string, 0, len(modelRegistry))
			for n := range modelRegistry {
				names = append(names, n)
			}
			sort.Strings(names)
			for _, n := range names {
				avail := ""
				if local[n] {
					avail = "(downloaded)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "- %-30s %-8s %s\n", n, modelRegistry[n].Kind, avail)
			}
			return nil
		},
	}
}

func newModelsDownloadCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "download <model>",
		Short: "Download a model from the registry",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			name := args[0]
			entry, ok := modelRegistry[name]
			if !ok {
				return fmt.Errorf("unknown model %q; run models list", name)
			}
			dest := filepath.Join(cfg.Paths.ModelDir, name)
			fmt.Fprintf(cmd.OutOrStdout(), "downloading %s -> %s\n", name, dest)
			return download(cmd.Context(), http.DefaultClient, entry.URL, dest)
		},
	}
}

func newModelsSetCmd(cfgPath *string) *cobra.Command {
	return &cobra.Command{
		Use:   "set <model-name-or-path>",
		Short: "Point asr.model_path (or vad.silero_model_path for .onnx) at a model",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			key, val := setModel(cfg, args[0])
			if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s set to %s\n", key, val)
			return nil
		},
	}
}

// setModel resolves short names inside the model dir and updates the
// matching config key.
func setModel(cfg *config.Config, val string) (key, path string) {
	if !strings.Contains(val, "/") {
		val = filepath.Join(cfg.Paths.ModelDir, val)
	}
	if strings.HasSuffix(val, ".onnx") {
		cfg.VAD.SileroModelPath = val
		return "vad.silero_model_path", val
	}
	cfg.ASR.ModelPath = val
	return "asr.model_path", val
}

// download fetches url into dest through a .part file.
func download(ctx context.Context, client *http.Client, url, dest string) error {
	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return err
	}
	if ctx == nil {
		ctx = context.Background()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer func() { _ = resp.Body.Close() }()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("download failed: %s", resp.Status)
	}
	tmp := dest + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return err
	}
	if _, err := io.Copy(out, resp.Body); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		return err
	}
	return os.Rename(tmp, dest)
}
