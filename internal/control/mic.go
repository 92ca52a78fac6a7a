package control

import (
	"encoding/json"
	"fmt"
	"runtime"

	"parley/internal/audio"
	"parley/internal/config"

	"github.com/spf13/cobra"
)

// NewMicCmd groups mic subcommands.
func NewMicCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:     "mic",
		Aliases: []string{"microphone", "mics"},
		Short:   "Microphone management",
	}
	cmd.AddCommand(newMicListCmd())
	cmd.AddCommand(newMicSetCmd(cfgPath))
	return cmd
}

func newMicListCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List available microphones",
		RunE: func(cmd *cobra.Command, args []string) error {
			devs, err := audio.ListInputDevices()
			if err != nil {
				return err
			}
			if jsonOut, _ := cmd.Flags().GetBool("json"); jsonOut {
				return json.NewEncoder(cmd.OutOrStdout()).Encode(devs)
			}
			for _, m := range devs {
				defMark := ""
				if m.Default {
					defMark = " (default)"
				}
				fmt.Fprintf(cmd.OutOrStdout(), "[%d] %s%s (in %d ch, latency %.2fms)\n", m.Index, m.Name, defMark, m.Channels, m.LatencyMs)
			}
			if len(devs) == 0 && runtime.GOOS == "darwin" {
				fmt.Fprintln(cmd.OutOrStdout(), "tip: if no devices appear, install PortAudio: brew install portaudio")
			}
			return nil
		},
	}
	cmd.Flags().Bool("json", false, "output JSON")
	return cmd
}

func newMicSetCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "set [name]",
		Short: "Set microphone device name in config",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			var name string
			if cmd.Flags().Changed("index") {
				idx, _ := cmd.Flags().GetInt("index")
				devs, err := audio.ListInputDevices()
				if err != nil {
					return err
				}
				if name, err = deviceByIndex(devs, idx); err != nil {
					return err
				}
			} else if len(args) == 1 {
				name = args[0]
			} else {
				return fmt.Errorf("give a device name or --index")
			}
			cfg.Audio.DeviceName = name
			if err := config.Save(cfg, cfg.Paths.ConfigPath); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "mic set to %q in %s\n", name, cfg.Paths.ConfigPath)
			return nil
		},
	}
	cmd.Flags().Int("index", -1, "device index from 'mic list'")
	return cmd
}

func deviceByIndex(devs []audio.InputDevice, idx int) (string, error) {
	for _, d := range devs {
		if d.Index == idx {
			return d.Name, nil
		}
	}
	return "", fmt.Errorf("no input device with index %d", idx)
}
