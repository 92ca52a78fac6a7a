package control

import (
	"fmt"
	"os"
	"strings"

	"parley/internal/config"
	"parley/internal/service"

	"github.com/spf13/cobra"
)

// NewServiceRootCmd manages the launchd agent (macOS).
func NewServiceRootCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "service",
		Short: "Manage launchd service (macOS)",
	}
	cmd.AddCommand(newServiceInstallCmd(cfgPath))
	cmd.AddCommand(newServiceUninstallCmd())
	cmd.AddCommand(newServiceStatusCmd())
	return cmd
}

func newServiceInstallCmd(cfgPath *string) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "install",
		Short: "Install user launchd service (macOS)",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(*cfgPath)
			if err != nil {
				return err
			}
			exe, err := os.Executable()
			if err != nil {
				return err
			}
			envPairs, _ := cmd.Flags().GetStringArray("env")
			env, err := parseEnvPairs(envPairs)
			if err != nil {
				return err
			}
			params := service.LaunchdParams{
				Label:  service.Label,
				Binary: exe,
				Config: cfg.Paths.ConfigPath,
				Log:    cfg.Paths.LogPath,
				Env:    env,
			}
			params.Muted, _ = cmd.Flags().GetBool("muted")
			path, err := service.WritePlist(params)
			if err != nil {
				return err
			}
			fmt.Printf("launchd plist written: %s\n", path)
			fmt.Println("Load:   launchctl load -w", path)
			fmt.Printf("Start:  launchctl kickstart gui/$(id -u)/%s\n", params.Label)
			fmt.Printf("Stop:   launchctl bootout gui/$(id -u)/%s\n", params.Label)
			return nil
		},
	}
	cmd.Flags().StringArray("env", nil, "Env to set in launchd plist (KEY=VAL)")
	cmd.Flags().Bool("muted", false, "start the daemon with the microphone closed")
	return cmd
}

func parseEnvPairs(pairs []string) (map[string]string, error) {
	env := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if !ok || k == "" {
			return nil, fmt.Errorf("bad env %q, want KEY=VAL", p)
		}
		env[k] = v
	}
	return env, nil
}

func newServiceUninstallCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "uninstall",
		Short: "Remove user launchd plist (macOS)",
		RunE: func(cmd *cobra.Command, args []string) error {
			plist := service.LaunchdPath(service.Label)
			_ = os.Remove(plist)
			fmt.Printf("removed %s (if present); unload manually with: launchctl bootout gui/$(id -u) %s\n", plist, plist)
			return nil
		},
	}
}

func newServiceStatusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show launchd plist path and whether it exists",
		RunE: func(cmd *cobra.Command, args []string) error {
			info := service.Status(service.Label)
			fmt.Printf("plist: %s\n", info.Path)
			if info.Installed {
				fmt.Printf("config: %s (muted: %t)\n", info.Config, info.Muted)
				fmt.Println("status: present (load with: launchctl load -w", info.Path, ")")
			} else {
				fmt.Println("status: missing (install via: parley service install)")
			}
			return nil
		},
	}
}
