package service

import (
	"html"
	"os"
	"strings"
)

// Info describes an installed launchd agent.
type Info struct {
	Path      string
	Installed bool
	// Config is the --config argument the agent starts parley with.
	Config string
	Muted  bool
}

// Status reports whether the plist for label exists and which config it serves.
func Status(label string) Info {
	info := Info{Path: LaunchdPath(label)}
	data, err := os.ReadFile(info.Path)
	if err != nil {
		return info
	}
	info.Installed = true
	info.Config = configArg(string(data))
	info.Muted = strings.Contains(string(data), "<string>--muted</string>")
	return info
}

func configArg(plist string) string {
	_, rest, ok := strings.Cut(plist, "<string>--config</string>")
	if !ok {
		return ""
	}
	_, rest, ok = strings.Cut(rest, "<string>")
	if !ok {
		return ""
	}
	val, _, _ := strings.Cut(rest, "</string>")
	return html.UnescapeString(strings.TrimSpace(val))
}
