// Package service installs parley as a per-user launchd agent on macOS.
package service

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
)

// Label is the launchd label of the parley agent.
const Label = "com.parley.agent"

// The agent runs `parley serve` and is restarted only after a crash.
const launchdTemplate = `<?xml version='1.0' encoding='UTF-8'?>
<!DOCTYPE plist PUBLIC "-//Apple//DTD PLIST 1.0//EN" "http://www.apple.com/DTDs/PropertyList-1.0.dtd">
<plist version="1.0">
<dict>
  <key>Label</key><string>{{xml .Label}}</string>
  <key>ProgramArguments</key>
  <array>
    {{- range .Args }}
    <string>{{xml .}}</string>
    {{- end }}
  </array>
  <key>ProcessType</key><string>Interactive</string>
  <key>RunAtLoad</key><true/>
  <key>KeepAlive</key><dict><key>SuccessfulExit</key><false/></dict>
  <key>ThrottleInterval</key><integer>10</integer>
  <key>StandardOutPath</key><string>{{xml .Log}}</string>
  <key>StandardErrorPath</key><string>{{xml .Log}}</string>
  {{- if .Env }}
  <key>EnvironmentVariables</key>
  <dict>
    {{- range $k, $v := .Env }}
    <key>{{xml $k}}</key><string>{{xml $v}}</string>
    {{- end }}
  </dict>
  {{- end }}
</dict>
</plist>
`

var plistTemplate = template.Must(template.New("launchd").Funcs(template.FuncMap{
	"xml": xmlEscape,
}).Parse(launchdTemplate))

// LaunchdParams describes the agent to install.
type LaunchdParams struct {
	Label  string
	Binary string
	Config string
	Log    string
	// Muted starts the daemon with the microphone closed; sessions then
	// begin with `parley listen`.
	Muted bool
	Env   map[string]string
}

// Args is the command line launchd runs.
func (p LaunchdParams) Args() []string {
	args := []string{p.Binary, "serve", "--config", p.Config}
	if p.Muted {
		args = append(args, "--muted")
	}
	return args
}

// LaunchdPath returns the plist path for a label.
func LaunchdPath(label string) string {
	return filepath.Join(agentsDir(), fmt.Sprintf("%s.plist", label))
}

func agentsDir() string {
	return filepath.Join(os.Getenv("HOME"), "Library", "LaunchAgents")
}

// RenderPlist returns the plist document for params.
func RenderPlist(params LaunchdParams) ([]byte, error) {
	var buf bytes.Buffer
	if err := plistTemplate.Execute(&buf, params); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// WritePlist writes a user-level launchd plist.
func WritePlist(params LaunchdParams) (string, error) {
	data, err := RenderPlist(params)
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(filepath.Dir(params.Config), 0o755); err != nil {
		return "", err
	}
	if err := os.MkdirAll(agentsDir(), 0o755); err != nil {
		return "", err
	}
	path := LaunchdPath(params.Label)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

func xmlEscape(s string) (string, error) {
	var buf bytes.Buffer
	if err := xml.EscapeText(&buf, []byte(s)); err != nil {
		return "", err
	}
	return buf.String(), nil
}
