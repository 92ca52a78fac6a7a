package hook

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"parley/internal/config"
	"parley/internal/logging"
)

func TestShouldRunCooldown(t *testing.T) {
	cfg, _ := config.Default()
	cfg.Hook.Command = "/bin/echo"
	cfg.Hook.CooldownSec = 0.5
	r := NewRunner(cfg, logging.NewTestLogger())

	if !r.ShouldRun() {
		t.Fatalf("first call should run")
	}
	if err := r.Run(context.Background(), Job{Text: "test", Timestamp: time.Now()}); err != nil {
		t.Fatalf("run: %v", err)
	}
	if r.ShouldRun() {
		t.Fatalf("cooldown should block immediate subsequent run")
	}
	time.Sleep(config.Duration(cfg.Hook.CooldownSec) + 20*time.Millisecond)
	if !r.ShouldRun() {
		t.Fatalf("should run after cooldown")
	}
}

func TestRunPassesPayloadAndEnv(t *testing.T) {
	out := filepath.Join(t.TempDir(), "out.txt")
	cfg, _ := config.Default()
	cfg.Hook.Command = `/bin/sh -c 'printf "%s|%s|%s" "$1" "$PARLEY_TEXT" "$PARLEY_CAUSE" > "$OUT"' hook`
	cfg.Hook.Prefix = "pref:"
	cfg.Hook.Env = map[string]string{"OUT": out}

	r := NewRunner(cfg, logging.NewTestLogger())
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := r.Run(ctx, Job{Text: "hello.", Cause: "vad", Timestamp: time.Now()}); err != nil {
		t.Fatalf("run: %v", err)
	}
	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("read output: %v", err)
	}
	if got := string(data); got != "pref:hello.|hello.|vad" {
		t.Fatalf("hook saw %q", got)
	}
}

func TestRunFailsWithoutCommand(t *testing.T) {
	cfg, _ := config.Default()
	r := NewRunner(cfg, logging.NewTestLogger())
	if r.Configured() {
		t.Fatalf("default config has no hook")
	}
	if err := r.Run(context.Background(), Job{Text: "x"}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestAcceptMinChars(t *testing.T) {
	cfg, _ := config.Default()
	cfg.Hook.MinChars = 3
	r := NewRunner(cfg, logging.NewTestLogger())
	if r.Accept(" ok ") {
		t.Fatalf("two characters should be rejected")
	}
	if !r.Accept("你好吗") {
		t.Fatalf("three runes should pass")
	}
}

func TestRedactPII(t *testing.T) {
	got := redactPII("mail me at a.b@example.com or +1 555 123 4567")
	if strings.Contains(got, "example.com") || strings.Contains(got, "555") {
		t.Fatalf("not redacted: %q", got)
	}
}

func TestParseArgs(t *testing.T) {
	args, err := ParseArgs(`--lang "zh en"`)
	if err != nil || len(args) != 2 || args[1] != "zh en" {
		t.Fatalf("args = %v, %v", args, err)
	}
}
