// Package hook hands finished sentences to an external command, typically a
// translator or speech synthesizer.
package hook

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"parley/internal/config"

	"github.com/google/shlex"
	"github.com/sirupsen/logrus"
)

// Job is one final sentence waiting for dispatch.
type Job struct {
	Text      string
	SessionID string
	Seq       int
	Cause     string
	Timestamp time.Time
}

// Runner executes the hook with cooldown and prefix handling.
type Runner struct {
	cfg      *config.Config
	logger   *logrus.Logger
	lastRun  time.Time
	mu       sync.Mutex
	hostname string
}

func NewRunner(cfg *config.Config, logger *logrus.Logger) *Runner {
	host, _ := os.Hostname()
	return &Runner{
		cfg:      cfg,
		logger:   logger,
		hostname: host,
	}
}

// Configured reports whether a hook command is set.
func (r *Runner) Configured() bool {
	return strings.TrimSpace(r.cfg.Hook.Command) != ""
}

// Accept reports whether text is long enough to dispatch.
func (r *Runner) Accept(text string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(text)) >= r.cfg.Hook.MinChars
}

// ShouldRun returns whether cooldown allows a new hook.
func (r *Runner) ShouldRun() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.cfg.Hook.CooldownSec <= 0 {
		return true
	}
	return time.Since(r.lastRun).Seconds() >= r.cfg.Hook.CooldownSec
}

// Run executes the configured command with the sentence as last argument.
func (r *Runner) Run(ctx context.Context, job Job) error {
	r.mu.Lock()
	r.lastRun = time.Now()
	r.mu.Unlock()

	argv, err := shlex.Split(r.cfg.Hook.Command)
	if err != nil {
		return fmt.Errorf("parse hook.command: %w", err)
	}
	if len(argv) == 0 {
		return fmt.Errorf("no hook.command configured")
	}
	args := append(argv[1:], r.cfg.Hook.Args...)

	prefix := strings.ReplaceAll(r.cfg.Hook.Prefix, "${hostname}", r.hostname)
	text := job.Text
	if r.cfg.Hook.RedactPII {
		text = redactPII(text)
	}
	payload := strings.TrimSpace(prefix + text)
	args = append(args, payload)

	runCtx := ctx
	var cancel context.CancelFunc
	if r.cfg.Hook.TimeoutSec > 0 {
		runCtx, cancel = context.WithTimeout(ctx, config.Duration(r.cfg.Hook.TimeoutSec))
		defer cancel()
	}
	cmd := exec.CommandContext(runCtx, argv[0], args...)
	cmd.Env = os.Environ()
	for k, v := range r.cfg.Hook.Env {
		cmd.Env = append(cmd.Env, fmt.Sprintf("%s=%s", k, v))
	}
	cmd.Env = append(cmd.Env,
		"PARLEY_TEXT="+text,
		"PARLEY_PREFIX="+prefix,
		"PARLEY_SESSION="+job.SessionID,
		"PARLEY_SEQ="+strconv.Itoa(job.Seq),
		"PARLEY_CAUSE="+job.Cause,
	)

	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		r.logger.Infof("hook output: %s", strings.TrimSpace(string(out)))
	}
	if err != nil {
		return fmt.Errorf("hook failed: %w", err)
	}
	return nil
}

// ParseArgs allows Hook.Args to be configured as a single string.
func ParseArgs(raw string) ([]string, error) {
	if strings.TrimSpace(raw) == "" {
		return []string{}, nil
	}
	return shlex.Split(raw)
}

var (
	emailRE = regexp.MustCompile(`[\w.+-]+@[\w.-]+\.[A-Za-z]{2,}`)
	phoneRE = regexp.MustCompile(`\+?\d[\d\s\-\(\)]{6,}\d`)
)

func redactPII(s string) string {
	s = emailRE.ReplaceAllString(s, "[redacted-email]")
	s = phoneRE.ReplaceAllString(s, "[redacted-phone]")
	return s
}
