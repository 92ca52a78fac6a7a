package asr

import (
	"bytes"
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"
	"unicode"

	"github.com/google/shlex"
)

// PeriodPunctuator closes a sentence with a terminal mark when it has none.
type PeriodPunctuator struct{}

func (PeriodPunctuator) Restore(_ context.Context, text string) (string, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return "", nil
	}
	last := []rune(text)[len([]rune(text))-1]
	if strings.ContainsRune(".!?…。！？", last) {
		return text, nil
	}
	if isCJK(last) {
		return text + "。", nil
	}
	return text + ".", nil
}

func isCJK(r rune) bool {
	return unicode.In(r, unicode.Han, unicode.Hiragana, unicode.Katakana, unicode.Hangul)
}

// CommandPunctuator pipes text through an external program and reads the
// punctuated sentence from its stdout.
type CommandPunctuator struct {
	argv    []string
	timeout time.Duration
}

// NewCommandPunctuator splits command shell-style and appends args.
func NewCommandPunctuator(command string, args []string, timeout time.Duration) (*CommandPunctuator, error) {
	argv, err := shlex.Split(command)
	if err != nil {
		return nil, fmt.Errorf("punctuation command: %w", err)
	}
	if len(argv) == 0 {
		return nil, fmt.Errorf("punctuation command is empty")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("punctuation command: %w", err)
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &CommandPunctuator{argv: append(argv, args...), timeout: timeout}, nil
}

func (p *CommandPunctuator) Restore(ctx context.Context, text string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()
	cmd := exec.CommandContext(ctx, p.argv[0], p.argv[1:]...)
	cmd.Stdin = strings.NewReader(text)
	var stdout, stderr bytes.Buffer
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr
	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return "", fmt.Errorf("punctuation command: %w: %s", err, msg)
		}
		return "", fmt.Errorf("punctuation command: %w", err)
	}
	return strings.TrimSpace(stdout.String()), nil
}
