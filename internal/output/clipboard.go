// Package output hands completed transcripts to the desktop clipboard.
package output

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/voxnote/internal/config"
	"github.com/rbright/voxnote/internal/session"
)

const clipboardTimeout = 2 * time.Second

// Clipboard pipes transcripts into a clipboard command such as wl-copy.
type Clipboard struct {
	argv    []string
	timeout time.Duration
	logger  *slog.Logger
}

// NewClipboard returns a clipboard committer for cmd. logger may be nil.
func NewClipboard(cmd config.CommandConfig, logger *slog.Logger) *Clipboard {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Clipboard{argv: cmd.Argv, timeout: clipboardTimeout, logger: logger}
}

// Commit writes transcript to the clipboard. Blank transcripts are skipped.
func (c *Clipboard) Commit(ctx context.Context, transcript string) error {
	transcript = strings.TrimSpace(transcript)
	if transcript == "" {
		return nil
	}

	ctx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()
	if err := runCommandWithInput(ctx, c.argv, transcript); err != nil {
		return fmt.Errorf("set clipboard: %w", err)
	}
	c.logger.Debug("transcript copied to clipboard", "command", c.argv[0], "chars", len(transcript))
	return nil
}

// runCommandWithInput executes argv with input on stdin.
func runCommandWithInput(ctx context.Context, argv []string, input string) error {
	if len(argv) == 0 {
		return fmt.Errorf("command argv cannot be empty")
	}

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Stdin = strings.NewReader(input)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		if msg := strings.TrimSpace(stderr.String()); msg != "" {
			return fmt.Errorf("%s: %w: %s", argv[0], err, msg)
		}
		return fmt.Errorf("%s: %w", argv[0], err)
	}
	return nil
}

var _ session.Committer = (*Clipboard)(nil)
