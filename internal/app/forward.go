package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/voxnote/internal/fsm"
	"github.com/rbright/voxnote/internal/ipc"
)

const forwardTimeout = 220 * time.Millisecond

func (r Runner) commandStatus(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintln(r.Stdout, "idle")
		return 0
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandStatus)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		fmt.Fprintln(r.Stdout, formatResponse(resp))
		return 0
	}

	fmt.Fprintln(r.Stdout, "idle")
	return 0
}

func (r Runner) forwardOrFail(ctx context.Context, command string) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, command)
	if !handled {
		fmt.Fprintf(r.Stderr, "error: no active voxnote session\n")
		return 1
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if resp.Message != "" {
		fmt.Fprintln(r.Stdout, resp.Message)
	}
	return 0
}

// commandWatch prints one line per progress update until the owner's
// session is terminal.
func (r Runner) commandWatch(ctx context.Context) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	exit := 0
	err = ipc.Watch(ctx, socketPath, forwardTimeout, func(resp ipc.Response) bool {
		if !resp.OK && resp.Error != "" {
			fmt.Fprintf(r.Stderr, "error: %s\n", resp.Error)
			exit = 1
		}
		fmt.Fprintln(r.Stdout, formatResponse(resp))
		return true
	})
	if err != nil {
		if isSocketMissing(err) || isConnectionRefused(err) {
			fmt.Fprintln(r.Stdout, "idle")
			return 0
		}
		if errors.Is(err, context.Canceled) {
			return exit
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	return exit
}

// formatResponse renders stage, progress, ETA, and message on one line.
func formatResponse(resp ipc.Response) string {
	stage := resp.Stage
	if stage == "" {
		stage = string(fsm.StageIdle)
	}
	parts := []string{stage}
	if resp.Fraction != nil {
		parts = append(parts, fmt.Sprintf("%d%%", int(*resp.Fraction*100)))
	}
	if resp.ETASeconds != nil {
		eta := time.Duration(*resp.ETASeconds * float64(time.Second)).Round(time.Second)
		parts = append(parts, "eta "+eta.String())
	}
	if resp.Message != "" && resp.Message != stage {
		parts = append(parts, resp.Message)
	}
	return strings.Join(parts, "  ")
}

func tryForward(ctx context.Context, socketPath string, command string) (ipc.Response, bool, error) {
	resp, err := ipc.Send(ctx, socketPath, ipc.Request{Command: command}, forwardTimeout)
	if err == nil {
		if resp.OK {
			return resp, true, nil
		}
		return resp, true, errors.New(resp.Error)
	}

	if isSocketMissing(err) {
		return ipc.Response{}, false, nil
	}
	if isConnectionRefused(err) {
		return ipc.Response{}, false, nil
	}

	return ipc.Response{}, true, fmt.Errorf("forward command %q: %w", command, err)
}

func isSocketMissing(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, os.ErrNotExist) ||
		strings.Contains(err.Error(), "no such file or directory")
}

func isConnectionRefused(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, syscall.ECONNREFUSED)
}
