package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rbright/voxnote/internal/config"
	"github.com/rbright/voxnote/internal/fsm"
	"github.com/rbright/voxnote/internal/indicator"
	"github.com/rbright/voxnote/internal/ipc"
	"github.com/rbright/voxnote/internal/session"
	"github.com/rbright/voxnote/internal/tui"
)

const (
	acquireProbeTimeout = 180 * time.Millisecond
	acquireRetries      = 8
)

// commandToggle stops a running session, or becomes the owner of a new
// headless one.
func (r Runner) commandToggle(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	resp, handled, err := tryForward(ctx, socketPath, ipc.CommandToggle)
	if handled {
		if err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", err)
			return 1
		}
		if resp.Message != "" {
			fmt.Fprintln(r.Stdout, resp.Message)
		}
		return 0
	}

	return r.runOwner(ctx, socketPath, cfg, logger, false)
}

// commandRecord owns a new session and drives it from the terminal.
func (r Runner) commandRecord(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	socketPath, err := ipc.RuntimeSocketPath()
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}

	if _, handled, _ := tryForward(ctx, socketPath, ipc.CommandStatus); handled {
		fmt.Fprintln(r.Stderr, "error: a voxnote session is already running; use `voxnote stop` or `voxnote cancel`")
		return 1
	}

	return r.runOwner(ctx, socketPath, cfg, logger, true)
}

func (r Runner) runOwner(ctx context.Context, socketPath string, cfg config.Config, logger *slog.Logger, interactive bool) int {
	owner, err := ipc.Acquire(ctx, socketPath, ipc.AcquireOptions{
		ProbeTimeout: acquireProbeTimeout,
		Retries:      acquireRetries,
	})
	if err != nil {
		if errors.Is(err, ipc.ErrAlreadyRunning) && !interactive {
			resp, _, forwardErr := tryForward(ctx, socketPath, ipc.CommandToggle)
			if forwardErr != nil {
				fmt.Fprintf(r.Stderr, "error: %v\n", forwardErr)
				return 1
			}
			if resp.Message != "" {
				fmt.Fprintln(r.Stdout, resp.Message)
			}
			return 0
		}
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = owner.Close() }()

	orch, release, err := r.Build(cfg, logger)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("build pipeline failed", "error", err.Error())
		return 1
	}
	defer release()

	serverCtx, serverCancel := context.WithCancel(context.Background())
	defer serverCancel()

	serverErrCh := make(chan error, 1)
	go func() {
		serverErrCh <- ipc.Serve(serverCtx, owner, orch)
	}()

	notify := followIndicator{}
	if !interactive {
		notify = subscribeIndicator(orch, cfg.Indicator, logger)
	}
	events, unsubscribe := orch.Subscribe()
	ticket, err := orch.StartSession(ctx)
	if err != nil {
		unsubscribe()
		notify.release()
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	notifyDone := notify.start(ctx, ticket.ID)

	var result session.Result
	if interactive {
		result = r.driveInteractive(ctx, orch, events, ticket, logger)
	} else {
		result = waitHeadless(ctx, orch, ticket)
	}
	unsubscribe()
	notify.release()
	<-notifyDone

	serverCancel()
	if serverErr := <-serverErrCh; serverErr != nil {
		fmt.Fprintf(r.Stderr, "error: ipc server failed: %v\n", serverErr)
		return 1
	}

	logSessionResult(logger, result)
	return r.reportResult(result, !interactive)
}

// followIndicator mirrors a headless session on the desktop. It subscribes
// before the session starts so the first transition is not missed.
type followIndicator struct {
	indicator *indicator.Indicator
	events    <-chan session.Event
	unsub     func()
}

func subscribeIndicator(orch *session.Orchestrator, cfg config.IndicatorConfig, logger *slog.Logger) followIndicator {
	ind := indicator.New(indicator.Config{
		Enable:         cfg.Enable,
		SoundEnable:    cfg.SoundEnable,
		AppName:        cfg.AppName,
		ErrorTimeoutMS: cfg.ErrorTimeoutMS,
	}, logger)
	if !ind.Active() {
		return followIndicator{}
	}
	events, unsub := orch.Subscribe()
	return followIndicator{indicator: ind, events: events, unsub: unsub}
}

// start follows sessionID in the background. The returned channel closes
// once the indicator has drained.
func (f followIndicator) start(ctx context.Context, sessionID string) <-chan struct{} {
	done := make(chan struct{})
	if f.indicator == nil {
		close(done)
		return done
	}
	go func() {
		defer close(done)
		f.indicator.Follow(ctx, f.events, sessionID)
	}()
	return done
}

func (f followIndicator) release() {
	if f.unsub != nil {
		f.unsub()
	}
}

// waitHeadless waits for the session, cancelling it when ctx ends.
func waitHeadless(ctx context.Context, orch *session.Orchestrator, ticket session.Ticket) session.Result {
	result, err := ticket.Wait(ctx)
	if err == nil {
		return result
	}
	_ = orch.CancelSession()
	result, _ = ticket.Wait(context.Background())
	return result
}

func (r Runner) driveInteractive(
	ctx context.Context,
	orch *session.Orchestrator,
	events <-chan session.Event,
	ticket session.Ticket,
	logger *slog.Logger,
) session.Result {
	result, ok, err := tui.Run(ctx, orch, events, ticket.ID,
		tea.WithInput(r.Stdin),
		tea.WithOutput(r.Stdout),
	)
	if err != nil {
		logger.Warn("record view exited", "error", err.Error())
	}
	if ok {
		return result
	}
	_ = orch.CancelSession()
	result, _ = ticket.Wait(context.Background())
	return result
}

// reportResult prints the outcome and maps it to an exit code. The record
// view already rendered paths, so only headless runs print them.
func (r Runner) reportResult(result session.Result, printPaths bool) int {
	switch result.Stage {
	case fsm.StageCancelled:
		fmt.Fprintln(r.Stdout, "cancelled")
		return 0
	case fsm.StageCompleted:
		if printPaths && result.Artifacts != nil {
			fmt.Fprintln(r.Stdout, result.Artifacts.TranscriptPath)
			fmt.Fprintln(r.Stdout, result.Artifacts.AudioPath)
		}
		if text := strings.TrimSpace(result.Transcript); text == "" {
			fmt.Fprintln(r.Stderr, "warning: no speech detected")
		}
		return 0
	default:
		if result.Err != nil {
			fmt.Fprintf(r.Stderr, "error: %v\n", result.Err)
		} else {
			fmt.Fprintf(r.Stderr, "error: session ended in stage %s\n", result.Stage)
		}
		return 1
	}
}
