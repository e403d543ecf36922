// Package app dispatches voxnote commands.
package app

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/rbright/voxnote/internal/cli"
	"github.com/rbright/voxnote/internal/config"
	"github.com/rbright/voxnote/internal/doctor"
	"github.com/rbright/voxnote/internal/logging"
	"github.com/rbright/voxnote/internal/session"
	"github.com/rbright/voxnote/internal/version"
)

const binaryName = "voxnote"

// BuildFunc wires an orchestrator for cfg. The returned func releases
// anything the collaborators hold open.
type BuildFunc func(cfg config.Config, logger *slog.Logger) (*session.Orchestrator, func(), error)

type Runner struct {
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
	Logger *slog.Logger
	// Build defaults to the PulseAudio/ffmpeg/ASR stack from config.
	Build BuildFunc
}

func Execute(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	r := Runner{Stdin: os.Stdin, Stdout: stdout, Stderr: stderr}
	return r.Execute(ctx, args)
}

func (r Runner) Execute(ctx context.Context, args []string) int {
	parsed, err := cli.Parse(args)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n\n", err)
		fmt.Fprint(r.Stderr, cli.HelpText(binaryName))
		return 2
	}

	if parsed.ShowHelp {
		fmt.Fprint(r.Stdout, cli.HelpText(binaryName))
		return 0
	}

	if parsed.Command == cli.CommandVersion {
		fmt.Fprintln(r.Stdout, version.String())
		return 0
	}

	level, err := logging.ParseLevel(parsed.LogLevel)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 2
	}

	logRuntime, err := logging.New(level)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: setup logging: %v\n", err)
		return 1
	}
	defer func() { _ = logRuntime.Close() }()

	logger := r.Logger
	if logger == nil {
		logger = logRuntime.Logger
	}
	if r.Build == nil {
		r.Build = buildOrchestrator
	}
	if r.Stdin == nil {
		r.Stdin = os.Stdin
	}

	cfgLoaded, err := config.Load(parsed.ConfigPath)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		logger.Error("load config failed", "error", err.Error())
		return 1
	}
	for _, w := range cfgLoaded.Warnings {
		msg := w.Message
		if w.Line > 0 {
			msg = fmt.Sprintf("line %d: %s", w.Line, w.Message)
		}
		fmt.Fprintf(r.Stderr, "warning: %s\n", msg)
		logger.Warn("config warning", "line", w.Line, "message", w.Message)
	}

	logger.Info("command start",
		"command", parsed.Command,
		"config", cfgLoaded.Path,
		"log", logRuntime.Path,
		"version", version.Short(),
	)

	switch parsed.Command {
	case cli.CommandDoctor:
		report := doctor.Run(ctx, cfgLoaded, doctor.DefaultProbes())
		fmt.Fprintln(r.Stdout, report.String())
		if report.OK() {
			return 0
		}
		return 1
	case cli.CommandDevices:
		return r.commandDevices(ctx)
	case cli.CommandStatus:
		return r.commandStatus(ctx)
	case cli.CommandWatch:
		return r.commandWatch(ctx)
	case cli.CommandStop:
		return r.forwardOrFail(ctx, "stop")
	case cli.CommandCancel:
		return r.forwardOrFail(ctx, "cancel")
	case cli.CommandToggle:
		return r.commandToggle(ctx, cfgLoaded.Config, logger)
	case cli.CommandRecord:
		return r.commandRecord(ctx, cfgLoaded.Config, logger)
	case cli.CommandHistory:
		return r.commandHistory(ctx, cfgLoaded.Config, parsed.History)
	case cli.CommandMCP:
		return r.commandMCP(ctx, cfgLoaded.Config, logger)
	default:
		fmt.Fprintf(r.Stderr, "error: unsupported command %q\n", parsed.Command)
		return 2
	}
}

func logSessionResult(logger *slog.Logger, result session.Result) {
	if logger == nil {
		return
	}
	fields := []any{
		"session_id", result.SessionID,
		"stage", string(result.Stage),
		"started_at", result.StartedAt.Format(time.RFC3339Nano),
		"finished_at", result.FinishedAt.Format(time.RFC3339Nano),
		"duration_ms", result.Duration().Milliseconds(),
		"audio_device", result.Device,
		"language", result.Language,
		"transcript_length", len(result.Transcript),
	}
	if result.Artifacts != nil {
		fields = append(fields,
			"audio_path", result.Artifacts.AudioPath,
			"transcript_path", result.Artifacts.TranscriptPath,
		)
	}

	if result.Err != nil {
		if kind, ok := session.KindOf(result.Err); ok {
			fields = append(fields, "error_kind", string(kind))
		}
		logger.Error("session failed", append(fields, "error", result.Err.Error())...)
		return
	}
	logger.Info("session complete", fields...)
}
