package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"

	"github.com/rbright/voxnote/internal/audio"
	"github.com/rbright/voxnote/internal/cli"
	"github.com/rbright/voxnote/internal/config"
	"github.com/rbright/voxnote/internal/history"
	"github.com/rbright/voxnote/internal/mcpserver"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	failedStyle = cellStyle.Foreground(lipgloss.Color("#FF5F5F"))
	borderStyle = lipgloss.NewStyle().Foreground(lipgloss.Color("#444444"))
)

func newTable(headers ...string) *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		BorderStyle(borderStyle).
		Headers(headers...).
		StyleFunc(func(row, _ int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

func (r Runner) commandDevices(ctx context.Context) int {
	devices, err := audio.ListDevices(ctx)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(devices) == 0 {
		fmt.Fprintln(r.Stdout, "no audio devices found")
		return 1
	}
	fmt.Fprintln(r.Stdout, renderDevices(devices))
	return 0
}

func renderDevices(devices []audio.Device) string {
	t := newTable("", "ID", "DESCRIPTION", "STATE", "AVAILABLE", "MUTED")
	for _, device := range devices {
		defaultMark := ""
		if device.Default {
			defaultMark = "*"
		}
		t.Row(defaultMark, device.ID, device.Description, device.State, yesNo(device.Available), yesNo(device.Muted))
	}
	return t.String()
}

func yesNo(v bool) string {
	if v {
		return "yes"
	}
	return "no"
}

func (r Runner) commandHistory(ctx context.Context, cfg config.Config, args cli.HistoryArgs) int {
	if !cfg.History.Enable {
		fmt.Fprintln(r.Stderr, "error: history is disabled (history.enable = false)")
		return 1
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if args.ID != "" {
		entry, err := store.Get(ctx, args.ID)
		if err != nil {
			if errors.Is(err, history.ErrNotFound) {
				fmt.Fprintf(r.Stderr, "error: no session %q in history\n", args.ID)
			} else {
				fmt.Fprintf(r.Stderr, "error: %v\n", err)
			}
			return 1
		}
		fmt.Fprint(r.Stdout, renderEntry(entry))
		return 0
	}

	var entries []history.Entry
	if args.Query != "" {
		entries, err = store.Search(ctx, args.Query, args.Limit)
	} else {
		entries, err = store.List(ctx, args.Limit)
	}
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	if len(entries) == 0 {
		fmt.Fprintln(r.Stdout, "no notes found")
		return 0
	}
	fmt.Fprintln(r.Stdout, renderHistory(entries))
	return 0
}

func renderHistory(entries []history.Entry) string {
	t := newTable("ID", "STARTED", "DURATION", "STAGE", "TRANSCRIPT")
	failedRows := map[int]bool{}
	for i, e := range entries {
		summary := e.Error
		if summary == "" {
			summary = e.Transcript
		}
		t.Row(
			shortID(e.SessionID),
			e.StartedAt.Local().Format("2006-01-02 15:04"),
			e.Duration().Round(time.Second).String(),
			e.Stage,
			truncate(strings.Join(strings.Fields(summary), " "), 48),
		)
		if e.Error != "" {
			failedRows[i] = true
		}
	}
	t.StyleFunc(func(row, _ int) lipgloss.Style {
		switch {
		case row == table.HeaderRow:
			return headerStyle
		case failedRows[row]:
			return failedStyle
		default:
			return cellStyle
		}
	})
	return t.String()
}

func renderEntry(e history.Entry) string {
	var b strings.Builder
	fmt.Fprintf(&b, "id:         %s\n", e.SessionID)
	fmt.Fprintf(&b, "stage:      %s\n", e.Stage)
	fmt.Fprintf(&b, "started:    %s\n", e.StartedAt.Local().Format(time.RFC3339))
	fmt.Fprintf(&b, "duration:   %s\n", e.Duration().Round(time.Millisecond))
	for _, field := range []struct{ label, value string }{
		{"device", e.Device},
		{"language", e.Language},
		{"audio", e.AudioPath},
		{"transcript", e.TranscriptPath},
		{"error", e.Error},
	} {
		if field.value != "" {
			fmt.Fprintf(&b, "%-11s %s\n", field.label+":", field.value)
		}
	}
	if text := strings.TrimSpace(e.Transcript); text != "" {
		fmt.Fprintf(&b, "\n%s\n", text)
	}
	return b.String()
}

func (r Runner) commandMCP(ctx context.Context, cfg config.Config, logger *slog.Logger) int {
	if !cfg.History.Enable {
		fmt.Fprintln(r.Stderr, "error: history is disabled (history.enable = false)")
		return 1
	}
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		fmt.Fprintf(r.Stderr, "error: %v\n", err)
		return 1
	}
	defer func() { _ = store.Close() }()

	if err := mcpserver.Serve(ctx, store, r.Stdin, r.Stdout, logger); err != nil {
		fmt.Fprintf(r.Stderr, "error: mcp server: %v\n", err)
		return 1
	}
	return 0
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func truncate(s string, n int) string {
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n-1]) + "…"
}
