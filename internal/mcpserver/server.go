// Package mcpserver exposes archived notes to MCP clients over stdio.
package mcpserver

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/mark3labs/mcp-go/mcp"
	"github.com/mark3labs/mcp-go/server"

	"github.com/rbright/voxnote/internal/history"
	"github.com/rbright/voxnote/internal/version"
)

const (
	defaultLimit = 20
	maxLimit     = 200
	previewRunes = 120
)

// Notes is the read side of the session archive.
type Notes interface {
	List(ctx context.Context, limit int) ([]history.Entry, error)
	Search(ctx context.Context, query string, limit int) ([]history.Entry, error)
	Get(ctx context.Context, id string) (history.Entry, error)
}

// New builds an MCP server with the note tools registered.
func New(notes Notes, logger *slog.Logger) *server.MCPServer {
	h := newHandlers(notes, logger)

	s := server.NewMCPServer("voxnote", version.Short(),
		server.WithToolCapabilities(false),
		server.WithRecovery(),
	)

	s.AddTool(mcp.NewTool("list_notes",
		mcp.WithDescription("List recorded voice notes, newest first."),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of notes to return (default 20)."),
			mcp.Min(1),
			mcp.Max(maxLimit),
		),
	), h.listNotes)

	s.AddTool(mcp.NewTool("search_notes",
		mcp.WithDescription("Search voice note transcripts for text."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Text to look for in transcripts."),
		),
		mcp.WithNumber("limit",
			mcp.Description("Maximum number of notes to return (default 20)."),
			mcp.Min(1),
			mcp.Max(maxLimit),
		),
	), h.searchNotes)

	s.AddTool(mcp.NewTool("get_note",
		mcp.WithDescription("Fetch one voice note with its full transcript."),
		mcp.WithString("id",
			mcp.Required(),
			mcp.Description("Session ID as returned by list_notes."),
		),
	), h.getNote)

	return s
}

// Serve answers MCP requests on stdin/stdout until ctx ends or stdin closes.
func Serve(ctx context.Context, notes Notes, stdin io.Reader, stdout io.Writer, logger *slog.Logger) error {
	stdio := server.NewStdioServer(New(notes, logger))
	if logger != nil {
		stdio.SetErrorLogger(slog.NewLogLogger(logger.Handler(), slog.LevelError))
	}
	err := stdio.Listen(ctx, stdin, stdout)
	if err == nil || errors.Is(err, context.Canceled) || errors.Is(err, io.EOF) {
		return nil
	}
	return err
}

type handlers struct {
	notes  Notes
	logger *slog.Logger
}

func newHandlers(notes Notes, logger *slog.Logger) handlers {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return handlers{notes: notes, logger: logger}
}

type noteSummary struct {
	ID              string  `json:"id"`
	Stage           string  `json:"stage"`
	StartedAt       string  `json:"started_at"`
	DurationSeconds float64 `json:"duration_seconds"`
	TranscriptPath  string  `json:"transcript_path,omitempty"`
	Preview         string  `json:"preview,omitempty"`
	Error           string  `json:"error,omitempty"`
}

type noteDetail struct {
	noteSummary
	AudioPath  string `json:"audio_path,omitempty"`
	Language   string `json:"language,omitempty"`
	Device     string `json:"device,omitempty"`
	ErrorKind  string `json:"error_kind,omitempty"`
	Transcript string `json:"transcript"`
}

func (h handlers) listNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	entries, err := h.notes.List(ctx, clampLimit(req.GetInt("limit", defaultLimit)))
	if err != nil {
		h.logger.Error("mcp list_notes", "error", err.Error())
		return mcp.NewToolResultError(fmt.Sprintf("list notes: %v", err)), nil
	}
	return jsonResult(summaries(entries))
}

func (h handlers) searchNotes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entries, err := h.notes.Search(ctx, query, clampLimit(req.GetInt("limit", defaultLimit)))
	if err != nil {
		h.logger.Error("mcp search_notes", "error", err.Error())
		return mcp.NewToolResultError(fmt.Sprintf("search notes: %v", err)), nil
	}
	return jsonResult(summaries(entries))
}

func (h handlers) getNote(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	id, err := req.RequireString("id")
	if err != nil {
		return mcp.NewToolResultError(err.Error()), nil
	}
	entry, err := h.notes.Get(ctx, id)
	if err != nil {
		if errors.Is(err, history.ErrNotFound) {
			return mcp.NewToolResultError(fmt.Sprintf("note %q not found", id)), nil
		}
		h.logger.Error("mcp get_note", "id", id, "error", err.Error())
		return mcp.NewToolResultError(fmt.Sprintf("get note: %v", err)), nil
	}

	return jsonResult(noteDetail{
		noteSummary: summary(entry),
		AudioPath:   entry.AudioPath,
		Language:    entry.Language,
		Device:      entry.Device,
		ErrorKind:   entry.ErrorKind,
		Transcript:  entry.Transcript,
	})
}

func summaries(entries []history.Entry) []noteSummary {
	out := make([]noteSummary, 0, len(entries))
	for _, entry := range entries {
		out = append(out, summary(entry))
	}
	return out
}

func summary(e history.Entry) noteSummary {
	return noteSummary{
		ID:              e.SessionID,
		Stage:           e.Stage,
		StartedAt:       e.StartedAt.UTC().Format(time.RFC3339),
		DurationSeconds: e.Duration().Round(time.Millisecond).Seconds(),
		TranscriptPath:  e.TranscriptPath,
		Preview:         preview(e.Transcript),
		Error:           e.Error,
	}
}

func preview(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	runes := []rune(text)
	if len(runes) <= previewRunes {
		return text
	}
	return string(runes[:previewRunes-1]) + "…"
}

func clampLimit(n int) int {
	switch {
	case n <= 0:
		return defaultLimit
	case n > maxLimit:
		return maxLimit
	default:
		return n
	}
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, fmt.Errorf("encode result: %w", err)
	}
	return mcp.NewToolResultText(string(data)), nil
}
