package tui

import "github.com/rbright/voxnote/internal/session"

// EventMsg wraps one orchestrator event.
type EventMsg struct {
	Event session.Event
}

// StreamClosedMsg is sent when the event subscription ends.
type StreamClosedMsg struct{}

// CommandErrorMsg carries a rejected stop or cancel request.
type CommandErrorMsg struct {
	Err error
}

// tickMsg refreshes the elapsed timer while capturing.
type tickMsg struct{}
