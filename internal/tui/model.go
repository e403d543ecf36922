// Package tui renders the interactive record view on top of the
// orchestrator's event stream.
package tui

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/rbright/voxnote/internal/fsm"
	"github.com/rbright/voxnote/internal/session"
)

const barWidth = 24

// Controller is the part of the orchestrator the view drives.
type Controller interface {
	StopSession() error
	CancelSession() error
}

// Model is the bubbletea model for one recording session.
type Model struct {
	ctl       Controller
	events    <-chan session.Event
	sessionID string
	now       func() time.Time

	stage     fsm.Stage
	fraction  session.Fraction
	eta       *time.Duration
	message   string
	startedAt time.Time

	errorMessage string
	result       *session.Result
	streamClosed bool
}

// New builds a view bound to one session. An empty sessionID follows
// whichever session publishes first.
func New(ctl Controller, events <-chan session.Event, sessionID string) Model {
	return Model{
		ctl:       ctl,
		events:    events,
		sessionID: sessionID,
		now:       time.Now,
		stage:     fsm.StageRequestingPermission,
		fraction:  session.Indeterminate,
	}
}

// Result is the terminal outcome, once one was observed.
func (m Model) Result() (session.Result, bool) {
	if m.result == nil {
		return session.Result{}, false
	}
	return *m.result, true
}

func (m Model) Init() tea.Cmd {
	return tea.Batch(waitForEvent(m.events), tick())
}

func waitForEvent(events <-chan session.Event) tea.Cmd {
	return func() tea.Msg {
		ev, ok := <-events
		if !ok {
			return StreamClosedMsg{}
		}
		return EventMsg{Event: ev}
	}
}

func tick() tea.Cmd {
	return tea.Tick(time.Second, func(time.Time) tea.Msg {
		return tickMsg{}
	})
}

func stopCmd(ctl Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctl.StopSession(); err != nil {
			return CommandErrorMsg{Err: err}
		}
		return nil
	}
}

func cancelCmd(ctl Controller) tea.Cmd {
	return func() tea.Msg {
		if err := ctl.CancelSession(); err != nil && !errors.Is(err, session.ErrNoActiveSession) {
			return CommandErrorMsg{Err: err}
		}
		return nil
	}
}

func (m Model) Update(msg tea.Msg) (tea.Model, tea.Cmd) {
	switch msg := msg.(type) {
	case tea.KeyMsg:
		return m.handleKey(msg)

	case EventMsg:
		if done := m.handleEvent(msg.Event); done {
			return m, tea.Quit
		}
		return m, waitForEvent(m.events)

	case StreamClosedMsg:
		m.streamClosed = true
		return m, tea.Quit

	case CommandErrorMsg:
		m.errorMessage = msg.Err.Error()
		return m, nil

	case tickMsg:
		if m.result != nil {
			return m, nil
		}
		return m, tick()
	}

	return m, nil
}

// handleEvent folds one event into the view and reports whether the
// session reached a terminal stage.
func (m *Model) handleEvent(ev session.Event) bool {
	report := ev.Report
	if m.sessionID == "" {
		m.sessionID = report.SessionID
	}
	if report.SessionID != m.sessionID {
		return false
	}

	if report.Stage != m.stage && report.Stage == fsm.StageCapturing {
		m.startedAt = report.At
	}
	m.stage = report.Stage
	m.fraction = report.Fraction
	m.eta = report.ETA
	m.message = report.Message

	if ev.Result != nil {
		result := *ev.Result
		m.result = &result
		return true
	}
	return false
}

func (m Model) handleKey(msg tea.KeyMsg) (tea.Model, tea.Cmd) {
	if m.result != nil {
		return m, tea.Quit
	}

	switch msg.String() {
	case KeyEnter, KeySpace, KeyStopS:
		if m.stage != fsm.StageCapturing {
			return m, nil
		}
		m.errorMessage = ""
		return m, stopCmd(m.ctl)

	case KeyEsc, KeyQuit, KeyCtrlC:
		m.errorMessage = ""
		return m, cancelCmd(m.ctl)
	}

	return m, nil
}

func (m Model) View() string {
	var sections []string

	header := titleStyle.Render("VOXNOTE")
	if m.sessionID != "" {
		header += dimStyle.Render("  " + shortID(m.sessionID))
	}
	sections = append(sections, header)
	sections = append(sections, m.renderStage())

	if m.message != "" && m.result == nil {
		sections = append(sections, dimStyle.Render(m.message))
	}
	if m.errorMessage != "" {
		sections = append(sections, errorStyle.Render("Error: "+m.errorMessage))
	}
	if m.result != nil {
		sections = append(sections, renderResult(*m.result))
	} else {
		sections = append(sections, m.renderFooter())
	}

	return strings.Join(sections, "\n") + "\n"
}

func (m Model) renderStage() string {
	switch m.stage {
	case fsm.StageRequestingPermission:
		return stageStyle.Render("… waiting for microphone")
	case fsm.StageCapturing:
		elapsed := time.Duration(0)
		if !m.startedAt.IsZero() {
			elapsed = m.now().Sub(m.startedAt)
		}
		return recordingStyle.Render("● REC") + " " + formatClock(elapsed)
	case fsm.StageConverting, fsm.StageTranscribing, fsm.StagePersisting:
		line := stageStyle.Render("⟳ "+string(m.stage)) + "  " + renderBar(m.fraction)
		if m.eta != nil {
			line += dimStyle.Render("  ETA " + formatClock(*m.eta))
		}
		return line
	default:
		return dimStyle.Render(string(m.stage))
	}
}

func (m Model) renderFooter() string {
	var parts []string
	if m.stage == fsm.StageCapturing {
		parts = append(parts, footerKeyStyle.Render("Enter")+footerDescStyle.Render(" Stop"))
	}
	parts = append(parts, footerKeyStyle.Render("Esc")+footerDescStyle.Render(" Cancel"))
	return strings.Join(parts, "  ")
}

func renderResult(r session.Result) string {
	switch r.Stage {
	case fsm.StageCompleted:
		lines := []string{doneStyle.Render("✓ saved") + dimStyle.Render(" in "+formatClock(r.Duration()))}
		if r.Artifacts != nil {
			lines = append(lines,
				dimStyle.Render("  audio      ")+r.Artifacts.AudioPath,
				dimStyle.Render("  transcript ")+r.Artifacts.TranscriptPath,
			)
		}
		return strings.Join(lines, "\n")
	case fsm.StageCancelled:
		return dimStyle.Render("cancelled")
	default:
		msg := "failed"
		if r.Err != nil {
			msg = r.Err.Error()
		}
		return errorStyle.Render("✗ " + msg)
	}
}

func renderBar(f session.Fraction) string {
	if !f.Known() {
		return barEmptyStyle.Render(strings.Repeat("░", barWidth))
	}
	filled := int(float64(f) * barWidth)
	filled = min(max(filled, 0), barWidth)
	return barFilledStyle.Render(strings.Repeat("█", filled)) +
		barEmptyStyle.Render(strings.Repeat("░", barWidth-filled)) +
		fmt.Sprintf(" %3d%%", int(float64(f)*100))
}

func formatClock(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	d = d.Round(time.Second)
	return fmt.Sprintf("%d:%02d", int(d.Minutes()), int(d.Seconds())%60)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// Run drives the view until the session is terminal, the stream closes, or
// ctx ends. The returned result is false when no terminal event arrived.
func Run(ctx context.Context, ctl Controller, events <-chan session.Event, sessionID string, opts ...tea.ProgramOption) (session.Result, bool, error) {
	opts = append([]tea.ProgramOption{tea.WithContext(ctx)}, opts...)
	final, err := tea.NewProgram(New(ctl, events, sessionID), opts...).Run()
	if err != nil {
		return session.Result{}, false, err
	}
	m, ok := final.(Model)
	if !ok {
		return session.Result{}, false, nil
	}
	result, ok := m.Result()
	return result, ok, nil
}
