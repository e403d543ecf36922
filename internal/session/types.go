package session

import (
	"math"
	"time"

	"github.com/rbright/voxnote/internal/fsm"
)

// Fraction is stage-local progress in [0, 1], or Indeterminate.
type Fraction float64

// Indeterminate marks progress that cannot be estimated.
const Indeterminate Fraction = -1

// Known reports whether f carries a real estimate.
func (f Fraction) Known() bool {
	return f >= 0 && !math.IsNaN(float64(f))
}

// FractionFromPercent converts an engine percentage into a clamped Fraction.
func FractionFromPercent(percent float64) Fraction {
	if math.IsNaN(percent) || math.IsInf(percent, 0) {
		return Indeterminate
	}
	f := percent / 100
	switch {
	case f < 0:
		return 0
	case f > 1:
		return 1
	default:
		return Fraction(f)
	}
}

// Session is a snapshot of one capture-to-persist attempt.
type Session struct {
	ID             string
	Stage          fsm.Stage
	StartedAt      time.Time
	StageStartedAt time.Time
	LastError      error
}

// ProgressReport is emitted on every transition and progress callback.
type ProgressReport struct {
	SessionID string
	Stage     fsm.Stage
	Fraction  Fraction
	// ETA is set only while transcribing with a positive percentage.
	ETA     *time.Duration
	Message string
	At      time.Time
}

// OutputArtifacts are the final stored locations of one completed note.
type OutputArtifacts struct {
	AudioPath      string
	TranscriptPath string
}

// Result is the terminal outcome of a session.
type Result struct {
	SessionID  string
	Stage      fsm.Stage
	Artifacts  *OutputArtifacts
	Transcript string
	Language   string
	Device     string
	Err        error
	Message    string
	StartedAt  time.Time
	FinishedAt time.Time
}

// Cancelled reports whether the session ended by cancellation.
func (r Result) Cancelled() bool {
	return r.Stage == fsm.StageCancelled
}

// Duration is the wall time between start and terminal stage.
func (r Result) Duration() time.Duration {
	if r.FinishedAt.IsZero() || r.StartedAt.IsZero() {
		return 0
	}
	return r.FinishedAt.Sub(r.StartedAt)
}

// Event is one subscription payload. Result is non-nil only on the terminal event.
type Event struct {
	Report ProgressReport
	Result *Result
}
