// Package history archives terminal session results in SQLite.
package history

import "time"

// Entry is one archived session.
type Entry struct {
	SessionID      string
	Stage          string
	ErrorKind      string
	Error          string
	Message        string
	AudioPath      string
	TranscriptPath string
	Transcript     string
	Language       string
	Device         string
	StartedAt      time.Time
	FinishedAt     time.Time
}

// Duration is the wall time from start to terminal stage.
func (e Entry) Duration() time.Duration {
	if e.FinishedAt.Before(e.StartedAt) {
		return 0
	}
	return e.FinishedAt.Sub(e.StartedAt)
}
