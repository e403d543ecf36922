package ipc

// Commands understood by a running owner.
const (
	CommandStatus = "status"
	CommandStop   = "stop"
	CommandToggle = "toggle"
	CommandCancel = "cancel"
	// CommandWatch streams one response per progress update.
	CommandWatch = "watch"
)

type Request struct {
	Command string `json:"command"`
}

// Response carries the owner's view of the active session.
// Fraction is omitted while progress is indeterminate; ETASeconds only
// appears while transcribing.
type Response struct {
	OK         bool     `json:"ok"`
	SessionID  string   `json:"session_id,omitempty"`
	Stage      string   `json:"stage,omitempty"`
	Fraction   *float64 `json:"fraction,omitempty"`
	ETASeconds *float64 `json:"eta_seconds,omitempty"`
	Message    string   `json:"message,omitempty"`
	Error      string   `json:"error,omitempty"`
}
