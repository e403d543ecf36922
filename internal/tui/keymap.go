package tui

// Key bindings handled by the record view.
const (
	KeyEnter = "enter"
	KeySpace = " "
	KeyStopS = "s"
	KeyEsc   = "esc"
	KeyQuit  = "q"
	KeyCtrlC = "ctrl+c"
)
