// Package cli parses voxnote's command line.
package cli

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
)

type Command string

const (
	CommandRecord  Command = "record"
	CommandToggle  Command = "toggle"
	CommandStop    Command = "stop"
	CommandCancel  Command = "cancel"
	CommandStatus  Command = "status"
	CommandWatch   Command = "watch"
	CommandDevices Command = "devices"
	CommandDoctor  Command = "doctor"
	CommandHistory Command = "history"
	CommandMCP     Command = "mcp"
	CommandVersion Command = "version"
	CommandHelp    Command = "help"
)

var validCommands = map[Command]struct{}{
	CommandRecord:  {},
	CommandToggle:  {},
	CommandStop:    {},
	CommandCancel:  {},
	CommandStatus:  {},
	CommandWatch:   {},
	CommandDevices: {},
	CommandDoctor:  {},
	CommandHistory: {},
	CommandMCP:     {},
	CommandVersion: {},
	CommandHelp:    {},
}

// HistoryArgs are the arguments accepted after `history`.
type HistoryArgs struct {
	Limit int
	Query string
	ID    string
}

type Parsed struct {
	Command    Command
	ConfigPath string
	LogLevel   string
	ShowHelp   bool
	History    HistoryArgs
}

func Parse(args []string) (Parsed, error) {
	parsed := Parsed{Command: CommandHelp, ShowHelp: true}

	for i := 0; i < len(args); i++ {
		arg := args[i]

		switch arg {
		case "-h", "--help":
			parsed.ShowHelp = true
			parsed.Command = CommandHelp
		case "--version":
			parsed.ShowHelp = false
			parsed.Command = CommandVersion
		case "--config", "--log-level":
			i++
			if i >= len(args) {
				return Parsed{}, fmt.Errorf("%s requires a value", arg)
			}
			if arg == "--config" {
				parsed.ConfigPath = args[i]
			} else {
				parsed.LogLevel = args[i]
			}
		default:
			if strings.HasPrefix(arg, "-") {
				return Parsed{}, fmt.Errorf("unknown flag: %s", arg)
			}

			cmd := Command(arg)
			if _, ok := validCommands[cmd]; !ok {
				return Parsed{}, fmt.Errorf("unknown command: %s", arg)
			}

			parsed.Command = cmd
			parsed.ShowHelp = cmd == CommandHelp
			rest := args[i+1:]
			if cmd == CommandHistory {
				history, err := parseHistory(rest)
				if err != nil {
					return Parsed{}, err
				}
				parsed.History = history
				return parsed, nil
			}
			if len(rest) > 0 {
				return Parsed{}, fmt.Errorf("unexpected arguments after command %q", arg)
			}
			return parsed, nil
		}
	}

	return parsed, nil
}

func parseHistory(args []string) (HistoryArgs, error) {
	var out HistoryArgs
	for i := 0; i < len(args); i++ {
		arg := args[i]
		switch arg {
		case "--limit", "-n":
			i++
			if i >= len(args) {
				return HistoryArgs{}, fmt.Errorf("%s requires a number", arg)
			}
			n, err := strconv.Atoi(args[i])
			if err != nil || n <= 0 {
				return HistoryArgs{}, fmt.Errorf("%s must be a positive integer", arg)
			}
			out.Limit = n
		case "--search", "-s":
			i++
			if i >= len(args) {
				return HistoryArgs{}, fmt.Errorf("%s requires text", arg)
			}
			out.Query = args[i]
		default:
			if strings.HasPrefix(arg, "-") {
				return HistoryArgs{}, fmt.Errorf("unknown history flag: %s", arg)
			}
			if out.ID != "" {
				return HistoryArgs{}, errors.New("history accepts at most one session id")
			}
			out.ID = arg
		}
	}
	if out.ID != "" && out.Query != "" {
		return HistoryArgs{}, errors.New("history: --search cannot be combined with a session id")
	}
	return out, nil
}

func HelpText(binaryName string) string {
	return fmt.Sprintf(`Usage:
  %[1]s [--config PATH] [--log-level LEVEL] <command>

Commands:
  record    Record a note interactively (Enter stops, Esc cancels)
  toggle    Start a headless recording, or stop the running one
  stop      Stop the active recording and process it
  cancel    Cancel the active session and discard intermediates
  status    Print the active session's stage and progress
  watch     Stream progress of the active session until it ends
  devices   List available input devices
  doctor    Run configuration and environment checks
  history   List archived notes: history [-n N] [-s TEXT] [ID]
  mcp       Serve archived notes over MCP on stdio
  version   Print version information
  help      Show this help

Flags:
  --config PATH       Config file path (default: $VOXNOTE_CONFIG, then
                      $XDG_CONFIG_HOME/voxnote/config.jsonc)
  --log-level LEVEL   debug, info, warn, or error (default: info)
  -h, --help          Show help
  --version           Show version
`, binaryName)
}
