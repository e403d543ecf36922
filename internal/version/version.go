// Package version carries build metadata stamped at link time.
package version

import "runtime"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String renders the full build line printed by `voxnote version`.
func String() string {
	return "voxnote " + Version + " (commit=" + Commit + ", date=" + Date + ", go=" + runtime.Version() + ")"
}

// Short is the bare version, used as the MCP server version.
func Short() string {
	if Version == "" {
		return "dev"
	}
	return Version
}
