package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// EnvPath names the environment variable that overrides the default
// config location.
const EnvPath = "VOXNOTE_CONFIG"

const fileName = "config.jsonc"

// ResolvePath picks the config file: the --config flag, then $VOXNOTE_CONFIG,
// then $XDG_CONFIG_HOME/voxnote, then ~/.config/voxnote.
func ResolvePath(explicit string) (string, error) {
	for _, candidate := range []string{explicit, os.Getenv(EnvPath)} {
		if strings.TrimSpace(candidate) != "" {
			return expandHome(candidate), nil
		}
	}

	dir := strings.TrimSpace(os.Getenv("XDG_CONFIG_HOME"))
	if dir == "" {
		home, err := os.UserHomeDir()
		if err != nil || home == "" {
			return "", errors.New("unable to resolve config path: set --config, $VOXNOTE_CONFIG, or $HOME")
		}
		dir = filepath.Join(home, ".config")
	}
	return filepath.Join(dir, "voxnote", fileName), nil
}
