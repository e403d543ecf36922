package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
)

// maxFileBytes caps the config file size; anything larger is not a config.
const maxFileBytes = 1 << 20

// Loaded is a resolved config together with where it came from.
type Loaded struct {
	Path     string
	Config   Config
	Warnings []Warning
	// Exists is false when Path was missing and defaults were used.
	Exists bool
}

// Load resolves the config path and parses the file over Default. A missing
// file is a warning, not an error.
func Load(explicitPath string) (Loaded, error) {
	path, err := ResolvePath(explicitPath)
	if err != nil {
		return Loaded{}, err
	}
	loaded := Loaded{Path: path, Config: Default()}

	info, err := os.Stat(path)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		loaded.Warnings = append(loaded.Warnings, Warning{
			Message: fmt.Sprintf("config file %q not found; using defaults", path),
		})
		return loaded, nil
	case err != nil:
		return Loaded{}, fmt.Errorf("stat config %q: %w", path, err)
	case info.IsDir():
		return Loaded{}, fmt.Errorf("config %q is a directory", path)
	case info.Size() > maxFileBytes:
		return Loaded{}, fmt.Errorf("config %q is larger than %d bytes", path, maxFileBytes)
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return Loaded{}, fmt.Errorf("read config %q: %w", path, err)
	}
	cfg, warnings, err := Parse(string(content), loaded.Config)
	if err != nil {
		return Loaded{}, fmt.Errorf("parse config %q: %w", path, err)
	}

	loaded.Config = cfg
	loaded.Warnings = warnings
	loaded.Exists = true
	return loaded, nil
}
