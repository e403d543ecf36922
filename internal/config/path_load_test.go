package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestResolvePathPrecedence(t *testing.T) {
	t.Setenv(EnvPath, "/etc/voxnote/env.jsonc")
	explicit := "/tmp/custom.jsonc"
	resolved, err := ResolvePath(explicit)
	require.NoError(t, err)
	require.Equal(t, explicit, resolved)

	resolved, err = ResolvePath("  ")
	require.NoError(t, err)
	require.Equal(t, "/etc/voxnote/env.jsonc", resolved)
	t.Setenv(EnvPath, "")

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(xdg, "voxnote", "config.jsonc"), resolved)

	t.Setenv("XDG_CONFIG_HOME", "")
	home := t.TempDir()
	t.Setenv("HOME", home)
	resolved, err = ResolvePath("")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, ".config", "voxnote", "config.jsonc"), resolved)

	resolved, err = ResolvePath("~/notes.jsonc")
	require.NoError(t, err)
	require.Equal(t, filepath.Join(home, "notes.jsonc"), resolved)
}

func TestDefaultHonoursXDGDirectories(t *testing.T) {
	data, cache, state := t.TempDir(), t.TempDir(), t.TempDir()
	t.Setenv("XDG_DATA_HOME", data)
	t.Setenv("XDG_CACHE_HOME", cache)
	t.Setenv("XDG_STATE_HOME", state)

	cfg := Default()
	require.Equal(t, filepath.Join(data, "voxnote", "notes"), cfg.Storage.PrivateDir)
	require.Equal(t, filepath.Join(data, "voxnote", "models"), cfg.Whisper.ModelDir)
	require.Equal(t, filepath.Join(cache, "voxnote", "work"), cfg.Storage.WorkDir)
	require.Equal(t, filepath.Join(state, "voxnote", "history.sqlite"), cfg.History.Path)
}

func TestLoadMissingConfigUsesDefaultsWithWarning(t *testing.T) {
	path := filepath.Join(t.TempDir(), "missing.jsonc")

	loaded, err := Load(path)
	require.NoError(t, err)
	require.Equal(t, path, loaded.Path)
	require.False(t, loaded.Exists)
	require.Equal(t, Default(), loaded.Config)
	require.NotEmpty(t, loaded.Warnings)
	require.Contains(t, loaded.Warnings[0].Message, "not found")
}

func TestLoadExistingJSONCParsesAndValidates(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	contents := `
{
  "asr": {
    "backend": "whisper",
    "model": "medium",
  },
  "clipboard": {"enable": true},
}
`
	require.NoError(t, os.WriteFile(path, []byte(contents), 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Equal(t, path, loaded.Path)
	require.Equal(t, "medium", loaded.Config.ASR.Model)
	require.True(t, loaded.Config.Clipboard.Enable)
}

func TestLoadParseErrorIncludesPath(t *testing.T) {
	path := filepath.Join(t.TempDir(), "broken.jsonc")
	require.NoError(t, os.WriteFile(path, []byte("{ not-json }"), 0o600))

	_, err := Load(path)
	require.ErrorContains(t, err, "parse config")
	require.ErrorContains(t, err, path)
}

func TestLoadRejectsDirectory(t *testing.T) {
	_, err := Load(t.TempDir())
	require.ErrorContains(t, err, "is a directory")
}

func TestLoadEmptyFileUsesDefaults(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.jsonc")
	require.NoError(t, os.WriteFile(path, nil, 0o600))

	loaded, err := Load(path)
	require.NoError(t, err)
	require.True(t, loaded.Exists)
	require.Empty(t, loaded.Warnings)
	require.Equal(t, Default(), loaded.Config)
}
