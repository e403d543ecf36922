package config

import (
	"os"
	"path/filepath"
	"strings"
)

// Default returns the runtime configuration used when no file is present.
func Default() Config {
	clipboard := "wl-copy --trim-newline"
	data := xdgDir("XDG_DATA_HOME", ".local", "share")

	return Config{
		Audio: AudioConfig{
			Input:      "default",
			Fallback:   "default",
			SampleRate: 48000,
		},
		Convert: ConvertConfig{FFmpeg: "ffmpeg", NoiseReduction: true},
		ASR: ASRConfig{
			Backend:  BackendWhisper,
			Model:    "small.en",
			Language: "auto",
		},
		Whisper: WhisperConfig{
			Binary:   "whisper-cli",
			ModelDir: filepath.Join(data, "voxnote", "models"),
		},
		Inference: InferenceConfig{
			Endpoint:      "127.0.0.1:50061",
			DialTimeoutMS: 3000,
		},
		Transcript: TranscriptConfig{Timestamps: true},
		Storage: StorageConfig{
			Destination: DestinationPrivate,
			PrivateDir:  filepath.Join(data, "voxnote", "notes"),
			WorkDir:     filepath.Join(xdgDir("XDG_CACHE_HOME", ".cache"), "voxnote", "work"),
		},
		History: HistoryConfig{
			Enable: true,
			Path:   filepath.Join(xdgDir("XDG_STATE_HOME", ".local", "state"), "voxnote", "history.sqlite"),
		},
		Clipboard: ClipboardConfig{
			Cmd: CommandConfig{Raw: clipboard, Argv: mustParseArgv(clipboard)},
		},
		Indicator: IndicatorConfig{
			Enable:         true,
			SoundEnable:    true,
			AppName:        "voxnote",
			ErrorTimeoutMS: 1600,
		},
	}
}

// xdgDir returns $env, or $HOME joined with fallback.
func xdgDir(env string, fallback ...string) string {
	if dir := strings.TrimSpace(os.Getenv(env)); dir != "" {
		return dir
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		return filepath.Join(append([]string{os.TempDir()}, fallback...)...)
	}
	return filepath.Join(append([]string{home}, fallback...)...)
}

// expandHome rewrites a leading "~/" to the user's home directory.
func expandHome(path string) string {
	path = strings.TrimSpace(path)
	if path != "~" && !strings.HasPrefix(path, "~/") {
		return path
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return path
	}
	return filepath.Join(home, strings.TrimPrefix(path, "~"))
}
