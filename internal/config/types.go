// Package config resolves, parses, validates, and defaults voxnote configuration.
package config

import "time"

// Backend names accepted in asr.backend.
const (
	BackendWhisper = "whisper"
	BackendGRPC    = "grpc"
)

// Destination names accepted in storage.destination.
const (
	DestinationPrivate  = "private"
	DestinationExternal = "external"
)

// Config is the fully materialized runtime configuration.
type Config struct {
	Audio      AudioConfig
	Convert    ConvertConfig
	ASR        ASRConfig
	Whisper    WhisperConfig
	Inference  InferenceConfig
	Transcript TranscriptConfig
	Storage    StorageConfig
	History    HistoryConfig
	Clipboard  ClipboardConfig
	Indicator  IndicatorConfig
}

// AudioConfig controls input-source selection and capture rate.
type AudioConfig struct {
	Input      string
	Fallback   string
	SampleRate int
}

// ConvertConfig controls the ffmpeg normalization step.
type ConvertConfig struct {
	FFmpeg         string
	NoiseReduction bool
}

// ASRConfig selects the recognition backend and its request options.
type ASRConfig struct {
	Backend   string
	Model     string
	Language  string
	Translate bool
}

// WhisperConfig locates the whisper.cpp CLI and its models.
type WhisperConfig struct {
	Binary   string
	ModelDir string
	Threads  int
}

// InferenceConfig locates the gRPC inference sidecar.
type InferenceConfig struct {
	Endpoint      string
	DialTimeoutMS int
}

// DialTimeout converts DialTimeoutMS to a duration.
func (c InferenceConfig) DialTimeout() time.Duration {
	return time.Duration(c.DialTimeoutMS) * time.Millisecond
}

// TranscriptConfig controls transcript file rendering.
type TranscriptConfig struct {
	Timestamps          bool
	CapitalizeSentences bool
}

// StorageConfig controls where artifacts and intermediates live.
type StorageConfig struct {
	Destination string
	PrivateDir  string
	ExternalDir string
	WorkDir     string
}

// Dir returns the directory for the configured destination.
func (c StorageConfig) Dir() string {
	if c.Destination == DestinationExternal {
		return c.ExternalDir
	}
	return c.PrivateDir
}

// HistoryConfig controls the session archive.
type HistoryConfig struct {
	Enable bool
	Path   string
}

// ClipboardConfig controls copying completed transcripts.
type ClipboardConfig struct {
	Enable bool
	Cmd    CommandConfig
}

// IndicatorConfig controls desktop notifications and audio cues for
// headless sessions.
type IndicatorConfig struct {
	Enable         bool
	SoundEnable    bool
	AppName        string
	ErrorTimeoutMS int
}

// CommandConfig stores a raw command string and its parsed argv form.
type CommandConfig struct {
	Raw  string
	Argv []string
}

// Warning is a non-fatal parse/validation message.
type Warning struct {
	Line    int
	Message string
}
