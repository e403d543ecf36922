package session

import (
	"context"
	"io"
	"time"
)

// RawAudio references a finished capture in the device's native format.
type RawAudio struct {
	Path     string
	Device   string
	Bytes    int64
	Duration time.Duration
}

// NormalizedAudio references converted audio ready for transcription.
type NormalizedAudio struct {
	Path       string
	SampleRate int
	Channels   int
}

// CaptureHandle identifies one open recording.
type CaptureHandle interface {
	Path() string
}

// CaptureDevice records microphone input into a file.
type CaptureDevice interface {
	RequestPermission(context.Context) (bool, error)
	Start(ctx context.Context, path string) (CaptureHandle, error)
	Stop(context.Context, CaptureHandle) (RawAudio, error)
}

// ConvertOptions describe the normalized output format.
type ConvertOptions struct {
	SampleRate     int
	Channels       int
	NoiseReduction bool
}

// DefaultConvertOptions is 16 kHz mono, the format local ASR engines expect.
func DefaultConvertOptions() ConvertOptions {
	return ConvertOptions{SampleRate: 16000, Channels: 1}
}

// FormatConverter turns raw capture into normalized audio.
// A converter that was interrupted returns an error wrapping ErrCancelled.
type FormatConverter interface {
	Convert(context.Context, RawAudio, ConvertOptions) (NormalizedAudio, error)
}

// TranscribeOptions are the effective engine options after model overrides.
type TranscribeOptions struct {
	Model     string
	Language  string
	Translate bool
}

// Segment is one timed span of recognized text.
type Segment struct {
	Start time.Duration
	End   time.Duration
	Text  string
}

// Transcription is a final recognition result.
type Transcription struct {
	Text     string
	Language string
	Segments []Segment
}

// TranscriptionUpdate is either a progress percentage or the terminal outcome.
type TranscriptionUpdate struct {
	Percent float64
	Result  *Transcription
	Err     error
}

// Terminal reports whether u ends the stream.
func (u TranscriptionUpdate) Terminal() bool {
	return u.Result != nil || u.Err != nil
}

// TranscriptionEngine recognizes speech in normalized audio.
//
// The returned channel carries zero or more progress updates followed by
// exactly one terminal update, then closes. Implementations must stop sending
// and close the channel once ctx is done.
type TranscriptionEngine interface {
	Transcribe(context.Context, NormalizedAudio, TranscribeOptions) <-chan TranscriptionUpdate
}

// DestinationKind selects how artifacts reach their final location.
type DestinationKind string

const (
	// DestinationPrivate writes directly into an app-owned directory.
	DestinationPrivate DestinationKind = "private"
	// DestinationExternal writes through a placeholder entry in a user-chosen directory.
	DestinationExternal DestinationKind = "external"
)

// Destination is a storage target.
type Destination struct {
	Kind DestinationKind
	Dir  string
}

// ArtifactStore persists final artifacts and removes intermediates.
type ArtifactStore interface {
	WriteAudio(ctx context.Context, name string, r io.Reader, dest Destination) (string, error)
	WriteText(ctx context.Context, name, text string, dest Destination) (string, error)
	// Delete removes path. Deleting a missing path is not an error.
	Delete(path string) error
}
