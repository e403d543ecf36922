package session

import (
	"errors"
	"fmt"

	"github.com/rbright/voxnote/internal/fsm"
)

// ErrorKind classifies pipeline failures.
type ErrorKind string

const (
	KindPermissionDenied    ErrorKind = "permission_denied"
	KindDevice              ErrorKind = "device_error"
	KindConversion          ErrorKind = "conversion_error"
	KindConversionCancelled ErrorKind = "conversion_cancelled"
	KindTranscription       ErrorKind = "transcription_error"
	KindPersistence         ErrorKind = "persistence_error"
)

var (
	ErrPermissionDenied    = errors.New("microphone permission denied")
	ErrDevice              = errors.New("audio device error")
	ErrConversion          = errors.New("audio conversion failed")
	ErrConversionCancelled = errors.New("audio conversion cancelled")
	ErrTranscription       = errors.New("transcription failed")
	ErrPersistence         = errors.New("saving artifacts failed")

	// ErrCancelled is wrapped by collaborators that were interrupted.
	ErrCancelled = errors.New("cancelled")
	// ErrNotCapturing is returned by StopSession outside the capturing stage.
	ErrNotCapturing = errors.New("no capture in progress")
	// ErrNoActiveSession is returned when a command needs a running session.
	ErrNoActiveSession = errors.New("no active session")
)

func (k ErrorKind) sentinel() error {
	switch k {
	case KindPermissionDenied:
		return ErrPermissionDenied
	case KindDevice:
		return ErrDevice
	case KindConversion:
		return ErrConversion
	case KindConversionCancelled:
		return ErrConversionCancelled
	case KindTranscription:
		return ErrTranscription
	case KindPersistence:
		return ErrPersistence
	default:
		return nil
	}
}

// StageError records which stage failed, how, and the collaborator cause.
type StageError struct {
	Stage fsm.Stage
	Kind  ErrorKind
	Err   error
}

func (e *StageError) Error() string {
	desc := string(e.Kind)
	if s := e.Kind.sentinel(); s != nil {
		desc = s.Error()
	}
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Stage, desc)
	}
	return fmt.Sprintf("%s: %s: %v", e.Stage, desc, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// Is matches the sentinel for e.Kind.
func (e *StageError) Is(target error) bool {
	s := e.Kind.sentinel()
	return s != nil && target == s
}

// KindOf extracts the failure kind from err, if any.
func KindOf(err error) (ErrorKind, bool) {
	var stageErr *StageError
	if errors.As(err, &stageErr) {
		return stageErr.Kind, true
	}
	return "", false
}

func stageError(stage fsm.Stage, kind ErrorKind, err error) *StageError {
	return &StageError{Stage: stage, Kind: kind, Err: err}
}
