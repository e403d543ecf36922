package fsm

import "fmt"

// Stage is one step of a voice-note session.
type Stage string

type Event string

const (
	StageIdle                 Stage = "idle"
	StageRequestingPermission Stage = "requesting_permission"
	StageCapturing            Stage = "capturing"
	StageConverting           Stage = "converting"
	StageTranscribing         Stage = "transcribing"
	StagePersisting           Stage = "persisting"
	StageCompleted            Stage = "completed"
	StageFailed               Stage = "failed"
	StageCancelled            Stage = "cancelled"
)

const (
	EventStart             Event = "start"
	EventPermissionGranted Event = "permission_granted"
	EventStop              Event = "stop"
	EventConverted         Event = "converted"
	EventTranscribed       Event = "transcribed"
	EventPersisted         Event = "persisted"
	EventFail              Event = "fail"
	EventCancel            Event = "cancel"
)

// Terminal reports whether no further event is accepted from stage.
func (s Stage) Terminal() bool {
	switch s {
	case StageCompleted, StageFailed, StageCancelled:
		return true
	default:
		return false
	}
}

// Active reports whether stage belongs to a running session.
func (s Stage) Active() bool {
	return s != StageIdle && !s.Terminal()
}

// Ordinal ranks non-terminal stages in pipeline order. Terminal stages
// rank after every working stage.
func (s Stage) Ordinal() int {
	switch s {
	case StageIdle:
		return 0
	case StageRequestingPermission:
		return 1
	case StageCapturing:
		return 2
	case StageConverting:
		return 3
	case StageTranscribing:
		return 4
	case StagePersisting:
		return 5
	case StageCompleted, StageFailed, StageCancelled:
		return 6
	default:
		return -1
	}
}

func Transition(current Stage, event Event) (Stage, error) {
	if current.Terminal() {
		return current, invalidTransition(current, event)
	}
	if current.Active() {
		switch event {
		case EventFail:
			return StageFailed, nil
		case EventCancel:
			return StageCancelled, nil
		}
	}

	switch current {
	case StageIdle:
		switch event {
		case EventStart:
			return StageRequestingPermission, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StageRequestingPermission:
		switch event {
		case EventPermissionGranted:
			return StageCapturing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StageCapturing:
		switch event {
		case EventStop:
			return StageConverting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StageConverting:
		switch event {
		case EventConverted:
			return StageTranscribing, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StageTranscribing:
		switch event {
		case EventTranscribed:
			return StagePersisting, nil
		default:
			return current, invalidTransition(current, event)
		}
	case StagePersisting:
		switch event {
		case EventPersisted:
			return StageCompleted, nil
		default:
			return current, invalidTransition(current, event)
		}
	default:
		return current, fmt.Errorf("unknown stage %q", current)
	}
}

func invalidTransition(stage Stage, event Event) error {
	return fmt.Errorf("invalid transition: %s --(%s)--> ?", stage, event)
}
