package config

import (
	"fmt"
	"strings"

	"github.com/rbright/voxnote/internal/session"
)

// Validate enforces config invariants and returns non-fatal warnings.
func Validate(cfg Config) ([]Warning, error) {
	warnings := make([]Warning, 0)

	if cfg.Audio.SampleRate <= 0 {
		return nil, fmt.Errorf("audio.sample_rate must be > 0")
	}
	if strings.TrimSpace(cfg.Convert.FFmpeg) == "" {
		return nil, fmt.Errorf("convert.ffmpeg must not be empty")
	}

	switch cfg.ASR.Backend {
	case BackendWhisper:
		if strings.TrimSpace(cfg.Whisper.Binary) == "" {
			return nil, fmt.Errorf("whisper.binary must not be empty when asr.backend=whisper")
		}
		if cfg.Whisper.Threads < 0 {
			return nil, fmt.Errorf("whisper.threads must be >= 0")
		}
	case BackendGRPC:
		if strings.TrimSpace(cfg.Inference.Endpoint) == "" {
			return nil, fmt.Errorf("inference.endpoint must not be empty when asr.backend=grpc")
		}
	default:
		return nil, fmt.Errorf("asr.backend must be one of: %s, %s", BackendWhisper, BackendGRPC)
	}
	if cfg.Inference.DialTimeoutMS < 0 {
		return nil, fmt.Errorf("inference.dial_timeout_ms must be >= 0")
	}
	if strings.TrimSpace(cfg.ASR.Model) == "" {
		return nil, fmt.Errorf("asr.model must not be empty")
	}
	if strings.TrimSpace(cfg.ASR.Language) == "" {
		return nil, fmt.Errorf("asr.language must not be empty (use %q for detection)", session.LanguageAuto)
	}

	if session.IsEnglishOnlyModel(cfg.ASR.Model) {
		if cfg.ASR.Translate {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("asr.translate is ignored for English-only model %q", cfg.ASR.Model)})
		}
		if lang := strings.ToLower(cfg.ASR.Language); lang != "en" && lang != session.LanguageAuto {
			warnings = append(warnings, Warning{Message: fmt.Sprintf("asr.language %q is overridden to \"en\" for model %q", cfg.ASR.Language, cfg.ASR.Model)})
		}
	} else if cfg.ASR.Translate && cfg.ASR.Language != session.LanguageAuto {
		warnings = append(warnings, Warning{Message: "asr.translate only applies when asr.language is \"auto\""})
	}

	switch cfg.Storage.Destination {
	case DestinationPrivate:
		if strings.TrimSpace(cfg.Storage.PrivateDir) == "" {
			return nil, fmt.Errorf("storage.private_dir must not be empty")
		}
	case DestinationExternal:
		if strings.TrimSpace(cfg.Storage.ExternalDir) == "" {
			return nil, fmt.Errorf("storage.external_dir must be set when storage.destination=external")
		}
	default:
		return nil, fmt.Errorf("storage.destination must be one of: %s, %s", DestinationPrivate, DestinationExternal)
	}
	if strings.TrimSpace(cfg.Storage.WorkDir) == "" {
		return nil, fmt.Errorf("storage.work_dir must not be empty")
	}

	if cfg.History.Enable && strings.TrimSpace(cfg.History.Path) == "" {
		return nil, fmt.Errorf("history.path must not be empty when history.enable=true")
	}
	if cfg.Clipboard.Enable && len(cfg.Clipboard.Cmd.Argv) == 0 {
		return nil, fmt.Errorf("clipboard.cmd must not be empty when clipboard.enable=true")
	}
	if cfg.Indicator.Enable && strings.TrimSpace(cfg.Indicator.AppName) == "" {
		return nil, fmt.Errorf("indicator.app_name must not be empty when indicator.enable=true")
	}
	if cfg.Indicator.ErrorTimeoutMS < 0 {
		return nil, fmt.Errorf("indicator.error_timeout_ms must be >= 0")
	}

	return warnings, nil
}
