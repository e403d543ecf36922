package app

import (
	"fmt"
	"log/slog"

	"github.com/rbright/voxnote/internal/artifact"
	"github.com/rbright/voxnote/internal/audio"
	"github.com/rbright/voxnote/internal/config"
	"github.com/rbright/voxnote/internal/convert"
	"github.com/rbright/voxnote/internal/history"
	"github.com/rbright/voxnote/internal/inference"
	"github.com/rbright/voxnote/internal/output"
	"github.com/rbright/voxnote/internal/session"
	"github.com/rbright/voxnote/internal/transcript"
	"github.com/rbright/voxnote/internal/whisper"
)

// buildOrchestrator is the production BuildFunc.
func buildOrchestrator(cfg config.Config, logger *slog.Logger) (*session.Orchestrator, func(), error) {
	engine, err := newEngine(cfg, logger)
	if err != nil {
		return nil, nil, err
	}

	deps := session.Dependencies{
		Capture:   audio.NewRecorder(cfg.Audio.Input, cfg.Audio.Fallback, cfg.Audio.SampleRate, logger),
		Converter: convert.New(cfg.Convert.FFmpeg, logger),
		Engine:    engine,
		Store:     artifact.New(logger),
		Logger:    logger,
	}

	release := func() {}
	if cfg.History.Enable {
		// A broken archive must not block recording.
		store, err := history.Open(cfg.History.Path)
		if err != nil {
			logger.Warn("history unavailable", "path", cfg.History.Path, "error", err.Error())
		} else {
			deps.Archiver = store
			release = func() { _ = store.Close() }
		}
	}
	if cfg.Clipboard.Enable {
		deps.Committer = output.NewClipboard(cfg.Clipboard.Cmd, logger)
	}

	orch, err := session.NewOrchestrator(sessionConfig(cfg), deps)
	if err != nil {
		release()
		return nil, nil, err
	}
	return orch, release, nil
}

func sessionConfig(cfg config.Config) session.Config {
	convertOpts := session.DefaultConvertOptions()
	convertOpts.NoiseReduction = cfg.Convert.NoiseReduction

	return session.Config{
		WorkDir: cfg.Storage.WorkDir,
		Destination: session.Destination{
			Kind: session.DestinationKind(cfg.Storage.Destination),
			Dir:  cfg.Storage.Dir(),
		},
		Convert:    convertOpts,
		Transcribe: session.ResolveTranscribeOptions(cfg.ASR.Model, cfg.ASR.Language, cfg.ASR.Translate),
		Render: transcript.Renderer(transcript.Options{
			Timestamps:          cfg.Transcript.Timestamps,
			CapitalizeSentences: cfg.Transcript.CapitalizeSentences,
		}),
	}
}

func newEngine(cfg config.Config, logger *slog.Logger) (session.TranscriptionEngine, error) {
	switch cfg.ASR.Backend {
	case config.BackendWhisper:
		return whisper.New(whisper.Config{
			Binary:   cfg.Whisper.Binary,
			ModelDir: cfg.Whisper.ModelDir,
			Threads:  cfg.Whisper.Threads,
		}, logger), nil
	case config.BackendGRPC:
		engine, err := inference.New(inference.Config{
			Endpoint:    cfg.Inference.Endpoint,
			DialTimeout: cfg.Inference.DialTimeout(),
		}, logger)
		if err != nil {
			return nil, fmt.Errorf("inference engine: %w", err)
		}
		return engine, nil
	default:
		return nil, fmt.Errorf("unsupported asr backend %q", cfg.ASR.Backend)
	}
}
