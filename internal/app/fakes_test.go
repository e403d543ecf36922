package app

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/rbright/voxnote/internal/artifact"
	"github.com/rbright/voxnote/internal/config"
	"github.com/rbright/voxnote/internal/history"
	"github.com/rbright/voxnote/internal/session"
)

type fakeHandle string

func (h fakeHandle) Path() string { return string(h) }

type fakeCapture struct{}

func (fakeCapture) RequestPermission(context.Context) (bool, error) { return true, nil }

func (fakeCapture) Start(_ context.Context, path string) (session.CaptureHandle, error) {
	if err := os.WriteFile(path, []byte("RIFF-raw"), 0o600); err != nil {
		return nil, err
	}
	return fakeHandle(path), nil
}

func (fakeCapture) Stop(_ context.Context, h session.CaptureHandle) (session.RawAudio, error) {
	return session.RawAudio{Path: h.Path(), Device: "test-mic", Bytes: 8, Duration: time.Second}, nil
}

type fakeConverter struct{}

func (fakeConverter) Convert(_ context.Context, raw session.RawAudio, opts session.ConvertOptions) (session.NormalizedAudio, error) {
	out := strings.TrimSuffix(raw.Path, ".wav") + ".16k.wav"
	if err := os.WriteFile(out, []byte("RIFF-16k"), 0o600); err != nil {
		return session.NormalizedAudio{}, err
	}
	return session.NormalizedAudio{Path: out, SampleRate: opts.SampleRate, Channels: opts.Channels}, nil
}

type fakeEngine struct{}

func (fakeEngine) Transcribe(ctx context.Context, _ session.NormalizedAudio, _ session.TranscribeOptions) <-chan session.TranscriptionUpdate {
	updates := make(chan session.TranscriptionUpdate)
	go func() {
		defer close(updates)
		for _, u := range []session.TranscriptionUpdate{
			{Percent: 50},
			{Result: &session.Transcription{Text: "remember the milk.", Language: "en"}},
		} {
			select {
			case updates <- u:
			case <-ctx.Done():
				return
			}
		}
	}()
	return updates
}

// fakeBuild keeps the real config mapping, artifact store and archive but
// swaps the audio and ASR collaborators.
func fakeBuild(cfg config.Config, logger *slog.Logger) (*session.Orchestrator, func(), error) {
	store, err := history.Open(cfg.History.Path)
	if err != nil {
		return nil, nil, err
	}
	sessCfg := sessionConfig(cfg)
	sessCfg.TickInterval = 20 * time.Millisecond

	orch, err := session.NewOrchestrator(sessCfg, session.Dependencies{
		Capture:   fakeCapture{},
		Converter: fakeConverter{},
		Engine:    fakeEngine{},
		Store:     artifact.New(logger),
		Archiver:  store,
		Logger:    logger,
	})
	if err != nil {
		_ = store.Close()
		return nil, nil, err
	}
	return orch, func() { _ = store.Close() }, nil
}
