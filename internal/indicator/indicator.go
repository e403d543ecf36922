// Package indicator mirrors a headless session's progress as desktop
// notifications and audio cues.
package indicator

import (
	"context"
	"fmt"
	"log/slog"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/rbright/voxnote/internal/fsm"
	"github.com/rbright/voxnote/internal/session"
)

const (
	stickyTimeoutMS       = 300000
	savedTimeoutMS        = 2500
	defaultErrorTimeoutMS = 1600
	dispatchTimeout       = 400 * time.Millisecond
)

// Config selects which surfaces the indicator drives.
type Config struct {
	Enable         bool
	SoundEnable    bool
	AppName        string
	ErrorTimeoutMS int
}

// Indicator follows one session's event stream.
type Indicator struct {
	cfg      Config
	logger   *slog.Logger
	messages messages

	notify  func(ctx context.Context, appName string, replaceID uint32, summary string, timeoutMS int) (uint32, error)
	dismiss func(ctx context.Context, id uint32) error
	play    func(cueKind) error

	mu             sync.Mutex
	notificationID uint32
	soundMu        sync.Mutex
	cues           sync.WaitGroup
}

// New creates an indicator. logger may be nil.
func New(cfg Config, logger *slog.Logger) *Indicator {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	if strings.TrimSpace(cfg.AppName) == "" {
		cfg.AppName = "voxnote"
	}
	return &Indicator{
		cfg:      cfg,
		logger:   logger,
		messages: indicatorMessagesFromEnv(),
		notify:   desktopNotify,
		dismiss:  desktopDismiss,
		play:     emitCue,
	}
}

// Active reports whether any surface is enabled.
func (i *Indicator) Active() bool {
	return i.cfg.Enable || i.cfg.SoundEnable
}

// Follow renders events for sessionID until its terminal event arrives, the
// stream closes, or ctx ends. Pending cues finish before Follow returns.
func (i *Indicator) Follow(ctx context.Context, events <-chan session.Event, sessionID string) {
	defer i.cues.Wait()

	var (
		stage   fsm.Stage
		percent = -1
	)
	for {
		select {
		case <-ctx.Done():
			i.hide(context.Background())
			return
		case ev, ok := <-events:
			if !ok {
				return
			}
			if sessionID != "" && ev.Report.SessionID != sessionID {
				continue
			}
			if ev.Result != nil {
				i.finish(ctx, *ev.Result)
				return
			}

			report := ev.Report
			if report.Stage != stage {
				stage = report.Stage
				percent = -1
				i.enter(ctx, stage)
			}
			if stage == fsm.StageTranscribing {
				percent = i.transcribing(ctx, report.Fraction, percent)
			}
		}
	}
}

func (i *Indicator) enter(ctx context.Context, stage fsm.Stage) {
	switch stage {
	case fsm.StageCapturing:
		i.playCue(cueStart)
		i.show(ctx, stickyTimeoutMS, i.messages.recording)
	case fsm.StageConverting:
		i.playCue(cueStop)
		i.show(ctx, stickyTimeoutMS, i.messages.converting)
	case fsm.StagePersisting:
		i.show(ctx, stickyTimeoutMS, i.messages.saving)
	}
}

// transcribing refreshes the notification in 10% steps and returns the
// step last shown.
func (i *Indicator) transcribing(ctx context.Context, fraction session.Fraction, shown int) int {
	step := 0
	if fraction.Known() {
		step = int(math.Floor(float64(fraction)*10)) * 10
	}
	if step == shown {
		return shown
	}
	text := i.messages.transcribing
	if fraction.Known() && step > 0 {
		text = fmt.Sprintf("%s %d%%", text, step)
	}
	i.show(ctx, stickyTimeoutMS, text)
	return step
}

func (i *Indicator) finish(ctx context.Context, result session.Result) {
	switch result.Stage {
	case fsm.StageCompleted:
		i.playCue(cueComplete)
		text := i.messages.saved
		if strings.TrimSpace(result.Transcript) == "" {
			text = i.messages.noSpeech
		}
		i.show(ctx, savedTimeoutMS, text)
	case fsm.StageCancelled:
		i.playCue(cueCancel)
		i.hide(ctx)
	default:
		text := strings.TrimSpace(result.Message)
		if text == "" {
			text = i.messages.errorText
		}
		timeout := i.cfg.ErrorTimeoutMS
		if timeout <= 0 {
			timeout = defaultErrorTimeoutMS
		}
		i.show(ctx, timeout, text)
	}
}

// show replaces the current notification with text.
func (i *Indicator) show(ctx context.Context, timeoutMS int, text string) {
	if !i.cfg.Enable {
		return
	}
	i.run(ctx, func(ctx context.Context) error {
		i.mu.Lock()
		replaceID := i.notificationID
		i.mu.Unlock()

		id, err := i.notify(ctx, i.cfg.AppName, replaceID, text, timeoutMS)
		if err != nil {
			return err
		}

		i.mu.Lock()
		i.notificationID = id
		i.mu.Unlock()
		return nil
	})
}

// hide closes the current notification when one is open.
func (i *Indicator) hide(ctx context.Context) {
	if !i.cfg.Enable {
		return
	}
	i.mu.Lock()
	id := i.notificationID
	i.notificationID = 0
	i.mu.Unlock()
	if id == 0 {
		return
	}
	i.run(ctx, func(ctx context.Context) error {
		return i.dismiss(ctx, id)
	})
}

// run executes a notification call with a bounded timeout.
func (i *Indicator) run(ctx context.Context, fn func(context.Context) error) {
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), dispatchTimeout)
	defer cancel()
	if err := fn(runCtx); err != nil {
		i.logger.Debug("indicator dispatch failed", "error", err.Error())
	}
}

// playCue serializes cue playback off the event loop.
func (i *Indicator) playCue(kind cueKind) {
	if !i.cfg.SoundEnable {
		return
	}
	i.cues.Add(1)
	go func() {
		defer i.cues.Done()
		i.soundMu.Lock()
		defer i.soundMu.Unlock()
		if err := i.play(kind); err != nil {
			i.logger.Debug("indicator audio cue failed", "cue", kind.String(), "error", err.Error())
		}
	}()
}
