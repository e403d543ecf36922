// Package session sequences one voice note through capture, conversion,
// transcription and persistence, and reports progress along the way.
package session

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"github.com/rbright/voxnote/internal/clock"
	"github.com/rbright/voxnote/internal/fsm"
)

const (
	defaultTickInterval = time.Second
	defaultNamePrefix   = "voxnote"
	hookTimeout         = 5 * time.Second
	releaseTimeout      = 2 * time.Second
)

// Config controls where intermediates live and how each stage runs.
type Config struct {
	WorkDir      string
	Destination  Destination
	Convert      ConvertOptions
	Transcribe   TranscribeOptions
	TickInterval time.Duration
	NamePrefix   string
	// Render turns a transcription into transcript file content.
	Render func(Transcription) string
}

// Dependencies are the collaborators an Orchestrator drives.
type Dependencies struct {
	Capture   CaptureDevice
	Converter FormatConverter
	Engine    TranscriptionEngine
	Store     ArtifactStore
	Clock     clock.Clock
	Archiver  Archiver
	Committer Committer
	Logger    *slog.Logger
}

// Orchestrator runs at most one non-terminal session at a time.
type Orchestrator struct {
	cfg    Config
	deps   Dependencies
	clock  clock.Clock
	logger *slog.Logger
	events broadcaster

	mu     sync.Mutex
	active *run
	last   *Result
}

type run struct {
	session Session
	report  ProgressReport

	baseName      string
	workName      string
	ctx           context.Context
	cancel        context.CancelFunc
	stopCh        chan struct{}
	stopOnce      sync.Once
	cancelled     atomic.Bool
	done          chan struct{}
	result        Result
	intermediates []string
	finals        []string
}

func (r *run) requestStop() {
	r.stopOnce.Do(func() { close(r.stopCh) })
}

func (r *run) requestCancel() {
	r.cancelled.Store(true)
	r.cancel()
}

// Ticket tracks one started session.
type Ticket struct {
	ID  string
	run *run
}

// Done is closed once the session reaches a terminal stage.
func (t Ticket) Done() <-chan struct{} {
	return t.run.done
}

// Wait blocks until the session is terminal or ctx ends.
func (t Ticket) Wait(ctx context.Context) (Result, error) {
	select {
	case <-t.run.done:
		return t.run.result, nil
	case <-ctx.Done():
		return Result{}, ctx.Err()
	}
}

type outcome struct {
	stage      fsm.Stage
	err        error
	artifacts  *OutputArtifacts
	transcript *Transcription
	device     string
	message    string
}

// NewOrchestrator validates collaborators and fills defaults.
func NewOrchestrator(cfg Config, deps Dependencies) (*Orchestrator, error) {
	switch {
	case deps.Capture == nil:
		return nil, errors.New("capture device is required")
	case deps.Converter == nil:
		return nil, errors.New("format converter is required")
	case deps.Engine == nil:
		return nil, errors.New("transcription engine is required")
	case deps.Store == nil:
		return nil, errors.New("artifact store is required")
	}

	if deps.Clock == nil {
		deps.Clock = clock.System{}
	}
	if deps.Logger == nil {
		deps.Logger = slog.New(slog.DiscardHandler)
	}
	if deps.Archiver == nil {
		deps.Archiver = ArchiveFunc(func(context.Context, Result) error { return nil })
	}
	if deps.Committer == nil {
		deps.Committer = CommitFunc(func(context.Context, string) error { return nil })
	}
	if cfg.TickInterval <= 0 {
		cfg.TickInterval = defaultTickInterval
	}
	if strings.TrimSpace(cfg.NamePrefix) == "" {
		cfg.NamePrefix = defaultNamePrefix
	}
	if cfg.Convert.SampleRate <= 0 || cfg.Convert.Channels <= 0 {
		nr := cfg.Convert.NoiseReduction
		cfg.Convert = DefaultConvertOptions()
		cfg.Convert.NoiseReduction = nr
	}
	if strings.TrimSpace(cfg.WorkDir) == "" {
		cfg.WorkDir = filepath.Join(os.TempDir(), defaultNamePrefix)
	}
	if cfg.Destination.Kind == "" {
		cfg.Destination.Kind = DestinationPrivate
	}
	if cfg.Render == nil {
		cfg.Render = func(t Transcription) string { return strings.TrimSpace(t.Text) }
	}

	return &Orchestrator{
		cfg:    cfg,
		deps:   deps,
		clock:  deps.Clock,
		logger: deps.Logger,
	}, nil
}

// Subscribe returns an ordered event stream and its release function.
func (o *Orchestrator) Subscribe() (<-chan Event, func()) {
	return o.events.subscribe()
}

// Current returns a snapshot of the active session.
func (o *Orchestrator) Current() (Session, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.active == nil {
		return Session{Stage: fsm.StageIdle}, false
	}
	return o.active.session, true
}

// LastResult returns the most recent terminal result.
func (o *Orchestrator) LastResult() (Result, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.last == nil {
		return Result{}, false
	}
	return *o.last, true
}

// StartSession begins a new session. A previous session still capturing is
// stopped (and one still waiting for permission is cancelled); the new session
// starts only after the previous one is terminal.
func (o *Orchestrator) StartSession(ctx context.Context) (Ticket, error) {
	for {
		o.mu.Lock()
		prev := o.active
		if prev == nil {
			r := o.newRunLocked()
			o.active = r
			report := r.report
			o.mu.Unlock()

			o.logger.Info("session started", "session_id", r.session.ID)
			o.events.publish(Event{Report: report})
			go o.execute(r)
			return Ticket{ID: r.session.ID, run: r}, nil
		}

		prevID := prev.session.ID
		prevStage := prev.session.Stage
		switch prevStage {
		case fsm.StageRequestingPermission:
			prev.requestCancel()
		case fsm.StageCapturing:
			prev.requestStop()
		}
		o.mu.Unlock()

		o.logger.Info("waiting for previous session", "session_id", prevID, "stage", string(prevStage))
		select {
		case <-prev.done:
		case <-ctx.Done():
			return Ticket{}, fmt.Errorf("wait for previous session %s: %w", prevID, ctx.Err())
		}
	}
}

// StopSession ends capture for the active session. Outside capturing it
// changes nothing and returns ErrNotCapturing.
func (o *Orchestrator) StopSession() error {
	o.mu.Lock()
	r := o.active
	if r == nil || r.session.Stage != fsm.StageCapturing {
		stage := fsm.StageIdle
		if r != nil {
			stage = r.session.Stage
		}
		o.mu.Unlock()
		o.logger.Info("stop ignored", "stage", string(stage))
		return ErrNotCapturing
	}
	id := r.session.ID
	r.requestStop()
	o.mu.Unlock()

	o.logger.Info("stop requested", "session_id", id)
	return nil
}

// CancelSession abandons the active session from any non-terminal stage.
func (o *Orchestrator) CancelSession() error {
	o.mu.Lock()
	r := o.active
	if r == nil || !r.session.Stage.Active() {
		o.mu.Unlock()
		return ErrNoActiveSession
	}
	id := r.session.ID
	stage := r.session.Stage
	r.requestCancel()
	o.mu.Unlock()

	o.logger.Info("cancel requested", "session_id", id, "stage", string(stage))
	return nil
}

func (o *Orchestrator) newRunLocked() *run {
	now := o.clock.Now()
	ctx, cancel := context.WithCancel(context.Background())
	id := uuid.NewString()

	r := &run{
		session: Session{
			ID:             id,
			Stage:          fsm.StageRequestingPermission,
			StartedAt:      now,
			StageStartedAt: now,
		},
		baseName: fmt.Sprintf("%s-%s", o.cfg.NamePrefix, now.Format("20060102-150405")),
		workName: fmt.Sprintf("%s-%s", now.Format("20060102-150405"), id[:8]),
		ctx:      ctx,
		cancel:   cancel,
		stopCh:   make(chan struct{}),
		done:     make(chan struct{}),
	}
	r.report = ProgressReport{
		SessionID: id,
		Stage:     fsm.StageRequestingPermission,
		Fraction:  Indeterminate,
		Message:   "requesting microphone permission",
		At:        now,
	}
	return r
}

func (o *Orchestrator) execute(r *run) {
	defer r.cancel()
	out := o.pipeline(r)
	o.finish(r, out)
}

func (o *Orchestrator) pipeline(r *run) outcome {
	ctx := r.ctx

	granted, err := o.deps.Capture.RequestPermission(ctx)
	if r.cancelled.Load() {
		return o.cancelled(r, "cancelled while requesting permission")
	}
	if err != nil {
		return failed(fsm.StageRequestingPermission, KindDevice, err)
	}
	if !granted {
		return failed(fsm.StageRequestingPermission, KindPermissionDenied, nil)
	}

	if err := os.MkdirAll(o.cfg.WorkDir, 0o700); err != nil {
		return failed(fsm.StageRequestingPermission, KindDevice, fmt.Errorf("create work dir: %w", err))
	}
	handle, err := o.deps.Capture.Start(ctx, filepath.Join(o.cfg.WorkDir, r.workName+".capture.wav"))
	if err != nil {
		if r.cancelled.Load() {
			return o.cancelled(r, "cancelled while opening capture device")
		}
		return failed(fsm.StageRequestingPermission, KindDevice, err)
	}
	r.intermediates = append(r.intermediates, handle.Path())

	if err := o.advance(r, fsm.EventPermissionGranted, Indeterminate, "recording"); err != nil {
		o.release(handle)
		return failed(fsm.StageRequestingPermission, KindDevice, err)
	}

	raw, err := o.capture(r, handle)
	if r.cancelled.Load() {
		return o.cancelled(r, "recording discarded")
	}
	if err != nil {
		return failed(fsm.StageCapturing, KindDevice, err)
	}
	if raw.Path != handle.Path() {
		r.intermediates = append(r.intermediates, raw.Path)
	}

	if err := o.advance(r, fsm.EventStop, Indeterminate, "converting audio"); err != nil {
		return failed(fsm.StageCapturing, KindDevice, err)
	}

	normalized, err := o.deps.Converter.Convert(ctx, raw, o.cfg.Convert)
	if r.cancelled.Load() {
		return o.cancelled(r, "cancelled during conversion")
	}
	if err != nil {
		if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
			out := o.cancelled(r, "conversion cancelled")
			out.err = stageError(fsm.StageConverting, KindConversionCancelled, err)
			return out
		}
		return failed(fsm.StageConverting, KindConversion, err)
	}
	r.intermediates = append(r.intermediates, normalized.Path)
	o.discard(r, raw.Path)
	if raw.Path != handle.Path() {
		o.discard(r, handle.Path())
	}

	if err := o.advance(r, fsm.EventConverted, Indeterminate, "transcribing"); err != nil {
		return failed(fsm.StageConverting, KindConversion, err)
	}

	transcription, err := o.transcribe(r, normalized)
	if r.cancelled.Load() {
		return o.cancelled(r, "cancelled during transcription")
	}
	if err != nil {
		return failed(fsm.StageTranscribing, KindTranscription, err)
	}

	if err := o.advance(r, fsm.EventTranscribed, 0, "saving audio"); err != nil {
		return failed(fsm.StageTranscribing, KindTranscription, err)
	}

	artifacts, err := o.persist(r, normalized, *transcription)
	if r.cancelled.Load() {
		return o.cancelled(r, "cancelled while saving")
	}
	if err != nil {
		return outcome{
			stage:      fsm.StageFailed,
			err:        err,
			message:    err.Error(),
			transcript: transcription,
			device:     raw.Device,
		}
	}

	return outcome{
		stage:      fsm.StageCompleted,
		artifacts:  artifacts,
		transcript: transcription,
		device:     raw.Device,
		message:    "saved " + artifacts.AudioPath,
	}
}

// capture reports elapsed time until stop or cancel. The ticker never
// outlives the capturing stage.
func (o *Orchestrator) capture(r *run, handle CaptureHandle) (RawAudio, error) {
	ticker := o.clock.NewTicker(o.cfg.TickInterval)
	defer ticker.Stop()
	started := o.stageStartedAt(r)

	for {
		select {
		case <-ticker.C():
			elapsed := o.clock.Now().Sub(started)
			o.progress(r, Indeterminate, nil, "recording "+formatElapsed(elapsed))
		case <-r.stopCh:
			ticker.Stop()
			return o.deps.Capture.Stop(r.ctx, handle)
		case <-r.ctx.Done():
			ticker.Stop()
			o.release(handle)
			return RawAudio{}, r.ctx.Err()
		}
	}
}

func (o *Orchestrator) release(handle CaptureHandle) {
	ctx, cancel := context.WithTimeout(context.Background(), releaseTimeout)
	defer cancel()
	if _, err := o.deps.Capture.Stop(ctx, handle); err != nil {
		o.logger.Warn("release capture", "path", handle.Path(), "error", err.Error())
	}
}

func (o *Orchestrator) transcribe(r *run, audio NormalizedAudio) (*Transcription, error) {
	started := o.stageStartedAt(r)
	updates := o.deps.Engine.Transcribe(r.ctx, audio, o.cfg.Transcribe)
	best := Fraction(0)

	for {
		select {
		case <-r.ctx.Done():
			return nil, r.ctx.Err()
		case update, ok := <-updates:
			if !ok {
				return nil, errors.New("engine closed the stream without a result")
			}
			if update.Err != nil {
				return nil, update.Err
			}
			if update.Result != nil {
				return update.Result, nil
			}

			fraction := FractionFromPercent(update.Percent)
			if fraction.Known() {
				if fraction < best {
					fraction = best
				}
				best = fraction
			}

			var eta *time.Duration
			if remaining, ok := EstimateRemaining(o.clock.Now().Sub(started), update.Percent); ok {
				eta = &remaining
			}
			message := "transcribing"
			if fraction.Known() {
				message = fmt.Sprintf("transcribing %d%%", int(float64(fraction)*100))
			}
			o.progress(r, fraction, eta, message)
		}
	}
}

// persist writes audio first; the transcript is written only once audio is
// confirmed, under the stem the store chose for the audio. The normalized
// intermediate is removed only after the audio write succeeds.
func (o *Orchestrator) persist(r *run, audio NormalizedAudio, t Transcription) (*OutputArtifacts, error) {
	dest := o.cfg.Destination

	f, err := os.Open(audio.Path)
	if err != nil {
		return nil, stageError(fsm.StagePersisting, KindPersistence, fmt.Errorf("open normalized audio: %w", err))
	}
	audioPath, err := o.deps.Store.WriteAudio(r.ctx, r.baseName+filepath.Ext(audio.Path), f, dest)
	_ = f.Close()
	if err != nil {
		return nil, stageError(
			fsm.StagePersisting,
			KindPersistence,
			fmt.Errorf("write audio (intermediate kept at %s): %w", audio.Path, err),
		)
	}
	r.finals = append(r.finals, audioPath)
	o.discard(r, audio.Path)

	artifacts := &OutputArtifacts{AudioPath: audioPath}
	text := o.cfg.Render(t)
	if strings.TrimSpace(text) == "" {
		o.progress(r, 1, nil, "no speech recognized; transcript skipped")
		return artifacts, nil
	}

	o.progress(r, 0.5, nil, "saving transcript")
	stem := strings.TrimSuffix(filepath.Base(audioPath), filepath.Ext(audioPath))
	transcriptPath, err := o.deps.Store.WriteText(r.ctx, stem+".txt", text, dest)
	if err != nil {
		return nil, stageError(
			fsm.StagePersisting,
			KindPersistence,
			fmt.Errorf("write transcript (audio saved at %s): %w", audioPath, err),
		)
	}
	r.finals = append(r.finals, transcriptPath)
	artifacts.TranscriptPath = transcriptPath
	o.progress(r, 1, nil, "saved")
	return artifacts, nil
}

func failed(stage fsm.Stage, kind ErrorKind, err error) outcome {
	stageErr := stageError(stage, kind, err)
	return outcome{stage: fsm.StageFailed, err: stageErr, message: stageErr.Error()}
}

// cancelled removes every intermediate the session still owns, along with
// any final artifact already written while persisting.
func (o *Orchestrator) cancelled(r *run, message string) outcome {
	for len(r.intermediates) > 0 {
		o.discard(r, r.intermediates[0])
	}
	for _, path := range r.finals {
		if err := o.deps.Store.Delete(path); err != nil {
			o.logger.Warn("delete artifact", "session_id", r.session.ID, "path", path, "error", err.Error())
		}
	}
	r.finals = nil
	return outcome{stage: fsm.StageCancelled, message: message}
}

func (o *Orchestrator) discard(r *run, path string) {
	kept := r.intermediates[:0]
	for _, p := range r.intermediates {
		if p != path {
			kept = append(kept, p)
		}
	}
	r.intermediates = kept

	if path == "" {
		return
	}
	if err := o.deps.Store.Delete(path); err != nil {
		o.logger.Warn("delete intermediate", "session_id", r.session.ID, "path", path, "error", err.Error())
	}
}

// advance applies one stage transition and publishes its report.
func (o *Orchestrator) advance(r *run, event fsm.Event, fraction Fraction, message string) error {
	now := o.clock.Now()

	o.mu.Lock()
	from := r.session.Stage
	next, err := fsm.Transition(from, event)
	if err != nil {
		o.mu.Unlock()
		return err
	}
	r.session.Stage = next
	r.session.StageStartedAt = now
	r.report = ProgressReport{
		SessionID: r.session.ID,
		Stage:     next,
		Fraction:  fraction,
		Message:   message,
		At:        now,
	}
	report := r.report
	o.mu.Unlock()

	o.logger.Info("stage transition", "session_id", r.session.ID, "from", string(from), "to", string(next))
	o.events.publish(Event{Report: report})
	return nil
}

func (o *Orchestrator) stageStartedAt(r *run) time.Time {
	o.mu.Lock()
	defer o.mu.Unlock()
	return r.session.StageStartedAt
}

func (o *Orchestrator) progress(r *run, fraction Fraction, eta *time.Duration, message string) {
	o.mu.Lock()
	r.report = ProgressReport{
		SessionID: r.session.ID,
		Stage:     r.session.Stage,
		Fraction:  fraction,
		ETA:       eta,
		Message:   message,
		At:        o.clock.Now(),
	}
	report := r.report
	o.mu.Unlock()

	o.events.publish(Event{Report: report})
}

func (o *Orchestrator) finish(r *run, out outcome) {
	event := fsm.EventFail
	switch out.stage {
	case fsm.StageCompleted:
		event = fsm.EventPersisted
	case fsm.StageCancelled:
		event = fsm.EventCancel
	}

	now := o.clock.Now()
	o.mu.Lock()
	from := r.session.Stage
	next, err := fsm.Transition(from, event)
	if err != nil {
		next = fsm.StageFailed
		out = failed(from, KindDevice, err)
	}
	r.session.Stage = next
	r.session.StageStartedAt = now
	if next == fsm.StageFailed {
		r.session.LastError = out.err
	}

	fraction := Indeterminate
	if next == fsm.StageCompleted {
		fraction = 1
	}
	r.report = ProgressReport{
		SessionID: r.session.ID,
		Stage:     next,
		Fraction:  fraction,
		Message:   out.message,
		At:        now,
	}

	result := Result{
		SessionID:  r.session.ID,
		Stage:      next,
		Err:        out.err,
		Message:    out.message,
		Device:     out.device,
		StartedAt:  r.session.StartedAt,
		FinishedAt: now,
	}
	if next == fsm.StageCompleted {
		result.Artifacts = out.artifacts
	}
	if out.transcript != nil {
		result.Transcript = o.cfg.Render(*out.transcript)
		result.Language = out.transcript.Language
	}
	r.result = result
	report := r.report
	o.mu.Unlock()

	o.logger.Info("stage transition", "session_id", result.SessionID, "from", string(from), "to", string(next))
	o.runHooks(result)
	o.events.publish(Event{Report: report, Result: &result})

	o.mu.Lock()
	if o.active == r {
		o.active = nil
	}
	o.last = &result
	o.mu.Unlock()
	close(r.done)
}

// runHooks archives every terminal result and commits completed transcripts.
// Hook failures are logged and never change the result.
func (o *Orchestrator) runHooks(result Result) {
	ctx, cancel := context.WithTimeout(context.Background(), hookTimeout)
	defer cancel()

	if err := o.deps.Archiver.Archive(ctx, result); err != nil {
		o.logger.Warn("archive session", "session_id", result.SessionID, "error", err.Error())
	}
	if result.Stage != fsm.StageCompleted || strings.TrimSpace(result.Transcript) == "" {
		return
	}
	if err := o.deps.Committer.Commit(ctx, result.Transcript); err != nil {
		o.logger.Warn("commit transcript", "session_id", result.SessionID, "error", err.Error())
	}
}

func formatElapsed(d time.Duration) string {
	d = d.Truncate(time.Second)
	if d < time.Minute {
		return fmt.Sprintf("%ds", int(d.Seconds()))
	}
	return fmt.Sprintf("%dm%02ds", int(d.Minutes()), int(d.Seconds())%60)
}
