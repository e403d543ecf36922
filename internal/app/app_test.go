package app

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/rbright/voxnote/internal/audio"
	"github.com/rbright/voxnote/internal/config"
	"github.com/rbright/voxnote/internal/fsm"
	"github.com/rbright/voxnote/internal/history"
	"github.com/rbright/voxnote/internal/inference"
	"github.com/rbright/voxnote/internal/ipc"
	"github.com/rbright/voxnote/internal/session"
	"github.com/rbright/voxnote/internal/whisper"
)

func TestExecuteHelp(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"--help"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "Usage:")
	require.Empty(t, stderr.String())
}

func TestExecuteVersion(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"version"}, &stdout, &stderr)
	require.Equal(t, 0, exitCode)
	require.Contains(t, stdout.String(), "voxnote")
	require.Empty(t, stderr.String())
}

func TestExecuteUnknownCommand(t *testing.T) {
	var stdout bytes.Buffer
	var stderr bytes.Buffer

	exitCode := Execute(context.Background(), []string{"definitely-not-a-command"}, &stdout, &stderr)
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown command")
	require.Contains(t, stderr.String(), "Usage:")
}

func TestExecuteRejectsUnknownLogLevel(t *testing.T) {
	paths := setupRunnerEnv(t)
	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "--log-level", "loud", "status"})
	require.Equal(t, 2, exitCode)
	require.Contains(t, stderr.String(), "unknown log level")
}

func TestExecuteReportsConfigErrors(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, os.WriteFile(paths.configPath, []byte(`{"audio": {"bogus": 1}}`), 0o600))

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "bogus")
}

func TestRunnerStatusIdleWhenSocketUnavailable(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerStopReturnsNoActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "stop"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "no active voxnote session")
}

func TestRunnerForwardsCommandsToActiveSession(t *testing.T) {
	paths := setupRunnerEnv(t)
	commands := make(chan string, 8)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		commands <- req.Command
		switch req.Command {
		case "status":
			return ipc.Response{OK: true, Stage: "capturing"}
		case "stop", "cancel", "toggle":
			return ipc.Response{OK: true, Message: req.Command + " handled"}
		default:
			return ipc.Response{OK: false, Error: "unsupported"}
		}
	})
	defer shutdown()

	runner := Runner{}
	for _, cmd := range []string{"status", "stop", "cancel", "toggle"} {
		stdout := &bytes.Buffer{}
		stderr := &bytes.Buffer{}
		runner.Stdout = stdout
		runner.Stderr = stderr

		exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, cmd})
		require.Equal(t, 0, exitCode, cmd)
		require.Empty(t, stderr.String(), cmd)
	}

	got := []string{<-commands, <-commands, <-commands, <-commands}
	require.ElementsMatch(t, []string{"status", "stop", "cancel", "toggle"}, got)
}

func TestRunnerStatusPrintsProgress(t *testing.T) {
	paths := setupRunnerEnv(t)

	fraction := 0.42
	eta := 7.4
	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		return ipc.Response{OK: true, Stage: "transcribing", Fraction: &fraction, ETASeconds: &eta, Message: "transcribing audio"}
	})
	defer shutdown()

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}
	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"}))
	require.Equal(t, "transcribing  42%  eta 7s  transcribing audio\n", stdout.String())
}

func TestRunnerStatusFallsBackToIdleWhenServerStageEmpty(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(_ context.Context, req ipc.Request) ipc.Response {
		require.Equal(t, "status", req.Command)
		return ipc.Response{OK: true}
	})
	defer shutdown()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "status"})
	require.Equal(t, 0, exitCode)
	require.Equal(t, "idle\n", stdout.String())
	require.Empty(t, stderr.String())
}

func TestRunnerRecordRefusesWhileSessionRuns(t *testing.T) {
	paths := setupRunnerEnv(t)

	shutdown := startIPCServerForRunnerTest(t, paths.socketPath(), func(context.Context, ipc.Request) ipc.Response {
		return ipc.Response{OK: true, Stage: "capturing"}
	})
	defer shutdown()

	var stderr bytes.Buffer
	runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}
	require.Equal(t, 1, runner.Execute(context.Background(), []string{"--config", paths.configPath, "record"}))
	require.Contains(t, stderr.String(), "already running")
}

type watchHandler struct {
	updates []ipc.Response
}

func (h watchHandler) Handle(context.Context, ipc.Request) ipc.Response {
	return ipc.Response{OK: true, Stage: "idle"}
}

func (h watchHandler) Stream(_ context.Context, emit func(ipc.Response) error) error {
	for _, update := range h.updates {
		if err := emit(update); err != nil {
			return err
		}
	}
	return nil
}

func TestRunnerWatchPrintsUpdatesUntilTerminal(t *testing.T) {
	paths := setupRunnerEnv(t)

	half := 0.5
	listener, err := net.Listen("unix", paths.socketPath())
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, watchHandler{updates: []ipc.Response{
			{OK: true, Stage: "converting", Message: "converting audio"},
			{OK: true, Stage: "transcribing", Fraction: &half},
			{OK: false, Stage: "failed", Error: "transcription failed: exit status 3"},
		}})
	}()
	defer func() {
		cancel()
		require.NoError(t, <-done)
	}()

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}
	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "watch"})
	require.Equal(t, 1, exitCode)

	lines := strings.Split(strings.TrimSpace(stdout.String()), "\n")
	require.Equal(t, []string{"converting  converting audio", "transcribing  50%", "failed"}, lines)
	require.Contains(t, stderr.String(), "exit status 3")
}

func TestRunnerWatchIdleWithoutOwner(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &bytes.Buffer{}}
	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "watch"}))
	require.Equal(t, "idle\n", stdout.String())
}

func TestTryForwardSuccessAndFailureResponses(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "voxnote.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	serverCtx, cancelServer := context.WithCancel(context.Background())
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- ipc.Serve(serverCtx, listener, ipc.HandlerFunc(func(_ context.Context, req ipc.Request) ipc.Response {
			switch req.Command {
			case "status":
				return ipc.Response{OK: true, Stage: "capturing"}
			default:
				return ipc.Response{OK: false, Error: "unsupported"}
			}
		}))
	}()

	resp, handled, err := tryForward(context.Background(), socketPath, "status")
	require.True(t, handled)
	require.NoError(t, err)
	require.Equal(t, "capturing", resp.Stage)

	_, handled, err = tryForward(context.Background(), socketPath, "cancel")
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "unsupported")

	cancelServer()
	require.NoError(t, <-serverDone)
}

func TestTryForwardDoesNotRemoveSocketPathOnForwardFailure(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "voxnote.sock")
	require.NoError(t, os.WriteFile(socketPath, []byte("stale"), 0o600))

	_, handled, err := tryForward(context.Background(), socketPath, "status")
	require.False(t, handled)
	require.NoError(t, err)

	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
}

func TestTryForwardTreatsReadFailuresAsHandledErrors(t *testing.T) {
	socketPath := filepath.Join(t.TempDir(), "voxnote.sock")

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, acceptErr := listener.Accept()
		if acceptErr == nil {
			_ = conn.Close()
		}
	}()

	_, handled, err := tryForward(context.Background(), socketPath, "status")
	require.True(t, handled)
	require.Error(t, err)
	require.Contains(t, err.Error(), "forward command \"status\":")

	<-done
	_, statErr := os.Stat(socketPath)
	require.NoError(t, statErr)
	require.NoError(t, listener.Close())
}

func TestRunnerDoctorCommandDispatchesAndPrintsReport(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PATH", t.TempDir())
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "doctor"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stdout.String(), "config: loaded")
	require.Contains(t, stdout.String(), "[FAIL] convert.ffmpeg")
}

func TestRunnerDevicesCommandDispatches(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "devices"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")
}

func TestRunnerToggleOwnerPathReturnsErrorWhenCaptureStartupFails(t *testing.T) {
	paths := setupRunnerEnv(t)
	t.Setenv("PULSE_SERVER", "unix:/tmp/definitely-missing-pulse-server")

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	runner := Runner{Stdout: &stdout, Stderr: &stderr}

	exitCode := runner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	require.Equal(t, 1, exitCode)
	require.Contains(t, stderr.String(), "error:")

	// owner path should clean up runtime socket on exit
	_, statErr := os.Stat(paths.socketPath())
	require.ErrorIs(t, statErr, os.ErrNotExist)

	store, err := history.Open(paths.historyPath)
	require.NoError(t, err)
	defer store.Close()
	entries, err := store.List(context.Background(), 5)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	require.Equal(t, string(fsm.StageFailed), entries[0].Stage)
}

func TestRunnerToggleOwnerCompletesAfterSecondToggle(t *testing.T) {
	paths := setupRunnerEnv(t)

	var ownerOut bytes.Buffer
	var ownerErr bytes.Buffer
	owner := Runner{Stdout: &ownerOut, Stderr: &ownerErr, Build: fakeBuild}

	ownerDone := make(chan int, 1)
	go func() {
		ownerDone <- owner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	}()

	require.Eventually(t, func() bool {
		resp, handled, err := tryForward(context.Background(), paths.socketPath(), "status")
		return handled && err == nil && resp.Stage == "capturing"
	}, 3*time.Second, 10*time.Millisecond)

	var stdout bytes.Buffer
	var stderr bytes.Buffer
	second := Runner{Stdout: &stdout, Stderr: &stderr}
	require.Equal(t, 0, second.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"}))
	require.Contains(t, stdout.String(), "stop requested")

	select {
	case code := <-ownerDone:
		require.Equal(t, 0, code, ownerErr.String())
	case <-time.After(5 * time.Second):
		t.Fatal("owner did not finish")
	}

	lines := strings.Split(strings.TrimSpace(ownerOut.String()), "\n")
	require.Len(t, lines, 2)
	require.Equal(t, paths.notesDir, filepath.Dir(lines[0]))
	require.True(t, strings.HasSuffix(lines[0], ".txt"))
	transcript, err := os.ReadFile(lines[0])
	require.NoError(t, err)
	require.Equal(t, "Remember the milk.\n", string(transcript))

	_, statErr := os.Stat(paths.socketPath())
	require.ErrorIs(t, statErr, os.ErrNotExist)

	var historyOut bytes.Buffer
	reader := Runner{Stdout: &historyOut, Stderr: &bytes.Buffer{}}
	require.Equal(t, 0, reader.Execute(context.Background(), []string{"--config", paths.configPath, "history", "--search", "milk"}))
	require.Contains(t, historyOut.String(), "completed")
	require.Contains(t, historyOut.String(), "Remember the milk.")
}

func TestRunnerToggleOwnerCancelDiscardsSession(t *testing.T) {
	paths := setupRunnerEnv(t)

	var ownerOut bytes.Buffer
	owner := Runner{Stdout: &ownerOut, Stderr: &bytes.Buffer{}, Build: fakeBuild}

	ownerDone := make(chan int, 1)
	go func() {
		ownerDone <- owner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	}()

	require.Eventually(t, func() bool {
		resp, handled, err := tryForward(context.Background(), paths.socketPath(), "status")
		return handled && err == nil && resp.Stage == "capturing"
	}, 3*time.Second, 10*time.Millisecond)

	canceller := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	require.Equal(t, 0, canceller.Execute(context.Background(), []string{"--config", paths.configPath, "cancel"}))

	select {
	case code := <-ownerDone:
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("owner did not finish")
	}
	require.Equal(t, "cancelled\n", ownerOut.String())

	entries, err := os.ReadDir(paths.notesDir)
	if !errors.Is(err, os.ErrNotExist) {
		require.NoError(t, err)
		require.Empty(t, entries)
	}
}

func TestRunnerToggleOwnerDrivesDesktopIndicator(t *testing.T) {
	paths := setupRunnerEnvWithIndicator(t, `{"enable": true, "sound_enable": false}`)

	argsFile := filepath.Join(t.TempDir(), "busctl-args.log")
	t.Setenv("BUSCTL_ARGS_FILE", argsFile)
	stubDir := t.TempDir()
	stub := "#!/usr/bin/env bash\nprintf '%s\\n' \"$*\" >> \"${BUSCTL_ARGS_FILE}\"\necho \"u 9\"\n"
	require.NoError(t, os.WriteFile(filepath.Join(stubDir, "busctl"), []byte(stub), 0o755))
	t.Setenv("PATH", stubDir+":"+os.Getenv("PATH"))

	owner := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}, Build: fakeBuild}
	ownerDone := make(chan int, 1)
	go func() {
		ownerDone <- owner.Execute(context.Background(), []string{"--config", paths.configPath, "toggle"})
	}()

	require.Eventually(t, func() bool {
		resp, handled, err := tryForward(context.Background(), paths.socketPath(), "status")
		return handled && err == nil && resp.Stage == "capturing"
	}, 3*time.Second, 10*time.Millisecond)

	stopper := Runner{Stdout: &bytes.Buffer{}, Stderr: &bytes.Buffer{}}
	require.Equal(t, 0, stopper.Execute(context.Background(), []string{"--config", paths.configPath, "stop"}))

	select {
	case code := <-ownerDone:
		require.Equal(t, 0, code)
	case <-time.After(5 * time.Second):
		t.Fatal("owner did not finish")
	}

	data, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	calls := string(data)
	require.Contains(t, calls, "Recording…")
	require.Contains(t, calls, "Note saved")
	require.Contains(t, calls, "voxnote 9 ")
}

func TestRunnerHistoryCommands(t *testing.T) {
	paths := setupRunnerEnv(t)

	store, err := history.Open(paths.historyPath)
	require.NoError(t, err)
	started := time.Date(2026, 2, 1, 8, 0, 0, 0, time.UTC)
	require.NoError(t, store.Archive(context.Background(), session.Result{
		SessionID:  "5d1e7a8b-0000-4000-8000-000000000000",
		Stage:      fsm.StageCompleted,
		Transcript: "call the plumber",
		Artifacts:  &session.OutputArtifacts{AudioPath: "/n/a.wav", TranscriptPath: "/n/a.txt"},
		StartedAt:  started,
		FinishedAt: started.Add(3 * time.Second),
	}))
	require.NoError(t, store.Close())

	run := func(args ...string) (int, string, string) {
		var stdout, stderr bytes.Buffer
		runner := Runner{Stdout: &stdout, Stderr: &stderr}
		code := runner.Execute(context.Background(), append([]string{"--config", paths.configPath}, args...))
		return code, stdout.String(), stderr.String()
	}

	code, out, _ := run("history")
	require.Equal(t, 0, code)
	require.Contains(t, out, "5d1e7a8b")
	require.Contains(t, out, "call the plumber")

	code, out, _ = run("history", "5d1e")
	require.Equal(t, 0, code)
	require.Contains(t, out, "transcript: /n/a.txt")
	require.Contains(t, out, "call the plumber")

	code, out, _ = run("history", "-s", "electrician")
	require.Equal(t, 0, code)
	require.Equal(t, "no notes found\n", out)

	code, _, errOut := run("history", "ffff")
	require.Equal(t, 1, code)
	require.Contains(t, errOut, `no session "ffff"`)
}

func TestRunnerHistoryDisabled(t *testing.T) {
	paths := setupRunnerEnv(t)
	require.NoError(t, os.WriteFile(paths.configPath, []byte(`{"history": {"enable": false}}`), 0o600))

	for _, cmd := range []string{"history", "mcp"} {
		var stderr bytes.Buffer
		runner := Runner{Stdout: &bytes.Buffer{}, Stderr: &stderr}
		require.Equal(t, 1, runner.Execute(context.Background(), []string{"--config", paths.configPath, cmd}), cmd)
		require.Contains(t, stderr.String(), "history is disabled", cmd)
	}
}

func TestRunnerMCPServesUntilStdinCloses(t *testing.T) {
	paths := setupRunnerEnv(t)

	var stdout bytes.Buffer
	runner := Runner{
		Stdin:  strings.NewReader(`{"jsonrpc":"2.0","id":1,"method":"ping"}` + "\n"),
		Stdout: &stdout,
		Stderr: &bytes.Buffer{},
	}
	require.Equal(t, 0, runner.Execute(context.Background(), []string{"--config", paths.configPath, "mcp"}))
	require.Contains(t, stdout.String(), `"id":1`)
}

func TestSessionConfigFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.Storage.Destination = config.DestinationExternal
	cfg.Storage.ExternalDir = "/mnt/usb/notes"
	cfg.Convert.NoiseReduction = false
	cfg.ASR.Model = "small.en"
	cfg.ASR.Language = "de"
	cfg.ASR.Translate = true

	got := sessionConfig(cfg)
	require.Equal(t, session.Destination{Kind: session.DestinationExternal, Dir: "/mnt/usb/notes"}, got.Destination)
	require.Equal(t, 16000, got.Convert.SampleRate)
	require.False(t, got.Convert.NoiseReduction)
	require.Equal(t, session.TranscribeOptions{Model: "small.en", Language: "en"}, got.Transcribe)
	require.Equal(t, "hi.\n", got.Render(session.Transcription{Text: " hi. "}))
}

func TestNewEngineSelectsBackend(t *testing.T) {
	cfg := config.Default()

	engine, err := newEngine(cfg, slog.New(slog.DiscardHandler))
	require.NoError(t, err)
	require.IsType(t, &whisper.Engine{}, engine)

	cfg.ASR.Backend = config.BackendGRPC
	engine, err = newEngine(cfg, nil)
	require.NoError(t, err)
	require.IsType(t, &inference.Engine{}, engine)

	cfg.Inference.Endpoint = " "
	_, err = newEngine(cfg, nil)
	require.ErrorContains(t, err, "inference endpoint is empty")

	cfg.ASR.Backend = "cloud"
	_, err = newEngine(cfg, nil)
	require.ErrorContains(t, err, "unsupported asr backend")
}

func TestRenderDevicesMarksDefault(t *testing.T) {
	out := renderDevices([]audio.Device{
		{ID: "alsa_input.usb", Description: "USB Mic", State: "idle", Available: true, Default: true},
		{ID: "alsa_input.pci", Description: "Built-in", State: "suspended", Muted: true},
	})
	require.Contains(t, out, "alsa_input.usb")
	require.Contains(t, out, "USB Mic")
	require.Contains(t, out, "*")
	require.Contains(t, out, "suspended")
}

func TestFormatResponse(t *testing.T) {
	require.Equal(t, "idle", formatResponse(ipc.Response{Message: "idle"}))
	one := 1.0
	require.Equal(t, "completed  100%  saved", formatResponse(ipc.Response{Stage: "completed", Fraction: &one, Message: "saved"}))
}

func TestSocketErrorHelpers(t *testing.T) {
	require.False(t, isSocketMissing(nil))
	require.False(t, isConnectionRefused(nil))

	require.True(t, isSocketMissing(os.ErrNotExist))
	require.True(t, isSocketMissing(errors.New("dial unix /tmp/voxnote.sock: no such file or directory")))
	require.False(t, isSocketMissing(errors.New("other error")))

	require.True(t, isConnectionRefused(syscall.ECONNREFUSED))
	require.False(t, isConnectionRefused(errors.New("other error")))
}

func TestLogSessionResultWritesFailureAndSuccess(t *testing.T) {
	var logBuf bytes.Buffer
	logger := slog.New(slog.NewJSONHandler(&logBuf, nil))

	started := time.Now()
	finished := started.Add(1500 * time.Millisecond)

	logSessionResult(logger, session.Result{
		SessionID:  "s1",
		Stage:      fsm.StageCompleted,
		StartedAt:  started,
		FinishedAt: finished,
		Device:     "Mic",
		Transcript: "hello",
		Artifacts:  &session.OutputArtifacts{AudioPath: "/n/a.wav", TranscriptPath: "/n/a.txt"},
	})

	require.Contains(t, logBuf.String(), "session complete")
	require.Contains(t, logBuf.String(), "\"transcript_length\":5")
	require.Contains(t, logBuf.String(), "\"duration_ms\":1500")
	require.Contains(t, logBuf.String(), "/n/a.txt")

	logBuf.Reset()
	logSessionResult(logger, session.Result{
		Stage:      fsm.StageFailed,
		StartedAt:  started,
		FinishedAt: finished,
		Err:        &session.StageError{Stage: fsm.StageTranscribing, Kind: session.KindTranscription, Err: errors.New("boom")},
	})
	require.Contains(t, logBuf.String(), "session failed")
	require.Contains(t, logBuf.String(), "boom")
	require.Contains(t, logBuf.String(), "transcription_error")
}

type runnerPaths struct {
	configPath  string
	runtimeDir  string
	notesDir    string
	historyPath string
}

func (p runnerPaths) socketPath() string {
	return filepath.Join(p.runtimeDir, "voxnote.sock")
}

func setupRunnerEnv(t *testing.T) runnerPaths {
	t.Helper()
	return setupRunnerEnvWithIndicator(t, `{"enable": false, "sound_enable": false}`)
}

func setupRunnerEnvWithIndicator(t *testing.T, indicatorJSON string) runnerPaths {
	t.Helper()

	root := t.TempDir()
	runtimeDir := t.TempDir()
	t.Setenv("XDG_STATE_HOME", filepath.Join(root, "state"))
	t.Setenv("XDG_RUNTIME_DIR", runtimeDir)

	paths := runnerPaths{
		configPath:  filepath.Join(root, "config.jsonc"),
		runtimeDir:  runtimeDir,
		notesDir:    filepath.Join(root, "notes"),
		historyPath: filepath.Join(root, "state", "history.sqlite"),
	}

	content := fmt.Sprintf(`{
  // isolated test paths
  "storage": {"private_dir": %q, "work_dir": %q},
  "history": {"path": %q},
  "transcript": {"capitalize_sentences": true},
  "indicator": %s,
}
`, paths.notesDir, filepath.Join(root, "work"), paths.historyPath, indicatorJSON)
	require.NoError(t, os.WriteFile(paths.configPath, []byte(content), 0o600))

	return paths
}

func startIPCServerForRunnerTest(t *testing.T, socketPath string, handler func(context.Context, ipc.Request) ipc.Response) func() {
	t.Helper()

	listener, err := net.Listen("unix", socketPath)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() {
		done <- ipc.Serve(ctx, listener, ipc.HandlerFunc(handler))
	}()

	return func() {
		cancel()
		require.NoError(t, <-done)
	}
}
