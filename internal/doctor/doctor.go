// Package doctor runs readiness diagnostics for config, tools, audio, and storage.
package doctor

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"os/exec"
	"strings"
	"time"

	"github.com/rbright/voxnote/internal/audio"
	"github.com/rbright/voxnote/internal/config"
	"github.com/rbright/voxnote/internal/history"
	"github.com/rbright/voxnote/internal/inference"
	"github.com/rbright/voxnote/internal/whisper"
)

// Check is one doctor assertion result.
type Check struct {
	Name    string
	Pass    bool
	Message string
}

// Report is the full doctor output contract.
type Report struct {
	Checks []Check
}

// OK returns true when all checks pass.
func (r Report) OK() bool {
	for _, check := range r.Checks {
		if !check.Pass {
			return false
		}
	}
	return true
}

// String renders the report as user-facing text output.
func (r Report) String() string {
	var b strings.Builder
	for _, check := range r.Checks {
		status := "OK"
		if !check.Pass {
			status = "FAIL"
		}
		fmt.Fprintf(&b, "[%s] %s: %s\n", status, check.Name, check.Message)
	}
	return strings.TrimSuffix(b.String(), "\n")
}

// Probes are the live environment lookups doctor performs.
type Probes struct {
	SelectDevice   func(ctx context.Context, input, fallback string) (audio.Selection, error)
	ProbeInference func(context.Context, inference.Config) error
}

// DefaultProbes talks to PulseAudio and the configured sidecar.
func DefaultProbes() Probes {
	return Probes{
		SelectDevice:   audio.SelectDevice,
		ProbeInference: inference.Probe,
	}
}

// Run executes environment/config/runtime checks for a loaded config.
func Run(ctx context.Context, loaded config.Loaded, probes Probes) Report {
	cfg := loaded.Config
	checks := []Check{configCheck(loaded)}

	checks = append(checks, checkBinary("convert.ffmpeg", cfg.Convert.FFmpeg))

	switch cfg.ASR.Backend {
	case config.BackendWhisper:
		checks = append(checks,
			checkBinary("whisper.binary", cfg.Whisper.Binary),
			checkWhisperModel(cfg),
		)
	case config.BackendGRPC:
		checks = append(checks, checkInference(ctx, cfg, probes.ProbeInference))
	}

	if cfg.Clipboard.Enable {
		checks = append(checks, checkCommand("clipboard.cmd", cfg.Clipboard.Cmd.Argv))
	}

	checks = append(checks,
		checkAudioSelection(ctx, cfg, probes.SelectDevice),
		checkStorage(cfg.Storage),
		checkWritableDir("storage.work_dir", cfg.Storage.WorkDir, true),
	)
	if cfg.History.Enable {
		checks = append(checks, checkHistory(cfg.History.Path))
	}

	return Report{Checks: checks}
}

func configCheck(loaded config.Loaded) Check {
	message := fmt.Sprintf("loaded %q", loaded.Path)
	if !loaded.Exists {
		message = fmt.Sprintf("%q not found; using defaults", loaded.Path)
	}
	for _, w := range loaded.Warnings {
		if strings.Contains(w.Message, "not found") {
			continue
		}
		message += "; warning: " + w.Message
	}
	return Check{Name: "config", Pass: true, Message: message}
}

// checkCommand validates that argv contains a runnable command.
func checkCommand(name string, argv []string) Check {
	if len(argv) == 0 {
		return Check{Name: name, Pass: false, Message: "command is empty"}
	}
	return checkBinary(name, argv[0])
}

// checkBinary validates that bin is an executable path or on PATH.
func checkBinary(name, bin string) Check {
	path, err := exec.LookPath(bin)
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("binary not found: %s", bin)}
	}
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("found at %s", path)}
}

func checkWhisperModel(cfg config.Config) Check {
	path, err := whisper.ResolveModel(cfg.Whisper.ModelDir, cfg.ASR.Model)
	if err != nil {
		return Check{Name: "whisper.model", Pass: false, Message: err.Error()}
	}
	return Check{Name: "whisper.model", Pass: true, Message: path}
}

func checkInference(ctx context.Context, cfg config.Config, probe func(context.Context, inference.Config) error) Check {
	ctx, cancel := context.WithTimeout(ctx, cfg.Inference.DialTimeout()+2*time.Second)
	defer cancel()

	err := probe(ctx, inference.Config{
		Endpoint:    cfg.Inference.Endpoint,
		DialTimeout: cfg.Inference.DialTimeout(),
	})
	if err != nil {
		return Check{Name: "inference.ready", Pass: false, Message: err.Error()}
	}
	return Check{Name: "inference.ready", Pass: true, Message: fmt.Sprintf("serving at %s", cfg.Inference.Endpoint)}
}

// checkAudioSelection runs live device selection to surface selection/fallback issues.
func checkAudioSelection(
	ctx context.Context,
	cfg config.Config,
	selectDevice func(context.Context, string, string) (audio.Selection, error),
) Check {
	selection, err := selectDevice(ctx, cfg.Audio.Input, cfg.Audio.Fallback)
	if err != nil {
		return Check{Name: "audio.device", Pass: false, Message: err.Error()}
	}
	message := fmt.Sprintf("selected %q", selection.Device.ID)
	if selection.Warning != "" {
		message = message + " (" + selection.Warning + ")"
	}
	return Check{Name: "audio.device", Pass: true, Message: message}
}

func checkStorage(cfg config.StorageConfig) Check {
	if cfg.Destination == config.DestinationExternal {
		return checkWritableDir("storage.external_dir", cfg.ExternalDir, false)
	}
	return checkWritableDir("storage.private_dir", cfg.PrivateDir, true)
}

// checkWritableDir creates and removes a probe file in dir. External
// directories are never created.
func checkWritableDir(name, dir string, create bool) Check {
	if create {
		if err := os.MkdirAll(dir, 0o700); err != nil {
			return Check{Name: name, Pass: false, Message: err.Error()}
		}
	} else if info, err := os.Stat(dir); err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s does not exist", dir)}
		}
		return Check{Name: name, Pass: false, Message: err.Error()}
	} else if !info.IsDir() {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not a directory", dir)}
	}

	probe, err := os.CreateTemp(dir, ".voxnote-doctor-*")
	if err != nil {
		return Check{Name: name, Pass: false, Message: fmt.Sprintf("%s is not writable: %v", dir, err)}
	}
	_ = probe.Close()
	_ = os.Remove(probe.Name())
	return Check{Name: name, Pass: true, Message: fmt.Sprintf("%s is writable", dir)}
}

func checkHistory(path string) Check {
	store, err := history.Open(path)
	if err != nil {
		return Check{Name: "history", Pass: false, Message: err.Error()}
	}
	_ = store.Close()
	return Check{Name: "history", Pass: true, Message: path}
}
