// Package convert normalizes captured audio with ffmpeg.
package convert

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/voxnote/internal/session"
)

const (
	// noiseFilter is ffmpeg's FFT denoiser with a -25 dB noise floor.
	noiseFilter  = "afftdn=nf=-25"
	stderrLimit  = 4096
	killWaitTime = 2 * time.Second
)

// FFmpeg is a session.FormatConverter backed by an ffmpeg binary.
type FFmpeg struct {
	binary string
	logger *slog.Logger
}

// New returns a converter invoking binary ("ffmpeg" when empty).
func New(binary string, logger *slog.Logger) *FFmpeg {
	if strings.TrimSpace(binary) == "" {
		binary = "ffmpeg"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &FFmpeg{binary: binary, logger: logger}
}

// Convert writes 16-bit PCM WAV next to the raw capture. An interrupted
// ffmpeg yields an error wrapping session.ErrCancelled.
func (f *FFmpeg) Convert(ctx context.Context, raw session.RawAudio, opts session.ConvertOptions) (session.NormalizedAudio, error) {
	if strings.TrimSpace(raw.Path) == "" {
		return session.NormalizedAudio{}, errors.New("raw audio path is required")
	}
	if _, err := os.Stat(raw.Path); err != nil {
		return session.NormalizedAudio{}, fmt.Errorf("read raw audio: %w", err)
	}
	if opts.SampleRate <= 0 || opts.Channels <= 0 {
		defaults := session.DefaultConvertOptions()
		opts.SampleRate, opts.Channels = defaults.SampleRate, defaults.Channels
	}

	out := OutputPath(raw.Path)
	args := BuildArgs(raw.Path, out, opts)

	started := time.Now()
	cmd := exec.CommandContext(ctx, f.binary, args...)
	cmd.WaitDelay = killWaitTime
	var stderr bytes.Buffer
	cmd.Stderr = &limitedWriter{buf: &stderr, limit: stderrLimit}

	err := cmd.Run()
	if err != nil {
		_ = os.Remove(out)
		if ctx.Err() != nil || killedBySignal(err) {
			return session.NormalizedAudio{}, fmt.Errorf("ffmpeg interrupted: %w", errors.Join(session.ErrCancelled, err))
		}
		return session.NormalizedAudio{}, fmt.Errorf("%s %s: %w%s", f.binary, strings.Join(args, " "), err, stderrSuffix(stderr.String()))
	}

	info, err := os.Stat(out)
	if err != nil {
		return session.NormalizedAudio{}, fmt.Errorf("ffmpeg completed but output is missing: %w", err)
	}
	if info.Size() == 0 {
		_ = os.Remove(out)
		return session.NormalizedAudio{}, errors.New("ffmpeg produced an empty file")
	}

	f.logger.Info("audio converted",
		"input", raw.Path,
		"output", out,
		"sample_rate", opts.SampleRate,
		"channels", opts.Channels,
		"noise_reduction", opts.NoiseReduction,
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return session.NormalizedAudio{Path: out, SampleRate: opts.SampleRate, Channels: opts.Channels}, nil
}

// BuildArgs maps options to an ffmpeg argv.
func BuildArgs(in, out string, opts session.ConvertOptions) []string {
	args := []string{
		"-hide_banner",
		"-nostdin",
		"-loglevel", "error",
		"-y",
		"-i", in,
		"-vn",
		"-ac", strconv.Itoa(opts.Channels),
		"-ar", strconv.Itoa(opts.SampleRate),
	}
	if opts.NoiseReduction {
		args = append(args, "-af", noiseFilter)
	}
	return append(args, "-c:a", "pcm_s16le", out)
}

// OutputPath derives the normalized file name from the capture file name:
// "x.capture.wav" becomes "x.wav".
func OutputPath(in string) string {
	dir, base := filepath.Split(in)
	stem := strings.TrimSuffix(base, filepath.Ext(base))
	stem = strings.TrimSuffix(stem, ".capture")
	out := filepath.Join(dir, stem+".wav")
	if out == in {
		out = filepath.Join(dir, stem+".norm.wav")
	}
	return out
}

func killedBySignal(err error) bool {
	var exitErr *exec.ExitError
	if !errors.As(err, &exitErr) {
		return false
	}
	status, ok := exitErr.Sys().(syscall.WaitStatus)
	if !ok || !status.Signaled() {
		return false
	}
	switch status.Signal() {
	case syscall.SIGINT, syscall.SIGTERM, syscall.SIGKILL:
		return true
	default:
		return false
	}
}

func stderrSuffix(stderr string) string {
	stderr = strings.TrimSpace(stderr)
	if stderr == "" {
		return ""
	}
	lines := strings.Split(stderr, "\n")
	return ": " + strings.TrimSpace(lines[len(lines)-1])
}

// limitedWriter keeps the first limit bytes and discards the rest.
type limitedWriter struct {
	buf   *bytes.Buffer
	limit int
}

func (w *limitedWriter) Write(p []byte) (int, error) {
	if room := w.limit - w.buf.Len(); room > 0 {
		if len(p) > room {
			w.buf.Write(p[:room])
		} else {
			w.buf.Write(p)
		}
	}
	return len(p), nil
}
