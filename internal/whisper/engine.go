// Package whisper runs a local whisper.cpp CLI as a session.TranscriptionEngine.
package whisper

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/rbright/voxnote/internal/session"
)

var progressLine = regexp.MustCompile(`progress\s*=\s*(\d+(?:\.\d+)?)%`)

// Config configures the whisper.cpp CLI engine.
type Config struct {
	Binary   string
	ModelDir string
	Threads  int
}

// Engine shells out to whisper.cpp with progress printing and JSON output.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New returns an engine; an empty binary means "whisper-cli" on PATH.
func New(cfg Config, logger *slog.Logger) *Engine {
	if strings.TrimSpace(cfg.Binary) == "" {
		cfg.Binary = "whisper-cli"
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{cfg: cfg, logger: logger}
}

// Transcribe streams percentages parsed from whisper's progress output and
// finishes with the parsed JSON transcript.
func (e *Engine) Transcribe(ctx context.Context, audio session.NormalizedAudio, opts session.TranscribeOptions) <-chan session.TranscriptionUpdate {
	updates := make(chan session.TranscriptionUpdate)
	go func() {
		defer close(updates)
		send := func(u session.TranscriptionUpdate) bool {
			select {
			case updates <- u:
				return true
			case <-ctx.Done():
				return false
			}
		}

		result, err := e.run(ctx, audio, opts, func(percent float64) bool {
			return send(session.TranscriptionUpdate{Percent: percent})
		})
		if err != nil {
			send(session.TranscriptionUpdate{Err: err})
			return
		}
		send(session.TranscriptionUpdate{Result: result})
	}()
	return updates
}

func (e *Engine) run(
	ctx context.Context,
	audio session.NormalizedAudio,
	opts session.TranscribeOptions,
	onProgress func(float64) bool,
) (*session.Transcription, error) {
	model, err := ResolveModel(e.cfg.ModelDir, opts.Model)
	if err != nil {
		return nil, err
	}

	outDir, err := os.MkdirTemp("", "voxnote-whisper-*")
	if err != nil {
		return nil, fmt.Errorf("create whisper output dir: %w", err)
	}
	defer os.RemoveAll(outDir)
	outBase := filepath.Join(outDir, "transcript")

	args := BuildArgs(model, audio.Path, outBase, opts, e.cfg.Threads)
	cmd := exec.CommandContext(ctx, e.cfg.Binary, args...)
	cmd.SysProcAttr = &syscall.SysProcAttr{Setpgid: true}
	cmd.Cancel = func() error {
		return syscall.Kill(-cmd.Process.Pid, syscall.SIGKILL)
	}
	cmd.WaitDelay = 2 * time.Second

	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("open whisper stderr: %w", err)
	}

	started := time.Now()
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("start %s: %w", e.cfg.Binary, err)
	}

	lastLine := scanProgress(stderr, onProgress)
	waitErr := cmd.Wait()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	if waitErr != nil {
		if lastLine != "" {
			return nil, fmt.Errorf("%s: %w: %s", e.cfg.Binary, waitErr, lastLine)
		}
		return nil, fmt.Errorf("%s: %w", e.cfg.Binary, waitErr)
	}

	data, err := os.ReadFile(outBase + ".json")
	if err != nil {
		return nil, fmt.Errorf("read whisper output: %w", err)
	}
	result, err := ParseOutput(data)
	if err != nil {
		return nil, err
	}

	e.logger.Info("transcription finished",
		"model", filepath.Base(model),
		"language", result.Language,
		"segments", len(result.Segments),
		"duration_ms", time.Since(started).Milliseconds(),
	)
	return result, nil
}

// scanProgress forwards every progress percentage and returns the last
// non-progress line for error context. It drains r even after onProgress
// reports false.
func scanProgress(r io.Reader, onProgress func(float64) bool) string {
	var last string
	forward := true

	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Text()
		if m := progressLine.FindStringSubmatch(line); m != nil {
			percent, err := strconv.ParseFloat(m[1], 64)
			if err == nil && forward {
				forward = onProgress(percent)
			}
			continue
		}
		if trimmed := strings.TrimSpace(line); trimmed != "" {
			last = trimmed
		}
	}
	_, _ = io.Copy(io.Discard, r)
	return last
}

// BuildArgs maps options to a whisper.cpp argv.
func BuildArgs(model, audioPath, outBase string, opts session.TranscribeOptions, threads int) []string {
	lang := opts.Language
	if lang == "" {
		lang = session.LanguageAuto
	}

	args := []string{
		"-m", model,
		"-f", audioPath,
		"-l", lang,
		"-pp",
		"-oj",
		"-of", outBase,
	}
	if opts.Translate {
		args = append(args, "-tr")
	}
	if threads > 0 {
		args = append(args, "-t", strconv.Itoa(threads))
	}
	return args
}

// ResolveModel maps a model name such as "small.en" to a ggml file in dir.
// Paths and *.bin names are used as given.
func ResolveModel(dir, model string) (string, error) {
	model = strings.TrimSpace(model)
	if model == "" {
		return "", errors.New("whisper model is not configured")
	}

	var path string
	switch {
	case strings.ContainsRune(model, filepath.Separator):
		path = model
	case strings.HasSuffix(model, ".bin"):
		path = filepath.Join(dir, model)
	default:
		path = filepath.Join(dir, "ggml-"+model+".bin")
	}

	if _, err := os.Stat(path); err != nil {
		return "", fmt.Errorf("whisper model %q: %w", model, err)
	}
	return path, nil
}

type outputJSON struct {
	Result struct {
		Language string `json:"language"`
	} `json:"result"`
	Transcription []struct {
		Offsets struct {
			From int64 `json:"from"`
			To   int64 `json:"to"`
		} `json:"offsets"`
		Text string `json:"text"`
	} `json:"transcription"`
}

// ParseOutput decodes whisper.cpp's -oj document.
func ParseOutput(data []byte) (*session.Transcription, error) {
	var doc outputJSON
	dec := json.NewDecoder(bytes.NewReader(data))
	if err := dec.Decode(&doc); err != nil {
		return nil, fmt.Errorf("decode whisper output: %w", err)
	}

	result := &session.Transcription{Language: doc.Result.Language}
	texts := make([]string, 0, len(doc.Transcription))
	for _, seg := range doc.Transcription {
		text := strings.TrimSpace(seg.Text)
		if text == "" || isNonSpeechMarker(text) {
			continue
		}
		result.Segments = append(result.Segments, session.Segment{
			Start: time.Duration(seg.Offsets.From) * time.Millisecond,
			End:   time.Duration(seg.Offsets.To) * time.Millisecond,
			Text:  text,
		})
		texts = append(texts, text)
	}
	result.Text = strings.Join(texts, " ")
	return result, nil
}

// isNonSpeechMarker matches whisper annotations like "[BLANK_AUDIO]" or "(silence)".
func isNonSpeechMarker(text string) bool {
	return (strings.HasPrefix(text, "[") && strings.HasSuffix(text, "]")) ||
		(strings.HasPrefix(text, "(") && strings.HasSuffix(text, ")"))
}
