package audio

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
	pulseproto "github.com/jfreymuth/pulse/proto"
	"github.com/rbright/voxnote/internal/session"
)

// DefaultSampleRate is the capture rate before normalization.
const DefaultSampleRate = 48000

// Recorder is a session.CaptureDevice backed by a PulseAudio source.
type Recorder struct {
	input      string
	fallback   string
	sampleRate int
	logger     *slog.Logger

	mu       sync.Mutex
	selected *Selection
}

// NewRecorder builds a recorder for the configured source preferences.
func NewRecorder(input, fallback string, sampleRate int, logger *slog.Logger) *Recorder {
	if sampleRate <= 0 {
		sampleRate = DefaultSampleRate
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Recorder{input: input, fallback: fallback, sampleRate: sampleRate, logger: logger}
}

// RequestPermission resolves a usable source. A muted or unavailable
// microphone is a denial; an unreachable sound server is an error.
func (r *Recorder) RequestPermission(ctx context.Context) (bool, error) {
	selection, err := SelectDevice(ctx, r.input, r.fallback)
	if err != nil {
		if errors.Is(err, ErrNoUsableSource) {
			r.logger.Warn("audio source denied", "error", err.Error())
			return false, nil
		}
		return false, err
	}
	if selection.Warning != "" {
		r.logger.Warn(selection.Warning)
	}

	r.mu.Lock()
	r.selected = &selection
	r.mu.Unlock()
	return true, nil
}

// Selected returns the source chosen by the last RequestPermission.
func (r *Recorder) Selected() (Selection, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.selected == nil {
		return Selection{}, false
	}
	return *r.selected, true
}

// Start opens a record stream on the selected source writing into path.
func (r *Recorder) Start(ctx context.Context, path string) (session.CaptureHandle, error) {
	selection, ok := r.Selected()
	if !ok {
		return nil, errors.New("no audio source selected")
	}

	out, err := createWAV(path, r.sampleRate, 1)
	if err != nil {
		return nil, err
	}

	rec := &recording{path: path, device: selection.Device, out: out}
	if err := rec.open(r.sampleRate); err != nil {
		_ = out.Close()
		_ = os.Remove(path)
		return nil, err
	}

	context.AfterFunc(ctx, func() { _ = rec.close() })
	r.logger.Info("capture started", "device", selection.Device.ID, "path", path, "sample_rate", r.sampleRate)
	return rec, nil
}

// Stop finalizes the recording and returns its raw audio reference.
func (r *Recorder) Stop(_ context.Context, handle session.CaptureHandle) (session.RawAudio, error) {
	rec, ok := handle.(*recording)
	if !ok {
		return session.RawAudio{}, fmt.Errorf("foreign capture handle %T", handle)
	}
	if err := rec.close(); err != nil {
		return session.RawAudio{}, err
	}

	raw := session.RawAudio{
		Path:     rec.path,
		Device:   rec.device.Description,
		Bytes:    rec.out.dataBytes,
		Duration: time.Duration(rec.out.duration() * float64(time.Second)),
	}
	if raw.Device == "" {
		raw.Device = rec.device.ID
	}
	r.logger.Info("capture stopped", "device", rec.device.ID, "bytes", raw.Bytes, "duration_ms", raw.Duration.Milliseconds())
	return raw, nil
}

// recording is one open Pulse record stream feeding a WAV file.
type recording struct {
	path   string
	device Device
	out    *wavFile

	client *pulse.Client
	stream *pulse.RecordStream

	mu       sync.Mutex
	closed   bool
	closeErr error
	writeErr error
}

func (c *recording) Path() string { return c.path }

func (c *recording) open(sampleRate int) error {
	client, err := newClient()
	if err != nil {
		return err
	}
	source, err := client.SourceByID(c.device.ID)
	if err != nil {
		client.Close()
		return fmt.Errorf("resolve source %q: %w", c.device.ID, err)
	}

	writer := pulse.NewWriter(writerFunc(c.onPCM), pulseproto.FormatInt16LE)
	stream, err := client.NewRecord(
		writer,
		pulse.RecordSource(source),
		pulse.RecordMono,
		pulse.RecordSampleRate(sampleRate),
		pulse.RecordMediaName("voxnote voice note"),
	)
	if err != nil {
		client.Close()
		return fmt.Errorf("create pulse record stream: %w", err)
	}

	c.client = client
	c.stream = stream
	stream.Start()
	return nil
}

// close stops the stream and finalizes the file exactly once.
func (c *recording) close() error {
	c.mu.Lock()
	if c.closed {
		err := c.closeErr
		c.mu.Unlock()
		return err
	}
	c.closed = true
	c.mu.Unlock()

	if c.stream != nil {
		c.stream.Stop()
		c.stream.Close()
	}
	if c.client != nil {
		c.client.Close()
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	err := c.out.Close()
	if c.writeErr != nil {
		err = errors.Join(fmt.Errorf("write capture: %w", c.writeErr), err)
	}
	c.closeErr = err
	return err
}

// onPCM appends raw Pulse frames to the capture file.
func (c *recording) onPCM(buffer []byte) (int, error) {
	if len(buffer) == 0 {
		return 0, nil
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.writeErr != nil {
		return 0, io.EOF
	}
	if _, err := c.out.Write(buffer); err != nil {
		c.writeErr = err
		return 0, io.EOF
	}
	return len(buffer), nil
}

// writerFunc adapts a function to io.Writer for pulse.NewWriter.
type writerFunc func([]byte) (int, error)

func (f writerFunc) Write(b []byte) (int, error) {
	return f(b)
}
