package inference

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"
	"time"

	"google.golang.org/grpc"

	"github.com/rbright/voxnote/internal/session"
)

const (
	defaultDialTimeout = 3 * time.Second
	defaultChunkBytes  = 32 * 1024
)

// Config configures the sidecar connection.
type Config struct {
	Endpoint    string
	DialTimeout time.Duration
	// ChunkBytes bounds the size of each audio message.
	ChunkBytes int
	// DialOptions are appended after the default insecure credentials.
	DialOptions []grpc.DialOption
}

func (c Config) withDefaults() (Config, error) {
	c.Endpoint = strings.TrimSpace(c.Endpoint)
	if c.Endpoint == "" {
		return c, errors.New("inference endpoint is empty")
	}
	if c.DialTimeout <= 0 {
		c.DialTimeout = defaultDialTimeout
	}
	if c.ChunkBytes <= 0 {
		c.ChunkBytes = defaultChunkBytes
	}
	return c, nil
}

// Engine is a session.TranscriptionEngine backed by the gRPC sidecar.
type Engine struct {
	cfg    Config
	logger *slog.Logger
}

// New validates cfg and returns an engine. logger may be nil.
func New(cfg Config, logger *slog.Logger) (*Engine, error) {
	cfg, err := cfg.withDefaults()
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Engine{cfg: cfg, logger: logger}, nil
}

// Transcribe uploads the normalized audio and relays sidecar progress until
// the stream ends.
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
	started := time.Now()
	conn, err := dial(ctx, e.cfg)
	if err != nil {
		return nil, err
	}
	defer func() { _ = conn.Close() }()

	streamCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	cs, err := conn.NewStream(streamCtx, &transcriberDesc.Streams[0], transcribeMethod)
	if err != nil {
		return nil, fmt.Errorf("open transcribe stream: %w", err)
	}
	stream := &grpc.GenericClientStream[Message, Message]{ClientStream: cs}

	configMsg, err := ConfigMessage(StreamConfig{
		Model:      opts.Model,
		Language:   opts.Language,
		Translate:  opts.Translate,
		SampleRate: audio.SampleRate,
		Channels:   audio.Channels,
		Format:     "wav",
	})
	if err != nil {
		return nil, fmt.Errorf("build stream config: %w", err)
	}
	if err := stream.Send(configMsg); err != nil {
		return nil, fmt.Errorf("send stream config: %w", err)
	}

	sendErr := make(chan error, 1)
	go func() {
		sendErr <- e.sendAudio(stream, audio.Path)
	}()

	var segments segmentLog
	language := ""
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("receive transcription: %w", err)
		}

		resp, err := decodeResponse(msg)
		if err != nil {
			return nil, err
		}
		switch resp.kind {
		case responseProgress:
			if !onProgress(resp.percent) {
				return nil, ctx.Err()
			}
		case responseSegment:
			segments.record(resp.segment, resp.final)
		case responseDone:
			language = resp.language
		}
	}

	if err := <-sendErr; err != nil {
		return nil, fmt.Errorf("send audio: %w", err)
	}

	collected := segments.collect()
	if language == "" {
		language = opts.Language
	}
	e.logger.Debug("inference transcription finished",
		"endpoint", e.cfg.Endpoint,
		"segments", len(collected),
		"elapsed_ms", time.Since(started).Milliseconds(),
	)
	return &session.Transcription{
		Text:     joinSegments(collected),
		Language: language,
		Segments: collected,
	}, nil
}

// sendAudio streams the file in chunks and half-closes the stream.
func (e *Engine) sendAudio(stream grpc.BidiStreamingClient[Message, Message], path string) error {
	f, err := os.Open(path)
	if err != nil {
		_ = stream.CloseSend()
		return err
	}
	defer f.Close()

	buf := make([]byte, e.cfg.ChunkBytes)
	for {
		n, readErr := f.Read(buf)
		if n > 0 {
			if err := stream.Send(AudioMessage(buf[:n])); err != nil {
				// The server ended the stream; Recv reports why.
				if errors.Is(err, io.EOF) {
					return nil
				}
				return err
			}
		}
		if errors.Is(readErr, io.EOF) {
			break
		}
		if readErr != nil {
			_ = stream.CloseSend()
			return readErr
		}
	}
	return stream.CloseSend()
}

var _ session.TranscriptionEngine = (*Engine)(nil)
