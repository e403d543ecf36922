package inference

import (
	"context"
	"errors"
	"io"
	"net"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"

	"github.com/rbright/voxnote/internal/session"
)

type fakeSidecar struct {
	responses []*Message
	err       error
	block     bool

	mu     sync.Mutex
	config *StreamConfig
	audio  []byte
	chunks int
}

func (s *fakeSidecar) Transcribe(stream grpc.BidiStreamingServer[Message, Message]) error {
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		req, err := DecodeRequest(msg)
		if err != nil {
			return status.Error(codes.InvalidArgument, err.Error())
		}

		s.mu.Lock()
		if req.Config != nil {
			s.config = req.Config
		} else {
			s.audio = append(s.audio, req.Audio...)
			s.chunks++
		}
		s.mu.Unlock()
	}

	if s.block {
		<-stream.Context().Done()
		return stream.Context().Err()
	}
	for _, resp := range s.responses {
		if err := stream.Send(resp); err != nil {
			return err
		}
	}
	return s.err
}

func (s *fakeSidecar) received() (*StreamConfig, []byte, int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.config, s.audio, s.chunks
}

func startSidecar(t *testing.T, srv TranscriberServer, serving healthpb.HealthCheckResponse_ServingStatus) Config {
	t.Helper()

	lis := bufconn.Listen(1 << 20)
	server := grpc.NewServer()
	RegisterTranscriberServer(server, srv)

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, serving)
	healthpb.RegisterHealthServer(server, hs)

	go func() {
		_ = server.Serve(lis)
	}()
	t.Cleanup(func() {
		server.Stop()
		_ = lis.Close()
	})

	return Config{
		Endpoint:    "passthrough:///bufnet",
		DialTimeout: 2 * time.Second,
		ChunkBytes:  4,
		DialOptions: []grpc.DialOption{
			grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
				return lis.DialContext(ctx)
			}),
		},
	}
}

func writeAudio(t *testing.T, data string) session.NormalizedAudio {
	t.Helper()
	path := filepath.Join(t.TempDir(), "note.wav")
	require.NoError(t, os.WriteFile(path, []byte(data), 0o600))
	return session.NormalizedAudio{Path: path, SampleRate: 16000, Channels: 1}
}

func collect(t *testing.T, updates <-chan session.TranscriptionUpdate) []session.TranscriptionUpdate {
	t.Helper()

	var out []session.TranscriptionUpdate
	timeout := time.After(5 * time.Second)
	for {
		select {
		case u, ok := <-updates:
			if !ok {
				return out
			}
			out = append(out, u)
		case <-timeout:
			t.Fatal("transcription stream did not close")
		}
	}
}

func TestTranscribeStreamsProgressAndMergesSegments(t *testing.T) {
	sidecar := &fakeSidecar{
		responses: []*Message{
			ProgressMessage(50),
			SegmentMessage(session.Segment{Text: "hello wor"}, false),
			SegmentMessage(session.Segment{Start: 0, End: 1200 * time.Millisecond, Text: "hello world"}, true),
			ProgressMessage(100),
			SegmentMessage(session.Segment{Start: 1500 * time.Millisecond, Text: "  second   phrase "}, false),
			DoneMessage("en"),
		},
	}
	cfg := startSidecar(t, sidecar, healthpb.HealthCheckResponse_SERVING)

	engine, err := New(cfg, nil)
	require.NoError(t, err)

	updates := collect(t, engine.Transcribe(context.Background(), writeAudio(t, "abcdefghij"), session.TranscribeOptions{
		Model:    "small",
		Language: "auto",
	}))
	require.Len(t, updates, 3)
	require.Equal(t, 50.0, updates[0].Percent)
	require.Equal(t, 100.0, updates[1].Percent)

	final := updates[2]
	require.NoError(t, final.Err)
	require.NotNil(t, final.Result)
	require.Equal(t, "hello world second phrase", final.Result.Text)
	require.Equal(t, "en", final.Result.Language)
	require.Len(t, final.Result.Segments, 2)
	require.Equal(t, 1500*time.Millisecond, final.Result.Segments[1].Start)

	config, audio, chunks := sidecar.received()
	require.NotNil(t, config)
	require.Equal(t, "small", config.Model)
	require.Equal(t, "auto", config.Language)
	require.Equal(t, 16000, config.SampleRate)
	require.Equal(t, 1, config.Channels)
	require.Equal(t, "wav", config.Format)
	require.Equal(t, "abcdefghij", string(audio))
	require.Equal(t, 3, chunks)
}

func TestTranscribeFallsBackToRequestedLanguage(t *testing.T) {
	sidecar := &fakeSidecar{responses: []*Message{SegmentMessage(session.Segment{Text: "bonjour"}, true)}}
	engine, err := New(startSidecar(t, sidecar, healthpb.HealthCheckResponse_SERVING), nil)
	require.NoError(t, err)

	updates := collect(t, engine.Transcribe(context.Background(), writeAudio(t, "x"), session.TranscribeOptions{Language: "fr"}))
	require.Len(t, updates, 1)
	require.Equal(t, "fr", updates[0].Result.Language)
}

func TestTranscribeReportsServerError(t *testing.T) {
	sidecar := &fakeSidecar{err: status.Error(codes.Internal, "boom")}
	engine, err := New(startSidecar(t, sidecar, healthpb.HealthCheckResponse_SERVING), nil)
	require.NoError(t, err)

	updates := collect(t, engine.Transcribe(context.Background(), writeAudio(t, "abc"), session.TranscribeOptions{}))
	require.Len(t, updates, 1)
	require.Nil(t, updates[0].Result)
	require.ErrorContains(t, updates[0].Err, "boom")
}

func TestTranscribeMissingAudioFails(t *testing.T) {
	engine, err := New(startSidecar(t, &fakeSidecar{}, healthpb.HealthCheckResponse_SERVING), nil)
	require.NoError(t, err)

	missing := session.NormalizedAudio{Path: filepath.Join(t.TempDir(), "gone.wav")}
	updates := collect(t, engine.Transcribe(context.Background(), missing, session.TranscribeOptions{}))
	require.Len(t, updates, 1)
	require.ErrorIs(t, updates[0].Err, os.ErrNotExist)
}

func TestTranscribeCancelledClosesStream(t *testing.T) {
	engine, err := New(startSidecar(t, &fakeSidecar{block: true}, healthpb.HealthCheckResponse_SERVING), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	updates := engine.Transcribe(ctx, writeAudio(t, "abcdef"), session.TranscribeOptions{})
	time.AfterFunc(100*time.Millisecond, cancel)

	for _, u := range collect(t, updates) {
		require.Nil(t, u.Result)
	}
}

func TestNewRejectsEmptyEndpoint(t *testing.T) {
	_, err := New(Config{Endpoint: "   "}, nil)
	require.ErrorContains(t, err, "endpoint is empty")
}

func TestDialReadinessTimeout(t *testing.T) {
	engine, err := New(Config{Endpoint: "127.0.0.1:1", DialTimeout: 100 * time.Millisecond}, nil)
	require.NoError(t, err)

	updates := collect(t, engine.Transcribe(context.Background(), writeAudio(t, "x"), session.TranscribeOptions{}))
	require.Len(t, updates, 1)
	require.ErrorContains(t, updates[0].Err, "readiness")
}

func TestProbe(t *testing.T) {
	serving := startSidecar(t, &fakeSidecar{}, healthpb.HealthCheckResponse_SERVING)
	require.NoError(t, Probe(context.Background(), serving))

	down := startSidecar(t, &fakeSidecar{}, healthpb.HealthCheckResponse_NOT_SERVING)
	require.ErrorContains(t, Probe(context.Background(), down), "NOT_SERVING")
}

func TestDecodeRequestRejectsUnknownMessage(t *testing.T) {
	_, err := DecodeRequest(ProgressMessage(10))
	require.ErrorContains(t, err, "neither config nor audio")

	_, err = decodeResponse(AudioMessage([]byte{1}))
	require.ErrorContains(t, err, "unrecognized")
}
