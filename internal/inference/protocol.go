// Package inference talks to a local speech-recognition sidecar over gRPC.
//
// The sidecar exposes one bidirectional stream. Messages in both directions
// are google.protobuf.Struct values so the wire contract needs no generated
// code:
//
//	client -> {"config": {...}}, then {"audio": "<base64>"}..., then half-close
//	server -> {"progress": 42.5} | {"segment": {...}} | {"done": {"language": "en"}}
package inference

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/rbright/voxnote/internal/session"
)

// ServiceName is the gRPC service name, also used for health checks.
const ServiceName = "voxnote.inference.v1.Transcriber"

const transcribeMethod = "/" + ServiceName + "/Transcribe"

// Message is the payload type in both stream directions.
type Message = structpb.Struct

// TranscriberServer is implemented by sidecars.
type TranscriberServer interface {
	Transcribe(grpc.BidiStreamingServer[Message, Message]) error
}

var transcriberDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*TranscriberServer)(nil),
	Streams: []grpc.StreamDesc{{
		StreamName:    "Transcribe",
		Handler:       transcribeHandler,
		ServerStreams: true,
		ClientStreams: true,
	}},
	Metadata: "voxnote/inference/v1/transcriber",
}

func transcribeHandler(srv any, stream grpc.ServerStream) error {
	return srv.(TranscriberServer).Transcribe(&grpc.GenericServerStream[Message, Message]{ServerStream: stream})
}

// RegisterTranscriberServer registers srv on s.
func RegisterTranscriberServer(s grpc.ServiceRegistrar, srv TranscriberServer) {
	s.RegisterService(&transcriberDesc, srv)
}

// StreamConfig is the first message of every stream.
type StreamConfig struct {
	Model      string
	Language   string
	Translate  bool
	SampleRate int
	Channels   int
	Format     string
}

// Request is one decoded client message: either Config or Audio is set.
type Request struct {
	Config *StreamConfig
	Audio  []byte
}

// ConfigMessage builds the opening stream message.
func ConfigMessage(cfg StreamConfig) (*Message, error) {
	return structpb.NewStruct(map[string]any{
		"config": map[string]any{
			"model":       cfg.Model,
			"language":    cfg.Language,
			"translate":   cfg.Translate,
			"sample_rate": cfg.SampleRate,
			"channels":    cfg.Channels,
			"format":      cfg.Format,
		},
	})
}

// AudioMessage wraps one chunk of audio bytes.
func AudioMessage(chunk []byte) *Message {
	return &Message{Fields: map[string]*structpb.Value{
		"audio": structpb.NewStringValue(base64.StdEncoding.EncodeToString(chunk)),
	}}
}

// DecodeRequest parses a client message on the sidecar side.
func DecodeRequest(msg *Message) (Request, error) {
	fields := msg.GetFields()
	if v, ok := fields["config"]; ok {
		c := v.GetStructValue().GetFields()
		return Request{Config: &StreamConfig{
			Model:      c["model"].GetStringValue(),
			Language:   c["language"].GetStringValue(),
			Translate:  c["translate"].GetBoolValue(),
			SampleRate: int(c["sample_rate"].GetNumberValue()),
			Channels:   int(c["channels"].GetNumberValue()),
			Format:     c["format"].GetStringValue(),
		}}, nil
	}
	if v, ok := fields["audio"]; ok {
		chunk, err := base64.StdEncoding.DecodeString(v.GetStringValue())
		if err != nil {
			return Request{}, fmt.Errorf("decode audio chunk: %w", err)
		}
		return Request{Audio: chunk}, nil
	}
	return Request{}, errors.New("request carries neither config nor audio")
}

// ProgressMessage reports percent complete.
func ProgressMessage(percent float64) *Message {
	return &Message{Fields: map[string]*structpb.Value{
		"progress": structpb.NewNumberValue(percent),
	}}
}

// SegmentMessage reports recognized text. Interim segments may be revised by
// later messages; final segments are committed.
func SegmentMessage(seg session.Segment, final bool) *Message {
	return &Message{Fields: map[string]*structpb.Value{
		"segment": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"start_ms": structpb.NewNumberValue(float64(seg.Start.Milliseconds())),
			"end_ms":   structpb.NewNumberValue(float64(seg.End.Milliseconds())),
			"text":     structpb.NewStringValue(seg.Text),
			"final":    structpb.NewBoolValue(final),
		}}),
	}}
}

// DoneMessage ends a stream with the detected language.
func DoneMessage(language string) *Message {
	return &Message{Fields: map[string]*structpb.Value{
		"done": structpb.NewStructValue(&structpb.Struct{Fields: map[string]*structpb.Value{
			"language": structpb.NewStringValue(language),
		}}),
	}}
}

type responseKind int

const (
	responseProgress responseKind = iota + 1
	responseSegment
	responseDone
)

type response struct {
	kind     responseKind
	percent  float64
	segment  session.Segment
	final    bool
	language string
}

func decodeResponse(msg *Message) (response, error) {
	fields := msg.GetFields()
	if v, ok := fields["progress"]; ok {
		return response{kind: responseProgress, percent: v.GetNumberValue()}, nil
	}
	if v, ok := fields["segment"]; ok {
		s := v.GetStructValue().GetFields()
		return response{
			kind: responseSegment,
			segment: session.Segment{
				Start: time.Duration(s["start_ms"].GetNumberValue()) * time.Millisecond,
				End:   time.Duration(s["end_ms"].GetNumberValue()) * time.Millisecond,
				Text:  strings.TrimSpace(s["text"].GetStringValue()),
			},
			final: s["final"].GetBoolValue(),
		}, nil
	}
	if v, ok := fields["done"]; ok {
		return response{kind: responseDone, language: v.GetStructValue().GetFields()["language"].GetStringValue()}, nil
	}
	return response{}, errors.New("unrecognized response message")
}
