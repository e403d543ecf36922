package inference

import (
	"strings"

	"github.com/rbright/voxnote/internal/session"
	"github.com/rbright/voxnote/internal/transcript"
)

// segmentLog merges interim and final segments as they stream in.
type segmentLog struct {
	committed []session.Segment
	interim   *session.Segment
}

func (l *segmentLog) record(seg session.Segment, final bool) {
	seg.Text = transcript.Join([]string{seg.Text})
	if seg.Text == "" {
		return
	}
	if final {
		l.committed = appendSegment(l.committed, seg)
		l.interim = nil
		return
	}
	if l.interim != nil && !isContinuation(l.interim.Text, seg.Text) {
		l.committed = appendSegment(l.committed, *l.interim)
	}
	l.interim = &seg
}

// collect returns committed segments plus any trailing interim.
func (l *segmentLog) collect() []session.Segment {
	segments := append([]session.Segment(nil), l.committed...)
	if l.interim != nil {
		segments = appendSegment(segments, *l.interim)
	}
	return segments
}

// appendSegment merges continuations so revised text does not repeat.
func appendSegment(segments []session.Segment, seg session.Segment) []session.Segment {
	if len(segments) == 0 {
		return append(segments, seg)
	}

	last := &segments[len(segments)-1]
	switch {
	case seg.Text == last.Text:
		return segments
	case strings.HasPrefix(seg.Text, last.Text):
		last.Text = seg.Text
		if seg.End > last.End {
			last.End = seg.End
		}
		return segments
	case strings.HasPrefix(last.Text, seg.Text):
		return segments
	default:
		return append(segments, seg)
	}
}

func isContinuation(previous, current string) bool {
	return strings.HasPrefix(current, previous) ||
		strings.HasPrefix(previous, current) ||
		strings.HasSuffix(previous, current)
}

func joinSegments(segments []session.Segment) string {
	texts := make([]string, 0, len(segments))
	for _, seg := range segments {
		texts = append(texts, seg.Text)
	}
	return transcript.Join(texts)
}
