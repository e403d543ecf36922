// Package transcript joins recognized segments and renders transcript files.
package transcript

import (
	"fmt"
	"strings"
	"time"

	"github.com/rbright/voxnote/internal/session"
)

// Options controls transcript rendering.
type Options struct {
	// Timestamps prefixes each segment line with its [HH:MM:SS] start.
	Timestamps          bool
	CapitalizeSentences bool
}

// Join collapses whitespace across segments into one line of text.
func Join(segments []string) string {
	if len(segments) == 0 {
		return ""
	}
	return strings.Join(strings.Fields(strings.Join(segments, " ")), " ")
}

// Render produces transcript file content. Blank input renders as "".
func Render(t session.Transcription, opts Options) string {
	if opts.Timestamps && len(t.Segments) > 0 {
		var b strings.Builder
		for _, seg := range t.Segments {
			text := Join([]string{seg.Text})
			if text == "" {
				continue
			}
			if opts.CapitalizeSentences {
				text = capitalizeSentences(text)
			}
			fmt.Fprintf(&b, "[%s] %s\n", formatTimestamp(seg.Start), text)
		}
		return b.String()
	}

	text := Join([]string{t.Text})
	if text == "" {
		return ""
	}
	if opts.CapitalizeSentences {
		text = capitalizeSentences(text)
	}
	return text + "\n"
}

// Renderer binds opts for use as the orchestrator's render hook.
func Renderer(opts Options) func(session.Transcription) string {
	return func(t session.Transcription) string {
		return Render(t, opts)
	}
}

func formatTimestamp(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	h := int(d.Hours())
	m := int(d.Minutes()) % 60
	s := int(d.Seconds()) % 60
	return fmt.Sprintf("%02d:%02d:%02d", h, m, s)
}
