package emitter

import (
	"bufio"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/skypro1111/overlay-transcriber/internal/syncx"
)

// FormatSRTTime renders d as HH:MM:SS,mmm. Negative durations clamp to zero.
func FormatSRTTime(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := d.Milliseconds()
	h := ms / 3_600_000
	m := ms / 60_000 % 60
	s := ms / 1000 % 60
	return fmt.Sprintf("%02d:%02d:%02d,%03d", h, m, s, ms%1000)
}

// cueText prefixes the speaker and appends the emotion, for example
// "Speaker 1: hello there [POSITIVE]".
func cueText(e Entry) string {
	text := e.Result.Text
	if e.Result.Speaker != "" {
		text = e.Result.Speaker + ": " + text
	}
	if e.Result.Emotion != "" {
		text += " [" + strings.ToUpper(e.Result.Emotion) + "]"
	}
	return text
}

// ExportSRT writes the kept transcript as SubRip cues numbered from 1.
// Times are relative to the session start, or to the first result when
// no start was recorded.
func (e *Emitter) ExportSRT(w io.Writer) error {
	var start time.Time
	history := syncx.Read(e.state, func(s *emitterState) []Entry {
		start = s.sessionStart
		return append([]Entry(nil), s.history...)
	})
	if start.IsZero() && len(history) > 0 {
		start = history[0].Result.StartTime
		for _, h := range history[1:] {
			if h.Result.StartTime.Before(start) {
				start = h.Result.StartTime
			}
		}
	}

	bw := bufio.NewWriter(w)
	for i, entry := range history {
		fmt.Fprintf(bw, "%d\n%s --> %s\n%s\n\n",
			i+1,
			FormatSRTTime(entry.Result.StartTime.Sub(start)),
			FormatSRTTime(entry.Result.EndTime.Sub(start)),
			cueText(entry))
	}
	return bw.Flush()
}
