package transcription

import (
	"bytes"
	"encoding/json"
	"strings"
	"time"
)

// Result is the transcription of one chunk. Post-processing stages rewrite
// Text and fill the enrichment fields before the result is emitted.
type Result struct {
	ChunkID           uint64        `json:"chunk_id"`
	Text              string        `json:"text"`
	StartTime         time.Time     `json:"start_time"`
	EndTime           time.Time     `json:"end_time"`
	Confidence        float64       `json:"confidence"`
	ProcessingTime    time.Duration `json:"processing_time"`
	Engine            string        `json:"engine"`
	Language          string        `json:"language,omitempty"`
	Speaker           string        `json:"speaker,omitempty"`
	SpeakerConfidence float64       `json:"speaker_confidence,omitempty"`
	Emotion           string        `json:"emotion,omitempty"`
	EmotionConfidence float64       `json:"emotion_confidence,omitempty"`
	Segments          []Segment     `json:"segments,omitempty"`
	IsFinal           bool          `json:"is_final"`
}

// Segment is a timed piece of engine output.
type Segment struct {
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Text       string   `json:"text"`
	Confidence *float64 `json:"confidence,omitempty"`
}

// OutputKind tags the shape an engine returned.
type OutputKind int

const (
	// OutputText is a bare string.
	OutputText OutputKind = iota
	// OutputSegments is an array of {text|speech, confidence?}.
	OutputSegments
	// OutputStructured is an object with a text field.
	OutputStructured
)

func (k OutputKind) String() string {
	switch k {
	case OutputSegments:
		return "segments"
	case OutputStructured:
		return "structured"
	default:
		return "text"
	}
}

// Output is the raw engine response in one of three shapes.
type Output struct {
	Kind     OutputKind
	Text     string
	Segments []Segment
	Language string
}

// TextOutput wraps a plain string.
func TextOutput(text string) Output {
	return Output{Kind: OutputText, Text: text}
}

// Normalize extracts the transcript text and any engine-supplied
// segment confidences.
func (o Output) Normalize() (string, []float64) {
	var confidences []float64
	for _, s := range o.Segments {
		if s.Confidence != nil {
			confidences = append(confidences, *s.Confidence)
		}
	}

	switch o.Kind {
	case OutputSegments:
		parts := make([]string, 0, len(o.Segments))
		for _, s := range o.Segments {
			if t := strings.TrimSpace(s.Text); t != "" {
				parts = append(parts, t)
			}
		}
		return strings.Join(parts, " "), confidences
	default:
		return strings.TrimSpace(o.Text), confidences
	}
}

type rawSegment struct {
	Text       string   `json:"text"`
	Speech     string   `json:"speech"`
	Start      float64  `json:"start"`
	End        float64  `json:"end"`
	Confidence *float64 `json:"confidence"`
}

func (r rawSegment) segment() Segment {
	text := r.Text
	if text == "" {
		text = r.Speech
	}
	return Segment{Start: r.Start, End: r.End, Text: text, Confidence: r.Confidence}
}

type rawStructured struct {
	Text     string       `json:"text"`
	Language string       `json:"language"`
	Segments []rawSegment `json:"segments"`
}

// ParseOutput decodes an engine response body. JSON strings, arrays and
// objects map to the three output shapes. Anything that is not valid JSON,
// such as a "[BLANK_AUDIO]" marker, is kept as plain text.
func ParseOutput(data []byte) Output {
	trimmed := bytes.TrimSpace(data)
	if len(trimmed) == 0 {
		return TextOutput("")
	}

	switch trimmed[0] {
	case '"':
		var s string
		if err := json.Unmarshal(trimmed, &s); err == nil {
			return TextOutput(s)
		}

	case '[':
		var raw []rawSegment
		if err := json.Unmarshal(trimmed, &raw); err == nil {
			out := Output{Kind: OutputSegments, Segments: make([]Segment, 0, len(raw))}
			for _, r := range raw {
				out.Segments = append(out.Segments, r.segment())
			}
			return out
		}

	case '{':
		var raw rawStructured
		if err := json.Unmarshal(trimmed, &raw); err == nil {
			out := Output{Kind: OutputStructured, Text: raw.Text, Language: raw.Language}
			for _, r := range raw.Segments {
				out.Segments = append(out.Segments, r.segment())
			}
			return out
		}
	}
	return TextOutput(string(trimmed))
}
