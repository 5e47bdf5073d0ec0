package emitter

import (
	"io"
	"log/slog"
	"strings"
	"sync"
	"testing"
	"time"

	apperrors "github.com/skypro1111/overlay-transcriber/internal/errors"
	"github.com/skypro1111/overlay-transcriber/internal/events"
	"github.com/skypro1111/overlay-transcriber/internal/transcription"
)

type recorder struct {
	mu     sync.Mutex
	events []events.Event
}

func (r *recorder) Publish(e events.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
}

func (r *recorder) types() []events.Type {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]events.Type, len(r.events))
	for i, e := range r.events {
		out[i] = e.EventType()
	}
	return out
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func newTestEmitter(t *testing.T, cfg Config) (*Emitter, *recorder) {
	t.Helper()
	rec := &recorder{}
	e, err := New(cfg, rec, testLogger())
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	return e, rec
}

func TestEmitConfidenceFloor(t *testing.T) {
	tests := []struct {
		name       string
		text       string
		confidence float64
		want       bool
		wantEvent  events.Type
		wantReason string
	}{
		{"above floor", "hello", 0.9, true, events.TypeTranscriptionResult, ""},
		{"at floor", "hello", 0.6, true, events.TypeTranscriptionResult, ""},
		{"below floor", "hello", 0.59, false, events.TypeResultSuppressed, events.ReasonLowConfidence},
		{"empty text", "   ", 0.9, false, events.TypeResultSuppressed, events.ReasonEmptyText},
		{"empty text below floor", "", 0.1, false, events.TypeResultSuppressed, events.ReasonEmptyText},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e, rec := newTestEmitter(t, Config{ConfidenceThreshold: 0.6, HistorySize: 10})
			got := e.Emit(transcription.Result{ChunkID: 3, Text: tt.text, Confidence: tt.confidence})
			if got != tt.want {
				t.Errorf("Emit() = %v, want %v", got, tt.want)
			}

			types := rec.types()
			if len(types) != 1 || types[0] != tt.wantEvent {
				t.Fatalf("events = %v, want [%s]", types, tt.wantEvent)
			}
			if tt.wantReason == "" {
				return
			}
			ev, ok := rec.events[0].(events.ResultSuppressed)
			if !ok || ev.Reason != tt.wantReason || ev.ChunkID != 3 {
				t.Errorf("event = %+v, want %s for chunk 3", rec.events[0], tt.wantReason)
			}
		})
	}
}

func TestEmitStatsAndHistory(t *testing.T) {
	e, rec := newTestEmitter(t, Config{ConfidenceThreshold: 0.5, HistorySize: 2})

	e.Emit(transcription.Result{ChunkID: 0, Text: "one", Confidence: 0.9})
	e.Emit(transcription.Result{ChunkID: 1, Text: "two", Confidence: 0.1})
	e.Emit(transcription.Result{ChunkID: 2, Text: "three", Confidence: 0.9})
	e.Emit(transcription.Result{ChunkID: 3, Text: " four ", Confidence: 0.9})
	e.Emit(transcription.Result{ChunkID: 4, Text: "", Confidence: 0.9})

	stats := e.GetStats()
	if stats.Emitted != 3 || stats.Suppressed != 1 || stats.Empty != 1 {
		t.Errorf("stats = %+v", stats)
	}

	history := e.History()
	if len(history) != 2 {
		t.Fatalf("history = %d entries, want 2", len(history))
	}
	if history[0].Result.ChunkID != 2 || history[1].Result.Text != "four" {
		t.Errorf("history kept wrong entries: %+v", history)
	}
	if !history[1].Result.IsFinal {
		t.Error("emitted results should be final")
	}

	last := rec.events[len(rec.events)-1].(events.TranscriptionResult)
	if last.Result.ChunkID != 3 || last.Result.Text != "four" {
		t.Errorf("last published = %+v", last.Result)
	}
}

func TestEmitPreservesCompletionOrder(t *testing.T) {
	e, rec := newTestEmitter(t, Config{HistorySize: 10})

	for _, id := range []uint64{1, 0, 2} {
		e.Emit(transcription.Result{ChunkID: id, Text: "x", Confidence: 1})
	}

	var ids []uint64
	for _, ev := range rec.events {
		ids = append(ids, ev.(events.TranscriptionResult).Result.ChunkID)
	}
	if len(ids) != 3 || ids[0] != 1 || ids[1] != 0 || ids[2] != 2 {
		t.Errorf("published order = %v, want [1 0 2]", ids)
	}
}

func TestSetThreshold(t *testing.T) {
	e, _ := newTestEmitter(t, Config{})

	if err := e.SetThreshold(1.5); !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Errorf("SetThreshold(1.5) error = %v, want validation error", err)
	}
	if e.Threshold() != 0 {
		t.Errorf("rejected threshold should leave the old value, got %f", e.Threshold())
	}
	if err := e.SetThreshold(0.8); err != nil {
		t.Fatalf("SetThreshold(0.8) failed: %v", err)
	}
	if e.Emit(transcription.Result{Text: "quiet", Confidence: 0.7}) {
		t.Error("result below the new threshold should be suppressed")
	}

	if _, err := New(Config{ConfidenceThreshold: -0.1}, nil, nil); err == nil {
		t.Error("expected error for negative threshold")
	}
}

func TestFormatSRTTime(t *testing.T) {
	tests := []struct {
		d    time.Duration
		want string
	}{
		{0, "00:00:00,000"},
		{1500 * time.Millisecond, "00:00:01,500"},
		{61*time.Minute + 2*time.Second + 3*time.Millisecond, "01:01:02,003"},
		{-time.Second, "00:00:00,000"},
	}
	for _, tt := range tests {
		if got := FormatSRTTime(tt.d); got != tt.want {
			t.Errorf("FormatSRTTime(%v) = %s, want %s", tt.d, got, tt.want)
		}
	}
}

func TestExportSRT(t *testing.T) {
	e, _ := newTestEmitter(t, Config{ConfidenceThreshold: 0.5, HistorySize: 10})
	start := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	e.Start(start)

	e.Emit(transcription.Result{
		ChunkID:    0,
		Text:       "Hello There.",
		StartTime:  start,
		EndTime:    start.Add(2 * time.Second),
		Confidence: 0.9,
		Speaker:    "Speaker 1",
	})
	e.Emit(transcription.Result{ChunkID: 1, Text: "dropped", Confidence: 0.1})
	e.Emit(transcription.Result{
		ChunkID:    2,
		Text:       "Great Work!",
		StartTime:  start.Add(3 * time.Second),
		EndTime:    start.Add(5*time.Second + 250*time.Millisecond),
		Confidence: 0.9,
		Emotion:    "positive",
	})

	var b strings.Builder
	if err := e.ExportSRT(&b); err != nil {
		t.Fatalf("ExportSRT failed: %v", err)
	}

	want := "1\n00:00:00,000 --> 00:00:02,000\nSpeaker 1: Hello There.\n\n" +
		"2\n00:00:03,000 --> 00:00:05,250\nGreat Work! [POSITIVE]\n\n"
	if b.String() != want {
		t.Errorf("ExportSRT =\n%q\nwant\n%q", b.String(), want)
	}
}

func TestExportSRTWithoutStart(t *testing.T) {
	e, _ := newTestEmitter(t, Config{HistorySize: 10})
	base := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)

	e.Emit(transcription.Result{Text: "second", StartTime: base.Add(time.Second), EndTime: base.Add(2 * time.Second), Confidence: 1})
	e.Emit(transcription.Result{Text: "first", StartTime: base, EndTime: base.Add(time.Second), Confidence: 1})

	var b strings.Builder
	if err := e.ExportSRT(&b); err != nil {
		t.Fatalf("ExportSRT failed: %v", err)
	}
	if !strings.HasPrefix(b.String(), "1\n00:00:01,000 --> 00:00:02,000\nsecond\n") {
		t.Errorf("times should be relative to the earliest result, got %q", b.String())
	}
}

func TestStartClearsHistory(t *testing.T) {
	e, _ := newTestEmitter(t, Config{HistorySize: 10})
	e.Emit(transcription.Result{Text: "old", Confidence: 1})
	e.Start(time.Now())

	if len(e.History()) != 0 {
		t.Error("Start should clear the transcript")
	}
	if e.GetStats().Emitted != 1 {
		t.Error("Start should keep counters")
	}
}
