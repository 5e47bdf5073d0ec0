package store

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/skypro1111/overlay-transcriber/internal/events"
	"github.com/skypro1111/overlay-transcriber/internal/transcription"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, &slog.HandlerOptions{Level: slog.LevelError}))
}

func TestStoreWithoutDatabase(t *testing.T) {
	s := New(nil, testLogger())
	ctx := context.Background()

	if s.Enabled() {
		t.Error("store without a pool should report disabled")
	}
	if err := s.Migrate(ctx); err != nil {
		t.Errorf("Migrate with nil DB should return nil, got %v", err)
	}
	if err := s.SaveResult(ctx, "session", transcription.Result{Text: "hi"}); err != nil {
		t.Errorf("SaveResult with nil DB should return nil, got %v", err)
	}
	if err := s.Log(ctx, "session", EventChunkDropped, map[string]any{"chunk_id": 1}); err != nil {
		t.Errorf("Log with nil DB should return nil, got %v", err)
	}
	results, err := s.Results(ctx, "session")
	if err != nil || results != nil {
		t.Errorf("Results with nil DB = %v, %v", results, err)
	}
	s.Close()
}

func TestEventTypeFor(t *testing.T) {
	tests := []struct {
		in     events.Type
		want   EventType
		logged bool
	}{
		{events.TypeSessionState, EventSessionState, true},
		{events.TypeResultSuppressed, EventResultSuppressed, true},
		{events.TypeChunkDropped, EventChunkDropped, true},
		{events.TypeTranscriptionError, EventTranscriptionError, true},
		{events.TypeParameterUpdated, EventParameterUpdated, true},
		{events.TypeAudioLevel, "", false},
		{events.TypeTranscriptionResult, "", false},
	}
	for _, tt := range tests {
		t.Run(string(tt.in), func(t *testing.T) {
			got, ok := eventTypeFor(tt.in)
			if got != tt.want || ok != tt.logged {
				t.Errorf("eventTypeFor(%s) = %s, %v; want %s, %v", tt.in, got, ok, tt.want, tt.logged)
			}
		})
	}
}

func TestConsumeStopsOnClose(t *testing.T) {
	s := New(nil, testLogger())
	ch := make(chan events.Message, 4)
	ch <- events.NewMessage(events.ChunkDropped{ChunkID: 1}, time.Now())
	ch <- events.NewMessage(events.TranscriptionResult{Result: transcription.Result{Text: "x"}}, time.Now())
	close(ch)

	done := make(chan struct{})
	go func() {
		s.Consume(context.Background(), ch, func() string { return "session" })
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("Consume did not return after the channel closed")
	}
}
