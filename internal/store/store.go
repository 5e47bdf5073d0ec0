// Package store persists emitted results and session events to Postgres.
// Every method is a no-op when the store has no database, so the pipeline
// runs the same with persistence disabled.
package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/skypro1111/overlay-transcriber/internal/events"
	"github.com/skypro1111/overlay-transcriber/internal/transcription"
)

// EventType represents the type of a logged session event
type EventType string

const (
	EventSessionState       EventType = "session_state"
	EventResultSuppressed   EventType = "result_suppressed"
	EventChunkDropped       EventType = "chunk_dropped"
	EventTranscriptionError EventType = "transcription_error"
	EventParameterUpdated   EventType = "parameter_updated"
)

const schema = `
CREATE TABLE IF NOT EXISTS transcription_results (
	id                 BIGSERIAL PRIMARY KEY,
	session_id         TEXT NOT NULL,
	chunk_id           BIGINT NOT NULL,
	text               TEXT NOT NULL,
	start_time         TIMESTAMPTZ NOT NULL,
	end_time           TIMESTAMPTZ NOT NULL,
	confidence         DOUBLE PRECISION NOT NULL,
	processing_ms      BIGINT NOT NULL,
	engine             TEXT NOT NULL DEFAULT '',
	language           TEXT NOT NULL DEFAULT '',
	speaker            TEXT NOT NULL DEFAULT '',
	speaker_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	emotion            TEXT NOT NULL DEFAULT '',
	emotion_confidence DOUBLE PRECISION NOT NULL DEFAULT 0,
	created_at         TIMESTAMPTZ NOT NULL DEFAULT now()
);
CREATE INDEX IF NOT EXISTS transcription_results_session_idx ON transcription_results (session_id, start_time);

CREATE TABLE IF NOT EXISTS session_events (
	id         BIGSERIAL PRIMARY KEY,
	session_id TEXT NOT NULL,
	event_type TEXT NOT NULL,
	event_data JSONB NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);
`

// Open connects a pool and verifies it with a ping.
func Open(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	db, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to create database pool: %w", err)
	}
	if err := db.Ping(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to reach database: %w", err)
	}
	return db, nil
}

// Store writes results and events for one process.
type Store struct {
	db     *pgxpool.Pool
	logger *slog.Logger
}

// New creates a store. db may be nil.
func New(db *pgxpool.Pool, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{db: db, logger: logger}
}

// Enabled reports whether a database is attached.
func (s *Store) Enabled() bool {
	return s.db != nil
}

// Migrate creates the tables if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if s.db == nil {
		return nil
	}
	if _, err := s.db.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}

// SaveResult writes one emitted result.
func (s *Store) SaveResult(ctx context.Context, sessionID string, res transcription.Result) error {
	if s.db == nil || sessionID == "" {
		return nil
	}

	_, err := s.db.Exec(ctx, `
		INSERT INTO transcription_results (
			session_id, chunk_id, text, start_time, end_time, confidence, processing_ms,
			engine, language, speaker, speaker_confidence, emotion, emotion_confidence
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	`, sessionID, int64(res.ChunkID), res.Text, res.StartTime, res.EndTime, res.Confidence,
		res.ProcessingTime.Milliseconds(), res.Engine, res.Language, res.Speaker,
		res.SpeakerConfidence, res.Emotion, res.EmotionConfidence)
	if err != nil {
		return fmt.Errorf("failed to save result %d: %w", res.ChunkID, err)
	}
	return nil
}

// Log writes a session event synchronously.
func (s *Store) Log(ctx context.Context, sessionID string, eventType EventType, data any) error {
	if s.db == nil || sessionID == "" {
		return nil
	}

	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte("{}")
	}

	_, err = s.db.Exec(ctx, `
		INSERT INTO session_events (session_id, event_type, event_data)
		VALUES ($1, $2, $3)
	`, sessionID, string(eventType), dataJSON)
	return err
}

// Results returns the stored results of a session ordered by start time.
func (s *Store) Results(ctx context.Context, sessionID string) ([]transcription.Result, error) {
	if s.db == nil {
		return nil, nil
	}

	rows, err := s.db.Query(ctx, `
		SELECT chunk_id, text, start_time, end_time, confidence, processing_ms,
		       engine, language, speaker, speaker_confidence, emotion, emotion_confidence
		FROM transcription_results
		WHERE session_id = $1
		ORDER BY start_time, chunk_id
	`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query results: %w", err)
	}

	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (transcription.Result, error) {
		var (
			r       transcription.Result
			chunkID int64
			procMs  int64
		)
		err := row.Scan(&chunkID, &r.Text, &r.StartTime, &r.EndTime, &r.Confidence, &procMs,
			&r.Engine, &r.Language, &r.Speaker, &r.SpeakerConfidence, &r.Emotion, &r.EmotionConfidence)
		r.ChunkID = uint64(chunkID)
		r.ProcessingTime = time.Duration(procMs) * time.Millisecond
		r.IsFinal = true
		return r, err
	})
}

// Close releases the pool.
func (s *Store) Close() {
	if s.db != nil {
		s.db.Close()
	}
}

// eventTypeFor maps pipeline events to logged event types. Results are
// stored in their own table and high-rate metering events are not logged.
func eventTypeFor(t events.Type) (EventType, bool) {
	switch t {
	case events.TypeSessionState:
		return EventSessionState, true
	case events.TypeResultSuppressed:
		return EventResultSuppressed, true
	case events.TypeChunkDropped:
		return EventChunkDropped, true
	case events.TypeTranscriptionError:
		return EventTranscriptionError, true
	case events.TypeParameterUpdated:
		return EventParameterUpdated, true
	default:
		return "", false
	}
}

// Record persists one pipeline event for sessionID.
func (s *Store) Record(ctx context.Context, sessionID string, msg events.Message) error {
	if r, ok := msg.Data.(events.TranscriptionResult); ok {
		return s.SaveResult(ctx, sessionID, r.Result)
	}
	if et, ok := eventTypeFor(msg.Type); ok {
		return s.Log(ctx, sessionID, et, msg.Data)
	}
	return nil
}

// Consume records messages from ch until it closes or ctx ends. Each
// write gets its own short timeout; failures are logged and skipped.
func (s *Store) Consume(ctx context.Context, ch <-chan events.Message, sessionID func() string) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			writeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			if err := s.Record(writeCtx, sessionID(), msg); err != nil {
				s.logger.Warn("Failed to persist event",
					slog.String("type", string(msg.Type)),
					slog.String("error", err.Error()))
			}
			cancel()
		}
	}
}
