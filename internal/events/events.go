// Package events defines the typed notifications the pipeline publishes
// and a small observer hub that fans them out.
package events

import (
	"time"

	"github.com/skypro1111/overlay-transcriber/internal/dsp"
	"github.com/skypro1111/overlay-transcriber/internal/transcription"
)

// Type names an event on the wire.
type Type string

const (
	TypeTranscriptionResult Type = "transcription-result"
	TypeChunkSkipped        Type = "chunk-skipped"
	TypeChunkDropped        Type = "chunk-dropped"
	TypeBufferTrimmed       Type = "buffer-trimmed"
	TypeTranscriptionError  Type = "transcription-error"
	TypeAudioLevel          Type = "audio-level"
	TypeAudioStats          Type = "audio-stats"
	TypeResultSuppressed    Type = "result-suppressed"
	TypeSessionState        Type = "session-state"
	TypeParameterUpdated    Type = "parameter-updated"
)

// Event is implemented by every payload.
type Event interface {
	EventType() Type
}

// TranscriptionResult carries one emitted result.
type TranscriptionResult struct {
	Result transcription.Result `json:"result"`
}

// ChunkSkipped reports a chunk the VAD rejected.
type ChunkSkipped struct {
	ChunkID   uint64    `json:"chunk_id"`
	StartTime time.Time `json:"start_time"`
	RmsDb     float64   `json:"rms_db"`
	ZCR       float64   `json:"zcr"`
}

// ChunkDropped reports a chunk evicted from a full queue.
type ChunkDropped struct {
	ChunkID   uint64 `json:"chunk_id"`
	QueueSize int    `json:"queue_size"`
}

// BufferTrimmed reports bytes lost to buffer overflow.
type BufferTrimmed struct {
	Bytes      int `json:"bytes"`
	BufferSize int `json:"buffer_size"`
}

// TranscriptionError reports a failed chunk. The session keeps running.
type TranscriptionError struct {
	ChunkID uint64 `json:"chunk_id"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// AudioLevel is the mean absolute level of one captured frame in [0,1].
type AudioLevel struct {
	Level float64 `json:"level"`
}

// AudioStats carries the pre-DSP statistics of a chunk.
type AudioStats struct {
	ChunkID uint64    `json:"chunk_id"`
	Stats   dsp.Stats `json:"stats"`
}

// Suppression reasons.
const (
	ReasonLowConfidence = "low_confidence"
	ReasonEmptyText     = "empty_text"
)

// ResultSuppressed reports a transcribed chunk that produced no visible
// result: either its confidence is below the threshold or the engine
// returned no text.
type ResultSuppressed struct {
	ChunkID    uint64  `json:"chunk_id"`
	Reason     string  `json:"reason"`
	Confidence float64 `json:"confidence"`
	Threshold  float64 `json:"threshold"`
}

// SessionState reports a lifecycle change.
type SessionState struct {
	SessionID string `json:"session_id"`
	State     string `json:"state"`
}

// ParameterUpdated reports an accepted runtime parameter change.
type ParameterUpdated struct {
	Name     string  `json:"name"`
	OldValue float64 `json:"old_value"`
	NewValue float64 `json:"new_value"`
}

func (TranscriptionResult) EventType() Type { return TypeTranscriptionResult }
func (ChunkSkipped) EventType() Type        { return TypeChunkSkipped }
func (ChunkDropped) EventType() Type        { return TypeChunkDropped }
func (BufferTrimmed) EventType() Type       { return TypeBufferTrimmed }
func (TranscriptionError) EventType() Type  { return TypeTranscriptionError }
func (AudioLevel) EventType() Type          { return TypeAudioLevel }
func (AudioStats) EventType() Type          { return TypeAudioStats }
func (ResultSuppressed) EventType() Type    { return TypeResultSuppressed }
func (SessionState) EventType() Type        { return TypeSessionState }
func (ParameterUpdated) EventType() Type    { return TypeParameterUpdated }

// Message is the JSON envelope sent to websocket clients.
type Message struct {
	Type      Type      `json:"type"`
	Timestamp time.Time `json:"timestamp"`
	Data      Event     `json:"data"`
}

// NewMessage wraps e in an envelope stamped with ts.
func NewMessage(e Event, ts time.Time) Message {
	return Message{Type: e.EventType(), Timestamp: ts, Data: e}
}
