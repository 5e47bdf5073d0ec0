// Package emitter is the last step of the pipeline. It applies the
// confidence floor, keeps the session transcript and publishes results to
// observers.
//
// Results are published in completion order. Under parallel processing a
// later chunk can finish before an earlier one, so consumers that need
// timeline order must sort by StartTime themselves.
package emitter

import (
	"log/slog"
	"strings"
	"time"

	"github.com/skypro1111/overlay-transcriber/internal/config"
	"github.com/skypro1111/overlay-transcriber/internal/events"
	"github.com/skypro1111/overlay-transcriber/internal/syncx"
	"github.com/skypro1111/overlay-transcriber/internal/transcription"
)

// Publisher receives emitted events. *events.Hub satisfies it.
type Publisher interface {
	Publish(events.Event)
}

// Config contains the emitter settings.
type Config struct {
	ConfidenceThreshold float64
	HistorySize         int // 0 keeps no history
}

// Entry is one result kept for export.
type Entry struct {
	Result    transcription.Result `json:"result"`
	EmittedAt time.Time            `json:"emitted_at"`
}

// Stats represents emitter statistics
type Stats struct {
	Emitted     uint64    `json:"emitted"`
	Suppressed  uint64    `json:"suppressed"`
	Empty       uint64    `json:"empty"`
	Threshold   float64   `json:"confidence_threshold"`
	HistorySize int       `json:"history_size"`
	LastEmitted time.Time `json:"last_emitted,omitempty"`
}

type emitterState struct {
	threshold    float64
	sessionStart time.Time
	history      []Entry
	emitted      uint64
	suppressed   uint64
	empty        uint64
	lastEmitted  time.Time
}

// Emitter publishes final results.
type Emitter struct {
	publisher   Publisher
	historySize int
	logger      *slog.Logger
	state       *syncx.RWGuard[emitterState]
	now         func() time.Time
}

// New creates an emitter. The threshold is validated like the runtime
// parameter of the same name.
func New(cfg Config, publisher Publisher, logger *slog.Logger) (*Emitter, error) {
	threshold, err := config.ValidateParameter(config.ParamConfidenceThreshold, cfg.ConfidenceThreshold)
	if err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.HistorySize < 0 {
		cfg.HistorySize = 0
	}
	return &Emitter{
		publisher:   publisher,
		historySize: cfg.HistorySize,
		logger:      logger,
		state:       syncx.NewGuard(emitterState{threshold: threshold}),
		now:         time.Now,
	}, nil
}

// Emit publishes res unless its text is empty or its confidence is below
// the floor. Either way exactly one event is published for the chunk:
// suppression is reported as an event, never as an error. It returns
// whether the result was published.
func (e *Emitter) Emit(res transcription.Result) bool {
	res.Text = strings.TrimSpace(res.Text)
	now := e.now()

	var suppressed *events.ResultSuppressed
	published := syncx.Update(e.state, func(s *emitterState) bool {
		if res.Text == "" {
			s.empty++
			suppressed = &events.ResultSuppressed{
				ChunkID:    res.ChunkID,
				Reason:     events.ReasonEmptyText,
				Confidence: res.Confidence,
				Threshold:  s.threshold,
			}
			return false
		}
		if res.Confidence < s.threshold {
			s.suppressed++
			suppressed = &events.ResultSuppressed{
				ChunkID:    res.ChunkID,
				Reason:     events.ReasonLowConfidence,
				Confidence: res.Confidence,
				Threshold:  s.threshold,
			}
			return false
		}

		res.IsFinal = true
		s.emitted++
		s.lastEmitted = now
		if e.historySize > 0 {
			s.history = append(s.history, Entry{Result: res, EmittedAt: now})
			if over := len(s.history) - e.historySize; over > 0 {
				s.history = append([]Entry(nil), s.history[over:]...)
			}
		}
		return true
	})

	switch {
	case suppressed != nil:
		e.logger.Debug("Result suppressed",
			slog.Uint64("chunk_id", res.ChunkID),
			slog.String("reason", suppressed.Reason),
			slog.Float64("confidence", res.Confidence),
			slog.Float64("threshold", suppressed.Threshold))
		e.publish(*suppressed)
	case published:
		e.publish(events.TranscriptionResult{Result: res})
	}
	return published
}

func (e *Emitter) publish(ev events.Event) {
	if e.publisher != nil {
		e.publisher.Publish(ev)
	}
}

// SetThreshold changes the confidence floor for subsequent results.
func (e *Emitter) SetThreshold(v float64) error {
	checked, err := config.ValidateParameter(config.ParamConfidenceThreshold, v)
	if err != nil {
		return err
	}
	e.state.Write(func(s *emitterState) { s.threshold = checked })
	return nil
}

// Threshold returns the current confidence floor.
func (e *Emitter) Threshold() float64 {
	return syncx.Read(e.state, func(s *emitterState) float64 { return s.threshold })
}

// Start begins a new transcript whose export times are relative to start.
// Counters are kept.
func (e *Emitter) Start(start time.Time) {
	e.state.Write(func(s *emitterState) {
		s.sessionStart = start
		s.history = nil
	})
}

// History returns a copy of the kept results in emission order.
func (e *Emitter) History() []Entry {
	return syncx.Read(e.state, func(s *emitterState) []Entry {
		return append([]Entry(nil), s.history...)
	})
}

// GetStats returns emitter statistics.
func (e *Emitter) GetStats() Stats {
	return syncx.Read(e.state, func(s *emitterState) Stats {
		return Stats{
			Emitted:     s.emitted,
			Suppressed:  s.suppressed,
			Empty:       s.empty,
			Threshold:   s.threshold,
			HistorySize: len(s.history),
			LastEmitted: s.lastEmitted,
		}
	})
}
