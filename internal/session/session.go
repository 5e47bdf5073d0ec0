package session

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/skypro1111/overlay-transcriber/internal/audio"
	"github.com/skypro1111/overlay-transcriber/internal/config"
	"github.com/skypro1111/overlay-transcriber/internal/emitter"
	apperrors "github.com/skypro1111/overlay-transcriber/internal/errors"
	"github.com/skypro1111/overlay-transcriber/internal/events"
	"github.com/skypro1111/overlay-transcriber/internal/metrics"
	"github.com/skypro1111/overlay-transcriber/internal/postprocess"
	"github.com/skypro1111/overlay-transcriber/internal/queue"
	"github.com/skypro1111/overlay-transcriber/internal/resilience"
	"github.com/skypro1111/overlay-transcriber/internal/transcription"
	"github.com/skypro1111/overlay-transcriber/internal/vad"
)

// State is the session lifecycle state.
type State string

const (
	StateIdle    State = "idle"
	StateRunning State = "running"
	StatePaused  State = "paused"
	StateStopped State = "stopped"
)

// Source delivers PCM frames. The Frames channel is closed when the source
// is exhausted.
type Source interface {
	Frames() <-chan audio.Frame
	Start(ctx context.Context) error
	Stop()
}

// Options carries the collaborators shared with the rest of the process.
type Options struct {
	Hub     *events.Hub
	Metrics *metrics.Metrics // a private registry is used when nil
	Logger  *slog.Logger
}

// Stats represents session statistics
type Stats struct {
	SessionID      string                     `json:"session_id"`
	State          State                      `json:"state"`
	StartedAt      time.Time                  `json:"started_at"`
	Uptime         string                     `json:"uptime"`
	FramesReceived uint64                     `json:"frames_received"`
	FramesIgnored  uint64                     `json:"frames_ignored"`
	FrameErrors    uint64                     `json:"frame_errors"`
	Chunker        audio.ChunkerStats         `json:"chunker"`
	Queue          queue.Stats                `json:"queue"`
	Transcription  transcription.InvokerStats `json:"transcription"`
	PostProcess    postprocess.Stats          `json:"postprocess"`
	Emitter        emitter.Stats              `json:"emitter"`
	Parameters     map[string]float64         `json:"parameters"`
}

// Session owns every pipeline stage for one capture source at a time.
// The frame loop is the only producer; the scheduler's workers are the
// only consumers.
type Session struct {
	cfg     *config.Config
	hub     *events.Hub
	metrics *metrics.Metrics
	logger  *slog.Logger

	chunker  *audio.Chunker
	invoker  *transcription.Invoker
	pipeline *postprocess.Pipeline
	emitter  *emitter.Emitter
	params   *config.Parameters

	levelInterval time.Duration
	bufferSize    int

	mu          sync.Mutex
	id          string
	state       State
	startedAt   time.Time
	source      Source
	queueCfg    queue.Config
	scheduler   *queue.Scheduler
	stopLoop    context.CancelFunc
	stopWorkers context.CancelFunc
	loopDone    chan struct{}

	framesReceived atomic.Uint64
	framesIgnored  atomic.Uint64
	frameErrors    atomic.Uint64
	lastLevel      atomic.Int64
}

// New builds every stage from cfg. Failures are initialization errors and
// are reported to Sentry.
func New(cfg *config.Config, engine transcription.Engine, opts Options) (*Session, error) {
	s, err := build(cfg, engine, opts)
	if err != nil {
		captureError(err, nil)
		return nil, err
	}
	return s, nil
}

func build(cfg *config.Config, engine transcription.Engine, opts Options) (*Session, error) {
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	hub := opts.Hub
	if hub == nil {
		hub = events.NewHub()
	}
	m := opts.Metrics
	if m == nil {
		m = metrics.NewMetrics(prometheus.NewRegistry())
	}

	chunkCfg := ChunkingConfig(cfg)
	chunker, err := audio.NewChunker(chunkCfg)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInitialization, "failed to create chunker")
	}

	queueCfg := QueueConfig(cfg)
	if err := queueCfg.Validate(); err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInitialization, "invalid queue settings")
	}

	pipeline, err := postprocess.NewPipeline(cfg.PostProcess, logger)
	if err != nil {
		return nil, err
	}

	em, err := emitter.New(emitter.Config{
		ConfidenceThreshold: cfg.Emitter.ConfidenceThreshold,
		HistorySize:         cfg.Emitter.HistorySize,
	}, hub, logger)
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInitialization, "failed to create emitter")
	}

	params, err := config.NewParameters(cfg.RuntimeParameters())
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInitialization, "invalid runtime parameters")
	}

	invoker, err := transcription.NewInvoker(engine, InvokerConfig(cfg), logger)
	if err != nil {
		return nil, err
	}

	s := &Session{
		cfg:           cfg,
		hub:           hub,
		metrics:       m,
		logger:        logger,
		chunker:       chunker,
		invoker:       invoker,
		pipeline:      pipeline,
		emitter:       em,
		params:        params,
		levelInterval: cfg.Audio.GetLevelInterval(),
		bufferSize:    chunkCfg.MaxBufferSize,
		state:         StateIdle,
		queueCfg:      queueCfg,
	}

	pipeline.OnStage = func(stage postprocess.Stage, elapsed time.Duration) {
		m.RecordStage(string(stage), elapsed)
	}
	invoker.Breaker().OnStateChange(func(from, to resilience.State) {
		m.SetBreakerState(int(to))
		logger.Warn("Engine circuit breaker changed state",
			slog.String("from", from.String()),
			slog.String("to", to.String()))
	})

	return s, nil
}

// ID returns the current session ID, empty before the first Start.
func (s *Session) ID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.id
}

// State returns the lifecycle state.
func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Start begins a new session reading from src. Chunk numbering, the
// transcript history and the queue start fresh; speaker profiles and the
// detected language survive until Reset.
func (s *Session) Start(ctx context.Context, src Source) error {
	if src == nil {
		return apperrors.New(apperrors.KindValidation, "capture source is required")
	}

	s.mu.Lock()
	if s.state == StateRunning || s.state == StatePaused {
		defer s.mu.Unlock()
		return apperrors.Newf(apperrors.KindValidation, "session %s is already %s", s.id, s.state)
	}
	id, err := s.begin(ctx, src)
	mode := s.queueCfg.Mode
	s.mu.Unlock()
	if err != nil {
		captureError(err, nil)
		return err
	}

	s.metrics.RecordSessionStarted()
	s.logger.Info("Session started",
		slog.String("session_id", id),
		slog.Int("sample_rate", s.cfg.Audio.SampleRate),
		slog.String("queue_mode", mode.String()))
	s.publishState(StateRunning)
	return nil
}

// begin wires a fresh scheduler and starts the source. s.mu is held.
func (s *Session) begin(ctx context.Context, src Source) (string, error) {
	scheduler, err := queue.NewScheduler(s.queueCfg, s.transcribe, s.logger)
	if err != nil {
		return "", apperrors.Wrap(err, apperrors.KindInitialization, "failed to create scheduler")
	}
	scheduler.OnDrop(s.onDrop)
	scheduler.OnBatch(s.metrics.RecordBatch)
	scheduler.OnError(s.onJobError)

	s.chunker.Reset()
	s.emitter.Start(time.Time{})

	loopCtx, stopLoop := context.WithCancel(ctx)
	workerCtx, stopWorkers := context.WithCancel(context.WithoutCancel(ctx))

	if err := src.Start(loopCtx); err != nil {
		stopLoop()
		stopWorkers()
		return "", apperrors.Wrap(err, apperrors.KindInitialization, "failed to start capture source")
	}

	s.id = uuid.NewString()
	s.state = StateRunning
	s.startedAt = time.Now()
	s.source = src
	s.scheduler = scheduler
	s.stopLoop = stopLoop
	s.stopWorkers = stopWorkers
	s.loopDone = make(chan struct{})
	s.framesReceived.Store(0)
	s.framesIgnored.Store(0)
	s.frameErrors.Store(0)
	s.lastLevel.Store(0)

	scheduler.Start(workerCtx)
	s.chunker.StartCleanup(loopCtx, func(purged int) {
		s.logger.Debug("Purged retained chunks", slog.Int("count", purged))
	})
	go s.frameLoop(loopCtx, src, s.loopDone)
	return s.id, nil
}

// frameLoop is the single producer: it feeds every frame to the chunker and
// submits the completed chunks in order.
func (s *Session) frameLoop(ctx context.Context, src Source, done chan struct{}) {
	defer close(done)

	frames := src.Frames()
	first := true
	for {
		select {
		case <-ctx.Done():
			return
		case frame, ok := <-frames:
			if !ok {
				s.logger.Info("Capture source exhausted", slog.String("session_id", s.ID()))
				return
			}
			s.framesReceived.Add(1)
			if s.State() == StatePaused {
				s.framesIgnored.Add(1)
				continue
			}
			if first {
				first = false
				start := frame.Timestamp
				if start.IsZero() {
					start = time.Now()
				}
				s.emitter.Start(start)
			}
			s.handleFrame(frame)
		}
	}
}

func (s *Session) handleFrame(frame audio.Frame) {
	res, err := s.chunker.Push(frame)
	if err != nil {
		s.frameErrors.Add(1)
		s.metrics.RecordFrameError()
		s.logger.Warn("Rejected capture frame",
			slog.Int("bytes", len(frame.PCM)),
			slog.String("error", err.Error()))
		return
	}

	s.metrics.RecordFrame(res.Level, res.TrimmedBytes)
	s.publishLevel(res.Level)
	if res.TrimmedBytes > 0 {
		s.logger.Warn("Audio buffer overflow, oldest bytes dropped", slog.Int("bytes", res.TrimmedBytes))
		s.hub.Publish(events.BufferTrimmed{Bytes: res.TrimmedBytes, BufferSize: s.bufferSize})
	}
	s.dispatch(res)
}

// publishLevel rate-limits audio-level events to one per level interval.
func (s *Session) publishLevel(level float64) {
	now := time.Now().UnixNano()
	last := s.lastLevel.Load()
	if last != 0 && time.Duration(now-last) < s.levelInterval {
		return
	}
	if s.lastLevel.CompareAndSwap(last, now) {
		s.hub.Publish(events.AudioLevel{Level: level})
	}
}

// dispatch reports skipped chunks and submits ready ones in ID order.
func (s *Session) dispatch(res audio.PushResult) {
	for _, chunk := range res.Skipped {
		s.metrics.RecordChunkSkipped()
		ev := events.ChunkSkipped{ChunkID: chunk.ID, StartTime: chunk.StartTime}
		if chunk.Voice != nil {
			ev.RmsDb = chunk.Voice.RmsDb
			ev.ZCR = chunk.Voice.ZCR
		}
		s.hub.Publish(ev)
	}

	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()
	if scheduler == nil {
		return
	}

	for _, chunk := range res.Ready {
		s.metrics.RecordChunkGenerated(chunk.Duration(), chunk.Size)
		s.hub.Publish(events.AudioStats{ChunkID: chunk.ID, Stats: chunk.Stats})

		if err := scheduler.Submit(chunk); err != nil && !apperrors.IsKind(err, apperrors.KindQueueOverflow) {
			s.logger.Warn("Chunk not queued",
				slog.Uint64("chunk_id", chunk.ID),
				slog.String("error", err.Error()))
		}
		s.metrics.SetQueueSize(scheduler.Len())
	}
}

// transcribe is the scheduler handler: invoke, post-process, emit.
func (s *Session) transcribe(ctx context.Context, job queue.Job) error {
	start := time.Now()
	res, err := s.invoker.Invoke(ctx, job.Chunk)
	if err != nil {
		s.metrics.RecordTranscriptionFailure(time.Since(start), apperrors.KindOf(err).String())
		return err
	}
	s.metrics.RecordTranscriptionSuccess(time.Since(start), res.Confidence)

	s.pipeline.Process(&res, job.Chunk)

	emitted := s.emitter.Emit(res)
	if strings.TrimSpace(res.Text) != "" {
		s.metrics.RecordResult(emitted)
	}
	return nil
}

func (s *Session) onDrop(job queue.Job) {
	s.metrics.RecordChunkDropped()
	s.mu.Lock()
	size := s.queueCfg.MaxQueueSize
	s.mu.Unlock()

	s.logger.Warn("Queue full, dropped oldest chunk",
		slog.Uint64("chunk_id", job.Chunk.ID),
		slog.Int("queue_size", size))
	s.hub.Publish(events.ChunkDropped{ChunkID: job.Chunk.ID, QueueSize: size})
}

func (s *Session) onJobError(job queue.Job, err error) {
	kind := apperrors.KindOf(err)
	s.hub.Publish(events.TranscriptionError{
		ChunkID: job.Chunk.ID,
		Kind:    kind.String(),
		Message: err.Error(),
	})
	captureError(err, map[string]string{
		"chunk_id":   fmt.Sprint(job.Chunk.ID),
		"session_id": s.ID(),
	})
}

// Pause ignores incoming frames until Resume. Queued chunks keep draining.
func (s *Session) Pause() error {
	return s.transition(StateRunning, StatePaused)
}

// Resume continues a paused session.
func (s *Session) Resume() error {
	return s.transition(StatePaused, StateRunning)
}

func (s *Session) transition(from, to State) error {
	s.mu.Lock()
	if s.state != from {
		state := s.state
		s.mu.Unlock()
		return apperrors.Newf(apperrors.KindValidation, "cannot move session from %s to %s", state, to)
	}
	s.state = to
	s.mu.Unlock()

	s.logger.Info("Session state changed", slog.String("session_id", s.ID()), slog.String("state", string(to)))
	s.publishState(to)
	return nil
}

// Stop halts capture, lets in-flight jobs finish and discards queued jobs
// without reporting them. Trailing audio shorter than a chunk is dropped.
func (s *Session) Stop() error {
	s.mu.Lock()
	if s.state != StateRunning && s.state != StatePaused {
		state := s.state
		s.mu.Unlock()
		return apperrors.Newf(apperrors.KindValidation, "session is not running (%s)", state)
	}
	src, scheduler := s.source, s.scheduler
	stopLoop, stopWorkers, loopDone := s.stopLoop, s.stopWorkers, s.loopDone
	startedAt := s.startedAt
	s.state = StateStopped
	s.mu.Unlock()

	src.Stop()
	stopLoop()
	<-loopDone

	cleared := scheduler.Stop()
	stopWorkers()
	s.metrics.SetQueueSize(0)

	duration := time.Since(startedAt)
	s.metrics.RecordSessionStopped(duration)
	s.logger.Info("Session stopped",
		slog.String("session_id", s.ID()),
		slog.Duration("duration", duration),
		slog.Int("cleared_jobs", cleared),
		slog.Int("dropped_tail_bytes", s.chunker.BufferedBytes()),
		slog.Uint64("frames", s.framesReceived.Load()))
	s.publishState(StateStopped)
	return nil
}

// Wait blocks until the frame loop of the current session ends, either
// because the source ran dry or the session was stopped.
func (s *Session) Wait(ctx context.Context) error {
	s.mu.Lock()
	done := s.loopDone
	s.mu.Unlock()
	if done == nil {
		return nil
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Drain waits until the queue is empty and no batch is running.
func (s *Session) Drain(ctx context.Context) error {
	s.mu.Lock()
	scheduler := s.scheduler
	s.mu.Unlock()
	if scheduler == nil {
		return nil
	}

	ticker := time.NewTicker(20 * time.Millisecond)
	defer ticker.Stop()
	for {
		st := scheduler.GetStats()
		if st.QueueLength == 0 && st.State != queue.StateDraining {
			return nil
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
		}
	}
}

// Reset clears session state: buffered audio, retained chunks, speaker
// profiles, the detected language and the transcript history. The
// vocabulary and runtime parameters are kept. A running session must be
// stopped first.
func (s *Session) Reset() error {
	s.mu.Lock()
	if s.state == StateRunning || s.state == StatePaused {
		s.mu.Unlock()
		return apperrors.New(apperrors.KindValidation, "stop the session before resetting it")
	}
	dropped := s.chunker.Reset()
	s.pipeline.Reset()
	s.emitter.Start(time.Time{})
	if s.scheduler != nil {
		s.scheduler.Clear()
	}
	s.state = StateIdle
	id := s.id
	s.mu.Unlock()

	s.logger.Info("Session reset", slog.String("session_id", id), slog.Int("dropped_bytes", dropped))
	s.publishState(StateIdle)
	return nil
}

// UpdateParameter validates and applies one runtime parameter. A rejected
// value leaves the previous one in effect.
func (s *Session) UpdateParameter(name string, raw interface{}) (config.ParameterUpdate, error) {
	update, err := s.params.Check(name, raw)
	if err != nil {
		return config.ParameterUpdate{}, err
	}

	switch name {
	case config.ParamConfidenceThreshold:
		if err := s.emitter.SetThreshold(update.NewValue); err != nil {
			return config.ParameterUpdate{}, err
		}
	case config.ParamMaxParallelChunks:
		n := int(update.NewValue)
		s.mu.Lock()
		s.queueCfg.MaxParallel = n
		scheduler := s.scheduler
		s.mu.Unlock()
		if scheduler != nil {
			if err := scheduler.SetMaxParallel(n); err != nil {
				return config.ParameterUpdate{}, err
			}
		}
	default:
		res, err := s.chunker.UpdateParameter(name, update.NewValue)
		if err != nil {
			return config.ParameterUpdate{}, err
		}
		s.dispatch(res)
	}

	if update, err = s.params.Set(name, update.NewValue); err != nil {
		return config.ParameterUpdate{}, err
	}

	s.logger.Info("Parameter updated",
		slog.String("name", name),
		slog.Float64("old", update.OldValue),
		slog.Float64("new", update.NewValue))
	s.hub.Publish(events.ParameterUpdated{Name: name, OldValue: update.OldValue, NewValue: update.NewValue})
	return update, nil
}

// SetQueueMode switches between sequential and parallel processing.
func (s *Session) SetQueueMode(parallel bool) error {
	mode := queue.Sequential
	if parallel {
		mode = queue.Parallel
	}
	s.mu.Lock()
	s.queueCfg.Mode = mode
	maxParallel := s.queueCfg.MaxParallel
	scheduler := s.scheduler
	s.mu.Unlock()

	if scheduler != nil {
		return scheduler.SetMode(mode, maxParallel)
	}
	return nil
}

// Parameters returns the current runtime parameter values.
func (s *Session) Parameters() map[string]float64 {
	return s.params.Snapshot()
}

// Chunk returns a retained chunk by ID.
func (s *Session) Chunk(id uint64) (*audio.Chunk, bool) {
	return s.chunker.Get(id)
}

// VoiceSegments returns the voiced runs of a retained chunk.
func (s *Session) VoiceSegments(chunk *audio.Chunk) []vad.Segment {
	return s.chunker.VoiceSegments(chunk)
}

// Pipeline exposes the post-processing stages for runtime edits.
func (s *Session) Pipeline() *postprocess.Pipeline {
	return s.pipeline
}

// History returns the emitted results of the current transcript.
func (s *Session) History() []emitter.Entry {
	return s.emitter.History()
}

// ExportSRT writes the current transcript as SubRip subtitles.
func (s *Session) ExportSRT(w io.Writer) error {
	return s.emitter.ExportSRT(w)
}

// SetLanguage changes the engine language hint and the detector's current
// language, and picks the matching model.
func (s *Session) SetLanguage(code string) error {
	lang := s.pipeline.Language()
	if err := lang.SetLanguage(code); err != nil {
		return apperrors.Wrap(err, apperrors.KindValidation, "invalid language")
	}
	s.invoker.SetLanguage(code)
	s.invoker.SetModel(lang.ModelFor(code))
	return nil
}

// GetStats returns session statistics.
func (s *Session) GetStats() Stats {
	s.mu.Lock()
	st := Stats{
		SessionID: s.id,
		State:     s.state,
		StartedAt: s.startedAt,
	}
	scheduler := s.scheduler
	s.mu.Unlock()

	if !st.StartedAt.IsZero() {
		st.Uptime = time.Since(st.StartedAt).Round(time.Second).String()
	}
	st.FramesReceived = s.framesReceived.Load()
	st.FramesIgnored = s.framesIgnored.Load()
	st.FrameErrors = s.frameErrors.Load()
	st.Chunker = s.chunker.GetStats()
	if scheduler != nil {
		st.Queue = scheduler.GetStats()
	}
	st.Transcription = s.invoker.GetStats()
	st.PostProcess = s.pipeline.GetStats()
	st.Emitter = s.emitter.GetStats()
	st.Parameters = s.params.Snapshot()
	return st
}

// Close stops a running session and removes the invoker scratch directory.
func (s *Session) Close() error {
	if state := s.State(); state == StateRunning || state == StatePaused {
		if err := s.Stop(); err != nil {
			return err
		}
	}
	return s.invoker.Close()
}

func (s *Session) publishState(state State) {
	s.hub.Publish(events.SessionState{SessionID: s.ID(), State: string(state)})
}

// captureError reports err to Sentry. Without an initialized client this
// is a no-op.
func captureError(err error, tags map[string]string) {
	sentry.WithScope(func(scope *sentry.Scope) {
		scope.SetTag("kind", apperrors.KindOf(err).String())
		for k, v := range tags {
			scope.SetTag(k, v)
		}
		sentry.CaptureException(err)
	})
}
