package queue

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/skypro1111/overlay-transcriber/internal/audio"
	"github.com/skypro1111/overlay-transcriber/internal/config"
	apperrors "github.com/skypro1111/overlay-transcriber/internal/errors"
)

// Job is one chunk waiting for transcription.
type Job struct {
	Chunk      *audio.Chunk
	EnqueuedAt time.Time
}

// Handler processes one job. Errors are isolated to that job.
type Handler func(ctx context.Context, job Job) error

// Mode selects how many jobs run per batch.
type Mode int

const (
	Sequential Mode = iota
	Parallel
)

func (m Mode) String() string {
	if m == Parallel {
		return "parallel"
	}
	return "sequential"
}

// State is the scheduler lifecycle state.
type State string

const (
	StateIdle     State = "idle"
	StateDraining State = "draining"
	StateStopped  State = "stopped"
)

// Config contains scheduler settings
type Config struct {
	MaxQueueSize int
	Mode         Mode
	MaxParallel  int
}

// Validate checks the scheduler settings.
func (c Config) Validate() error {
	if c.MaxQueueSize < 1 {
		return fmt.Errorf("max queue size must be at least 1, got %d", c.MaxQueueSize)
	}
	if _, err := config.ValidateParameter(config.ParamMaxParallelChunks, c.MaxParallel); err != nil {
		return err
	}
	return nil
}

// Stats represents scheduler statistics
type Stats struct {
	Mode        string    `json:"mode"`
	MaxParallel int       `json:"max_parallel"`
	State       State     `json:"state"`
	QueueLength int       `json:"queue_length"`
	QueueCap    int       `json:"queue_capacity"`
	Enqueued    uint64    `json:"enqueued"`
	Processed   uint64    `json:"processed"`
	Failed      uint64    `json:"failed"`
	Dropped     uint64    `json:"dropped"`
	Batches     uint64    `json:"batches"`
	LastBatch   time.Time `json:"last_batch"`
}

// Scheduler drains the bounded queue in batches. A batch holds one job in
// sequential mode and up to MaxParallel jobs in parallel mode; every job of
// a batch finishes before the next batch starts.
type Scheduler struct {
	queue   *Bounded[Job]
	handler Handler
	logger  *slog.Logger

	mode        Mode
	maxParallel int
	state       State

	wake chan struct{}
	stop chan struct{}
	done chan struct{}

	onDrop  func(Job)
	onBatch func(size int)
	onError func(Job, error)

	enqueued  uint64
	processed uint64
	failed    uint64
	dropped   uint64
	batches   uint64
	lastBatch time.Time

	startOnce sync.Once
	stopOnce  sync.Once
	mu        sync.Mutex
}

// NewScheduler creates a scheduler. Call Start to begin draining.
func NewScheduler(cfg Config, handler Handler, logger *slog.Logger) (*Scheduler, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid scheduler config: %w", err)
	}
	if handler == nil {
		return nil, fmt.Errorf("scheduler handler is required")
	}

	return &Scheduler{
		queue:       NewBounded[Job](cfg.MaxQueueSize),
		handler:     handler,
		logger:      logger,
		mode:        cfg.Mode,
		maxParallel: cfg.MaxParallel,
		state:       StateIdle,
		wake:        make(chan struct{}, 1),
		stop:        make(chan struct{}),
		done:        make(chan struct{}),
	}, nil
}

// OnDrop registers a callback for jobs evicted by a full queue.
func (s *Scheduler) OnDrop(fn func(Job)) { s.onDrop = fn }

// OnBatch registers a callback invoked with each batch size before it runs.
func (s *Scheduler) OnBatch(fn func(size int)) { s.onBatch = fn }

// OnError registers a callback for failed jobs.
func (s *Scheduler) OnError(fn func(Job, error)) { s.onError = fn }

// Submit enqueues a chunk. When the queue is full the oldest job is
// dropped, reported through OnDrop, and a QueueOverflow error describing
// the evicted chunk is returned. The new chunk is always accepted.
func (s *Scheduler) Submit(chunk *audio.Chunk) error {
	s.mu.Lock()
	if s.state == StateStopped {
		s.mu.Unlock()
		return apperrors.New(apperrors.KindValidation, "scheduler is stopped")
	}
	s.enqueued++
	s.mu.Unlock()

	evicted, dropped := s.queue.Enqueue(Job{Chunk: chunk, EnqueuedAt: time.Now()})
	s.signal()

	if !dropped {
		return nil
	}

	s.mu.Lock()
	s.dropped++
	s.mu.Unlock()

	if s.onDrop != nil {
		s.onDrop(evicted)
	}
	return apperrors.Newf(apperrors.KindQueueOverflow, "queue full, dropped chunk %d", evicted.Chunk.ID).
		WithMetadata("chunk_id", fmt.Sprint(evicted.Chunk.ID))
}

func (s *Scheduler) signal() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// Start launches the drain loop. Handlers receive ctx.
func (s *Scheduler) Start(ctx context.Context) {
	s.startOnce.Do(func() {
		go s.run(ctx)
		s.signal()
	})
}

func (s *Scheduler) run(ctx context.Context) {
	defer close(s.done)

	for {
		select {
		case <-s.stop:
			return
		case <-ctx.Done():
			return
		case <-s.wake:
			s.drain(ctx)
		}
	}
}

// drain runs batches until the queue is empty or the scheduler is stopping.
func (s *Scheduler) drain(ctx context.Context) {
	s.setState(StateDraining)
	defer s.setState(StateIdle)

	for {
		select {
		case <-s.stop:
			return
		default:
		}

		batch := s.queue.DrainUpTo(s.batchSize())
		if len(batch) == 0 {
			return
		}
		s.runBatch(ctx, batch)
	}
}

func (s *Scheduler) batchSize() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.mode == Parallel {
		return s.maxParallel
	}
	return 1
}

func (s *Scheduler) runBatch(ctx context.Context, batch []Job) {
	if s.onBatch != nil {
		s.onBatch(len(batch))
	}

	var wg sync.WaitGroup
	for _, job := range batch {
		wg.Add(1)
		go func(job Job) {
			defer wg.Done()
			s.runJob(ctx, job)
		}(job)
	}
	wg.Wait()

	s.mu.Lock()
	s.batches++
	s.lastBatch = time.Now()
	s.mu.Unlock()

	s.logger.Debug("Batch completed",
		slog.Int("size", len(batch)),
		slog.Int("remaining", s.queue.Len()),
	)
}

func (s *Scheduler) runJob(ctx context.Context, job Job) {
	var err error
	func() {
		defer func() {
			if r := recover(); r != nil {
				err = apperrors.Newf(apperrors.KindInvocation, "handler panic: %v", r)
			}
		}()
		err = s.handler(ctx, job)
	}()

	s.mu.Lock()
	if err != nil {
		s.failed++
	} else {
		s.processed++
	}
	s.mu.Unlock()

	if err != nil {
		s.logger.Warn("Transcription job failed",
			slog.Uint64("chunk_id", job.Chunk.ID),
			slog.Duration("queued_for", time.Since(job.EnqueuedAt)),
			slog.String("error", err.Error()),
		)
		if s.onError != nil {
			s.onError(job, err)
		}
	}
}

// SetMode switches between sequential and parallel draining. It takes
// effect from the next batch.
func (s *Scheduler) SetMode(mode Mode, maxParallel int) error {
	if _, err := config.ValidateParameter(config.ParamMaxParallelChunks, maxParallel); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
	s.maxParallel = maxParallel
	return nil
}

// SetMaxParallel changes the parallel batch size and keeps the mode.
func (s *Scheduler) SetMaxParallel(maxParallel int) error {
	s.mu.Lock()
	mode := s.mode
	s.mu.Unlock()
	return s.SetMode(mode, maxParallel)
}

// SetMaxQueueSize resizes the queue. Jobs evicted by shrinking are
// reported through OnDrop.
func (s *Scheduler) SetMaxQueueSize(n int) error {
	if n < 1 {
		return apperrors.Newf(apperrors.KindValidation, "max queue size must be at least 1, got %d", n)
	}
	evicted := s.queue.SetCapacity(n)

	s.mu.Lock()
	s.dropped += uint64(len(evicted))
	s.mu.Unlock()

	if s.onDrop != nil {
		for _, job := range evicted {
			s.onDrop(job)
		}
	}
	return nil
}

// Clear removes all pending jobs without reporting them.
func (s *Scheduler) Clear() int {
	return s.queue.Clear()
}

// Len returns the number of pending jobs.
func (s *Scheduler) Len() int {
	return s.queue.Len()
}

// Stop waits for the in-flight batch to finish, then discards pending
// jobs silently. Submit fails afterwards.
func (s *Scheduler) Stop() int {
	cleared := 0
	s.stopOnce.Do(func() {
		close(s.stop)
		if s.wasStarted() {
			<-s.done
		}

		s.setState(StateStopped)
		cleared = s.queue.Clear()
		s.logger.Info("Scheduler stopped", slog.Int("cleared_jobs", cleared))
	})
	return cleared
}

// wasStarted reports whether Start ran and prevents it from running later.
func (s *Scheduler) wasStarted() bool {
	started := true
	s.startOnce.Do(func() {
		started = false
		close(s.done)
	})
	return started
}

func (s *Scheduler) setState(state State) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateStopped {
		return
	}
	s.state = state
}

// GetStats returns current scheduler statistics
func (s *Scheduler) GetStats() Stats {
	s.mu.Lock()
	defer s.mu.Unlock()

	return Stats{
		Mode:        s.mode.String(),
		MaxParallel: s.maxParallel,
		State:       s.state,
		QueueLength: s.queue.Len(),
		QueueCap:    s.queue.Cap(),
		Enqueued:    s.enqueued,
		Processed:   s.processed,
		Failed:      s.failed,
		Dropped:     s.dropped,
		Batches:     s.batches,
		LastBatch:   s.lastBatch,
	}
}
