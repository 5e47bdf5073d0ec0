package transcription

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/skypro1111/overlay-transcriber/internal/audio"
	apperrors "github.com/skypro1111/overlay-transcriber/internal/errors"
	"github.com/skypro1111/overlay-transcriber/internal/resilience"
)

// InvokerConfig contains invoker configuration
type InvokerConfig struct {
	Model    string
	Language string
	Timeout  time.Duration // per engine call
	TempDir  string        // parent of the per-invoker scratch directory
	Retry    resilience.RetryConfig
	Breaker  resilience.Config
}

// Invoker writes chunks to temporary WAV files and runs them through an
// engine. It is safe for concurrent use by the scheduler's workers.
type Invoker struct {
	engine  Engine
	config  InvokerConfig
	tempDir string
	breaker *resilience.Breaker
	logger  *slog.Logger
	now     func() time.Time

	model    string
	language string

	// Statistics
	totalProcessed  uint64
	totalErrors     uint64
	totalRetries    uint64
	cleanupFailures uint64
	totalTime       time.Duration

	mu sync.RWMutex
}

// InvokerStats represents invoker statistics
type InvokerStats struct {
	Engine                string                  `json:"engine"`
	Model                 string                  `json:"model"`
	Language              string                  `json:"language"`
	TotalProcessed        uint64                  `json:"total_processed"`
	TotalErrors           uint64                  `json:"total_errors"`
	TotalRetries          uint64                  `json:"total_retries"`
	CleanupFailures       uint64                  `json:"cleanup_failures"`
	AverageProcessingTime time.Duration           `json:"average_processing_time"`
	Breaker               resilience.BreakerStats `json:"breaker"`
}

// NewInvoker creates the scratch directory and wires the breaker. A
// failure here is an initialization failure.
func NewInvoker(engine Engine, cfg InvokerConfig, logger *slog.Logger) (*Invoker, error) {
	if engine == nil {
		return nil, apperrors.New(apperrors.KindInitialization, "transcription engine is required")
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if logger == nil {
		logger = slog.Default()
	}

	tempDir, err := os.MkdirTemp(cfg.TempDir, "overlay-transcriber-")
	if err != nil {
		return nil, apperrors.Wrap(err, apperrors.KindInitialization, "failed to create temp directory")
	}

	retryable := func(err error) bool {
		return apperrors.IsRetryable(err) && !IsPermanent(err)
	}
	cfg.Retry.IsRetryable = retryable
	cfg.Retry.Logger = logger

	return &Invoker{
		engine:   engine,
		config:   cfg,
		tempDir:  tempDir,
		breaker:  resilience.NewBreaker(engine.Name(), cfg.Breaker, logger),
		logger:   logger,
		now:      time.Now,
		model:    cfg.Model,
		language: cfg.Language,
	}, nil
}

// Breaker exposes the engine circuit breaker for metrics hooks.
func (i *Invoker) Breaker() *resilience.Breaker {
	return i.breaker
}

// TempDir returns the scratch directory holding in-flight WAV files.
func (i *Invoker) TempDir() string {
	return i.tempDir
}

// SetLanguage changes the language hint for subsequent calls.
func (i *Invoker) SetLanguage(language string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.language = language
}

// SetModel changes the model for subsequent calls.
func (i *Invoker) SetModel(model string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.model = model
}

// Invoke transcribes one chunk. The temporary WAV file is removed whatever
// the outcome; a failed removal is logged and counted, never returned.
func (i *Invoker) Invoke(ctx context.Context, chunk *audio.Chunk) (Result, error) {
	start := i.now()
	chunkID := strconv.FormatUint(chunk.ID, 10)

	path := filepath.Join(i.tempDir, fmt.Sprintf("chunk_%d_%d.wav", chunk.ID, start.UnixMilli()))
	if err := audio.WriteWAVFile(path, chunk.Data, chunk.SampleRate); err != nil {
		i.recordFailure()
		return Result{}, apperrors.Wrap(err, apperrors.KindInvocation, "failed to write chunk audio").
			WithMetadata("chunk_id", chunkID)
	}
	defer i.cleanup(path, chunk.ID)

	i.mu.RLock()
	req := Request{
		AudioPath:  path,
		Model:      i.model,
		Language:   i.language,
		SampleRate: chunk.SampleRate,
		ChunkID:    chunk.ID,
	}
	i.mu.RUnlock()

	var output Output
	err := resilience.Retry(ctx, i.config.Retry, func(attempt int) error {
		if attempt > 0 {
			i.mu.Lock()
			i.totalRetries++
			i.mu.Unlock()
		}

		callCtx, cancel := context.WithTimeout(ctx, i.config.Timeout)
		defer cancel()

		out, err := resilience.Execute(i.breaker, func() (Output, error) {
			return i.engine.Transcribe(callCtx, req)
		})
		if err != nil {
			if errors.Is(callCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
				return apperrors.Wrapf(err, apperrors.KindInvocation, "engine timed out after %v", i.config.Timeout).
					WithMetadata("chunk_id", chunkID)
			}
			return apperrors.Wrap(err, apperrors.KindInvocation, "engine call failed").
				WithMetadata("chunk_id", chunkID)
		}
		output = out
		return nil
	})
	if err != nil {
		i.recordFailure()
		if !apperrors.IsKind(err, apperrors.KindInvocation) {
			err = apperrors.Wrap(err, apperrors.KindInvocation, "transcription aborted").
				WithMetadata("chunk_id", chunkID)
		}
		return Result{}, err
	}

	elapsed := i.now().Sub(start)
	i.recordSuccess(elapsed)

	text, _ := output.Normalize()
	language := output.Language
	if language == "" {
		language = req.Language
	}

	return Result{
		ChunkID:        chunk.ID,
		Text:           text,
		StartTime:      chunk.StartTime,
		EndTime:        chunk.EndTime,
		Confidence:     EstimateConfidence(output),
		ProcessingTime: elapsed,
		Engine:         i.engine.Name(),
		Language:       language,
		Segments:       output.Segments,
		IsFinal:        true,
	}, nil
}

func (i *Invoker) cleanup(path string, chunkID uint64) {
	err := os.Remove(path)
	if err == nil || errors.Is(err, fs.ErrNotExist) {
		return
	}

	i.mu.Lock()
	i.cleanupFailures++
	i.mu.Unlock()

	cleanupErr := apperrors.Wrap(err, apperrors.KindResourceCleanup, "failed to remove temporary audio file").
		WithMetadata("path", path)
	i.logger.Warn("Temporary file cleanup failed",
		slog.Uint64("chunk_id", chunkID),
		slog.String("error", cleanupErr.Error()),
	)
}

func (i *Invoker) recordSuccess(elapsed time.Duration) {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.totalProcessed++
	i.totalTime += elapsed
}

func (i *Invoker) recordFailure() {
	i.mu.Lock()
	defer i.mu.Unlock()
	i.totalProcessed++
	i.totalErrors++
}

// GetStats returns current invoker statistics
func (i *Invoker) GetStats() InvokerStats {
	i.mu.RLock()
	defer i.mu.RUnlock()

	var avg time.Duration
	if ok := i.totalProcessed - i.totalErrors; ok > 0 {
		avg = i.totalTime / time.Duration(ok)
	}

	return InvokerStats{
		Engine:                i.engine.Name(),
		Model:                 i.model,
		Language:              i.language,
		TotalProcessed:        i.totalProcessed,
		TotalErrors:           i.totalErrors,
		TotalRetries:          i.totalRetries,
		CleanupFailures:       i.cleanupFailures,
		AverageProcessingTime: avg,
		Breaker:               i.breaker.Stats(),
	}
}

// Close removes the scratch directory.
func (i *Invoker) Close() error {
	if err := os.RemoveAll(i.tempDir); err != nil {
		return apperrors.Wrap(err, apperrors.KindResourceCleanup, "failed to remove temp directory").
			WithMetadata("path", i.tempDir)
	}
	return nil
}
