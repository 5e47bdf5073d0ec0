package audio

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/skypro1111/overlay-transcriber/internal/config"
	"github.com/skypro1111/overlay-transcriber/internal/dsp"
	"github.com/skypro1111/overlay-transcriber/internal/vad"
)

// Chunk is a fixed-duration slice of the input after DSP.
type Chunk struct {
	ID         uint64        `json:"id"`
	Data       []byte        `json:"-"`
	StartTime  time.Time     `json:"start_time"`
	EndTime    time.Time     `json:"end_time"`
	SampleRate int           `json:"sample_rate"`
	Size       int           `json:"size_bytes"`
	Stats      dsp.Stats     `json:"audio_stats"`
	Voice      *vad.Activity `json:"voice_activity,omitempty"`
	CreatedAt  time.Time     `json:"created_at"`
}

// Duration returns EndTime - StartTime.
func (c *Chunk) Duration() time.Duration {
	return c.EndTime.Sub(c.StartTime)
}

// ChunkingConfig contains configuration for the chunking process
type ChunkingConfig struct {
	SampleRate      int
	ChunkDuration   time.Duration
	Overlap         time.Duration
	MaxBufferSize   int
	RetentionPeriod time.Duration
	CleanupInterval time.Duration

	EnableNormalization bool
	NormalizationTarget float64 // dB peak
	EnableHighPass      bool
	HighPassCutoff      float64 // Hz
	EnableAGC           bool
	AGCTargetLevel      float64 // dB RMS
	AGCAttackTime       float64 // seconds
	AGCReleaseTime      float64 // seconds

	EnableSilenceDetection bool
	EnableAdvancedVAD      bool
	SilenceThreshold       float64 // dB
	VADEnergyThreshold     float64 // dB
	VADFrameSize           int     // samples
}

// DefaultChunkingConfig returns 2 s chunks with 500 ms overlap at 16 kHz
// and every DSP stage enabled.
func DefaultChunkingConfig() ChunkingConfig {
	return ChunkingConfig{
		SampleRate:      16000,
		ChunkDuration:   2000 * time.Millisecond,
		Overlap:         500 * time.Millisecond,
		MaxBufferSize:   10 * 1024 * 1024,
		RetentionPeriod: 5 * time.Minute,
		CleanupInterval: 30 * time.Second,

		EnableNormalization: true,
		NormalizationTarget: -20,
		EnableHighPass:      true,
		HighPassCutoff:      300,
		EnableAGC:           true,
		AGCTargetLevel:      -20,
		AGCAttackTime:       0.01,
		AGCReleaseTime:      0.1,

		EnableSilenceDetection: true,
		EnableAdvancedVAD:      true,
		SilenceThreshold:       vad.DefaultSilenceThresholdDb,
		VADEnergyThreshold:     vad.DefaultEnergyThresholdDb,
		VADFrameSize:           vad.DefaultFrameSize,
	}
}

func durationBytes(d time.Duration, sampleRate int) int {
	samples := int(d.Milliseconds() * int64(sampleRate) / 1000)
	return samples * bytesPerSample
}

// ChunkSizeBytes is chunkDuration × sampleRate × 2, sample aligned.
func (c ChunkingConfig) ChunkSizeBytes() int {
	return durationBytes(c.ChunkDuration, c.SampleRate)
}

// OverlapSizeBytes is overlap × sampleRate × 2, sample aligned.
func (c ChunkingConfig) OverlapSizeBytes() int {
	return durationBytes(c.Overlap, c.SampleRate)
}

// Validate checks the structural settings. Runtime parameter ranges are
// checked separately through config.ValidateParameter.
func (c ChunkingConfig) Validate() error {
	if c.SampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", c.SampleRate)
	}
	if c.ChunkSizeBytes() <= 0 {
		return fmt.Errorf("chunk duration must be positive, got %v", c.ChunkDuration)
	}
	if c.Overlap < 0 || c.Overlap >= c.ChunkDuration {
		return fmt.Errorf("overlap must be in [0, %v), got %v", c.ChunkDuration, c.Overlap)
	}
	if c.MaxBufferSize < c.ChunkSizeBytes() {
		return fmt.Errorf("max buffer size %d is smaller than one chunk (%d bytes)", c.MaxBufferSize, c.ChunkSizeBytes())
	}
	if c.VADFrameSize <= 1 {
		return fmt.Errorf("VAD frame size must be greater than 1, got %d", c.VADFrameSize)
	}
	return nil
}

// PushResult reports everything that happened while absorbing one frame.
type PushResult struct {
	Ready        []*Chunk // forward to the queue
	Skipped      []*Chunk // rejected by VAD
	TrimmedBytes int      // dropped by buffer overflow
	Level        float64  // mean |s| of the pushed frame
}

type retainedChunk struct {
	chunk    *Chunk
	storedAt time.Time
}

// Chunker turns a continuous PCM stream into overlapping fixed-size chunks,
// applying normalize, high-pass and AGC to each before the VAD decision.
type Chunker struct {
	config   ChunkingConfig
	buffer   *Buffer
	detector *vad.Detector
	agc      dsp.AGCState

	chunkSize   int
	overlapSize int

	counter      uint64
	sessionStart time.Time
	retained     map[uint64]retainedChunk
	now          func() time.Time

	// Statistics
	chunksCreated uint64
	chunksSkipped uint64
	bytesConsumed uint64
	bytesTrimmed  uint64
	reprocessRuns uint64

	mu sync.Mutex
}

// ChunkerStats represents chunker statistics
type ChunkerStats struct {
	ChunksCreated    uint64      `json:"chunks_created"`
	ChunksSkipped    uint64      `json:"chunks_skipped"`
	BytesConsumed    uint64      `json:"bytes_consumed"`
	BytesTrimmed     uint64      `json:"bytes_trimmed"`
	ReprocessRuns    uint64      `json:"reprocess_runs"`
	RetainedChunks   int         `json:"retained_chunks"`
	ChunkSizeBytes   int         `json:"chunk_size_bytes"`
	OverlapSizeBytes int         `json:"overlap_size_bytes"`
	AGCGain          float64     `json:"agc_gain"`
	SessionStart     time.Time   `json:"session_start"`
	Buffer           BufferStats `json:"buffer"`
}

// NewChunker creates a new audio chunker
func NewChunker(cfg ChunkingConfig) (*Chunker, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	buffer, err := NewBuffer(cfg.MaxBufferSize)
	if err != nil {
		return nil, err
	}

	detector, err := vad.NewDetector(vad.Config{
		EnergyThresholdDb:  cfg.VADEnergyThreshold,
		SilenceThresholdDb: cfg.SilenceThreshold,
		FrameSize:          cfg.VADFrameSize,
		Advanced:           cfg.EnableAdvancedVAD,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create VAD detector: %w", err)
	}

	return &Chunker{
		config:      cfg,
		buffer:      buffer,
		detector:    detector,
		agc:         dsp.NewAGCState(),
		chunkSize:   cfg.ChunkSizeBytes(),
		overlapSize: cfg.OverlapSizeBytes(),
		retained:    make(map[uint64]retainedChunk),
		now:         time.Now,
	}, nil
}

// Push appends a frame and extracts every chunk that is now complete.
func (c *Chunker) Push(frame Frame) (PushResult, error) {
	if len(frame.PCM)%bytesPerSample != 0 {
		return PushResult{}, fmt.Errorf("PCM frame length must be even, got %d bytes", len(frame.PCM))
	}
	if frame.SampleRate != 0 && frame.SampleRate != c.config.SampleRate {
		return PushResult{}, fmt.Errorf("frame sample rate %d does not match configured %d", frame.SampleRate, c.config.SampleRate)
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if c.sessionStart.IsZero() {
		c.sessionStart = frame.Timestamp
		if c.sessionStart.IsZero() {
			c.sessionStart = c.now()
		}
	}

	result := PushResult{Level: dsp.AudioLevel(frame.PCM)}
	if trimmed := c.buffer.Append(frame.PCM); trimmed > 0 {
		c.bytesTrimmed += uint64(trimmed)
		result.TrimmedBytes = trimmed
	}

	result.Ready, result.Skipped = c.extractLocked()
	return result, nil
}

// extractLocked cuts chunks while a full chunk is buffered.
func (c *Chunker) extractLocked() (ready, skipped []*Chunk) {
	advance := c.chunkSize - c.overlapSize
	if advance < bytesPerSample {
		advance = bytesPerSample
	}
	step := c.config.ChunkDuration - c.config.Overlap

	for c.buffer.Len() >= c.chunkSize {
		data := c.buffer.Peek(c.chunkSize)

		id := c.counter
		c.counter++
		start := c.sessionStart.Add(time.Duration(id) * step)

		chunk := &Chunk{
			ID:         id,
			StartTime:  start,
			EndTime:    start.Add(c.config.ChunkDuration),
			SampleRate: c.config.SampleRate,
			Size:       len(data),
			Stats:      dsp.ComputeStats(data),
			CreatedAt:  c.now(),
		}
		chunk.Data = c.processLocked(data)

		if c.config.EnableSilenceDetection {
			act := c.detector.Detect(chunk.Data)
			chunk.Voice = &act
		}

		c.retained[id] = retainedChunk{chunk: chunk, storedAt: chunk.CreatedAt}
		c.chunksCreated++

		if chunk.Voice != nil && !chunk.Voice.IsVoice {
			c.chunksSkipped++
			skipped = append(skipped, chunk)
		} else {
			ready = append(ready, chunk)
		}

		c.bytesConsumed += uint64(c.buffer.Discard(advance))
	}
	return ready, skipped
}

// processLocked runs normalize, high-pass and AGC in that order.
func (c *Chunker) processLocked(data []byte) []byte {
	if c.config.EnableNormalization {
		data = dsp.Normalize(data, c.config.NormalizationTarget)
	}
	if c.config.EnableHighPass {
		data = dsp.HighPass(data, c.config.HighPassCutoff, c.config.SampleRate)
	}
	if c.config.EnableAGC {
		data, c.agc = dsp.AGC(data, dsp.AGCParams{
			TargetDb:    c.config.AGCTargetLevel,
			AttackTime:  c.config.AGCAttackTime,
			ReleaseTime: c.config.AGCReleaseTime,
			SampleRate:  c.config.SampleRate,
		}, c.agc)
	}
	return data
}

// UpdateParameter applies one runtime parameter. Out-of-range values are
// rejected with a validation error and the previous value stays active.
// On success any buffered bytes are reprocessed under the new settings.
func (c *Chunker) UpdateParameter(name string, value float64) (PushResult, error) {
	v, err := config.ValidateParameter(name, value)
	if err != nil {
		return PushResult{}, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch name {
	case config.ParamSilenceThreshold:
		if err := c.detector.UpdateThresholds(c.config.VADEnergyThreshold, v); err != nil {
			return PushResult{}, err
		}
		c.config.SilenceThreshold = v
	case config.ParamVADEnergyThreshold:
		if err := c.detector.UpdateThresholds(v, c.config.SilenceThreshold); err != nil {
			return PushResult{}, err
		}
		c.config.VADEnergyThreshold = v
	case config.ParamNormalizationTarget:
		c.config.NormalizationTarget = v
	case config.ParamHighPassCutoff:
		c.config.HighPassCutoff = v
	case config.ParamAGCTargetLevel:
		c.config.AGCTargetLevel = v
	default:
		return PushResult{}, config.UnknownParameterError(name)
	}

	var result PushResult
	if c.buffer.Len() > 0 {
		c.reprocessRuns++
		result.Ready, result.Skipped = c.extractLocked()
	}
	return result, nil
}

// Config returns a copy of the active settings.
func (c *Chunker) Config() ChunkingConfig {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.config
}

// Get returns a retained chunk by ID.
func (c *Chunker) Get(id uint64) (*Chunk, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	r, ok := c.retained[id]
	if !ok {
		return nil, false
	}
	return r.chunk, true
}

// RetainedIDs returns the retained chunk IDs in ascending order.
func (c *Chunker) RetainedIDs() []uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	ids := make([]uint64, 0, len(c.retained))
	for id := range c.retained {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// Sweep purges retained chunks older than the retention period.
func (c *Chunker) Sweep(now time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	purged := 0
	for id, r := range c.retained {
		if now.Sub(r.storedAt) > c.config.RetentionPeriod {
			delete(c.retained, id)
			purged++
		}
	}
	return purged
}

// StartCleanup sweeps retained chunks every CleanupInterval until ctx is done.
func (c *Chunker) StartCleanup(ctx context.Context, onSweep func(purged int)) {
	interval := c.config.CleanupInterval
	if interval <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case now := <-ticker.C:
				purged := c.Sweep(now)
				if onSweep != nil && purged > 0 {
					onSweep(purged)
				}
			}
		}
	}()
}

// Reset drops buffered bytes, retained chunks, the AGC state and the ID
// counter. Trailing bytes shorter than a chunk are discarded, never emitted.
func (c *Chunker) Reset() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	dropped := c.buffer.Len()
	c.buffer.Reset()
	c.agc = dsp.NewAGCState()
	c.counter = 0
	c.sessionStart = time.Time{}
	c.retained = make(map[uint64]retainedChunk)
	c.detector.Reset()
	return dropped
}

// BufferedBytes returns the number of bytes waiting for the next chunk.
func (c *Chunker) BufferedBytes() int {
	return c.buffer.Len()
}

// SessionStart returns the timestamp of the first frame since the last reset.
func (c *Chunker) SessionStart() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionStart
}

// VADStats returns the detector statistics.
func (c *Chunker) VADStats() vad.DetectorStats {
	return c.detector.GetStats()
}

// VoiceSegments returns voiced runs inside a retained chunk.
func (c *Chunker) VoiceSegments(chunk *Chunk) []vad.Segment {
	return c.detector.Segments(chunk.Data, chunk.SampleRate)
}

// GetStats returns current chunker statistics
func (c *Chunker) GetStats() ChunkerStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return ChunkerStats{
		ChunksCreated:    c.chunksCreated,
		ChunksSkipped:    c.chunksSkipped,
		BytesConsumed:    c.bytesConsumed,
		BytesTrimmed:     c.bytesTrimmed,
		ReprocessRuns:    c.reprocessRuns,
		RetainedChunks:   len(c.retained),
		ChunkSizeBytes:   c.chunkSize,
		OverlapSizeBytes: c.overlapSize,
		AGCGain:          c.agc.Gain,
		SessionStart:     c.sessionStart,
		Buffer:           c.buffer.GetStats(),
	}
}
