package audio

import (
	"fmt"
	"sync"
	"time"
)

// TrimRatio is the fraction of MaxBufferSize kept after an overflow.
const TrimRatio = 0.7

// Buffer accumulates raw PCM16LE bytes between chunk extractions.
// When it grows past maxSize the oldest bytes are discarded so that
// TrimRatio of the capacity remains.
type Buffer struct {
	data    []byte
	maxSize int

	// Timing and metadata
	lastUpdate    time.Time
	totalAppended uint64
	totalTrimmed  uint64
	trimEvents    uint64

	mu sync.RWMutex
}

// BufferStats represents buffer statistics for monitoring
type BufferStats struct {
	Size          int       `json:"size_bytes"`
	MaxSize       int       `json:"max_size_bytes"`
	TotalAppended uint64    `json:"total_appended_bytes"`
	TotalTrimmed  uint64    `json:"total_trimmed_bytes"`
	TrimEvents    uint64    `json:"trim_events"`
	LastUpdate    time.Time `json:"last_update"`
}

// NewBuffer creates a new buffer capped at maxSize bytes.
func NewBuffer(maxSize int) (*Buffer, error) {
	if maxSize <= 0 {
		return nil, fmt.Errorf("max buffer size must be positive, got %d", maxSize)
	}
	return &Buffer{
		data:    make([]byte, 0, maxSize),
		maxSize: maxSize,
	}, nil
}

// Append adds p to the tail and returns how many of the oldest bytes were
// dropped to stay under the cap. The kept length is kept sample aligned.
func (b *Buffer) Append(p []byte) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.data = append(b.data, p...)
	b.totalAppended += uint64(len(p))
	b.lastUpdate = time.Now()

	if len(b.data) <= b.maxSize {
		return 0
	}

	keep := int(float64(b.maxSize) * TrimRatio)
	keep -= keep % bytesPerSample
	trimmed := len(b.data) - keep

	remaining := make([]byte, keep, b.maxSize)
	copy(remaining, b.data[trimmed:])
	b.data = remaining

	b.totalTrimmed += uint64(trimmed)
	b.trimEvents++
	return trimmed
}

// Peek returns a copy of the first n bytes, or nil if fewer are buffered.
func (b *Buffer) Peek(n int) []byte {
	b.mu.RLock()
	defer b.mu.RUnlock()

	if n < 0 || n > len(b.data) {
		return nil
	}
	out := make([]byte, n)
	copy(out, b.data[:n])
	return out
}

// Discard drops up to n bytes from the head.
func (b *Buffer) Discard(n int) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	if n <= 0 {
		return 0
	}
	if n > len(b.data) {
		n = len(b.data)
	}
	b.data = b.data[n:]
	return n
}

// Len returns the number of buffered bytes.
func (b *Buffer) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.data)
}

// SetMaxSize changes the cap. It does not trim until the next Append.
func (b *Buffer) SetMaxSize(maxSize int) error {
	if maxSize <= 0 {
		return fmt.Errorf("max buffer size must be positive, got %d", maxSize)
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	b.maxSize = maxSize
	return nil
}

// Reset drops all buffered bytes. Counters are kept.
func (b *Buffer) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.data = b.data[:0]
}

// GetStats returns buffer statistics
func (b *Buffer) GetStats() BufferStats {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return BufferStats{
		Size:          len(b.data),
		MaxSize:       b.maxSize,
		TotalAppended: b.totalAppended,
		TotalTrimmed:  b.totalTrimmed,
		TrimEvents:    b.trimEvents,
		LastUpdate:    b.lastUpdate,
	}
}
