package audio

import (
	"math/rand"
	"testing"
	"time"

	"github.com/skypro1111/overlay-transcriber/internal/config"
	apperrors "github.com/skypro1111/overlay-transcriber/internal/errors"
)

var testStart = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// pushInFrames feeds pcm in 100 ms frames and collects the results.
func pushInFrames(t *testing.T, c *Chunker, pcm []byte, sampleRate int) (ready, skipped []*Chunk, trimmed int) {
	t.Helper()
	frameBytes := sampleRate / 10 * 2
	ts := testStart
	for off := 0; off < len(pcm); off += frameBytes {
		end := off + frameBytes
		if end > len(pcm) {
			end = len(pcm)
		}
		res, err := c.Push(Frame{PCM: pcm[off:end], Timestamp: ts, SampleRate: sampleRate})
		if err != nil {
			t.Fatalf("Push failed: %v", err)
		}
		ready = append(ready, res.Ready...)
		skipped = append(skipped, res.Skipped...)
		trimmed += res.TrimmedBytes
		ts = ts.Add(100 * time.Millisecond)
	}
	return ready, skipped, trimmed
}

func TestNewChunkerValidation(t *testing.T) {
	tests := []struct {
		name      string
		modify    func(c *ChunkingConfig)
		expectErr bool
	}{
		{"defaults", func(c *ChunkingConfig) {}, false},
		{"zero sample rate", func(c *ChunkingConfig) { c.SampleRate = 0 }, true},
		{"overlap equals duration", func(c *ChunkingConfig) { c.Overlap = c.ChunkDuration }, true},
		{"buffer smaller than chunk", func(c *ChunkingConfig) { c.MaxBufferSize = 1000 }, true},
		{"tiny VAD frame", func(c *ChunkingConfig) { c.VADFrameSize = 1 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultChunkingConfig()
			tt.modify(&cfg)
			_, err := NewChunker(cfg)
			if tt.expectErr && err == nil {
				t.Error("Expected error but got none")
			}
			if !tt.expectErr && err != nil {
				t.Errorf("Unexpected error: %v", err)
			}
		})
	}
}

func TestChunkSizes(t *testing.T) {
	cfg := DefaultChunkingConfig()
	if got := cfg.ChunkSizeBytes(); got != 64000 {
		t.Errorf("ChunkSizeBytes() = %d, want 64000", got)
	}
	if got := cfg.OverlapSizeBytes(); got != 16000 {
		t.Errorf("OverlapSizeBytes() = %d, want 16000", got)
	}
}

func TestSilentInputIsSkipped(t *testing.T) {
	chunker, err := NewChunker(DefaultChunkingConfig())
	if err != nil {
		t.Fatalf("Failed to create chunker: %v", err)
	}

	// 5 seconds of silence.
	ready, skipped, _ := pushInFrames(t, chunker, make([]byte, 5*16000*2), 16000)

	if len(ready) != 0 {
		t.Errorf("Expected no ready chunks, got %d", len(ready))
	}
	if len(skipped) != 3 {
		t.Fatalf("Expected 3 skipped chunks, got %d", len(skipped))
	}

	for i, c := range skipped {
		if c.ID != uint64(i) {
			t.Errorf("chunk %d has ID %d", i, c.ID)
		}
		wantStart := testStart.Add(time.Duration(i) * 1500 * time.Millisecond)
		if !c.StartTime.Equal(wantStart) {
			t.Errorf("chunk %d start = %v, want %v", i, c.StartTime, wantStart)
		}
		if c.Duration() != 2*time.Second {
			t.Errorf("chunk %d duration = %v", i, c.Duration())
		}
		if c.Voice == nil || c.Voice.IsVoice {
			t.Errorf("chunk %d voice = %+v, want silent", i, c.Voice)
		}
	}

	if got := chunker.BufferedBytes(); got != 16000 {
		t.Errorf("BufferedBytes() = %d, want 16000", got)
	}
	stats := chunker.GetStats()
	if stats.ChunksCreated != 3 || stats.ChunksSkipped != 3 {
		t.Errorf("stats = %+v", stats)
	}
}

func TestToneProducesReadyChunks(t *testing.T) {
	chunker, _ := NewChunker(DefaultChunkingConfig())

	pcm := generateTone(997, 0.3, 56000, 16000) // 3.5 s
	ready, skipped, _ := pushInFrames(t, chunker, pcm, 16000)

	if len(skipped) != 0 {
		t.Errorf("Expected no skipped chunks, got %d", len(skipped))
	}
	if len(ready) != 2 {
		t.Fatalf("Expected 2 ready chunks, got %d", len(ready))
	}
	for _, c := range ready {
		if len(c.Data) != 64000 || c.Size != 64000 {
			t.Errorf("chunk %d size = %d", c.ID, len(c.Data))
		}
		if c.Stats.RmsDb > c.Stats.PeakDb {
			t.Errorf("chunk %d stats = %+v", c.ID, c.Stats)
		}
		if c.Voice == nil || !c.Voice.IsVoice {
			t.Errorf("chunk %d should be voice: %+v", c.ID, c.Voice)
		}
	}
}

func TestChunkerByteAccounting(t *testing.T) {
	cfg := DefaultChunkingConfig()
	cfg.ChunkDuration = 100 * time.Millisecond
	cfg.Overlap = 0
	cfg.MaxBufferSize = 8000
	cfg.EnableSilenceDetection = false

	chunker, err := NewChunker(cfg)
	if err != nil {
		t.Fatalf("Failed to create chunker: %v", err)
	}

	rng := rand.New(rand.NewSource(3))
	input := 0
	trimmed := 0
	for i := 0; i < 200; i++ {
		n := 2 * (1 + rng.Intn(6000))
		res, err := chunker.Push(Frame{PCM: make([]byte, n), Timestamp: testStart})
		if err != nil {
			t.Fatalf("Push failed: %v", err)
		}
		input += n
		trimmed += res.TrimmedBytes
		for _, c := range res.Ready {
			if c.Size != cfg.ChunkSizeBytes() {
				t.Fatalf("chunk %d size = %d, want %d", c.ID, c.Size, cfg.ChunkSizeBytes())
			}
		}
		if chunker.BufferedBytes() > cfg.MaxBufferSize {
			t.Fatalf("buffer holds %d bytes, cap is %d", chunker.BufferedBytes(), cfg.MaxBufferSize)
		}
	}

	stats := chunker.GetStats()
	accounted := int(stats.BytesConsumed) + chunker.BufferedBytes() + trimmed
	if accounted != input {
		t.Errorf("consumed+buffered+trimmed = %d, want input %d", accounted, input)
	}
	if trimmed == 0 {
		t.Error("Expected at least one overflow trim")
	}
	if int(stats.BytesTrimmed) != trimmed {
		t.Errorf("BytesTrimmed = %d, want %d", stats.BytesTrimmed, trimmed)
	}
}

func TestChunkerRejectsBadFrames(t *testing.T) {
	chunker, _ := NewChunker(DefaultChunkingConfig())

	if _, err := chunker.Push(Frame{PCM: []byte{1, 2, 3}}); err == nil {
		t.Error("Expected error for odd-length frame")
	}
	if _, err := chunker.Push(Frame{PCM: make([]byte, 4), SampleRate: 8000}); err == nil {
		t.Error("Expected error for sample rate mismatch")
	}
}

func TestUpdateParameter(t *testing.T) {
	chunker, _ := NewChunker(DefaultChunkingConfig())
	pushInFrames(t, chunker, make([]byte, 32000), 16000)

	_, err := chunker.UpdateParameter(config.ParamSilenceThreshold, -100)
	if !apperrors.IsKind(err, apperrors.KindValidation) {
		t.Fatalf("Expected validation error, got %v", err)
	}
	if got := chunker.Config().SilenceThreshold; got != -40 {
		t.Errorf("SilenceThreshold = %f, want previous -40", got)
	}

	if _, err := chunker.UpdateParameter(config.ParamHighPassCutoff, 500); err != nil {
		t.Fatalf("UpdateParameter failed: %v", err)
	}
	if got := chunker.Config().HighPassCutoff; got != 500 {
		t.Errorf("HighPassCutoff = %f, want 500", got)
	}
	if stats := chunker.GetStats(); stats.ReprocessRuns != 1 {
		t.Errorf("ReprocessRuns = %d, want 1", stats.ReprocessRuns)
	}

	if _, err := chunker.UpdateParameter(config.ParamVADEnergyThreshold, -25); err != nil {
		t.Fatalf("UpdateParameter failed: %v", err)
	}
	if got := chunker.VADStats().EnergyThresholdDb; got != -25 {
		t.Errorf("detector energy threshold = %f, want -25", got)
	}

	if _, err := chunker.UpdateParameter(config.ParamConfidenceThreshold, 0.5); err == nil {
		t.Error("Expected error for a parameter the chunker does not own")
	}
}

func TestRetentionSweep(t *testing.T) {
	chunker, _ := NewChunker(DefaultChunkingConfig())
	clock := testStart
	chunker.now = func() time.Time { return clock }

	pushInFrames(t, chunker, make([]byte, 64000), 16000)
	if _, ok := chunker.Get(0); !ok {
		t.Fatal("chunk 0 should be retained")
	}

	if purged := chunker.Sweep(clock.Add(4 * time.Minute)); purged != 0 {
		t.Errorf("purged %d chunks before retention expired", purged)
	}
	if purged := chunker.Sweep(clock.Add(6 * time.Minute)); purged != 1 {
		t.Errorf("purged = %d, want 1", purged)
	}
	if _, ok := chunker.Get(0); ok {
		t.Error("chunk 0 should have been purged")
	}
}

func TestChunkerReset(t *testing.T) {
	chunker, _ := NewChunker(DefaultChunkingConfig())
	pushInFrames(t, chunker, make([]byte, 80000), 16000)

	if dropped := chunker.Reset(); dropped != 32000 {
		t.Errorf("Reset dropped %d bytes, want 32000", dropped)
	}
	if chunker.BufferedBytes() != 0 || len(chunker.RetainedIDs()) != 0 {
		t.Error("Reset should clear buffer and retained chunks")
	}

	_, skipped, _ := pushInFrames(t, chunker, make([]byte, 64000), 16000)
	if len(skipped) != 1 || skipped[0].ID != 0 {
		t.Errorf("IDs should restart at 0 after reset, got %+v", skipped)
	}
}

func TestFloat32ToPCM16(t *testing.T) {
	pcm := Float32ToPCM16([]float32{0, 1, -1, 2, -2, 0.5})
	want := []int16{0, 32767, -32767, 32767, -32767, 16384}
	for i, w := range want {
		got := int16(uint16(pcm[i*2]) | uint16(pcm[i*2+1])<<8)
		if got != w {
			t.Errorf("sample %d = %d, want %d", i, got, w)
		}
	}
}
