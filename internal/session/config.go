package session

import (
	"github.com/skypro1111/overlay-transcriber/internal/audio"
	"github.com/skypro1111/overlay-transcriber/internal/config"
	"github.com/skypro1111/overlay-transcriber/internal/queue"
	"github.com/skypro1111/overlay-transcriber/internal/resilience"
	"github.com/skypro1111/overlay-transcriber/internal/transcription"
)

// ChunkingConfig maps the audio and VAD sections onto chunker settings.
func ChunkingConfig(cfg *config.Config) audio.ChunkingConfig {
	return audio.ChunkingConfig{
		SampleRate:      cfg.Audio.SampleRate,
		ChunkDuration:   cfg.Audio.GetChunkDuration(),
		Overlap:         cfg.Audio.GetOverlapDuration(),
		MaxBufferSize:   cfg.Audio.MaxBufferSize,
		RetentionPeriod: cfg.Audio.GetRetentionDuration(),
		CleanupInterval: cfg.Audio.GetCleanupDuration(),

		EnableNormalization: cfg.Audio.EnableNormalization,
		NormalizationTarget: cfg.Audio.NormalizationTarget,
		EnableHighPass:      cfg.Audio.EnableHighPass,
		HighPassCutoff:      cfg.Audio.HighPassCutoff,
		EnableAGC:           cfg.Audio.EnableAGC,
		AGCTargetLevel:      cfg.Audio.AGCTargetLevel,
		AGCAttackTime:       cfg.Audio.AGCAttackTime,
		AGCReleaseTime:      cfg.Audio.AGCReleaseTime,

		EnableSilenceDetection: cfg.VAD.EnableSilenceDetection,
		EnableAdvancedVAD:      cfg.VAD.EnableAdvanced,
		SilenceThreshold:       cfg.VAD.SilenceThreshold,
		VADEnergyThreshold:     cfg.VAD.EnergyThreshold,
		VADFrameSize:           cfg.VAD.FrameSize,
	}
}

// QueueConfig maps the queue section onto scheduler settings.
func QueueConfig(cfg *config.Config) queue.Config {
	mode := queue.Sequential
	if cfg.Queue.ParallelProcessing {
		mode = queue.Parallel
	}
	return queue.Config{
		MaxQueueSize: cfg.Queue.MaxQueueSize,
		Mode:         mode,
		MaxParallel:  cfg.Queue.MaxParallelChunks,
	}
}

// InvokerConfig maps the transcription section onto invoker settings.
func InvokerConfig(cfg *config.Config) transcription.InvokerConfig {
	retry := resilience.DefaultRetryConfig()
	retry.MaxRetries = cfg.Transcription.MaxRetries
	if d := cfg.Transcription.GetRetryBaseDelay(); d > 0 {
		retry.BaseDelay = d
	}

	breaker := resilience.DefaultConfig()
	breaker.Threshold = cfg.Transcription.BreakerThreshold
	breaker.ResetTimeout = cfg.Transcription.GetBreakerResetTimeout()

	return transcription.InvokerConfig{
		Model:    cfg.Transcription.Model,
		Language: cfg.Transcription.Language,
		Timeout:  cfg.Transcription.GetTimeoutDuration(),
		TempDir:  cfg.Transcription.TempDir,
		Retry:    retry,
		Breaker:  breaker,
	}
}
