package config

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the complete service configuration
type Config struct {
	Capture       CaptureConfig       `yaml:"capture"`
	Server        ServerConfig        `yaml:"server"`
	HTTP          HTTPConfig          `yaml:"http"`
	Audio         AudioConfig         `yaml:"audio"`
	VAD           VADConfig           `yaml:"vad"`
	Queue         QueueConfig         `yaml:"queue"`
	Transcription TranscriptionConfig `yaml:"transcription"`
	PostProcess   PostProcessConfig   `yaml:"postprocess"`
	Emitter       EmitterConfig       `yaml:"emitter"`
	Store         StoreConfig         `yaml:"store"`
	Sentry        SentryConfig        `yaml:"sentry"`
	Logging       LoggingConfig       `yaml:"logging"`
}

// CaptureConfig selects where PCM frames come from
type CaptureConfig struct {
	Source          string `yaml:"source"` // "device", "udp" or "none"
	Device          string `yaml:"device"` // substring of the input device name, empty for default
	FramesPerBuffer int    `yaml:"frames_per_buffer"`
	ChannelBuffer   int    `yaml:"channel_buffer"`
}

// ServerConfig contains UDP frame ingest configuration
type ServerConfig struct {
	UDPPort     int    `yaml:"udp_port"`
	BindAddress string `yaml:"bind_address"`
	BufferSize  int    `yaml:"buffer_size"`
	Workers     int    `yaml:"workers"`
}

// HTTPConfig contains HTTP API server configuration
type HTTPConfig struct {
	Port    int    `yaml:"port"`
	Address string `yaml:"address"`
	Enabled bool   `yaml:"enabled"`
}

// AudioConfig contains buffering, chunking and DSP parameters
type AudioConfig struct {
	SampleRate          int     `yaml:"sample_rate"`
	ChunkDurationMs     int     `yaml:"chunk_duration_ms"`
	OverlapMs           int     `yaml:"overlap_ms"`
	MaxBufferSize       int     `yaml:"max_buffer_size"`  // bytes
	RetentionPeriod     int     `yaml:"retention_period"` // seconds
	CleanupInterval     int     `yaml:"cleanup_interval"` // seconds
	LevelIntervalMs     int     `yaml:"level_interval_ms"`
	EnableNormalization bool    `yaml:"enable_normalization"`
	NormalizationTarget float64 `yaml:"normalization_target"` // dB
	EnableHighPass      bool    `yaml:"enable_high_pass"`
	HighPassCutoff      float64 `yaml:"high_pass_cutoff"` // Hz
	EnableAGC           bool    `yaml:"enable_agc"`
	AGCTargetLevel      float64 `yaml:"agc_target_level"` // dB
	AGCAttackTime       float64 `yaml:"agc_attack_time"`  // seconds
	AGCReleaseTime      float64 `yaml:"agc_release_time"` // seconds
}

// VADConfig contains voice activity detection configuration
type VADConfig struct {
	EnableSilenceDetection bool    `yaml:"enable_silence_detection"`
	EnableAdvanced         bool    `yaml:"enable_advanced"`
	SilenceThreshold       float64 `yaml:"silence_threshold"` // dB
	EnergyThreshold        float64 `yaml:"energy_threshold"`  // dB
	FrameSize              int     `yaml:"frame_size"`        // samples
}

// QueueConfig contains transcription queue configuration
type QueueConfig struct {
	MaxQueueSize       int  `yaml:"max_queue_size"`
	ParallelProcessing bool `yaml:"parallel_processing"`
	MaxParallelChunks  int  `yaml:"max_parallel_chunks"`
}

// TranscriptionConfig contains speech-to-text engine configuration
type TranscriptionConfig struct {
	Engine              string   `yaml:"engine"` // "exec", "http" or "openai"
	Model               string   `yaml:"model"`
	Language            string   `yaml:"language"`
	BinaryPath          string   `yaml:"binary_path"`
	Args                []string `yaml:"args"`
	Endpoint            string   `yaml:"endpoint"`
	APIKey              string   `yaml:"api_key"`
	OutputFormat        string   `yaml:"output_format"` // "json" or "text"
	Timeout             int      `yaml:"timeout"`       // seconds
	MaxRetries          int      `yaml:"max_retries"`
	RetryBaseDelayMs    int      `yaml:"retry_base_delay_ms"`
	TempDir             string   `yaml:"temp_dir"`
	BreakerThreshold    int      `yaml:"breaker_threshold"`
	BreakerResetTimeout int      `yaml:"breaker_reset_timeout"` // seconds
}

// PostProcessConfig toggles and tunes the post-processing stages
type PostProcessConfig struct {
	Punctuation struct {
		Enabled bool `yaml:"enabled"`
	} `yaml:"punctuation"`
	Vocabulary struct {
		Enabled        bool   `yaml:"enabled"`
		CaseSensitive  bool   `yaml:"case_sensitive"`
		WholeWordsOnly bool   `yaml:"whole_words_only"`
		AutoLearn      bool   `yaml:"auto_learn"`
		File           string `yaml:"file"`
	} `yaml:"vocabulary"`
	Grammar struct {
		Enabled            bool `yaml:"enabled"`
		FixRepetitions     bool `yaml:"fix_repetitions"`
		FixVerbs           bool `yaml:"fix_verbs"`
		ExpandContractions bool `yaml:"expand_contractions"`
		RemoveFillers      bool `yaml:"remove_fillers"`
		AddArticles        bool `yaml:"add_articles"`
	} `yaml:"grammar"`
	Language struct {
		Enabled bool   `yaml:"enabled"`
		Default string `yaml:"default"`
	} `yaml:"language"`
	Diarization struct {
		Enabled             bool    `yaml:"enabled"`
		MaxSpeakers         int     `yaml:"max_speakers"`
		ClusteringDistance  float64 `yaml:"clustering_distance"`
		ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	} `yaml:"diarization"`
	Emotion struct {
		Enabled     bool    `yaml:"enabled"`
		AudioWeight float64 `yaml:"audio_weight"`
		TextWeight  float64 `yaml:"text_weight"`
	} `yaml:"emotion"`
}

// EmitterConfig contains result emission configuration
type EmitterConfig struct {
	ConfidenceThreshold float64 `yaml:"confidence_threshold"`
	HistorySize         int     `yaml:"history_size"`
}

// StoreConfig contains the optional result log database
type StoreConfig struct {
	Enabled     bool   `yaml:"enabled"`
	DatabaseURL string `yaml:"database_url"`
}

// SentryConfig contains error reporting configuration
type SentryConfig struct {
	DSN         string `yaml:"dsn"`
	Environment string `yaml:"environment"`
}

// LoggingConfig contains logging configuration
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Default returns a configuration that runs a device capture session
// against a local whisper CLI.
func Default() *Config {
	cfg := &Config{
		Capture: CaptureConfig{Source: "device", FramesPerBuffer: 1024, ChannelBuffer: 64},
		Server:  ServerConfig{UDPPort: 4444, BindAddress: "0.0.0.0", BufferSize: 65536, Workers: 4},
		HTTP:    HTTPConfig{Port: 8080, Address: "127.0.0.1", Enabled: true},
		Audio: AudioConfig{
			SampleRate:          16000,
			ChunkDurationMs:     2000,
			OverlapMs:           500,
			MaxBufferSize:       10 * 1024 * 1024,
			RetentionPeriod:     300,
			CleanupInterval:     30,
			LevelIntervalMs:     100,
			EnableNormalization: true,
			NormalizationTarget: -20,
			EnableHighPass:      true,
			HighPassCutoff:      300,
			EnableAGC:           true,
			AGCTargetLevel:      -20,
			AGCAttackTime:       0.01,
			AGCReleaseTime:      0.1,
		},
		VAD: VADConfig{
			EnableSilenceDetection: true,
			EnableAdvanced:         true,
			SilenceThreshold:       -40,
			EnergyThreshold:        -35,
			FrameSize:              512,
		},
		Queue: QueueConfig{MaxQueueSize: 10, ParallelProcessing: false, MaxParallelChunks: 2},
		Transcription: TranscriptionConfig{
			Engine:              "exec",
			Model:               "base.en",
			Language:            "en",
			BinaryPath:          "whisper-cli",
			OutputFormat:        "json",
			Timeout:             30,
			MaxRetries:          1,
			RetryBaseDelayMs:    200,
			BreakerThreshold:    5,
			BreakerResetTimeout: 30,
		},
		Emitter: EmitterConfig{ConfidenceThreshold: 0, HistorySize: 1000},
		Logging: LoggingConfig{Level: "info", Format: "text", Output: "stdout"},
	}

	pp := &cfg.PostProcess
	pp.Punctuation.Enabled = true
	pp.Vocabulary.Enabled = true
	pp.Vocabulary.WholeWordsOnly = true
	pp.Vocabulary.AutoLearn = true
	pp.Grammar.Enabled = true
	pp.Grammar.FixRepetitions = true
	pp.Grammar.FixVerbs = true
	pp.Language.Enabled = true
	pp.Language.Default = "en"
	pp.Diarization.MaxSpeakers = 8
	pp.Diarization.ClusteringDistance = 0.5
	pp.Diarization.ConfidenceThreshold = 0.65
	pp.Emotion.AudioWeight = 0.6
	pp.Emotion.TextWeight = 0.4
	return cfg
}

// Load reads and parses the configuration file on top of Default()
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file %s: %w", path, err)
	}

	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("failed to parse config file %s: %w", path, err)
	}

	config.ApplyEnv()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}

	return config, nil
}

// Validate performs comprehensive validation of the configuration
func (c *Config) Validate() error {
	if err := c.Capture.Validate(); err != nil {
		return fmt.Errorf("capture config: %w", err)
	}

	if c.Capture.Source == "udp" {
		if err := c.Server.Validate(); err != nil {
			return fmt.Errorf("server config: %w", err)
		}
	}

	if err := c.HTTP.Validate(); err != nil {
		return fmt.Errorf("http config: %w", err)
	}

	if err := c.Audio.Validate(); err != nil {
		return fmt.Errorf("audio config: %w", err)
	}

	if err := c.VAD.Validate(); err != nil {
		return fmt.Errorf("vad config: %w", err)
	}

	if err := c.Queue.Validate(); err != nil {
		return fmt.Errorf("queue config: %w", err)
	}

	if err := c.Transcription.Validate(); err != nil {
		return fmt.Errorf("transcription config: %w", err)
	}

	if err := c.PostProcess.Validate(); err != nil {
		return fmt.Errorf("postprocess config: %w", err)
	}

	if err := c.Emitter.Validate(); err != nil {
		return fmt.Errorf("emitter config: %w", err)
	}

	if c.Store.Enabled && c.Store.DatabaseURL == "" {
		return fmt.Errorf("store config: database_url cannot be empty when the store is enabled")
	}

	if err := c.Logging.Validate(); err != nil {
		return fmt.Errorf("logging config: %w", err)
	}

	return nil
}

// Validate validates capture configuration
func (c *CaptureConfig) Validate() error {
	validSources := map[string]bool{"device": true, "udp": true, "none": true}
	if !validSources[c.Source] {
		return fmt.Errorf("source must be one of [device, udp, none], got '%s'", c.Source)
	}

	if c.FramesPerBuffer < 64 || c.FramesPerBuffer > 16384 {
		return fmt.Errorf("frames_per_buffer must be between 64 and 16384, got %d", c.FramesPerBuffer)
	}

	if c.ChannelBuffer < 1 {
		return fmt.Errorf("channel_buffer must be at least 1, got %d", c.ChannelBuffer)
	}

	return nil
}

// Validate validates server configuration
func (s *ServerConfig) Validate() error {
	if s.UDPPort < 1 || s.UDPPort > 65535 {
		return fmt.Errorf("udp_port must be between 1 and 65535, got %d", s.UDPPort)
	}

	if s.BindAddress == "" {
		return fmt.Errorf("bind_address cannot be empty")
	}

	if s.BufferSize < 1024 {
		return fmt.Errorf("buffer_size must be at least 1024 bytes, got %d", s.BufferSize)
	}

	if s.Workers < 1 {
		return fmt.Errorf("workers must be at least 1, got %d", s.Workers)
	}

	return nil
}

// Validate validates HTTP configuration
func (h *HTTPConfig) Validate() error {
	if h.Enabled {
		if h.Port < 1 || h.Port > 65535 {
			return fmt.Errorf("http port must be between 1 and 65535, got %d", h.Port)
		}

		if h.Address == "" {
			return fmt.Errorf("http address cannot be empty when HTTP is enabled")
		}
	}

	return nil
}

// Validate validates audio configuration
func (a *AudioConfig) Validate() error {
	if a.SampleRate < 8000 || a.SampleRate > 48000 {
		return fmt.Errorf("sample_rate must be between 8000 and 48000 Hz, got %d", a.SampleRate)
	}

	if a.ChunkDurationMs < 100 {
		return fmt.Errorf("chunk_duration_ms must be at least 100, got %d", a.ChunkDurationMs)
	}

	if a.OverlapMs < 0 || a.OverlapMs >= a.ChunkDurationMs {
		return fmt.Errorf("overlap_ms (%d) must be between 0 and chunk_duration_ms (%d)", a.OverlapMs, a.ChunkDurationMs)
	}

	chunkBytes := a.ChunkDurationMs * a.SampleRate / 1000 * 2
	if a.MaxBufferSize < chunkBytes {
		return fmt.Errorf("max_buffer_size must hold at least one chunk (%d bytes), got %d", chunkBytes, a.MaxBufferSize)
	}

	if a.RetentionPeriod < 1 {
		return fmt.Errorf("retention_period must be at least 1 second, got %d", a.RetentionPeriod)
	}

	if a.CleanupInterval < 1 {
		return fmt.Errorf("cleanup_interval must be at least 1 second, got %d", a.CleanupInterval)
	}

	if a.AGCAttackTime <= 0 || a.AGCReleaseTime <= 0 {
		return fmt.Errorf("agc_attack_time and agc_release_time must be positive, got %f and %f", a.AGCAttackTime, a.AGCReleaseTime)
	}

	for name, v := range map[string]float64{
		ParamNormalizationTarget: a.NormalizationTarget,
		ParamHighPassCutoff:      a.HighPassCutoff,
		ParamAGCTargetLevel:      a.AGCTargetLevel,
	} {
		if _, err := ValidateParameter(name, v); err != nil {
			return err
		}
	}

	return nil
}

// Validate validates VAD configuration
func (v *VADConfig) Validate() error {
	if _, err := ValidateParameter(ParamSilenceThreshold, v.SilenceThreshold); err != nil {
		return err
	}

	if _, err := ValidateParameter(ParamVADEnergyThreshold, v.EnergyThreshold); err != nil {
		return err
	}

	if v.FrameSize < 64 || v.FrameSize > 4096 {
		return fmt.Errorf("frame_size must be between 64 and 4096 samples, got %d", v.FrameSize)
	}

	return nil
}

// Validate validates queue configuration
func (q *QueueConfig) Validate() error {
	if q.MaxQueueSize < 1 {
		return fmt.Errorf("max_queue_size must be at least 1, got %d", q.MaxQueueSize)
	}

	if _, err := ValidateParameter(ParamMaxParallelChunks, q.MaxParallelChunks); err != nil {
		return err
	}

	return nil
}

// Validate validates transcription configuration
func (t *TranscriptionConfig) Validate() error {
	switch t.Engine {
	case "exec":
		if t.BinaryPath == "" {
			return fmt.Errorf("binary_path cannot be empty for the exec engine")
		}
	case "http":
		if t.Endpoint == "" {
			return fmt.Errorf("endpoint cannot be empty for the http engine")
		}
	case "openai":
		if t.APIKey == "" {
			return fmt.Errorf("api_key cannot be empty for the openai engine")
		}
	default:
		return fmt.Errorf("engine must be one of [exec, http, openai], got '%s'", t.Engine)
	}

	if t.Model == "" {
		return fmt.Errorf("model cannot be empty")
	}

	if t.Timeout < 1 {
		return fmt.Errorf("timeout must be at least 1 second, got %d", t.Timeout)
	}

	if t.MaxRetries < 0 {
		return fmt.Errorf("max_retries cannot be negative, got %d", t.MaxRetries)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[t.OutputFormat] {
		return fmt.Errorf("output_format must be 'json' or 'text', got '%s'", t.OutputFormat)
	}

	return nil
}

// Validate validates post-processing configuration
func (p *PostProcessConfig) Validate() error {
	d := p.Diarization
	if d.MaxSpeakers < 1 || d.MaxSpeakers > 16 {
		return fmt.Errorf("diarization.max_speakers must be between 1 and 16, got %d", d.MaxSpeakers)
	}

	if d.ClusteringDistance <= 0 {
		return fmt.Errorf("diarization.clustering_distance must be positive, got %f", d.ClusteringDistance)
	}

	if d.ConfidenceThreshold < 0 || d.ConfidenceThreshold > 1 {
		return fmt.Errorf("diarization.confidence_threshold must be between 0 and 1, got %f", d.ConfidenceThreshold)
	}

	e := p.Emotion
	if e.AudioWeight < 0 || e.TextWeight < 0 || e.AudioWeight+e.TextWeight <= 0 {
		return fmt.Errorf("emotion weights must be non-negative with a positive sum, got %f and %f", e.AudioWeight, e.TextWeight)
	}

	return nil
}

// Validate validates emitter configuration
func (e *EmitterConfig) Validate() error {
	if _, err := ValidateParameter(ParamConfidenceThreshold, e.ConfidenceThreshold); err != nil {
		return err
	}

	if e.HistorySize < 0 {
		return fmt.Errorf("history_size cannot be negative, got %d", e.HistorySize)
	}

	return nil
}

// Validate validates logging configuration
func (l *LoggingConfig) Validate() error {
	validLevels := map[string]bool{
		"debug": true, "info": true, "warn": true, "error": true,
	}
	if !validLevels[l.Level] {
		return fmt.Errorf("level must be one of [debug, info, warn, error], got '%s'", l.Level)
	}

	validFormats := map[string]bool{"json": true, "text": true}
	if !validFormats[l.Format] {
		return fmt.Errorf("format must be 'json' or 'text', got '%s'", l.Format)
	}

	return nil
}

// GetChunkDuration returns the chunk duration as a time.Duration
func (a *AudioConfig) GetChunkDuration() time.Duration {
	return time.Duration(a.ChunkDurationMs) * time.Millisecond
}

// GetOverlapDuration returns the chunk overlap as a time.Duration
func (a *AudioConfig) GetOverlapDuration() time.Duration {
	return time.Duration(a.OverlapMs) * time.Millisecond
}

// GetRetentionDuration returns the chunk retention period as a time.Duration
func (a *AudioConfig) GetRetentionDuration() time.Duration {
	return time.Duration(a.RetentionPeriod) * time.Second
}

// GetCleanupDuration returns the retention sweep interval as a time.Duration
func (a *AudioConfig) GetCleanupDuration() time.Duration {
	return time.Duration(a.CleanupInterval) * time.Second
}

// GetLevelInterval returns the minimum spacing of audio-level events
func (a *AudioConfig) GetLevelInterval() time.Duration {
	return time.Duration(a.LevelIntervalMs) * time.Millisecond
}

// GetTimeoutDuration returns the per-call engine timeout as a time.Duration
func (t *TranscriptionConfig) GetTimeoutDuration() time.Duration {
	return time.Duration(t.Timeout) * time.Second
}

// GetRetryBaseDelay returns the first retry backoff as a time.Duration
func (t *TranscriptionConfig) GetRetryBaseDelay() time.Duration {
	return time.Duration(t.RetryBaseDelayMs) * time.Millisecond
}

// GetBreakerResetTimeout returns the circuit breaker cool-down as a time.Duration
func (t *TranscriptionConfig) GetBreakerResetTimeout() time.Duration {
	return time.Duration(t.BreakerResetTimeout) * time.Second
}

// RuntimeParameters returns the initial values of every runtime parameter.
func (c *Config) RuntimeParameters() map[string]float64 {
	return map[string]float64{
		ParamSilenceThreshold:    c.VAD.SilenceThreshold,
		ParamNormalizationTarget: c.Audio.NormalizationTarget,
		ParamHighPassCutoff:      c.Audio.HighPassCutoff,
		ParamAGCTargetLevel:      c.Audio.AGCTargetLevel,
		ParamVADEnergyThreshold:  c.VAD.EnergyThreshold,
		ParamConfidenceThreshold: c.Emitter.ConfidenceThreshold,
		ParamMaxParallelChunks:   float64(c.Queue.MaxParallelChunks),
	}
}
