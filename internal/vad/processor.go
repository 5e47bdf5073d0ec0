package vad

import (
	"fmt"
	"sync"
	"time"

	"github.com/skypro1111/overlay-transcriber/internal/dsp"
)

const (
	// Zero-crossing band that plausible speech falls into. Below is hum
	// and low tones, above is hiss and broadband noise.
	MinSpeechZCR = 0.03
	MaxSpeechZCR = 0.35

	DefaultEnergyThresholdDb  = -35.0
	DefaultSilenceThresholdDb = -40.0
	DefaultFrameSize          = 512
)

// Config contains the detector thresholds.
type Config struct {
	EnergyThresholdDb  float64 // advanced mode: rmsDb must exceed this
	SilenceThresholdDb float64 // simple mode: rmsDb below this is silence
	FrameSize          int     // samples per ZCR frame
	Advanced           bool
}

// DefaultConfig returns the thresholds used when nothing is configured.
func DefaultConfig() Config {
	return Config{
		EnergyThresholdDb:  DefaultEnergyThresholdDb,
		SilenceThresholdDb: DefaultSilenceThresholdDb,
		FrameSize:          DefaultFrameSize,
		Advanced:           true,
	}
}

// Detector classifies chunks as speech or silence from energy and
// zero-crossing rate.
type Detector struct {
	config Config

	// Statistics
	totalChunks   uint64
	voiceChunks   uint64
	lastProcessed time.Time

	mu sync.RWMutex
}

// Activity is the decision for one chunk.
type Activity struct {
	IsVoice bool    `json:"is_voice"`
	RmsDb   float64 `json:"rms_db"`
	ZCR     float64 `json:"zcr"`
	Mode    string  `json:"mode"` // "advanced" or "simple"
}

// Segment is a run of consecutive voiced frames inside a buffer.
type Segment struct {
	StartSample int           `json:"start_sample"`
	EndSample   int           `json:"end_sample"`
	Start       time.Duration `json:"start"`
	Duration    time.Duration `json:"duration"`
}

// DetectorStats represents detector statistics
type DetectorStats struct {
	TotalChunks        uint64    `json:"total_chunks"`
	VoiceChunks        uint64    `json:"voice_chunks"`
	VoicePercentage    float64   `json:"voice_percentage"`
	LastProcessed      time.Time `json:"last_processed"`
	EnergyThresholdDb  float64   `json:"energy_threshold_db"`
	SilenceThresholdDb float64   `json:"silence_threshold_db"`
	Advanced           bool      `json:"advanced"`
}

func validateThresholds(energyDb, silenceDb float64) error {
	if energyDb > 0 || energyDb < dsp.SilenceFloorDb {
		return fmt.Errorf("energy threshold must be between %.0f and 0 dB, got %.2f", dsp.SilenceFloorDb, energyDb)
	}
	if silenceDb > 0 || silenceDb < dsp.SilenceFloorDb {
		return fmt.Errorf("silence threshold must be between %.0f and 0 dB, got %.2f", dsp.SilenceFloorDb, silenceDb)
	}
	return nil
}

// NewDetector creates a new detector instance
func NewDetector(cfg Config) (*Detector, error) {
	if err := validateThresholds(cfg.EnergyThresholdDb, cfg.SilenceThresholdDb); err != nil {
		return nil, err
	}
	if cfg.FrameSize <= 1 {
		return nil, fmt.Errorf("frame size must be greater than 1, got %d", cfg.FrameSize)
	}
	return &Detector{config: cfg}, nil
}

// Detect classifies a PCM16LE buffer.
func (d *Detector) Detect(buf []byte) Activity {
	d.mu.Lock()
	defer d.mu.Unlock()

	act := d.classify(buf)

	d.totalChunks++
	if act.IsVoice {
		d.voiceChunks++
	}
	d.lastProcessed = time.Now()
	return act
}

func (d *Detector) classify(buf []byte) Activity {
	rmsDb := dsp.RMSLevel(buf)
	zcr := dsp.ZeroCrossingRate(buf, d.config.FrameSize)

	if d.config.Advanced {
		hasEnergy := rmsDb > d.config.EnergyThresholdDb
		plausible := zcr > MinSpeechZCR && zcr < MaxSpeechZCR
		return Activity{IsVoice: hasEnergy && plausible, RmsDb: rmsDb, ZCR: zcr, Mode: "advanced"}
	}

	isSilent := rmsDb < d.config.SilenceThresholdDb
	return Activity{IsVoice: !isSilent, RmsDb: rmsDb, ZCR: zcr, Mode: "simple"}
}

// Segments splits buf into frames and returns the runs classified as voice.
// It does not touch the detector statistics.
func (d *Detector) Segments(buf []byte, sampleRate int) []Segment {
	d.mu.RLock()
	defer d.mu.RUnlock()

	frame := d.config.FrameSize
	n := dsp.NumSamples(buf)
	var segments []Segment
	var current *Segment

	for start := 0; start+frame <= n; start += frame {
		act := d.classify(buf[start*2 : (start+frame)*2])
		if act.IsVoice {
			if current == nil {
				current = &Segment{StartSample: start}
			}
			current.EndSample = start + frame
			continue
		}
		if current != nil {
			segments = append(segments, finishSegment(*current, sampleRate))
			current = nil
		}
	}
	if current != nil {
		segments = append(segments, finishSegment(*current, sampleRate))
	}
	return segments
}

func finishSegment(s Segment, sampleRate int) Segment {
	if sampleRate > 0 {
		s.Start = time.Duration(s.StartSample) * time.Second / time.Duration(sampleRate)
		s.Duration = time.Duration(s.EndSample-s.StartSample) * time.Second / time.Duration(sampleRate)
	}
	return s
}

// GetStats returns current detector statistics
func (d *Detector) GetStats() DetectorStats {
	d.mu.RLock()
	defer d.mu.RUnlock()

	voicePercentage := float64(0)
	if d.totalChunks > 0 {
		voicePercentage = float64(d.voiceChunks) / float64(d.totalChunks) * 100
	}

	return DetectorStats{
		TotalChunks:        d.totalChunks,
		VoiceChunks:        d.voiceChunks,
		VoicePercentage:    voicePercentage,
		LastProcessed:      d.lastProcessed,
		EnergyThresholdDb:  d.config.EnergyThresholdDb,
		SilenceThresholdDb: d.config.SilenceThresholdDb,
		Advanced:           d.config.Advanced,
	}
}

// UpdateThresholds replaces both thresholds. On error the previous values stay.
func (d *Detector) UpdateThresholds(energyDb, silenceDb float64) error {
	if err := validateThresholds(energyDb, silenceDb); err != nil {
		return err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.config.EnergyThresholdDb = energyDb
	d.config.SilenceThresholdDb = silenceDb
	return nil
}

// SetAdvanced switches between the energy+ZCR and the energy-only decision.
func (d *Detector) SetAdvanced(advanced bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.config.Advanced = advanced
}

// Config returns a copy of the active configuration.
func (d *Detector) Config() Config {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.config
}

// Reset clears the statistics
func (d *Detector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.totalChunks = 0
	d.voiceChunks = 0
	d.lastProcessed = time.Time{}
}
