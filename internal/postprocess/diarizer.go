package postprocess

import (
	"fmt"
	"math"

	"github.com/skypro1111/overlay-transcriber/internal/dsp"
	"github.com/skypro1111/overlay-transcriber/internal/syncx"
)

// Profile update weight: new = alpha*old + (1-alpha)*observed.
const profileAlpha = 0.7

// VoiceFeatures are the acoustic measurements used to tell speakers apart.
type VoiceFeatures struct {
	Pitch              float64    `json:"pitch"`
	PitchVariance      float64    `json:"pitch_variance"`
	SpeechRate         float64    `json:"speech_rate"`
	AmplitudeEnvelope  float64    `json:"amplitude_envelope"`
	SpectralCentroid   float64    `json:"spectral_centroid"`
	EnergyDistribution [4]float64 `json:"energy_distribution"`
	Confidence         float64    `json:"confidence"`
}

// ExtractVoiceFeatures measures a PCM16LE chunk.
func ExtractVoiceFeatures(pcm []byte, sampleRate int) VoiceFeatures {
	f := VoiceFeatures{
		Pitch:              dsp.DetectPitch(pcm, sampleRate),
		PitchVariance:      dsp.PitchVariance(pcm, sampleRate),
		SpeechRate:         dsp.SpeechRate(pcm, sampleRate),
		AmplitudeEnvelope:  dsp.AmplitudeEnvelopeVariance(pcm),
		SpectralCentroid:   dsp.SpectralCentroidProxy(pcm),
		EnergyDistribution: dsp.EnergyDistribution(pcm),
	}
	f.Confidence = featureConfidence(f)
	return f
}

// Vector normalizes the features into the 9-dimensional clustering space.
func (f VoiceFeatures) Vector() []float64 {
	return []float64{
		math.Min(1, f.Pitch/200),
		math.Min(1, f.PitchVariance/100),
		math.Min(1, f.SpeechRate/10),
		f.AmplitudeEnvelope,
		f.SpectralCentroid,
		f.EnergyDistribution[0],
		f.EnergyDistribution[1],
		f.EnergyDistribution[2],
		f.EnergyDistribution[3],
	}
}

// featureConfidence starts at 0.8 and drops for unvoiced, unstable or
// very quiet audio, never below 0.3.
func featureConfidence(f VoiceFeatures) float64 {
	c := 0.8
	if f.Pitch < 50 {
		c -= 0.3
	}
	if f.PitchVariance > 100 {
		c -= 0.1
	}
	if f.SpectralCentroid < 0.1 {
		c -= 0.2
	}
	return math.Max(0.3, math.Min(1, c))
}

// EuclideanDistance returns +Inf for vectors of different length.
func EuclideanDistance(a, b []float64) float64 {
	if len(a) != len(b) {
		return math.Inf(1)
	}
	sum := 0.0
	for i := range a {
		d := a[i] - b[i]
		sum += d * d
	}
	return math.Sqrt(sum)
}

// SpeakerProfile is the running voice model of one speaker.
type SpeakerProfile struct {
	ID         int           `json:"id"`
	Label      string        `json:"label"`
	Features   VoiceFeatures `json:"features"`
	Vector     []float64     `json:"vector"`
	ChunkCount int           `json:"chunk_count"`
	Confidence float64       `json:"confidence"`
}

func (p *SpeakerProfile) absorb(f VoiceFeatures) {
	ema := func(old, obs float64) float64 { return profileAlpha*old + (1-profileAlpha)*obs }

	p.Features.Pitch = ema(p.Features.Pitch, f.Pitch)
	p.Features.PitchVariance = ema(p.Features.PitchVariance, f.PitchVariance)
	p.Features.SpeechRate = ema(p.Features.SpeechRate, f.SpeechRate)
	p.Features.AmplitudeEnvelope = ema(p.Features.AmplitudeEnvelope, f.AmplitudeEnvelope)
	p.Features.SpectralCentroid = ema(p.Features.SpectralCentroid, f.SpectralCentroid)
	for i := range p.Features.EnergyDistribution {
		p.Features.EnergyDistribution[i] = ema(p.Features.EnergyDistribution[i], f.EnergyDistribution[i])
	}
	p.Confidence = ema(p.Confidence, f.Confidence)
	p.Features.Confidence = p.Confidence
	p.ChunkCount++
	p.Vector = p.Features.Vector()
}

// SpeakerLabel formats a speaker id for display.
func SpeakerLabel(id int) string {
	return fmt.Sprintf("Speaker %d", id)
}

// Speaker is the diarization decision for one chunk.
type Speaker struct {
	ID         int           `json:"id"`
	Label      string        `json:"label"`
	Confidence float64       `json:"confidence"`
	Distance   float64       `json:"distance"`
	IsNew      bool          `json:"is_new"`
	Features   VoiceFeatures `json:"features"`
}

// FormatLabel renders "[Speaker N (C%)]".
func (s Speaker) FormatLabel() string {
	return fmt.Sprintf("[%s (%.0f%%)]", s.Label, s.Confidence*100)
}

// DiarizerConfig contains the clustering parameters.
type DiarizerConfig struct {
	MaxSpeakers        int
	ClusteringDistance float64
}

// DiarizerStats represents diarization statistics
type DiarizerStats struct {
	ChunksAnalyzed     uint64           `json:"chunks_analyzed"`
	SpeakersIdentified int              `json:"speakers_identified"`
	SpeakerSwitches    uint64           `json:"speaker_switches"`
	AverageConfidence  float64          `json:"average_confidence"`
	CurrentSpeaker     int              `json:"current_speaker"`
	Profiles           []SpeakerProfile `json:"profiles"`
}

type diarizerState struct {
	profiles        []*SpeakerProfile
	nextID          int
	current         int
	chunks          uint64
	switches        uint64
	confidenceTotal float64
}

// Diarizer assigns chunks to speakers by nearest-profile clustering.
// Profile updates are serialized so parallel chunks cannot interleave
// their moving-average updates.
type Diarizer struct {
	config DiarizerConfig
	state  *syncx.RWGuard[diarizerState]
}

// NewDiarizer creates a diarizer with no profiles.
func NewDiarizer(cfg DiarizerConfig) (*Diarizer, error) {
	if cfg.MaxSpeakers < 1 {
		return nil, fmt.Errorf("max speakers must be at least 1, got %d", cfg.MaxSpeakers)
	}
	if cfg.ClusteringDistance <= 0 {
		return nil, fmt.Errorf("clustering distance must be positive, got %f", cfg.ClusteringDistance)
	}
	return &Diarizer{config: cfg, state: syncx.NewGuard(diarizerState{nextID: 1})}, nil
}

// Analyze extracts features from the chunk audio and assigns a speaker.
func (d *Diarizer) Analyze(pcm []byte, sampleRate int) Speaker {
	return d.Assign(ExtractVoiceFeatures(pcm, sampleRate))
}

// Assign matches features to the closest profile within the clustering
// distance. Otherwise it creates a new profile, or when the speaker limit
// is reached, folds the features into the closest profile.
func (d *Diarizer) Assign(f VoiceFeatures) Speaker {
	vec := f.Vector()

	return syncx.Update(d.state, func(s *diarizerState) Speaker {
		s.chunks++
		s.confidenceTotal += f.Confidence

		var closest *SpeakerProfile
		minDist := math.Inf(1)
		for _, p := range s.profiles {
			if dist := EuclideanDistance(vec, p.Vector); dist < minDist {
				minDist = dist
				closest = p
			}
		}

		var profile *SpeakerProfile
		isNew := false
		switch {
		case closest != nil && minDist < d.config.ClusteringDistance:
			profile = closest
			profile.absorb(f)
		case len(s.profiles) < d.config.MaxSpeakers:
			profile = &SpeakerProfile{
				ID:         s.nextID,
				Label:      SpeakerLabel(s.nextID),
				Features:   f,
				Vector:     vec,
				ChunkCount: 1,
				Confidence: f.Confidence,
			}
			s.nextID++
			s.profiles = append(s.profiles, profile)
			isNew = true
			minDist = 0
		default:
			profile = closest
			profile.absorb(f)
		}

		if s.current != 0 && s.current != profile.ID {
			s.switches++
		}
		s.current = profile.ID

		return Speaker{
			ID:         profile.ID,
			Label:      profile.Label,
			Confidence: f.Confidence,
			Distance:   minDist,
			IsNew:      isNew,
			Features:   f,
		}
	})
}

// Profiles returns copies of the speaker profiles.
func (d *Diarizer) Profiles() []SpeakerProfile {
	return syncx.Read(d.state, func(s *diarizerState) []SpeakerProfile {
		out := make([]SpeakerProfile, len(s.profiles))
		for i, p := range s.profiles {
			out[i] = *p
			out[i].Vector = append([]float64(nil), p.Vector...)
		}
		return out
	})
}

// Reset drops all profiles; speaker numbering restarts at 1.
func (d *Diarizer) Reset() {
	d.state.Write(func(s *diarizerState) {
		*s = diarizerState{nextID: 1}
	})
}

// GetStats returns diarization statistics.
func (d *Diarizer) GetStats() DiarizerStats {
	stats := syncx.Read(d.state, func(s *diarizerState) DiarizerStats {
		st := DiarizerStats{
			ChunksAnalyzed:     s.chunks,
			SpeakersIdentified: len(s.profiles),
			SpeakerSwitches:    s.switches,
			CurrentSpeaker:     s.current,
		}
		if s.chunks > 0 {
			st.AverageConfidence = s.confidenceTotal / float64(s.chunks)
		}
		return st
	})
	stats.Profiles = d.Profiles()
	return stats
}
