package dsp

import "math"

const (
	fullScale = 32768.0

	pitchHop        = 256
	envelopeFrame   = 128
	speechRMSThresh = 0.05
)

// Stats holds the pre-DSP level measurements attached to each chunk.
type Stats struct {
	PeakDb       float64 `json:"peak_db"`
	RmsDb        float64 `json:"rms_db"`
	DynamicRange float64 `json:"dynamic_range"`
}

// ComputeStats measures peak, RMS and their difference. Floors keep the
// dynamic range finite for silent buffers.
func ComputeStats(buf []byte) Stats {
	peakDb := AmplitudeToDb(PeakAmplitude(buf))
	rmsDb := RMSLevel(buf)
	return Stats{
		PeakDb:       peakDb,
		RmsDb:        rmsDb,
		DynamicRange: peakDb - rmsDb,
	}
}

// AudioLevel returns mean |s| / 32768 capped at 1, used for live metering.
func AudioLevel(buf []byte) float64 {
	n := NumSamples(buf)
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		sum += math.Abs(float64(SampleAt(buf, i)))
	}
	return math.Min(1, sum/float64(n)/fullScale)
}

// PitchVariance is the standard deviation of the nonzero pitch estimates
// over 512-sample frames with a 256-sample hop.
func PitchVariance(buf []byte, sampleRate int) float64 {
	n := NumSamples(buf)
	var pitches []float64
	for start := 0; start+pitchFrameSize <= n; start += pitchHop {
		p := DetectPitch(buf[start*2:(start+pitchFrameSize)*2], sampleRate)
		if p > 0 {
			pitches = append(pitches, p)
		}
	}
	return stddev(pitches)
}

// SpeechRate counts 128-sample frames whose RMS exceeds 0.05 full scale
// per second of audio.
func SpeechRate(buf []byte, sampleRate int) float64 {
	n := NumSamples(buf)
	if n == 0 || sampleRate <= 0 {
		return 0
	}
	active := 0
	for start := 0; start+envelopeFrame <= n; start += envelopeFrame {
		sum := 0.0
		for i := start; i < start+envelopeFrame; i++ {
			s := float64(SampleAt(buf, i)) / fullScale
			sum += s * s
		}
		if math.Sqrt(sum/envelopeFrame) > speechRMSThresh {
			active++
		}
	}
	return float64(active) / (float64(n) / float64(sampleRate))
}

// AmplitudeEnvelopeVariance is the standard deviation of per-frame peaks.
func AmplitudeEnvelopeVariance(buf []byte) float64 {
	n := NumSamples(buf)
	var peaks []float64
	for start := 0; start+envelopeFrame <= n; start += envelopeFrame {
		peak := 0.0
		for i := start; i < start+envelopeFrame; i++ {
			a := math.Abs(float64(SampleAt(buf, i))) / fullScale
			if a > peak {
				peak = a
			}
		}
		peaks = append(peaks, peak)
	}
	return stddev(peaks)
}

// SpectralCentroidProxy approximates brightness with the overall RMS amplitude.
func SpectralCentroidProxy(buf []byte) float64 {
	n := NumSamples(buf)
	if n == 0 {
		return 0
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		s := float64(SampleAt(buf, i)) / fullScale
		sum += s * s
	}
	return math.Sqrt(sum / float64(n))
}

// EnergyDistribution histograms |s| into four equal-width bins normalized
// to sum to 1. Empty input is uniform.
func EnergyDistribution(buf []byte) [4]float64 {
	n := NumSamples(buf)
	if n == 0 {
		return [4]float64{0.25, 0.25, 0.25, 0.25}
	}
	var bins [4]float64
	for i := 0; i < n; i++ {
		a := math.Abs(float64(SampleAt(buf, i))) / fullScale
		switch {
		case a < 0.25:
			bins[0]++
		case a < 0.5:
			bins[1]++
		case a < 0.75:
			bins[2]++
		default:
			bins[3]++
		}
	}
	for i := range bins {
		bins[i] /= float64(n)
	}
	return bins
}

func stddev(values []float64) float64 {
	if len(values) < 2 {
		return 0
	}
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	return math.Sqrt(variance / float64(len(values)))
}
