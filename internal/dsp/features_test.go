package dsp

import (
	"math"
	"testing"
)

func TestComputeStatsSilence(t *testing.T) {
	stats := ComputeStats(make([]byte, 640))
	if stats.PeakDb != SilenceFloorDb || stats.RmsDb != SilenceFloorDb {
		t.Errorf("stats = %+v, want floor values", stats)
	}
	if stats.DynamicRange != 0 {
		t.Errorf("DynamicRange = %f, want 0", stats.DynamicRange)
	}
}

func TestComputeStatsTone(t *testing.T) {
	stats := ComputeStats(tone(440, 0.5, 16000, 16000))
	if math.Abs(stats.DynamicRange-3.0103) > 0.1 {
		t.Errorf("sine crest factor = %f dB, want about 3.01", stats.DynamicRange)
	}
}

func TestAudioLevel(t *testing.T) {
	if got := AudioLevel(nil); got != 0 {
		t.Errorf("AudioLevel(empty) = %f", got)
	}
	full := FromSamples([]int16{-32768, -32768})
	if got := AudioLevel(full); got != 1 {
		t.Errorf("AudioLevel(full scale) = %f, want 1", got)
	}
}

func TestSpeechRate(t *testing.T) {
	if got := SpeechRate(tone(300, 0.5, 16000, 16000), 16000); got != 125 {
		t.Errorf("SpeechRate(loud 1s) = %f, want 125", got)
	}
	if got := SpeechRate(make([]byte, 32000), 16000); got != 0 {
		t.Errorf("SpeechRate(silence) = %f, want 0", got)
	}
}

func TestEnergyDistribution(t *testing.T) {
	empty := EnergyDistribution(nil)
	for i, v := range empty {
		if v != 0.25 {
			t.Errorf("bin %d = %f, want 0.25", i, v)
		}
	}

	buf := FromSamples([]int16{0, 10000, 20000, 30000})
	got := EnergyDistribution(buf)
	sum := 0.0
	for _, v := range got {
		sum += v
		if v != 0.25 {
			t.Errorf("distribution = %v, want one sample per bin", got)
			break
		}
	}
	if math.Abs(sum-1) > 1e-9 {
		t.Errorf("sum = %f, want 1", sum)
	}
}

func TestPitchVarianceSteadyTone(t *testing.T) {
	if got := PitchVariance(tone(250, 0.5, 8000, 16000), 16000); got > 1 {
		t.Errorf("steady tone should have near-zero pitch variance, got %f", got)
	}
	if got := PitchVariance(make([]byte, 100), 16000); got != 0 {
		t.Errorf("short input = %f, want 0", got)
	}
}

func TestAmplitudeEnvelopeVariance(t *testing.T) {
	steady := AmplitudeEnvelopeVariance(tone(1000, 0.5, 4096, 16000))
	if steady > 0.01 {
		t.Errorf("steady tone envelope variance = %f", steady)
	}

	bursty := append(tone(1000, 0.9, 2048, 16000), make([]byte, 4096)...)
	if got := AmplitudeEnvelopeVariance(bursty); got <= steady {
		t.Errorf("bursty signal variance %f should exceed steady %f", got, steady)
	}
}
