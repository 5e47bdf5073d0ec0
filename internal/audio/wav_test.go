package audio

import (
	"bytes"
	"math"
	"os"
	"path/filepath"
	"testing"

	"github.com/skypro1111/overlay-transcriber/internal/dsp"
)

// generateTone returns PCM16LE for a sine wave with the given peak amplitude (0..1).
func generateTone(freq, amplitude float64, numSamples, sampleRate int) []byte {
	samples := make([]int16, numSamples)
	for i := range samples {
		t := float64(i) / float64(sampleRate)
		samples[i] = int16(amplitude * 32767 * math.Sin(2*math.Pi*freq*t))
	}
	return dsp.FromSamples(samples)
}

func TestEncodeWAV(t *testing.T) {
	sampleRate := 16000
	pcm := generateTone(440, 0.5, 1600, sampleRate)

	wavData, err := EncodeWAV(pcm, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	expectedSize := WAVHeaderSize + len(pcm)
	if len(wavData) != expectedSize {
		t.Errorf("Expected WAV size %d, got %d", expectedSize, len(wavData))
	}

	if err := ValidateWAV(wavData); err != nil {
		t.Errorf("Generated WAV is invalid: %v", err)
	}

	info, err := GetWAVInfo(wavData)
	if err != nil {
		t.Fatalf("Failed to get WAV info: %v", err)
	}
	if info.SampleRate != uint32(sampleRate) {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, info.SampleRate)
	}
	if info.Channels != 1 {
		t.Errorf("Expected 1 channel, got %d", info.Channels)
	}
	if info.BitsPerSample != 16 {
		t.Errorf("Expected 16 bits per sample, got %d", info.BitsPerSample)
	}
	if math.Abs(info.Duration-0.1) > 0.001 {
		t.Errorf("Expected duration 0.100, got %.3f", info.Duration)
	}
}

func TestDecodeWAV(t *testing.T) {
	original := dsp.FromSamples([]int16{100, -200, 300, -400, 500})
	sampleRate := 8000

	wavData, err := EncodeWAV(original, sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	decoded, decodedSampleRate, err := DecodeWAV(wavData)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if decodedSampleRate != sampleRate {
		t.Errorf("Expected sample rate %d, got %d", sampleRate, decodedSampleRate)
	}
	if !bytes.Equal(decoded, original) {
		t.Errorf("decoded PCM = %v, want %v", decoded, original)
	}
}

func TestEncodeWAVInvalidInput(t *testing.T) {
	tests := []struct {
		name       string
		pcm        []byte
		sampleRate int
	}{
		{"empty", []byte{}, 16000},
		{"odd length", []byte{1, 2, 3}, 16000},
		{"zero sample rate", []byte{1, 2}, 0},
		{"negative sample rate", []byte{1, 2}, -1000},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := EncodeWAV(tt.pcm, tt.sampleRate); err == nil {
				t.Error("Expected error")
			}
		})
	}
}

func TestWriteWAVFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "chunk_0.wav")
	pcm := generateTone(1000, 0.3, 3200, 16000)

	if err := WriteWAVFile(path, pcm, 16000); err != nil {
		t.Fatalf("WriteWAVFile failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile failed: %v", err)
	}
	if len(data) != WAVHeaderSize+len(pcm) {
		t.Errorf("file size = %d, want %d", len(data), WAVHeaderSize+len(pcm))
	}

	decoded, _, err := DecodeWAV(data)
	if err != nil {
		t.Fatalf("DecodeWAV failed: %v", err)
	}
	if !bytes.Equal(decoded, pcm) {
		t.Error("file payload differs from input PCM")
	}
}

func TestValidateWAV(t *testing.T) {
	if err := ValidateWAV([]byte{1, 2, 3}); err == nil {
		t.Error("Expected error for too short WAV data")
	}

	invalidWAV := make([]byte, 50)
	copy(invalidWAV[0:4], []byte("FAKE"))
	if err := ValidateWAV(invalidWAV); err == nil {
		t.Error("Expected error for invalid RIFF header")
	}
}

func TestGetWAVDuration(t *testing.T) {
	sampleRate := 8000
	samples := make([]int16, sampleRate)
	for i := range samples {
		samples[i] = int16(i % 1000)
	}

	wavData, err := EncodeWAV(dsp.FromSamples(samples), sampleRate)
	if err != nil {
		t.Fatalf("EncodeWAV failed: %v", err)
	}

	duration, err := GetWAVDuration(wavData)
	if err != nil {
		t.Fatalf("GetWAVDuration failed: %v", err)
	}
	if math.Abs(duration-1.0) > 0.001 {
		t.Errorf("Expected duration 1.000, got %.3f", duration)
	}
}
