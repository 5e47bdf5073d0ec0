package audio

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"os"

	goaudio "github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/orcaman/writerseeker"

	"github.com/skypro1111/overlay-transcriber/internal/dsp"
)

const (
	// WAVHeaderSize is the canonical RIFF/WAVE header length for PCM.
	WAVHeaderSize = 44

	wavBitDepth    = 16
	wavChannels    = 1
	wavFormatPCM   = 1
	bytesPerSample = 2
)

// WAVHeader represents the header structure of a WAV file
type WAVHeader struct {
	ChunkID       [4]byte // "RIFF"
	ChunkSize     uint32  // File size - 8 bytes
	Format        [4]byte // "WAVE"
	Subchunk1ID   [4]byte // "fmt "
	Subchunk1Size uint32  // 16 for PCM
	AudioFormat   uint16  // 1 for PCM
	NumChannels   uint16  // Number of channels
	SampleRate    uint32  // Sample rate
	ByteRate      uint32  // SampleRate * NumChannels * BitsPerSample / 8
	BlockAlign    uint16  // NumChannels * BitsPerSample / 8
	BitsPerSample uint16  // Bits per sample
	Subchunk2ID   [4]byte // "data"
	Subchunk2Size uint32  // Number of bytes in the data
}

func pcmToIntBuffer(pcm []byte, sampleRate int) *goaudio.IntBuffer {
	n := dsp.NumSamples(pcm)
	data := make([]int, n)
	for i := 0; i < n; i++ {
		data[i] = int(dsp.SampleAt(pcm, i))
	}
	return &goaudio.IntBuffer{
		Format:         &goaudio.Format{NumChannels: wavChannels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: wavBitDepth,
	}
}

func checkEncodable(pcm []byte, sampleRate int) error {
	if len(pcm) < bytesPerSample {
		return fmt.Errorf("cannot encode empty audio samples")
	}
	if len(pcm)%bytesPerSample != 0 {
		return fmt.Errorf("PCM data length must be even, got %d bytes", len(pcm))
	}
	if sampleRate <= 0 {
		return fmt.Errorf("sample rate must be positive, got %d", sampleRate)
	}
	return nil
}

func encodeTo(ws io.WriteSeeker, pcm []byte, sampleRate int) error {
	encoder := wav.NewEncoder(ws, sampleRate, wavBitDepth, wavChannels, wavFormatPCM)
	if err := encoder.Write(pcmToIntBuffer(pcm, sampleRate)); err != nil {
		return fmt.Errorf("encoder write buffer: %w", err)
	}
	if err := encoder.Close(); err != nil {
		return fmt.Errorf("encoder close: %w", err)
	}
	return nil
}

// EncodeWAV wraps PCM16LE mono bytes in a 44-byte RIFF/WAVE header.
func EncodeWAV(pcm []byte, sampleRate int) ([]byte, error) {
	if err := checkEncodable(pcm, sampleRate); err != nil {
		return nil, err
	}

	wavFile := &writerseeker.WriterSeeker{}
	if err := encodeTo(wavFile, pcm, sampleRate); err != nil {
		return nil, err
	}

	data, err := io.ReadAll(wavFile.Reader())
	if err != nil {
		return nil, fmt.Errorf("reading wav into memory: %w", err)
	}
	return data, nil
}

// WriteWAVFile encodes pcm straight into a file at path.
func WriteWAVFile(path string, pcm []byte, sampleRate int) error {
	if err := checkEncodable(pcm, sampleRate); err != nil {
		return err
	}

	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create WAV file: %w", err)
	}
	if err := encodeTo(f, pcm, sampleRate); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return fmt.Errorf("failed to close WAV file: %w", err)
	}
	return nil
}

func readHeader(data []byte) (WAVHeader, error) {
	var header WAVHeader
	if len(data) < WAVHeaderSize {
		return header, fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}
	if err := binary.Read(bytes.NewReader(data), binary.LittleEndian, &header); err != nil {
		return header, fmt.Errorf("failed to read WAV header: %w", err)
	}
	return header, nil
}

// DecodeWAV returns the PCM payload and sample rate of a mono 16-bit WAV.
func DecodeWAV(data []byte) ([]byte, int, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, 0, err
	}
	header, err := readHeader(data)
	if err != nil {
		return nil, 0, err
	}

	if header.AudioFormat != wavFormatPCM {
		return nil, 0, fmt.Errorf("unsupported audio format: %d (only PCM is supported)", header.AudioFormat)
	}
	if header.BitsPerSample != wavBitDepth {
		return nil, 0, fmt.Errorf("unsupported bit depth: %d (only 16-bit is supported)", header.BitsPerSample)
	}
	if header.NumChannels != wavChannels {
		return nil, 0, fmt.Errorf("unsupported channel count: %d (only mono is supported)", header.NumChannels)
	}

	size := int(header.Subchunk2Size)
	if size <= 0 {
		return nil, 0, fmt.Errorf("no audio data found")
	}
	if WAVHeaderSize+size > len(data) {
		return nil, 0, fmt.Errorf("data chunk declares %d bytes, only %d present", size, len(data)-WAVHeaderSize)
	}

	pcm := make([]byte, size)
	copy(pcm, data[WAVHeaderSize:WAVHeaderSize+size])
	return pcm, int(header.SampleRate), nil
}

// ValidateWAV validates a WAV file format without decoding the entire audio data
func ValidateWAV(data []byte) error {
	if len(data) < WAVHeaderSize {
		return fmt.Errorf("WAV data too short: need at least %d bytes, got %d", WAVHeaderSize, len(data))
	}
	if string(data[0:4]) != "RIFF" {
		return fmt.Errorf("invalid WAV file: missing RIFF header")
	}
	if string(data[8:12]) != "WAVE" {
		return fmt.Errorf("invalid WAV file: missing WAVE format")
	}
	if string(data[12:16]) != "fmt " {
		return fmt.Errorf("invalid WAV file: missing fmt chunk")
	}
	if string(data[36:40]) != "data" {
		return fmt.Errorf("invalid WAV file: missing data chunk")
	}
	return nil
}

// GetWAVDuration calculates the duration of a WAV file in seconds
func GetWAVDuration(data []byte) (float64, error) {
	info, err := GetWAVInfo(data)
	if err != nil {
		return 0, err
	}
	return info.Duration, nil
}

// WAVInfo holds basic information about a WAV file
type WAVInfo struct {
	SampleRate    uint32  `json:"sample_rate"`
	Channels      uint16  `json:"channels"`
	BitsPerSample uint16  `json:"bits_per_sample"`
	Duration      float64 `json:"duration_seconds"`
	DataSize      uint32  `json:"data_size_bytes"`
	NumSamples    uint32  `json:"num_samples"`
}

// GetWAVInfo extracts metadata from a WAV file
func GetWAVInfo(data []byte) (*WAVInfo, error) {
	if err := ValidateWAV(data); err != nil {
		return nil, err
	}
	header, err := readHeader(data)
	if err != nil {
		return nil, err
	}
	if header.SampleRate == 0 {
		return nil, fmt.Errorf("invalid sample rate: 0")
	}
	if header.BitsPerSample == 0 || header.NumChannels == 0 {
		return nil, fmt.Errorf("invalid format: %d bits, %d channels", header.BitsPerSample, header.NumChannels)
	}

	frameBytes := uint32(header.BitsPerSample) / 8 * uint32(header.NumChannels)
	numSamples := header.Subchunk2Size / frameBytes
	return &WAVInfo{
		SampleRate:    header.SampleRate,
		Channels:      header.NumChannels,
		BitsPerSample: header.BitsPerSample,
		Duration:      float64(numSamples) / float64(header.SampleRate),
		DataSize:      header.Subchunk2Size,
		NumSamples:    numSamples,
	}, nil
}
