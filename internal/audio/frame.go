package audio

import (
	"encoding/binary"
	"math"
	"time"
)

// Frame is one delivery from a capture source: PCM16LE mono at SampleRate.
// The receiver owns PCM after the frame is sent.
type Frame struct {
	PCM        []byte
	Timestamp  time.Time
	SampleRate int
}

// Float32ToPCM16 converts normalized float samples (-1..1) to PCM16LE,
// clamping anything outside the range.
func Float32ToPCM16(samples []float32) []byte {
	out := make([]byte, len(samples)*bytesPerSample)
	for i, s := range samples {
		v := math.Max(-1, math.Min(1, float64(s)))
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(math.Round(v*32767))))
	}
	return out
}
