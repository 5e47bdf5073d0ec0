package dsp

import (
	"encoding/binary"
	"math"
)

const (
	// SilenceFloorDb is returned for silent or empty buffers instead of -Inf.
	SilenceFloorDb = -120.0

	maxSample = 32767.0
	minSample = -32768.0

	// MinAGCGain and MaxAGCGain bound the gain AGC will ever apply (±30 dB).
	MinAGCGain = 0.0316227766
	MaxAGCGain = 31.6227766

	normalizeSkipTolerance = 0.01
	pitchFrameSize         = 512
)

// NumSamples returns the number of whole 16-bit samples in buf.
func NumSamples(buf []byte) int {
	return len(buf) / 2
}

// SampleAt returns the i-th little-endian sample.
func SampleAt(buf []byte, i int) int16 {
	return int16(binary.LittleEndian.Uint16(buf[i*2:]))
}

func putSample(buf []byte, i int, v int16) {
	binary.LittleEndian.PutUint16(buf[i*2:], uint16(v))
}

// Samples decodes a PCM16LE buffer. A trailing odd byte is ignored.
func Samples(buf []byte) []int16 {
	n := NumSamples(buf)
	out := make([]int16, n)
	for i := 0; i < n; i++ {
		out[i] = SampleAt(buf, i)
	}
	return out
}

// FromSamples encodes samples as PCM16LE.
func FromSamples(samples []int16) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		putSample(out, i, s)
	}
	return out
}

// clip rounds v and clamps it to the int16 range.
func clip(v float64) int16 {
	r := math.Round(v)
	if r > maxSample {
		return math.MaxInt16
	}
	if r < minSample {
		return math.MinInt16
	}
	return int16(r)
}

// PeakAmplitude returns max|s|/32767 clamped to [0,1].
func PeakAmplitude(buf []byte) float64 {
	n := NumSamples(buf)
	peak := 0.0
	for i := 0; i < n; i++ {
		a := math.Abs(float64(SampleAt(buf, i)))
		if a > peak {
			peak = a
		}
	}
	return math.Min(1, peak/maxSample)
}

// RMSLevel returns the RMS level in dBFS, or SilenceFloorDb for silence.
func RMSLevel(buf []byte) float64 {
	n := NumSamples(buf)
	if n == 0 {
		return SilenceFloorDb
	}
	sum := 0.0
	for i := 0; i < n; i++ {
		s := float64(SampleAt(buf, i))
		sum += s * s
	}
	rms := math.Sqrt(sum / float64(n))
	return AmplitudeToDb(math.Min(1, rms/maxSample))
}

// AmplitudeToDb converts a linear amplitude to dB, flooring at SilenceFloorDb.
func AmplitudeToDb(a float64) float64 {
	if a <= 0 {
		return SilenceFloorDb
	}
	db := 20 * math.Log10(a)
	if db < SilenceFloorDb {
		return SilenceFloorDb
	}
	return db
}

// DbToAmplitude converts dB to a linear amplitude.
func DbToAmplitude(db float64) float64 {
	return math.Pow(10, db/20)
}

// HighPass applies a first-order RC high-pass filter and returns a new buffer.
// The input is copied unchanged when cutoff is not inside (0, sampleRate/2).
func HighPass(buf []byte, cutoffHz float64, sampleRate int) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)
	if sampleRate <= 0 || cutoffHz <= 0 || cutoffHz >= float64(sampleRate)/2 {
		return out
	}

	rc := 1 / (2 * math.Pi * cutoffHz)
	dt := 1 / float64(sampleRate)
	alpha := rc / (rc + dt)

	var prevIn, prevOut float64
	n := NumSamples(buf)
	for i := 0; i < n; i++ {
		x := float64(SampleAt(buf, i))
		y := alpha * (prevOut + x - prevIn)
		putSample(out, i, clip(y))
		prevIn = x
		prevOut = y
	}
	return out
}

// Normalize scales buf so its peak sits at targetDb.
func Normalize(buf []byte, targetDb float64) []byte {
	out := make([]byte, len(buf))
	copy(out, buf)

	peak := PeakAmplitude(buf)
	if peak == 0 {
		return out
	}
	gain := DbToAmplitude(targetDb - AmplitudeToDb(peak))
	if math.Abs(gain-1) < normalizeSkipTolerance {
		return out
	}
	return applyGain(out, gain)
}

func applyGain(buf []byte, gain float64) []byte {
	n := NumSamples(buf)
	for i := 0; i < n; i++ {
		putSample(buf, i, clip(float64(SampleAt(buf, i))*gain))
	}
	return buf
}

// AGCState is the gain carried between successive AGC calls.
type AGCState struct {
	Gain float64 `json:"gain"`
}

// NewAGCState returns unity gain.
func NewAGCState() AGCState {
	return AGCState{Gain: 1}
}

// AGCParams configures one AGC call.
type AGCParams struct {
	TargetDb    float64
	AttackTime  float64 // seconds
	ReleaseTime float64 // seconds
	SampleRate  int
}

func smoothingCoeff(seconds float64, sampleRate int) float64 {
	if seconds <= 0 || sampleRate <= 0 {
		return 0
	}
	return math.Exp(-2 * math.Pi / (seconds * float64(sampleRate)))
}

// AGC moves the gain one step toward the level that brings buf's RMS to
// TargetDb and applies that single gain to the whole buffer. The step uses
// the attack coefficient while the gain rises and the release coefficient
// while it falls, so successive chunks approach the target gradually.
// Silent input passes through and leaves the state untouched.
func AGC(buf []byte, p AGCParams, state AGCState) ([]byte, AGCState) {
	out := make([]byte, len(buf))
	copy(out, buf)

	gain := state.Gain
	if gain <= 0 {
		gain = 1
	}

	rmsDb := RMSLevel(buf)
	if rmsDb <= SilenceFloorDb {
		return out, AGCState{Gain: gain}
	}

	desired := DbToAmplitude(p.TargetDb - rmsDb)
	desired = math.Max(MinAGCGain, math.Min(MaxAGCGain, desired))

	coeff := smoothingCoeff(p.ReleaseTime, p.SampleRate)
	if desired > gain {
		coeff = smoothingCoeff(p.AttackTime, p.SampleRate)
	}
	gain = coeff*gain + (1-coeff)*desired

	n := NumSamples(buf)
	for i := 0; i < n; i++ {
		putSample(out, i, clip(float64(SampleAt(buf, i))*gain))
	}
	return out, AGCState{Gain: gain}
}

// ZeroCrossingRate returns sign flips between adjacent nonzero samples per
// sample, averaged over full frames of frameSize samples. A zero sample
// breaks adjacency, so +A 0 -A is not a crossing.
// Buffers shorter than one frame are measured as a single frame.
func ZeroCrossingRate(buf []byte, frameSize int) float64 {
	n := NumSamples(buf)
	if n < 2 {
		return 0
	}
	if frameSize < 2 || frameSize > n {
		return frameZCR(buf, 0, n)
	}

	total := 0.0
	frames := 0
	for start := 0; start+frameSize <= n; start += frameSize {
		total += frameZCR(buf, start, frameSize)
		frames++
	}
	return total / float64(frames)
}

func frameZCR(buf []byte, start, size int) float64 {
	crossings := 0
	var prev int16
	for i := start; i < start+size; i++ {
		s := SampleAt(buf, i)
		if s != 0 && prev != 0 && (s > 0) != (prev > 0) {
			crossings++
		}
		prev = s
	}
	return float64(crossings) / float64(size)
}

// DetectPitch estimates the fundamental frequency of the first 512 samples
// using Hann-windowed autocorrelation over lags [fs/400, fs/50).
// It returns 0 for short input or when no lag correlates positively.
func DetectPitch(buf []byte, sampleRate int) float64 {
	if sampleRate <= 0 || NumSamples(buf) < pitchFrameSize {
		return 0
	}

	frame := make([]float64, pitchFrameSize)
	for i := range frame {
		w := 0.5 * (1 - math.Cos(2*math.Pi*float64(i)/float64(pitchFrameSize-1)))
		frame[i] = float64(SampleAt(buf, i)) / maxSample * w
	}

	minLag := sampleRate / 400
	maxLag := sampleRate / 50
	if minLag < 1 {
		minLag = 1
	}
	if maxLag > pitchFrameSize-1 {
		maxLag = pitchFrameSize - 1
	}

	bestLag := 0
	best := 0.0
	for lag := minLag; lag < maxLag; lag++ {
		corr := 0.0
		for i := 0; i+lag < pitchFrameSize; i++ {
			corr += frame[i] * frame[i+lag]
		}
		if corr > best {
			best = corr
			bestLag = lag
		}
	}
	if bestLag == 0 {
		return 0
	}
	return float64(sampleRate) / float64(bestLag)
}
