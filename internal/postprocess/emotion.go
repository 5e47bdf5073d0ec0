package postprocess

import (
	"fmt"
	"math"
	"strings"
	"sync"

	"github.com/skypro1111/overlay-transcriber/internal/dsp"
)

// Emotion is a coarse tone label.
type Emotion string

const (
	EmotionPositive  Emotion = "positive"
	EmotionNegative  Emotion = "negative"
	EmotionNeutral   Emotion = "neutral"
	EmotionUncertain Emotion = "uncertain"
)

var emotionScores = map[Emotion]float64{
	EmotionPositive:  0.8,
	EmotionNeutral:   0.5,
	EmotionNegative:  0.2,
	EmotionUncertain: 0.5,
}

var (
	positiveKeywords = []string{
		"love", "amazing", "great", "awesome", "wonderful", "excellent",
		"perfect", "fantastic", "incredible", "good", "nice", "glad",
		"happy", "yes", "thank", "thanks", "appreciate", "beautiful", "brilliant",
		"outstanding", "splendid", "superb", "delightful",
	}
	negativeKeywords = []string{
		"hate", "terrible", "awful", "horrible", "bad", "worst", "stupid",
		"ugly", "disgusting", "sick", "no", "don't", "can't", "won't",
		"angry", "frustrated", "sad", "disappointed", "poor", "useless",
		"pathetic", "dreadful", "miserable", "atrocious",
	}
	uncertainKeywords = []string{
		"maybe", "perhaps", "probably", "seems", "kind of", "sort of",
		"like", "basically", "uh", "um", "well", "anyway", "you know",
		"i think", "i guess", "not sure", "confused",
	}
)

const keywordStep = 0.15

// EmotionReading is the outcome of one analysis.
type EmotionReading struct {
	Emotion    Emotion `json:"emotion"`
	Confidence float64 `json:"confidence"`
}

// TextSignals are the lexical cues found in a transcript.
type TextSignals struct {
	Sentiment          float64 `json:"sentiment"`
	Keywords           int     `json:"keywords"`
	Uncertain          int     `json:"uncertain"`
	Exclamations       int     `json:"exclamations"`
	Questions          int     `json:"questions"`
	CapitalizationRate float64 `json:"capitalization_rate"`
}

// AudioSignals are the prosodic cues measured on the chunk audio.
type AudioSignals struct {
	PitchVariance     float64 `json:"pitch_variance"`
	SpeechRate        float64 `json:"speech_rate"`
	AmplitudeDynamics float64 `json:"amplitude_dynamics"`
}

// EmotionResult combines the text and audio readings.
type EmotionResult struct {
	EmotionReading
	Text        EmotionReading `json:"text"`
	Audio       EmotionReading `json:"audio"`
	TextSignal  TextSignals    `json:"text_signals"`
	AudioSignal AudioSignals   `json:"audio_signals"`
}

// FormatLabel renders "POSITIVE (80%)".
func (r EmotionResult) FormatLabel() string {
	return fmt.Sprintf("%s (%.0f%%)", strings.ToUpper(string(r.Emotion)), r.Confidence*100)
}

// countPhrases counts the phrases present as whole words in the padded,
// space-normalized text.
func countPhrases(padded string, phrases []string) int {
	n := 0
	for _, p := range phrases {
		if strings.Contains(padded, " "+p+" ") {
			n++
		}
	}
	return n
}

func normalizeForKeywords(text string) string {
	var b strings.Builder
	b.WriteByte(' ')
	for _, r := range strings.ToLower(text) {
		switch {
		case r == '\'' || (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9'):
			b.WriteRune(r)
		default:
			b.WriteByte(' ')
		}
	}
	b.WriteByte(' ')
	return strings.Join(strings.Fields(b.String()), " ")
}

// AnalyzeText scores sentiment from keyword lexicons, 0.15 per matched
// keyword around a neutral 0.5, clamped to [0,1].
func AnalyzeText(text string) (EmotionReading, TextSignals) {
	var sig TextSignals
	sig.Sentiment = 0.5
	if strings.TrimSpace(text) == "" {
		return EmotionReading{Emotion: EmotionNeutral}, sig
	}

	padded := " " + normalizeForKeywords(text) + " "
	pos := countPhrases(padded, positiveKeywords)
	neg := countPhrases(padded, negativeKeywords)
	sig.Uncertain = countPhrases(padded, uncertainKeywords)
	sig.Keywords = pos + neg
	sig.Sentiment = math.Max(0, math.Min(1, 0.5+keywordStep*float64(pos-neg)))
	sig.Exclamations = strings.Count(text, "!")
	sig.Questions = strings.Count(text, "?")

	upper, letters := 0, 0
	for _, r := range text {
		switch {
		case r >= 'A' && r <= 'Z':
			upper++
			letters++
		case r >= 'a' && r <= 'z':
			letters++
		}
	}
	if letters > 0 {
		sig.CapitalizationRate = float64(upper) / float64(letters)
	}

	var reading EmotionReading
	switch {
	case sig.Sentiment > 0.65:
		reading = EmotionReading{EmotionPositive, math.Min(0.95, 0.5+(sig.Sentiment-0.5)*0.9)}
	case sig.Sentiment < 0.35:
		reading = EmotionReading{EmotionNegative, math.Min(0.95, 0.5+(0.5-sig.Sentiment)*0.9)}
	case sig.Uncertain > 0 && (float64(sig.Uncertain) > float64(sig.Keywords)/2 || sig.Uncertain > 2):
		reading = EmotionReading{EmotionUncertain, 0.5 + float64(sig.Uncertain)*0.1}
	default:
		reading = EmotionReading{EmotionNeutral, 0.3 + math.Abs(sig.Sentiment-0.5)*0.4}
	}

	if sig.Exclamations > 0 {
		reading.Confidence += 0.15
	}
	if sig.CapitalizationRate > 0.3 {
		reading.Confidence += 0.1
	}
	reading.Confidence = math.Min(0.99, reading.Confidence)
	return reading, sig
}

// AnalyzeAudio classifies prosody: pitch variance gives intensity, speech
// rate and loudness dynamics give the lean.
func AnalyzeAudio(pcm []byte, sampleRate int) (EmotionReading, AudioSignals) {
	if len(pcm) == 0 {
		return EmotionReading{Emotion: EmotionNeutral}, AudioSignals{}
	}

	sig := AudioSignals{
		PitchVariance:     dsp.PitchVariance(pcm, sampleRate),
		SpeechRate:        dsp.SpeechRate(pcm, sampleRate),
		AmplitudeDynamics: dsp.AmplitudeEnvelopeVariance(pcm),
	}
	return classifyAudio(sig), sig
}

func classifyAudio(sig AudioSignals) EmotionReading {
	intensity := math.Min(1, sig.PitchVariance/100)

	rate := 0.5
	switch {
	case sig.SpeechRate > 8:
		rate = 0.7
	case sig.SpeechRate < 3:
		rate = 0.3
	}
	dynamics := math.Min(1, sig.AmplitudeDynamics*2)
	lean := (rate + dynamics) / 2

	switch {
	case intensity > 0.6 && lean > 0.6:
		return EmotionReading{EmotionPositive, intensity * 0.8}
	case intensity > 0.6 && lean < 0.4:
		return EmotionReading{EmotionNegative, intensity * 0.8}
	case intensity < 0.3 && rate < 0.4:
		return EmotionReading{EmotionNegative, 0.5}
	case intensity > 0.3 && rate > 0.6:
		return EmotionReading{EmotionPositive, 0.6}
	default:
		return EmotionReading{EmotionNeutral, 0.3 + intensity*0.4}
	}
}

// EmotionStats represents emotion analysis statistics
type EmotionStats struct {
	Analyzed          uint64             `json:"analyzed"`
	AverageConfidence float64            `json:"average_confidence"`
	Distribution      map[Emotion]uint64 `json:"distribution"`
}

// EmotionAnalyzer combines text and audio readings with fixed weights.
type EmotionAnalyzer struct {
	audioWeight float64
	textWeight  float64

	mu              sync.Mutex
	analyzed        uint64
	confidenceTotal float64
	distribution    map[Emotion]uint64
}

// NewEmotionAnalyzer creates the analyzer. Weights are normalized to sum to 1.
func NewEmotionAnalyzer(audioWeight, textWeight float64) (*EmotionAnalyzer, error) {
	if audioWeight < 0 || textWeight < 0 || audioWeight+textWeight <= 0 {
		return nil, fmt.Errorf("emotion weights must be non-negative with a positive sum, got %f and %f", audioWeight, textWeight)
	}
	sum := audioWeight + textWeight
	return &EmotionAnalyzer{
		audioWeight:  audioWeight / sum,
		textWeight:   textWeight / sum,
		distribution: make(map[Emotion]uint64),
	}, nil
}

// Analyze scores one chunk. The combined score maps to positive above
// 0.65 and negative below 0.35. In between the result is uncertain when
// the text reads uncertain, neutral otherwise.
func (e *EmotionAnalyzer) Analyze(pcm []byte, sampleRate int, text string) EmotionResult {
	textReading, textSig := AnalyzeText(text)
	audioReading, audioSig := AnalyzeAudio(pcm, sampleRate)

	score := emotionScores[audioReading.Emotion]*e.audioWeight + emotionScores[textReading.Emotion]*e.textWeight
	conf := math.Min(0.99, e.audioWeight*audioReading.Confidence+e.textWeight*textReading.Confidence)

	var final Emotion
	switch {
	case score > 0.65:
		final = EmotionPositive
	case score < 0.35:
		final = EmotionNegative
	case textReading.Emotion == EmotionUncertain:
		final = EmotionUncertain
	default:
		final = EmotionNeutral
	}

	e.mu.Lock()
	e.analyzed++
	e.confidenceTotal += conf
	e.distribution[final]++
	e.mu.Unlock()

	return EmotionResult{
		EmotionReading: EmotionReading{Emotion: final, Confidence: conf},
		Text:           textReading,
		Audio:          audioReading,
		TextSignal:     textSig,
		AudioSignal:    audioSig,
	}
}

// GetStats returns emotion statistics.
func (e *EmotionAnalyzer) GetStats() EmotionStats {
	e.mu.Lock()
	defer e.mu.Unlock()
	stats := EmotionStats{
		Analyzed:     e.analyzed,
		Distribution: make(map[Emotion]uint64, len(e.distribution)),
	}
	for k, v := range e.distribution {
		stats.Distribution[k] = v
	}
	if e.analyzed > 0 {
		stats.AverageConfidence = e.confidenceTotal / float64(e.analyzed)
	}
	return stats
}
