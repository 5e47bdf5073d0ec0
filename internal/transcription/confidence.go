package transcription

import (
	"math"
	"strings"
	"unicode"
)

const (
	baseConfidence        = 0.5
	emptyConfidence       = 0.3
	maxLengthBonus        = 0.25
	lengthBonusPerChar    = 0.25 / 200
	maxSegmentBonus       = 0.1
	segmentBonus          = 0.025
	punctuationBonus      = 0.05
	mixedCaseBonus        = 0.05
	maxConsistencyBonus   = 0.1
	consistencyPerSegment = 0.02
)

// EstimateConfidence scores engine output in [0,1]. Engine-supplied
// segment confidences are averaged, with a small bonus for agreement
// across several segments. Without them a heuristic over text length,
// segment count, punctuation and letter case is used.
func EstimateConfidence(out Output) float64 {
	text, confidences := out.Normalize()

	if len(confidences) > 0 {
		sum := 0.0
		for _, c := range confidences {
			sum += c
		}
		avg := sum / float64(len(confidences))
		bonus := math.Min(maxConsistencyBonus, consistencyPerSegment*float64(len(confidences)-1))
		return clamp01(avg + bonus)
	}

	if text == "" {
		return emptyConfidence
	}

	score := baseConfidence
	score += math.Min(maxLengthBonus, float64(len([]rune(text)))*lengthBonusPerChar)
	score += math.Min(maxSegmentBonus, segmentBonus*float64(len(out.Segments)))
	if strings.ContainsAny(text, ".!?,;:") {
		score += punctuationBonus
	}
	if hasMixedCase(text) {
		score += mixedCaseBonus
	}
	return clamp01(score)
}

func hasMixedCase(s string) bool {
	var upper, lower bool
	for _, r := range s {
		if unicode.IsUpper(r) {
			upper = true
		} else if unicode.IsLower(r) {
			lower = true
		}
		if upper && lower {
			return true
		}
	}
	return false
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return 0
	}
	return math.Max(0, math.Min(1, v))
}
