package postprocess

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"
)

// LanguageInfo describes a supported transcription language.
type LanguageInfo struct {
	Code  string `json:"code"`
	Name  string `json:"name"`
	Model string `json:"model"`
}

var languages = map[string]LanguageInfo{
	"en": {"en", "English", "base.en"},
	"es": {"es", "Spanish", "base"},
	"fr": {"fr", "French", "base"},
	"de": {"de", "German", "base"},
	"it": {"it", "Italian", "base"},
	"pt": {"pt", "Portuguese", "base"},
	"nl": {"nl", "Dutch", "base"},
	"ru": {"ru", "Russian", "base"},
	"pl": {"pl", "Polish", "base"},
	"tr": {"tr", "Turkish", "base"},
	"ar": {"ar", "Arabic", "base"},
	"zh": {"zh", "Chinese", "base"},
	"ja": {"ja", "Japanese", "base"},
	"ko": {"ko", "Korean", "base"},
	"hi": {"hi", "Hindi", "base"},
}

// Frequent words per detectable language. A word scores for a language
// when it contains one of the keywords.
var languageKeywords = map[string][]string{
	"en": {"the", "be", "to", "of", "and", "a", "in", "that", "have", "i"},
	"es": {"el", "la", "de", "que", "y", "a", "en", "un", "ser", "se"},
	"fr": {"le", "de", "un", "et", "à", "être", "en", "que", "se", "pas"},
	"de": {"der", "die", "und", "in", "den", "von", "zu", "das", "mit", "sich"},
	"it": {"il", "di", "da", "e", "a", "un", "si", "che", "la", "per"},
	"pt": {"de", "a", "o", "que", "e", "do", "da", "em", "um", "para"},
	"ru": {"в", "и", "не", "на", "он", "я", "к", "а", "с", "по"},
	"nl": {"de", "en", "van", "het", "in", "is", "die", "dat", "op", "een"},
}

// Detection order breaks score ties deterministically.
var detectionOrder = []string{"en", "es", "fr", "de", "it", "pt", "ru", "nl"}

const minLanguageScore = 2

// LanguageStats represents language detection statistics
type LanguageStats struct {
	DetectionAttempts    uint64  `json:"detection_attempts"`
	SuccessfulDetections uint64  `json:"successful_detections"`
	LanguageSwitches     uint64  `json:"language_switches"`
	CurrentLanguage      string  `json:"current_language"`
	DetectionAccuracy    float64 `json:"detection_accuracy"`
}

// LanguageDetector tracks the spoken language with a keyword heuristic.
type LanguageDetector struct {
	defaultLanguage string

	mu       sync.Mutex
	current  string
	attempts uint64
	detected uint64
	switches uint64
}

// NewLanguageDetector creates a detector starting at defaultLanguage.
func NewLanguageDetector(defaultLanguage string) (*LanguageDetector, error) {
	if defaultLanguage == "" {
		defaultLanguage = "en"
	}
	if _, ok := languages[defaultLanguage]; !ok {
		return nil, fmt.Errorf("unknown language code: %s", defaultLanguage)
	}
	return &LanguageDetector{defaultLanguage: defaultLanguage, current: defaultLanguage}, nil
}

// Detect scores text against each language and switches the current
// language when the best score reaches two. It returns the current
// language and whether this text was decisive.
func (d *LanguageDetector) Detect(text string) (string, bool) {
	words := strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	})

	d.mu.Lock()
	defer d.mu.Unlock()

	if len(words) == 0 {
		return d.current, false
	}
	d.attempts++

	best, bestScore := "", 0
	for _, lang := range detectionOrder {
		score := 0
		for _, kw := range languageKeywords[lang] {
			for _, w := range words {
				if strings.Contains(w, kw) {
					score++
				}
			}
		}
		if score > bestScore {
			best, bestScore = lang, score
		}
	}

	if bestScore < minLanguageScore {
		return d.current, false
	}
	d.detected++
	if best != d.current {
		d.current = best
		d.switches++
	}
	return best, true
}

// SetLanguage selects the current language explicitly.
func (d *LanguageDetector) SetLanguage(code string) error {
	if _, ok := languages[code]; !ok {
		return fmt.Errorf("unknown language code: %s", code)
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if code != d.current {
		d.current = code
		d.switches++
	}
	return nil
}

// Current returns the current language.
func (d *LanguageDetector) Current() LanguageInfo {
	d.mu.Lock()
	defer d.mu.Unlock()
	return languages[d.current]
}

// ModelFor returns the engine model suited to a language; English gets
// the English-only model. Unknown codes fall back to the default language.
func (d *LanguageDetector) ModelFor(code string) string {
	if info, ok := languages[code]; ok {
		return info.Model
	}
	return languages[d.defaultLanguage].Model
}

// Languages lists the supported languages ordered by code.
func Languages() []LanguageInfo {
	out := make([]LanguageInfo, 0, len(languages))
	for _, info := range languages {
		out = append(out, info)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Code < out[j].Code })
	return out
}

// Reset returns to the default language and keeps the counters.
func (d *LanguageDetector) Reset() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.current = d.defaultLanguage
}

// GetStats returns language detection statistics.
func (d *LanguageDetector) GetStats() LanguageStats {
	d.mu.Lock()
	defer d.mu.Unlock()
	stats := LanguageStats{
		DetectionAttempts:    d.attempts,
		SuccessfulDetections: d.detected,
		LanguageSwitches:     d.switches,
		CurrentLanguage:      d.current,
	}
	if d.attempts > 0 {
		stats.DetectionAccuracy = float64(d.detected) / float64(d.attempts) * 100
	}
	return stats
}
