package postprocess

import (
	"regexp"
	"strings"
	"sync/atomic"
)

var (
	sentenceTerminators = wordSet(
		"now", "then", "today", "tomorrow", "yesterday",
		"end", "done", "finished", "complete", "thanks",
		"please", "well", "right", "okay", "ok", "yes", "no",
		"here", "there", "way", "time", "day", "year", "world",
	)

	questionStarters = wordSet(
		"what", "which", "who", "when", "where", "why", "how",
		"can", "could", "will", "would", "should", "do", "does", "did",
	)

	exclamations = wordSet(
		"yeah", "yes", "wow", "amazing", "great", "awesome",
		"wonderful", "excellent", "perfect", "incredible", "fantastic",
		"oh", "ah", "hey", "whoa",
	)

	// Function words stay lower case inside a sentence.
	functionWords = wordSet(
		"the", "a", "an", "and", "or", "but", "in", "on", "at", "to", "from",
		"of", "for", "with", "by", "about", "as", "is", "are", "was", "were",
	)

	sentencePattern = regexp.MustCompile(`[^.!?]+[.!?]+`)
)

const (
	minWordsBeforeTerminator = 5
	maxWordsPerSentence      = 8
)

func wordSet(words ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(words))
	for _, w := range words {
		s[w] = struct{}{}
	}
	return s
}

func inSet(set map[string]struct{}, w string) bool {
	_, ok := set[w]
	return ok
}

// cleanWord lower-cases w and keeps only ASCII letters and digits.
func cleanWord(w string) string {
	var b strings.Builder
	for _, r := range strings.ToLower(w) {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// PunctuatorStats represents punctuation stage statistics
type PunctuatorStats struct {
	TextProcessed       uint64 `json:"text_processed"`
	PunctuationAdded    uint64 `json:"punctuation_added"`
	CapitalizationFixed uint64 `json:"capitalization_fixed"`
}

// Punctuator splits unpunctuated engine output into sentences, terminates
// them and fixes capitalization.
type Punctuator struct {
	textProcessed       atomic.Uint64
	punctuationAdded    atomic.Uint64
	capitalizationFixed atomic.Uint64
}

// NewPunctuator creates the punctuation stage.
func NewPunctuator() *Punctuator {
	return &Punctuator{}
}

// Process punctuates and capitalizes text. Empty input is returned as is.
func (p *Punctuator) Process(text string) string {
	text = strings.TrimSpace(text)
	if text == "" {
		return text
	}

	sentences := splitSentences(strings.Fields(text))
	for i, s := range sentences {
		sentences[i] = p.terminate(s)
	}
	out := p.capitalize(strings.Join(sentences, " "))

	p.textProcessed.Add(1)
	return out
}

// splitSentences breaks after a terminator word once a sentence has five
// words, after eight words, or at the end of the text.
func splitSentences(words []string) []string {
	var sentences []string
	var current []string
	for i, w := range words {
		current = append(current, w)
		last := i == len(words)-1
		if (len(current) >= minWordsBeforeTerminator && inSet(sentenceTerminators, cleanWord(w))) ||
			len(current) >= maxWordsPerSentence || last {
			sentences = append(sentences, strings.Join(current, " "))
			current = nil
		}
	}
	return sentences
}

func (p *Punctuator) terminate(sentence string) string {
	if strings.ContainsAny(sentence[len(sentence)-1:], ".!?;:") {
		return sentence
	}

	words := strings.Fields(sentence)
	mark := "."
	switch {
	case inSet(questionStarters, cleanWord(words[0])):
		mark = "?"
	case isExclamatory(words):
		mark = "!"
	}

	p.punctuationAdded.Add(1)
	return sentence + mark
}

func isExclamatory(words []string) bool {
	for _, w := range words {
		if inSet(exclamations, cleanWord(w)) {
			return true
		}
	}
	return false
}

// capitalize upper-cases the first word of every sentence and every word
// that is not a function word.
func (p *Punctuator) capitalize(text string) string {
	sentences := sentencePattern.FindAllString(text, -1)
	consumed := 0
	for _, s := range sentences {
		consumed += len(s)
	}
	if rest := strings.TrimSpace(text[consumed:]); rest != "" {
		sentences = append(sentences, rest)
	}

	out := make([]string, 0, len(sentences))
	for _, s := range sentences {
		words := strings.Fields(s)
		if len(words) == 0 {
			continue
		}
		for i, w := range words {
			clean := cleanWord(w)
			if i > 0 && (clean == "" || inSet(functionWords, clean) || (len(clean) == 1 && clean != "i")) {
				continue
			}
			if c := capitalizeWord(w); c != w {
				words[i] = c
				p.capitalizationFixed.Add(1)
			}
		}
		out = append(out, strings.Join(words, " "))
	}
	return strings.Join(out, " ")
}

// capitalizeWord rewrites the leading alphanumeric run as Title case and
// keeps whatever follows it.
func capitalizeWord(w string) string {
	end := 0
	for end < len(w) {
		c := w[end]
		if !((c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')) {
			break
		}
		end++
	}
	if end == 0 {
		return w
	}
	return strings.ToUpper(w[:1]) + strings.ToLower(w[1:end]) + w[end:]
}

// GetStats returns the stage statistics.
func (p *Punctuator) GetStats() PunctuatorStats {
	return PunctuatorStats{
		TextProcessed:       p.textProcessed.Load(),
		PunctuationAdded:    p.punctuationAdded.Load(),
		CapitalizationFixed: p.capitalizationFixed.Load(),
	}
}
