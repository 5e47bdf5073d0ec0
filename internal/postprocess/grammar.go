package postprocess

import (
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"
)

type replacement struct {
	from string
	to   string
	re   *regexp.Regexp
}

func wordPattern(phrase string) *regexp.Regexp {
	return regexp.MustCompile(`(?i)\b` + regexp.QuoteMeta(phrase) + `\b`)
}

func replacements(pairs ...string) []replacement {
	out := make([]replacement, 0, len(pairs)/2)
	for i := 0; i+1 < len(pairs); i += 2 {
		out = append(out, replacement{from: pairs[i], to: pairs[i+1], re: wordPattern(pairs[i])})
	}
	return out
}

var (
	contractionExpansions = replacements(
		"gonna", "going to",
		"wanna", "want to",
		"kinda", "kind of",
		"gotta", "got to",
		"sorta", "sort of",
		"dunno", "don't know",
		"y'all", "you all",
		"ya", "you",
		"imma", "I am going to",
	)

	verbCorrections = replacements(
		"i was going", "I was going",
		"we was", "we were",
		"they was", "they were",
		"he don't", "he doesn't",
		"she don't", "she doesn't",
		"it don't", "it doesn't",
		"i don't", "I don't",
	)

	// Longest phrases first so "so like" is removed before "like".
	fillerPatterns = func() []*regexp.Regexp {
		fillers := []string{
			"you know", "i mean", "so like", "kind of", "sort of",
			"basically", "literally", "like", "um", "uh", "ah", "er", "eh",
		}
		out := make([]*regexp.Regexp, len(fillers))
		for i, f := range fillers {
			out[i] = wordPattern(f)
		}
		return out
	}()

	articleRules = []struct {
		re       *regexp.Regexp
		template string
	}{
		{regexp.MustCompile(`(?i)\bi\s+(going|making|taking|getting)\b`), "I'm ${1}"},
		{regexp.MustCompile(`(?i)\byou\s+(going|making|taking|getting)\b`), "you're ${1}"},
		{regexp.MustCompile(`(?i)\b(he|she|it)\s+(going|making|taking|getting)\b`), "${1}'s ${2}"},
	}

	multiSpace = regexp.MustCompile(`\s{2,}`)
)

const recentCorrectionsLimit = 10

// GrammarOptions toggle the individual correction rules. Whitespace
// collapsing always runs.
type GrammarOptions struct {
	FixRepetitions     bool
	FixVerbs           bool
	ExpandContractions bool
	RemoveFillers      bool
	AddArticles        bool
}

// Correction records one text that was changed.
type Correction struct {
	Original  string    `json:"original"`
	Corrected string    `json:"corrected"`
	Rules     []string  `json:"rules"`
	Timestamp time.Time `json:"timestamp"`
}

// GrammarStats represents grammar correction statistics
type GrammarStats struct {
	TextProcessed        uint64       `json:"text_processed"`
	CorrectionsApplied   uint64       `json:"corrections_applied"`
	ContractionsExpanded uint64       `json:"contractions_expanded"`
	RepetitionsRemoved   uint64       `json:"repetitions_removed"`
	ArticlesAdded        uint64       `json:"articles_added"`
	VerbsCorrected       uint64       `json:"verbs_corrected"`
	FillersRemoved       uint64       `json:"fillers_removed"`
	CustomRules          int          `json:"custom_rules"`
	RecentCorrections    []Correction `json:"recent_corrections"`
}

// GrammarCorrector fixes common speech transcription errors without
// changing meaning.
type GrammarCorrector struct {
	opts GrammarOptions

	mu     sync.Mutex
	custom map[string]replacement
	stats  GrammarStats
}

// NewGrammarCorrector creates the grammar stage.
func NewGrammarCorrector(opts GrammarOptions) *GrammarCorrector {
	return &GrammarCorrector{
		opts:   opts,
		custom: make(map[string]replacement),
	}
}

// AddCustomRule registers a whole-word, case-insensitive correction that
// runs with the verb rules.
func (g *GrammarCorrector) AddCustomRule(incorrect, correct string) {
	incorrect = strings.ToLower(strings.TrimSpace(incorrect))
	if incorrect == "" {
		return
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.custom[incorrect] = replacement{from: incorrect, to: correct, re: wordPattern(incorrect)}
}

// Correct applies the enabled rules in a fixed order: repetitions and
// whitespace, contractions, fillers, verb agreement, articles.
func (g *GrammarCorrector) Correct(text string) string {
	if text == "" {
		return text
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.stats.TextProcessed++
	original := text
	var applied []string

	if g.opts.FixRepetitions {
		var n int
		if text, n = collapseRepetitions(text); n > 0 {
			g.stats.RepetitionsRemoved += uint64(n)
			applied = append(applied, "repetition")
		}
	}
	text = multiSpace.ReplaceAllString(text, " ")

	if g.opts.ExpandContractions {
		if n := applyReplacements(&text, contractionExpansions); n > 0 {
			g.stats.ContractionsExpanded += uint64(n)
			applied = append(applied, "contraction")
		}
	}

	if g.opts.RemoveFillers {
		n := 0
		for _, re := range fillerPatterns {
			if m := len(re.FindAllStringIndex(text, -1)); m > 0 {
				n += m
				text = re.ReplaceAllLiteralString(text, "")
			}
		}
		if n > 0 {
			text = strings.TrimSpace(multiSpace.ReplaceAllString(text, " "))
			g.stats.FillersRemoved += uint64(n)
			applied = append(applied, "filler")
		}
	}

	if g.opts.FixVerbs {
		n := applyReplacements(&text, verbCorrections)
		n += applyReplacements(&text, g.customRules())
		if n > 0 {
			g.stats.VerbsCorrected += uint64(n)
			applied = append(applied, "verb")
		}
	}

	if g.opts.AddArticles {
		n := 0
		for _, r := range articleRules {
			text = r.re.ReplaceAllStringFunc(text, func(m string) string {
				n++
				return matchCase(m, r.re.ReplaceAllString(m, r.template))
			})
		}
		if n > 0 {
			g.stats.ArticlesAdded += uint64(n)
			applied = append(applied, "article")
		}
	}

	if len(applied) > 0 && text != original {
		g.stats.CorrectionsApplied += uint64(len(applied))
		g.stats.RecentCorrections = append(g.stats.RecentCorrections, Correction{
			Original:  original,
			Corrected: text,
			Rules:     applied,
			Timestamp: time.Now(),
		})
		if over := len(g.stats.RecentCorrections) - recentCorrectionsLimit; over > 0 {
			g.stats.RecentCorrections = g.stats.RecentCorrections[over:]
		}
	}
	return text
}

func (g *GrammarCorrector) customRules() []replacement {
	rules := make([]replacement, 0, len(g.custom))
	for _, r := range g.custom {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool { return rules[i].from < rules[j].from })
	return rules
}

// applyReplacements rewrites every rule match and returns how many
// matches actually changed the text.
func applyReplacements(text *string, rules []replacement) int {
	total := 0
	for _, r := range rules {
		*text = r.re.ReplaceAllStringFunc(*text, func(m string) string {
			out := matchCase(m, r.to)
			if out != m {
				total++
			}
			return out
		})
	}
	return total
}

// matchCase upper-cases the first letter of repl when match starts with
// an upper-case letter, so corrections keep sentence capitalization.
func matchCase(match, repl string) string {
	if match == "" || repl == "" {
		return repl
	}
	if c := match[0]; c >= 'A' && c <= 'Z' {
		return strings.ToUpper(repl[:1]) + repl[1:]
	}
	return repl
}

func isWordByte(c byte) bool {
	return c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') || (c >= '0' && c <= '9')
}

// leadingWord splits w into its leading word characters and the rest.
func leadingWord(w string) (string, string) {
	i := 0
	for i < len(w) && isWordByte(w[i]) {
		i++
	}
	return w[:i], w[i:]
}

// collapseRepetitions drops a word that immediately repeats the previous
// one, ignoring case, and keeps the first spelling. Punctuation on the
// repeated word is carried over. It returns the number of collapsed runs.
func collapseRepetitions(text string) (string, int) {
	words := strings.Fields(text)
	out := make([]string, 0, len(words))
	runs := 0
	inRun := false
	for _, w := range words {
		if len(out) > 0 {
			prev := out[len(out)-1]
			prevWord, prevRest := leadingWord(prev)
			word, rest := leadingWord(w)
			if prevRest == "" && word != "" && strings.EqualFold(prevWord, word) {
				out[len(out)-1] = prevWord + rest
				if !inRun {
					runs++
				}
				inRun = rest == ""
				continue
			}
		}
		inRun = false
		out = append(out, w)
	}
	if runs == 0 {
		return text, 0
	}
	return strings.Join(out, " "), runs
}

// HasErrors reports whether the text contains a repetition, an informal
// contraction or a known verb agreement error.
func (g *GrammarCorrector) HasErrors(text string) bool {
	if _, n := collapseRepetitions(text); n > 0 {
		return true
	}
	for _, r := range contractionExpansions {
		if r.re.MatchString(text) {
			return true
		}
	}
	for _, r := range verbCorrections {
		for _, m := range r.re.FindAllString(text, -1) {
			if matchCase(m, r.to) != m {
				return true
			}
		}
	}
	return false
}

// GetStats returns grammar correction statistics.
func (g *GrammarCorrector) GetStats() GrammarStats {
	g.mu.Lock()
	defer g.mu.Unlock()
	stats := g.stats
	stats.CustomRules = len(g.custom)
	stats.RecentCorrections = append([]Correction(nil), g.stats.RecentCorrections...)
	return stats
}
