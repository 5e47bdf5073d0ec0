package postprocess

import (
	"encoding/json"
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"
	"time"

	apperrors "github.com/skypro1111/overlay-transcriber/internal/errors"
	"github.com/skypro1111/overlay-transcriber/internal/syncx"
)

const defaultCategory = "general"

// Term is a custom vocabulary entry. Aliases are misrecognitions that get
// rewritten to Term.
type Term struct {
	Term          string    `json:"term"`
	Pronunciation string    `json:"pronunciation,omitempty"`
	Category      string    `json:"category"`
	Frequency     int       `json:"frequency"`
	Aliases       []string  `json:"aliases,omitempty"`
	DateAdded     time.Time `json:"date_added"`

	seq     uint64
	self    *regexp.Regexp
	aliases []*regexp.Regexp
}

// TermOptions are the optional attributes of a term.
type TermOptions struct {
	Pronunciation string
	Category      string
	Frequency     int
	Aliases       []string
}

// Rule is a pattern to replacement mapping applied before term aliases.
// Higher priority rules run first.
type Rule struct {
	Pattern     string    `json:"pattern"`
	Replacement string    `json:"replacement"`
	Enabled     bool      `json:"enabled"`
	Priority    int       `json:"priority"`
	DateAdded   time.Time `json:"date_added"`

	seq uint64
	re  *regexp.Regexp
}

// LearnedTerm is a candidate term picked up from transcripts.
type LearnedTerm struct {
	Term      string    `json:"term"`
	Category  string    `json:"category"`
	Frequency int       `json:"frequency"`
	Context   string    `json:"context,omitempty"`
	DateAdded time.Time `json:"date_added"`
}

// VocabularyOptions control matching.
type VocabularyOptions struct {
	CaseSensitive  bool `json:"case_sensitive"`
	WholeWordsOnly bool `json:"whole_words_only"`
	AutoLearn      bool `json:"auto_learn"`
}

// VocabularyExport is the JSON document produced by Export and accepted
// by Import.
type VocabularyExport struct {
	CustomVocabulary []Term            `json:"custom_vocabulary"`
	ReplacementRules []Rule            `json:"replacement_rules"`
	AutoLearned      []LearnedTerm     `json:"auto_learned_vocabulary"`
	Settings         VocabularyOptions `json:"settings"`
	ExportDate       time.Time         `json:"export_date"`
}

// VocabularyStats represents vocabulary statistics
type VocabularyStats struct {
	TermsAdded       uint64 `json:"terms_added"`
	RulesAdded       uint64 `json:"rules_added"`
	TermsUsed        uint64 `json:"terms_used"`
	RulesApplied     uint64 `json:"rules_applied"`
	AutoLearnedTerms uint64 `json:"auto_learned_terms"`
	VocabularySize   int    `json:"vocabulary_size"`
	RuleCount        int    `json:"rule_count"`
	AutoLearnedSize  int    `json:"auto_learned_size"`
}

type vocabularyState struct {
	terms   map[string]*Term
	rules   map[string]*Rule
	learned map[string]*LearnedTerm
	seq     uint64
	stats   VocabularyStats
}

// Vocabulary holds user terms and replacement rules. All access goes
// through one guard so corrections from concurrently processed chunks
// never interleave with edits.
type Vocabulary struct {
	opts  VocabularyOptions
	state *syncx.RWGuard[vocabularyState]
	now   func() time.Time
}

// NewVocabulary creates an empty vocabulary.
func NewVocabulary(opts VocabularyOptions) *Vocabulary {
	return &Vocabulary{
		opts: opts,
		state: syncx.NewGuard(vocabularyState{
			terms:   make(map[string]*Term),
			rules:   make(map[string]*Rule),
			learned: make(map[string]*LearnedTerm),
		}),
		now: time.Now,
	}
}

// Options returns the matching options.
func (v *Vocabulary) Options() VocabularyOptions { return v.opts }

func (v *Vocabulary) key(s string) string {
	if v.opts.CaseSensitive {
		return s
	}
	return strings.ToLower(s)
}

func (v *Vocabulary) compile(pattern string) *regexp.Regexp {
	expr := regexp.QuoteMeta(pattern)
	if v.opts.WholeWordsOnly {
		expr = `\b` + expr + `\b`
	}
	if !v.opts.CaseSensitive {
		expr = `(?i)` + expr
	}
	return regexp.MustCompile(expr)
}

// AddTerm adds or replaces a term.
func (v *Vocabulary) AddTerm(term string, opts TermOptions) error {
	term = strings.TrimSpace(term)
	if term == "" {
		return apperrors.New(apperrors.KindValidation, "term cannot be empty")
	}
	if opts.Category == "" {
		opts.Category = defaultCategory
	}

	entry := &Term{
		Term:          term,
		Pronunciation: opts.Pronunciation,
		Category:      opts.Category,
		Frequency:     opts.Frequency,
		DateAdded:     v.now(),
		self:          v.compile(term),
	}
	for _, a := range opts.Aliases {
		if a = strings.TrimSpace(a); a != "" {
			entry.Aliases = append(entry.Aliases, a)
			entry.aliases = append(entry.aliases, v.compile(a))
		}
	}

	v.state.Write(func(s *vocabularyState) {
		s.seq++
		entry.seq = s.seq
		s.terms[v.key(term)] = entry
		s.stats.TermsAdded++
	})
	return nil
}

// RemoveTerm deletes a term and reports whether it existed.
func (v *Vocabulary) RemoveTerm(term string) bool {
	return syncx.Update(v.state, func(s *vocabularyState) bool {
		k := v.key(term)
		if _, ok := s.terms[k]; !ok {
			return false
		}
		delete(s.terms, k)
		return true
	})
}

// GetTerm looks a term up.
func (v *Vocabulary) GetTerm(term string) (Term, bool) {
	var out Term
	found := syncx.Read(v.state, func(s *vocabularyState) bool {
		t, ok := s.terms[v.key(term)]
		if ok {
			out = *t
		}
		return ok
	})
	return out, found
}

// AddRule adds or replaces a replacement rule.
func (v *Vocabulary) AddRule(pattern, replacement string, priority int, enabled bool) error {
	if strings.TrimSpace(pattern) == "" || replacement == "" {
		return apperrors.New(apperrors.KindValidation, "pattern and replacement cannot be empty")
	}

	rule := &Rule{
		Pattern:     pattern,
		Replacement: replacement,
		Enabled:     enabled,
		Priority:    priority,
		DateAdded:   v.now(),
		re:          v.compile(pattern),
	}

	v.state.Write(func(s *vocabularyState) {
		s.seq++
		rule.seq = s.seq
		s.rules[v.key(pattern)] = rule
		s.stats.RulesAdded++
	})
	return nil
}

// RemoveRule deletes a rule and reports whether it existed.
func (v *Vocabulary) RemoveRule(pattern string) bool {
	return syncx.Update(v.state, func(s *vocabularyState) bool {
		k := v.key(pattern)
		if _, ok := s.rules[k]; !ok {
			return false
		}
		delete(s.rules, k)
		return true
	})
}

// Apply runs the enabled rules in priority order, then rewrites term
// aliases, and counts every term present in the result.
func (v *Vocabulary) Apply(text string) string {
	if text == "" {
		return text
	}

	return syncx.Update(v.state, func(s *vocabularyState) string {
		for _, r := range sortedRules(s.rules) {
			if !r.Enabled {
				continue
			}
			if out := r.re.ReplaceAllLiteralString(text, r.Replacement); out != text {
				s.stats.RulesApplied++
				text = out
			}
		}

		for _, t := range sortedTerms(s.terms) {
			for _, re := range t.aliases {
				if out := re.ReplaceAllLiteralString(text, t.Term); out != text {
					s.stats.RulesApplied++
					text = out
				}
			}
			if t.self.MatchString(text) {
				t.Frequency++
				s.stats.TermsUsed++
			}
		}

		if v.opts.AutoLearn {
			v.learnFrom(s, text)
		}
		return text
	})
}

// learnFrom records tokens that look like jargon: mixed digits and
// letters, or an upper-case letter after the first position.
func (v *Vocabulary) learnFrom(s *vocabularyState, text string) {
	for _, w := range strings.Fields(text) {
		w = strings.Trim(w, ".,!?;:\"'()")
		if !looksLikeTerm(w) {
			continue
		}
		v.learn(s, w, "auto-learned", text)
	}
}

func looksLikeTerm(w string) bool {
	if len(w) < 2 {
		return false
	}
	var letters, digits, innerUpper bool
	for i, r := range w {
		switch {
		case r >= '0' && r <= '9':
			digits = true
		case r >= 'A' && r <= 'Z':
			letters = true
			if i > 0 {
				innerUpper = true
			}
		case r >= 'a' && r <= 'z':
			letters = true
		default:
			return false
		}
	}
	return (letters && digits) || innerUpper
}

func (v *Vocabulary) learn(s *vocabularyState, term, category, context string) bool {
	k := v.key(term)
	if _, ok := s.terms[k]; ok {
		return false
	}
	if l, ok := s.learned[k]; ok {
		l.Frequency++
		return true
	}
	if category == "" {
		category = "auto-learned"
	}
	s.learned[k] = &LearnedTerm{
		Term:      term,
		Category:  category,
		Frequency: 1,
		Context:   context,
		DateAdded: v.now(),
	}
	s.stats.AutoLearnedTerms++
	return true
}

// AutoLearn records a candidate term. It is a no-op when auto-learning is
// disabled or the term is already in the vocabulary.
func (v *Vocabulary) AutoLearn(term, category, context string) bool {
	if !v.opts.AutoLearn || strings.TrimSpace(term) == "" {
		return false
	}
	return syncx.Update(v.state, func(s *vocabularyState) bool {
		return v.learn(s, term, category, context)
	})
}

func sortedRules(m map[string]*Rule) []*Rule {
	rules := make([]*Rule, 0, len(m))
	for _, r := range m {
		rules = append(rules, r)
	}
	sort.Slice(rules, func(i, j int) bool {
		if rules[i].Priority != rules[j].Priority {
			return rules[i].Priority > rules[j].Priority
		}
		return rules[i].seq < rules[j].seq
	})
	return rules
}

func sortedTerms(m map[string]*Term) []*Term {
	terms := make([]*Term, 0, len(m))
	for _, t := range m {
		terms = append(terms, t)
	}
	sort.Slice(terms, func(i, j int) bool { return terms[i].seq < terms[j].seq })
	return terms
}

// Terms returns a copy of all terms in insertion order.
func (v *Vocabulary) Terms() []Term {
	return syncx.Read(v.state, func(s *vocabularyState) []Term {
		out := make([]Term, 0, len(s.terms))
		for _, t := range sortedTerms(s.terms) {
			out = append(out, *t)
		}
		return out
	})
}

// Rules returns a copy of all rules in application order.
func (v *Vocabulary) Rules() []Rule {
	return syncx.Read(v.state, func(s *vocabularyState) []Rule {
		out := make([]Rule, 0, len(s.rules))
		for _, r := range sortedRules(s.rules) {
			out = append(out, *r)
		}
		return out
	})
}

// LearnedTerms returns the auto-learned candidates, most frequent first.
func (v *Vocabulary) LearnedTerms() []LearnedTerm {
	return syncx.Read(v.state, func(s *vocabularyState) []LearnedTerm {
		out := make([]LearnedTerm, 0, len(s.learned))
		for _, l := range s.learned {
			out = append(out, *l)
		}
		sort.Slice(out, func(i, j int) bool {
			if out[i].Frequency != out[j].Frequency {
				return out[i].Frequency > out[j].Frequency
			}
			return out[i].Term < out[j].Term
		})
		return out
	})
}

// TermsByCategory returns the terms in one category.
func (v *Vocabulary) TermsByCategory(category string) []Term {
	var out []Term
	for _, t := range v.Terms() {
		if t.Category == category {
			out = append(out, t)
		}
	}
	return out
}

// MostUsedTerms returns up to limit terms ordered by frequency.
func (v *Vocabulary) MostUsedTerms(limit int) []Term {
	terms := v.Terms()
	sort.SliceStable(terms, func(i, j int) bool { return terms[i].Frequency > terms[j].Frequency })
	if limit >= 0 && len(terms) > limit {
		terms = terms[:limit]
	}
	return terms
}

// Export snapshots the vocabulary.
func (v *Vocabulary) Export() VocabularyExport {
	return VocabularyExport{
		CustomVocabulary: v.Terms(),
		ReplacementRules: v.Rules(),
		AutoLearned:      v.LearnedTerms(),
		Settings:         v.opts,
		ExportDate:       v.now(),
	}
}

// MarshalJSON exports the vocabulary as JSON.
func (v *Vocabulary) MarshalJSON() ([]byte, error) {
	return json.Marshal(v.Export())
}

// Import merges an exported document into the vocabulary. Entries with
// empty fields are skipped; the rest are added in document order.
func (v *Vocabulary) Import(doc VocabularyExport) (int, error) {
	imported := 0
	for _, t := range doc.CustomVocabulary {
		if err := v.AddTerm(t.Term, TermOptions{
			Pronunciation: t.Pronunciation,
			Category:      t.Category,
			Frequency:     t.Frequency,
			Aliases:       t.Aliases,
		}); err == nil {
			imported++
		}
	}
	for _, r := range doc.ReplacementRules {
		if err := v.AddRule(r.Pattern, r.Replacement, r.Priority, r.Enabled); err == nil {
			imported++
		}
	}
	if v.opts.AutoLearn {
		v.state.Write(func(s *vocabularyState) {
			for _, l := range doc.AutoLearned {
				if strings.TrimSpace(l.Term) != "" && v.learn(s, l.Term, l.Category, l.Context) {
					imported++
				}
			}
		})
	}
	return imported, nil
}

// ImportJSON decodes and imports a JSON export.
func (v *Vocabulary) ImportJSON(data []byte) (int, error) {
	var doc VocabularyExport
	if err := json.Unmarshal(data, &doc); err != nil {
		return 0, apperrors.Wrap(err, apperrors.KindValidation, "invalid vocabulary document")
	}
	return v.Import(doc)
}

// LoadFile imports a vocabulary file. A missing file is not an error.
func (v *Vocabulary) LoadFile(path string) (int, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read vocabulary file: %w", err)
	}
	return v.ImportJSON(data)
}

// SaveFile writes the vocabulary export to path.
func (v *Vocabulary) SaveFile(path string) error {
	data, err := json.MarshalIndent(v.Export(), "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode vocabulary: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write vocabulary file: %w", err)
	}
	return nil
}

// GetStats returns vocabulary statistics.
func (v *Vocabulary) GetStats() VocabularyStats {
	return syncx.Read(v.state, func(s *vocabularyState) VocabularyStats {
		stats := s.stats
		stats.VocabularySize = len(s.terms)
		stats.RuleCount = len(s.rules)
		stats.AutoLearnedSize = len(s.learned)
		return stats
	})
}

// Clear removes all terms, rules and learned candidates.
func (v *Vocabulary) Clear() {
	v.state.Write(func(s *vocabularyState) {
		s.terms = make(map[string]*Term)
		s.rules = make(map[string]*Rule)
		s.learned = make(map[string]*LearnedTerm)
	})
}
