package postprocess

import "testing"

func TestGrammarCorrect(t *testing.T) {
	all := GrammarOptions{
		FixRepetitions:     true,
		FixVerbs:           true,
		ExpandContractions: true,
		RemoveFillers:      true,
		AddArticles:        true,
	}

	tests := []struct {
		name  string
		opts  GrammarOptions
		input string
		want  string
	}{
		{"empty", all, "", ""},
		{"repeated word", GrammarOptions{FixRepetitions: true}, "the the cat", "the cat"},
		{"repeated run", GrammarOptions{FixRepetitions: true}, "I I I think so", "I think so"},
		{"repetition keeps punctuation", GrammarOptions{FixRepetitions: true}, "Hello hello.", "Hello."},
		{"no repetition across punctuation", GrammarOptions{FixRepetitions: true}, "no, no way", "no, no way"},
		{"double spaces", GrammarOptions{}, "a  b   c", "a b c"},
		{"repetitions disabled", GrammarOptions{}, "the the cat", "the the cat"},
		{"contractions", GrammarOptions{ExpandContractions: true}, "I'm gonna go", "I'm going to go"},
		{"contraction at sentence start", GrammarOptions{ExpandContractions: true}, "Gonna rain", "Going to rain"},
		{"contractions disabled", GrammarOptions{}, "I'm gonna go", "I'm gonna go"},
		{"verb agreement", GrammarOptions{FixVerbs: true}, "we was there", "we were there"},
		{"verb agreement keeps capital", GrammarOptions{FixVerbs: true}, "He don't care", "He doesn't care"},
		{"fillers", GrammarOptions{RemoveFillers: true}, "um I mean it is like fine", "it is fine"},
		{"articles", GrammarOptions{AddArticles: true}, "you going home", "you're going home"},
		{"third person articles", GrammarOptions{AddArticles: true}, "She making tea", "She's making tea"},
		{"first person articles", GrammarOptions{AddArticles: true}, "i going now", "I'm going now"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGrammarCorrector(tt.opts)
			if got := g.Correct(tt.input); got != tt.want {
				t.Errorf("Correct(%q) = %q, want %q", tt.input, got, tt.want)
			}
		})
	}
}

func TestGrammarStats(t *testing.T) {
	g := NewGrammarCorrector(GrammarOptions{FixRepetitions: true, FixVerbs: true})

	g.Correct("they was was late")
	g.Correct("nothing to fix")

	stats := g.GetStats()
	if stats.TextProcessed != 2 {
		t.Errorf("TextProcessed = %d, want 2", stats.TextProcessed)
	}
	if stats.RepetitionsRemoved != 1 || stats.VerbsCorrected != 1 {
		t.Errorf("stats = %+v", stats)
	}
	if len(stats.RecentCorrections) != 1 {
		t.Fatalf("RecentCorrections = %+v", stats.RecentCorrections)
	}
	if got := stats.RecentCorrections[0].Corrected; got != "they were late" {
		t.Errorf("Corrected = %q", got)
	}

	for i := 0; i < 15; i++ {
		g.Correct("we was here")
	}
	if got := len(g.GetStats().RecentCorrections); got != recentCorrectionsLimit {
		t.Errorf("kept %d recent corrections, want %d", got, recentCorrectionsLimit)
	}
}

func TestGrammarCustomRule(t *testing.T) {
	g := NewGrammarCorrector(GrammarOptions{FixVerbs: true})
	g.AddCustomRule("Could Of", "could have")

	if got := g.Correct("we could of won"); got != "we could have won" {
		t.Errorf("Correct = %q", got)
	}
	if got := g.GetStats().CustomRules; got != 1 {
		t.Errorf("CustomRules = %d", got)
	}
}

func TestGrammarHasErrors(t *testing.T) {
	g := NewGrammarCorrector(GrammarOptions{})
	tests := []struct {
		input string
		want  bool
	}{
		{"the the cat", true},
		{"I wanna go", true},
		{"they was here", true},
		{"I don't know", false},
		{"all good here", false},
	}
	for _, tt := range tests {
		if got := g.HasErrors(tt.input); got != tt.want {
			t.Errorf("HasErrors(%q) = %v, want %v", tt.input, got, tt.want)
		}
	}
}
